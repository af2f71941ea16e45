// Package workflow validates workflow graphs and walks them. The walker is
// resumable: every step is planned from the persisted execution record, so
// a retried or resumed job continues where the previous attempt stopped.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/expression"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/otelhelper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// OutcomeKind tells the worker what to do with the job after a run.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomePaused    OutcomeKind = "paused"
	OutcomeRetry     OutcomeKind = "retry"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome is the result of one Run.
type Outcome struct {
	Kind OutcomeKind
	// ResumeAt is set for paused outcomes.
	ResumeAt time.Time
	// Err is the node error behind a retry or failure.
	Err error
	// NodeID is the node that caused a retry or failure.
	NodeID    string
	Execution *models.Execution
}

// Observer receives walker measurements.
type Observer interface {
	NodeFinished(kind models.NodeKind, status models.NodeStatus, duration time.Duration)
	ExecutionFinished(status models.ExecutionStatus, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) NodeFinished(models.NodeKind, models.NodeStatus, time.Duration) {}
func (nopObserver) ExecutionFinished(models.ExecutionStatus, time.Duration)        {}

// Walker runs workflow graphs against execution records.
type Walker struct {
	executors          ExecutorLookup
	executions         *execution.Manager
	logger             *slog.Logger
	tracer             trace.Tracer
	observer           Observer
	now                func() time.Time
	defaultParallelism int
}

// Option customizes a Walker.
type Option func(*Walker)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(w *Walker) {
		w.now = now
	}
}

// WithTracer sets the tracer used for run and node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Walker) {
		w.tracer = tracer
	}
}

// WithObserver reports node and execution measurements to observer.
func WithObserver(observer Observer) Option {
	return func(w *Walker) {
		w.observer = observer
	}
}

// WithDefaultParallelism bounds branch concurrency for workflows that do
// not set MaxParallelBranches.
func WithDefaultParallelism(n int) Option {
	return func(w *Walker) {
		if n > 0 {
			w.defaultParallelism = n
		}
	}
}

// NewWalker creates a walker.
func NewWalker(executors ExecutorLookup, executions *execution.Manager, logger *slog.Logger, opts ...Option) *Walker {
	w := &Walker{
		executors:          executors,
		executions:         executions,
		logger:             logger.With("module", "walker"),
		tracer:             otel.Tracer("netpad/workflow"),
		observer:           nopObserver{},
		now:                func() time.Time { return time.Now().UTC() },
		defaultParallelism: models.DefaultMaxParallelBranches,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// run carries the state of one Run call.
type run struct {
	workflow *models.Workflow
	job      *models.Job
	graph    *graph
	roots    map[string]bool
	policy   models.ErrorHandling
	logger   *slog.Logger
}

// nodeResult is what executing one node produced.
type nodeResult struct {
	node     *models.Node
	output   nodes.Output
	err      error
	duration time.Duration
}

// Run walks wf for the execution behind job until the graph is exhausted,
// the execution suspends, a node asks for a retry or the execution is
// cancelled. Errors are infrastructure failures; node failures are
// reported through the Outcome.
func (w *Walker) Run(ctx context.Context, wf *models.Workflow, job *models.Job) (Outcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, wf.ID),
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(job.Trigger.Type)),
	)
	defer span.End()

	outcome, err := w.run(ctx, wf, job)
	if err != nil {
		otelhelper.SetError(span, err)

		return outcome, err
	}

	span.SetAttributes(attribute.String(otelhelper.OutcomeKey, string(outcome.Kind)))

	return outcome, nil
}

func (w *Walker) run(ctx context.Context, wf *models.Workflow, job *models.Job) (Outcome, error) {
	r := &run{
		workflow: wf,
		job:      job,
		graph:    newGraph(wf),
		roots:    map[string]bool{},
		policy:   wf.Settings.EffectiveErrorHandling(),
		logger: w.logger.With(
			"execution_id", job.ExecutionID,
			"workflow_id", wf.ID,
			"job_id", job.ID,
		),
	}

	for _, root := range wf.RootsFor(job.Trigger.Type) {
		r.roots[root.ID] = true
	}

	exec, err := w.executions.Start(ctx, job.ExecutionID)
	if err != nil {
		if errors.Is(err, execution.ErrExecutionTerminal) && exec != nil {
			r.logger.InfoContext(ctx, "Execution already terminal, nothing to run", "status", exec.Status)

			return terminalOutcome(exec), nil
		}

		return Outcome{}, fmt.Errorf("failed to start execution: %w", err)
	}

	// The budget covers one attempt. Paused time and retry backoff between
	// attempts do not count against it.
	window := *exec.StartedAt
	if exec.AttemptedAt != nil && exec.AttemptedAt.After(window) {
		window = *exec.AttemptedAt
	}

	deadline := window.Add(wf.Settings.EffectiveMaxExecutionTime())

	runCtx, cancel := context.WithTimeout(ctx, deadline.Sub(w.now()))
	defer cancel()

	r.logger.InfoContext(ctx, "Walking workflow", "version", exec.Version, "attempt", job.Attempts+1)

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		exec, err = w.executions.Get(ctx, job.ExecutionID)
		if err != nil {
			return Outcome{}, err
		}

		if exec.Status.Terminal() {
			return terminalOutcome(exec), nil
		}

		if !w.now().Before(deadline) {
			return w.timeout(ctx, r, exec)
		}

		now := w.now()
		step := r.graph.planStep(exec, r.roots, now)

		if len(step.skips) > 0 {
			exec, err = w.recordSkips(ctx, r, step.skips)
			if err != nil {
				return terminalOr(exec, err)
			}
		}

		if len(step.ready) == 0 {
			if len(step.waiting) > 0 {
				return w.pause(ctx, r, step.earliestResume())
			}

			return w.finish(ctx, r, exec)
		}

		batch := step.ready[:1]
		if wf.Settings.Parallel() {
			batch = step.ready
		}

		results, err := w.runBatch(runCtx, r, exec, batch)
		if errors.Is(err, execution.ErrExecutionTerminal) {
			// Cancelled while the batch ran; the next read reports it.
			continue
		}

		if err != nil {
			return Outcome{}, err
		}

		if runCtx.Err() != nil && ctx.Err() == nil {
			return w.timeout(ctx, r, exec)
		}

		for _, res := range results {
			if res.err == nil {
				continue
			}

			if r.policy == models.ErrorHandlingRetry && nodes.IsRetryable(res.err) {
				r.logger.WarnContext(ctx, "Node failed with a retryable error, retrying job",
					"node_id", res.node.ID, "error", res.err)

				return Outcome{Kind: OutcomeRetry, Err: res.err, NodeID: res.node.ID, Execution: exec}, nil
			}

			if r.policy != models.ErrorHandlingContinue {
				return w.abort(ctx, r, res)
			}
		}
	}
}

// runBatch executes the batch, with at most the workflow's branch
// parallelism in flight, and records every result as it lands. Recording
// goes through the manager's optimistic update, so concurrent branches
// never overwrite each other.
func (w *Walker) runBatch(ctx context.Context, r *run, snapshot *models.Execution, batch []runnable) ([]nodeResult, error) {
	limit := r.workflow.Settings.MaxParallelBranches
	if limit <= 0 {
		limit = w.defaultParallelism
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = make([]nodeResult, 0, len(batch))
	)

	g.SetLimit(limit)

	for _, item := range batch {
		g.Go(func() error {
			res := w.execute(ctx, r, snapshot, item)

			err := w.record(context.WithoutCancel(ctx), r, snapshot, res)
			if err != nil {
				return err
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b nodeResult) int {
		return slices.Index(r.graph.order, a.node) - slices.Index(r.graph.order, b.node)
	})

	return results, nil
}

// execute runs one node against the snapshot taken before the batch.
func (w *Walker) execute(ctx context.Context, r *run, snapshot *models.Execution, item runnable) nodeResult {
	node := item.node
	logger := r.logger.With("node_id", node.ID, "node_type", node.Type)
	started := w.now()

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.node",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	res := nodeResult{node: node}

	if node.Disabled {
		logger.DebugContext(ctx, "Node disabled, passing through")

		res.output = nodes.Output{Data: map[string]any{}}

		return res
	}

	output, err := w.invoke(ctx, r, snapshot, item, logger)

	res.output = output
	res.err = err
	res.duration = w.now().Sub(started)

	if err != nil {
		otelhelper.SetError(span, err, attribute.Bool("retryable", nodes.IsRetryable(err)))
	}

	return res
}

func (w *Walker) invoke(ctx context.Context, r *run, snapshot *models.Execution, item runnable, logger *slog.Logger) (nodes.Output, error) {
	node := item.node

	executor, err := w.executors.Lookup(node.Type)
	if err != nil {
		return nodes.Output{}, nodes.Terminal(err)
	}

	scope := w.scope(r, snapshot)

	config, err := nodes.ResolveConfig(executor, node.Config, scope)
	if err != nil {
		return nodes.Output{}, nodes.Terminal(fmt.Errorf("resolve config: %w", err))
	}

	err = nodes.CheckRequired(executor, config)
	if err != nil {
		return nodes.Output{}, err
	}

	upstream, order := w.upstream(r, snapshot, node)

	logger.DebugContext(ctx, "Executing node")

	return executor.Execute(ctx, nodes.Input{
		Node:          node,
		Config:        config,
		Scope:         scope,
		Upstream:      upstream,
		UpstreamOrder: order,
		Trigger:       snapshot.Trigger,
		Meta: nodes.Meta{
			ExecutionID: snapshot.ID,
			WorkflowID:  snapshot.WorkflowID,
			OrgID:       snapshot.OrgID,
			Attempt:     r.job.Attempts,
		},
		ResumedAt: item.resumedAt,
		Logger:    logger,
		Now:       w.now,
	})
}

func (w *Walker) scope(r *run, exec *models.Execution) expression.Scope {
	return expression.NewScope(expression.ScopeInput{
		Payload:     exec.Trigger.Payload,
		Variables:   r.workflow.Variables,
		Outputs:     exec.Context,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
	})
}

// upstream collects the outputs of the node's completed predecessors in
// the order they completed.
func (w *Walker) upstream(r *run, exec *models.Execution, node *models.Node) (map[string]any, []string) {
	sources := map[string]bool{}
	for _, edge := range r.graph.inbound[node.ID] {
		sources[edge.Source] = true
	}

	upstream := map[string]any{}

	var order []string

	for _, id := range exec.CompletedNodes {
		if !sources[id] {
			continue
		}

		upstream[id] = exec.Context[id]
		order = append(order, id)
	}

	return upstream, order
}

// record persists one node result. Successful nodes store their output and
// the edges their output activates; suspended nodes store the resume time.
func (w *Walker) record(ctx context.Context, r *run, snapshot *models.Execution, res nodeResult) error {
	node := res.node
	status := models.NodeStatusSuccess

	var taken []string

	switch {
	case res.err != nil:
		status = models.NodeStatusError
	case res.output.Suspend != nil:
		status = models.NodeStatusSuspended
	default:
		data := res.output.Data
		if data == nil {
			data = map[string]any{}
		}

		scope := w.scope(r, snapshot).With(node.ID, data)
		taken = r.graph.activeEdges(node.ID, res.output.Branch, scope, func(edge *models.Edge, err error) {
			r.logger.WarnContext(ctx, "Edge condition failed to evaluate, edge not taken",
				"edge", edge.Key(), "error", err)
		})
		res.output.Data = data
	}

	retrying := res.err != nil && r.policy == models.ErrorHandlingRetry && nodes.IsRetryable(res.err)

	_, err := w.executions.UpdateProgress(ctx, snapshot.ID, func(e *models.Execution) error {
		if e.NodeDecided(node.ID) {
			return nil
		}

		e.CurrentNodeID = node.ID

		switch status {
		case models.NodeStatusSuspended:
			if e.Suspended == nil {
				e.Suspended = map[string]time.Time{}
			}

			e.Suspended[node.ID] = res.output.Suspend.ResumeAt.UTC()
		case models.NodeStatusError:
			if e.NodeErrors == nil {
				e.NodeErrors = map[string]string{}
			}

			e.NodeErrors[node.ID] = res.err.Error()

			if !retrying {
				delete(e.Suspended, node.ID)
				e.FailedNodes = append(e.FailedNodes, node.ID)
			}
		default:
			if e.Context == nil {
				e.Context = map[string]any{}
			}

			delete(e.Suspended, node.ID)
			delete(e.NodeErrors, node.ID)
			e.Context[node.ID] = res.output.Data
			e.CompletedNodes = append(e.CompletedNodes, node.ID)
			e.TakenEdges = append(e.TakenEdges, taken...)
		}

		return nil
	})
	if err != nil {
		return err
	}

	w.observer.NodeFinished(node.Type, status, res.duration)

	switch status {
	case models.NodeStatusSuspended:
		w.executions.Log(ctx, snapshot.ID, node.ID, models.LogLevelInfo, "node.suspended", "Node suspended",
			map[string]any{"resumeAt": res.output.Suspend.ResumeAt.UTC().Format(time.RFC3339)})
	case models.NodeStatusError:
		level := models.LogLevelError
		if retrying {
			level = models.LogLevelWarn
		}

		w.executions.Log(ctx, snapshot.ID, node.ID, level, "node.failed", res.err.Error(),
			map[string]any{"retryable": nodes.IsRetryable(res.err), "durationMs": res.duration.Milliseconds()})
		w.executions.PublishNode(ctx, snapshot, node, res.duration, res.err)
	default:
		w.executions.Log(ctx, snapshot.ID, node.ID, models.LogLevelInfo, "node.completed", "Node completed",
			map[string]any{"durationMs": res.duration.Milliseconds(), "edges": taken})
		w.executions.PublishNode(ctx, snapshot, node, res.duration, nil)
	}

	return nil
}

func (w *Walker) recordSkips(ctx context.Context, r *run, skips []models.SkippedNode) (*models.Execution, error) {
	exec, err := w.executions.UpdateProgress(ctx, r.job.ExecutionID, func(e *models.Execution) error {
		for _, skipped := range skips {
			if !e.NodeDecided(skipped.NodeID) {
				e.SkippedNodes = append(e.SkippedNodes, skipped)
			}
		}

		return nil
	})
	if err != nil {
		return exec, err
	}

	for _, skipped := range skips {
		w.executions.Log(ctx, exec.ID, skipped.NodeID, models.LogLevelDebug, "node.skipped", "Node skipped",
			map[string]any{"reason": skipped.Reason})
		w.observer.NodeFinished(r.graph.nodes[skipped.NodeID].Type, models.NodeStatusSkipped, 0)
	}

	return exec, nil
}

func (w *Walker) pause(ctx context.Context, r *run, resumeAt time.Time) (Outcome, error) {
	exec, err := w.executions.Pause(ctx, r.job.ExecutionID, resumeAt)
	if err != nil {
		return terminalOr(exec, err)
	}

	r.logger.InfoContext(ctx, "Execution paused", "resume_at", resumeAt)

	return Outcome{Kind: OutcomePaused, ResumeAt: resumeAt, Execution: exec}, nil
}

// finish closes an execution whose graph is exhausted.
func (w *Walker) finish(ctx context.Context, r *run, exec *models.Execution) (Outcome, error) {
	result := models.ExecutionResult{
		Success: len(exec.FailedNodes) == 0,
		Output:  map[string]any{},
	}

	for _, id := range exec.CompletedNodes {
		if r.graph.isSink(id) {
			result.Output[id] = exec.Context[id]
		}
	}

	if !result.Success {
		failed := exec.FailedNodes[0]
		result.Error = &models.ExecutionError{
			Code:    models.ErrorCodeNodeFailed,
			Message: fmt.Sprintf("node %s failed: %s", failed, exec.NodeErrors[failed]),
		}
	}

	return w.close(ctx, r, result, Outcome{})
}

// abort stops the walk after a node failure under the stop policy.
func (w *Walker) abort(ctx context.Context, r *run, res nodeResult) (Outcome, error) {
	result := models.ExecutionResult{
		Success: false,
		Error: &models.ExecutionError{
			Code:    models.ErrorCodeNodeFailed,
			Message: fmt.Sprintf("node %s failed: %s", res.node.ID, res.err),
		},
	}

	return w.close(ctx, r, result, Outcome{Err: res.err, NodeID: res.node.ID})
}

func (w *Walker) timeout(ctx context.Context, r *run, exec *models.Execution) (Outcome, error) {
	budget := r.workflow.Settings.EffectiveMaxExecutionTime()
	r.logger.WarnContext(ctx, "Execution exceeded its time budget", "budget", budget)

	result := models.ExecutionResult{
		Success: false,
		Error: &models.ExecutionError{
			Code:    models.ErrorCodeTimeout,
			Message: fmt.Sprintf("execution exceeded max execution time of %s", budget),
		},
	}

	return w.close(ctx, r, result, Outcome{NodeID: exec.CurrentNodeID})
}

func (w *Walker) close(ctx context.Context, r *run, result models.ExecutionResult, outcome Outcome) (Outcome, error) {
	exec, err := w.executions.Finish(context.WithoutCancel(ctx), r.job.ExecutionID, result)
	if err != nil {
		return terminalOr(exec, err)
	}

	w.observer.ExecutionFinished(exec.Status, time.Duration(exec.Metrics.TotalDurationMs)*time.Millisecond)

	outcome.Kind = OutcomeCompleted
	if !result.Success {
		outcome.Kind = OutcomeFailed
	}

	outcome.Execution = exec

	r.logger.InfoContext(ctx, "Execution finished",
		"status", exec.Status,
		"completed_nodes", len(exec.CompletedNodes),
		"failed_nodes", len(exec.FailedNodes),
		"skipped_nodes", len(exec.SkippedNodes),
		"duration_ms", exec.Metrics.TotalDurationMs,
	)

	return outcome, nil
}

// terminalOr turns a write that lost to a concurrent terminal transition
// (usually a cancel) into that terminal outcome.
func terminalOr(exec *models.Execution, err error) (Outcome, error) {
	if errors.Is(err, execution.ErrExecutionTerminal) && exec != nil {
		return terminalOutcome(exec), nil
	}

	return Outcome{}, err
}

func terminalOutcome(exec *models.Execution) Outcome {
	outcome := Outcome{Execution: exec}

	switch exec.Status {
	case models.ExecutionStatusCancelled:
		outcome.Kind = OutcomeCancelled
	case models.ExecutionStatusFailed:
		outcome.Kind = OutcomeFailed
	default:
		outcome.Kind = OutcomeCompleted
	}

	return outcome
}

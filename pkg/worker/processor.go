// Package worker claims jobs from the queue and runs their executions
// through the graph walker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/otelhelper"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/queue"
	"github.com/mrlynn/netpad-v3-sub010/pkg/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// MaxBatchSize bounds ProcessBatch.
const MaxBatchSize = 10

var (
	ErrInvalidBatchSize = fmt.Errorf("batch size must be between 1 and %d", MaxBatchSize)

	// ErrVersionUnavailable means the execution's workflow version has no
	// snapshot and the workflow has moved on to another version.
	ErrVersionUnavailable = errors.New("workflow version unavailable")
)

// JobResult reports how one claimed job was handled.
type JobResult struct {
	JobID       string `json:"jobId"`
	WorkflowID  string `json:"workflowId"`
	ExecutionID string `json:"executionId"`
	Success     bool   `json:"success"`
	Outcome     string `json:"outcome,omitempty"`
	DurationMs  int64  `json:"durationMs"`
	Error       string `json:"error,omitempty"`
}

// Runner walks one job's execution. *workflow.Walker implements it.
type Runner interface {
	Run(ctx context.Context, wf *models.Workflow, job *models.Job) (workflow.Outcome, error)
}

// Processor claims and processes jobs.
type Processor struct {
	id         string
	queue      *queue.Queue
	workflows  persistence.WorkflowRepository
	runner     Runner
	executions *execution.Manager
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

// NewProcessor creates a processor claiming jobs as workerID.
func NewProcessor(
	workerID string,
	jobs *queue.Queue,
	workflows persistence.WorkflowRepository,
	runner Runner,
	executions *execution.Manager,
	logger *slog.Logger,
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		id:         workerID,
		queue:      jobs,
		workflows:  workflows,
		runner:     runner,
		executions: executions,
		logger:     logger.With("module", "worker", "worker_id", workerID),
		tracer:     otel.Tracer("netpad/worker"),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ProcessBatch claims up to count jobs and processes them concurrently. A
// failure in one job is reported in its result and never affects the
// others. Fewer results than count means the queue ran dry.
func (p *Processor) ProcessBatch(ctx context.Context, count int) ([]JobResult, error) {
	if count < 1 || count > MaxBatchSize {
		return nil, ErrInvalidBatchSize
	}

	var claimed []*models.Job

	for range count {
		job, err := p.queue.Claim(ctx, p.id)
		if err != nil {
			if len(claimed) == 0 {
				return nil, err
			}

			p.logger.WarnContext(ctx, "Claim failed, processing partial batch", "error", err)

			break
		}

		if job == nil {
			break
		}

		claimed = append(claimed, job)
	}

	results := make([]JobResult, len(claimed))

	var g errgroup.Group

	for i, job := range claimed {
		g.Go(func() error {
			results[i] = p.Process(ctx, job)

			return nil
		})
	}

	_ = g.Wait()

	return results, nil
}

// Process runs one claimed job to a queue transition.
func (p *Processor) Process(ctx context.Context, job *models.Job) JobResult {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "worker.process",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.String(otelhelper.OrgIDKey, job.OrgID),
		attribute.String(otelhelper.WorkerIDKey, p.id),
	)
	defer span.End()

	started := p.now()
	logger := p.logger.With("job_id", job.ID, "execution_id", job.ExecutionID, "workflow_id", job.WorkflowID)

	result := JobResult{JobID: job.ID, WorkflowID: job.WorkflowID, ExecutionID: job.ExecutionID}

	outcome, err := p.handle(ctx, logger, job)

	result.DurationMs = p.now().Sub(started).Milliseconds()
	result.Outcome = string(outcome)

	if err != nil {
		otelhelper.SetError(span, err)
		result.Error = err.Error()

		return result
	}

	span.SetAttributes(attribute.String(otelhelper.OutcomeKey, string(outcome)))
	result.Success = outcome == workflow.OutcomeCompleted || outcome == workflow.OutcomePaused

	return result
}

// handle runs the job and settles it in the queue. A returned error means
// the job did not end in the outcome the walker reported.
func (p *Processor) handle(ctx context.Context, logger *slog.Logger, job *models.Job) (workflow.OutcomeKind, error) {
	wf, err := p.definition(ctx, job)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return workflow.OutcomeFailed, p.abandon(ctx, logger, job, models.ErrorCodeWorkflowMissing,
				fmt.Sprintf("workflow %s not found", job.WorkflowID), err)
		}

		if errors.Is(err, ErrVersionUnavailable) {
			return workflow.OutcomeFailed, p.abandon(ctx, logger, job, models.ErrorCodeVersionMissing,
				"the workflow version this execution started on is no longer available", err)
		}

		return "", p.fail(ctx, logger, job, fmt.Errorf("failed to load workflow: %w", err))
	}

	outcome, err := p.runner.Run(ctx, wf, job)
	if err != nil {
		return "", p.fail(ctx, logger, job, err)
	}

	// The walk is over; settling the job must survive a shutdown.
	settle := context.WithoutCancel(ctx)

	switch outcome.Kind {
	case workflow.OutcomePaused:
		return outcome.Kind, p.suspend(settle, logger, job, outcome.ResumeAt)
	case workflow.OutcomeRetry:
		return outcome.Kind, p.retry(settle, logger, job, outcome.Err)
	default:
		err = p.queue.Complete(settle, job.ID, p.id)
		if err != nil {
			return outcome.Kind, err
		}

		logger.InfoContext(ctx, "Job finished", "outcome", outcome.Kind)

		if outcome.Kind == workflow.OutcomeFailed {
			return outcome.Kind, failureOf(outcome)
		}

		return outcome.Kind, nil
	}
}

// definition returns the graph of the version the execution was admitted
// on. Edits published since then never reach a running execution. The
// live workflow is only used when it still is that version and no
// snapshot was stored.
func (p *Processor) definition(ctx context.Context, job *models.Job) (*models.Workflow, error) {
	exec, err := p.executions.Get(ctx, job.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	wf, err := p.workflows.GetVersion(ctx, job.WorkflowID, exec.Version)
	if err == nil {
		return wf, nil
	}

	if !persistence.IsWorkflowNotFound(err) {
		return nil, err
	}

	current, err := p.workflows.GetByID(ctx, job.WorkflowID)
	if err != nil {
		return nil, err
	}

	if current.Version != exec.Version {
		return nil, fmt.Errorf("%w: execution on version %d, workflow at version %d",
			ErrVersionUnavailable, exec.Version, current.Version)
	}

	return current, nil
}

// failureOf describes why a walk ended failed.
func failureOf(outcome workflow.Outcome) error {
	if outcome.Err != nil {
		return outcome.Err
	}

	if outcome.Execution != nil && outcome.Execution.Result != nil && outcome.Execution.Result.Error != nil {
		return fmt.Errorf("%s: %s", outcome.Execution.Result.Error.Code, outcome.Execution.Result.Error.Message)
	}

	return errors.New("execution failed")
}

// suspend schedules the follow-up job that resumes the execution and
// completes the current one.
func (p *Processor) suspend(ctx context.Context, logger *slog.Logger, job *models.Job, resumeAt time.Time) error {
	resumeJobID, err := p.queue.EnqueueResume(ctx, queue.EnqueueRequest{
		WorkflowID:  job.WorkflowID,
		ExecutionID: job.ExecutionID,
		OrgID:       job.OrgID,
		Trigger:     job.Trigger,
		RunAt:       resumeAt,
		MaxAttempts: job.MaxAttempts,
		Backoff:     job.Backoff,
	})
	if err != nil {
		return p.fail(ctx, logger, job, fmt.Errorf("failed to schedule resume: %w", err))
	}

	err = p.queue.Complete(ctx, job.ID, p.id)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Execution suspended", "resume_at", resumeAt, "resume_job_id", resumeJobID)

	return nil
}

func (p *Processor) retry(ctx context.Context, logger *slog.Logger, job *models.Job, cause error) error {
	failed, err := p.queue.Fail(ctx, job.ID, p.id, cause)
	if err != nil {
		return err
	}

	if failed.Status == models.JobStatusFailed {
		p.Exhausted(ctx, failed)

		return fmt.Errorf("retries exhausted: %w", cause)
	}

	logger.InfoContext(ctx, "Job scheduled for retry", "attempts", failed.Attempts, "run_at", failed.RunAt)

	return nil
}

// fail records an infrastructure failure against the job. The execution is
// finalized once the job has no attempts left.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, job *models.Job, cause error) error {
	logger.ErrorContext(ctx, "Job attempt failed", "error", cause)

	failed, err := p.queue.Fail(context.WithoutCancel(ctx), job.ID, p.id, cause)
	if err != nil {
		return errors.Join(cause, err)
	}

	if failed.Status == models.JobStatusFailed {
		p.Exhausted(context.WithoutCancel(ctx), failed)
	}

	return cause
}

// abandon fails the execution for good and completes the job: re-running
// cannot bring back a definition that is gone.
func (p *Processor) abandon(ctx context.Context, logger *slog.Logger, job *models.Job, code, message string, cause error) error {
	logger.WarnContext(ctx, "Workflow definition unavailable, failing execution", "code", code, "error", cause)

	_, err := p.executions.Fail(ctx, job.ExecutionID, code, message)
	if err != nil && !errors.Is(err, execution.ErrExecutionTerminal) {
		return p.fail(ctx, logger, job, err)
	}

	err = p.queue.Complete(ctx, job.ID, p.id)
	if err != nil {
		return errors.Join(cause, err)
	}

	return cause
}

// Exhausted finalizes the execution of a job that failed permanently. It
// is also the sweeper's callback for stale jobs out of attempts.
func (p *Processor) Exhausted(ctx context.Context, job *models.Job) {
	message := "job failed after all attempts"
	if job.LastError != "" {
		message = fmt.Sprintf("job failed after %d attempts: %s", job.Attempts, job.LastError)
	}

	_, err := p.executions.Fail(ctx, job.ExecutionID, models.ErrorCodeRetriesExhausted, message)
	if err != nil && !errors.Is(err, execution.ErrExecutionTerminal) {
		p.logger.ErrorContext(ctx, "Failed to finalize exhausted execution",
			"job_id", job.ID, "execution_id", job.ExecutionID, "error", err)
	}
}

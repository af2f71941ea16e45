package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/delay"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/transform"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/trigger"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/memory"
	"github.com/mrlynn/netpad-v3-sub010/pkg/queue"
	"github.com/mrlynn/netpad-v3-sub010/pkg/registry"
	"github.com/mrlynn/netpad-v3-sub010/pkg/testutil"
	"github.com/mrlynn/netpad-v3-sub010/pkg/worker"
	"github.com/mrlynn/netpad-v3-sub010/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runnerFunc adapts a function to worker.Runner.
type runnerFunc func(ctx context.Context, wf *models.Workflow, job *models.Job) (workflow.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, wf *models.Workflow, job *models.Job) (workflow.Outcome, error) {
	return f(ctx, wf, job)
}

type harness struct {
	store      *memory.Persistence
	queue      *queue.Queue
	executions *execution.Manager
	clock      *testutil.Clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := testutil.NewClock()
	store := memory.NewPersistence()

	return &harness{
		store:      store,
		queue:      queue.New(store.Jobs(), queue.Config{DefaultMaxAttempts: 3}, slog.Default(), queue.WithClock(clock.Now)),
		executions: execution.NewManager(store, slog.Default(), execution.WithClock(clock.Now)),
		clock:      clock,
	}
}

func (h *harness) processor(runner worker.Runner) *worker.Processor {
	return worker.NewProcessor("worker-test", h.queue, h.store.Workflows(), runner, h.executions,
		slog.Default(), worker.WithClock(h.clock.Now))
}

// submit stores wf and queues one execution of it.
func (h *harness) submit(t *testing.T, wf *models.Workflow, maxAttempts int) (jobID, executionID string) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, h.store.Workflows().Save(ctx, wf))

	trig := models.Trigger{Type: models.TriggerKindManual, Payload: map[string]any{}}
	exec := models.NewExecution("exec-"+wf.ID, wf, trig, h.clock.Now())
	require.NoError(t, h.executions.Create(ctx, exec))

	jobID, err := h.queue.Enqueue(ctx, queue.EnqueueRequest{
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		OrgID:       wf.OrgID,
		Trigger:     trig,
		RunAt:       h.clock.Now(),
		MaxAttempts: maxAttempts,
		Backoff:     models.Backoff{InitialDelay: models.Duration(time.Second), Multiplier: 2},
	})
	require.NoError(t, err)

	return jobID, exec.ID
}

func (h *harness) job(t *testing.T, id string) *models.Job {
	t.Helper()

	job, err := h.queue.Get(context.Background(), id)
	require.NoError(t, err)

	return job
}

func (h *harness) execution(t *testing.T, id string) *models.Execution {
	t.Helper()

	exec, err := h.executions.Get(context.Background(), id)
	require.NoError(t, err)

	return exec
}

func completing(h *harness) worker.Runner {
	return runnerFunc(func(ctx context.Context, _ *models.Workflow, job *models.Job) (workflow.Outcome, error) {
		exec, err := h.executions.Finish(ctx, job.ExecutionID, models.ExecutionResult{Success: true})

		return workflow.Outcome{Kind: workflow.OutcomeCompleted, Execution: exec}, err
	})
}

func TestProcessBatch_RejectsInvalidCount(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	p := h.processor(completing(h))

	for _, count := range []int{0, -1, worker.MaxBatchSize + 1} {
		_, err := p.ProcessBatch(context.Background(), count)
		assert.ErrorIs(t, err, worker.ErrInvalidBatchSize)
	}
}

func TestProcessBatch_ProcessesClaimedJobsConcurrently(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
		release     = make(chan struct{})
		once        sync.Once
	)

	runner := runnerFunc(func(ctx context.Context, wf *models.Workflow, job *models.Job) (workflow.Outcome, error) {
		n := inFlight.Add(1)
		for {
			current := maxInFlight.Load()
			if n <= current || maxInFlight.CompareAndSwap(current, n) {
				break
			}
		}

		if n == 3 {
			once.Do(func() { close(release) })
		}

		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}

		inFlight.Add(-1)

		return completing(h).Run(ctx, wf, job)
	})

	for range 3 {
		h.submit(t, testutil.CreateTestWorkflow(), 3)
	}

	results, err := h.processor(runner).ProcessBatch(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int32(3), maxInFlight.Load())

	for _, result := range results {
		assert.True(t, result.Success, result.Error)
		assert.Equal(t, string(workflow.OutcomeCompleted), result.Outcome)
		assert.Equal(t, models.JobStatusCompleted, h.job(t, result.JobID).Status)
		assert.Equal(t, models.ExecutionStatusCompleted, h.execution(t, result.ExecutionID).Status)
	}

	results, err = h.processor(runner).ProcessBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessBatch_MissingWorkflowFailsExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	wf := testutil.CreateTestWorkflow()
	jobID, execID := h.submit(t, wf, 3)
	require.NoError(t, h.store.Workflows().Delete(context.Background(), wf.ID))

	results, err := h.processor(completing(h)).ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.NotEmpty(t, results[0].Error)

	assert.Equal(t, models.JobStatusCompleted, h.job(t, jobID).Status)

	exec := h.execution(t, execID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Result)
	assert.Equal(t, models.ErrorCodeWorkflowMissing, exec.Result.Error.Code)
}

func TestProcessBatch_PauseSchedulesResumeJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	resumeAt := h.clock.Now().Add(15 * time.Minute)

	runner := runnerFunc(func(ctx context.Context, _ *models.Workflow, job *models.Job) (workflow.Outcome, error) {
		exec, err := h.executions.Pause(ctx, job.ExecutionID, resumeAt)

		return workflow.Outcome{Kind: workflow.OutcomePaused, ResumeAt: resumeAt, Execution: exec}, err
	})

	jobID, execID := h.submit(t, testutil.CreateTestWorkflow(), 4)

	results, err := h.processor(runner).ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, models.JobStatusCompleted, h.job(t, jobID).Status)

	pending, err := h.store.Jobs().List(context.Background(), persistence.JobFilter{
		ExecutionID: execID,
		Status:      models.JobStatusPending,
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, resumeAt, pending[0].RunAt)
	assert.Equal(t, 4, pending[0].MaxAttempts)
	assert.Zero(t, pending[0].Attempts)
}

func TestProcessBatch_RetryUntilExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	cause := errors.New("smtp unavailable")

	var runs atomic.Int32

	runner := runnerFunc(func(_ context.Context, _ *models.Workflow, _ *models.Job) (workflow.Outcome, error) {
		runs.Add(1)

		return workflow.Outcome{Kind: workflow.OutcomeRetry, Err: cause, NodeID: "send"}, nil
	})

	jobID, execID := h.submit(t, testutil.CreateTestWorkflow(), 2)
	p := h.processor(runner)

	results, err := p.ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)

	job := h.job(t, jobID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, h.clock.Now().Add(time.Second), job.RunAt)

	// Not eligible until the backoff elapses.
	results, err = p.ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, results)

	h.clock.Advance(time.Second)

	results, err = p.ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "retries exhausted")
	assert.Equal(t, int32(2), runs.Load())

	job = h.job(t, jobID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, cause.Error(), job.LastError)

	exec := h.execution(t, execID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, models.ErrorCodeRetriesExhausted, exec.Result.Error.Code)
}

func TestProcessBatch_InfrastructureErrorRequeuesJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	runner := runnerFunc(func(context.Context, *models.Workflow, *models.Job) (workflow.Outcome, error) {
		return workflow.Outcome{}, errors.New("store unavailable")
	})

	jobID, execID := h.submit(t, testutil.CreateTestWorkflow(), 3)

	results, err := h.processor(runner).ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "store unavailable", results[0].Error)

	job := h.job(t, jobID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, models.ExecutionStatusPending, h.execution(t, execID).Status)
}

func TestProcessor_ExhaustedFinalizesExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, execID := h.submit(t, testutil.CreateTestWorkflow(), 1)

	p := h.processor(completing(h))
	p.Exhausted(context.Background(), &models.Job{ExecutionID: execID, Attempts: 1, LastError: "worker lost"})

	exec := h.execution(t, execID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.Result.Error.Message, "worker lost")

	// A second call against a terminal execution is a no-op.
	p.Exhausted(context.Background(), &models.Job{ExecutionID: execID})
	assert.Equal(t, exec.Result.Error.Message, h.execution(t, execID).Result.Error.Message)
}

func TestProcessBatch_DelayResumesThroughQueue(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	reg := registry.NewWith(slog.Default(), trigger.New(), delay.New(), transform.New())
	walker := workflow.NewWalker(reg, h.executions, slog.Default(), workflow.WithClock(h.clock.Now))

	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(
			testutil.CreateTestNode("wait", models.NodeKindDelay, testutil.WithConfig(map[string]any{"duration": "10m"})),
			testutil.CreateTestNode("shape", models.NodeKindTransform,
				testutil.WithConfig(map[string]any{"fields": map[string]any{"done": true}})),
		),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "wait"),
			testutil.CreateTestEdge("wait", "shape"),
		),
	)
	require.NoError(t, workflow.Validate(wf, reg))

	_, execID := h.submit(t, wf, 3)
	p := h.processor(walker)

	results, err := p.ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, string(workflow.OutcomePaused), results[0].Outcome)
	assert.Equal(t, models.ExecutionStatusPaused, h.execution(t, execID).Status)

	results, err = p.ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, results, "resume job is not due yet")

	h.clock.Advance(10 * time.Minute)

	results, err = p.ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Error)

	exec := h.execution(t, execID)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.ElementsMatch(t, []string{"trigger", "wait", "shape"}, exec.CompletedNodes)
}

func TestProcessBatch_ResumeRunsAdmittedVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	reg := registry.NewWith(slog.Default(), trigger.New(), delay.New(), transform.New())
	walker := workflow.NewWalker(reg, h.executions, slog.Default(), workflow.WithClock(h.clock.Now))

	shape := func(id string) *models.Node {
		return testutil.CreateTestNode(id, models.NodeKindTransform,
			testutil.WithConfig(map[string]any{"fields": map[string]any{"node": id}}))
	}

	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(
			testutil.CreateTestNode("wait", models.NodeKindDelay, testutil.WithConfig(map[string]any{"duration": "10m"})),
			shape("v1node"),
		),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "wait"),
			testutil.CreateTestEdge("wait", "v1node"),
		),
	)
	require.NoError(t, h.store.Workflows().SaveVersion(ctx, wf))

	_, execID := h.submit(t, wf, 3)
	p := h.processor(walker)

	results, err := p.ProcessBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, models.ExecutionStatusPaused, h.execution(t, execID).Status)

	// Pause, edit and republish while the execution sleeps.
	edited, err := h.store.Workflows().GetByID(ctx, wf.ID)
	require.NoError(t, err)
	edited.Version = 2
	edited.Nodes[len(edited.Nodes)-1] = shape("v2node")
	edited.Edges[len(edited.Edges)-1] = testutil.CreateTestEdge("wait", "v2node")
	require.NoError(t, h.store.Workflows().SaveVersion(ctx, edited))
	require.NoError(t, h.store.Workflows().Save(ctx, edited))

	h.clock.Advance(10 * time.Minute)

	results, err = p.ProcessBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Error)

	exec := h.execution(t, execID)
	assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 1, exec.Version)
	assert.ElementsMatch(t, []string{"trigger", "wait", "v1node"}, exec.CompletedNodes)
}

func TestProcessBatch_MissingVersionFailsExecution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	wf := testutil.CreateTestWorkflow()
	jobID, execID := h.submit(t, wf, 3)

	// No snapshot of version 1 exists and the workflow moved on.
	wf.Version = 2
	require.NoError(t, h.store.Workflows().Save(ctx, wf))

	ran := false
	runner := runnerFunc(func(context.Context, *models.Workflow, *models.Job) (workflow.Outcome, error) {
		ran = true

		return workflow.Outcome{Kind: workflow.OutcomeCompleted}, nil
	})

	results, err := h.processor(runner).ProcessBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.False(t, ran)

	assert.Equal(t, models.JobStatusCompleted, h.job(t, jobID).Status)

	exec := h.execution(t, execID)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Result)
	assert.Equal(t, models.ErrorCodeVersionMissing, exec.Result.Error.Code)
}

func TestPoller_DrainsQueueAndStops(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	var executed atomic.Int32

	runner := runnerFunc(func(ctx context.Context, wf *models.Workflow, job *models.Job) (workflow.Outcome, error) {
		executed.Add(1)

		return completing(h).Run(ctx, wf, job)
	})

	for range 4 {
		h.submit(t, testutil.CreateTestWorkflow(), 3)
	}

	poller := worker.NewPoller(h.processor(runner), worker.PollerConfig{
		PollInterval: 5 * time.Millisecond,
		Concurrency:  2,
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		poller.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return executed.Load() == 4 }, 2*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}

	status, err := h.queue.QueueStatus(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 4, status.Completed)
}

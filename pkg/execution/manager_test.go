package execution_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/eventbus"
	"github.com/mrlynn/netpad-v3-sub010/pkg/events"
	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.GetType())
	}

	return out
}

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newManager(t *testing.T) (*execution.Manager, *recordingPublisher, *time.Time) {
	t.Helper()

	now := epoch
	publisher := &recordingPublisher{}
	manager := execution.NewManager(memory.NewPersistence(), slog.Default(),
		execution.WithClock(func() time.Time { return now }),
		execution.WithPublisher(publisher),
	)

	return manager, publisher, &now
}

func createExecution(t *testing.T, manager *execution.Manager, id string) {
	t.Helper()

	workflow := &models.Workflow{ID: "wf-1", OrgID: "org-1", Version: 3}
	trigger := models.Trigger{
		Type:    models.TriggerKindAPI,
		Payload: map[string]any{"token": "secret", "email": "a@b.c"},
		Source:  models.TriggerSource{IP: "10.0.0.1"},
	}

	require.NoError(t, manager.Create(context.Background(), models.NewExecution(id, workflow, trigger, epoch)))
}

func TestManager_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, publisher, now := newManager(t)
	createExecution(t, manager, "exec-1")

	started, err := manager.Start(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, started.Status)
	require.NotNil(t, started.StartedAt)

	// A retried attempt keeps the original start time.
	*now = now.Add(time.Minute)
	again, err := manager.Start(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, epoch, *again.StartedAt)
	require.NotNil(t, again.AttemptedAt)
	assert.Equal(t, epoch.Add(time.Minute), *again.AttemptedAt)

	_, err = manager.UpdateProgress(ctx, "exec-1", func(e *models.Execution) error {
		e.CompletedNodes = append(e.CompletedNodes, "trigger", "send")

		return nil
	})
	require.NoError(t, err)

	*now = now.Add(time.Second)
	finished, err := manager.Finish(ctx, "exec-1", models.ExecutionResult{Success: true})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, finished.Status)
	assert.Equal(t, int64(61000), finished.Metrics.TotalDurationMs)
	assert.Equal(t, 2, finished.Metrics.NodesExecuted)
	assert.Equal(t, []events.EventType{events.ExecutionStartedEvent, events.ExecutionCompletedEvent}, publisher.types())

	_, err = manager.UpdateProgress(ctx, "exec-1", func(*models.Execution) error { return nil })
	assert.ErrorIs(t, err, execution.ErrExecutionTerminal)

	_, err = manager.Cancel(ctx, "exec-1", "")
	assert.ErrorIs(t, err, execution.ErrExecutionTerminal)
}

func TestManager_PauseAndResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, publisher, now := newManager(t)
	createExecution(t, manager, "exec-1")

	_, err := manager.Start(ctx, "exec-1")
	require.NoError(t, err)

	_, err = manager.Resume(ctx, "exec-1")
	require.Error(t, err)

	paused, err := manager.Pause(ctx, "exec-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)

	*now = now.Add(time.Hour)
	resumed, err := manager.Resume(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, resumed.Status)
	assert.Equal(t, epoch, *resumed.StartedAt)

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionPausedEvent,
		events.ExecutionResumedEvent,
	}, publisher.types())
}

func TestManager_UpdateProgressRetriesOnConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, _, _ := newManager(t)
	createExecution(t, manager, "exec-1")

	_, err := manager.Start(ctx, "exec-1")
	require.NoError(t, err)

	const writers = 8

	var wg sync.WaitGroup

	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := manager.UpdateProgress(ctx, "exec-1", func(e *models.Execution) error {
				e.CompletedNodes = append(e.CompletedNodes, string(rune('a'+i)))

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	current, err := manager.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Len(t, current.CompletedNodes, writers)
}

func TestManager_UpdateProgressPatchError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, _, _ := newManager(t)
	createExecution(t, manager, "exec-1")

	boom := errors.New("boom")
	_, err := manager.UpdateProgress(ctx, "exec-1", func(*models.Execution) error { return boom })
	require.ErrorIs(t, err, boom)

	_, err = manager.UpdateProgress(ctx, "missing", func(*models.Execution) error { return nil })
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestManager_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, publisher, _ := newManager(t)
	createExecution(t, manager, "exec-1")

	cancelled, err := manager.Cancel(ctx, "exec-1", "")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Result)
	assert.Equal(t, models.ErrorCodeCancelled, cancelled.Result.Error.Code)
	assert.Equal(t, []events.EventType{events.ExecutionCancelledEvent}, publisher.types())
}

func TestManager_LogsAreOrdered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, _, _ := newManager(t)
	createExecution(t, manager, "exec-1")

	for _, event := range []string{"node.started", "node.completed", "node.started"} {
		require.NoError(t, manager.AppendLog(ctx, &models.ExecutionLog{ExecutionID: "exec-1", Event: event}))
	}

	entries, err := manager.Logs(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.Sequence)
		assert.Equal(t, models.LogLevelInfo, entry.Level)
		assert.Equal(t, epoch, entry.Timestamp)
	}
}

func TestManager_StatusIsSanitizedAndStable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, _, _ := newManager(t)
	createExecution(t, manager, "exec-1")

	_, err := manager.Start(ctx, "exec-1")
	require.NoError(t, err)

	_, err = manager.Fail(ctx, "exec-1", models.ErrorCodeNodeFailed, "node send failed")
	require.NoError(t, err)

	first, err := manager.Status(ctx, "exec-1", true)
	require.NoError(t, err)

	assert.Equal(t, models.TriggerKindAPI, first.Trigger.Type)
	assert.Equal(t, models.ExecutionStatusFailed, first.Status)
	assert.Equal(t, 3, first.Version)
	require.NotEmpty(t, first.Logs)
	assert.Equal(t, "execution.started", first.Logs[0].Event)

	second, err := manager.Status(ctx, "exec-1", true)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = manager.Status(ctx, "missing", false)
	assert.True(t, persistence.IsNotFound(err))
}

func TestManager_StatusReplacesRawText(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	manager, _, _ := newManager(t)
	createExecution(t, manager, "exec-1")

	_, err := manager.Cancel(ctx, "exec-1", "operator token=abc123 asked")
	require.NoError(t, err)

	view, err := manager.Status(ctx, "exec-1", true)
	require.NoError(t, err)

	require.NotNil(t, view.Result)
	assert.Equal(t, models.ErrorCodeCancelled, view.Result.Error.Code)
	assert.Equal(t, execution.PublicErrorMessage(models.ErrorCodeCancelled), view.Result.Error.Message)

	require.Len(t, view.Logs, 1)
	assert.Equal(t, "Execution cancelled", view.Logs[0].Message)
	assert.NotContains(t, view.Logs[0].Message, "abc123")
}

func TestNewStatusLog_KeepsOnlyKnownData(t *testing.T) {
	t.Parallel()

	entry := execution.NewStatusLog(&models.ExecutionLog{
		Event:   "execution.failed",
		Message: "Execution failed",
		Data:    map[string]any{"code": models.ErrorCodeTimeout, "error": "dial 10.0.0.7"},
	})

	assert.Equal(t, map[string]any{"code": models.ErrorCodeTimeout}, entry.Data)
	assert.Equal(t, "Execution failed", execution.PublicErrorMessage("SOMETHING_ELSE"))
}

// Package execution owns every write to Execution records and their
// append-only logs. Progress updates are read-modify-write cycles guarded
// by the record revision, so concurrent branch writers never need a lock.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/eventbus"
	"github.com/mrlynn/netpad-v3-sub010/pkg/events"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

var (
	// ErrExecutionTerminal is returned when patching a finished execution.
	ErrExecutionTerminal = errors.New("execution is already terminal")

	// ErrTooManyConflicts is returned when an update keeps losing races.
	ErrTooManyConflicts = errors.New("execution update kept conflicting")
)

const defaultMaxUpdateAttempts = 64

// Manager is the execution record manager.
type Manager struct {
	executions persistence.ExecutionRepository
	logs       persistence.LogRepository
	publisher  eventbus.EventPublisher
	logger     *slog.Logger
	now        func() time.Time
	maxRetries int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithPublisher publishes lifecycle events on every status transition.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

// NewManager creates a manager over the store's execution and log repositories.
func NewManager(store persistence.Persistence, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		executions: store.Executions(),
		logs:       store.Logs(),
		logger:     logger.With("module", "execution"),
		now:        func() time.Time { return time.Now().UTC() },
		maxRetries: defaultMaxUpdateAttempts,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Now returns the manager clock.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Create stores a new pending execution.
func (m *Manager) Create(ctx context.Context, execution *models.Execution) error {
	err := m.executions.Create(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// Discard removes an execution that was never admitted, such as one whose
// job could not be enqueued. Admitted executions are finished, not
// discarded.
func (m *Manager) Discard(ctx context.Context, executionID string) error {
	err := m.executions.Delete(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to discard execution: %w", err)
	}

	return nil
}

// Get returns the current record.
func (m *Manager) Get(ctx context.Context, executionID string) (*models.Execution, error) {
	return m.executions.Get(ctx, executionID)
}

// List returns executions matching filter.
func (m *Manager) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	return m.executions.List(ctx, filter)
}

// Patch mutates an execution in place. Returning an error aborts the update.
type Patch func(execution *models.Execution) error

// UpdateProgress applies patch under optimistic concurrency: the record is
// re-read and the patch re-applied whenever another writer got there
// first. Terminal executions reject every patch.
func (m *Manager) UpdateProgress(ctx context.Context, executionID string, patch Patch) (*models.Execution, error) {
	for range m.maxRetries {
		current, err := m.executions.Get(ctx, executionID)
		if err != nil {
			return nil, err
		}

		if current.Status.Terminal() {
			return current, fmt.Errorf("%w: %s is %s", ErrExecutionTerminal, executionID, current.Status)
		}

		err = patch(current)
		if err != nil {
			return nil, err
		}

		current.UpdatedAt = m.now()

		err = m.executions.Update(ctx, current)
		if err == nil {
			return current, nil
		}

		if !persistence.IsConflict(err) {
			return nil, fmt.Errorf("failed to update execution %s: %w", executionID, err)
		}

		m.logger.DebugContext(ctx, "Execution update conflicted, retrying", "execution_id", executionID)
	}

	return nil, fmt.Errorf("%w: %s", ErrTooManyConflicts, executionID)
}

// AppendLog appends entry to the execution log. The store assigns the
// sequence, which preserves arrival order per execution.
func (m *Manager) AppendLog(ctx context.Context, entry *models.ExecutionLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}

	if entry.Level == "" {
		entry.Level = models.LogLevelInfo
	}

	err := m.logs.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}

	return nil
}

// Log is AppendLog for callers that only want to record a line. Failures
// are logged, never returned: a lost log line must not fail a run.
func (m *Manager) Log(ctx context.Context, executionID, nodeID string, level models.LogLevel, event, message string, data map[string]any) {
	err := m.AppendLog(ctx, &models.ExecutionLog{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Level:       level,
		Event:       event,
		Message:     message,
		Data:        data,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "Dropped execution log entry", "execution_id", executionID, "event", event, "error", err)
	}
}

// Logs returns the entries of one execution in order.
func (m *Manager) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	return m.logs.List(ctx, executionID)
}

// Start moves a pending or paused execution to running. A running
// execution (a retried job attempt) keeps its status and start time. Every
// call stamps AttemptedAt, which opens the window the time budget counts.
func (m *Manager) Start(ctx context.Context, executionID string) (*models.Execution, error) {
	var previous models.ExecutionStatus

	execution, err := m.UpdateProgress(ctx, executionID, func(e *models.Execution) error {
		previous = e.Status

		now := m.now()
		e.AttemptedAt = &now

		if e.Status == models.ExecutionStatusRunning {
			return nil
		}

		if e.StartedAt == nil {
			e.StartedAt = &now
		}

		if e.Status == models.ExecutionStatusPaused {
			e.ResumedAt = &now
		}

		e.Status = models.ExecutionStatusRunning

		return nil
	})
	if err != nil {
		return execution, err
	}

	switch previous {
	case models.ExecutionStatusPending:
		m.Log(ctx, executionID, "", models.LogLevelInfo, "execution.started", "Execution started", nil)
		m.publish(ctx, execution, events.ExecutionStartedEvent, nil)
	case models.ExecutionStatusPaused:
		m.Log(ctx, executionID, "", models.LogLevelInfo, "execution.resumed", "Execution resumed", nil)
		m.publish(ctx, execution, events.ExecutionResumedEvent, nil)
	}

	return execution, nil
}

// Resume is Start restricted to paused executions.
func (m *Manager) Resume(ctx context.Context, executionID string) (*models.Execution, error) {
	current, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if current.Status != models.ExecutionStatusPaused {
		return current, fmt.Errorf("execution %s is %s, not paused", executionID, current.Status)
	}

	return m.Start(ctx, executionID)
}

// Pause suspends a running execution until resumeAt.
func (m *Manager) Pause(ctx context.Context, executionID string, resumeAt time.Time) (*models.Execution, error) {
	execution, err := m.UpdateProgress(ctx, executionID, func(e *models.Execution) error {
		e.Status = models.ExecutionStatusPaused

		return nil
	})
	if err != nil {
		return execution, err
	}

	m.Log(ctx, executionID, "", models.LogLevelInfo, "execution.paused", "Execution paused",
		map[string]any{"resumeAt": resumeAt.UTC().Format(time.RFC3339)})
	m.publish(ctx, execution, events.ExecutionPausedEvent, &resumeAt)

	return execution, nil
}

// Finish moves an execution to completed or failed and stamps its metrics.
func (m *Manager) Finish(ctx context.Context, executionID string, result models.ExecutionResult) (*models.Execution, error) {
	execution, err := m.UpdateProgress(ctx, executionID, func(e *models.Execution) error {
		now := m.now()
		if e.StartedAt == nil {
			e.StartedAt = &now
		}

		e.Status = models.ExecutionStatusFailed
		if result.Success {
			e.Status = models.ExecutionStatusCompleted
		}

		resultCopy := result
		e.Result = &resultCopy
		e.CompletedAt = &now
		e.CurrentNodeID = ""
		e.Suspended = nil
		e.Metrics.TotalDurationMs = now.Sub(*e.StartedAt).Milliseconds()
		e.Metrics.NodesExecuted = len(e.CompletedNodes) + len(e.FailedNodes)

		return nil
	})
	if err != nil {
		return execution, err
	}

	level, message := models.LogLevelInfo, "Execution completed"
	if !result.Success {
		level, message = models.LogLevelError, "Execution failed"
	}

	var data map[string]any
	if result.Error != nil {
		data = map[string]any{"code": result.Error.Code, "error": result.Error.Message}
	}

	m.Log(ctx, executionID, "", level, "execution."+string(execution.Status), message, data)
	m.publish(ctx, execution, events.ExecutionEventType(execution.Status), nil)

	return execution, nil
}

// Fail is Finish with an unsuccessful result.
func (m *Manager) Fail(ctx context.Context, executionID, code, message string) (*models.Execution, error) {
	return m.Finish(ctx, executionID, models.ExecutionResult{
		Success: false,
		Error:   &models.ExecutionError{Code: code, Message: message},
	})
}

// Cancel moves a non-terminal execution to cancelled. The walker observes
// it between node steps.
func (m *Manager) Cancel(ctx context.Context, executionID, reason string) (*models.Execution, error) {
	if reason == "" {
		reason = "cancelled by request"
	}

	execution, err := m.UpdateProgress(ctx, executionID, func(e *models.Execution) error {
		now := m.now()
		e.Status = models.ExecutionStatusCancelled
		e.CompletedAt = &now
		e.Suspended = nil
		e.Result = &models.ExecutionResult{
			Success: false,
			Error:   &models.ExecutionError{Code: models.ErrorCodeCancelled, Message: reason},
		}

		if e.StartedAt != nil {
			e.Metrics.TotalDurationMs = now.Sub(*e.StartedAt).Milliseconds()
		}

		return nil
	})
	if err != nil {
		return execution, err
	}

	m.Log(ctx, executionID, "", models.LogLevelWarn, "execution.cancelled", reason, nil)
	m.publish(ctx, execution, events.ExecutionCancelledEvent, nil)

	return execution, nil
}

func (m *Manager) publish(ctx context.Context, execution *models.Execution, eventType events.EventType, resumeAt *time.Time) {
	if m.publisher == nil || eventType == "" {
		return
	}

	event := events.ExecutionTransition{
		BaseEvent:   events.NewBaseEvent(eventType, execution.WorkflowID),
		ExecutionID: execution.ID,
		Status:      execution.Status,
		TriggerType: execution.Trigger.Type,
		DurationMs:  execution.Metrics.TotalDurationMs,
		ResumeAt:    resumeAt,
	}
	event.OrgID = execution.OrgID

	if execution.Result != nil {
		event.Error = execution.Result.Error
	}

	err := m.publisher.Publish(ctx, execution.ID, event)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to publish execution event",
			"execution_id", execution.ID, "event_type", eventType, "error", err)
	}
}

// PublishNode announces a node outcome.
func (m *Manager) PublishNode(ctx context.Context, execution *models.Execution, node *models.Node, duration time.Duration, nodeErr error) {
	if m.publisher == nil {
		return
	}

	eventType := events.NodeCompletedEvent
	message := ""

	if nodeErr != nil {
		eventType = events.NodeFailedEvent
		message = nodeErr.Error()
	}

	event := events.NodeFinished{
		BaseEvent:   events.NewBaseEvent(eventType, execution.WorkflowID),
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		DurationMs:  duration.Milliseconds(),
		Error:       message,
	}
	event.OrgID = execution.OrgID

	err := m.publisher.Publish(ctx, execution.ID, event)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to publish node event",
			"execution_id", execution.ID, "node_id", node.ID, "error", err)
	}
}

// Package events defines event types and structures for execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
)

type EventType string

// Topic carries every lifecycle event.
const Topic = "netpad.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow definition events.
	WorkflowPublishedEvent EventType = "workflow.published"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"

	// Node events.
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"

	// Queue events.
	JobFailedEvent EventType = "job.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	OrgID      string         `json:"org_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a new event of the given type.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

type WorkflowPublished struct {
	BaseEvent

	Version int `json:"version"`
}

func (w WorkflowPublished) GetType() EventType {
	return WorkflowPublishedEvent
}

// ExecutionTransition reports a change of execution status. The concrete
// event type is carried in BaseEvent.Type.
type ExecutionTransition struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	TriggerType models.TriggerKind     `json:"trigger_type,omitempty"`
	Error       *models.ExecutionError `json:"error,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	ResumeAt    *time.Time             `json:"resume_at,omitempty"`
}

func (e ExecutionTransition) GetType() EventType {
	return e.Type
}

// ExecutionEventType maps a status to the event announcing it.
func ExecutionEventType(status models.ExecutionStatus) EventType {
	switch status {
	case models.ExecutionStatusRunning:
		return ExecutionStartedEvent
	case models.ExecutionStatusCompleted:
		return ExecutionCompletedEvent
	case models.ExecutionStatusFailed:
		return ExecutionFailedEvent
	case models.ExecutionStatusCancelled:
		return ExecutionCancelledEvent
	case models.ExecutionStatusPaused:
		return ExecutionPausedEvent
	default:
		return ""
	}
}

// NodeFinished reports the outcome of one node.
type NodeFinished struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id"`
	NodeType    models.NodeKind `json:"node_type"`
	DurationMs  int64           `json:"duration_ms"`
	Error       string          `json:"error,omitempty"`
}

func (n NodeFinished) GetType() EventType {
	return n.Type
}

// JobFailed is published when a job exhausts its attempts.
type JobFailed struct {
	BaseEvent

	JobID       string `json:"job_id"`
	ExecutionID string `json:"execution_id"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error"`
}

func (j JobFailed) GetType() EventType {
	return JobFailedEvent
}

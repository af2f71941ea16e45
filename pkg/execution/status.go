package execution

import (
	"context"
	"slices"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
)

// StatusTrigger is the public part of a trigger: the kind only. Payloads
// and source metadata can carry tokens or personal data.
type StatusTrigger struct {
	Type models.TriggerKind `json:"type"`
}

// StatusMetrics are the execution metrics in the public document.
type StatusMetrics struct {
	TotalDurationMs int64 `json:"totalDurationMs"`
	NodesExecuted   int   `json:"nodesExecuted"`
}

// StatusSkip is a node the walk decided not to run.
type StatusSkip struct {
	NodeID string            `json:"nodeId"`
	Reason models.SkipReason `json:"reason"`
}

// StatusLog is a log entry without internal bookkeeping.
type StatusLog struct {
	NodeID    string          `json:"nodeId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Level     models.LogLevel `json:"level"`
	Event     string          `json:"event"`
	Message   string          `json:"message"`
	Data      map[string]any  `json:"data,omitempty"`
}

// StatusView is the sanitized execution returned by the public status
// endpoint. It never carries worker identity, the trigger payload or
// internal node errors.
type StatusView struct {
	ExecutionID    string                  `json:"executionId"`
	WorkflowID     string                  `json:"workflowId"`
	Version        int                     `json:"version"`
	Status         models.ExecutionStatus  `json:"status"`
	Trigger        StatusTrigger           `json:"trigger"`
	CurrentNodeID  string                  `json:"currentNodeId,omitempty"`
	CompletedNodes []string                `json:"completedNodes"`
	FailedNodes    []string                `json:"failedNodes"`
	SkippedNodes   []StatusSkip            `json:"skippedNodes,omitempty"`
	Result         *models.ExecutionResult `json:"result,omitempty"`
	Metrics        StatusMetrics           `json:"metrics"`
	StartedAt      *time.Time              `json:"startedAt,omitempty"`
	CompletedAt    *time.Time              `json:"completedAt,omitempty"`
	Logs           []StatusLog             `json:"logs,omitempty"`
}

// NewStatusView builds the public view of execution.
func NewStatusView(execution *models.Execution) *StatusView {
	view := &StatusView{
		ExecutionID:    execution.ID,
		WorkflowID:     execution.WorkflowID,
		Version:        execution.Version,
		Status:         execution.Status,
		Trigger:        StatusTrigger{Type: execution.Trigger.Type},
		CurrentNodeID:  execution.CurrentNodeID,
		CompletedNodes: slices.Clone(execution.CompletedNodes),
		FailedNodes:    slices.Clone(execution.FailedNodes),
		Metrics:        StatusMetrics(execution.Metrics),
		StartedAt:      execution.StartedAt,
		CompletedAt:    execution.CompletedAt,
	}

	if view.CompletedNodes == nil {
		view.CompletedNodes = []string{}
	}

	if view.FailedNodes == nil {
		view.FailedNodes = []string{}
	}

	for _, skipped := range execution.SkippedNodes {
		view.SkippedNodes = append(view.SkippedNodes, StatusSkip{NodeID: skipped.NodeID, Reason: skipped.Reason})
	}

	if execution.Result != nil {
		result := *execution.Result
		if result.Error != nil {
			result.Error = &models.ExecutionError{
				Code:    result.Error.Code,
				Message: PublicErrorMessage(result.Error.Code),
			}
		}

		view.Result = &result
	}

	return view
}

var publicErrorMessages = map[string]string{
	models.ErrorCodeNodeFailed:       "A workflow node failed",
	models.ErrorCodeTimeout:          "Execution exceeded its time limit",
	models.ErrorCodeCancelled:        "Execution was cancelled",
	models.ErrorCodeRetriesExhausted: "Execution failed after exhausting its retries",
	models.ErrorCodeWorkflowMissing:  "Workflow no longer exists",
	models.ErrorCodeVersionMissing:   "Workflow version is no longer available",
	models.ErrorCodeInternal:         "Internal error",
}

// PublicErrorMessage is the caller-facing text for an error code. Node
// errors can embed resolved configuration, so their raw text stays in the
// internal record.
func PublicErrorMessage(code string) string {
	if message, ok := publicErrorMessages[code]; ok {
		return message
	}

	return "Execution failed"
}

// Events whose stored message is raw error or caller text.
var publicLogMessages = map[string]string{
	"node.failed":         "Node failed",
	"execution.failed":    "Execution failed",
	"execution.cancelled": "Execution cancelled",
}

var publicLogData = map[string]bool{
	"code":       true,
	"durationMs": true,
	"edges":      true,
	"reason":     true,
	"resumeAt":   true,
	"retryable":  true,
}

// NewStatusLog strips a log entry down to what the public status endpoint
// may show.
func NewStatusLog(entry *models.ExecutionLog) StatusLog {
	message := entry.Message
	if replacement, ok := publicLogMessages[entry.Event]; ok {
		message = replacement
	}

	var data map[string]any
	for key, value := range entry.Data {
		if !publicLogData[key] {
			continue
		}

		if data == nil {
			data = map[string]any{}
		}

		data[key] = value
	}

	return StatusLog{
		NodeID:    entry.NodeID,
		Timestamp: entry.Timestamp,
		Level:     entry.Level,
		Event:     entry.Event,
		Message:   message,
		Data:      data,
	}
}

// Status returns the sanitized view of an execution, with its ordered
// log when withLogs is set. It only reads, so repeated calls for a
// terminal execution return identical documents.
func (m *Manager) Status(ctx context.Context, executionID string, withLogs bool) (*StatusView, error) {
	execution, err := m.executions.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	view := NewStatusView(execution)

	if !withLogs {
		return view, nil
	}

	entries, err := m.logs.List(ctx, executionID)
	if err != nil {
		return nil, err
	}

	view.Logs = make([]StatusLog, 0, len(entries))
	for _, entry := range entries {
		view.Logs = append(view.Logs, NewStatusLog(entry))
	}

	return view, nil
}

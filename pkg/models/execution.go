package models

import (
	"slices"
	"time"
)

// ExecutionStatus is the user-visible state of a run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// Error codes recorded on execution results.
const (
	ErrorCodeNodeFailed       = "NODE_FAILED"
	ErrorCodeTimeout          = "EXECUTION_TIMEOUT"
	ErrorCodeCancelled        = "EXECUTION_CANCELLED"
	ErrorCodeRetriesExhausted = "RETRIES_EXHAUSTED"
	ErrorCodeWorkflowMissing  = "WORKFLOW_NOT_FOUND"
	ErrorCodeVersionMissing   = "WORKFLOW_VERSION_NOT_FOUND"
	ErrorCodeInternal         = "INTERNAL_ERROR"
)

// ExecutionError is the structured failure exposed to callers.
type ExecutionError struct {
	Code    string `json:"code" bson:"code"`
	Message string `json:"message" bson:"message"`
}

// ExecutionResult is the outcome of a terminal execution.
type ExecutionResult struct {
	Success bool            `json:"success" bson:"success"`
	Output  map[string]any  `json:"output,omitempty" bson:"output,omitempty"`
	Error   *ExecutionError `json:"error,omitempty" bson:"error,omitempty"`
}

// ExecutionMetrics holds timing information for a run.
type ExecutionMetrics struct {
	TotalDurationMs int64 `json:"total_duration_ms" bson:"total_duration_ms"`
	NodesExecuted   int   `json:"nodes_executed" bson:"nodes_executed"`
}

// Execution is one run of a workflow in response to a trigger.
type Execution struct {
	ID             string               `json:"execution_id" bson:"_id"`
	WorkflowID     string               `json:"workflow_id" bson:"workflow_id"`
	OrgID          string               `json:"org_id" bson:"org_id"`
	Version        int                  `json:"version" bson:"version"`
	Status         ExecutionStatus      `json:"status" bson:"status"`
	Trigger        Trigger              `json:"trigger" bson:"trigger"`
	CurrentNodeID  string               `json:"current_node_id,omitempty" bson:"current_node_id,omitempty"`
	CompletedNodes []string             `json:"completed_nodes" bson:"completed_nodes"`
	FailedNodes    []string             `json:"failed_nodes" bson:"failed_nodes"`
	SkippedNodes   []SkippedNode        `json:"skipped_nodes,omitempty" bson:"skipped_nodes,omitempty"`
	TakenEdges     []string             `json:"taken_edges,omitempty" bson:"taken_edges,omitempty"`
	Suspended      map[string]time.Time `json:"suspended,omitempty" bson:"suspended,omitempty"`
	Context        map[string]any       `json:"context,omitempty" bson:"context,omitempty"`
	NodeErrors     map[string]string    `json:"node_errors,omitempty" bson:"node_errors,omitempty"`
	Result         *ExecutionResult     `json:"result,omitempty" bson:"result,omitempty"`
	Metrics        ExecutionMetrics     `json:"metrics" bson:"metrics"`
	Revision       int64                `json:"revision" bson:"revision"`
	StartedAt      *time.Time           `json:"started_at,omitempty" bson:"started_at,omitempty"`
	ResumedAt      *time.Time           `json:"resumed_at,omitempty" bson:"resumed_at,omitempty"`
	AttemptedAt    *time.Time           `json:"attempted_at,omitempty" bson:"attempted_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at" bson:"updated_at"`
}

// NewExecution creates a pending execution for the given workflow version.
func NewExecution(id string, workflow *Workflow, trigger Trigger, now time.Time) *Execution {
	return &Execution{
		ID:             id,
		WorkflowID:     workflow.ID,
		OrgID:          workflow.OrgID,
		Version:        workflow.Version,
		Status:         ExecutionStatusPending,
		Trigger:        trigger,
		CompletedNodes: []string{},
		FailedNodes:    []string{},
		Context:        map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NodeDecided reports whether the node already has a recorded outcome.
func (e *Execution) NodeDecided(nodeID string) bool {
	if slices.Contains(e.CompletedNodes, nodeID) || slices.Contains(e.FailedNodes, nodeID) {
		return true
	}

	for _, skipped := range e.SkippedNodes {
		if skipped.NodeID == nodeID {
			return true
		}
	}

	return false
}

// Clone returns a deep-enough copy for optimistic read-modify-write cycles.
func (e *Execution) Clone() *Execution {
	clone := *e
	clone.CompletedNodes = slices.Clone(e.CompletedNodes)
	clone.FailedNodes = slices.Clone(e.FailedNodes)
	clone.SkippedNodes = slices.Clone(e.SkippedNodes)
	clone.TakenEdges = slices.Clone(e.TakenEdges)

	if e.Suspended != nil {
		clone.Suspended = make(map[string]time.Time, len(e.Suspended))
		for k, v := range e.Suspended {
			clone.Suspended[k] = v
		}
	}

	if e.Context != nil {
		clone.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			clone.Context[k] = v
		}
	}

	if e.NodeErrors != nil {
		clone.NodeErrors = make(map[string]string, len(e.NodeErrors))
		for k, v := range e.NodeErrors {
			clone.NodeErrors[k] = v
		}
	}

	if e.Result != nil {
		result := *e.Result
		clone.Result = &result
	}

	return &clone
}

// LogLevel is the severity of an execution log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ExecutionLog is an append-only log entry for one execution.
type ExecutionLog struct {
	ExecutionID string         `json:"execution_id" bson:"execution_id"`
	Sequence    int64          `json:"sequence" bson:"sequence"`
	NodeID      string         `json:"node_id,omitempty" bson:"node_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp" bson:"timestamp"`
	Level       LogLevel       `json:"level" bson:"level"`
	Event       string         `json:"event" bson:"event"`
	Message     string         `json:"message" bson:"message"`
	Data        map[string]any `json:"data,omitempty" bson:"data,omitempty"`
}

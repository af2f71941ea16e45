// Package web provides the HTTP surface of the workflow engine: the
// internal management API, the public execution API and webhooks.
package web

import (
	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/worker"
)

// TriggerRequest is the body of an internal trigger.
type TriggerRequest struct {
	Type    models.TriggerKind `json:"type"    validate:"omitempty,oneof=manual form_submission"`
	Payload map[string]any     `json:"payload"`
}

// ExecuteRequest is the body of a public execution request.
type ExecuteRequest struct {
	Token   string         `json:"token,omitempty"`
	Payload map[string]any `json:"payload"`
}

// CancelExecutionRequest is the optional body of an execution cancel.
type CancelExecutionRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// CancelExecutionResponse reports the cancelled execution and how many of
// its queued jobs were cancelled with it.
type CancelExecutionResponse struct {
	Execution     *execution.StatusView `json:"execution"`
	CancelledJobs int                   `json:"cancelledJobs"`
}

// TokenResponse carries a freshly rotated execution token. The plaintext
// is only ever returned here.
type TokenResponse struct {
	WorkflowID string `json:"workflowId"`
	Token      string `json:"token"`
}

// ProcessResponse is the result of one worker batch.
type ProcessResponse struct {
	Processed  int                `json:"processed"`
	Results    []worker.JobResult `json:"results"`
	DurationMs int64              `json:"durationMs"`
}

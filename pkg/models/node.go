// Package models defines core node-based workflow models for graph execution
package models

import (
	"time"
)

// NodeKind tags a node with the executor that runs it.
type NodeKind string

const (
	NodeKindTrigger     NodeKind = "trigger"
	NodeKindConditional NodeKind = "conditional"
	NodeKindDelay       NodeKind = "delay"
	NodeKindTransform   NodeKind = "transform"
	NodeKindFilter      NodeKind = "filter"
	NodeKindMerge       NodeKind = "merge"
	NodeKindHTTPRequest NodeKind = "http_request"
	NodeKindMessageSend NodeKind = "message_send"
	NodeKindDataQuery   NodeKind = "data_query"
	NodeKindDataWrite   NodeKind = "data_write"
	NodeKindAI          NodeKind = "ai"
)

// NodeKinds returns the closed set of node kinds the engine understands.
func NodeKinds() []NodeKind {
	return []NodeKind{
		NodeKindTrigger,
		NodeKindConditional,
		NodeKindDelay,
		NodeKindTransform,
		NodeKindFilter,
		NodeKindMerge,
		NodeKindHTTPRequest,
		NodeKindMessageSend,
		NodeKindDataQuery,
		NodeKindDataWrite,
		NodeKindAI,
	}
}

// DefaultHandle marks the edge followed when no other branch matches.
const DefaultHandle = "default"

// Node represents a node instance in a workflow.
type Node struct {
	ID     string         `json:"id"      validate:"required" bson:"id"`
	Type   NodeKind       `json:"type"    validate:"required" bson:"type"`
	Name   string         `json:"name" bson:"name"`
	Config map[string]any `json:"config" bson:"config"`
	// Disabled nodes pass through as successes with empty output.
	Disabled bool `json:"disabled,omitempty" bson:"disabled,omitempty"`
}

// Edge connects two nodes, optionally guarded by a condition expression.
type Edge struct {
	ID           string `json:"id" bson:"id"`
	Source       string `json:"source"                  validate:"required" bson:"source"`
	Target       string `json:"target"                  validate:"required" bson:"target"`
	SourceHandle string `json:"source_handle,omitempty" bson:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty" bson:"target_handle,omitempty"`
	Condition    string `json:"condition,omitempty" bson:"condition,omitempty"`
}

// IsDefault reports whether the edge is the designated default branch.
func (e *Edge) IsDefault() bool {
	return e.SourceHandle == DefaultHandle
}

// NodeStatus defines the possible states of a node inside one execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusSuccess   NodeStatus = "success"
	NodeStatusError     NodeStatus = "error"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusSuspended NodeStatus = "suspended"
)

// SkipReason explains why a node was not executed.
type SkipReason string

const (
	SkipReasonBranchNotTaken   SkipReason = "branch_not_taken"
	SkipReasonDependencyFailed SkipReason = "dependency_failed"
	SkipReasonInactiveTrigger  SkipReason = "inactive_trigger"
)

// SkippedNode records a node the walker decided not to run.
type SkippedNode struct {
	NodeID string     `json:"node_id" bson:"node_id"`
	Reason SkipReason `json:"reason" bson:"reason"`
}

// NodeResult represents the result of a node execution.
type NodeResult struct {
	NodeID     string         `json:"node_id" bson:"node_id"`
	Data       map[string]any `json:"data" bson:"data"`
	Status     NodeStatus     `json:"status" bson:"status"`
	Branch     string         `json:"branch,omitempty" bson:"branch,omitempty"`
	ResumeAt   *time.Time     `json:"resume_at,omitempty" bson:"resume_at,omitempty"`
	DurationMs int64          `json:"duration_ms" bson:"duration_ms"`
	Error      string         `json:"error,omitempty" bson:"error,omitempty"`
	Retryable  bool           `json:"retryable,omitempty" bson:"retryable,omitempty"`
}

// TriggerKind returns the firing kind a trigger node roots, or "" for any.
func (n *Node) TriggerKind() TriggerKind {
	if n.Type != NodeKindTrigger {
		return ""
	}

	kind, _ := n.Config["triggerKind"].(string)

	return TriggerKind(kind)
}

// Key identifies the edge within its workflow, falling back to its
// endpoints when no id was assigned.
func (e *Edge) Key() string {
	if e.ID != "" {
		return e.ID
	}

	return e.Source + "->" + e.Target + ":" + e.SourceHandle
}

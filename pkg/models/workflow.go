// Package models defines the core domain models for node-based workflow automation
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Published, accepts triggers
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Published, triggers rejected
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, not executable
)

// Workflow is a versioned node/edge graph describing an automation.
type Workflow struct {
	ID                   string         `json:"id" bson:"_id"`
	OrgID                string         `json:"org_id"                 validate:"required" bson:"org_id"`
	Name                 string         `json:"name"                   validate:"required,min=3" bson:"name"`
	Description          string         `json:"description" bson:"description"`
	Status               WorkflowStatus `json:"status"                 validate:"required" bson:"status"`
	Version              int            `json:"version" bson:"version"`
	Nodes                []*Node        `json:"nodes"                  validate:"dive" bson:"nodes"`
	Edges                []*Edge        `json:"edges"                  validate:"dive" bson:"edges"`
	Settings             Settings       `json:"settings" bson:"settings"`
	Variables            map[string]any `json:"variables,omitempty" bson:"variables,omitempty"`
	AllowPublicExecution bool           `json:"allow_public_execution" bson:"allow_public_execution"`
	ExecutionTokenHash   string         `json:"-" bson:"execution_token_hash,omitempty"`
	CreatedAt            time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at" bson:"updated_at"`
	PublishedAt          *time.Time     `json:"published_at,omitempty" bson:"published_at,omitempty"`
}

// IsActive reports whether the workflow accepts triggers.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// NodeByID returns the node with the given id.
func (w *Workflow) NodeByID(id string) (*Node, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// TriggerNodes returns every trigger-kind node in definition order.
func (w *Workflow) TriggerNodes() []*Node {
	var triggers []*Node

	for _, node := range w.Nodes {
		if node.Type == NodeKindTrigger {
			triggers = append(triggers, node)
		}
	}

	return triggers
}

// RequiresExecutionToken reports whether public callers must present a token.
func (w *Workflow) RequiresExecutionToken() bool {
	return w.ExecutionTokenHash != ""
}

// RootsFor returns the trigger nodes that root an execution fired by kind.
// A trigger node without a triggerKind accepts every kind.
func (w *Workflow) RootsFor(kind TriggerKind) []*Node {
	var roots []*Node

	for _, node := range w.TriggerNodes() {
		nodeKind := node.TriggerKind()
		if nodeKind == "" || nodeKind == kind {
			roots = append(roots, node)
		}
	}

	return roots
}

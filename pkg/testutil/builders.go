// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
)

// CreateTestNode creates a node of the given kind.
func CreateTestNode(id string, kind models.NodeKind, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:     id,
		Type:   kind,
		Name:   "Test " + string(kind),
		Config: map[string]any{},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Config = config
	}
}

// WithTriggerKind restricts a trigger node to one firing kind.
func WithTriggerKind(kind models.TriggerKind) func(*models.Node) {
	return func(n *models.Node) {
		n.Config["triggerKind"] = string(kind)
	}
}

// WithDisabled marks the node disabled.
func WithDisabled() func(*models.Node) {
	return func(n *models.Node) {
		n.Disabled = true
	}
}

// CreateTestEdge connects source to target.
func CreateTestEdge(source, target string, overrides ...func(*models.Edge)) *models.Edge {
	edge := &models.Edge{
		ID:     source + "-" + target,
		Source: source,
		Target: target,
	}

	for _, override := range overrides {
		override(edge)
	}

	return edge
}

// WithCondition guards the edge with a condition.
func WithCondition(condition string) func(*models.Edge) {
	return func(e *models.Edge) {
		e.Condition = condition
	}
}

// WithHandle sets the edge source handle.
func WithHandle(handle string) func(*models.Edge) {
	return func(e *models.Edge) {
		e.SourceHandle = handle
	}
}

// CreateTestWorkflow creates an active workflow holding one trigger node.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	workflow := &models.Workflow{
		ID:        uuid.New().String(),
		OrgID:     "org-1",
		Name:      "Test Workflow",
		Status:    models.WorkflowStatusActive,
		Version:   1,
		Nodes:     []*models.Node{CreateTestNode("trigger", models.NodeKindTrigger)},
		Edges:     []*models.Edge{},
		Variables: map[string]any{"env": "test"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithNodes appends nodes after the trigger.
func WithNodes(nodes ...*models.Node) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Nodes = append(w.Nodes, nodes...)
	}
}

// WithEdges appends edges.
func WithEdges(edges ...*models.Edge) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Edges = append(w.Edges, edges...)
	}
}

// WithSettings replaces the workflow settings.
func WithSettings(settings models.Settings) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Settings = settings
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithPublicExecution allows public callers, optionally behind a token hash.
func WithPublicExecution(tokenHash string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.AllowPublicExecution = true
		w.ExecutionTokenHash = tokenHash
	}
}

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

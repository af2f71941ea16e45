// Package nodes defines the contract every node kind implements and the
// helpers shared by the built-in executors.
package nodes

import (
	"context"
	"log/slog"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/expression"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
)

// Executor runs one node kind. Validate is called at publish time with the
// raw configuration; Execute at run time with the resolved one.
type Executor interface {
	Kind() models.NodeKind
	Name() string
	Description() string
	// Schema returns the JSON schema for the node configuration.
	Schema() map[string]any
	Validate(config map[string]any) error
	Execute(ctx context.Context, in Input) (Output, error)
}

// InputRequirer is implemented by executors whose configuration keys must
// resolve to a non-empty value before Execute is called.
type InputRequirer interface {
	RequiredInputs() []string
}

// RawConfigKeeper is implemented by executors that evaluate some config
// keys themselves (per item, per branch) and need them left unresolved.
type RawConfigKeeper interface {
	RawKeys() []string
}

// Meta identifies the run a node executes in.
type Meta struct {
	ExecutionID string
	WorkflowID  string
	OrgID       string
	Attempt     int
}

// Input is everything an executor may read.
type Input struct {
	Node *models.Node
	// Config is the node configuration after reference resolution.
	Config map[string]any
	Scope  expression.Scope
	// Upstream holds the outputs of the node's direct predecessors that
	// completed, keyed by node id.
	Upstream map[string]any
	// UpstreamOrder lists the Upstream keys in completion order.
	UpstreamOrder []string
	Trigger       models.Trigger
	Meta          Meta
	// ResumedAt is set when a previously suspended node is re-entered.
	ResumedAt *time.Time
	Logger    *slog.Logger
	Now       func() time.Time
}

// Clock returns the input clock, defaulting to time.Now.
func (in Input) Clock() time.Time {
	if in.Now != nil {
		return in.Now()
	}

	return time.Now()
}

// Suspend asks the walker to pause the execution until ResumeAt.
type Suspend struct {
	ResumeAt time.Time
}

// Output is the result of a successful node execution.
type Output struct {
	Data map[string]any
	// Branch selects the outgoing source handle for routing nodes.
	Branch  string
	Suspend *Suspend
}

// ResolveConfig renders every {{ }} reference in config against scope,
// leaving the executor's raw keys untouched.
func ResolveConfig(executor Executor, config map[string]any, scope expression.Scope) (map[string]any, error) {
	keeper, ok := executor.(RawConfigKeeper)
	if !ok {
		return expression.ResolveConfig(config, scope)
	}

	raw := map[string]any{}
	rest := make(map[string]any, len(config))

	for k, v := range config {
		rest[k] = v
	}

	for _, key := range keeper.RawKeys() {
		if v, exists := rest[key]; exists {
			raw[key] = v
			delete(rest, key)
		}
	}

	resolved, err := expression.ResolveConfig(rest, scope)
	if err != nil {
		return nil, err
	}

	for k, v := range raw {
		resolved[k] = v
	}

	return resolved, nil
}

// CheckRequired applies the executor's required inputs to resolved config.
func CheckRequired(executor Executor, resolved map[string]any) error {
	requirer, ok := executor.(InputRequirer)
	if !ok {
		return nil
	}

	err := expression.RequiredPaths(resolved, requirer.RequiredInputs()...)
	if err != nil {
		return Terminal(err)
	}

	return nil
}

// Package conditional provides the branching node. Routing itself is driven
// by the outgoing edges' conditions; the node can additionally select a
// branch handle from its own condition or from an ordered list of cases.
package conditional

import (
	"context"
	"fmt"

	"github.com/mrlynn/netpad-v3-sub010/pkg/expression"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// Node evaluates branch conditions against the execution scope.
type Node struct{}

// New creates the conditional executor.
func New() *Node {
	return &Node{}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindConditional }
func (n *Node) Name() string          { return "Conditional" }

func (n *Node) Description() string {
	return "Routes execution to the outgoing edges whose condition holds, or to the default branch"
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"description": "Boolean expression; selects the 'true' or 'false' handle",
				"examples":    []string{`urgency == "critical"`, `{{gt(order.total, 100)}}`},
			},
			"cases": map[string]any{
				"type":        "array",
				"description": "Ordered cases; the first match selects its handle, otherwise 'default'",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"handle":    map[string]any{"type": "string", "minLength": 1},
						"condition": map[string]any{"type": "string", "minLength": 1},
					},
					"required": []string{"handle", "condition"},
				},
			},
		},
	}
}

// RawKeys keeps conditions unresolved; they are evaluated here.
func (n *Node) RawKeys() []string {
	return []string{"condition", "cases"}
}

func (n *Node) Validate(config map[string]any) error {
	err := nodes.ValidateSchema(n.Schema(), config)
	if err != nil {
		return err
	}

	if condition := nodes.String(config, "condition", ""); condition != "" {
		if err := expression.CheckCondition(condition); err != nil {
			return nodes.InvalidConfig("condition: %v", err)
		}
	}

	for i, c := range cases(config) {
		if err := expression.CheckCondition(c.condition); err != nil {
			return nodes.InvalidConfig("cases[%d]: %v", i, err)
		}
	}

	return nil
}

func (n *Node) Execute(_ context.Context, in nodes.Input) (nodes.Output, error) {
	if list := cases(in.Config); len(list) > 0 {
		for _, c := range list {
			ok, err := expression.EvalCondition(c.condition, in.Scope)
			if err != nil {
				return nodes.Output{}, nodes.Terminal(fmt.Errorf("case %q: %w", c.handle, err))
			}

			if ok {
				return nodes.Output{Data: map[string]any{"matched": c.handle}, Branch: c.handle}, nil
			}
		}

		return nodes.Output{Data: map[string]any{"matched": models.DefaultHandle}, Branch: models.DefaultHandle}, nil
	}

	condition := nodes.String(in.Config, "condition", "")
	if condition == "" {
		return nodes.Output{Data: map[string]any{}}, nil
	}

	result, err := expression.EvalCondition(condition, in.Scope)
	if err != nil {
		return nodes.Output{}, nodes.Terminal(fmt.Errorf("condition: %w", err))
	}

	branch := BranchFalse
	if result {
		branch = BranchTrue
	}

	return nodes.Output{Data: map[string]any{"result": result}, Branch: branch}, nil
}

type branchCase struct {
	handle    string
	condition string
}

func cases(config map[string]any) []branchCase {
	raw, ok := config["cases"].([]any)
	if !ok {
		return nil
	}

	out := make([]branchCase, 0, len(raw))

	for _, item := range raw {
		m, isMap := item.(map[string]any)
		if !isMap {
			continue
		}

		out = append(out, branchCase{
			handle:    nodes.String(m, "handle", ""),
			condition: nodes.String(m, "condition", ""),
		})
	}

	return out
}

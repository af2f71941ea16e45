// Package transform provides the data transformation node.
package transform

import (
	"context"
	"fmt"

	"github.com/mrlynn/netpad-v3-sub010/pkg/expression"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

// Node reshapes upstream data.
type Node struct{}

// New creates the transform executor.
func New() *Node {
	return &Node{}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindTransform }
func (n *Node) Name() string          { return "Transform" }

func (n *Node) Description() string {
	return "Builds a new object from references to the trigger payload and upstream node outputs"
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fields": map[string]any{
				"type":        "object",
				"description": "Output fields; string values may contain {{ }} references",
				"examples": []map[string]any{
					{"fullName": "{{fetch-user.json.first}} {{fetch-user.json.last}}", "total": "{{order.total}}"},
				},
			},
			"expression": map[string]any{
				"type":        "string",
				"description": "Single expression whose value becomes the 'result' field",
				"examples":    []string{`upper(customer.name)`, `{{default(order.note, "none")}}`},
			},
		},
		"anyOf": []any{
			map[string]any{"required": []string{"fields"}},
			map[string]any{"required": []string{"expression"}},
		},
	}
}

// RawKeys keeps the bare expression for evaluation here.
func (n *Node) RawKeys() []string {
	return []string{"expression"}
}

func (n *Node) Validate(config map[string]any) error {
	err := nodes.ValidateSchema(n.Schema(), config)
	if err != nil {
		return err
	}

	if expr := nodes.String(config, "expression", ""); expr != "" {
		if err := expression.CheckCondition(expr); err != nil {
			return nodes.InvalidConfig("expression: %v", err)
		}
	}

	return nil
}

func (n *Node) Execute(_ context.Context, in nodes.Input) (nodes.Output, error) {
	data := map[string]any{}

	for k, v := range nodes.Map(in.Config, "fields") {
		data[k] = v
	}

	if src := nodes.String(in.Config, "expression", ""); src != "" {
		result, err := evaluate(src, in.Scope)
		if err != nil {
			return nodes.Output{}, nodes.Terminal(fmt.Errorf("transformation failed: %w", err))
		}

		data["result"] = result
	}

	return nodes.Output{Data: data}, nil
}

func evaluate(src string, scope expression.Scope) (any, error) {
	if expression.HasReferences(src) {
		return expression.Resolve(src, scope)
	}

	expr, err := expression.Compile(src)
	if err != nil {
		return nil, err
	}

	return expr.Eval(scope)
}

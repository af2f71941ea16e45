// Package filter provides the node that keeps the elements of a list that
// satisfy a condition.
package filter

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mrlynn/netpad-v3-sub010/pkg/expression"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

// Node filters a list.
type Node struct{}

// New creates the filter executor.
func New() *Node {
	return &Node{}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindFilter }
func (n *Node) Name() string          { return "Filter" }

func (n *Node) Description() string {
	return "Keeps the list elements for which the condition holds; each element is bound to 'item'"
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type":        []string{"string", "array"},
				"description": "Reference to the list to filter",
				"examples":    []string{"{{fetch-orders.json.orders}}"},
			},
			"condition": map[string]any{
				"type":        "string",
				"description": "Condition evaluated per element with 'item' and 'index' bound",
				"examples":    []string{`item.status == "open"`},
			},
			"limit": map[string]any{
				"type":    []string{"number", "string"},
				"minimum": 0,
			},
		},
		"required": []string{"items", "condition"},
	}
}

// RawKeys keeps the per-item condition unresolved.
func (n *Node) RawKeys() []string {
	return []string{"condition"}
}

func (n *Node) Validate(config map[string]any) error {
	err := nodes.ValidateSchema(n.Schema(), config)
	if err != nil {
		return err
	}

	if err := expression.CheckCondition(nodes.String(config, "condition", "")); err != nil {
		return nodes.InvalidConfig("condition: %v", err)
	}

	return nil
}

func (n *Node) Execute(_ context.Context, in nodes.Input) (nodes.Output, error) {
	items, err := asList(in.Config["items"])
	if err != nil {
		return nodes.Output{}, nodes.Terminal(err)
	}

	limit, err := nodes.Int(in.Config, "limit", 0)
	if err != nil {
		return nodes.Output{}, err
	}

	condition := nodes.String(in.Config, "condition", "")
	kept := []any{}

	for i, item := range items {
		scope := in.Scope.With("item", item).With("index", float64(i))

		ok, err := expression.EvalCondition(condition, scope)
		if err != nil {
			return nodes.Output{}, nodes.Terminal(fmt.Errorf("item %d: %w", i, err))
		}

		if !ok {
			continue
		}

		kept = append(kept, item)

		if limit > 0 && len(kept) >= limit {
			break
		}
	}

	return nodes.Output{Data: map[string]any{"items": kept, "count": float64(len(kept))}}, nil
}

func asList(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}

		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: items must resolve to a list, got %T", nodes.ErrInvalidConfig, v)
	}

	out := make([]any, rv.Len())
	for i := range rv.Len() {
		out[i] = rv.Index(i).Interface()
	}

	return out, nil
}

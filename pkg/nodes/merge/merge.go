// Package merge provides the node that joins multiple execution paths.
package merge

import (
	"context"
	"maps"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
)

const (
	ModeAll   = "all"
	ModeFirst = "first"
)

// Node combines upstream outputs. The walker only runs it once every
// inbound branch is decided, so it never waits itself.
type Node struct{}

// New creates the merge executor.
func New() *Node {
	return &Node{}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindMerge }
func (n *Node) Name() string          { return "Merge" }

func (n *Node) Description() string {
	return "Joins parallel branches and combines the outputs of the branches that ran"
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{
				"type":        "string",
				"description": "'all' merges every upstream output, 'first' keeps the earliest completed one",
				"enum":        []string{ModeAll, ModeFirst},
				"default":     ModeAll,
			},
		},
	}
}

func (n *Node) Validate(config map[string]any) error {
	return nodes.ValidateSchema(n.Schema(), config)
}

func (n *Node) Execute(_ context.Context, in nodes.Input) (nodes.Output, error) {
	order := in.UpstreamOrder
	if len(order) == 0 {
		for id := range in.Upstream {
			order = append(order, id)
		}
	}

	if nodes.String(in.Config, "mode", ModeAll) == ModeFirst && len(order) > 1 {
		order = order[:1]
	}

	inputs := make(map[string]any, len(order))
	merged := map[string]any{}
	received := make([]any, 0, len(order))

	for _, id := range order {
		data, ok := in.Upstream[id]
		if !ok {
			continue
		}

		inputs[id] = data
		received = append(received, id)

		if m, isMap := data.(map[string]any); isMap {
			maps.Copy(merged, m)
		}
	}

	return nodes.Output{Data: map[string]any{
		"merged":   merged,
		"inputs":   inputs,
		"received": received,
	}}, nil
}

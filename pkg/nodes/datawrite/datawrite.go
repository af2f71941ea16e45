// Package datawrite provides the node that inserts or updates documents in
// the organization's document store.
package datawrite

import (
	"context"
	"fmt"
	"maps"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/dataquery"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

const (
	OperationInsert = "insert"
	OperationUpdate = "update"
)

// Metadata fields stamped on written documents.
const (
	FieldExecutionID = "_executionId"
	FieldWorkflowID  = "_workflowId"
)

type Node struct {
	store persistence.DocumentStore
}

func New(store persistence.DocumentStore) *Node {
	return &Node{store: store}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindDataWrite }
func (n *Node) Name() string          { return "Write Data" }

func (n *Node) Description() string {
	return "Inserts a document or updates the first document matching a filter"
}

func (n *Node) RequiredInputs() []string {
	return []string{"collection", "document"}
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"collection": map[string]any{"type": "string", "minLength": 1},
			"operation": map[string]any{
				"type":    "string",
				"enum":    []string{OperationInsert, OperationUpdate},
				"default": OperationInsert,
			},
			"document": map[string]any{"type": []string{"object", "string"}},
			"filter":   map[string]any{"type": "object"},
		},
		"required": []string{"collection", "document"},
	}
}

func (n *Node) Validate(config map[string]any) error {
	err := nodes.ValidateSchema(n.Schema(), config)
	if err != nil {
		return err
	}

	if nodes.String(config, "operation", OperationInsert) == OperationUpdate && len(nodes.Map(config, "filter")) == 0 {
		return nodes.InvalidConfig("update requires a non-empty filter")
	}

	return nil
}

func (n *Node) Execute(ctx context.Context, in nodes.Input) (nodes.Output, error) {
	if n.store == nil {
		return nodes.Output{}, nodes.Terminal(fmt.Errorf("no document store configured"))
	}

	collection := nodes.String(in.Config, "collection", "")
	if !dataquery.CollectionPattern.MatchString(collection) {
		return nodes.Output{}, nodes.InvalidConfig("invalid collection name %q", collection)
	}

	document := nodes.Map(in.Config, "document")
	if document == nil {
		return nodes.Output{}, nodes.InvalidConfig("document must resolve to an object")
	}

	target := persistence.TenantCollection(in.Meta.OrgID, collection)

	switch op := nodes.String(in.Config, "operation", OperationInsert); op {
	case OperationInsert:
		doc := maps.Clone(document)
		doc[FieldExecutionID] = in.Meta.ExecutionID
		doc[FieldWorkflowID] = in.Meta.WorkflowID

		id, err := n.store.Insert(ctx, target, doc)
		if err != nil {
			return nodes.Output{}, nodes.Retryable(fmt.Errorf("insert into %s: %w", collection, err))
		}

		return nodes.Output{Data: map[string]any{"operation": op, "insertedId": id, "modified": float64(0)}}, nil
	case OperationUpdate:
		filter := nodes.Map(in.Config, "filter")
		if len(filter) == 0 {
			return nodes.Output{}, nodes.InvalidConfig("update requires a non-empty filter")
		}

		modified, err := n.store.UpdateOne(ctx, target, filter, map[string]any{"$set": document})
		if err != nil {
			return nodes.Output{}, nodes.Retryable(fmt.Errorf("update %s: %w", collection, err))
		}

		return nodes.Output{Data: map[string]any{"operation": op, "modified": float64(modified)}}, nil
	default:
		return nodes.Output{}, nodes.InvalidConfig("unknown operation %q", op)
	}
}

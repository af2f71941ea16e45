// Package dataquery provides the node that reads documents from the
// organization's document store.
package dataquery

import (
	"context"
	"fmt"
	"regexp"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// CollectionPattern restricts collection names accepted by data nodes.
var CollectionPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

type Node struct {
	store persistence.DocumentStore
}

func New(store persistence.DocumentStore) *Node {
	return &Node{store: store}
}

func (n *Node) Kind() models.NodeKind { return models.NodeKindDataQuery }
func (n *Node) Name() string          { return "Query Data" }

func (n *Node) Description() string {
	return "Finds documents in a collection using an equality filter"
}

func (n *Node) RequiredInputs() []string {
	return []string{"collection"}
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"collection": map[string]any{"type": "string", "minLength": 1},
			"filter": map[string]any{
				"type":        "object",
				"description": "Field equality filter; values support references",
			},
			"limit": nodes.Templated("integer", map[string]any{"default": defaultLimit}),
		},
		"required": []string{"collection"},
	}
}

func (n *Node) Validate(config map[string]any) error {
	err := nodes.ValidateSchema(n.Schema(), config)
	if err != nil {
		return err
	}

	collection := nodes.String(config, "collection", "")
	if !CollectionPattern.MatchString(collection) && !isReference(collection) {
		return nodes.InvalidConfig("invalid collection name %q", collection)
	}

	return nil
}

func (n *Node) Execute(ctx context.Context, in nodes.Input) (nodes.Output, error) {
	if n.store == nil {
		return nodes.Output{}, nodes.Terminal(fmt.Errorf("no document store configured"))
	}

	collection := nodes.String(in.Config, "collection", "")
	if !CollectionPattern.MatchString(collection) {
		return nodes.Output{}, nodes.InvalidConfig("invalid collection name %q", collection)
	}

	limit, err := nodes.Int(in.Config, "limit", defaultLimit)
	if err != nil {
		return nodes.Output{}, err
	}

	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	docs, err := n.store.Find(ctx, persistence.TenantCollection(in.Meta.OrgID, collection), nodes.Map(in.Config, "filter"), limit)
	if err != nil {
		return nodes.Output{}, nodes.Retryable(fmt.Errorf("query %s: %w", collection, err))
	}

	documents := make([]any, len(docs))
	for i, doc := range docs {
		documents[i] = doc
	}

	var first any
	if len(documents) > 0 {
		first = documents[0]
	}

	return nodes.Output{Data: map[string]any{
		"documents": documents,
		"count":     float64(len(documents)),
		"first":     first,
	}}, nil
}

func isReference(s string) bool {
	return len(s) > 4 && s[:2] == "{{"
}

package transform_test

import (
	"context"
	"testing"

	"github.com/mrlynn/netpad-v3-sub010/pkg/expression"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform_Execute(t *testing.T) {
	t.Parallel()

	scope := expression.NewScope(expression.ScopeInput{
		Payload: map[string]any{"name": "ada lovelace"},
		Outputs: map[string]any{"order": map[string]any{"total": float64(42)}},
	})

	node := transform.New()
	config := map[string]any{
		"fields":     map[string]any{"customer": "{{name}}", "total": "{{order.total}}", "static": "x"},
		"expression": "upper(name)",
	}

	resolved, err := nodes.ResolveConfig(node, config, scope)
	require.NoError(t, err)

	out, err := node.Execute(context.Background(), nodes.Input{Config: resolved, Scope: scope})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"customer": "ada lovelace",
		"total":    float64(42),
		"static":   "x",
		"result":   "ADA LOVELACE",
	}, out.Data)
}

func TestTransform_ExpressionFailureIsTerminal(t *testing.T) {
	t.Parallel()

	out, err := transform.New().Execute(context.Background(), nodes.Input{
		Config: map[string]any{"expression": "1 / 0"},
		Scope:  expression.Scope{},
	})
	require.Error(t, err)
	assert.False(t, nodes.IsRetryable(err))
	assert.Nil(t, out.Data)
}

func TestTransform_Validate(t *testing.T) {
	t.Parallel()

	node := transform.New()

	assert.NoError(t, node.Validate(map[string]any{"fields": map[string]any{"a": "{{b}}"}}))
	assert.NoError(t, node.Validate(map[string]any{"expression": "len(items)"}))
	assert.ErrorIs(t, node.Validate(map[string]any{}), nodes.ErrInvalidConfig)
	assert.ErrorIs(t, node.Validate(map[string]any{"expression": "len("}), nodes.ErrInvalidConfig)
}

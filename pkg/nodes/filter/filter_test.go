package filter_test

import (
	"context"
	"testing"

	"github.com/mrlynn/netpad-v3-sub010/pkg/expression"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orders() []any {
	return []any{
		map[string]any{"id": "a", "status": "open", "total": float64(10)},
		map[string]any{"id": "b", "status": "closed", "total": float64(20)},
		map[string]any{"id": "c", "status": "open", "total": float64(30)},
	}
}

func TestFilter_Execute(t *testing.T) {
	t.Parallel()

	scope := expression.NewScope(expression.ScopeInput{
		Outputs:   map[string]any{"fetch": map[string]any{"orders": orders()}},
		Variables: map[string]any{"min": float64(15)},
	})

	node := filter.New()

	tests := []struct {
		name    string
		config  map[string]any
		wantIDs []string
	}{
		{"by status", map[string]any{"items": "{{fetch.orders}}", "condition": `item.status == "open"`}, []string{"a", "c"}},
		{"by variable", map[string]any{"items": "{{fetch.orders}}", "condition": `{{item.total > variables.min}}`}, []string{"b", "c"}},
		{"with limit", map[string]any{"items": "{{fetch.orders}}", "condition": `item.status == "open"`, "limit": float64(1)}, []string{"a"}},
		{"by index", map[string]any{"items": "{{fetch.orders}}", "condition": `index == 1`}, []string{"b"}},
		{"missing list", map[string]any{"items": "{{nothing.here}}", "condition": `true`}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resolved, err := nodes.ResolveConfig(node, tt.config, scope)
			require.NoError(t, err)

			out, err := node.Execute(context.Background(), nodes.Input{Config: resolved, Scope: scope})
			require.NoError(t, err)

			items, ok := out.Data["items"].([]any)
			require.True(t, ok)

			var ids []string
			for _, item := range items {
				ids = append(ids, item.(map[string]any)["id"].(string))
			}

			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, float64(len(tt.wantIDs)), out.Data["count"])
		})
	}
}

func TestFilter_NonListIsTerminal(t *testing.T) {
	t.Parallel()

	_, err := filter.New().Execute(context.Background(), nodes.Input{
		Config: map[string]any{"items": "not a list", "condition": "true"},
		Scope:  expression.Scope{},
	})
	require.ErrorIs(t, err, nodes.ErrInvalidConfig)
	assert.False(t, nodes.IsRetryable(err))
}

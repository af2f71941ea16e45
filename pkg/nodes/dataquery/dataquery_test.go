package dataquery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/dataquery"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{ persistence.DocumentStore }

func (brokenStore) Find(context.Context, string, map[string]any, int) ([]map[string]any, error) {
	return nil, errors.New("connection reset")
}

func seed(t *testing.T) persistence.DocumentStore {
	t.Helper()

	store := memory.NewPersistence().Documents()
	ctx := context.Background()

	for _, doc := range []map[string]any{
		{"email": "ada@example.com", "plan": "pro"},
		{"email": "grace@example.com", "plan": "free"},
		{"email": "linus@example.com", "plan": "pro"},
	} {
		_, err := store.Insert(ctx, persistence.TenantCollection("org-1", "contacts"), doc)
		require.NoError(t, err)
	}

	_, err := store.Insert(ctx, persistence.TenantCollection("org-2", "contacts"), map[string]any{"plan": "pro"})
	require.NoError(t, err)

	return store
}

func TestDataQuery_Execute(t *testing.T) {
	t.Parallel()

	node := dataquery.New(seed(t))

	tests := []struct {
		name      string
		config    map[string]any
		wantCount float64
	}{
		{"filter by field", map[string]any{"collection": "contacts", "filter": map[string]any{"plan": "pro"}}, 2},
		{"no filter", map[string]any{"collection": "contacts"}, 3},
		{"limit", map[string]any{"collection": "contacts", "limit": float64(1)}, 1},
		{"no match", map[string]any{"collection": "contacts", "filter": map[string]any{"plan": "enterprise"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := node.Execute(context.Background(), nodes.Input{
				Config: tt.config,
				Meta:   nodes.Meta{OrgID: "org-1"},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, out.Data["count"])
			assert.Len(t, out.Data["documents"], int(tt.wantCount))
		})
	}
}

func TestDataQuery_StoreErrorIsRetryable(t *testing.T) {
	t.Parallel()

	_, err := dataquery.New(brokenStore{}).Execute(context.Background(), nodes.Input{
		Config: map[string]any{"collection": "contacts"},
	})
	require.Error(t, err)
	assert.True(t, nodes.IsRetryable(err))
}

func TestDataQuery_Validate(t *testing.T) {
	t.Parallel()

	node := dataquery.New(nil)

	assert.NoError(t, node.Validate(map[string]any{"collection": "contacts", "filter": map[string]any{"email": "{{email}}"}}))
	assert.NoError(t, node.Validate(map[string]any{"collection": "{{variables.collection}}"}))
	assert.ErrorIs(t, node.Validate(map[string]any{"collection": "../system"}), nodes.ErrInvalidConfig)
	assert.ErrorIs(t, node.Validate(map[string]any{}), nodes.ErrInvalidConfig)
}

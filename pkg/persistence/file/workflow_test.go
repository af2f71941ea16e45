package file_test

import (
	"context"
	"testing"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := file.NewWorkflowRepository("file://" + t.TempDir())

	workflow := &models.Workflow{
		ID:                 "wf-1",
		OrgID:              "org-1",
		Name:               "Notify",
		Status:             models.WorkflowStatusActive,
		Version:            2,
		ExecutionTokenHash: "abc123",
		Nodes: []*models.Node{
			{ID: "trigger", Type: models.NodeKindTrigger, Config: map[string]any{"triggerKind": "api"}},
		},
	}

	require.NoError(t, repo.Save(ctx, workflow))
	assert.False(t, workflow.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Notify", got.Name)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "abc123", got.ExecutionTokenHash)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, models.NodeKindTrigger, got.Nodes[0].Type)
}

func TestWorkflowRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := file.NewWorkflowRepository(t.TempDir())

	_, err := repo.GetByID(context.Background(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = repo.GetByID(context.Background(), "../etc/passwd")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_ListAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := file.NewWorkflowRepository(t.TempDir())

	for _, w := range []*models.Workflow{
		{ID: "a", OrgID: "org-1", Name: "A", Status: models.WorkflowStatusActive},
		{ID: "b", OrgID: "org-1", Name: "B", Status: models.WorkflowStatusDraft},
		{ID: "c", OrgID: "org-2", Name: "C", Status: models.WorkflowStatusActive},
	} {
		require.NoError(t, repo.Save(ctx, w))
	}

	all, err := repo.List(ctx, persistence.WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := repo.List(ctx, persistence.WorkflowFilter{OrgID: "org-1", Status: models.WorkflowStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)

	require.NoError(t, repo.Delete(ctx, "a"))
	require.NoError(t, repo.Delete(ctx, "a"))

	all, err = repo.List(ctx, persistence.WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

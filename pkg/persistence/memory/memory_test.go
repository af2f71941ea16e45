package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingJob(id, org string, runAt, createdAt time.Time) *models.Job {
	return &models.Job{
		ID:          id,
		WorkflowID:  "wf-1",
		ExecutionID: "exec-" + id,
		OrgID:       org,
		Status:      models.JobStatusPending,
		MaxAttempts: 3,
		RunAt:       runAt,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestJobs_ClaimAtMostOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	now := time.Now()

	require.NoError(t, store.Jobs().Insert(ctx, pendingJob("job-1", "org-1", now, now), 0))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)

	for i := range 50 {
		wg.Add(1)

		go func(worker string) {
			defer wg.Done()

			job, err := store.Jobs().ClaimNext(ctx, worker, now)
			assert.NoError(t, err)

			if job != nil {
				mu.Lock()
				winners = append(winners, worker)
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", i))
	}

	wg.Wait()

	require.Len(t, winners, 1)

	job, err := store.Jobs().Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, winners[0], job.ClaimedBy)
}

func TestJobs_ClaimOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	base := time.Now().Add(-time.Minute)

	require.NoError(t, store.Jobs().Insert(ctx, pendingJob("later", "org", base.Add(10*time.Second), base), 0))
	require.NoError(t, store.Jobs().Insert(ctx, pendingJob("second", "org", base, base.Add(time.Second)), 0))
	require.NoError(t, store.Jobs().Insert(ctx, pendingJob("first", "org", base, base), 0))
	require.NoError(t, store.Jobs().Insert(ctx, pendingJob("future", "org", time.Now().Add(time.Hour), base), 0))

	var order []string

	for {
		job, err := store.Jobs().ClaimNext(ctx, "w", time.Now())
		require.NoError(t, err)

		if job == nil {
			break
		}

		order = append(order, job.ID)
	}

	assert.Equal(t, []string{"first", "second", "later"}, order)
}

func TestJobs_InsertRespectsDepth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	now := time.Now()

	require.NoError(t, store.Jobs().Insert(ctx, pendingJob("a", "org-1", now, now), 2))
	require.NoError(t, store.Jobs().Insert(ctx, pendingJob("b", "org-1", now, now), 2))

	err := store.Jobs().Insert(ctx, pendingJob("c", "org-1", now, now), 2)
	require.ErrorIs(t, err, persistence.ErrQueueFull)

	require.NoError(t, store.Jobs().Insert(ctx, pendingJob("d", "org-2", now, now), 2), "other orgs are unaffected")
}

func TestJobs_TransitionConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	now := time.Now()

	require.NoError(t, store.Jobs().Insert(ctx, pendingJob("a", "org", now, now), 0))

	job, err := store.Jobs().Get(ctx, "a")
	require.NoError(t, err)

	job.Status = models.JobStatusCompleted
	err = store.Jobs().Transition(ctx, job, models.JobStatusProcessing, "")
	require.ErrorIs(t, err, persistence.ErrConflict)

	require.NoError(t, store.Jobs().Transition(ctx, job, models.JobStatusPending, ""))
}

func TestExecutions_OptimisticUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	workflow := &models.Workflow{ID: "wf", OrgID: "org", Version: 1}

	exec := models.NewExecution("exec-1", workflow, models.Trigger{Type: models.TriggerKindManual}, time.Now())
	require.NoError(t, store.Executions().Create(ctx, exec))

	first, err := store.Executions().Get(ctx, "exec-1")
	require.NoError(t, err)

	second, err := store.Executions().Get(ctx, "exec-1")
	require.NoError(t, err)

	first.CompletedNodes = append(first.CompletedNodes, "a")
	require.NoError(t, store.Executions().Update(ctx, first))
	assert.Equal(t, int64(1), first.Revision)

	second.CompletedNodes = append(second.CompletedNodes, "b")
	err = store.Executions().Update(ctx, second)
	require.ErrorIs(t, err, persistence.ErrConflict)

	stored, err := store.Executions().Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, stored.CompletedNodes)
}

func TestExecutions_DeleteRemovesLog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()
	workflow := &models.Workflow{ID: "wf", OrgID: "org", Version: 1}

	exec := models.NewExecution("exec-1", workflow, models.Trigger{Type: models.TriggerKindManual}, time.Now())
	require.NoError(t, store.Executions().Create(ctx, exec))
	require.NoError(t, store.Logs().Append(ctx, &models.ExecutionLog{ExecutionID: "exec-1", Event: "execution.started"}))

	require.NoError(t, store.Executions().Delete(ctx, "exec-1"))
	require.NoError(t, store.Executions().Delete(ctx, "exec-1"))

	_, err := store.Executions().Get(ctx, "exec-1")
	assert.True(t, persistence.IsNotFound(err))

	entries, err := store.Logs().List(ctx, "exec-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogs_SequenceOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPersistence()

	for i := range 3 {
		require.NoError(t, store.Logs().Append(ctx, &models.ExecutionLog{
			ExecutionID: "exec-1",
			Event:       fmt.Sprintf("event-%d", i),
			Level:       models.LogLevelInfo,
		}))
	}

	entries, err := store.Logs().List(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.Equal(t, fmt.Sprintf("event-%d", i), e.Event)
	}
}

func TestDocuments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	docs := memory.NewPersistence().Documents()

	id, err := docs.Insert(ctx, "contacts", map[string]any{"email": "a@example.com", "status": "new"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = docs.Insert(ctx, "contacts", map[string]any{"email": "b@example.com", "status": "new"})
	require.NoError(t, err)

	found, err := docs.Find(ctx, "contacts", map[string]any{"status": "new"}, 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	n, err := docs.UpdateOne(ctx, "contacts", map[string]any{"email": "b@example.com"}, map[string]any{"$set": map[string]any{"status": "contacted"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err = docs.Find(ctx, "contacts", map[string]any{"status": "contacted"}, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b@example.com", found[0]["email"])
}

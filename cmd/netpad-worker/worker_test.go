package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/auth"
	"github.com/mrlynn/netpad-v3-sub010/pkg/cmd"
	"github.com/mrlynn/netpad-v3-sub010/pkg/config"
	"github.com/mrlynn/netpad-v3-sub010/pkg/dispatcher"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/memory"
	"github.com/mrlynn/netpad-v3-sub010/pkg/registry"
	"github.com/mrlynn/netpad-v3-sub010/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T) (*Worker, *cmd.Engine, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	cfg := config.DefaultEngine()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Concurrency = 2

	engine, err := cmd.NewEngine(cfg, cmd.EngineDeps{
		Store:    store,
		Registry: registry.New(slog.Default(), registry.Dependencies{}),
		Logger:   slog.Default(),
	})
	require.NoError(t, err)

	return NewWorker("worker-test", engine, store.Workflows(), 0, slog.Default()), engine, store
}

func TestWorker_ProcessesQueuedExecutions(t *testing.T) {
	t.Parallel()

	w, engine, store := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())

	wf := testutil.CreateTestWorkflow()
	require.NoError(t, store.Workflows().Save(ctx, wf))

	result, err := engine.Dispatcher.Dispatch(ctx, dispatcher.Request{
		Kind:       models.TriggerKindManual,
		WorkflowID: wf.ID,
		Principal:  &auth.Principal{Subject: "u1", OrgID: wf.OrgID},
	})
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		exec, err := engine.Executions.Get(context.Background(), result.ExecutionID)

		return err == nil && exec.Status == models.ExecutionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	job, err := engine.Queue.Get(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_MetricsApp(t *testing.T) {
	t.Parallel()

	w, _, _ := newTestWorker(t)
	app := w.metricsApp()

	for _, path := range []string{"/livez", "/metrics"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

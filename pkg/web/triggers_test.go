package web_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/mrlynn/netpad-v3-sub010/pkg/dispatcher"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/testutil"
	"github.com/mrlynn/netpad-v3-sub010/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type accepted struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
}

func (e *testEnv) onlyJob(t *testing.T) *models.Job {
	t.Helper()

	jobs, err := e.store.Jobs().List(context.Background(), persistence.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	return jobs[0]
}

func TestTriggerWorkflow_Internal(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})
	wf := env.save(t, testutil.CreateTestWorkflow())

	resp := env.do(t, http.MethodPost, "/api/workflows/"+wf.ID+"/trigger",
		map[string]any{"type": "form_submission", "payload": map[string]any{"email": "a@b.c"}},
		env.token(t, "org-1"))
	require.Equal(t, http.StatusAccepted, resp.status, string(resp.body))

	var result dispatcher.Result
	resp.decode(t, &result)
	assert.NotEmpty(t, result.ExecutionID)
	assert.Equal(t, dispatcher.StatusQueued, result.Status)

	job := env.onlyJob(t)
	assert.Equal(t, models.TriggerKindFormSubmission, job.Trigger.Type)
	assert.Equal(t, "a@b.c", job.Trigger.Payload["email"])
	assert.Equal(t, "user-org-1", job.Trigger.Source.ActorID)
}

func TestTriggerWorkflow_DefaultsToManual(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})
	wf := env.save(t, testutil.CreateTestWorkflow())

	resp := env.do(t, http.MethodPost, "/api/workflows/"+wf.ID+"/trigger", nil, env.token(t, "org-1"))
	require.Equal(t, http.StatusAccepted, resp.status)
	assert.Equal(t, models.TriggerKindManual, env.onlyJob(t).Trigger.Type)
}

func TestTriggerWorkflow_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		workflow func(*models.Workflow)
		org      string
		body     any
		status   int
		code     string
	}{
		{
			name:   "other organization",
			org:    "org-2",
			status: http.StatusForbidden,
			code:   dispatcher.CodeUnauthorized,
		},
		{
			name:     "draft workflow",
			workflow: testutil.WithStatus(models.WorkflowStatusDraft),
			org:      "org-1",
			status:   http.StatusConflict,
			code:     dispatcher.CodeWorkflowNotActive,
		},
		{
			name:   "public kind is not an internal trigger",
			org:    "org-1",
			body:   map[string]any{"type": "webhook"},
			status: http.StatusBadRequest,
			code:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestApp(t, envOptions{})

			var overrides []func(*models.Workflow)
			if tt.workflow != nil {
				overrides = append(overrides, tt.workflow)
			}

			wf := env.save(t, testutil.CreateTestWorkflow(overrides...))

			resp := env.do(t, http.MethodPost, "/api/workflows/"+wf.ID+"/trigger", tt.body, env.token(t, tt.org))
			assert.Equal(t, tt.status, resp.status, string(resp.body))

			if tt.code != "" {
				assert.Equal(t, tt.code, problemType(t, resp))
			}
		})
	}
}

func TestExecuteWorkflow_Public(t *testing.T) {
	t.Parallel()

	token, hash, err := dispatcher.GenerateToken()
	require.NoError(t, err)

	env := setupTestApp(t, envOptions{})
	wf := env.save(t, testutil.CreateTestWorkflow(testutil.WithPublicExecution(hash)))
	path := "/v1/workflows/" + wf.ID + "/execute"

	resp := env.do(t, http.MethodPost, path, map[string]any{"token": token, "payload": map[string]any{"n": 1}}, "")
	require.Equal(t, http.StatusAccepted, resp.status, string(resp.body))

	var result accepted
	resp.decode(t, &result)
	assert.NotEmpty(t, result.ExecutionID)
	assert.Equal(t, dispatcher.StatusQueued, result.Status)

	resp = env.do(t, http.MethodPost, path, map[string]any{"payload": map[string]any{}}, "", web.ExecutionTokenHeader, token)
	assert.Equal(t, http.StatusAccepted, resp.status)

	resp = env.do(t, http.MethodPost, path+"?token="+token, nil, "")
	assert.Equal(t, http.StatusAccepted, resp.status)

	resp = env.do(t, http.MethodPost, path, map[string]any{"token": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, dispatcher.CodeInvalidToken, problemType(t, resp))
}

func TestExecuteWorkflow_PublicRejections(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})

	private := env.save(t, testutil.CreateTestWorkflow())
	resp := env.do(t, http.MethodPost, "/v1/workflows/"+private.ID+"/execute", map[string]any{}, "")
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, dispatcher.CodeWorkflowNotFound, problemType(t, resp))

	resp = env.do(t, http.MethodPost, "/v1/workflows/missing/execute", map[string]any{}, "")
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, dispatcher.CodeWorkflowNotFound, problemType(t, resp))

	paused := env.save(t, testutil.CreateTestWorkflow(
		testutil.WithPublicExecution(""), testutil.WithStatus(models.WorkflowStatusPaused)))
	resp = env.do(t, http.MethodPost, "/v1/workflows/"+paused.ID+"/execute", map[string]any{}, "")
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, dispatcher.CodeWorkflowNotActive, problemType(t, resp))

	resp = env.do(t, http.MethodPost, "/v1/workflows/"+paused.ID+"/execute", "{broken", "")
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestExecuteWorkflow_QueueFull(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{maxDepth: 1})
	wf := env.save(t, testutil.CreateTestWorkflow(testutil.WithPublicExecution("")))
	path := "/v1/workflows/" + wf.ID + "/execute"

	resp := env.do(t, http.MethodPost, path, map[string]any{}, "")
	require.Equal(t, http.StatusAccepted, resp.status)

	resp = env.do(t, http.MethodPost, path, map[string]any{}, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)
	assert.Equal(t, dispatcher.CodeQueueFull, problemType(t, resp))
	assert.Equal(t, "30", resp.header.Get("Retry-After"))
}

func TestExecuteWorkflow_LimitExceeded(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{monthly: 1})
	wf := env.save(t, testutil.CreateTestWorkflow(testutil.WithPublicExecution("")))
	path := "/v1/workflows/" + wf.ID + "/execute"

	resp := env.do(t, http.MethodPost, path, map[string]any{}, "")
	require.Equal(t, http.StatusAccepted, resp.status)

	resp = env.do(t, http.MethodPost, path, map[string]any{}, "")
	require.Equal(t, http.StatusTooManyRequests, resp.status)

	var body struct {
		Type  string `json:"type"`
		Usage struct {
			Allowed bool  `json:"allowed"`
			Current int64 `json:"current"`
			Limit   int64 `json:"limit"`
		} `json:"usage"`
	}
	resp.decode(t, &body)
	assert.Equal(t, dispatcher.CodeLimitExceeded, body.Type)
	assert.False(t, body.Usage.Allowed)
	assert.Equal(t, int64(1), body.Usage.Limit)
}

func TestReceiveWebhook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        any
		contentType string
		check       func(t *testing.T, payload map[string]any)
	}{
		{
			name: "json object is the payload",
			body: map[string]any{"event": "signup"},
			check: func(t *testing.T, payload map[string]any) {
				t.Helper()
				assert.Equal(t, "signup", payload["event"])
			},
		},
		{
			name: "json array is wrapped",
			body: []any{1, 2},
			check: func(t *testing.T, payload map[string]any) {
				t.Helper()
				assert.Len(t, payload["body"], 2)
			},
		},
		{
			name:        "plain text is wrapped",
			body:        "hello",
			contentType: "text/plain",
			check: func(t *testing.T, payload map[string]any) {
				t.Helper()
				assert.Equal(t, "hello", payload["body"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestApp(t, envOptions{})
			wf := env.save(t, testutil.CreateTestWorkflow(func(w *models.Workflow) {
				w.Nodes = []*models.Node{testutil.CreateTestNode("hook", models.NodeKindTrigger,
					testutil.WithTriggerKind(models.TriggerKindWebhook))}
			}))

			var headers []string
			if tt.contentType != "" {
				headers = []string{"Content-Type", tt.contentType}
			}

			resp := env.do(t, http.MethodPost, "/hooks/"+wf.ID, tt.body, "", headers...)
			require.Equal(t, http.StatusAccepted, resp.status, string(resp.body))

			job := env.onlyJob(t)
			assert.Equal(t, models.TriggerKindWebhook, job.Trigger.Type)
			tt.check(t, job.Trigger.Payload)
		})
	}
}

func TestReceiveWebhook_PrivateWorkflow(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})
	wf := env.save(t, testutil.CreateTestWorkflow())

	resp := env.do(t, http.MethodPost, "/hooks/"+wf.ID, map[string]any{}, "")
	assert.Equal(t, http.StatusForbidden, resp.status)
}

func TestGetExecutionStatus(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})
	wf := env.save(t, testutil.CreateTestWorkflow(testutil.WithPublicExecution("")))

	resp := env.do(t, http.MethodPost, "/v1/workflows/"+wf.ID+"/execute", map[string]any{"payload": map[string]any{"secret": "x"}}, "")
	require.Equal(t, http.StatusAccepted, resp.status)

	var result accepted
	resp.decode(t, &result)

	resp = env.do(t, http.MethodGet, "/v1/executions/"+result.ExecutionID+"?logs=true", nil, "")
	require.Equal(t, http.StatusOK, resp.status)

	var view map[string]any
	resp.decode(t, &view)
	assert.Equal(t, result.ExecutionID, view["executionId"])
	assert.Equal(t, wf.ID, view["workflowId"])
	assert.NotContains(t, string(resp.body), "secret", "trigger payload is never exposed")

	metrics, ok := view["metrics"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, metrics, "totalDurationMs")
	assert.NotContains(t, metrics, "total_duration_ms")

	resp = env.do(t, http.MethodGet, "/v1/executions/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestGetExecutionStatus_HidesNodeErrorText(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := setupTestApp(t, envOptions{})
	wf := env.save(t, testutil.CreateTestWorkflow(testutil.WithPublicExecution("")))

	resp := env.do(t, http.MethodPost, "/v1/workflows/"+wf.ID+"/execute", map[string]any{}, "")
	require.Equal(t, http.StatusAccepted, resp.status)

	var result accepted
	resp.decode(t, &result)

	// What an http_request node reports after resolving
	// http://10.0.0.7:1/internal?api_key={{variables.env}}-SECRET.
	nodeErr := `Get "http://10.0.0.7:1/internal?api_key=prod-SECRET": dial tcp 10.0.0.7:1: connect: connection refused`

	_, err := env.executions.Start(ctx, result.ExecutionID)
	require.NoError(t, err)
	env.executions.Log(ctx, result.ExecutionID, "fetch", models.LogLevelError, "node.failed", nodeErr,
		map[string]any{"retryable": true, "durationMs": int64(3), "error": nodeErr})
	_, err = env.executions.Fail(ctx, result.ExecutionID, models.ErrorCodeNodeFailed, "node fetch failed: "+nodeErr)
	require.NoError(t, err)

	resp = env.do(t, http.MethodGet, "/v1/executions/"+result.ExecutionID+"?logs=true", nil, "")
	require.Equal(t, http.StatusOK, resp.status)

	assert.NotContains(t, string(resp.body), "SECRET")
	assert.NotContains(t, string(resp.body), "10.0.0.7")

	var view struct {
		Result struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"result"`
		Logs []struct {
			Event   string         `json:"event"`
			Message string         `json:"message"`
			Data    map[string]any `json:"data"`
		} `json:"logs"`
	}
	resp.decode(t, &view)
	assert.Equal(t, models.ErrorCodeNodeFailed, view.Result.Error.Code)
	assert.Equal(t, "A workflow node failed", view.Result.Error.Message)

	var failed bool
	for _, entry := range view.Logs {
		if entry.Event != "node.failed" {
			continue
		}

		failed = true
		assert.Equal(t, "Node failed", entry.Message)
		assert.Equal(t, true, entry.Data["retryable"])
		assert.NotContains(t, entry.Data, "error")
	}
	assert.True(t, failed)

	internal, err := env.executions.Get(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Contains(t, internal.Result.Error.Message, "prod-SECRET", "the stored record keeps the full text")
}

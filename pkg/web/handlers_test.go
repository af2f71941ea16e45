package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/mrlynn/netpad-v3-sub010/pkg/auth"
	"github.com/mrlynn/netpad-v3-sub010/pkg/config"
	"github.com/mrlynn/netpad-v3-sub010/pkg/dispatcher"
	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/memory"
	"github.com/mrlynn/netpad-v3-sub010/pkg/queue"
	"github.com/mrlynn/netpad-v3-sub010/pkg/registry"
	"github.com/mrlynn/netpad-v3-sub010/pkg/services"
	"github.com/mrlynn/netpad-v3-sub010/pkg/testutil"
	"github.com/mrlynn/netpad-v3-sub010/pkg/usage"
	"github.com/mrlynn/netpad-v3-sub010/pkg/web"
	"github.com/mrlynn/netpad-v3-sub010/pkg/worker"
	"github.com/mrlynn/netpad-v3-sub010/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

type testEnv struct {
	app        *fiber.App
	store      *memory.Persistence
	queue      *queue.Queue
	executions *execution.Manager
	jwt        *auth.JWTManager
}

type envOptions struct {
	maxDepth      int
	monthly       int64
	withProcessor bool
}

func setupTestApp(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	if opts.monthly == 0 {
		opts.monthly = config.Unlimited
	}

	logger := slog.Default()
	store := memory.NewPersistence()
	limits := config.Limits{DefaultPlan: "test", Plans: map[string]config.Plan{"test": {MonthlyExecutions: opts.monthly}}}
	jobs := queue.New(store.Jobs(), queue.Config{MaxDepth: opts.maxDepth, DefaultMaxAttempts: 3}, logger)
	executions := execution.NewManager(store, logger)
	executors := registry.New(logger, registry.Dependencies{})

	workflows := services.NewWorkflow(store)
	deps := web.Dependencies{
		Workflows:  workflows,
		Nodes:      services.NewNode(workflows),
		Publishing: services.NewPublishing(store, executors, nil, logger),
		Dispatcher: dispatcher.New(store.Workflows(), jobs, executions, usage.NewMemoryMeter(limits, time.Now),
			auth.NewOrgAuthorizer(), logger),
		Queue:      jobs,
		Executions: executions,
		Registry:   executors,
		Logger:     logger,
	}

	if opts.withProcessor {
		walker := workflow.NewWalker(executors, executions, logger)
		deps.Processor = worker.NewProcessor("api-test", jobs, store.Workflows(), walker, executions, logger)
	}

	manager := auth.NewJWTManager(testSecret, "netpad-test")
	app := fiber.New()
	app.Use(web.WithLogger(logger))
	web.Register(app, web.NewAPIHandlers(deps), manager)

	return &testEnv{app: app, store: store, queue: jobs, executions: executions, jwt: manager}
}

func (e *testEnv) token(t *testing.T, orgID string, roles ...string) string {
	t.Helper()

	token, err := e.jwt.GenerateToken(auth.Principal{Subject: "user-" + orgID, OrgID: orgID, Roles: roles}, time.Hour)
	require.NoError(t, err)

	return token
}

func (e *testEnv) save(t *testing.T, wf *models.Workflow) *models.Workflow {
	t.Helper()
	require.NoError(t, e.store.Workflows().Save(context.Background(), wf))

	return wf
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) decode(t *testing.T, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, target), string(r.body))
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string, headers ...string) response {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return response{status: resp.StatusCode, header: resp.Header, body: data}
}

func problemType(t *testing.T, r response) string {
	t.Helper()

	var p struct {
		Type string `json:"type"`
	}
	r.decode(t, &p)

	return p.Type
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})

	resp := env.do(t, http.MethodGet, "/api/workflows", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = env.do(t, http.MethodGet, "/api/workflows", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	other := auth.NewJWTManager("another-secret", "netpad-test")
	forged, err := other.GenerateToken(auth.Principal{Subject: "x", OrgID: "org-1"}, time.Hour)
	require.NoError(t, err)

	resp = env.do(t, http.MethodGet, "/api/workflows", nil, forged)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, r response)
	}{
		{
			name: "successful creation",
			requestBody: services.CreateWorkflowRequest{
				Name:        "Lead intake",
				Description: "Routes new leads",
				Variables:   map[string]any{"env": "test"},
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, r response) {
				t.Helper()

				var wf models.Workflow
				r.decode(t, &wf)
				assert.NotEmpty(t, wf.ID)
				assert.Equal(t, "Lead intake", wf.Name)
				assert.Equal(t, "org-1", wf.OrgID)
				assert.Equal(t, models.WorkflowStatusDraft, wf.Status)
				assert.Equal(t, "test", wf.Variables["env"])
			},
		},
		{
			name:           "name too short",
			requestBody:    services.CreateWorkflowRequest{Name: "ab"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			requestBody:    "{invalid",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestApp(t, envOptions{})
			resp := env.do(t, http.MethodPost, "/api/workflows", tt.requestBody, env.token(t, "org-1"))

			assert.Equal(t, tt.expectedStatus, resp.status, string(resp.body))

			if tt.validateResult != nil {
				tt.validateResult(t, resp)
			}
		})
	}
}

func TestAPIHandlers_GetWorkflow_ScopedToOrganization(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})
	wf := env.save(t, testutil.CreateTestWorkflow())

	resp := env.do(t, http.MethodGet, "/api/workflows/"+wf.ID, nil, env.token(t, "org-1"))
	assert.Equal(t, http.StatusOK, resp.status)

	resp = env.do(t, http.MethodGet, "/api/workflows/"+wf.ID, nil, env.token(t, "org-2"))
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, dispatcher.CodeWorkflowNotFound, problemType(t, resp))

	resp = env.do(t, http.MethodGet, "/api/workflows/"+wf.ID, nil, env.token(t, "org-2", auth.RoleAdmin))
	assert.Equal(t, http.StatusOK, resp.status)

	resp = env.do(t, http.MethodGet, "/api/workflows/missing", nil, env.token(t, "org-1"))
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestAPIHandlers_GetWorkflows(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})
	env.save(t, testutil.CreateTestWorkflow())
	env.save(t, testutil.CreateTestWorkflow(testutil.WithStatus(models.WorkflowStatusDraft)))
	env.save(t, testutil.CreateTestWorkflow(func(w *models.Workflow) { w.OrgID = "org-2" }))

	var page struct {
		Workflows   []models.Workflow `json:"workflows"`
		TotalCount  int               `json:"total_count"`
		HasNextPage bool              `json:"has_next_page"`
	}

	resp := env.do(t, http.MethodGet, "/api/workflows", nil, env.token(t, "org-1"))
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &page)
	assert.Equal(t, 2, page.TotalCount)

	resp = env.do(t, http.MethodGet, "/api/workflows?status=draft", nil, env.token(t, "org-1"))
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &page)
	assert.Equal(t, 1, page.TotalCount)

	resp = env.do(t, http.MethodGet, "/api/workflows?limit=1", nil, env.token(t, "org-1"))
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &page)
	assert.Len(t, page.Workflows, 1)
	assert.True(t, page.HasNextPage)

	resp = env.do(t, http.MethodGet, "/api/workflows?org_id=*", nil, env.token(t, "org-1", auth.RoleAdmin))
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &page)
	assert.Equal(t, 3, page.TotalCount)

	resp = env.do(t, http.MethodGet, "/api/workflows?status=bogus", nil, env.token(t, "org-1"))
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = env.do(t, http.MethodGet, "/api/workflows?limit=abc", nil, env.token(t, "org-1"))
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})
	token := env.token(t, "org-1")

	resp := env.do(t, http.MethodPost, "/api/workflows", services.CreateWorkflowRequest{Name: "Lifecycle"}, token)
	require.Equal(t, http.StatusCreated, resp.status)

	var wf models.Workflow
	resp.decode(t, &wf)

	base := "/api/workflows/" + wf.ID

	resp = env.do(t, http.MethodPost, base+"/publish", nil, token)
	assert.Equal(t, http.StatusBadRequest, resp.status, "a workflow without nodes cannot be published")

	resp = env.do(t, http.MethodPost, base+"/nodes", services.CreateNodeRequest{ID: "start", Type: "trigger", Name: "Start"}, token)
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))

	resp = env.do(t, http.MethodPost, base+"/publish", nil, token)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	resp.decode(t, &wf)
	assert.Equal(t, models.WorkflowStatusActive, wf.Status)
	assert.Equal(t, 1, wf.Version)

	resp = env.do(t, http.MethodPatch, base, map[string]any{"name": "Renamed"}, token)
	assert.Equal(t, http.StatusConflict, resp.status, "active workflows are immutable")

	resp = env.do(t, http.MethodPost, base+"/pause", nil, token)
	require.Equal(t, http.StatusOK, resp.status)

	resp = env.do(t, http.MethodPatch, base, map[string]any{"name": "Renamed"}, token)
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &wf)
	assert.Equal(t, "Renamed", wf.Name)

	resp = env.do(t, http.MethodPost, base+"/publish", nil, token)
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &wf)
	assert.Equal(t, 2, wf.Version)

	resp = env.do(t, http.MethodPost, base+"/archive", nil, token)
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &wf)
	assert.Equal(t, models.WorkflowStatusArchived, wf.Status)

	resp = env.do(t, http.MethodPost, base+"/publish", nil, token)
	assert.Equal(t, http.StatusConflict, resp.status)

	resp = env.do(t, http.MethodDelete, base, nil, token)
	assert.Equal(t, http.StatusNoContent, resp.status)

	resp = env.do(t, http.MethodGet, base, nil, token)
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestAPIHandlers_Nodes(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})
	token := env.token(t, "org-1")
	wf := env.save(t, testutil.CreateTestWorkflow(testutil.WithStatus(models.WorkflowStatusDraft)))
	base := "/api/workflows/" + wf.ID + "/nodes"

	resp := env.do(t, http.MethodPost, base, services.CreateNodeRequest{
		ID:     "shape",
		Type:   string(models.NodeKindTransform),
		Name:   "Shape",
		Config: map[string]any{"mapping": map[string]any{"x": "{{trigger.x}}"}},
	}, token)
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))

	resp = env.do(t, http.MethodPost, base, services.CreateNodeRequest{ID: "shape", Type: "transform"}, token)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = env.do(t, http.MethodPost, base, map[string]any{"name": "no type"}, token)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = env.do(t, http.MethodPatch, base+"/shape", services.UpdateNodeRequest{Name: "Reshape"}, token)
	require.Equal(t, http.StatusOK, resp.status)

	var node models.Node
	resp.decode(t, &node)
	assert.Equal(t, "Reshape", node.Name)
	assert.Equal(t, models.NodeKindTransform, node.Type)

	resp = env.do(t, http.MethodGet, base+"/shape", nil, token)
	assert.Equal(t, http.StatusOK, resp.status)

	resp = env.do(t, http.MethodDelete, base+"/shape", nil, token)
	assert.Equal(t, http.StatusNoContent, resp.status)

	resp = env.do(t, http.MethodGet, base+"/shape", nil, token)
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "NODE_NOT_FOUND", problemType(t, resp))

	resp = env.do(t, http.MethodGet, base+"/trigger", nil, env.token(t, "org-2"))
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})

	resp := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, resp.status)

	var body map[string]any
	resp.decode(t, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestAPIHandlers_GetNodeKinds(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t, envOptions{})

	resp := env.do(t, http.MethodGet, "/api/nodes/kinds", nil, env.token(t, "org-1"))
	require.Equal(t, http.StatusOK, resp.status)

	var kinds []map[string]any
	resp.decode(t, &kinds)
	assert.NotEmpty(t, kinds)
}

package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/conditional"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/delay"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/transform"
	"github.com/mrlynn/netpad-v3-sub010/pkg/nodes/trigger"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence/memory"
	"github.com/mrlynn/netpad-v3-sub010/pkg/registry"
	"github.com/mrlynn/netpad-v3-sub010/pkg/testutil"
	"github.com/mrlynn/netpad-v3-sub010/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sender stands in for message_send: it records calls and fails the nodes
// it is told to.
type sender struct {
	mu          sync.Mutex
	calls       map[string]int
	failures    map[string]error
	inFlight    int
	maxInFlight int
	hold        time.Duration
	onExecute   func(nodeID string)
}

func newSender() *sender {
	return &sender{calls: map[string]int{}, failures: map[string]error{}}
}

func (s *sender) Kind() models.NodeKind         { return models.NodeKindMessageSend }
func (s *sender) Name() string                  { return "Sender" }
func (s *sender) Description() string           { return "test sender" }
func (s *sender) Schema() map[string]any        { return map[string]any{"type": "object"} }
func (s *sender) Validate(map[string]any) error { return nil }

func (s *sender) Execute(_ context.Context, in nodes.Input) (nodes.Output, error) {
	s.mu.Lock()
	s.calls[in.Node.ID]++
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	err := s.failures[in.Node.ID]
	hook := s.onExecute
	s.mu.Unlock()

	if s.hold > 0 {
		time.Sleep(s.hold)
	}

	if hook != nil {
		hook(in.Node.ID)
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if err != nil {
		return nodes.Output{}, err
	}

	return nodes.Output{Data: map[string]any{"sent": in.Node.ID, "to": in.Config["to"]}}, nil
}

func (s *sender) callCount(nodeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[nodeID]
}

func (s *sender) fail(nodeID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.failures, nodeID)

		return
	}

	s.failures[nodeID] = err
}

type harness struct {
	walker   *workflow.Walker
	manager  *execution.Manager
	sender   *sender
	clock    *testutil.Clock
	registry *registry.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := testutil.NewClock()
	s := newSender()
	reg := registry.NewWith(slog.Default(), trigger.New(), conditional.New(), delay.New(), transform.New(), s)
	manager := execution.NewManager(memory.NewPersistence(), slog.Default(), execution.WithClock(clock.Now))

	return &harness{
		walker:   workflow.NewWalker(reg, manager, slog.Default(), workflow.WithClock(clock.Now)),
		manager:  manager,
		sender:   s,
		clock:    clock,
		registry: reg,
	}
}

func (h *harness) job(t *testing.T, wf *models.Workflow, kind models.TriggerKind, payload map[string]any) *models.Job {
	t.Helper()

	require.NoError(t, workflow.Validate(wf, h.registry))

	trig := models.Trigger{Type: kind, Payload: payload}
	exec := models.NewExecution("exec-"+wf.ID, wf, trig, h.clock.Now())
	require.NoError(t, h.manager.Create(context.Background(), exec))

	return &models.Job{
		ID:          "job-" + wf.ID,
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		OrgID:       wf.OrgID,
		Status:      models.JobStatusProcessing,
		Trigger:     trig,
	}
}

func skipReasons(exec *models.Execution) map[string]models.SkipReason {
	out := map[string]models.SkipReason{}
	for _, s := range exec.SkippedNodes {
		out[s.NodeID] = s.Reason
	}

	return out
}

func send(id string) *models.Node {
	return testutil.CreateTestNode(id, models.NodeKindMessageSend,
		testutil.WithConfig(map[string]any{"to": "{{email}}"}))
}

// urgencyWorkflow is trigger -> email, trigger -> conditional -> messaging,
// where the conditional edge requires urgency == "critical".
func urgencyWorkflow() *models.Workflow {
	return testutil.CreateTestWorkflow(
		testutil.WithNodes(
			send("email"),
			testutil.CreateTestNode("check", models.NodeKindConditional),
			send("messaging"),
		),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "email"),
			testutil.CreateTestEdge("trigger", "check"),
			testutil.CreateTestEdge("check", "messaging", testutil.WithCondition(`urgency == "critical"`)),
		),
	)
}

func TestWalker_UrgencyScenario(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		urgency       string
		wantCompleted []string
		wantSkipped   map[string]models.SkipReason
	}{
		{
			name:          "critical",
			urgency:       "critical",
			wantCompleted: []string{"trigger", "email", "check", "messaging"},
			wantSkipped:   map[string]models.SkipReason{},
		},
		{
			name:          "low",
			urgency:       "low",
			wantCompleted: []string{"trigger", "email", "check"},
			wantSkipped:   map[string]models.SkipReason{"messaging": models.SkipReasonBranchNotTaken},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			wf := urgencyWorkflow()
			job := h.job(t, wf, models.TriggerKindFormSubmission,
				map[string]any{"urgency": tt.urgency, "email": "ops@example.com"})

			outcome, err := h.walker.Run(context.Background(), wf, job)
			require.NoError(t, err)

			assert.Equal(t, workflow.OutcomeCompleted, outcome.Kind)

			exec := outcome.Execution
			assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
			assert.ElementsMatch(t, tt.wantCompleted, exec.CompletedNodes)
			assert.Empty(t, exec.FailedNodes)
			assert.Equal(t, tt.wantSkipped, skipReasons(exec))
			require.NotNil(t, exec.Result)
			assert.True(t, exec.Result.Success)

			email, ok := exec.Result.Output["email"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "ops@example.com", email["to"])
		})
	}
}

func TestWalker_ConditionalBranchExclusivity(t *testing.T) {
	t.Parallel()

	build := func() *models.Workflow {
		return testutil.CreateTestWorkflow(
			testutil.WithNodes(
				testutil.CreateTestNode("route", models.NodeKindConditional),
				send("a"),
				send("b"),
				send("after"),
			),
			testutil.WithEdges(
				testutil.CreateTestEdge("trigger", "route"),
				testutil.CreateTestEdge("route", "a", testutil.WithCondition(`eq(x, "a")`)),
				testutil.CreateTestEdge("route", "b", testutil.WithCondition(`eq(x, "b")`)),
				testutil.CreateTestEdge("a", "after"),
				testutil.CreateTestEdge("b", "after"),
			),
		)
	}

	t.Run("matching edge only", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		wf := build()

		outcome, err := h.walker.Run(context.Background(), wf, h.job(t, wf, models.TriggerKindManual, map[string]any{"x": "a"}))
		require.NoError(t, err)

		exec := outcome.Execution
		assert.Contains(t, exec.CompletedNodes, "a")
		assert.Contains(t, exec.CompletedNodes, "after")
		assert.NotContains(t, exec.CompletedNodes, "b")
		assert.Equal(t, 0, h.sender.callCount("b"))
		assert.Equal(t, models.SkipReasonBranchNotTaken, skipReasons(exec)["b"])
	})

	t.Run("no match and no default", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t)
		wf := build()

		outcome, err := h.walker.Run(context.Background(), wf, h.job(t, wf, models.TriggerKindManual, map[string]any{"x": "c"}))
		require.NoError(t, err)

		exec := outcome.Execution
		assert.Equal(t, models.ExecutionStatusCompleted, exec.Status)
		assert.Empty(t, exec.FailedNodes)
		assert.ElementsMatch(t, []string{"trigger", "route"}, exec.CompletedNodes)
		assert.Equal(t, map[string]models.SkipReason{
			"a":     models.SkipReasonBranchNotTaken,
			"b":     models.SkipReasonBranchNotTaken,
			"after": models.SkipReasonBranchNotTaken,
		}, skipReasons(exec))
	})
}

func TestWalker_DefaultEdgeAndHandles(t *testing.T) {
	t.Parallel()

	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(
			testutil.CreateTestNode("route", models.NodeKindConditional, testutil.WithConfig(map[string]any{
				"condition": `amount > 100`,
			})),
			send("big"),
			send("fallback"),
		),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "route"),
			testutil.CreateTestEdge("route", "big", testutil.WithHandle(conditional.BranchTrue)),
			testutil.CreateTestEdge("route", "fallback", testutil.WithHandle(models.DefaultHandle)),
		),
	)

	for amount, want := range map[int]string{500: "big", 5: "fallback"} {
		h := newHarness(t)

		outcome, err := h.walker.Run(context.Background(), wf, h.job(t, wf, models.TriggerKindAPI, map[string]any{"amount": amount}))
		require.NoError(t, err)

		assert.Contains(t, outcome.Execution.CompletedNodes, want)
		assert.Len(t, outcome.Execution.CompletedNodes, 3)
	}
}

func TestWalker_ContinuePropagatesFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sender.fail("n1", nodes.Terminal(errors.New("mailbox rejected")))

	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(send("n1"), send("n2"), send("n3"), send("n4")),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "n1"),
			testutil.CreateTestEdge("n1", "n2"),
			testutil.CreateTestEdge("n2", "n4"),
			testutil.CreateTestEdge("trigger", "n3"),
		),
		testutil.WithSettings(models.Settings{ErrorHandling: models.ErrorHandlingContinue}),
	)

	outcome, err := h.walker.Run(context.Background(), wf, h.job(t, wf, models.TriggerKindManual, nil))
	require.NoError(t, err)

	exec := outcome.Execution
	assert.Equal(t, workflow.OutcomeFailed, outcome.Kind)
	assert.Equal(t, models.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, []string{"n1"}, exec.FailedNodes)
	assert.Contains(t, exec.CompletedNodes, "n3")
	assert.NotContains(t, exec.CompletedNodes, "n2")
	assert.Equal(t, 0, h.sender.callCount("n2"))
	assert.Equal(t, models.SkipReasonDependencyFailed, skipReasons(exec)["n2"])
	assert.Equal(t, models.SkipReasonDependencyFailed, skipReasons(exec)["n4"])
	assert.Equal(t, models.ErrorCodeNodeFailed, exec.Result.Error.Code)
}

func TestWalker_StopAbortsWalk(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sender.fail("n1", nodes.Terminal(errors.New("bad request")))

	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(send("n1"), send("n2")),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "n1"),
			testutil.CreateTestEdge("trigger", "n2"),
		),
	)

	outcome, err := h.walker.Run(context.Background(), wf, h.job(t, wf, models.TriggerKindManual, nil))
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeFailed, outcome.Kind)
	assert.Equal(t, "n1", outcome.NodeID)
	assert.Equal(t, 0, h.sender.callCount("n2"))
	assert.Equal(t, []string{"trigger"}, outcome.Execution.CompletedNodes)
}

func TestWalker_RetryPolicyResumesWhereItStopped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sender.fail("n2", nodes.Retryable(errors.New("connection reset")))

	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(send("n1"), send("n2")),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "n1"),
			testutil.CreateTestEdge("n1", "n2"),
		),
		testutil.WithSettings(models.Settings{ErrorHandling: models.ErrorHandlingRetry}),
	)
	job := h.job(t, wf, models.TriggerKindManual, nil)

	outcome, err := h.walker.Run(context.Background(), wf, job)
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeRetry, outcome.Kind)
	assert.Equal(t, "n2", outcome.NodeID)
	assert.True(t, nodes.IsRetryable(outcome.Err))
	assert.Equal(t, models.ExecutionStatusRunning, outcome.Execution.Status)
	assert.Empty(t, outcome.Execution.FailedNodes)

	h.sender.fail("n2", nil)
	job.Attempts = 1

	outcome, err = h.walker.Run(context.Background(), wf, job)
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeCompleted, outcome.Kind)
	assert.Equal(t, 1, h.sender.callCount("n1"))
	assert.Equal(t, 2, h.sender.callCount("n2"))
	assert.Empty(t, outcome.Execution.NodeErrors)
}

func TestWalker_RetryPolicyFailsTerminalErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sender.fail("n1", nodes.InvalidConfig("missing recipient"))

	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(send("n1")),
		testutil.WithEdges(testutil.CreateTestEdge("trigger", "n1")),
		testutil.WithSettings(models.Settings{ErrorHandling: models.ErrorHandlingRetry}),
	)

	outcome, err := h.walker.Run(context.Background(), wf, h.job(t, wf, models.TriggerKindManual, nil))
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeFailed, outcome.Kind)
	assert.Equal(t, []string{"n1"}, outcome.Execution.FailedNodes)
}

func TestWalker_DelaySuspendsAndResumes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(
			testutil.CreateTestNode("wait", models.NodeKindDelay, testutil.WithConfig(map[string]any{"duration": "1h"})),
			send("reminder"),
		),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "wait"),
			testutil.CreateTestEdge("wait", "reminder"),
		),
	)
	job := h.job(t, wf, models.TriggerKindSchedule, nil)
	start := h.clock.Now()

	outcome, err := h.walker.Run(context.Background(), wf, job)
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomePaused, outcome.Kind)
	assert.Equal(t, start.Add(time.Hour), outcome.ResumeAt)
	assert.Equal(t, models.ExecutionStatusPaused, outcome.Execution.Status)
	assert.Equal(t, 0, h.sender.callCount("reminder"))

	// An early resume job pauses again without running anything.
	h.clock.Advance(30 * time.Minute)

	outcome, err = h.walker.Run(context.Background(), wf, job)
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomePaused, outcome.Kind)

	// The delay does not count against the execution time budget.
	h.clock.Advance(30 * time.Minute)

	outcome, err = h.walker.Run(context.Background(), wf, job)
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeCompleted, outcome.Kind)
	assert.Equal(t, 1, h.sender.callCount("reminder"))
	assert.Empty(t, outcome.Execution.Suspended)

	wait, ok := outcome.Execution.Context["wait"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Hour).Format(time.RFC3339), wait["resumedAt"])
}

func TestWalker_ObservesCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(send("n1"), send("n2")),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "n1"),
			testutil.CreateTestEdge("n1", "n2"),
		),
	)
	job := h.job(t, wf, models.TriggerKindManual, nil)

	h.sender.onExecute = func(nodeID string) {
		if nodeID == "n1" {
			_, err := h.manager.Cancel(context.Background(), job.ExecutionID, "stopped by user")
			assert.NoError(t, err)
		}
	}

	outcome, err := h.walker.Run(context.Background(), wf, job)
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeCancelled, outcome.Kind)
	assert.Equal(t, 1, h.sender.callCount("n1"))
	assert.Equal(t, 0, h.sender.callCount("n2"))
}

func TestWalker_TimesOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(send("slow"), send("next")),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "slow"),
			testutil.CreateTestEdge("slow", "next"),
		),
		testutil.WithSettings(models.Settings{MaxExecutionTime: models.Duration(time.Minute)}),
	)
	h.sender.onExecute = func(string) { h.clock.Advance(2 * time.Minute) }

	outcome, err := h.walker.Run(context.Background(), wf, h.job(t, wf, models.TriggerKindManual, nil))
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeFailed, outcome.Kind)
	assert.Equal(t, models.ExecutionStatusFailed, outcome.Execution.Status)
	assert.Equal(t, models.ErrorCodeTimeout, outcome.Execution.Result.Error.Code)
	assert.Equal(t, 0, h.sender.callCount("next"))
}

func TestWalker_RetryBackoffDoesNotCountAgainstBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sender.fail("n1", nodes.Retryable(errors.New("connection reset")))

	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(send("n1")),
		testutil.WithEdges(testutil.CreateTestEdge("trigger", "n1")),
		testutil.WithSettings(models.Settings{
			ErrorHandling:    models.ErrorHandlingRetry,
			MaxExecutionTime: models.Duration(time.Minute),
		}),
	)
	job := h.job(t, wf, models.TriggerKindManual, nil)

	outcome, err := h.walker.Run(context.Background(), wf, job)
	require.NoError(t, err)
	require.Equal(t, workflow.OutcomeRetry, outcome.Kind)

	// The job waits out its backoff in the queue for longer than the budget.
	h.clock.Advance(5 * time.Minute)
	h.sender.fail("n1", nil)
	job.Attempts = 1

	outcome, err = h.walker.Run(context.Background(), wf, job)
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeCompleted, outcome.Kind)
	assert.Equal(t, 2, h.sender.callCount("n1"))
}

func TestWalker_ParallelBranchesAreBounded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sender.hold = 20 * time.Millisecond

	branches := []string{"b1", "b2", "b3", "b4", "b5"}
	wf := testutil.CreateTestWorkflow(testutil.WithSettings(models.Settings{
		ExecutionMode:       models.ExecutionModeParallel,
		MaxParallelBranches: 2,
	}))

	for _, id := range branches {
		wf.Nodes = append(wf.Nodes, send(id))
		wf.Edges = append(wf.Edges, testutil.CreateTestEdge("trigger", id))
	}

	outcome, err := h.walker.Run(context.Background(), wf, h.job(t, wf, models.TriggerKindManual, nil))
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeCompleted, outcome.Kind)
	assert.ElementsMatch(t, append([]string{"trigger"}, branches...), outcome.Execution.CompletedNodes)
	assert.LessOrEqual(t, h.sender.maxInFlight, 2)
	assert.Len(t, outcome.Execution.TakenEdges, len(branches))
}

func TestWalker_OnlyMatchingTriggerIsRoot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	wf := testutil.CreateTestWorkflow(func(w *models.Workflow) {
		w.Nodes = []*models.Node{
			testutil.CreateTestNode("api", models.NodeKindTrigger, testutil.WithTriggerKind(models.TriggerKindAPI)),
			testutil.CreateTestNode("form", models.NodeKindTrigger, testutil.WithTriggerKind(models.TriggerKindFormSubmission)),
			send("from-api"),
			send("from-form"),
		}
		w.Edges = []*models.Edge{
			testutil.CreateTestEdge("api", "from-api"),
			testutil.CreateTestEdge("form", "from-form"),
		}
	})

	outcome, err := h.walker.Run(context.Background(), wf, h.job(t, wf, models.TriggerKindAPI, nil))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"api", "from-api"}, outcome.Execution.CompletedNodes)
	assert.Equal(t, map[string]models.SkipReason{
		"form":      models.SkipReasonInactiveTrigger,
		"from-form": models.SkipReasonBranchNotTaken,
	}, skipReasons(outcome.Execution))
}

func TestWalker_DisabledNodePassesThrough(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(
			testutil.CreateTestNode("off", models.NodeKindMessageSend, testutil.WithDisabled()),
			send("after"),
		),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "off"),
			testutil.CreateTestEdge("off", "after"),
		),
	)

	outcome, err := h.walker.Run(context.Background(), wf, h.job(t, wf, models.TriggerKindManual, nil))
	require.NoError(t, err)

	assert.Equal(t, 0, h.sender.callCount("off"))
	assert.Equal(t, 1, h.sender.callCount("after"))
	assert.Equal(t, map[string]any{}, outcome.Execution.Context["off"])
}

func TestWalker_TerminalExecutionIsNotRerun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	wf := urgencyWorkflow()
	job := h.job(t, wf, models.TriggerKindManual, map[string]any{"urgency": "low"})

	_, err := h.walker.Run(context.Background(), wf, job)
	require.NoError(t, err)

	outcome, err := h.walker.Run(context.Background(), wf, job)
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomeCompleted, outcome.Kind)
	assert.Equal(t, 1, h.sender.callCount("email"))
}

func TestWalker_UpstreamReferences(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	wf := testutil.CreateTestWorkflow(
		testutil.WithNodes(
			testutil.CreateTestNode("shape", models.NodeKindTransform, testutil.WithConfig(map[string]any{
				"fields": map[string]any{"greeting": "Hello {{name}}", "count": "{{len(items)}}"},
			})),
			testutil.CreateTestNode("notify", models.NodeKindMessageSend, testutil.WithConfig(map[string]any{
				"to": "{{shape.greeting}}",
			})),
		),
		testutil.WithEdges(
			testutil.CreateTestEdge("trigger", "shape"),
			testutil.CreateTestEdge("shape", "notify"),
		),
	)

	outcome, err := h.walker.Run(context.Background(), wf,
		h.job(t, wf, models.TriggerKindManual, map[string]any{"name": "Ada", "items": []any{1, 2}}))
	require.NoError(t, err)

	notify, ok := outcome.Execution.Context["notify"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Hello Ada", notify["to"])
}

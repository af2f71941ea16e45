// Package dispatcher admits trigger events: it authorizes the caller,
// applies backpressure and usage checks, then creates the execution record
// and enqueues its job.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mrlynn/netpad-v3-sub010/pkg/auth"
	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/queue"
	"github.com/mrlynn/netpad-v3-sub010/pkg/usage"
)

// StatusQueued is the status reported for an accepted trigger.
const StatusQueued = "queued"

// Request is one trigger event.
type Request struct {
	Kind       models.TriggerKind
	WorkflowID string
	Payload    map[string]any
	// Principal is required for internal kinds.
	Principal *auth.Principal
	// Token is the execution token presented by public callers.
	Token  string
	Source models.TriggerSource
}

// Result acknowledges an accepted trigger.
type Result struct {
	ExecutionID string `json:"executionId"`
	JobID       string `json:"jobId,omitempty"`
	Status      string `json:"status"`
}

// Observer counts admissions; code is "accepted" or the rejection code.
type Observer interface {
	RecordAdmission(kind models.TriggerKind, code string)
}

// CodeAccepted is reported to the Observer for admitted triggers.
const CodeAccepted = "accepted"

// Dispatcher is the trigger dispatcher.
type Dispatcher struct {
	workflows  persistence.WorkflowRepository
	queue      *queue.Queue
	executions *execution.Manager
	meter      usage.Meter
	authorizer auth.Authorizer
	logger     *slog.Logger
	observer   Observer
	now        func() time.Time
	newID      func() string
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithObserver reports admissions to observer.
func WithObserver(observer Observer) Option {
	return func(d *Dispatcher) {
		d.observer = observer
	}
}

// WithIDGenerator replaces the execution id generator.
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) {
		d.newID = newID
	}
}

// New creates a dispatcher.
func New(
	workflows persistence.WorkflowRepository,
	jobs *queue.Queue,
	executions *execution.Manager,
	meter usage.Meter,
	authorizer auth.Authorizer,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		workflows:  workflows,
		queue:      jobs,
		executions: executions,
		meter:      meter,
		authorizer: authorizer,
		logger:     logger.With("module", "dispatcher"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch admits req and returns the queued execution.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	result, err := d.dispatch(ctx, req)

	if d.observer != nil {
		code := CodeAccepted
		if err != nil {
			code = CodeInternal
			if admission, ok := AsAdmissionError(err); ok {
				code = admission.Code
			}
		}

		d.observer.RecordAdmission(req.Kind, code)
	}

	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (*Result, error) {
	logger := d.logger.With("workflow_id", req.WorkflowID, "trigger_type", req.Kind)

	if !req.Kind.Valid() {
		return nil, reject(CodeValidation, fmt.Sprintf("unknown trigger kind %q", req.Kind), ErrInvalidRequest)
	}

	if req.WorkflowID == "" {
		return nil, reject(CodeValidation, "workflow id is required", ErrInvalidRequest)
	}

	workflow, err := d.workflows.GetByID(ctx, req.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, reject(CodeWorkflowNotFound, "workflow not found", ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", req.WorkflowID, err)
	}

	if req.Kind.IsPublic() {
		err = d.admitPublic(ctx, workflow, req)
	} else {
		err = d.admitInternal(ctx, workflow, req)
	}

	if err != nil {
		logger.InfoContext(ctx, "Trigger rejected", "error", err)

		return nil, err
	}

	metered := req.Kind.IsPublic()

	result, err := d.enqueue(ctx, workflow, req)
	if err != nil {
		if metered {
			releaseErr := d.meter.ReleaseExecutionUsage(context.WithoutCancel(ctx), workflow.OrgID)
			if releaseErr != nil {
				logger.WarnContext(ctx, "Failed to release execution usage", "error", releaseErr)
			}
		}

		return nil, err
	}

	logger.InfoContext(ctx, "Trigger accepted", "execution_id", result.ExecutionID, "job_id", result.JobID)

	return result, nil
}

// admitPublic runs the unauthenticated checks: exposure, token, status,
// then backpressure before usage so a full queue never consumes quota.
func (d *Dispatcher) admitPublic(ctx context.Context, workflow *models.Workflow, req Request) error {
	if !publiclyExecutable(workflow, req.Kind) {
		err := reject(CodeWorkflowNotFound, "workflow not found", ErrWorkflowNotFound)
		err.Forbidden = true

		return err
	}

	if workflow.RequiresExecutionToken() && !VerifyToken(req.Token, workflow.ExecutionTokenHash) {
		return reject(CodeInvalidToken, "execution token is missing or invalid", ErrInvalidToken)
	}

	if !workflow.IsActive() {
		return reject(CodeWorkflowNotActive, "workflow is not active", ErrWorkflowNotActive)
	}

	if len(workflow.RootsFor(req.Kind)) == 0 {
		return reject(CodeValidation, fmt.Sprintf("workflow has no %s trigger", req.Kind), ErrInvalidRequest)
	}

	err := d.queue.CheckCapacity(ctx, workflow.OrgID)
	if err != nil {
		return queueFull(err)
	}

	u, err := d.meter.CheckAndIncrementExecutionUsage(ctx, workflow.OrgID, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to check execution usage: %w", err)
	}

	if !u.Allowed {
		return &AdmissionError{
			Code:    CodeLimitExceeded,
			Message: fmt.Sprintf("monthly execution limit of %d reached", u.Limit),
			Usage:   &u,
			Err:     ErrLimitExceeded,
		}
	}

	return nil
}

// publiclyExecutable reports whether unauthenticated callers may fire
// kind. Webhooks are also accepted when a trigger node explicitly roots
// them.
func publiclyExecutable(workflow *models.Workflow, kind models.TriggerKind) bool {
	if workflow.AllowPublicExecution {
		return true
	}

	if kind != models.TriggerKindWebhook {
		return false
	}

	for _, node := range workflow.TriggerNodes() {
		if node.TriggerKind() == models.TriggerKindWebhook {
			return true
		}
	}

	return false
}

func (d *Dispatcher) admitInternal(ctx context.Context, workflow *models.Workflow, req Request) error {
	if req.Principal == nil {
		return reject(CodeUnauthorized, "authentication required", ErrUnauthorized)
	}

	err := d.authorizer.AuthorizeWorkflow(ctx, req.Principal, workflow)
	if err != nil {
		return reject(CodeUnauthorized, "not allowed to trigger this workflow", errors.Join(ErrUnauthorized, err))
	}

	if !workflow.IsActive() {
		return reject(CodeWorkflowNotActive, "workflow is not active", ErrWorkflowNotActive)
	}

	if len(workflow.RootsFor(req.Kind)) == 0 {
		return reject(CodeValidation, fmt.Sprintf("workflow has no %s trigger", req.Kind), ErrInvalidRequest)
	}

	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, workflow *models.Workflow, req Request) (*Result, error) {
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	source := req.Source
	if req.Principal != nil && source.ActorID == "" {
		source.ActorID = req.Principal.Subject
	}

	trigger := models.Trigger{Type: req.Kind, Payload: payload, Source: source}
	now := d.now()
	exec := models.NewExecution(d.newID(), workflow, trigger, now)

	err := d.executions.Create(ctx, exec)
	if err != nil {
		return nil, err
	}

	policy := workflow.Settings.RetryPolicy

	jobID, err := d.queue.Enqueue(ctx, queue.EnqueueRequest{
		WorkflowID:  workflow.ID,
		ExecutionID: exec.ID,
		OrgID:       workflow.OrgID,
		Trigger:     trigger,
		RunAt:       now,
		MaxAttempts: policy.EffectiveMaxAttempts(),
		Backoff:     policy.Backoff(),
	})
	if err != nil {
		// The caller is told the trigger was rejected, so no execution may
		// be left behind for it.
		discardErr := d.executions.Discard(context.WithoutCancel(ctx), exec.ID)
		if discardErr != nil {
			d.logger.WarnContext(ctx, "Failed to discard unqueued execution", "execution_id", exec.ID, "error", discardErr)
		}

		if queue.IsQueueFull(err) {
			return nil, queueFull(err)
		}

		return nil, fmt.Errorf("failed to enqueue execution %s: %w", exec.ID, err)
	}

	return &Result{ExecutionID: exec.ID, JobID: jobID, Status: StatusQueued}, nil
}

func queueFull(err error) error {
	return reject(CodeQueueFull, "too many executions are queued, retry later", errors.Join(ErrQueueFull, err))
}

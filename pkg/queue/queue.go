// Package queue implements the durable job queue: admission with
// per-organization backpressure, exactly-one claim, retries with
// exponential backoff and the maintenance operations around them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

// Config holds queue policy. It is constructed once per process.
type Config struct {
	// MaxDepth caps pending+processing jobs per organization; <= 0 disables it.
	MaxDepth int
	// DefaultMaxAttempts applies when an enqueue request leaves it unset.
	DefaultMaxAttempts int
	// VisibilityTimeout is how long a job may stay processing before the
	// sweeper treats its worker as dead.
	VisibilityTimeout time.Duration
	// Retention is how long finished jobs are kept before Purge removes them.
	Retention time.Duration
}

// Observer receives queue state changes; metrics implement it.
type Observer interface {
	JobEnqueued(orgID string)
	JobClaimed(wait time.Duration)
	JobFinished(status models.JobStatus)
	JobRetried()
}

// Queue is the job queue service shared by dispatchers and workers.
type Queue struct {
	jobs     persistence.JobRepository
	config   Config
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// Option customizes a Queue.
type Option func(*Queue)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithObserver registers an observer for queue transitions.
func WithObserver(observer Observer) Option {
	return func(q *Queue) {
		q.observer = observer
	}
}

// New creates a queue over the given job repository.
func New(jobs persistence.JobRepository, config Config, logger *slog.Logger, opts ...Option) *Queue {
	if config.DefaultMaxAttempts <= 0 {
		config.DefaultMaxAttempts = models.DefaultMaxAttempts
	}

	q := &Queue{
		jobs:   jobs,
		config: config,
		logger: logger.With("module", "queue"),
		now:    func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// MaxDepth returns the configured per-organization ceiling.
func (q *Queue) MaxDepth() int {
	return q.config.MaxDepth
}

// EnqueueRequest describes a job to insert.
type EnqueueRequest struct {
	WorkflowID  string
	ExecutionID string
	OrgID       string
	Trigger     models.Trigger
	// RunAt is the earliest eligible time; zero means now.
	RunAt       time.Time
	MaxAttempts int
	Backoff     models.Backoff
}

// Enqueue inserts a pending job, failing with *QueueFullError when the
// organization is at its ceiling.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	return q.enqueue(ctx, req, q.config.MaxDepth)
}

// EnqueueResume schedules a follow-up job for an execution that is already
// admitted, such as one resuming after a delay. It bypasses backpressure.
func (q *Queue) EnqueueResume(ctx context.Context, req EnqueueRequest) (string, error) {
	return q.enqueue(ctx, req, 0)
}

func (q *Queue) enqueue(ctx context.Context, req EnqueueRequest, maxDepth int) (string, error) {
	now := q.now()

	runAt := req.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.config.DefaultMaxAttempts
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		WorkflowID:  req.WorkflowID,
		ExecutionID: req.ExecutionID,
		OrgID:       req.OrgID,
		Status:      models.JobStatusPending,
		MaxAttempts: maxAttempts,
		Backoff:     req.Backoff,
		Trigger:     req.Trigger,
		RunAt:       runAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := q.jobs.Insert(ctx, job, maxDepth)
	if err != nil {
		if errors.Is(err, persistence.ErrQueueFull) {
			return "", &QueueFullError{OrgID: req.OrgID, Limit: maxDepth}
		}

		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.DebugContext(ctx, "Job enqueued",
		"job_id", job.ID, "execution_id", job.ExecutionID, "org_id", job.OrgID, "run_at", job.RunAt)

	if q.observer != nil {
		q.observer.JobEnqueued(job.OrgID)
	}

	return job.ID, nil
}

// Claim atomically takes the earliest eligible job for workerID. It returns
// nil, nil when nothing is eligible; that is not an error.
func (q *Queue) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	job, err := q.jobs.ClaimNext(ctx, workerID, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if job == nil {
		return nil, nil
	}

	q.logger.DebugContext(ctx, "Job claimed", "job_id", job.ID, "worker_id", workerID, "attempts", job.Attempts)

	if q.observer != nil {
		q.observer.JobClaimed(job.WaitTime(q.now()))
	}

	return job, nil
}

// Complete marks a processing job completed. Only the worker holding the
// claim may complete it.
func (q *Queue) Complete(ctx context.Context, jobID, workerID string) error {
	job, err := q.processing(ctx, jobID, workerID)
	if err != nil {
		return err
	}

	now := q.now()
	job.Status = models.JobStatusCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now

	err = q.jobs.Transition(ctx, job, models.JobStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}

	if q.observer != nil {
		q.observer.JobFinished(models.JobStatusCompleted)
	}

	return nil
}

// Fail records a failed attempt. While attempts remain the job returns to
// pending with runAt pushed out by the backoff; otherwise it is failed
// permanently. The updated job is returned so callers can tell which. Like
// Complete it requires workerID to still hold the claim.
func (q *Queue) Fail(ctx context.Context, jobID, workerID string, cause error) (*models.Job, error) {
	job, err := q.processing(ctx, jobID, workerID)
	if err != nil {
		return nil, err
	}

	q.applyFailure(job, cause)

	err = q.jobs.Transition(ctx, job, models.JobStatusProcessing, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to record job failure %s: %w", jobID, err)
	}

	q.report(ctx, job)

	return job, nil
}

// applyFailure mutates job for one failed attempt. The delay before the
// next attempt is initialDelay * multiplier^attempts, using the attempt
// count before this failure, so the first retry waits initialDelay.
func (q *Queue) applyFailure(job *models.Job, cause error) {
	now := q.now()

	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}

	job.LastError = message
	job.UpdatedAt = now
	job.ClaimedBy = ""
	job.ClaimedAt = nil

	if job.Attempts+1 < job.MaxAttempts {
		delay := job.Backoff.Delay(job.Attempts)
		job.Attempts++
		job.Status = models.JobStatusPending
		job.RunAt = now.Add(delay)

		return
	}

	job.Attempts++
	job.Status = models.JobStatusFailed
	job.CompletedAt = &now
}

func (q *Queue) report(ctx context.Context, job *models.Job) {
	if job.Status == models.JobStatusFailed {
		q.logger.WarnContext(ctx, "Job failed permanently",
			"job_id", job.ID, "execution_id", job.ExecutionID, "attempts", job.Attempts, "error", job.LastError)

		if q.observer != nil {
			q.observer.JobFinished(models.JobStatusFailed)
		}

		return
	}

	q.logger.InfoContext(ctx, "Job scheduled for retry",
		"job_id", job.ID, "attempts", job.Attempts, "run_at", job.RunAt, "error", job.LastError)

	if q.observer != nil {
		q.observer.JobRetried()
	}
}

func (q *Queue) processing(ctx context.Context, jobID, workerID string) (*models.Job, error) {
	job, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != models.JobStatusProcessing {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotClaimed, jobID, job.Status)
	}

	if job.ClaimedBy != workerID {
		return nil, fmt.Errorf("%w: job %s is held by %s", ErrNotClaimed, jobID, job.ClaimedBy)
	}

	return job, nil
}

// QueueStatus returns job counts for an organization; an empty orgID
// counts every organization.
func (q *Queue) QueueStatus(ctx context.Context, orgID string) (models.QueueStatus, error) {
	status, err := q.jobs.Counts(ctx, orgID)
	if err != nil {
		return models.QueueStatus{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	return status, nil
}

// CheckCapacity returns *QueueFullError when orgID is at its ceiling. It is
// the read-only admission check run before any quota is consumed; Enqueue
// re-checks atomically.
func (q *Queue) CheckCapacity(ctx context.Context, orgID string) error {
	if q.config.MaxDepth <= 0 {
		return nil
	}

	status, err := q.QueueStatus(ctx, orgID)
	if err != nil {
		return err
	}

	if status.Depth() >= q.config.MaxDepth {
		return &QueueFullError{OrgID: orgID, Limit: q.config.MaxDepth}
	}

	return nil
}

// Get returns one job.
func (q *Queue) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return q.jobs.Get(ctx, jobID)
}

// JobView is a job as shown by the admin API, with the computed fields
// the listing needs.
type JobView struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflowId"`
	ExecutionID string           `json:"executionId"`
	OrgID       string           `json:"orgId"`
	Status      models.JobStatus `json:"status"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"maxAttempts"`
	RunAt       time.Time        `json:"runAt"`
	LastError   string           `json:"lastError,omitempty"`
	ClaimedBy   string           `json:"claimedBy,omitempty"`
	ClaimedAt   *time.Time       `json:"claimedAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	CanRetry    bool             `json:"canRetry"`
	CanCancel   bool             `json:"canCancel"`
	WaitTimeMs  int64            `json:"waitTimeMs"`
}

// View builds the admin view of job as of the queue clock.
func (q *Queue) View(job *models.Job) JobView {
	return JobView{
		ID:          job.ID,
		WorkflowID:  job.WorkflowID,
		ExecutionID: job.ExecutionID,
		OrgID:       job.OrgID,
		Status:      job.Status,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		RunAt:       job.RunAt,
		LastError:   job.LastError,
		ClaimedBy:   job.ClaimedBy,
		ClaimedAt:   job.ClaimedAt,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
		CanRetry:    job.CanRetry(),
		CanCancel:   job.CanCancel(),
		WaitTimeMs:  job.WaitTime(q.now()).Milliseconds(),
	}
}

// List returns jobs matching filter with computed admin fields.
func (q *Queue) List(ctx context.Context, filter persistence.JobFilter) ([]JobView, error) {
	jobs, err := q.jobs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	views := make([]JobView, 0, len(jobs))

	for _, job := range jobs {
		views = append(views, q.View(job))
	}

	return views, nil
}

// Retry requeues a permanently failed job with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !job.CanRetry() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotRetryable, jobID, job.Status)
	}

	now := q.now()
	job.Status = models.JobStatusPending
	job.Attempts = 0
	job.RunAt = now
	job.CompletedAt = nil
	job.UpdatedAt = now

	err = q.jobs.Transition(ctx, job, models.JobStatusFailed, "")
	if err != nil {
		return nil, fmt.Errorf("failed to retry job %s: %w", jobID, err)
	}

	q.logger.InfoContext(ctx, "Job manually requeued", "job_id", job.ID)

	return job, nil
}

// Cancel fails a job that has not been claimed yet.
func (q *Queue) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := q.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !job.CanCancel() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotCancellable, jobID, job.Status)
	}

	now := q.now()
	job.Status = models.JobStatusFailed
	job.LastError = "cancelled"
	job.CompletedAt = &now
	job.UpdatedAt = now

	err = q.jobs.Transition(ctx, job, models.JobStatusPending, "")
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}

	return job, nil
}

// CancelForExecution cancels every pending job of an execution. Jobs
// already processing are left to observe the cancellation themselves.
func (q *Queue) CancelForExecution(ctx context.Context, executionID string) (int, error) {
	jobs, err := q.jobs.List(ctx, persistence.JobFilter{ExecutionID: executionID, Status: models.JobStatusPending})
	if err != nil {
		return 0, err
	}

	cancelled := 0

	for _, job := range jobs {
		_, err := q.Cancel(ctx, job.ID)
		if err != nil {
			if persistence.IsConflict(err) || errors.Is(err, ErrNotCancellable) {
				continue
			}

			return cancelled, err
		}

		cancelled++
	}

	return cancelled, nil
}

// RequeueStale treats processing jobs whose claim is older than the
// visibility timeout as failed attempts of a crashed worker. Jobs are
// requeued with backoff, or failed once attempts are exhausted, so a job
// that keeps killing workers cannot loop forever.
func (q *Queue) RequeueStale(ctx context.Context) ([]*models.Job, error) {
	if q.config.VisibilityTimeout <= 0 {
		return nil, nil
	}

	stale, err := q.jobs.Stale(ctx, q.now().Add(-q.config.VisibilityTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	var requeued []*models.Job

	for _, job := range stale {
		owner := job.ClaimedBy
		q.applyFailure(job, fmt.Errorf("visibility timeout of %s exceeded", q.config.VisibilityTimeout))

		err := q.jobs.Transition(ctx, job, models.JobStatusProcessing, owner)
		if err != nil {
			if persistence.IsConflict(err) {
				continue
			}

			return requeued, err
		}

		q.report(ctx, job)
		requeued = append(requeued, job)
	}

	return requeued, nil
}

// Purge removes finished jobs older than the retention window.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	if q.config.Retention <= 0 {
		return 0, nil
	}

	return q.jobs.Purge(ctx, q.now().Add(-q.config.Retention))
}

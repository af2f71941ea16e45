package models

import (
	"math"
	"time"
)

// JobStatus is the queue state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Active reports whether the job still counts against queue depth.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Backoff holds the exponential retry delay parameters for a job.
type Backoff struct {
	InitialDelay Duration `json:"initial_delay" bson:"initial_delay"`
	Multiplier   float64  `json:"multiplier" bson:"multiplier"`
	MaxDelay     Duration `json:"max_delay" bson:"max_delay"`
}

// Delay returns initialDelay * multiplier^attempts, capped by MaxDelay.
// A multiplier below one is treated as one so the delay never shrinks.
func (b Backoff) Delay(attempts int) time.Duration {
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	if attempts < 0 {
		attempts = 0
	}

	delay := float64(b.InitialDelay) * math.Pow(multiplier, float64(attempts))

	if b.MaxDelay > 0 && (delay > float64(b.MaxDelay) || math.IsInf(delay, 1) || math.IsNaN(delay)) {
		return b.MaxDelay.Duration()
	}

	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

// Job is a claimable unit of work that runs (or resumes) one execution.
type Job struct {
	ID          string     `json:"id" bson:"_id"`
	WorkflowID  string     `json:"workflow_id" bson:"workflow_id"`
	ExecutionID string     `json:"execution_id" bson:"execution_id"`
	OrgID       string     `json:"org_id" bson:"org_id"`
	Status      JobStatus  `json:"status" bson:"status"`
	Attempts    int        `json:"attempts" bson:"attempts"`
	MaxAttempts int        `json:"max_attempts" bson:"max_attempts"`
	Backoff     Backoff    `json:"backoff" bson:"backoff"`
	Trigger     Trigger    `json:"trigger" bson:"trigger"`
	RunAt       time.Time  `json:"run_at" bson:"run_at"`
	LastError   string     `json:"last_error,omitempty" bson:"last_error,omitempty"`
	ClaimedBy   string     `json:"claimed_by,omitempty" bson:"claimed_by,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty" bson:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// CanRetry reports whether an operator may requeue the job.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed
}

// CanCancel reports whether the job can still be cancelled.
func (j *Job) CanCancel() bool {
	return j.Status == JobStatusPending
}

// WaitTime returns how long the job waited (or has been waiting) since it
// became eligible.
func (j *Job) WaitTime(now time.Time) time.Duration {
	end := now
	if j.ClaimedAt != nil {
		end = *j.ClaimedAt
	}

	if end.Before(j.RunAt) {
		return 0
	}

	return end.Sub(j.RunAt)
}

// QueueStatus aggregates job counts for one organization.
type QueueStatus struct {
	Pending    int `json:"pending" bson:"pending"`
	Processing int `json:"processing" bson:"processing"`
	Failed     int `json:"failed" bson:"failed"`
	Completed  int `json:"completed" bson:"completed"`
}

// Depth returns the number of jobs that count against backpressure.
func (s QueueStatus) Depth() int {
	return s.Pending + s.Processing
}

// Package persistence provides the storage abstraction for workflows, jobs,
// executions and execution logs.
package persistence

import (
	"context"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
)

// Persistence bundles the repositories of one durable store.
type Persistence interface {
	Workflows() WorkflowRepository
	Jobs() JobRepository
	Executions() ExecutionRepository
	Logs() LogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowFilter narrows workflow listings. Zero values match everything.
type WorkflowFilter struct {
	OrgID  string
	Status models.WorkflowStatus
}

type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	// GetByID returns ErrWorkflowNotFound when no workflow matches.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context, filter WorkflowFilter) ([]*models.Workflow, error)
	// Delete removes the workflow and every version snapshot of it.
	Delete(ctx context.Context, id string) error

	// SaveVersion stores the definition executions of workflow.Version run
	// against. Publishing calls it once per version.
	SaveVersion(ctx context.Context, workflow *models.Workflow) error
	// GetVersion returns ErrWorkflowNotFound when no snapshot exists.
	GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error)
}

// JobFilter narrows job listings. Limit <= 0 means the store default.
type JobFilter struct {
	OrgID       string
	Status      models.JobStatus
	ExecutionID string
	Limit       int
	Offset      int
}

type JobRepository interface {
	// Insert stores a pending job unless the organization already has
	// maxDepth or more pending+processing jobs, in which case it returns
	// ErrQueueFull. maxDepth <= 0 disables the check. The count and the
	// insert are atomic with respect to other inserts for the same org.
	Insert(ctx context.Context, job *models.Job, maxDepth int) error

	// ClaimNext atomically moves the earliest eligible pending job
	// (run_at <= now, ordered by run_at then created_at) to processing and
	// stamps it with workerID. Returns nil, nil when nothing is eligible.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.Job, error)

	// Transition persists job only if its stored status is still from and,
	// when claimedBy is set, the stored claim is still held by that worker;
	// otherwise it returns ErrConflict.
	Transition(ctx context.Context, job *models.Job, from models.JobStatus, claimedBy string) error

	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	Counts(ctx context.Context, orgID string) (models.QueueStatus, error)

	// Stale returns processing jobs claimed before cutoff.
	Stale(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// Purge deletes completed and failed jobs finished before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	OrgID      string
	WorkflowID string
	Status     models.ExecutionStatus
	Limit      int
	Offset     int
}

type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	// Get returns ErrExecutionNotFound when no execution matches.
	Get(ctx context.Context, id string) (*models.Execution, error)
	// Update writes execution when the stored revision equals
	// execution.Revision and increments it; otherwise returns ErrConflict.
	Update(ctx context.Context, execution *models.Execution) error
	List(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error)
	// Delete removes an execution and its log. Deleting a missing
	// execution is not an error.
	Delete(ctx context.Context, id string) error
}

type LogRepository interface {
	// Append stores entry and assigns its per-execution sequence number.
	Append(ctx context.Context, entry *models.ExecutionLog) error
	// List returns the entries of one execution in sequence order.
	List(ctx context.Context, executionID string) ([]*models.ExecutionLog, error)
}

// DocumentStore is the collection-oriented store used by data nodes.
type DocumentStore interface {
	Find(ctx context.Context, collection string, filter map[string]any, limit int) ([]map[string]any, error)
	Insert(ctx context.Context, collection string, document map[string]any) (string, error)
	UpdateOne(ctx context.Context, collection string, filter, update map[string]any) (int64, error)
}

// TenantCollection scopes a user-facing collection name to one organization.
func TenantCollection(orgID, collection string) string {
	if orgID == "" {
		return collection
	}

	return orgID + "__" + collection
}

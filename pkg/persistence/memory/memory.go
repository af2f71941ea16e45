// Package memory provides an in-process persistence implementation used by
// tests and single-binary development setups.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

// Persistence keeps every repository in process memory behind one mutex,
// which makes ClaimNext and the depth-checked Insert trivially atomic.
type Persistence struct {
	mu sync.Mutex

	workflows  persistence.WorkflowRepository
	jobs       map[string]*models.Job
	executions map[string]*models.Execution
	logs       map[string][]*models.ExecutionLog
	documents  map[string][]map[string]any
}

// Option customizes a memory Persistence.
type Option func(*Persistence)

// WithWorkflowRepository replaces the in-memory workflow repository, e.g.
// with the directory-backed one from the file package.
func WithWorkflowRepository(repo persistence.WorkflowRepository) Option {
	return func(p *Persistence) {
		p.workflows = repo
	}
}

// NewPersistence creates an empty store.
func NewPersistence(opts ...Option) *Persistence {
	p := &Persistence{
		jobs:       map[string]*models.Job{},
		executions: map[string]*models.Execution{},
		logs:       map[string][]*models.ExecutionLog{},
		documents:  map[string][]map[string]any{},
	}

	p.workflows = &workflowRepository{
		workflows: map[string]*models.Workflow{},
		versions:  map[string]map[int]*models.Workflow{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Persistence) Workflows() persistence.WorkflowRepository   { return p.workflows }
func (p *Persistence) Jobs() persistence.JobRepository             { return (*jobRepository)(p) }
func (p *Persistence) Executions() persistence.ExecutionRepository { return (*executionRepository)(p) }
func (p *Persistence) Logs() persistence.LogRepository             { return (*logRepository)(p) }

// Documents returns the in-memory document store.
func (p *Persistence) Documents() persistence.DocumentStore { return (*documentStore)(p) }

func (p *Persistence) HealthCheck(context.Context) error { return nil }
func (p *Persistence) Close(context.Context) error       { return nil }

type workflowRepository struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	versions  map[string]map[int]*models.Workflow
}

// copyWorkflow copies w down to node configs so callers editing the result
// never reach the stored definition.
func copyWorkflow(w *models.Workflow) *models.Workflow {
	c := *w
	c.Variables = maps.Clone(w.Variables)

	if w.Nodes != nil {
		c.Nodes = make([]*models.Node, len(w.Nodes))
		for i, node := range w.Nodes {
			n := *node
			n.Config = maps.Clone(node.Config)
			c.Nodes[i] = &n
		}
	}

	if w.Edges != nil {
		c.Edges = make([]*models.Edge, len(w.Edges))
		for i, edge := range w.Edges {
			e := *edge
			c.Edges[i] = &e
		}
	}

	return &c
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	r.workflows[workflow.ID] = copyWorkflow(workflow)

	return nil
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return copyWorkflow(workflow), nil
}

func (r *workflowRepository) List(_ context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(r.workflows))

	for _, w := range r.workflows {
		if filter.OrgID != "" && w.OrgID != filter.OrgID {
			continue
		}

		if filter.Status != "" && w.Status != filter.Status {
			continue
		}

		out = append(out, copyWorkflow(w))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return out, nil
}

func (r *workflowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.workflows, id)
	delete(r.versions, id)

	return nil
}

func (r *workflowRepository) SaveVersion(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.versions[workflow.ID]
	if !ok {
		versions = map[int]*models.Workflow{}
		r.versions[workflow.ID] = versions
	}

	versions[workflow.Version] = copyWorkflow(workflow)

	return nil
}

func (r *workflowRepository) GetVersion(_ context.Context, id string, version int) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.versions[id][version]
	if !ok {
		return nil, persistence.NewWorkflowError("GetVersion", id, persistence.ErrWorkflowNotFound)
	}

	return copyWorkflow(workflow), nil
}

type jobRepository Persistence

func copyJob(j *models.Job) *models.Job {
	c := *j

	return &c
}

func (r *jobRepository) activeCount(orgID string) int {
	n := 0

	for _, j := range r.jobs {
		if j.OrgID == orgID && j.Status.Active() {
			n++
		}
	}

	return n
}

func (r *jobRepository) Insert(_ context.Context, job *models.Job, maxDepth int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return persistence.NewJobError("Insert", job.ID, persistence.ErrDuplicate)
	}

	if maxDepth > 0 && r.activeCount(job.OrgID) >= maxDepth {
		return persistence.NewJobError("Insert", job.ID, persistence.ErrQueueFull)
	}

	r.jobs[job.ID] = copyJob(job)

	return nil
}

func (r *jobRepository) ClaimNext(_ context.Context, workerID string, now time.Time) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *models.Job

	for _, j := range r.jobs {
		if j.Status != models.JobStatusPending || j.RunAt.After(now) {
			continue
		}

		if next == nil || j.RunAt.Before(next.RunAt) ||
			(j.RunAt.Equal(next.RunAt) && j.CreatedAt.Before(next.CreatedAt)) ||
			(j.RunAt.Equal(next.RunAt) && j.CreatedAt.Equal(next.CreatedAt) && j.ID < next.ID) {
			next = j
		}
	}

	if next == nil {
		return nil, nil
	}

	claimedAt := now
	next.Status = models.JobStatusProcessing
	next.ClaimedBy = workerID
	next.ClaimedAt = &claimedAt
	next.UpdatedAt = now

	return copyJob(next), nil
}

func (r *jobRepository) Transition(_ context.Context, job *models.Job, from models.JobStatus, claimedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok {
		return persistence.NewJobError("Transition", job.ID, persistence.ErrJobNotFound)
	}

	if stored.Status != from || (claimedBy != "" && stored.ClaimedBy != claimedBy) {
		return persistence.NewJobError("Transition", job.ID, persistence.ErrConflict)
	}

	r.jobs[job.ID] = copyJob(job)

	return nil
}

func (r *jobRepository) Get(_ context.Context, id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, persistence.NewJobError("Get", id, persistence.ErrJobNotFound)
	}

	return copyJob(j), nil
}

func (r *jobRepository) List(_ context.Context, filter persistence.JobFilter) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Job

	for _, j := range r.jobs {
		if filter.OrgID != "" && j.OrgID != filter.OrgID {
			continue
		}

		if filter.Status != "" && j.Status != filter.Status {
			continue
		}

		if filter.ExecutionID != "" && j.ExecutionID != filter.ExecutionID {
			continue
		}

		out = append(out, copyJob(j))
	}

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })

	return paginate(out, filter.Limit, filter.Offset), nil
}

func (r *jobRepository) Counts(_ context.Context, orgID string) (models.QueueStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var status models.QueueStatus

	for _, j := range r.jobs {
		if orgID != "" && j.OrgID != orgID {
			continue
		}

		switch j.Status {
		case models.JobStatusPending:
			status.Pending++
		case models.JobStatusProcessing:
			status.Processing++
		case models.JobStatusFailed:
			status.Failed++
		case models.JobStatusCompleted:
			status.Completed++
		}
	}

	return status, nil
}

func (r *jobRepository) Stale(_ context.Context, cutoff time.Time) ([]*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Job

	for _, j := range r.jobs {
		if j.Status == models.JobStatusProcessing && j.ClaimedAt != nil && j.ClaimedAt.Before(cutoff) {
			out = append(out, copyJob(j))
		}
	}

	return out, nil
}

func (r *jobRepository) Purge(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0

	for id, j := range r.jobs {
		if j.Status.Active() {
			continue
		}

		finished := j.UpdatedAt
		if j.CompletedAt != nil {
			finished = *j.CompletedAt
		}

		if finished.Before(cutoff) {
			delete(r.jobs, id)

			purged++
		}
	}

	return purged, nil
}

type executionRepository Persistence

func (r *executionRepository) Create(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executions[execution.ID]; exists {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrDuplicate)
	}

	r.executions[execution.ID] = execution.Clone()

	return nil
}

func (r *executionRepository) Get(_ context.Context, id string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("Get", id, persistence.ErrExecutionNotFound)
	}

	return e.Clone(), nil
}

func (r *executionRepository) Update(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.executions[execution.ID]
	if !ok {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	if stored.Revision != execution.Revision {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrConflict)
	}

	execution.Revision++
	r.executions[execution.ID] = execution.Clone()

	return nil
}

func (r *executionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.executions, id)
	delete(r.logs, id)

	return nil
}

func (r *executionRepository) List(_ context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Execution

	for _, e := range r.executions {
		if filter.OrgID != "" && e.OrgID != filter.OrgID {
			continue
		}

		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}

		if filter.Status != "" && e.Status != filter.Status {
			continue
		}

		out = append(out, e.Clone())
	}

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })

	return paginate(out, filter.Limit, filter.Offset), nil
}

type logRepository Persistence

func (r *logRepository) Append(_ context.Context, entry *models.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.logs[entry.ExecutionID]
	entry.Sequence = int64(len(entries)) + 1

	c := *entry
	r.logs[entry.ExecutionID] = append(entries, &c)

	return nil
}

func (r *logRepository) List(_ context.Context, executionID string) ([]*models.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.logs[executionID]
	out := make([]*models.ExecutionLog, len(entries))

	for i, e := range entries {
		c := *e
		out[i] = &c
	}

	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}

	if offset >= len(items) {
		return []T{}
	}

	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}

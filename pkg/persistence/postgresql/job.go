package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

// JobRepository is the durable job queue table.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const jobColumns = `
	id
  , workflow_id
  , execution_id
  , org_id
  , status
  , attempts
  , max_attempts
  , backoff
  , trigger
  , run_at
  , last_error
  , claimed_by
  , claimed_at
  , created_at
  , updated_at
  , completed_at`

// Insert stores a pending job. The depth check and the insert run under a
// transaction-scoped advisory lock on the organization, so concurrent
// inserts for one org cannot both pass the check.
func (r *JobRepository) Insert(ctx context.Context, job *models.Job, maxDepth int) error {
	backoffJSON, triggerJSON, err := marshalJob(job)
	if err != nil {
		return persistence.NewJobError("Insert", job.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewJobError("Insert", job.ID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if maxDepth > 0 {
		_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('jobs:' || $1))`, job.OrgID)
		if err != nil {
			return persistence.NewJobError("Insert", job.ID, fmt.Errorf("failed to lock organization: %w", err))
		}

		var depth int

		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs WHERE org_id = $1 AND status IN ('pending', 'processing')`,
			job.OrgID,
		).Scan(&depth)
		if err != nil {
			return persistence.NewJobError("Insert", job.ID, fmt.Errorf("failed to count active jobs: %w", err))
		}

		if depth >= maxDepth {
			err = persistence.ErrQueueFull

			return persistence.NewJobError("Insert", job.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID,
		job.WorkflowID,
		job.ExecutionID,
		job.OrgID,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		backoffJSON,
		triggerJSON,
		job.RunAt,
		job.LastError,
		job.ClaimedBy,
		job.ClaimedAt,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewJobError("Insert", job.ID, persistence.ErrDuplicate)
		}

		return persistence.NewJobError("Insert", job.ID, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewJobError("Insert", job.ID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

// ClaimNext takes the earliest eligible pending job. Rows locked by a
// concurrent claim are skipped rather than waited on.
func (r *JobRepository) ClaimNext(ctx context.Context, workerID string, now time.Time) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing', claimed_by = $1, claimed_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_at <= $2
			ORDER BY run_at, created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		workerID, now,
	)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return job, nil
}

// Transition writes job if its stored status is still from and, when
// claimedBy is set, the claim has not moved to another worker.
func (r *JobRepository) Transition(ctx context.Context, job *models.Job, from models.JobStatus, claimedBy string) error {
	backoffJSON, triggerJSON, err := marshalJob(job)
	if err != nil {
		return persistence.NewJobError("Transition", job.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = $2,
			attempts = $3,
			max_attempts = $4,
			backoff = $5,
			trigger = $6,
			run_at = $7,
			last_error = $8,
			claimed_by = $9,
			claimed_at = $10,
			updated_at = $11,
			completed_at = $12
		WHERE id = $1 AND status = $13 AND ($14 = '' OR claimed_by = $14)`,
		job.ID,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		backoffJSON,
		triggerJSON,
		job.RunAt,
		job.LastError,
		job.ClaimedBy,
		job.ClaimedAt,
		job.UpdatedAt,
		job.CompletedAt,
		from,
		claimedBy,
	)
	if err != nil {
		return persistence.NewJobError("Transition", job.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewJobError("Transition", job.ID, err)
	}

	if affected == 1 {
		return nil
	}

	_, err = r.Get(ctx, job.ID)
	if err != nil {
		return err
	}

	return persistence.NewJobError("Transition", job.ID, persistence.ErrConflict)
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJobError("Get", id, persistence.ErrJobNotFound)
		}

		return nil, persistence.NewJobError("Get", id, err)
	}

	return job, nil
}

// List returns jobs matching filter, newest first.
func (r *JobRepository) List(ctx context.Context, filter persistence.JobFilter) ([]*models.Job, error) {
	return r.query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE ($1 = '' OR org_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR execution_id = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`,
		filter.OrgID, string(filter.Status), filter.ExecutionID, limitOrNull(filter.Limit), max(filter.Offset, 0),
	)
}

func (r *JobRepository) Counts(ctx context.Context, orgID string) (models.QueueStatus, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM jobs
		WHERE ($1 = '' OR org_id = $1)
		GROUP BY status`,
		orgID,
	)
	if err != nil {
		return models.QueueStatus{}, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	var status models.QueueStatus

	for rows.Next() {
		var (
			state models.JobStatus
			count int
		)

		err = rows.Scan(&state, &count)
		if err != nil {
			return models.QueueStatus{}, fmt.Errorf("failed to scan job count: %w", err)
		}

		switch state {
		case models.JobStatusPending:
			status.Pending = count
		case models.JobStatusProcessing:
			status.Processing = count
		case models.JobStatusFailed:
			status.Failed = count
		case models.JobStatusCompleted:
			status.Completed = count
		}
	}

	return status, rows.Err()
}

func (r *JobRepository) Stale(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	return r.query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'processing' AND claimed_at < $1
		ORDER BY claimed_at`,
		cutoff,
	)
}

func (r *JobRepository) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed')
		  AND COALESCE(completed_at, updated_at) < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	return int(affected), nil
}

func (r *JobRepository) query(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func marshalJob(job *models.Job) (backoffJSON, triggerJSON []byte, err error) {
	backoffJSON, err = json.Marshal(job.Backoff)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal backoff: %w", err)
	}

	triggerJSON, err = json.Marshal(job.Trigger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal trigger: %w", err)
	}

	return backoffJSON, triggerJSON, nil
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		job                      models.Job
		backoffJSON, triggerJSON []byte
		claimedAt, completedAt   sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.WorkflowID,
		&job.ExecutionID,
		&job.OrgID,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&backoffJSON,
		&triggerJSON,
		&job.RunAt,
		&job.LastError,
		&job.ClaimedBy,
		&claimedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(backoffJSON, &job.Backoff)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal backoff: %w", err)
	}

	err = json.Unmarshal(triggerJSON, &job.Trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	job.RunAt = job.RunAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.ClaimedAt = timePtr(claimedAt)
	job.CompletedAt = timePtr(completedAt)

	return &job, nil
}

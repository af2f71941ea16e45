package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

// ExecutionRepository stores execution records as JSONB documents with
// the filterable fields and the revision lifted into columns.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	document, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, org_id, status, revision, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		execution.ID,
		execution.WorkflowID,
		execution.OrgID,
		execution.Status,
		execution.Revision,
		document,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrDuplicate)
		}

		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, id string) (*models.Execution, error) {
	var document []byte

	err := r.db.QueryRowContext(ctx, `SELECT document FROM executions WHERE id = $1`, id).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("Get", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("Get", id, err)
	}

	execution, err := decodeExecution(document)
	if err != nil {
		return nil, persistence.NewExecutionError("Get", id, err)
	}

	return execution, nil
}

// Update writes execution only while the stored revision still equals
// execution.Revision. On success execution.Revision is incremented.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	expected := execution.Revision
	next := *execution
	next.Revision = expected + 1

	document, err := json.Marshal(&next)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE executions
		SET status = $2, revision = $3, document = $4, updated_at = $5
		WHERE id = $1 AND revision = $6`,
		execution.ID,
		execution.Status,
		next.Revision,
		document,
		execution.UpdatedAt,
		expected,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)`, execution.ID).Scan(&exists)
		if err != nil {
			return persistence.NewExecutionError("Update", execution.ID, err)
		}

		if !exists {
			return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrConflict)
	}

	execution.Revision = next.Revision

	return nil
}

// Delete removes the execution and its log in one transaction.
func (r *ExecutionRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewExecutionError("Delete", id, fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `DELETE FROM execution_logs WHERE execution_id = $1`, id)
	if err != nil {
		return persistence.NewExecutionError("Delete", id, err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return persistence.NewExecutionError("Delete", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewExecutionError("Delete", id, err)
	}

	return nil
}

// List returns executions matching filter, newest first.
func (r *ExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT document
		FROM executions
		WHERE ($1 = '' OR org_id = $1)
		  AND ($2 = '' OR workflow_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`,
		filter.OrgID, filter.WorkflowID, string(filter.Status), limitOrNull(filter.Limit), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		var document []byte

		err = rows.Scan(&document)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		execution, err := decodeExecution(document)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func decodeExecution(document []byte) (*models.Execution, error) {
	var execution models.Execution

	err := json.Unmarshal(document, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return &execution, nil
}

package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations. The
// graph and settings are stored as JSONB columns next to the indexed
// scalar fields.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const workflowColumns = `
	id
  , org_id
  , name
  , description
  , status
  , version
  , nodes
  , edges
  , settings
  , variables
  , allow_public_execution
  , execution_token_hash
  , created_at
  , updated_at
  , published_at`

// Save inserts or replaces a workflow.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	nodesJSON, err := json.Marshal(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(workflow.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	settingsJSON, err := json.Marshal(workflow.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	variablesJSON, err := json.Marshal(workflow.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			settings = EXCLUDED.settings,
			variables = EXCLUDED.variables,
			allow_public_execution = EXCLUDED.allow_public_execution,
			execution_token_hash = EXCLUDED.execution_token_hash,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.OrgID,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		workflow.Version,
		nodesJSON,
		edgesJSON,
		settingsJSON,
		variablesJSON,
		workflow.AllowPublicExecution,
		workflow.ExecutionTokenHash,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.PublishedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// GetByID returns a workflow by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// List returns workflows matching filter, newest first.
func (r *WorkflowRepository) List(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE ($1 = '' OR org_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, filter.OrgID, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// Delete removes a workflow and its version snapshots. Its executions and
// jobs are kept for audit.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM workflow_versions WHERE workflow_id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// SaveVersion stores the definition as one JSONB document keyed by
// (workflow_id, version).
func (r *WorkflowRepository) SaveVersion(ctx context.Context, workflow *models.Workflow) error {
	definition, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow version: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_versions (workflow_id, version, definition)
		VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id, version) DO UPDATE SET definition = EXCLUDED.definition
	`, workflow.ID, workflow.Version, definition)
	if err != nil {
		return persistence.NewWorkflowError("SaveVersion", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	var definition []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT definition FROM workflow_versions WHERE workflow_id = $1 AND version = $2`, id, version,
	).Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetVersion", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetVersion", id, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(definition, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow version: %w", err)
	}

	return &workflow, nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow                                     models.Workflow
		nodesJSON, edgesJSON, settingsJSON, varsJSON []byte
		publishedAt                                  sql.NullTime
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.OrgID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&workflow.Version,
		&nodesJSON,
		&edgesJSON,
		&settingsJSON,
		&varsJSON,
		&workflow.AllowPublicExecution,
		&workflow.ExecutionTokenHash,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		name string
		data []byte
		into any
	}{
		{"nodes", nodesJSON, &workflow.Nodes},
		{"edges", edgesJSON, &workflow.Edges},
		{"settings", settingsJSON, &workflow.Settings},
		{"variables", varsJSON, &workflow.Variables},
	} {
		if len(field.data) == 0 {
			continue
		}

		err = json.Unmarshal(field.data, field.into)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", field.name, err)
		}
	}

	workflow.CreatedAt = workflow.CreatedAt.UTC()
	workflow.UpdatedAt = workflow.UpdatedAt.UTC()
	workflow.PublishedAt = timePtr(publishedAt)

	return &workflow, nil
}

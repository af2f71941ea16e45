package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

type Workflow struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	now         func() time.Time
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence) *Workflow {
	return &Workflow{
		persistence: persistence,
		validate:    validator.New(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	OrgID  string
	Status models.WorkflowStatus
	Limit  int
	Offset int
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

var workflowStatuses = []models.WorkflowStatus{
	models.WorkflowStatusDraft,
	models.WorkflowStatusActive,
	models.WorkflowStatusPaused,
	models.WorkflowStatusArchived,
}

// ListWorkflows retrieves the workflows of an organization, newest first.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.Status != "" && !slices.Contains(workflowStatuses, req.Status) {
		return nil, NewValidationError(
			"ListWorkflows",
			"INVALID_STATUS",
			fmt.Sprintf("invalid status '%s'", req.Status),
			ErrInvalidStatus,
		)
	}

	all, err := w.persistence.Workflows().List(ctx, persistence.WorkflowFilter{OrgID: req.OrgID, Status: req.Status})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	total := len(all)
	start := min(req.Offset, total)
	end := min(start+req.Limit, total)

	return &ListWorkflowsResponse{
		Workflows:   all[start:end],
		TotalCount:  int64(total),
		HasNextPage: end < total,
	}, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.Workflows().GetByID(ctx, id)
}

// CreateWorkflowRequest is the editable part of a workflow.
type CreateWorkflowRequest struct {
	Name                 string          `json:"name"                   validate:"required,min=3"`
	Description          string          `json:"description"`
	Nodes                []*models.Node  `json:"nodes"                  validate:"dive"`
	Edges                []*models.Edge  `json:"edges"                  validate:"dive"`
	Settings             models.Settings `json:"settings"`
	Variables            map[string]any  `json:"variables,omitempty"`
	AllowPublicExecution bool            `json:"allow_public_execution"`
}

// Create adds a new draft workflow owned by orgID.
func (w *Workflow) Create(ctx context.Context, orgID string, req *CreateWorkflowRequest) (*models.Workflow, error) {
	if req == nil {
		return nil, ErrWorkflowNil
	}

	err := w.validate.Struct(req)
	if err != nil {
		return nil, NewValidationError("Create", "VALIDATION_ERROR", err.Error(), ErrInvalidRequest)
	}

	if strings.TrimSpace(orgID) == "" {
		return nil, NewValidationError("Create", "VALIDATION_ERROR", "organization is required", ErrInvalidRequest)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate workflow id: %w", err)
	}

	now := w.now()
	workflow := &models.Workflow{
		ID:                   id.String(),
		OrgID:                orgID,
		Name:                 req.Name,
		Description:          req.Description,
		Status:               models.WorkflowStatusDraft,
		Nodes:                nonNil(req.Nodes),
		Edges:                nonNil(req.Edges),
		Settings:             req.Settings,
		Variables:            req.Variables,
		AllowPublicExecution: req.AllowPublicExecution,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = w.persistence.Workflows().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// UpdateWorkflowRequest carries a partial update; nil fields are left as is.
type UpdateWorkflowRequest struct {
	Name                 *string          `json:"name,omitempty"                   validate:"omitempty,min=3"`
	Description          *string          `json:"description,omitempty"`
	Nodes                []*models.Node   `json:"nodes,omitempty"                  validate:"omitempty,dive"`
	Edges                []*models.Edge   `json:"edges,omitempty"                  validate:"omitempty,dive"`
	Settings             *models.Settings `json:"settings,omitempty"`
	Variables            map[string]any   `json:"variables,omitempty"`
	AllowPublicExecution *bool            `json:"allow_public_execution,omitempty"`
}

// Update merges req into the stored workflow. Active workflows are
// immutable until paused, so running executions always see the graph of
// the version they were started with.
func (w *Workflow) Update(ctx context.Context, workflowID string, req *UpdateWorkflowRequest) (*models.Workflow, error) {
	if req == nil {
		return nil, ErrWorkflowNil
	}

	err := w.validate.Struct(req)
	if err != nil {
		return nil, NewValidationError("Update", "VALIDATION_ERROR", err.Error(), ErrInvalidRequest)
	}

	return w.modify(ctx, "Update", workflowID, func(workflow *models.Workflow) error {
		if req.Name != nil {
			workflow.Name = *req.Name
		}

		if req.Description != nil {
			workflow.Description = *req.Description
		}

		if req.Nodes != nil {
			workflow.Nodes = req.Nodes
		}

		if req.Edges != nil {
			workflow.Edges = req.Edges
		}

		if req.Settings != nil {
			workflow.Settings = *req.Settings
		}

		if req.Variables != nil {
			workflow.Variables = req.Variables
		}

		if req.AllowPublicExecution != nil {
			workflow.AllowPublicExecution = *req.AllowPublicExecution
		}

		return nil
	})
}

// Delete removes a workflow by its ID.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	err := w.persistence.Workflows().Delete(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return err
		}

		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// modify loads an editable workflow, applies change and saves it.
func (w *Workflow) modify(ctx context.Context, op, workflowID string, change func(*models.Workflow) error) (*models.Workflow, error) {
	workflow, err := w.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	switch workflow.Status {
	case models.WorkflowStatusActive:
		return nil, &ServiceError{Op: op, Code: "WORKFLOW_ACTIVE", Err: ErrCannotModifyActive}
	case models.WorkflowStatusArchived:
		return nil, &ServiceError{Op: op, Code: "WORKFLOW_ARCHIVED", Err: ErrCannotModifyArchived}
	}

	err = change(workflow)
	if err != nil {
		return nil, err
	}

	workflow.UpdatedAt = w.now()

	err = w.persistence.Workflows().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}

	return items
}

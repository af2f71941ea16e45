// Package services implements the workflow definition lifecycle: editing
// drafts, publishing validated versions and issuing execution tokens.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrlynn/netpad-v3-sub010/pkg/dispatcher"
	"github.com/mrlynn/netpad-v3-sub010/pkg/eventbus"
	"github.com/mrlynn/netpad-v3-sub010/pkg/events"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/workflow"
)

// Publishing handles workflow status transitions and versioning.
type Publishing struct {
	persistence persistence.Persistence
	executors   workflow.ExecutorLookup
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewPublishing creates a new workflow publishing service. publisher may be
// nil, in which case no lifecycle events are emitted.
func NewPublishing(
	persistence persistence.Persistence,
	executors workflow.ExecutorLookup,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Publishing {
	return &Publishing{
		persistence: persistence,
		executors:   executors,
		publisher:   publisher,
		logger:      logger.With("module", "publishing"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PublishWorkflow validates a draft or paused workflow, bumps its version
// and makes it active.
func (p *Publishing) PublishWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	wf, err := p.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if wf.Status != models.WorkflowStatusDraft && wf.Status != models.WorkflowStatusPaused {
		return nil, &ServiceError{
			Op:      "PublishWorkflow",
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("cannot publish a %s workflow", wf.Status),
			Err:     ErrInvalidTransition,
		}
	}

	err = workflow.Validate(wf, p.executors)
	if err != nil {
		return nil, fmt.Errorf("workflow validation failed: %w", err)
	}

	now := p.now()
	wf.Version++
	wf.Status = models.WorkflowStatusActive
	wf.PublishedAt = &now
	wf.UpdatedAt = now

	// The snapshot goes first: an active version must always be loadable
	// by the executions it admits.
	err = p.persistence.Workflows().SaveVersion(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot workflow version: %w", err)
	}

	err = p.persistence.Workflows().Save(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to publish workflow: %w", err)
	}

	p.logger.InfoContext(ctx, "workflow published", "workflow_id", wf.ID, "version", wf.Version)

	if p.publisher != nil {
		event := events.WorkflowPublished{BaseEvent: events.NewBaseEvent(events.WorkflowPublishedEvent, wf.ID), Version: wf.Version}
		event.OrgID = wf.OrgID

		err = p.publisher.Publish(ctx, wf.ID, event)
		if err != nil {
			p.logger.WarnContext(ctx, "failed to publish workflow event", "workflow_id", wf.ID, "error", err)
		}
	}

	return wf, nil
}

// PauseWorkflow stops an active workflow from accepting triggers.
func (p *Publishing) PauseWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return p.transition(ctx, "PauseWorkflow", workflowID, models.WorkflowStatusPaused, models.WorkflowStatusActive)
}

// ArchiveWorkflow retires a workflow for good.
func (p *Publishing) ArchiveWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return p.transition(ctx, "ArchiveWorkflow", workflowID, models.WorkflowStatusArchived,
		models.WorkflowStatusDraft, models.WorkflowStatusActive, models.WorkflowStatusPaused)
}

// RotateExecutionToken issues a new execution token for public triggers and
// stores only its hash. The plaintext is returned once.
func (p *Publishing) RotateExecutionToken(ctx context.Context, workflowID string) (string, error) {
	wf, err := p.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return "", err
	}

	if wf.Status == models.WorkflowStatusArchived {
		return "", &ServiceError{Op: "RotateExecutionToken", Code: "WORKFLOW_ARCHIVED", Err: ErrCannotModifyArchived}
	}

	token, hash, err := dispatcher.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate execution token: %w", err)
	}

	wf.ExecutionTokenHash = hash
	wf.UpdatedAt = p.now()

	err = p.persistence.Workflows().Save(ctx, wf)
	if err != nil {
		return "", fmt.Errorf("failed to store execution token: %w", err)
	}

	return token, nil
}

// RevokeExecutionToken removes the token requirement from public triggers.
func (p *Publishing) RevokeExecutionToken(ctx context.Context, workflowID string) error {
	wf, err := p.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	wf.ExecutionTokenHash = ""
	wf.UpdatedAt = p.now()

	err = p.persistence.Workflows().Save(ctx, wf)
	if err != nil {
		return fmt.Errorf("failed to revoke execution token: %w", err)
	}

	return nil
}

func (p *Publishing) transition(
	ctx context.Context,
	op, workflowID string,
	to models.WorkflowStatus,
	from ...models.WorkflowStatus,
) (*models.Workflow, error) {
	wf, err := p.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	allowed := false

	for _, status := range from {
		if wf.Status == status {
			allowed = true

			break
		}
	}

	if !allowed {
		return nil, &ServiceError{
			Op:      op,
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("cannot move a %s workflow to %s", wf.Status, to),
			Err:     ErrInvalidTransition,
		}
	}

	wf.Status = to
	wf.UpdatedAt = p.now()

	err = p.persistence.Workflows().Save(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	p.logger.InfoContext(ctx, "workflow status changed", "workflow_id", wf.ID, "status", to)

	return wf, nil
}

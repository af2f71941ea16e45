package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/mrlynn/netpad-v3-sub010/pkg/auth"
	"github.com/mrlynn/netpad-v3-sub010/pkg/dispatcher"
	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/queue"
	"github.com/mrlynn/netpad-v3-sub010/pkg/registry"
	"github.com/mrlynn/netpad-v3-sub010/pkg/services"
	"github.com/mrlynn/netpad-v3-sub010/pkg/worker"
)

// Dependencies are the services behind the HTTP handlers. Processor is
// optional; without it the worker processing endpoint answers 503.
type Dependencies struct {
	Workflows  *services.Workflow
	Nodes      *services.Node
	Publishing *services.Publishing
	Dispatcher *dispatcher.Dispatcher
	Queue      *queue.Queue
	Executions *execution.Manager
	Processor  *worker.Processor
	Registry   *registry.Registry
	Validator  *validator.Validate
	Logger     *slog.Logger
}

type APIHandlers struct {
	workflowService   *services.Workflow
	nodeService       *services.Node
	publishingService *services.Publishing
	dispatcher        *dispatcher.Dispatcher
	queue             *queue.Queue
	executions        *execution.Manager
	processor         *worker.Processor
	registry          *registry.Registry
	validator         *validator.Validate
	authorizer        auth.Authorizer
	logger            *slog.Logger
}

func NewAPIHandlers(deps Dependencies) *APIHandlers {
	validate := deps.Validator
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandlers{
		workflowService:   deps.Workflows,
		nodeService:       deps.Nodes,
		publishingService: deps.Publishing,
		dispatcher:        deps.Dispatcher,
		queue:             deps.Queue,
		executions:        deps.Executions,
		processor:         deps.Processor,
		registry:          deps.Registry,
		validator:         validate,
		authorizer:        auth.NewOrgAuthorizer(),
		logger:            logger.With("module", "web"),
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := "Registry is healthy", true
	if h.registry == nil || len(h.registry.Kinds()) == 0 {
		registryCheck, regOk = "No node executors registered", false
	}

	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "NetPad workflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "NetPad workflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// GetNodeKinds lists the node kinds the registry can execute.
func (h *APIHandlers) GetNodeKinds(c fiber.Ctx) error {
	return c.JSON(h.registry.Describe())
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.workflowService.ListWorkflows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":     result.Workflows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

// parseListWorkflowsRequest scopes the listing to the caller's
// organization; admins may name another one with org_id.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{
		OrgID:  scopedOrg(c),
		Status: models.WorkflowStatus(c.Query("status")),
	}

	limit, offset, err := pagination(c)
	if err != nil {
		return nil, err
	}

	req.Limit = limit
	req.Offset = offset

	return req, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.ownedWorkflow(c, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req services.CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), principalOf(c).OrgID, &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	var req services.UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.ownedWorkflow(c, id); err != nil {
		return handleServiceError(c, err)
	}

	updated, err := h.workflowService.Update(c.Context(), id, &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.ownedWorkflow(c, id); err != nil {
		return handleServiceError(c, err)
	}

	if err := h.workflowService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishWorkflow(c fiber.Ctx) error {
	return h.changeStatus(c, h.publishingService.PublishWorkflow)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	return h.changeStatus(c, h.publishingService.PauseWorkflow)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	return h.changeStatus(c, h.publishingService.ArchiveWorkflow)
}

type statusChange func(ctx context.Context, workflowID string) (*models.Workflow, error)

func (h *APIHandlers) changeStatus(c fiber.Ctx, change statusChange) error {
	id := c.Params("id")

	if _, err := h.ownedWorkflow(c, id); err != nil {
		return handleServiceError(c, err)
	}

	workflow, err := change(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// RotateToken issues a new execution token for public execution.
func (h *APIHandlers) RotateToken(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.ownedWorkflow(c, id); err != nil {
		return handleServiceError(c, err)
	}

	token, err := h.publishingService.RotateExecutionToken(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TokenResponse{WorkflowID: id, Token: token})
}

func (h *APIHandlers) RevokeToken(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.ownedWorkflow(c, id); err != nil {
		return handleServiceError(c, err)
	}

	if err := h.publishingService.RevokeExecutionToken(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateWorkflowNode(c fiber.Ctx) error {
	id := c.Params("id")

	var req services.CreateNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.ownedWorkflow(c, id); err != nil {
		return handleServiceError(c, err)
	}

	node, err := h.nodeService.CreateNode(c.Context(), id, &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(node)
}

func (h *APIHandlers) GetWorkflowNode(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.ownedWorkflow(c, id); err != nil {
		return handleServiceError(c, err)
	}

	node, err := h.nodeService.GetNode(c.Context(), id, c.Params("nodeId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(node)
}

func (h *APIHandlers) UpdateWorkflowNode(c fiber.Ctx) error {
	id := c.Params("id")

	var req services.UpdateNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if _, err := h.ownedWorkflow(c, id); err != nil {
		return handleServiceError(c, err)
	}

	node, err := h.nodeService.UpdateNode(c.Context(), id, c.Params("nodeId"), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(node)
}

func (h *APIHandlers) DeleteWorkflowNode(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.ownedWorkflow(c, id); err != nil {
		return handleServiceError(c, err)
	}

	if err := h.nodeService.DeleteNode(c.Context(), id, c.Params("nodeId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ownedWorkflow loads a workflow the caller may manage. A workflow of
// another organization is reported as not found.
func (h *APIHandlers) ownedWorkflow(c fiber.Ctx, id string) (*models.Workflow, error) {
	if id == "" {
		return nil, services.NewValidationError("Fetch", "VALIDATION_ERROR", "workflow id is required", services.ErrInvalidRequest)
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return nil, err
	}

	principal := principalOf(c)
	if principal.HasRole(auth.RoleAdmin) {
		return workflow, nil
	}

	if err := h.authorizer.AuthorizeWorkflow(c.Context(), principal, workflow); err != nil {
		return nil, services.ErrWorkflowNotFound
	}

	return workflow, nil
}

// scopedOrg is the organization a listing is limited to: the caller's
// own, or the org_id an admin asks for. An admin's "*" lists every
// organization.
func scopedOrg(c fiber.Ctx) string {
	principal := principalOf(c)
	if principal == nil {
		return ""
	}

	if !principal.HasRole(auth.RoleAdmin) {
		return principal.OrgID
	}

	org := c.Query("org_id", principal.OrgID)
	if org == "*" {
		return ""
	}

	return org
}

func pagination(c fiber.Ctx) (int, int, error) {
	var limit, offset int

	if limitStr := c.Query("limit"); limitStr != "" {
		value, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}

		limit = value
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		value, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}

		offset = value
	}

	return limit, offset, nil
}

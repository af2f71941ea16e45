package web

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/mrlynn/netpad-v3-sub010/pkg/dispatcher"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
)

// ExecutionTokenHeader carries the execution token of public callers.
const ExecutionTokenHeader = "X-Execution-Token"

// TriggerWorkflow fires a manual or form submission trigger on behalf of
// the authenticated caller.
func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	var req TriggerRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if req.Type == "" {
		req.Type = models.TriggerKindManual
	}

	principal := principalOf(c)

	result, err := h.dispatcher.Dispatch(c.Context(), dispatcher.Request{
		Kind:       req.Type,
		WorkflowID: c.Params("id"),
		Payload:    req.Payload,
		Principal:  principal,
		Source:     source(c, principal.Subject),
	})
	if err != nil {
		return handleAdmissionError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}

// ExecuteWorkflow is the public execution endpoint. Rejections carry the
// stable admission code and nothing about the workflow's internals.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if req.Token == "" {
		req.Token = requestToken(c)
	}

	result, err := h.dispatcher.Dispatch(c.Context(), dispatcher.Request{
		Kind:       models.TriggerKindAPI,
		WorkflowID: c.Params("id"),
		Payload:    req.Payload,
		Token:      req.Token,
		Source:     source(c, ""),
	})
	if err != nil {
		return handleAdmissionError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"executionId": result.ExecutionID,
		"status":      result.Status,
	})
}

// ReceiveWebhook fires a webhook trigger. A JSON object body becomes the
// payload as is; any other body is wrapped under "body".
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	payload, err := webhookPayload(c.Body(), c.Get(fiber.HeaderContentType))
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.dispatcher.Dispatch(c.Context(), dispatcher.Request{
		Kind:       models.TriggerKindWebhook,
		WorkflowID: c.Params("id"),
		Payload:    payload,
		Token:      requestToken(c),
		Source:     source(c, ""),
	})
	if err != nil {
		return handleAdmissionError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"executionId": result.ExecutionID,
		"status":      result.Status,
	})
}

// GetExecutionStatus returns the sanitized execution, optionally with its
// ordered log. Execution ids are unguessable, so the route is public.
func (h *APIHandlers) GetExecutionStatus(c fiber.Ctx) error {
	withLogs, _ := strconv.ParseBool(c.Query("logs"))

	view, err := h.executions.Status(c.Context(), c.Params("id"), withLogs)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return notFound(c, "EXECUTION_NOT_FOUND", "execution not found")
		}

		return internalError(c, err)
	}

	return c.JSON(view)
}

func webhookPayload(body []byte, contentType string) (map[string]any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]any{}, nil
	}

	if !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
		return map[string]any{"body": string(body)}, nil
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, err
	}

	if object, ok := decoded.(map[string]any); ok {
		return object, nil
	}

	return map[string]any{"body": decoded}, nil
}

func requestToken(c fiber.Ctx) string {
	if token := c.Get(ExecutionTokenHeader); token != "" {
		return token
	}

	return c.Query("token")
}

func source(c fiber.Ctx, actorID string) models.TriggerSource {
	return models.TriggerSource{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		ActorID:   actorID,
	}
}

package web

import (
	"errors"
	"slices"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/mrlynn/netpad-v3-sub010/pkg/auth"
	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/services"
	"github.com/mrlynn/netpad-v3-sub010/pkg/worker"
)

const defaultCancelReason = "cancelled by user"

var jobStatuses = []models.JobStatus{
	models.JobStatusPending,
	models.JobStatusProcessing,
	models.JobStatusCompleted,
	models.JobStatusFailed,
}

// CancelExecution cancels an execution and the jobs still queued for it.
// The walker observes the terminal status at its next node boundary.
func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")

	var req CancelExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.executions.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	principal := principalOf(c)
	if !principal.HasRole(auth.RoleAdmin) && existing.OrgID != principal.OrgID {
		return notFound(c, "EXECUTION_NOT_FOUND", "execution not found")
	}

	if req.Reason == "" {
		req.Reason = defaultCancelReason
	}

	cancelled, err := h.executions.Cancel(c.Context(), id, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	jobs, err := h.queue.CancelForExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	h.logger.InfoContext(c.Context(), "execution cancelled",
		"execution_id", id, "cancelled_jobs", jobs, "actor", principal.Subject)

	return c.JSON(CancelExecutionResponse{Execution: execution.NewStatusView(cancelled), CancelledJobs: jobs})
}

// GetJobs is the admin job listing.
func (h *APIHandlers) GetJobs(c fiber.Ctx) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if limit <= 0 {
		limit = 50
	}

	limit = min(limit, 100)

	status := models.JobStatus(c.Query("status"))
	if status != "" && !slices.Contains(jobStatuses, status) {
		return badRequest(c, "invalid job status '"+string(status)+"'")
	}

	jobs, err := h.queue.List(c.Context(), persistence.JobFilter{
		OrgID:       scopedOrg(c),
		Status:      status,
		ExecutionID: c.Query("execution_id"),
		Limit:       limit,
		Offset:      max(offset, 0),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"jobs": jobs,
		"pagination": fiber.Map{
			"limit":  limit,
			"offset": max(offset, 0),
		},
	})
}

func (h *APIHandlers) RetryJob(c fiber.Ctx) error {
	job, err := h.queue.Retry(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(h.queue.View(job))
}

func (h *APIHandlers) CancelJob(c fiber.Ctx) error {
	job, err := h.queue.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(h.queue.View(job))
}

// GetQueueStatus reports the job counts of the caller's organization.
func (h *APIHandlers) GetQueueStatus(c fiber.Ctx) error {
	org := scopedOrg(c)

	status, err := h.queue.QueueStatus(c.Context(), org)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"orgId":    org,
		"status":   status,
		"depth":    status.Depth(),
		"maxDepth": h.queue.MaxDepth(),
	})
}

// ProcessJobs claims and runs up to count jobs in this process.
func (h *APIHandlers) ProcessJobs(c fiber.Ctx) error {
	if h.processor == nil {
		return problem(c, fiber.StatusServiceUnavailable, "WORKER_DISABLED", "job processing is not enabled on this instance")
	}

	count := 1
	if raw := c.Query("count"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "count must be a number")
		}

		count = value
	}

	start := time.Now()

	results, err := h.processor.ProcessBatch(c.Context(), count)
	if err != nil {
		if errors.Is(err, worker.ErrInvalidBatchSize) {
			return handleServiceError(c, services.NewValidationError("ProcessJobs", "VALIDATION_ERROR", err.Error(), services.ErrInvalidRequest))
		}

		return internalError(c, err)
	}

	return c.JSON(ProcessResponse{
		Processed:  len(results),
		Results:    results,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

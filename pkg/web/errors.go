package web

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/mrlynn/netpad-v3-sub010/pkg/auth"
	"github.com/mrlynn/netpad-v3-sub010/pkg/dispatcher"
	"github.com/mrlynn/netpad-v3-sub010/pkg/execution"
	"github.com/mrlynn/netpad-v3-sub010/pkg/persistence"
	"github.com/mrlynn/netpad-v3-sub010/pkg/queue"
	"github.com/mrlynn/netpad-v3-sub010/pkg/services"
	"github.com/mrlynn/netpad-v3-sub010/pkg/usage"
)

// queueFullRetryAfter is the Retry-After hint, in seconds, sent with
// QUEUE_FULL rejections.
const queueFullRetryAfter = 30

// usageProblem carries the caller's usage alongside LIMIT_EXCEEDED as a
// top-level member of the problem document.
type usageProblem struct {
	*problems.Problem

	Usage *usage.Usage `json:"usage,omitempty"`
}

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType)

	if detail != "" {
		p = p.WithDetail(detail)
	}

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, dispatcher.CodeValidation, detail)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	return problem(c, fiber.StatusNotFound, problemType, detail)
}

func unauthorized(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusUnauthorized, dispatcher.CodeUnauthorized, detail)
}

func forbidden(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusForbidden, dispatcher.CodeUnauthorized, detail)
}

// internalError never echoes err; the cause goes to the log instead.
func internalError(c fiber.Ctx, err error) error {
	logger(c).ErrorContext(c.Context(), "request failed", "path", c.Path(), "error", err)

	return problem(c, fiber.StatusInternalServerError, dispatcher.CodeInternal, "")
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsNotFoundError(err), persistence.IsWorkflowNotFound(err):
		if errors.Is(err, services.ErrNodeNotFound) {
			return notFound(c, "NODE_NOT_FOUND", "node not found")
		}

		return notFound(c, dispatcher.CodeWorkflowNotFound, "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "EXECUTION_NOT_FOUND", "execution not found")

	case persistence.IsJobNotFound(err):
		return notFound(c, "JOB_NOT_FOUND", "job not found")

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsConflictError(err),
		errors.Is(err, execution.ErrExecutionTerminal),
		errors.Is(err, queue.ErrNotRetryable),
		errors.Is(err, queue.ErrNotCancellable),
		persistence.IsConflict(err):
		return problem(c, fiber.StatusConflict, "CONFLICT", err.Error())

	case auth.IsUnauthenticated(err):
		return unauthorized(c, "authentication required")

	case errors.Is(err, auth.ErrForbidden):
		return forbidden(c, "not allowed to access this resource")

	default:
		return internalError(c, err)
	}
}

// handleAdmissionError renders a dispatcher rejection with its stable code.
// Details are limited to the admission message; causes stay in the log.
func handleAdmissionError(c fiber.Ctx, err error) error {
	admission, ok := dispatcher.AsAdmissionError(err)
	if !ok {
		return internalError(c, err)
	}

	status := admissionStatus(admission)

	switch admission.Code {
	case dispatcher.CodeInternal:
		return internalError(c, err)

	case dispatcher.CodeQueueFull:
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(queueFullRetryAfter))

	case dispatcher.CodeLimitExceeded:
		p := problems.NewStatusProblem(status).
			WithInstance(c.Path()).
			WithType(admission.Code).
			WithDetail(admission.Message)

		return c.Status(status).JSON(usageProblem{Problem: p, Usage: admission.Usage})
	}

	return problem(c, status, admission.Code, admission.Message)
}

func admissionStatus(err *dispatcher.AdmissionError) int {
	if err.Forbidden {
		return fiber.StatusForbidden
	}

	switch err.Code {
	case dispatcher.CodeWorkflowNotFound:
		return fiber.StatusNotFound
	case dispatcher.CodeInvalidToken:
		return fiber.StatusUnauthorized
	case dispatcher.CodeUnauthorized:
		return fiber.StatusForbidden
	case dispatcher.CodeWorkflowNotActive:
		return fiber.StatusConflict
	case dispatcher.CodeQueueFull:
		return fiber.StatusServiceUnavailable
	case dispatcher.CodeLimitExceeded:
		return fiber.StatusTooManyRequests
	case dispatcher.CodeValidation:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

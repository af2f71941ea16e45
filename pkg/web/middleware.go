package web

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/mrlynn/netpad-v3-sub010/pkg/auth"
)

const (
	loggerLocal    = "netpad.logger"
	principalLocal = "netpad.principal"
)

// TokenValidator turns a bearer token into a principal.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Principal, error)
}

// RequestObserver records HTTP request metrics.
type RequestObserver interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
}

// WithLogger makes logger available to handlers and error rendering.
func WithLogger(logger *slog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Locals(loggerLocal, logger)

		return c.Next()
	}
}

func logger(c fiber.Ctx) *slog.Logger {
	if l, ok := c.Locals(loggerLocal).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// Authenticate rejects requests without a valid bearer token and stores
// the principal for the handlers.
func Authenticate(validator TokenValidator) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return unauthorized(c, "missing bearer token")
		}

		principal, err := validator.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			logger(c).DebugContext(c.Context(), "rejected bearer token", "error", err)

			return unauthorized(c, "invalid bearer token")
		}

		c.Locals(principalLocal, principal)

		return c.Next()
	}
}

// RequireAdmin only lets principals with the admin role through.
func RequireAdmin() fiber.Handler {
	return func(c fiber.Ctx) error {
		principal := principalOf(c)
		if principal == nil {
			return unauthorized(c, "authentication required")
		}

		if !principal.HasRole(auth.RoleAdmin) {
			return forbidden(c, "admin role required")
		}

		return c.Next()
	}
}

func principalOf(c fiber.Ctx) *auth.Principal {
	principal, _ := c.Locals(principalLocal).(*auth.Principal)

	return principal
}

// Metrics records the duration and status of every request under its
// route pattern, so ids do not explode label cardinality.
func Metrics(observer RequestObserver) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError

			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			}
		}

		observer.RecordHTTPRequest(c.Method(), c.Route().Path, status, time.Since(start))

		return err
	}
}

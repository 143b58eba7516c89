package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"complianceflow/backend/internal/workflow"
	"complianceflow/backend/pkg/models"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Logger is the subset of the application logger used by handlers.
type Logger interface {
	Error(msg string, args ...any)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler serves operational endpoints.
type Handler struct {
	checks map[string]HealthCheck
}

// NewHandler creates a Handler running the given named dependency checks.
func NewHandler(checks map[string]HealthCheck) *Handler {
	return &Handler{checks: checks}
}

// HandleHealth reports service health. Any failing dependency turns the
// response into 503.
// (GET /health)
func (h *Handler) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "complianceflow",
		Version:   Version,
	}
	code := http.StatusOK
	if len(h.checks) > 0 {
		status.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				status.Checks[name] = err.Error()
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status.Checks[name] = "ok"
		}
	}
	return c.JSON(code, status)
}

// ErrorHandler renders every error as an RFC 7807 Problem Details response.
func ErrorHandler(logger Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, title, detail := classify(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request().Method, "path", c.Path(), "error", err)
		}
		problem := models.ProblemDetails{
			Type:     "about:blank",
			Title:    title,
			Status:   status,
			Detail:   detail,
			Instance: c.Request().URL.Path,
			TraceID:  c.Response().Header().Get(echo.HeaderXRequestID),
		}
		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		c.Response().WriteHeader(status)
		_ = c.Echo().JSONSerializer.Serialize(c, problem, "")
	}
}

// classify maps an error to a status code, title and client-safe detail.
func classify(err error) (int, string, string) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		detail, _ := httpErr.Message.(string)
		return httpErr.Code, http.StatusText(httpErr.Code), detail
	}

	switch {
	case errors.Is(err, workflow.ErrInvalidTemplate):
		return http.StatusUnprocessableEntity, "Invalid Template", err.Error()
	case errors.Is(err, workflow.ErrInvalidRequest):
		return http.StatusBadRequest, "Invalid Request", err.Error()
	case errors.Is(err, workflow.ErrTemplateNotFound):
		return http.StatusNotFound, "Template Not Found", err.Error()
	case errors.Is(err, workflow.ErrInstanceNotFound):
		return http.StatusNotFound, "Instance Not Found", err.Error()
	case errors.Is(err, workflow.ErrEntityNotFound):
		return http.StatusUnprocessableEntity, "Entity Not Found", err.Error()
	case errors.Is(err, workflow.ErrActorNotFound):
		return http.StatusUnprocessableEntity, "Actor Not Found", err.Error()
	case errors.Is(err, workflow.ErrTemplateInUse):
		return http.StatusConflict, "Template In Use", err.Error()
	case errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict, "Invalid Transition", err.Error()
	case errors.Is(err, workflow.ErrStepMismatch):
		return http.StatusConflict, "Step Mismatch", err.Error()
	case errors.Is(err, workflow.ErrConflict):
		return http.StatusConflict, "Conflict", err.Error()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), ""
}

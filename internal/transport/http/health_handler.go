package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"healthcli/internal/services"
)

// HealthChecker reports service health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) services.HealthStatus
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service HealthChecker
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /healthz. A degraded dependency yields 503.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := h.service.HealthCheck(r.Context())
	if status.Status != services.StatusOK {
		h.logger.WarnContext(r.Context(), "health check degraded", slog.Any("checks", status.Checks))
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}

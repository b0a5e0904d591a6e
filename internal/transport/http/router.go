package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"healthcli/internal/config"
	apierrors "healthcli/internal/errors"
	"healthcli/internal/middleware"
)

// RouterDeps are the collaborators NewRouter wires together.
type RouterDeps struct {
	Logger       *slog.Logger
	ErrorHandler *apierrors.ErrorHandler
	Validator    *middleware.Validator
	Health       HealthChecker
	Indicators   IndicatorService
	// Metrics serves /metrics; nil uses the default Prometheus registry.
	Metrics http.Handler
	// OTel instruments requests when set.
	OTel      *middleware.OTelMiddleware
	RateLimit config.RateLimitConfig
}

// NewRouter builds the API router.
func NewRouter(deps RouterDeps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errorHandler := deps.ErrorHandler
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	validator := deps.Validator
	if validator == nil {
		validator = middleware.NewValidator(logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if deps.OTel != nil {
		r.Use(deps.OTel.Handler)
	}
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(errorHandler))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.StripSlashes)

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	r.Get("/healthz", NewHealthHandler(deps.Health, logger).HealthCheck)
	r.Handle("/metrics", MetricsHandler(deps.Metrics))

	r.Group(func(r chi.Router) {
		if deps.RateLimit.Enabled {
			r.Use(middleware.NewRateLimiter(deps.RateLimit.RPS, deps.RateLimit.Burst, errorHandler, logger).Handler)
		}
		r.Mount("/api/v1", NewIndicatorHandler(deps.Indicators, validator, errorHandler, logger).Routes())
	})

	return r
}

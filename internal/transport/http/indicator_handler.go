package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "healthcli/internal/errors"
	"healthcli/internal/middleware"
	"healthcli/internal/services"
)

// IndicatorService defines the operations behind the indicator routes.
type IndicatorService interface {
	Countries(ctx context.Context) ([]services.CountrySummary, error)
	Indicators(ctx context.Context, country string, q services.IndicatorQuery) (*services.IndicatorSeries, error)
	TriggerRun(ctx context.Context, req services.RunRequest) (*services.RunSummary, error)
}

type countryKey struct{}

// IndicatorHandler handles country, indicator and run requests
type IndicatorHandler struct {
	service      IndicatorService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewIndicatorHandler creates a new indicator handler
func NewIndicatorHandler(service IndicatorService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *IndicatorHandler {
	return &IndicatorHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "indicators")),
	}
}

// Routes returns the /api/v1 routes
func (h *IndicatorHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/countries", h.ListCountries)
	r.Route("/countries/{country}", func(r chi.Router) {
		r.Use(h.CountryCtx)
		r.Get("/indicators", h.GetIndicators)
	})
	r.Post("/runs", h.CreateRun)

	return r
}

// CountryCtx validates the {country} parameter and loads it into context
func (h *IndicatorHandler) CountryCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "country")
		country, err := url.PathUnescape(raw)
		if err != nil {
			country = raw
		}
		country = strings.TrimSpace(country)

		req := services.RunRequest{Country: country}
		if err := h.validator.ValidateStruct(req); err != nil {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("country", "country must be a printable name"))
			return
		}

		ctx := context.WithValue(r.Context(), countryKey{}, country)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ListCountries handles GET /api/v1/countries
func (h *IndicatorHandler) ListCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := h.service.Countries(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"data":  countries,
		"count": len(countries),
	})
}

// GetIndicators handles GET /api/v1/countries/{country}/indicators
func (h *IndicatorHandler) GetIndicators(w http.ResponseWriter, r *http.Request) {
	country, _ := r.Context().Value(countryKey{}).(string)

	var q services.IndicatorQuery
	var err error
	if q.From, err = middleware.QueryInt(r, "from"); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if q.To, err = middleware.QueryInt(r, "to"); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(q); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	series, err := h.service.Indicators(r.Context(), country, q)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, series)
}

// CreateRun handles POST /api/v1/runs
func (h *IndicatorHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req services.RunRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	summary, err := h.service.TriggerRun(r.Context(), req)
	if errors.Is(err, services.ErrRunInProgress) {
		h.errorHandler.HandleError(w, r, apierrors.New(http.StatusConflict, "CONFLICT", err.Error()))
		return
	}
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "run completed",
		slog.String("run_id", summary.RunID),
		slog.String("country", summary.Country),
		slog.Int("rows", summary.Rows))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, summary)
}

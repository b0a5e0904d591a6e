package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"healthcli/internal/dataprocessing"
	apperrors "healthcli/internal/errors"
	"healthcli/internal/store"
	"healthcli/pkg/contracts/domain"
)

// IndicatorStore is the read side of the persisted indicator tables.
type IndicatorStore interface {
	ListCountries(ctx context.Context) ([]store.CountryInfo, error)
	LoadTable(ctx context.Context, country string, from, to int) (*domain.Table, error)
	LatestRun(ctx context.Context, country string) (*domain.RunRecord, error)
}

// PipelineRunner runs the pipeline for one country.
type PipelineRunner interface {
	Run(ctx context.Context, country dataprocessing.Country) (*dataprocessing.Result, error)
}

// CountrySummary is a stored country with its latest run, if any.
type CountrySummary struct {
	store.CountryInfo
	LatestRun *domain.RunRecord `json:"latest_run,omitempty"`
}

// IndicatorQuery restricts the years returned. Zero bounds are open.
type IndicatorQuery struct {
	From int `query:"from" validate:"omitempty,min=1900,max=2100"`
	To   int `query:"to" validate:"omitempty,min=1900,max=2100,gtefield=From"`
}

// IndicatorSeries is a finalized table rendered for the API. Each row maps
// column name to value; Columns gives the canonical order.
type IndicatorSeries struct {
	Country string                   `json:"country"`
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
	Count   int                      `json:"count"`
}

// RunRequest asks for a pipeline run.
type RunRequest struct {
	Country       string `json:"country" validate:"required,country"`
	WorldBankName string `json:"wb_country,omitempty" validate:"omitempty,country"`
}

// RunSummary reports a completed run.
type RunSummary struct {
	RunID         string            `json:"run_id"`
	Country       string            `json:"country"`
	WorldBankName string            `json:"wb_country"`
	Rows          int               `json:"rows"`
	FirstYear     int               `json:"first_year,omitempty"`
	LastYear      int               `json:"last_year,omitempty"`
	RowsDropped   int               `json:"rows_dropped"`
	CellsImputed  int               `json:"cells_imputed"`
	ZeroFilled    []string          `json:"zero_filled,omitempty"`
	Digests       map[string]string `json:"source_digests,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	DurationMS    int64             `json:"duration_ms"`
}

// IndicatorService serves stored indicator tables and triggers runs.
type IndicatorService struct {
	store      IndicatorStore
	runner     PipelineRunner
	runTimeout time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

// NewIndicatorService creates the service. runner may be nil, in which case
// TriggerRun fails with ErrRunsDisabled.
func NewIndicatorService(st IndicatorStore, runner PipelineRunner, logger *slog.Logger) *IndicatorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndicatorService{
		store:   st,
		runner:  runner,
		logger:  logger.With(slog.String("service", "indicators")),
		running: make(map[string]bool),
	}
}

// WithRunTimeout bounds each triggered run. Zero disables the bound.
func (s *IndicatorService) WithRunTimeout(d time.Duration) *IndicatorService {
	s.runTimeout = d
	return s
}

// Countries lists stored countries with their latest run.
func (s *IndicatorService) Countries(ctx context.Context) ([]CountrySummary, error) {
	infos, err := s.store.ListCountries(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("listing countries", err)
	}

	out := make([]CountrySummary, 0, len(infos))
	for _, info := range infos {
		summary := CountrySummary{CountryInfo: info}
		run, err := s.store.LatestRun(ctx, info.Country)
		switch {
		case err == nil:
			summary.LatestRun = run
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, apperrors.NewStorageError("reading latest run", err).
				WithContext("country", info.Country)
		}
		out = append(out, summary)
	}
	return out, nil
}

// Indicators returns the stored table for country restricted to q.
func (s *IndicatorService) Indicators(ctx context.Context, country string, q IndicatorQuery) (*IndicatorSeries, error) {
	t, err := s.store.LoadTable(ctx, country, q.From, q.To)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("country %q", country)).
			WithContext("country", country)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("loading indicators", err).
			WithContext("country", country)
	}

	series := &IndicatorSeries{
		Country: country,
		Columns: t.Columns,
		Rows:    make([]map[string]interface{}, 0, t.Len()),
		Count:   t.Len(),
	}
	metrics := t.Metrics()
	for _, r := range t.Rows {
		row := make(map[string]interface{}, len(t.Columns))
		row[domain.YearColumn] = r.Year
		for i, v := range r.Values {
			if v.Valid {
				row[metrics[i]] = v.Float
			} else {
				row[metrics[i]] = nil
			}
		}
		series.Rows = append(series.Rows, row)
	}
	return series, nil
}

// TriggerRun runs the pipeline synchronously for one country. Only one run
// per country may be active at a time.
func (s *IndicatorService) TriggerRun(ctx context.Context, req RunRequest) (*RunSummary, error) {
	if s.runner == nil {
		return nil, apperrors.NewAppError(apperrors.ErrTypeConfig, ErrRunsDisabled.Error(), ErrRunsDisabled)
	}

	country := dataprocessing.Country{
		Name:          strings.TrimSpace(req.Country),
		WorldBankName: strings.TrimSpace(req.WorldBankName),
	}
	key := strings.ToLower(country.Name)

	s.mu.Lock()
	if s.running[key] {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, key)
		s.mu.Unlock()
	}()

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	s.logger.InfoContext(ctx, "run requested",
		slog.String("country", country.Name),
		slog.String("world_bank_country", country.NameFor(domain.SourceLifeExpectancy)))

	res, err := s.runner.Run(ctx, country)
	if err != nil {
		return nil, err
	}
	return summarize(res), nil
}

func summarize(res *dataprocessing.Result) *RunSummary {
	summary := &RunSummary{
		RunID:         res.RunID,
		Country:       res.Country.Name,
		WorldBankName: res.Country.NameFor(domain.SourceLifeExpectancy),
		RowsDropped:   res.Dropped,
		CellsImputed:  res.Imputation.Total(),
		ZeroFilled:    res.Finalize.ZeroFilled,
		Digests:       res.Digests,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
		DurationMS:    res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	}
	if res.Table != nil {
		summary.Rows = res.Table.Len()
		if n := res.Table.Len(); n > 0 {
			summary.FirstYear = res.Table.Rows[0].Year
			summary.LastYear = res.Table.Rows[n-1].Year
		}
	}
	return summary
}

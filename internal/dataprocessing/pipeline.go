package dataprocessing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	apperrors "healthcli/internal/errors"
	"healthcli/internal/infrastructure"
	"healthcli/pkg/contracts/domain"
)

// Fetcher obtains the raw table for a source.
type Fetcher interface {
	Fetch(ctx context.Context, spec domain.SourceSpec) (*domain.Payload, error)
}

// Sink persists a finalized table under a country name.
type Sink interface {
	Name() string
	Write(ctx context.Context, country string, t *domain.Table) error
}

// RunRecorder is implemented by sinks that keep run metadata.
type RunRecorder interface {
	RecordRun(ctx context.Context, run domain.RunRecord) error
}

// Country names a country as spelled by each publisher.
type Country struct {
	// Name is the WHO spelling and names the output artifacts.
	Name string `json:"country" yaml:"name" validate:"required"`
	// WorldBankName is the World Bank spelling; defaults to Name.
	WorldBankName string `json:"wb_country,omitempty" yaml:"world_bank_name"`
}

// NameFor returns the spelling used by the given source.
func (c Country) NameFor(src domain.Source) string {
	if src == domain.SourceLifeExpectancy && c.WorldBankName != "" {
		return c.WorldBankName
	}
	return c.Name
}

// Config is everything a pipeline run needs besides its collaborators.
type Config struct {
	Sources           []domain.SourceSpec
	Targets           []string
	OutputColumns     []string
	EmptyColumnPolicy EmptyColumnPolicy
	// YearRange is checked after validation; violations are logged only.
	YearRange ValidationRules
	Workers   int
}

// DefaultConfig returns the output contract with no sources.
func DefaultConfig() Config {
	return Config{
		Targets:           append([]string(nil), domain.TargetColumns...),
		OutputColumns:     append([]string(nil), domain.OutputColumns...),
		EmptyColumnPolicy: EmptyColumnZero,
		YearRange:         ValidationRules{MinYear: 1990, MaxYear: 2022},
		Workers:           1,
	}
}

// Result is the outcome of one country run.
type Result struct {
	RunID       string
	Country     Country
	Table       *domain.Table
	Dropped     int
	Imputation  ImputationStats
	Finalize    FinalizeReport
	Diagnostics []Diagnostics
	Digests     map[string]string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Pipeline runs fetch, normalize, merge, filter, impute, finalize and
// persist for one country at a time. It keeps no state between runs.
type Pipeline struct {
	cfg      Config
	fetcher  Fetcher
	sinks    []Sink
	reporter *Reporter
	imputer  *Imputer
	tracer   *pipelineTracer
	logger   *slog.Logger
}

// NewPipeline wires a pipeline. Sinks may be empty, in which case results
// are only returned.
func NewPipeline(cfg Config, fetcher Fetcher, sinks []Sink, logger *slog.Logger) (*Pipeline, error) {
	if fetcher == nil {
		return nil, errors.New("pipeline requires a fetcher")
	}
	if len(cfg.Sources) == 0 {
		return nil, errors.New("pipeline requires at least one source")
	}
	if len(cfg.OutputColumns) == 0 {
		cfg.OutputColumns = append([]string(nil), domain.OutputColumns...)
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = append([]string(nil), domain.TargetColumns...)
	}
	if cfg.EmptyColumnPolicy == "" {
		cfg.EmptyColumnPolicy = EmptyColumnZero
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	tracer, err := newPipelineTracer()
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		fetcher:  fetcher,
		sinks:    sinks,
		reporter: NewReporter(logger),
		imputer:  NewImputer(),
		tracer:   tracer,
		logger:   logger.With(slog.String("component", "pipeline")),
	}, nil
}

// Run processes one country. Nothing is written unless every stage succeeds.
func (p *Pipeline) Run(ctx context.Context, country Country) (res *Result, err error) {
	start := time.Now()
	runID := uuid.New().String()
	ctx = infrastructure.WithTraceID(ctx, runID)
	ctx, span := p.tracer.startRun(ctx, runID, country.Name)
	defer func() { p.tracer.endRun(ctx, span, country.Name, start, err) }()

	logger := p.logger.With(slog.String("country", country.Name))
	logger.InfoContext(ctx, "pipeline run started",
		slog.String("run_id", runID),
		slog.String("world_bank_country", country.NameFor(domain.SourceLifeExpectancy)))

	res = &Result{
		RunID:     runID,
		Country:   country,
		Digests:   make(map[string]string),
		StartedAt: start,
	}

	normalized := make([]*domain.Table, 0, len(p.cfg.Sources))
	for _, spec := range p.cfg.Sources {
		t, digest, err := p.loadSource(ctx, spec, country)
		if err != nil {
			logger.ErrorContext(ctx, "source failed",
				slog.String("source", spec.Source.String()),
				slog.String("error", err.Error()))
			return nil, err
		}
		res.Digests[spec.Source.String()] = digest
		res.Diagnostics = append(res.Diagnostics, p.reporter.Inspect(ctx, spec.Source.String(), t))
		if t.Len() == 0 {
			logger.WarnContext(ctx, "country not found in source",
				slog.String("source", spec.Source.String()),
				slog.String("lookup", country.NameFor(spec.Source)))
		}
		normalized = append(normalized, t)
	}

	final, err := p.Process(ctx, normalized, res)
	if err != nil {
		logger.ErrorContext(ctx, "pipeline run failed", slog.String("error", err.Error()))
		return nil, err
	}
	res.Table = final

	if err := p.persist(ctx, res); err != nil {
		logger.ErrorContext(ctx, "persisting results failed", slog.String("error", err.Error()))
		return nil, err
	}

	res.FinishedAt = time.Now()
	logger.InfoContext(ctx, "pipeline run completed",
		slog.String("run_id", runID),
		slog.Int("rows", final.Len()),
		slog.Int("rows_dropped", res.Dropped),
		slog.Int("cells_imputed", res.Imputation.Total()),
		slog.Duration("duration", res.FinishedAt.Sub(start)))
	return res, nil
}

// Process runs the in-memory stages on already normalized tables. res, when
// not nil, receives statistics.
func (p *Pipeline) Process(ctx context.Context, normalized []*domain.Table, res *Result) (*domain.Table, error) {
	if res == nil {
		res = &Result{}
	}
	logger := p.logger

	_, span := p.tracer.startStage(ctx, "merge", attribute.Int("tables", len(normalized)))
	merged, err := Merge(normalized...)
	p.tracer.endStage(span, err)
	if err != nil {
		return nil, classify("merge", err)
	}
	res.Diagnostics = append(res.Diagnostics, p.reporter.Inspect(ctx, "merged", merged))

	_, span = p.tracer.startStage(ctx, "filter")
	filtered, dropped := DropUninformative(merged, p.cfg.Targets)
	span.SetAttributes(attribute.Int("rows.dropped", dropped))
	p.tracer.endStage(span, nil)
	res.Dropped = dropped

	_, span = p.tracer.startStage(ctx, "impute")
	imputed, stats := p.imputer.Impute(filtered)
	span.SetAttributes(attribute.Int("cells.imputed", stats.Total()))
	p.tracer.endStage(span, nil)
	res.Imputation = stats
	p.tracer.recordCleaning(ctx, res.Country.Name, dropped, stats)

	_, span = p.tracer.startStage(ctx, "finalize")
	final, report, err := Finalize(imputed, p.cfg.OutputColumns, p.cfg.EmptyColumnPolicy)
	if err == nil {
		err = Validate(final, ValidationRules{NonNegative: true})
	}
	p.tracer.endStage(span, err)
	if err != nil {
		return nil, classify("finalize", err)
	}
	res.Finalize = report

	if len(report.ZeroFilled) > 0 {
		logger.WarnContext(ctx, "metric columns had no data and were zero filled",
			slog.Any("columns", report.ZeroFilled))
	}
	if err := Validate(final, p.cfg.YearRange); err != nil {
		logger.WarnContext(ctx, "finalized table outside expected year range",
			slog.String("error", err.Error()))
	}

	res.Diagnostics = append(res.Diagnostics, p.reporter.Inspect(ctx, "finalized", final))
	return final, nil
}

// RunAll processes countries independently. With Workers > 1 runs overlap;
// each run still owns its tables. A failing country does not stop the rest.
func (p *Pipeline) RunAll(ctx context.Context, countries []Country) ([]*Result, error) {
	results := make([]*Result, len(countries))
	errs := make([]error, len(countries))

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, c := range countries {
		g.Go(func() error {
			res, err := p.Run(ctx, c)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", c.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func (p *Pipeline) loadSource(ctx context.Context, spec domain.SourceSpec, country Country) (*domain.Table, string, error) {
	ctx, span := p.tracer.startStage(ctx, "fetch", attribute.String("source", spec.Source.String()))
	payload, err := p.fetcher.Fetch(ctx, spec)
	p.tracer.endStage(span, err)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, "", err
		}
		return nil, "", apperrors.NewNetworkError(fmt.Sprintf("fetch %s", spec.Source), err)
	}
	p.tracer.recordFetch(ctx, spec.Source.String(), len(payload.Table.Records))

	_, span = p.tracer.startStage(ctx, "normalize", attribute.String("source", spec.Source.String()))
	t, err := Normalize(payload.Table, spec, country.NameFor(spec.Source))
	p.tracer.endStage(span, err)
	if err != nil {
		return nil, "", classify("normalize", err)
	}
	return t, payload.Digest, nil
}

func (p *Pipeline) persist(ctx context.Context, res *Result) error {
	ctx, span := p.tracer.startStage(ctx, "persist", attribute.Int("sinks", len(p.sinks)))
	var err error
	defer func() { p.tracer.endStage(span, err) }()

	for _, s := range p.sinks {
		if err = s.Write(ctx, res.Country.Name, res.Table); err != nil {
			err = apperrors.NewStorageError(fmt.Sprintf("write %s output", s.Name()), err).
				WithContext("country", res.Country.Name)
			return err
		}
	}

	record := domain.RunRecord{
		ID:            res.RunID,
		Country:       res.Country.Name,
		WorldBankName: res.Country.NameFor(domain.SourceLifeExpectancy),
		Rows:          res.Table.Len(),
		StartedAt:     res.StartedAt,
		FinishedAt:    time.Now(),
		Digests:       res.Digests,
	}
	for _, s := range p.sinks {
		rec, ok := s.(RunRecorder)
		if !ok {
			continue
		}
		if err = rec.RecordRun(ctx, record); err != nil {
			err = apperrors.NewStorageError("record run", err)
			return err
		}
	}
	return nil
}

// classify maps stage errors onto application error types.
func classify(stage string, err error) error {
	msg := fmt.Sprintf("%s stage failed", stage)
	switch {
	case errors.Is(err, ErrMissingColumn), errors.Is(err, ErrDuplicateYear), errors.Is(err, ErrColumnCollision):
		return apperrors.NewSchemaError(msg, err)
	case errors.Is(err, ErrMalformedValue):
		return apperrors.NewParsingError(msg, err)
	case errors.Is(err, ErrEmptyColumn), errors.Is(err, ErrInvariant):
		return apperrors.NewAppError(apperrors.ErrTypeValidation, msg, err)
	default:
		return apperrors.NewAppError(apperrors.ErrTypeInternal, msg, err)
	}
}

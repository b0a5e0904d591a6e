package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"healthcli/internal/config"
	"healthcli/internal/dataprocessing"
	apierrors "healthcli/internal/errors"
	"healthcli/internal/exporter"
	"healthcli/internal/fetcher"
	"healthcli/internal/infrastructure"
	"healthcli/internal/middleware"
	"healthcli/internal/services"
	"healthcli/internal/store"
	handlers "healthcli/internal/transport/http"
)

var (
	// Version is overridden at build time with -ldflags.
	Version = config.AppVersion
	// BuildTime is set at compile time
	BuildTime = "unknown"
)

// runtimeInterval is how often runtime gauges are sampled.
const runtimeInterval = 15 * time.Second

// Application holds every long-lived component of the process.
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Store         *store.SQLiteStore
	Fetcher       *fetcher.HTTPFetcher
	Pipeline      *dataprocessing.Pipeline
	Runtime       *infrastructure.RuntimeMetrics
	Health        *services.HealthService
	Indicators    *services.IndicatorService
	Router        *chi.Mux
	Server        *http.Server

	listener net.Listener
	stopBg   context.CancelFunc
	serveErr chan error
}

// Options adjust New for tests and alternative entry points.
type Options struct {
	// Client replaces the fetcher's instrumented HTTP client.
	Client *http.Client
	// SkipTelemetry installs no-op providers instead of the configured exporters.
	SkipTelemetry bool
}

// New wires the application from cfg. Nothing is started.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	paths, err := config.ResolvePaths(cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(logger)

	a := &Application{
		Config: cfg,
		Paths:  paths,
		Logger: logger,
	}

	if err := a.initializeTelemetry(opts.SkipTelemetry); err != nil {
		return nil, err
	}
	if err := a.initializeServices(opts.Client); err != nil {
		a.closeResources(context.Background())
		return nil, err
	}
	if err := a.setupRouter(opts.SkipTelemetry); err != nil {
		a.closeResources(context.Background())
		return nil, err
	}
	a.createServer()

	return a, nil
}

func (a *Application) initializeTelemetry(skip bool) error {
	if skip {
		a.OTelProviders = &infrastructure.OTelProviders{
			Tracer: tracenoop.NewTracerProvider().Tracer(infrastructure.ServiceName),
			Meter:  noop.NewMeterProvider().Meter(infrastructure.MeterName),
			Logger: a.Logger,
		}
	} else {
		providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(a.Config.Telemetry), a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		a.OTelProviders = providers
	}

	rm, err := infrastructure.NewRuntimeMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create runtime metrics: %w", err)
	}
	a.Runtime = rm
	return nil
}

// initializeServices opens the store and builds the pipeline and services on top of it.
func (a *Application) initializeServices(client *http.Client) error {
	st, err := store.Open(a.Paths.Database)
	if err != nil {
		return fmt.Errorf("failed to open indicator store: %w", err)
	}
	a.Store = st

	f, err := fetcher.New(fetcher.OptionsFrom(a.Config.Fetch), client, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}
	a.Fetcher = f

	p, err := dataprocessing.NewPipeline(PipelineConfig(a.Config), f, Sinks(a.Config, a.Paths, st), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	a.Pipeline = p

	a.Health = services.NewHealthService(Version, a.Runtime, a.Logger)
	a.Health.AddDependency("store", st)

	a.Indicators = services.NewIndicatorService(st, p, a.Logger).
		WithRunTimeout(a.Config.Server.RunTimeout)
	return nil
}

func (a *Application) setupRouter(skipTelemetry bool) error {
	deps := handlers.RouterDeps{
		Logger:       a.Logger,
		ErrorHandler: apierrors.NewErrorHandler(a.Logger, a.Config.Telemetry.Environment == "development"),
		Validator:    middleware.NewValidator(a.Logger),
		Health:       a.Health,
		Indicators:   a.Indicators,
		Metrics:      a.OTelProviders.PrometheusHTTP,
		RateLimit:    a.Config.Server.RateLimit,
	}
	if !skipTelemetry {
		otelMW, err := middleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.OTelProviders.Meter, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create OTel middleware: %w", err)
		}
		deps.OTel = otelMW
	}
	a.Router = handlers.NewRouter(deps)
	return nil
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// PipelineConfig maps the configuration onto the pipeline's settings.
func PipelineConfig(cfg *config.Config) dataprocessing.Config {
	out := dataprocessing.DefaultConfig()
	out.Sources = cfg.Sources
	out.EmptyColumnPolicy = dataprocessing.EmptyColumnPolicy(cfg.Pipeline.EmptyColumnPolicy)
	out.YearRange = dataprocessing.ValidationRules{
		MinYear: cfg.Pipeline.MinYear,
		MaxYear: cfg.Pipeline.MaxYear,
	}
	out.Workers = cfg.Pipeline.Workers
	return out
}

// Countries returns the configured countries in pipeline form.
func Countries(cfg *config.Config) []dataprocessing.Country {
	out := make([]dataprocessing.Country, 0, len(cfg.Pipeline.Countries))
	for _, c := range cfg.Pipeline.Countries {
		out = append(out, dataprocessing.Country{Name: c.Name, WorldBankName: c.WorldBankName})
	}
	return out
}

// Sinks builds the enabled sinks in the order csv, xlsx, sqlite.
func Sinks(cfg *config.Config, paths *config.Paths, st *store.SQLiteStore) []dataprocessing.Sink {
	var sinks []dataprocessing.Sink
	if cfg.Output.HasFormat("csv") {
		sinks = append(sinks, exporter.NewCSVSink(exporter.NewCSVWriter(paths), cfg.Output.BOM))
	}
	if cfg.Output.HasFormat("xlsx") {
		sinks = append(sinks, exporter.NewXLSXSink(paths))
	}
	if cfg.Output.HasFormat("sqlite") && st != nil {
		sinks = append(sinks, st)
	}
	return sinks
}

// Start begins serving and background collection. It returns once the
// listener is bound.
func (a *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = ln

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopBg = cancel
	go a.Runtime.Start(bgCtx, runtimeInterval)

	a.serveErr = make(chan error, 1)
	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			a.serveErr <- err
		}
		close(a.serveErr)
	}()

	a.Logger.InfoContext(ctx, "application started",
		slog.String("name", config.AppName),
		slog.String("version", Version),
		slog.String("build_time", BuildTime),
		slog.String("go_version", runtime.Version()),
		slog.String("address", ln.Addr().String()),
		slog.Int("countries", len(a.Config.Pipeline.Countries)),
		slog.Any("formats", a.Config.Output.Formats))
	return nil
}

// Addr returns the bound listen address, or the configured one before Start.
func (a *Application) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.Server.Addr
}

// Stop drains the server, then releases the store and telemetry.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.listener != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}
	if a.stopBg != nil {
		a.stopBg()
	}
	if err := a.closeResources(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) closeResources(ctx context.Context) error {
	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run serves until SIGINT or SIGTERM, or until ctx is done, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "received shutdown signal")
	case serveErr = <-a.serveErr:
	}

	return errors.Join(serveErr, a.Stop(context.WithoutCancel(ctx)))
}

// RunPipeline processes the given countries once, without serving.
func (a *Application) RunPipeline(ctx context.Context, countries []dataprocessing.Country) ([]*dataprocessing.Result, error) {
	if len(countries) == 0 {
		countries = Countries(a.Config)
	}
	return a.Pipeline.RunAll(ctx, countries)
}

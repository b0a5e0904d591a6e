// Package fetcher downloads source payloads and turns them into raw tables.
//
// Remote locations are fetched once per URL and cached in process, so the
// World Bank archive shared by every country is only downloaded once per
// run. Local paths and file:// URLs are read from disk for offline runs.
package fetcher

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"healthcli/internal/config"
	"healthcli/internal/dataprocessing"
	apperrors "healthcli/internal/errors"
	"healthcli/internal/infrastructure"
	"healthcli/pkg/contracts/domain"
)

// Options tune the HTTP side of the fetcher.
type Options struct {
	Timeout   time.Duration
	RPS       float64
	Burst     int
	UserAgent string
	// MaxBytes caps a single download; zero means unlimited.
	MaxBytes int64
	// CacheTTL bounds how long a downloaded body is reused; zero disables
	// caching but concurrent requests for one URL are still collapsed.
	CacheTTL time.Duration
}

// OptionsFrom maps the fetch section of the configuration.
func OptionsFrom(cfg config.FetchConfig) Options {
	return Options{
		Timeout:   cfg.Timeout,
		RPS:       cfg.RPS,
		Burst:     cfg.Burst,
		UserAgent: cfg.UserAgent,
		MaxBytes:  cfg.MaxBytes,
		CacheTTL:  cfg.CacheTTL,
	}
}

type cacheEntry struct {
	body    []byte
	fetched time.Time
}

// HTTPFetcher implements dataprocessing.Fetcher.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	logger  *slog.Logger
	metrics *infrastructure.PipelineMetrics

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// New creates a fetcher. A nil client gets an otelhttp instrumented
// transport.
func New(opts Options, client *http.Client, logger *slog.Logger) (*HTTPFetcher, error) {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}

	metrics, err := infrastructure.CreatePipelineMetrics(otel.Meter(infrastructure.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch metrics: %w", err)
	}

	return &HTTPFetcher{
		client:  client,
		limiter: rate.NewLimiter(limit, opts.Burst),
		opts:    opts,
		logger:  logger.With(slog.String("component", "fetcher")),
		metrics: metrics,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}, nil
}

// Fetch downloads (or reads) the source, unpacks the archive member when the
// source names one and parses the CSV payload.
func (f *HTTPFetcher) Fetch(ctx context.Context, spec domain.SourceSpec) (*domain.Payload, error) {
	body, err := f.load(ctx, spec.URL)
	if err != nil {
		return nil, err
	}

	location := spec.URL
	if spec.ArchiveMember != "" {
		member, name, err := extractMember(body, spec.ArchiveMember)
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("unpack %s archive", spec.Source), err).
				WithContext("url", spec.URL)
		}
		body = member
		location = spec.URL + "#" + name
	}

	table, err := dataprocessing.ParseCSV(bytes.NewReader(body), spec.HeaderMarker)
	if err != nil {
		msg := fmt.Sprintf("parse %s payload", spec.Source)
		if errors.Is(err, dataprocessing.ErrMissingColumn) {
			return nil, apperrors.NewSchemaError(msg, err).WithContext("url", location)
		}
		return nil, apperrors.NewParsingError(msg, err).WithContext("url", location)
	}

	f.logger.DebugContext(ctx, "source fetched",
		slog.String("source", spec.Source.String()),
		slog.String("location", location),
		slog.Int("bytes", len(body)),
		slog.Int("records", len(table.Records)))

	return &domain.Payload{
		Source:   spec.Source,
		Location: location,
		Digest:   Digest(body),
		Size:     len(body),
		Table:    table,
	}, nil
}

// Digest returns the hex BLAKE2b-256 of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Invalidate drops every cached body.
func (f *HTTPFetcher) Invalidate() {
	f.mu.Lock()
	f.cache = make(map[string]cacheEntry)
	f.mu.Unlock()
}

func (f *HTTPFetcher) load(ctx context.Context, location string) ([]byte, error) {
	if path, ok := localPath(location); ok {
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.NewNetworkError("read local source", err).WithContext("path", path)
		}
		return body, nil
	}

	if body, ok := f.cached(location); ok {
		f.metrics.FetchCacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("url", location)))
		return body, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewNetworkError("download source", err).WithContext("url", location)
	}

	// The shared download outlives any single caller; each caller stops
	// waiting on its own cancellation. Options.Timeout still bounds it.
	downloadCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(location, func() (interface{}, error) {
		body, err := f.download(downloadCtx, location)
		if err != nil {
			return nil, err
		}
		if f.opts.CacheTTL > 0 {
			f.mu.Lock()
			f.cache[location] = cacheEntry{body: body, fetched: f.now()}
			f.mu.Unlock()
		}
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, apperrors.NewNetworkError("download source", ctx.Err()).WithContext("url", location)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			f.logger.DebugContext(ctx, "download shared with concurrent caller", slog.String("url", location))
		}
		return res.Val.([]byte), nil
	}
}

func (f *HTTPFetcher) cached(location string) ([]byte, bool) {
	if f.opts.CacheTTL <= 0 {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[location]
	if !ok {
		return nil, false
	}
	if f.now().Sub(entry.fetched) > f.opts.CacheTTL {
		delete(f.cache, location)
		return nil, false
	}
	return entry.body, true
}

func (f *HTTPFetcher) download(ctx context.Context, location string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewNetworkError("rate limiter", err).WithContext("url", location)
	}

	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, apperrors.NewNetworkError("build request", err).WithContext("url", location)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError("download source", err).WithContext("url", location)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.NewNetworkError("download source",
			fmt.Errorf("unexpected status %s", resp.Status)).
			WithContext("url", location).
			WithContext("status", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if f.opts.MaxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.NewNetworkError("read response body", err).WithContext("url", location)
	}
	if f.opts.MaxBytes > 0 && int64(len(body)) > f.opts.MaxBytes {
		return nil, apperrors.NewNetworkError("download source",
			fmt.Errorf("payload exceeds %d bytes", f.opts.MaxBytes)).WithContext("url", location)
	}

	f.logger.InfoContext(ctx, "source downloaded",
		slog.String("url", location),
		slog.Int("bytes", len(body)),
		slog.Duration("duration", time.Since(start)))
	return body, nil
}

// localPath reports whether location refers to the filesystem.
func localPath(location string) (string, bool) {
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return strings.TrimPrefix(location, "file://"), true
		}
		return u.Path, true
	}
	if strings.Contains(location, "://") {
		return "", false
	}
	return location, true
}

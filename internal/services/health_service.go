package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"healthcli/internal/infrastructure"
)

// Health statuses
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                       `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Version   string                       `json:"version"`
	GoVersion string                       `json:"go_version"`
	Runtime   *infrastructure.RuntimeStats `json:"runtime,omitempty"`
	Checks    map[string]DependencyHealth  `json:"checks,omitempty"`
}

// DependencyHealth represents one dependency's health
type DependencyHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthService provides health check functionality
type HealthService struct {
	version      string
	dependencies map[string]Pinger
	runtime      *infrastructure.RuntimeMetrics
	logger       *slog.Logger
}

// NewHealthService creates a health service. runtime may be nil.
func NewHealthService(version string, rm *infrastructure.RuntimeMetrics, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:      version,
		dependencies: make(map[string]Pinger),
		runtime:      rm,
		logger:       logger.With(slog.String("service", "health")),
	}
}

// AddDependency registers a dependency checked by HealthCheck.
func (hs *HealthService) AddDependency(name string, p Pinger) {
	hs.dependencies[name] = p
}

// HealthCheck pings every dependency; any failure degrades the status.
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		GoVersion: runtime.Version(),
		Checks:    make(map[string]DependencyHealth, len(hs.dependencies)),
	}

	if hs.runtime != nil {
		stats := hs.runtime.Collect(ctx)
		status.Runtime = &stats
	}

	for name, dep := range hs.dependencies {
		if err := dep.Ping(ctx); err != nil {
			hs.logger.WarnContext(ctx, "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()))
			status.Checks[name] = DependencyHealth{Status: StatusDegraded, Message: err.Error()}
			status.Status = StatusDegraded
			continue
		}
		status.Checks[name] = DependencyHealth{Status: StatusOK}
	}
	return status
}

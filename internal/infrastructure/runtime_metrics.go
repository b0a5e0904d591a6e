package infrastructure

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeMetrics records Go runtime gauges for the web process.
type RuntimeMetrics struct {
	goRoutines    metric.Int64Gauge
	memoryUsage   metric.Int64Gauge
	gcCount       metric.Int64Gauge
	processUptime metric.Float64Gauge
	startTime     time.Time
}

// RuntimeStats is a snapshot of the process, served by the health endpoint.
type RuntimeStats struct {
	GoRoutines    int64   `json:"goroutines"`
	MemoryUsageMB float64 `json:"memory_usage_mb"`
	GCCount       uint32  `json:"gc_count"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewRuntimeMetrics creates the runtime gauges on meter.
func NewRuntimeMetrics(meter metric.Meter) (*RuntimeMetrics, error) {
	goRoutines, err := meter.Int64Gauge(
		"system_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, err
	}

	memoryUsage, err := meter.Int64Gauge(
		"system_memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcCount, err := meter.Int64Gauge(
		"system_gc_count",
		metric.WithDescription("Completed GC cycles"),
	)
	if err != nil {
		return nil, err
	}

	processUptime, err := meter.Float64Gauge(
		"system_process_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &RuntimeMetrics{
		goRoutines:    goRoutines,
		memoryUsage:   memoryUsage,
		gcCount:       gcCount,
		processUptime: processUptime,
		startTime:     time.Now(),
	}, nil
}

// Collect records the current runtime gauges and returns them.
func (rm *RuntimeMetrics) Collect(ctx context.Context) RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := RuntimeStats{
		GoRoutines:    int64(runtime.NumGoroutine()),
		MemoryUsageMB: float64(memStats.Alloc) / 1024 / 1024,
		GCCount:       memStats.NumGC,
		UptimeSeconds: time.Since(rm.startTime).Seconds(),
	}

	rm.goRoutines.Record(ctx, stats.GoRoutines)
	rm.memoryUsage.Record(ctx, int64(memStats.Alloc))
	rm.gcCount.Record(ctx, int64(stats.GCCount))
	rm.processUptime.Record(ctx, stats.UptimeSeconds)

	return stats
}

// Start collects on every tick until ctx is done.
func (rm *RuntimeMetrics) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rm.Collect(ctx)
	for {
		select {
		case <-ticker.C:
			rm.Collect(ctx)
		case <-ctx.Done():
			return
		}
	}
}

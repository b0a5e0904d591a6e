package infrastructure

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"healthcli/internal/config"
)

func TestOTelConfigFrom(t *testing.T) {
	cfg := OTelConfigFrom(config.TelemetryConfig{
		ServiceName:   "custom",
		TraceExporter: "stdout",
	})

	assert.Equal(t, "custom", cfg.ServiceName)
	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
	assert.Equal(t, 1.0, cfg.SampleRatio)
}

func TestInitializeOTel_Disabled(t *testing.T) {
	var buf bytes.Buffer
	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:    "test",
		TraceExporter:  "none",
		MetricExporter: "none",
	}, NewLogger(&buf, "info"))
	require.NoError(t, err)

	assert.Nil(t, providers.TracerProvider)
	assert.Nil(t, providers.MeterProvider)
	assert.Nil(t, providers.PrometheusHTTP)
	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInitializeOTel_Prometheus(t *testing.T) {
	var buf bytes.Buffer
	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:    "test",
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		SampleRatio:    1,
	}, NewLogger(&buf, "info"))
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := CreatePipelineMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.RunsTotal.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pipeline_runs_total")
}

func TestInitializeOTel_UnsupportedExporter(t *testing.T) {
	var buf bytes.Buffer
	_, err := InitializeOTel(&OTelConfig{TraceExporter: "jaeger"}, NewLogger(&buf, "info"))
	assert.Error(t, err)
}

func TestCreatePipelineMetrics_Noop(t *testing.T) {
	metrics, err := CreatePipelineMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	assert.NotNil(t, metrics.CellsImputed)
	assert.NotNil(t, metrics.HTTPActiveRequests)
}

func TestRuntimeMetrics_Collect(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	rm, err := NewRuntimeMetrics(mp.Meter("test"))
	require.NoError(t, err)

	stats := rm.Collect(context.Background())
	assert.Positive(t, stats.GoRoutines)
	assert.GreaterOrEqual(t, stats.UptimeSeconds, 0.0)

	var rm2 metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm2))
	require.NotEmpty(t, rm2.ScopeMetrics)
	assert.Len(t, rm2.ScopeMetrics[0].Metrics, 4)
}

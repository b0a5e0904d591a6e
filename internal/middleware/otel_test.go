package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"healthcli/internal/infrastructure"
)

func TestOTelMiddleware(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewOTelMiddleware(tp.Tracer("test"), mp.Meter("test"), discardLogger())
	require.NoError(t, err)

	var traceID string
	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/api/v1/countries/{country}/indicators", func(w http.ResponseWriter, req *http.Request) {
		traceID = infrastructure.GetTraceID(req.Context())
		w.WriteHeader(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/countries/Brazil/indicators", nil))

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "GET /api/v1/countries/{country}/indicators", ended[0].Name())
	assert.Equal(t, ended[0].SpanContext().TraceID().String(), traceID)
	assert.Equal(t, "Error", ended[0].Status().Code.String())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "http_requests_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
				route, _ := dp.Attributes.Value("route")
				assert.Equal(t, "/api/v1/countries/{country}/indicators", route.AsString())
			}
		}
	}
	assert.Equal(t, int64(1), total)
}

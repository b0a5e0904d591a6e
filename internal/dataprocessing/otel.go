package dataprocessing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"healthcli/internal/infrastructure"
)

// TracerName names the pipeline's tracer.
const TracerName = "healthcli.pipeline"

// pipelineTracer wraps span creation and metric recording for pipeline runs.
// It uses the global providers, so it is a no-op until OTel is initialised.
type pipelineTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.PipelineMetrics
}

func newPipelineTracer() (*pipelineTracer, error) {
	metrics, err := infrastructure.CreatePipelineMetrics(otel.Meter(infrastructure.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	return &pipelineTracer{
		tracer:  otel.Tracer(TracerName),
		metrics: metrics,
	}, nil
}

func (pt *pipelineTracer) startRun(ctx context.Context, runID, country string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.country", country),
		),
	)
}

func (pt *pipelineTracer) startStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline.stage."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(attrs, attribute.String("stage", stage))...),
	)
}

func (pt *pipelineTracer) endRun(ctx context.Context, span trace.Span, country string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	attrs := metric.WithAttributes(
		attribute.String("country", country),
		attribute.String("status", status),
	)
	pt.metrics.RunsTotal.Add(ctx, 1, attrs)
	pt.metrics.RunDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (pt *pipelineTracer) endStage(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (pt *pipelineTracer) recordFetch(ctx context.Context, source string, rows int) {
	pt.metrics.SourceRowsFetched.Add(ctx, int64(rows),
		metric.WithAttributes(attribute.String("source", source)))
}

func (pt *pipelineTracer) recordCleaning(ctx context.Context, country string, dropped int, stats ImputationStats) {
	attrs := metric.WithAttributes(attribute.String("country", country))
	pt.metrics.RowsDropped.Add(ctx, int64(dropped), attrs)
	pt.metrics.CellsImputed.Add(ctx, int64(stats.Total()), attrs)
}

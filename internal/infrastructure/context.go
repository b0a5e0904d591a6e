package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type traceIDKey struct{}

// WithTraceID returns ctx carrying id. Pipeline runs use the run id; HTTP
// requests use the request id or the active span's trace id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// GetTraceID returns the id set by WithTraceID, or "".
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// GenerateTraceID returns a random UUID v4.
func GenerateTraceID() string {
	return uuid.New().String()
}

// EnsureTraceID returns ctx unchanged when it already has a trace id and a
// child carrying a fresh one otherwise.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, GenerateTraceID())
}

// LoggerFromContext returns the process logger with the context's trace id
// attached, for code paths that log without passing ctx.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if id := GetTraceID(ctx); id != "" {
		return GetLogger().With(slog.String("trace_id", id))
	}
	return GetLogger()
}

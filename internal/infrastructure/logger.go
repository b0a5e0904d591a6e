package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"healthcli/internal/config"
)

// The process has one configured logger. Pipeline runs and HTTP requests
// share it and are told apart by the trace_id attribute.
var (
	processLogger *slog.Logger
	processOnce   sync.Once

	logFileMu sync.Mutex
	logFile   *os.File
)

// InitializeLogger builds the process logger from the logging section and
// installs it as slog's default. Only the first call has any effect.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var err error
	processOnce.Do(func() {
		var out io.Writer
		out, err = logOutput(cfg)
		if err != nil {
			return
		}
		processLogger = slog.New(&traceHandler{Handler: newHandler(out, cfg)})
		slog.SetDefault(processLogger)
	})
	return processLogger, err
}

// GetLogger returns the process logger, or slog's default before
// InitializeLogger has run.
func GetLogger() *slog.Logger {
	if processLogger == nil {
		return slog.Default()
	}
	return processLogger
}

// NewLogger returns a standalone JSON logger on w that stamps trace ids.
// Tests use it to capture output without touching the process logger.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(&traceHandler{Handler: newHandler(w, config.LoggingConfig{Level: level})})
}

func newHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{AddSource: cfg.AddSource, Level: parseLogLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// logOutput resolves the output setting; "file" and "both" append to
// cfg.FilePath, which CloseLogFile releases.
func logOutput(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file", "both":
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logFileMu.Lock()
		logFile = f
		logFileMu.Unlock()
		if strings.EqualFold(cfg.Output, "both") {
			return io.MultiWriter(os.Stdout, f), nil
		}
		return f, nil
	default:
		return os.Stdout, nil
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// CloseLogFile flushes and closes the log file, if one is open.
func CloseLogFile() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// ResetLoggerForTesting lets a test initialize the process logger again.
func ResetLoggerForTesting() {
	_ = CloseLogFile()
	processLogger = nil
	processOnce = sync.Once{}
}

// traceHandler stamps trace_id on records logged with a traced context.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetTraceID(ctx); id != "" {
		r.AddAttrs(slog.String("trace_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// parseLogLevel maps a config level onto slog; unknown values mean info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

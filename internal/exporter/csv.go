package exporter

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"healthcli/internal/config"
	"healthcli/pkg/contracts/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVWriter provides CSV export functionality
type CSVWriter struct {
	paths *config.Paths
}

// NewCSVWriter creates a new CSV writer instance
func NewCSVWriter(paths *config.Paths) *CSVWriter {
	return &CSVWriter{paths: paths}
}

// WriteOptions configures CSV writing behavior
type WriteOptions struct {
	Headers   []string
	Records   [][]string
	BOMPrefix bool // Add UTF-8 BOM for Excel compatibility
}

// WriteCSV replaces filePath with the given header and records. Relative
// paths are placed in the reports directory.
func (w *CSVWriter) WriteCSV(filePath string, options WriteOptions) error {
	fullPath := w.resolvePath(filePath)

	slog.Debug("Writing CSV file",
		slog.String("full_path", fullPath),
		slog.Int("record_count", len(options.Records)))

	return writeAtomic(fullPath, func(out io.Writer) error {
		if options.BOMPrefix {
			if _, err := out.Write(utf8BOM); err != nil {
				return fmt.Errorf("failed to write BOM: %w", err)
			}
		}

		writer := csv.NewWriter(out)
		if len(options.Headers) > 0 {
			if err := writer.Write(options.Headers); err != nil {
				return fmt.Errorf("failed to write headers: %w", err)
			}
		}
		for i, record := range options.Records {
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write record %d: %w", i, err)
			}
		}
		writer.Flush()
		return writer.Error()
	})
}

func (w *CSVWriter) resolvePath(filePath string) string {
	if filepath.IsAbs(filePath) || w.paths == nil {
		return filePath
	}
	return filepath.Join(w.paths.ReportsDir, filePath)
}

// CSVSink persists finalized tables as {reports_dir}/{country}.csv.
type CSVSink struct {
	writer *CSVWriter
	bom    bool
}

// NewCSVSink creates a CSV sink. bom prefixes files with a UTF-8 BOM.
func NewCSVSink(writer *CSVWriter, bom bool) *CSVSink {
	return &CSVSink{writer: writer, bom: bom}
}

// Name implements dataprocessing.Sink
func (s *CSVSink) Name() string { return "csv" }

// Path returns the file a country's table is written to.
func (s *CSVSink) Path(country string) string {
	return s.writer.resolvePath(config.SafeFileName(country) + ".csv")
}

// Write implements dataprocessing.Sink
func (s *CSVSink) Write(ctx context.Context, country string, t *domain.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writer.WriteCSV(s.Path(country), WriteOptions{
		Headers:   t.Columns,
		Records:   tableRecords(t),
		BOMPrefix: s.bom,
	})
}

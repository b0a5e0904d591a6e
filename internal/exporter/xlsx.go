package exporter

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"healthcli/internal/config"
	"healthcli/pkg/contracts/domain"
)

// maxSheetName is Excel's limit on sheet name length.
const maxSheetName = 31

// XLSXSink persists finalized tables as {reports_dir}/{country}.xlsx with a
// single sheet named after the country.
type XLSXSink struct {
	paths *config.Paths
}

// NewXLSXSink creates an XLSX sink rooted at the reports directory.
func NewXLSXSink(paths *config.Paths) *XLSXSink {
	return &XLSXSink{paths: paths}
}

// Name implements dataprocessing.Sink
func (s *XLSXSink) Name() string { return "xlsx" }

// Path returns the workbook a country's table is written to.
func (s *XLSXSink) Path(country string) string {
	return filepath.Join(s.paths.ReportsDir, config.SafeFileName(country)+".xlsx")
}

// Write implements dataprocessing.Sink
func (s *XLSXSink) Write(ctx context.Context, country string, t *domain.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := buildWorkbook(sheetName(country), t)
	if err != nil {
		return err
	}
	defer f.Close()

	return writeAtomic(s.Path(country), func(w io.Writer) error {
		if _, err := f.WriteTo(w); err != nil {
			return fmt.Errorf("failed to write workbook: %w", err)
		}
		return nil
	})
}

func buildWorkbook(sheet string, t *domain.Table) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(t.Columns))
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", bold); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, row := range t.Rows {
		cells := make([]interface{}, 0, len(row.Values)+1)
		cells = append(cells, row.Year)
		for _, v := range row.Values {
			if v.Valid {
				cells = append(cells, v.Float)
			} else {
				cells = append(cells, nil)
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	return f, nil
}

var sheetReplacer = strings.NewReplacer("[", "_", "]", "_", "'", "_")

// sheetName strips characters Excel rejects and truncates to its limit.
func sheetName(country string) string {
	name := sheetReplacer.Replace(config.SafeFileName(country))
	runes := []rune(name)
	if len(runes) > maxSheetName {
		runes = runes[:maxSheetName]
	}
	return string(runes)
}

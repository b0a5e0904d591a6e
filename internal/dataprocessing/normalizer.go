package dataprocessing

import (
	"fmt"
	"strconv"
	"strings"

	"healthcli/pkg/contracts/domain"
)

// Normalize converts a raw source table into canonical (year, prefixed
// metrics...) rows for one country. A country that does not appear in the
// source yields an empty table that still carries the source's columns; a
// configured column absent from the header is an error.
func Normalize(raw *domain.RawTable, spec domain.SourceSpec, country string) (*domain.Table, error) {
	if raw == nil {
		return nil, fmt.Errorf("%s: nil table", spec.Source)
	}
	switch spec.Layout {
	case domain.LayoutWide:
		return pivotWide(raw, spec, country)
	case domain.LayoutLong, "":
		return normalizeLong(raw, spec, country)
	default:
		return nil, fmt.Errorf("%s: unsupported layout %q", spec.Source, spec.Layout)
	}
}

func normalizeLong(raw *domain.RawTable, spec domain.SourceSpec, country string) (*domain.Table, error) {
	countryIdx, err := requireColumn(raw, spec, spec.CountryColumn)
	if err != nil {
		return nil, err
	}
	yearIdx, err := requireColumn(raw, spec, spec.YearColumn)
	if err != nil {
		return nil, err
	}
	sexIdx := -1
	if spec.SexColumn != "" {
		if sexIdx, err = requireColumn(raw, spec, spec.SexColumn); err != nil {
			return nil, err
		}
	}
	metricIdx := make([]int, len(spec.MetricColumns))
	for i, name := range spec.MetricColumns {
		if metricIdx[i], err = requireColumn(raw, spec, name); err != nil {
			return nil, err
		}
	}

	excluded := make(map[string]bool, len(spec.ExcludeSexValues))
	for _, v := range spec.ExcludeSexValues {
		excluded[strings.ToUpper(v)] = true
	}

	out := domain.NewTable(spec.OutputColumns()[1:]...)
	seen := make(map[int]bool)

	for line, rec := range raw.Records {
		if raw.Cell(rec, countryIdx) != country {
			continue
		}
		if sexIdx >= 0 && excluded[strings.ToUpper(raw.Cell(rec, sexIdx))] {
			continue
		}

		year, err := parseYear(raw.Cell(rec, yearIdx))
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", spec.Source, line+1, err)
		}
		if seen[year] {
			return nil, fmt.Errorf("%s: %w %d for %q", spec.Source, ErrDuplicateYear, year, country)
		}
		seen[year] = true

		values := make([]domain.Value, len(metricIdx))
		for i, idx := range metricIdx {
			if values[i], err = parseValue(raw.Cell(rec, idx)); err != nil {
				return nil, fmt.Errorf("%s: record %d column %s: %w", spec.Source, line+1, spec.MetricColumns[i], err)
			}
		}
		out.AddRow(year, values...)
	}

	out.SortByYear()
	return out, nil
}

// pivotWide turns a one-row-per-country table with one column per year into
// (year, metric) rows. Year columns are recognised by header text.
func pivotWide(raw *domain.RawTable, spec domain.SourceSpec, country string) (*domain.Table, error) {
	countryIdx, err := requireColumn(raw, spec, spec.CountryColumn)
	if err != nil {
		return nil, err
	}
	if spec.MetricName == "" {
		return nil, fmt.Errorf("%s: wide layout requires a metric name", spec.Source)
	}

	type yearColumn struct {
		year  int
		index int
	}
	var years []yearColumn
	for i, h := range raw.Header {
		if y, ok := headerYear(h); ok {
			years = append(years, yearColumn{year: y, index: i})
		}
	}

	out := domain.NewTable(spec.MetricName)

	var match []string
	for _, rec := range raw.Records {
		if raw.Cell(rec, countryIdx) == country {
			match = rec
			break
		}
	}
	if match == nil {
		return out, nil
	}

	for _, yc := range years {
		cell := raw.Cell(match, yc.index)
		if cell == "" {
			continue
		}
		v, err := parseValue(cell)
		if err != nil {
			return nil, fmt.Errorf("%s: year %d: %w", spec.Source, yc.year, err)
		}
		out.AddRow(yc.year, v)
	}

	out.SortByYear()
	return out, nil
}

func requireColumn(raw *domain.RawTable, spec domain.SourceSpec, name string) (int, error) {
	if name == "" {
		return -1, fmt.Errorf("%s: %w: column name not configured", spec.Source, ErrMissingColumn)
	}
	idx := raw.Index(name)
	if idx < 0 {
		return -1, fmt.Errorf("%s: %w %q", spec.Source, ErrMissingColumn, name)
	}
	return idx, nil
}

func headerYear(h string) (int, bool) {
	h = strings.TrimSpace(h)
	if len(h) != 4 {
		return 0, false
	}
	for _, c := range h {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	y, err := strconv.Atoi(h)
	if err != nil {
		return 0, false
	}
	return y, true
}

func parseYear(s string) (int, error) {
	if y, err := strconv.Atoi(s); err == nil {
		return y, nil
	}
	// Some exports write years as floats ("2019.0").
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("%w: year %q", ErrMalformedValue, s)
	}
	return int(f), nil
}

func parseValue(s string) (domain.Value, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return domain.Null, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return domain.Null, fmt.Errorf("%w: %q", ErrMalformedValue, s)
	}
	return domain.Known(f), nil
}

package dataprocessing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"healthcli/pkg/contracts/domain"
)

// ColumnStats are descriptive statistics over the non-null values of a column.
type ColumnStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Nulls  int     `json:"nulls"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	P25    float64 `json:"p25"`
	Median float64 `json:"median"`
	P75    float64 `json:"p75"`
	Max    float64 `json:"max"`
}

// Diagnostics summarise one table. They are observational only.
type Diagnostics struct {
	Name          string        `json:"name"`
	Rows          int           `json:"rows"`
	NullCount     int           `json:"null_count"`
	DuplicateRows int           `json:"duplicate_rows"`
	Columns       []ColumnStats `json:"columns"`
}

// Reporter computes and logs table diagnostics.
type Reporter struct {
	logger *slog.Logger
}

// NewReporter creates a reporter logging through logger.
func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{logger: logger.With(slog.String("component", "diagnostics"))}
}

// Inspect computes diagnostics for t and logs them.
func (r *Reporter) Inspect(ctx context.Context, name string, t *domain.Table) Diagnostics {
	d := Describe(name, t)

	r.logger.InfoContext(ctx, "table diagnostics",
		slog.String("table", name),
		slog.Int("rows", d.Rows),
		slog.Int("null_values", d.NullCount),
		slog.Int("duplicates", d.DuplicateRows))

	for _, c := range d.Columns {
		r.logger.DebugContext(ctx, "column statistics",
			slog.String("table", name),
			slog.String("column", c.Column),
			slog.Int("count", c.Count),
			slog.Float64("mean", c.Mean),
			slog.Float64("std", c.Std),
			slog.Float64("min", c.Min),
			slog.Float64("p25", c.P25),
			slog.Float64("p50", c.Median),
			slog.Float64("p75", c.P75),
			slog.Float64("max", c.Max))
	}
	return d
}

// Describe computes diagnostics without logging.
func Describe(name string, t *domain.Table) Diagnostics {
	d := Diagnostics{
		Name:          name,
		Rows:          t.Len(),
		NullCount:     t.NullCount(),
		DuplicateRows: duplicateRows(t),
	}

	yearStats := describeValues(domain.YearColumn, yearValues(t))
	d.Columns = append(d.Columns, yearStats)
	for _, m := range t.Metrics() {
		col, _ := t.Column(m)
		d.Columns = append(d.Columns, describeValues(m, col))
	}
	return d
}

func yearValues(t *domain.Table) []domain.Value {
	out := make([]domain.Value, t.Len())
	for i, r := range t.Rows {
		out[i] = domain.Known(float64(r.Year))
	}
	return out
}

func describeValues(name string, values []domain.Value) ColumnStats {
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if v.Valid {
			xs = append(xs, v.Float)
		}
	}

	cs := ColumnStats{Column: name, Count: len(xs), Nulls: len(values) - len(xs)}
	if len(xs) == 0 {
		nan := math.NaN()
		cs.Mean, cs.Std, cs.Min, cs.P25, cs.Median, cs.P75, cs.Max = nan, nan, nan, nan, nan, nan, nan
		return cs
	}

	sort.Float64s(xs)
	cs.Mean = stat.Mean(xs, nil)
	cs.Std = math.NaN()
	if len(xs) > 1 {
		cs.Std = stat.StdDev(xs, nil)
	}
	cs.Min = floats.Min(xs)
	cs.Max = floats.Max(xs)
	cs.P25 = stat.Quantile(0.25, stat.LinInterp, xs, nil)
	cs.Median = stat.Quantile(0.5, stat.LinInterp, xs, nil)
	cs.P75 = stat.Quantile(0.75, stat.LinInterp, xs, nil)
	return cs
}

// duplicateRows counts rows identical to an earlier row, year included.
func duplicateRows(t *domain.Table) int {
	seen := make(map[string]bool, t.Len())
	dups := 0
	var b strings.Builder
	for _, r := range t.Rows {
		b.Reset()
		fmt.Fprintf(&b, "%d", r.Year)
		for _, v := range r.Values {
			if v.Valid {
				fmt.Fprintf(&b, "|%g", v.Float)
			} else {
				b.WriteString("|-")
			}
		}
		key := b.String()
		if seen[key] {
			dups++
			continue
		}
		seen[key] = true
	}
	return dups
}

package dataprocessing

import (
	"fmt"
	"strings"

	"healthcli/pkg/contracts/domain"
)

// EmptyColumnPolicy decides what happens to a metric with no value in any row.
type EmptyColumnPolicy string

const (
	// EmptyColumnFail rejects the table with ErrEmptyColumn.
	EmptyColumnFail EmptyColumnPolicy = "fail"
	// EmptyColumnZero fills the column with the sentinel 0.
	EmptyColumnZero EmptyColumnPolicy = "zero"
)

// FinalizeReport describes what Finalize had to do beyond projection.
type FinalizeReport struct {
	MissingColumns []string
	ZeroFilled     []string
}

// Finalize projects t onto columns (year first), materialising absent columns
// as nulls, sorts by year and applies the empty-column policy.
func Finalize(t *domain.Table, columns []string, policy EmptyColumnPolicy) (*domain.Table, FinalizeReport, error) {
	var report FinalizeReport
	if len(columns) == 0 || columns[0] != domain.YearColumn {
		return nil, report, fmt.Errorf("output columns must start with %s", domain.YearColumn)
	}
	metrics := columns[1:]

	src := make([]int, len(metrics))
	for i, name := range metrics {
		src[i] = t.MetricIndex(name)
		if src[i] < 0 {
			report.MissingColumns = append(report.MissingColumns, name)
		}
	}

	out := domain.NewTable(metrics...)
	for _, r := range t.Rows {
		values := make([]domain.Value, len(metrics))
		for i, s := range src {
			if s >= 0 {
				values[i] = r.Values[s]
			}
		}
		out.AddRow(r.Year, values...)
	}
	out.SortByYear()

	for idx, name := range metrics {
		if !columnEmpty(out, idx) {
			continue
		}
		switch policy {
		case EmptyColumnZero:
			for i := range out.Rows {
				out.Rows[i].Values[idx] = domain.Known(0)
			}
			report.ZeroFilled = append(report.ZeroFilled, name)
		default:
			return nil, report, fmt.Errorf("%w: %s", ErrEmptyColumn, name)
		}
	}

	return out, report, nil
}

// ValidationRules bound the values of a finalized table. A zero year bound
// disables that side of the range check.
type ValidationRules struct {
	MinYear     int
	MaxYear     int
	NonNegative bool
}

// Violation is one broken invariant.
type Violation struct {
	Year   int
	Column string
	Reason string
}

func (v Violation) String() string {
	if v.Column == "" {
		return fmt.Sprintf("year %d: %s", v.Year, v.Reason)
	}
	return fmt.Sprintf("year %d, %s: %s", v.Year, v.Column, v.Reason)
}

// ValidationError lists every violation found.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for i, v := range e.Violations {
		if i == 5 {
			parts = append(parts, fmt.Sprintf("and %d more", len(e.Violations)-5))
			break
		}
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("%s: %s", ErrInvariant, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvariant }

// Validate checks the finalized-table invariants: no nulls, strictly
// ascending years and the configured value rules.
func Validate(t *domain.Table, rules ValidationRules) error {
	var violations []Violation
	metrics := t.Metrics()

	for i, r := range t.Rows {
		if i > 0 && r.Year <= t.Rows[i-1].Year {
			violations = append(violations, Violation{Year: r.Year, Reason: "year not strictly ascending"})
		}
		if rules.MinYear != 0 && r.Year < rules.MinYear {
			violations = append(violations, Violation{Year: r.Year, Reason: fmt.Sprintf("year before %d", rules.MinYear)})
		}
		if rules.MaxYear != 0 && r.Year > rules.MaxYear {
			violations = append(violations, Violation{Year: r.Year, Reason: fmt.Sprintf("year after %d", rules.MaxYear)})
		}
		for j, v := range r.Values {
			switch {
			case !v.Valid:
				violations = append(violations, Violation{Year: r.Year, Column: metrics[j], Reason: "null"})
			case rules.NonNegative && v.Float < 0:
				violations = append(violations, Violation{Year: r.Year, Column: metrics[j], Reason: "negative"})
			}
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

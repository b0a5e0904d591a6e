package dataprocessing

import (
	"healthcli/pkg/contracts/domain"
)

// DerivedMetric computes Target as the row mean of the available bounds.
type DerivedMetric struct {
	Target string
	Lower  string
	Upper  string
}

// Imputer fills gaps in a merged table: linear interpolation of interior
// gaps, derived metrics, then forward-fill followed by backward-fill.
type Imputer struct {
	Interpolate []string
	Derive      []DerivedMetric
}

// NewImputer returns the imputer used for the health indicator table.
func NewImputer() *Imputer {
	return &Imputer{
		Interpolate: []string{domain.ColDTP3, domain.ColMVC2, domain.ColUHC},
		Derive: []DerivedMetric{{
			Target: domain.ColHypertension,
			Lower:  domain.ColHypertensionLower,
			Upper:  domain.ColHypertensionUpper,
		}},
	}
}

// ImputationStats counts how each null cell was resolved.
type ImputationStats struct {
	Interpolated   int
	Derived        int
	ForwardFilled  int
	BackwardFilled int
	// Unresolved lists metric columns still null in every row.
	Unresolved []string
}

// Total is the number of cells the imputer wrote.
func (s ImputationStats) Total() int {
	return s.Interpolated + s.Derived + s.ForwardFilled + s.BackwardFilled
}

// Impute returns a filled copy of t ordered by year, and statistics.
func (im *Imputer) Impute(t *domain.Table) (*domain.Table, ImputationStats) {
	out := im.Prepare(t)
	stats := ImputationStats{}

	for _, name := range im.Interpolate {
		if idx := out.MetricIndex(name); idx >= 0 {
			stats.Interpolated += interpolateColumn(out, idx)
		}
	}
	for _, d := range im.Derive {
		stats.Derived += deriveMean(out, d)
	}

	for idx := range out.Metrics() {
		stats.ForwardFilled += forwardFill(out, idx)
	}
	for idx := range out.Metrics() {
		stats.BackwardFilled += backwardFill(out, idx)
	}

	for idx, name := range out.Metrics() {
		if columnEmpty(out, idx) {
			stats.Unresolved = append(stats.Unresolved, name)
		}
	}
	return out, stats
}

// Prepare returns the year-ordered copy Impute works on, with derived
// target columns appended when missing.
func (im *Imputer) Prepare(t *domain.Table) *domain.Table {
	out := t.Clone()
	out.SortByYear()
	for _, d := range im.Derive {
		if out.MetricIndex(d.Target) < 0 {
			out.Columns = append(out.Columns, d.Target)
			for i := range out.Rows {
				out.Rows[i].Values = append(out.Rows[i].Values, domain.Null)
			}
		}
	}
	return out
}

// InterpolateAndDerive runs the steps that precede filling, leaving edge
// gaps in place.
func (im *Imputer) InterpolateAndDerive(t *domain.Table) *domain.Table {
	out := im.Prepare(t)
	for _, name := range im.Interpolate {
		if idx := out.MetricIndex(name); idx >= 0 {
			interpolateColumn(out, idx)
		}
	}
	for _, d := range im.Derive {
		deriveMean(out, d)
	}
	return out
}

// interpolateColumn fills interior nulls by linear blend of the nearest known
// neighbours, weighted by year distance. Leading and trailing gaps are left.
func interpolateColumn(t *domain.Table, idx int) int {
	filled := 0
	prev := -1
	for i, r := range t.Rows {
		if !r.Values[idx].Valid {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			x0, y0 := float64(t.Rows[prev].Year), t.Rows[prev].Values[idx].Float
			x1, y1 := float64(r.Year), r.Values[idx].Float
			for k := prev + 1; k < i; k++ {
				x := float64(t.Rows[k].Year)
				v := y0
				if x1 != x0 {
					v = y0 + (y1-y0)*(x-x0)/(x1-x0)
				}
				t.Rows[k].Values[idx] = domain.Known(v)
				filled++
			}
		}
		prev = i
	}
	return filled
}

// deriveMean overwrites the target with the mean of the bounds present in
// each row. A row with neither bound gets a null target.
func deriveMean(t *domain.Table, d DerivedMetric) int {
	target := t.MetricIndex(d.Target)
	lower := t.MetricIndex(d.Lower)
	upper := t.MetricIndex(d.Upper)
	if target < 0 {
		return 0
	}

	derived := 0
	for i := range t.Rows {
		vals := t.Rows[i].Values
		sum, n := 0.0, 0
		for _, b := range []int{lower, upper} {
			if b >= 0 && vals[b].Valid {
				sum += vals[b].Float
				n++
			}
		}
		if n == 0 {
			vals[target] = domain.Null
			continue
		}
		vals[target] = domain.Known(sum / float64(n))
		derived++
	}
	return derived
}

// forwardFill carries the last known value forward.
func forwardFill(t *domain.Table, idx int) int {
	filled := 0
	var last domain.Value
	for i := range t.Rows {
		v := t.Rows[i].Values[idx]
		if v.Valid {
			last = v
			continue
		}
		if last.Valid {
			t.Rows[i].Values[idx] = last
			filled++
		}
	}
	return filled
}

// backwardFill carries the next known value backward.
func backwardFill(t *domain.Table, idx int) int {
	filled := 0
	var next domain.Value
	for i := len(t.Rows) - 1; i >= 0; i-- {
		v := t.Rows[i].Values[idx]
		if v.Valid {
			next = v
			continue
		}
		if next.Valid {
			t.Rows[i].Values[idx] = next
			filled++
		}
	}
	return filled
}

func columnEmpty(t *domain.Table, idx int) bool {
	for _, r := range t.Rows {
		if r.Values[idx].Valid {
			return false
		}
	}
	return true
}

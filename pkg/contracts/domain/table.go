package domain

import (
	"sort"
)

// YearColumn is the join key shared by every source.
const YearColumn = "DIM_TIME"

// Metric column names of the finalized table.
const (
	ColLifeExpectancy    = "Life Expectancy"
	ColHypertension      = "HYPERTENSION_RATE_PER_100_N"
	ColHypertensionLower = "HYPERTENSION_RATE_PER_100_NL"
	ColHypertensionUpper = "HYPERTENSION_RATE_PER_100_NU"
	ColUHC               = "UHC_INDEX_N"
	ColDTP3              = "DTP3_RATE_PER_100_N"
	ColMVC2              = "MVC2_RATE_PER_100_N"
)

// OutputColumns is the fixed column order of a finalized table.
var OutputColumns = []string{
	YearColumn,
	ColLifeExpectancy,
	ColHypertension,
	ColHypertensionLower,
	ColHypertensionUpper,
	ColUHC,
	ColDTP3,
	ColMVC2,
}

// TargetColumns are the tracked indicators; a year with none of them is
// uninformative.
var TargetColumns = []string{ColDTP3, ColMVC2, ColHypertension, ColUHC}

// Value is a nullable metric value.
type Value struct {
	Float float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// Known wraps a present value.
func Known(f float64) Value {
	return Value{Float: f, Valid: true}
}

// Null is the absent value.
var Null = Value{}

// Row is one year of a table. Values are aligned with Table.Columns[1:].
type Row struct {
	Year   int
	Values []Value
}

// Table is an ordered set of rows keyed by year. Columns[0] is always the
// year column; the remaining columns are metrics.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable creates an empty table with the given metric columns.
func NewTable(metrics ...string) *Table {
	cols := make([]string, 0, len(metrics)+1)
	cols = append(cols, YearColumn)
	cols = append(cols, metrics...)
	return &Table{Columns: cols}
}

// Metrics returns the metric column names.
func (t *Table) Metrics() []string {
	if len(t.Columns) == 0 {
		return nil
	}
	return t.Columns[1:]
}

// MetricIndex returns the position of a metric inside Row.Values, or -1.
func (t *Table) MetricIndex(name string) int {
	for i, c := range t.Metrics() {
		if c == name {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// AddRow appends a row, padding missing values with nulls.
func (t *Table) AddRow(year int, values ...Value) {
	row := Row{Year: year, Values: make([]Value, len(t.Metrics()))}
	copy(row.Values, values)
	t.Rows = append(t.Rows, row)
}

// Column returns a copy of the named metric column in row order.
func (t *Table) Column(name string) ([]Value, bool) {
	idx := t.MetricIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]Value, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values[idx]
	}
	return out, true
}

// Years returns the year of every row in row order.
func (t *Table) Years() []int {
	out := make([]int, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Year
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = Row{Year: r.Year, Values: append([]Value(nil), r.Values...)}
	}
	return out
}

// SortByYear orders rows ascending by year in place. The sort is stable so
// rows sharing a year keep their relative order.
func (t *Table) SortByYear() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Year < t.Rows[j].Year
	})
}

// NullCount counts null cells across all metric columns.
func (t *Table) NullCount() int {
	n := 0
	for _, r := range t.Rows {
		for _, v := range r.Values {
			if !v.Valid {
				n++
			}
		}
	}
	return n
}

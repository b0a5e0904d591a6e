package exporter

import (
	"math"
	"strconv"
	"strings"

	"healthcli/pkg/contracts/domain"
)

// formatFloat renders the shortest representation that round-trips. Whole
// numbers keep a trailing ".0" so metric columns read back as floats.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) || strings.Contains(s, ".") {
		return s
	}
	return s + ".0"
}

// formatValue renders a nullable value; nulls become empty cells.
func formatValue(v domain.Value) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float)
}

// tableRecords renders every row of t as CSV cells, year first.
func tableRecords(t *domain.Table) [][]string {
	records := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		record := make([]string, 0, len(row.Values)+1)
		record = append(record, strconv.Itoa(row.Year))
		for _, v := range row.Values {
			record = append(record, formatValue(v))
		}
		records = append(records, record)
	}
	return records
}

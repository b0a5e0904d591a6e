package dataprocessing

import (
	"fmt"
	"sort"

	"healthcli/pkg/contracts/domain"
)

// Merge full-outer-joins tables on the year key, left to right. Every year
// present in any input appears exactly once in the result, with nulls for
// metrics its source tables do not cover. Metric columns keep input order.
func Merge(tables ...*domain.Table) (*domain.Table, error) {
	var metrics []string
	owner := make(map[string]int)
	for ti, t := range tables {
		if t == nil {
			continue
		}
		for _, m := range t.Metrics() {
			if prev, dup := owner[m]; dup {
				return nil, fmt.Errorf("%w: %q in tables %d and %d", ErrColumnCollision, m, prev, ti)
			}
			owner[m] = ti
			metrics = append(metrics, m)
		}
	}

	out := domain.NewTable(metrics...)
	byYear := make(map[int]int)
	offset := 0

	for ti, t := range tables {
		if t == nil {
			continue
		}
		width := len(t.Metrics())
		for _, r := range t.Rows {
			pos, ok := byYear[r.Year]
			if !ok {
				out.AddRow(r.Year)
				pos = len(out.Rows) - 1
				byYear[r.Year] = pos
			} else if anyValid(out.Rows[pos].Values[offset : offset+width]) {
				// Only reachable when an input carries a year twice.
				return nil, fmt.Errorf("table %d: %w %d", ti, ErrDuplicateYear, r.Year)
			}
			copy(out.Rows[pos].Values[offset:offset+width], r.Values)
		}
		offset += width
	}

	sort.SliceStable(out.Rows, func(i, j int) bool { return out.Rows[i].Year < out.Rows[j].Year })
	return out, nil
}

func anyValid(values []domain.Value) bool {
	for _, v := range values {
		if v.Valid {
			return true
		}
	}
	return false
}

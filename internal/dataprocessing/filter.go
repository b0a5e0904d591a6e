package dataprocessing

import "healthcli/pkg/contracts/domain"

// DropUninformative removes rows in which every target metric is null. A
// target missing from the table counts as null. The input is not modified.
func DropUninformative(t *domain.Table, targets []string) (*domain.Table, int) {
	idx := make([]int, 0, len(targets))
	for _, name := range targets {
		if i := t.MetricIndex(name); i >= 0 {
			idx = append(idx, i)
		}
	}

	out := &domain.Table{Columns: append([]string(nil), t.Columns...)}
	dropped := 0
	for _, r := range t.Rows {
		informative := false
		for _, i := range idx {
			if r.Values[i].Valid {
				informative = true
				break
			}
		}
		if !informative {
			dropped++
			continue
		}
		out.Rows = append(out.Rows, domain.Row{Year: r.Year, Values: append([]domain.Value(nil), r.Values...)})
	}
	return out, dropped
}

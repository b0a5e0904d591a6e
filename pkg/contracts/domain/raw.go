package domain

import "strings"

// RawTable is an untyped tabular payload as delivered by a fetcher.
type RawTable struct {
	Header  []string
	Records [][]string
}

// Index returns the position of the named header, or -1. Surrounding
// whitespace is ignored.
func (r *RawTable) Index(name string) int {
	for i, h := range r.Header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

// Cell returns the trimmed value at (row, col), or "" when out of range.
func (r *RawTable) Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// Payload is a fetched source together with its provenance.
type Payload struct {
	Source   Source
	Location string
	// Digest is a hex BLAKE2b-256 of the bytes the table was parsed from.
	Digest string
	Size   int
	Table  *RawTable
}

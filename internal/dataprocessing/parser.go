package dataprocessing

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"healthcli/pkg/contracts/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads a comma separated payload into a RawTable. Lines before the
// first record containing headerMarker are treated as preamble and skipped,
// which is how the World Bank bulk files are laid out. Blank records are
// dropped and short records are padded to the header width.
func ParseCSV(r io.Reader, headerMarker string) (*domain.RawTable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	table := &domain.RawTable{}
	headerFound := false

	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedValue, line, err)
		}
		if isBlankRecord(record) {
			continue
		}

		if !headerFound {
			if containsCell(record, headerMarker) {
				table.Header = trimAll(record)
				headerFound = true
			}
			continue
		}

		if len(record) < len(table.Header) {
			padded := make([]string, len(table.Header))
			copy(padded, record)
			record = padded
		}
		table.Records = append(table.Records, record)
	}

	if !headerFound {
		return nil, fmt.Errorf("%w: header row with %q not found", ErrMissingColumn, headerMarker)
	}
	return table, nil
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func containsCell(record []string, want string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) == want {
			return true
		}
	}
	return false
}

func trimAll(record []string) []string {
	out := make([]string, len(record))
	for i, cell := range record {
		out[i] = strings.TrimSpace(cell)
	}
	return out
}

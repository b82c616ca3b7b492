package parsers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Reserved CSV columns. Every other column is a field, foreign key or
// type column of the record.
const (
	columnType   = "type"
	columnID     = "id"
	columnAction = "action"
)

// CSVParser parses changes from CSV with a header row. Empty cells are
// left out of the values, so a CSV file cannot set a column to null.
type CSVParser struct{}

// Parse reads CSV from the reader and returns parsed changes.
func (p *CSVParser) Parse(r io.Reader) ([]RawChange, error) {
	reader := csv.NewReader(r)

	header, err := p.readHeader(reader)
	if err != nil {
		return nil, err
	}

	return p.readRecords(reader, header)
}

// readHeader reads and validates the CSV header row.
func (p *CSVParser) readHeader(reader *csv.Reader) ([]string, error) {
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	seen := make(map[string]bool, len(header))
	for _, col := range header {
		if col == "" {
			return nil, errors.New("empty column name in CSV header")
		}
		if seen[col] {
			return nil, fmt.Errorf("duplicate column: %s", col)
		}
		seen[col] = true
	}
	if !seen[columnType] {
		return nil, fmt.Errorf("missing required column: %s", columnType)
	}

	return header, nil
}

// readRecords reads all data rows and converts them to RawChanges.
func (p *CSVParser) readRecords(reader *csv.Reader, header []string) ([]RawChange, error) {
	var changes []RawChange
	lineNum := 1 // Header is line 1

	for {
		lineNum++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		changes = append(changes, p.parseRecord(record, header, lineNum))
	}

	return changes, nil
}

// parseRecord converts a CSV record to a RawChange.
func (p *CSVParser) parseRecord(record []string, header []string, lineNum int) RawChange {
	change := RawChange{Line: lineNum}
	for i, col := range header {
		if i >= len(record) || record[i] == "" {
			continue
		}
		switch col {
		case columnType:
			change.Type = record[i]
		case columnID:
			change.ID = record[i]
		case columnAction:
			change.Action = record[i]
		default:
			if change.Values == nil {
				change.Values = make(map[string]any)
			}
			change.Values[col] = record[i]
		}
	}
	return change
}

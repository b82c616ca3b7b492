package parsers

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONParser parses an array of change objects.
type JSONParser struct{}

// Parse reads JSON from the reader and returns parsed changes.
func (p *JSONParser) Parse(r io.Reader) ([]RawChange, error) {
	var changes []RawChange

	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	if err := decoder.Decode(&changes); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	// Array index + 1, 1-indexed
	for i := range changes {
		changes[i].Line = i + 1
		for name, v := range changes[i].Values {
			if n, ok := v.(json.Number); ok {
				changes[i].Values[name] = number(n)
			}
		}
	}

	return changes, nil
}

// number keeps integers exact and falls back to float64.
func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// Package parsers reads record changes to draft from JSON and CSV files.
package parsers

import (
	"io"
	"path/filepath"
	"strings"
)

// RawChange is one record change read from a file before it is drafted.
type RawChange struct {
	Type   string         `json:"type"`
	ID     string         `json:"id,omitempty"`     // target of an update or delete
	Action string         `json:"action,omitempty"` // create when ID is empty, update otherwise
	Values map[string]any `json:"values,omitempty"`
	Line   int            `json:"-"` // position in the source file (set by parser)
}

// Parser defines the interface for parsing record changes.
type Parser interface {
	Parse(r io.Reader) ([]RawChange, error)
}

// ForFormat returns the appropriate parser for the given format.
// Supported formats: "json", "csv".
func ForFormat(format string) Parser {
	switch strings.ToLower(format) {
	case "json":
		return &JSONParser{}
	case "csv":
		return &CSVParser{}
	default:
		return nil
	}
}

// ForFile returns the appropriate parser based on file extension.
func ForFile(filename string) Parser {
	return ForFormat(strings.TrimPrefix(filepath.Ext(filename), "."))
}

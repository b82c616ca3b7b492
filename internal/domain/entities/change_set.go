package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Change is the [old, new] pair recorded for one field. Association fields
// hold *Ref values (or nil) instead of scalars.
type Change struct {
	Old any
	New any
}

// MarshalJSON encodes the change as a two element array.
func (c Change) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{c.Old, c.New})
}

// UnmarshalJSON decodes a two element array. Numbers are kept as
// json.Number so integer columns survive the round trip.
func (c *Change) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decoding change: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: change must have exactly 2 elements, got %d", ErrInvalidArgument, len(pair))
	}

	values := make([]any, 2)
	for i, raw := range pair {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&values[i]); err != nil {
			return fmt.Errorf("decoding change value: %w", err)
		}
	}
	c.Old, c.New = values[0], values[1]
	return nil
}

// ChangeSet maps a field or association name to its change.
type ChangeSet map[string]Change

// Has reports whether the change-set records a change for name.
func (cs ChangeSet) Has(name string) bool {
	_, ok := cs[name]
	return ok
}

// Fields returns the changed names in sorted order.
func (cs ChangeSet) Fields() []string {
	names := make([]string, 0, len(cs))
	for name := range cs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

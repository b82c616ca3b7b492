package entities

import "maps"

// Record is an in-memory instance of a registered type. It tracks the values
// loaded from the store separately from the current values so pending
// changes can be computed without a query.
type Record struct {
	Type string
	ID   string // empty until persisted

	// Draft is the pending draft written for this record, if any. It lets
	// later drafts reference an unpersisted record through its draft.
	Draft *Draft

	values   map[string]any
	original map[string]any
	assigned map[string]*Record
}

// NewRecord returns an unpersisted record with the given values.
func NewRecord(typeName string, values map[string]any) *Record {
	r := &Record{
		Type:     typeName,
		values:   make(map[string]any, len(values)),
		original: make(map[string]any),
		assigned: make(map[string]*Record),
	}
	maps.Copy(r.values, values)
	return r
}

// LoadRecord returns a persisted record whose current and original values
// both equal values.
func LoadRecord(typeName, id string, values map[string]any) *Record {
	r := NewRecord(typeName, values)
	r.ID = id
	maps.Copy(r.original, values)
	return r
}

// IsPersisted reports whether the record exists in the store.
func (r *Record) IsPersisted() bool {
	return r.ID != ""
}

// Ref returns a reference to the persisted record, or nil.
func (r *Record) Ref() *Ref {
	if !r.IsPersisted() {
		return nil
	}
	return &Ref{Type: r.Type, ID: r.ID}
}

// Get returns the current value of a column.
func (r *Record) Get(name string) any {
	return r.values[name]
}

// Set changes the current value of a column.
func (r *Record) Set(name string, value any) *Record {
	r.values[name] = value
	return r
}

// Original returns the value of a column as it was loaded.
func (r *Record) Original(name string) any {
	return r.original[name]
}

// Values returns a copy of the current values.
func (r *Record) Values() map[string]any {
	return maps.Clone(r.values)
}

// SetAssociated assigns the record on the other end of a belongs-to
// association. other may be unpersisted, or nil to clear the association.
func (r *Record) SetAssociated(name string, other *Record) *Record {
	r.assigned[name] = other
	return r
}

// Associated returns the record assigned with SetAssociated. ok is false
// when nothing was assigned and the foreign key column is authoritative.
func (r *Record) Associated(name string) (other *Record, ok bool) {
	other, ok = r.assigned[name]
	return other, ok
}

// MarkPersisted records that the current values were written under id.
func (r *Record) MarkPersisted(id string) {
	r.ID = id
	r.original = maps.Clone(r.values)
	clear(r.assigned)
}

package entities

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// validTypeNameRegex allows type names such as Role or ContactAddress.
	validTypeNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	// validColumnRegex allows lowercase SQL identifiers only. Table and
	// column names are interpolated into queries.
	validColumnRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// Field is a direct (non association) column of a record type.
type Field struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// BelongsTo is a single valued association stored as a foreign key on the
// owning record. Polymorphic associations also store the target type name.
type BelongsTo struct {
	Name        string `json:"name"`
	ForeignKey  string `json:"foreign_key"`
	Target      string `json:"target,omitempty"`
	Polymorphic bool   `json:"polymorphic,omitempty"`
	TypeColumn  string `json:"type_column,omitempty"`
}

// HasMany is a multi valued association, the inverse side of a BelongsTo
// declared on Target.
type HasMany struct {
	Name    string `json:"name"`
	Target  string `json:"target"`
	Inverse string `json:"inverse"`
}

// RecordType describes a draftable type: how to name it, which columns it
// has and how its associations are stored.
type RecordType struct {
	Name       string      `json:"name"`
	Table      string      `json:"table"`
	Fields     []Field     `json:"fields"`
	BelongsTo  []BelongsTo `json:"belongs_to,omitempty"`
	HasMany    []HasMany   `json:"has_many,omitempty"`
	Timestamps bool        `json:"timestamps,omitempty"`

	// Label renders a record for review output. Optional.
	Label func(*Record) string `json:"-"`
}

// Field returns the direct field called name.
func (t *RecordType) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Association returns the belongs-to association called name.
func (t *RecordType) Association(name string) (BelongsTo, bool) {
	for _, a := range t.BelongsTo {
		if a.Name == name {
			return a, true
		}
	}
	return BelongsTo{}, false
}

// Collection returns the has-many association called name.
func (t *RecordType) Collection(name string) (HasMany, bool) {
	for _, c := range t.HasMany {
		if c.Name == name {
			return c, true
		}
	}
	return HasMany{}, false
}

// Columns lists every writable column: fields, foreign keys and
// polymorphic type columns.
func (t *RecordType) Columns() []string {
	cols := make([]string, 0, len(t.Fields)+2*len(t.BelongsTo))
	for _, f := range t.Fields {
		cols = append(cols, f.Name)
	}
	for _, a := range t.BelongsTo {
		cols = append(cols, a.ForeignKey)
		if a.Polymorphic {
			cols = append(cols, a.TypeColumn)
		}
	}
	return cols
}

// Describe renders a record using Label, falling back to a name field and
// then the id.
func (t *RecordType) Describe(r *Record) string {
	if t.Label != nil {
		return t.Label(r)
	}
	if name, ok := r.Get("name").(string); ok && name != "" {
		return name
	}
	return r.ID
}

// Validate checks names and that no two members share a name.
func (t *RecordType) Validate() error {
	if !validTypeNameRegex.MatchString(t.Name) {
		return fmt.Errorf("%w: invalid type name %q", ErrInvalidArgument, t.Name)
	}
	if t.Name == DraftRefType {
		return fmt.Errorf("%w: type name %q is reserved", ErrInvalidArgument, t.Name)
	}
	if !validColumnRegex.MatchString(t.Table) {
		return fmt.Errorf("%w: invalid table name %q for %s", ErrInvalidArgument, t.Table, t.Name)
	}

	seen := map[string]bool{"id": true, "created_at": true, "updated_at": true}
	claim := func(name string) error {
		if !validColumnRegex.MatchString(name) {
			return fmt.Errorf("%w: invalid name %q on %s", ErrInvalidArgument, name, t.Name)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate or reserved name %q on %s", ErrInvalidArgument, name, t.Name)
		}
		seen[name] = true
		return nil
	}

	var errs []error
	for _, f := range t.Fields {
		if !f.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%w: field %s has unknown kind %q", ErrInvalidArgument, f.Name, f.Kind))
		}
		errs = append(errs, claim(f.Name))
	}
	for _, a := range t.BelongsTo {
		errs = append(errs, claim(a.Name), claim(a.ForeignKey))
		switch {
		case a.Polymorphic:
			errs = append(errs, claim(a.TypeColumn))
		case a.Target == "":
			errs = append(errs, fmt.Errorf("%w: association %s needs a target", ErrInvalidArgument, a.Name))
		}
	}
	for _, c := range t.HasMany {
		errs = append(errs, claim(c.Name))
		if c.Target == "" || c.Inverse == "" {
			errs = append(errs, fmt.Errorf("%w: collection %s needs a target and an inverse", ErrInvalidArgument, c.Name))
		}
	}
	return errors.Join(errs...)
}

package services

import (
	"context"
	"fmt"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
)

// Serializer converts record changes into change-sets and change-sets back
// into values that can be written.
type Serializer struct {
	types   *RecordTypeService
	drafts  ports.DraftStore
	records ports.RecordStore
}

// NewSerializer creates a new Serializer.
func NewSerializer(types *RecordTypeService, drafts ports.DraftStore, records ports.RecordStore) *Serializer {
	return &Serializer{
		types:   types,
		drafts:  drafts,
		records: records,
	}
}

// ChangesForRecord computes the pending changes of rec. Belongs-to
// associations are keyed by association name and hold references; an
// association to an unpersisted record refers to that record's draft. The
// result is empty, never nil, when nothing changed.
func (s *Serializer) ChangesForRecord(rec *entities.Record) (entities.ChangeSet, error) {
	rt, err := s.types.Get(rec.Type)
	if err != nil {
		return nil, err
	}

	changes := entities.ChangeSet{}
	for _, assoc := range rt.BelongsTo {
		oldRef := originalRef(rec, assoc)
		newRef, err := currentRef(rec, assoc)
		if err != nil {
			return nil, err
		}
		if entities.RefsEqual(oldRef, newRef) {
			continue
		}
		changes[assoc.Name] = entities.Change{Old: refValue(oldRef), New: refValue(newRef)}
	}

	for _, field := range rt.Fields {
		newValue, err := field.Kind.Coerce(rec.Get(field.Name))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		var oldValue any
		if rec.IsPersisted() {
			oldValue, err = field.Kind.Coerce(rec.Original(field.Name))
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field.Name, err)
			}
		}
		if field.Kind.Equal(oldValue, newValue) {
			continue
		}
		changes[field.Name] = entities.Change{Old: oldValue, New: newValue}
	}

	return changes, nil
}

// NewValuesForDraft resolves the new half of every change in d. Direct
// fields are coerced to their kind. Associations resolve to the referenced
// *entities.Record, or nil. A reference to a draft resolves to the record
// that draft produced, which requires it to have been applied already.
func (s *Serializer) NewValuesForDraft(ctx context.Context, d *entities.Draft) (map[string]any, error) {
	rt, err := s.types.Get(d.TargetType)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(d.Changes))
	for name, change := range d.Changes {
		if field, ok := rt.Field(name); ok {
			v, err := field.Kind.Coerce(change.New)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			values[name] = v
			continue
		}

		assoc, ok := rt.Association(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field or association %q", entities.ErrInvalidArgument, rt.Name, name)
		}
		rec, err := s.resolveRef(ctx, d, assoc, change.New)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			values[name] = nil
		} else {
			values[name] = rec
		}
	}
	return values, nil
}

// ColumnsFor maps resolved new values onto store columns. Associations
// become their foreign key and, when polymorphic, their type column.
func (s *Serializer) ColumnsFor(rt *entities.RecordType, values map[string]any) (map[string]any, error) {
	columns := make(map[string]any, len(values))
	for name, v := range values {
		if _, ok := rt.Field(name); ok {
			columns[name] = v
			continue
		}

		assoc, ok := rt.Association(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field or association %q", entities.ErrInvalidArgument, rt.Name, name)
		}
		rec, _ := v.(*entities.Record)
		if rec == nil {
			columns[assoc.ForeignKey] = nil
			if assoc.Polymorphic {
				columns[assoc.TypeColumn] = nil
			}
			continue
		}
		columns[assoc.ForeignKey] = rec.ID
		if assoc.Polymorphic {
			columns[assoc.TypeColumn] = rec.Type
		}
	}
	return columns, nil
}

func (s *Serializer) resolveRef(
	ctx context.Context,
	d *entities.Draft,
	assoc entities.BelongsTo,
	v any,
) (*entities.Record, error) {
	ref, err := entities.RefFromValue(v)
	if err != nil {
		return nil, fmt.Errorf("association %s: %w", assoc.Name, err)
	}
	if ref == nil {
		return nil, nil
	}

	if ref.IsDraft() {
		prior, err := s.drafts.GetDraft(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if prior == nil || prior.TransactionID != d.TransactionID {
			return nil, fmt.Errorf("%w: draft %s is not part of transaction %s",
				entities.ErrRecordNotFound, ref.ID, d.TransactionID)
		}
		if !prior.HasTarget() {
			return nil, fmt.Errorf("%w: %s referenced by %s", entities.ErrPriorDraftNotApplied, prior, assoc.Name)
		}
		ref = prior.TargetRef()
	}

	if !assoc.Polymorphic && ref.Type != assoc.Target {
		return nil, fmt.Errorf("%w: association %s expects %s, got %s",
			entities.ErrInvalidArgument, assoc.Name, assoc.Target, ref.Type)
	}
	target, err := s.types.Get(ref.Type)
	if err != nil {
		return nil, err
	}
	rec, err := s.records.Find(ctx, target, ref.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrRecordNotFound, ref)
	}
	return rec, nil
}

// originalRef is the association as loaded. It never points at a draft and
// is always nil for unpersisted records.
func originalRef(rec *entities.Record, assoc entities.BelongsTo) *entities.Ref {
	if !rec.IsPersisted() {
		return nil
	}
	return columnRef(assoc, rec.Original(assoc.ForeignKey), rec.Original(assoc.TypeColumn))
}

// currentRef is the association as it will be written. An assigned record
// takes precedence over the foreign key column.
func currentRef(rec *entities.Record, assoc entities.BelongsTo) (*entities.Ref, error) {
	other, assigned := rec.Associated(assoc.Name)
	if !assigned {
		return columnRef(assoc, rec.Get(assoc.ForeignKey), rec.Get(assoc.TypeColumn)), nil
	}
	if other == nil {
		return nil, nil
	}
	if !assoc.Polymorphic && other.Type != assoc.Target {
		return nil, fmt.Errorf("%w: association %s expects %s, got %s",
			entities.ErrInvalidArgument, assoc.Name, assoc.Target, other.Type)
	}
	if other.IsPersisted() {
		return other.Ref(), nil
	}
	if other.Draft == nil || other.Draft.ID == "" {
		return nil, fmt.Errorf("%w: %s points to an unsaved %s", entities.ErrAssociationUnsaved, assoc.Name, other.Type)
	}
	ref := other.Draft.Ref()
	return &ref, nil
}

func columnRef(assoc entities.BelongsTo, fk, typeColumn any) *entities.Ref {
	id := entities.IDString(fk)
	if id == "" {
		return nil
	}
	typ := assoc.Target
	if assoc.Polymorphic {
		typ, _ = typeColumn.(string)
	}
	if typ == "" {
		return nil
	}
	return &entities.Ref{Type: typ, ID: id}
}

// refValue keeps nil references untyped so change values compare with nil.
func refValue(ref *entities.Ref) any {
	if ref == nil {
		return nil
	}
	return ref
}

package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
)

// ValueKind says which member of a ProxyValue is set.
type ValueKind int

const (
	ValueScalar ValueKind = iota
	ValueReference
	ValueCollection
)

// ProxyValue is the old or new value of one field as seen through a proxy:
// a scalar, a single associated record (possibly none) or a collection.
type ProxyValue struct {
	Kind    ValueKind
	Scalar  any
	Proxy   *ChangeProxy
	Proxies []*ChangeProxy
}

func scalarValue(v any) ProxyValue                 { return ProxyValue{Kind: ValueScalar, Scalar: v} }
func referenceValue(p *ChangeProxy) ProxyValue     { return ProxyValue{Kind: ValueReference, Proxy: p} }
func collectionValue(ps []*ChangeProxy) ProxyValue { return ProxyValue{Kind: ValueCollection, Proxies: ps} }

// String renders the value for review output.
func (v ProxyValue) String() string {
	switch v.Kind {
	case ValueReference:
		if v.Proxy == nil {
			return "none"
		}
		return v.Proxy.CurrentString()
	case ValueCollection:
		parts := make([]string, len(v.Proxies))
		for i, p := range v.Proxies {
			parts[i] = p.CurrentString()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		if v.Scalar == nil {
			return "nil"
		}
		return fmt.Sprint(v.Scalar)
	}
}

// FieldChange pairs the current and drafted value of a field.
type FieldChange struct {
	Old ProxyValue
	New ProxyValue
}

// ProxyKey identifies a proxy. Two proxies are equal when their keys are.
type ProxyKey struct {
	TransactionID string
	DraftID       string
	TargetType    string
	TargetID      string
}

// Inspector builds read-only change proxies within a draft transaction.
type Inspector struct {
	types   *RecordTypeService
	drafts  ports.DraftStore
	records ports.RecordStore
}

// NewInspector creates a new Inspector.
func NewInspector(types *RecordTypeService, drafts ports.DraftStore, records ports.RecordStore) *Inspector {
	return &Inspector{
		types:   types,
		drafts:  drafts,
		records: records,
	}
}

// ProxyForDraft wraps a persisted draft. txn may be nil, in which case the
// draft's own transaction is loaded.
func (i *Inspector) ProxyForDraft(ctx context.Context, d *entities.Draft, txn *entities.Transaction) (*ChangeProxy, error) {
	if d == nil || d.ID == "" {
		return nil, fmt.Errorf("%w: a persisted draft is required", entities.ErrInvalidArgument)
	}
	if txn == nil {
		loaded, err := i.drafts.GetTransaction(ctx, d.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("loading draft transaction: %w", err)
		}
		if loaded == nil {
			return nil, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, d.TransactionID)
		}
		txn = loaded
	}
	if txn.ID != d.TransactionID {
		return nil, fmt.Errorf("%w: %s belongs to transaction %s, not %s",
			entities.ErrInvalidArgument, d, d.TransactionID, txn.ID)
	}

	rt, err := i.types.Get(d.TargetType)
	if err != nil {
		return nil, err
	}
	var rec *entities.Record
	if d.HasTarget() {
		rec, err = i.records.Find(ctx, rt, d.TargetID)
		if err != nil {
			return nil, err
		}
	}
	return newChangeProxy(i, txn, d, rec, rt), nil
}

// ProxyForRecord wraps a persisted record together with its draft in txn,
// if it has one.
func (i *Inspector) ProxyForRecord(ctx context.Context, txn *entities.Transaction, rec *entities.Record) (*ChangeProxy, error) {
	if txn == nil {
		return nil, fmt.Errorf("%w: a draft transaction is required", entities.ErrInvalidArgument)
	}
	if rec == nil || !rec.IsPersisted() {
		return nil, fmt.Errorf("%w: a persisted record is required", entities.ErrInvalidArgument)
	}
	rt, err := i.types.Get(rec.Type)
	if err != nil {
		return nil, err
	}

	drafts, err := i.drafts.ListDrafts(ctx, ports.DraftFilter{
		TransactionID: txn.ID,
		TargetType:    rec.Type,
		TargetID:      rec.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	var d *entities.Draft
	if len(drafts) > 0 {
		d = drafts[0]
	}
	return newChangeProxy(i, txn, d, rec, rt), nil
}

// ProxyFor wraps either a *entities.Draft or a persisted *entities.Record.
func (i *Inspector) ProxyFor(ctx context.Context, txn *entities.Transaction, target any) (*ChangeProxy, error) {
	switch v := target.(type) {
	case *entities.Draft:
		return i.ProxyForDraft(ctx, v, txn)
	case *entities.Record:
		return i.ProxyForRecord(ctx, txn, v)
	default:
		return nil, fmt.Errorf("%w: cannot build a proxy for %T", entities.ErrInvalidArgument, target)
	}
}

// ProxiesForTransaction wraps every draft of txn in creation order.
func (i *Inspector) ProxiesForTransaction(ctx context.Context, txn *entities.Transaction) ([]*ChangeProxy, error) {
	drafts, err := i.drafts.ListDrafts(ctx, ports.DraftFilter{TransactionID: txn.ID})
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	proxies := make([]*ChangeProxy, 0, len(drafts))
	for _, d := range drafts {
		p, err := i.ProxyForDraft(ctx, d, txn)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}

// ChangeProxy answers "what is this value now, and what will it be" for a
// draft and/or record without applying anything. Results are memoized, so
// a proxy reflects the store at the time each value was first read. A
// proxy is not safe for concurrent use.
type ChangeProxy struct {
	inspector *Inspector
	txn       *entities.Transaction
	draft     *entities.Draft
	record    *entities.Record
	rt        *entities.RecordType

	oldValues map[string]ProxyValue
	newValues map[string]ProxyValue
	added     map[string][]*ChangeProxy
	updated   map[string][]*ChangeProxy
	removed   map[string][]*ChangeProxy
}

func newChangeProxy(
	i *Inspector,
	txn *entities.Transaction,
	d *entities.Draft,
	rec *entities.Record,
	rt *entities.RecordType,
) *ChangeProxy {
	return &ChangeProxy{
		inspector: i,
		txn:       txn,
		draft:     d,
		record:    rec,
		rt:        rt,
		oldValues: make(map[string]ProxyValue),
		newValues: make(map[string]ProxyValue),
		added:     make(map[string][]*ChangeProxy),
		updated:   make(map[string][]*ChangeProxy),
		removed:   make(map[string][]*ChangeProxy),
	}
}

// Draft returns the wrapped draft, or nil.
func (p *ChangeProxy) Draft() *entities.Draft { return p.draft }

// Record returns the wrapped concrete record, or nil for an unapplied create.
func (p *ChangeProxy) Record() *entities.Record { return p.record }

// Type returns the record type of the proxied object.
func (p *ChangeProxy) Type() *entities.RecordType { return p.rt }

// Key returns the identity of the proxy.
func (p *ChangeProxy) Key() ProxyKey {
	key := ProxyKey{TransactionID: p.txn.ID, TargetType: p.rt.Name}
	if p.draft != nil {
		key.DraftID = p.draft.ID
	}
	if p.record != nil {
		key.TargetID = p.record.ID
	}
	return key
}

// Equal reports whether both proxies wrap the same draft, record, type and
// transaction.
func (p *ChangeProxy) Equal(other *ChangeProxy) bool {
	if p == nil || other == nil {
		return p == nil && other == nil
	}
	return p.Key() == other.Key()
}

func (p *ChangeProxy) IsCreate() bool { return p.draft != nil && p.draft.IsCreate() }
func (p *ChangeProxy) IsDelete() bool { return p.draft != nil && p.draft.IsDelete() }

// HasChanges reports whether the draft changes any field or belongs-to
// association. Has-many changes are not considered.
func (p *ChangeProxy) HasChanges() bool {
	return p.draft != nil && len(p.draft.Changes) > 0
}

// ChangedFields lists the changed fields and belongs-to associations.
func (p *ChangeProxy) ChangedFields() []string {
	if p.draft == nil {
		return nil
	}
	return p.draft.Changes.Fields()
}

// FieldChanges returns the current and new value of every changed field.
func (p *ChangeProxy) FieldChanges(ctx context.Context) (map[string]FieldChange, error) {
	changes := make(map[string]FieldChange)
	for _, name := range p.ChangedFields() {
		oldValue, err := p.OldValue(ctx, name)
		if err != nil {
			return nil, err
		}
		newValue, err := p.NewValue(ctx, name)
		if err != nil {
			return nil, err
		}
		changes[name] = FieldChange{Old: oldValue, New: newValue}
	}
	return changes, nil
}

// CurrentString describes the current record, or "New <Type>" for a
// create that has not been applied.
func (p *ChangeProxy) CurrentString() string {
	if p.record == nil {
		return "New " + p.rt.Name
	}
	return fmt.Sprintf("%s:%s - %s", p.rt.Name, p.record.ID, p.rt.Describe(p.record))
}

// OldValue returns the persisted value of a field or association.
func (p *ChangeProxy) OldValue(ctx context.Context, name string) (ProxyValue, error) {
	if v, ok := p.oldValues[name]; ok {
		return v, nil
	}
	v, err := p.oldValue(ctx, name)
	if err != nil {
		return ProxyValue{}, err
	}
	p.oldValues[name] = v
	return v, nil
}

func (p *ChangeProxy) oldValue(ctx context.Context, name string) (ProxyValue, error) {
	if field, ok := p.rt.Field(name); ok {
		if p.record == nil {
			return scalarValue(nil), nil
		}
		return scalarValue(coerceForDisplay(field, p.record.Get(name))), nil
	}

	if assoc, ok := p.rt.Association(name); ok {
		if p.record == nil {
			return referenceValue(nil), nil
		}
		ref := columnRef(assoc, p.record.Get(assoc.ForeignKey), p.record.Get(assoc.TypeColumn))
		proxy, err := p.proxyForRef(ctx, ref)
		if err != nil {
			return ProxyValue{}, err
		}
		return referenceValue(proxy), nil
	}

	if coll, ok := p.rt.Collection(name); ok {
		if p.record == nil {
			return collectionValue(nil), nil
		}
		proxies, err := p.currentMembers(ctx, coll)
		if err != nil {
			return ProxyValue{}, err
		}
		return collectionValue(proxies), nil
	}

	return ProxyValue{}, fmt.Errorf("%w: %s has no field or association %q", entities.ErrInvalidArgument, p.rt.Name, name)
}

// NewValue returns the value a field or association will have once the
// transaction is approved. Fields without drafted changes return their
// current value.
func (p *ChangeProxy) NewValue(ctx context.Context, name string) (ProxyValue, error) {
	if v, ok := p.newValues[name]; ok {
		return v, nil
	}
	v, err := p.newValue(ctx, name)
	if err != nil {
		return ProxyValue{}, err
	}
	p.newValues[name] = v
	return v, nil
}

func (p *ChangeProxy) newValue(ctx context.Context, name string) (ProxyValue, error) {
	if coll, ok := p.rt.Collection(name); ok {
		return p.newCollection(ctx, coll)
	}

	change, drafted := entities.Change{}, false
	if p.draft != nil {
		change, drafted = p.draft.Changes[name]
	}
	if !drafted {
		return p.OldValue(ctx, name)
	}

	if field, ok := p.rt.Field(name); ok {
		return scalarValue(coerceForDisplay(field, change.New)), nil
	}
	if _, ok := p.rt.Association(name); ok {
		ref, err := entities.RefFromValue(change.New)
		if err != nil {
			return ProxyValue{}, fmt.Errorf("association %s: %w", name, err)
		}
		proxy, err := p.proxyForRef(ctx, ref)
		if err != nil {
			return ProxyValue{}, err
		}
		return referenceValue(proxy), nil
	}
	return ProxyValue{}, fmt.Errorf("%w: %s has no field or association %q", entities.ErrInvalidArgument, p.rt.Name, name)
}

func (p *ChangeProxy) newCollection(ctx context.Context, coll entities.HasMany) (ProxyValue, error) {
	current, err := p.OldValue(ctx, coll.Name)
	if err != nil {
		return ProxyValue{}, err
	}
	added, err := p.Added(ctx, coll.Name)
	if err != nil {
		return ProxyValue{}, err
	}
	removed, err := p.Removed(ctx, coll.Name)
	if err != nil {
		return ProxyValue{}, err
	}
	members := union(current.Proxies, added)
	return collectionValue(subtract(members, removed)), nil
}

// AssociationChanged reports whether any member of a has-many association
// is added, updated or removed by the transaction.
func (p *ChangeProxy) AssociationChanged(ctx context.Context, name string) (bool, error) {
	for _, fn := range []func(context.Context, string) ([]*ChangeProxy, error){p.Added, p.Updated, p.Removed} {
		members, err := fn(ctx, name)
		if err != nil {
			return false, err
		}
		if len(members) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Added returns drafts in the transaction whose new inverse association
// points at the proxied object.
func (p *ChangeProxy) Added(ctx context.Context, name string) ([]*ChangeProxy, error) {
	if members, ok := p.added[name]; ok {
		return members, nil
	}
	coll, err := p.collection(name)
	if err != nil {
		return nil, err
	}

	required := p.requiredRef()
	drafts, err := p.inspector.drafts.ListDrafts(ctx, ports.DraftFilter{
		TransactionID: p.txn.ID,
		TargetType:    coll.Target,
	})
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}

	var members []*ChangeProxy
	for _, d := range drafts {
		change, ok := d.Changes[coll.Inverse]
		if !ok {
			continue
		}
		ref, err := entities.RefFromValue(change.New)
		if err != nil {
			return nil, fmt.Errorf("association %s: %w", coll.Inverse, err)
		}
		if !entities.RefsEqual(ref, &required) {
			continue
		}
		proxy, err := p.inspector.ProxyForDraft(ctx, d, p.txn)
		if err != nil {
			return nil, err
		}
		members = append(members, proxy)
	}
	p.added[name] = members
	return members, nil
}

// Updated returns current members that have drafted changes and still point
// at the proxied object afterwards.
func (p *ChangeProxy) Updated(ctx context.Context, name string) ([]*ChangeProxy, error) {
	if members, ok := p.updated[name]; ok {
		return members, nil
	}
	members, err := p.filterCurrent(ctx, name, func(member *ChangeProxy, stillLinked bool) bool {
		return member.HasChanges() && stillLinked
	})
	if err != nil {
		return nil, err
	}
	p.updated[name] = members
	return members, nil
}

// Removed returns current members that are deleted or repointed elsewhere.
func (p *ChangeProxy) Removed(ctx context.Context, name string) ([]*ChangeProxy, error) {
	if members, ok := p.removed[name]; ok {
		return members, nil
	}
	members, err := p.filterCurrent(ctx, name, func(member *ChangeProxy, stillLinked bool) bool {
		return member.IsDelete() || !stillLinked
	})
	if err != nil {
		return nil, err
	}
	p.removed[name] = members
	return members, nil
}

func (p *ChangeProxy) filterCurrent(
	ctx context.Context,
	name string,
	keep func(member *ChangeProxy, stillLinked bool) bool,
) ([]*ChangeProxy, error) {
	coll, err := p.collection(name)
	if err != nil {
		return nil, err
	}
	current, err := p.OldValue(ctx, name)
	if err != nil {
		return nil, err
	}

	self := p.Key()
	var members []*ChangeProxy
	for _, member := range current.Proxies {
		inverse, err := member.NewValue(ctx, coll.Inverse)
		if err != nil {
			return nil, err
		}
		stillLinked := inverse.Proxy != nil && inverse.Proxy.Key() == self
		if keep(member, stillLinked) {
			members = append(members, member)
		}
	}
	return members, nil
}

func (p *ChangeProxy) collection(name string) (entities.HasMany, error) {
	coll, ok := p.rt.Collection(name)
	if !ok {
		return entities.HasMany{}, fmt.Errorf("%w: %s.%s must be a has-many association", entities.ErrInvalidArgument, p.rt.Name, name)
	}
	return coll, nil
}

// requiredRef is what an inverse association must hold to point at the
// proxied object: the record when it exists, otherwise its create draft.
func (p *ChangeProxy) requiredRef() entities.Ref {
	if p.record != nil {
		return entities.Ref{Type: p.rt.Name, ID: p.record.ID}
	}
	return p.draft.Ref()
}

func (p *ChangeProxy) currentMembers(ctx context.Context, coll entities.HasMany) ([]*ChangeProxy, error) {
	target, err := p.inspector.types.Get(coll.Target)
	if err != nil {
		return nil, err
	}
	inverse, ok := target.Association(coll.Inverse)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no association %s", entities.ErrInvalidArgument, target.Name, coll.Inverse)
	}

	where := map[string]any{inverse.ForeignKey: p.record.ID}
	if inverse.Polymorphic {
		where[inverse.TypeColumn] = p.rt.Name
	}
	recs, err := p.inspector.records.ListBy(ctx, target, where)
	if err != nil {
		return nil, err
	}

	proxies := make([]*ChangeProxy, 0, len(recs))
	for _, rec := range recs {
		proxy, err := p.inspector.ProxyForRecord(ctx, p.txn, rec)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, proxy)
	}
	return proxies, nil
}

// proxyForRef wraps the target of a reference. Draft references must stay
// within the proxy's transaction.
func (p *ChangeProxy) proxyForRef(ctx context.Context, ref *entities.Ref) (*ChangeProxy, error) {
	if ref == nil {
		return nil, nil
	}
	if ref.IsDraft() {
		d, err := p.inspector.drafts.GetDraft(ctx, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("loading draft: %w", err)
		}
		if d == nil || d.TransactionID != p.txn.ID {
			return nil, fmt.Errorf("%w: draft %s is not part of transaction %s", entities.ErrRecordNotFound, ref.ID, p.txn.ID)
		}
		return p.inspector.ProxyForDraft(ctx, d, p.txn)
	}

	rt, err := p.inspector.types.Get(ref.Type)
	if err != nil {
		return nil, err
	}
	rec, err := p.inspector.records.Find(ctx, rt, ref.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrRecordNotFound, ref)
	}
	return p.inspector.ProxyForRecord(ctx, p.txn, rec)
}

func coerceForDisplay(field entities.Field, v any) any {
	coerced, err := field.Kind.Coerce(v)
	if err != nil {
		return v
	}
	return coerced
}

func union(a, b []*ChangeProxy) []*ChangeProxy {
	seen := make(map[ProxyKey]bool, len(a)+len(b))
	out := make([]*ChangeProxy, 0, len(a)+len(b))
	for _, list := range [][]*ChangeProxy{a, b} {
		for _, p := range list {
			if seen[p.Key()] {
				continue
			}
			seen[p.Key()] = true
			out = append(out, p)
		}
	}
	return out
}

func subtract(a, b []*ChangeProxy) []*ChangeProxy {
	drop := make(map[ProxyKey]bool, len(b))
	for _, p := range b {
		drop[p.Key()] = true
	}
	out := make([]*ChangeProxy, 0, len(a))
	for _, p := range a {
		if !drop[p.Key()] {
			out = append(out, p)
		}
	}
	return out
}

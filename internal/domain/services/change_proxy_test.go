package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/draft-core/internal/domain/entities"
)

// membershipFixture is a person with three memberships, each touched
// differently by one draft transaction, plus a new membership.
type membershipFixture struct {
	txn      *entities.Transaction
	pam      *entities.Record
	sam      *entities.Record
	org      *entities.Record
	kept     *entities.Record // start_date changed, still Pam's
	moved    *entities.Record // moved to Sam
	deleted  *entities.Record // delete draft
	newDraft *entities.Draft  // new membership for Pam
	start    time.Time
}

func newMembershipFixture(t *testing.T, env *testEnv) *membershipFixture {
	t.Helper()
	f := &membershipFixture{start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	f.pam = env.seed(t, "Person", map[string]any{"name": "Pam"})
	f.sam = env.seed(t, "Person", map[string]any{"name": "Sam"})
	f.org = env.seed(t, "Organization", map[string]any{"name": "Acme"})
	member := map[string]any{"person_id": f.pam.ID, "organization_id": f.org.ID}
	f.kept = env.seed(t, "Membership", member)
	f.moved = env.seed(t, "Membership", member)
	f.deleted = env.seed(t, "Membership", member)

	f.txn = env.draftIn(t, "alice", func(ctx context.Context) error {
		if _, err := env.writer.SaveDraft(ctx, env.reload(t, f.kept).Set("start_date", f.start), nil); err != nil {
			return err
		}
		if _, err := env.writer.SaveDraft(ctx, env.reload(t, f.moved).SetAssociated("person", f.sam), nil); err != nil {
			return err
		}
		if _, err := env.writer.DestroyDraft(ctx, env.reload(t, f.deleted), nil); err != nil {
			return err
		}
		created := entities.NewRecord("Membership", nil).
			SetAssociated("person", f.pam).
			SetAssociated("organization", f.org)
		var err error
		f.newDraft, err = env.writer.SaveDraft(ctx, created, nil)
		return err
	})
	return f
}

func keysOf(proxies []*ChangeProxy) []ProxyKey {
	keys := make([]ProxyKey, len(proxies))
	for i, p := range proxies {
		keys[i] = p.Key()
	}
	return keys
}

func TestChangeProxy_HasManyAlgebra(t *testing.T) {
	env := newTestEnv(t)
	f := newMembershipFixture(t, env)
	ctx := context.Background()

	pam, err := env.inspector.ProxyForRecord(ctx, f.txn, f.pam)
	require.NoError(t, err)
	assert.Nil(t, pam.Draft())
	assert.False(t, pam.HasChanges())

	recordKey := func(rec *entities.Record) ProxyKey {
		p, err := env.inspector.ProxyForRecord(ctx, f.txn, rec)
		require.NoError(t, err)
		return p.Key()
	}
	keptKey := recordKey(f.kept)
	movedKey := recordKey(f.moved)
	deletedKey := recordKey(f.deleted)
	newKey := ProxyKey{TransactionID: f.txn.ID, DraftID: f.newDraft.ID, TargetType: "Membership"}

	current, err := pam.OldValue(ctx, "memberships")
	require.NoError(t, err)
	assert.Equal(t, ValueCollection, current.Kind)
	assert.Equal(t, []ProxyKey{keptKey, movedKey, deletedKey}, keysOf(current.Proxies))

	added, err := pam.Added(ctx, "memberships")
	require.NoError(t, err)
	assert.Equal(t, []ProxyKey{newKey}, keysOf(added))

	updated, err := pam.Updated(ctx, "memberships")
	require.NoError(t, err)
	assert.Equal(t, []ProxyKey{keptKey}, keysOf(updated))

	removed, err := pam.Removed(ctx, "memberships")
	require.NoError(t, err)
	assert.Equal(t, []ProxyKey{movedKey, deletedKey}, keysOf(removed))

	next, err := pam.NewValue(ctx, "memberships")
	require.NoError(t, err)
	assert.Equal(t, []ProxyKey{keptKey, newKey}, keysOf(next.Proxies))

	changed, err := pam.AssociationChanged(ctx, "memberships")
	require.NoError(t, err)
	assert.True(t, changed)

	t.Run("receiving side", func(t *testing.T) {
		sam, err := env.inspector.ProxyForRecord(ctx, f.txn, f.sam)
		require.NoError(t, err)

		added, err := sam.Added(ctx, "memberships")
		require.NoError(t, err)
		assert.Equal(t, []ProxyKey{movedKey}, keysOf(added))

		next, err := sam.NewValue(ctx, "memberships")
		require.NoError(t, err)
		assert.Equal(t, []ProxyKey{movedKey}, keysOf(next.Proxies))
	})

	t.Run("untouched collection", func(t *testing.T) {
		changed, err := pam.AssociationChanged(ctx, "contact_addresses")
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestChangeProxy_Values(t *testing.T) {
	env := newTestEnv(t)
	f := newMembershipFixture(t, env)
	ctx := context.Background()

	t.Run("changed field", func(t *testing.T) {
		kept, err := env.inspector.ProxyForRecord(ctx, f.txn, f.kept)
		require.NoError(t, err)
		require.NotNil(t, kept.Draft())

		assert.False(t, kept.IsCreate())
		assert.False(t, kept.IsDelete())
		assert.True(t, kept.HasChanges())
		assert.Equal(t, []string{"start_date"}, kept.ChangedFields())

		changes, err := kept.FieldChanges(ctx)
		require.NoError(t, err)
		require.Contains(t, changes, "start_date")
		assert.Nil(t, changes["start_date"].Old.Scalar)
		assert.Equal(t, f.start, changes["start_date"].New.Scalar)
	})

	t.Run("unchanged association resolves to current record", func(t *testing.T) {
		kept, err := env.inspector.ProxyForRecord(ctx, f.txn, f.kept)
		require.NoError(t, err)

		person, err := kept.NewValue(ctx, "person")
		require.NoError(t, err)
		require.Equal(t, ValueReference, person.Kind)
		require.NotNil(t, person.Proxy)
		assert.Equal(t, "Person:"+f.pam.ID+" - Pam", person.Proxy.CurrentString())
		assert.Equal(t, "Person:"+f.pam.ID+" - Pam", person.String())
	})

	t.Run("changed association", func(t *testing.T) {
		moved, err := env.inspector.ProxyForRecord(ctx, f.txn, f.moved)
		require.NoError(t, err)

		oldPerson, err := moved.OldValue(ctx, "person")
		require.NoError(t, err)
		newPerson, err := moved.NewValue(ctx, "person")
		require.NoError(t, err)
		assert.Equal(t, f.pam.ID, oldPerson.Proxy.Record().ID)
		assert.Equal(t, f.sam.ID, newPerson.Proxy.Record().ID)
	})

	t.Run("create draft", func(t *testing.T) {
		created, err := env.inspector.ProxyForDraft(ctx, f.newDraft, nil)
		require.NoError(t, err)

		assert.True(t, created.IsCreate())
		assert.Nil(t, created.Record())
		assert.Equal(t, "New Membership", created.CurrentString())

		oldPerson, err := created.OldValue(ctx, "person")
		require.NoError(t, err)
		assert.Nil(t, oldPerson.Proxy)
		assert.Equal(t, "none", oldPerson.String())

		contacts, err := created.OldValue(ctx, "contact_addresses")
		require.NoError(t, err)
		assert.Equal(t, ValueCollection, contacts.Kind)
		assert.Empty(t, contacts.Proxies)

		newPerson, err := created.NewValue(ctx, "person")
		require.NoError(t, err)
		assert.Equal(t, f.pam.ID, newPerson.Proxy.Record().ID)

		role, err := created.NewValue(ctx, "role")
		require.NoError(t, err)
		assert.Nil(t, role.Proxy)
	})

	t.Run("delete draft", func(t *testing.T) {
		deleted, err := env.inspector.ProxyForRecord(ctx, f.txn, f.deleted)
		require.NoError(t, err)
		assert.True(t, deleted.IsDelete())
		assert.False(t, deleted.HasChanges())
		assert.Empty(t, deleted.ChangedFields())
	})

	t.Run("field without draft", func(t *testing.T) {
		pam, err := env.inspector.ProxyForRecord(ctx, f.txn, f.pam)
		require.NoError(t, err)

		name, err := pam.NewValue(ctx, "name")
		require.NoError(t, err)
		assert.Equal(t, "Pam", name.Scalar)
		assert.Equal(t, "Pam", name.String())
	})
}

func TestChangeProxy_ForwardReference(t *testing.T) {
	env := newTestEnv(t)
	org := env.seed(t, "Organization", map[string]any{"name": "Acme"})
	ctx := context.Background()

	var personDraft, membershipDraft *entities.Draft
	txn := env.draftIn(t, "alice", func(ctx context.Context) error {
		person := entities.NewRecord("Person", map[string]any{"name": "Pam"})
		var err error
		if personDraft, err = env.writer.SaveDraft(ctx, person, nil); err != nil {
			return err
		}
		membershipDraft, err = env.writer.SaveDraft(ctx,
			entities.NewRecord("Membership", nil).SetAssociated("person", person).SetAssociated("organization", org), nil)
		return err
	})

	membership, err := env.inspector.ProxyForDraft(ctx, membershipDraft, txn)
	require.NoError(t, err)
	person, err := membership.NewValue(ctx, "person")
	require.NoError(t, err)
	require.NotNil(t, person.Proxy)
	assert.Equal(t, "New Person", person.Proxy.CurrentString())
	assert.Equal(t, personDraft.ID, person.Proxy.Draft().ID)

	pending, err := env.inspector.ProxyForDraft(ctx, personDraft, txn)
	require.NoError(t, err)
	assert.True(t, pending.Equal(person.Proxy))

	added, err := pending.Added(ctx, "memberships")
	require.NoError(t, err)
	assert.Equal(t, []ProxyKey{membership.Key()}, keysOf(added))

	next, err := pending.NewValue(ctx, "memberships")
	require.NoError(t, err)
	assert.Equal(t, []ProxyKey{membership.Key()}, keysOf(next.Proxies))
}

func TestInspector_Errors(t *testing.T) {
	env := newTestEnv(t)
	f := newMembershipFixture(t, env)
	ctx := context.Background()

	t.Run("draft from another transaction", func(t *testing.T) {
		other := &entities.Transaction{ID: "other"}
		_, err := env.inspector.ProxyForDraft(ctx, f.newDraft, other)
		assert.ErrorIs(t, err, entities.ErrInvalidArgument)
	})

	t.Run("unsaved draft", func(t *testing.T) {
		_, err := env.inspector.ProxyForDraft(ctx, &entities.Draft{}, f.txn)
		assert.ErrorIs(t, err, entities.ErrInvalidArgument)
	})

	t.Run("unpersisted record", func(t *testing.T) {
		_, err := env.inspector.ProxyForRecord(ctx, f.txn, entities.NewRecord("Person", nil))
		assert.ErrorIs(t, err, entities.ErrInvalidArgument)
	})

	t.Run("missing transaction", func(t *testing.T) {
		_, err := env.inspector.ProxyForRecord(ctx, nil, f.pam)
		assert.ErrorIs(t, err, entities.ErrInvalidArgument)
	})

	t.Run("unsupported target", func(t *testing.T) {
		_, err := env.inspector.ProxyFor(ctx, f.txn, "Person:1")
		assert.ErrorIs(t, err, entities.ErrInvalidArgument)
	})

	t.Run("unknown member", func(t *testing.T) {
		pam, err := env.inspector.ProxyFor(ctx, f.txn, f.pam)
		require.NoError(t, err)

		_, err = pam.OldValue(ctx, "nickname")
		assert.ErrorIs(t, err, entities.ErrInvalidArgument)
		_, err = pam.Added(ctx, "name")
		assert.ErrorIs(t, err, entities.ErrInvalidArgument)
	})
}

func TestInspector_ProxiesForTransaction(t *testing.T) {
	env := newTestEnv(t)
	f := newMembershipFixture(t, env)

	proxies, err := env.inspector.ProxiesForTransaction(context.Background(), f.txn)
	require.NoError(t, err)
	require.Len(t, proxies, 4)
	assert.Equal(t, f.kept.ID, proxies[0].Record().ID)
	assert.True(t, proxies[3].IsCreate())
}

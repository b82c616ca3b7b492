package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
)

func TestApprovalService_Approve_Create(t *testing.T) {
	env := newTestEnv(t)
	roles := env.recordType(t, "Role")

	d, err := env.writer.SaveDraft(context.Background(), entities.NewRecord("Role", map[string]any{"name": "R"}), nil)
	require.NoError(t, err)

	txn, err := env.approval.Approve(context.Background(), d.TransactionID, Review{ReviewedBy: "rev", Reason: "looks good"})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusApproved, txn.Status)
	assert.Equal(t, "rev", txn.ReviewedBy)
	assert.Equal(t, "looks good", txn.ReviewReason)
	assert.Empty(t, txn.Error)

	rows, err := env.store.ListBy(context.Background(), roles, map[string]any{"name": "R"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, env.store.Count(roles))

	linked, err := env.store.GetDraft(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, rows[0].ID, linked.TargetID)

	stored, err := env.store.GetTransaction(context.Background(), d.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusApproved, stored.Status)

	_, _, reviews := env.metrics.Snapshot()
	assert.Equal(t, 1, reviews[ports.OutcomeApproved])
}

func TestApprovalService_Approve_Update(t *testing.T) {
	env := newTestEnv(t)
	roles := env.recordType(t, "Role")
	role := env.seed(t, "Role", map[string]any{"name": "old"})
	role.Set("name", "new")

	d, err := env.writer.SaveDraft(context.Background(), role, nil)
	require.NoError(t, err)

	_, err = env.approval.Approve(context.Background(), d.TransactionID, Review{ReviewedBy: "rev"})
	require.NoError(t, err)

	assert.Equal(t, 1, env.store.Count(roles))
	assert.Equal(t, "new", env.reload(t, role).Get("name"))
}

func TestApprovalService_Approve_Delete(t *testing.T) {
	env := newTestEnv(t)
	roles := env.recordType(t, "Role")
	role := env.seed(t, "Role", map[string]any{"name": "R"})

	d, err := env.writer.DestroyDraft(context.Background(), role, nil)
	require.NoError(t, err)

	_, err = env.approval.Approve(context.Background(), d.TransactionID, Review{ReviewedBy: "rev"})
	require.NoError(t, err)
	assert.Equal(t, 0, env.store.Count(roles))
}

func TestApprovalService_Approve_ReplaysInOrder(t *testing.T) {
	env := newTestEnv(t)
	org := env.seed(t, "Organization", map[string]any{"name": "Acme"})
	role := env.seed(t, "Role", map[string]any{"name": "member"})

	txn := env.draftIn(t, "alice", func(ctx context.Context) error {
		gender := entities.NewRecord("Gender", map[string]any{"name": "F"})
		if _, err := env.writer.SaveDraft(ctx, gender, nil); err != nil {
			return err
		}
		person := entities.NewRecord("Person", map[string]any{"name": "Pam"}).SetAssociated("gender", gender)
		if _, err := env.writer.SaveDraft(ctx, person, nil); err != nil {
			return err
		}
		membership := entities.NewRecord("Membership", nil).
			SetAssociated("person", person).
			SetAssociated("organization", org).
			SetAssociated("role", role)
		_, err := env.writer.SaveDraft(ctx, membership, nil)
		return err
	})

	_, err := env.approval.Approve(context.Background(), txn.ID, Review{ReviewedBy: "rev"})
	require.NoError(t, err)

	people, err := env.store.ListBy(context.Background(), env.recordType(t, "Person"), nil)
	require.NoError(t, err)
	require.Len(t, people, 1)
	genders, err := env.store.ListBy(context.Background(), env.recordType(t, "Gender"), nil)
	require.NoError(t, err)
	require.Len(t, genders, 1)
	memberships, err := env.store.ListBy(context.Background(), env.recordType(t, "Membership"), nil)
	require.NoError(t, err)
	require.Len(t, memberships, 1)

	assert.Equal(t, genders[0].ID, people[0].Get("gender_id"))
	assert.Equal(t, people[0].ID, memberships[0].Get("person_id"))
	assert.Equal(t, org.ID, memberships[0].Get("organization_id"))
	assert.Equal(t, role.ID, memberships[0].Get("role_id"))
}

func TestApprovalService_Approve_Atomic(t *testing.T) {
	env := newTestEnv(t)
	org := env.seed(t, "Organization", map[string]any{"name": "Acme"})
	people := env.recordType(t, "Person")
	constraint := errors.New("memberships.person_id violates foreign key")
	env.store.FailInsert = func(rt *entities.RecordType, _ map[string]any) error {
		if rt.Name == "Membership" {
			return constraint
		}
		return nil
	}

	var personDraft *entities.Draft
	txn := env.draftIn(t, "alice", func(ctx context.Context) error {
		person := entities.NewRecord("Person", map[string]any{"name": "Pam"})
		var err error
		if personDraft, err = env.writer.SaveDraft(ctx, person, nil); err != nil {
			return err
		}
		membership := entities.NewRecord("Membership", nil).
			SetAssociated("person", person).
			SetAssociated("organization", org)
		_, err = env.writer.SaveDraft(ctx, membership, nil)
		return err
	})

	_, err := env.approval.Approve(context.Background(), txn.ID, Review{ReviewedBy: "rev"})
	require.Error(t, err)
	assert.Same(t, constraint, err)

	assert.Equal(t, 0, env.store.Count(people))
	unlinked, err := env.store.GetDraft(context.Background(), personDraft.ID)
	require.NoError(t, err)
	assert.Empty(t, unlinked.TargetID)

	failed, err := env.store.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusApprovalError, failed.Status)
	assert.Contains(t, failed.Error, constraint.Error())
	assert.Contains(t, failed.Error, "services.")
	assert.Empty(t, failed.ReviewedBy)

	_, _, reviews := env.metrics.Snapshot()
	assert.Equal(t, 1, reviews[ports.OutcomeError])

	t.Run("retry after fixing the data", func(t *testing.T) {
		env.store.FailInsert = nil

		approved, err := env.approval.Approve(context.Background(), txn.ID, Review{ReviewedBy: "rev"})
		require.NoError(t, err)
		assert.Equal(t, entities.StatusApproved, approved.Status)
		assert.Empty(t, approved.Error)
		assert.Equal(t, 1, env.store.Count(people))
	})
}

func TestApprovalService_Approve_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	roles := env.recordType(t, "Role")

	d, err := env.writer.SaveDraft(context.Background(), entities.NewRecord("Role", map[string]any{"name": "R"}), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.store.FailInsert = func(*entities.RecordType, map[string]any) error {
		cancel()
		return ctx.Err()
	}

	_, err = env.approval.Approve(ctx, d.TransactionID, Review{ReviewedBy: "rev"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, env.store.Count(roles))

	failed, err := env.store.GetTransaction(context.Background(), d.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusApprovalError, failed.Status)
	assert.Contains(t, failed.Error, context.Canceled.Error())
}

func TestApprovalService_LocksTransaction(t *testing.T) {
	tests := []struct {
		name   string
		review func(env *testEnv, id string) error
	}{
		{
			name: "approve",
			review: func(env *testEnv, id string) error {
				_, err := env.approval.Approve(context.Background(), id, Review{})
				return err
			},
		},
		{
			name: "reject",
			review: func(env *testEnv, id string) error {
				_, err := env.approval.Reject(context.Background(), id, Review{})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			d, err := env.writer.SaveDraft(context.Background(), entities.NewRecord("Role", map[string]any{"name": "R"}), nil)
			require.NoError(t, err)

			require.NoError(t, tt.review(env, d.TransactionID))
			assert.Contains(t, env.store.Locks(), "transaction:"+d.TransactionID)
		})
	}
}

func TestApprovalService_Approve_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	roles := env.recordType(t, "Role")

	d, err := env.writer.SaveDraft(context.Background(), entities.NewRecord("Role", map[string]any{"name": "R"}), nil)
	require.NoError(t, err)

	_, err = env.approval.Approve(context.Background(), d.TransactionID, Review{ReviewedBy: "rev"})
	require.NoError(t, err)
	again, err := env.approval.Approve(context.Background(), d.TransactionID, Review{ReviewedBy: "someone else"})
	require.NoError(t, err)

	assert.Equal(t, entities.StatusApproved, again.Status)
	assert.Equal(t, "rev", again.ReviewedBy)
	assert.Equal(t, 1, env.store.Count(roles))

	_, _, reviews := env.metrics.Snapshot()
	assert.Equal(t, 1, reviews[ports.OutcomeSkipped])
}

func TestApprovalService_Reject(t *testing.T) {
	env := newTestEnv(t)
	roles := env.recordType(t, "Role")

	d, err := env.writer.SaveDraft(context.Background(), entities.NewRecord("Role", map[string]any{"name": "R"}), nil)
	require.NoError(t, err)

	txn, err := env.approval.Reject(context.Background(), d.TransactionID, Review{ReviewedBy: "rev", Reason: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusRejected, txn.Status)
	assert.Equal(t, "duplicate", txn.ReviewReason)
	assert.Equal(t, 0, env.store.Count(roles))

	t.Run("approve after reject is inert", func(t *testing.T) {
		after, err := env.approval.Approve(context.Background(), d.TransactionID, Review{ReviewedBy: "rev"})
		require.NoError(t, err)
		assert.Equal(t, entities.StatusRejected, after.Status)
		assert.Equal(t, 0, env.store.Count(roles))
	})

	t.Run("reject after reject is inert", func(t *testing.T) {
		after, err := env.approval.Reject(context.Background(), d.TransactionID, Review{ReviewedBy: "other"})
		require.NoError(t, err)
		assert.Equal(t, "rev", after.ReviewedBy)
	})
}

func TestApprovalService_UnknownTransaction(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.approval.Approve(context.Background(), "missing", Review{})
	assert.ErrorIs(t, err, entities.ErrTransactionNotFound)

	_, err = env.approval.Reject(context.Background(), "missing", Review{})
	assert.ErrorIs(t, err, entities.ErrTransactionNotFound)
}

func TestApprovalService_Options(t *testing.T) {
	t.Run("find_or_create reuses a matching row", func(t *testing.T) {
		env := newTestEnv(t)
		roles := env.recordType(t, "Role")
		existing := env.seed(t, "Role", map[string]any{"name": "R"})

		d, err := env.writer.SaveDraft(context.Background(),
			entities.NewRecord("Role", map[string]any{"name": "R"}),
			&entities.Options{CreateMethod: entities.CreateFindOrCreate})
		require.NoError(t, err)

		_, err = env.approval.Approve(context.Background(), d.TransactionID, Review{})
		require.NoError(t, err)
		assert.Equal(t, 1, env.store.Count(roles))

		linked, err := env.store.GetDraft(context.Background(), d.ID)
		require.NoError(t, err)
		assert.Equal(t, existing.ID, linked.TargetID)
	})

	t.Run("find_or_create inserts when nothing matches", func(t *testing.T) {
		env := newTestEnv(t)
		roles := env.recordType(t, "Role")
		env.seed(t, "Role", map[string]any{"name": "other"})

		d, err := env.writer.SaveDraft(context.Background(),
			entities.NewRecord("Role", map[string]any{"name": "R"}),
			&entities.Options{CreateMethod: entities.CreateFindOrCreate})
		require.NoError(t, err)

		_, err = env.approval.Approve(context.Background(), d.TransactionID, Review{})
		require.NoError(t, err)
		assert.Equal(t, 2, env.store.Count(roles))
	})

	tests := []struct {
		name    string
		write   func(env *testEnv, rec *entities.Record) (*entities.Draft, error)
		wantErr bool
	}{
		{
			name: "update of a vanished record fails",
			write: func(env *testEnv, rec *entities.Record) (*entities.Draft, error) {
				rec.Set("name", "new")
				return env.writer.SaveDraft(context.Background(), rec, nil)
			},
			wantErr: true,
		},
		{
			name: "update_if_exists skips a vanished record",
			write: func(env *testEnv, rec *entities.Record) (*entities.Draft, error) {
				rec.Set("name", "new")
				return env.writer.SaveDraft(context.Background(), rec, &entities.Options{UpdateMethod: entities.UpdateIfExists})
			},
		},
		{
			name: "delete of a vanished record fails",
			write: func(env *testEnv, rec *entities.Record) (*entities.Draft, error) {
				return env.writer.DestroyDraft(context.Background(), rec, nil)
			},
			wantErr: true,
		},
		{
			name: "delete_if_exists skips a vanished record",
			write: func(env *testEnv, rec *entities.Record) (*entities.Draft, error) {
				return env.writer.DestroyDraft(context.Background(), rec, &entities.Options{DeleteMethod: entities.DeleteIfExists})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			roles := env.recordType(t, "Role")
			role := env.seed(t, "Role", map[string]any{"name": "old"})

			d, err := tt.write(env, role)
			require.NoError(t, err)
			_, err = env.store.Delete(context.Background(), roles, role.ID)
			require.NoError(t, err)

			txn, err := env.approval.Approve(context.Background(), d.TransactionID, Review{})
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, entities.ErrNoTarget)
				assert.ErrorIs(t, err, entities.ErrApplyDraftChanges)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, entities.StatusApproved, txn.Status)
			assert.Equal(t, 0, env.store.Count(roles))
		})
	}
}

func TestApprovalService_Apply_UnappliedForwardReference(t *testing.T) {
	env := newTestEnv(t)
	org := env.seed(t, "Organization", map[string]any{"name": "Acme"})

	var membershipDraft *entities.Draft
	env.draftIn(t, "alice", func(ctx context.Context) error {
		person := entities.NewRecord("Person", map[string]any{"name": "Pam"})
		if _, err := env.writer.SaveDraft(ctx, person, nil); err != nil {
			return err
		}
		var err error
		membershipDraft, err = env.writer.SaveDraft(ctx,
			entities.NewRecord("Membership", nil).SetAssociated("person", person).SetAssociated("organization", org), nil)
		return err
	})

	_, err := env.approval.Apply(context.Background(), membershipDraft)
	require.Error(t, err)
	assert.ErrorIs(t, err, entities.ErrPriorDraftNotApplied)
}

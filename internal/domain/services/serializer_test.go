package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/draft-core/internal/domain/entities"
)

func TestSerializer_ChangesForRecord(t *testing.T) {
	env := newTestEnv(t)
	gender := env.seed(t, "Gender", map[string]any{"name": "F"})
	birth := time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rec  func() *entities.Record
		want entities.ChangeSet
	}{
		{
			name: "new record with fields",
			rec: func() *entities.Record {
				return entities.NewRecord("Person", map[string]any{"name": "Pam", "birth_date": "1990-01-02"})
			},
			want: entities.ChangeSet{
				"name":       {Old: nil, New: "Pam"},
				"birth_date": {Old: nil, New: birth},
			},
		},
		{
			name: "new record with foreign key column",
			rec: func() *entities.Record {
				return entities.NewRecord("Person", map[string]any{"name": "Pam", "gender_id": gender.ID})
			},
			want: entities.ChangeSet{
				"name":   {Old: nil, New: "Pam"},
				"gender": {Old: nil, New: &entities.Ref{Type: "Gender", ID: gender.ID}},
			},
		},
		{
			name: "persisted record without changes",
			rec: func() *entities.Record {
				return entities.LoadRecord("Person", "7", map[string]any{"name": "Pam", "gender_id": gender.ID})
			},
			want: entities.ChangeSet{},
		},
		{
			name: "persisted record with changed field",
			rec: func() *entities.Record {
				return entities.LoadRecord("Person", "7", map[string]any{"name": "Pam"}).Set("name", "Pamela")
			},
			want: entities.ChangeSet{"name": {Old: "Pam", New: "Pamela"}},
		},
		{
			name: "assigned record overrides the foreign key",
			rec: func() *entities.Record {
				other := entities.LoadRecord("Gender", "99", map[string]any{"name": "M"})
				return entities.LoadRecord("Person", "7", map[string]any{"name": "Pam", "gender_id": gender.ID}).
					SetAssociated("gender", other)
			},
			want: entities.ChangeSet{
				"gender": {
					Old: &entities.Ref{Type: "Gender", ID: gender.ID},
					New: &entities.Ref{Type: "Gender", ID: "99"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.serializer.ChangesForRecord(tt.rec())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSerializer_ChangesForRecord_Errors(t *testing.T) {
	env := newTestEnv(t)

	t.Run("wrong association target", func(t *testing.T) {
		rec := entities.NewRecord("Person", nil).
			SetAssociated("gender", entities.LoadRecord("Role", "1", nil))
		_, err := env.serializer.ChangesForRecord(rec)
		assert.ErrorIs(t, err, entities.ErrInvalidArgument)
	})

	t.Run("value of the wrong kind", func(t *testing.T) {
		rec := entities.NewRecord("Person", map[string]any{"birth_date": "yesterday"})
		_, err := env.serializer.ChangesForRecord(rec)
		assert.ErrorIs(t, err, entities.ErrInvalidArgument)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := env.serializer.ChangesForRecord(entities.NewRecord("Spaceship", nil))
		assert.ErrorIs(t, err, entities.ErrUnknownType)
	})
}

func TestSerializer_NewValuesForDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pam := env.seed(t, "Person", map[string]any{"name": "Pam"})

	t.Run("decoded change-set", func(t *testing.T) {
		var changes entities.ChangeSet
		raw := `{"value":[null,"pam@example.com"],"contactable":[null,{"type":"Person","id":"` + pam.ID + `"}]}`
		require.NoError(t, json.Unmarshal([]byte(raw), &changes))

		values, err := env.serializer.NewValuesForDraft(ctx, &entities.Draft{
			TransactionID: "t1",
			TargetType:    "ContactAddress",
			Action:        entities.ActionCreate,
			Changes:       changes,
		})
		require.NoError(t, err)
		assert.Equal(t, "pam@example.com", values["value"])
		contactable, ok := values["contactable"].(*entities.Record)
		require.True(t, ok)
		assert.Equal(t, pam.ID, contactable.ID)

		columns, err := env.serializer.ColumnsFor(env.recordType(t, "ContactAddress"), values)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"value":            "pam@example.com",
			"contactable_id":   pam.ID,
			"contactable_type": "Person",
		}, columns)
	})

	t.Run("cleared association", func(t *testing.T) {
		values, err := env.serializer.NewValuesForDraft(ctx, &entities.Draft{
			TargetType: "Person",
			Changes:    entities.ChangeSet{"gender": {Old: &entities.Ref{Type: "Gender", ID: "1"}, New: nil}},
		})
		require.NoError(t, err)
		assert.Contains(t, values, "gender")
		assert.Nil(t, values["gender"])

		columns, err := env.serializer.ColumnsFor(env.recordType(t, "Person"), values)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"gender_id": nil}, columns)
	})

	t.Run("missing referenced record", func(t *testing.T) {
		_, err := env.serializer.NewValuesForDraft(ctx, &entities.Draft{
			TargetType: "Person",
			Changes:    entities.ChangeSet{"gender": {New: &entities.Ref{Type: "Gender", ID: "404"}}},
		})
		assert.ErrorIs(t, err, entities.ErrRecordNotFound)
	})

	t.Run("draft reference from another transaction", func(t *testing.T) {
		d, err := env.writer.SaveDraft(ctx, entities.NewRecord("Gender", map[string]any{"name": "F"}), nil)
		require.NoError(t, err)

		_, err = env.serializer.NewValuesForDraft(ctx, &entities.Draft{
			TransactionID: "another",
			TargetType:    "Person",
			Changes:       entities.ChangeSet{"gender": {New: &entities.Ref{Type: entities.DraftRefType, ID: d.ID}}},
		})
		assert.ErrorIs(t, err, entities.ErrRecordNotFound)
	})

	t.Run("unknown member", func(t *testing.T) {
		_, err := env.serializer.NewValuesForDraft(ctx, &entities.Draft{
			TargetType: "Person",
			Changes:    entities.ChangeSet{"nickname": {New: "P"}},
		})
		assert.ErrorIs(t, err, entities.ErrInvalidArgument)
	})
}

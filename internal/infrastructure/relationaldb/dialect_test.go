package relationaldb

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/draft-core/internal/domain/entities"
)

func contactAddressType() *entities.RecordType {
	return &entities.RecordType{
		Name:  "ContactAddress",
		Table: "contact_addresses",
		Fields: []entities.Field{
			{Name: "value", Kind: entities.KindString},
			{Name: "extra", Kind: entities.KindJSON},
		},
		BelongsTo: []entities.BelongsTo{
			{Name: "contactable", ForeignKey: "contactable_id", Polymorphic: true, TypeColumn: "contactable_type"},
		},
		Timestamps: true,
	}
}

func TestSelectColumns(t *testing.T) {
	assert.Equal(t,
		[]string{"id", "value", "extra", "contactable_id", "contactable_type", "created_at", "updated_at"},
		SelectColumns(contactAddressType()))
}

func TestDialect_CreateTable(t *testing.T) {
	stmts := Postgres.CreateTable(contactAddressType())
	require.Len(t, stmts, 2)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "contact_addresses" ("id" TEXT PRIMARY KEY, "value" TEXT, "extra" JSONB, `+
			`"contactable_id" TEXT, "contactable_type" TEXT, "created_at" TIMESTAMPTZ, "updated_at" TIMESTAMPTZ)`,
		stmts[0])
	assert.Equal(t,
		`CREATE INDEX IF NOT EXISTS "idx_contact_addresses_contactable_id" ON "contact_addresses" ("contactable_type", "contactable_id")`,
		stmts[1])
}

func TestDialect_Select(t *testing.T) {
	rt := contactAddressType()

	tests := []struct {
		name     string
		dialect  Dialect
		where    map[string]any
		limit    int
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "sqlite without conditions",
			dialect: SQLite,
			wantSQL: `SELECT "id", "value", "extra", "contactable_id", "contactable_type", "created_at", "updated_at" ` +
				`FROM "contact_addresses" ORDER BY "id"`,
		},
		{
			name:    "sqlite with conditions and limit",
			dialect: SQLite,
			where:   map[string]any{"contactable_type": "Person", "contactable_id": "7"},
			limit:   1,
			wantSQL: `SELECT "id", "value", "extra", "contactable_id", "contactable_type", "created_at", "updated_at" ` +
				`FROM "contact_addresses" WHERE "contactable_id" IS ? AND "contactable_type" IS ? ORDER BY "id" LIMIT 1`,
			wantArgs: []any{"7", "Person"},
		},
		{
			name:    "postgres null condition",
			dialect: Postgres,
			where:   map[string]any{"value": nil},
			wantSQL: `SELECT "id", "value", "extra", "contactable_id", "contactable_type", "created_at", "updated_at" ` +
				`FROM "contact_addresses" WHERE "value" IS NOT DISTINCT FROM $1 ORDER BY "id"`,
			wantArgs: []any{nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.dialect.Select(rt, tt.where, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, q.SQL)
			assert.Equal(t, tt.wantArgs, q.Args)
		})
	}
}

func TestDialect_Select_UnknownColumn(t *testing.T) {
	_, err := SQLite.Select(contactAddressType(), map[string]any{"nickname": "x"}, 0)
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestDialect_Insert(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 7, 8, time.UTC)

	q, err := SQLite.Insert(contactAddressType(), "abc", map[string]any{
		"value": "pam@example.com",
		"extra": map[string]any{"primary": true},
	}, now)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "contact_addresses" ("id", "extra", "value", "created_at", "updated_at") VALUES (?, ?, ?, ?, ?)`,
		q.SQL)
	assert.Equal(t, []any{
		"abc",
		`{"primary":true}`,
		"pam@example.com",
		"2024-03-04T05:06:07.000000008Z",
		"2024-03-04T05:06:07.000000008Z",
	}, q.Args)

	q, err = Postgres.Insert(contactAddressType(), "abc", map[string]any{"value": "x"}, now)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "contact_addresses" ("id", "value", "created_at", "updated_at") VALUES ($1, $2, $3, $4)`,
		q.SQL)
	assert.Equal(t, []any{"abc", "x", now, now}, q.Args)
}

func TestDialect_Update(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	t.Run("columns and timestamp", func(t *testing.T) {
		q, err := Postgres.Update(contactAddressType(), "abc", map[string]any{"value": "y", "contactable_id": nil}, now)
		require.NoError(t, err)
		assert.Equal(t,
			`UPDATE "contact_addresses" SET "contactable_id" = $1, "value" = $2, "updated_at" = $3 WHERE "id" = $4`,
			q.SQL)
		assert.Equal(t, []any{nil, "y", now, "abc"}, q.Args)
	})

	t.Run("nothing to write", func(t *testing.T) {
		rt := contactAddressType()
		rt.Timestamps = false
		q, err := SQLite.Update(rt, "abc", nil, now)
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "contact_addresses" SET "id" = "id" WHERE "id" = ?`, q.SQL)
		assert.Equal(t, []any{"abc"}, q.Args)
	})
}

func TestDialect_Delete(t *testing.T) {
	q := Postgres.Delete(contactAddressType(), "abc")
	assert.Equal(t, `DELETE FROM "contact_addresses" WHERE "id" = $1`, q.SQL)
	assert.Equal(t, []any{"abc"}, q.Args)
}

func TestDecodeRecord(t *testing.T) {
	rt := contactAddressType()

	rec, err := DecodeRecord(rt, []any{
		"abc",
		[]byte("pam@example.com"),
		`{"primary":true,"rank":2}`,
		"7",
		"Person",
		"2024-03-04T05:06:07.000000000Z",
		time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "ContactAddress", rec.Type)
	assert.Equal(t, "abc", rec.ID)
	assert.Equal(t, "pam@example.com", rec.Get("value"))
	assert.Equal(t, map[string]any{"primary": true, "rank": json.Number("2")}, rec.Get("extra"))
	assert.Equal(t, "7", rec.Get("contactable_id"))
	assert.Equal(t, "Person", rec.Get("contactable_type"))
	assert.Equal(t, time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC), rec.Get("created_at"))
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), rec.Get("updated_at"))

	t.Run("null values", func(t *testing.T) {
		rec, err := DecodeRecord(rt, []any{"abc", nil, nil, nil, nil, nil, nil})
		require.NoError(t, err)
		assert.Nil(t, rec.Get("value"))
		assert.Nil(t, rec.Get("contactable_id"))
	})

	t.Run("column count mismatch", func(t *testing.T) {
		_, err := DecodeRecord(rt, []any{"abc"})
		assert.Error(t, err)
	})
}

func TestEncodeValue(t *testing.T) {
	rt := contactAddressType()

	v, err := EncodeValue(rt, "contactable_id", int64(7))
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	v, err = EncodeValue(rt, "extra", []any{"a", json.Number("1")})
	require.NoError(t, err)
	assert.Equal(t, `["a",1]`, v)

	v, err = EncodeValue(rt, "value", nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

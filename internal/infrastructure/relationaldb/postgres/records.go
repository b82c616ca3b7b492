package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/infrastructure/relationaldb"
)

var dialect = relationaldb.Postgres

// EnsureRecordTables creates the tables of the given record types if they
// don't exist.
func (r *Repository) EnsureRecordTables(ctx context.Context, types []*entities.RecordType) error {
	for _, rt := range types {
		for _, stmt := range dialect.CreateTable(rt) {
			if _, err := r.q(ctx).Exec(ctx, stmt); err != nil {
				return fmt.Errorf("creating table %s: %w", rt.Table, err)
			}
		}
	}
	return nil
}

// Find loads a record by ID.
func (r *Repository) Find(ctx context.Context, rt *entities.RecordType, id string) (*entities.Record, error) {
	q := dialect.FindByID(rt, id)
	rec, err := scanRecord(rt, r.q(ctx).QueryRow(ctx, q.SQL, q.Args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// FindBy loads the first record, by id, whose columns equal the given values.
func (r *Repository) FindBy(ctx context.Context, rt *entities.RecordType, columns map[string]any) (*entities.Record, error) {
	q, err := dialect.Select(rt, columns, 1)
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(rt, r.q(ctx).QueryRow(ctx, q.SQL, q.Args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ListBy loads every record whose columns equal the given values.
func (r *Repository) ListBy(ctx context.Context, rt *entities.RecordType, columns map[string]any) ([]*entities.Record, error) {
	q, err := dialect.Select(rt, columns, 0)
	if err != nil {
		return nil, err
	}
	rows, err := r.q(ctx).Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*entities.Record
	for rows.Next() {
		rec, err := scanRecord(rt, rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Insert writes a new record under a generated ID.
func (r *Repository) Insert(ctx context.Context, rt *entities.RecordType, columns map[string]any) (string, error) {
	id := generateUUID()
	q, err := dialect.Insert(rt, id, columns, timeNow())
	if err != nil {
		return "", err
	}
	if _, err := r.q(ctx).Exec(ctx, q.SQL, q.Args...); err != nil {
		return "", err
	}
	return id, nil
}

// Update writes the given columns of an existing record.
func (r *Repository) Update(ctx context.Context, rt *entities.RecordType, id string, columns map[string]any) error {
	q, err := dialect.Update(rt, id, columns, timeNow())
	if err != nil {
		return err
	}
	tag, err := r.q(ctx).Exec(ctx, q.SQL, q.Args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s:%s", entities.ErrRecordNotFound, rt.Name, id)
	}
	return nil
}

// Delete removes a record and reports whether a row was removed.
func (r *Repository) Delete(ctx context.Context, rt *entities.RecordType, id string) (bool, error) {
	q := dialect.Delete(rt, id)
	tag, err := r.q(ctx).Exec(ctx, q.SQL, q.Args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanRecord(rt *entities.RecordType, row pgx.Row) (*entities.Record, error) {
	raw := make([]any, len(relationaldb.SelectColumns(rt)))
	dest := make([]any, len(raw))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return relationaldb.DecodeRecord(rt, raw)
}

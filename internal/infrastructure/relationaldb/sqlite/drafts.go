package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
)

const transactionColumns = `id, status, created_by, reviewed_by, review_reason, error, extra_data,
	serialization, created_at, updated_at`

const draftColumns = `d.id, d.draft_transaction_id, d.target_type, d.target_id, d.action_type,
	d.change_set, d.options, d.created_at, d.updated_at`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// CreateTransaction inserts a new draft transaction.
func (r *Repository) CreateTransaction(ctx context.Context, txn *entities.Transaction) error {
	extra, err := marshalExtra(txn.ExtraData)
	if err != nil {
		return err
	}
	serialization := txn.Serialization
	if serialization == "" {
		serialization = entities.SerializationJSON
	}

	query := `
		INSERT INTO draft_transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.q(ctx).ExecContext(ctx, query,
		txn.ID,
		string(txn.Status),
		nullString(txn.CreatedBy),
		nullString(txn.ReviewedBy),
		nullString(txn.ReviewReason),
		nullString(txn.Error),
		extra,
		serialization,
		formatTime(txn.CreatedAt),
		formatTime(txn.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving draft transaction: %w", err)
	}
	return nil
}

// GetTransaction finds a transaction by ID.
func (r *Repository) GetTransaction(ctx context.Context, id string) (*entities.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM draft_transactions WHERE id = ?`
	txn, err := scanTransaction(r.q(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// LockTransaction reads a transaction. Transactions begin IMMEDIATE, so the
// database write lock is already held.
func (r *Repository) LockTransaction(ctx context.Context, id string) (*entities.Transaction, error) {
	return r.GetTransaction(ctx, id)
}

// UpdateTransaction writes status, review and error fields.
func (r *Repository) UpdateTransaction(ctx context.Context, txn *entities.Transaction) error {
	query := `
		UPDATE draft_transactions
		SET status = ?, reviewed_by = ?, review_reason = ?, error = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.q(ctx).ExecContext(ctx, query,
		string(txn.Status),
		nullString(txn.ReviewedBy),
		nullString(txn.ReviewReason),
		nullString(txn.Error),
		formatTime(txn.UpdatedAt),
		txn.ID,
	)
	if err != nil {
		return fmt.Errorf("updating draft transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating draft transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, txn.ID)
	}
	return nil
}

// DeleteTransaction removes a transaction that has no drafts.
func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	n, err := r.CountDrafts(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("draft transaction %s still has %d drafts", id, n)
	}

	_, err = r.q(ctx).ExecContext(ctx, `DELETE FROM draft_transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting draft transaction: %w", err)
	}
	return nil
}

// ListTransactions lists transactions, newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter ports.TransactionFilter) ([]*entities.Transaction, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CreatedBy != "" {
		conds = append(conds, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}

	query := `SELECT ` + transactionColumns + ` FROM draft_transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	limit := -1
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying draft transactions: %w", err)
	}
	defer rows.Close()

	result := make([]*entities.Transaction, 0, 16)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, txn)
	}
	return result, rows.Err()
}

func scanTransaction(row scanner) (*entities.Transaction, error) {
	var txn entities.Transaction
	var status, serialization, createdAt, updatedAt string
	var createdBy, reviewedBy, reason, errText, extra sql.NullString

	err := row.Scan(
		&txn.ID,
		&status,
		&createdBy,
		&reviewedBy,
		&reason,
		&errText,
		&extra,
		&serialization,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning draft transaction: %w", err)
	}

	txn.Status = entities.Status(status)
	txn.CreatedBy = createdBy.String
	txn.ReviewedBy = reviewedBy.String
	txn.ReviewReason = reason.String
	txn.Error = errText.String
	txn.Serialization = serialization

	if extra.Valid {
		if err := json.Unmarshal([]byte(extra.String), &txn.ExtraData); err != nil {
			return nil, fmt.Errorf("unmarshaling extra data: %w", err)
		}
	}
	if txn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if txn.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &txn, nil
}

// SaveDraft inserts a new draft.
func (r *Repository) SaveDraft(ctx context.Context, d *entities.Draft) error {
	changes := d.Changes
	if changes == nil {
		changes = entities.ChangeSet{}
	}
	changeSet, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshaling change set: %w", err)
	}
	var options any
	if d.Options != nil {
		data, err := json.Marshal(d.Options)
		if err != nil {
			return fmt.Errorf("marshaling draft options: %w", err)
		}
		options = string(data)
	}

	query := `
		INSERT INTO drafts (id, draft_transaction_id, target_type, target_id, action_type,
			change_set, options, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.q(ctx).ExecContext(ctx, query,
		d.ID,
		d.TransactionID,
		d.TargetType,
		nullString(d.TargetID),
		string(d.Action),
		string(changeSet),
		options,
		formatTime(d.CreatedAt),
		formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}
	return nil
}

// LockTarget is a no-op; the IMMEDIATE write lock serializes writers.
func (r *Repository) LockTarget(_ context.Context, _, _ string) error {
	return nil
}

// GetDraft finds a draft by ID.
func (r *Repository) GetDraft(ctx context.Context, id string) (*entities.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts d WHERE d.id = ?`
	d, err := scanDraft(r.q(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDrafts lists drafts ordered by creation time, then id.
func (r *Repository) ListDrafts(ctx context.Context, filter ports.DraftFilter) ([]*entities.Draft, error) {
	var conds []string
	var args []any
	if filter.TransactionID != "" {
		conds = append(conds, "d.draft_transaction_id = ?")
		args = append(args, filter.TransactionID)
	}
	if filter.TargetType != "" {
		conds = append(conds, "d.target_type = ?")
		args = append(args, filter.TargetType)
	}
	if filter.TargetID != "" {
		conds = append(conds, "d.target_id = ?")
		args = append(args, filter.TargetID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "t.status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `
		SELECT ` + draftColumns + `
		FROM drafts d
		JOIN draft_transactions t ON t.id = d.draft_transaction_id
	`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY d.created_at ASC, d.id ASC`

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying drafts: %w", err)
	}
	defer rows.Close()

	result := make([]*entities.Draft, 0, 16)
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// CountDrafts counts the drafts of a transaction.
func (r *Repository) CountDrafts(ctx context.Context, transactionID string) (int, error) {
	var count int
	err := r.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM drafts WHERE draft_transaction_id = ?`, transactionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting drafts: %w", err)
	}
	return count, nil
}

// LinkDraftTarget records the concrete record a create draft produced.
func (r *Repository) LinkDraftTarget(ctx context.Context, draftID, targetID string) error {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE drafts SET target_id = ?, updated_at = ? WHERE id = ?`,
		targetID, formatTime(timeNow()), draftID,
	)
	if err != nil {
		return fmt.Errorf("linking draft target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("linking draft target: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("draft %s not found", draftID)
	}
	return nil
}

func scanDraft(row scanner) (*entities.Draft, error) {
	var d entities.Draft
	var action, changeSet, createdAt, updatedAt string
	var targetID, options sql.NullString

	err := row.Scan(
		&d.ID,
		&d.TransactionID,
		&d.TargetType,
		&targetID,
		&action,
		&changeSet,
		&options,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning draft: %w", err)
	}

	d.TargetID = targetID.String
	d.Action = entities.Action(action)

	if err := json.Unmarshal([]byte(changeSet), &d.Changes); err != nil {
		return nil, fmt.Errorf("unmarshaling change set of draft %s: %w", d.ID, err)
	}
	if options.Valid {
		d.Options = &entities.Options{}
		if err := json.Unmarshal([]byte(options.String), d.Options); err != nil {
			return nil, fmt.Errorf("unmarshaling options of draft %s: %w", d.ID, err)
		}
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func marshalExtra(extra map[string]any) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("marshaling extra data: %w", err)
	}
	return string(data), nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
)

const transactionColumns = `id, status, created_by, reviewed_by, review_reason, error, extra_data,
	serialization, created_at, updated_at`

const draftColumns = `d.id, d.draft_transaction_id, d.target_type, d.target_id, d.action_type,
	d.change_set, d.options, d.created_at, d.updated_at`

func pgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

// CreateTransaction inserts a new draft transaction.
func (r *Repository) CreateTransaction(ctx context.Context, txn *entities.Transaction) error {
	var extra []byte
	if len(txn.ExtraData) > 0 {
		data, err := json.Marshal(txn.ExtraData)
		if err != nil {
			return fmt.Errorf("marshaling extra data: %w", err)
		}
		extra = data
	}
	serialization := txn.Serialization
	if serialization == "" {
		serialization = entities.SerializationJSON
	}

	query := `
		INSERT INTO draft_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.q(ctx).Exec(ctx, query,
		txn.ID,
		string(txn.Status),
		pgText(txn.CreatedBy),
		pgText(txn.ReviewedBy),
		pgText(txn.ReviewReason),
		pgText(txn.Error),
		extra,
		serialization,
		txn.CreatedAt.UTC(),
		txn.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving draft transaction: %w", err)
	}
	return nil
}

// GetTransaction finds a transaction by ID.
func (r *Repository) GetTransaction(ctx context.Context, id string) (*entities.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM draft_transactions WHERE id = $1`
	txn, err := scanTransaction(r.q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// LockTransaction reads a transaction with FOR UPDATE so concurrent
// reviewers of the same transaction queue behind each other.
func (r *Repository) LockTransaction(ctx context.Context, id string) (*entities.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM draft_transactions WHERE id = $1 FOR UPDATE`
	txn, err := scanTransaction(r.q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locking draft transaction: %w", err)
	}
	return txn, nil
}

// UpdateTransaction writes status, review and error fields.
func (r *Repository) UpdateTransaction(ctx context.Context, txn *entities.Transaction) error {
	query := `
		UPDATE draft_transactions
		SET status = $1, reviewed_by = $2, review_reason = $3, error = $4, updated_at = $5
		WHERE id = $6
	`
	tag, err := r.q(ctx).Exec(ctx, query,
		string(txn.Status),
		pgText(txn.ReviewedBy),
		pgText(txn.ReviewReason),
		pgText(txn.Error),
		txn.UpdatedAt.UTC(),
		txn.ID,
	)
	if err != nil {
		return fmt.Errorf("updating draft transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
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

	if _, err := r.q(ctx).Exec(ctx, `DELETE FROM draft_transactions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting draft transaction: %w", err)
	}
	return nil
}

// ListTransactions lists transactions, newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter ports.TransactionFilter) ([]*entities.Transaction, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		conds = append(conds, "created_by = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM draft_transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.q(ctx).Query(ctx, query, args...)
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

func scanTransaction(row pgx.Row) (*entities.Transaction, error) {
	var txn entities.Transaction
	var status string
	var createdBy, reviewedBy, reason, errText pgtype.Text
	var extra []byte

	err := row.Scan(
		&txn.ID,
		&status,
		&createdBy,
		&reviewedBy,
		&reason,
		&errText,
		&extra,
		&txn.Serialization,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning draft transaction: %w", err)
	}

	txn.Status = entities.Status(status)
	txn.CreatedBy = createdBy.String
	txn.ReviewedBy = reviewedBy.String
	txn.ReviewReason = reason.String
	txn.Error = errText.String
	txn.CreatedAt = txn.CreatedAt.UTC()
	txn.UpdatedAt = txn.UpdatedAt.UTC()

	if extra != nil {
		if err := json.Unmarshal(extra, &txn.ExtraData); err != nil {
			return nil, fmt.Errorf("unmarshaling extra data: %w", err)
		}
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
	var options []byte
	if d.Options != nil {
		if options, err = json.Marshal(d.Options); err != nil {
			return fmt.Errorf("marshaling draft options: %w", err)
		}
	}

	query := `
		INSERT INTO drafts (id, draft_transaction_id, target_type, target_id, action_type,
			change_set, options, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.q(ctx).Exec(ctx, query,
		d.ID,
		d.TransactionID,
		d.TargetType,
		pgText(d.TargetID),
		string(d.Action),
		changeSet,
		options,
		d.CreatedAt.UTC(),
		d.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}
	return nil
}

// LockTarget takes a transaction scoped advisory lock keyed by the target.
// The target row may not exist yet, so a row lock cannot be used.
func (r *Repository) LockTarget(ctx context.Context, targetType, targetID string) error {
	_, err := r.q(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, targetType, targetID)
	if err != nil {
		return fmt.Errorf("locking draft target: %w", err)
	}
	return nil
}

// GetDraft finds a draft by ID.
func (r *Repository) GetDraft(ctx context.Context, id string) (*entities.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts d WHERE d.id = $1`
	d, err := scanDraft(r.q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
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
		args = append(args, filter.TransactionID)
		conds = append(conds, "d.draft_transaction_id = $"+strconv.Itoa(len(args)))
	}
	if filter.TargetType != "" {
		args = append(args, filter.TargetType)
		conds = append(conds, "d.target_type = $"+strconv.Itoa(len(args)))
	}
	if filter.TargetID != "" {
		args = append(args, filter.TargetID)
		conds = append(conds, "d.target_id = $"+strconv.Itoa(len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		conds = append(conds, "t.status = ANY($"+strconv.Itoa(len(args))+")")
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

	rows, err := r.q(ctx).Query(ctx, query, args...)
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
	err := r.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM drafts WHERE draft_transaction_id = $1`, transactionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting drafts: %w", err)
	}
	return count, nil
}

// LinkDraftTarget records the concrete record a create draft produced.
func (r *Repository) LinkDraftTarget(ctx context.Context, draftID, targetID string) error {
	tag, err := r.q(ctx).Exec(ctx,
		`UPDATE drafts SET target_id = $1, updated_at = $2 WHERE id = $3`,
		targetID, timeNow().UTC(), draftID,
	)
	if err != nil {
		return fmt.Errorf("linking draft target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("draft %s not found", draftID)
	}
	return nil
}

func scanDraft(row pgx.Row) (*entities.Draft, error) {
	var d entities.Draft
	var action string
	var targetID pgtype.Text
	var changeSet, options []byte

	err := row.Scan(
		&d.ID,
		&d.TransactionID,
		&d.TargetType,
		&targetID,
		&action,
		&changeSet,
		&options,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning draft: %w", err)
	}

	d.TargetID = targetID.String
	d.Action = entities.Action(action)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()

	if err := json.Unmarshal(changeSet, &d.Changes); err != nil {
		return nil, fmt.Errorf("unmarshaling change set of draft %s: %w", d.ID, err)
	}
	if options != nil {
		d.Options = &entities.Options{}
		if err := json.Unmarshal(options, d.Options); err != nil {
			return nil, fmt.Errorf("unmarshaling options of draft %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

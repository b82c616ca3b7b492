// Package postgres provides a PostgreSQL implementation of the draft and
// record stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ersonp/draft-core/internal/infrastructure/config"
)

// generateUUID returns a new time-ordered UUID string.
func generateUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// timeNow returns the current time (can be mocked in tests).
var timeNow = time.Now

type txKey struct{}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements ports.DraftStore, ports.RecordStore and
// ports.TxRunner using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository connects to the database named by cfg.DSN.
func NewRepository(ctx context.Context, cfg config.PostgresConfig) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// InTx runs fn inside a database transaction carried by its context. A
// context that already carries one joins it.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		// Rollback must still reach the server when ctx was cancelled.
		rollbackCtx := context.WithoutCancel(ctx)
		if p := recover(); p != nil {
			_ = tx.Rollback(rollbackCtx)
			panic(p)
		}
		if err != nil {
			if rErr := tx.Rollback(rollbackCtx); rErr != nil && !errors.Is(rErr, pgx.ErrTxClosed) {
				err = errors.Join(err, rErr)
			}
			return
		}
		if cErr := tx.Commit(ctx); cErr != nil {
			err = fmt.Errorf("committing transaction: %w", cErr)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, tx))
}

// q returns the transaction carried by ctx, or the pool.
func (r *Repository) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

// EnsureSchema creates the draft tables if they don't exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS draft_transactions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_by TEXT,
		reviewed_by TEXT,
		review_reason TEXT,
		error TEXT,
		extra_data JSONB,
		serialization TEXT NOT NULL DEFAULT 'json',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_draft_transactions_status ON draft_transactions(status);
	CREATE INDEX IF NOT EXISTS idx_draft_transactions_created_by ON draft_transactions(created_by);
	CREATE INDEX IF NOT EXISTS idx_draft_transactions_reviewed_by ON draft_transactions(reviewed_by);

	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		draft_transaction_id TEXT NOT NULL REFERENCES draft_transactions(id) ON DELETE CASCADE,
		target_type TEXT NOT NULL,
		target_id TEXT,
		action_type TEXT NOT NULL,
		change_set JSONB NOT NULL,
		options JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_transaction ON drafts(draft_transaction_id);
	CREATE INDEX IF NOT EXISTS idx_drafts_target ON drafts(target_type, target_id);
	`

	// Multi-statement text is only accepted over the simple protocol.
	_, err := r.q(ctx).Exec(ctx, schema, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

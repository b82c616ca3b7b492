// Package sqlite provides a SQLite implementation of the draft and record
// stores.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/google/uuid"

	"github.com/ersonp/draft-core/internal/infrastructure/config"
	"github.com/ersonp/draft-core/internal/infrastructure/relationaldb"
)

// generateUUID returns a new time-ordered UUID string.
func generateUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// timeNow returns the current time (can be mocked in tests).
var timeNow = time.Now

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// connectionPragmas apply to every pooled connection. Writers take the
// database lock when their transaction begins so concurrent drafts queue
// on the busy timeout instead of failing on lock upgrade.
const connectionPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"

type txKey struct{}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository implements ports.DraftStore, ports.RecordStore and
// ports.TxRunner using SQLite.
type Repository struct {
	db   *sql.DB
	path string
}

// NewRepository creates a new SQLite repository.
func NewRepository(cfg config.SQLiteConfig) (*Repository, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", cfg.Path+"?"+connectionPragmas)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if cfg.Path == config.MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		// Enable WAL mode for better concurrent read/write performance
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite database: %w", err)
	}

	return &Repository{
		db:   db,
		path: cfg.Path,
	}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *Repository) Path() string {
	return r.path
}

// InTx runs fn inside a database transaction carried by its context. A
// context that already carries one joins it.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("committing transaction: %w", cerr)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, tx))
}

// q returns the transaction carried by ctx, or the pool.
func (r *Repository) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.db
}

// EnsureSchema creates the draft tables if they don't exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	schema := `
	-- Draft transactions (drafts approved or rejected together)
	CREATE TABLE IF NOT EXISTS draft_transactions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_by TEXT,
		reviewed_by TEXT,
		review_reason TEXT,
		error TEXT,
		extra_data TEXT,
		serialization TEXT NOT NULL DEFAULT 'json',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_draft_transactions_status ON draft_transactions(status);
	CREATE INDEX IF NOT EXISTS idx_draft_transactions_created_by ON draft_transactions(created_by);
	CREATE INDEX IF NOT EXISTS idx_draft_transactions_reviewed_by ON draft_transactions(reviewed_by);

	-- Drafts (one pending change to one record)
	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		draft_transaction_id TEXT NOT NULL REFERENCES draft_transactions(id) ON DELETE CASCADE,
		target_type TEXT NOT NULL,
		target_id TEXT,
		action_type TEXT NOT NULL,
		change_set TEXT NOT NULL,
		options TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_transaction ON drafts(draft_transaction_id);
	CREATE INDEX IF NOT EXISTS idx_drafts_target ON drafts(target_type, target_id);
	`

	_, err := r.q(ctx).ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return relationaldb.FormatTime(t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

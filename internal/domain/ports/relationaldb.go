package ports

import (
	"context"

	"github.com/ersonp/draft-core/internal/domain/entities"
)

// TxRunner runs work inside a database transaction.
type TxRunner interface {
	// InTx runs fn with a context carrying an open transaction. The
	// transaction commits when fn returns nil and rolls back when fn returns
	// an error or panics. When ctx already carries a transaction fn joins it.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DraftFilter narrows a draft listing. Zero values match everything.
type DraftFilter struct {
	TransactionID string
	TargetType    string
	TargetID      string
	// Statuses restricts drafts to transactions in one of these states.
	Statuses []entities.Status
}

// TransactionFilter narrows a transaction listing.
type TransactionFilter struct {
	Status    entities.Status
	CreatedBy string
	Limit     int
	Offset    int
}

// DraftStore persists draft transactions and their drafts. Every method uses
// the transaction carried by ctx when there is one.
type DraftStore interface {
	// EnsureSchema creates the draft tables if they don't exist.
	EnsureSchema(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// Transaction operations

	// CreateTransaction inserts a new draft transaction.
	CreateTransaction(ctx context.Context, txn *entities.Transaction) error

	// GetTransaction finds a transaction by ID. Returns nil, nil if not found.
	GetTransaction(ctx context.Context, id string) (*entities.Transaction, error)

	// LockTransaction is GetTransaction holding a row lock until the database
	// transaction carried by ctx ends. Returns nil, nil if not found.
	LockTransaction(ctx context.Context, id string) (*entities.Transaction, error)

	// UpdateTransaction writes status, review and error fields.
	UpdateTransaction(ctx context.Context, txn *entities.Transaction) error

	// DeleteTransaction removes a transaction that has no drafts.
	DeleteTransaction(ctx context.Context, id string) error

	// ListTransactions lists transactions, newest first.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*entities.Transaction, error)

	// Draft operations

	// SaveDraft inserts a new draft.
	SaveDraft(ctx context.Context, draft *entities.Draft) error

	// LockTarget serializes draft writes against one persisted record until
	// the database transaction carried by ctx ends.
	LockTarget(ctx context.Context, targetType, targetID string) error

	// GetDraft finds a draft by ID. Returns nil, nil if not found.
	GetDraft(ctx context.Context, id string) (*entities.Draft, error)

	// ListDrafts lists drafts ordered by creation time, then id.
	ListDrafts(ctx context.Context, filter DraftFilter) ([]*entities.Draft, error)

	// CountDrafts counts the drafts of a transaction.
	CountDrafts(ctx context.Context, transactionID string) (int, error)

	// LinkDraftTarget records the concrete record a create draft produced.
	LinkDraftTarget(ctx context.Context, draftID, targetID string) error
}

// RecordStore reads and writes instances of registered record types. Errors
// raised by the database (constraint violations and the like) are returned
// unwrapped. Every method uses the transaction carried by ctx when there is
// one.
type RecordStore interface {
	// Find loads a record by ID. Returns nil, nil if not found.
	Find(ctx context.Context, rt *entities.RecordType, id string) (*entities.Record, error)

	// FindBy loads the first record whose columns equal the given values.
	// Returns nil, nil if none matches.
	FindBy(ctx context.Context, rt *entities.RecordType, columns map[string]any) (*entities.Record, error)

	// ListBy loads every record whose columns equal the given values,
	// ordered by id.
	ListBy(ctx context.Context, rt *entities.RecordType, columns map[string]any) ([]*entities.Record, error)

	// Insert writes a new record and returns its generated ID.
	Insert(ctx context.Context, rt *entities.RecordType, columns map[string]any) (string, error)

	// Update writes the given columns of an existing record.
	Update(ctx context.Context, rt *entities.RecordType, id string, columns map[string]any) error

	// Delete removes a record. It reports whether a row was removed.
	Delete(ctx context.Context, rt *entities.RecordType, id string) (bool, error)
}

package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
)

// generateUUID returns a new time-ordered UUID string, so ids sort in
// creation order.
func generateUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// timeNow returns the current time (can be mocked in tests).
var timeNow = time.Now

type transactionKey struct{}

// binding ties a draft transaction to the scope that opened it. Closing it
// makes contexts captured inside the scope stop reporting the transaction.
type binding struct {
	txn    *entities.Transaction
	closed atomic.Bool
}

func bindTransaction(ctx context.Context, txn *entities.Transaction) (context.Context, *binding) {
	b := &binding{txn: txn}
	return context.WithValue(ctx, transactionKey{}, b), b
}

// Current returns the draft transaction active in ctx.
func Current(ctx context.Context) (*entities.Transaction, bool) {
	b, ok := ctx.Value(transactionKey{}).(*binding)
	if !ok || b.closed.Load() {
		return nil, false
	}
	return b.txn, true
}

// CurrentOrFail returns the draft transaction active in ctx, or
// ErrNoActiveTransaction.
func CurrentOrFail(ctx context.Context) (*entities.Transaction, error) {
	txn, ok := Current(ctx)
	if !ok {
		return nil, entities.ErrNoActiveTransaction
	}
	return txn, nil
}

// BeginOptions are recorded on a new draft transaction.
type BeginOptions struct {
	CreatedBy string
	ExtraData map[string]any
}

// TransactionService opens draft transaction scopes.
type TransactionService struct {
	runner  ports.TxRunner
	store   ports.DraftStore
	log     logrus.FieldLogger
	metrics ports.Metrics
}

// NewTransactionService creates a new TransactionService. log and metrics
// may be nil.
func NewTransactionService(
	runner ports.TxRunner,
	store ports.DraftStore,
	log logrus.FieldLogger,
	metrics ports.Metrics,
) *TransactionService {
	if log == nil {
		log = discardLogger()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &TransactionService{
		runner:  runner,
		store:   store,
		log:     log,
		metrics: metrics,
	}
}

// BeginNew opens a new draft transaction and runs fn inside it. fn sees the
// transaction through its context. If fn writes no drafts the transaction
// row is removed and BeginNew returns nil; other writes made by fn are kept.
// It fails with ErrNestedTransaction when ctx already has one.
func (s *TransactionService) BeginNew(
	ctx context.Context,
	opts BeginOptions,
	fn func(ctx context.Context) error,
) (*entities.Transaction, error) {
	txn, _, err := beginNew(ctx, s, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return txn, err
}

// EnsureActive runs fn in the active draft transaction, or in a new one
// when there is none, and returns fn's result.
func EnsureActive[T any](
	ctx context.Context,
	s *TransactionService,
	opts BeginOptions,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	if _, ok := Current(ctx); ok {
		return fn(ctx)
	}
	_, result, err := beginNew(ctx, s, opts, fn)
	return result, err
}

func beginNew[T any](
	ctx context.Context,
	s *TransactionService,
	opts BeginOptions,
	fn func(ctx context.Context) (T, error),
) (*entities.Transaction, T, error) {
	var zero T
	if _, ok := Current(ctx); ok {
		return nil, zero, entities.ErrNestedTransaction
	}

	var (
		kept   *entities.Transaction
		result T
		drafts int
	)
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		now := timeNow().UTC()
		txn := &entities.Transaction{
			ID:            generateUUID(),
			Status:        entities.StatusPendingApproval,
			CreatedBy:     opts.CreatedBy,
			ExtraData:     opts.ExtraData,
			Serialization: entities.SerializationJSON,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.store.CreateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("creating draft transaction: %w", err)
		}

		scoped, b := bindTransaction(ctx, txn)
		out, err := func() (T, error) {
			defer b.closed.Store(true)
			return fn(scoped)
		}()
		if err != nil {
			return err
		}
		result = out

		drafts, err = s.store.CountDrafts(ctx, txn.ID)
		if err != nil {
			return fmt.Errorf("counting drafts: %w", err)
		}
		if drafts == 0 {
			if err := s.store.DeleteTransaction(ctx, txn.ID); err != nil {
				return fmt.Errorf("discarding empty draft transaction: %w", err)
			}
			return nil
		}
		kept = txn
		return nil
	})
	if err != nil {
		s.metrics.TransactionClosed(ports.OutcomeFailed)
		s.log.WithError(err).Debug("draft transaction rolled back")
		return nil, zero, err
	}

	if kept == nil {
		s.metrics.TransactionClosed(ports.OutcomeDiscarded)
		s.log.WithField("created_by", opts.CreatedBy).Debug("discarded draft transaction without drafts")
		return nil, result, nil
	}

	s.metrics.TransactionClosed(ports.OutcomeCommitted)
	s.log.WithFields(logrus.Fields{
		"transaction_id": kept.ID,
		"created_by":     kept.CreatedBy,
		"drafts":         drafts,
	}).Info("draft transaction committed")
	return kept, result, nil
}

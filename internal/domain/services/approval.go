package services

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
)

// failureWriteTimeout bounds the approval_error write.
const failureWriteTimeout = 10 * time.Second

// Review carries the reviewer metadata recorded on a decision.
type Review struct {
	ReviewedBy string
	Reason     string
}

// ApprovalService approves and rejects draft transactions.
type ApprovalService struct {
	txns       *TransactionService
	types      *RecordTypeService
	serializer *Serializer
	records    ports.RecordStore
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	txns *TransactionService,
	types *RecordTypeService,
	serializer *Serializer,
	records ports.RecordStore,
) *ApprovalService {
	return &ApprovalService{
		txns:       txns,
		types:      types,
		serializer: serializer,
		records:    records,
	}
}

// Approve applies every draft of the transaction in creation order inside
// one database transaction and marks it approved. If any draft fails, all
// writes roll back, the transaction is marked approval_error with the error
// and its stack in a separate write, and the original error is returned.
// Approved and rejected transactions are returned unchanged.
//
// When ctx already carries a database transaction, Approve joins it and the
// approval_error write rolls back with the caller's transaction.
func (s *ApprovalService) Approve(ctx context.Context, transactionID string, review Review) (*entities.Transaction, error) {
	start := timeNow()

	var (
		result  *entities.Transaction
		skipped bool
		applied int
		failure error
	)
	err := s.txns.runner.InTx(ctx, func(ctx context.Context) error {
		txn, err := s.loadTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		result = txn
		if txn.Status.IsFinal() {
			skipped = true
			return nil
		}

		drafts, err := s.txns.store.ListDrafts(ctx, ports.DraftFilter{TransactionID: txn.ID})
		if err != nil {
			failure = err
			return err
		}
		for _, d := range drafts {
			if _, err := s.Apply(ctx, d); err != nil {
				failure = err
				return err
			}
			applied++
		}

		txn.Status = entities.StatusApproved
		txn.ReviewedBy = review.ReviewedBy
		txn.ReviewReason = review.Reason
		txn.Error = ""
		txn.UpdatedAt = timeNow().UTC()
		if err := s.txns.store.UpdateTransaction(ctx, txn); err != nil {
			failure = err
			return err
		}
		return nil
	})

	log := s.txns.log.WithField("transaction_id", transactionID)
	switch {
	case failure != nil:
		s.recordFailure(ctx, transactionID, failure)
		s.txns.metrics.ReviewFinished(ports.OutcomeError, timeNow().Sub(start))
		log.WithError(failure).Warn("draft transaction approval failed")
		return nil, failure
	case err != nil:
		return nil, err
	case skipped:
		s.txns.metrics.ReviewFinished(ports.OutcomeSkipped, timeNow().Sub(start))
		log.WithField("status", result.Status).Info("draft transaction already reviewed")
		return result, nil
	}

	s.txns.metrics.ReviewFinished(ports.OutcomeApproved, timeNow().Sub(start))
	log.WithFields(logrus.Fields{
		"reviewed_by": review.ReviewedBy,
		"drafts":      applied,
	}).Info("draft transaction approved")
	return result, nil
}

// Reject marks the transaction rejected without applying anything.
// Approved and rejected transactions are returned unchanged.
func (s *ApprovalService) Reject(ctx context.Context, transactionID string, review Review) (*entities.Transaction, error) {
	start := timeNow()

	var (
		result  *entities.Transaction
		skipped bool
	)
	err := s.txns.runner.InTx(ctx, func(ctx context.Context) error {
		txn, err := s.loadTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		result = txn
		if txn.Status.IsFinal() {
			skipped = true
			return nil
		}

		txn.Status = entities.StatusRejected
		txn.ReviewedBy = review.ReviewedBy
		txn.ReviewReason = review.Reason
		txn.UpdatedAt = timeNow().UTC()
		if err := s.txns.store.UpdateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("updating draft transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := s.txns.log.WithField("transaction_id", transactionID)
	if skipped {
		s.txns.metrics.ReviewFinished(ports.OutcomeSkipped, timeNow().Sub(start))
		log.WithField("status", result.Status).Info("draft transaction already reviewed")
		return result, nil
	}

	s.txns.metrics.ReviewFinished(ports.OutcomeRejected, timeNow().Sub(start))
	log.WithField("reviewed_by", review.ReviewedBy).Info("draft transaction rejected")
	return result, nil
}

// loadTransaction reads and locks the transaction so concurrent reviewers
// of the same transaction run one after the other.
func (s *ApprovalService) loadTransaction(ctx context.Context, id string) (*entities.Transaction, error) {
	txn, err := s.txns.store.LockTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading draft transaction: %w", err)
	}
	if txn == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
	}
	return txn, nil
}

// recordFailure stores the approval error outside the rolled back
// transaction. It ignores cancellation of ctx so a cancelled approval is
// still recorded. A failure here is logged; the caller still gets the
// original approval error.
func (s *ApprovalService) recordFailure(ctx context.Context, transactionID string, failure error) {
	diagnostic := fmt.Sprintf("%+v", pkgerrors.WithStack(failure))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	err := s.txns.runner.InTx(ctx, func(ctx context.Context) error {
		txn, err := s.loadTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		txn.Status = entities.StatusApprovalError
		txn.Error = diagnostic
		txn.UpdatedAt = timeNow().UTC()
		return s.txns.store.UpdateTransaction(ctx, txn)
	})
	if err != nil {
		s.txns.log.WithError(err).WithField("transaction_id", transactionID).
			Error("recording draft transaction approval error")
	}
}

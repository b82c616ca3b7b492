package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
	"github.com/ersonp/draft-core/internal/domain/services"
)

// ReviewHandler handles listing, inspecting and deciding draft transactions.
type ReviewHandler struct {
	store     ports.DraftStore
	approval  *services.ApprovalService
	inspector *services.Inspector
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(
	store ports.DraftStore,
	approval *services.ApprovalService,
	inspector *services.Inspector,
) *ReviewHandler {
	return &ReviewHandler{
		store:     store,
		approval:  approval,
		inspector: inspector,
	}
}

// TransactionSummary is one row of a transaction listing.
type TransactionSummary struct {
	Transaction *entities.Transaction `json:"transaction"`
	Drafts      int                   `json:"drafts"`
}

// ListResult contains the result of listing transactions.
type ListResult struct {
	Transactions []TransactionSummary `json:"transactions"`
}

// FieldSummary renders one changed field.
type FieldSummary struct {
	Name string `json:"name"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// DraftSummary renders one draft of a transaction.
type DraftSummary struct {
	Draft  *entities.Draft `json:"draft"`
	Target string          `json:"target"`
	Fields []FieldSummary  `json:"fields"`
}

// ShowResult contains a transaction and its rendered drafts.
type ShowResult struct {
	Transaction *entities.Transaction `json:"transaction"`
	Drafts      []DraftSummary        `json:"drafts"`
}

// HandleList lists transactions, newest first, optionally filtered by
// status. A non-positive limit lists everything.
func (h *ReviewHandler) HandleList(ctx context.Context, status string, limit int) (*ListResult, error) {
	st, err := parseOptionalStatus(status)
	if err != nil {
		return nil, err
	}

	txns, err := h.store.ListTransactions(ctx, ports.TransactionFilter{Status: st, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing draft transactions: %w", err)
	}

	result := &ListResult{Transactions: make([]TransactionSummary, 0, len(txns))}
	for _, txn := range txns {
		n, err := h.store.CountDrafts(ctx, txn.ID)
		if err != nil {
			return nil, fmt.Errorf("counting drafts: %w", err)
		}
		result.Transactions = append(result.Transactions, TransactionSummary{Transaction: txn, Drafts: n})
	}
	return result, nil
}

// HandleShow loads a transaction and renders the old and new value of every
// changed field of its drafts.
func (h *ReviewHandler) HandleShow(ctx context.Context, id string) (*ShowResult, error) {
	txn, err := h.loadTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	proxies, err := h.inspector.ProxiesForTransaction(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("inspecting drafts: %w", err)
	}

	result := &ShowResult{
		Transaction: txn,
		Drafts:      make([]DraftSummary, 0, len(proxies)),
	}
	for _, p := range proxies {
		changes, err := p.FieldChanges(ctx)
		if err != nil {
			return nil, fmt.Errorf("rendering %s: %w", p.Draft(), err)
		}
		summary := DraftSummary{
			Draft:  p.Draft(),
			Target: p.CurrentString(),
			Fields: make([]FieldSummary, 0, len(changes)),
		}
		for _, name := range p.ChangedFields() {
			change, ok := changes[name]
			if !ok {
				continue
			}
			summary.Fields = append(summary.Fields, FieldSummary{
				Name: name,
				Old:  change.Old.String(),
				New:  change.New.String(),
			})
		}
		result.Drafts = append(result.Drafts, summary)
	}
	return result, nil
}

// HandleApprove applies and approves a transaction.
func (h *ReviewHandler) HandleApprove(ctx context.Context, id, reviewedBy, reason string) (*entities.Transaction, error) {
	if id == "" {
		return nil, errors.New("transaction id is required")
	}
	return h.approval.Approve(ctx, id, services.Review{ReviewedBy: reviewedBy, Reason: reason})
}

// HandleReject rejects a transaction.
func (h *ReviewHandler) HandleReject(ctx context.Context, id, reviewedBy, reason string) (*entities.Transaction, error) {
	if id == "" {
		return nil, errors.New("transaction id is required")
	}
	return h.approval.Reject(ctx, id, services.Review{ReviewedBy: reviewedBy, Reason: reason})
}

// HandleDrafts lists the drafts whose transaction has the given status, or
// every draft when status is empty.
func (h *ReviewHandler) HandleDrafts(ctx context.Context, status string) ([]*entities.Draft, error) {
	st, err := parseOptionalStatus(status)
	if err != nil {
		return nil, err
	}

	var filter ports.DraftFilter
	if st != "" {
		filter.Statuses = []entities.Status{st}
	}
	drafts, err := h.store.ListDrafts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing drafts: %w", err)
	}
	return drafts, nil
}

func (h *ReviewHandler) loadTransaction(ctx context.Context, id string) (*entities.Transaction, error) {
	if id == "" {
		return nil, errors.New("transaction id is required")
	}
	txn, err := h.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading draft transaction: %w", err)
	}
	if txn == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrTransactionNotFound, id)
	}
	return txn, nil
}

func parseOptionalStatus(status string) (entities.Status, error) {
	if status == "" {
		return "", nil
	}
	return entities.ParseStatus(status)
}

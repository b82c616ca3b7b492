package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
)

// DraftWriter validates and persists drafts.
type DraftWriter struct {
	txns       *TransactionService
	types      *RecordTypeService
	serializer *Serializer
}

// NewDraftWriter creates a new DraftWriter.
func NewDraftWriter(txns *TransactionService, types *RecordTypeService, serializer *Serializer) *DraftWriter {
	return &DraftWriter{
		txns:       txns,
		types:      types,
		serializer: serializer,
	}
}

// SaveDraft writes a create draft for an unpersisted record and an update
// draft for a persisted one.
func (w *DraftWriter) SaveDraft(ctx context.Context, rec *entities.Record, opts *entities.Options) (*entities.Draft, error) {
	if rec != nil && rec.IsPersisted() {
		return w.Write(ctx, entities.ActionUpdate, rec, opts)
	}
	return w.Write(ctx, entities.ActionCreate, rec, opts)
}

// DestroyDraft writes a delete draft for a persisted record.
func (w *DraftWriter) DestroyDraft(ctx context.Context, rec *entities.Record, opts *entities.Options) (*entities.Draft, error) {
	return w.Write(ctx, entities.ActionDelete, rec, opts)
}

// Write persists one draft for rec in the active draft transaction, opening
// one if needed. An update without changes writes nothing and returns a nil
// draft and a nil error. On success rec.Draft points at the new draft.
func (w *DraftWriter) Write(
	ctx context.Context,
	action entities.Action,
	rec *entities.Record,
	opts *entities.Options,
) (*entities.Draft, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: record is required", entities.ErrInvalidArgument)
	}
	if !action.IsValid() {
		return nil, fmt.Errorf("%w: unknown action %q", entities.ErrInvalidArgument, action)
	}
	if opts != nil {
		if err := opts.Validate(action); err != nil {
			return nil, err
		}
	}
	rt, err := w.types.Get(rec.Type)
	if err != nil {
		return nil, err
	}

	switch action {
	case entities.ActionCreate:
		if rec.IsPersisted() {
			return nil, fmt.Errorf("%w: %s:%s", entities.ErrAlreadyPersisted, rec.Type, rec.ID)
		}
	case entities.ActionUpdate, entities.ActionDelete:
		if !rec.IsPersisted() {
			return nil, fmt.Errorf("%w: new %s", entities.ErrUnpersisted, rec.Type)
		}
	}

	return EnsureActive(ctx, w.txns, BeginOptions{}, func(ctx context.Context) (*entities.Draft, error) {
		var draft *entities.Draft
		err := w.txns.runner.InTx(ctx, func(ctx context.Context) error {
			d, err := w.write(ctx, rt, action, rec, opts)
			draft = d
			return err
		})
		if err != nil {
			return nil, err
		}
		return draft, nil
	})
}

func (w *DraftWriter) write(
	ctx context.Context,
	rt *entities.RecordType,
	action entities.Action,
	rec *entities.Record,
	opts *entities.Options,
) (*entities.Draft, error) {
	txn, err := CurrentOrFail(ctx)
	if err != nil {
		return nil, err
	}

	// Checked against the store inside the database transaction, under the
	// target lock, so a concurrent writer cannot slip a second draft in.
	if rec.IsPersisted() {
		if err := w.txns.store.LockTarget(ctx, rec.Type, rec.ID); err != nil {
			return nil, err
		}
		existing, err := w.txns.store.ListDrafts(ctx, ports.DraftFilter{
			TargetType: rec.Type,
			TargetID:   rec.ID,
			Statuses:   []entities.Status{entities.StatusPendingApproval, entities.StatusApprovalError},
		})
		if err != nil {
			return nil, fmt.Errorf("checking existing drafts: %w", err)
		}
		if len(existing) > 0 {
			return nil, fmt.Errorf("%w: %s:%s has %s", entities.ErrExistingDraft, rec.Type, rec.ID, existing[0])
		}
	} else if rec.Draft != nil {
		if err := w.checkPendingCreate(ctx, rec); err != nil {
			return nil, err
		}
	}

	changes, err := w.serializer.ChangesForRecord(rec)
	if err != nil {
		return nil, err
	}
	if err := w.checkDraftRefs(ctx, txn, rt, changes); err != nil {
		return nil, err
	}
	if action == entities.ActionUpdate && len(changes) == 0 {
		w.txns.log.WithFields(logrus.Fields{
			"target_type": rec.Type,
			"target_id":   rec.ID,
		}).Debug("skipping update draft without changes")
		return nil, nil
	}

	now := timeNow().UTC()
	draft := &entities.Draft{
		ID:            generateUUID(),
		TransactionID: txn.ID,
		TargetType:    rec.Type,
		Action:        action,
		Changes:       changes,
		Options:       opts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if action != entities.ActionCreate {
		draft.TargetID = rec.ID
	}

	if err := w.txns.store.SaveDraft(ctx, draft); err != nil {
		return nil, fmt.Errorf("saving draft: %w", err)
	}
	rec.Draft = draft

	w.txns.metrics.DraftWritten(string(action))
	w.txns.log.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"draft_id":       draft.ID,
		"action":         action,
		"target_type":    rec.Type,
	}).Debug("draft written")
	return draft, nil
}

// checkPendingCreate fails when the unpersisted rec already has a create
// draft in a transaction that still blocks new drafts.
func (w *DraftWriter) checkPendingCreate(ctx context.Context, rec *entities.Record) error {
	prior, err := w.txns.store.GetDraft(ctx, rec.Draft.ID)
	if err != nil {
		return fmt.Errorf("checking existing drafts: %w", err)
	}
	if prior == nil {
		return nil
	}
	owner, err := w.txns.store.GetTransaction(ctx, prior.TransactionID)
	if err != nil {
		return fmt.Errorf("checking existing drafts: %w", err)
	}
	if owner != nil && owner.Status.BlocksNewDrafts() {
		return fmt.Errorf("%w: new %s has %s", entities.ErrExistingDraft, rec.Type, prior)
	}
	return nil
}

// checkDraftRefs fails when an association points at a draft that is not
// stored in txn. Drafts of other transactions can never be resolved when
// txn is approved.
func (w *DraftWriter) checkDraftRefs(
	ctx context.Context,
	txn *entities.Transaction,
	rt *entities.RecordType,
	changes entities.ChangeSet,
) error {
	for _, assoc := range rt.BelongsTo {
		change, ok := changes[assoc.Name]
		if !ok {
			continue
		}
		ref, _ := change.New.(*entities.Ref)
		if ref == nil || !ref.IsDraft() {
			continue
		}
		prior, err := w.txns.store.GetDraft(ctx, ref.ID)
		if err != nil {
			return fmt.Errorf("loading referenced draft: %w", err)
		}
		if prior == nil || prior.TransactionID != txn.ID {
			return fmt.Errorf("%w: %s points to draft %s outside transaction %s",
				entities.ErrAssociationUnsaved, assoc.Name, ref.ID, txn.ID)
		}
	}
	return nil
}

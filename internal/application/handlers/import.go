package handlers

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/ersonp/draft-core/internal/domain/entities"
	"github.com/ersonp/draft-core/internal/domain/ports"
	"github.com/ersonp/draft-core/internal/domain/services"
	"github.com/ersonp/draft-core/internal/infrastructure/parsers"
)

// ImportHandler drafts the record changes of a file in one transaction.
type ImportHandler struct {
	txns    *services.TransactionService
	writer  *services.DraftWriter
	types   *services.RecordTypeService
	records ports.RecordStore
}

// NewImportHandler creates a new import handler.
func NewImportHandler(
	txns *services.TransactionService,
	writer *services.DraftWriter,
	types *services.RecordTypeService,
	records ports.RecordStore,
) *ImportHandler {
	return &ImportHandler{
		txns:    txns,
		writer:  writer,
		types:   types,
		records: records,
	}
}

// ImportOptions configures an import.
type ImportOptions struct {
	CreatedBy string
	Source    string // recorded in the transaction extra data
	Options   *entities.Options
}

// ImportResult contains the result of an import.
type ImportResult struct {
	Parsed      int
	Transaction *entities.Transaction // nil when no change produced a draft
	Drafts      []*entities.Draft
}

// Handle parses r and drafts every change. Any invalid change aborts the
// import and nothing is drafted.
func (h *ImportHandler) Handle(ctx context.Context, r io.Reader, parser parsers.Parser, opts ImportOptions) (*ImportResult, error) {
	changes, err := parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing input: %w", err)
	}

	result := &ImportResult{Parsed: len(changes)}
	if len(changes) == 0 {
		return result, nil
	}

	begin := services.BeginOptions{CreatedBy: opts.CreatedBy}
	if opts.Source != "" {
		begin.ExtraData = map[string]any{"source": opts.Source}
	}

	txn, err := h.txns.BeginNew(ctx, begin, func(ctx context.Context) error {
		for _, change := range changes {
			d, err := h.draftChange(ctx, change, opts.Options)
			if err != nil {
				return fmt.Errorf("line %d: %w", change.Line, err)
			}
			if d != nil {
				result.Drafts = append(result.Drafts, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Transaction = txn
	return result, nil
}

// draftChange drafts one change. It returns nil when the change is a
// no-op against the stored record.
func (h *ImportHandler) draftChange(ctx context.Context, change parsers.RawChange, opts *entities.Options) (*entities.Draft, error) {
	if change.Type == "" {
		return nil, fmt.Errorf("%w: type is required", entities.ErrInvalidArgument)
	}
	rt, err := h.types.Get(change.Type)
	if err != nil {
		return nil, err
	}

	action, err := changeAction(change)
	if err != nil {
		return nil, err
	}
	columns := rt.Columns()
	for name := range change.Values {
		if !slices.Contains(columns, name) {
			return nil, fmt.Errorf("%w: %s has no column %q", entities.ErrInvalidArgument, rt.Name, name)
		}
	}

	if action == entities.ActionCreate {
		return h.writer.SaveDraft(ctx, entities.NewRecord(rt.Name, change.Values), opts)
	}

	rec, err := h.records.Find(ctx, rt, change.ID)
	if err != nil {
		return nil, fmt.Errorf("loading %s %s: %w", rt.Name, change.ID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s %s", entities.ErrRecordNotFound, rt.Name, change.ID)
	}

	if action == entities.ActionDelete {
		return h.writer.DestroyDraft(ctx, rec, opts)
	}
	for name, v := range change.Values {
		rec.Set(name, v)
	}
	return h.writer.SaveDraft(ctx, rec, opts)
}

func changeAction(change parsers.RawChange) (entities.Action, error) {
	if change.Action == "" {
		if change.ID == "" {
			return entities.ActionCreate, nil
		}
		return entities.ActionUpdate, nil
	}

	action, err := entities.ParseAction(change.Action)
	if err != nil {
		return "", err
	}
	switch {
	case action == entities.ActionCreate && change.ID != "":
		return "", fmt.Errorf("%w: create cannot name an id", entities.ErrInvalidArgument)
	case action != entities.ActionCreate && change.ID == "":
		return "", fmt.Errorf("%w: %s requires an id", entities.ErrInvalidArgument, action)
	}
	return action, nil
}

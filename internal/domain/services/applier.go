package services

import (
	"context"
	"fmt"

	"github.com/ersonp/draft-core/internal/domain/entities"
)

// Apply writes one draft to the record store. A create links the draft to
// the record it produced so later drafts that reference it can resolve.
// Store errors are returned as they are so the approval error keeps the
// driver's detail. The returned record is nil when an *_if_exists method
// skipped a missing target.
func (s *ApprovalService) Apply(ctx context.Context, d *entities.Draft) (*entities.Record, error) {
	rt, err := s.types.Get(d.TargetType)
	if err != nil {
		return nil, err
	}
	values, err := s.serializer.NewValuesForDraft(ctx, d)
	if err != nil {
		return nil, err
	}
	columns, err := s.serializer.ColumnsFor(rt, values)
	if err != nil {
		return nil, err
	}
	opts := d.EffectiveOptions()

	switch d.Action {
	case entities.ActionCreate:
		return s.applyCreate(ctx, rt, d, opts.Create(), columns)
	case entities.ActionUpdate:
		return s.applyUpdate(ctx, rt, d, opts.Update(), columns)
	case entities.ActionDelete:
		return s.applyDelete(ctx, rt, d, opts.Delete())
	default:
		return nil, fmt.Errorf("%w: unknown action %q on %s", entities.ErrInvalidArgument, d.Action, d)
	}
}

func (s *ApprovalService) applyCreate(
	ctx context.Context,
	rt *entities.RecordType,
	d *entities.Draft,
	method entities.CreateMethod,
	columns map[string]any,
) (*entities.Record, error) {
	var rec *entities.Record
	switch method {
	case entities.CreateFindOrCreate:
		existing, err := s.records.FindBy(ctx, rt, columns)
		if err != nil {
			return nil, err
		}
		rec = existing
	case entities.CreateStrict:
	default:
		return nil, fmt.Errorf("%w: unknown create_method %q", entities.ErrInvalidArgument, method)
	}

	if rec == nil {
		id, err := s.records.Insert(ctx, rt, columns)
		if err != nil {
			return nil, err
		}
		rec = entities.LoadRecord(rt.Name, id, columns)
	}

	if err := s.txns.store.LinkDraftTarget(ctx, d.ID, rec.ID); err != nil {
		return nil, fmt.Errorf("linking %s to %s: %w", d, rec.ID, err)
	}
	d.TargetID = rec.ID
	return rec, nil
}

func (s *ApprovalService) applyUpdate(
	ctx context.Context,
	rt *entities.RecordType,
	d *entities.Draft,
	method entities.UpdateMethod,
	columns map[string]any,
) (*entities.Record, error) {
	if method != entities.UpdateStrict && method != entities.UpdateIfExists {
		return nil, fmt.Errorf("%w: unknown update_method %q", entities.ErrInvalidArgument, method)
	}

	target, err := s.loadTarget(ctx, rt, d)
	if err != nil {
		return nil, err
	}
	if target == nil {
		if method == entities.UpdateIfExists {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", entities.ErrNoTarget, d)
	}

	if len(columns) > 0 {
		if err := s.records.Update(ctx, rt, target.ID, columns); err != nil {
			return nil, err
		}
	}
	for name, v := range columns {
		target.Set(name, v)
	}
	target.MarkPersisted(target.ID)
	return target, nil
}

func (s *ApprovalService) applyDelete(
	ctx context.Context,
	rt *entities.RecordType,
	d *entities.Draft,
	method entities.DeleteMethod,
) (*entities.Record, error) {
	if method != entities.DeleteStrict && method != entities.DeleteIfExists {
		return nil, fmt.Errorf("%w: unknown delete_method %q", entities.ErrInvalidArgument, method)
	}

	target, err := s.loadTarget(ctx, rt, d)
	if err != nil {
		return nil, err
	}
	if target == nil {
		if method == entities.DeleteIfExists {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", entities.ErrNoTarget, d)
	}

	if _, err := s.records.Delete(ctx, rt, target.ID); err != nil {
		return nil, err
	}
	return target, nil
}

func (s *ApprovalService) loadTarget(ctx context.Context, rt *entities.RecordType, d *entities.Draft) (*entities.Record, error) {
	if !d.HasTarget() {
		return nil, nil
	}
	return s.records.Find(ctx, rt, d.TargetID)
}

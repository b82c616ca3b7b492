package entities

import (
	"fmt"
	"time"
)

// Action is the kind of mutation a draft describes. The values are written
// to the database and cannot change without migrating existing drafts.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ParseAction converts a stored or user supplied string to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, s)
	}
	return a, nil
}

// Draft is one pending create, update or delete against one target record.
type Draft struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"draft_transaction_id"`
	TargetType    string    `json:"target_type"`
	TargetID      string    `json:"target_id,omitempty"` // empty until a create draft is applied
	Action        Action    `json:"action_type"`
	Changes       ChangeSet `json:"change_set"`
	Options       *Options  `json:"options,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (d *Draft) IsCreate() bool { return d.Action == ActionCreate }
func (d *Draft) IsUpdate() bool { return d.Action == ActionUpdate }
func (d *Draft) IsDelete() bool { return d.Action == ActionDelete }

// HasTarget reports whether the draft is linked to a concrete record.
func (d *Draft) HasTarget() bool {
	return d.TargetID != ""
}

// Ref returns the forward reference other drafts use to point at this one.
func (d *Draft) Ref() Ref {
	return Ref{Type: DraftRefType, ID: d.ID}
}

// TargetRef returns a reference to the concrete target, or nil when the
// draft has not been linked to one.
func (d *Draft) TargetRef() *Ref {
	if !d.HasTarget() {
		return nil
	}
	return &Ref{Type: d.TargetType, ID: d.TargetID}
}

// EffectiveOptions returns the draft options, never nil.
func (d *Draft) EffectiveOptions() Options {
	if d.Options == nil {
		return Options{}
	}
	return *d.Options
}

func (d *Draft) String() string {
	if d.HasTarget() {
		return fmt.Sprintf("Draft %s (%s %s:%s)", d.ID, d.Action, d.TargetType, d.TargetID)
	}
	return fmt.Sprintf("Draft %s (%s new %s)", d.ID, d.Action, d.TargetType)
}

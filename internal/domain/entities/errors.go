package entities

import (
	"errors"
	"fmt"
)

// Error families. Every specific error below wraps exactly one of these, so
// callers can match a whole family with errors.Is.
var (
	ErrDraftTransaction    = errors.New("draft transaction error")
	ErrDraftSave           = errors.New("draft save error")
	ErrChangeSerialization = errors.New("change serialization error")
	ErrApplyDraftChanges   = errors.New("apply draft changes error")
)

// ErrInvalidArgument is returned for caller mistakes such as an unknown action
// or option value, or a missing record.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrUnknownType is returned when a type name is not registered.
var ErrUnknownType = errors.New("unknown record type")

// ErrRecordNotFound is returned when a referenced record cannot be loaded.
var ErrRecordNotFound = errors.New("record not found")

// ErrTransactionNotFound is returned when a transaction id does not exist.
var ErrTransactionNotFound = errors.New("draft transaction not found")

// Transaction errors.
var (
	ErrNestedTransaction   = fmt.Errorf("%w: nested draft transaction", ErrDraftTransaction)
	ErrNoActiveTransaction = fmt.Errorf("%w: no active draft transaction", ErrDraftTransaction)
)

// Draft save errors.
var (
	ErrExistingDraft    = fmt.Errorf("%w: record has an existing draft", ErrDraftSave)
	ErrAlreadyPersisted = fmt.Errorf("%w: record is already persisted", ErrDraftSave)
	ErrUnpersisted      = fmt.Errorf("%w: record is not persisted", ErrDraftSave)
)

// ErrAssociationUnsaved is returned when an association points at an
// unpersisted record that has no persisted draft of its own.
var ErrAssociationUnsaved = fmt.Errorf("%w: association points to an unsaved record", ErrChangeSerialization)

// Apply errors.
var (
	ErrNoTarget             = fmt.Errorf("%w: draft has no target record", ErrApplyDraftChanges)
	ErrPriorDraftNotApplied = fmt.Errorf("%w: referenced draft has not been applied", ErrApplyDraftChanges)
)

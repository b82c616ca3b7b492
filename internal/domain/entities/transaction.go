package entities

import (
	"fmt"
	"time"
)

// Status is the review state of a draft transaction. The values are written
// to the database.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusApprovalError   Status = "approval_error"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPendingApproval,
	StatusApproved,
	StatusRejected,
	StatusApprovalError,
}

// SerializationJSON names the only change-set format currently written.
const SerializationJSON = "json"

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
}

// IsFinal reports whether a review decision has been made. Final
// transactions are never applied again.
func (s Status) IsFinal() bool {
	return s == StatusApproved || s == StatusRejected
}

// BlocksNewDrafts reports whether drafts in a transaction with this status
// still count as pending for their targets.
func (s Status) BlocksNewDrafts() bool {
	return s == StatusPendingApproval || s == StatusApprovalError
}

// Transaction groups drafts that are approved or rejected together.
type Transaction struct {
	ID            string         `json:"id"`
	Status        Status         `json:"status"`
	CreatedBy     string         `json:"created_by,omitempty"`
	ReviewedBy    string         `json:"reviewed_by,omitempty"`
	ReviewReason  string         `json:"review_reason,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExtraData     map[string]any `json:"extra_data,omitempty"`
	Serialization string         `json:"serialization"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

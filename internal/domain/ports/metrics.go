package ports

import "time"

// Outcomes reported through Metrics.
const (
	OutcomeCommitted = "committed"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeError     = "approval_error"
	OutcomeSkipped   = "skipped"
)

// Metrics records workflow events.
type Metrics interface {
	// DraftWritten counts a persisted draft by action.
	DraftWritten(action string)

	// TransactionClosed counts the end of a draft transaction scope.
	TransactionClosed(outcome string)

	// ReviewFinished counts an approve or reject call and its duration.
	ReviewFinished(outcome string, elapsed time.Duration)
}

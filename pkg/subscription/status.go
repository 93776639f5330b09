package subscription

type Status string

const (
	StatusInactive              Status = "inactive"
	StatusActive                Status = "active"
	StatusPastDue               Status = "past_due"
	StatusCancellationRequested Status = "cancellation_requested"
	StatusCanceled              Status = "canceled"
)

// Billable statuses hold a seat on a remote subscription item.
func (s Status) Billable() bool {
	return s == StatusActive || s == StatusPastDue
}

func (s Status) Cancelling() bool {
	return s == StatusCancellationRequested || s == StatusCanceled
}

// PenaltyType labels entries in the penalty ledger.
type PenaltyType string

const PenaltyReenrollment PenaltyType = "reenrollment"

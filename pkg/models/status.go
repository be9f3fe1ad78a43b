package models

// Status represents the settlement phase of a payment intent.
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusWaitingForFunding Status = "WAITING_FOR_FUNDING"
	StatusFundingSeen       Status = "FUNDING_SEEN"
	StatusFunded            Status = "FUNDED"
	StatusPrivacyPending    Status = "PRIVACY_PENDING"
	StatusPrivacyDone       Status = "PRIVACY_DONE"
	StatusPayoutPending     Status = "PAYOUT_PENDING"
	StatusPaid              Status = "PAID"
	StatusError             Status = "ERROR"
)

// statusRank orders the forward ladder. ERROR is outside the ladder and
// reachable from any non-terminal status.
var statusRank = map[Status]int{
	StatusCreated:           0,
	StatusWaitingForFunding: 1,
	StatusFundingSeen:       2,
	StatusFunded:            3,
	StatusPrivacyPending:    4,
	StatusPrivacyDone:       5,
	StatusPayoutPending:     6,
	StatusPaid:              7,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	if s == StatusError {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusError
}

// CanTransitionTo reports whether the ladder permits moving from s to
// next: one step forward, or to ERROR from any non-terminal status.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusError {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

// External maps an internal status to the committed client-facing wire
// value. Internal sub-phases between funding confirmation and payout are
// all reported as FUNDED; the pre-finality FUNDING_SEEN phase is still
// WAITING_FOR_FUNDING from the client's point of view.
func (s Status) External() Status {
	switch s {
	case StatusFundingSeen:
		return StatusWaitingForFunding
	case StatusFunded, StatusPrivacyPending, StatusPrivacyDone, StatusPayoutPending:
		return StatusFunded
	default:
		return s
	}
}

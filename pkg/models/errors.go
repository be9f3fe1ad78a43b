package models

import (
	"errors"
	"fmt"
	"time"
)

// Reason codes stored on intents that reach ERROR.
const (
	ReasonUnderfunded        = "underfunded"
	ReasonOverfunded         = "overfunded"
	ReasonFundingNotObserved = "funding not observed"
	ReasonTimeout            = "timeout"
	ReasonCancelled          = "cancelled"
	ReasonPrivacyRelay       = "privacy relay failed"
	ReasonPayout             = "payout failed"
	ReasonInvalidRecipient   = "invalid recipient"
)

// ErrNotFound is returned when an intent id is unknown to the store.
var ErrNotFound = errors.New("payment intent not found")

// ErrInvalidTransition is returned when a requested transition is not on
// the ladder, including any attempt to move out of PAID or ERROR.
var ErrInvalidTransition = errors.New("invalid status transition")

// ValidationError reports malformed createIntent input. No state change.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Msg)
}

// UnsupportedAssetError reports a (payAsset, destAsset) pair with no route.
type UnsupportedAssetError struct {
	PayAsset  string
	DestAsset string
}

func (e *UnsupportedAssetError) Error() string {
	return fmt.Sprintf("no route from %s to %s", e.PayAsset, e.DestAsset)
}

// ConflictError reports an attempt to overwrite a write-once field with
// a different value.
type ConflictError struct {
	Field    string
	Existing string
	Attempt  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already set to %s, refusing %s", e.Field, e.Existing, e.Attempt)
}

// StaleStateError reports a lost compare-and-swap race: the intent was
// no longer in the status the caller expected. Callers refetch and then
// either stop or retry, depending on whether the new state supersedes
// their action.
type StaleStateError struct {
	ID       string
	Expected Status
	Actual   Status
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("intent %s is %s, expected %s", e.ID, e.Actual, e.Expected)
}

// UnderfundedError reports a confirmed funding amount below the quote.
type UnderfundedError struct {
	Required string
	Received string
}

func (e *UnderfundedError) Error() string {
	return fmt.Sprintf("underfunded: received %s, required %s", e.Received, e.Required)
}

// OverfundedError reports a confirmed funding amount above tolerance.
type OverfundedError struct {
	Required string
	Received string
}

func (e *OverfundedError) Error() string {
	return fmt.Sprintf("overfunded: received %s, required %s", e.Received, e.Required)
}

// PrivacyRelayError reports a shielded pool operation that failed past
// its retry bound.
type PrivacyRelayError struct {
	Op  string
	Err error
}

func (e *PrivacyRelayError) Error() string {
	return fmt.Sprintf("privacy relay %s failed: %v", e.Op, e.Err)
}

func (e *PrivacyRelayError) Unwrap() error { return e.Err }

// PayoutError reports a destination-leg failure past its retry bound.
type PayoutError struct {
	Err error
}

func (e *PayoutError) Error() string { return fmt.Sprintf("payout failed: %v", e.Err) }

func (e *PayoutError) Unwrap() error { return e.Err }

// TimeoutError reports a phase that exceeded its maximum dwell time.
type TimeoutError struct {
	Phase Status
	Dwell time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("phase %s exceeded max dwell time (%s)", e.Phase, e.Dwell)
}

package models

import (
	"time"
)

// PaymentIntent is the durable record of a requested private cross-chain
// payment and its negotiated terms. Intents are never deleted; they are
// retained as an append-only settlement and audit record.
type PaymentIntent struct {
	ID               string    `json:"id"`
	Recipient        string    `json:"recipient"`
	DestAsset        string    `json:"dest_asset"`
	DestAmount       string    `json:"dest_amount"`
	PayAsset         string    `json:"pay_asset"`
	CollectorAddress string    `json:"collector_address"`
	BaseAmount       string    `json:"base_amount"`
	Fee              string    `json:"fee"`
	AmountWithFee    string    `json:"amount_with_fee"`
	FundingTxHash    string    `json:"funding_tx_hash,omitempty"`
	PrivacyBurnID    string    `json:"privacy_burn_id,omitempty"`
	PrivacyIssueID   string    `json:"privacy_issue_id,omitempty"`
	PayoutTxHash     string    `json:"payout_tx_hash,omitempty"`
	Status           Status    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	RefundEligible   bool      `json:"refund_eligible,omitempty"`
	Timeline         []Phase   `json:"timeline"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Phase records when the intent entered a settlement phase.
type Phase struct {
	Status    Status    `json:"status"`
	EnteredAt time.Time `json:"entered_at"`
}

// EnteredPhaseAt returns the time the intent last entered the given
// status, and whether it ever did.
func (p *PaymentIntent) EnteredPhaseAt(s Status) (time.Time, bool) {
	for i := len(p.Timeline) - 1; i >= 0; i-- {
		if p.Timeline[i].Status == s {
			return p.Timeline[i].EnteredAt, true
		}
	}
	return time.Time{}, false
}

// Clone returns a deep copy so callers can never mutate store state
// through a returned snapshot.
func (p *PaymentIntent) Clone() *PaymentIntent {
	cp := *p
	cp.Timeline = make([]Phase, len(p.Timeline))
	copy(cp.Timeline, p.Timeline)
	return &cp
}

// Evidence carries the write-once artifacts recorded alongside a phase
// transition. Zero-valued fields are left untouched.
type Evidence struct {
	PrivacyBurnID  string
	PrivacyIssueID string
	PayoutTxHash   string
	Reason         string
	RefundEligible bool
}

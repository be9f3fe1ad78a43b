// Package status projects internal intent state onto the committed
// client-facing view. The projection is pure: it never mutates the
// intent and never exposes internal sub-phases or pool artifacts.
package status

import (
	"time"

	"github.com/zuripay/zuri-settler/pkg/models"
)

// View is the client-facing snapshot of a payment intent.
type View struct {
	ID               string       `json:"id"`
	Status           models.Status `json:"status"`
	Recipient        string       `json:"recipient"`
	DestAsset        string       `json:"dest_asset"`
	DestAmount       string       `json:"dest_amount"`
	PayAsset         string       `json:"pay_asset"`
	CollectorAddress string       `json:"collector_address"`
	BaseAmount       string       `json:"base_amount"`
	AmountWithFee    string       `json:"amount_with_fee"`
	Fee              string       `json:"fee"`
	FundingTxHash    string       `json:"funding_tx_hash,omitempty"`
	PayoutTxHash     string       `json:"payout_tx_hash,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	RefundEligible   bool         `json:"refund_eligible,omitempty"`
	Timeline         []Entry      `json:"timeline"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Entry is one externally visible phase change.
type Entry struct {
	Status    models.Status `json:"status"`
	EnteredAt time.Time     `json:"entered_at"`
}

// Project builds the external view of an intent. Internal sub-phases
// collapse to their external status, and consecutive timeline entries
// that collapse to the same value merge into the first occurrence.
func Project(intent *models.PaymentIntent) View {
	return View{
		ID:               intent.ID,
		Status:           intent.Status.External(),
		Recipient:        intent.Recipient,
		DestAsset:        intent.DestAsset,
		DestAmount:       intent.DestAmount,
		PayAsset:         intent.PayAsset,
		CollectorAddress: intent.CollectorAddress,
		BaseAmount:       intent.BaseAmount,
		AmountWithFee:    intent.AmountWithFee,
		Fee:              intent.Fee,
		FundingTxHash:    intent.FundingTxHash,
		PayoutTxHash:     intent.PayoutTxHash,
		Reason:           intent.Reason,
		RefundEligible:   intent.RefundEligible,
		Timeline:         projectTimeline(intent.Timeline),
		CreatedAt:        intent.CreatedAt,
		UpdatedAt:        intent.UpdatedAt,
	}
}

func projectTimeline(timeline []models.Phase) []Entry {
	out := make([]Entry, 0, len(timeline))
	for _, phase := range timeline {
		external := phase.Status.External()
		if n := len(out); n > 0 && out[n-1].Status == external {
			continue
		}
		out = append(out, Entry{Status: external, EnteredAt: phase.EnteredAt})
	}
	return out
}

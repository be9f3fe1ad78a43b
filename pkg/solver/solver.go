// Package solver talks to the external liquidity path that fulfills the
// destination-chain leg. The solver recognizes the intent id as an
// idempotency key, which is what makes crash-and-retry safe against
// double payout.
package solver

import (
	"context"
)

// OrderState is the solver's view of a payout order.
type OrderState string

const (
	OrderPending   OrderState = "pending"
	OrderSubmitted OrderState = "submitted"
	OrderConfirmed OrderState = "confirmed"
	OrderFailed    OrderState = "failed"
	OrderRejected  OrderState = "rejected"
)

// PayoutRequest asks the solver to deliver amount of asset to recipient.
// IdempotencyKey is the intent id; resubmitting with the same key must
// return the original order rather than creating a second payout.
type PayoutRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	Recipient      string `json:"recipient"`
	Asset          string `json:"asset"`
	Amount         string `json:"amount"`
}

// Order is the solver's record of a payout.
type Order struct {
	ID     string     `json:"id"`
	TxHash string     `json:"tx_hash,omitempty"`
	State  OrderState `json:"state"`
	Reason string     `json:"reason,omitempty"`
}

// Client is the payout solver capability.
type Client interface {
	// SubmitPayout places a payout order. Idempotent on IdempotencyKey.
	SubmitPayout(ctx context.Context, req PayoutRequest) (Order, error)

	// GetOrder fetches the order previously submitted under the key.
	GetOrder(ctx context.Context, idempotencyKey string) (Order, error)
}

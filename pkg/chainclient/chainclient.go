// Package chainclient provides chain access as a capability interface:
// the workers only depend on Provider, bound either to a real node
// client or to the deterministic fake used by tests.
package chainclient

import (
	"context"

	"github.com/shopspring/decimal"
)

// TxState is the observed lifecycle state of a transaction.
type TxState string

const (
	TxPending   TxState = "pending"
	TxConfirmed TxState = "confirmed"
	TxNotFound  TxState = "not_found"
)

// TxStatus is a chain-confirmed view of a transaction. Amount is in the
// chain's native display unit.
type TxStatus struct {
	State         TxState
	Amount        decimal.Decimal
	To            string
	Confirmations uint64
}

// Provider is the per-chain-family capability the orchestrator needs.
// The core trusts only what a Provider reports; client claims are hints.
type Provider interface {
	// SubmitTransaction broadcasts a signed transaction and returns its hash.
	SubmitTransaction(ctx context.Context, signed []byte) (string, error)

	// TransactionStatus reports the current observed state of a transaction.
	TransactionStatus(ctx context.Context, txHash string) (TxStatus, error)

	// ValidateAddress reports whether the address is well formed for the chain.
	ValidateAddress(addr string) bool
}

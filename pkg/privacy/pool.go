// Package privacy models the shielded pool that breaks on-chain linkage
// between funding and payout. The orchestrator only depends on the
// burn/issue/verify contract; transaction crafting and anonymity-set
// sizing are the pool's own business.
package privacy

import (
	"context"

	"github.com/shopspring/decimal"
)

// OpState is the lifecycle state of an asynchronous pool operation.
// Submission is never settlement: a dependent phase may proceed only
// once the operation reports done.
type OpState string

const (
	OpPending   OpState = "pending"
	OpExecuting OpState = "executing"
	OpDone      OpState = "done"
	OpFailed    OpState = "failed"
)

// Pool is the shielded pool capability.
type Pool interface {
	// Burn moves value from the collector identified by ref into the
	// shielded pool and returns the asynchronous operation id.
	Burn(ctx context.Context, ref string, amount decimal.Decimal) (string, error)

	// Issue draws value out of the pool toward destRef to seed the
	// payout leg and returns the asynchronous operation id.
	Issue(ctx context.Context, ref, destRef string, amount decimal.Decimal) (string, error)

	// OperationStatus reports the settlement state of a burn or issue.
	OperationStatus(ctx context.Context, id string) (OpState, error)
}

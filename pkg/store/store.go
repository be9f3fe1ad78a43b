// Package store holds the durable record of payment intents. The single
// mutation primitive for settlement progress is AdvancePhase, an atomic
// compare-and-swap on the intent status: every downstream worker goes
// through it, so racing workers never corrupt state and exactly one wins
// each transition.
package store

import (
	"context"

	"github.com/zuripay/zuri-settler/pkg/models"
)

// Store is the durable intent store contract. Any backend that keeps the
// CAS semantics of AdvancePhase satisfies it.
type Store interface {
	// Create persists a new intent in CREATED. The collector address
	// must be globally unique across all intents ever created.
	Create(ctx context.Context, intent *models.PaymentIntent) error

	// Get returns a snapshot of the intent.
	Get(ctx context.Context, id string) (*models.PaymentIntent, error)

	// AttachFundingTx records the client-reported funding transaction
	// hash and moves CREATED intents to WAITING_FOR_FUNDING. Idempotent
	// for a repeated identical hash; a differing hash is a
	// ConflictError and leaves state unchanged. The hash is a hint that
	// triggers on-chain verification, never a confirmation by itself.
	AttachFundingTx(ctx context.Context, id, txHash string) (*models.PaymentIntent, error)

	// AdvancePhase transitions the intent from expectedFrom to to,
	// recording evidence, and fails with StaleStateError if the current
	// status differs from expectedFrom. Transitions out of PAID or
	// ERROR, and any move not on the ladder, fail with
	// ErrInvalidTransition.
	AdvancePhase(ctx context.Context, id string, expectedFrom, to models.Status, ev models.Evidence) (*models.PaymentIntent, error)

	// RecordEvidence writes evidence fields without changing status,
	// guarded by the same CAS discipline: it fails with StaleStateError
	// unless the current status equals expected. Used for mid-phase
	// artifacts such as the issue id recorded while PRIVACY_PENDING.
	RecordEvidence(ctx context.Context, id string, expected models.Status, ev models.Evidence) (*models.PaymentIntent, error)

	// ListByStatus returns snapshots of all intents currently in any of
	// the given statuses.
	ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.PaymentIntent, error)

	// Ping reports backend health.
	Ping(ctx context.Context) error
}

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zuripay/zuri-settler/pkg/models"
)

// MemStore is an in-memory Store. It is the default backend when no
// database is configured and the backend used by tests.
type MemStore struct {
	mu         sync.RWMutex
	intents    map[string]*models.PaymentIntent
	collectors map[string]string // collector address -> intent id
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		intents:    make(map[string]*models.PaymentIntent),
		collectors: make(map[string]string),
	}
}

func (m *MemStore) Create(_ context.Context, intent *models.PaymentIntent) error {
	if intent.ID == "" {
		return &models.ValidationError{Field: "id", Msg: "must not be empty"}
	}
	if intent.CollectorAddress == "" {
		return &models.ValidationError{Field: "collector_address", Msg: "must not be empty"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.intents[intent.ID]; exists {
		return &models.ConflictError{Field: "id", Existing: intent.ID, Attempt: intent.ID}
	}
	if owner, used := m.collectors[intent.CollectorAddress]; used {
		return &models.ConflictError{Field: "collector_address", Existing: owner, Attempt: intent.ID}
	}

	now := time.Now().UTC()
	rec := intent.Clone()
	rec.Status = models.StatusCreated
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Timeline = []models.Phase{{Status: models.StatusCreated, EnteredAt: now}}

	m.intents[rec.ID] = rec
	m.collectors[rec.CollectorAddress] = rec.ID
	*intent = *rec.Clone()
	return nil
}

func (m *MemStore) Get(_ context.Context, id string) (*models.PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.intents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemStore) AttachFundingTx(_ context.Context, id, txHash string) (*models.PaymentIntent, error) {
	if txHash == "" {
		return nil, &models.ValidationError{Field: "funding_tx_hash", Msg: "must not be empty"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.intents[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	// Repeated identical hash is a no-op regardless of how far
	// settlement has progressed since.
	if rec.FundingTxHash == txHash {
		return rec.Clone(), nil
	}
	if rec.FundingTxHash != "" {
		return nil, &models.ConflictError{Field: "funding_tx_hash", Existing: rec.FundingTxHash, Attempt: txHash}
	}
	if rec.Status != models.StatusCreated {
		return nil, &models.StaleStateError{ID: id, Expected: models.StatusCreated, Actual: rec.Status}
	}

	rec.FundingTxHash = txHash
	m.enterPhase(rec, models.StatusWaitingForFunding)
	return rec.Clone(), nil
}

func (m *MemStore) AdvancePhase(_ context.Context, id string, expectedFrom, to models.Status, ev models.Evidence) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.intents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if rec.Status != expectedFrom {
		return nil, &models.StaleStateError{ID: id, Expected: expectedFrom, Actual: rec.Status}
	}
	if !expectedFrom.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, expectedFrom, to)
	}
	if err := applyEvidence(rec, ev); err != nil {
		return nil, err
	}

	m.enterPhase(rec, to)
	return rec.Clone(), nil
}

func (m *MemStore) RecordEvidence(_ context.Context, id string, expected models.Status, ev models.Evidence) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.intents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if rec.Status != expected {
		return nil, &models.StaleStateError{ID: id, Expected: expected, Actual: rec.Status}
	}
	if err := applyEvidence(rec, ev); err != nil {
		return nil, err
	}

	rec.UpdatedAt = touch(rec.UpdatedAt)
	return rec.Clone(), nil
}

func (m *MemStore) ListByStatus(_ context.Context, statuses ...models.Status) ([]*models.PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[models.Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var out []*models.PaymentIntent
	for _, rec := range m.intents {
		if wanted[rec.Status] {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (m *MemStore) Ping(context.Context) error { return nil }

// enterPhase moves the record to the new status and appends the timeline
// entry. Callers hold the write lock.
func (m *MemStore) enterPhase(rec *models.PaymentIntent, to models.Status) {
	now := touch(rec.UpdatedAt)
	rec.Status = to
	rec.UpdatedAt = now
	rec.Timeline = append(rec.Timeline, models.Phase{Status: to, EnteredAt: now})
}

// touch returns the current time, clamped so UpdatedAt never moves
// backwards even if the wall clock does.
func touch(prev time.Time) time.Time {
	now := time.Now().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}

// applyEvidence writes the non-zero evidence fields, enforcing that once
// set they never change.
func applyEvidence(rec *models.PaymentIntent, ev models.Evidence) error {
	if ev.PrivacyBurnID != "" && rec.PrivacyBurnID != "" && rec.PrivacyBurnID != ev.PrivacyBurnID {
		return &models.ConflictError{Field: "privacy_burn_id", Existing: rec.PrivacyBurnID, Attempt: ev.PrivacyBurnID}
	}
	if ev.PrivacyIssueID != "" && rec.PrivacyIssueID != "" && rec.PrivacyIssueID != ev.PrivacyIssueID {
		return &models.ConflictError{Field: "privacy_issue_id", Existing: rec.PrivacyIssueID, Attempt: ev.PrivacyIssueID}
	}
	if ev.PayoutTxHash != "" && rec.PayoutTxHash != "" && rec.PayoutTxHash != ev.PayoutTxHash {
		return &models.ConflictError{Field: "payout_tx_hash", Existing: rec.PayoutTxHash, Attempt: ev.PayoutTxHash}
	}

	if ev.PrivacyBurnID != "" {
		rec.PrivacyBurnID = ev.PrivacyBurnID
	}
	if ev.PrivacyIssueID != "" {
		rec.PrivacyIssueID = ev.PrivacyIssueID
	}
	if ev.PayoutTxHash != "" {
		rec.PayoutTxHash = ev.PayoutTxHash
	}
	if ev.Reason != "" && rec.Reason == "" {
		rec.Reason = ev.Reason
	}
	if ev.RefundEligible {
		rec.RefundEligible = true
	}
	return nil
}

// Package relay drives confirmed funding through the shielded pool. For
// each funded intent it burns the collected value into the pool, waits
// for settlement, then issues the payout amount back out toward the
// dispatch account. The burn and issue are decorrelated in time so the
// two legs cannot be trivially linked by timing.
package relay

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zuripay/zuri-settler/pkg/logger"
	"github.com/zuripay/zuri-settler/pkg/metrics"
	"github.com/zuripay/zuri-settler/pkg/models"
	"github.com/zuripay/zuri-settler/pkg/privacy"
	"github.com/zuripay/zuri-settler/pkg/store"
)

// errOpFailed marks a pool operation that settled as failed.
var errOpFailed = errors.New("pool operation reported failed")

// IssuePolicy decides when the issue leg may follow a settled burn.
// Pluggable so deployments can trade latency for a larger mixing window.
type IssuePolicy interface {
	ReadyToIssue(intent *models.PaymentIntent, burnSettledAt time.Time) bool
}

// FixedDelayPolicy releases the issue after a fixed minimum delay.
type FixedDelayPolicy struct {
	MinDelay time.Duration
}

func (p FixedDelayPolicy) ReadyToIssue(_ *models.PaymentIntent, burnSettledAt time.Time) bool {
	return time.Since(burnSettledAt) >= p.MinDelay
}

// Config tunes the privacy relay.
type Config struct {
	PollInterval time.Duration

	// BackoffBase is the base delay for exponential submission backoff.
	BackoffBase time.Duration

	// MaxAttempts bounds burn and issue submissions per intent.
	MaxAttempts int

	// IssueDestRef is the pool-side reference the issue leg pays toward,
	// funding the dispatch account.
	IssueDestRef string
}

// Relay is the shielded pool worker.
type Relay struct {
	st     store.Store
	pool   privacy.Pool
	policy IssuePolicy
	cfg    Config
	logger logger.Logger

	mu sync.Mutex
	// locks serializes pool submissions per debited account: the
	// intent's collector for the burn leg, the shared pool account for
	// the issue leg. Overlapping sweeps never race on the same account.
	locks map[string]*sync.Mutex
	// attempts counts submission failures per intent and leg.
	attempts map[string]int
	// nextTry holds the backoff deadline per intent and leg.
	nextTry map[string]time.Time
	// burnSettledAt anchors the issue delay. Lost on restart, in which
	// case the delay restarts from the next observation, never shortens.
	burnSettledAt map[string]time.Time
}

// NewRelay creates a privacy relay worker.
func NewRelay(st store.Store, pool privacy.Pool, policy IssuePolicy, cfg Config, log logger.Logger) *Relay {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if policy == nil {
		policy = FixedDelayPolicy{}
	}
	return &Relay{
		st:            st,
		pool:          pool,
		policy:        policy,
		cfg:           cfg,
		logger:        log,
		locks:         make(map[string]*sync.Mutex),
		attempts:      make(map[string]int),
		nextTry:       make(map[string]time.Time),
		burnSettledAt: make(map[string]time.Time),
	}
}

// Start runs the polling loop until the context is cancelled.
func (r *Relay) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.InfoWithScope(logger.Pool, "Privacy relay started (interval %s)", r.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoWithScope(logger.Pool, "Privacy relay shutting down")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep processes every intent in the privacy leg once.
func (r *Relay) Sweep(ctx context.Context) {
	intents, err := r.st.ListByStatus(ctx, models.StatusFunded, models.StatusPrivacyPending)
	if err != nil {
		r.logger.ErrorWithScope(logger.Pool, "Relay sweep: failed to list intents: %v", err)
		return
	}

	for _, intent := range intents {
		lock := r.accountLock(r.lockKey(intent))
		lock.Lock()
		err := r.process(ctx, intent)
		lock.Unlock()
		if err != nil {
			r.logger.ErrorWithScope(logger.Pool, "Relay processing for intent %s failed: %v", intent.ID, err)
		}
	}
}

func (r *Relay) process(ctx context.Context, intent *models.PaymentIntent) error {
	// Claim funded intents first. The claim is the CAS; the pool
	// submission follows under PRIVACY_PENDING, so a crash between the
	// two leaves a resumable claimed intent rather than an unclaimed
	// burn.
	if intent.Status == models.StatusFunded {
		claimed, err := r.st.AdvancePhase(ctx, intent.ID, models.StatusFunded, models.StatusPrivacyPending, models.Evidence{})
		if err != nil {
			if _, stale := err.(*models.StaleStateError); stale {
				metrics.StaleCASLosses.WithLabelValues("relay").Inc()
				return nil
			}
			return err
		}
		intent = claimed
	}

	switch {
	case intent.PrivacyBurnID == "":
		return r.submitBurn(ctx, intent)
	case intent.PrivacyIssueID == "":
		return r.awaitBurnThenIssue(ctx, intent)
	default:
		return r.awaitIssue(ctx, intent)
	}
}

// submitBurn moves the collected value into the shielded pool.
func (r *Relay) submitBurn(ctx context.Context, intent *models.PaymentIntent) error {
	if !r.attemptDue(intent.ID, "burn") {
		return nil
	}

	amount, err := decimal.NewFromString(intent.AmountWithFee)
	if err != nil {
		return err
	}

	opID, err := r.pool.Burn(ctx, intent.CollectorAddress, amount)
	if err != nil {
		// Funds are still at the collector, so a permanent failure here
		// leaves the client refund eligible.
		return r.submissionFailed(ctx, intent, "burn", true, err)
	}
	r.clearAttempts(intent.ID, "burn")

	if _, err := r.st.RecordEvidence(ctx, intent.ID, models.StatusPrivacyPending, models.Evidence{PrivacyBurnID: opID}); err != nil {
		if _, stale := err.(*models.StaleStateError); stale {
			metrics.StaleCASLosses.WithLabelValues("relay").Inc()
			return nil
		}
		return err
	}

	metrics.BurnsSubmitted.Inc()
	r.logger.InfoWithScope(logger.Pool, "Burn %s submitted for intent %s (%s %s)", opID, intent.ID, amount, intent.PayAsset)
	return nil
}

// awaitBurnThenIssue polls the burn and, once it settles and the issue
// policy allows, submits the issue leg.
func (r *Relay) awaitBurnThenIssue(ctx context.Context, intent *models.PaymentIntent) error {
	settledAt, settled := r.burnSettled(intent.ID)
	if !settled {
		state, err := r.pool.OperationStatus(ctx, intent.PrivacyBurnID)
		if err != nil {
			return err
		}
		switch state {
		case privacy.OpFailed:
			// A failed pool operation never moved funds.
			r.logger.ErrorWithScope(logger.Pool, "Burn %s for intent %s failed in the pool", intent.PrivacyBurnID, intent.ID)
			return r.fail(ctx, intent, true, &models.PrivacyRelayError{Op: "burn", Err: errOpFailed})
		case privacy.OpDone:
			settledAt = r.markBurnSettled(intent.ID)
			metrics.BurnsSettled.Inc()
			r.logger.InfoWithScope(logger.Pool, "Burn %s settled for intent %s", intent.PrivacyBurnID, intent.ID)
		default:
			return nil
		}
	}

	if !r.policy.ReadyToIssue(intent, settledAt) {
		return nil
	}
	return r.submitIssue(ctx, intent)
}

// submitIssue draws the payout amount out of the pool. Only the base
// amount leaves the pool; the fee stays behind.
func (r *Relay) submitIssue(ctx context.Context, intent *models.PaymentIntent) error {
	if !r.attemptDue(intent.ID, "issue") {
		return nil
	}

	amount, err := decimal.NewFromString(intent.BaseAmount)
	if err != nil {
		return err
	}

	opID, err := r.pool.Issue(ctx, intent.ID, r.cfg.IssueDestRef, amount)
	if err != nil {
		// The burn already settled; the value is in the pool and not
		// refundable from the collector.
		return r.submissionFailed(ctx, intent, "issue", false, err)
	}
	r.clearAttempts(intent.ID, "issue")

	if _, err := r.st.RecordEvidence(ctx, intent.ID, models.StatusPrivacyPending, models.Evidence{PrivacyIssueID: opID}); err != nil {
		if _, stale := err.(*models.StaleStateError); stale {
			metrics.StaleCASLosses.WithLabelValues("relay").Inc()
			return nil
		}
		return err
	}

	metrics.IssuesSubmitted.Inc()
	r.logger.InfoWithScope(logger.Pool, "Issue %s submitted for intent %s (%s %s)", opID, intent.ID, amount, intent.PayAsset)
	return nil
}

// awaitIssue polls the issue and completes the privacy leg.
func (r *Relay) awaitIssue(ctx context.Context, intent *models.PaymentIntent) error {
	state, err := r.pool.OperationStatus(ctx, intent.PrivacyIssueID)
	if err != nil {
		return err
	}

	switch state {
	case privacy.OpFailed:
		r.logger.ErrorWithScope(logger.Pool, "Issue %s for intent %s failed in the pool", intent.PrivacyIssueID, intent.ID)
		return r.fail(ctx, intent, false, &models.PrivacyRelayError{Op: "issue", Err: errOpFailed})
	case privacy.OpDone:
		if _, err := r.st.AdvancePhase(ctx, intent.ID, models.StatusPrivacyPending, models.StatusPrivacyDone, models.Evidence{}); err != nil {
			if _, stale := err.(*models.StaleStateError); stale {
				metrics.StaleCASLosses.WithLabelValues("relay").Inc()
				return nil
			}
			return err
		}
		metrics.IssuesSettled.Inc()
		metrics.ObservePhaseExit(intent)
		r.forget(intent)
		r.logger.NoticeWithScope(logger.Pool, "Privacy leg complete for intent %s", intent.ID)
	}
	return nil
}

// submissionFailed applies the retry budget to a failed pool submission.
func (r *Relay) submissionFailed(ctx context.Context, intent *models.PaymentIntent, leg string, refundEligible bool, cause error) error {
	attempts := r.recordAttempt(intent.ID, leg)
	if attempts >= r.cfg.MaxAttempts {
		r.logger.ErrorWithScope(logger.Pool, "Intent %s %s failed after %d attempts, giving up: %v", intent.ID, leg, attempts, cause)
		return r.fail(ctx, intent, refundEligible, &models.PrivacyRelayError{Op: leg, Err: cause})
	}

	backoff := r.backoff(attempts)
	r.scheduleRetry(intent.ID, leg, backoff)
	metrics.PoolRetries.WithLabelValues(leg).Inc()
	r.logger.InfoWithScope(logger.Pool, "Retrying %s for intent %s in %s (attempt %d/%d): %v",
		leg, intent.ID, backoff, attempts, r.cfg.MaxAttempts, cause)
	return nil
}

func (r *Relay) fail(ctx context.Context, intent *models.PaymentIntent, refundEligible bool, cause error) error {
	_, err := r.st.AdvancePhase(ctx, intent.ID, models.StatusPrivacyPending, models.StatusError, models.Evidence{
		Reason:         models.ReasonPrivacyRelay,
		RefundEligible: refundEligible,
	})
	if err != nil {
		if _, stale := err.(*models.StaleStateError); stale {
			metrics.StaleCASLosses.WithLabelValues("relay").Inc()
			return nil
		}
		return err
	}
	metrics.IntentsErrored.WithLabelValues(models.ReasonPrivacyRelay).Inc()
	r.forget(intent)
	return cause
}

// backoff computes the exponential delay for the given attempt count,
// capped at two minutes.
func (r *Relay) backoff(attempts int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempts-1))) * r.cfg.BackoffBase
	if max := 2 * time.Minute; d > max {
		d = max
	}
	return d
}

// poolAccount keys the lock for the shared shielded pool account that
// every issue leg debits.
const poolAccount = "shielded-pool"

// lockKey resolves the account an intent's next pool submission debits.
func (r *Relay) lockKey(intent *models.PaymentIntent) string {
	if intent.PrivacyBurnID == "" {
		return intent.CollectorAddress
	}
	return poolAccount
}

func (r *Relay) accountLock(account string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[account]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[account] = lock
	}
	return lock
}

func (r *Relay) attemptDue(id, leg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().After(r.nextTry[id+":"+leg])
}

func (r *Relay) recordAttempt(id, leg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[id+":"+leg]++
	return r.attempts[id+":"+leg]
}

func (r *Relay) scheduleRetry(id, leg string, backoff time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextTry[id+":"+leg] = time.Now().Add(backoff)
}

func (r *Relay) clearAttempts(id, leg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, id+":"+leg)
	delete(r.nextTry, id+":"+leg)
}

func (r *Relay) burnSettled(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.burnSettledAt[id]
	return t, ok
}

func (r *Relay) markBurnSettled(id string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.burnSettledAt[id] = now
	return now
}

// forget drops per-intent bookkeeping once the intent leaves the relay.
// The collector lock goes with it; the shared pool account lock stays.
func (r *Relay) forget(intent *models.PaymentIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, intent.CollectorAddress)
	delete(r.burnSettledAt, intent.ID)
	for _, leg := range []string{"burn", "issue"} {
		delete(r.attempts, intent.ID+":"+leg)
		delete(r.nextTry, intent.ID+":"+leg)
	}
}

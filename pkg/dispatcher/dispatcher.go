// Package dispatcher fulfills the destination leg through the payout
// solver. The exactly-once discipline lives here: an intent is claimed
// into PAYOUT_PENDING by CAS before any order is submitted, and the
// solver submission is idempotent on the intent id, so a crash at any
// point resumes without a double payout. The solver's word alone never
// completes an intent: PAID requires the payout transaction confirmed
// on the destination chain.
package dispatcher

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/zuripay/zuri-settler/pkg/chainclient"
	"github.com/zuripay/zuri-settler/pkg/chains"
	"github.com/zuripay/zuri-settler/pkg/circuitbreaker"
	"github.com/zuripay/zuri-settler/pkg/logger"
	"github.com/zuripay/zuri-settler/pkg/metrics"
	"github.com/zuripay/zuri-settler/pkg/models"
	"github.com/zuripay/zuri-settler/pkg/solver"
	"github.com/zuripay/zuri-settler/pkg/store"
)

// Config tunes the payout dispatcher.
type Config struct {
	PollInterval time.Duration

	// BackoffBase is the base delay for exponential submission backoff.
	BackoffBase time.Duration

	// MaxAttempts bounds solver submissions per intent.
	MaxAttempts int

	// Confirmations required per chain family before a payout tx is
	// considered final on the destination chain.
	Confirmations map[chains.Family]uint64
}

// Dispatcher is the payout worker.
type Dispatcher struct {
	st        store.Store
	client    solver.Client
	breaker   *circuitbreaker.CircuitBreaker
	registry  *chains.Registry
	providers map[chains.Family]chainclient.Provider
	cfg       Config
	logger    logger.Logger

	mu sync.Mutex
	// submitted tracks intents whose order went out in this process.
	// Lost on restart, in which case the idempotent resubmission simply
	// returns the existing order.
	submitted map[string]bool
	attempts  map[string]int
	nextTry   map[string]time.Time
}

// NewDispatcher creates a payout dispatcher.
func NewDispatcher(st store.Store, client solver.Client, breaker *circuitbreaker.CircuitBreaker, registry *chains.Registry, providers map[chains.Family]chainclient.Provider, cfg Config, log logger.Logger) *Dispatcher {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Dispatcher{
		st:        st,
		client:    client,
		breaker:   breaker,
		registry:  registry,
		providers: providers,
		cfg:       cfg,
		logger:    log,
		submitted: make(map[string]bool),
		attempts:  make(map[string]int),
		nextTry:   make(map[string]time.Time),
	}
}

// Start runs the polling loop until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.InfoWithScope(logger.Solver, "Payout dispatcher started (interval %s)", d.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			d.logger.InfoWithScope(logger.Solver, "Payout dispatcher shutting down")
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep processes every intent in the payout leg once.
func (d *Dispatcher) Sweep(ctx context.Context) {
	intents, err := d.st.ListByStatus(ctx, models.StatusPrivacyDone, models.StatusPayoutPending)
	if err != nil {
		d.logger.ErrorWithScope(logger.Solver, "Dispatch sweep: failed to list intents: %v", err)
		return
	}

	for _, intent := range intents {
		if err := d.process(ctx, intent); err != nil {
			d.logger.ErrorWithScope(logger.Solver, "Dispatch processing for intent %s failed: %v", intent.ID, err)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, intent *models.PaymentIntent) error {
	// Claim before submit. The CAS makes this worker the only one that
	// will ever place an order for the intent.
	if intent.Status == models.StatusPrivacyDone {
		claimed, err := d.st.AdvancePhase(ctx, intent.ID, models.StatusPrivacyDone, models.StatusPayoutPending, models.Evidence{})
		if err != nil {
			if _, stale := err.(*models.StaleStateError); stale {
				metrics.StaleCASLosses.WithLabelValues("dispatcher").Inc()
				return nil
			}
			return err
		}
		intent = claimed
	}

	if d.wasSubmitted(intent.ID) {
		return d.pollOrder(ctx, intent)
	}
	return d.submitOrder(ctx, intent)
}

// submitOrder places the payout order with the solver. The intent id is
// the idempotency key, so resubmission after a crash is harmless.
func (d *Dispatcher) submitOrder(ctx context.Context, intent *models.PaymentIntent) error {
	if !d.attemptDue(intent.ID) {
		return nil
	}

	if d.breaker != nil && d.breaker.IsEnabled() && d.breaker.IsOpen() {
		d.logger.InfoWithScope(logger.Solver, "Circuit open, deferring payout for intent %s", intent.ID)
		return nil
	}

	order, err := d.client.SubmitPayout(ctx, solver.PayoutRequest{
		IdempotencyKey: intent.ID,
		Recipient:      intent.Recipient,
		Asset:          intent.DestAsset,
		Amount:         intent.DestAmount,
	})
	if err != nil {
		if d.breaker != nil {
			d.breaker.RecordFailure()
		}
		return d.submissionFailed(ctx, intent, err)
	}
	if d.breaker != nil {
		d.breaker.RecordSuccess()
	}
	d.markSubmitted(intent.ID)
	metrics.PayoutsDispatched.WithLabelValues(intent.DestAsset).Inc()
	d.logger.InfoWithScope(logger.Solver, "Payout order %s placed for intent %s (%s %s to %s)",
		order.ID, intent.ID, intent.DestAmount, intent.DestAsset, intent.Recipient)

	return d.applyOrder(ctx, intent, order)
}

// pollOrder checks on an already-submitted order.
func (d *Dispatcher) pollOrder(ctx context.Context, intent *models.PaymentIntent) error {
	order, err := d.client.GetOrder(ctx, intent.ID)
	if err != nil {
		// Transient; the next sweep polls again.
		return err
	}
	return d.applyOrder(ctx, intent, order)
}

// applyOrder projects the solver's order state onto the intent.
func (d *Dispatcher) applyOrder(ctx context.Context, intent *models.PaymentIntent, order solver.Order) error {
	switch order.State {
	case solver.OrderConfirmed:
		// The solver is only partially trusted; like a funding hint, its
		// claim counts once the destination chain confirms the tx.
		confirmed, err := d.payoutConfirmed(ctx, intent, order.TxHash)
		if err != nil {
			return err
		}
		if !confirmed {
			return nil
		}
		if _, err := d.st.AdvancePhase(ctx, intent.ID, models.StatusPayoutPending, models.StatusPaid, models.Evidence{
			PayoutTxHash: order.TxHash,
		}); err != nil {
			if _, stale := err.(*models.StaleStateError); stale {
				metrics.StaleCASLosses.WithLabelValues("dispatcher").Inc()
				return nil
			}
			return err
		}
		metrics.PayoutsConfirmed.WithLabelValues(intent.DestAsset).Inc()
		metrics.ObservePhaseExit(intent)
		d.forget(intent.ID)
		d.logger.NoticeWithScope(logger.Solver, "Intent %s paid: payout tx %s", intent.ID, order.TxHash)
		return nil

	case solver.OrderRejected:
		d.logger.ErrorWithScope(logger.Solver, "Payout order for intent %s rejected: %s", intent.ID, order.Reason)
		return d.fail(ctx, intent, models.ReasonInvalidRecipient, &models.PayoutError{Err: orderError(order)})

	case solver.OrderFailed:
		d.logger.ErrorWithScope(logger.Solver, "Payout order for intent %s failed: %s", intent.ID, order.Reason)
		return d.fail(ctx, intent, models.ReasonPayout, &models.PayoutError{Err: orderError(order)})

	default:
		// pending or submitted; keep polling
		return nil
	}
}

// payoutConfirmed checks the payout tx against the destination chain.
func (d *Dispatcher) payoutConfirmed(ctx context.Context, intent *models.PaymentIntent, txHash string) (bool, error) {
	if txHash == "" {
		return false, nil
	}
	asset, ok := d.registry.Asset(intent.DestAsset)
	if !ok {
		d.logger.ErrorWithScope(logger.Solver, "Unknown destination asset %s for intent %s, payout unverifiable", intent.DestAsset, intent.ID)
		return false, nil
	}
	provider, ok := d.providers[asset.Family]
	if !ok {
		d.logger.ErrorWithScope(logger.Solver, "No provider for chain family %s, payout for intent %s unverifiable", asset.Family, intent.ID)
		return false, nil
	}

	status, err := provider.TransactionStatus(ctx, txHash)
	if err != nil {
		// RPC trouble is transient; the next sweep checks again.
		return false, err
	}
	return status.State == chainclient.TxConfirmed &&
		status.Confirmations >= d.cfg.Confirmations[asset.Family], nil
}

// submissionFailed applies the retry budget to a failed submission.
func (d *Dispatcher) submissionFailed(ctx context.Context, intent *models.PaymentIntent, cause error) error {
	attempts := d.recordAttempt(intent.ID)
	if attempts >= d.cfg.MaxAttempts {
		d.logger.ErrorWithScope(logger.Solver, "Payout for intent %s failed after %d attempts, giving up: %v", intent.ID, attempts, cause)
		return d.fail(ctx, intent, models.ReasonPayout, &models.PayoutError{Err: cause})
	}

	backoff := d.backoff(attempts)
	d.scheduleRetry(intent.ID, backoff)
	metrics.PayoutRetries.WithLabelValues(intent.DestAsset).Inc()
	d.logger.InfoWithScope(logger.Solver, "Retrying payout for intent %s in %s (attempt %d/%d): %v",
		intent.ID, backoff, attempts, d.cfg.MaxAttempts, cause)
	return nil
}

// fail drives the intent to terminal ERROR. The client paid and the
// recipient received nothing, so payout failures are refund eligible.
func (d *Dispatcher) fail(ctx context.Context, intent *models.PaymentIntent, reason string, cause error) error {
	_, err := d.st.AdvancePhase(ctx, intent.ID, models.StatusPayoutPending, models.StatusError, models.Evidence{
		Reason:         reason,
		RefundEligible: true,
	})
	if err != nil {
		if _, stale := err.(*models.StaleStateError); stale {
			metrics.StaleCASLosses.WithLabelValues("dispatcher").Inc()
			return nil
		}
		return err
	}
	metrics.IntentsErrored.WithLabelValues(reason).Inc()
	d.forget(intent.ID)
	return cause
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	b := time.Duration(math.Pow(2, float64(attempts-1))) * d.cfg.BackoffBase
	if max := 2 * time.Minute; b > max {
		b = max
	}
	return b
}

func (d *Dispatcher) wasSubmitted(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted[id]
}

func (d *Dispatcher) markSubmitted(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted[id] = true
}

func (d *Dispatcher) attemptDue(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Now().After(d.nextTry[id])
}

func (d *Dispatcher) recordAttempt(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts[id]++
	return d.attempts[id]
}

func (d *Dispatcher) scheduleRetry(id string, backoff time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextTry[id] = time.Now().Add(backoff)
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.submitted, id)
	delete(d.attempts, id)
	delete(d.nextTry, id)
}

func orderError(order solver.Order) error {
	if order.Reason != "" {
		return &orderStateError{state: order.State, reason: order.Reason}
	}
	return &orderStateError{state: order.State, reason: "no reason given"}
}

type orderStateError struct {
	state  solver.OrderState
	reason string
}

func (e *orderStateError) Error() string {
	return "order " + string(e.state) + ": " + e.reason
}

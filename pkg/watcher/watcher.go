// Package watcher confirms funding on the observed chains. It owns the
// WAITING_FOR_FUNDING and FUNDING_SEEN phases: the client-reported tx
// hash is only a hint, and an intent becomes FUNDED solely on what the
// chain provider reports.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zuripay/zuri-settler/pkg/chainclient"
	"github.com/zuripay/zuri-settler/pkg/chains"
	"github.com/zuripay/zuri-settler/pkg/logger"
	"github.com/zuripay/zuri-settler/pkg/metrics"
	"github.com/zuripay/zuri-settler/pkg/models"
	"github.com/zuripay/zuri-settler/pkg/store"
)

// Config tunes the funding watcher.
type Config struct {
	// PollInterval is the default sweep cadence.
	PollInterval time.Duration

	// PollIntervals overrides the cadence per chain family, so a chain
	// with slow finality is not polled at the fast chain's rate.
	PollIntervals map[chains.Family]time.Duration

	// FundingTimeout bounds how long an attached hash may stay
	// unobserved before the intent is errored out.
	FundingTimeout time.Duration

	// Confirmations required per chain family before funding is final.
	Confirmations map[chains.Family]uint64

	// OverfundTolerance is the accepted fraction above the quote.
	OverfundTolerance decimal.Decimal
}

// Watcher polls the chains for funding transactions of open intents.
type Watcher struct {
	st        store.Store
	registry  *chains.Registry
	providers map[chains.Family]chainclient.Provider
	cfg       Config
	logger    logger.Logger
}

// NewWatcher creates a funding watcher.
func NewWatcher(st store.Store, registry *chains.Registry, providers map[chains.Family]chainclient.Provider, cfg Config, log logger.Logger) *Watcher {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Watcher{
		st:        st,
		registry:  registry,
		providers: providers,
		cfg:       cfg,
		logger:    log,
	}
}

// Start runs one polling loop per chain family, each at that family's
// cadence, until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for family := range w.providers {
		family := family
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.watchFamily(ctx, family)
		}()
	}
	wg.Wait()
	w.logger.Info("Funding watcher shutting down")
}

func (w *Watcher) watchFamily(ctx context.Context, family chains.Family) {
	interval := w.pollInterval(family)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.InfoWithScope(familyScope(family), "Funding watcher started (interval %s)", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepFamily(ctx, family)
		}
	}
}

// pollInterval resolves the sweep cadence for a chain family.
func (w *Watcher) pollInterval(family chains.Family) time.Duration {
	if interval, ok := w.cfg.PollIntervals[family]; ok && interval > 0 {
		return interval
	}
	return w.cfg.PollInterval
}

// Sweep checks every intent awaiting funding confirmation once,
// regardless of family.
func (w *Watcher) Sweep(ctx context.Context) {
	w.sweep(ctx, nil)
}

// SweepFamily checks the intents funded on one chain family once.
func (w *Watcher) SweepFamily(ctx context.Context, family chains.Family) {
	w.sweep(ctx, &family)
}

func (w *Watcher) sweep(ctx context.Context, family *chains.Family) {
	intents, err := w.st.ListByStatus(ctx, models.StatusWaitingForFunding, models.StatusFundingSeen)
	if err != nil {
		w.logger.Error("Funding sweep: failed to list intents: %v", err)
		return
	}

	for _, intent := range intents {
		if family != nil {
			asset, ok := w.registry.Asset(intent.PayAsset)
			if !ok || asset.Family != *family {
				continue
			}
		}
		if err := w.checkIntent(ctx, intent); err != nil {
			w.logger.Error("Funding check for intent %s failed: %v", intent.ID, err)
		}
	}
}

// checkIntent verifies one intent's funding transaction against the
// chain and advances or errors the intent accordingly.
func (w *Watcher) checkIntent(ctx context.Context, intent *models.PaymentIntent) error {
	asset, ok := w.registry.Asset(intent.PayAsset)
	if !ok {
		return w.fail(ctx, intent, models.ReasonFundingNotObserved, false)
	}
	provider, ok := w.providers[asset.Family]
	if !ok {
		w.logger.Error("No provider for chain family %s, intent %s stalled", asset.Family, intent.ID)
		return nil
	}

	status, err := provider.TransactionStatus(ctx, intent.FundingTxHash)
	if err != nil {
		// RPC trouble is transient; the next sweep retries.
		return err
	}

	scope := familyScope(asset.Family)

	switch status.State {
	case chainclient.TxNotFound:
		if w.waitExpired(intent) {
			w.logger.ErrorWithScope(scope, "Funding tx %s for intent %s never observed, giving up", intent.FundingTxHash, intent.ID)
			return w.fail(ctx, intent, models.ReasonFundingNotObserved, false)
		}
		return nil

	case chainclient.TxPending:
		return w.markSeen(ctx, intent, scope)

	case chainclient.TxConfirmed:
		if status.Confirmations < w.cfg.Confirmations[asset.Family] {
			return w.markSeen(ctx, intent, scope)
		}
		return w.settleFunding(ctx, intent, status, scope)
	}
	return nil
}

// markSeen moves a WAITING_FOR_FUNDING intent to FUNDING_SEEN once the
// transaction shows up in the mempool or with partial confirmations.
func (w *Watcher) markSeen(ctx context.Context, intent *models.PaymentIntent, scope logger.Scope) error {
	if intent.Status != models.StatusWaitingForFunding {
		return nil
	}
	_, err := w.st.AdvancePhase(ctx, intent.ID, models.StatusWaitingForFunding, models.StatusFundingSeen, models.Evidence{})
	if err != nil {
		if _, stale := err.(*models.StaleStateError); stale {
			metrics.StaleCASLosses.WithLabelValues("watcher").Inc()
			return nil
		}
		return err
	}
	w.logger.InfoWithScope(scope, "Funding tx %s observed for intent %s", intent.FundingTxHash, intent.ID)
	return nil
}

// settleFunding validates the confirmed transfer against the quote and
// finalizes the funding leg.
func (w *Watcher) settleFunding(ctx context.Context, intent *models.PaymentIntent, status chainclient.TxStatus, scope logger.Scope) error {
	if status.To != "" && status.To != intent.CollectorAddress {
		w.logger.ErrorWithScope(scope, "Funding tx %s for intent %s pays %s, not the collector %s",
			intent.FundingTxHash, intent.ID, status.To, intent.CollectorAddress)
		return w.fail(ctx, intent, models.ReasonFundingNotObserved, false)
	}

	required, err := decimal.NewFromString(intent.AmountWithFee)
	if err != nil {
		return err
	}

	if status.Amount.LessThan(required) {
		metrics.FundingMismatches.WithLabelValues(intent.PayAsset, "underfunded").Inc()
		w.logger.ErrorWithScope(scope, "Intent %s underfunded: received %s, required %s",
			intent.ID, status.Amount, required)
		return w.fail(ctx, intent, models.ReasonUnderfunded, true)
	}

	ceiling := required.Mul(decimal.NewFromInt(1).Add(w.cfg.OverfundTolerance))
	if status.Amount.GreaterThan(ceiling) {
		metrics.FundingMismatches.WithLabelValues(intent.PayAsset, "overfunded").Inc()
		w.logger.ErrorWithScope(scope, "Intent %s overfunded: received %s, required %s",
			intent.ID, status.Amount, required)
		return w.fail(ctx, intent, models.ReasonOverfunded, true)
	}

	// A tx that confirmed between sweeps may still be WAITING_FOR_FUNDING.
	if intent.Status == models.StatusWaitingForFunding {
		if err := w.markSeen(ctx, intent, scope); err != nil {
			return err
		}
	}

	if _, err := w.st.AdvancePhase(ctx, intent.ID, models.StatusFundingSeen, models.StatusFunded, models.Evidence{}); err != nil {
		if _, stale := err.(*models.StaleStateError); stale {
			metrics.StaleCASLosses.WithLabelValues("watcher").Inc()
			return nil
		}
		return err
	}

	metrics.FundingConfirmed.WithLabelValues(intent.PayAsset).Inc()
	metrics.ObservePhaseExit(intent)
	w.logger.NoticeWithScope(scope, "Intent %s funded: %s %s confirmed at %s",
		intent.ID, status.Amount, intent.PayAsset, intent.CollectorAddress)
	return nil
}

// waitExpired reports whether the intent has waited past the funding
// timeout since the hash was attached.
func (w *Watcher) waitExpired(intent *models.PaymentIntent) bool {
	attachedAt, ok := intent.EnteredPhaseAt(models.StatusWaitingForFunding)
	if !ok {
		attachedAt = intent.CreatedAt
	}
	return time.Since(attachedAt) > w.cfg.FundingTimeout
}

// fail drives the intent to terminal ERROR with the given reason.
func (w *Watcher) fail(ctx context.Context, intent *models.PaymentIntent, reason string, refundEligible bool) error {
	_, err := w.st.AdvancePhase(ctx, intent.ID, intent.Status, models.StatusError, models.Evidence{
		Reason:         reason,
		RefundEligible: refundEligible,
	})
	if err != nil {
		if _, stale := err.(*models.StaleStateError); stale {
			metrics.StaleCASLosses.WithLabelValues("watcher").Inc()
			return nil
		}
		return err
	}
	metrics.IntentsErrored.WithLabelValues(reason).Inc()
	return nil
}

func familyScope(family chains.Family) logger.Scope {
	switch family {
	case chains.FamilyEVM:
		return logger.EVM
	case chains.FamilySolana:
		return logger.Solana
	default:
		return logger.None
	}
}

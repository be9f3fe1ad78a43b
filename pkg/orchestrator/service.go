// Package orchestrator is the settlement core: it owns intent creation,
// funding attachment, cancellation and the client-facing status view,
// and runs the background workers that drive intents down the phase
// ladder.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zuripay/zuri-settler/pkg/chains"
	"github.com/zuripay/zuri-settler/pkg/logger"
	"github.com/zuripay/zuri-settler/pkg/metrics"
	"github.com/zuripay/zuri-settler/pkg/models"
	"github.com/zuripay/zuri-settler/pkg/status"
	"github.com/zuripay/zuri-settler/pkg/store"
)

// Worker is a background loop driven by the service.
type Worker interface {
	Start(ctx context.Context)
}

// Service is the settlement orchestrator.
type Service struct {
	st        store.Store
	registry  *chains.Registry
	allocator chains.Allocator
	workers   []Worker

	// dwellTimeouts bound time in each non-terminal phase; exceeding
	// one errors the intent out with a timeout reason.
	dwellTimeouts map[models.Status]time.Duration
	sweepInterval time.Duration

	logger logger.Logger
}

// NewService creates the orchestrator.
func NewService(st store.Store, registry *chains.Registry, allocator chains.Allocator,
	dwellTimeouts map[models.Status]time.Duration, sweepInterval time.Duration, log logger.Logger) *Service {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Service{
		st:            st,
		registry:      registry,
		allocator:     allocator,
		dwellTimeouts: dwellTimeouts,
		sweepInterval: sweepInterval,
		logger:        log,
	}
}

// AddWorker registers a background worker to be started with the service.
func (s *Service) AddWorker(w Worker) {
	s.workers = append(s.workers, w)
}

// Start launches the workers and the dwell sweeper. It returns
// immediately; everything stops when the context is cancelled.
func (s *Service) Start(ctx context.Context) {
	for _, w := range s.workers {
		go w.Start(ctx)
	}
	go s.runSweeper(ctx)
}

// CreateRequest is the input to CreateIntent.
type CreateRequest struct {
	Recipient  string `json:"recipient"`
	DestAsset  string `json:"dest_asset"`
	DestAmount string `json:"dest_amount"`
	PayAsset   string `json:"pay_asset"`
}

// CreateIntent validates the request, prices the quote, allocates a
// fresh single-use collector address and persists the intent in CREATED.
func (s *Service) CreateIntent(ctx context.Context, req CreateRequest) (status.View, error) {
	if req.Recipient == "" {
		return status.View{}, &models.ValidationError{Field: "recipient", Msg: "must not be empty"}
	}
	if req.DestAsset == "" {
		return status.View{}, &models.ValidationError{Field: "dest_asset", Msg: "must not be empty"}
	}
	if req.PayAsset == "" {
		return status.View{}, &models.ValidationError{Field: "pay_asset", Msg: "must not be empty"}
	}

	quote, err := s.registry.Quote(req.PayAsset, req.DestAsset, req.DestAmount)
	if err != nil {
		return status.View{}, err
	}
	if err := s.registry.ValidateRecipient(req.DestAsset, req.Recipient); err != nil {
		return status.View{}, err
	}

	payAsset, _ := s.registry.Asset(req.PayAsset)
	collector, err := s.allocator.Allocate(ctx, payAsset.Family)
	if err != nil {
		return status.View{}, err
	}

	now := time.Now().UTC()
	intent := &models.PaymentIntent{
		ID:               uuid.NewString(),
		Recipient:        req.Recipient,
		DestAsset:        req.DestAsset,
		DestAmount:       req.DestAmount,
		PayAsset:         req.PayAsset,
		CollectorAddress: collector,
		BaseAmount:       quote.BaseAmount.String(),
		Fee:              quote.Fee.String(),
		AmountWithFee:    quote.AmountWithFee.String(),
		Status:           models.StatusCreated,
		Timeline:         []models.Phase{{Status: models.StatusCreated, EnteredAt: now}},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.st.Create(ctx, intent); err != nil {
		return status.View{}, err
	}

	metrics.IntentsCreated.WithLabelValues(req.PayAsset, req.DestAsset).Inc()
	s.logger.Info("Intent %s created: %s %s to %s, funding %s %s at %s",
		intent.ID, req.DestAmount, req.DestAsset, req.Recipient, intent.AmountWithFee, req.PayAsset, collector)
	return status.Project(intent), nil
}

// AttachFundingTx records the client-reported funding transaction hash.
// The hash is a verification hint; funding is confirmed only by the
// chain watcher.
func (s *Service) AttachFundingTx(ctx context.Context, id, txHash string) (status.View, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return status.View{}, &models.ValidationError{Field: "tx_hash", Msg: "must not be empty"}
	}

	intent, err := s.st.AttachFundingTx(ctx, id, txHash)
	if err != nil {
		return status.View{}, err
	}
	s.logger.Info("Funding tx %s attached to intent %s", txHash, id)
	return status.Project(intent), nil
}

// GetIntent returns the external view of an intent.
func (s *Service) GetIntent(ctx context.Context, id string) (status.View, error) {
	intent, err := s.st.Get(ctx, id)
	if err != nil {
		return status.View{}, err
	}
	return status.Project(intent), nil
}

// Cancel aborts an intent that has not started settling. Once funding
// has been observed on chain the settlement is in flight and can no
// longer be cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (status.View, error) {
	intent, err := s.st.Get(ctx, id)
	if err != nil {
		return status.View{}, err
	}

	if intent.Status != models.StatusCreated && intent.Status != models.StatusWaitingForFunding {
		return status.View{}, models.ErrInvalidTransition
	}

	updated, err := s.st.AdvancePhase(ctx, id, intent.Status, models.StatusError, models.Evidence{
		Reason: models.ReasonCancelled,
	})
	if err != nil {
		return status.View{}, err
	}
	metrics.IntentsErrored.WithLabelValues(models.ReasonCancelled).Inc()
	s.logger.Notice("Intent %s cancelled", id)
	return status.Project(updated), nil
}

// runSweeper periodically errors out intents stuck past their phase
// dwell budget and refreshes the per-phase gauge.
func (s *Service) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepDwell(ctx)
		}
	}
}

// SweepDwell checks every open intent against its phase dwell budget.
func (s *Service) SweepDwell(ctx context.Context) {
	open := []models.Status{
		models.StatusCreated,
		models.StatusWaitingForFunding,
		models.StatusFundingSeen,
		models.StatusFunded,
		models.StatusPrivacyPending,
		models.StatusPrivacyDone,
		models.StatusPayoutPending,
	}

	intents, err := s.st.ListByStatus(ctx, open...)
	if err != nil {
		s.logger.Error("Dwell sweep: failed to list intents: %v", err)
		return
	}

	counts := make(map[models.Status]int, len(open))
	for _, intent := range intents {
		counts[intent.Status]++

		budget, ok := s.dwellTimeouts[intent.Status]
		if !ok || budget <= 0 {
			continue
		}
		enteredAt, ok := intent.EnteredPhaseAt(intent.Status)
		if !ok {
			enteredAt = intent.CreatedAt
		}
		dwell := time.Since(enteredAt)
		if dwell <= budget {
			continue
		}

		timeoutErr := &models.TimeoutError{Phase: intent.Status, Dwell: dwell.Truncate(time.Second)}
		s.logger.Error("Intent %s stuck: %v, erroring out", intent.ID, timeoutErr)

		// Funds that never left the collector remain refundable.
		refundable := intent.Status == models.StatusFundingSeen || intent.Status == models.StatusFunded
		_, err := s.st.AdvancePhase(ctx, intent.ID, intent.Status, models.StatusError, models.Evidence{
			Reason:         models.ReasonTimeout,
			RefundEligible: refundable,
		})
		if err != nil {
			if _, stale := err.(*models.StaleStateError); stale {
				metrics.StaleCASLosses.WithLabelValues("sweeper").Inc()
				continue
			}
			s.logger.Error("Dwell sweep: failed to error intent %s: %v", intent.ID, err)
			continue
		}
		counts[intent.Status]--
		metrics.DwellTimeouts.WithLabelValues(string(intent.Status)).Inc()
		metrics.IntentsErrored.WithLabelValues(models.ReasonTimeout).Inc()
	}

	for _, st := range open {
		metrics.ActiveIntents.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zuripay/zuri-settler/pkg/models"
)

// Metrics for monitoring
var (
	IntentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_intents_created_total",
		Help: "The total number of payment intents created",
	}, []string{"pay_asset", "dest_asset"})

	ActiveIntents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settler_active_intents",
		Help: "Number of intents currently in each settlement phase",
	}, []string{"status"})

	FundingConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_funding_confirmed_total",
		Help: "The total number of intents whose funding was confirmed on chain",
	}, []string{"pay_asset"})

	FundingMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_funding_mismatches_total",
		Help: "Funding amounts rejected as underfunded or overfunded",
	}, []string{"pay_asset", "kind"})

	BurnsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_pool_burns_submitted_total",
		Help: "The total number of burns submitted to the shielded pool",
	})

	BurnsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_pool_burns_settled_total",
		Help: "The total number of burns confirmed settled by the pool",
	})

	IssuesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_pool_issues_submitted_total",
		Help: "The total number of issues submitted to the shielded pool",
	})

	IssuesSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_pool_issues_settled_total",
		Help: "The total number of issues confirmed settled by the pool",
	})

	PoolRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_pool_retries_total",
		Help: "Shielded pool submissions retried after transient failures",
	}, []string{"op"})

	PayoutsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_payouts_dispatched_total",
		Help: "The total number of payout orders submitted to the solver",
	}, []string{"dest_asset"})

	PayoutsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_payouts_confirmed_total",
		Help: "The total number of payouts confirmed on the destination chain",
	}, []string{"dest_asset"})

	PayoutRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_payout_retries_total",
		Help: "Payout submissions retried after transient solver failures",
	}, []string{"dest_asset"})

	IntentsErrored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_intents_errored_total",
		Help: "Intents driven to terminal ERROR, by stored reason code",
	}, []string{"reason"})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settler_phase_duration_seconds",
		Help:    "Time spent in each settlement phase",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68m
	}, []string{"phase"})

	StaleCASLosses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_stale_cas_losses_total",
		Help: "Phase transitions lost to a concurrent winner",
	}, []string{"component"})

	DwellTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_dwell_timeouts_total",
		Help: "Intents errored because a phase exceeded its max dwell time",
	}, []string{"phase"})
)

// ObservePhaseExit records how long the intent spent in the phase it is
// about to leave. Call with the pre-transition snapshot.
func ObservePhaseExit(intent *models.PaymentIntent) {
	if enteredAt, ok := intent.EnteredPhaseAt(intent.Status); ok {
		PhaseDuration.WithLabelValues(string(intent.Status)).Observe(time.Since(enteredAt).Seconds())
	}
}

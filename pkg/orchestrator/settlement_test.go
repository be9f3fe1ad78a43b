package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuripay/zuri-settler/pkg/chainclient"
	"github.com/zuripay/zuri-settler/pkg/chains"
	"github.com/zuripay/zuri-settler/pkg/dispatcher"
	"github.com/zuripay/zuri-settler/pkg/models"
	"github.com/zuripay/zuri-settler/pkg/privacy"
	"github.com/zuripay/zuri-settler/pkg/relay"
	"github.com/zuripay/zuri-settler/pkg/solver"
	"github.com/zuripay/zuri-settler/pkg/store"
	"github.com/zuripay/zuri-settler/pkg/watcher"
)

// settlement wires the full pipeline over fakes so a test can drive an
// intent from creation to payout by hand, one sweep at a time.
type settlement struct {
	svc        *Service
	st         *store.MemStore
	chain      *chainclient.Fake
	pool       *privacy.FakePool
	solver     *solver.Fake
	watcher    *watcher.Watcher
	relay      *relay.Relay
	dispatcher *dispatcher.Dispatcher
}

func newSettlement(t *testing.T) *settlement {
	t.Helper()

	registry, err := chains.NewRegistry(chains.DefaultSpec())
	require.NoError(t, err)

	st := store.NewMemStore()
	chain := chainclient.NewFake()
	pool := privacy.NewFakePool()
	sv := solver.NewFake()

	svc := NewService(st, registry, &chains.SeqAllocator{}, nil, time.Second, nil)

	return &settlement{
		svc:    svc,
		st:     st,
		chain:  chain,
		pool:   pool,
		solver: sv,
		watcher: watcher.NewWatcher(st, registry, map[chains.Family]chainclient.Provider{
			chains.FamilyEVM:    chain,
			chains.FamilySolana: chain,
		}, watcher.Config{
			PollInterval:      time.Second,
			FundingTimeout:    time.Hour,
			Confirmations:     map[chains.Family]uint64{chains.FamilyEVM: 3, chains.FamilySolana: 32},
			OverfundTolerance: decimal.RequireFromString("0.05"),
		}, nil),
		relay: relay.NewRelay(st, pool, relay.FixedDelayPolicy{}, relay.Config{
			PollInterval: time.Second,
			BackoffBase:  time.Nanosecond,
			MaxAttempts:  3,
			IssueDestRef: "dispatch-account",
		}, nil),
		dispatcher: dispatcher.NewDispatcher(st, sv, nil, registry, map[chains.Family]chainclient.Provider{
			chains.FamilyEVM:    chain,
			chains.FamilySolana: chain,
		}, dispatcher.Config{
			PollInterval:  time.Second,
			BackoffBase:   time.Nanosecond,
			MaxAttempts:   3,
			Confirmations: map[chains.Family]uint64{chains.FamilyEVM: 3, chains.FamilySolana: 32},
		}, nil),
	}
}

// sweepAll runs every worker once, in pipeline order.
func (s *settlement) sweepAll(ctx context.Context) {
	s.watcher.Sweep(ctx)
	s.relay.Sweep(ctx)
	s.dispatcher.Sweep(ctx)
}

// settlePayoutTx mirrors the destination chain confirming the solver's
// payout tx, once the solver has placed one.
func (s *settlement) settlePayoutTx(id string) {
	if order, ok := s.solver.Order(id); ok && order.TxHash != "" {
		s.chain.Confirm(order.TxHash, "1")
	}
}

func TestEndToEndSettlement(t *testing.T) {
	s := newSettlement(t)
	ctx := context.Background()

	// Client creates an intent and learns the funding terms
	view, err := s.svc.CreateIntent(ctx, CreateRequest{
		Recipient:  evmRecipient,
		DestAsset:  "ETH",
		DestAmount: "1.0",
		PayAsset:   "ETH",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, view.Status)
	assert.Equal(t, "1.001", view.AmountWithFee)

	// Client pays the collector and reports the tx
	view, err = s.svc.AttachFundingTx(ctx, view.ID, "0xfunding1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitingForFunding, view.Status)

	// Chain confirms the exact amount
	s.chain.Confirm("0xfunding1", "1.001")

	// Drive the pipeline to completion
	for i := 0; i < 6; i++ {
		s.sweepAll(ctx)
		s.settlePayoutTx(view.ID)
	}

	view, err = s.svc.GetIntent(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, view.Status)
	assert.NotEmpty(t, view.PayoutTxHash)

	// Exactly one burn, one issue, one payout
	assert.Len(t, s.pool.Burns, 1)
	assert.Len(t, s.pool.Issues, 1)
	assert.Equal(t, 1, s.solver.SubmitCalls)

	// The external timeline walks the committed ladder
	var ladder []models.Status
	for _, entry := range view.Timeline {
		ladder = append(ladder, entry.Status)
	}
	assert.Equal(t, []models.Status{
		models.StatusCreated,
		models.StatusWaitingForFunding,
		models.StatusFunded,
		models.StatusPaid,
	}, ladder)
}

func TestEndToEndExternalStatusNeverRegresses(t *testing.T) {
	s := newSettlement(t)
	ctx := context.Background()

	view, err := s.svc.CreateIntent(ctx, CreateRequest{
		Recipient:  evmRecipient,
		DestAsset:  "ETH",
		DestAmount: "1.0",
		PayAsset:   "ETH",
	})
	require.NoError(t, err)
	_, err = s.svc.AttachFundingTx(ctx, view.ID, "0xfunding1")
	require.NoError(t, err)
	s.chain.Confirm("0xfunding1", "1.001")

	rank := map[models.Status]int{
		models.StatusCreated:           0,
		models.StatusWaitingForFunding: 1,
		models.StatusFunded:            2,
		models.StatusPaid:              3,
	}

	last := 0
	for i := 0; i < 8; i++ {
		s.sweepAll(ctx)
		s.settlePayoutTx(view.ID)
		got, err := s.svc.GetIntent(ctx, view.ID)
		require.NoError(t, err)
		current, ok := rank[got.Status]
		require.True(t, ok, "unexpected external status %s", got.Status)
		assert.GreaterOrEqual(t, current, last, "external status went backwards")
		last = current
	}
	assert.Equal(t, rank[models.StatusPaid], last)
}

func TestEndToEndUnderfundedNeverPays(t *testing.T) {
	s := newSettlement(t)
	ctx := context.Background()

	view, err := s.svc.CreateIntent(ctx, CreateRequest{
		Recipient:  evmRecipient,
		DestAsset:  "ETH",
		DestAmount: "1.0",
		PayAsset:   "ETH",
	})
	require.NoError(t, err)
	_, err = s.svc.AttachFundingTx(ctx, view.ID, "0xfunding1")
	require.NoError(t, err)
	s.chain.Confirm("0xfunding1", "0.5")

	for i := 0; i < 6; i++ {
		s.sweepAll(ctx)
	}

	got, err := s.svc.GetIntent(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, models.ReasonUnderfunded, got.Reason)
	assert.True(t, got.RefundEligible)

	// Nothing downstream ever ran
	assert.Empty(t, s.pool.Burns)
	assert.Empty(t, s.pool.Issues)
	assert.Equal(t, 0, s.solver.SubmitCalls)
}

func TestEndToEndPoolOutageThenRecovery(t *testing.T) {
	s := newSettlement(t)
	ctx := context.Background()

	view, err := s.svc.CreateIntent(ctx, CreateRequest{
		Recipient:  evmRecipient,
		DestAsset:  "ETH",
		DestAmount: "1.0",
		PayAsset:   "ETH",
	})
	require.NoError(t, err)
	_, err = s.svc.AttachFundingTx(ctx, view.ID, "0xfunding1")
	require.NoError(t, err)
	s.chain.Confirm("0xfunding1", "1.001")
	s.pool.FailBurns(2)

	for i := 0; i < 8; i++ {
		s.sweepAll(ctx)
		s.settlePayoutTx(view.ID)
	}

	got, err := s.svc.GetIntent(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
	assert.Len(t, s.pool.Burns, 1)
	assert.Equal(t, 1, s.solver.SubmitCalls)
}

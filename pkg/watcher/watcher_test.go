package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuripay/zuri-settler/pkg/chainclient"
	"github.com/zuripay/zuri-settler/pkg/chains"
	"github.com/zuripay/zuri-settler/pkg/models"
	"github.com/zuripay/zuri-settler/pkg/store"
)

type fixture struct {
	st      *store.MemStore
	chain   *chainclient.Fake
	watcher *Watcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry, err := chains.NewRegistry(chains.DefaultSpec())
	require.NoError(t, err)

	st := store.NewMemStore()
	chain := chainclient.NewFake()
	w := NewWatcher(st, registry, map[chains.Family]chainclient.Provider{
		chains.FamilyEVM:    chain,
		chains.FamilySolana: chain,
	}, Config{
		PollInterval:      time.Second,
		FundingTimeout:    time.Hour,
		Confirmations:     map[chains.Family]uint64{chains.FamilyEVM: 3, chains.FamilySolana: 32},
		OverfundTolerance: decimal.RequireFromString("0.05"),
	}, nil)

	return &fixture{st: st, chain: chain, watcher: w}
}

// seedIntent creates an intent with an attached funding tx, waiting for
// confirmation.
func (f *fixture) seedIntent(t *testing.T, id, txHash string) *models.PaymentIntent {
	t.Helper()
	intent := &models.PaymentIntent{
		ID:               id,
		Recipient:        "0x2222222222222222222222222222222222222222",
		DestAsset:        "ETH",
		DestAmount:       "1",
		PayAsset:         "ETH",
		CollectorAddress: "0xcollector-" + id,
		BaseAmount:       "1",
		Fee:              "0.001",
		AmountWithFee:    "1.001",
	}
	require.NoError(t, f.st.Create(context.Background(), intent))
	_, err := f.st.AttachFundingTx(context.Background(), id, txHash)
	require.NoError(t, err)
	return intent
}

func (f *fixture) status(t *testing.T, id string) *models.PaymentIntent {
	t.Helper()
	got, err := f.st.Get(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestWatcherConfirmsExactFunding(t *testing.T) {
	f := newFixture(t)
	f.seedIntent(t, "intent-1", "0xtx1")
	f.chain.Confirm("0xtx1", "1.001")

	f.watcher.Sweep(context.Background())

	got := f.status(t, "intent-1")
	assert.Equal(t, models.StatusFunded, got.Status)
}

func TestWatcherMarksSeenBeforeFinality(t *testing.T) {
	f := newFixture(t)
	f.seedIntent(t, "intent-1", "0xtx1")

	t.Run("pending tx", func(t *testing.T) {
		f.chain.SetStatus("0xtx1", chainclient.TxStatus{State: chainclient.TxPending})
		f.watcher.Sweep(context.Background())
		assert.Equal(t, models.StatusFundingSeen, f.status(t, "intent-1").Status)
	})

	t.Run("shallow confirmation stays seen", func(t *testing.T) {
		f.chain.SetStatus("0xtx1", chainclient.TxStatus{
			State:         chainclient.TxConfirmed,
			Amount:        decimal.RequireFromString("1.001"),
			Confirmations: 1,
		})
		f.watcher.Sweep(context.Background())
		assert.Equal(t, models.StatusFundingSeen, f.status(t, "intent-1").Status)
	})

	t.Run("deep confirmation funds", func(t *testing.T) {
		f.chain.Confirm("0xtx1", "1.001")
		f.watcher.Sweep(context.Background())
		assert.Equal(t, models.StatusFunded, f.status(t, "intent-1").Status)
	})
}

func TestWatcherAcceptsSmallOverfund(t *testing.T) {
	f := newFixture(t)
	f.seedIntent(t, "intent-1", "0xtx1")
	// 2% over the quote, inside the 5% tolerance
	f.chain.Confirm("0xtx1", "1.021")

	f.watcher.Sweep(context.Background())

	assert.Equal(t, models.StatusFunded, f.status(t, "intent-1").Status)
}

func TestWatcherRejectsUnderfunding(t *testing.T) {
	f := newFixture(t)
	f.seedIntent(t, "intent-1", "0xtx1")
	f.chain.Confirm("0xtx1", "0.9")

	f.watcher.Sweep(context.Background())

	got := f.status(t, "intent-1")
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, models.ReasonUnderfunded, got.Reason)
	assert.True(t, got.RefundEligible)
}

func TestWatcherRejectsLargeOverfund(t *testing.T) {
	f := newFixture(t)
	f.seedIntent(t, "intent-1", "0xtx1")
	f.chain.Confirm("0xtx1", "2")

	f.watcher.Sweep(context.Background())

	got := f.status(t, "intent-1")
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, models.ReasonOverfunded, got.Reason)
	assert.True(t, got.RefundEligible)
}

func TestWatcherRejectsWrongDestination(t *testing.T) {
	f := newFixture(t)
	f.seedIntent(t, "intent-1", "0xtx1")
	f.chain.SetStatus("0xtx1", chainclient.TxStatus{
		State:         chainclient.TxConfirmed,
		Amount:        decimal.RequireFromString("1.001"),
		To:            "0xsomebody-else",
		Confirmations: 1000,
	})

	f.watcher.Sweep(context.Background())

	got := f.status(t, "intent-1")
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, models.ReasonFundingNotObserved, got.Reason)
}

func TestWatcherTimesOutUnobservedFunding(t *testing.T) {
	f := newFixture(t)
	f.watcher.cfg.FundingTimeout = 0 // expire immediately
	f.seedIntent(t, "intent-1", "0xtx-never-seen")

	f.watcher.Sweep(context.Background())

	got := f.status(t, "intent-1")
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, models.ReasonFundingNotObserved, got.Reason)
	assert.False(t, got.RefundEligible)
}

func TestWatcherWaitsForUnobservedFunding(t *testing.T) {
	f := newFixture(t)
	f.seedIntent(t, "intent-1", "0xtx-not-yet")

	f.watcher.Sweep(context.Background())

	// Inside the timeout window nothing changes
	assert.Equal(t, models.StatusWaitingForFunding, f.status(t, "intent-1").Status)
}

// Each family is swept on its own cadence, so a family sweep must only
// touch the intents funded on that family's chain.
func TestWatcherSweepsPerFamily(t *testing.T) {
	registry, err := chains.NewRegistry(chains.DefaultSpec())
	require.NoError(t, err)
	st := store.NewMemStore()
	evmChain := chainclient.NewFake()
	solChain := chainclient.NewFake()
	w := NewWatcher(st, registry, map[chains.Family]chainclient.Provider{
		chains.FamilyEVM:    evmChain,
		chains.FamilySolana: solChain,
	}, Config{
		PollInterval:      time.Second,
		PollIntervals:     map[chains.Family]time.Duration{chains.FamilySolana: 400 * time.Millisecond},
		FundingTimeout:    time.Hour,
		Confirmations:     map[chains.Family]uint64{chains.FamilyEVM: 3, chains.FamilySolana: 32},
		OverfundTolerance: decimal.RequireFromString("0.05"),
	}, nil)

	ctx := context.Background()
	ethIntent := &models.PaymentIntent{
		ID: "intent-eth", Recipient: "0x2222222222222222222222222222222222222222",
		DestAsset: "ETH", DestAmount: "1", PayAsset: "ETH",
		CollectorAddress: "0xcollector-eth",
		BaseAmount:       "1", Fee: "0.001", AmountWithFee: "1.001",
	}
	solIntent := &models.PaymentIntent{
		ID: "intent-sol", Recipient: "0x2222222222222222222222222222222222222222",
		DestAsset: "ETH", DestAmount: "1", PayAsset: "SOL",
		CollectorAddress: "sol-collector",
		BaseAmount:       "10", Fee: "0.01", AmountWithFee: "10.01",
	}
	for _, intent := range []*models.PaymentIntent{ethIntent, solIntent} {
		require.NoError(t, st.Create(ctx, intent))
		_, err := st.AttachFundingTx(ctx, intent.ID, "tx-"+intent.ID)
		require.NoError(t, err)
	}
	evmChain.Confirm("tx-intent-eth", "1.001")
	solChain.Confirm("tx-intent-sol", "10.01")

	w.SweepFamily(ctx, chains.FamilyEVM)
	got, err := st.Get(ctx, "intent-eth")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFunded, got.Status)
	got, err = st.Get(ctx, "intent-sol")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitingForFunding, got.Status)

	w.SweepFamily(ctx, chains.FamilySolana)
	got, err = st.Get(ctx, "intent-sol")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFunded, got.Status)

	// Cadence resolution: per-family override wins, others fall back.
	assert.Equal(t, 400*time.Millisecond, w.pollInterval(chains.FamilySolana))
	assert.Equal(t, time.Second, w.pollInterval(chains.FamilyEVM))
}

func TestWatcherIgnoresSettledIntents(t *testing.T) {
	f := newFixture(t)
	f.seedIntent(t, "intent-1", "0xtx1")
	f.chain.Confirm("0xtx1", "1.001")

	f.watcher.Sweep(context.Background())
	require.Equal(t, models.StatusFunded, f.status(t, "intent-1").Status)

	// A later sweep with the same chain state must not touch the intent.
	f.watcher.Sweep(context.Background())
	got := f.status(t, "intent-1")
	assert.Equal(t, models.StatusFunded, got.Status)
}

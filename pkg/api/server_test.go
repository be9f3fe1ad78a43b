package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuripay/zuri-settler/pkg/chains"
	"github.com/zuripay/zuri-settler/pkg/models"
	"github.com/zuripay/zuri-settler/pkg/orchestrator"
	"github.com/zuripay/zuri-settler/pkg/status"
	"github.com/zuripay/zuri-settler/pkg/store"
)

const evmRecipient = "0x2222222222222222222222222222222222222222"

func newTestServer(t *testing.T) (*httptest.Server, *store.MemStore) {
	t.Helper()
	registry, err := chains.NewRegistry(chains.DefaultSpec())
	require.NoError(t, err)
	st := store.NewMemStore()
	svc := orchestrator.NewService(st, registry, &chains.SeqAllocator{}, nil, time.Second, nil)

	ts := httptest.NewServer(NewServer(svc, nil).Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeView(t *testing.T, resp *http.Response) status.View {
	t.Helper()
	defer resp.Body.Close()
	var view status.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	return view
}

func createIntent(t *testing.T, ts *httptest.Server) status.View {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/v1/payments", orchestrator.CreateRequest{
		Recipient:  evmRecipient,
		DestAsset:  "ETH",
		DestAmount: "1.0",
		PayAsset:   "ETH",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeView(t, resp)
}

func TestCreatePayment(t *testing.T) {
	ts, _ := newTestServer(t)

	view := createIntent(t, ts)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, models.StatusCreated, view.Status)
	assert.Equal(t, "1", view.BaseAmount)
	assert.Equal(t, "0.001", view.Fee)
	assert.Equal(t, "1.001", view.AmountWithFee)
	assert.NotEmpty(t, view.CollectorAddress)
}

func TestCreatePaymentErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	t.Run("invalid JSON", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/payments", "application/json", bytes.NewReader([]byte("{nope")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing recipient", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/payments", orchestrator.CreateRequest{
			DestAsset: "ETH", DestAmount: "1", PayAsset: "ETH",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unroutable pair", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/payments", orchestrator.CreateRequest{
			Recipient: evmRecipient, DestAsset: "ETH", DestAmount: "1", PayAsset: "USDC_SOL",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func TestGetPayment(t *testing.T) {
	ts, _ := newTestServer(t)
	view := createIntent(t, ts)

	resp, err := http.Get(ts.URL + "/api/v1/payments/" + view.ID)
	require.NoError(t, err)
	got := decodeView(t, resp)
	assert.Equal(t, view.ID, got.ID)
	assert.Equal(t, models.StatusCreated, got.Status)

	resp, err = http.Get(ts.URL + "/api/v1/payments/no-such-intent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAttachFundingTx(t *testing.T) {
	ts, _ := newTestServer(t)
	view := createIntent(t, ts)

	resp := postJSON(t, ts.URL+"/api/v1/payments/"+view.ID+"/funding-tx", map[string]string{"tx_hash": "0xtx1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeView(t, resp)
	assert.Equal(t, models.StatusWaitingForFunding, got.Status)
	assert.Equal(t, "0xtx1", got.FundingTxHash)

	t.Run("identical hash is idempotent", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/payments/"+view.ID+"/funding-tx", map[string]string{"tx_hash": "0xtx1"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("different hash conflicts", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/payments/"+view.ID+"/funding-tx", map[string]string{"tx_hash": "0xtx2"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("empty hash", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/api/v1/payments/"+view.ID+"/funding-tx", map[string]string{})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCancelPayment(t *testing.T) {
	ts, st := newTestServer(t)

	t.Run("cancels before settlement", func(t *testing.T) {
		view := createIntent(t, ts)
		resp := postJSON(t, ts.URL+"/api/v1/payments/"+view.ID+"/cancel", struct{}{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decodeView(t, resp)
		assert.Equal(t, models.StatusError, got.Status)
		assert.Equal(t, models.ReasonCancelled, got.Reason)
	})

	t.Run("refuses once settling", func(t *testing.T) {
		view := createIntent(t, ts)
		ctx := context.Background()
		_, err := st.AttachFundingTx(ctx, view.ID, "0xtx1")
		require.NoError(t, err)
		_, err = st.AdvancePhase(ctx, view.ID, models.StatusWaitingForFunding, models.StatusFundingSeen, models.Evidence{})
		require.NoError(t, err)

		resp := postJSON(t, ts.URL+"/api/v1/payments/"+view.ID+"/cancel", struct{}{})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuripay/zuri-settler/pkg/models"
)

func TestProjectCollapsesInternalPhases(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeline := []models.Phase{
		{Status: models.StatusCreated, EnteredAt: base},
		{Status: models.StatusWaitingForFunding, EnteredAt: base.Add(1 * time.Minute)},
		{Status: models.StatusFundingSeen, EnteredAt: base.Add(2 * time.Minute)},
		{Status: models.StatusFunded, EnteredAt: base.Add(3 * time.Minute)},
		{Status: models.StatusPrivacyPending, EnteredAt: base.Add(4 * time.Minute)},
		{Status: models.StatusPrivacyDone, EnteredAt: base.Add(5 * time.Minute)},
		{Status: models.StatusPayoutPending, EnteredAt: base.Add(6 * time.Minute)},
		{Status: models.StatusPaid, EnteredAt: base.Add(7 * time.Minute)},
	}

	view := Project(&models.PaymentIntent{
		ID:       "intent-1",
		Status:   models.StatusPaid,
		Timeline: timeline,
	})

	require.Len(t, view.Timeline, 4)
	assert.Equal(t, models.StatusCreated, view.Timeline[0].Status)
	assert.Equal(t, models.StatusWaitingForFunding, view.Timeline[1].Status)
	assert.Equal(t, models.StatusFunded, view.Timeline[2].Status)
	assert.Equal(t, models.StatusPaid, view.Timeline[3].Status)

	// Each merged entry keeps the time of its first internal phase
	assert.Equal(t, base.Add(1*time.Minute), view.Timeline[1].EnteredAt)
	assert.Equal(t, base.Add(3*time.Minute), view.Timeline[2].EnteredAt)
}

func TestProjectMapsSubPhaseStatus(t *testing.T) {
	view := Project(&models.PaymentIntent{
		ID:     "intent-1",
		Status: models.StatusPrivacyPending,
	})
	assert.Equal(t, models.StatusFunded, view.Status)

	view = Project(&models.PaymentIntent{
		ID:     "intent-1",
		Status: models.StatusFundingSeen,
	})
	assert.Equal(t, models.StatusWaitingForFunding, view.Status)
}

func TestProjectCarriesQuoteFields(t *testing.T) {
	view := Project(&models.PaymentIntent{
		ID:            "intent-1",
		Status:        models.StatusCreated,
		BaseAmount:    "1",
		Fee:           "0.001",
		AmountWithFee: "1.001",
	})
	assert.Equal(t, "1", view.BaseAmount)
	assert.Equal(t, "0.001", view.Fee)
	assert.Equal(t, "1.001", view.AmountWithFee)
}

func TestProjectCarriesErrorDetail(t *testing.T) {
	view := Project(&models.PaymentIntent{
		ID:             "intent-1",
		Status:         models.StatusError,
		Reason:         models.ReasonUnderfunded,
		RefundEligible: true,
	})
	assert.Equal(t, models.StatusError, view.Status)
	assert.Equal(t, models.ReasonUnderfunded, view.Reason)
	assert.True(t, view.RefundEligible)
}

func TestProjectNeverExposesPoolArtifacts(t *testing.T) {
	intent := &models.PaymentIntent{
		ID:             "intent-1",
		Status:         models.StatusPaid,
		PrivacyBurnID:  "burn-1",
		PrivacyIssueID: "issue-1",
		FundingTxHash:  "0xtx1",
		PayoutTxHash:   "0xtx2",
	}
	view := Project(intent)

	// Funding and payout hashes are part of the client contract; the
	// pool operation ids are not.
	assert.Equal(t, "0xtx1", view.FundingTxHash)
	assert.Equal(t, "0xtx2", view.PayoutTxHash)
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"created to waiting", StatusCreated, StatusWaitingForFunding, true},
		{"waiting to funding seen", StatusWaitingForFunding, StatusFundingSeen, true},
		{"funding seen to funded", StatusFundingSeen, StatusFunded, true},
		{"funded to privacy pending", StatusFunded, StatusPrivacyPending, true},
		{"privacy pending to privacy done", StatusPrivacyPending, StatusPrivacyDone, true},
		{"privacy done to payout pending", StatusPrivacyDone, StatusPayoutPending, true},
		{"payout pending to paid", StatusPayoutPending, StatusPaid, true},

		{"skip a phase", StatusCreated, StatusFundingSeen, false},
		{"skip to paid", StatusFunded, StatusPaid, false},
		{"backwards", StatusFunded, StatusWaitingForFunding, false},
		{"same status", StatusFunded, StatusFunded, false},

		{"created to error", StatusCreated, StatusError, true},
		{"payout pending to error", StatusPayoutPending, StatusError, true},
		{"paid to error", StatusPaid, StatusError, false},
		{"error to error", StatusError, StatusError, false},
		{"out of paid", StatusPaid, StatusPayoutPending, false},
		{"out of error", StatusError, StatusCreated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusPaid.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusCreated.Terminal())
	assert.False(t, StatusPayoutPending.Terminal())
}

func TestStatusExternal(t *testing.T) {
	tests := []struct {
		internal Status
		external Status
	}{
		{StatusCreated, StatusCreated},
		{StatusWaitingForFunding, StatusWaitingForFunding},
		{StatusFundingSeen, StatusWaitingForFunding},
		{StatusFunded, StatusFunded},
		{StatusPrivacyPending, StatusFunded},
		{StatusPrivacyDone, StatusFunded},
		{StatusPayoutPending, StatusFunded},
		{StatusPaid, StatusPaid},
		{StatusError, StatusError},
	}

	for _, tt := range tests {
		t.Run(string(tt.internal), func(t *testing.T) {
			assert.Equal(t, tt.external, tt.internal.External())
		})
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusCreated.Valid())
	assert.True(t, StatusError.Valid())
	assert.False(t, Status("SHIPPED").Valid())
	assert.False(t, Status("").Valid())
}

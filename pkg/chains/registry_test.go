package chains

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuripay/zuri-settler/pkg/models"
)

func TestQuoteFeeMath(t *testing.T) {
	registry, err := NewRegistry(DefaultSpec())
	require.NoError(t, err)

	tests := []struct {
		name          string
		pay           string
		dest          string
		destAmount    string
		baseAmount    string
		fee           string
		amountWithFee string
	}{
		{"one eth", "ETH", "ETH", "1.0", "1", "0.001", "1.001"},
		{"fractional", "ETH", "ETH", "0.5", "0.5", "0.0005", "0.5005"},
		{"sol to sol", "SOL", "SOL", "10", "10", "0.01", "10.01"},
		{"eth to usdc", "ETH", "USDC_SOL", "250", "250", "0.25", "250.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := registry.Quote(tt.pay, tt.dest, tt.destAmount)
			require.NoError(t, err)
			assert.Equal(t, tt.baseAmount, quote.BaseAmount.String())
			assert.Equal(t, tt.fee, quote.Fee.String())
			assert.Equal(t, tt.amountWithFee, quote.AmountWithFee.String())
		})
	}
}

func TestQuoteConversionRate(t *testing.T) {
	spec := DefaultSpec()
	for i := range spec.Routes {
		if spec.Routes[i].Pay == "ETH" && spec.Routes[i].Dest == "SOL" {
			// 1 SOL costs 0.05 ETH
			spec.Routes[i].ConversionRate = "0.05"
		}
	}
	registry, err := NewRegistry(spec)
	require.NoError(t, err)

	quote, err := registry.Quote("ETH", "SOL", "10")
	require.NoError(t, err)
	assert.Equal(t, "0.5", quote.BaseAmount.String())
	assert.Equal(t, "0.0005", quote.Fee.String())
	assert.Equal(t, "0.5005", quote.AmountWithFee.String())
}

func TestQuoteRejectsUnroutablePairs(t *testing.T) {
	registry, err := NewRegistry(DefaultSpec())
	require.NoError(t, err)

	// USDC funding has no route in the launch catalog
	_, err = registry.Quote("USDC_SOL", "ETH", "100")
	var unsupported *models.UnsupportedAssetError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "USDC_SOL", unsupported.PayAsset)

	_, err = registry.Quote("DOGE", "ETH", "100")
	assert.ErrorAs(t, err, &unsupported)
}

func TestQuoteValidatesAmount(t *testing.T) {
	registry, err := NewRegistry(DefaultSpec())
	require.NoError(t, err)

	var validation *models.ValidationError
	_, err = registry.Quote("ETH", "ETH", "not-a-number")
	require.ErrorAs(t, err, &validation)

	_, err = registry.Quote("ETH", "ETH", "0")
	require.ErrorAs(t, err, &validation)

	_, err = registry.Quote("ETH", "ETH", "-1")
	assert.ErrorAs(t, err, &validation)
}

func TestValidateRecipient(t *testing.T) {
	registry, err := NewRegistry(DefaultSpec())
	require.NoError(t, err)

	tests := []struct {
		name      string
		destAsset string
		recipient string
		ok        bool
	}{
		{"valid evm address", "ETH", "0x1111111111111111111111111111111111111111", true},
		{"valid solana address", "SOL", "11111111111111111111111111111111", true},
		{"solana address for evm asset", "ETH", "11111111111111111111111111111111", false},
		{"evm address for solana asset", "SOL", "0x1111111111111111111111111111111111111111", false},
		{"garbage", "ETH", "not-an-address", false},
		{"unknown asset", "DOGE", "0x1111111111111111111111111111111111111111", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.ValidateRecipient(tt.destAsset, tt.recipient)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSeqAllocatorProducesValidAddresses(t *testing.T) {
	alloc := &SeqAllocator{}

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		evm, err := alloc.Allocate(context.Background(), FamilyEVM)
		require.NoError(t, err)
		assert.True(t, ValidAddress(FamilyEVM, evm))

		sol, err := alloc.Allocate(context.Background(), FamilySolana)
		require.NoError(t, err)
		assert.True(t, ValidAddress(FamilySolana, sol))

		// Collectors are single use, never repeated
		assert.False(t, seen[evm])
		assert.False(t, seen[sol])
		seen[evm] = true
		seen[sol] = true
	}
}

func TestRegistryRejectsBadSpecs(t *testing.T) {
	t.Run("bad fee rate", func(t *testing.T) {
		spec := DefaultSpec()
		spec.FeeRate = "lots"
		_, err := NewRegistry(spec)
		assert.Error(t, err)
	})

	t.Run("route with unknown asset", func(t *testing.T) {
		spec := DefaultSpec()
		spec.Routes = append(spec.Routes, RouteSpec{Pay: "DOGE", Dest: "ETH"})
		_, err := NewRegistry(spec)
		assert.Error(t, err)
	})

	t.Run("unknown family", func(t *testing.T) {
		spec := DefaultSpec()
		spec.Assets = append(spec.Assets, AssetSpec{Symbol: "XMR", Family: "cryptonote", Decimals: 12})
		_, err := NewRegistry(spec)
		assert.Error(t, err)
	})
}

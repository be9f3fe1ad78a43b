// Package chains knows the asset catalog of the settlement system:
// which chain family each asset lives on, which (pay, dest) pairs are
// routable, how recipients are validated, and how quotes are priced.
package chains

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/zuripay/zuri-settler/pkg/models"
)

// Family identifies a chain family with shared address and finality rules.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

// Asset describes a supported asset and the chain family it settles on.
type Asset struct {
	Symbol   string
	Family   Family
	Decimals int32
}

// Route is a supported (payAsset, destAsset) pair. ConversionRate is the
// amount of pay asset per unit of dest asset; market pricing is out of
// scope, so the rate is configuration.
type Route struct {
	PayAsset       string
	DestAsset      string
	ConversionRate decimal.Decimal
}

// Quote is the priced funding requirement for an intent.
type Quote struct {
	BaseAmount    decimal.Decimal
	Fee           decimal.Decimal
	AmountWithFee decimal.Decimal
}

type routeKey struct{ pay, dest string }

// Registry holds the asset catalog, the route table, and the fee rate.
type Registry struct {
	feeRate decimal.Decimal
	assets  map[string]Asset
	routes  map[routeKey]Route
}

// NewRegistry builds a registry from a spec, typically loaded from the
// routes YAML file.
func NewRegistry(spec Spec) (*Registry, error) {
	feeRate, err := decimal.NewFromString(spec.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("invalid fee rate %q: %w", spec.FeeRate, err)
	}
	if feeRate.IsNegative() {
		return nil, fmt.Errorf("fee rate must not be negative: %s", spec.FeeRate)
	}

	r := &Registry{
		feeRate: feeRate,
		assets:  make(map[string]Asset),
		routes:  make(map[routeKey]Route),
	}

	for _, a := range spec.Assets {
		fam := Family(a.Family)
		if fam != FamilyEVM && fam != FamilySolana {
			return nil, fmt.Errorf("asset %s: unknown chain family %q", a.Symbol, a.Family)
		}
		r.assets[a.Symbol] = Asset{Symbol: a.Symbol, Family: fam, Decimals: a.Decimals}
	}

	for _, rt := range spec.Routes {
		if _, ok := r.assets[rt.Pay]; !ok {
			return nil, fmt.Errorf("route %s->%s: unknown pay asset", rt.Pay, rt.Dest)
		}
		if _, ok := r.assets[rt.Dest]; !ok {
			return nil, fmt.Errorf("route %s->%s: unknown dest asset", rt.Pay, rt.Dest)
		}
		rate := decimal.NewFromInt(1)
		if rt.ConversionRate != "" {
			rate, err = decimal.NewFromString(rt.ConversionRate)
			if err != nil || !rate.IsPositive() {
				return nil, fmt.Errorf("route %s->%s: invalid conversion rate %q", rt.Pay, rt.Dest, rt.ConversionRate)
			}
		}
		r.routes[routeKey{rt.Pay, rt.Dest}] = Route{
			PayAsset:       rt.Pay,
			DestAsset:      rt.Dest,
			ConversionRate: rate,
		}
	}
	return r, nil
}

// FeeRate returns the configured shielding fee rate.
func (r *Registry) FeeRate() decimal.Decimal { return r.feeRate }

// Asset returns the asset descriptor for a symbol.
func (r *Registry) Asset(symbol string) (Asset, bool) {
	a, ok := r.assets[symbol]
	return a, ok
}

// Route returns the route for a (pay, dest) pair, if one exists.
func (r *Registry) Route(payAsset, destAsset string) (Route, bool) {
	rt, ok := r.routes[routeKey{payAsset, destAsset}]
	return rt, ok
}

// ValidateRecipient checks the recipient address against the destination
// asset's chain family.
func (r *Registry) ValidateRecipient(destAsset, recipient string) error {
	asset, ok := r.assets[destAsset]
	if !ok {
		return &models.ValidationError{Field: "dest_asset", Msg: fmt.Sprintf("unknown asset %q", destAsset)}
	}
	if !ValidAddress(asset.Family, recipient) {
		return &models.ValidationError{
			Field: "recipient",
			Msg:   fmt.Sprintf("not a valid %s address for %s", asset.Family, destAsset),
		}
	}
	return nil
}

// ValidAddress reports whether addr is well formed for the chain family.
func ValidAddress(family Family, addr string) bool {
	switch family {
	case FamilyEVM:
		return common.IsHexAddress(addr)
	case FamilySolana:
		_, err := solana.PublicKeyFromBase58(addr)
		return err == nil
	default:
		return false
	}
}

// Quote prices an intent: the base amount is the dest amount converted
// into the pay asset, the fee is rate x base, and the funding
// requirement is base + fee, rounded to the pay asset's precision.
func (r *Registry) Quote(payAsset, destAsset, destAmount string) (Quote, error) {
	amount, err := decimal.NewFromString(destAmount)
	if err != nil {
		return Quote{}, &models.ValidationError{Field: "dest_amount", Msg: "not a decimal number"}
	}
	if !amount.IsPositive() {
		return Quote{}, &models.ValidationError{Field: "dest_amount", Msg: "must be greater than zero"}
	}

	route, ok := r.Route(payAsset, destAsset)
	if !ok {
		return Quote{}, &models.UnsupportedAssetError{PayAsset: payAsset, DestAsset: destAsset}
	}
	pay := r.assets[payAsset]

	base := amount.Mul(route.ConversionRate).Round(pay.Decimals)
	fee := base.Mul(r.feeRate).Round(pay.Decimals)
	return Quote{
		BaseAmount:    base,
		Fee:           fee,
		AmountWithFee: base.Add(fee),
	}, nil
}

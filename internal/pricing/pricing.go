// Package pricing turns a resource plus an optional operation name into a
// concrete charge, converting the operator's human-denominated amount into
// the atomic representation of the target network's settlement asset.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ai402/gateway/internal/resource"
)

// ErrConversion marks a pricing conversion failure. This is a configuration
// fault on the operator's side, never a payment failure.
var ErrConversion = errors.New("pricing conversion failed")

// Asset is a settlement asset on a specific network.
type Asset struct {
	Address  string
	Decimals int32
	Name     string
	Version  string // EIP-712 domain version
}

// Known settlement assets per network. USDC everywhere for now.
var assetsByNetwork = map[string]Asset{
	"base-sepolia": {
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals: 6,
		Name:     "USDC",
		Version:  "2",
	},
	"base": {
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals: 6,
		Name:     "USDC",
		Version:  "2",
	},
}

// Charge is the resolved price for one billable request.
type Charge struct {
	// Amount is the human-denominated charge, e.g. 0.001.
	Amount decimal.Decimal
	// AtomicAmount is Amount scaled to the asset's atomic unit, e.g. "1000".
	AtomicAmount string
	Network      string
	Asset        Asset
	// Operation is the operation name the charge was resolved for, if any.
	Operation string
}

// Resolver resolves charges for a fixed settlement network.
type Resolver struct {
	network string
}

// NewResolver returns a resolver for the given network. Unknown networks are
// reported on first resolve rather than at construction, so a misconfigured
// deployment fails loudly per request instead of silently at startup.
func NewResolver(network string) *Resolver {
	return &Resolver{network: network}
}

// Resolve returns the charge for the resource and optional operation name.
// Per-operation pricing falls back to the resource default when the operation
// has no mapped price.
func (r *Resolver) Resolve(res *resource.Resource, operation string) (*Charge, error) {
	asset, ok := assetsByNetwork[r.network]
	if !ok {
		return nil, fmt.Errorf("%w: no settlement asset for network %q", ErrConversion, r.network)
	}

	raw := res.AmountFor(operation)
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrConversion, raw, err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount %s is not positive", ErrConversion, amount)
	}

	atomic := amount.Shift(asset.Decimals)
	if !atomic.IsInteger() {
		return nil, fmt.Errorf("%w: amount %s has more precision than %s (%d decimals)",
			ErrConversion, amount, asset.Name, asset.Decimals)
	}

	return &Charge{
		Amount:       amount,
		AtomicAmount: atomic.String(),
		Network:      r.network,
		Asset:        asset,
		Operation:    operation,
	}, nil
}

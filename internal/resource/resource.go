// Package resource defines the monetizable origin endpoint model shared by the
// directory, pricing, forwarding and accounting layers.
package resource

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies how a resource classifies requests and frames responses.
type Kind string

const (
	// KindToolServer is a JSON-RPC tool server; discovery calls are free,
	// invocation calls are billable per operation.
	KindToolServer Kind = "tool_server"
	// KindModelEndpoint is a model-inference endpoint; every call is billable.
	KindModelEndpoint Kind = "model_endpoint"
	// KindGenericAPI is any other HTTP API; every call is billable.
	KindGenericAPI Kind = "generic_api"
)

// Valid reports whether k is one of the closed set of resource kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindToolServer, KindModelEndpoint, KindGenericAPI:
		return true
	}
	return false
}

// AuthType identifies how origin-side credentials are applied.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
)

// OriginAuth is the credential applied when calling the origin service.
// It is independent of the caller-facing payment and never exposed to callers.
type OriginAuth struct {
	Type   AuthType `json:"type"`
	Token  string   `json:"token,omitempty"`
	Header string   `json:"header,omitempty"` // for api_key auth, defaults to X-API-Key
}

// PricingModel selects between a flat per-call charge and per-operation charges.
type PricingModel string

const (
	PricePerCall      PricingModel = "per_call"
	PricePerOperation PricingModel = "per_operation"
)

// Pricing bounds applied platform-wide. Amounts outside this range are treated
// as operator mistakes and rejected before a resource enters the directory.
var (
	MinAmount = decimal.RequireFromString("0.0001")
	MaxAmount = decimal.RequireFromString("10")
)

// Pricing is a resource's charge policy. Amounts are human-denominated decimal
// strings (e.g. "0.001" USDC).
type Pricing struct {
	Model            PricingModel      `json:"model"`
	DefaultAmount    string            `json:"defaultAmount"`
	Currency         string            `json:"currency"`
	OperationPricing map[string]string `json:"operationPricing,omitempty"`
	TokenPricing     *TokenPricing     `json:"tokenPricing,omitempty"`
}

// TokenPricing describes the token allowance included in a model endpoint's
// fixed charge. Informational; the charge itself is fixed.
type TokenPricing struct {
	InputTokenPrice  string `json:"inputTokenPrice,omitempty"`
	OutputTokenPrice string `json:"outputTokenPrice,omitempty"`
	MaxTokens        int    `json:"maxTokens,omitempty"`
}

// Operation is one invocable operation discovered from a tool-server origin.
// Informational; pricing only consults it through Pricing.OperationPricing.
type Operation struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Stats are the monotonically updated aggregate counters for a resource.
// Only the usage ledger mutates them.
type Stats struct {
	TotalUses         int64      `json:"totalUses"`
	TotalEarnings     string     `json:"totalEarnings"`
	LastUsed          *time.Time `json:"lastUsed,omitempty"`
	TotalTokens       int64      `json:"totalTokens,omitempty"`
	TotalInputTokens  int64      `json:"totalInputTokens,omitempty"`
	TotalOutputTokens int64      `json:"totalOutputTokens,omitempty"`
}

// Resource is a monetizable origin endpoint. Immutable after creation except
// for Stats (ledger) and OperationCatalog (catalog refresh).
type Resource struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description,omitempty"`
	Kind             Kind        `json:"kind"`
	OriginAddress    string      `json:"originAddress"`
	OriginAuth       *OriginAuth `json:"originAuth,omitempty"`
	PayoutAddress    string      `json:"payoutAddress"`
	Pricing          Pricing     `json:"pricing"`
	OperationCatalog []Operation `json:"operationCatalog,omitempty"`
	Stats            Stats       `json:"stats"`
	Active           bool        `json:"active"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// Validate checks the invariants a resource must satisfy before it may be
// served: a known kind, an origin address, a payout address, and every pricing
// amount parseable and within the platform bounds.
func (r *Resource) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("resource id is required")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown resource kind %q", r.Kind)
	}
	if r.OriginAddress == "" {
		return fmt.Errorf("resource %s: origin address is required", r.ID)
	}
	if r.PayoutAddress == "" {
		return fmt.Errorf("resource %s: payout address is required", r.ID)
	}
	if err := validateAmount(r.Pricing.DefaultAmount); err != nil {
		return fmt.Errorf("resource %s: default amount: %w", r.ID, err)
	}
	for op, amount := range r.Pricing.OperationPricing {
		if err := validateAmount(amount); err != nil {
			return fmt.Errorf("resource %s: operation %q: %w", r.ID, op, err)
		}
	}
	return nil
}

func validateAmount(amount string) error {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.LessThan(MinAmount) || d.GreaterThan(MaxAmount) {
		return fmt.Errorf("amount %s outside allowed range [%s, %s]", d, MinAmount, MaxAmount)
	}
	return nil
}

// AmountFor returns the human-denominated charge for the named operation,
// falling back to the default amount when no per-operation price is mapped.
func (r *Resource) AmountFor(operation string) string {
	if r.Pricing.Model == PricePerOperation && operation != "" {
		if amount, ok := r.Pricing.OperationPricing[operation]; ok {
			return amount
		}
	}
	return r.Pricing.DefaultAmount
}

// StatsDelta is one request's contribution to a resource's counters.
type StatsDelta struct {
	Uses         int64
	Earnings     decimal.Decimal
	InputTokens  int64
	OutputTokens int64
	UsedAt       time.Time
}

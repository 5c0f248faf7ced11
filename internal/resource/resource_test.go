package resource

import (
	"testing"
	"time"
)

func validResource() *Resource {
	return &Resource{
		ID:            "res-1",
		Name:          "Weather Tools",
		Kind:          KindToolServer,
		OriginAddress: "https://tools.example.com/mcp",
		PayoutAddress: "0x8D170Db9aB247E7013d024566093E13dc7b0f181",
		Pricing: Pricing{
			Model:         PricePerCall,
			DefaultAmount: "0.001",
			Currency:      "USDC",
		},
		Active:    true,
		CreatedAt: time.Now(),
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := validResource().Validate(); err != nil {
		t.Fatalf("valid resource rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Resource)
	}{
		{"missing id", func(r *Resource) { r.ID = "" }},
		{"unknown kind", func(r *Resource) { r.Kind = "lambda" }},
		{"missing origin", func(r *Resource) { r.OriginAddress = "" }},
		{"missing payout", func(r *Resource) { r.PayoutAddress = "" }},
		{"unparsable amount", func(r *Resource) { r.Pricing.DefaultAmount = "one cent" }},
		{"amount below floor", func(r *Resource) { r.Pricing.DefaultAmount = "0.00001" }},
		{"amount above ceiling", func(r *Resource) { r.Pricing.DefaultAmount = "11" }},
		{"zero amount", func(r *Resource) { r.Pricing.DefaultAmount = "0" }},
		{"negative amount", func(r *Resource) { r.Pricing.DefaultAmount = "-0.001" }},
		{"bad operation price", func(r *Resource) {
			r.Pricing.Model = PricePerOperation
			r.Pricing.OperationPricing = map[string]string{"get_weather": "100"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validResource()
			tc.mutate(r)
			if err := r.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsBoundaryAmounts(t *testing.T) {
	t.Parallel()

	for _, amount := range []string{"0.0001", "10"} {
		r := validResource()
		r.Pricing.DefaultAmount = amount
		if err := r.Validate(); err != nil {
			t.Fatalf("boundary amount %s rejected: %v", amount, err)
		}
	}
}

func TestAmountFor(t *testing.T) {
	t.Parallel()

	r := validResource()
	r.Pricing.Model = PricePerOperation
	r.Pricing.OperationPricing = map[string]string{"get_weather": "0.005"}

	if got := r.AmountFor("get_weather"); got != "0.005" {
		t.Fatalf("expected mapped price, got %s", got)
	}
	if got := r.AmountFor("get_news"); got != "0.001" {
		t.Fatalf("expected default fallback, got %s", got)
	}
	if got := r.AmountFor(""); got != "0.001" {
		t.Fatalf("expected default for empty operation, got %s", got)
	}

	// Per-call pricing ignores the operation name entirely.
	r.Pricing.Model = PricePerCall
	if got := r.AmountFor("get_weather"); got != "0.001" {
		t.Fatalf("per_call pricing should use default, got %s", got)
	}
}

package pricing

import (
	"errors"
	"testing"

	"github.com/ai402/gateway/internal/resource"
)

func toolServer(model resource.PricingModel, defaultAmount string, perOp map[string]string) *resource.Resource {
	return &resource.Resource{
		ID:            "res-1",
		Name:          "Weather Tools",
		Kind:          resource.KindToolServer,
		OriginAddress: "https://tools.example.com/mcp",
		PayoutAddress: "0x8D170Db9aB247E7013d024566093E13dc7b0f181",
		Pricing: resource.Pricing{
			Model:            model,
			DefaultAmount:    defaultAmount,
			Currency:         "USDC",
			OperationPricing: perOp,
		},
	}
}

func TestResolveDefaultAmount(t *testing.T) {
	t.Parallel()

	r := NewResolver("base-sepolia")
	charge, err := r.Resolve(toolServer(resource.PricePerCall, "0.001", nil), "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if charge.AtomicAmount != "1000" {
		t.Fatalf("expected atomic 1000 for 0.001 USDC, got %s", charge.AtomicAmount)
	}
	if charge.Asset.Address != "0x036CbD53842c5426634e7929541eC2318f3dCF7e" {
		t.Fatalf("unexpected asset %s", charge.Asset.Address)
	}
}

func TestResolvePerOperation(t *testing.T) {
	t.Parallel()

	res := toolServer(resource.PricePerOperation, "0.001", map[string]string{
		"get_weather": "0.005",
	})
	r := NewResolver("base-sepolia")

	charge, err := r.Resolve(res, "get_weather")
	if err != nil {
		t.Fatalf("Resolve mapped: %v", err)
	}
	if charge.AtomicAmount != "5000" {
		t.Fatalf("expected mapped atomic 5000, got %s", charge.AtomicAmount)
	}

	charge, err = r.Resolve(res, "get_news")
	if err != nil {
		t.Fatalf("Resolve fallback: %v", err)
	}
	if charge.AtomicAmount != "1000" {
		t.Fatalf("expected default atomic 1000, got %s", charge.AtomicAmount)
	}
}

func TestResolveConversionFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		network string
		amount  string
	}{
		{"unknown network", "solana-devnet", "0.001"},
		{"unparsable amount", "base-sepolia", "about one"},
		{"zero amount", "base-sepolia", "0"},
		{"excess precision", "base-sepolia", "0.0000001"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(tc.network)
			_, err := r.Resolve(toolServer(resource.PricePerCall, tc.amount, nil), "")
			if !errors.Is(err, ErrConversion) {
				t.Fatalf("expected ErrConversion, got %v", err)
			}
		})
	}
}

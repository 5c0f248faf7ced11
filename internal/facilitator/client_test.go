package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ai402/gateway/internal/x402"
)

func samplePayload() *x402.PaymentPayload {
	return &x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Payload:     map[string]any{"signature": "0xdeadbeef"},
	}
}

func sampleRequirements() *x402.PaymentRequirements {
	return &x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "1000",
		Resource:          "https://gw.example.com/proxy/res-1/mcp",
		PayTo:             "0x8D170Db9aB247E7013d024566093E13dc7b0f181",
		MaxTimeoutSeconds: 60,
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func TestVerifyPostsWireShape(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["x402Version"] != float64(1) {
			t.Errorf("expected x402Version 1, got %v", body["x402Version"])
		}
		if _, ok := body["paymentPayload"]; !ok {
			t.Errorf("missing paymentPayload")
		}
		if _, ok := body["paymentRequirements"]; !ok {
			t.Errorf("missing paymentRequirements")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"isValid": true,
			"payer":   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	resp, err := client.Verify(context.Background(), samplePayload(), sampleRequirements())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("expected valid verification")
	}
	if resp.Payer != "0x209693Bc6afc0C5328bA36FaF03C514EF312287C" {
		t.Fatalf("unexpected payer %s", resp.Payer)
	}
}

func TestVerifyInvalidReason(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"isValid":       false,
			"invalidReason": "insufficient_funds",
			"payer":         "0xdead",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	resp, err := client.Verify(context.Background(), samplePayload(), sampleRequirements())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if resp.IsValid {
		t.Fatalf("expected invalid verification")
	}
	if resp.InvalidReason != "insufficient_funds" {
		t.Fatalf("unexpected reason %q", resp.InvalidReason)
	}
}

func TestSettle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"transaction": "0xabc123",
			"network":     "base-sepolia",
			"payer":       "0x209693",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	resp, err := client.Settle(context.Background(), samplePayload(), sampleRequirements())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	receipt, err := resp.Receipt()
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if receipt.Transaction != "0xabc123" {
		t.Fatalf("unexpected transaction %s", receipt.Transaction)
	}
}

func TestNon200IsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	if _, err := client.Verify(context.Background(), samplePayload(), sampleRequirements()); err == nil {
		t.Fatalf("expected error on 500")
	}
}

type staticAuth struct{}

func (staticAuth) AuthHeaders(ctx context.Context, route string) (map[string]string, error) {
	return map[string]string{"Authorization": "Bearer test-token"}, nil
}

func TestAuthHeadersApplied(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("expected auth header, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"isValid": true})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, WithAuthProvider(staticAuth{}))
	if _, err := client.Verify(context.Background(), samplePayload(), sampleRequirements()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

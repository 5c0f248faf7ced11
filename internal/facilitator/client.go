// Package facilitator is the gateway's client for the external payment
// facilitator: the collaborator that cryptographically verifies payment
// proofs and executes on-chain settlement. The gateway only ever speaks the
// narrow verify/settle surface.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ai402/gateway/internal/x402"
)

// Client is the verify/settle contract the gateway depends on.
type Client interface {
	Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// AuthProvider supplies per-call auth headers for facilitators that require
// authentication (e.g. Coinbase CDP).
type AuthProvider interface {
	AuthHeaders(ctx context.Context, route string) (map[string]string, error)
}

// Routes relative to the facilitator base URL.
const (
	verifyRoute = "/verify"
	settleRoute = "/settle"
)

const defaultTimeout = 30 * time.Second

// HTTPClient talks to a facilitator over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	auth    AuthProvider
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithAuthProvider attaches per-call auth headers.
func WithAuthProvider(auth AuthProvider) Option {
	return func(c *HTTPClient) { c.auth = auth }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *HTTPClient) { c.http = httpClient }
}

// NewHTTPClient builds a facilitator client for the given base URL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireRequest is the body POSTed to both /verify and /settle.
type wireRequest struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *x402.PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the facilitator whether the proof satisfies the requirements.
func (c *HTTPClient) Verify(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	var resp x402.VerifyResponse
	if err := c.post(ctx, verifyRoute, payload, requirements, &resp); err != nil {
		return nil, fmt.Errorf("facilitator verify: %w", err)
	}
	return &resp, nil
}

// Settle asks the facilitator to finalize a verified payment on-chain.
func (c *HTTPClient) Settle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*x402.SettleResponse, error) {
	var resp x402.SettleResponse
	if err := c.post(ctx, settleRoute, payload, requirements, &resp); err != nil {
		return nil, fmt.Errorf("facilitator settle: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) post(ctx context.Context, route string, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements, out any) error {
	body, err := json.Marshal(wireRequest{
		X402Version:         x402.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.auth != nil {
		headers, err := c.auth.AuthHeaders(ctx, route)
		if err != nil {
			return fmt.Errorf("auth headers: %w", err)
		}
		for name, value := range headers {
			req.Header.Set(name, value)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(raw, 256))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

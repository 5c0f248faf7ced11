// Package gate enforces payment on billable requests. The payment gate builds
// the per-request requirement set and validates caller proofs against the
// facilitator; the settlement executor finalizes verified payments after the
// origin has answered.
package gate

import (
	"context"
	"fmt"

	"github.com/ai402/gateway/internal/facilitator"
	"github.com/ai402/gateway/internal/pricing"
	"github.com/ai402/gateway/internal/resource"
	"github.com/ai402/gateway/internal/x402"
)

// RejectionKind distinguishes why a proof was not accepted. All kinds map to
// a 402 challenge; the kind only feeds logging and tests.
type RejectionKind string

const (
	RejectProofMissing   RejectionKind = "proof_missing"
	RejectProofMalformed RejectionKind = "proof_malformed"
	RejectProofInvalid   RejectionKind = "proof_invalid"
	RejectVerifyFailed   RejectionKind = "verify_unavailable"
)

// Rejection explains a refused payment. Payer is set when the facilitator
// could recover the payer address from the presented proof despite rejecting.
type Rejection struct {
	Kind   RejectionKind
	Reason string
	Payer  string
}

// VerifiedPayment is a proof the facilitator has accepted, plus the resolved
// payer address.
type VerifiedPayment struct {
	Payload *x402.PaymentPayload
	Payer   string
}

// Gate verifies payment proofs and settles verified payments.
type Gate struct {
	facilitator facilitator.Client
}

// New returns a Gate backed by the given facilitator client.
func New(client facilitator.Client) *Gate {
	return &Gate{facilitator: client}
}

// Challenge builds the requirement set for a billable request. resourceURL
// must be the exact externally visible URL the caller invoked; the
// facilitator binds verification to it.
func (g *Gate) Challenge(res *resource.Resource, charge *pricing.Charge, resourceURL string) []x402.PaymentRequirements {
	description := fmt.Sprintf("Payment for %s", res.Name)
	if charge.Operation != "" {
		description = fmt.Sprintf("Payment for %s - %s", res.Name, charge.Operation)
	}

	return []x402.PaymentRequirements{
		{
			Scheme:            x402.SchemeExact,
			Network:           charge.Network,
			MaxAmountRequired: charge.AtomicAmount,
			Resource:          resourceURL,
			Description:       description,
			MimeType:          "application/json",
			PayTo:             res.PayoutAddress,
			MaxTimeoutSeconds: 60,
			Asset:             charge.Asset.Address,
			Extra: map[string]any{
				"name":    charge.Asset.Name,
				"version": charge.Asset.Version,
			},
		},
	}
}

// Verify decodes the proof header and checks it with the facilitator against
// the first requirement. A nil Rejection means the payment is verified.
func (g *Gate) Verify(ctx context.Context, proofHeader string, requirements []x402.PaymentRequirements) (*VerifiedPayment, *Rejection) {
	if proofHeader == "" {
		return nil, &Rejection{
			Kind:   RejectProofMissing,
			Reason: x402.PaymentHeader + " header is required",
		}
	}

	payload, err := x402.DecodePayment(proofHeader)
	if err != nil {
		return nil, &Rejection{
			Kind:   RejectProofMalformed,
			Reason: fmt.Sprintf("invalid or malformed payment header: %v", err),
		}
	}

	resp, err := g.facilitator.Verify(ctx, payload, &requirements[0])
	if err != nil {
		return nil, &Rejection{
			Kind:   RejectVerifyFailed,
			Reason: fmt.Sprintf("payment verification failed: %v", err),
		}
	}
	if !resp.IsValid {
		reason := resp.InvalidReason
		if reason == "" {
			reason = "payment verification failed"
		}
		return nil, &Rejection{
			Kind:   RejectProofInvalid,
			Reason: reason,
			Payer:  resp.Payer,
		}
	}

	payer := resp.Payer
	if payer == "" {
		payer = payload.PayerHint()
	}
	return &VerifiedPayment{Payload: payload, Payer: payer}, nil
}

// Settle finalizes a verified payment and normalizes the facilitator's reply
// into a settlement receipt.
func (g *Gate) Settle(ctx context.Context, payment *VerifiedPayment, requirements *x402.PaymentRequirements) (*x402.SettlementReceipt, error) {
	resp, err := g.facilitator.Settle(ctx, payment.Payload, requirements)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		reason := resp.ErrorReason
		if reason == "" {
			reason = "settlement failed"
		}
		return nil, fmt.Errorf("settlement rejected: %s", reason)
	}
	receipt, err := resp.Receipt()
	if err != nil {
		return nil, fmt.Errorf("normalize settle response: %w", err)
	}
	if receipt.Payer == "" {
		receipt.Payer = payment.Payer
	}
	return receipt, nil
}

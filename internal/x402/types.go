// Package x402 defines the payment protocol wire types the gateway exchanges
// with callers and with the payment facilitator: requirement sets, decoded
// payment proofs, challenge documents and settlement receipts.
//
// The shapes follow x402 protocol version 1, the version the reference
// facilitator speaks: amounts travel as maxAmountRequired in the asset's
// atomic unit, and proofs arrive base64-encoded in the X-PAYMENT header.
package x402

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the x402 protocol version used on every wire document.
const ProtocolVersion = 1

// Header names used on the inbound HTTP surface.
const (
	// PaymentHeader carries the caller's base64-encoded payment proof.
	PaymentHeader = "X-PAYMENT"
	// SettleResponseHeader carries the base64-encoded settlement receipt on
	// successful billable responses.
	SettleResponseHeader = "X-PAYMENT-RESPONSE"
)

// SchemeExact is the only payment scheme the gateway issues requirements for.
const SchemeExact = "exact"

// PaymentRequirements describes one acceptable way to pay for a request.
// Derived fresh per request and never persisted.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentRequired is the challenge document returned with HTTP 402. Every
// rejection re-emits the full requirement set so the caller can retry.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Payer       string                `json:"payer,omitempty"`
}

// PaymentPayload is a caller-supplied payment proof decoded from the
// X-PAYMENT header. It exists only for the duration of one request.
type PaymentPayload struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     map[string]any `json:"payload"`
}

// PayerHint extracts the payer address embedded in the proof's authorization,
// when present. The authoritative payer is whatever the facilitator reports.
func (p *PaymentPayload) PayerHint() string {
	auth, ok := p.Payload["authorization"].(map[string]any)
	if !ok {
		return ""
	}
	from, _ := auth["from"].(string)
	return from
}

// VerifyResponse is the facilitator's answer to a verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's raw answer to a settle call. The
// transaction field is left raw because facilitators disagree on its shape:
// some return a bare hash string, others a structured object.
type SettleResponse struct {
	Success     bool            `json:"success"`
	Transaction json.RawMessage `json:"transaction,omitempty"`
	TxHash      string          `json:"txHash,omitempty"`
	BlockNumber int64           `json:"blockNumber,omitempty"`
	GasUsed     string          `json:"gasUsed,omitempty"`
	Payer       string          `json:"payer,omitempty"`
	Network     string          `json:"network,omitempty"`
	ErrorReason string          `json:"errorReason,omitempty"`
}

// SettlementReceipt is the normalized record of a finalized payment.
type SettlementReceipt struct {
	Transaction string `json:"transaction"`
	BlockNumber int64  `json:"blockNumber,omitempty"`
	GasUsed     string `json:"gasUsed,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Network     string `json:"network,omitempty"`
	Success     bool   `json:"success"`
}

// Receipt normalizes the settle reply into a SettlementReceipt, accepting
// both the bare-string and structured-object transaction forms.
func (s *SettleResponse) Receipt() (*SettlementReceipt, error) {
	receipt := &SettlementReceipt{
		Transaction: s.TxHash,
		BlockNumber: s.BlockNumber,
		GasUsed:     s.GasUsed,
		Payer:       s.Payer,
		Network:     s.Network,
		Success:     s.Success,
	}

	if len(s.Transaction) > 0 {
		var hash string
		if err := json.Unmarshal(s.Transaction, &hash); err == nil {
			if hash != "" {
				receipt.Transaction = hash
			}
		} else {
			var structured struct {
				Hash        string `json:"hash"`
				TxHash      string `json:"txHash"`
				BlockNumber int64  `json:"blockNumber"`
				GasUsed     string `json:"gasUsed"`
			}
			if err := json.Unmarshal(s.Transaction, &structured); err != nil {
				return nil, fmt.Errorf("unrecognized transaction shape: %w", err)
			}
			switch {
			case structured.Hash != "":
				receipt.Transaction = structured.Hash
			case structured.TxHash != "":
				receipt.Transaction = structured.TxHash
			}
			if structured.BlockNumber != 0 {
				receipt.BlockNumber = structured.BlockNumber
			}
			if structured.GasUsed != "" {
				receipt.GasUsed = structured.GasUsed
			}
		}
	}

	if receipt.Transaction == "" {
		return nil, fmt.Errorf("settle response carries no transaction reference")
	}
	return receipt, nil
}

package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DecodePayment decodes a base64 X-PAYMENT header into a PaymentPayload.
// Both padded and unpadded base64 are accepted, since clients disagree.
func DecodePayment(header string) (*PaymentPayload, error) {
	if header == "" {
		return nil, fmt.Errorf("empty payment header")
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(header)
		if err != nil {
			return nil, fmt.Errorf("decode payment header: %w", err)
		}
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse payment payload: %w", err)
	}
	if payload.Scheme == "" || payload.Network == "" {
		return nil, fmt.Errorf("payment payload missing scheme or network")
	}
	if len(payload.Payload) == 0 {
		return nil, fmt.Errorf("payment payload missing signed body")
	}
	return &payload, nil
}

// EncodeReceiptHeader encodes a settlement receipt for the
// X-PAYMENT-RESPONSE header.
func EncodeReceiptHeader(receipt *SettlementReceipt) (string, error) {
	raw, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("marshal settlement receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

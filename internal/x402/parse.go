package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// maxUint256 bounds every amount the protocol carries: [1, 2^256).
var maxUint256 = new(big.Int).Lsh(big.NewInt(1), 256)

// VerifyRequest is the request envelope for /verify and /settle. Both
// "paymentPayload" and the older "payload" key are accepted, and the
// x402 version may appear at the top level instead of inside the payload.
type VerifyRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload      json.RawMessage      `json:"paymentPayload"`
	Payload             json.RawMessage      `json:"payload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

// DecodeRequest parses a verify/settle request body into a normalized
// payload and requirements pair. Structural failures return an error with
// the matching closed-set reason; the caller maps it to HTTP 400.
func DecodeRequest(body []byte) (*PaymentPayload, *PaymentRequirements, error) {
	var req VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, &RequestError{Reason: ReasonInvalidPayload, Err: err}
	}

	raw := req.PaymentPayload
	if len(raw) == 0 {
		raw = req.Payload
	}
	if len(raw) == 0 {
		return nil, nil, &RequestError{Reason: ReasonInvalidPayload, Err: fmt.Errorf("missing payment payload")}
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, &RequestError{Reason: ReasonInvalidPayload, Err: err}
	}
	if !payload.Payload.Valid() {
		return nil, nil, &RequestError{Reason: ReasonInvalidPayload, Err: fmt.Errorf("authorization matches neither variant")}
	}

	if req.PaymentRequirements == nil {
		return nil, nil, &RequestError{Reason: ReasonInvalidPaymentRequirements, Err: fmt.Errorf("missing payment requirements")}
	}
	reqs := req.PaymentRequirements

	// Top-level version wins only when the payload does not carry one.
	if payload.X402Version == 0 {
		payload.X402Version = req.X402Version
	}

	Normalize(&payload, reqs)
	return &payload, reqs, nil
}

// Normalize copies scheme, network and version from the requirements into
// the payload when the payload omits them. This reconciles the two client
// formats in circulation.
func Normalize(p *PaymentPayload, r *PaymentRequirements) {
	if p.Scheme == "" {
		p.Scheme = r.Scheme
	}
	if p.Network == "" {
		p.Network = r.Network
	}
	if p.X402Version == 0 {
		p.X402Version = 1
	}
}

// RequestError pairs a structural decoding failure with its reason code.
type RequestError struct {
	Reason string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ParseAmount validates a protocol amount: a non-empty base-10 integer in
// [1, 2^256). Everything else is rejected.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", s)
	}
	if v.Sign() < 1 {
		return nil, fmt.Errorf("amount must be at least 1")
	}
	if v.Cmp(maxUint256) >= 0 {
		return nil, fmt.Errorf("amount exceeds uint256")
	}
	return v, nil
}

// ParseTimestamp validates a non-negative base-10 uint256 field.
// Timestamps, deadlines and Permit2 nonces all travel in this shape;
// zero is allowed.
func ParseTimestamp(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty timestamp")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("timestamp %q is not a base-10 integer", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("timestamp must not be negative")
	}
	if v.Cmp(maxUint256) >= 0 {
		return nil, fmt.Errorf("timestamp exceeds uint256")
	}
	return v, nil
}

// NormalizeNonce32 turns a direct-auth nonce into its canonical 0x-prefixed
// 32-byte hex form. Hex input must be exactly 32 bytes; decimal input is
// left-padded.
func NormalizeNonce32(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty nonce")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		hexPart := s[2:]
		if len(hexPart) != 64 {
			return "", fmt.Errorf("hex nonce must be 32 bytes, got %d chars", len(hexPart))
		}
		if _, ok := new(big.Int).SetString(hexPart, 16); !ok {
			return "", fmt.Errorf("nonce %q is not valid hex", s)
		}
		return "0x" + strings.ToLower(hexPart), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return "", fmt.Errorf("nonce %q is neither hex nor decimal", s)
	}
	if v.Sign() < 0 {
		return "", fmt.Errorf("nonce must not be negative")
	}
	if v.BitLen() > 256 {
		return "", fmt.Errorf("nonce exceeds 32 bytes")
	}
	return fmt.Sprintf("0x%064x", v), nil
}

// ParsePaymentHeader decodes the base64 X-PAYMENT header form of a payment
// payload.
func ParsePaymentHeader(header string) (*PaymentPayload, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("payment header is not base64: %w", err)
	}
	var payload PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("payment header is not a payment payload: %w", err)
	}
	if !payload.Payload.Valid() {
		return nil, fmt.Errorf("payment header authorization matches neither variant")
	}
	return &payload, nil
}

// EncodePaymentHeader is the inverse of ParsePaymentHeader.
func EncodePaymentHeader(p *PaymentPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

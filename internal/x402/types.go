// Package x402 implements the wire types and signature engine for the
// x402 payment protocol: payment requirements, the two authorization
// variants (Permit2 witness-spend and ERC-3009 direct-auth), typed-data
// hashing, and signer recovery.
package x402

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Protocol identifies which authorization variant a payload carries.
type Protocol string

const (
	// ProtocolWitnessSpend is the Permit2 witness-transfer variant: the payer
	// signs a PermitWitnessTransferFrom with an attached transfer witness.
	ProtocolWitnessSpend Protocol = "witness-spend"
	// ProtocolDirectAuth is the ERC-3009 variant: the token contract itself
	// verifies and executes transferWithAuthorization.
	ProtocolDirectAuth Protocol = "direct-auth"
)

// Accepted x402 protocol versions.
var AcceptedVersions = map[int]bool{1: true, 2: true}

// SchemeExact is the only payment scheme this facilitator supports.
const SchemeExact = "exact"

// PaymentRequirements is the resource server's offer: what it wants to be
// paid, where, and in which token. Field names follow the x402 wire format.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource,omitempty"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// requirementsAlias lets us accept the legacy "token" key for Asset without
// a custom decoder for every other field.
type requirementsAlias PaymentRequirements

// UnmarshalJSON accepts both "asset" and the older "token" field name.
func (r *PaymentRequirements) UnmarshalJSON(data []byte) error {
	var alias requirementsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	if alias.Asset == "" {
		var legacy struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(data, &legacy); err == nil {
			alias.Asset = legacy.Token
		}
	}
	*r = PaymentRequirements(alias)
	return nil
}

// ActualRecipient returns extra.actualRecipient when present, used to
// override the ultimate recipient when payTo is a fee-splitter contract.
func (r *PaymentRequirements) ActualRecipient() string {
	if r.Extra == nil {
		return ""
	}
	if v, ok := r.Extra["actualRecipient"].(string); ok {
		return v
	}
	return ""
}

// PaymentPayload is the client-signed payment envelope.
type PaymentPayload struct {
	X402Version int           `json:"x402Version"`
	Scheme      string        `json:"scheme"`
	Network     string        `json:"network"`
	Payload     Authorization `json:"payload"`
}

// TokenPermissions is the (token, amount) pair the payer permits Permit2
// to spend.
type TokenPermissions struct {
	Token  string     `json:"token"`
	Amount FlexString `json:"amount"`
}

// TransferWitness is the application witness bound into the Permit2
// signature: who receives the funds and in which time window.
type TransferWitness struct {
	Receiver    string     `json:"receiver"`
	ValidAfter  FlexString `json:"validAfter"`
	ValidBefore FlexString `json:"validBefore"`
}

// WitnessSpend is the Permit2 witness-spend authorization.
type WitnessSpend struct {
	Permitted TokenPermissions `json:"permitted"`
	Spender   string           `json:"spender"`
	Nonce     FlexString       `json:"nonce"`
	Deadline  FlexString       `json:"deadline"`
	Witness   TransferWitness  `json:"witness"`
	Signature string           `json:"signature"`
}

// DirectAuth is the ERC-3009 transferWithAuthorization authorization.
// Nonce is a 32-byte tag, hex or decimal on the wire.
type DirectAuth struct {
	From        string     `json:"from"`
	To          string     `json:"to"`
	Value       FlexString `json:"value"`
	ValidAfter  FlexString `json:"validAfter"`
	ValidBefore FlexString `json:"validBefore"`
	Nonce       string     `json:"nonce"`
	Signature   string     `json:"signature"`
}

// Authorization is the sum type over the two variants. Exactly one of
// Witness and Direct is non-nil after a successful decode.
type Authorization struct {
	Witness *WitnessSpend
	Direct  *DirectAuth
}

// Protocol reports which variant this authorization carries.
func (a *Authorization) Protocol() Protocol {
	if a.Witness != nil {
		return ProtocolWitnessSpend
	}
	return ProtocolDirectAuth
}

// Valid reports whether exactly one variant is set.
func (a *Authorization) Valid() bool {
	return (a.Witness != nil) != (a.Direct != nil)
}

// UnmarshalJSON detects the payload shape once and decodes the matching
// variant. Both the flat form and the nested envelope forms
// ({"permit2Authorization": {...}} / {"authorization": {...}} with a
// sibling signature) are accepted; clients differ here.
func (a *Authorization) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("authorization is not an object: %w", err)
	}

	signature := stringField(fields, "signature")

	// Nested witness envelope.
	if raw, ok := fields["permit2Authorization"]; ok {
		w := &WitnessSpend{}
		if err := json.Unmarshal(raw, w); err != nil {
			return fmt.Errorf("invalid permit2 authorization: %w", err)
		}
		if w.Signature == "" {
			w.Signature = signature
		}
		a.Witness = w
		return nil
	}

	// Nested envelope that may hold either variant.
	if raw, ok := fields["authorization"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("invalid authorization: %w", err)
		}
		if _, witness := inner["permitted"]; witness {
			w := &WitnessSpend{}
			if err := json.Unmarshal(raw, w); err != nil {
				return fmt.Errorf("invalid witness authorization: %w", err)
			}
			if w.Signature == "" {
				w.Signature = signature
			}
			a.Witness = w
			return nil
		}
		d := &DirectAuth{}
		if err := json.Unmarshal(raw, d); err != nil {
			return fmt.Errorf("invalid direct authorization: %w", err)
		}
		if d.Signature == "" {
			d.Signature = signature
		}
		a.Direct = d
		return nil
	}

	// Flat witness form: permitted at the top level.
	if _, ok := fields["permitted"]; ok {
		w := &WitnessSpend{}
		if err := json.Unmarshal(data, w); err != nil {
			return fmt.Errorf("invalid witness authorization: %w", err)
		}
		a.Witness = w
		return nil
	}

	// Flat direct form: from/to/value at the top level.
	_, hasFrom := fields["from"]
	_, hasTo := fields["to"]
	_, hasValue := fields["value"]
	if hasFrom && hasTo && hasValue {
		d := &DirectAuth{}
		if err := json.Unmarshal(data, d); err != nil {
			return fmt.Errorf("invalid direct authorization: %w", err)
		}
		a.Direct = d
		return nil
	}

	return fmt.Errorf("authorization matches neither variant")
}

// MarshalJSON emits the flat form of whichever variant is set.
func (a Authorization) MarshalJSON() ([]byte, error) {
	switch {
	case a.Witness != nil:
		return json.Marshal(a.Witness)
	case a.Direct != nil:
		return json.Marshal(a.Direct)
	default:
		return []byte("null"), nil
	}
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// FlexString decodes from either a JSON string or a JSON number; clients
// disagree on how uint256 values are serialized.
type FlexString string

// UnmarshalJSON implements the string-or-number acceptance.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// MarshalJSON always emits a string; uint256 values overflow JSON numbers.
func (f FlexString) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(f))), nil
}

func (f FlexString) String() string { return string(f) }

// VerifyResult is the verifier's outcome.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	Payer         string `json:"payer,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// SettleResult is the settlement orchestrator's outcome. Success false
// still returns HTTP 200; ErrorReason carries the closed-set code.
type SettleResult struct {
	Success       bool     `json:"success"`
	TransactionID string   `json:"transactionId,omitempty"`
	Transaction   string   `json:"transaction,omitempty"`
	Network       string   `json:"network,omitempty"`
	Payer         string   `json:"payer,omitempty"`
	Fee           string   `json:"fee,omitempty"`
	Protocol      Protocol `json:"protocol,omitempty"`
	BlockNumber   uint64   `json:"blockNumber,omitempty"`
	ErrorReason   string   `json:"errorReason,omitempty"`
}

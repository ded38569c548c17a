package wallet

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"tollgate/internal/x402"
)

// TestPayer is a payer wallet that needs no OS keyring. Tests and the
// payment test client use it to produce fully signed payloads.
type TestPayer struct {
	*Signer
}

// NewTestPayer creates a payer with a random key.
func NewTestPayer() (*TestPayer, error) {
	s, err := Generate()
	if err != nil {
		return nil, err
	}
	return &TestPayer{Signer: s}, nil
}

// NewTestPayerFromKey creates a payer from a hex private key.
func NewTestPayerFromKey(privateKeyHex string) (*TestPayer, error) {
	s, err := NewSigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return &TestPayer{Signer: s}, nil
}

// PaymentParams describes the payment a test payer should sign.
type PaymentParams struct {
	Network  string
	ChainID  int64
	Token    string
	Amount   string
	Receiver string
	// Spender is required for witness-spend payloads.
	Spender string
	// Domain is required for direct-auth payloads.
	Domain x402.ERC3009Domain
	// Nonce is randomized when empty.
	Nonce string
	// ValidFor bounds the authorization window; default 10 minutes.
	ValidFor time.Duration
}

func (p PaymentParams) window() (validAfter, validBefore string) {
	d := p.ValidFor
	if d == 0 {
		d = 10 * time.Minute
	}
	now := time.Now()
	return "0", fmt.Sprintf("%d", now.Add(d).Unix())
}

// SignedWitnessPayload builds and signs a Permit2 witness-spend payload.
func (p *TestPayer) SignedWitnessPayload(params PaymentParams) (*x402.PaymentPayload, error) {
	nonce := params.Nonce
	if nonce == "" {
		n, err := randomUint256()
		if err != nil {
			return nil, err
		}
		nonce = n
	}
	validAfter, validBefore := params.window()

	ws := &x402.WitnessSpend{
		Permitted: x402.TokenPermissions{
			Token:  params.Token,
			Amount: x402.FlexString(params.Amount),
		},
		Spender:  params.Spender,
		Nonce:    x402.FlexString(nonce),
		Deadline: x402.FlexString(validBefore),
		Witness: x402.TransferWitness{
			Receiver:    params.Receiver,
			ValidAfter:  x402.FlexString(validAfter),
			ValidBefore: x402.FlexString(validBefore),
		},
	}
	if err := p.SignWitnessSpend(params.ChainID, ws); err != nil {
		return nil, err
	}

	return &x402.PaymentPayload{
		X402Version: 1,
		Scheme:      x402.SchemeExact,
		Network:     params.Network,
		Payload:     x402.Authorization{Witness: ws},
	}, nil
}

// SignedDirectPayload builds and signs an ERC-3009 direct-auth payload.
func (p *TestPayer) SignedDirectPayload(params PaymentParams) (*x402.PaymentPayload, error) {
	nonce := params.Nonce
	if nonce == "" {
		n, err := randomBytes32()
		if err != nil {
			return nil, err
		}
		nonce = n
	}
	validAfter, validBefore := params.window()

	da := &x402.DirectAuth{
		From:        p.AddressString(),
		To:          params.Receiver,
		Value:       x402.FlexString(params.Amount),
		ValidAfter:  x402.FlexString(validAfter),
		ValidBefore: x402.FlexString(validBefore),
		Nonce:       nonce,
	}
	if err := p.SignDirectAuth(params.Domain, params.ChainID, params.Token, da); err != nil {
		return nil, err
	}

	return &x402.PaymentPayload{
		X402Version: 1,
		Scheme:      x402.SchemeExact,
		Network:     params.Network,
		Payload:     x402.Authorization{Direct: da},
	}, nil
}

// PaymentHeader encodes a payload in X-PAYMENT header form.
func (p *TestPayer) PaymentHeader(payload *x402.PaymentPayload) (string, error) {
	return x402.EncodePaymentHeader(payload)
}

func randomUint256() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random nonce: %w", err)
	}
	return new(big.Int).SetBytes(buf).String(), nil
}

func randomBytes32() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random nonce: %w", err)
	}
	return fmt.Sprintf("0x%064x", new(big.Int).SetBytes(buf)), nil
}

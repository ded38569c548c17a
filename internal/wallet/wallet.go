// Package wallet holds the facilitator's signing key: the hot signer the
// settlement path uses, and a keyring-backed store the CLI uses to keep
// the key out of shell history and env files.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"tollgate/internal/x402"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer owns the facilitator private key for one process lifetime. All
// settlement transactions and payment test signatures go through it.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key, with or without 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("empty private key")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Generate creates a signer with a fresh random key.
func Generate() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address { return s.address }

// AddressString returns the checksummed hex address.
func (s *Signer) AddressString() string { return s.address.Hex() }

// SignTx signs a transaction for the given chain.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.NewLondonSigner(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// SignDigest signs a 32-byte EIP-712 digest, returning the 0x-prefixed
// 65-byte signature with v in {27,28}.
func (s *Signer) SignDigest(digest []byte) (string, error) {
	return x402.SignDigest(digest, s.key)
}

// SignWitnessSpend fills in the authorization's signature field. Used by
// the payment test client and the test suite.
func (s *Signer) SignWitnessSpend(chainID int64, ws *x402.WitnessSpend) error {
	digest, err := x402.WitnessDigest(chainID, ws)
	if err != nil {
		return err
	}
	sig, err := s.SignDigest(digest)
	if err != nil {
		return err
	}
	ws.Signature = sig
	return nil
}

// SignDirectAuth fills in the authorization's signature field.
func (s *Signer) SignDirectAuth(domain x402.ERC3009Domain, chainID int64, tokenAddress string, da *x402.DirectAuth) error {
	digest, err := x402.DirectAuthDigest(domain, chainID, tokenAddress, da)
	if err != nil {
		return err
	}
	sig, err := s.SignDigest(digest)
	if err != nil {
		return err
	}
	da.Signature = sig
	return nil
}

// ExportHex returns the private key as hex. Handle with care.
func (s *Signer) ExportHex() string {
	return "0x" + common.Bytes2Hex(crypto.FromECDSA(s.key))
}

// Zero wipes the key material. The signer is unusable afterwards.
func (s *Signer) Zero() {
	if s.key != nil && s.key.D != nil {
		s.key.D.SetUint64(0)
	}
}

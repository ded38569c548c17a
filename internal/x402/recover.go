package x402

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecoverSigner recovers the lowercased signer address from a 65-byte
// secp256k1 signature over an EIP-712 digest. Ethereum wallets emit
// v in {27,28}; crypto.SigToPub wants {0,1}, so the copy is normalized
// without touching the caller's slice.
func RecoverSigner(digest []byte, signature string) (string, error) {
	sig := common.FromHex(signature)
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	norm := make([]byte, 65)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	if norm[64] > 1 {
		return "", fmt.Errorf("invalid recovery id %d", sig[64])
	}
	pub, err := crypto.SigToPub(digest, norm)
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// SignDigest signs an EIP-712 digest and returns the 0x-prefixed 65-byte
// signature with v in {27,28}, the form wallets produce and contracts
// expect.
func SignDigest(digest []byte, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("sign digest: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

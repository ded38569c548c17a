package testutil

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomWalletAddress generates a random Ethereum wallet address for testing
func RandomWalletAddress() string {
	var b [20]byte
	rand.Read(b[:]) //nolint:errcheck
	return fmt.Sprintf("0x%040x", new(big.Int).SetBytes(b[:]))
}

// RandomNonce generates a random 32-byte nonce in canonical hex form
func RandomNonce() string {
	var b [32]byte
	rand.Read(b[:]) //nolint:errcheck
	return fmt.Sprintf("0x%064x", new(big.Int).SetBytes(b[:]))
}

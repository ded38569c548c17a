package cli

import "time"

const (
	// Private key validation (always validated after stripping 0x prefix)
	PrivateKeyHexLength = 64

	// File size limits
	MaxKeyFileSize = 1024 // 1 KB

	// Defaults
	DefaultAPIEndpoint   = "http://localhost:8402"
	DefaultRecentLimit   = 20
	MaxRecentLimit       = 100
	DefaultWatchInterval = 5 * time.Second

	// Public RPC endpoints used by the health command. The facilitator
	// itself may be configured with different ones.
	BaseMainnetRPC = "https://mainnet.base.org"
	BaseSepoliaRPC = "https://sepolia.base.org"

	// Keyring item names
	DefaultKeyLabel = "facilitator"
	adminTokenItem  = "admin-token"
)

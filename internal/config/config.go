package config

import (
	"encoding/hex"
	"errors"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Environment represents the runtime environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// Public RPC endpoints used when no RPC_URL_* is configured in
// development. Production must bring its own.
const (
	DefaultRPCBase        = "https://mainnet.base.org"
	DefaultRPCBaseSepolia = "https://sepolia.base.org"
)

// Config holds all service configuration
type Config struct {
	Environment Environment
	Server      ServerConfig
	Database    DatabaseConfig
	Facilitator FacilitatorConfig
	Chains      ChainConfig
	Admin       AdminConfig
	Prices      PriceConfig
	RateLimit   RateLimitConfig
	Webhooks    WebhookConfig
	Reconcile   ReconcileConfig
	KMS         KMSConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ProxyHeader    string
	TrustedProxies []string
	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL connection configuration. Only the
// presence signal lives here; db.LoadConfig reads the full DSN parts.
// An empty config in development selects the in-memory stores.
type DatabaseConfig struct {
	URL  string
	Host string
}

// Configured reports whether any database connection was supplied.
func (d DatabaseConfig) Configured() bool {
	return d.URL != "" || d.Host != ""
}

// FacilitatorConfig holds the signing key source and settlement policy.
type FacilitatorConfig struct {
	// PrivateKey is the raw facilitator key (0x + 64 hex). Mutually
	// exclusive with PrivateKeyCiphertext.
	PrivateKey string
	// PrivateKeyCiphertext is a base64 KMS ciphertext of the key,
	// decrypted at boot with the KMS section.
	PrivateKeyCiphertext string

	Mode                string
	SplitterBase        string
	SplitterBaseSepolia string
	ProxyAddress        string
	Treasury            string

	SettlementTimeout time.Duration
	Confirmations     int
	MaxGasPriceWei    string
	MinSettlementUnit string

	DefaultFeeBps   int
	FeeExemptTokens []string
}

// HasKey reports whether any key source is configured. Without one the
// service runs verify-only.
func (f FacilitatorConfig) HasKey() bool {
	return f.PrivateKey != "" || f.PrivateKeyCiphertext != ""
}

// SplitterFor returns the configured fee-splitter address for a chain
// id, or "" when that chain has none.
func (f FacilitatorConfig) SplitterFor(chainID int64) string {
	switch chainID {
	case 8453:
		return f.SplitterBase
	case 84532:
		return f.SplitterBaseSepolia
	default:
		return ""
	}
}

// ChainConfig holds RPC endpoints per supported network
type ChainConfig struct {
	RPCURLBase        string
	RPCURLBaseSepolia string
}

// URLFor returns the configured RPC endpoint for a chain id, or ""
// when that chain has no endpoint.
func (c ChainConfig) URLFor(chainID int64) string {
	switch chainID {
	case 8453:
		return c.RPCURLBase
	case 84532:
		return c.RPCURLBaseSepolia
	default:
		return ""
	}
}

// AdminConfig holds admin route authentication. JWTSecret selects HS256
// verification, JWKSURL remote key sets; configuring both is an error.
// With neither the admin routes answer 503.
type AdminConfig struct {
	JWTSecret string
	JWKSURL   string
	Issuer    string
	Audience  string
}

// Enabled reports whether admin authentication is configured at all.
func (a AdminConfig) Enabled() bool {
	return a.JWTSecret != "" || a.JWKSURL != ""
}

// PriceConfig holds the USD price oracle configuration
type PriceConfig struct {
	OracleURL       string
	RefreshInterval time.Duration
}

// RateLimitConfig holds per-IP request budgets
type RateLimitConfig struct {
	Enabled         bool
	VerifyPerMinute int
	SettlePerMinute int
	AdminPerMinute  int
}

// WebhookConfig holds webhook delivery configuration
type WebhookConfig struct {
	Timeout         time.Duration
	RefreshInterval time.Duration
}

// ReconcileConfig holds the stale-settlement reconciler configuration
type ReconcileConfig struct {
	Interval time.Duration
}

// KMSConfig holds AWS KMS configuration for facilitator key decryption
type KMSConfig struct {
	Region string // AWS region (e.g., "us-east-1")
	KeyID  string // KMS key ARN or alias (e.g., "alias/tollgate-facilitator")
}

// Load loads configuration from environment variables
func Load() *Config {
	env := Environment(getEnv("ENVIRONMENT", string(EnvDevelopment)))

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:           getEnv("PORT", "8402"),
			ReadTimeout:    getDuration("READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
			ProxyHeader:    getEnv("PROXY_HEADER", ""),
			TrustedProxies: getEnvSlice("TRUSTED_PROXIES", nil),
			AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			URL:  os.Getenv("DATABASE_URL"),
			Host: os.Getenv("DB_HOST"),
		},
		Facilitator: FacilitatorConfig{
			PrivateKey:           getEnv("FACILITATOR_PRIVATE_KEY", ""),
			PrivateKeyCiphertext: getEnv("FACILITATOR_PRIVATE_KEY_CIPHERTEXT", ""),
			Mode:                 getEnv("SETTLEMENT_MODE", "direct"),
			SplitterBase:         getEnv("SPLITTER_ADDRESS_BASE", ""),
			SplitterBaseSepolia:  getEnv("SPLITTER_ADDRESS_BASE_SEPOLIA", ""),
			ProxyAddress:         getEnv("PERMIT2_PROXY_ADDRESS", ""),
			Treasury:             getEnv("TREASURY_ADDRESS", ""),
			SettlementTimeout:    time.Duration(getInt("SETTLEMENT_TIMEOUT_MS", 60000)) * time.Millisecond,
			Confirmations:        getInt("CONFIRMATIONS", 1),
			MaxGasPriceWei:       getEnv("MAX_GAS_PRICE_WEI", ""),
			MinSettlementUnit:    getEnv("MIN_SETTLEMENT_UNIT", "0"),
			DefaultFeeBps:        getInt("DEFAULT_FEE_BPS", 10),
			FeeExemptTokens:      getEnvSlice("FEE_EXEMPT_TOKENS", nil),
		},
		Chains: ChainConfig{
			RPCURLBase:        getEnv("RPC_URL_BASE", ""),
			RPCURLBaseSepolia: getEnv("RPC_URL_BASE_SEPOLIA", ""),
		},
		Admin: AdminConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
			JWKSURL:   getEnv("ADMIN_JWKS_URL", ""),
			Issuer:    getEnv("ADMIN_JWT_ISSUER", ""),
			Audience:  getEnv("ADMIN_JWT_AUDIENCE", ""),
		},
		Prices: PriceConfig{
			OracleURL:       getEnv("PRICE_ORACLE_URL", ""),
			RefreshInterval: getDuration("PRICE_REFRESH_INTERVAL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getBool("RATE_LIMIT_ENABLED", true),
			VerifyPerMinute: getInt("RATE_LIMIT_VERIFY_PER_MINUTE", 60),
			SettlePerMinute: getInt("RATE_LIMIT_SETTLE_PER_MINUTE", 10),
			AdminPerMinute:  getInt("RATE_LIMIT_ADMIN_PER_MINUTE", 30),
		},
		Webhooks: WebhookConfig{
			Timeout:         getDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			RefreshInterval: getDuration("WEBHOOK_REFRESH_INTERVAL", time.Minute),
		},
		Reconcile: ReconcileConfig{
			Interval: getDuration("RECONCILE_INTERVAL", time.Minute),
		},
		KMS: KMSConfig{
			Region: getEnv("KMS_REGION", ""),
			KeyID:  getEnv("KMS_KEY_ID", ""),
		},
	}

	// Development falls back to public RPC endpoints so the service
	// comes up with zero configuration.
	if env == EnvDevelopment {
		if cfg.Chains.RPCURLBase == "" {
			cfg.Chains.RPCURLBase = DefaultRPCBase
		}
		if cfg.Chains.RPCURLBaseSepolia == "" {
			cfg.Chains.RPCURLBaseSepolia = DefaultRPCBaseSepolia
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// Validate checks that all required configuration is present and
// in range. The server refuses to start on any violation; development
// relaxes only the requirements that have safe local fallbacks.
func (c *Config) Validate() error {
	var errs []string

	if c.Environment != EnvDevelopment && c.Environment != EnvProduction && c.Environment != EnvTest {
		errs = append(errs, "ENVIRONMENT must be development, production, or test")
	}

	// Key source: raw key and KMS ciphertext are mutually exclusive.
	if c.Facilitator.PrivateKey != "" && c.Facilitator.PrivateKeyCiphertext != "" {
		errs = append(errs, "FACILITATOR_PRIVATE_KEY and FACILITATOR_PRIVATE_KEY_CIPHERTEXT are mutually exclusive")
	}
	if c.Facilitator.PrivateKey != "" && !isHexKey(c.Facilitator.PrivateKey) {
		errs = append(errs, "FACILITATOR_PRIVATE_KEY must be 0x followed by 64 hex characters")
	}
	if c.Facilitator.PrivateKeyCiphertext != "" {
		if c.KMS.Region == "" || c.KMS.KeyID == "" {
			errs = append(errs, "FACILITATOR_PRIVATE_KEY_CIPHERTEXT requires KMS_REGION and KMS_KEY_ID")
		}
	}
	if c.Environment == EnvProduction && !c.Facilitator.HasKey() {
		errs = append(errs, "FACILITATOR_PRIVATE_KEY or FACILITATOR_PRIVATE_KEY_CIPHERTEXT is required in production")
	}

	// Durable replay protection needs PostgreSQL in production.
	if c.Environment == EnvProduction && !c.Database.Configured() {
		errs = append(errs, "DATABASE_URL is required in production")
	}

	if c.Environment == EnvProduction && c.Chains.RPCURLBase == "" && c.Chains.RPCURLBaseSepolia == "" {
		errs = append(errs, "at least one of RPC_URL_BASE or RPC_URL_BASE_SEPOLIA is required in production")
	}

	if c.Facilitator.SettlementTimeout < 5*time.Second || c.Facilitator.SettlementTimeout > 300*time.Second {
		errs = append(errs, "SETTLEMENT_TIMEOUT_MS must be between 5000 and 300000")
	}
	if c.Facilitator.Confirmations < 0 {
		errs = append(errs, "CONFIRMATIONS must be non-negative")
	}
	if c.Facilitator.MaxGasPriceWei != "" {
		if v, ok := new(big.Int).SetString(c.Facilitator.MaxGasPriceWei, 10); !ok || v.Sign() <= 0 {
			errs = append(errs, "MAX_GAS_PRICE_WEI must be a positive integer")
		}
	}
	if c.Facilitator.MinSettlementUnit != "" {
		if v, ok := new(big.Int).SetString(c.Facilitator.MinSettlementUnit, 10); !ok || v.Sign() < 0 {
			errs = append(errs, "MIN_SETTLEMENT_UNIT must be a non-negative integer")
		}
	}

	switch c.Facilitator.Mode {
	case "direct":
	case "splitter":
		if !isLiveAddress(c.Facilitator.SplitterBase) && !isLiveAddress(c.Facilitator.SplitterBaseSepolia) {
			errs = append(errs, "SETTLEMENT_MODE=splitter requires a non-zero SPLITTER_ADDRESS_BASE or SPLITTER_ADDRESS_BASE_SEPOLIA")
		}
	default:
		errs = append(errs, "SETTLEMENT_MODE must be direct or splitter")
	}

	for _, a := range []struct{ key, value string }{
		{"SPLITTER_ADDRESS_BASE", c.Facilitator.SplitterBase},
		{"SPLITTER_ADDRESS_BASE_SEPOLIA", c.Facilitator.SplitterBaseSepolia},
		{"PERMIT2_PROXY_ADDRESS", c.Facilitator.ProxyAddress},
		{"TREASURY_ADDRESS", c.Facilitator.Treasury},
	} {
		if a.value != "" && !common.IsHexAddress(a.value) {
			errs = append(errs, a.key+" is not a valid address")
		}
	}

	if c.Facilitator.DefaultFeeBps < 0 || c.Facilitator.DefaultFeeBps > 1000 {
		errs = append(errs, "DEFAULT_FEE_BPS must be between 0 and 1000")
	}

	if c.Admin.JWTSecret != "" && c.Admin.JWKSURL != "" {
		errs = append(errs, "ADMIN_JWT_SECRET and ADMIN_JWKS_URL are mutually exclusive")
	}

	if c.Prices.RefreshInterval <= 0 {
		errs = append(errs, "PRICE_REFRESH_INTERVAL must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.VerifyPerMinute <= 0 || c.RateLimit.SettlePerMinute <= 0 || c.RateLimit.AdminPerMinute <= 0 {
			errs = append(errs, "rate limit budgets must be positive when RATE_LIMIT_ENABLED")
		}
	}
	if c.Webhooks.Timeout <= 0 {
		errs = append(errs, "WEBHOOK_TIMEOUT must be positive")
	}
	if c.Reconcile.Interval <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL must be positive")
	}

	// CORS wildcard in production defeats the origin allowlist.
	if c.Environment == EnvProduction {
		for _, origin := range c.Server.AllowedOrigins {
			if origin == "*" {
				errs = append(errs, "ALLOWED_ORIGINS cannot contain wildcard '*' in production")
				break
			}
		}
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}

	return nil
}

// MaxGasPrice returns the parsed gas price cap, or nil when unset.
// Validate has already rejected malformed values.
func (c *Config) MaxGasPrice() *big.Int {
	if c.Facilitator.MaxGasPriceWei == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(c.Facilitator.MaxGasPriceWei, 10)
	if !ok {
		return nil
	}
	return v
}

// MinSettlement returns the parsed settlement floor, or nil when zero
// or unset.
func (c *Config) MinSettlement() *big.Int {
	if c.Facilitator.MinSettlementUnit == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(c.Facilitator.MinSettlementUnit, 10)
	if !ok || v.Sign() == 0 {
		return nil
	}
	return v
}

func isHexKey(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// isLiveAddress reports whether s is a valid, non-zero address. The
// zero address disables the feature it configures.
func isLiveAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	return common.HexToAddress(s) != (common.Address{})
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

package server

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tollgate/internal/config"
	"tollgate/internal/tokens"
	"tollgate/internal/wallet"
	"tollgate/internal/x402"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdcSepolia  = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testReceiver = "0x1111111111111111111111111111111111111111"
)

// testConfig is the smallest configuration Validate accepts: test
// environment, no database, no chains, no signer.
func testConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvTest,
		Server: config.ServerConfig{
			Port:         "0",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Facilitator: config.FacilitatorConfig{
			Mode:              "direct",
			SettlementTimeout: 60 * time.Second,
			Confirmations:     1,
			DefaultFeeBps:     10,
		},
		Prices: config.PriceConfig{
			RefreshInterval: 5 * time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:         true,
			VerifyPerMinute: 60,
			SettlePerMinute: 10,
			AdminPerMinute:  30,
		},
		Webhooks: config.WebhookConfig{
			Timeout:         10 * time.Second,
			RefreshInterval: time.Minute,
		},
		Reconcile: config.ReconcileConfig{
			Interval: time.Minute,
		},
	}
}

// createTestServer boots a fully wired server on in-memory stores.
// Workers are never started, so cleanup only drains the components.
func createTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.reconciler.Stop()
		srv.priceCache.Stop()
		srv.dispatcher.Stop()
		srv.fac.Close()
	})
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestIntegration_BootWithoutDependencies(t *testing.T) {
	srv := createTestServer(t, nil)

	assert.False(t, srv.fac.CanSettle())

	status, body := doJSON(t, srv, "GET", "/health", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "test", body["version"])

	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])

	var sawMemory, sawVerifyOnly, sawNoChain bool
	for _, w := range body["warnings"].([]interface{}) {
		s := w.(string)
		if strings.Contains(s, "in-memory") {
			sawMemory = true
		}
		if strings.Contains(s, "verify-only") {
			sawVerifyOnly = true
		}
		if strings.Contains(s, "no chain connected") {
			sawNoChain = true
		}
	}
	assert.True(t, sawMemory, "in-memory store warning missing")
	assert.True(t, sawVerifyOnly, "verify-only warning missing")
	assert.True(t, sawNoChain, "no-chain warning missing")
}

func TestIntegration_QuickVerifyThroughStack(t *testing.T) {
	srv := createTestServer(t, nil)

	payer, err := wallet.NewTestPayer()
	require.NoError(t, err)

	payload, err := payer.SignedDirectPayload(wallet.PaymentParams{
		Network:  "base-sepolia",
		ChainID:  84532,
		Token:    usdcSepolia,
		Amount:   "1000000",
		Receiver: testReceiver,
		Domain:   x402.ERC3009Domain{Name: "USDC", Version: "2"},
	})
	require.NoError(t, err)

	body := map[string]interface{}{
		"x402Version":    1,
		"paymentPayload": payload,
		"paymentRequirements": &x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           "base-sepolia",
			MaxAmountRequired: "1000000",
			PayTo:             testReceiver,
			Asset:             usdcSepolia,
		},
	}

	// Quick verification runs the static ladder without a chain client.
	status, decoded := doJSON(t, srv, "POST", "/verify/quick", body)
	assert.Equal(t, 200, status)
	assert.Equal(t, true, decoded["isValid"])
	assert.Equal(t, strings.ToLower(payer.AddressString()), decoded["payer"])

	// Full verification needs the chain, and none is connected.
	status, decoded = doJSON(t, srv, "POST", "/verify", body)
	assert.Equal(t, 200, status)
	assert.Equal(t, false, decoded["isValid"])
	assert.Equal(t, "invalid_network", decoded["invalidReason"])
}

func TestIntegration_SettleWithoutSigner(t *testing.T) {
	srv := createTestServer(t, nil)

	payer, err := wallet.NewTestPayer()
	require.NoError(t, err)
	payload, err := payer.SignedDirectPayload(wallet.PaymentParams{
		Network:  "base-sepolia",
		ChainID:  84532,
		Token:    usdcSepolia,
		Amount:   "1000000",
		Receiver: testReceiver,
		Domain:   x402.ERC3009Domain{Name: "USDC", Version: "2"},
	})
	require.NoError(t, err)

	status, decoded := doJSON(t, srv, "POST", "/settle", map[string]interface{}{
		"x402Version":    1,
		"paymentPayload": payload,
		"paymentRequirements": &x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           "base-sepolia",
			MaxAmountRequired: "1000000",
			PayTo:             testReceiver,
			Asset:             usdcSepolia,
		},
	})
	assert.Equal(t, 503, status)
	assert.Equal(t, false, decoded["success"])
	assert.Equal(t, "facilitator_not_configured", decoded["errorReason"])
}

func TestIntegration_RequestIDPropagation(t *testing.T) {
	srv := createTestServer(t, nil)

	t.Run("generates request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		resp, err := srv.app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		requestID := resp.Header.Get("X-Request-ID")
		assert.NotEmpty(t, requestID)
		assert.Regexp(t, `^[0-9a-f-]{36}$`, requestID)
	})

	t.Run("preserves client request ID", func(t *testing.T) {
		clientID := "client-trace-123"
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("X-Request-ID", clientID)

		resp, err := srv.app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, clientID, resp.Header.Get("X-Request-ID"))
	})
}

func TestIntegration_SecurityHeaders(t *testing.T) {
	srv := createTestServer(t, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", resp.Header.Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	// HSTS only in production deployments.
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestIntegration_NotFound(t *testing.T) {
	srv := createTestServer(t, nil)

	status, body := doJSON(t, srv, "GET", "/no/such/route", nil)
	assert.Equal(t, 404, status)
	assert.Equal(t, "Not found", body["error"])
	assert.NotEmpty(t, body["request_id"])
}

func TestIntegration_AdminGuards(t *testing.T) {
	t.Run("unconfigured admin auth closes admin routes", func(t *testing.T) {
		srv := createTestServer(t, nil)

		status, _ := doJSON(t, srv, "POST", "/admin/tokens", map[string]interface{}{
			"chainId": 84532, "address": usdcSepolia, "symbol": "USDC", "decimals": 6,
		})
		assert.Equal(t, 503, status)

		// Webhook registration stays open without admin credentials.
		status, body := doJSON(t, srv, "POST", "/webhooks/", map[string]interface{}{
			"url": "https://example.com/hook",
		})
		assert.Equal(t, 201, status)
		assert.NotEmpty(t, body["id"])
	})

	t.Run("configured admin auth guards both surfaces", func(t *testing.T) {
		srv := createTestServer(t, func(cfg *config.Config) {
			cfg.Admin.JWTSecret = "test-secret-key"
		})

		status, _ := doJSON(t, srv, "POST", "/admin/tokens", map[string]interface{}{
			"chainId": 84532, "address": usdcSepolia, "symbol": "USDC", "decimals": 6,
		})
		assert.Equal(t, 401, status)

		status, _ = doJSON(t, srv, "POST", "/webhooks/", map[string]interface{}{
			"url": "https://example.com/hook",
		})
		assert.Equal(t, 401, status)
	})
}

func TestIntegration_SettleRateLimit(t *testing.T) {
	srv := createTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.SettlePerMinute = 2
	})

	// Malformed settles still consume budget.
	for i := 0; i < 2; i++ {
		status, _ := doJSON(t, srv, "POST", "/settle", "{}")
		assert.Equal(t, 400, status, "request %d should reach the handler", i+1)
	}

	req := httptest.NewRequest("POST", "/settle", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 429, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestIntegration_WebhookRoundTrip(t *testing.T) {
	srv := createTestServer(t, nil)

	status, created := doJSON(t, srv, "POST", "/webhooks/", map[string]interface{}{
		"url":    "https://example.com/hook",
		"events": []string{"settlement.success"},
		"secret": "whsec_test",
	})
	require.Equal(t, 201, status)
	id := created["id"].(string)

	status, listed := doJSON(t, srv, "GET", "/webhooks/", nil)
	require.Equal(t, 200, status)
	hooks := listed["webhooks"].([]interface{})
	require.Len(t, hooks, 1)
	first := hooks[0].(map[string]interface{})
	assert.Equal(t, id, first["id"])
	assert.Equal(t, true, first["hasSecret"])

	status, _ = doJSON(t, srv, "DELETE", "/webhooks/"+id, nil)
	assert.Equal(t, 200, status)

	status, listed = doJSON(t, srv, "GET", "/webhooks/", nil)
	require.Equal(t, 200, status)
	first = listed["webhooks"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, false, first["active"])
}

func TestSplitterAddresses(t *testing.T) {
	cfg := testConfig()
	cfg.Facilitator.SplitterBase = "0x00000000000000000000000000000000000000AA"
	cfg.Facilitator.SplitterBaseSepolia = "0x0000000000000000000000000000000000000000"

	splitters := splitterAddresses(cfg)
	require.Len(t, splitters, 1)
	assert.Contains(t, splitters, int64(8453))
}

func TestTrackedSymbols(t *testing.T) {
	registry, err := tokens.Load(10)
	require.NoError(t, err)

	symbols := trackedSymbols(registry)
	assert.Equal(t, []string{"DAI", "USDC", "WETH"}, symbols)
}

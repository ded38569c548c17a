// Package server wires the facilitator: configuration validation,
// persistence, chain clients, the signing key, background workers, and
// the fiber app with its middleware stack and routes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"tollgate/internal/chain"
	"tollgate/internal/config"
	"tollgate/internal/db"
	"tollgate/internal/facilitator"
	"tollgate/internal/handlers"
	"tollgate/internal/kms"
	"tollgate/internal/middleware"
	"tollgate/internal/prices"
	"tollgate/internal/settlement"
	"tollgate/internal/tokens"
	"tollgate/internal/wallet"
	"tollgate/internal/webhooks"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

// dialTimeout bounds one RPC connection attempt at boot.
const dialTimeout = 10 * time.Second

// Server owns the HTTP app and every long-lived component behind it.
type Server struct {
	app      *fiber.App
	config   *config.Config
	log      *slog.Logger
	database db.Database
	chains   *chain.Registry
	tokens   *tokens.Registry
	fac      *facilitator.Facilitator
	catalog  *handlers.Catalog

	priceCache *prices.Cache
	dispatcher *webhooks.Dispatcher
	reconciler *settlement.Reconciler

	cancelWorkers context.CancelFunc
}

// New builds a fully wired server. Workers are not running yet; Start
// launches them together with the listener.
func New(cfg *config.Config, version string) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := slog.Default()
	ctx := context.Background()
	var warnings []string

	// Persistence. Production requires Postgres (enforced by Validate);
	// development without one runs on process-local stores.
	var database db.Database
	if cfg.Database.Configured() {
		sqlDB, err := db.New(db.LoadConfig())
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := sqlDB.Migrate(ctx); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		database = sqlDB
	} else {
		log.Warn("no database configured, using in-memory stores",
			"environment", cfg.Environment,
		)
		warnings = append(warnings, "in-memory stores: replay protection does not survive restarts")
		database = db.NewMemoryStore()
	}

	// Signing key. Absent means verify-only: /verify works, /settle
	// answers facilitator_not_configured.
	signer, err := loadSigner(ctx, cfg, log)
	if err != nil {
		database.Close()
		return nil, err
	}
	if signer == nil {
		log.Warn("no facilitator key configured, running verify-only")
		warnings = append(warnings, "verify-only: no facilitator key configured")
	} else {
		log.Info("facilitator signer loaded", "address", signer.AddressString())
	}

	chains, chainWarnings, err := dialChains(ctx, cfg, log)
	if err != nil {
		database.Close()
		return nil, err
	}
	warnings = append(warnings, chainWarnings...)

	registry, err := tokens.Load(cfg.Facilitator.DefaultFeeBps)
	if err != nil {
		chains.CloseAll()
		database.Close()
		return nil, fmt.Errorf("load token registry: %w", err)
	}
	for _, addr := range cfg.Facilitator.FeeExemptTokens {
		if changed := registry.SetFeeExempt(addr); changed == 0 {
			log.Warn("fee-exempt address not in token registry", "address", addr)
		}
	}

	dispatcher := webhooks.New(database, webhooks.Config{
		RefreshInterval: cfg.Webhooks.RefreshInterval,
		Timeout:         cfg.Webhooks.Timeout,
	}, log)

	// The SQL store gets a positive nonce cache in front: a spent nonce
	// never becomes unused, so cached Used answers skip a round trip per
	// replayed payload. The memory store is already process-local.
	var store facilitator.Store = database
	if sqlDB, ok := database.(*db.DB); ok {
		store = cachedStore{Database: sqlDB, nonces: db.NewCachedNonceStore(sqlDB)}
	}

	facCfg := facilitator.Config{
		Mode:              facilitator.Mode(cfg.Facilitator.Mode),
		Splitters:         splitterAddresses(cfg),
		ProxyAddress:      common.HexToAddress(cfg.Facilitator.ProxyAddress),
		Treasury:          common.HexToAddress(cfg.Facilitator.Treasury),
		SettlementTimeout: cfg.Facilitator.SettlementTimeout,
		Confirmations:     uint64(cfg.Facilitator.Confirmations),
		MaxGasPrice:       cfg.MaxGasPrice(),
		MinSettlementUnit: cfg.MinSettlement(),
	}
	if signer != nil {
		facCfg.Signer = signer
	}
	fac := facilitator.New(facCfg, facilitator.Chains(chains), registry, store, dispatcher, log)

	priceCache := prices.NewCache(
		prices.NewOracle(cfg.Prices.OracleURL),
		trackedSymbols(registry),
		cfg.Prices.RefreshInterval,
		log,
	)

	// A row stuck pending twice as long as any settlement is allowed to
	// run cannot still be in flight.
	reconciler := settlement.NewReconciler(
		database,
		cfg.Reconcile.Interval,
		2*cfg.Facilitator.SettlementTimeout,
		log,
	)

	fiberConfig := fiber.Config{
		AppName:      "Tollgate Facilitator",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: errorHandler,
	}

	// Client IPs come from the proxy header only when a reverse proxy
	// is declared, otherwise rate limiting keys on spoofable values.
	if cfg.Server.ProxyHeader != "" {
		fiberConfig.ProxyHeader = cfg.Server.ProxyHeader
	}
	if len(cfg.Server.TrustedProxies) > 0 {
		fiberConfig.TrustProxy = true
		fiberConfig.TrustProxyConfig = fiber.TrustProxyConfig{
			Proxies: cfg.Server.TrustedProxies,
		}
	}

	s := &Server{
		app:        fiber.New(fiberConfig),
		config:     cfg,
		log:        log,
		database:   database,
		chains:     chains,
		tokens:     registry,
		fac:        fac,
		catalog:    handlers.NewCatalog(nil),
		priceCache: priceCache,
		dispatcher: dispatcher,
		reconciler: reconciler,
	}

	s.setupMiddleware()
	s.setupRoutes(version, warnings)

	log.Info("facilitator wired",
		"mode", fac.Mode(),
		"settlement", fac.CanSettle(),
		"networks", len(chains.Networks()),
		"environment", cfg.Environment,
	)

	return s, nil
}

// loadSigner resolves the facilitator key from its configured source.
// Returns nil without error when no source is configured.
func loadSigner(ctx context.Context, cfg *config.Config, log *slog.Logger) (*wallet.Signer, error) {
	fc := cfg.Facilitator
	switch {
	case fc.PrivateKey != "":
		signer, err := wallet.NewSigner(fc.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("parse facilitator key: %w", err)
		}
		return signer, nil

	case fc.PrivateKeyCiphertext != "":
		client, err := kms.New(ctx, &kms.Config{Region: cfg.KMS.Region, KeyID: cfg.KMS.KeyID})
		if err != nil {
			return nil, fmt.Errorf("init kms: %w", err)
		}
		plaintext, err := client.Decrypt(ctx, fc.PrivateKeyCiphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypt facilitator key: %w", err)
		}
		signer, err := wallet.NewSigner(plaintext)
		if err != nil {
			return nil, fmt.Errorf("parse decrypted facilitator key: %w", err)
		}
		log.Info("facilitator key decrypted", "kms_key", cfg.KMS.KeyID)
		return signer, nil

	default:
		return nil, nil
	}
}

// dialChains connects every network with a configured endpoint. An
// unreachable chain fails the boot in production and becomes a health
// warning in development, where public RPC endpoints flake.
func dialChains(ctx context.Context, cfg *config.Config, log *slog.Logger) (*chain.Registry, []string, error) {
	registry := chain.NewRegistry()
	var warnings []string

	for _, net := range chain.Known() {
		rpcURL := cfg.Chains.URLFor(net.ChainID)
		if rpcURL == "" {
			continue
		}

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		client, err := chain.Dial(dialCtx, rpcURL, net, log)
		cancel()
		if err != nil {
			if cfg.IsProduction() {
				registry.CloseAll()
				return nil, nil, fmt.Errorf("dial %s: %w", net.Name, err)
			}
			log.Warn("chain unreachable, continuing without it",
				"network", net.Name, "error", err)
			warnings = append(warnings, "chain unreachable at boot: "+net.Name)
			continue
		}
		registry.Add(client)
		log.Info("chain connected", "network", net.Name, "chain_id", net.ChainID)
	}

	if len(registry.Networks()) == 0 {
		if cfg.IsProduction() {
			return nil, nil, fmt.Errorf("no chain connected")
		}
		warnings = append(warnings, "no chain connected: verification and settlement unavailable")
	}

	return registry, warnings, nil
}

// splitterAddresses collects the non-zero splitter deployments per
// chain. The zero address disables the splitter for that chain.
func splitterAddresses(cfg *config.Config) map[int64]common.Address {
	out := make(map[int64]common.Address)
	for _, net := range chain.Known() {
		raw := cfg.Facilitator.SplitterFor(net.ChainID)
		if !common.IsHexAddress(raw) {
			continue
		}
		addr := common.HexToAddress(raw)
		if addr == (common.Address{}) {
			continue
		}
		out[net.ChainID] = addr
	}
	return out
}

// trackedSymbols returns the distinct symbols across every registered
// chain, the set the price cache keeps quotes for.
func trackedSymbols(registry *tokens.Registry) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, net := range chain.Known() {
		for _, tok := range registry.List(net.ChainID) {
			if seen[tok.Symbol] {
				continue
			}
			seen[tok.Symbol] = true
			symbols = append(symbols, tok.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// cachedStore fronts the durable replay store with the positive nonce
// cache while delegating everything else to the database.
type cachedStore struct {
	db.Database
	nonces *db.CachedNonceStore
}

func (s cachedStore) CheckNonce(ctx context.Context, payer, nonce string) (db.NonceState, error) {
	return s.nonces.CheckNonce(ctx, payer, nonce)
}

func (s cachedStore) MarkNonceUsed(ctx context.Context, payer, nonce, tokenAddress, txID string) error {
	return s.nonces.MarkNonceUsed(ctx, payer, nonce, tokenAddress, txID)
}

// setupMiddleware configures the global middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.app.Use(recover.New())

	// Request ID middleware - must be early to ensure ID is available for logging
	s.app.Use(middleware.RequestID())

	// Security headers middleware
	s.app.Use(middleware.SecurityHeaders(s.config.IsProduction()))

	// Logger middleware - includes request ID
	// Use JSON format in production for log aggregators, text format for development
	if s.config.IsProduction() {
		s.app.Use(logger.New(logger.Config{
			Format: `{"time":"${time}","status":${status},"method":"${method}","path":"${path}","latency":"${latency}","ip":"${ip}","request_id":"${locals:request_id}"}` + "\n",
		}))
	} else {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${method} ${path} ${latency} [${locals:request_id}]\n",
		}))
	}

	// CORS only when browser origins are declared. Machine-to-machine
	// clients never preflight.
	if len(s.config.Server.AllowedOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:  s.config.Server.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders: []string{middleware.RequestIDHeader},
			MaxAge:        300,
		}))
	}
}

// setupRoutes registers every handler with its guards
func (s *Server) setupRoutes(version string, warnings []string) {
	rate := middleware.NewRateLimiter(&s.config.RateLimit)
	adminAuth := middleware.NewAdminAuth(&s.config.Admin)

	// Health handler (never rate limited)
	healthHandler := handlers.NewHealthHandler(s.database, s.chains, version, warnings)
	healthHandler.RegisterRoutes(s.app)

	// Protocol surface with per-route budgets
	facilitatorHandler := handlers.NewFacilitatorHandler(s.fac, s.database, s.catalog, version)
	facilitatorHandler.RegisterRoutes(s.app, rate.Verify(), rate.Settle())

	// Webhook registration: guarded only when admin auth is configured
	webhookHandler := handlers.NewWebhookHandler(s.database, s.dispatcher)
	webhookHandler.RegisterRoutes(s.app, rate.Admin(), adminAuth.Optional())

	// Token registry mutations: always behind admin auth
	adminHandler := handlers.NewAdminHandler(s.tokens)
	adminHandler.RegisterRoutes(s.app, rate.Admin(), adminAuth.Handler())

	discoveryHandler := handlers.NewDiscoveryHandler(s.catalog)
	discoveryHandler.RegisterRoutes(s.app)

	priceHandler := handlers.NewPriceHandler(s.priceCache)
	priceHandler.RegisterRoutes(s.app)

	docsHandler := handlers.NewDocsHandler()
	docsHandler.RegisterRoutes(s.app)

	// 404 handler
	s.app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":      "Not found",
			"path":       c.Path(),
			"request_id": middleware.GetRequestID(c),
		})
	})
}

// Start launches the background workers and the HTTP listener. It
// blocks until the listener exits.
func (s *Server) Start(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancelWorkers = cancel

	s.dispatcher.Start(workerCtx)
	s.priceCache.Start(workerCtx)
	s.reconciler.Start(workerCtx)

	addr := ":" + s.config.Server.Port
	s.log.Info("starting tollgate facilitator", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown drains the server: ingress first so in-flight settlements
// finish, then workers and the submit queue, stores last.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	err := s.app.ShutdownWithContext(ctx)

	if s.cancelWorkers != nil {
		s.cancelWorkers()
	}
	s.reconciler.Stop()
	s.priceCache.Stop()
	s.dispatcher.Stop()

	s.fac.Close()
	s.chains.CloseAll()
	s.database.Close()

	return err
}

// errorHandler handles errors globally
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	requestID := middleware.GetRequestID(c)

	slog.Error("request error", "error", err, "request_id", requestID, "status", code)

	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"status":     code,
		"timestamp":  time.Now().Unix(),
		"request_id": requestID,
	})
}

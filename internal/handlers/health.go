package handlers

import (
	"context"
	"time"

	"tollgate/internal/chain"
	"tollgate/internal/db"

	"github.com/gofiber/fiber/v3"
)

const healthCheckTimeout = 3 * time.Second

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db       db.Database
	chains   *chain.Registry
	version  string
	warnings []string
}

// NewHealthHandler creates a new health handler. warnings are boot-time
// conditions the operator should know about (verify-only mode,
// in-memory audit log) and are echoed verbatim on /health.
func NewHealthHandler(database db.Database, chains *chain.Registry, version string, warnings []string) *HealthHandler {
	return &HealthHandler{
		db:       database,
		chains:   chains,
		version:  version,
		warnings: warnings,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string       `json:"status"`
	Timestamp int64        `json:"timestamp"`
	Version   string       `json:"version"`
	Checks    HealthChecks `json:"checks"`
	Warnings  []string     `json:"warnings"`
}

// HealthChecks reports per-dependency status
type HealthChecks struct {
	Database string            `json:"database"`
	Chain    map[string]string `json:"chain"`
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/health/live", h.Liveness)
	app.Get("/health/ready", h.Readiness)
}

// Health returns the full health status
// @Summary Health check
// @Description Returns the health status of the facilitator and its dependencies
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c fiber.Ctx) error {
	status := "healthy"

	dbStatus := h.checkDatabase()
	if dbStatus != "ok" {
		status = "degraded"
	}

	chainStatus := h.checkChains(c.Context())
	for _, s := range chainStatus {
		if s != "ok" {
			status = "degraded"
		}
	}
	if len(chainStatus) == 0 {
		status = "degraded"
	}

	warnings := h.warnings
	if warnings == nil {
		warnings = []string{}
	}

	return c.JSON(HealthResponse{
		Status:    status,
		Timestamp: time.Now().Unix(),
		Version:   h.version,
		Checks: HealthChecks{
			Database: dbStatus,
			Chain:    chainStatus,
		},
		Warnings: warnings,
	})
}

// Liveness returns liveness probe status
// @Summary Liveness probe
// @Description Kubernetes liveness probe endpoint
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health/live [get]
func (h *HealthHandler) Liveness(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "alive",
	})
}

// Readiness returns readiness probe status. Ready means the audit store
// answers and at least one chain client can fetch a head block.
// @Summary Readiness probe
// @Description Kubernetes readiness probe endpoint
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Success 503 {object} map[string]string
// @Router /health/ready [get]
func (h *HealthHandler) Readiness(c fiber.Ctx) error {
	if dbStatus := h.checkDatabase(); dbStatus != "ok" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "not_ready",
			"reason":   "database_unavailable",
			"database": dbStatus,
		})
	}

	chainStatus := h.checkChains(c.Context())
	ready := false
	for _, s := range chainStatus {
		if s == "ok" {
			ready = true
			break
		}
	}
	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"reason": "chain_unavailable",
			"chain":  chainStatus,
		})
	}

	return c.JSON(fiber.Map{
		"status": "ready",
	})
}

// checkDatabase verifies the audit store answers a ping
func (h *HealthHandler) checkDatabase() string {
	if h.db == nil {
		return "not_configured"
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		return "error"
	}
	return "ok"
}

// checkChains fetches the head block per connected network
func (h *HealthHandler) checkChains(ctx context.Context) map[string]string {
	out := make(map[string]string)
	if h.chains == nil {
		return out
	}
	for _, net := range h.chains.Networks() {
		client, ok := h.chains.ForChain(net.ChainID)
		if !ok {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		if _, err := client.HeadTimestamp(checkCtx); err != nil {
			out[net.CAIP2] = "error"
		} else {
			out[net.CAIP2] = "ok"
		}
		cancel()
	}
	return out
}

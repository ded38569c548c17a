package handlers

import (
	"errors"
	"log/slog"
	"time"

	"tollgate/internal/db"
	"tollgate/internal/facilitator"
	"tollgate/internal/middleware"
	"tollgate/internal/redact"
	"tollgate/internal/x402"

	"github.com/gofiber/fiber/v3"
)

// FacilitatorHandler exposes the verify/settle state machine over HTTP.
type FacilitatorHandler struct {
	fac     *facilitator.Facilitator
	db      db.Database
	catalog *Catalog
	version string
}

// NewFacilitatorHandler creates the protocol handler. catalog may be nil
// when discovery is disabled.
func NewFacilitatorHandler(fac *facilitator.Facilitator, database db.Database, catalog *Catalog, version string) *FacilitatorHandler {
	return &FacilitatorHandler{
		fac:     fac,
		db:      database,
		catalog: catalog,
		version: version,
	}
}

// RegisterRoutes registers the protocol routes. The limiters come from
// the server so budgets stay configurable in one place.
func (h *FacilitatorHandler) RegisterRoutes(app *fiber.App, verifyLimit, settleLimit fiber.Handler) {
	app.Get("/supported", h.Supported)
	app.Post("/verify", verifyLimit, h.Verify)
	app.Post("/verify/quick", verifyLimit, h.VerifyQuick)
	app.Post("/settle", settleLimit, h.Settle)
	app.Get("/settle/recent", h.Recent)
	app.Get("/settle/stats", h.Stats)
}

// Supported advertises accepted payment kinds
// @Summary Supported payment kinds
// @Description Lists the protocol versions, networks and default assets this facilitator accepts
// @Tags facilitator
// @Produce json
// @Success 200 {object} facilitator.SupportedInfo
// @Router /supported [get]
func (h *FacilitatorHandler) Supported(c fiber.Ctx) error {
	if h.fac == nil {
		return facilitatorUnavailable(c)
	}
	return c.JSON(h.fac.Supported(h.version))
}

// Verify runs full verification
// @Summary Verify a payment authorization
// @Description Checks signature, replay state and funds without settling
// @Tags facilitator
// @Accept json
// @Produce json
// @Success 200 {object} x402.VerifyResult
// @Failure 400 {object} x402.VerifyResult
// @Failure 412 {object} x402.VerifyResult
// @Router /verify [post]
func (h *FacilitatorHandler) Verify(c fiber.Ctx) error {
	return h.verify(c, false)
}

// VerifyQuick runs signature and structure checks only
// @Summary Quick-verify a payment authorization
// @Description Like /verify but skips replay, balance and allowance lookups
// @Tags facilitator
// @Accept json
// @Produce json
// @Success 200 {object} x402.VerifyResult
// @Router /verify/quick [post]
func (h *FacilitatorHandler) VerifyQuick(c fiber.Ctx) error {
	return h.verify(c, true)
}

func (h *FacilitatorHandler) verify(c fiber.Ctx, quick bool) error {
	if h.fac == nil {
		return facilitatorUnavailable(c)
	}

	payload, reqs, err := x402.DecodeRequest(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(x402.VerifyResult{
			IsValid:       false,
			InvalidReason: requestReason(err),
		})
	}

	var result *x402.VerifyResult
	if quick {
		result, err = h.fac.VerifyQuick(c.Context(), payload, reqs)
	} else {
		result, err = h.fac.Verify(c.Context(), payload, reqs)
	}
	if err != nil {
		slog.Error("verification unavailable",
			"request_id", middleware.GetRequestID(c), "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "verification temporarily unavailable",
		})
	}

	// The allowance case gets its own status so clients can trigger the
	// one-time Permit2 approval flow without parsing reason strings.
	if result.InvalidReason == x402.ReasonOuterAllowanceRequired {
		return c.Status(fiber.StatusPreconditionFailed).JSON(result)
	}
	return c.JSON(result)
}

// Settle executes a verified payment on-chain
// @Summary Settle a payment authorization
// @Description Verifies and settles the payment; semantic failures still answer 200 with success=false
// @Tags facilitator
// @Accept json
// @Produce json
// @Success 200 {object} x402.SettleResult
// @Failure 400 {object} x402.SettleResult
// @Failure 503 {object} x402.SettleResult
// @Router /settle [post]
func (h *FacilitatorHandler) Settle(c fiber.Ctx) error {
	if h.fac == nil {
		return facilitatorUnavailable(c)
	}

	payload, reqs, err := x402.DecodeRequest(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(x402.SettleResult{
			Success:     false,
			ErrorReason: requestReason(err),
		})
	}

	result, err := h.fac.Settle(c.Context(), payload, reqs)
	if err != nil {
		slog.Error("settlement internal error",
			"request_id", middleware.GetRequestID(c), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "settlement failed internally",
		})
	}

	if result.Success && h.catalog != nil {
		h.catalog.Observe(reqs)
	}

	// Missing signer is the one settlement failure reported as service
	// state rather than payment outcome.
	if result.ErrorReason == x402.ReasonFacilitatorNotConfigured {
		return c.Status(fiber.StatusServiceUnavailable).JSON(result)
	}
	return c.JSON(result)
}

// redactedTransaction is an audit row with counterparties elided.
type redactedTransaction struct {
	ID          string     `json:"id"`
	Payer       string     `json:"payer"`
	Receiver    string     `json:"receiver"`
	Token       string     `json:"token"`
	Symbol      string     `json:"symbol"`
	Amount      string     `json:"amount"`
	Fee         string     `json:"fee"`
	FeeBps      int        `json:"feeBps"`
	Network     string     `json:"network"`
	TxID        *string    `json:"txId,omitempty"`
	Status      string     `json:"status"`
	ErrorReason *string    `json:"errorReason,omitempty"`
	Protocol    string     `json:"protocol"`
	CreatedAt   time.Time  `json:"createdAt"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
}

type recentQuery struct {
	Limit int `query:"limit"`
}

// Recent lists recent settlement attempts
// @Summary Recent settlements
// @Description Returns the latest audit records with payer and receiver addresses redacted
// @Tags facilitator
// @Produce json
// @Success 200 {object} map[string]any
// @Router /settle/recent [get]
func (h *FacilitatorHandler) Recent(c fiber.Ctx) error {
	var q recentQuery
	if err := c.Bind().Query(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid limit",
		})
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}

	rows, err := h.db.GetRecentTransactions(c.Context(), q.Limit)
	if err != nil {
		slog.Error("recent transactions query failed",
			"request_id", middleware.GetRequestID(c), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "audit log unavailable",
		})
	}

	out := make([]redactedTransaction, 0, len(rows))
	for _, tx := range rows {
		out = append(out, redactTransaction(tx))
	}
	return c.JSON(fiber.Map{
		"transactions": out,
		"count":        len(out),
	})
}

// Stats returns audit log aggregates
// @Summary Settlement statistics
// @Description Aggregate counts and settled volume across the audit log
// @Tags facilitator
// @Produce json
// @Success 200 {object} db.SettlementStats
// @Router /settle/stats [get]
func (h *FacilitatorHandler) Stats(c fiber.Ctx) error {
	stats, err := h.db.GetSettlementStats(c.Context())
	if err != nil {
		slog.Error("settlement stats query failed",
			"request_id", middleware.GetRequestID(c), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "audit log unavailable",
		})
	}
	return c.JSON(stats)
}

func redactTransaction(tx *db.Transaction) redactedTransaction {
	return redactedTransaction{
		ID:          tx.ID.String(),
		Payer:       redact.Address(tx.Payer),
		Receiver:    redact.Address(tx.Receiver),
		Token:       tx.TokenAddress,
		Symbol:      tx.TokenSymbol,
		Amount:      tx.Amount,
		Fee:         tx.Fee,
		FeeBps:      tx.FeeBps,
		Network:     tx.Network,
		TxID:        tx.TxID,
		Status:      string(tx.Status),
		ErrorReason: tx.ErrorReason,
		Protocol:    tx.Protocol,
		CreatedAt:   tx.CreatedAt,
		SettledAt:   tx.SettledAt,
	}
}

// requestReason extracts the closed-set reason from a decode failure.
func requestReason(err error) string {
	var reqErr *x402.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Reason
	}
	return x402.ReasonInvalidPayload
}

func facilitatorUnavailable(c fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "facilitator not initialized",
	})
}

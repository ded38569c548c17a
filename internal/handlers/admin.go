package handlers

import (
	"log/slog"
	"strings"

	"tollgate/internal/chain"
	"tollgate/internal/tokens"

	"github.com/gofiber/fiber/v3"
)

// AdminHandler handles the token registry management endpoints
type AdminHandler struct {
	registry *tokens.Registry
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(registry *tokens.Registry) *AdminHandler {
	return &AdminHandler{registry: registry}
}

// RegisterRoutes registers admin routes behind the given guards
func (h *AdminHandler) RegisterRoutes(app *fiber.App, guards ...fiber.Handler) {
	guardHandlers := make([]any, len(guards))
	for i, g := range guards {
		guardHandlers[i] = g
	}
	group := app.Group("/admin", guardHandlers...)
	group.Post("/tokens", h.UpsertToken)
	group.Get("/tokens", h.ListTokens)
}

// UpsertToken adds or replaces a token registry record
// @Summary Upsert a token
// @Description Adds a settlement token or replaces its fee configuration
// @Tags admin
// @Accept json
// @Produce json
// @Param request body tokens.Token true "Token record"
// @Success 200 {object} tokens.Token
// @Failure 400 {object} map[string]string
// @Router /admin/tokens [post]
func (h *AdminHandler) UpsertToken(c fiber.Ctx) error {
	var req tokens.Token
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.registry.Upsert(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// Echo the normalized record back.
	tok, _ := h.registry.ByAddress(req.ChainID, strings.ToLower(strings.TrimSpace(req.Address)))

	slog.Info("token upserted",
		"chain_id", tok.ChainID,
		"address", tok.Address,
		"symbol", tok.Symbol,
		"fee_bps", tok.FeeBps,
		"fee_exempt", tok.FeeExempt,
	)

	return c.JSON(tok)
}

type listTokensQuery struct {
	ChainID int64 `query:"chainId"`
}

// ListTokens returns the token registry contents
// @Summary List tokens
// @Description Lists registered settlement tokens, optionally for one chain
// @Tags admin
// @Produce json
// @Param chainId query int false "Chain ID"
// @Success 200 {object} map[string]any
// @Router /admin/tokens [get]
func (h *AdminHandler) ListTokens(c fiber.Ctx) error {
	var q listTokensQuery
	if err := c.Bind().Query(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid chainId",
		})
	}

	var out []tokens.Token
	if q.ChainID != 0 {
		out = h.registry.List(q.ChainID)
	} else {
		for _, net := range chain.Known() {
			out = append(out, h.registry.List(net.ChainID)...)
		}
	}
	if out == nil {
		out = []tokens.Token{}
	}

	return c.JSON(fiber.Map{
		"tokens": out,
		"count":  len(out),
	})
}

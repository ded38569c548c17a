package handlers

import (
	"tollgate/internal/prices"

	"github.com/gofiber/fiber/v3"
)

// PriceHandler exposes the oracle price cache
type PriceHandler struct {
	cache *prices.Cache
}

// NewPriceHandler creates a new price handler. cache may be nil when no
// oracle is configured.
func NewPriceHandler(cache *prices.Cache) *PriceHandler {
	return &PriceHandler{cache: cache}
}

// RegisterRoutes registers price routes
func (h *PriceHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/prices", h.Prices)
}

// Prices returns the cached USD quotes for settlement tokens
// @Summary Token prices
// @Description Cached USD quotes used for settlement volume reporting
// @Tags prices
// @Produce json
// @Success 200 {object} map[string]any
// @Router /prices [get]
func (h *PriceHandler) Prices(c fiber.Ctx) error {
	all := map[string]prices.Quote{}
	if h.cache != nil {
		all = h.cache.All()
	}
	return c.JSON(fiber.Map{
		"prices": all,
	})
}

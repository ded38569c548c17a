package handlers

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"tollgate/internal/db"
	"tollgate/internal/facilitator"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// invalidator is anything holding a cached snapshot of the webhook
// registry. The dispatcher satisfies it.
type invalidator interface {
	Invalidate()
}

// WebhookHandler handles webhook registration endpoints
type WebhookHandler struct {
	db         db.Database
	dispatcher invalidator
}

// NewWebhookHandler creates a new webhook handler. dispatcher may be nil
// when delivery is disabled.
func NewWebhookHandler(database db.Database, dispatcher invalidator) *WebhookHandler {
	return &WebhookHandler{db: database, dispatcher: dispatcher}
}

// RegisterRoutes registers webhook routes behind the given guards
func (h *WebhookHandler) RegisterRoutes(app *fiber.App, guards ...fiber.Handler) {
	guardHandlers := make([]any, len(guards))
	for i, g := range guards {
		guardHandlers[i] = g
	}
	group := app.Group("/webhooks", guardHandlers...)
	group.Post("/", h.Create)
	group.Get("/", h.List)
	group.Delete("/:id", h.Delete)
}

// CreateWebhookRequest registers a delivery endpoint. Events defaults to
// all settlement events; Secret enables HMAC signing and is write-only.
type CreateWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

// WebhookItem is a registration in API responses. The secret never
// round-trips; hasSecret says whether deliveries are signed.
type WebhookItem struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	HasSecret bool      `json:"hasSecret"`
}

func webhookItem(w *db.Webhook) WebhookItem {
	return WebhookItem{
		ID:        w.ID.String(),
		URL:       w.URL,
		Events:    w.Events,
		Active:    w.Active,
		CreatedAt: w.CreatedAt,
		HasSecret: w.Secret != "",
	}
}

// Create registers a webhook
// @Summary Register a webhook
// @Description Registers a URL to receive settlement event deliveries
// @Tags webhooks
// @Accept json
// @Produce json
// @Param request body CreateWebhookRequest true "Registration"
// @Success 201 {object} WebhookItem
// @Failure 400 {object} map[string]string
// @Router /webhooks [post]
func (h *WebhookHandler) Create(c fiber.Ctx) error {
	var req CreateWebhookRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	req.URL = strings.TrimSpace(req.URL)
	if err := validateWebhookURL(req.URL); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	for _, event := range req.Events {
		if !knownWebhookEvent(event) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown event: " + event,
				"supported_events": []string{
					facilitator.EventSettlementSuccess,
					facilitator.EventSettlementFailed,
				},
			})
		}
	}

	hook := &db.Webhook{
		URL:    req.URL,
		Secret: req.Secret,
		Events: req.Events,
	}
	if err := h.db.CreateWebhook(c.Context(), hook); err != nil {
		slog.Error("failed to create webhook", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create webhook",
		})
	}
	h.invalidate()

	slog.Info("webhook registered",
		"webhook_id", hook.ID,
		"url", hook.URL,
		"events", hook.Events,
	)

	return c.Status(fiber.StatusCreated).JSON(webhookItem(hook))
}

// List returns all webhook registrations
// @Summary List webhooks
// @Tags webhooks
// @Produce json
// @Success 200 {object} map[string]any
// @Router /webhooks [get]
func (h *WebhookHandler) List(c fiber.Ctx) error {
	hooks, err := h.db.ListWebhooks(c.Context())
	if err != nil {
		slog.Error("failed to list webhooks", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list webhooks",
		})
	}

	items := make([]WebhookItem, len(hooks))
	for i, w := range hooks {
		items[i] = webhookItem(w)
	}
	return c.JSON(fiber.Map{
		"webhooks": items,
		"count":    len(items),
	})
}

// Delete deactivates a webhook registration. Deactivating a webhook
// that does not exist succeeds, so retries are safe.
// @Summary Deactivate a webhook
// @Tags webhooks
// @Produce json
// @Param id path string true "Webhook ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /webhooks/{id} [delete]
func (h *WebhookHandler) Delete(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook ID",
		})
	}

	if err := h.db.DeactivateWebhook(c.Context(), id); err != nil && !errors.Is(err, db.ErrWebhookNotFound) {
		slog.Error("failed to deactivate webhook", "webhook_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to deactivate webhook",
		})
	}
	h.invalidate()

	return c.JSON(fiber.Map{
		"message": "Webhook deactivated",
	})
}

func (h *WebhookHandler) invalidate() {
	if h.dispatcher != nil {
		h.dispatcher.Invalidate()
	}
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return errors.New("Webhook URL is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return errors.New("Webhook URL is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("Webhook URL must use http or https")
	}
	return nil
}

func knownWebhookEvent(event string) bool {
	switch event {
	case facilitator.EventSettlementSuccess, facilitator.EventSettlementFailed:
		return true
	}
	return false
}

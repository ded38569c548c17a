package handlers

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/internal/db"
	"tollgate/internal/facilitator"
)

type spyInvalidator struct{ calls int }

func (s *spyInvalidator) Invalidate() { s.calls++ }

func setupWebhookTest(t *testing.T) (*fiber.App, *db.MemoryStore, *spyInvalidator) {
	t.Helper()
	store := db.NewMemoryStore()
	spy := &spyInvalidator{}
	app := fiber.New()
	NewWebhookHandler(store, spy).RegisterRoutes(app)
	return app, store, spy
}

func TestCreateWebhook(t *testing.T) {
	app, _, spy := setupWebhookTest(t)

	resp := postJSON(t, app, "/webhooks/", map[string]any{
		"url":    "https://merchant.example.com/hooks/settlement",
		"events": []string{facilitator.EventSettlementSuccess},
		"secret": "whsec_abc123",
	})
	assert.Equal(t, 201, resp.StatusCode)

	body := decodeJSON(t, resp)
	_, err := uuid.Parse(body["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "https://merchant.example.com/hooks/settlement", body["url"])
	assert.Equal(t, true, body["active"])
	assert.Equal(t, true, body["hasSecret"])
	assert.NotContains(t, body, "secret")

	// The dispatcher reloads its registration snapshot on change.
	assert.Equal(t, 1, spy.calls)
}

func TestCreateWebhookWithoutSecret(t *testing.T) {
	app, _, _ := setupWebhookTest(t)

	resp := postJSON(t, app, "/webhooks/", map[string]any{
		"url": "http://localhost:9999/hook",
	})
	assert.Equal(t, 201, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, false, body["hasSecret"])
	// No event filter means every settlement event is delivered.
	assert.Empty(t, body["events"])
}

func TestCreateWebhookRejectsBadURL(t *testing.T) {
	app, _, spy := setupWebhookTest(t)

	cases := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "merchant.example.com/hooks"},
		{"bad scheme", "ftp://merchant.example.com/hooks"},
		{"whitespace only", "   "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, app, "/webhooks/", map[string]any{"url": tc.url})
			assert.Equal(t, 400, resp.StatusCode)
			assert.Contains(t, decodeJSON(t, resp)["error"], "Webhook URL")
		})
	}
	assert.Equal(t, 0, spy.calls)
}

func TestCreateWebhookRejectsUnknownEvent(t *testing.T) {
	app, _, _ := setupWebhookTest(t)

	resp := postJSON(t, app, "/webhooks/", map[string]any{
		"url":    "https://merchant.example.com/hooks",
		"events": []string{facilitator.EventSettlementSuccess, "account.created"},
	})
	assert.Equal(t, 400, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Contains(t, body["error"], "Unknown event: account.created")
	supported := body["supported_events"].([]any)
	assert.Contains(t, supported, facilitator.EventSettlementSuccess)
	assert.Contains(t, supported, facilitator.EventSettlementFailed)
}

func TestCreateWebhookInvalidBody(t *testing.T) {
	app, _, _ := setupWebhookTest(t)

	resp := postJSON(t, app, "/webhooks/", "not json")
	assert.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, decodeJSON(t, resp)["error"], "Invalid request body")
}

func TestListWebhooksNeverEchoesSecret(t *testing.T) {
	app, _, _ := setupWebhookTest(t)

	resp := postJSON(t, app, "/webhooks/", map[string]any{
		"url":    "https://merchant.example.com/hooks",
		"secret": "whsec_abc123",
	})
	require.Equal(t, 201, resp.StatusCode)
	resp.Body.Close()

	resp = getPath(t, app, "/webhooks/")
	assert.Equal(t, 200, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, float64(1), body["count"])
	hooks := body["webhooks"].([]any)
	require.Len(t, hooks, 1)

	hook := hooks[0].(map[string]any)
	assert.Equal(t, true, hook["hasSecret"])
	assert.NotContains(t, hook, "secret")
}

func TestDeleteWebhookDeactivates(t *testing.T) {
	app, store, spy := setupWebhookTest(t)

	resp := postJSON(t, app, "/webhooks/", map[string]any{
		"url": "https://merchant.example.com/hooks",
	})
	require.Equal(t, 201, resp.StatusCode)
	id := decodeJSON(t, resp)["id"].(string)

	req := httptest.NewRequest("DELETE", "/webhooks/"+id, nil)
	delResp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, delResp.StatusCode)
	assert.Equal(t, "Webhook deactivated", decodeJSON(t, delResp)["message"])

	// Deactivation keeps the row for audit but drops it from delivery.
	ctx := context.Background()
	all, err := store.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)

	active, err := store.ListActiveWebhooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.Equal(t, 2, spy.calls)
}

func TestDeleteWebhookIdempotent(t *testing.T) {
	app, _, _ := setupWebhookTest(t)

	// Unknown registrations deactivate without error so retries and
	// crash-replays are safe.
	req := httptest.NewRequest("DELETE", "/webhooks/"+uuid.New().String(), nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()
}

func TestDeleteWebhookInvalidID(t *testing.T) {
	app, _, _ := setupWebhookTest(t)

	req := httptest.NewRequest("DELETE", "/webhooks/not-a-uuid", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, decodeJSON(t, resp)["error"], "Invalid webhook ID")
}

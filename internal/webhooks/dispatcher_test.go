package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/internal/db"
)

type fakeRegistry struct {
	mu    sync.Mutex
	hooks []*db.Webhook
	err   error
}

func (r *fakeRegistry) ListActiveWebhooks(context.Context) ([]*db.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return append([]*db.Webhook(nil), r.hooks...), nil
}

func (r *fakeRegistry) set(hooks ...*db.Webhook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = hooks
}

type capturedDelivery struct {
	headers http.Header
	body    []byte
}

func newTestDispatcher(t *testing.T, reg *fakeRegistry) (*Dispatcher, chan capturedDelivery) {
	t.Helper()
	d := New(reg, Config{RefreshInterval: time.Minute}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	httpmock.ActivateNonDefault(d.client)
	t.Cleanup(httpmock.DeactivateAndReset)

	deliveries := make(chan capturedDelivery, 8)
	httpmock.RegisterResponder("POST", `=~^https://hooks\.test/`,
		func(req *http.Request) (*http.Response, error) {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			deliveries <- capturedDelivery{headers: req.Header.Clone(), body: body}
			return httpmock.NewStringResponse(200, "ok"), nil
		})
	return d, deliveries
}

func settledTx() *db.Transaction {
	txID := "0xabcdef0123456789"
	now := time.Now().UTC()
	return &db.Transaction{
		ID:           uuid.New(),
		Nonce:        "12345",
		Payer:        "0x1111111111111111111111111111111111111111",
		Receiver:     "0x2222222222222222222222222222222222222222",
		TokenAddress: "0x036cbd53842c5426634e7929541ec2318f3dcf7e",
		TokenSymbol:  "USDC",
		Amount:       "1000000",
		Fee:          "1000",
		Network:      "eip155:84532",
		TxID:         &txID,
		Status:       db.TransactionStatusSuccess,
		Protocol:     "witness-spend",
		CreatedAt:    now,
		SettledAt:    &now,
	}
}

func TestDispatcherDeliversSignedEvent(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(&db.Webhook{
		ID:     uuid.New(),
		URL:    "https://hooks.test/settlements",
		Secret: "super-secret",
		Active: true,
	})
	d, deliveries := newTestDispatcher(t, reg)
	d.Invalidate()

	tx := settledTx()
	d.NotifySettlement("settlement.success", tx)
	d.Stop()

	require.Len(t, deliveries, 1)
	got := <-deliveries

	assert.Equal(t, "settlement.success", got.headers.Get("X-Webhook-Event"))
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
	assert.NotEmpty(t, got.headers.Get("X-Webhook-Timestamp"))

	// The signature covers the exact body bytes.
	assert.Equal(t, "sha256="+Sign(got.body, "super-secret"),
		got.headers.Get("X-Webhook-Signature"))

	var body struct {
		Event string `json:"event"`
		Data  struct {
			TransactionID string `json:"transactionId"`
			TxHash        string `json:"txHash"`
			Payer         string `json:"payer"`
			Amount        string `json:"amount"`
			Fee           string `json:"fee"`
			Network       string `json:"network"`
			Status        string `json:"status"`
			ErrorReason   string `json:"errorReason"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got.body, &body))
	assert.Equal(t, "settlement.success", body.Event)
	assert.Equal(t, tx.ID.String(), body.Data.TransactionID)
	assert.Equal(t, *tx.TxID, body.Data.TxHash)
	assert.Equal(t, tx.Payer, body.Data.Payer)
	assert.Equal(t, "1000000", body.Data.Amount)
	assert.Equal(t, "1000", body.Data.Fee)
	assert.Equal(t, "eip155:84532", body.Data.Network)
	assert.Equal(t, "success", body.Data.Status)
	assert.Empty(t, body.Data.ErrorReason)
}

func TestDispatcherOmitsSignatureWithoutSecret(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(&db.Webhook{ID: uuid.New(), URL: "https://hooks.test/open", Active: true})
	d, deliveries := newTestDispatcher(t, reg)
	d.Invalidate()

	d.NotifySettlement("settlement.failed", settledTx())
	d.Stop()

	require.Len(t, deliveries, 1)
	got := <-deliveries
	assert.Empty(t, got.headers.Get("X-Webhook-Signature"))
	assert.Equal(t, "settlement.failed", got.headers.Get("X-Webhook-Event"))
}

func TestDispatcherFiltersByEvent(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(
		&db.Webhook{ID: uuid.New(), URL: "https://hooks.test/failures",
			Events: []string{"settlement.failed"}, Active: true},
		&db.Webhook{ID: uuid.New(), URL: "https://hooks.test/all", Active: true},
	)
	d, deliveries := newTestDispatcher(t, reg)
	d.Invalidate()

	d.NotifySettlement("settlement.success", settledTx())
	d.Stop()

	// Only the catch-all registration matches a success event.
	require.Len(t, deliveries, 1)
	got := <-deliveries
	assert.Equal(t, "settlement.success", got.headers.Get("X-Webhook-Event"))
}

func TestDispatcherInvalidatePicksUpNewHooks(t *testing.T) {
	reg := &fakeRegistry{}
	d, deliveries := newTestDispatcher(t, reg)
	d.Invalidate()

	d.NotifySettlement("settlement.success", settledTx())
	assert.Empty(t, deliveries)

	reg.set(&db.Webhook{ID: uuid.New(), URL: "https://hooks.test/new", Active: true})
	d.Invalidate()
	d.NotifySettlement("settlement.success", settledTx())
	d.Stop()

	assert.Len(t, deliveries, 1)
}

func TestDispatcherKeepsSnapshotOnRegistryError(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(&db.Webhook{ID: uuid.New(), URL: "https://hooks.test/keep", Active: true})
	d, deliveries := newTestDispatcher(t, reg)
	d.Invalidate()

	// A failed refresh must not drop the working registrations.
	reg.mu.Lock()
	reg.err = context.DeadlineExceeded
	reg.mu.Unlock()
	d.Invalidate()

	d.NotifySettlement("settlement.success", settledTx())
	d.Stop()
	assert.Len(t, deliveries, 1)
}

func TestDispatcherFailedEventCarriesReason(t *testing.T) {
	reg := &fakeRegistry{}
	reg.set(&db.Webhook{ID: uuid.New(), URL: "https://hooks.test/failures", Active: true})
	d, deliveries := newTestDispatcher(t, reg)
	d.Invalidate()

	tx := settledTx()
	tx.Status = db.TransactionStatusFailed
	reason := "transaction_reverted: authorization spend reverted on-chain"
	tx.ErrorReason = &reason

	d.NotifySettlement("settlement.failed", tx)
	d.Stop()

	require.Len(t, deliveries, 1)
	got := <-deliveries
	var body eventBody
	require.NoError(t, json.Unmarshal(got.body, &body))
	assert.Equal(t, "failed", body.Data.Status)
	assert.Equal(t, reason, body.Data.ErrorReason)
}

func TestDispatcherStartRefreshLoop(t *testing.T) {
	reg := &fakeRegistry{}
	d, deliveries := newTestDispatcher(t, reg)
	d.interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	// Registration appears after boot; the periodic refresh finds it.
	reg.set(&db.Webhook{ID: uuid.New(), URL: "https://hooks.test/late", Active: true})
	require.Eventually(t, func() bool {
		d.NotifySettlement("settlement.success", settledTx())
		return len(deliveries) > 0
	}, 2*time.Second, 25*time.Millisecond)

	d.Stop()
}

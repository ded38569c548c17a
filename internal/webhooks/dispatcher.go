// Package webhooks delivers settlement lifecycle events to registered
// endpoints: an in-memory snapshot of the active registrations, one
// delivery goroutine per matching endpoint, and HMAC-signed bodies.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tollgate/internal/db"
)

const (
	// defaultDeliveryTimeout bounds one webhook POST.
	defaultDeliveryTimeout = 10 * time.Second
	// defaultRefreshInterval re-snapshots the registrations even without
	// mutations, picking up changes made directly in the database.
	defaultRefreshInterval = time.Minute
)

// Registry is the source of webhook registrations. *db.DB satisfies it.
type Registry interface {
	ListActiveWebhooks(ctx context.Context) ([]*db.Webhook, error)
}

// Config tunes delivery behaviour. Zero values select the defaults.
type Config struct {
	RefreshInterval time.Duration
	Timeout         time.Duration
}

// Dispatcher fans settlement events out to active registrations.
// Deliveries are fire-and-forget: failures are logged and never
// propagate to the settlement path.
type Dispatcher struct {
	registry Registry
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mu    sync.RWMutex
	hooks []*db.Webhook

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New builds a dispatcher over the given registration source.
func New(registry Registry, cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDeliveryTimeout
	}
	return &Dispatcher{
		registry: registry,
		client:   &http.Client{Timeout: cfg.Timeout},
		interval: cfg.RefreshInterval,
		timeout:  cfg.Timeout,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start loads the first snapshot and launches the periodic refresh.
func (d *Dispatcher) Start(ctx context.Context) {
	d.Invalidate()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.Invalidate()
			}
		}
	}()
}

// Stop halts the refresh loop and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// Invalidate re-reads the active registrations. Handlers call it after
// every webhook mutation so new endpoints take effect immediately.
func (d *Dispatcher) Invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hooks, err := d.registry.ListActiveWebhooks(ctx)
	if err != nil {
		// Keep the previous snapshot; a transient read failure must not
		// silently drop every registration.
		d.log.Warn("webhook snapshot refresh failed", "error", err)
		return
	}
	d.mu.Lock()
	d.hooks = hooks
	d.mu.Unlock()
}

// eventBody is the delivery payload.
type eventBody struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      eventData `json:"data"`
}

type eventData struct {
	TransactionID string `json:"transactionId"`
	TxHash        string `json:"txHash,omitempty"`
	Payer         string `json:"payer"`
	Receiver      string `json:"receiver"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee"`
	Network       string `json:"network"`
	Status        string `json:"status"`
	ErrorReason   string `json:"errorReason,omitempty"`
}

// NotifySettlement builds the event body once and fans it out. It
// returns as soon as the deliveries are launched.
func (d *Dispatcher) NotifySettlement(event string, tx *db.Transaction) {
	d.mu.RLock()
	hooks := d.hooks
	d.mu.RUnlock()
	if len(hooks) == 0 {
		return
	}

	data := eventData{
		TransactionID: tx.ID.String(),
		Payer:         tx.Payer,
		Receiver:      tx.Receiver,
		Token:         tx.TokenAddress,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		Network:       tx.Network,
		Status:        string(tx.Status),
	}
	if tx.TxID != nil {
		data.TxHash = *tx.TxID
	}
	if tx.ErrorReason != nil {
		data.ErrorReason = *tx.ErrorReason
	}

	now := time.Now().UTC()
	body, err := json.Marshal(eventBody{Event: event, Timestamp: now, Data: data})
	if err != nil {
		d.log.Error("marshal webhook body", "event", event, "error", err)
		return
	}

	for _, hook := range hooks {
		if !hook.Matches(event) {
			continue
		}
		d.wg.Add(1)
		go d.deliver(hook, event, now, body)
	}
}

func (d *Dispatcher) deliver(hook *db.Webhook, event string, ts time.Time, body []byte) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		d.log.Warn("webhook request build failed", "webhook_id", hook.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(ts.Unix(), 10))
	if hook.Secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+Sign(body, hook.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn("webhook delivery failed", "webhook_id", hook.ID, "event", event, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.log.Warn("webhook delivery rejected",
			"webhook_id", hook.ID, "event", event, "status", resp.StatusCode)
		return
	}
	d.log.Debug("webhook delivered", "webhook_id", hook.ID, "event", event)
}

// Sign computes the hex HMAC-SHA256 of body under the given secret.
// Receivers recompute it to authenticate deliveries.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Webhook is a delivery registration for settlement events. Events is
// the list of event names the registration subscribes to; an empty list
// subscribes to everything.
type Webhook struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrWebhookNotFound is returned when the specified webhook does not exist.
var ErrWebhookNotFound = errors.New("webhook not found")

// Matches reports whether the registration subscribes to the event
func (w *Webhook) Matches(event string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// CreateWebhook registers a new webhook. The registration starts active.
func (db *DB) CreateWebhook(ctx context.Context, w *Webhook) error {
	if w.Events == nil {
		w.Events = []string{}
	}

	query := `
		INSERT INTO webhooks (url, secret, events, active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, created_at
	`

	err := db.QueryRow(ctx, query, w.URL, w.Secret, w.Events).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}

	w.Active = true
	return nil
}

// GetWebhookByID retrieves a single webhook registration
func (db *DB) GetWebhookByID(ctx context.Context, id uuid.UUID) (*Webhook, error) {
	w := &Webhook{}
	err := db.QueryRow(ctx, `
		SELECT id, url, secret, events, active, created_at
		FROM webhooks
		WHERE id = $1
	`, id).Scan(&w.ID, &w.URL, &w.Secret, &w.Events, &w.Active, &w.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}

	return w, nil
}

// ListWebhooks returns all registrations, newest first
func (db *DB) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	return db.listWebhooks(ctx, `
		SELECT id, url, secret, events, active, created_at
		FROM webhooks
		ORDER BY created_at DESC
	`)
}

// ListActiveWebhooks returns active registrations only. The dispatcher
// snapshots this set.
func (db *DB) ListActiveWebhooks(ctx context.Context) ([]*Webhook, error) {
	return db.listWebhooks(ctx, `
		SELECT id, url, secret, events, active, created_at
		FROM webhooks
		WHERE active
		ORDER BY created_at DESC
	`)
}

func (db *DB) listWebhooks(ctx context.Context, query string) ([]*Webhook, error) {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w := &Webhook{}
		if err := rows.Scan(&w.ID, &w.URL, &w.Secret, &w.Events, &w.Active, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhooks: %w", err)
	}

	return webhooks, nil
}

// DeactivateWebhook marks a registration inactive. Idempotent: deactivating
// an already-inactive webhook succeeds.
func (db *DB) DeactivateWebhook(ctx context.Context, id uuid.UUID) error {
	result, err := db.ExecResult(ctx, `
		UPDATE webhooks SET active = FALSE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate webhook: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrWebhookNotFound
	}

	return nil
}

// DeleteWebhook permanently removes a registration
func (db *DB) DeleteWebhook(ctx context.Context, id uuid.UUID) error {
	result, err := db.ExecResult(ctx, `
		DELETE FROM webhooks WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrWebhookNotFound
	}

	return nil
}

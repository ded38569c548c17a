package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Database defines the interface for all database operations
// This interface enables mocking in handler unit tests
type Database interface {
	// Connection management
	Ping(ctx context.Context) error
	Close()

	// Audit log operations
	CreateTransaction(ctx context.Context, tx *Transaction) error
	RecordTransactionTxID(ctx context.Context, id uuid.UUID, txID string) error
	CompleteTransaction(ctx context.Context, id uuid.UUID, txID string) error
	FailTransaction(ctx context.Context, id uuid.UUID, reason, txID string) error
	GetTransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetTransactionByPayerNonce(ctx context.Context, payer, nonce string) (*Transaction, error)
	GetRecentTransactions(ctx context.Context, limit int) ([]*Transaction, error)
	GetSettlementStats(ctx context.Context) (*SettlementStats, error)
	ExpireStalePending(ctx context.Context, age time.Duration, reason string) (int64, error)

	// Replay store operations
	CheckNonce(ctx context.Context, payer, nonce string) (NonceState, error)
	MarkNonceUsed(ctx context.Context, payer, nonce, tokenAddress, txID string) error
	CountNonces(ctx context.Context) (int64, error)

	// Webhook registry operations
	CreateWebhook(ctx context.Context, w *Webhook) error
	GetWebhookByID(ctx context.Context, id uuid.UUID) (*Webhook, error)
	ListWebhooks(ctx context.Context) ([]*Webhook, error)
	ListActiveWebhooks(ctx context.Context) ([]*Webhook, error)
	DeactivateWebhook(ctx context.Context, id uuid.UUID) error
	DeleteWebhook(ctx context.Context, id uuid.UUID) error
}

// Ensure DB implements Database interface
var _ Database = (*DB)(nil)

// Ensure DB implements the replay store surface
var _ NonceStore = (*DB)(nil)

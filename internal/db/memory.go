package db

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MemoryStore is a process-local Database for development boots without
// Postgres and for handler tests. Every record dies with the process:
// replay protection does not survive a restart, so production refuses
// to run on it.
type MemoryStore struct {
	mu sync.RWMutex

	transactions map[uuid.UUID]*Transaction
	txOrder      []uuid.UUID
	byPayerNonce map[string]uuid.UUID

	nonces map[string]memoryNonce

	webhooks  map[uuid.UUID]*Webhook
	hookOrder []uuid.UUID
}

type memoryNonce struct {
	tokenAddress string
	txID         string
	usedAt       time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[uuid.UUID]*Transaction),
		byPayerNonce: make(map[string]uuid.UUID),
		nonces:       make(map[string]memoryNonce),
		webhooks:     make(map[uuid.UUID]*Webhook),
	}
}

// Ping implements Database. The store is always reachable.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Database.
func (m *MemoryStore) Close() {}

func payerNonceKey(payer, nonce string) string {
	return strings.ToLower(payer) + "|" + nonce
}

// CreateTransaction inserts a pending audit row, enforcing the same
// (payer, nonce) uniqueness the SQL schema does.
func (m *MemoryStore) CreateTransaction(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := payerNonceKey(tx.Payer, tx.Nonce)
	if _, exists := m.byPayerNonce[key]; exists {
		return ErrDuplicateTransaction
	}

	tx.ID = uuid.New()
	tx.Payer = strings.ToLower(tx.Payer)
	tx.TokenAddress = strings.ToLower(tx.TokenAddress)
	tx.Status = TransactionStatusPending
	tx.CreatedAt = time.Now().UTC()
	if tx.Fee == "" {
		tx.Fee = "0"
	}

	clone := *tx
	m.transactions[tx.ID] = &clone
	m.txOrder = append(m.txOrder, tx.ID)
	m.byPayerNonce[key] = tx.ID
	return nil
}

// RecordTransactionTxID attaches a submission hash to a pending row.
func (m *MemoryStore) RecordTransactionTxID(_ context.Context, id uuid.UUID, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.transactions[id]; ok && rec.Status == TransactionStatusPending {
		rec.TxID = &txID
	}
	return nil
}

// CompleteTransaction marks a pending row succeeded. Terminal rows never
// move again.
func (m *MemoryStore) CompleteTransaction(_ context.Context, id uuid.UUID, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.transactions[id]
	if !ok || rec.Status != TransactionStatusPending {
		return fmt.Errorf("complete transaction failed: transaction not in pending state")
	}
	now := time.Now().UTC()
	rec.Status = TransactionStatusSuccess
	rec.TxID = &txID
	rec.SettledAt = &now
	return nil
}

// FailTransaction marks a pending row failed with a reason.
func (m *MemoryStore) FailTransaction(_ context.Context, id uuid.UUID, reason, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.transactions[id]
	if !ok || rec.Status != TransactionStatusPending {
		return fmt.Errorf("fail transaction failed: transaction not in pending state")
	}
	now := time.Now().UTC()
	rec.Status = TransactionStatusFailed
	rec.ErrorReason = &reason
	if txID != "" {
		rec.TxID = &txID
	}
	rec.SettledAt = &now
	return nil
}

// GetTransactionByID retrieves a single audit row. Misses answer
// pgx.ErrNoRows like the SQL store so callers need one error path.
func (m *MemoryStore) GetTransactionByID(_ context.Context, id uuid.UUID) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.transactions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *rec
	return &clone, nil
}

// GetTransactionByPayerNonce retrieves the audit row for a (payer, nonce) pair.
func (m *MemoryStore) GetTransactionByPayerNonce(_ context.Context, payer, nonce string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPayerNonce[payerNonceKey(payer, nonce)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *m.transactions[id]
	return &clone, nil
}

// GetRecentTransactions returns the newest audit rows. Limit is clamped
// to [1, 100] with a default of 20.
func (m *MemoryStore) GetRecentTransactions(_ context.Context, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for i := len(m.txOrder) - 1; i >= 0 && len(out) < limit; i-- {
		clone := *m.transactions[m.txOrder[i]]
		out = append(out, &clone)
	}
	return out, nil
}

// GetSettlementStats aggregates the audit log. Sums run over big.Int so
// token amounts above 2^63 stay exact.
func (m *MemoryStore) GetSettlementStats(_ context.Context) (*SettlementStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &SettlementStats{
		GrossVolume:   "0",
		FeesCollected: "0",
	}
	gross := new(big.Int)
	fees := new(big.Int)
	bySymbol := make(map[string]*SymbolVolume)
	volumes := make(map[string]*big.Int)

	for _, rec := range m.transactions {
		stats.TotalTransactions++
		switch rec.Status {
		case TransactionStatusPending:
			stats.Pending++
		case TransactionStatusSuccess:
			stats.Succeeded++
			addAmount(gross, rec.Amount)
			addAmount(fees, rec.Fee)
			sv, ok := bySymbol[rec.TokenSymbol]
			if !ok {
				sv = &SymbolVolume{Symbol: rec.TokenSymbol}
				bySymbol[rec.TokenSymbol] = sv
				volumes[rec.TokenSymbol] = new(big.Int)
			}
			sv.Count++
			addAmount(volumes[rec.TokenSymbol], rec.Amount)
		case TransactionStatusFailed:
			stats.Failed++
		}
	}

	stats.GrossVolume = gross.String()
	stats.FeesCollected = fees.String()

	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		sv := bySymbol[sym]
		sv.Amount = volumes[sym].String()
		stats.VolumeBySymbol = append(stats.VolumeBySymbol, *sv)
	}

	return stats, nil
}

func addAmount(sum *big.Int, amount string) {
	if v, ok := new(big.Int).SetString(amount, 10); ok {
		sum.Add(sum, v)
	}
}

// ExpireStalePending fails pending rows older than the given age.
func (m *MemoryStore) ExpireStalePending(_ context.Context, age time.Duration, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-age)
	var expired int64
	for _, rec := range m.transactions {
		if rec.Status != TransactionStatusPending || !rec.CreatedAt.Before(cutoff) {
			continue
		}
		now := time.Now().UTC()
		r := reason
		rec.Status = TransactionStatusFailed
		rec.ErrorReason = &r
		rec.SettledAt = &now
		expired++
	}
	return expired, nil
}

// CheckNonce reports whether a (payer, nonce) pair has been spent.
func (m *MemoryStore) CheckNonce(_ context.Context, payer, nonce string) (NonceState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.nonces[nonceKey(payer, nonce)]; ok {
		return NonceUsed, nil
	}
	return NonceUnused, nil
}

// MarkNonceUsed records a spent pair. Idempotent like the SQL store's
// ON CONFLICT DO NOTHING: the first claim wins and re-marking succeeds.
func (m *MemoryStore) MarkNonceUsed(_ context.Context, payer, nonce, tokenAddress, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nonceKey(payer, nonce)
	if _, exists := m.nonces[key]; exists {
		return nil
	}
	m.nonces[key] = memoryNonce{
		tokenAddress: strings.ToLower(tokenAddress),
		txID:         txID,
		usedAt:       time.Now().UTC(),
	}
	return nil
}

// CountNonces returns the number of recorded spent nonces.
func (m *MemoryStore) CountNonces(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.nonces)), nil
}

// CreateWebhook registers a new webhook. The registration starts active.
func (m *MemoryStore) CreateWebhook(_ context.Context, w *Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.Events == nil {
		w.Events = []string{}
	}
	w.ID = uuid.New()
	w.Active = true
	w.CreatedAt = time.Now().UTC()

	clone := *w
	m.webhooks[w.ID] = &clone
	m.hookOrder = append(m.hookOrder, w.ID)
	return nil
}

// GetWebhookByID retrieves a single webhook registration.
func (m *MemoryStore) GetWebhookByID(_ context.Context, id uuid.UUID) (*Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.webhooks[id]
	if !ok {
		return nil, ErrWebhookNotFound
	}
	clone := *w
	return &clone, nil
}

// ListWebhooks returns all registrations, newest first.
func (m *MemoryStore) ListWebhooks(context.Context) ([]*Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Webhook, 0, len(m.hookOrder))
	for i := len(m.hookOrder) - 1; i >= 0; i-- {
		clone := *m.webhooks[m.hookOrder[i]]
		out = append(out, &clone)
	}
	return out, nil
}

// ListActiveWebhooks returns active registrations only.
func (m *MemoryStore) ListActiveWebhooks(ctx context.Context) ([]*Webhook, error) {
	all, _ := m.ListWebhooks(ctx)
	out := all[:0]
	for _, w := range all {
		if w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

// DeactivateWebhook marks a registration inactive.
func (m *MemoryStore) DeactivateWebhook(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.webhooks[id]
	if !ok {
		return ErrWebhookNotFound
	}
	w.Active = false
	return nil
}

// DeleteWebhook permanently removes a registration.
func (m *MemoryStore) DeleteWebhook(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.webhooks[id]; !ok {
		return ErrWebhookNotFound
	}
	delete(m.webhooks, id)
	for i, hid := range m.hookOrder {
		if hid == id {
			m.hookOrder = append(m.hookOrder[:i], m.hookOrder[i+1:]...)
			break
		}
	}
	return nil
}

var _ Database = (*MemoryStore)(nil)

package db

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// NonceState is the answer of a replay-store lookup. The zero value is
// Unknown so that an unhandled path fails closed.
type NonceState int

const (
	// NonceUnknown means the store could not answer. Callers must treat
	// an unknown nonce as used.
	NonceUnknown NonceState = iota
	NonceUnused
	NonceUsed
)

func (s NonceState) String() string {
	switch s {
	case NonceUnused:
		return "unused"
	case NonceUsed:
		return "used"
	default:
		return "unknown"
	}
}

// NonceStore is the replay-protection surface the facilitator depends on.
// Implementations must be safe for concurrent use.
type NonceStore interface {
	// CheckNonce reports whether a (payer, nonce) pair has been spent.
	// On store failure it returns NonceUnknown together with the error.
	CheckNonce(ctx context.Context, payer, nonce string) (NonceState, error)

	// MarkNonceUsed durably records a spent (payer, nonce) pair. The
	// claim is idempotent: marking an already-used pair is not an error.
	MarkNonceUsed(ctx context.Context, payer, nonce, tokenAddress, txID string) error
}

// CheckNonce reports whether the (payer, nonce) pair exists in the nonces table.
func (db *DB) CheckNonce(ctx context.Context, payer, nonce string) (NonceState, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM nonces WHERE payer = $1 AND nonce = $2
		)
	`, strings.ToLower(payer), nonce).Scan(&exists)
	if err != nil {
		return NonceUnknown, fmt.Errorf("failed to check nonce: %w", err)
	}

	if exists {
		return NonceUsed, nil
	}
	return NonceUnused, nil
}

// MarkNonceUsed records a spent nonce. Uses INSERT ON CONFLICT DO NOTHING
// so concurrent settlements of the same pair cannot fail each other.
func (db *DB) MarkNonceUsed(ctx context.Context, payer, nonce, tokenAddress, txID string) error {
	err := db.Exec(ctx, `
		INSERT INTO nonces (payer, nonce, token_address, tx_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (payer, nonce) DO NOTHING
	`, strings.ToLower(payer), nonce, strings.ToLower(tokenAddress), txID)
	if err != nil {
		return fmt.Errorf("failed to mark nonce used: %w", err)
	}
	return nil
}

// CountNonces returns the number of recorded spent nonces
func (db *DB) CountNonces(ctx context.Context) (int64, error) {
	var count int64
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM nonces").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count nonces: %w", err)
	}
	return count, nil
}

// MemoryNonceStore is a process-local NonceStore for development and
// tests. It provides no durability and must not back a production
// deployment.
type MemoryNonceStore struct {
	mu   sync.RWMutex
	used map[string]time.Time
}

// NewMemoryNonceStore creates an empty in-memory replay store
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{used: make(map[string]time.Time)}
}

func (m *MemoryNonceStore) CheckNonce(_ context.Context, payer, nonce string) (NonceState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.used[nonceKey(payer, nonce)]; ok {
		return NonceUsed, nil
	}
	return NonceUnused, nil
}

func (m *MemoryNonceStore) MarkNonceUsed(_ context.Context, payer, nonce, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used[nonceKey(payer, nonce)] = time.Now().UTC()
	return nil
}

// Len returns the number of recorded nonces
func (m *MemoryNonceStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.used)
}

// CachedNonceStore fronts a durable NonceStore with an in-memory
// positive cache. Only Used answers are cached: a nonce never becomes
// unused again, so a positive entry can never go stale, while caching
// Unused answers could hide a concurrent spend.
type CachedNonceStore struct {
	store NonceStore

	mu   sync.RWMutex
	used map[string]struct{}
}

// NewCachedNonceStore wraps a durable store with the positive cache
func NewCachedNonceStore(store NonceStore) *CachedNonceStore {
	return &CachedNonceStore{store: store, used: make(map[string]struct{})}
}

func (c *CachedNonceStore) CheckNonce(ctx context.Context, payer, nonce string) (NonceState, error) {
	key := nonceKey(payer, nonce)

	c.mu.RLock()
	_, hit := c.used[key]
	c.mu.RUnlock()
	if hit {
		return NonceUsed, nil
	}

	state, err := c.store.CheckNonce(ctx, payer, nonce)
	if state == NonceUsed {
		c.mu.Lock()
		c.used[key] = struct{}{}
		c.mu.Unlock()
	}
	return state, err
}

func (c *CachedNonceStore) MarkNonceUsed(ctx context.Context, payer, nonce, tokenAddress, txID string) error {
	if err := c.store.MarkNonceUsed(ctx, payer, nonce, tokenAddress, txID); err != nil {
		return err
	}

	c.mu.Lock()
	c.used[nonceKey(payer, nonce)] = struct{}{}
	c.mu.Unlock()
	return nil
}

func nonceKey(payer, nonce string) string {
	return strings.ToLower(payer) + ":" + nonce
}

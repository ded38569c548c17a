package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// TransactionStatus represents the state of a settlement in the audit log
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// ErrDuplicateTransaction is returned when an audit row for the same
// (payer, nonce) pair already exists.
var ErrDuplicateTransaction = errors.New("transaction already recorded for payer and nonce")

// Transaction is one row of the settlement audit log. A row is created
// in pending state before the on-chain submission and transitions to
// exactly one terminal state.
type Transaction struct {
	ID           uuid.UUID         `json:"id"`
	Nonce        string            `json:"nonce"`
	Payer        string            `json:"payer"`
	Receiver     string            `json:"receiver"`
	TokenAddress string            `json:"tokenAddress"`
	TokenSymbol  string            `json:"tokenSymbol"`
	Amount       string            `json:"amount"`
	Fee          string            `json:"fee"`
	FeeBps       int               `json:"feeBps"`
	Network      string            `json:"network"`
	TxID         *string           `json:"txId,omitempty"`
	Status       TransactionStatus `json:"status"`
	ErrorReason  *string           `json:"errorReason,omitempty"`
	Protocol     string            `json:"protocol"`
	CreatedAt    time.Time         `json:"createdAt"`
	SettledAt    *time.Time        `json:"settledAt,omitempty"`
}

const transactionColumns = `id, nonce, payer, receiver, token_address, token_symbol,
	   amount::text, fee::text, fee_bps, network, tx_id, status, error_reason,
	   protocol, created_at, settled_at`

// CreateTransaction inserts a new audit row in pending state.
// Returns ErrDuplicateTransaction if a row for the same (payer, nonce)
// pair already exists, which is the database backstop against replays.
func (db *DB) CreateTransaction(ctx context.Context, tx *Transaction) error {
	query := `
		INSERT INTO transactions (
			nonce, payer, receiver, token_address, token_symbol,
			amount, fee, fee_bps, network, status, protocol
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`

	err := db.QueryRow(ctx, query,
		tx.Nonce,
		strings.ToLower(tx.Payer),
		tx.Receiver,
		strings.ToLower(tx.TokenAddress),
		tx.TokenSymbol,
		tx.Amount,
		orZero(tx.Fee),
		tx.FeeBps,
		tx.Network,
		TransactionStatusPending,
		tx.Protocol,
	).Scan(&tx.ID, &tx.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	tx.Payer = strings.ToLower(tx.Payer)
	tx.TokenAddress = strings.ToLower(tx.TokenAddress)
	tx.Status = TransactionStatusPending
	return nil
}

// RecordTransactionTxID attaches the in-flight transaction hash to a
// pending audit row. If the process dies while waiting for confirmation,
// the orphaned row still names the submission an operator can look up.
func (db *DB) RecordTransactionTxID(ctx context.Context, id uuid.UUID, txID string) error {
	query := `
		UPDATE transactions
		SET tx_id = $2
		WHERE id = $1 AND status = $3
	`

	if err := db.Exec(ctx, query, id, txID, TransactionStatusPending); err != nil {
		return fmt.Errorf("failed to record transaction hash: %w", err)
	}
	return nil
}

// CompleteTransaction marks a pending settlement as succeeded and records
// the on-chain transaction hash. The pending guard makes the transition
// monotonic: a row that already reached a terminal state never moves again.
func (db *DB) CompleteTransaction(ctx context.Context, id uuid.UUID, txID string) error {
	query := `
		UPDATE transactions
		SET status = $2, tx_id = $3, settled_at = NOW()
		WHERE id = $1 AND status = $4
	`

	result, err := db.ExecResult(ctx, query, id, TransactionStatusSuccess, txID, TransactionStatusPending)
	if err != nil {
		return fmt.Errorf("failed to complete transaction: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("complete transaction failed: transaction not in pending state")
	}

	return nil
}

// FailTransaction marks a pending settlement as failed with a reason.
// txID may carry the hash of a spend that landed before a later phase
// reverted; pass empty when nothing reached the chain.
func (db *DB) FailTransaction(ctx context.Context, id uuid.UUID, reason, txID string) error {
	query := `
		UPDATE transactions
		SET status = $2, error_reason = $3, tx_id = NULLIF($4, ''), settled_at = NOW()
		WHERE id = $1 AND status = $5
	`

	result, err := db.ExecResult(ctx, query, id, TransactionStatusFailed, reason, txID, TransactionStatusPending)
	if err != nil {
		return fmt.Errorf("failed to fail transaction: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("fail transaction failed: transaction not in pending state")
	}

	return nil
}

// GetTransactionByID retrieves a single audit row
func (db *DB) GetTransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1
	`

	return db.scanTransaction(db.QueryRow(ctx, query, id))
}

// GetTransactionByPayerNonce retrieves the audit row for a (payer, nonce) pair
func (db *DB) GetTransactionByPayerNonce(ctx context.Context, payer, nonce string) (*Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE payer = $1 AND nonce = $2
	`

	return db.scanTransaction(db.QueryRow(ctx, query, strings.ToLower(payer), nonce))
}

// GetRecentTransactions returns the newest audit rows. Limit is clamped
// to [1, 100] with a default of 20.
func (db *DB) GetRecentTransactions(ctx context.Context, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*Transaction
	for rows.Next() {
		tx, err := db.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recent transactions: %w", err)
	}

	return transactions, nil
}

// SettlementStats aggregates the audit log. Volume figures are NUMERIC
// sums computed in SQL and returned as decimal strings, so token amounts
// above 2^63 never pass through a Go integer.
type SettlementStats struct {
	TotalTransactions int64          `json:"totalTransactions"`
	Pending           int64          `json:"pending"`
	Succeeded         int64          `json:"succeeded"`
	Failed            int64          `json:"failed"`
	GrossVolume       string         `json:"grossVolume"`
	FeesCollected     string         `json:"feesCollected"`
	VolumeBySymbol    []SymbolVolume `json:"volumeBySymbol"`
}

// SymbolVolume is the settled volume for a single token symbol
type SymbolVolume struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Count  int64  `json:"count"`
}

// GetSettlementStats returns aggregate counts and volumes across the audit log.
// Volumes count successful settlements only.
func (db *DB) GetSettlementStats(ctx context.Context) (*SettlementStats, error) {
	stats := &SettlementStats{}

	err := db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'success'), 0)::text,
			COALESCE(SUM(fee) FILTER (WHERE status = 'success'), 0)::text
		FROM transactions
	`).Scan(
		&stats.TotalTransactions,
		&stats.Pending,
		&stats.Succeeded,
		&stats.Failed,
		&stats.GrossVolume,
		&stats.FeesCollected,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement stats: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT token_symbol, SUM(amount)::text, COUNT(*)
		FROM transactions
		WHERE status = 'success'
		GROUP BY token_symbol
		ORDER BY token_symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get per-symbol volume: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sv SymbolVolume
		if err := rows.Scan(&sv.Symbol, &sv.Amount, &sv.Count); err != nil {
			return nil, fmt.Errorf("failed to scan per-symbol volume: %w", err)
		}
		stats.VolumeBySymbol = append(stats.VolumeBySymbol, sv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating per-symbol volume: %w", err)
	}

	return stats, nil
}

// ExpireStalePending fails pending rows older than the given age. The
// reconciler calls this to close out settlements whose worker died
// between submission and the terminal update.
func (db *DB) ExpireStalePending(ctx context.Context, age time.Duration, reason string) (int64, error) {
	query := `
		UPDATE transactions
		SET status = $1, error_reason = $2, settled_at = NOW()
		WHERE status = $3 AND created_at < NOW() - make_interval(secs => $4)
	`

	result, err := db.ExecResult(ctx, query,
		TransactionStatusFailed, reason, TransactionStatusPending, age.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale pending transactions: %w", err)
	}

	return result.RowsAffected(), nil
}

// scanTransaction reads one audit row from a pgx row or rows cursor.
func (db *DB) scanTransaction(row interface{ Scan(...any) error }) (*Transaction, error) {
	var tx Transaction
	err := row.Scan(
		&tx.ID,
		&tx.Nonce,
		&tx.Payer,
		&tx.Receiver,
		&tx.TokenAddress,
		&tx.TokenSymbol,
		&tx.Amount,
		&tx.Fee,
		&tx.FeeBps,
		&tx.Network,
		&tx.TxID,
		&tx.Status,
		&tx.ErrorReason,
		&tx.Protocol,
		&tx.CreatedAt,
		&tx.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// orZero substitutes "0" for an empty NUMERIC input string.
func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

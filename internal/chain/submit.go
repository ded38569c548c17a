package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	maxSubmitAttempts   = 3
	retryBaseWait       = 3 * time.Second
	receiptPollInterval = 500 * time.Millisecond
	gasHeadroomPercent  = 20
)

// ErrGasPriceTooHigh means the network's current fee level is above the
// configured ceiling and submission was refused.
var ErrGasPriceTooHigh = errors.New("gas price above configured maximum")

// TxTimeoutError reports a transaction that was accepted by the mempool
// but not confirmed before the deadline. The hash identifies the
// in-flight submission for reconciliation.
type TxTimeoutError struct {
	Hash common.Hash
}

func (e *TxTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed before deadline", e.Hash.Hex())
}

// TxSigner signs transactions for a single address. The wallet package
// provides the production implementation.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// TxRequest describes a contract call to submit.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// SubmitOptions bound a submission.
type SubmitOptions struct {
	// MaxGasPrice caps maxFeePerGas; nil means uncapped.
	MaxGasPrice *big.Int
	// Confirmations to wait past inclusion; 0 returns at inclusion.
	Confirmations uint64
	// RetryNonceConflicts resubmits with bumped fees on mempool nonce
	// races. Must stay false for transactions that spend a user-signed
	// authorization: those carry a single-use nonce inside the calldata
	// and a resubmit after "nonce too low" could execute twice.
	RetryNonceConflicts bool
	// OnSent, when set, is called with the hash as soon as the
	// transaction is accepted by the mempool, before the confirmation
	// wait. Callers use it to persist the in-flight hash.
	OnSent func(common.Hash)
}

// TxResult is the outcome of a confirmed transaction.
type TxResult struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Reverted    bool
}

// Submit signs and sends a transaction, optionally retrying on mempool
// nonce races, then waits for inclusion plus the requested confirmations.
// The context deadline bounds the whole operation; expiry after send
// yields a TxTimeoutError carrying the hash.
func (c *Client) Submit(ctx context.Context, signer TxSigner, req TxRequest, opts SubmitOptions) (*TxResult, error) {
	chainID := big.NewInt(c.network.ChainID)
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	attempts := 1
	if opts.RetryNonceConflicts {
		attempts = maxSubmitAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		nonce, err := c.eth.PendingNonceAt(ctx, signer.Address())
		if err != nil {
			return nil, fmt.Errorf("pending nonce: %w", err)
		}

		header, err := c.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch head: %w", err)
		}
		if header.BaseFee == nil {
			return nil, fmt.Errorf("network %s has no base fee, EIP-1559 unsupported", c.network.Name)
		}
		tip, err := c.eth.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest tip: %w", err)
		}
		maxFee, maxTip := scaleFees(header.BaseFee, tip, attempt)
		if opts.MaxGasPrice != nil && opts.MaxGasPrice.Sign() > 0 && maxFee.Cmp(opts.MaxGasPrice) > 0 {
			return nil, fmt.Errorf("%w: need %s, cap %s", ErrGasPriceTooHigh, maxFee, opts.MaxGasPrice)
		}

		// EstimateGas doubles as the pre-flight simulation; reverts
		// surface here before anything hits the mempool.
		estimate, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:  signer.Address(),
			To:    &req.To,
			Data:  req.Data,
			Value: value,
		})
		if err != nil {
			return nil, fmt.Errorf("simulate call to %s: %w", req.To.Hex(), err)
		}
		gasLimit := estimate + estimate*gasHeadroomPercent/100

		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: maxTip,
			GasFeeCap: maxFee,
			Gas:       gasLimit,
			To:        &req.To,
			Value:     value,
			Data:      req.Data,
		})
		signed, err := signer.SignTx(tx, chainID)
		if err != nil {
			return nil, fmt.Errorf("sign transaction: %w", err)
		}

		if err := c.eth.SendTransaction(ctx, signed); err != nil {
			if !opts.RetryNonceConflicts || !retryableNonceError(err) {
				return nil, fmt.Errorf("send transaction: %w", err)
			}
			lastErr = err
			c.log.Warn("nonce race on submit, retrying",
				"network", c.network.Name,
				"attempt", attempt,
				"error", err)
			if err := sleepCtx(ctx, retryBaseWait*time.Duration(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if opts.OnSent != nil {
			opts.OnSent(signed.Hash())
		}
		return c.waitConfirmed(ctx, signed.Hash(), opts.Confirmations)
	}
	return nil, fmt.Errorf("submit failed after %d attempts: %w", attempts, lastErr)
}

// waitConfirmed polls for the receipt and then for the confirmation
// depth. Context expiry returns a TxTimeoutError so callers can record
// the in-flight hash.
func (c *Client) waitConfirmed(ctx context.Context, hash common.Hash, confirmations uint64) (*TxResult, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return &TxResult{
					Hash:        hash,
					BlockNumber: receipt.BlockNumber.Uint64(),
					GasUsed:     receipt.GasUsed,
					Reverted:    true,
				}, nil
			}
			if confirmations > 0 {
				if err := c.waitDepth(ctx, receipt.BlockNumber.Uint64(), confirmations, hash); err != nil {
					return nil, err
				}
			}
			return &TxResult{
				Hash:        hash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, &TxTimeoutError{Hash: hash}
		case <-ticker.C:
		}
	}
}

func (c *Client) waitDepth(ctx context.Context, included, confirmations uint64, hash common.Hash) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		head, err := c.eth.BlockNumber(ctx)
		if err == nil && head >= included+confirmations {
			return nil
		}
		select {
		case <-ctx.Done():
			return &TxTimeoutError{Hash: hash}
		case <-ticker.C:
		}
	}
}

// scaleFees computes the fee caps for an attempt: maxFee = 2*baseFee +
// tip on the first try, then maxFee grows 1.5x and the tip 2x per retry.
func scaleFees(baseFee, tip *big.Int, attempt int) (maxFee, maxTip *big.Int) {
	maxTip = new(big.Int).Set(tip)
	for i := 1; i < attempt; i++ {
		maxTip.Mul(maxTip, big.NewInt(2))
	}

	maxFee = new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, maxTip)
	for i := 1; i < attempt; i++ {
		maxFee.Mul(maxFee, big.NewInt(3))
		maxFee.Div(maxFee, big.NewInt(2))
	}
	return maxFee, maxTip
}

// retryableNonceError matches the mempool races worth a resubmit. All
// other send failures are final.
func retryableNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "already known")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package facilitator

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/internal/chain"
	"tollgate/internal/db"
	"tollgate/internal/x402"
)

func requireSelector(t *testing.T, method string, req chain.TxRequest) {
	t.Helper()
	require.GreaterOrEqual(t, len(req.Data), 4)
	assert.Equal(t, settleABI.Methods[method].ID, req.Data[:4], "expected %s call", method)
}

// unpackTransfer decodes an ERC-20 transfer's (to, amount) arguments.
func unpackTransfer(t *testing.T, req chain.TxRequest) (common.Address, *big.Int) {
	t.Helper()
	args, err := settleABI.Methods["transfer"].Inputs.Unpack(req.Data[4:])
	require.NoError(t, err)
	return args[0].(common.Address), args[1].(*big.Int)
}

func TestSettleDirectPassthrough(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fund(2_000_000, 0)

	p := fx.directPayload(t, "1000000", testReceiver)
	res, err := fx.fac.Settle(context.Background(), p, fx.requirements("1000000", testReceiver))
	require.NoError(t, err)

	require.True(t, res.Success)
	assert.Equal(t, testHash(1).Hex(), res.Transaction)
	assert.Equal(t, testCAIP2, res.Network)
	assert.Equal(t, "0", res.Fee)
	assert.Equal(t, x402.ProtocolDirectAuth, res.Protocol)
	assert.Equal(t, uint64(101), res.BlockNumber)
	_, err = uuid.Parse(res.TransactionID)
	assert.NoError(t, err)

	// One transaction: transferWithAuthorization on the token itself,
	// never resubmitted because the calldata holds the signed nonce.
	require.Equal(t, 1, fx.ledger.submitCount())
	spend := fx.ledger.submitAt(0)
	assert.Equal(t, common.HexToAddress(usdcSepolia), spend.To)
	requireSelector(t, "transferWithAuthorization", spend)
	assert.False(t, fx.ledger.optsAt(0).RetryNonceConflicts)

	rec := fx.store.onlyRecord(t)
	assert.Equal(t, db.TransactionStatusSuccess, rec.Status)
	assert.Equal(t, strings.ToLower(testReceiver), rec.Receiver)
	assert.Equal(t, "1000000", rec.Amount)
	assert.Equal(t, "0", rec.Fee)
	assert.Equal(t, 0, rec.FeeBps)
	assert.Equal(t, testCAIP2, rec.Network)
	assert.Equal(t, string(x402.ProtocolDirectAuth), rec.Protocol)
	require.NotNil(t, rec.TxID)
	assert.Equal(t, testHash(1).Hex(), *rec.TxID)

	nonce, err := x402.NormalizeNonce32(p.Payload.Direct.Nonce)
	require.NoError(t, err)
	assert.True(t, fx.store.nonceUsed(res.Payer, nonce))
	assert.Equal(t, []string{EventSettlementSuccess}, fx.notifier.all())
}

func TestSettleWitnessForward(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fund(2_000_000, 2_000_000)
	facAddr := fx.signer.AddressString()

	// payTo is the facilitator account, so the pull lands there and the
	// net amount is forwarded to the offer's actual recipient.
	p := fx.witnessPayload(t, "1000000", facAddr)
	r := fx.requirements("1000000", facAddr)
	r.Extra = map[string]any{"actualRecipient": testReceiver}

	res, err := fx.fac.Settle(context.Background(), p, r)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "1000", res.Fee)
	assert.Equal(t, x402.ProtocolWitnessSpend, res.Protocol)

	require.Equal(t, 3, fx.ledger.submitCount())

	spend := fx.ledger.submitAt(0)
	assert.Equal(t, permit2Contract, spend.To)
	requireSelector(t, "permitWitnessTransferFrom", spend)
	assert.False(t, fx.ledger.optsAt(0).RetryNonceConflicts)

	fwd := fx.ledger.submitAt(1)
	assert.Equal(t, common.HexToAddress(usdcSepolia), fwd.To)
	requireSelector(t, "transfer", fwd)
	to, amount := unpackTransfer(t, fwd)
	assert.Equal(t, common.HexToAddress(testReceiver), to)
	assert.Equal(t, big.NewInt(999_000), amount)
	assert.True(t, fx.ledger.optsAt(1).RetryNonceConflicts)

	sweep := fx.ledger.submitAt(2)
	requireSelector(t, "transfer", sweep)
	to, amount = unpackTransfer(t, sweep)
	assert.Equal(t, common.HexToAddress(testTreasury), to)
	assert.Equal(t, big.NewInt(1_000), amount)

	// The terminal transaction is the net forward, not the fee sweep.
	assert.Equal(t, testHash(2).Hex(), res.Transaction)

	rec := fx.store.onlyRecord(t)
	assert.Equal(t, db.TransactionStatusSuccess, rec.Status)
	assert.Equal(t, 10, rec.FeeBps)
	assert.Equal(t, "1000", rec.Fee)
	assert.Equal(t, strings.ToLower(testReceiver), rec.Receiver)

	nonce, err := x402.ParseTimestamp(string(p.Payload.Witness.Nonce))
	require.NoError(t, err)
	assert.True(t, fx.store.nonceUsed(res.Payer, nonce.String()))
}

func TestSettleForwardFeeExempt(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fund(2_000_000, 2_000_000)
	require.Equal(t, 1, fx.registry.SetFeeExempt(usdcSepolia))
	facAddr := fx.signer.AddressString()

	p := fx.witnessPayload(t, "1000000", facAddr)
	r := fx.requirements("1000000", facAddr)
	r.Extra = map[string]any{"actualRecipient": testReceiver}

	res, err := fx.fac.Settle(context.Background(), p, r)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "0", res.Fee)

	// No fee leg: the full amount goes to the recipient in one forward.
	require.Equal(t, 2, fx.ledger.submitCount())
	to, amount := unpackTransfer(t, fx.ledger.submitAt(1))
	assert.Equal(t, common.HexToAddress(testReceiver), to)
	assert.Equal(t, big.NewInt(1_000_000), amount)
}

func TestSettleForwardWithoutTreasury(t *testing.T) {
	fx := newFixture(t, func(cfg *Config) { cfg.Treasury = common.Address{} })
	fx.fund(2_000_000, 2_000_000)
	facAddr := fx.signer.AddressString()

	p := fx.witnessPayload(t, "1000000", facAddr)
	r := fx.requirements("1000000", facAddr)
	r.Extra = map[string]any{"actualRecipient": testReceiver}

	res, err := fx.fac.Settle(context.Background(), p, r)
	require.NoError(t, err)
	require.True(t, res.Success)

	// The fee is still accounted but stays in the facilitator account;
	// there is nowhere to sweep it.
	assert.Equal(t, "1000", res.Fee)
	require.Equal(t, 2, fx.ledger.submitCount())
	to, amount := unpackTransfer(t, fx.ledger.submitAt(1))
	assert.Equal(t, common.HexToAddress(testReceiver), to)
	assert.Equal(t, big.NewInt(999_000), amount)
}

func splitterFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixture(t, func(cfg *Config) {
		cfg.Mode = ModeSplitter
		cfg.Splitters = map[int64]common.Address{testChainID: common.HexToAddress(testSplitter)}
	})
}

func (fx *fixture) splitterPayload(t *testing.T, amount string) *x402.PaymentPayload {
	t.Helper()
	params := fx.witnessParams(amount, testSplitter)
	params.Spender = testSplitter
	p, err := fx.payer.SignedWitnessPayload(params)
	require.NoError(t, err)
	return p
}

func TestSettleSplitterFlow(t *testing.T) {
	fx := splitterFixture(t)
	fx.fund(2_000_000, 2_000_000)

	p := fx.splitterPayload(t, "1000000")
	r := fx.requirements("1000000", testSplitter)
	r.Extra = map[string]any{"actualRecipient": testReceiver}

	res, err := fx.fac.Settle(context.Background(), p, r)
	require.NoError(t, err)
	require.True(t, res.Success)

	require.Equal(t, 2, fx.ledger.submitCount())

	spend := fx.ledger.submitAt(0)
	assert.Equal(t, common.HexToAddress(testSplitter), spend.To)
	requireSelector(t, "settle", spend)
	assert.False(t, fx.ledger.optsAt(0).RetryNonceConflicts)

	split := fx.ledger.submitAt(1)
	assert.Equal(t, common.HexToAddress(testSplitter), split.To)
	requireSelector(t, "splitPayment", split)
	args, err := settleABI.Methods["splitPayment"].Inputs.Unpack(split.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(usdcSepolia), args[0].(common.Address))
	assert.Equal(t, fx.payer.Address(), args[1].(common.Address))
	assert.Equal(t, common.HexToAddress(testReceiver), args[2].(common.Address))
	assert.Equal(t, big.NewInt(1_000_000), args[3].(*big.Int))
	assert.True(t, fx.ledger.optsAt(1).RetryNonceConflicts)

	// splitPayment is the terminal transaction for the split flow.
	assert.Equal(t, testHash(2).Hex(), res.Transaction)
	rec := fx.store.onlyRecord(t)
	assert.Equal(t, db.TransactionStatusSuccess, rec.Status)
	assert.Equal(t, strings.ToLower(testReceiver), rec.Receiver)
}

func TestSettleSplitterFallsBackToTreasury(t *testing.T) {
	fx := splitterFixture(t)
	fx.fund(2_000_000, 2_000_000)

	// No actualRecipient in the offer: the treasury takes the net leg.
	p := fx.splitterPayload(t, "1000000")
	res, err := fx.fac.Settle(context.Background(), p, fx.requirements("1000000", testSplitter))
	require.NoError(t, err)
	require.True(t, res.Success)

	split := fx.ledger.submitAt(1)
	args, err := settleABI.Methods["splitPayment"].Inputs.Unpack(split.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testTreasury), args[2].(common.Address))
}

func TestSettleNoRecipientConfigured(t *testing.T) {
	fx := splitterFixture(t)
	fx.fac.cfg.Treasury = common.Address{}
	fx.fund(2_000_000, 2_000_000)

	// Verification passes but no recipient can be resolved: that is a
	// deployment problem, not a payment verdict, so it surfaces as an
	// error before any audit row or chain activity.
	p := fx.splitterPayload(t, "1000000")
	res, err := fx.fac.Settle(context.Background(), p, fx.requirements("1000000", testSplitter))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Zero(t, fx.store.recordCount())
	assert.Zero(t, fx.ledger.submitCount())
}

func TestSettleTimeout(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fund(2_000_000, 0)

	pending := testHash(9)
	fx.ledger.submitFn = func(_ int, _ chain.TxRequest, opts chain.SubmitOptions) (*chain.TxResult, error) {
		if opts.OnSent != nil {
			opts.OnSent(pending)
		}
		return nil, &chain.TxTimeoutError{Hash: pending}
	}

	p := fx.directPayload(t, "1000000", testReceiver)
	res, err := fx.fac.Settle(context.Background(), p, fx.requirements("1000000", testReceiver))
	require.NoError(t, err)

	require.False(t, res.Success)
	assert.Equal(t, x402.ReasonTransactionTimeout, res.ErrorReason)
	assert.NotEmpty(t, res.TransactionID)

	// The transaction may still land, so the nonce stays unmarked and
	// the audit row keeps the in-flight hash for the reconciler.
	rec := fx.store.onlyRecord(t)
	assert.Equal(t, db.TransactionStatusFailed, rec.Status)
	require.NotNil(t, rec.TxID)
	assert.Equal(t, pending.Hex(), *rec.TxID)
	require.NotNil(t, rec.ErrorReason)
	assert.Contains(t, *rec.ErrorReason, x402.ReasonTransactionTimeout)

	nonce, err := x402.NormalizeNonce32(p.Payload.Direct.Nonce)
	require.NoError(t, err)
	assert.False(t, fx.store.nonceUsed(res.Payer, nonce))
	assert.Equal(t, []string{EventSettlementFailed}, fx.notifier.all())
}

func TestSettleRevertReasons(t *testing.T) {
	cases := []struct {
		name   string
		revert string
		reason string
	}{
		{"balance drained", "execution reverted: ERC20: transfer amount exceeds balance", x402.ReasonInsufficientFunds},
		{"authorization consumed", "execution reverted: FiatTokenV2: authorization is used", x402.ReasonNonceAlreadyUsed},
		{"permit expired", "execution reverted: SignatureExpired(1724601600)", x402.ReasonInvalidValidBefore},
		{"opaque revert", "execution reverted", x402.ReasonTransactionReverted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, nil)
			fx.fund(2_000_000, 0)
			fx.ledger.submitFn = func(int, chain.TxRequest, chain.SubmitOptions) (*chain.TxResult, error) {
				return nil, errors.New(tc.revert)
			}

			p := fx.directPayload(t, "1000000", testReceiver)
			res, err := fx.fac.Settle(context.Background(), p, fx.requirements("1000000", testReceiver))
			require.NoError(t, err)
			require.False(t, res.Success)
			assert.Equal(t, tc.reason, res.ErrorReason)

			nonce, err := x402.NormalizeNonce32(p.Payload.Direct.Nonce)
			require.NoError(t, err)
			assert.False(t, fx.store.nonceUsed(res.Payer, nonce))
		})
	}
}

func TestSettleSpendReverted(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fund(2_000_000, 0)

	fx.ledger.submitFn = func(call int, _ chain.TxRequest, opts chain.SubmitOptions) (*chain.TxResult, error) {
		h := testHash(call)
		if opts.OnSent != nil {
			opts.OnSent(h)
		}
		return &chain.TxResult{Hash: h, BlockNumber: 100, Reverted: true}, nil
	}

	p := fx.directPayload(t, "1000000", testReceiver)
	res, err := fx.fac.Settle(context.Background(), p, fx.requirements("1000000", testReceiver))
	require.NoError(t, err)

	require.False(t, res.Success)
	assert.Equal(t, x402.ReasonTransactionReverted, res.ErrorReason)

	rec := fx.store.onlyRecord(t)
	assert.Equal(t, db.TransactionStatusFailed, rec.Status)
	require.NotNil(t, rec.TxID)
	assert.Equal(t, testHash(1).Hex(), *rec.TxID)

	// A reverted spend consumed nothing on-chain.
	nonce, err := x402.NormalizeNonce32(p.Payload.Direct.Nonce)
	require.NoError(t, err)
	assert.False(t, fx.store.nonceUsed(res.Payer, nonce))
}

func TestSettleSplitPhaseFailure(t *testing.T) {
	fx := splitterFixture(t)
	fx.fund(2_000_000, 2_000_000)

	fx.ledger.submitFn = func(call int, _ chain.TxRequest, opts chain.SubmitOptions) (*chain.TxResult, error) {
		h := testHash(call)
		if call == 1 {
			if opts.OnSent != nil {
				opts.OnSent(h)
			}
			return &chain.TxResult{Hash: h, BlockNumber: 101}, nil
		}
		return nil, errors.New("execution reverted")
	}

	p := fx.splitterPayload(t, "1000000")
	r := fx.requirements("1000000", testSplitter)
	r.Extra = map[string]any{"actualRecipient": testReceiver}

	res, err := fx.fac.Settle(context.Background(), p, r)
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, x402.ReasonTransactionReverted, res.ErrorReason)
	assert.Equal(t, 2, fx.ledger.submitCount())

	// The spend landed: funds sit in the splitter and the audit row
	// names the spend hash so an operator can recover them.
	rec := fx.store.onlyRecord(t)
	assert.Equal(t, db.TransactionStatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorReason)
	assert.Contains(t, *rec.ErrorReason, "splitPayment failed after spend")
	assert.Contains(t, *rec.ErrorReason, testHash(1).Hex())
	require.NotNil(t, rec.TxID)
	assert.Equal(t, testHash(1).Hex(), *rec.TxID)

	nonce, err := x402.ParseTimestamp(string(p.Payload.Witness.Nonce))
	require.NoError(t, err)
	assert.False(t, fx.store.nonceUsed(res.Payer, nonce.String()))
	assert.Equal(t, []string{EventSettlementFailed}, fx.notifier.all())
}

func TestSettleForwardPhaseFailure(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fund(2_000_000, 2_000_000)
	facAddr := fx.signer.AddressString()

	fx.ledger.submitFn = func(call int, _ chain.TxRequest, opts chain.SubmitOptions) (*chain.TxResult, error) {
		h := testHash(call)
		if call == 1 {
			if opts.OnSent != nil {
				opts.OnSent(h)
			}
			return &chain.TxResult{Hash: h, BlockNumber: 101}, nil
		}
		return nil, errors.New("execution reverted")
	}

	p := fx.witnessPayload(t, "1000000", facAddr)
	r := fx.requirements("1000000", facAddr)
	r.Extra = map[string]any{"actualRecipient": testReceiver}

	res, err := fx.fac.Settle(context.Background(), p, r)
	require.NoError(t, err)
	require.False(t, res.Success)

	rec := fx.store.onlyRecord(t)
	require.NotNil(t, rec.ErrorReason)
	assert.Contains(t, *rec.ErrorReason, "forward failed after spend")
	assert.Contains(t, *rec.ErrorReason, testHash(1).Hex())
}

func TestSettleFeeSweepFailure(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fund(2_000_000, 2_000_000)
	facAddr := fx.signer.AddressString()

	fx.ledger.submitFn = func(call int, _ chain.TxRequest, opts chain.SubmitOptions) (*chain.TxResult, error) {
		h := testHash(call)
		if call < 3 {
			if opts.OnSent != nil {
				opts.OnSent(h)
			}
			return &chain.TxResult{Hash: h, BlockNumber: uint64(100 + call)}, nil
		}
		return nil, errors.New("execution reverted")
	}

	p := fx.witnessPayload(t, "1000000", facAddr)
	r := fx.requirements("1000000", facAddr)
	r.Extra = map[string]any{"actualRecipient": testReceiver}

	res, err := fx.fac.Settle(context.Background(), p, r)
	require.NoError(t, err)
	require.False(t, res.Success)

	// The recipient was paid but the sweep failed; the audit row names
	// both hashes so the operator can reconcile what actually moved.
	rec := fx.store.onlyRecord(t)
	require.NotNil(t, rec.ErrorReason)
	assert.Contains(t, *rec.ErrorReason, "fee sweep failed after spend")
	assert.Contains(t, *rec.ErrorReason, testHash(1).Hex())
	assert.Contains(t, *rec.ErrorReason, testHash(2).Hex())
	require.NotNil(t, rec.TxID)
	assert.Equal(t, testHash(2).Hex(), *rec.TxID)
}

func TestSettleDuplicateAuditBackstop(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fund(2_000_000, 0)

	p := fx.directPayload(t, "1000000", testReceiver)
	nonce, err := x402.NormalizeNonce32(p.Payload.Direct.Nonce)
	require.NoError(t, err)

	// Another settlement of the same (payer, nonce) already opened a
	// row; the unique constraint is the last line of replay defense.
	require.NoError(t, fx.store.CreateTransaction(context.Background(), &db.Transaction{
		Nonce: nonce,
		Payer: strings.ToLower(fx.payer.AddressString()),
	}))

	res, err := fx.fac.Settle(context.Background(), p, fx.requirements("1000000", testReceiver))
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, x402.ReasonNonceAlreadyUsed, res.ErrorReason)
	assert.Equal(t, testCAIP2, res.Network)
	assert.Empty(t, res.TransactionID)
	assert.Zero(t, fx.ledger.submitCount())
}

func TestSettleWithoutSigner(t *testing.T) {
	fx := newFixture(t, func(cfg *Config) { cfg.Signer = nil })
	fx.fund(2_000_000, 0)

	p := fx.directPayload(t, "1000000", testReceiver)
	res, err := fx.fac.Settle(context.Background(), p, fx.requirements("1000000", testReceiver))
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, x402.ReasonFacilitatorNotConfigured, res.ErrorReason)
	assert.Zero(t, fx.store.recordCount())
}

func TestSettleVerifyFailureLeavesNoRecord(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fund(2_000_000, 0)

	p := fx.directPayload(t, "500000", testReceiver)
	res, err := fx.fac.Settle(context.Background(), p, fx.requirements("1000000", testReceiver))
	require.NoError(t, err)

	require.False(t, res.Success)
	assert.Equal(t, x402.ReasonInvalidValueTooLow, res.ErrorReason)
	assert.Equal(t, testCAIP2, res.Network)
	assert.Zero(t, fx.store.recordCount())
	assert.Zero(t, fx.ledger.submitCount())
	assert.Empty(t, fx.notifier.all())
}

func TestSettleNonceMarkFailure(t *testing.T) {
	fx := newFixture(t, nil)
	fx.fund(2_000_000, 0)
	fx.store.markErr = errors.New("connection refused")

	// Funds moved but replay protection could not be recorded: that must
	// surface as a hard error, not a success the caller would trust.
	p := fx.directPayload(t, "1000000", testReceiver)
	res, err := fx.fac.Settle(context.Background(), p, fx.requirements("1000000", testReceiver))
	require.Error(t, err)
	assert.Nil(t, res)

	rec := fx.store.onlyRecord(t)
	assert.Equal(t, db.TransactionStatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorReason)
	assert.Contains(t, *rec.ErrorReason, "replay protection uncertain")
	assert.Contains(t, *rec.ErrorReason, testHash(1).Hex())
	assert.Equal(t, []string{EventSettlementFailed}, fx.notifier.all())
}

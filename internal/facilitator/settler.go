package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tollgate/internal/chain"
	"tollgate/internal/db"
	"tollgate/internal/redact"
	"tollgate/internal/tokens"
	"tollgate/internal/x402"
)

// flow identifies how settled funds reach their recipient.
type flow int

const (
	// flowPassthrough spends straight to the receiver; no fee leg exists,
	// so no fee is collected.
	flowPassthrough flow = iota
	// flowForward spends to the facilitator account, which then forwards
	// the net amount to the recipient and sweeps the fee to the treasury.
	flowForward
	// flowSplit spends to the fee-splitter contract, whose splitPayment
	// distributes net and fee under the on-chain fee schedule.
	flowSplit
)

// settlement is the executable plan derived from a verified payload.
type settlement struct {
	network   chain.Network
	ledger    Ledger
	token     tokens.Token
	payer     common.Address
	payerHex  string
	amount    *big.Int
	feeBps    int
	fee       *big.Int
	net       *big.Int
	nonceKey  string
	flow      flow
	splitter  common.Address
	recipient common.Address
	protocol  x402.Protocol
}

// Settle verifies a payment end to end and executes it on-chain. Every
// semantic outcome lands in the SettleResult with a closed-set reason; a
// non-nil error is reserved for infrastructure failures the caller must
// surface as a server error, such as the audit store being unavailable
// or replay protection becoming uncertain.
func (f *Facilitator) Settle(ctx context.Context, p *x402.PaymentPayload, r *x402.PaymentRequirements) (*x402.SettleResult, error) {
	if f.queue == nil {
		return &x402.SettleResult{Success: false, ErrorReason: x402.ReasonFacilitatorNotConfigured}, nil
	}

	vres, err := f.Verify(ctx, p, r)
	if err != nil {
		return nil, err
	}
	if !vres.IsValid {
		res := &x402.SettleResult{
			Success:     false,
			Payer:       vres.Payer,
			ErrorReason: vres.InvalidReason,
		}
		if p != nil {
			if net, ok := chain.Resolve(p.Network); ok {
				res.Network = net.CAIP2
			}
		}
		return res, nil
	}

	plan, err := f.plan(p, r, vres.Payer)
	if err != nil {
		// Verification already passed, so a plan failure means this
		// deployment is misconfigured, not that the payment is bad.
		return nil, fmt.Errorf("settlement plan: %w", err)
	}

	// Bookkeeping has to finish even when the client disconnects
	// mid-settle; only our own timeouts bound the on-chain waits.
	opCtx := context.WithoutCancel(ctx)

	rec := &db.Transaction{
		Nonce:        plan.nonceKey,
		Payer:        plan.payerHex,
		Receiver:     strings.ToLower(plan.recipient.Hex()),
		TokenAddress: plan.token.Address,
		TokenSymbol:  plan.token.Symbol,
		Amount:       plan.amount.String(),
		Fee:          plan.fee.String(),
		FeeBps:       plan.feeBps,
		Network:      plan.network.CAIP2,
		Protocol:     string(plan.protocol),
	}
	if err := f.store.CreateTransaction(opCtx, rec); err != nil {
		if errors.Is(err, db.ErrDuplicateTransaction) {
			// Database backstop: another settlement of this (payer,
			// nonce) pair won the insert race.
			return &x402.SettleResult{
				Success:     false,
				Network:     plan.network.CAIP2,
				Payer:       plan.payerHex,
				Protocol:    plan.protocol,
				ErrorReason: x402.ReasonNonceAlreadyUsed,
			}, nil
		}
		return nil, fmt.Errorf("open audit record: %w", err)
	}

	f.log.Info("settlement started",
		"transaction_id", rec.ID,
		"network", plan.network.Name,
		"token", plan.token.Symbol,
		"amount", plan.amount.String(),
		"fee_bps", plan.feeBps,
		"protocol", plan.protocol,
		"payer", redact.Address(plan.payerHex),
		"nonce", redact.Nonce(plan.nonceKey))

	spend, err := f.buildSpend(plan, p)
	if err != nil {
		return f.fail(opCtx, rec, plan, x402.ReasonTransactionReverted,
			fmt.Sprintf("%s: build spend: %v", x402.ReasonTransactionReverted, err), ""), nil
	}

	// The authorization spend carries the user-signed nonce, so it is
	// never resubmitted on mempool races.
	spendOpts := chain.SubmitOptions{
		MaxGasPrice:   f.cfg.MaxGasPrice,
		Confirmations: f.cfg.Confirmations,
		OnSent: func(h common.Hash) {
			if err := f.store.RecordTransactionTxID(opCtx, rec.ID, h.Hex()); err != nil {
				f.log.Error("record in-flight hash",
					"transaction_id", rec.ID, "tx", h.Hex(), "error", err)
			}
		},
	}
	spendCtx, cancel := context.WithTimeout(opCtx, f.cfg.SettlementTimeout)
	result, err := f.queue.Submit(spendCtx, plan.ledger, spend, spendOpts)
	cancel()
	if err != nil {
		reason := settleReason(err)
		detail := fmt.Sprintf("%s: %v", reason, err)
		return f.fail(opCtx, rec, plan, reason, detail, timeoutHash(err)), nil
	}
	if result.Reverted {
		// The ledger is the final replay arbiter; a reverted spend has
		// consumed nothing.
		return f.fail(opCtx, rec, plan, x402.ReasonTransactionReverted,
			x402.ReasonTransactionReverted+": authorization spend reverted on-chain", result.Hash.Hex()), nil
	}

	terminal, failRes := f.distribute(opCtx, rec, plan, result)
	if failRes != nil {
		return failRes, nil
	}

	// Replay protection comes before the success record: once marking is
	// uncertain the settlement fails loudly even though funds moved.
	if err := f.store.MarkNonceUsed(opCtx, plan.payerHex, plan.nonceKey, plan.token.Address, terminal.Hash.Hex()); err != nil {
		warn := fmt.Sprintf("nonce mark failed after confirmed spend %s, replay protection uncertain: %v",
			terminal.Hash.Hex(), err)
		f.closeFailed(opCtx, rec, plan, warn, terminal.Hash.Hex())
		return nil, fmt.Errorf("mark nonce used: %w", err)
	}

	if err := f.store.CompleteTransaction(opCtx, rec.ID, terminal.Hash.Hex()); err != nil {
		// Funds moved and the nonce is marked; the settlement is a
		// success on the ledger no matter what the audit row says.
		f.log.Error("complete audit record",
			"transaction_id", rec.ID, "tx", terminal.Hash.Hex(), "error", err)
	}

	txHex := terminal.Hash.Hex()
	now := time.Now().UTC()
	rec.Status = db.TransactionStatusSuccess
	rec.TxID = &txHex
	rec.SettledAt = &now
	f.notifier.NotifySettlement(EventSettlementSuccess, rec)

	f.log.Info("settlement succeeded",
		"transaction_id", rec.ID,
		"tx", txHex,
		"block", terminal.BlockNumber,
		"network", plan.network.Name,
		"fee", plan.fee.String(),
		"payer", redact.Address(plan.payerHex))

	return &x402.SettleResult{
		Success:       true,
		TransactionID: rec.ID.String(),
		Transaction:   txHex,
		Network:       plan.network.CAIP2,
		Payer:         plan.payerHex,
		Fee:           plan.fee.String(),
		Protocol:      plan.protocol,
		BlockNumber:   terminal.BlockNumber,
	}, nil
}

// distribute runs the flow's second phase after a confirmed spend and
// returns the terminal transaction. A non-nil SettleResult means the
// phase failed and the settlement is closed out; the spend has still
// consumed the authorization on-chain, funds sit at the flow's first
// stop, and the audit error names the spend hash for recovery.
func (f *Facilitator) distribute(ctx context.Context, rec *db.Transaction, plan *settlement, spend *chain.TxResult) (*chain.TxResult, *x402.SettleResult) {
	opts := chain.SubmitOptions{
		MaxGasPrice:         f.cfg.MaxGasPrice,
		Confirmations:       f.cfg.Confirmations,
		RetryNonceConflicts: true,
	}
	tokenAddr := common.HexToAddress(plan.token.Address)

	switch plan.flow {
	case flowSplit:
		req, err := splitPaymentCall(plan.splitter, tokenAddr, plan.payer, plan.recipient, plan.amount)
		if err == nil {
			var res *chain.TxResult
			res, err = f.submitPhase(ctx, plan, req, opts)
			if err == nil {
				return res, nil
			}
		}
		reason := settleReason(err)
		detail := fmt.Sprintf("%s: splitPayment failed after spend %s, funds held by splitter pending operator recovery: %v",
			reason, spend.Hash.Hex(), err)
		return nil, f.fail(ctx, rec, plan, reason, detail, spend.Hash.Hex())

	case flowForward:
		req, err := transferCall(tokenAddr, plan.recipient, plan.net)
		var fwd *chain.TxResult
		if err == nil {
			fwd, err = f.submitPhase(ctx, plan, req, opts)
		}
		if err != nil {
			reason := settleReason(err)
			detail := fmt.Sprintf("%s: forward failed after spend %s, funds held by facilitator account pending operator recovery: %v",
				reason, spend.Hash.Hex(), err)
			return nil, f.fail(ctx, rec, plan, reason, detail, spend.Hash.Hex())
		}

		if plan.fee.Sign() > 0 && f.cfg.Treasury != (common.Address{}) {
			req, err := transferCall(tokenAddr, f.cfg.Treasury, plan.fee)
			if err == nil {
				_, err = f.submitPhase(ctx, plan, req, opts)
			}
			if err != nil {
				reason := settleReason(err)
				detail := fmt.Sprintf("%s: fee sweep failed after spend %s and forward %s, fee held by facilitator account: %v",
					reason, spend.Hash.Hex(), fwd.Hash.Hex(), err)
				return nil, f.fail(ctx, rec, plan, reason, detail, fwd.Hash.Hex())
			}
		}
		return fwd, nil

	default:
		return spend, nil
	}
}

// submitPhase pushes one facilitator-key transaction through the queue
// with its own settlement timeout and folds reverts into errors.
func (f *Facilitator) submitPhase(ctx context.Context, plan *settlement, req chain.TxRequest, opts chain.SubmitOptions) (*chain.TxResult, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, f.cfg.SettlementTimeout)
	defer cancel()
	res, err := f.queue.Submit(phaseCtx, plan.ledger, req, opts)
	if err != nil {
		return nil, err
	}
	if res.Reverted {
		return nil, fmt.Errorf("transaction %s reverted", res.Hash.Hex())
	}
	return res, nil
}

// fail closes the audit record, emits the failure event, and shapes the
// client response. reason is the closed-set code; detail is the audit
// text, which may carry recovery hashes. txID names a spend that landed
// before the failure, empty when nothing reached the chain.
func (f *Facilitator) fail(ctx context.Context, rec *db.Transaction, plan *settlement, reason, detail, txID string) *x402.SettleResult {
	f.closeFailed(ctx, rec, plan, detail, txID)
	return &x402.SettleResult{
		Success:       false,
		TransactionID: rec.ID.String(),
		Network:       plan.network.CAIP2,
		Payer:         plan.payerHex,
		Protocol:      plan.protocol,
		ErrorReason:   reason,
	}
}

func (f *Facilitator) closeFailed(ctx context.Context, rec *db.Transaction, plan *settlement, detail, txID string) {
	if err := f.store.FailTransaction(ctx, rec.ID, detail, txID); err != nil {
		f.log.Error("fail audit record", "transaction_id", rec.ID, "error", err)
	}
	now := time.Now().UTC()
	rec.Status = db.TransactionStatusFailed
	rec.ErrorReason = &detail
	rec.SettledAt = &now
	if txID != "" {
		rec.TxID = &txID
	}
	f.notifier.NotifySettlement(EventSettlementFailed, rec)

	f.log.Warn("settlement failed",
		"transaction_id", rec.ID,
		"reason", detail,
		"tx", txID,
		"network", plan.network.Name,
		"payer", redact.Address(plan.payerHex))
}

// plan resolves a verified payload into an executable settlement: which
// ledger and flow, the fee arithmetic, and the canonical replay key.
func (f *Facilitator) plan(p *x402.PaymentPayload, r *x402.PaymentRequirements, payer string) (*settlement, error) {
	network, ok := chain.Resolve(p.Network)
	if !ok {
		return nil, fmt.Errorf("unknown network %q", p.Network)
	}
	ledger, ok := f.chains.ForNetwork(p.Network)
	if !ok {
		return nil, fmt.Errorf("no chain client for %q", p.Network)
	}
	token, ok := f.tokens.ByAddress(network.ChainID, r.Asset)
	if !ok {
		return nil, fmt.Errorf("token %s missing from registry", r.Asset)
	}

	s := &settlement{
		network:  network,
		ledger:   ledger,
		token:    token,
		payer:    common.HexToAddress(payer),
		payerHex: payer,
		protocol: p.Payload.Protocol(),
	}

	switch s.protocol {
	case x402.ProtocolWitnessSpend:
		ws := p.Payload.Witness
		amount, err := x402.ParseAmount(string(ws.Permitted.Amount))
		if err != nil {
			return nil, fmt.Errorf("permitted amount: %w", err)
		}
		nonce, err := x402.ParseTimestamp(string(ws.Nonce))
		if err != nil {
			return nil, fmt.Errorf("nonce: %w", err)
		}
		s.amount = amount
		s.nonceKey = nonce.String()
	default:
		da := p.Payload.Direct
		value, err := x402.ParseAmount(string(da.Value))
		if err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}
		nonce, err := x402.NormalizeNonce32(da.Nonce)
		if err != nil {
			return nil, fmt.Errorf("nonce: %w", err)
		}
		s.amount = value
		s.nonceKey = nonce
	}

	payTo := common.HexToAddress(r.PayTo)
	splitter, hasSplitter := f.splitterFor(network.ChainID)
	switch {
	case hasSplitter && payTo == splitter:
		s.flow = flowSplit
		s.splitter = splitter
		recipient, err := f.feeLegRecipient(r)
		if err != nil {
			return nil, err
		}
		s.recipient = recipient
	case f.cfg.Signer != nil && payTo == f.cfg.Signer.Address():
		s.flow = flowForward
		recipient, err := f.feeLegRecipient(r)
		if err != nil {
			return nil, err
		}
		s.recipient = recipient
	default:
		s.flow = flowPassthrough
		s.recipient = payTo
	}

	// Fees exist only on flows with a fee leg; a passthrough spend moves
	// the full amount to the receiver.
	if s.flow == flowPassthrough {
		s.feeBps = 0
	} else {
		s.feeBps = token.EffectiveFeeBps()
	}
	s.net, s.fee = tokens.NetAndFee(s.amount, s.feeBps)
	return s, nil
}

// feeLegRecipient resolves the ultimate recipient when payTo is a
// settlement destination we control: the offer's actualRecipient when
// present, else the configured treasury.
func (f *Facilitator) feeLegRecipient(r *x402.PaymentRequirements) (common.Address, error) {
	if ar := r.ActualRecipient(); ar != "" {
		if !common.IsHexAddress(ar) {
			return common.Address{}, fmt.Errorf("actualRecipient %q is not an address", ar)
		}
		return common.HexToAddress(ar), nil
	}
	if f.cfg.Treasury == (common.Address{}) {
		return common.Address{}, errors.New("no recipient: offer has no actualRecipient and no treasury is configured")
	}
	return f.cfg.Treasury, nil
}

// buildSpend assembles the authorization-spend transaction. Witness
// spends go through the splitter's settle in split flow and straight to
// Permit2 otherwise; direct-auth always calls the token contract.
func (f *Facilitator) buildSpend(plan *settlement, p *x402.PaymentPayload) (chain.TxRequest, error) {
	if plan.protocol == x402.ProtocolDirectAuth {
		return directAuthCall(common.HexToAddress(plan.token.Address), p.Payload.Direct)
	}
	ws := p.Payload.Witness
	if plan.flow == flowSplit {
		return proxySettleCall(plan.splitter, ws, plan.payer)
	}
	dest := plan.recipient
	if plan.flow == flowForward {
		dest = f.cfg.Signer.Address()
	}
	return witnessSpendCall(ws, plan.payer, dest, plan.amount)
}

func timeoutHash(err error) string {
	var t *chain.TxTimeoutError
	if errors.As(err, &t) {
		return t.Hash.Hex()
	}
	return ""
}

package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tollgate/internal/chain"
	"tollgate/internal/db"
	"tollgate/internal/x402"
)

// timeBufferSeconds guards validBefore and the permit deadline: an
// authorization that expires within the buffer cannot be settled before
// it lapses, so it is rejected up front.
const timeBufferSeconds = 6

// permit2Contract is the outer allowance target for witness spends.
var permit2Contract = common.HexToAddress(x402.Permit2Address)

// Verify runs the full verification ladder: structure, signature, time
// window, replay and funds checks. It never mutates state. A non-nil
// error is a transient infrastructure failure, not a verdict on the
// payment.
func (f *Facilitator) Verify(ctx context.Context, p *x402.PaymentPayload, r *x402.PaymentRequirements) (*x402.VerifyResult, error) {
	return f.verify(ctx, p, r, false)
}

// VerifyQuick runs the signature-level ladder only, skipping the replay
// store and all chain reads. Resource servers use it as a cheap
// pre-check before committing to work; it is never sufficient for
// settlement.
func (f *Facilitator) VerifyQuick(ctx context.Context, p *x402.PaymentPayload, r *x402.PaymentRequirements) (*x402.VerifyResult, error) {
	return f.verify(ctx, p, r, true)
}

func invalid(reason string) *x402.VerifyResult {
	return &x402.VerifyResult{InvalidReason: reason}
}

func invalidFor(payer, reason string) *x402.VerifyResult {
	return &x402.VerifyResult{Payer: payer, InvalidReason: reason}
}

func (f *Facilitator) verify(ctx context.Context, p *x402.PaymentPayload, r *x402.PaymentRequirements, quick bool) (*x402.VerifyResult, error) {
	if p == nil || r == nil || !p.Payload.Valid() {
		return invalid(x402.ReasonInvalidPayload), nil
	}
	x402.Normalize(p, r)

	if !x402.AcceptedVersions[p.X402Version] {
		return invalid(x402.ReasonInvalidX402Version), nil
	}
	if p.Scheme != x402.SchemeExact || r.Scheme != x402.SchemeExact {
		return invalid(x402.ReasonInvalidScheme), nil
	}
	net, ok := chain.Resolve(p.Network)
	if !ok || !chain.SameNetwork(p.Network, r.Network) {
		return invalid(x402.ReasonInvalidNetwork), nil
	}

	// The offer must name a payee, an asset and a bounded amount before
	// anything can be validated against it.
	if !common.IsHexAddress(r.PayTo) || !common.IsHexAddress(r.Asset) {
		return invalid(x402.ReasonInvalidPaymentRequirements), nil
	}
	required, err := x402.ParseAmount(r.MaxAmountRequired)
	if err != nil {
		return invalid(x402.ReasonInvalidPaymentRequirements), nil
	}

	// Quick mode never touches the chain, so a missing client only
	// matters for the full ladder.
	var ledger Ledger
	if !quick {
		ledger, ok = f.chains.ForNetwork(p.Network)
		if !ok {
			return invalid(x402.ReasonInvalidNetwork), nil
		}
	}

	if p.Payload.Protocol() == x402.ProtocolWitnessSpend {
		return f.verifyWitness(ctx, ledger, net, p.Payload.Witness, r, required, quick)
	}
	return f.verifyDirect(ctx, ledger, net, p.Payload.Direct, r, required, quick)
}

func (f *Facilitator) verifyWitness(ctx context.Context, ledger Ledger, net chain.Network, ws *x402.WitnessSpend, r *x402.PaymentRequirements, required *big.Int, quick bool) (*x402.VerifyResult, error) {
	// The permitted token must be curated and must be the asset the
	// offer names; unknown tokens fail closed.
	token, ok := f.tokens.ByAddress(net.ChainID, ws.Permitted.Token)
	if !ok {
		return invalid(x402.ReasonTokenNotWhitelisted), nil
	}
	if !x402.SameAddress(ws.Permitted.Token, r.Asset) {
		return invalid(x402.ReasonInvalidTypedData), nil
	}

	// Numeric fields are validated up front so malformed values surface
	// their specific reasons instead of a generic typed-data failure.
	amount, err := x402.ParseAmount(string(ws.Permitted.Amount))
	if err != nil {
		return invalid(x402.ReasonInvalidValue), nil
	}
	validAfter, err := x402.ParseTimestamp(string(ws.Witness.ValidAfter))
	if err != nil {
		return invalid(x402.ReasonInvalidValidAfter), nil
	}
	validBefore, err := x402.ParseTimestamp(string(ws.Witness.ValidBefore))
	if err != nil {
		return invalid(x402.ReasonInvalidValidBefore), nil
	}
	deadline, err := x402.ParseTimestamp(string(ws.Deadline))
	if err != nil {
		return invalid(x402.ReasonInvalidValidBefore), nil
	}
	nonce, err := x402.ParseTimestamp(string(ws.Nonce))
	if err != nil {
		return invalid(x402.ReasonInvalidTypedData), nil
	}

	// Only a spender this deployment controls can ever execute the
	// permit; anything else would verify and then be unsettleable.
	if !f.spenderAllowed(net.ChainID, ws.Spender) {
		return invalid(x402.ReasonInvalidTypedData), nil
	}

	digest, err := x402.WitnessDigest(net.ChainID, ws)
	if err != nil {
		return invalid(x402.ReasonInvalidTypedData), nil
	}
	payer, err := x402.RecoverSigner(digest, ws.Signature)
	if err != nil {
		return invalid(x402.ReasonInvalidSignature), nil
	}

	now := f.clock(ctx, ledger, quick)
	if reason := checkWindow(now, validAfter, validBefore); reason != "" {
		return invalidFor(payer, reason), nil
	}
	if deadline.Cmp(expiryEdge(now)) < 0 {
		return invalidFor(payer, x402.ReasonInvalidValidBefore), nil
	}

	if !x402.SameAddress(ws.Witness.Receiver, r.PayTo) {
		return invalidFor(payer, x402.ReasonInvalidTypedData), nil
	}

	if amount.Cmp(required) < 0 {
		return invalidFor(payer, x402.ReasonInvalidValueTooLow), nil
	}
	if f.belowSettlementFloor(amount) {
		return invalidFor(payer, x402.ReasonInvalidValueTooLow), nil
	}

	if quick {
		return &x402.VerifyResult{IsValid: true, Payer: payer}, nil
	}

	state, err := f.store.CheckNonce(ctx, payer, nonce.String())
	if err != nil {
		return nil, fmt.Errorf("replay store: %w", err)
	}
	if state != db.NonceUnused {
		return invalidFor(payer, x402.ReasonNonceAlreadyUsed), nil
	}
	owner := common.HexToAddress(payer)
	used, err := ledger.Permit2NonceUsed(ctx, owner, nonce)
	if err != nil {
		return nil, fmt.Errorf("permit2 nonce bitmap: %w", err)
	}
	if used {
		return invalidFor(payer, x402.ReasonNonceAlreadyUsed), nil
	}

	// Allowance before balance: granting the Permit2 approval is the
	// actionable fix, so it is reported first.
	tokenAddr := common.HexToAddress(token.Address)
	allowance, err := ledger.Allowance(ctx, tokenAddr, owner, permit2Contract)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(amount) < 0 {
		return invalidFor(payer, x402.ReasonOuterAllowanceRequired), nil
	}
	balance, err := ledger.BalanceOf(ctx, tokenAddr, owner)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return invalidFor(payer, x402.ReasonInsufficientFunds), nil
	}

	return &x402.VerifyResult{IsValid: true, Payer: payer}, nil
}

func (f *Facilitator) verifyDirect(ctx context.Context, ledger Ledger, net chain.Network, da *x402.DirectAuth, r *x402.PaymentRequirements, required *big.Int, quick bool) (*x402.VerifyResult, error) {
	// Direct-auth needs the token's own EIP-712 domain; a curated token
	// without one supports witness-spend only.
	token, ok := f.tokens.ByAddress(net.ChainID, r.Asset)
	if !ok || token.EIP3009 == nil {
		return invalid(x402.ReasonTokenNotWhitelisted), nil
	}

	value, err := x402.ParseAmount(string(da.Value))
	if err != nil {
		return invalid(x402.ReasonInvalidValue), nil
	}
	validAfter, err := x402.ParseTimestamp(string(da.ValidAfter))
	if err != nil {
		return invalid(x402.ReasonInvalidValidAfter), nil
	}
	validBefore, err := x402.ParseTimestamp(string(da.ValidBefore))
	if err != nil {
		return invalid(x402.ReasonInvalidValidBefore), nil
	}
	nonce, err := x402.NormalizeNonce32(da.Nonce)
	if err != nil {
		return invalid(x402.ReasonInvalidTypedData), nil
	}

	domain := x402.ERC3009Domain{Name: token.EIP3009.Name, Version: token.EIP3009.Version}
	digest, err := x402.DirectAuthDigest(domain, net.ChainID, token.Address, da)
	if err != nil {
		return invalid(x402.ReasonInvalidTypedData), nil
	}
	payer, err := x402.RecoverSigner(digest, da.Signature)
	if err != nil {
		return invalid(x402.ReasonInvalidSignature), nil
	}
	// ERC-3009 binds the funds source into the message; a signer other
	// than `from` holds no authority over those funds.
	if !x402.SameAddress(payer, da.From) {
		return invalidFor(payer, x402.ReasonInvalidSignatureAddress), nil
	}

	now := f.clock(ctx, ledger, quick)
	if reason := checkWindow(now, validAfter, validBefore); reason != "" {
		return invalidFor(payer, reason), nil
	}

	if !x402.SameAddress(da.To, r.PayTo) {
		return invalidFor(payer, x402.ReasonInvalidTypedData), nil
	}

	if value.Cmp(required) < 0 {
		return invalidFor(payer, x402.ReasonInvalidValueTooLow), nil
	}
	if f.belowSettlementFloor(value) {
		return invalidFor(payer, x402.ReasonInvalidValueTooLow), nil
	}

	if quick {
		return &x402.VerifyResult{IsValid: true, Payer: payer}, nil
	}

	state, err := f.store.CheckNonce(ctx, payer, nonce)
	if err != nil {
		return nil, fmt.Errorf("replay store: %w", err)
	}
	if state != db.NonceUnused {
		return invalidFor(payer, x402.ReasonNonceAlreadyUsed), nil
	}
	tokenAddr := common.HexToAddress(token.Address)
	owner := common.HexToAddress(payer)
	used, err := ledger.AuthorizationUsed(ctx, tokenAddr, owner, common.HexToHash(nonce))
	if err != nil {
		return nil, fmt.Errorf("authorization state: %w", err)
	}
	if used {
		return invalidFor(payer, x402.ReasonNonceAlreadyUsed), nil
	}

	balance, err := ledger.BalanceOf(ctx, tokenAddr, owner)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance.Cmp(value) < 0 {
		return invalidFor(payer, x402.ReasonInsufficientFunds), nil
	}

	return &x402.VerifyResult{IsValid: true, Payer: payer}, nil
}

// spenderAllowed reports whether a signed spender is one this deployment
// can execute: the mode's settlement destination or the optional proxy.
func (f *Facilitator) spenderAllowed(chainID int64, spender string) bool {
	for _, addr := range f.allowedSpenders(chainID) {
		if x402.SameAddress(spender, addr.Hex()) {
			return true
		}
	}
	return false
}

// belowSettlementFloor applies the configured minimum settlement unit.
func (f *Facilitator) belowSettlementFloor(amount *big.Int) bool {
	floor := f.cfg.MinSettlementUnit
	return floor != nil && floor.Sign() > 0 && amount.Cmp(floor) < 0
}

// clock returns the verification timestamp: the chain head when a ledger
// is at hand and answers quickly, else the wall clock. Head staleness of
// a block or two is covered by the expiry buffer.
func (f *Facilitator) clock(ctx context.Context, ledger Ledger, quick bool) int64 {
	if !quick && ledger != nil {
		hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if ts, err := ledger.HeadTimestamp(hctx); err == nil && ts > 0 {
			return int64(ts)
		}
	}
	return time.Now().Unix()
}

// expiryEdge is the earliest acceptable expiry for the clock reading.
func expiryEdge(now int64) *big.Int {
	return big.NewInt(now + timeBufferSeconds)
}

// checkWindow validates an authorization's validity window against the
// clock, applying the expiry buffer to validBefore.
func checkWindow(now int64, validAfter, validBefore *big.Int) string {
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return x402.ReasonInvalidValidAfter
	}
	if validBefore.Cmp(expiryEdge(now)) <= 0 {
		return x402.ReasonInvalidValidBefore
	}
	return ""
}

package facilitator

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"tollgate/internal/chain"
	"tollgate/internal/x402"
)

// settleABIJSON covers every call settlement can make: the ERC-3009
// authorization spend, the Permit2 witness spend, the splitter proxy's
// settle entrypoint, the second-phase splitPayment, and the plain ERC-20
// transfer used for direct-mode disbursement.
const settleABIJSON = `[
	{"name":"transferWithAuthorization","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"validAfter","type":"uint256"},
		{"name":"validBefore","type":"uint256"},
		{"name":"nonce","type":"bytes32"},
		{"name":"v","type":"uint8"},
		{"name":"r","type":"bytes32"},
		{"name":"s","type":"bytes32"}],"outputs":[]},
	{"name":"permitWitnessTransferFrom","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"permit","type":"tuple","components":[
			{"name":"permitted","type":"tuple","components":[
				{"name":"token","type":"address"},
				{"name":"amount","type":"uint256"}]},
			{"name":"nonce","type":"uint256"},
			{"name":"deadline","type":"uint256"}]},
		{"name":"transferDetails","type":"tuple","components":[
			{"name":"to","type":"address"},
			{"name":"requestedAmount","type":"uint256"}]},
		{"name":"owner","type":"address"},
		{"name":"witness","type":"bytes32"},
		{"name":"witnessTypeString","type":"string"},
		{"name":"signature","type":"bytes"}],"outputs":[]},
	{"name":"settle","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"permit","type":"tuple","components":[
			{"name":"permitted","type":"tuple","components":[
				{"name":"token","type":"address"},
				{"name":"amount","type":"uint256"}]},
			{"name":"nonce","type":"uint256"},
			{"name":"deadline","type":"uint256"}]},
		{"name":"owner","type":"address"},
		{"name":"witness","type":"tuple","components":[
			{"name":"receiver","type":"address"},
			{"name":"validAfter","type":"uint256"},
			{"name":"validBefore","type":"uint256"}]},
		{"name":"signature","type":"bytes"}],"outputs":[]},
	{"name":"splitPayment","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"token","type":"address"},
		{"name":"payer","type":"address"},
		{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"}],"outputs":[
		{"name":"netAmount","type":"uint256"},
		{"name":"feeAmount","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}],"outputs":[
		{"name":"","type":"bool"}]}
]`

var settleABI = mustABI(settleABIJSON)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse settlement abi: %v", err))
	}
	return parsed
}

// The tuple layouts mirror the Permit2 structs byte for byte; field
// order matters to the ABI encoder.

type tokenPermissions struct {
	Token  common.Address
	Amount *big.Int
}

type permitTransferFrom struct {
	Permitted tokenPermissions
	Nonce     *big.Int
	Deadline  *big.Int
}

type transferDetails struct {
	To              common.Address
	RequestedAmount *big.Int
}

type transferWitness struct {
	Receiver    common.Address
	ValidAfter  *big.Int
	ValidBefore *big.Int
}

func witnessPermit(ws *x402.WitnessSpend) (permitTransferFrom, error) {
	amount, err := x402.ParseAmount(string(ws.Permitted.Amount))
	if err != nil {
		return permitTransferFrom{}, fmt.Errorf("permitted amount: %w", err)
	}
	nonce, err := x402.ParseTimestamp(string(ws.Nonce))
	if err != nil {
		return permitTransferFrom{}, fmt.Errorf("nonce: %w", err)
	}
	deadline, err := x402.ParseTimestamp(string(ws.Deadline))
	if err != nil {
		return permitTransferFrom{}, fmt.Errorf("deadline: %w", err)
	}
	return permitTransferFrom{
		Permitted: tokenPermissions{
			Token:  common.HexToAddress(ws.Permitted.Token),
			Amount: amount,
		},
		Nonce:    nonce,
		Deadline: deadline,
	}, nil
}

func witnessStruct(ws *x402.WitnessSpend) (transferWitness, error) {
	validAfter, err := x402.ParseTimestamp(string(ws.Witness.ValidAfter))
	if err != nil {
		return transferWitness{}, fmt.Errorf("validAfter: %w", err)
	}
	validBefore, err := x402.ParseTimestamp(string(ws.Witness.ValidBefore))
	if err != nil {
		return transferWitness{}, fmt.Errorf("validBefore: %w", err)
	}
	return transferWitness{
		Receiver:    common.HexToAddress(ws.Witness.Receiver),
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
	}, nil
}

// witnessHash computes the X402TransferDetails struct hash bound into the
// permit signature. Permit2 re-derives the full typed-data digest from
// this hash plus the witness type string, so it must match the signing
// side exactly.
func witnessHash(ws *x402.WitnessSpend) ([32]byte, error) {
	w, err := witnessStruct(ws)
	if err != nil {
		return [32]byte{}, err
	}
	typeHash := crypto.Keccak256([]byte(x402.WitnessTypeString))
	packed := crypto.Keccak256(
		typeHash,
		common.LeftPadBytes(w.Receiver.Bytes(), 32),
		common.LeftPadBytes(w.ValidAfter.Bytes(), 32),
		common.LeftPadBytes(w.ValidBefore.Bytes(), 32),
	)
	var out [32]byte
	copy(out[:], packed)
	return out, nil
}

// witnessSpendCall builds a direct Permit2 permitWitnessTransferFrom.
// The transaction sender must be the signed spender; `to` is where the
// pulled funds land.
func witnessSpendCall(ws *x402.WitnessSpend, payer, to common.Address, amount *big.Int) (chain.TxRequest, error) {
	permit, err := witnessPermit(ws)
	if err != nil {
		return chain.TxRequest{}, err
	}
	witness, err := witnessHash(ws)
	if err != nil {
		return chain.TxRequest{}, err
	}
	data, err := settleABI.Pack("permitWitnessTransferFrom",
		permit,
		transferDetails{To: to, RequestedAmount: amount},
		payer,
		witness,
		x402.WitnessTypeString,
		common.FromHex(ws.Signature),
	)
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("pack permitWitnessTransferFrom: %w", err)
	}
	return chain.TxRequest{To: permit2Contract, Data: data}, nil
}

// proxySettleCall routes a witness spend through the splitter proxy,
// which pulls the full amount to itself and distributes it in the
// splitPayment phase.
func proxySettleCall(proxy common.Address, ws *x402.WitnessSpend, payer common.Address) (chain.TxRequest, error) {
	permit, err := witnessPermit(ws)
	if err != nil {
		return chain.TxRequest{}, err
	}
	witness, err := witnessStruct(ws)
	if err != nil {
		return chain.TxRequest{}, err
	}
	data, err := settleABI.Pack("settle", permit, payer, witness, common.FromHex(ws.Signature))
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("pack settle: %w", err)
	}
	return chain.TxRequest{To: proxy, Data: data}, nil
}

// directAuthCall builds the token contract's transferWithAuthorization.
// Any account may submit it; the token verifies the signature itself.
func directAuthCall(token common.Address, da *x402.DirectAuth) (chain.TxRequest, error) {
	value, err := x402.ParseAmount(string(da.Value))
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("value: %w", err)
	}
	validAfter, err := x402.ParseTimestamp(string(da.ValidAfter))
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("validAfter: %w", err)
	}
	validBefore, err := x402.ParseTimestamp(string(da.ValidBefore))
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("validBefore: %w", err)
	}
	normalized, err := x402.NormalizeNonce32(da.Nonce)
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("nonce: %w", err)
	}
	sig := common.FromHex(da.Signature)
	if len(sig) != 65 {
		return chain.TxRequest{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	var r, s [32]byte
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])

	data, err := settleABI.Pack("transferWithAuthorization",
		common.HexToAddress(da.From),
		common.HexToAddress(da.To),
		value,
		validAfter,
		validBefore,
		[32]byte(common.HexToHash(normalized)),
		v,
		r,
		s,
	)
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("pack transferWithAuthorization: %w", err)
	}
	return chain.TxRequest{To: token, Data: data}, nil
}

// splitPaymentCall builds the splitter's distribution phase: forward the
// net amount to the recipient and the fee to the splitter's treasury.
func splitPaymentCall(splitter, token, payer, recipient common.Address, amount *big.Int) (chain.TxRequest, error) {
	data, err := settleABI.Pack("splitPayment", token, payer, recipient, amount)
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("pack splitPayment: %w", err)
	}
	return chain.TxRequest{To: splitter, Data: data}, nil
}

// transferCall builds a plain ERC-20 transfer, used in direct mode to
// forward funds the facilitator pulled to itself.
func transferCall(token, to common.Address, amount *big.Int) (chain.TxRequest, error) {
	data, err := settleABI.Pack("transfer", to, amount)
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("pack transfer: %w", err)
	}
	return chain.TxRequest{To: token, Data: data}, nil
}

// settleReason reduces an on-chain failure to the closed reason set.
// Nodes return revert strings in slightly different wrappers, so the
// match is substring-based and case-insensitive.
func settleReason(err error) string {
	var timeout *chain.TxTimeoutError
	if errors.As(err, &timeout) {
		return x402.ReasonTransactionTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "allowance"):
		return x402.ReasonOuterAllowanceRequired
	case strings.Contains(msg, "invalidnonce") ||
		strings.Contains(msg, "authorization is used") ||
		strings.Contains(msg, "nonce already used"):
		return x402.ReasonNonceAlreadyUsed
	case strings.Contains(msg, "transfer amount exceeds balance") ||
		strings.Contains(msg, "transfer_from_failed") ||
		strings.Contains(msg, "insufficient balance"):
		return x402.ReasonInsufficientFunds
	case strings.Contains(msg, "signatureexpired") ||
		strings.Contains(msg, "authorization is expired") ||
		strings.Contains(msg, "expired"):
		return x402.ReasonInvalidValidBefore
	case strings.Contains(msg, "invalidsignature") ||
		strings.Contains(msg, "invalid signature"):
		return x402.ReasonInvalidSignature
	default:
		return x402.ReasonTransactionReverted
	}
}

package x402

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Permit2Address is the canonical Permit2 deployment, identical on every
// chain it has been deployed to.
const Permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

// WitnessTypeString names the witness struct appended to the permit. The
// settlement contract receives this string verbatim and must hash with it,
// so the text here and the on-chain constant have to match byte for byte.
const WitnessTypeString = "X402TransferDetails(address receiver,uint256 validAfter,uint256 validBefore)"

// PrimaryTypeWitness is the outer struct type for witness-spend permits.
const PrimaryTypeWitness = "PermitWitnessTransferFrom"

// PrimaryTypeDirect is the ERC-3009 transfer authorization type.
const PrimaryTypeDirect = "TransferWithAuthorization"

// ERC3009Domain carries the token-specific EIP-712 domain parameters for
// direct-auth verification. Tokens disagree on both fields, so the registry
// supplies them per asset.
type ERC3009Domain struct {
	Name    string
	Version string
}

// WitnessTypedData builds the EIP-712 payload a payer signs for a
// witness-spend authorization. The Permit2 domain deliberately has no
// version field; including one changes the domain separator and breaks
// recovery against the deployed contract.
func WitnessTypedData(chainID int64, ws *WitnessSpend) (apitypes.TypedData, error) {
	amount, err := ParseAmount(string(ws.Permitted.Amount))
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("permitted amount: %w", err)
	}
	nonce, err := ParseTimestamp(string(ws.Nonce))
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("nonce: %w", err)
	}
	deadline, err := ParseTimestamp(string(ws.Deadline))
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("deadline: %w", err)
	}
	validAfter, err := ParseTimestamp(string(ws.Witness.ValidAfter))
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("validAfter: %w", err)
	}
	validBefore, err := ParseTimestamp(string(ws.Witness.ValidBefore))
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("validBefore: %w", err)
	}
	if !common.IsHexAddress(ws.Permitted.Token) {
		return apitypes.TypedData{}, fmt.Errorf("permitted token %q is not an address", ws.Permitted.Token)
	}
	if !common.IsHexAddress(ws.Spender) {
		return apitypes.TypedData{}, fmt.Errorf("spender %q is not an address", ws.Spender)
	}
	if !common.IsHexAddress(ws.Witness.Receiver) {
		return apitypes.TypedData{}, fmt.Errorf("witness receiver %q is not an address", ws.Witness.Receiver)
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			PrimaryTypeWitness: []apitypes.Type{
				{Name: "permitted", Type: "TokenPermissions"},
				{Name: "spender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "witness", Type: "X402TransferDetails"},
			},
			"TokenPermissions": []apitypes.Type{
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
			"X402TransferDetails": []apitypes.Type{
				{Name: "receiver", Type: "address"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
			},
		},
		PrimaryType: PrimaryTypeWitness,
		Domain: apitypes.TypedDataDomain{
			Name:              "Permit2",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: Permit2Address,
		},
		Message: apitypes.TypedDataMessage{
			"permitted": map[string]any{
				"token":  ws.Permitted.Token,
				"amount": hexOrDecimal(amount),
			},
			"spender":  ws.Spender,
			"nonce":    hexOrDecimal(nonce),
			"deadline": hexOrDecimal(deadline),
			"witness": map[string]any{
				"receiver":    ws.Witness.Receiver,
				"validAfter":  hexOrDecimal(validAfter),
				"validBefore": hexOrDecimal(validBefore),
			},
		},
	}, nil
}

// WitnessDigest hashes a witness-spend authorization for signing or
// recovery.
func WitnessDigest(chainID int64, ws *WitnessSpend) ([]byte, error) {
	typed, err := WitnessTypedData(chainID, ws)
	if err != nil {
		return nil, err
	}
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return digest, nil
}

// DirectAuthTypedData builds the EIP-712 payload for an ERC-3009
// transferWithAuthorization. The domain is the token contract's own, so
// name and version come from the registry entry for the asset.
func DirectAuthTypedData(domain ERC3009Domain, chainID int64, tokenAddress string, da *DirectAuth) (apitypes.TypedData, error) {
	value, err := ParseAmount(string(da.Value))
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("value: %w", err)
	}
	validAfter, err := ParseTimestamp(string(da.ValidAfter))
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("validAfter: %w", err)
	}
	validBefore, err := ParseTimestamp(string(da.ValidBefore))
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("validBefore: %w", err)
	}
	nonce, err := NormalizeNonce32(da.Nonce)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("nonce: %w", err)
	}
	if !common.IsHexAddress(da.From) {
		return apitypes.TypedData{}, fmt.Errorf("from %q is not an address", da.From)
	}
	if !common.IsHexAddress(da.To) {
		return apitypes.TypedData{}, fmt.Errorf("to %q is not an address", da.To)
	}
	if !common.IsHexAddress(tokenAddress) {
		return apitypes.TypedData{}, fmt.Errorf("token %q is not an address", tokenAddress)
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			PrimaryTypeDirect: []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: PrimaryTypeDirect,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: tokenAddress,
		},
		Message: apitypes.TypedDataMessage{
			"from":        da.From,
			"to":          da.To,
			"value":       hexOrDecimal(value),
			"validAfter":  hexOrDecimal(validAfter),
			"validBefore": hexOrDecimal(validBefore),
			"nonce":       nonce,
		},
	}, nil
}

// DirectAuthDigest hashes an ERC-3009 authorization for signing or
// recovery.
func DirectAuthDigest(domain ERC3009Domain, chainID int64, tokenAddress string, da *DirectAuth) ([]byte, error) {
	typed, err := DirectAuthTypedData(domain, chainID, tokenAddress, da)
	if err != nil {
		return nil, err
	}
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return digest, nil
}

func hexOrDecimal(v *big.Int) *math.HexOrDecimal256 {
	return (*math.HexOrDecimal256)(v)
}

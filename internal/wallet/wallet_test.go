package wallet

import (
	"math/big"
	"strings"
	"testing"

	"tollgate/internal/x402"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSigner(t *testing.T) {
	// Well-known test vector key.
	key := "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	s, err := NewSigner(key)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.AddressString())

	// Same key without prefix parses identically.
	s2, err := NewSigner(strings.TrimPrefix(key, "0x"))
	require.NoError(t, err)
	assert.Equal(t, s.AddressString(), s2.AddressString())
}

func TestNewSigner_Invalid(t *testing.T) {
	_, err := NewSigner("")
	assert.Error(t, err)

	_, err = NewSigner("0xzz")
	assert.Error(t, err)

	_, err = NewSigner("0x1234")
	assert.Error(t, err)
}

func TestSigner_ExportRoundTrip(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	restored, err := NewSigner(s.ExportHex())
	require.NoError(t, err)
	assert.Equal(t, s.AddressString(), restored.AddressString())
}

func TestSigner_SignTx(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	chainID := big.NewInt(84532)
	to := common.HexToAddress("0x1234567890123456789012345678901234567890")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     0,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(0),
	})

	signed, err := s.SignTx(tx, chainID)
	require.NoError(t, err)

	sender, err := types.Sender(types.NewLondonSigner(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)
}

func TestTestPayer_WitnessPayloadVerifies(t *testing.T) {
	payer, err := NewTestPayer()
	require.NoError(t, err)

	payload, err := payer.SignedWitnessPayload(PaymentParams{
		Network:  "eip155:84532",
		ChainID:  84532,
		Token:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:   "10000",
		Receiver: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
		Spender:  "0x1234567890123456789012345678901234567890",
	})
	require.NoError(t, err)
	require.NotNil(t, payload.Payload.Witness)

	ws := payload.Payload.Witness
	digest, err := x402.WitnessDigest(84532, ws)
	require.NoError(t, err)

	recovered, err := x402.RecoverSigner(digest, ws.Signature)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(payer.AddressString()), recovered)
}

func TestTestPayer_DirectPayloadVerifies(t *testing.T) {
	payer, err := NewTestPayer()
	require.NoError(t, err)

	domain := x402.ERC3009Domain{Name: "USDC", Version: "2"}
	payload, err := payer.SignedDirectPayload(PaymentParams{
		Network:  "eip155:84532",
		ChainID:  84532,
		Token:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:   "5000",
		Receiver: "0x2222222222222222222222222222222222222222",
		Domain:   domain,
	})
	require.NoError(t, err)
	require.NotNil(t, payload.Payload.Direct)

	da := payload.Payload.Direct
	assert.Equal(t, payer.AddressString(), da.From)

	digest, err := x402.DirectAuthDigest(domain, 84532, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", da)
	require.NoError(t, err)

	recovered, err := x402.RecoverSigner(digest, da.Signature)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(payer.AddressString()), recovered)
}

func TestTestPayer_RandomNoncesDiffer(t *testing.T) {
	payer, err := NewTestPayer()
	require.NoError(t, err)

	params := PaymentParams{
		Network:  "eip155:84532",
		ChainID:  84532,
		Token:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:   "10000",
		Receiver: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
		Spender:  "0x1234567890123456789012345678901234567890",
	}

	p1, err := payer.SignedWitnessPayload(params)
	require.NoError(t, err)
	p2, err := payer.SignedWitnessPayload(params)
	require.NoError(t, err)
	assert.NotEqual(t, p1.Payload.Witness.Nonce, p2.Payload.Witness.Nonce)
}

func TestZero_MakesSignerUnusable(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)

	digest := make([]byte, 32)
	_, err = s.SignDigest(digest)
	require.NoError(t, err)

	s.Zero()
	assert.Equal(t, uint64(0), s.key.D.Uint64())
}

package tokens

import (
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SeedsKnownTokens(t *testing.T) {
	r, err := Load(10)
	require.NoError(t, err)

	usdc, ok := r.ByAddress(8453, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	require.True(t, ok)
	assert.Equal(t, "USDC", usdc.Symbol)
	assert.Equal(t, 6, usdc.Decimals)
	assert.Equal(t, 10, usdc.FeeBps, "seed without explicit feeBps takes the default")
	require.NotNil(t, usdc.EIP3009)
	assert.Equal(t, "USD Coin", usdc.EIP3009.Name)
	assert.Equal(t, "2", usdc.EIP3009.Version)

	sepolia, ok := r.ByAddress(84532, "0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	require.True(t, ok)
	require.NotNil(t, sepolia.EIP3009)
	assert.Equal(t, "USDC", sepolia.EIP3009.Name)

	dai, ok := r.BySymbol(8453, "dai")
	require.True(t, ok)
	assert.Nil(t, dai.EIP3009, "DAI has no transferWithAuthorization")
}

func TestByAddress_CaseInsensitive(t *testing.T) {
	r, err := Load(0)
	require.NoError(t, err)

	lower, ok := r.ByAddress(8453, "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	require.True(t, ok)
	upper, ok := r.ByAddress(8453, "0x833589FCD6EDB6E08F4C7C32D4F71B54BDA02913")
	require.True(t, ok)
	assert.Equal(t, lower.Address, upper.Address)
}

func TestFeeBps(t *testing.T) {
	r, err := Load(10)
	require.NoError(t, err)

	assert.Equal(t, 10, r.FeeBps(8453, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	assert.Equal(t, -1, r.FeeBps(8453, "0x00000000000000000000000000000000000000aa"), "unknown token")
	assert.Equal(t, -1, r.FeeBps(1, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), "unknown chain")
}

func TestFeeBps_ExemptWinsOverConfigured(t *testing.T) {
	r, err := Load(25)
	require.NoError(t, err)

	addr := "0x00000000000000000000000000000000000000bb"
	require.NoError(t, r.Upsert(Token{
		ChainID: 8453, Address: addr, Symbol: "TST", Name: "Test", Decimals: 18,
		FeeBps: 25, FeeExempt: true,
	}))

	assert.Equal(t, 0, r.FeeBps(8453, addr))
}

func TestEffectiveFeeBps_Discount(t *testing.T) {
	tok := Token{FeeBps: 30, DiscountBps: 10}
	assert.Equal(t, 20, tok.EffectiveFeeBps())

	floored := Token{FeeBps: 10, DiscountBps: 50}
	assert.Equal(t, 0, floored.EffectiveFeeBps())
}

func TestUpsert_Validation(t *testing.T) {
	r, err := Load(0)
	require.NoError(t, err)

	tests := []struct {
		name string
		tok  Token
	}{
		{"empty address", Token{ChainID: 8453, Symbol: "X", FeeBps: 0}},
		{"not hex", Token{ChainID: 8453, Address: "hello", Symbol: "X"}},
		{"short address", Token{ChainID: 8453, Address: "0x1234", Symbol: "X"}},
		{"no symbol", Token{ChainID: 8453, Address: "0x00000000000000000000000000000000000000cc"}},
		{"no chain", Token{Address: "0x00000000000000000000000000000000000000cc", Symbol: "X"}},
		{"bps too high", Token{ChainID: 8453, Address: "0x00000000000000000000000000000000000000cc", Symbol: "X", FeeBps: 1001}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, r.Upsert(tc.tok))
		})
	}
}

func TestSetFeeExempt(t *testing.T) {
	r, err := Load(10)
	require.NoError(t, err)

	// WETH is seeded on both chains at the same address.
	changed := r.SetFeeExempt("0x4200000000000000000000000000000000000006")
	assert.Equal(t, 2, changed)
	assert.Equal(t, 0, r.FeeBps(8453, "0x4200000000000000000000000000000000000006"))
	assert.Equal(t, 0, r.FeeBps(84532, "0x4200000000000000000000000000000000000006"))

	assert.Equal(t, 0, r.SetFeeExempt("0x00000000000000000000000000000000000000dd"))
}

func TestList_SortedBySymbol(t *testing.T) {
	r, err := Load(0)
	require.NoError(t, err)

	list := r.List(8453)
	require.Len(t, list, 3)
	assert.Equal(t, "DAI", list[0].Symbol)
	assert.Equal(t, "USDC", list[1].Symbol)
	assert.Equal(t, "WETH", list[2].Symbol)

	assert.Empty(t, r.List(1))
}

func TestClampBps(t *testing.T) {
	assert.Equal(t, 0, ClampBps(-5))
	assert.Equal(t, 0, ClampBps(0))
	assert.Equal(t, 500, ClampBps(500))
	assert.Equal(t, 1000, ClampBps(1000))
	assert.Equal(t, 1000, ClampBps(5000))
}

func TestNetAndFee(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		bps     int
		wantNet string
		wantFee string
	}{
		{"typical 0.1%", "1000000", 10, "999000", "1000"},
		{"dust floors to zero fee", "99", 10, "99", "0"},
		{"exact boundary", "10000", 1, "9999", "1"},
		{"zero bps", "1000000", 0, "1000000", "0"},
		{"max bps", "1000000", 1000, "900000", "100000"},
		{"clamped above max", "1000000", 9999, "900000", "100000"},
		{"one unit", "1", 1000, "1", "0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			amount, ok := new(big.Int).SetString(tc.amount, 10)
			require.True(t, ok)

			net, fee := NetAndFee(amount, tc.bps)
			assert.Equal(t, tc.wantNet, net.String())
			assert.Equal(t, tc.wantFee, fee.String())

			// net + fee must always reassemble the amount exactly.
			sum := new(big.Int).Add(net, fee)
			assert.Equal(t, amount.String(), sum.String())
		})
	}
}

func TestNetAndFee_LargeAmounts(t *testing.T) {
	// 100 tokens at 18 decimals.
	amount, ok := new(big.Int).SetString("100000000000000000000", 10)
	require.True(t, ok)

	net, fee := NetAndFee(amount, 25)
	assert.Equal(t, "250000000000000000", fee.String())
	assert.Equal(t, "99750000000000000000", net.String())
}

func TestNetAndFee_NilAmount(t *testing.T) {
	net, fee := NetAndFee(nil, 10)
	assert.Equal(t, "0", net.String())
	assert.Equal(t, "0", fee.String())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r, err := Load(10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				addr := fmt.Sprintf("0x%038dab", n)
				_ = r.Upsert(Token{ChainID: 8453, Address: addr, Symbol: fmt.Sprintf("T%d", n), Name: "t", Decimals: 6, FeeBps: 10})
				r.ByAddress(8453, addr)
				r.FeeBps(8453, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
				r.List(8453)
			}
		}(i)
	}
	wg.Wait()
}

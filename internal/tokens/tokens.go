// Package tokens resolves token addresses to fee policy and metadata.
// The registry is seeded from an embedded catalog and may be amended at
// runtime through the admin surface; reads vastly outnumber writes.
package tokens

import (
	_ "embed"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

const (
	// MaxFeeBps caps the facilitator fee at 10%.
	MaxFeeBps = 1000
	// BpsDenominator is the basis-point divisor.
	BpsDenominator = 10000
)

// EIP3009 holds the token-specific EIP-712 domain parameters required to
// verify direct-auth payments. Tokens without it support witness-spend
// only.
type EIP3009 struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// Token is a resolved registry entry. FeeBps is always populated; entries
// that omit it in the seed receive the configured default at load time.
type Token struct {
	ChainID     int64    `json:"chainId"`
	Address     string   `json:"address"`
	Symbol      string   `json:"symbol"`
	Name        string   `json:"name"`
	Decimals    int      `json:"decimals"`
	FeeBps      int      `json:"feeBps"`
	FeeExempt   bool     `json:"feeExempt"`
	DiscountBps int      `json:"discountBps,omitempty"`
	EIP3009     *EIP3009 `json:"eip3009,omitempty"`
}

// EffectiveFeeBps applies exemption and discount to the configured rate.
func (t Token) EffectiveFeeBps() int {
	if t.FeeExempt {
		return 0
	}
	return ClampBps(t.FeeBps - t.DiscountBps)
}

type seedToken struct {
	Address     string   `yaml:"address"`
	Symbol      string   `yaml:"symbol"`
	Name        string   `yaml:"name"`
	Decimals    int      `yaml:"decimals"`
	FeeBps      *int     `yaml:"feeBps"`
	FeeExempt   bool     `yaml:"feeExempt"`
	DiscountBps int      `yaml:"discountBps"`
	EIP3009     *EIP3009 `yaml:"eip3009"`
}

type seedFile struct {
	Networks []struct {
		ChainID int64       `yaml:"chainId"`
		Name    string      `yaml:"name"`
		Tokens  []seedToken `yaml:"tokens"`
	} `yaml:"networks"`
}

// Registry maps (chain, address) and (chain, symbol) to token records.
type Registry struct {
	mu       sync.RWMutex
	byAddr   map[int64]map[string]Token
	bySymbol map[int64]map[string]Token
}

// Load parses the embedded seed catalog. Tokens without an explicit
// feeBps get defaultFeeBps.
func Load(defaultFeeBps int) (*Registry, error) {
	var seed seedFile
	if err := yaml.Unmarshal(seedYAML, &seed); err != nil {
		return nil, fmt.Errorf("parse token seed: %w", err)
	}

	r := &Registry{
		byAddr:   make(map[int64]map[string]Token),
		bySymbol: make(map[int64]map[string]Token),
	}
	for _, net := range seed.Networks {
		for _, st := range net.Tokens {
			bps := defaultFeeBps
			if st.FeeBps != nil {
				bps = *st.FeeBps
			}
			tok := Token{
				ChainID:     net.ChainID,
				Address:     strings.ToLower(st.Address),
				Symbol:      strings.ToUpper(st.Symbol),
				Name:        st.Name,
				Decimals:    st.Decimals,
				FeeBps:      ClampBps(bps),
				FeeExempt:   st.FeeExempt,
				DiscountBps: st.DiscountBps,
				EIP3009:     st.EIP3009,
			}
			if err := r.Upsert(tok); err != nil {
				return nil, fmt.Errorf("seed token %s on %d: %w", st.Symbol, net.ChainID, err)
			}
		}
	}
	return r, nil
}

// ByAddress looks a token up case-insensitively.
func (r *Registry) ByAddress(chainID int64, address string) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.byAddr[chainID][strings.ToLower(strings.TrimSpace(address))]
	return tok, ok
}

// BySymbol looks a token up by its upper-cased symbol.
func (r *Registry) BySymbol(chainID int64, symbol string) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.bySymbol[chainID][strings.ToUpper(strings.TrimSpace(symbol))]
	return tok, ok
}

// FeeBps resolves the effective fee rate for an address: 0 when exempt,
// the configured rate otherwise, -1 for unknown tokens. Callers must
// reject unknowns.
func (r *Registry) FeeBps(chainID int64, address string) int {
	tok, ok := r.ByAddress(chainID, address)
	if !ok {
		return -1
	}
	return tok.EffectiveFeeBps()
}

// Upsert inserts or replaces a token record. Used by the seed loader and
// the admin mutation path.
func (r *Registry) Upsert(t Token) error {
	t.Address = strings.ToLower(strings.TrimSpace(t.Address))
	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	if t.Address == "" || !strings.HasPrefix(t.Address, "0x") || len(t.Address) != 42 {
		return fmt.Errorf("invalid token address %q", t.Address)
	}
	if t.Symbol == "" {
		return fmt.Errorf("token %s has no symbol", t.Address)
	}
	if t.ChainID == 0 {
		return fmt.Errorf("token %s has no chain id", t.Address)
	}
	if t.FeeBps < 0 || t.FeeBps > MaxFeeBps {
		return fmt.Errorf("token %s feeBps %d outside [0,%d]", t.Address, t.FeeBps, MaxFeeBps)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byAddr[t.ChainID] == nil {
		r.byAddr[t.ChainID] = make(map[string]Token)
		r.bySymbol[t.ChainID] = make(map[string]Token)
	}
	r.byAddr[t.ChainID][t.Address] = t
	r.bySymbol[t.ChainID][t.Symbol] = t
	return nil
}

// SetFeeExempt marks an address exempt on every chain it is registered
// on and reports how many records changed. Supports the FEE_EXEMPT_TOKENS
// boot override.
func (r *Registry) SetFeeExempt(address string) int {
	addr := strings.ToLower(strings.TrimSpace(address))
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := 0
	for chainID, m := range r.byAddr {
		tok, ok := m[addr]
		if !ok {
			continue
		}
		tok.FeeExempt = true
		m[addr] = tok
		r.bySymbol[chainID][tok.Symbol] = tok
		changed++
	}
	return changed
}

// List returns the tokens registered on a chain, sorted by symbol.
func (r *Registry) List(chainID int64) []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Token, 0, len(r.byAddr[chainID]))
	for _, tok := range r.byAddr[chainID] {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ClampBps bounds a basis-point rate to [0, MaxFeeBps].
func ClampBps(bps int) int {
	if bps < 0 {
		return 0
	}
	if bps > MaxFeeBps {
		return MaxFeeBps
	}
	return bps
}

// NetAndFee splits an amount into the net payout and the facilitator fee
// using floor division, matching the on-chain formula. Small amounts may
// legitimately yield a zero fee.
func NetAndFee(amount *big.Int, bps int) (net, fee *big.Int) {
	if amount == nil {
		return new(big.Int), new(big.Int)
	}
	bps = ClampBps(bps)
	fee = new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	fee.Div(fee, big.NewInt(BpsDenominator))
	net = new(big.Int).Sub(amount, fee)
	return net, fee
}

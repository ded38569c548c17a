package prices

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Quote sources, in decreasing order of trust.
const (
	// SourceOracle marks a price fetched from the oracle this cycle.
	SourceOracle = "oracle"
	// SourcePinned marks a stablecoin pinned to $1, never fetched.
	SourcePinned = "pinned"
	// SourceStale marks a previously fetched price the oracle could not
	// refresh; the value is the last known one.
	SourceStale = "stale"
	// SourceFallback marks a hardcoded seed for a symbol the oracle has
	// never answered for.
	SourceFallback = "fallback"
)

// Quote is one symbol's USD price and its provenance.
type Quote struct {
	USD       float64   `json:"usd"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// pinnedSymbols are fiat-backed stablecoins quoted at $1 without asking
// the oracle.
var pinnedSymbols = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
}

// oracleIDs maps token symbols to the oracle's id namespace where the
// lowercased symbol is not the id.
var oracleIDs = map[string]string{
	"ETH":  "ethereum",
	"WETH": "weth",
	"WBTC": "wrapped-bitcoin",
}

// fallbackUSD seeds symbols that must quote before the first successful
// refresh. Deliberately coarse; real values arrive within one cycle.
var fallbackUSD = map[string]float64{
	"ETH":  2500,
	"WETH": 2500,
	"WBTC": 60000,
}

// Cache holds the current quote per tracked symbol and refreshes the
// non-pinned ones on an interval. All methods are safe for concurrent
// use.
type Cache struct {
	oracle   *Oracle
	symbols  []string
	interval time.Duration
	log      *slog.Logger

	mu     sync.RWMutex
	quotes map[string]Quote

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewCache builds a cache tracking the given symbols. Stablecoins are
// pinned immediately; other known symbols start on their fallback value
// until the first refresh lands.
func NewCache(oracle *Oracle, symbols []string, interval time.Duration, log *slog.Logger) *Cache {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	c := &Cache{
		oracle:   oracle,
		symbols:  append([]string(nil), symbols...),
		interval: interval,
		log:      log,
		quotes:   make(map[string]Quote),
		stopCh:   make(chan struct{}),
	}
	now := time.Now().UTC()
	for _, sym := range c.symbols {
		switch {
		case pinnedSymbols[sym]:
			c.quotes[sym] = Quote{USD: 1.0, Source: SourcePinned, FetchedAt: now}
		default:
			if usd, ok := fallbackUSD[sym]; ok {
				c.quotes[sym] = Quote{USD: usd, Source: SourceFallback, FetchedAt: now}
			}
		}
	}
	return c
}

// Start launches the refresh loop: one immediate refresh, then one per
// interval. It returns without waiting for the first fetch.
func (c *Cache) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.refresh(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.refresh(ctx)
			}
		}
	}()
}

// Stop halts the refresh loop. Safe to call more than once.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Quote returns the current quote for a symbol.
func (c *Cache) Quote(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// All returns a copy of every tracked quote.
func (c *Cache) All() map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Quote, len(c.quotes))
	for sym, q := range c.quotes {
		out[sym] = q
	}
	return out
}

// USDValue converts a raw token amount to its USD value using the
// current quote. The bool is false when no quote exists for the symbol.
func (c *Cache) USDValue(symbol string, amount *big.Int, decimals int) (float64, bool) {
	q, ok := c.Quote(symbol)
	if !ok || amount == nil {
		return 0, false
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Quo(f, scale)
	f.Mul(f, big.NewFloat(q.USD))
	usd, _ := f.Float64()
	return usd, true
}

// refresh fetches every non-pinned tracked symbol. On oracle failure
// the previous values are kept and marked stale; fallback seeds stay
// fallback until the oracle answers for them at least once.
func (c *Cache) refresh(ctx context.Context) {
	var ids []string
	idToSym := make(map[string]string)
	for _, sym := range c.symbols {
		if pinnedSymbols[sym] {
			continue
		}
		id := oracleID(sym)
		ids = append(ids, id)
		idToSym[id] = sym
	}
	if len(ids) == 0 {
		return
	}

	fetched, err := c.oracle.SimplePrice(ctx, ids)
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.log.Warn("price refresh failed", "error", err, "symbols", len(ids))
		for sym, q := range c.quotes {
			if q.Source == SourceOracle {
				q.Source = SourceStale
				c.quotes[sym] = q
			}
		}
		return
	}

	for id, usd := range fetched {
		sym, ok := idToSym[id]
		if !ok {
			continue
		}
		c.quotes[sym] = Quote{USD: usd, Source: SourceOracle, FetchedAt: now}
	}
	// Ids the oracle skipped this cycle go stale rather than silently
	// keeping an oracle label.
	for id, sym := range idToSym {
		if _, ok := fetched[id]; ok {
			continue
		}
		if q, ok := c.quotes[sym]; ok && q.Source == SourceOracle {
			q.Source = SourceStale
			c.quotes[sym] = q
		}
	}
}

func oracleID(symbol string) string {
	if id, ok := oracleIDs[symbol]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

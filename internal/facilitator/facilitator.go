// Package facilitator implements the x402 verify and settle state
// machine: payload verification against live chain state, replay
// protection, and serialized on-chain settlement with fee handling.
package facilitator

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"tollgate/internal/chain"
	"tollgate/internal/db"
	"tollgate/internal/tokens"
	"tollgate/internal/x402"
)

// Mode selects how settlements collect the platform fee.
type Mode string

const (
	// ModeDirect pulls funds to the facilitator account and forwards the
	// net amount and fee from there.
	ModeDirect Mode = "direct"
	// ModeSplitter routes settlements through the on-chain fee-splitter
	// contract, which enforces the fee schedule in the ledger itself.
	ModeSplitter Mode = "splitter"
)

// Settlement lifecycle events handed to the Notifier.
const (
	EventSettlementSuccess = "settlement.success"
	EventSettlementFailed  = "settlement.failed"
)

// Ledger is the chain surface verification and settlement use. A
// *chain.Client satisfies it; tests substitute a fake.
type Ledger interface {
	Network() chain.Network
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	AuthorizationUsed(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error)
	Permit2NonceUsed(ctx context.Context, owner common.Address, nonce *big.Int) (bool, error)
	HeadTimestamp(ctx context.Context) (uint64, error)
	Submit(ctx context.Context, signer chain.TxSigner, req chain.TxRequest, opts chain.SubmitOptions) (*chain.TxResult, error)
}

// ChainSource resolves network strings to connected ledgers.
type ChainSource interface {
	ForNetwork(network string) (Ledger, bool)
	Networks() []chain.Network
}

// Chains adapts a *chain.Registry to ChainSource. The registry hands
// out concrete clients, so the interface conversion needs a shim.
func Chains(r *chain.Registry) ChainSource { return registrySource{r} }

type registrySource struct{ r *chain.Registry }

func (s registrySource) ForNetwork(network string) (Ledger, bool) {
	c, ok := s.r.ForNetwork(network)
	if !ok {
		return nil, false
	}
	return c, true
}

func (s registrySource) Networks() []chain.Network { return s.r.Networks() }

// Store persists audit rows and replay nonces. *db.DB satisfies it for
// production; *db.MemoryStore serves development and tests.
type Store interface {
	CreateTransaction(ctx context.Context, tx *db.Transaction) error
	RecordTransactionTxID(ctx context.Context, id uuid.UUID, txID string) error
	CompleteTransaction(ctx context.Context, id uuid.UUID, txID string) error
	FailTransaction(ctx context.Context, id uuid.UUID, reason, txID string) error
	CheckNonce(ctx context.Context, payer, nonce string) (db.NonceState, error)
	MarkNonceUsed(ctx context.Context, payer, nonce, tokenAddress, txID string) error
}

// Notifier receives settlement lifecycle events after the audit record
// reaches a terminal state. The webhook dispatcher implements it.
type Notifier interface {
	NotifySettlement(event string, tx *db.Transaction)
}

// NopNotifier discards events.
type NopNotifier struct{}

// NotifySettlement implements Notifier.
func (NopNotifier) NotifySettlement(string, *db.Transaction) {}

// Config is the settlement policy the server resolves from the
// environment.
type Config struct {
	Mode Mode

	// Signer holds the facilitator key. Nil runs the service in
	// verify-only mode: settles answer facilitator_not_configured.
	Signer chain.TxSigner

	// Splitters maps chain id to the fee-splitter contract deployed
	// there. Missing or zero entries disable the splitter flow for that
	// chain.
	Splitters map[int64]common.Address

	// ProxyAddress is an optional Permit2 witness proxy accepted as a
	// signed spender in addition to the mode's own destination.
	ProxyAddress common.Address

	// Treasury receives fees and is the fallback recipient when a
	// splitter settlement carries no actualRecipient.
	Treasury common.Address

	SettlementTimeout time.Duration
	Confirmations     uint64
	MaxGasPrice       *big.Int

	// MinSettlementUnit rejects authorizations below the smallest amount
	// worth settling; zero disables the floor.
	MinSettlementUnit *big.Int
}

// Facilitator verifies x402 payment payloads and settles them on-chain.
// All methods are safe for concurrent use; on-chain submissions from
// the facilitator key are serialized through a single submit queue.
type Facilitator struct {
	cfg      Config
	chains   ChainSource
	tokens   *tokens.Registry
	store    Store
	notifier Notifier
	queue    *submitQueue
	log      *slog.Logger
}

// New wires a facilitator. The notifier may be nil.
func New(cfg Config, chains ChainSource, registry *tokens.Registry, store Store, notifier Notifier, log *slog.Logger) *Facilitator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDirect
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = 60 * time.Second
	}
	f := &Facilitator{
		cfg:      cfg,
		chains:   chains,
		tokens:   registry,
		store:    store,
		notifier: notifier,
		log:      log,
	}
	if cfg.Signer != nil {
		f.queue = newSubmitQueue(cfg.Signer, log)
	}
	return f
}

// Close drains the submit queue. Safe to call once.
func (f *Facilitator) Close() {
	if f.queue != nil {
		f.queue.Close()
	}
}

// CanSettle reports whether a facilitator key is configured.
func (f *Facilitator) CanSettle() bool { return f.cfg.Signer != nil }

// Address returns the lowercased facilitator account, or empty in
// verify-only mode.
func (f *Facilitator) Address() string {
	if f.cfg.Signer == nil {
		return ""
	}
	return strings.ToLower(f.cfg.Signer.Address().Hex())
}

// Mode returns the configured settlement mode.
func (f *Facilitator) Mode() Mode { return f.cfg.Mode }

// splitterFor returns the fee-splitter contract for a chain, if one is
// configured and non-zero.
func (f *Facilitator) splitterFor(chainID int64) (common.Address, bool) {
	addr, ok := f.cfg.Splitters[chainID]
	if !ok || addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

// allowedSpenders lists the addresses a witness-spend signature may name
// as spender on the given chain: the mode's settlement destination plus
// the optional witness proxy.
func (f *Facilitator) allowedSpenders(chainID int64) []common.Address {
	var out []common.Address
	switch f.cfg.Mode {
	case ModeSplitter:
		if addr, ok := f.splitterFor(chainID); ok {
			out = append(out, addr)
		}
	case ModeDirect:
		if f.cfg.Signer != nil {
			out = append(out, f.cfg.Signer.Address())
		}
	}
	if f.cfg.ProxyAddress != (common.Address{}) {
		out = append(out, f.cfg.ProxyAddress)
	}
	return out
}

// SupportedKind advertises one accepted (version, scheme, network)
// combination.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedInfo is the GET /supported document.
type SupportedInfo struct {
	Kinds       []SupportedKind `json:"kinds"`
	Facilitator FacilitatorInfo `json:"facilitator"`
}

// FacilitatorInfo describes this deployment.
type FacilitatorInfo struct {
	Address   string   `json:"address,omitempty"`
	Mode      string   `json:"mode"`
	Protocols []string `json:"protocols"`
	Version   string   `json:"version,omitempty"`
}

// Supported enumerates one kind per accepted protocol version and
// connected network. Version 1 kinds carry the vendor network alias,
// version 2 the CAIP-2 name, matching what each client generation sends.
func (f *Facilitator) Supported(version string) SupportedInfo {
	info := SupportedInfo{
		Kinds: []SupportedKind{},
		Facilitator: FacilitatorInfo{
			Address:   f.Address(),
			Mode:      string(f.cfg.Mode),
			Protocols: []string{string(x402.ProtocolWitnessSpend), string(x402.ProtocolDirectAuth)},
			Version:   version,
		},
	}
	for _, net := range f.chains.Networks() {
		extra := map[string]any{}
		if usdc, ok := f.tokens.BySymbol(net.ChainID, "USDC"); ok {
			extra["defaultAsset"] = usdc.Address
			extra["feeBps"] = usdc.EffectiveFeeBps()
		}
		info.Kinds = append(info.Kinds,
			SupportedKind{X402Version: 1, Scheme: x402.SchemeExact, Network: net.Name, Extra: extra},
			SupportedKind{X402Version: 2, Scheme: x402.SchemeExact, Network: net.CAIP2, Extra: extra},
		)
	}
	return info
}

package facilitator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/internal/chain"
	"tollgate/internal/db"
	"tollgate/internal/tokens"
	"tollgate/internal/wallet"
	"tollgate/internal/x402"
)

const (
	testNetwork  = "base-sepolia"
	testChainID  = int64(84532)
	testCAIP2    = "eip155:84532"
	usdcSepolia  = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	wethSepolia  = "0x4200000000000000000000000000000000000006"
	testReceiver = "0x1111111111111111111111111111111111111111"
	testTreasury = "0x2222222222222222222222222222222222222222"
	testSplitter = "0x3333333333333333333333333333333333333333"
)

var usdcDomain = x402.ERC3009Domain{Name: "USDC", Version: "2"}

// fakeLedger is an in-memory Ledger with programmable chain state.
type fakeLedger struct {
	mu         sync.Mutex
	network    chain.Network
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
	authUsed   map[string]bool
	permitUsed map[string]bool
	submits    []chain.TxRequest
	submitOpts []chain.SubmitOptions
	submitFn   func(call int, req chain.TxRequest, opts chain.SubmitOptions) (*chain.TxResult, error)
}

func newFakeLedger(network chain.Network) *fakeLedger {
	return &fakeLedger{
		network:    network,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
		authUsed:   make(map[string]bool),
		permitUsed: make(map[string]bool),
	}
}

func (l *fakeLedger) fund(owner common.Address, balance, allowance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] = big.NewInt(balance)
	l.allowances[owner] = big.NewInt(allowance)
}

func (l *fakeLedger) Network() chain.Network { return l.network }

func (l *fakeLedger) BalanceOf(_ context.Context, _, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (l *fakeLedger) Allowance(_ context.Context, _, owner, _ common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowances[owner]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (l *fakeLedger) AuthorizationUsed(_ context.Context, _, authorizer common.Address, nonce [32]byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authUsed[fmt.Sprintf("%s|%x", authorizer.Hex(), nonce)], nil
}

func (l *fakeLedger) Permit2NonceUsed(_ context.Context, owner common.Address, nonce *big.Int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.permitUsed[fmt.Sprintf("%s|%s", owner.Hex(), nonce)], nil
}

func (l *fakeLedger) HeadTimestamp(context.Context) (uint64, error) {
	return uint64(time.Now().Unix()), nil
}

func (l *fakeLedger) Submit(_ context.Context, _ chain.TxSigner, req chain.TxRequest, opts chain.SubmitOptions) (*chain.TxResult, error) {
	l.mu.Lock()
	l.submits = append(l.submits, req)
	l.submitOpts = append(l.submitOpts, opts)
	call := len(l.submits)
	fn := l.submitFn
	l.mu.Unlock()

	if fn != nil {
		return fn(call, req, opts)
	}
	hash := testHash(call)
	if opts.OnSent != nil {
		opts.OnSent(hash)
	}
	return &chain.TxResult{Hash: hash, BlockNumber: uint64(100 + call), GasUsed: 60000}, nil
}

func (l *fakeLedger) submitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.submits)
}

func (l *fakeLedger) submitAt(i int) chain.TxRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submits[i]
}

func (l *fakeLedger) optsAt(i int) chain.SubmitOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submitOpts[i]
}

func testHash(n int) common.Hash {
	return common.HexToHash(fmt.Sprintf("0x%064x", n))
}

type fakeChains struct {
	ledgers map[string]Ledger
}

func (f fakeChains) ForNetwork(network string) (Ledger, bool) {
	net, ok := chain.Resolve(network)
	if !ok {
		return nil, false
	}
	l, ok := f.ledgers[net.CAIP2]
	return l, ok
}

func (f fakeChains) Networks() []chain.Network {
	var out []chain.Network
	for _, l := range f.ledgers {
		out = append(out, l.Network())
	}
	return out
}

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*db.Transaction
	order     []uuid.UUID
	nonces    map[string]bool
	createErr error
	checkErr  error
	markErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[uuid.UUID]*db.Transaction),
		nonces:  make(map[string]bool),
	}
}

func storeKey(payer, nonce string) string {
	return strings.ToLower(payer) + "|" + nonce
}

func (s *fakeStore) CreateTransaction(_ context.Context, tx *db.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, rec := range s.records {
		if storeKey(rec.Payer, rec.Nonce) == storeKey(tx.Payer, tx.Nonce) {
			return db.ErrDuplicateTransaction
		}
	}
	tx.ID = uuid.New()
	tx.Status = db.TransactionStatusPending
	tx.CreatedAt = time.Now().UTC()
	clone := *tx
	s.records[tx.ID] = &clone
	s.order = append(s.order, tx.ID)
	return nil
}

func (s *fakeStore) RecordTransactionTxID(_ context.Context, id uuid.UUID, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok && rec.Status == db.TransactionStatusPending {
		rec.TxID = &txID
	}
	return nil
}

func (s *fakeStore) CompleteTransaction(_ context.Context, id uuid.UUID, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != db.TransactionStatusPending {
		return fmt.Errorf("transaction not pending")
	}
	now := time.Now().UTC()
	rec.Status = db.TransactionStatusSuccess
	rec.TxID = &txID
	rec.SettledAt = &now
	return nil
}

func (s *fakeStore) FailTransaction(_ context.Context, id uuid.UUID, reason, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != db.TransactionStatusPending {
		return fmt.Errorf("transaction not pending")
	}
	now := time.Now().UTC()
	rec.Status = db.TransactionStatusFailed
	rec.ErrorReason = &reason
	if txID != "" {
		rec.TxID = &txID
	}
	rec.SettledAt = &now
	return nil
}

func (s *fakeStore) CheckNonce(_ context.Context, payer, nonce string) (db.NonceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkErr != nil {
		return db.NonceUnknown, s.checkErr
	}
	if s.nonces[storeKey(payer, nonce)] {
		return db.NonceUsed, nil
	}
	return db.NonceUnused, nil
}

func (s *fakeStore) MarkNonceUsed(_ context.Context, payer, nonce, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.nonces[storeKey(payer, nonce)] = true
	return nil
}

func (s *fakeStore) nonceUsed(payer, nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[storeKey(payer, nonce)]
}

func (s *fakeStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// onlyRecord returns the single audit row, failing the test otherwise.
func (s *fakeStore) onlyRecord(t *testing.T) *db.Transaction {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.order, 1)
	rec := *s.records[s.order[0]]
	return &rec
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	recs   []*db.Transaction
}

func (n *fakeNotifier) NotifySettlement(event string, tx *db.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	clone := *tx
	n.events = append(n.events, event)
	n.recs = append(n.recs, &clone)
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// fixture wires a facilitator against fakes on base-sepolia.
type fixture struct {
	fac      *Facilitator
	ledger   *fakeLedger
	store    *fakeStore
	notifier *fakeNotifier
	signer   *wallet.Signer
	payer    *wallet.TestPayer
	registry *tokens.Registry
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	registry, err := tokens.Load(10)
	require.NoError(t, err)
	signer, err := wallet.Generate()
	require.NoError(t, err)
	payer, err := wallet.NewTestPayer()
	require.NoError(t, err)

	net, ok := chain.ByChainID(testChainID)
	require.True(t, ok)
	ledger := newFakeLedger(net)
	store := newFakeStore()
	notifier := &fakeNotifier{}

	cfg := Config{
		Mode:              ModeDirect,
		Signer:            signer,
		Treasury:          common.HexToAddress(testTreasury),
		SettlementTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	fac := New(cfg,
		fakeChains{ledgers: map[string]Ledger{net.CAIP2: ledger}},
		registry, store, notifier,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(fac.Close)

	return &fixture{
		fac:      fac,
		ledger:   ledger,
		store:    store,
		notifier: notifier,
		signer:   signer,
		payer:    payer,
		registry: registry,
	}
}

// fund gives the test payer a balance and Permit2 allowance.
func (fx *fixture) fund(balance, allowance int64) {
	fx.ledger.fund(fx.payer.Address(), balance, allowance)
}

func (fx *fixture) requirements(amount, payTo string) *x402.PaymentRequirements {
	return &x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           testNetwork,
		MaxAmountRequired: amount,
		PayTo:             payTo,
		Asset:             usdcSepolia,
	}
}

func (fx *fixture) witnessParams(amount, receiver string) wallet.PaymentParams {
	return wallet.PaymentParams{
		Network:  testNetwork,
		ChainID:  testChainID,
		Token:    usdcSepolia,
		Amount:   amount,
		Receiver: receiver,
		Spender:  fx.signer.AddressString(),
	}
}

func (fx *fixture) directParams(amount, receiver string) wallet.PaymentParams {
	return wallet.PaymentParams{
		Network:  testNetwork,
		ChainID:  testChainID,
		Token:    usdcSepolia,
		Amount:   amount,
		Receiver: receiver,
		Domain:   usdcDomain,
	}
}

func TestSupported(t *testing.T) {
	fx := newFixture(t, nil)

	info := fx.fac.Supported("1.2.3")

	require.Len(t, info.Kinds, 2)
	assert.Equal(t, 1, info.Kinds[0].X402Version)
	assert.Equal(t, testNetwork, info.Kinds[0].Network)
	assert.Equal(t, 2, info.Kinds[1].X402Version)
	assert.Equal(t, testCAIP2, info.Kinds[1].Network)
	for _, kind := range info.Kinds {
		assert.Equal(t, x402.SchemeExact, kind.Scheme)
		// The registry stores addresses lowercased.
		assert.Equal(t, strings.ToLower(usdcSepolia), kind.Extra["defaultAsset"])
		assert.Equal(t, 10, kind.Extra["feeBps"])
	}

	assert.Equal(t, strings.ToLower(fx.signer.AddressString()), info.Facilitator.Address)
	assert.Equal(t, string(ModeDirect), info.Facilitator.Mode)
	assert.Contains(t, info.Facilitator.Protocols, "witness-spend")
	assert.Contains(t, info.Facilitator.Protocols, "direct-auth")
	assert.Equal(t, "1.2.3", info.Facilitator.Version)
}

func TestSupportedVerifyOnly(t *testing.T) {
	fx := newFixture(t, func(cfg *Config) { cfg.Signer = nil })

	info := fx.fac.Supported("")
	assert.Empty(t, info.Facilitator.Address)
	assert.False(t, fx.fac.CanSettle())
}

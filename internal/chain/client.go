package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// permit2Address is the canonical Permit2 deployment address.
const permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

// readABI covers the view functions verification needs: ERC-20 balance
// and allowance, the EIP-3009 authorization flag, and the Permit2 nonce
// bitmap.
const readABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"authorizationState","type":"function","stateMutability":"view","inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"nonceBitmap","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"wordPos","type":"uint248"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var viewABI = mustParseABI(readABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// Client wraps an ethclient for one network.
type Client struct {
	eth     *ethclient.Client
	network Network
	log     *slog.Logger
}

// Dial connects to an RPC endpoint and verifies the node serves the
// expected chain.
func Dial(ctx context.Context, rpcURL string, network Network, log *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", network.Name, err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("query chain id for %s: %w", network.Name, err)
	}
	if chainID.Int64() != network.ChainID {
		eth.Close()
		return nil, fmt.Errorf("rpc serves chain %d, expected %d (%s)", chainID.Int64(), network.ChainID, network.Name)
	}
	return &Client{eth: eth, network: network, log: log}, nil
}

// Network returns the chain this client serves.
func (c *Client) Network() Network { return c.network }

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

func (c *Client) callView(ctx context.Context, contract common.Address, method string, out any, args ...any) error {
	data, err := viewABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call %s on %s: %w", method, contract.Hex(), err)
	}
	if err := viewABI.UnpackIntoInterface(out, method, res); err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	return nil
}

// BalanceOf reads an ERC-20 balance.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	var balance *big.Int
	if err := c.callView(ctx, token, "balanceOf", &balance, owner); err != nil {
		return nil, err
	}
	return balance, nil
}

// Allowance reads an ERC-20 allowance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	var allowance *big.Int
	if err := c.callView(ctx, token, "allowance", &allowance, owner, spender); err != nil {
		return nil, err
	}
	return allowance, nil
}

// AuthorizationUsed reports whether an EIP-3009 nonce has been consumed
// on the token contract.
func (c *Client) AuthorizationUsed(ctx context.Context, token, authorizer common.Address, nonce [32]byte) (bool, error) {
	var used bool
	if err := c.callView(ctx, token, "authorizationState", &used, authorizer, nonce); err != nil {
		return false, err
	}
	return used, nil
}

// Permit2NonceUsed reads the unordered-nonce bitmap on the Permit2
// contract and tests the bit for this nonce.
func (c *Client) Permit2NonceUsed(ctx context.Context, owner common.Address, nonce *big.Int) (bool, error) {
	wordPos, bitPos := Permit2NoncePosition(nonce)
	var bitmap *big.Int
	if err := c.callView(ctx, common.HexToAddress(permit2Address), "nonceBitmap", &bitmap, owner, wordPos); err != nil {
		return false, err
	}
	return bitmap.Bit(bitPos) == 1, nil
}

// Permit2NoncePosition splits an unordered nonce into its bitmap word and
// bit index, mirroring the contract's wordPos = nonce >> 8, bitPos =
// nonce & 0xff.
func Permit2NoncePosition(nonce *big.Int) (wordPos *big.Int, bitPos int) {
	wordPos = new(big.Int).Rsh(nonce, 8)
	bitPos = int(new(big.Int).And(nonce, big.NewInt(0xff)).Int64())
	return wordPos, bitPos
}

// HeadTimestamp returns the latest block's timestamp, used for
// authorization time-window checks against chain time.
func (c *Client) HeadTimestamp(ctx context.Context) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch head: %w", err)
	}
	return header.Time, nil
}

// Registry holds one client per configured network.
type Registry struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

// NewRegistry returns an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[int64]*Client)}
}

// Add registers a client, replacing any previous client for the chain.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.network.ChainID] = c
}

// ForChain returns the client for a chain id.
func (r *Registry) ForChain(chainID int64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[chainID]
	return c, ok
}

// ForNetwork resolves a network string and returns its client.
func (r *Registry) ForNetwork(network string) (*Client, bool) {
	net, ok := Resolve(network)
	if !ok {
		return nil, false
	}
	return r.ForChain(net.ChainID)
}

// Networks lists the chains with a connected client.
func (r *Registry) Networks() []Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Network, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.network)
	}
	return out
}

// CloseAll closes every registered client.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		c.Close()
	}
	r.clients = make(map[int64]*Client)
}

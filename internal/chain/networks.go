// Package chain talks to EVM networks: network name resolution, contract
// reads used by verification, and signed transaction submission with
// bounded confirmation waits.
package chain

import "strings"

// Network identifies a supported EVM chain. CAIP2 is the canonical wire
// name; Name is the vendor alias some clients still send.
type Network struct {
	ChainID int64
	CAIP2   string
	Name    string
}

var networks = []Network{
	{ChainID: 8453, CAIP2: "eip155:8453", Name: "base"},
	{ChainID: 84532, CAIP2: "eip155:84532", Name: "base-sepolia"},
}

// Resolve maps a network string, CAIP-2 or vendor alias, to its chain.
// Matching is case-insensitive.
func Resolve(network string) (Network, bool) {
	n := strings.ToLower(strings.TrimSpace(network))
	for _, net := range networks {
		if n == net.CAIP2 || n == net.Name {
			return net, true
		}
	}
	return Network{}, false
}

// ByChainID looks a network up by its numeric chain id.
func ByChainID(chainID int64) (Network, bool) {
	for _, net := range networks {
		if net.ChainID == chainID {
			return net, true
		}
	}
	return Network{}, false
}

// Known lists every supported network.
func Known() []Network {
	out := make([]Network, len(networks))
	copy(out, networks)
	return out
}

// SameNetwork reports whether two network strings resolve to the same
// chain, so "base" and "eip155:8453" compare equal.
func SameNetwork(a, b string) bool {
	na, ok := Resolve(a)
	if !ok {
		return false
	}
	nb, ok := Resolve(b)
	if !ok {
		return false
	}
	return na.ChainID == nb.ChainID
}

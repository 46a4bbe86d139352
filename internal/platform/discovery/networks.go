// Package discovery names the public Avalanche C-Chain networks the bridge
// can target, with their default RPC endpoints and block explorers.
package discovery

import "strings"

// Network is a public EVM network.
type Network struct {
	Name           string
	ChainID        int64
	RPCURL         string
	ExplorerTxBase string
}

var (
	// Fuji is the Avalanche C-Chain testnet.
	Fuji = Network{
		Name:           "fuji",
		ChainID:        43113,
		RPCURL:         "https://api.avax-test.network/ext/bc/C/rpc",
		ExplorerTxBase: "https://testnet.snowtrace.io/tx/",
	}
	// Mainnet is the Avalanche C-Chain.
	Mainnet = Network{
		Name:           "mainnet",
		ChainID:        43114,
		RPCURL:         "https://api.avax.network/ext/bc/C/rpc",
		ExplorerTxBase: "https://snowtrace.io/tx/",
	}
)

// Networks lists the known networks.
func Networks() []Network {
	return []Network{Fuji, Mainnet}
}

// NetworkByChainID finds a known network.
func NetworkByChainID(chainID int64) (Network, bool) {
	for _, network := range Networks() {
		if network.ChainID == chainID {
			return network, true
		}
	}
	return Network{}, false
}

// OrDefaultRPCURL returns value when set, otherwise the public endpoint of
// the network with chainID, falling back to Fuji.
func OrDefaultRPCURL(value string, chainID int64) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	if network, ok := NetworkByChainID(chainID); ok {
		return network.RPCURL
	}
	return Fuji.RPCURL
}

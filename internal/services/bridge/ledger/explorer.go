package ledger

import (
	"math/big"

	"github.com/sebaaaap/hackathonavalanche/internal/platform/discovery"
)

// ExplorerTxURL links a transaction on the public explorer for chainID, or
// returns "" when the network has none.
func ExplorerTxURL(chainID *big.Int, hash string) string {
	if chainID == nil || hash == "" || !chainID.IsInt64() {
		return ""
	}
	network, ok := discovery.NetworkByChainID(chainID.Int64())
	if !ok {
		return ""
	}
	return network.ExplorerTxBase + hash
}

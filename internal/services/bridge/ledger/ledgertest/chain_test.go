package ledgertest

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger/erc1155"
)

var contract = common.HexToAddress("0x00000000000000000000000000000000000c0de1")

func signedCall(t *testing.T, chain *Chain, nonce uint64, data []byte, keyHex string) *types.Transaction {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)
	tx := types.NewTx(&types.LegacyTx{Nonce: nonce, GasPrice: big.NewInt(1), Gas: 1_000_000, To: &contract, Data: data})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chain.chainID), key)
	require.NoError(t, err)
	return signed
}

const ownerKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestChainAppliesBatchAtomically(t *testing.T) {
	key, err := crypto.HexToECDSA(ownerKey)
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	player := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	chain := New(43113, contract, owner)
	chain.Credit(owner, 1, 5)

	data, err := erc1155.ABI().Pack(erc1155.MethodSafeBatchTransferFrom, owner, player,
		[]*big.Int{big.NewInt(1), big.NewInt(2)}, []*big.Int{big.NewInt(2), big.NewInt(1)}, []byte{})
	require.NoError(t, err)

	_, err = chain.EstimateGas(context.Background(), ethereum.CallMsg{From: owner, To: &contract, Data: data})
	require.Error(t, err)
	assert.True(t, IsRevert(err))

	tx := signedCall(t, chain, 0, data, ownerKey)
	require.NoError(t, chain.SendTransaction(context.Background(), tx))
	receipt, err := chain.TransactionReceipt(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	assert.Equal(t, uint64(5), chain.Balance(owner, 1))
	assert.Equal(t, uint64(0), chain.Balance(player, 1))
}

func TestChainRejectsNonceGap(t *testing.T) {
	key, err := crypto.HexToECDSA(ownerKey)
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)
	chain := New(43113, contract, owner)

	data, err := erc1155.ABI().Pack(erc1155.MethodMintBatch, owner,
		[]*big.Int{big.NewInt(1)}, []*big.Int{big.NewInt(1)}, []byte{})
	require.NoError(t, err)

	err = chain.SendTransaction(context.Background(), signedCall(t, chain, 3, data, ownerKey))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce too high")

	require.NoError(t, chain.SendTransaction(context.Background(), signedCall(t, chain, 0, data, ownerKey)))
	err = chain.SendTransaction(context.Background(), signedCall(t, chain, 0, data, ownerKey))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce too low")
	assert.Equal(t, uint64(1), chain.Balance(owner, 1))
}

func TestChainPendingNonceLag(t *testing.T) {
	owner := common.HexToAddress("0x01")
	chain := New(1, contract, owner)
	chain.nonces[owner] = 4
	chain.LagPendingNonce(owner, 3)

	pending, err := chain.PendingNonceAt(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pending)
}

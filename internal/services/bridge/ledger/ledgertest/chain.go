// Package ledgertest provides an in-process multi-token chain that speaks the
// same backend interface as a JSON-RPC node. Calldata is decoded with the real
// contract ABI, transactions must carry a valid chain-bound signature and the
// next nonce, and batches are applied all-or-nothing.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger/erc1155"
)

const (
	baseGas    = 21_000
	gasPerItem = 30_000
)

// RevertError mimics the JSON-RPC error a node returns for a reverted call.
type RevertError struct {
	Reason string
	Data   []byte
}

func (e *RevertError) Error() string { return "execution reverted: " + e.Reason }

// ErrorCode implements rpc.Error.
func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData implements rpc.DataError.
func (e *RevertError) ErrorData() interface{} { return hexutil.Encode(e.Data) }

// RejectError is a node refusal that carries no revert data, such as a bad
// nonce.
type RejectError struct {
	Message string
}

func (e *RejectError) Error() string { return e.Message }

// ErrorCode implements rpc.Error.
func (e *RejectError) ErrorCode() int { return -32000 }

// Chain is a single-contract ledger. The zero value is not usable; call New.
type Chain struct {
	mu sync.Mutex

	chainID     *big.Int
	contract    common.Address
	owner       common.Address
	signer      types.Signer
	contractABI abi.ABI
	gasPrice    *big.Int

	balances  map[common.Address]map[uint64]*big.Int
	operators map[common.Address]map[common.Address]bool
	nonces    map[common.Address]uint64
	lag       map[common.Address]uint64
	receipts  map[common.Hash]*types.Receipt
	sent      []*types.Transaction
	block     uint64

	withholdReceipts bool
	readErr          error
	sendErr          error
	lostErr          error
	callCount        int
}

// New creates a chain hosting the contract at contract, owned by owner.
func New(chainID int64, contract, owner common.Address) *Chain {
	id := big.NewInt(chainID)
	return &Chain{
		chainID:     id,
		contract:    contract,
		owner:       owner,
		signer:      types.LatestSignerForChainID(id),
		contractABI: erc1155.ABI(),
		gasPrice:    big.NewInt(25_000_000_000),
		balances:    make(map[common.Address]map[uint64]*big.Int),
		operators:   make(map[common.Address]map[common.Address]bool),
		nonces:      make(map[common.Address]uint64),
		lag:         make(map[common.Address]uint64),
		receipts:    make(map[common.Hash]*types.Receipt),
	}
}

// Credit sets up balance directly, outside any transaction.
func (c *Chain) Credit(account common.Address, id uint64, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(account, id, new(big.Int).SetUint64(amount))
}

// Approve lets operator move owner's tokens.
func (c *Chain) Approve(owner, operator common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.operators[owner] == nil {
		c.operators[owner] = make(map[common.Address]bool)
	}
	c.operators[owner][operator] = true
}

// Balance returns account's balance of id.
func (c *Chain) Balance(account common.Address, id uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceOf(account, id).Uint64()
}

// Nonce returns the number of transactions accepted from account.
func (c *Chain) Nonce(account common.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account]
}

// Sent returns every accepted transaction in submission order.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// WithholdReceipts hides receipts so confirmation waits time out.
func (c *Chain) WithholdReceipts(withhold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.withholdReceipts = withhold
}

// LagPendingNonce makes PendingNonceAt under-report account by n, as a node
// that has not indexed recent submissions would.
func (c *Chain) LagPendingNonce(account common.Address, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lag[account] = n
}

// FailReads makes CallContract return err until cleared with nil.
func (c *Chain) FailReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// FailSends makes SendTransaction return err until cleared with nil.
func (c *Chain) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// LoseSendResponses makes SendTransaction accept the transaction and then
// return err, as when the response is lost on the way back. Cleared with nil.
func (c *Chain) LoseSendResponses(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostErr = err
}

// ReadCalls counts CallContract invocations.
func (c *Chain) ReadCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCount
}

func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nonce, lag := c.nonces[account], c.lag[account]
	if lag > nonce {
		return 0, nil
	}
	return nonce - lag, nil
}

func (c *Chain) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if call.To == nil || *call.To != c.contract {
		return baseGas, nil
	}
	items, err := c.execute(call.From, call.Data, false)
	if err != nil {
		return 0, err
	}
	return baseGas + gasPerItem*uint64(items), nil
}

func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if tx.ChainId().Cmp(c.chainID) != 0 {
		return &RejectError{Message: fmt.Sprintf("invalid chain id %s", tx.ChainId())}
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return &RejectError{Message: "invalid sender: " + err.Error()}
	}
	switch expected := c.nonces[from]; {
	case tx.Nonce() < expected:
		return &RejectError{Message: fmt.Sprintf("nonce too low: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), expected)}
	case tx.Nonce() > expected:
		return &RejectError{Message: fmt.Sprintf("nonce too high: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), expected)}
	}

	c.nonces[from]++
	c.block++
	c.sent = append(c.sent, tx)

	status := types.ReceiptStatusSuccessful
	gasUsed := uint64(baseGas)
	if tx.To() != nil && *tx.To() == c.contract {
		items, execErr := c.execute(from, tx.Data(), false)
		gasUsed = baseGas + gasPerItem*uint64(items)
		switch {
		case execErr != nil, gasUsed > tx.Gas():
			status = types.ReceiptStatusFailed
		default:
			if _, err := c.execute(from, tx.Data(), true); err != nil {
				status = types.ReceiptStatusFailed
			}
		}
	}
	c.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     min(gasUsed, tx.Gas()),
		BlockNumber: new(big.Int).SetUint64(c.block),
	}
	return c.lostErr
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[hash]
	if !ok || c.withholdReceipts {
		return nil, ethereum.NotFound
	}
	cp := *receipt
	return &cp, nil
}

func (c *Chain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callCount++
	if c.readErr != nil {
		return nil, c.readErr
	}
	if call.To == nil || *call.To != c.contract {
		return nil, nil
	}
	method, args, err := c.decode(call.Data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case erc1155.MethodBalanceOf:
		return method.Outputs.Pack(c.balanceOf(args[0].(common.Address), args[1].(*big.Int).Uint64()))
	case erc1155.MethodBalanceOfBatch:
		owners, ids := args[0].([]common.Address), args[1].([]*big.Int)
		if len(owners) != len(ids) {
			return nil, c.revert("ERC1155: accounts and ids length mismatch")
		}
		out := make([]*big.Int, len(owners))
		for i := range owners {
			out[i] = c.balanceOf(owners[i], ids[i].Uint64())
		}
		return method.Outputs.Pack(out)
	case erc1155.MethodIsApprovedForAll:
		return method.Outputs.Pack(c.operators[args[0].(common.Address)][args[1].(common.Address)])
	case erc1155.MethodOwner:
		return method.Outputs.Pack(c.owner)
	default:
		return nil, c.revert("unsupported view " + method.Name)
	}
}

func (c *Chain) decode(data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, c.revert("missing selector")
	}
	method, err := c.contractABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, c.revert("unknown selector")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, c.revert("malformed calldata")
	}
	return method, args, nil
}

// execute validates a state-changing call from caller and, when apply is set,
// applies it. It returns the number of items touched.
func (c *Chain) execute(caller common.Address, data []byte, apply bool) (int, error) {
	method, args, err := c.decode(data)
	if err != nil {
		return 0, err
	}
	switch method.Name {
	case erc1155.MethodMint:
		return c.mint(caller, args[0].(common.Address), []*big.Int{args[1].(*big.Int)}, []*big.Int{args[2].(*big.Int)}, apply)
	case erc1155.MethodMintBatch:
		return c.mint(caller, args[0].(common.Address), args[1].([]*big.Int), args[2].([]*big.Int), apply)
	case erc1155.MethodSafeTransferFrom:
		return c.transfer(caller, args[0].(common.Address), args[1].(common.Address),
			[]*big.Int{args[2].(*big.Int)}, []*big.Int{args[3].(*big.Int)}, apply)
	case erc1155.MethodSafeBatchTransferFrom:
		return c.transfer(caller, args[0].(common.Address), args[1].(common.Address),
			args[2].([]*big.Int), args[3].([]*big.Int), apply)
	case erc1155.MethodSetApprovalForAll:
		if apply {
			operator := args[0].(common.Address)
			if c.operators[caller] == nil {
				c.operators[caller] = make(map[common.Address]bool)
			}
			c.operators[caller][operator] = args[1].(bool)
		}
		return 1, nil
	default:
		return 0, c.revert("unsupported method " + method.Name)
	}
}

func (c *Chain) mint(caller, to common.Address, ids, amounts []*big.Int, apply bool) (int, error) {
	if caller != c.owner {
		return 0, c.revert("Ownable: caller is not the owner")
	}
	if len(ids) != len(amounts) {
		return 0, c.revert("ERC1155: ids and amounts length mismatch")
	}
	if to == (common.Address{}) {
		return 0, c.revert("ERC1155: mint to the zero address")
	}
	if apply {
		for i := range ids {
			c.add(to, ids[i].Uint64(), amounts[i])
		}
	}
	return len(ids), nil
}

func (c *Chain) transfer(caller, from, to common.Address, ids, amounts []*big.Int, apply bool) (int, error) {
	if len(ids) != len(amounts) {
		return 0, c.revert("ERC1155: ids and amounts length mismatch")
	}
	if caller != from && !c.operators[from][caller] {
		return 0, c.revert("ERC1155: caller is not token owner or approved")
	}
	if to == (common.Address{}) {
		return 0, c.revert("ERC1155: transfer to the zero address")
	}
	needed := make(map[uint64]*big.Int, len(ids))
	for i, id := range ids {
		key := id.Uint64()
		if needed[key] == nil {
			needed[key] = new(big.Int)
		}
		needed[key].Add(needed[key], amounts[i])
	}
	for id, amount := range needed {
		if c.balanceOf(from, id).Cmp(amount) < 0 {
			return 0, c.revert("ERC1155: insufficient balance for transfer")
		}
	}
	if apply {
		for i := range ids {
			id := ids[i].Uint64()
			c.add(from, id, new(big.Int).Neg(amounts[i]))
			c.add(to, id, amounts[i])
		}
	}
	return len(ids), nil
}

func (c *Chain) balanceOf(account common.Address, id uint64) *big.Int {
	if amount, ok := c.balances[account][id]; ok {
		return new(big.Int).Set(amount)
	}
	return new(big.Int)
}

func (c *Chain) add(account common.Address, id uint64, delta *big.Int) {
	if c.balances[account] == nil {
		c.balances[account] = make(map[uint64]*big.Int)
	}
	current := c.balanceOf(account, id)
	c.balances[account][id] = current.Add(current, delta)
}

func (c *Chain) revert(reason string) error {
	return &RevertError{Reason: reason, Data: erc1155.EncodeRevertReason(reason)}
}

// IsRevert reports whether err is a simulated revert.
func IsRevert(err error) bool {
	var revertErr *RevertError
	return errors.As(err, &revertErr)
}

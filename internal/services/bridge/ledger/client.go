// Package ledger is the only place that builds, signs and submits calls to the
// multi-token contract. It also owns per-signer nonce allocation and the
// signing keys.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
	"github.com/sebaaaap/hackathonavalanche/internal/platform/timeouts"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger/erc1155"
)

// DefaultGasMargin is applied to the node's gas estimate.
const DefaultGasMargin = 1.2

// Config configures a Client.
type Config struct {
	Contract common.Address
	// Owner is the only signer allowed to mint.
	Owner common.Address
	// ChainID pins the network; nil asks the node once at construction.
	ChainID      *big.Int
	GasMargin    float64
	PollInterval time.Duration
	Clock        clock.Clock
}

// Handle identifies a submitted transaction.
type Handle struct {
	Hash   common.Hash
	From   common.Address
	Nonce  uint64
	Method string
}

// Receipt is the mined outcome of a transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Client signs and submits contract calls on behalf of the configured
// accounts. It is safe for concurrent use; callers serialise submissions per
// signer.
type Client struct {
	backend   Backend
	keys      *Keyring
	nonces    *NonceAllocator
	contract  common.Address
	owner     common.Address
	chainID   *big.Int
	signer    types.Signer
	gasMargin float64
	poll      time.Duration
	clock     clock.Clock
}

// NewClient builds a client. When cfg.ChainID is nil the node is asked for it.
func NewClient(ctx context.Context, backend Backend, keys *Keyring, nonces *NonceAllocator, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, errors.New("ledger backend is required")
	}
	if keys == nil {
		return nil, errors.New("keyring is required")
	}
	if nonces == nil {
		nonces = NewNonceAllocator(backend)
	}
	if cfg.Contract == (common.Address{}) {
		return nil, errors.New("contract address is required")
	}
	chainID := cfg.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeLedgerUnavailable, "read chain id", err)
		}
		chainID = id
	}
	margin := cfg.GasMargin
	if margin < 1 {
		margin = DefaultGasMargin
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = timeouts.ConfirmationPoll
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		backend:   backend,
		keys:      keys,
		nonces:    nonces,
		contract:  cfg.Contract,
		owner:     cfg.Owner,
		chainID:   new(big.Int).Set(chainID),
		signer:    types.LatestSignerForChainID(chainID),
		gasMargin: margin,
		poll:      poll,
		clock:     clk,
	}, nil
}

// ChainID returns the network the client signs for.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Contract returns the token contract address.
func (c *Client) Contract() common.Address {
	return c.contract
}

// Nonces exposes the allocator for operator recovery.
func (c *Client) Nonces() *NonceAllocator {
	return c.nonces
}

// Mint creates supply of every item for destination in one batch call. Only
// the owner may mint; other signers are refused before anything is sent.
//
// When the node gives no answer to the send, Mint returns both the handle and
// a CodeTimeout error: the transaction may still be mined.
func (c *Client) Mint(ctx context.Context, signer, destination domain.Account, items []domain.ResourceQuantity) (Handle, error) {
	if c.owner != (common.Address{}) && signer.Address != c.owner {
		return Handle{}, apperrors.WithMetadata(
			apperrors.CodeNotAuthorized,
			fmt.Sprintf("%s is not allowed to mint", signer.Name),
			map[string]string{"account": string(signer.Name)},
		)
	}
	ids, amounts := encodeItems(items)
	data, err := erc1155.ABI().Pack(erc1155.MethodMintBatch, destination.Address, ids, amounts, []byte{})
	if err != nil {
		return Handle{}, fmt.Errorf("pack %s: %w", erc1155.MethodMintBatch, err)
	}
	return c.submit(ctx, signer, erc1155.MethodMintBatch, data)
}

// Transfer moves every item from origin to destination in one batch call
// signed by origin. The ledger applies all items or none. An unanswered send
// is reported as in Mint.
func (c *Client) Transfer(ctx context.Context, origin, destination domain.Account, items []domain.ResourceQuantity) (Handle, error) {
	ids, amounts := encodeItems(items)
	data, err := erc1155.ABI().Pack(erc1155.MethodSafeBatchTransferFrom, origin.Address, destination.Address, ids, amounts, []byte{})
	if err != nil {
		return Handle{}, fmt.Errorf("pack %s: %w", erc1155.MethodSafeBatchTransferFrom, err)
	}
	return c.submit(ctx, origin, erc1155.MethodSafeBatchTransferFrom, data)
}

func (c *Client) submit(ctx context.Context, signer domain.Account, method string, data []byte) (Handle, error) {
	metadata := map[string]string{"account": string(signer.Name), "method": method}
	key, ok := c.keys.Key(signer.Address)
	if !ok {
		return Handle{}, apperrors.WithMetadata(apperrors.CodeNotAuthorized, "no signing key for account", metadata)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Handle{}, apperrors.WrapWithMetadata(apperrors.CodeLedgerUnavailable, "suggest gas price", metadata, err)
	}
	estimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     signer.Address,
		To:       &c.contract,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return Handle{}, classifyWriteError(err, "estimate gas", metadata)
	}
	gasLimit := uint64(math.Ceil(float64(estimate) * c.gasMargin))

	nonce, err := c.nonces.Next(ctx, signer.Address)
	if err != nil {
		return Handle{}, err
	}
	metadata["nonce"] = strconv.FormatUint(nonce, 10)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &c.contract,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, key)
	if err != nil {
		c.nonces.Release(signer.Address, nonce)
		return Handle{}, fmt.Errorf("sign %s: %w", method, err)
	}

	logger := zerolog.Ctx(ctx).With().
		Str("account", string(signer.Name)).
		Str("method", method).
		Uint64("nonce", nonce).
		Str("tx_hash", signed.Hash().Hex()).
		Logger()

	handle := Handle{Hash: signed.Hash(), From: signer.Address, Nonce: nonce, Method: method}
	metadata[apperrors.MetadataTxHash] = signed.Hash().Hex()

	if err := c.backend.SendTransaction(ctx, signed); err != nil && !isKnownTransaction(err) {
		var rpcErr rpc.Error
		if !errors.As(err, &rpcErr) {
			// No answer from the node: the bytes may have landed. The nonce
			// stays allocated and the caller must look for a receipt.
			logger.Warn().Err(err).Msg("send transaction outcome unknown")
			return handle, apperrors.WrapWithMetadata(apperrors.CodeTimeout, "send transaction outcome unknown", metadata, err)
		}
		if isNonceTooLow(err) {
			// A retried request can arrive after the first copy was mined.
			if receipt, rerr := c.backend.TransactionReceipt(ctx, signed.Hash()); rerr == nil && receipt != nil {
				logger.Debug().Msg("transaction already mined")
				return handle, nil
			}
			logger.Warn().Err(err).Msg("send transaction rejected")
			return Handle{}, classifyWriteError(err, "send transaction", metadata)
		}
		released := c.nonces.Release(signer.Address, nonce)
		logger.Warn().Err(err).Bool("nonce_released", released).Msg("send transaction rejected")
		return Handle{}, classifyWriteError(err, "send transaction", metadata)
	}
	logger.Debug().Uint64("gas_limit", gasLimit).Str("gas_price", gasPrice.String()).Msg("transaction submitted")

	return handle, nil
}

// AwaitConfirmation polls for the receipt of handle until it is mined or
// timeout elapses. A timeout leaves the transaction in flight and its nonce
// allocated.
func (c *Client) AwaitConfirmation(ctx context.Context, handle Handle, timeout time.Duration) (Receipt, error) {
	if timeout <= 0 {
		timeout = timeouts.Confirmation
	}
	hash := handle.Hash.Hex()
	metadata := map[string]string{apperrors.MetadataTxHash: hash, "method": handle.Method}

	deadline := c.clock.Timer(timeout)
	defer deadline.Stop()
	ticker := c.clock.Ticker(c.poll)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, handle.Hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return Receipt{}, apperrors.WithMetadata(apperrors.CodeTransactionReverted, "transaction reverted", metadata)
			}
			return Receipt{
				TxHash:      receipt.TxHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			zerolog.Ctx(ctx).Debug().Err(err).Str("tx_hash", hash).Msg("receipt lookup failed, polling again")
		}

		select {
		case <-ctx.Done():
			return Receipt{}, apperrors.WrapWithMetadata(apperrors.CodeTimeout, "confirmation wait cancelled", metadata, ctx.Err())
		case <-deadline.C:
			return Receipt{}, apperrors.WithMetadata(
				apperrors.CodeTimeout,
				fmt.Sprintf("confirmation not observed within %s", timeout),
				metadata,
			)
		case <-ticker.C:
		}
	}
}

// BalanceOfBatch reads balances for parallel owner/id slices in one call.
// It never signs and is safe to retry.
func (c *Client) BalanceOfBatch(ctx context.Context, owners []common.Address, ids []*big.Int) ([]*big.Int, error) {
	if len(owners) != len(ids) {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "owners and ids must have the same length")
	}
	if len(owners) == 0 {
		return nil, nil
	}
	data, err := erc1155.ABI().Pack(erc1155.MethodBalanceOfBatch, owners, ids)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", erc1155.MethodBalanceOfBatch, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLedgerUnavailable, "read balances", err)
	}
	values, err := erc1155.ABI().Unpack(erc1155.MethodBalanceOfBatch, out)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLedgerUnavailable, "decode balances", err)
	}
	balances, ok := values[0].([]*big.Int)
	if !ok || len(balances) != len(owners) {
		return nil, apperrors.New(apperrors.CodeLedgerUnavailable, "unexpected balanceOfBatch result")
	}
	return balances, nil
}

// ContractOwner reads owner() from the contract.
func (c *Client) ContractOwner(ctx context.Context) (common.Address, error) {
	data, err := erc1155.ABI().Pack(erc1155.MethodOwner)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack %s: %w", erc1155.MethodOwner, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return common.Address{}, apperrors.Wrap(apperrors.CodeLedgerUnavailable, "read owner", err)
	}
	values, err := erc1155.ABI().Unpack(erc1155.MethodOwner, out)
	if err != nil {
		return common.Address{}, apperrors.Wrap(apperrors.CodeLedgerUnavailable, "decode owner", err)
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, apperrors.New(apperrors.CodeLedgerUnavailable, "unexpected owner result")
	}
	return owner, nil
}

func encodeItems(items []domain.ResourceQuantity) ([]*big.Int, []*big.Int) {
	ids := make([]*big.Int, len(items))
	amounts := make([]*big.Int, len(items))
	for i, item := range items {
		ids[i] = big.NewInt(item.Kind.ID())
		amounts[i] = new(big.Int).SetUint64(item.Amount)
	}
	return ids, amounts
}

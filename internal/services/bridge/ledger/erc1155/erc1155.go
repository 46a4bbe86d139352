// Package erc1155 holds the contract surface the bridge calls on the
// multi-token ledger: the ABI, method names, and the revert payload helpers
// shared by the client and the in-process test chain.
package erc1155

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method names used by the bridge.
const (
	MethodMint                  = "mint"
	MethodMintBatch             = "mintBatch"
	MethodSafeTransferFrom      = "safeTransferFrom"
	MethodSafeBatchTransferFrom = "safeBatchTransferFrom"
	MethodBalanceOf             = "balanceOf"
	MethodBalanceOfBatch        = "balanceOfBatch"
	MethodOwner                 = "owner"
	MethodSetApprovalForAll     = "setApprovalForAll"
	MethodIsApprovedForAll      = "isApprovedForAll"
)

// Custom errors emitted by OpenZeppelin 5 contracts.
const (
	ErrorInsufficientBalance = "ERC1155InsufficientBalance"
	ErrorMissingApproval     = "ERC1155MissingApprovalForAll"
	ErrorUnauthorizedAccount = "OwnableUnauthorizedAccount"
	ErrorInvalidArrayLength  = "ERC1155InvalidArrayLength"
)

// JSON is the ABI of the resource contract.
const JSON = `[
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[
    {"name":"to","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"mintBatch","stateMutability":"nonpayable","inputs":[
    {"name":"to","type":"address"},{"name":"ids","type":"uint256[]"},{"name":"amounts","type":"uint256[]"},{"name":"data","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"safeTransferFrom","stateMutability":"nonpayable","inputs":[
    {"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"id","type":"uint256"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"safeBatchTransferFrom","stateMutability":"nonpayable","inputs":[
    {"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"ids","type":"uint256[]"},{"name":"values","type":"uint256[]"},{"name":"data","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
    {"name":"account","type":"address"},{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOfBatch","stateMutability":"view","inputs":[
    {"name":"accounts","type":"address[]"},{"name":"ids","type":"uint256[]"}],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable","inputs":[
    {"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
  {"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[
    {"name":"account","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"error","name":"ERC1155InsufficientBalance","inputs":[
    {"name":"sender","type":"address"},{"name":"balance","type":"uint256"},{"name":"needed","type":"uint256"},{"name":"tokenId","type":"uint256"}]},
  {"type":"error","name":"ERC1155MissingApprovalForAll","inputs":[
    {"name":"operator","type":"address"},{"name":"owner","type":"address"}]},
  {"type":"error","name":"ERC1155InvalidArrayLength","inputs":[
    {"name":"idsLength","type":"uint256"},{"name":"valuesLength","type":"uint256"}]},
  {"type":"error","name":"OwnableUnauthorizedAccount","inputs":[
    {"name":"account","type":"address"}]}
]`

var parsed = mustParse()

func mustParse() abi.ABI {
	contract, err := abi.JSON(strings.NewReader(JSON))
	if err != nil {
		panic(fmt.Sprintf("parse erc1155 abi: %v", err))
	}
	return contract
}

// ABI returns the parsed contract ABI.
func ABI() abi.ABI {
	return parsed
}

// revertSelector is the selector of Solidity's Error(string).
var revertSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

var stringArgs = func() abi.Arguments {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: stringType}}
}()

// EncodeRevertReason builds the Error(string) payload a node returns for a
// require() failure.
func EncodeRevertReason(reason string) []byte {
	packed, err := stringArgs.Pack(reason)
	if err != nil {
		panic(err)
	}
	return append(bytes.Clone(revertSelector), packed...)
}

// EncodeCustomError builds the payload for one of the contract's custom errors.
func EncodeCustomError(name string, args ...any) ([]byte, error) {
	customErr, ok := parsed.Errors[name]
	if !ok {
		return nil, fmt.Errorf("unknown contract error %q", name)
	}
	packed, err := customErr.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", name, err)
	}
	return append(bytes.Clone(customErr.ID[:4]), packed...), nil
}

// DecodeRevert describes revert data. It returns the custom error name when
// the selector matches one, and the require() message otherwise.
func DecodeRevert(data []byte) (errorName, reason string) {
	if len(data) < 4 {
		return "", ""
	}
	if message, err := abi.UnpackRevert(data); err == nil {
		return "", message
	}
	for name, customErr := range parsed.Errors {
		if bytes.Equal(data[:4], customErr.ID[:4]) {
			return name, ""
		}
	}
	return "", ""
}

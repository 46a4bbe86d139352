package ledger

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/ledger/erc1155"
)

// classifyWriteError maps a node error from gas estimation or submission onto
// the bridge taxonomy. Transport failures become CodeLedgerUnavailable; an
// answer from the node that refuses the call is a rejection.
func classifyWriteError(err error, message string, metadata map[string]string) error {
	errorName, reason := "", ""
	data, hasData := revertData(err)
	if hasData {
		errorName, reason = erc1155.DecodeRevert(data)
	}
	if reason != "" {
		metadata = withEntry(metadata, "revert_reason", reason)
	}
	text := strings.ToLower(reason + " " + err.Error())

	switch {
	case errorName == erc1155.ErrorInsufficientBalance || strings.Contains(text, "insufficient balance"):
		return apperrors.WrapWithMetadata(apperrors.CodeInsufficientBalance, message, metadata, err)
	case errorName == erc1155.ErrorUnauthorizedAccount ||
		errorName == erc1155.ErrorMissingApproval ||
		strings.Contains(text, "caller is not the owner") ||
		strings.Contains(text, "not token owner or approved"):
		return apperrors.WrapWithMetadata(apperrors.CodeNotAuthorized, message, metadata, err)
	case hasData || strings.Contains(text, "execution reverted"):
		return apperrors.WrapWithMetadata(apperrors.CodeTransactionReverted, message, metadata, err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		// The node answered and refused, e.g. nonce too low or underpriced.
		return apperrors.WrapWithMetadata(apperrors.CodeTransactionReverted, message, metadata, err)
	}
	return apperrors.WrapWithMetadata(apperrors.CodeLedgerUnavailable, message, metadata, err)
}

// isKnownTransaction reports a send rejected only because the node already
// holds the same signed bytes, as happens when the HTTP transport retries a
// request whose first response was lost.
func isKnownTransaction(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "already known") || strings.Contains(text, "known transaction")
}

func isNonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

func revertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}
	switch value := dataErr.ErrorData().(type) {
	case string:
		data, decodeErr := hexutil.Decode(value)
		if decodeErr != nil {
			return nil, false
		}
		return data, true
	case []byte:
		return value, true
	default:
		return nil, false
	}
}

func withEntry(metadata map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out[key] = value
	return out
}

// Package errors provides the bridge's structured error type and its
// failure taxonomy.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidRequest marks malformed caller input. Never retried.
	CodeInvalidRequest Code = "INVALID_REQUEST"
	// CodeNotAuthorized marks a mint attempted by an account that is not the owner.
	CodeNotAuthorized Code = "NOT_AUTHORIZED"
	// CodeInsufficientBalance marks a transfer the ledger rejected for lack of funds.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	// CodeTimeout marks a confirmation that was not observed in time. The
	// outcome is ambiguous and must be resolved by re-reading balances.
	CodeTimeout Code = "TIMEOUT"
	// CodeLedgerUnavailable marks a network or RPC failure on the read path.
	CodeLedgerUnavailable Code = "LEDGER_UNAVAILABLE"
	// CodeTransactionReverted marks a call the ledger executed and rejected.
	CodeTransactionReverted Code = "TRANSACTION_REVERTED"

	// CodeNotFound marks an unknown account or route resource.
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps the code to the status used by the HTTP surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotAuthorized:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInsufficientBalance:
		return http.StatusConflict
	case CodeTransactionReverted:
		return http.StatusUnprocessableEntity
	case CodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may repeat the failed operation as is.
// Only idempotent read failures qualify.
func (c Code) Retryable() bool {
	return c == CodeLedgerUnavailable
}

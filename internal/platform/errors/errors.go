package errors

import (
	stderrors "errors"
	"maps"
)

// MetadataTxHash is the metadata key carrying a transaction hash.
const MetadataTxHash = "tx_hash"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human readable message
	Metadata map[string]string // Additional context (transaction hash, account)
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// TxHash returns the transaction hash attached to the error, if any.
func (e *Error) TxHash() string {
	if e == nil {
		return ""
	}
	return e.Metadata[MetadataTxHash]
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: maps.Clone(metadata),
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithMetadata creates a domain error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: maps.Clone(metadata),
		Cause:    cause,
	}
}

// WithTxHash wraps err with the transaction hash, keeping the code of the
// first domain error in its chain and err's full message. Non-domain errors
// are wrapped as CodeUnknown.
func WithTxHash(err error, hash string) error {
	if err == nil || hash == "" {
		return err
	}
	var domainErr *Error
	if !stderrors.As(err, &domainErr) {
		return WrapWithMetadata(CodeUnknown, "", map[string]string{MetadataTxHash: hash}, err)
	}
	metadata := maps.Clone(domainErr.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata[MetadataTxHash] = hash
	return &Error{Code: domainErr.Code, Metadata: metadata, Cause: err}
}

// CodeOf extracts the code of the first domain error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// TxHashOf extracts the transaction hash carried anywhere in err's chain.
func TxHashOf(err error) string {
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.TxHash()
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

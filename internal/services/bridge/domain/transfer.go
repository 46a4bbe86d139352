package domain

import (
	"fmt"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
)

// TransferRequest moves items from Origin to Destination in one ledger call.
type TransferRequest struct {
	Origin      Account
	Destination Account
	Items       []ResourceQuantity
}

// Validate rejects malformed requests before any ledger call is attempted.
func (r TransferRequest) Validate() error {
	if r.Origin.Name == AccountUnspecified || r.Destination.Name == AccountUnspecified {
		return apperrors.New(apperrors.CodeInvalidRequest, "origin and destination are required")
	}
	if r.Origin.Name == r.Destination.Name || r.Origin.Address == r.Destination.Address {
		return apperrors.WithMetadata(
			apperrors.CodeInvalidRequest,
			"origin and destination must differ",
			map[string]string{"account": string(r.Origin.Name)},
		)
	}
	if len(r.Items) == 0 {
		return apperrors.New(apperrors.CodeInvalidRequest, "at least one resource is required")
	}
	seen := make(map[ResourceKind]struct{}, len(r.Items))
	for _, item := range r.Items {
		if !item.Kind.Valid() {
			return apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("unknown resource id %d", uint8(item.Kind)))
		}
		if item.Amount == 0 {
			return apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("amount for %s must be positive", item.Kind))
		}
		if _, dup := seen[item.Kind]; dup {
			return apperrors.New(apperrors.CodeInvalidRequest, fmt.Sprintf("resource %s listed more than once", item.Kind))
		}
		seen[item.Kind] = struct{}{}
	}
	return nil
}

// TransferStatus is the overall outcome of a request.
type TransferStatus string

const (
	TransferSuccess TransferStatus = "SUCCESS"
	TransferFailure TransferStatus = "FAILURE"
)

// Operation names the ledger call used to realise a transfer.
type Operation string

const (
	OperationMint     Operation = "mint"
	OperationTransfer Operation = "transfer"
)

// ItemOutcome reports one item of a batch. All items of a request share a
// transaction and therefore a confirmation state.
type ItemOutcome struct {
	Kind      ResourceKind `json:"kind"`
	Amount    uint64       `json:"amount"`
	TxHash    string       `json:"tx_hash,omitempty"`
	Confirmed bool         `json:"confirmed"`
}

// TransferResult is returned by the orchestrator and not modified afterwards.
type TransferResult struct {
	Status      TransferStatus `json:"status"`
	Operation   Operation      `json:"operation,omitempty"`
	Origin      AccountName    `json:"origin"`
	Destination AccountName    `json:"destination"`
	TxHash      string         `json:"tx_hash,omitempty"`
	Items       []ItemOutcome  `json:"items"`
	Reason      apperrors.Code `json:"reason,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// Succeeded reports whether every item was confirmed.
func (r TransferResult) Succeeded() bool {
	return r.Status == TransferSuccess
}

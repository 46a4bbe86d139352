package ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
)

// PendingNonceReader reports how many transactions the ledger has seen from
// an account, including ones not yet mined.
type PendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceAllocator hands out per-signer nonces that stay ahead of submissions
// the ledger has not indexed yet.
//
// A nonce whose transaction is later dropped is not reclaimed. The gap stalls
// later submissions from that signer until the ledger's pending count moves
// past it, or until an operator calls Reset.
type NonceAllocator struct {
	reader PendingNonceReader

	mu      sync.Mutex
	records map[common.Address]*nonceRecord
}

type nonceRecord struct {
	mu sync.Mutex
	// last is the last nonce handed out, or -1 before the first allocation.
	last int64
}

// NewNonceAllocator builds an allocator over reader.
func NewNonceAllocator(reader PendingNonceReader) *NonceAllocator {
	return &NonceAllocator{
		reader:  reader,
		records: make(map[common.Address]*nonceRecord),
	}
}

func (a *NonceAllocator) record(account common.Address) *nonceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[account]
	if !ok {
		rec = &nonceRecord{last: -1}
		a.records[account] = rec
	}
	return rec
}

// Next returns the nonce for the next submission from account.
//
// If the ledger's pending count has not caught up with what was already
// handed out, the local counter wins; otherwise the ledger's count is
// trusted. Allocations for one account are serialised; different accounts
// proceed independently.
func (a *NonceAllocator) Next(ctx context.Context, account common.Address) (uint64, error) {
	rec := a.record(account)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	pending, err := a.reader.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, apperrors.WrapWithMetadata(
			apperrors.CodeLedgerUnavailable,
			"read pending nonce",
			map[string]string{"account": account.Hex()},
			err,
		)
	}

	chainPending := int64(pending)
	if rec.last >= chainPending {
		rec.last++
	} else {
		rec.last = chainPending
	}
	return uint64(rec.last), nil
}

// Release hands back a nonce whose transaction never reached the ledger. It
// only rewinds when nonce is still the last one assigned and reports whether
// it did.
func (a *NonceAllocator) Release(account common.Address, nonce uint64) bool {
	rec := a.record(account)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.last < 0 || uint64(rec.last) != nonce {
		return false
	}
	rec.last--
	return true
}

// Reset forgets local state for account so the next allocation trusts the
// ledger's pending count.
func (a *NonceAllocator) Reset(account common.Address) {
	rec := a.record(account)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.last = -1
}

// Last returns the last nonce handed out for account.
func (a *NonceAllocator) Last(account common.Address) (uint64, bool) {
	rec := a.record(account)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.last < 0 {
		return 0, false
	}
	return uint64(rec.last), true
}

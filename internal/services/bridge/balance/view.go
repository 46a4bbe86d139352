// Package balance reads per-account resource balances straight from the
// ledger. There is no cache: every snapshot is one fresh batched read.
package balance

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
)

// Reader is the read path of the ledger client.
type Reader interface {
	BalanceOfBatch(ctx context.Context, owners []common.Address, ids []*big.Int) ([]*big.Int, error)
}

// Snapshot maps each requested account to its balances.
type Snapshot map[domain.AccountName]domain.Balances

// View answers balance queries.
type View struct {
	reader Reader
}

// NewView builds a view over reader.
func NewView(reader Reader) (*View, error) {
	if reader == nil {
		return nil, errors.New("balance reader is required")
	}
	return &View{reader: reader}, nil
}

// Snapshot reads every resource kind for every account in a single call.
// Kinds with no recorded balance read as zero. Accounts listed more than once
// are read once.
func (v *View) Snapshot(ctx context.Context, accounts ...domain.Account) (Snapshot, error) {
	unique := make([]domain.Account, 0, len(accounts))
	seen := make(map[domain.AccountName]struct{}, len(accounts))
	for _, account := range accounts {
		if _, ok := seen[account.Name]; ok {
			continue
		}
		seen[account.Name] = struct{}{}
		unique = append(unique, account)
	}
	snapshot := make(Snapshot, len(unique))
	if len(unique) == 0 {
		return snapshot, nil
	}

	kinds := domain.AllResourceKinds()
	owners := make([]common.Address, 0, len(unique)*len(kinds))
	ids := make([]*big.Int, 0, len(unique)*len(kinds))
	for _, account := range unique {
		for _, kind := range kinds {
			owners = append(owners, account.Address)
			ids = append(ids, big.NewInt(kind.ID()))
		}
	}

	amounts, err := v.reader.BalanceOfBatch(ctx, owners, ids)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeLedgerUnavailable {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CodeLedgerUnavailable, "read balances", err)
	}
	if len(amounts) != len(owners) {
		return nil, apperrors.New(apperrors.CodeLedgerUnavailable, "balance read returned a partial result")
	}

	for i, account := range unique {
		balances := domain.ZeroBalances()
		for j, kind := range kinds {
			amount := amounts[i*len(kinds)+j]
			if amount == nil {
				continue
			}
			if !amount.IsUint64() {
				return nil, apperrors.WithMetadata(
					apperrors.CodeUnknown,
					"balance exceeds supported range",
					map[string]string{"account": string(account.Name), "resource": kind.String()},
				)
			}
			balances[kind] = amount.Uint64()
		}
		snapshot[account.Name] = balances
	}
	return snapshot, nil
}

// RetryPolicy bounds SnapshotWithRetry.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy suits interactive HTTP callers.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

// SnapshotWithRetry retries Snapshot with exponential backoff while the
// failure is a retryable read error. Other failures return immediately.
func (v *View) SnapshotWithRetry(ctx context.Context, policy RetryPolicy, accounts ...domain.Account) (Snapshot, error) {
	if policy.MaxTries == 0 {
		policy.MaxTries = 1
	}
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	attempt := 0
	return backoff.Retry(ctx, func() (Snapshot, error) {
		attempt++
		snapshot, err := v.Snapshot(ctx, accounts...)
		if err == nil {
			return snapshot, nil
		}
		if !apperrors.CodeOf(err).Retryable() {
			return nil, backoff.Permanent(err)
		}
		zerolog.Ctx(ctx).Debug().Err(err).Int("attempt", attempt).Msg("balance read failed")
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxTries),
	)
}

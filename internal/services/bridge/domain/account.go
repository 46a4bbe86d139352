package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/sebaaaap/hackathonavalanche/internal/platform/errors"
)

// AccountName identifies one of the fixed game accounts.
type AccountName string

const (
	AccountUnspecified AccountName = ""
	AccountBank        AccountName = "BANK"
	AccountPlayerA     AccountName = "PLAYER_A"
	AccountPlayerB     AccountName = "PLAYER_B"
)

var accountAliases = map[string]AccountName{
	"BANCO":    AccountBank,
	"ADMIN":    AccountBank,
	"MODELO_A": AccountPlayerA,
	"MODELO_B": AccountPlayerB,
}

// AccountNames lists the known accounts in display order.
func AccountNames() []AccountName {
	return []AccountName{AccountBank, AccountPlayerA, AccountPlayerB}
}

// NormalizeAccountName parses an account label, including legacy aliases,
// into its canonical value.
func NormalizeAccountName(value string) (AccountName, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for _, name := range AccountNames() {
		if string(name) == normalized {
			return name, true
		}
	}
	if name, ok := accountAliases[normalized]; ok {
		return name, true
	}
	return AccountUnspecified, false
}

// Account is a named ledger address. Signing material lives in the ledger
// keyring, not here.
type Account struct {
	Name    AccountName    `json:"name"`
	Address common.Address `json:"address"`
}

func (a Account) String() string {
	return string(a.Name)
}

// Registry holds the accounts configured at startup. It is immutable after
// NewRegistry returns and safe for concurrent use.
type Registry struct {
	byName map[AccountName]Account
	owner  AccountName
}

// NewRegistry builds a registry and designates owner as the minting account.
func NewRegistry(owner AccountName, accounts ...Account) (*Registry, error) {
	byName := make(map[AccountName]Account, len(accounts))
	seen := make(map[common.Address]AccountName, len(accounts))
	for _, account := range accounts {
		if _, ok := NormalizeAccountName(string(account.Name)); !ok {
			return nil, fmt.Errorf("unknown account name %q", account.Name)
		}
		if account.Address == (common.Address{}) {
			return nil, fmt.Errorf("account %s has no address", account.Name)
		}
		if _, dup := byName[account.Name]; dup {
			return nil, fmt.Errorf("account %s configured twice", account.Name)
		}
		if other, dup := seen[account.Address]; dup {
			return nil, fmt.Errorf("accounts %s and %s share address %s", other, account.Name, account.Address.Hex())
		}
		byName[account.Name] = account
		seen[account.Address] = account.Name
	}
	if _, ok := byName[owner]; !ok {
		return nil, fmt.Errorf("owner account %q is not configured", owner)
	}
	return &Registry{byName: byName, owner: owner}, nil
}

// Lookup returns the configured account for name.
func (r *Registry) Lookup(name AccountName) (Account, error) {
	account, ok := r.byName[name]
	if !ok {
		return Account{}, apperrors.WithMetadata(
			apperrors.CodeNotFound,
			fmt.Sprintf("account %s is not configured", name),
			map[string]string{"account": string(name)},
		)
	}
	return account, nil
}

// Resolve parses a wire label and looks the account up.
func (r *Registry) Resolve(label string) (Account, error) {
	name, ok := NormalizeAccountName(label)
	if !ok {
		return Account{}, apperrors.WithMetadata(
			apperrors.CodeInvalidRequest,
			fmt.Sprintf("unknown account %q", label),
			map[string]string{"account": label},
		)
	}
	return r.Lookup(name)
}

// Owner returns the minting account.
func (r *Registry) Owner() Account {
	return r.byName[r.owner]
}

// IsOwner reports whether account is the minting account.
func (r *Registry) IsOwner(account Account) bool {
	owner := r.Owner()
	return account.Name == owner.Name && account.Address == owner.Address
}

// All returns configured accounts in display order.
func (r *Registry) All() []Account {
	out := make([]Account, 0, len(r.byName))
	for _, name := range AccountNames() {
		if account, ok := r.byName[name]; ok {
			out = append(out, account)
		}
	}
	return out
}

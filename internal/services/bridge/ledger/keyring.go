package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/go-multierror"

	"github.com/sebaaaap/hackathonavalanche/internal/services/bridge/domain"
)

// KeySource names where a signing key came from so configuration errors can
// point at the right variable.
type KeySource struct {
	Account domain.AccountName
	// Variable is the environment variable the key was read from.
	Variable string
	Hex      string
}

// Keyring holds the signing keys for the configured accounts.
type Keyring struct {
	keys     map[common.Address]*ecdsa.PrivateKey
	accounts []domain.Account
}

// LoadKeyring parses every source and reports all problems at once.
func LoadKeyring(sources ...KeySource) (*Keyring, error) {
	var result *multierror.Error
	ring := &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey, len(sources))}
	for _, source := range sources {
		label := source.Variable
		if label == "" {
			label = string(source.Account)
		}
		if strings.TrimSpace(source.Hex) == "" {
			result = multierror.Append(result, fmt.Errorf("%s is required", label))
			continue
		}
		key, err := ParsePrivateKey(source.Hex)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", label, err))
			continue
		}
		address := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := ring.keys[address]; dup {
			result = multierror.Append(result, fmt.Errorf("%s: key already used by another account", label))
			continue
		}
		ring.keys[address] = key
		ring.accounts = append(ring.accounts, domain.Account{Name: source.Account, Address: address})
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return ring, nil
}

// ParsePrivateKey decodes a hex secp256k1 key with or without a 0x prefix.
func ParsePrivateKey(value string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// Accounts returns the accounts derived from the loaded keys, in load order.
func (k *Keyring) Accounts() []domain.Account {
	return append([]domain.Account(nil), k.accounts...)
}

// Key returns the signing key for address.
func (k *Keyring) Key(address common.Address) (*ecdsa.PrivateKey, bool) {
	key, ok := k.keys[address]
	return key, ok
}

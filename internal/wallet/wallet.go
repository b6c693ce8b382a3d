// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrUnknownWallet is returned for a name that is not in the store.
var ErrUnknownWallet = errors.New("unknown wallet")

// fileFormat is the layout of the wallets YAML file.
type fileFormat struct {
	Wallets []struct {
		Name       string `yaml:"name"`
		PrivateKey string `yaml:"private_key"`
	} `yaml:"wallets"`
}

// Store holds the managed accounts in file order. It is read-only after Load.
type Store struct {
	accounts []domain.Account
	byID     map[string]int
}

// ParsePrivateKey decodes a base58-encoded 64-byte ed25519 key.
func ParsePrivateKey(privateKeyBase58 string) (solana.PrivateKey, error) {
	privateKeyBytes, err := base58.Decode(strings.TrimSpace(privateKeyBase58))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	return solana.PrivateKey(privateKeyBytes), nil
}

// NewStore builds a store from accounts. IDs must be unique.
func NewStore(accounts []domain.Account) (*Store, error) {
	s := &Store{byID: make(map[string]int, len(accounts))}
	for _, acc := range accounts {
		if _, dup := s.byID[acc.ID]; dup {
			return nil, fmt.Errorf("duplicate wallet name %q", acc.ID)
		}
		s.byID[acc.ID] = len(s.accounts)
		s.accounts = append(s.accounts, acc)
	}
	return s, nil
}

// Load reads the wallets YAML file. Wallets without a name get their 1-based
// position as ID. Any invalid key fails the load.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read wallets file: %w", err)
	}

	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse wallets YAML: %w", err)
	}
	if len(file.Wallets) == 0 {
		return nil, errors.New("no wallets found in wallets file")
	}

	accounts := make([]domain.Account, 0, len(file.Wallets))
	for i, w := range file.Wallets {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			name = strconv.Itoa(i + 1)
		}
		key, err := ParsePrivateKey(w.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("wallet %q: %w", name, err)
		}
		accounts = append(accounts, domain.Account{
			ID:         name,
			PublicKey:  key.PublicKey(),
			PrivateKey: key,
		})
	}
	return NewStore(accounts)
}

// All returns every account in file order.
func (s *Store) All() []domain.Account {
	return append([]domain.Account(nil), s.accounts...)
}

// Len returns the number of accounts.
func (s *Store) Len() int { return len(s.accounts) }

// Get returns the account named id.
func (s *Store) Get(id string) (domain.Account, error) {
	i, ok := s.byID[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: %s", ErrUnknownWallet, id)
	}
	return s.accounts[i], nil
}

// Select returns the named accounts in file order. An empty list selects all.
func (s *Store) Select(ids []string) ([]domain.Account, error) {
	if len(ids) == 0 {
		return s.All(), nil
	}
	for _, id := range ids {
		if _, ok := s.byID[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, id)
		}
	}
	return domain.FilterAccounts(s.accounts, ids), nil
}

// Main returns the account named main. An empty name means no main wallet.
func (s *Store) Main(name string) (*domain.Account, error) {
	if name == "" {
		return nil, nil
	}
	acc, err := s.Get(name)
	if err != nil {
		return nil, fmt.Errorf("main wallet: %w", err)
	}
	return &acc, nil
}

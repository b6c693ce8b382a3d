// internal/domain/account.go
package domain

import (
	"github.com/gagliardetto/solana-go"
)

// Account is a managed wallet. It is loaded once by the wallet store and only
// borrowed by the workflows.
type Account struct {
	ID         string
	PublicKey  solana.PublicKey
	PrivateKey solana.PrivateKey
}

// Short returns the abbreviated address used in logs and tables.
func (a Account) Short() string {
	return ShortAddress(a.PublicKey)
}

// ShortAddress сокращает адрес до вида "AbCd...WxYz".
func ShortAddress(pk solana.PublicKey) string {
	s := pk.String()
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// AccountIDs returns the identifiers in input order.
func AccountIDs(accounts []Account) []string {
	ids := make([]string, len(accounts))
	for i, acc := range accounts {
		ids[i] = acc.ID
	}
	return ids
}

// FilterAccounts returns the accounts whose ID is in ids, keeping the order of accounts.
func FilterAccounts(accounts []Account, ids []string) []Account {
	if len(ids) == 0 {
		return nil
	}
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	out := make([]Account, 0, len(ids))
	for _, acc := range accounts {
		if _, ok := keep[acc.ID]; ok {
			out = append(out, acc)
		}
	}
	return out
}

// ExcludeAccounts is the complement of FilterAccounts.
func ExcludeAccounts(accounts []Account, ids []string) []Account {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := make([]Account, 0, len(accounts))
	for _, acc := range accounts {
		if _, ok := drop[acc.ID]; !ok {
			out = append(out, acc)
		}
	}
	return out
}

package bank

import (
	"fmt"
	"sort"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
)

type BalanceEntry struct {
	Asset   string       `json:"asset"`
	Account string       `json:"account"`
	Amount  *uint256.Int `json:"amount"`
}

type AllowanceEntry struct {
	Asset   string       `json:"asset"`
	Owner   string       `json:"owner"`
	Spender string       `json:"spender"`
	Amount  *uint256.Int `json:"amount"`
}

type TokenEntry struct {
	Collection string `json:"collection"`
	TokenID    uint64 `json:"tokenId"`
	Owner      string `json:"owner"`
}

// Snapshot is the persisted form of the bank.
type Snapshot struct {
	Balances   []BalanceEntry   `json:"balances,omitempty"`
	Allowances []AllowanceEntry `json:"allowances,omitempty"`
	Tokens     []TokenEntry     `json:"tokens,omitempty"`
}

func (m *Memory) Snapshot() *Snapshot {
	m.RLock()
	defer m.RUnlock()
	snap := &Snapshot{}
	for key, amt := range m.balances {
		snap.Balances = append(snap.Balances, BalanceEntry{key.Asset.String(), key.Account.String(), amt.Clone()})
	}
	for key, amt := range m.allowances {
		snap.Allowances = append(snap.Allowances, AllowanceEntry{key.Asset.String(), key.Owner.String(), key.Spender.String(), amt.Clone()})
	}
	for key, owner := range m.owners {
		snap.Tokens = append(snap.Tokens, TokenEntry{key.Collection.String(), key.TokenID, owner.String()})
	}
	// stable output so state files diff cleanly
	sort.Slice(snap.Balances, func(i, j int) bool {
		if snap.Balances[i].Asset != snap.Balances[j].Asset {
			return snap.Balances[i].Asset < snap.Balances[j].Asset
		}
		return snap.Balances[i].Account < snap.Balances[j].Account
	})
	sort.Slice(snap.Allowances, func(i, j int) bool {
		a, b := snap.Allowances[i], snap.Allowances[j]
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Spender < b.Spender
	})
	sort.Slice(snap.Tokens, func(i, j int) bool {
		if snap.Tokens[i].Collection != snap.Tokens[j].Collection {
			return snap.Tokens[i].Collection < snap.Tokens[j].Collection
		}
		return snap.Tokens[i].TokenID < snap.Tokens[j].TokenID
	})
	return snap
}

// Restore replaces the bank contents with the snapshot.
func (m *Memory) Restore(snap *Snapshot) error {
	balances := map[holding]*uint256.Int{}
	allowances := map[allowance]*uint256.Int{}
	owners := map[token]types.Address{}
	if snap != nil {
		for _, entry := range snap.Balances {
			asset, account, err := decodePair(entry.Asset, entry.Account)
			if err != nil {
				return err
			}
			if entry.Amount != nil && !entry.Amount.IsZero() {
				balances[holding{asset, account}] = entry.Amount.Clone()
			}
		}
		for _, entry := range snap.Allowances {
			asset, owner, err := decodePair(entry.Asset, entry.Owner)
			if err != nil {
				return err
			}
			spender, err := types.DecodeAddress(entry.Spender)
			if err != nil {
				return fmt.Errorf("invalid spender %s: %w", entry.Spender, err)
			}
			if entry.Amount != nil && !entry.Amount.IsZero() {
				allowances[allowance{asset, owner, spender}] = entry.Amount.Clone()
			}
		}
		for _, entry := range snap.Tokens {
			collection, owner, err := decodePair(entry.Collection, entry.Owner)
			if err != nil {
				return err
			}
			owners[token{collection, entry.TokenID}] = owner
		}
	}
	m.Lock()
	m.balances, m.allowances, m.owners = balances, allowances, owners
	m.Unlock()
	return nil
}

func decodePair(first, second string) (types.Address, types.Address, error) {
	a, err := types.DecodeAddress(first)
	if err != nil {
		return types.ZeroAddress, types.ZeroAddress, fmt.Errorf("invalid address %s: %w", first, err)
	}
	b, err := types.DecodeAddress(second)
	if err != nil {
		return types.ZeroAddress, types.ZeroAddress, fmt.Errorf("invalid address %s: %w", second, err)
	}
	return a, b, nil
}

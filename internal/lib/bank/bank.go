// Package bank is an in-memory asset custodian: fungible balances with allowances, and NFT ownership.
// It satisfies the ledger's asset transfer and allowance collaborators and is what the CLI and daemon
// run against.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotTokenOwner         = errors.New("not token owner")
	ErrTokenExists           = errors.New("token already minted")
	ErrZeroAmount            = errors.New("zero amount")
)

type holding struct {
	Asset   types.Address
	Account types.Address
}

type allowance struct {
	Asset   types.Address
	Owner   types.Address
	Spender types.Address
}

type token struct {
	Collection types.Address
	TokenID    uint64
}

// Memory is the in-memory bank. The custody account is the spender the ledger transfers through.
type Memory struct {
	custody types.Address

	sync.RWMutex
	balances   map[holding]*uint256.Int
	allowances map[allowance]*uint256.Int
	owners     map[token]types.Address
}

func NewMemory(custody types.Address) *Memory {
	return &Memory{
		custody:    custody,
		balances:   map[holding]*uint256.Int{},
		allowances: map[allowance]*uint256.Int{},
		owners:     map[token]types.Address{},
	}
}

func (m *Memory) Custody() types.Address {
	return m.custody
}

// Mint credits newly created units of asset to account.
func (m *Memory) Mint(asset, to types.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	m.Lock()
	defer m.Unlock()
	return m.credit(asset, to, amount)
}

// MintNFT creates tokenID in collection, owned by to.
func (m *Memory) MintNFT(collection, to types.Address, tokenID uint64) error {
	m.Lock()
	defer m.Unlock()
	key := token{collection, tokenID}
	if _, found := m.owners[key]; found {
		return fmt.Errorf("token %d: %w", tokenID, ErrTokenExists)
	}
	m.owners[key] = to
	return nil
}

func (m *Memory) BalanceOf(asset, account types.Address) *uint256.Int {
	m.RLock()
	defer m.RUnlock()
	if bal, found := m.balances[holding{asset, account}]; found {
		return bal.Clone()
	}
	return new(uint256.Int)
}

func (m *Memory) OwnerOf(collection types.Address, tokenID uint64) (types.Address, bool) {
	m.RLock()
	defer m.RUnlock()
	owner, found := m.owners[token{collection, tokenID}]
	return owner, found
}

func (m *Memory) Allowance(asset, owner, spender types.Address) *uint256.Int {
	m.RLock()
	defer m.RUnlock()
	if amt, found := m.allowances[allowance{asset, owner, spender}]; found {
		return amt.Clone()
	}
	return new(uint256.Int)
}

// Approve replaces the amount spender may pull from owner's balance of asset.
func (m *Memory) Approve(asset, owner, spender types.Address, amount *uint256.Int) error {
	m.Lock()
	defer m.Unlock()
	key := allowance{asset, owner, spender}
	if amount == nil || amount.IsZero() {
		delete(m.allowances, key)
		return nil
	}
	m.allowances[key] = amount.Clone()
	return nil
}

// TransferIn pulls amount of asset from the account into custody, consuming the allowance the account
// granted the custody address.
func (m *Memory) TransferIn(_ context.Context, asset, from types.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	m.Lock()
	defer m.Unlock()

	allowKey := allowance{asset, from, m.custody}
	allowed := m.allowances[allowKey]
	if allowed == nil || allowed.Lt(amount) {
		return fmt.Errorf("%s allowed %s, needs %s: %w", from, decString(allowed), amount.Dec(), ErrInsufficientAllowance)
	}
	if err := m.debit(asset, from, amount); err != nil {
		return err
	}
	if err := m.credit(asset, m.custody, amount); err != nil {
		return err
	}
	remaining := new(uint256.Int).Sub(allowed, amount)
	if remaining.IsZero() {
		delete(m.allowances, allowKey)
	} else {
		m.allowances[allowKey] = remaining
	}
	return nil
}

// TransferOut pays amount of asset out of custody to the account.
func (m *Memory) TransferOut(_ context.Context, asset, to types.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	m.Lock()
	defer m.Unlock()
	if err := m.debit(asset, m.custody, amount); err != nil {
		return err
	}
	return m.credit(asset, to, amount)
}

// TransferNFTIn moves every token into custody - all of them must be owned by from, or nothing moves.
func (m *Memory) TransferNFTIn(_ context.Context, collection, from types.Address, tokenIDs []uint64) error {
	return m.moveTokens(collection, from, m.custody, tokenIDs)
}

// TransferNFTOut returns tokens held in custody to the account.
func (m *Memory) TransferNFTOut(_ context.Context, collection, to types.Address, tokenIDs []uint64) error {
	return m.moveTokens(collection, m.custody, to, tokenIDs)
}

func (m *Memory) moveTokens(collection, from, to types.Address, tokenIDs []uint64) error {
	m.Lock()
	defer m.Unlock()
	for _, id := range tokenIDs {
		if owner, found := m.owners[token{collection, id}]; !found || owner != from {
			return fmt.Errorf("token %d not owned by %s: %w", id, from, ErrNotTokenOwner)
		}
	}
	for _, id := range tokenIDs {
		m.owners[token{collection, id}] = to
	}
	return nil
}

func (m *Memory) debit(asset, account types.Address, amount *uint256.Int) error {
	key := holding{asset, account}
	bal := m.balances[key]
	if bal == nil || bal.Lt(amount) {
		return fmt.Errorf("%s holds %s of %s, needs %s: %w", account, decString(bal), asset, amount.Dec(), ErrInsufficientFunds)
	}
	remaining := new(uint256.Int).Sub(bal, amount)
	if remaining.IsZero() {
		delete(m.balances, key)
	} else {
		m.balances[key] = remaining
	}
	return nil
}

func (m *Memory) credit(asset, account types.Address, amount *uint256.Int) error {
	key := holding{asset, account}
	bal := m.balances[key]
	if bal == nil {
		bal = new(uint256.Int)
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("balance overflow for %s", account)
	}
	m.balances[key] = sum
	return nil
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

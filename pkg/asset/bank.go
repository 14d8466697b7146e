// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package asset

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/luxfi/amm/pkg/ids"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroAmount          = errors.New("amount must be positive")
)

// Transferor is the asset movement capability consumed by the engine.
// A failed transfer must abort the whole operation that requested it.
//
// Known limitation: assets that deduct a fee on transfer are credited at
// their nominal amount; the engine does not do balance-delta accounting.
type Transferor interface {
	// Transfer moves amount of asset from one account to another.
	Transfer(asset, from, to ids.ID, amount *uint256.Int) error
	// BalanceOf returns the current balance of account for asset.
	BalanceOf(asset, account ids.ID) *uint256.Int
}

// Journaling extends Transferor with movement journaling so a guarded
// operation can unwind every transfer made while it ran, including
// movements made by untrusted callbacks it invoked.
type Journaling interface {
	Transferor
	// Checkpoint starts recording movements and returns a rollback mark.
	Checkpoint() int
	// Commit discards the recording for a successful operation.
	Commit(mark int)
	// Rollback reverses, newest first, every movement since the mark.
	Rollback(mark int)
}

// movement is one journaled balance mutation. Minted units have no
// source account to re-credit on rollback.
type movement struct {
	asset  ids.ID
	from   ids.ID
	to     ids.ID
	amount *uint256.Int
	minted bool
}

// Bank is an in-memory Journaling bank keeping assetID -> account -> balance.
type Bank struct {
	mu       sync.RWMutex
	balances map[ids.ID]map[ids.ID]*uint256.Int

	depth   int
	journal []movement
}

// NewBank creates an empty bank
func NewBank() *Bank {
	return &Bank{
		balances: make(map[ids.ID]map[ids.ID]*uint256.Int),
	}
}

// Transfer moves amount between accounts, failing on insufficient funds
func (b *Bank) Transfer(asset, from, to ids.ID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	accounts := b.balances[asset]
	if accounts == nil {
		return ErrInsufficientBalance
	}

	fromBalance, ok := accounts[from]
	if !ok || fromBalance.Lt(amount) {
		return ErrInsufficientBalance
	}

	accounts[from] = new(uint256.Int).Sub(fromBalance, amount)

	toBalance := accounts[to]
	if toBalance == nil {
		toBalance = uint256.NewInt(0)
	}
	accounts[to] = new(uint256.Int).Add(toBalance, amount)

	if b.depth > 0 {
		b.journal = append(b.journal, movement{
			asset:  asset,
			from:   from,
			to:     to,
			amount: new(uint256.Int).Set(amount),
		})
	}
	return nil
}

// BalanceOf returns the balance for an account and asset
func (b *Bank) BalanceOf(asset, account ids.ID) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	accounts := b.balances[asset]
	if accounts == nil {
		return uint256.NewInt(0)
	}
	balance := accounts[account]
	if balance == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(balance)
}

// Mint credits freshly created units to an account (genesis/test funding)
func (b *Bank) Mint(asset, account ids.ID, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	accounts := b.balances[asset]
	if accounts == nil {
		accounts = make(map[ids.ID]*uint256.Int)
		b.balances[asset] = accounts
	}

	balance := accounts[account]
	if balance == nil {
		balance = uint256.NewInt(0)
	}
	accounts[account] = new(uint256.Int).Add(balance, amount)

	if b.depth > 0 {
		b.journal = append(b.journal, movement{
			asset:  asset,
			to:     account,
			amount: new(uint256.Int).Set(amount),
			minted: true,
		})
	}
}

// Checkpoint begins journaling. Checkpoints nest: an inner commit keeps
// the record alive for the outer one.
func (b *Bank) Checkpoint() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.depth++
	return len(b.journal)
}

// Commit ends journaling for a successful operation
func (b *Bank) Commit(mark int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.depth--
	if b.depth == 0 {
		b.journal = b.journal[:0]
	}
}

// Rollback reverses every movement since the mark, newest first. LIFO
// reversal cannot underflow: each credit being removed was recorded
// before anything that spent it.
func (b *Bank) Rollback(mark int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.journal) - 1; i >= mark; i-- {
		mv := b.journal[i]
		accounts := b.balances[mv.asset]
		accounts[mv.to] = new(uint256.Int).Sub(accounts[mv.to], mv.amount)
		if !mv.minted {
			fromBalance := accounts[mv.from]
			if fromBalance == nil {
				fromBalance = uint256.NewInt(0)
			}
			accounts[mv.from] = new(uint256.Int).Add(fromBalance, mv.amount)
		}
	}
	b.journal = b.journal[:mark]
	b.depth--
}

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/log"
)

var (
	ErrIdenticalAssets    = errors.New("identical assets")
	ErrDuplicatePool      = errors.New("pool already exists")
	ErrPoolNotFound       = errors.New("pool not found")
	ErrReentrant          = errors.New("reentrant call")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrZeroShares         = errors.New("zero share amount")
	ErrLockedShares       = errors.New("shares locked at genesis sink")
)

// Ledger exclusively owns per-pool reserve balances and LP-share
// accounting. It is an explicit store handle passed into every operation;
// there is no ambient global state. Cross-pool isolation follows from all
// state being keyed by pool ID.
type Ledger struct {
	mu     sync.RWMutex
	clock  Clock
	pools  map[ids.ID]*Pool
	shares map[ids.ID]map[ids.ID]*uint256.Int
	log    log.Logger

	// guard is the single mutual-exclusion flag protecting every
	// externally-observable operation against re-entrancy.
	guardMu sync.Mutex
	locked  bool
}

// New creates an empty ledger
func New(clock Clock, logger log.Logger) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Ledger{
		clock:  clock,
		pools:  make(map[ids.ID]*Pool),
		shares: make(map[ids.ID]map[ids.ID]*uint256.Int),
		log:    logger,
	}
}

// Clock returns the ledger's time source
func (l *Ledger) Clock() Clock {
	return l.clock
}

// Acquire sets the re-entrancy guard. Every externally-observable
// operation must hold the guard for its full duration so a callback made
// mid-flight cannot re-enter swap or flashLoan.
func (l *Ledger) Acquire() error {
	l.guardMu.Lock()
	defer l.guardMu.Unlock()
	if l.locked {
		return ErrReentrant
	}
	l.locked = true
	return nil
}

// Release clears the re-entrancy guard
func (l *Ledger) Release() {
	l.guardMu.Lock()
	defer l.guardMu.Unlock()
	l.locked = false
}

// CreatePool registers the canonical pool for an asset pair with zero
// reserves and no shares
func (l *Ledger) CreatePool(assetA, assetB ids.ID) (*Pool, error) {
	if assetA == assetB {
		return nil, ErrIdenticalAssets
	}

	a0, a1 := SortAssets(assetA, assetB)
	poolID := PoolID(a0, a1)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.pools[poolID]; exists {
		return nil, ErrDuplicatePool
	}

	pool := &Pool{
		ID:          poolID,
		Asset0:      a0,
		Asset1:      a1,
		Reserve0:    uint256.NewInt(0),
		Reserve1:    uint256.NewInt(0),
		TotalShares: uint256.NewInt(0),
		KLast:       uint256.NewInt(0),
	}
	l.pools[poolID] = pool
	l.shares[poolID] = make(map[ids.ID]*uint256.Int)

	l.log.Info("pool created", "pool", poolID, "asset0", a0, "asset1", a1)

	return pool.clone(), nil
}

// GetPool returns a copy of the pool state
func (l *Ledger) GetPool(poolID ids.ID) (*Pool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pool, ok := l.pools[poolID]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool.clone(), nil
}

// GetPoolByAssets resolves the canonical pool for an (unordered) pair
func (l *Ledger) GetPoolByAssets(assetA, assetB ids.ID) (*Pool, error) {
	return l.GetPool(PoolID(assetA, assetB))
}

// Pools returns a copy of every pool
func (l *Ledger) Pools() []*Pool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Pool, 0, len(l.pools))
	for _, p := range l.pools {
		out = append(out, p.clone())
	}
	return out
}

// UpdateReserves replaces the pool's reserves. Callers are responsible
// for preserving the fee-adjusted constant-product invariant.
func (l *Ledger) UpdateReserves(poolID ids.ID, reserve0, reserve1 *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[poolID]
	if !ok {
		return ErrPoolNotFound
	}
	pool.Reserve0 = new(uint256.Int).Set(reserve0)
	pool.Reserve1 = new(uint256.Int).Set(reserve1)
	return nil
}

// AddToReserve credits a single side of the pool (flash-loan fee routing)
func (l *Ledger) AddToReserve(poolID, asset ids.ID, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[poolID]
	if !ok {
		return ErrPoolNotFound
	}
	switch asset {
	case pool.Asset0:
		pool.Reserve0 = new(uint256.Int).Add(pool.Reserve0, amount)
	case pool.Asset1:
		pool.Reserve1 = new(uint256.Int).Add(pool.Reserve1, amount)
	default:
		return ErrPoolNotFound
	}
	return nil
}

// SetKLast records the reserve product after a reserve mutation
func (l *Ledger) SetKLast(poolID ids.ID, k *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[poolID]
	if !ok {
		return ErrPoolNotFound
	}
	pool.KLast = new(uint256.Int).Set(k)
	return nil
}

// MintShares creates shareAmount new LP shares for holder
func (l *Ledger) MintShares(poolID, holder ids.ID, shareAmount *uint256.Int) error {
	if shareAmount == nil || shareAmount.IsZero() {
		return ErrZeroShares
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[poolID]
	if !ok {
		return ErrPoolNotFound
	}

	holders := l.shares[poolID]
	balance := holders[holder]
	if balance == nil {
		balance = uint256.NewInt(0)
	}
	holders[holder] = new(uint256.Int).Add(balance, shareAmount)
	pool.TotalShares = new(uint256.Int).Add(pool.TotalShares, shareAmount)

	return nil
}

// BurnShares destroys shareAmount LP shares held by holder. Shares at the
// genesis sink are unredeemable.
func (l *Ledger) BurnShares(poolID, holder ids.ID, shareAmount *uint256.Int) error {
	if shareAmount == nil || shareAmount.IsZero() {
		return ErrZeroShares
	}
	if holder.IsEmpty() {
		return ErrLockedShares
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[poolID]
	if !ok {
		return ErrPoolNotFound
	}

	holders := l.shares[poolID]
	balance := holders[holder]
	if balance == nil || balance.Lt(shareAmount) {
		return ErrInsufficientShares
	}

	holders[holder] = new(uint256.Int).Sub(balance, shareAmount)
	pool.TotalShares = new(uint256.Int).Sub(pool.TotalShares, shareAmount)

	return nil
}

// TransferShares moves LP shares between holders without changing supply
func (l *Ledger) TransferShares(poolID, from, to ids.ID, shareAmount *uint256.Int) error {
	if shareAmount == nil || shareAmount.IsZero() {
		return ErrZeroShares
	}
	if from.IsEmpty() {
		return ErrLockedShares
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.pools[poolID]; !ok {
		return ErrPoolNotFound
	}

	holders := l.shares[poolID]
	balance := holders[from]
	if balance == nil || balance.Lt(shareAmount) {
		return ErrInsufficientShares
	}

	holders[from] = new(uint256.Int).Sub(balance, shareAmount)
	toBalance := holders[to]
	if toBalance == nil {
		toBalance = uint256.NewInt(0)
	}
	holders[to] = new(uint256.Int).Add(toBalance, shareAmount)

	return nil
}

// SharesOf returns holder's LP-share balance for a pool
func (l *Ledger) SharesOf(poolID, holder ids.ID) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	holders := l.shares[poolID]
	if holders == nil {
		return uint256.NewInt(0)
	}
	balance := holders[holder]
	if balance == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(balance)
}

// StateSnapshot captures a pool and selected holder balances so a failed
// external interaction can unwind every internal effect (all-or-nothing).
type StateSnapshot struct {
	Pool    *Pool
	Holders map[ids.ID]*uint256.Int
}

// Snapshot captures a pool's mutable state plus the share balances of the
// given holders
func (l *Ledger) Snapshot(poolID ids.ID, holders ...ids.ID) (*StateSnapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pool, ok := l.pools[poolID]
	if !ok {
		return nil, ErrPoolNotFound
	}

	snap := &StateSnapshot{
		Pool:    pool.clone(),
		Holders: make(map[ids.ID]*uint256.Int, len(holders)),
	}
	for _, h := range holders {
		balance := l.shares[poolID][h]
		if balance == nil {
			balance = uint256.NewInt(0)
		}
		snap.Holders[h] = new(uint256.Int).Set(balance)
	}
	return snap, nil
}

// Restore writes a snapshot back, discarding all mutations since capture
func (l *Ledger) Restore(snap *StateSnapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pool, ok := l.pools[snap.Pool.ID]
	if !ok {
		return ErrPoolNotFound
	}
	pool.Reserve0 = new(uint256.Int).Set(snap.Pool.Reserve0)
	pool.Reserve1 = new(uint256.Int).Set(snap.Pool.Reserve1)
	pool.TotalShares = new(uint256.Int).Set(snap.Pool.TotalShares)
	pool.KLast = new(uint256.Int).Set(snap.Pool.KLast)

	for holder, balance := range snap.Holders {
		l.shares[snap.Pool.ID][holder] = new(uint256.Int).Set(balance)
	}
	return nil
}

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"bytes"
	"time"

	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"

	"github.com/luxfi/amm/pkg/ids"
)

// MinimumLiquidity is the share quantity permanently locked at pool
// genesis to defend against first-depositor share-price manipulation.
const MinimumLiquidity = 1000

// Pool holds the reserve and share state for one canonical asset pair.
// Cumulative price state lives in the oracle, which only reads reserves.
type Pool struct {
	ID     ids.ID
	Asset0 ids.ID
	Asset1 ids.ID

	Reserve0    *uint256.Int
	Reserve1    *uint256.Int
	TotalShares *uint256.Int

	// KLast is reserve0*reserve1 as of the last liquidity event, used to
	// attribute protocol-fee growth between liquidity events.
	KLast *uint256.Int
}

// SortAssets returns the pair in canonical (lexicographic byte) order so
// (A,B) and (B,A) resolve to the same pool.
func SortAssets(a, b ids.ID) (ids.ID, ids.ID) {
	if bytes.Compare(a[:], b[:]) < 0 {
		return a, b
	}
	return b, a
}

// PoolID derives the canonical pool identifier for an asset pair
func PoolID(assetA, assetB ids.ID) ids.ID {
	a0, a1 := SortAssets(assetA, assetB)

	h := blake3.New()
	h.Write(a0[:])
	h.Write(a1[:])

	var id ids.ID
	h.Digest().Read(id[:])
	return id
}

// K returns reserve0*reserve1. The product saturates far below the
// uint256 ceiling for any reachable reserve sizes.
func (p *Pool) K() *uint256.Int {
	return new(uint256.Int).Mul(p.Reserve0, p.Reserve1)
}

// EscrowAccount is the bank account holding this pool's assets
func (p *Pool) EscrowAccount() ids.ID {
	return p.ID
}

// ReserveOf returns the reserve for the given asset and its counter-reserve
func (p *Pool) ReserveOf(asset ids.ID) (reserve, counter *uint256.Int, ok bool) {
	switch asset {
	case p.Asset0:
		return p.Reserve0, p.Reserve1, true
	case p.Asset1:
		return p.Reserve1, p.Reserve0, true
	}
	return nil, nil, false
}

// clone copies the mutable pool state for snapshot/unwind
func (p *Pool) clone() *Pool {
	return &Pool{
		ID:          p.ID,
		Asset0:      p.Asset0,
		Asset1:      p.Asset1,
		Reserve0:    new(uint256.Int).Set(p.Reserve0),
		Reserve1:    new(uint256.Int).Set(p.Reserve1),
		TotalShares: new(uint256.Int).Set(p.TotalShares),
		KLast:       new(uint256.Int).Set(p.KLast),
	}
}

// Clock supplies the ambient time and height observed by every deadline,
// oracle and timelock check. Production uses SystemClock; tests substitute
// a manual clock to drive time-dependent paths deterministically.
type Clock interface {
	Now() time.Time
	Height() uint64
}

// SystemClock is the wall-clock implementation
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Height is a second-granularity counter in the absence of a block chain.
func (SystemClock) Height() uint64 { return uint64(time.Now().Unix()) }

// ManualClock is a settable clock for tests
type ManualClock struct {
	now    time.Time
	height uint64
}

// NewManualClock creates a manual clock starting at the given time
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, height: 1}
}

func (c *ManualClock) Now() time.Time { return c.now }

func (c *ManualClock) Height() uint64 { return c.height }

// Advance moves the clock forward and bumps the height
func (c *ManualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
	c.height++
}

// SetHeight overrides the height without moving time
func (c *ManualClock) SetHeight(h uint64) { c.height = h }

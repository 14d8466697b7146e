// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/log"
)

func newTestLedger() (*Ledger, *ManualClock) {
	clock := NewManualClock(time.Unix(1_700_000_000, 0))
	return New(clock, log.NoOp()), clock
}

func TestCreatePoolCanonical(t *testing.T) {
	require := require.New(t)
	l, _ := newTestLedger()

	assetA := ids.GenerateTestID()
	assetB := ids.GenerateTestID()

	pool, err := l.CreatePool(assetA, assetB)
	require.NoError(err)
	require.True(pool.Reserve0.IsZero())
	require.True(pool.Reserve1.IsZero())
	require.True(pool.TotalShares.IsZero())

	// Both orderings resolve to the same canonical pool
	require.Equal(PoolID(assetA, assetB), PoolID(assetB, assetA))
	require.Equal(pool.ID, PoolID(assetB, assetA))

	found, err := l.GetPoolByAssets(assetB, assetA)
	require.NoError(err)
	require.Equal(pool.ID, found.ID)
}

func TestCreatePoolRejectsDegenerate(t *testing.T) {
	require := require.New(t)
	l, _ := newTestLedger()

	assetA := ids.GenerateTestID()
	assetB := ids.GenerateTestID()

	_, err := l.CreatePool(assetA, assetA)
	require.ErrorIs(err, ErrIdenticalAssets)

	_, err = l.CreatePool(assetA, assetB)
	require.NoError(err)

	// Same pair in either order is a duplicate
	_, err = l.CreatePool(assetB, assetA)
	require.ErrorIs(err, ErrDuplicatePool)
}

func TestSharesAccounting(t *testing.T) {
	require := require.New(t)
	l, _ := newTestLedger()

	holder := ids.GenerateTestID()
	other := ids.GenerateTestID()

	pool, err := l.CreatePool(ids.GenerateTestID(), ids.GenerateTestID())
	require.NoError(err)

	require.ErrorIs(l.MintShares(pool.ID, holder, uint256.NewInt(0)), ErrZeroShares)

	require.NoError(l.MintShares(pool.ID, holder, uint256.NewInt(5000)))
	require.Equal(uint256.NewInt(5000), l.SharesOf(pool.ID, holder))

	// Transfer keeps total supply constant
	require.NoError(l.TransferShares(pool.ID, holder, other, uint256.NewInt(2000)))
	require.Equal(uint256.NewInt(3000), l.SharesOf(pool.ID, holder))
	require.Equal(uint256.NewInt(2000), l.SharesOf(pool.ID, other))

	got, err := l.GetPool(pool.ID)
	require.NoError(err)
	require.Equal(uint256.NewInt(5000), got.TotalShares)

	// Burn more than held
	err = l.BurnShares(pool.ID, holder, uint256.NewInt(4000))
	require.ErrorIs(err, ErrInsufficientShares)

	require.NoError(l.BurnShares(pool.ID, holder, uint256.NewInt(3000)))
	got, err = l.GetPool(pool.ID)
	require.NoError(err)
	require.Equal(uint256.NewInt(2000), got.TotalShares)
}

func TestGenesisSinkSharesLocked(t *testing.T) {
	require := require.New(t)
	l, _ := newTestLedger()

	pool, err := l.CreatePool(ids.GenerateTestID(), ids.GenerateTestID())
	require.NoError(err)

	require.NoError(l.MintShares(pool.ID, ids.Empty, uint256.NewInt(MinimumLiquidity)))

	err = l.BurnShares(pool.ID, ids.Empty, uint256.NewInt(MinimumLiquidity))
	require.ErrorIs(err, ErrLockedShares)

	err = l.TransferShares(pool.ID, ids.Empty, ids.GenerateTestID(), uint256.NewInt(1))
	require.ErrorIs(err, ErrLockedShares)
}

func TestReentrancyGuard(t *testing.T) {
	require := require.New(t)
	l, _ := newTestLedger()

	require.NoError(l.Acquire())
	require.ErrorIs(l.Acquire(), ErrReentrant)
	l.Release()
	require.NoError(l.Acquire())
	l.Release()
}

func TestSnapshotRestore(t *testing.T) {
	require := require.New(t)
	l, _ := newTestLedger()

	holder := ids.GenerateTestID()
	pool, err := l.CreatePool(ids.GenerateTestID(), ids.GenerateTestID())
	require.NoError(err)

	require.NoError(l.UpdateReserves(pool.ID, uint256.NewInt(1000), uint256.NewInt(2000)))
	require.NoError(l.MintShares(pool.ID, holder, uint256.NewInt(500)))

	snap, err := l.Snapshot(pool.ID, holder)
	require.NoError(err)

	// Mutate everything the snapshot covers
	require.NoError(l.UpdateReserves(pool.ID, uint256.NewInt(9999), uint256.NewInt(1)))
	require.NoError(l.MintShares(pool.ID, holder, uint256.NewInt(500)))
	require.NoError(l.SetKLast(pool.ID, uint256.NewInt(42)))

	require.NoError(l.Restore(snap))

	got, err := l.GetPool(pool.ID)
	require.NoError(err)
	require.Equal(uint256.NewInt(1000), got.Reserve0)
	require.Equal(uint256.NewInt(2000), got.Reserve1)
	require.Equal(uint256.NewInt(500), got.TotalShares)
	require.True(got.KLast.IsZero())
	require.Equal(uint256.NewInt(500), l.SharesOf(pool.ID, holder))
}

func TestAddToReserve(t *testing.T) {
	require := require.New(t)
	l, _ := newTestLedger()

	assetA := ids.GenerateTestID()
	assetB := ids.GenerateTestID()
	pool, err := l.CreatePool(assetA, assetB)
	require.NoError(err)

	require.NoError(l.UpdateReserves(pool.ID, uint256.NewInt(1000), uint256.NewInt(2000)))
	require.NoError(l.AddToReserve(pool.ID, pool.Asset0, uint256.NewInt(9)))

	got, err := l.GetPool(pool.ID)
	require.NoError(err)
	require.Equal(uint256.NewInt(1009), got.Reserve0)
	require.Equal(uint256.NewInt(2000), got.Reserve1)

	// Unknown asset is rejected
	err = l.AddToReserve(pool.ID, ids.GenerateTestID(), uint256.NewInt(1))
	require.Error(err)
}

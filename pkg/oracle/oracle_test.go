// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/amm/pkg/events"
	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/ledger"
	"github.com/luxfi/amm/pkg/log"
)

func newTestOracle(cfg Config) (*Oracle, *ledger.ManualClock, *events.Bus) {
	clock := ledger.NewManualClock(time.Unix(1_700_000_000, 0))
	bus := events.NewBus(log.NoOp())
	return New(clock, cfg, bus, log.NoOp()), clock, bus
}

func TestFirstUpdateInitializes(t *testing.T) {
	require := require.New(t)
	o, _, _ := newTestOracle(DefaultConfig())
	poolID := ids.GenerateTestID()

	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))

	obs, err := o.LastSample(poolID)
	require.NoError(err)
	require.True(obs.PriceCumulative0.IsZero())
	require.True(obs.PriceCumulative1.IsZero())
}

func TestUpdateRejectsZeroReserves(t *testing.T) {
	require := require.New(t)
	o, _, _ := newTestOracle(DefaultConfig())
	poolID := ids.GenerateTestID()

	err := o.Update(poolID, uint256.NewInt(0), uint256.NewInt(2000))
	require.ErrorIs(err, ErrInvalidReserves)
	err = o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(0))
	require.ErrorIs(err, ErrInvalidReserves)
}

func TestSameBlockUpdateRejected(t *testing.T) {
	require := require.New(t)
	o, _, _ := newTestOracle(DefaultConfig())
	poolID := ids.GenerateTestID()

	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))

	// No time has passed since the first sample
	err := o.Update(poolID, uint256.NewInt(1001), uint256.NewInt(1998))
	require.ErrorIs(err, ErrSameBlockUpdate)
}

func TestConsultAveragesWindow(t *testing.T) {
	require := require.New(t)
	o, clock, _ := newTestOracle(DefaultConfig())
	poolID := ids.GenerateTestID()

	r0 := uint256.NewInt(1000)
	r1 := uint256.NewInt(2000)

	require.NoError(o.Update(poolID, r0, r1))
	clock.Advance(100 * time.Second)
	require.NoError(o.Update(poolID, r0, r1))

	twap, err := o.Consult(poolID, 50*time.Second)
	require.NoError(err)
	require.Equal(100*time.Second, twap.Elapsed)

	// Constant reserves: the average is the spot price, 2.0 and 0.5
	require.True(PriceToDecimal(twap.Price0).Equal(decimal.NewFromInt(2)))
	require.True(PriceToDecimal(twap.Price1).Equal(decimal.NewFromFloat(0.5)))
}

func TestConsultWindowTooShort(t *testing.T) {
	require := require.New(t)
	o, clock, _ := newTestOracle(DefaultConfig())
	poolID := ids.GenerateTestID()

	_, err := o.Consult(poolID, time.Minute)
	require.ErrorIs(err, ErrNoHistoricalData)

	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))
	_, err = o.Consult(poolID, time.Minute)
	require.ErrorIs(err, ErrWindowTooShort)

	// 30s of history cannot satisfy a 60s window
	clock.Advance(30 * time.Second)
	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))
	_, err = o.Consult(poolID, time.Minute)
	require.ErrorIs(err, ErrWindowTooShort)

	clock.Advance(30 * time.Second)
	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))
	_, err = o.Consult(poolID, time.Minute)
	require.NoError(err)
}

func TestDeviationAlertWithinGrace(t *testing.T) {
	require := require.New(t)
	o, clock, bus := newTestOracle(DefaultConfig())
	poolID := ids.GenerateTestID()
	sub := bus.Subscribe()

	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))

	// 50% price jump inside the grace window: alert, but accepted
	clock.Advance(30 * time.Second)
	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(3000)))

	var alerted bool
	for len(sub) > 0 {
		if _, ok := (<-sub).(events.PriceDeviationAlert); ok {
			alerted = true
		}
	}
	require.True(alerted)
}

func TestDeviationRejectedPastGrace(t *testing.T) {
	require := require.New(t)
	o, clock, _ := newTestOracle(DefaultConfig())
	poolID := ids.GenerateTestID()

	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))
	before, err := o.LastSample(poolID)
	require.NoError(err)

	clock.Advance(10 * time.Minute)
	err = o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(3000))
	require.ErrorIs(err, ErrPriceDeviationTooHigh)

	// Rejected update leaves the accumulator untouched
	after, err := o.LastSample(poolID)
	require.NoError(err)
	require.Equal(before.Timestamp, after.Timestamp)
	require.Equal(before.PriceCumulative0, after.PriceCumulative0)
}

func TestSnapshotRestore(t *testing.T) {
	require := require.New(t)
	o, clock, _ := newTestOracle(DefaultConfig())
	poolID := ids.GenerateTestID()

	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))
	clock.Advance(time.Minute)
	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))

	snap := o.Snapshot(poolID)
	saved, err := o.LastSample(poolID)
	require.NoError(err)

	clock.Advance(time.Minute)
	require.NoError(o.Update(poolID, uint256.NewInt(1100), uint256.NewInt(1900)))

	o.Restore(poolID, snap)
	restored, err := o.LastSample(poolID)
	require.NoError(err)
	require.Equal(saved.Timestamp, restored.Timestamp)
	require.Equal(saved.PriceCumulative0, restored.PriceCumulative0)

	// Nil snapshot removes the pool state entirely
	o.Restore(poolID, nil)
	_, err = o.LastSample(poolID)
	require.ErrorIs(err, ErrNoHistoricalData)
}

func TestObservationRingCapped(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig()
	cfg.MaxObservations = 4
	o, clock, _ := newTestOracle(cfg)
	poolID := ids.GenerateTestID()

	require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		require.NoError(o.Update(poolID, uint256.NewInt(1000), uint256.NewInt(2000)))
	}

	// Only the newest MaxObservations samples remain; a window longer than
	// their span cannot be consulted.
	_, err := o.Consult(poolID, 5*time.Second)
	require.ErrorIs(err, ErrWindowTooShort)

	twap, err := o.Consult(poolID, 3*time.Second)
	require.NoError(err)
	require.Equal(3*time.Second, twap.Elapsed)
}

// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/luxfi/amm/pkg/events"
	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/ledger"
	"github.com/luxfi/amm/pkg/log"
)

var (
	ErrSameBlockUpdate       = errors.New("same block update")
	ErrInvalidReserves       = errors.New("invalid reserves")
	ErrPriceDeviationTooHigh = errors.New("price deviation too high")
	ErrWindowTooShort        = errors.New("observation window too short")
	ErrNoHistoricalData      = errors.New("no historical data")
)

// Prices are UQ112x112 fixed point: value * 2^112.
var q112 = new(uint256.Int).Lsh(uint256.NewInt(1), 112)

// Config bounds the deviation circuit breaker and observation retention
type Config struct {
	// DeviationThresholdBps is the spot-vs-TWAP deviation that triggers
	// an alert (and, past MinObservationWindow, a rejected update).
	DeviationThresholdBps uint64
	// MinObservationWindow is how long a large deviation is tolerated
	// before updates are rejected outright.
	MinObservationWindow time.Duration
	// MaxObservations caps the per-pool observation ring.
	MaxObservations int
}

// DefaultConfig returns the production parameters
func DefaultConfig() Config {
	return Config{
		DeviationThresholdBps: 1000, // 10%
		MinObservationWindow:  10 * time.Minute,
		MaxObservations:       256,
	}
}

// Observation is one stored (cumulative, timestamp) sample. Consumers
// difference two samples; absolute cumulative values are meaningless.
type Observation struct {
	Timestamp        int64
	PriceCumulative0 *uint256.Int
	PriceCumulative1 *uint256.Int
}

// poolState tracks one pool's accumulator. Uninitialized until the first
// sample, Sampled thereafter.
type poolState struct {
	priceCumulative0 *uint256.Int
	priceCumulative1 *uint256.Int
	lastTimestamp    int64
	lastHeight       uint64

	// twap0 is the reference price for the deviation breaker, refreshed
	// on every successful update.
	twap0 *uint256.Int

	observations []Observation
}

// TWAP is the average price over a consulted window
type TWAP struct {
	Price0  *uint256.Int // UQ112x112 asset1-per-asset0
	Price1  *uint256.Int // UQ112x112 asset0-per-asset1
	Elapsed time.Duration
}

// Oracle accumulates time-weighted price observations from reserve
// snapshots. It reads ledger state but owns its cumulative-price state.
type Oracle struct {
	mu     sync.RWMutex
	clock  ledger.Clock
	cfg    Config
	states map[ids.ID]*poolState
	bus    *events.Bus
	log    log.Logger
}

// New creates an oracle
func New(clock ledger.Clock, cfg Config, bus *events.Bus, logger log.Logger) *Oracle {
	if cfg.MaxObservations <= 0 {
		cfg.MaxObservations = DefaultConfig().MaxObservations
	}
	return &Oracle{
		clock:  clock,
		cfg:    cfg,
		states: make(map[ids.ID]*poolState),
		bus:    bus,
		log:    logger,
	}
}

// spotPrices returns UQ112x112 instantaneous prices for both directions
func spotPrices(reserve0, reserve1 *uint256.Int) (price0, price1 *uint256.Int) {
	price0 = new(uint256.Int).Lsh(reserve1, 112)
	price0.Div(price0, reserve0)
	price1 = new(uint256.Int).Lsh(reserve0, 112)
	price1.Div(price1, reserve1)
	return price0, price1
}

// Update accumulates a sample for the pool from post-mutation reserves.
// Invoked internally by every ledger mutation.
func (o *Oracle) Update(poolID ids.ID, reserve0, reserve1 *uint256.Int) error {
	if reserve0 == nil || reserve1 == nil || reserve0.IsZero() || reserve1.IsZero() {
		return ErrInvalidReserves
	}

	now := o.clock.Now().Unix()
	height := o.clock.Height()
	price0, price1 := spotPrices(reserve0, reserve1)

	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.states[poolID]
	if !ok {
		// Genesis sample: nothing has accumulated yet.
		st = &poolState{
			priceCumulative0: uint256.NewInt(0),
			priceCumulative1: uint256.NewInt(0),
			lastTimestamp:    now,
			lastHeight:       height,
			twap0:            new(uint256.Int).Set(price0),
		}
		st.observations = append(st.observations, Observation{
			Timestamp:        now,
			PriceCumulative0: uint256.NewInt(0),
			PriceCumulative1: uint256.NewInt(0),
		})
		o.states[poolID] = st
		o.emitUpdated(poolID, reserve0, reserve1, price0, height)
		return nil
	}

	elapsed := now - st.lastTimestamp
	if elapsed <= 0 {
		return ErrSameBlockUpdate
	}

	if devBps := deviationBps(price0, st.twap0); devBps > o.cfg.DeviationThresholdBps {
		// Alert unconditionally; reject only once enough time has passed
		// to tell manipulation from genuine repricing.
		o.bus.Emit(events.PriceDeviationAlert{
			PoolID:       poolID,
			DeviationBps: devBps,
			SpotPrice0:   PriceToDecimal(price0),
			TwapPrice0:   PriceToDecimal(st.twap0),
			Timestamp:    o.clock.Now(),
		})
		o.log.Warn("price deviation detected",
			"pool", poolID, "deviation_bps", devBps)

		if time.Duration(elapsed)*time.Second >= o.cfg.MinObservationWindow {
			return ErrPriceDeviationTooHigh
		}
	}

	// Deliberate wraparound: uint256 arithmetic is modular and consumers
	// only ever difference two samples, so overflow cancels out.
	dt := uint256.NewInt(uint64(elapsed))
	st.priceCumulative0 = new(uint256.Int).Add(st.priceCumulative0,
		new(uint256.Int).Mul(price0, dt))
	st.priceCumulative1 = new(uint256.Int).Add(st.priceCumulative1,
		new(uint256.Int).Mul(price1, dt))
	st.lastTimestamp = now
	st.lastHeight = height

	st.observations = append(st.observations, Observation{
		Timestamp:        now,
		PriceCumulative0: new(uint256.Int).Set(st.priceCumulative0),
		PriceCumulative1: new(uint256.Int).Set(st.priceCumulative1),
	})
	if len(st.observations) > o.cfg.MaxObservations {
		st.observations = st.observations[len(st.observations)-o.cfg.MaxObservations:]
	}

	st.twap0 = o.referenceTWAP(st, price0)

	o.emitUpdated(poolID, reserve0, reserve1, price0, height)
	return nil
}

// referenceTWAP recomputes the deviation baseline over the longest stored
// window, falling back to spot when history is too thin
func (o *Oracle) referenceTWAP(st *poolState, spot0 *uint256.Int) *uint256.Int {
	if len(st.observations) < 2 {
		return new(uint256.Int).Set(spot0)
	}
	first := st.observations[0]
	last := st.observations[len(st.observations)-1]
	elapsed := last.Timestamp - first.Timestamp
	if elapsed <= 0 {
		return new(uint256.Int).Set(spot0)
	}
	delta := wrapSub(last.PriceCumulative0, first.PriceCumulative0)
	return delta.Div(delta, uint256.NewInt(uint64(elapsed)))
}

// Consult returns the average price over a window of at least minWindow
func (o *Oracle) Consult(poolID ids.ID, minWindow time.Duration) (*TWAP, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st, ok := o.states[poolID]
	if !ok || len(st.observations) == 0 {
		return nil, ErrNoHistoricalData
	}
	if len(st.observations) < 2 {
		return nil, ErrWindowTooShort
	}

	latest := st.observations[len(st.observations)-1]
	want := int64(minWindow / time.Second)

	// Earliest sample satisfying the window; observations are time-ordered.
	var then *Observation
	for i := range st.observations[:len(st.observations)-1] {
		if latest.Timestamp-st.observations[i].Timestamp >= want {
			then = &st.observations[i]
			break
		}
	}
	if then == nil {
		return nil, ErrWindowTooShort
	}

	elapsed := latest.Timestamp - then.Timestamp
	dt := uint256.NewInt(uint64(elapsed))

	avg0 := wrapSub(latest.PriceCumulative0, then.PriceCumulative0)
	avg0.Div(avg0, dt)
	avg1 := wrapSub(latest.PriceCumulative1, then.PriceCumulative1)
	avg1.Div(avg1, dt)

	return &TWAP{
		Price0:  avg0,
		Price1:  avg1,
		Elapsed: time.Duration(elapsed) * time.Second,
	}, nil
}

// LastSample returns the pool's accumulator position (cumulative0,
// cumulative1, timestamp) for external consumers keeping their own samples
func (o *Oracle) LastSample(poolID ids.ID) (*Observation, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st, ok := o.states[poolID]
	if !ok || len(st.observations) == 0 {
		return nil, ErrNoHistoricalData
	}
	obs := st.observations[len(st.observations)-1]
	return &Observation{
		Timestamp:        obs.Timestamp,
		PriceCumulative0: new(uint256.Int).Set(obs.PriceCumulative0),
		PriceCumulative1: new(uint256.Int).Set(obs.PriceCumulative1),
	}, nil
}

// StateSnapshot is an opaque copy of one pool's oracle state
type StateSnapshot struct {
	state *poolState
}

// Snapshot deep-copies a pool's oracle state for atomic unwind
func (o *Oracle) Snapshot(poolID ids.ID) *StateSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st, ok := o.states[poolID]
	if !ok {
		return nil
	}
	cp := &poolState{
		priceCumulative0: new(uint256.Int).Set(st.priceCumulative0),
		priceCumulative1: new(uint256.Int).Set(st.priceCumulative1),
		lastTimestamp:    st.lastTimestamp,
		lastHeight:       st.lastHeight,
		twap0:            new(uint256.Int).Set(st.twap0),
		observations:     make([]Observation, len(st.observations)),
	}
	copy(cp.observations, st.observations)
	return &StateSnapshot{state: cp}
}

// Restore writes a snapshot back; a nil snapshot removes the pool state
func (o *Oracle) Restore(poolID ids.ID, snap *StateSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if snap == nil || snap.state == nil {
		delete(o.states, poolID)
		return
	}
	o.states[poolID] = snap.state
}

func (o *Oracle) emitUpdated(poolID ids.ID, reserve0, reserve1, price0 *uint256.Int, height uint64) {
	o.bus.Emit(events.PriceUpdated{
		PoolID:     poolID,
		Reserve0:   reserve0.Dec(),
		Reserve1:   reserve1.Dec(),
		SpotPrice0: PriceToDecimal(price0),
		Height:     height,
		Timestamp:  o.clock.Now(),
	})
}

// wrapSub computes a-b modulo 2^256, the wraparound-safe delta
func wrapSub(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sub(a, b)
}

// deviationBps returns |spot-ref|*10000/ref, saturating when ref is zero
func deviationBps(spot, ref *uint256.Int) uint64 {
	if ref == nil || ref.IsZero() {
		return 0
	}
	var diff *uint256.Int
	if spot.Gt(ref) {
		diff = new(uint256.Int).Sub(spot, ref)
	} else {
		diff = new(uint256.Int).Sub(ref, spot)
	}
	diff.Mul(diff, uint256.NewInt(10000))
	diff.Div(diff, ref)
	if !diff.IsUint64() {
		return ^uint64(0)
	}
	return diff.Uint64()
}

// PriceToDecimal renders a UQ112x112 price as a decimal for events and
// API responses
func PriceToDecimal(price *uint256.Int) decimal.Decimal {
	num := decimal.NewFromBigInt(price.ToBig(), 0)
	den := decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 112), 0)
	return num.DivRound(den, 18)
}

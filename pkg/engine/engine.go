// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/luxfi/amm/pkg/asset"
	"github.com/luxfi/amm/pkg/events"
	"github.com/luxfi/amm/pkg/governance"
	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/ledger"
	"github.com/luxfi/amm/pkg/log"
	"github.com/luxfi/amm/pkg/metric"
	"github.com/luxfi/amm/pkg/oracle"
)

var (
	ErrDeadlineExpired       = errors.New("deadline expired")
	ErrZeroAmount            = errors.New("zero amount")
	ErrInvalidToken          = errors.New("invalid token")
	ErrZeroAddress           = errors.New("zero recipient address")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPaused                = errors.New("engine paused")
	ErrAssetBlacklisted      = errors.New("asset blacklisted")
	ErrSwapTooLarge          = errors.New("swap exceeds size limit")
)

// Engine executes trades and liquidity operations against the reserve
// ledger. Every state mutation follows checks, then effects, then
// external interactions; a failed interaction unwinds all effects.
type Engine struct {
	ledger  *ledger.Ledger
	oracle  *oracle.Oracle
	gov     *governance.Timelock
	bank    asset.Transferor
	bus     *events.Bus
	metrics *metric.Metrics
	log     log.Logger

	// feeTo receives protocol-fee shares attributed from k growth between
	// liquidity events. Zero disables the protocol fee.
	feeTo ids.ID
}

// New wires the engine to its collaborators
func New(
	l *ledger.Ledger,
	o *oracle.Oracle,
	gov *governance.Timelock,
	bank asset.Transferor,
	bus *events.Bus,
	m *metric.Metrics,
	logger log.Logger,
) *Engine {
	return &Engine{
		ledger:  l,
		oracle:  o,
		gov:     gov,
		bank:    bank,
		bus:     bus,
		metrics: m,
		log:     logger,
	}
}

// SetFeeTo designates the protocol-fee share recipient. Zero disables.
func (e *Engine) SetFeeTo(feeTo ids.ID) {
	e.feeTo = feeTo
}

// SwapRequest carries one trade instruction
type SwapRequest struct {
	Actor        ids.ID
	AssetIn      ids.ID
	AssetOut     ids.ID
	AmountIn     *uint256.Int
	AmountOutMin *uint256.Int
	Recipient    ids.ID
	Deadline     time.Time
}

// CreatePool registers the canonical pool for an asset pair
func (e *Engine) CreatePool(actor, assetA, assetB ids.ID) (*ledger.Pool, error) {
	if e.gov.IsPaused() {
		return nil, ErrPaused
	}
	if e.gov.IsBlacklisted(assetA) || e.gov.IsBlacklisted(assetB) {
		return nil, ErrAssetBlacklisted
	}

	pool, err := e.ledger.CreatePool(assetA, assetB)
	if err != nil {
		e.fail("create_pool", err)
		return nil, err
	}

	e.metrics.PoolsCreated.Inc()
	e.bus.Emit(events.PoolCreated{
		PoolID:    pool.ID,
		Asset0:    pool.Asset0,
		Asset1:    pool.Asset1,
		Actor:     actor,
		Timestamp: e.ledger.Clock().Now(),
	})
	return pool, nil
}

// Swap trades an exact input amount for at least AmountOutMin of the
// output asset. Validation order is fixed: deadline, then input sanity,
// then quote, then slippage, then liquidity depth.
func (e *Engine) Swap(req SwapRequest) (*uint256.Int, error) {
	if err := e.ledger.Acquire(); err != nil {
		e.fail("swap", err)
		return nil, err
	}
	defer e.ledger.Release()

	start := time.Now()
	amountOut, err := e.swapLocked(req)
	if err != nil {
		e.fail("swap", err)
		return nil, err
	}
	e.metrics.SwapsExecuted.Inc()
	e.metrics.SwapDuration.Observe(time.Since(start).Seconds())
	return amountOut, nil
}

func (e *Engine) swapLocked(req SwapRequest) (*uint256.Int, error) {
	now := e.ledger.Clock().Now()

	// Checks.
	if !req.Deadline.IsZero() && now.After(req.Deadline) {
		return nil, ErrDeadlineExpired
	}
	if e.gov.IsPaused() {
		return nil, ErrPaused
	}
	if req.AmountIn == nil || req.AmountIn.IsZero() {
		return nil, ErrZeroAmount
	}
	if req.AssetIn == req.AssetOut || req.AssetIn.IsEmpty() || req.AssetOut.IsEmpty() {
		return nil, ErrInvalidToken
	}
	if req.Recipient.IsEmpty() {
		return nil, ErrZeroAddress
	}
	if e.gov.IsBlacklisted(req.AssetIn) || e.gov.IsBlacklisted(req.AssetOut) {
		return nil, ErrAssetBlacklisted
	}
	if maxSize := e.gov.MaxSwapSize(); maxSize != nil && req.AmountIn.Gt(maxSize) {
		return nil, ErrSwapTooLarge
	}

	pool, err := e.ledger.GetPoolByAssets(req.AssetIn, req.AssetOut)
	if err != nil {
		return nil, err
	}

	reserveIn, reserveOut, ok := pool.ReserveOf(req.AssetIn)
	if !ok {
		return nil, ErrInvalidToken
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	amountOut := GetAmountOut(req.AmountIn, reserveIn, reserveOut, e.gov.FeeRateBps())
	if req.AmountOutMin != nil && amountOut.Lt(req.AmountOutMin) {
		return nil, ErrSlippageExceeded
	}
	if amountOut.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}

	// Effects.
	ledgerSnap, err := e.ledger.Snapshot(pool.ID)
	if err != nil {
		return nil, err
	}
	oracleSnap := e.oracle.Snapshot(pool.ID)
	unwind := func() {
		if rerr := e.ledger.Restore(ledgerSnap); rerr != nil {
			e.log.Error("swap unwind failed", "pool", pool.ID, "error", rerr)
		}
		e.oracle.Restore(pool.ID, oracleSnap)
	}

	newReserveIn := new(uint256.Int).Add(reserveIn, req.AmountIn)
	newReserveOut := new(uint256.Int).Sub(reserveOut, amountOut)
	newReserve0, newReserve1 := newReserveIn, newReserveOut
	if req.AssetIn == pool.Asset1 {
		newReserve0, newReserve1 = newReserveOut, newReserveIn
	}

	if err := e.ledger.UpdateReserves(pool.ID, newReserve0, newReserve1); err != nil {
		return nil, err
	}
	if err := e.updateOracle(pool.ID, newReserve0, newReserve1); err != nil {
		unwind()
		return nil, err
	}
	newK := new(uint256.Int).Mul(newReserve0, newReserve1)
	if err := e.ledger.SetKLast(pool.ID, newK); err != nil {
		unwind()
		return nil, err
	}

	// Interactions.
	escrow := pool.EscrowAccount()
	if err := e.bank.Transfer(req.AssetIn, req.Actor, escrow, req.AmountIn); err != nil {
		unwind()
		return nil, fmt.Errorf("pull %s: %w", req.AssetIn, err)
	}
	if err := e.bank.Transfer(req.AssetOut, escrow, req.Recipient, amountOut); err != nil {
		unwind()
		if rerr := e.bank.Transfer(req.AssetIn, escrow, req.Actor, req.AmountIn); rerr != nil {
			e.log.Error("swap refund failed",
				"pool", pool.ID, "actor", req.Actor, "error", rerr)
		}
		return nil, fmt.Errorf("pay out %s: %w", req.AssetOut, err)
	}

	impact := priceImpactBps(req.AmountIn, amountOut, reserveIn, reserveOut)
	e.log.Info("swap executed",
		"pool", pool.ID,
		"asset_in", req.AssetIn,
		"amount_in", req.AmountIn.Dec(),
		"amount_out", amountOut.Dec(),
		"price_impact_bps", impact)
	e.bus.Emit(events.Swap{
		PoolID:         pool.ID,
		Sender:         req.Actor,
		Recipient:      req.Recipient,
		AssetIn:        req.AssetIn,
		AssetOut:       req.AssetOut,
		AmountIn:       req.AmountIn.Dec(),
		AmountOut:      amountOut.Dec(),
		PriceImpactBps: impact,
		Timestamp:      now,
	})

	return amountOut, nil
}

// Quote returns the output a swap of amountIn would produce right now,
// without mutating anything
func (e *Engine) Quote(assetIn, assetOut ids.ID, amountIn *uint256.Int) (*uint256.Int, error) {
	if amountIn == nil || amountIn.IsZero() {
		return nil, ErrZeroAmount
	}
	if assetIn == assetOut {
		return nil, ErrInvalidToken
	}

	pool, err := e.ledger.GetPoolByAssets(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, ok := pool.ReserveOf(assetIn)
	if !ok {
		return nil, ErrInvalidToken
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	return GetAmountOut(amountIn, reserveIn, reserveOut, e.gov.FeeRateBps()), nil
}

// QuoteIn returns the input required to receive exactly amountOut
func (e *Engine) QuoteIn(assetIn, assetOut ids.ID, amountOut *uint256.Int) (*uint256.Int, error) {
	if amountOut == nil || amountOut.IsZero() {
		return nil, ErrZeroAmount
	}
	if assetIn == assetOut {
		return nil, ErrInvalidToken
	}

	pool, err := e.ledger.GetPoolByAssets(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut, ok := pool.ReserveOf(assetIn)
	if !ok {
		return nil, ErrInvalidToken
	}
	if reserveIn.IsZero() || reserveOut.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	return GetAmountIn(amountOut, reserveIn, reserveOut, e.gov.FeeRateBps()), nil
}

// updateOracle feeds post-mutation reserves to the oracle. A same-block
// repeat is benign (the accumulator already covers this instant); a
// deviation rejection aborts the caller.
func (e *Engine) updateOracle(poolID ids.ID, reserve0, reserve1 *uint256.Int) error {
	err := e.oracle.Update(poolID, reserve0, reserve1)
	switch {
	case err == nil:
		e.metrics.OracleUpdates.Inc()
		return nil
	case errors.Is(err, oracle.ErrSameBlockUpdate):
		return nil
	case errors.Is(err, oracle.ErrInvalidReserves):
		// Pool drained to zero on one side; no price exists to record.
		return nil
	case errors.Is(err, oracle.ErrPriceDeviationTooHigh):
		e.metrics.DeviationAlerts.Inc()
		return err
	default:
		return err
	}
}

// fail records a failed operation by error kind
func (e *Engine) fail(op string, err error) {
	e.metrics.OperationFailures.WithLabelValues(op, errKind(err)).Inc()
}

func errKind(err error) string {
	switch {
	case errors.Is(err, ErrDeadlineExpired):
		return "deadline_expired"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrAssetBlacklisted):
		return "asset_blacklisted"
	case errors.Is(err, ErrSwapTooLarge):
		return "swap_too_large"
	case errors.Is(err, ledger.ErrPoolNotFound):
		return "pool_not_found"
	case errors.Is(err, ledger.ErrReentrant):
		return "reentrant"
	case errors.Is(err, oracle.ErrPriceDeviationTooHigh):
		return "price_deviation"
	case errors.Is(err, asset.ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "other"
	}
}

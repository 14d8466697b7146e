// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/luxfi/amm/pkg/events"
	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/ledger"
)

// AddLiquidityRequest deposits both assets of a pair for LP shares.
// Amounts are oriented to (AssetA, AssetB) as given, not canonical order.
type AddLiquidityRequest struct {
	Actor          ids.ID
	AssetA         ids.ID
	AssetB         ids.ID
	AmountADesired *uint256.Int
	AmountBDesired *uint256.Int
	AmountAMin     *uint256.Int
	AmountBMin     *uint256.Int
	Recipient      ids.ID
	Deadline       time.Time
}

// RemoveLiquidityRequest burns LP shares for a pro-rata reserve share
type RemoveLiquidityRequest struct {
	Actor      ids.ID
	AssetA     ids.ID
	AssetB     ids.ID
	Shares     *uint256.Int
	AmountAMin *uint256.Int
	AmountBMin *uint256.Int
	Recipient  ids.ID
	Deadline   time.Time
}

// AddLiquidity deposits assets at (or clamped to) the current reserve
// ratio and mints shares pro rata. The genesis deposit mints
// sqrt(amount0*amount1) shares, of which MinimumLiquidity is locked
// forever at the zero address.
func (e *Engine) AddLiquidity(req AddLiquidityRequest) (amountA, amountB, shares *uint256.Int, err error) {
	if err := e.ledger.Acquire(); err != nil {
		e.fail("add_liquidity", err)
		return nil, nil, nil, err
	}
	defer e.ledger.Release()

	amountA, amountB, shares, err = e.addLiquidityLocked(req)
	if err != nil {
		e.fail("add_liquidity", err)
		return nil, nil, nil, err
	}
	e.metrics.LiquidityEvents.Inc()
	return amountA, amountB, shares, nil
}

func (e *Engine) addLiquidityLocked(req AddLiquidityRequest) (*uint256.Int, *uint256.Int, *uint256.Int, error) {
	now := e.ledger.Clock().Now()

	if !req.Deadline.IsZero() && now.After(req.Deadline) {
		return nil, nil, nil, ErrDeadlineExpired
	}
	if e.gov.IsPaused() {
		return nil, nil, nil, ErrPaused
	}
	if req.AmountADesired == nil || req.AmountADesired.IsZero() ||
		req.AmountBDesired == nil || req.AmountBDesired.IsZero() {
		return nil, nil, nil, ErrZeroAmount
	}
	if req.AssetA == req.AssetB || req.AssetA.IsEmpty() || req.AssetB.IsEmpty() {
		return nil, nil, nil, ErrInvalidToken
	}
	if req.Recipient.IsEmpty() {
		return nil, nil, nil, ErrZeroAddress
	}
	if e.gov.IsBlacklisted(req.AssetA) || e.gov.IsBlacklisted(req.AssetB) {
		return nil, nil, nil, ErrAssetBlacklisted
	}

	pool, err := e.ledger.GetPoolByAssets(req.AssetA, req.AssetB)
	if err != nil {
		return nil, nil, nil, err
	}

	ledgerSnap, err := e.ledger.Snapshot(pool.ID, req.Recipient, ids.Empty, e.feeTo)
	if err != nil {
		return nil, nil, nil, err
	}
	oracleSnap := e.oracle.Snapshot(pool.ID)
	unwind := func() {
		if rerr := e.ledger.Restore(ledgerSnap); rerr != nil {
			e.log.Error("add liquidity unwind failed", "pool", pool.ID, "error", rerr)
		}
		e.oracle.Restore(pool.ID, oracleSnap)
	}

	if err := e.mintProtocolFee(pool); err != nil {
		unwind()
		return nil, nil, nil, err
	}
	// Re-read: the protocol-fee mint may have grown total shares.
	pool, err = e.ledger.GetPool(pool.ID)
	if err != nil {
		unwind()
		return nil, nil, nil, err
	}

	// Orient request amounts to canonical asset order.
	desired0, desired1 := req.AmountADesired, req.AmountBDesired
	min0, min1 := req.AmountAMin, req.AmountBMin
	if req.AssetA == pool.Asset1 {
		desired0, desired1 = desired1, desired0
		min0, min1 = min1, min0
	}

	amount0, amount1, err := optimalAmounts(pool, desired0, desired1, min0, min1)
	if err != nil {
		unwind()
		return nil, nil, nil, err
	}

	newShares, lockShares, err := sharesForDeposit(pool, amount0, amount1)
	if err != nil {
		unwind()
		return nil, nil, nil, err
	}

	// Effects.
	newReserve0 := new(uint256.Int).Add(pool.Reserve0, amount0)
	newReserve1 := new(uint256.Int).Add(pool.Reserve1, amount1)
	if err := e.ledger.UpdateReserves(pool.ID, newReserve0, newReserve1); err != nil {
		unwind()
		return nil, nil, nil, err
	}
	if lockShares != nil {
		if err := e.ledger.MintShares(pool.ID, ids.Empty, lockShares); err != nil {
			unwind()
			return nil, nil, nil, err
		}
	}
	if err := e.ledger.MintShares(pool.ID, req.Recipient, newShares); err != nil {
		unwind()
		return nil, nil, nil, err
	}
	if err := e.updateOracle(pool.ID, newReserve0, newReserve1); err != nil {
		unwind()
		return nil, nil, nil, err
	}
	newK := new(uint256.Int).Mul(newReserve0, newReserve1)
	if err := e.ledger.SetKLast(pool.ID, newK); err != nil {
		unwind()
		return nil, nil, nil, err
	}

	// Interactions.
	escrow := pool.EscrowAccount()
	if err := e.bank.Transfer(pool.Asset0, req.Actor, escrow, amount0); err != nil {
		unwind()
		return nil, nil, nil, fmt.Errorf("pull %s: %w", pool.Asset0, err)
	}
	if err := e.bank.Transfer(pool.Asset1, req.Actor, escrow, amount1); err != nil {
		unwind()
		if rerr := e.bank.Transfer(pool.Asset0, escrow, req.Actor, amount0); rerr != nil {
			e.log.Error("add liquidity refund failed",
				"pool", pool.ID, "actor", req.Actor, "error", rerr)
		}
		return nil, nil, nil, fmt.Errorf("pull %s: %w", pool.Asset1, err)
	}

	e.log.Info("liquidity added",
		"pool", pool.ID,
		"provider", req.Recipient,
		"amount0", amount0.Dec(),
		"amount1", amount1.Dec(),
		"shares", newShares.Dec())
	e.bus.Emit(events.LiquidityAdded{
		PoolID:       pool.ID,
		Provider:     req.Recipient,
		Amount0:      amount0.Dec(),
		Amount1:      amount1.Dec(),
		SharesMinted: newShares.Dec(),
		Timestamp:    now,
	})

	amountA, amountB := amount0, amount1
	if req.AssetA == pool.Asset1 {
		amountA, amountB = amount1, amount0
	}
	return amountA, amountB, newShares, nil
}

// RemoveLiquidity burns shares and pays out both reserves pro rata.
// Deliberately not gated on pause so providers can always exit.
func (e *Engine) RemoveLiquidity(req RemoveLiquidityRequest) (amountA, amountB *uint256.Int, err error) {
	if err := e.ledger.Acquire(); err != nil {
		e.fail("remove_liquidity", err)
		return nil, nil, err
	}
	defer e.ledger.Release()

	amountA, amountB, err = e.removeLiquidityLocked(req)
	if err != nil {
		e.fail("remove_liquidity", err)
		return nil, nil, err
	}
	e.metrics.LiquidityEvents.Inc()
	return amountA, amountB, nil
}

func (e *Engine) removeLiquidityLocked(req RemoveLiquidityRequest) (*uint256.Int, *uint256.Int, error) {
	now := e.ledger.Clock().Now()

	if !req.Deadline.IsZero() && now.After(req.Deadline) {
		return nil, nil, ErrDeadlineExpired
	}
	if req.Shares == nil || req.Shares.IsZero() {
		return nil, nil, ErrZeroAmount
	}
	if req.AssetA == req.AssetB || req.AssetA.IsEmpty() || req.AssetB.IsEmpty() {
		return nil, nil, ErrInvalidToken
	}
	if req.Recipient.IsEmpty() {
		return nil, nil, ErrZeroAddress
	}

	pool, err := e.ledger.GetPoolByAssets(req.AssetA, req.AssetB)
	if err != nil {
		return nil, nil, err
	}

	ledgerSnap, err := e.ledger.Snapshot(pool.ID, req.Actor, e.feeTo)
	if err != nil {
		return nil, nil, err
	}
	oracleSnap := e.oracle.Snapshot(pool.ID)
	unwind := func() {
		if rerr := e.ledger.Restore(ledgerSnap); rerr != nil {
			e.log.Error("remove liquidity unwind failed", "pool", pool.ID, "error", rerr)
		}
		e.oracle.Restore(pool.ID, oracleSnap)
	}

	if err := e.mintProtocolFee(pool); err != nil {
		unwind()
		return nil, nil, err
	}
	pool, err = e.ledger.GetPool(pool.ID)
	if err != nil {
		unwind()
		return nil, nil, err
	}

	if pool.TotalShares.IsZero() || req.Shares.Gt(pool.TotalShares) {
		unwind()
		return nil, nil, ledger.ErrInsufficientShares
	}

	amount0 := new(uint256.Int).Mul(pool.Reserve0, req.Shares)
	amount0.Div(amount0, pool.TotalShares)
	amount1 := new(uint256.Int).Mul(pool.Reserve1, req.Shares)
	amount1.Div(amount1, pool.TotalShares)
	if amount0.IsZero() || amount1.IsZero() {
		unwind()
		return nil, nil, ErrInsufficientLiquidity
	}

	min0, min1 := req.AmountAMin, req.AmountBMin
	if req.AssetA == pool.Asset1 {
		min0, min1 = min1, min0
	}
	if (min0 != nil && amount0.Lt(min0)) || (min1 != nil && amount1.Lt(min1)) {
		unwind()
		return nil, nil, ErrSlippageExceeded
	}

	// Effects.
	if err := e.ledger.BurnShares(pool.ID, req.Actor, req.Shares); err != nil {
		unwind()
		return nil, nil, err
	}
	newReserve0 := new(uint256.Int).Sub(pool.Reserve0, amount0)
	newReserve1 := new(uint256.Int).Sub(pool.Reserve1, amount1)
	if err := e.ledger.UpdateReserves(pool.ID, newReserve0, newReserve1); err != nil {
		unwind()
		return nil, nil, err
	}
	if err := e.updateOracle(pool.ID, newReserve0, newReserve1); err != nil {
		unwind()
		return nil, nil, err
	}
	newK := new(uint256.Int).Mul(newReserve0, newReserve1)
	if err := e.ledger.SetKLast(pool.ID, newK); err != nil {
		unwind()
		return nil, nil, err
	}

	// Interactions.
	escrow := pool.EscrowAccount()
	if err := e.bank.Transfer(pool.Asset0, escrow, req.Recipient, amount0); err != nil {
		unwind()
		return nil, nil, fmt.Errorf("pay out %s: %w", pool.Asset0, err)
	}
	if err := e.bank.Transfer(pool.Asset1, escrow, req.Recipient, amount1); err != nil {
		unwind()
		if rerr := e.bank.Transfer(pool.Asset0, req.Recipient, escrow, amount0); rerr != nil {
			e.log.Error("remove liquidity clawback failed",
				"pool", pool.ID, "recipient", req.Recipient, "error", rerr)
		}
		return nil, nil, fmt.Errorf("pay out %s: %w", pool.Asset1, err)
	}

	e.log.Info("liquidity removed",
		"pool", pool.ID,
		"provider", req.Actor,
		"amount0", amount0.Dec(),
		"amount1", amount1.Dec(),
		"shares", req.Shares.Dec())
	e.bus.Emit(events.LiquidityRemoved{
		PoolID:       pool.ID,
		Provider:     req.Actor,
		Amount0:      amount0.Dec(),
		Amount1:      amount1.Dec(),
		SharesBurned: req.Shares.Dec(),
		Timestamp:    now,
	})

	amountA, amountB := amount0, amount1
	if req.AssetA == pool.Asset1 {
		amountA, amountB = amount1, amount0
	}
	return amountA, amountB, nil
}

// optimalAmounts clamps the desired deposit to the current reserve ratio.
// Genesis deposits (empty reserves) are taken as given.
func optimalAmounts(pool *ledger.Pool, desired0, desired1, min0, min1 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if pool.Reserve0.IsZero() && pool.Reserve1.IsZero() {
		return desired0, desired1, nil
	}

	optimal1 := new(uint256.Int).Mul(desired0, pool.Reserve1)
	optimal1.Div(optimal1, pool.Reserve0)
	if !optimal1.Gt(desired1) {
		if min1 != nil && optimal1.Lt(min1) {
			return nil, nil, ErrSlippageExceeded
		}
		return desired0, optimal1, nil
	}

	optimal0 := new(uint256.Int).Mul(desired1, pool.Reserve0)
	optimal0.Div(optimal0, pool.Reserve1)
	if optimal0.Gt(desired0) || (min0 != nil && optimal0.Lt(min0)) {
		return nil, nil, ErrSlippageExceeded
	}
	return optimal0, desired1, nil
}

// sharesForDeposit computes the shares minted for a deposit. Genesis
// mints sqrt(amount0*amount1), with MinimumLiquidity split off to lock;
// later deposits mint min(amount*total/reserve) over both sides.
func sharesForDeposit(pool *ledger.Pool, amount0, amount1 *uint256.Int) (minted, locked *uint256.Int, err error) {
	if pool.TotalShares.IsZero() {
		product := new(uint256.Int).Mul(amount0, amount1)
		root := new(uint256.Int).Sqrt(product)
		lock := uint256.NewInt(ledger.MinimumLiquidity)
		if !root.Gt(lock) {
			return nil, nil, ErrInsufficientLiquidity
		}
		return new(uint256.Int).Sub(root, lock), lock, nil
	}

	shares0 := new(uint256.Int).Mul(amount0, pool.TotalShares)
	shares0.Div(shares0, pool.Reserve0)
	shares1 := new(uint256.Int).Mul(amount1, pool.TotalShares)
	shares1.Div(shares1, pool.Reserve1)

	shares := shares0
	if shares1.Lt(shares0) {
		shares = shares1
	}
	if shares.IsZero() {
		return nil, nil, ErrInsufficientLiquidity
	}
	return shares, nil, nil
}

// mintProtocolFee attributes a sixth of the k growth since the last
// liquidity event to the protocol-fee recipient, as freshly minted
// shares. No-op when the recipient is unset or k has not grown.
func (e *Engine) mintProtocolFee(pool *ledger.Pool) error {
	if e.feeTo.IsEmpty() || pool.KLast.IsZero() || pool.TotalShares.IsZero() {
		return nil
	}

	rootK := new(uint256.Int).Sqrt(pool.K())
	rootKLast := new(uint256.Int).Sqrt(pool.KLast)
	if !rootK.Gt(rootKLast) {
		return nil
	}

	numerator := new(uint256.Int).Sub(rootK, rootKLast)
	numerator.Mul(numerator, pool.TotalShares)
	denominator := new(uint256.Int).Mul(rootK, uint256.NewInt(5))
	denominator.Add(denominator, rootKLast)

	feeShares := numerator.Div(numerator, denominator)
	if feeShares.IsZero() {
		return nil
	}
	return e.ledger.MintShares(pool.ID, e.feeTo, feeShares)
}

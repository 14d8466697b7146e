// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"github.com/holiman/uint256"
)

// BpsDenominator is the basis-point scale for all fee math
const BpsDenominator = 10000

// GetAmountOut computes the fee-adjusted constant-product output:
//
//	out = (in * (D-fee) * reserveOut) / (reserveIn*D + in*(D-fee))
//
// with D = 10000 bps. Integer truncation always favors the pool.
func GetAmountOut(amountIn, reserveIn, reserveOut *uint256.Int, feeRateBps uint64) *uint256.Int {
	if amountIn.IsZero() || reserveIn.IsZero() || reserveOut.IsZero() {
		return uint256.NewInt(0)
	}

	amountInWithFee := new(uint256.Int).Mul(amountIn, uint256.NewInt(BpsDenominator-feeRateBps))
	numerator := new(uint256.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(uint256.Int).Mul(reserveIn, uint256.NewInt(BpsDenominator))
	denominator.Add(denominator, amountInWithFee)

	return numerator.Div(numerator, denominator)
}

// GetAmountIn computes the minimum input yielding amountOut, rounding up
// so the quote always covers the trade.
func GetAmountIn(amountOut, reserveIn, reserveOut *uint256.Int, feeRateBps uint64) *uint256.Int {
	if amountOut.IsZero() || reserveIn.IsZero() || reserveOut.IsZero() || !amountOut.Lt(reserveOut) {
		return uint256.NewInt(0)
	}

	numerator := new(uint256.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, uint256.NewInt(BpsDenominator))
	denominator := new(uint256.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, uint256.NewInt(BpsDenominator-feeRateBps))

	numerator.Div(numerator, denominator)
	return numerator.AddUint64(numerator, 1)
}

// priceImpactBps measures how far the execution price fell below the spot
// price, in basis points:
//
//	impact = 10000 - (amountOut * reserveIn * 10000) / (amountIn * reserveOut)
func priceImpactBps(amountIn, amountOut, reserveIn, reserveOut *uint256.Int) uint64 {
	denominator := new(uint256.Int).Mul(amountIn, reserveOut)
	if denominator.IsZero() {
		return 0
	}

	numerator := new(uint256.Int).Mul(amountOut, reserveIn)
	numerator.Mul(numerator, uint256.NewInt(BpsDenominator))
	numerator.Div(numerator, denominator)

	if !numerator.IsUint64() {
		return 0
	}
	realized := numerator.Uint64()
	if realized >= BpsDenominator {
		return 0
	}
	return BpsDenominator - realized
}

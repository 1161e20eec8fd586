/*

This file contains the core per-pool state for the dynamic fee controller:
immutable control-loop parameters, the mutable fee state, and the fixed
just-in-time liquidity range.

*/

package types

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
)

type PoolID uint64

// CurrencySlot identifies one side of a pool.
type CurrencySlot uint8

const (
	Currency0 CurrencySlot = 0
	Currency1 CurrencySlot = 1
)

const (
	// MaxFeePips is 100% in pips (hundredths of a basis point).
	MaxFeePips uint64 = 1_000_000

	// MaxBps is 100% in basis points, used for vault skim rates and slippage bounds.
	MaxBps uint64 = 10_000
)

// PoolParams is the immutable-per-pool configuration of the fee control loop.
// Fees are pips (1e6 = 100%); ratios and factors are 1e18-scaled decimals.
type PoolParams struct {
	MinFee          uint64 `json:"min_fee"`            // Lower fee bound in pips.
	MaxFee          uint64 `json:"max_fee"`            // Upper fee bound in pips.
	BaseMaxFeeDelta uint64 `json:"base_max_fee_delta"` // Max fee movement per poke, in pips.

	LookbackPeriod uint64        `json:"lookback_period"` // Divisor for the target-ratio nudge; higher adapts slower.
	MinPeriod      time.Duration `json:"min_period"`      // Cooldown between successful pokes.

	RatioTolerance  sdkmath.LegacyDec `json:"ratio_tolerance"`   // Relative deviation below which the fee is left alone.
	LinearSlope     sdkmath.LegacyDec `json:"linear_slope"`      // Pips of fee delta per unit of relative deviation.
	MaxCurrentRatio sdkmath.LegacyDec `json:"max_current_ratio"` // Hard clamp on the observed ratio input.

	UpperSideFactor sdkmath.LegacyDec `json:"upper_side_factor"` // Response multiplier when ratio is above target.
	LowerSideFactor sdkmath.LegacyDec `json:"lower_side_factor"` // Response multiplier when ratio is below target.
}

// Validate rejects parameter sets the controller cannot safely run with.
func (p PoolParams) Validate() error {
	if p.MinFee > p.MaxFee {
		return fmt.Errorf("%w: minFee %d exceeds maxFee %d", ErrInvalidParams, p.MinFee, p.MaxFee)
	}
	if p.MaxFee > MaxFeePips {
		return fmt.Errorf("%w: maxFee %d exceeds %d pips", ErrInvalidParams, p.MaxFee, MaxFeePips)
	}
	if p.MinPeriod <= 0 {
		return fmt.Errorf("%w: minPeriod must be positive", ErrInvalidParams)
	}
	if p.LookbackPeriod == 0 {
		return fmt.Errorf("%w: lookbackPeriod must be positive", ErrInvalidParams)
	}
	if p.RatioTolerance.IsNil() || p.RatioTolerance.IsNegative() {
		return fmt.Errorf("%w: ratioTolerance must be non-negative", ErrInvalidParams)
	}
	if p.LinearSlope.IsNil() || p.LinearSlope.IsNegative() {
		return fmt.Errorf("%w: linearSlope must be non-negative", ErrInvalidParams)
	}
	if p.MaxCurrentRatio.IsNil() || !p.MaxCurrentRatio.IsPositive() {
		return fmt.Errorf("%w: maxCurrentRatio must be positive", ErrInvalidParams)
	}
	if p.UpperSideFactor.IsNil() || !p.UpperSideFactor.IsPositive() {
		return fmt.Errorf("%w: upperSideFactor must be positive", ErrInvalidParams)
	}
	if p.LowerSideFactor.IsNil() || !p.LowerSideFactor.IsPositive() {
		return fmt.Errorf("%w: lowerSideFactor must be positive", ErrInvalidParams)
	}
	return nil
}

// FeeState is the mutable controller state for one pool. It is written only by a
// successful poke.
type FeeState struct {
	CurrentFee          uint64            `json:"current_fee"` // Pips.
	TargetRatio         sdkmath.LegacyDec `json:"target_ratio"`
	LastUpdateTimestamp time.Time         `json:"last_update_timestamp"`
}

// JITRange is the fixed tick range for just-in-time liquidity. It is set once at
// pool initialization and never mutated, so the JIT zone cannot be steered after
// the fact.
type JITRange struct {
	TickLower int32 `json:"tick_lower"`
	TickUpper int32 `json:"tick_upper"`
}

// Contains reports whether the range covers the given tick. The upper bound is
// exclusive, matching concentrated-liquidity convention.
func (r JITRange) Contains(tick int32) bool {
	return tick >= r.TickLower && tick < r.TickUpper
}

// ValidateStraddle rejects a range that does not straddle the initial tick, or
// whose asymmetry around it exceeds the tolerance. Asymmetry here is the
// difference between the two half-widths relative to the full width; a badly
// lopsided range is a configuration error, not something to discover at swap
// time.
func (r JITRange) ValidateStraddle(initialTick int32, asymmetryToleranceBps uint64) error {
	if r.TickLower >= r.TickUpper {
		return fmt.Errorf("%w: tickLower %d >= tickUpper %d", ErrInvalidParams, r.TickLower, r.TickUpper)
	}
	if !r.Contains(initialTick) {
		return fmt.Errorf("%w: JIT range [%d, %d) does not straddle initial tick %d",
			ErrInvalidParams, r.TickLower, r.TickUpper, initialTick)
	}
	lowerHalf := int64(initialTick) - int64(r.TickLower)
	upperHalf := int64(r.TickUpper) - int64(initialTick)
	diff := lowerHalf - upperHalf
	if diff < 0 {
		diff = -diff
	}
	width := int64(r.TickUpper) - int64(r.TickLower)
	if diff*int64(MaxBps) > width*int64(asymmetryToleranceBps) {
		return fmt.Errorf("%w: JIT range [%d, %d) asymmetry around tick %d exceeds %d bps",
			ErrInvalidParams, r.TickLower, r.TickUpper, initialTick, asymmetryToleranceBps)
	}
	return nil
}

// YieldSourceMap maps a pool currency slot to an external vault identifier. A
// missing slot disables rehypothecation for that side.
type YieldSourceMap map[CurrencySlot]string

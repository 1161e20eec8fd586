/*

This file contains the dynamic fee control loop: a bounded, cooldown-gated
mapping from observed trade-flow imbalance to a pool's swap fee, plus a slowly
adapting moving target ratio.

The computation is deliberately split from the commit. ComputeFeeUpdate is pure
so operators and oracles can dry-run a poke before paying for a state change,
and so tests can assert the exact expected fee without executing the mutating
path. The cooldown is reported as wouldUpdate rather than an error for the same
reason.

*/

package feecontroller

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/kinetic-fi/rhm/internal/types"
	"github.com/kinetic-fi/rhm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidRatio  = errors.New("current ratio is invalid")
	ErrInvalidState  = errors.New("fee state is invalid")
	ErrInvalidParams = errors.New("pool parameters are invalid")
)

// Update is the result of one controller step.
type Update struct {
	NewFee         uint64            `json:"new_fee"` // Pips.
	NewTargetRatio sdkmath.LegacyDec `json:"new_target_ratio"`
	WouldUpdate    bool              `json:"would_update"` // False while the cooldown has not elapsed.
}

// ComputeFeeUpdate runs one pure controller step against the given state.
//
// The observed ratio is clamped to params.MaxCurrentRatio before use, bounding
// the influence of outlier or manipulated inputs. Deviation is measured
// relative to the moving target: dev = (ratio - target) / target.
//
// Within RatioTolerance the fee is left alone and the target is nudged toward
// the observation by 1/LookbackPeriod of the gap, adapting to regime shifts
// without chasing noise. Outside tolerance the fee moves by
// LinearSlope * |dev|, scaled by the side factor for the direction of the
// imbalance, clamped to BaseMaxFeeDelta per invocation so a single poke can
// never produce a fee shock, and finally bounded to [MinFee, MaxFee]. The
// target is nudged by the same lookback-weighted step in both branches.
func ComputeFeeUpdate(
	params types.PoolParams,
	state types.FeeState,
	currentRatio sdkmath.LegacyDec,
	now time.Time,
) (Update, error) {
	if err := params.Validate(); err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if currentRatio.IsNil() || currentRatio.IsNegative() {
		return Update{}, fmt.Errorf("%w: ratio must be non-negative", ErrInvalidRatio)
	}
	if state.TargetRatio.IsNil() || !state.TargetRatio.IsPositive() {
		return Update{}, fmt.Errorf("%w: target ratio must be positive", ErrInvalidState)
	}
	if state.CurrentFee < params.MinFee || state.CurrentFee > params.MaxFee {
		return Update{}, fmt.Errorf("%w: stored fee %d outside [%d, %d]",
			ErrInvalidState, state.CurrentFee, params.MinFee, params.MaxFee)
	}

	ratio := currentRatio
	if ratio.GT(params.MaxCurrentRatio) {
		ratio = params.MaxCurrentRatio
	}

	dev := ratio.Sub(state.TargetRatio).Quo(state.TargetRatio)

	// The target tracks the observation at 1/LookbackPeriod of the gap per
	// accepted update, in every branch.
	newTarget := state.TargetRatio.Add(
		ratio.Sub(state.TargetRatio).QuoInt64(int64(params.LookbackPeriod)),
	)

	update := Update{
		NewFee:         state.CurrentFee,
		NewTargetRatio: newTarget,
		WouldUpdate:    !now.Before(state.LastUpdateTimestamp.Add(params.MinPeriod)),
	}

	if dev.Abs().LTE(params.RatioTolerance) {
		return update, nil
	}

	sideFactor := params.LowerSideFactor
	if dev.IsPositive() {
		sideFactor = params.UpperSideFactor
	}

	// Clamp the raw delta while it is still a decimal. A collapsed target
	// ratio makes |dev| arbitrarily large, so truncating first would overflow
	// int64 instead of saturating at the per-poke bound.
	rawDec := params.LinearSlope.Mul(dev.Abs()).Mul(sideFactor)
	maxDelta := sdkmath.LegacyNewDecFromInt(sdkmath.NewIntFromUint64(params.BaseMaxFeeDelta))
	delta := params.BaseMaxFeeDelta
	if rawDec.LT(maxDelta) {
		// Truncation drops sub-pip dust.
		delta = uint64(rawDec.TruncateInt64())
	}

	var newFee uint64
	if dev.IsPositive() {
		newFee = state.CurrentFee + delta
	} else if delta > state.CurrentFee {
		newFee = 0
	} else {
		newFee = state.CurrentFee - delta
	}

	update.NewFee = utils.ClampFee(newFee, params.MinFee, params.MaxFee)
	return update, nil
}

// CooldownRemaining reports how long until a poke would be accepted. Zero means
// the cooldown has elapsed.
func CooldownRemaining(params types.PoolParams, state types.FeeState, now time.Time) time.Duration {
	elapsed := now.Sub(state.LastUpdateTimestamp)
	if elapsed >= params.MinPeriod {
		return 0
	}
	return params.MinPeriod - elapsed
}

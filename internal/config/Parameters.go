/*

This file contains the default fee controller parameters for the RHM daemon.

These parameters are calibrated for a mid-volatility pair on a venue with
moderate flow. Each value has been chosen to keep the fee responsive without
letting a single noisy observation whip it around.

*/

package config

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/kinetic-fi/rhm/internal/types"
)

// DefaultPoolParams provides a baseline parameter set for newly initialized
// pools. These values are used when no operator-supplied parameters are given
// at pool initialization.
var DefaultPoolParams = types.PoolParams{
	MinFee: 100, // 0.01% floor.
	// Rationale: a zero floor invites fee-free wash flow in calm markets.
	// One basis point keeps arbitrage honest without deterring real traders.

	MaxFee: 100_000, // 10% ceiling.
	// Rationale: above 10% the pool is effectively closed to trading anyway.
	// The cap bounds the damage of a runaway ratio signal.

	BaseMaxFeeDelta: 2_500, // At most 0.25% of fee movement per poke.
	// Rationale: with a one-hour cooldown the fee can still traverse the whole
	// range in under two days, which is fast enough for regime changes while
	// damping oscillation around the target.

	MinPeriod: time.Hour,
	// Rationale: pokes are cheap but each one moves the target ratio. Hourly
	// updates match the cadence of the flow observations that feed them.

	LookbackPeriod: 24,
	// Rationale: the moving target converges on a sustained ratio shift over
	// roughly one day of hourly pokes. Shorter lookbacks chase noise.

	RatioTolerance: sdkmath.LegacyNewDecWithPrec(5, 2), // 0.05
	// Rationale: flow ratios wobble a few percent cycle to cycle even in
	// steady markets. Five percent keeps the fee still through that wobble.

	LinearSlope: sdkmath.LegacyNewDec(50_000),
	// Rationale: a full unit of deviation maps to 5% of fee pressure before
	// the per-poke clamp. Sized so typical deviations produce deltas near the
	// clamp rather than far beyond it.

	MaxCurrentRatio: sdkmath.LegacyNewDec(10),
	// Rationale: a 10x ratio already saturates the controller's response.
	// Clamping here keeps a one-sided flow burst from distorting the target.

	UpperSideFactor: sdkmath.LegacyOneDec(),
	LowerSideFactor: sdkmath.LegacyOneDec(),
	// Rationale: symmetric response by default. Operators raise one side for
	// pairs where toxic flow arrives predominantly in one direction.
}

// DefaultInitialFee is the swap fee assigned to a pool at initialization, in
// pips. 0.30%, the conventional starting point for a mid-volatility pair.
const DefaultInitialFee uint64 = 3_000

// DefaultTargetRatio is the initial moving target for the flow ratio. A fresh
// pool is assumed balanced until observations say otherwise.
var DefaultTargetRatio = sdkmath.LegacyOneDec()

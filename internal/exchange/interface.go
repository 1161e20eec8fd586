/*

This file defines the engine's view of the host exchange. The engine never
reimplements the exchange's curve math; it only needs the current price/tick,
a way to propagate fee changes, temporary JIT positions, and trade-flow
counters for the ratio oracle.

*/

package exchange

import (
	sdkmath "cosmossdk.io/math"

	"github.com/kinetic-fi/rhm/internal/types"
)

// SwapRequest describes one swap against a pool.
type SwapRequest struct {
	ZeroForOne   bool        `json:"zero_for_one"` // True when selling currency 0 for currency 1.
	AmountIn     sdkmath.Int `json:"amount_in"`
	MinAmountOut sdkmath.Int `json:"min_amount_out"` // Zero disables the bound.
}

// SwapResult reports the executed amounts and the post-swap price.
type SwapResult struct {
	AmountIn  sdkmath.Int       `json:"amount_in"`
	AmountOut sdkmath.Int       `json:"amount_out"`
	FeePaid   sdkmath.Int       `json:"fee_paid"` // In the input currency.
	NewPrice  sdkmath.LegacyDec `json:"new_price"`
	NewTick   int32             `json:"new_tick"`
}

// JITReceipt is what comes back when a JIT position is removed: remaining
// principal per side plus trading fees the position earned while in range.
type JITReceipt struct {
	Amount0 sdkmath.Int `json:"amount_0"`
	Amount1 sdkmath.Int `json:"amount_1"`
	Fees0   sdkmath.Int `json:"fees_0"`
	Fees1   sdkmath.Int `json:"fees_1"`
}

// Exchange is the host trading venue. Implementations must treat every call as
// atomic: a returned error means nothing changed.
type Exchange interface {
	// CurrentPrice returns the pool's spot price (currency1 per currency0,
	// 1e18-scaled).
	CurrentPrice(id types.PoolID) (sdkmath.LegacyDec, error)

	// CurrentTick returns the tick corresponding to the spot price.
	CurrentTick(id types.PoolID) (int32, error)

	// SetFee propagates a new swap fee (pips) to the pool. The new fee applies
	// to the next swap, never retroactively.
	SetFee(id types.PoolID, feePips uint64) error

	// AddJITLiquidity opens the pool's single temporary position across the
	// given range, consuming at most amount0/amount1. It returns the amounts
	// actually used. A pool can hold at most one JIT position at a time.
	AddJITLiquidity(id types.PoolID, rng types.JITRange, amount0, amount1 sdkmath.Int) (used0, used1 sdkmath.Int, err error)

	// RemoveJITLiquidity closes the pool's JIT position, returning principal
	// and accrued trading fees.
	RemoveJITLiquidity(id types.PoolID) (JITReceipt, error)

	// HasJITPosition reports whether a JIT position is outstanding.
	HasJITPosition(id types.PoolID) (bool, error)

	// ExecuteSwap runs a swap against resting plus any in-range JIT liquidity.
	ExecuteSwap(id types.PoolID, req SwapRequest) (SwapResult, error)

	// FlowVolumes returns cumulative swap input volume per side since pool
	// creation, for the ratio oracle.
	FlowVolumes(id types.PoolID) (in0, in1 sdkmath.Int, err error)
}

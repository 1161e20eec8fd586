/*
This file contains common utility functions for fixed-point conversions and
clamping, particularly between pips, basis points, and SDK decimal math.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"

	"github.com/kinetic-fi/rhm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// PipsToDec converts a pips fee (1e6 = 100%) to a decimal fraction.
func PipsToDec(pips uint64) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDec(int64(pips)).QuoInt64(int64(types.MaxFeePips))
}

// BpsToDec converts basis points (1e4 = 100%) to a decimal fraction.
func BpsToDec(bps uint64) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDec(int64(bps)).QuoInt64(int64(types.MaxBps))
}

// ClampFee bounds a fee to [minFee, maxFee].
func ClampFee(fee, minFee, maxFee uint64) uint64 {
	if fee < minFee {
		return minFee
	}
	if fee > maxFee {
		return maxFee
	}
	return fee
}

// SkimBps computes amount * bps / 10_000, truncating toward zero. The truncated
// dust stays with the principal, never the fee taker.
func SkimBps(amount sdkmath.Int, bps uint64) (sdkmath.Int, error) {
	if amount.IsNil() {
		return sdkmath.Int{}, ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.Int{}, ErrAmountNegative
	}
	if bps > types.MaxBps {
		return sdkmath.Int{}, fmt.Errorf("%w: %d bps exceeds %d", ErrInvalidPrecision, bps, types.MaxBps)
	}
	return amount.MulRaw(int64(bps)).QuoRaw(int64(types.MaxBps)), nil
}

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling.
// Display/observability use only; never feed the result back into economic math.
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > 18 {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	decAmount := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(10).Power(uint64(precision))

	result := decAmount.Quo(factor)
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}

// DecToFloat64 converts a LegacyDec to float64 for display purposes.
func DecToFloat64(d sdkmath.LegacyDec) (float64, error) {
	if d.IsNil() {
		return 0, ErrAmountNil
	}
	f, err := d.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, f)
	}
	return f, nil
}

// RelativeDeviationBps returns |current - expected| / expected expressed in
// basis points. Used by the slippage guards.
func RelativeDeviationBps(current, expected sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if current.IsNil() || expected.IsNil() {
		return sdkmath.LegacyDec{}, ErrAmountNil
	}
	if !expected.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: expected price must be positive", ErrConversionFailed)
	}
	dev := current.Sub(expected).Abs().Quo(expected)
	return dev.MulInt64(int64(types.MaxBps)), nil
}

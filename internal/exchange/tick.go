package exchange

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Tick bounds match the usual concentrated-liquidity convention of price
// spanning roughly [2^-128, 2^128] in steps of 0.01%.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var (
	ErrTickOutOfRange  = errors.New("tick out of range")
	ErrPriceOutOfRange = errors.New("price out of range")

	// tickBase is 1.0001: one tick is one hundredth of a basis point of price.
	tickBase = sdkmath.LegacyNewDecWithPrec(10001, 4)
)

// TickToPrice returns 1.0001^tick as a 1e18-scaled decimal.
func TickToPrice(tick int32) (sdkmath.LegacyDec, error) {
	if tick < MinTick || tick > MaxTick {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}
	if tick >= 0 {
		return tickBase.Power(uint64(tick)), nil
	}
	return sdkmath.LegacyOneDec().Quo(tickBase.Power(uint64(-tick))), nil
}

// PriceToTick returns the largest tick whose price does not exceed the given
// price. Implemented as a binary search over TickToPrice; exactness at tick
// boundaries matters more here than speed.
func PriceToTick(price sdkmath.LegacyDec) (int32, error) {
	if price.IsNil() || !price.IsPositive() {
		return 0, fmt.Errorf("%w: price must be positive", ErrPriceOutOfRange)
	}
	lo, hi := MinTick, MaxTick
	loPrice, err := TickToPrice(lo)
	if err != nil {
		return 0, err
	}
	if price.LT(loPrice) {
		return 0, fmt.Errorf("%w: %s below minimum tick price", ErrPriceOutOfRange, price)
	}
	for lo < hi {
		mid := int32((int64(lo) + int64(hi) + 1) / 2)
		midPrice, err := TickToPrice(mid)
		if err != nil {
			return 0, err
		}
		if midPrice.LTE(price) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

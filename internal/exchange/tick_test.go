package exchange

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestTickToPrice_ZeroTickIsUnitPrice(t *testing.T) {
	price, err := TickToPrice(0)
	require.NoError(t, err)
	require.True(t, price.Equal(sdkmath.LegacyOneDec()))
}

func TestTickToPrice_NegativeTickIsReciprocal(t *testing.T) {
	up, err := TickToPrice(1_000)
	require.NoError(t, err)
	down, err := TickToPrice(-1_000)
	require.NoError(t, err)

	product := up.Mul(down)
	deviation := product.Sub(sdkmath.LegacyOneDec()).Abs()
	require.True(t, deviation.LT(sdkmath.LegacyNewDecWithPrec(1, 12)),
		"1.0001^1000 * 1.0001^-1000 = %s", product)
}

func TestTickToPrice_RejectsOutOfRange(t *testing.T) {
	_, err := TickToPrice(MaxTick + 1)
	require.ErrorIs(t, err, ErrTickOutOfRange)
	_, err = TickToPrice(MinTick - 1)
	require.ErrorIs(t, err, ErrTickOutOfRange)
}

func TestPriceToTick_RoundTripsExactTickPrices(t *testing.T) {
	for _, tick := range []int32{-100_000, -6_932, -1, 0, 1, 6_931, 100_000} {
		price, err := TickToPrice(tick)
		require.NoError(t, err)
		back, err := PriceToTick(price)
		require.NoError(t, err)
		require.Equal(t, tick, back, "tick %d price %s", tick, price)
	}
}

func TestPriceToTick_FloorsBetweenTicks(t *testing.T) {
	price, err := TickToPrice(500)
	require.NoError(t, err)
	// Nudge just under the next tick's price.
	nudged := price.Add(sdkmath.LegacyNewDecWithPrec(1, 6))

	tick, err := PriceToTick(nudged)
	require.NoError(t, err)
	require.Equal(t, int32(500), tick)
}

func TestPriceToTick_RejectsNonPositivePrice(t *testing.T) {
	_, err := PriceToTick(sdkmath.LegacyZeroDec())
	require.ErrorIs(t, err, ErrPriceOutOfRange)
	_, err = PriceToTick(sdkmath.LegacyNewDec(-1))
	require.ErrorIs(t, err, ErrPriceOutOfRange)
}

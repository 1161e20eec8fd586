package jit

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/kinetic-fi/rhm/internal/exchange"
	"github.com/kinetic-fi/rhm/internal/rehypo"
	"github.com/kinetic-fi/rhm/internal/types"
	"github.com/kinetic-fi/rhm/internal/vaultwrap"
)

const (
	testPool      = types.PoolID(3)
	ledgerAccount = "rhm/pool/3/liquidity"
	wrapOwner     = "rhm/pool/3/owner"
)

var testRange = types.JITRange{TickLower: -1_000, TickUpper: 1_000}

func newTestVenue(t *testing.T) *exchange.InMemoryExchange {
	t.Helper()
	venue := exchange.NewInMemoryExchange()
	require.NoError(t, venue.CreatePool(testPool,
		sdkmath.NewInt(1_000_000_000), sdkmath.NewInt(1_000_000_000), 3_000))
	return venue
}

func attachWrapper(t *testing.T, l *rehypo.Ledger, slot types.CurrencySlot, id string) {
	t.Helper()
	w, err := vaultwrap.NewWrapper(id, vaultwrap.NewSimulatedYieldVault(id), wrapOwner, "treasury", 1_000)
	require.NoError(t, err)
	require.NoError(t, w.AddAuthorizedCaller(wrapOwner, ledgerAccount))
	require.NoError(t, l.AttachWrapper(slot, w))
}

// newFundedManager builds a venue, a ledger with both sides rehypothecated,
// and a manager over them.
func newFundedManager(t *testing.T) (*Manager, *exchange.InMemoryExchange, *rehypo.Ledger) {
	t.Helper()
	venue := newTestVenue(t)
	l := rehypo.NewLedger(testPool, ledgerAccount, venue)
	attachWrapper(t, l, types.Currency0, "sim/w0")
	attachWrapper(t, l, types.Currency1, "sim/w1")
	_, _, err := l.AddLiquidity("provider", sdkmath.NewInt(10_000_000), sdkmath.LegacyZeroDec(), 0)
	require.NoError(t, err)
	return NewManager(testPool, venue, l, testRange), venue, l
}

func swapRequest(amountIn int64) exchange.SwapRequest {
	return exchange.SwapRequest{
		ZeroForOne:   true,
		AmountIn:     sdkmath.NewInt(amountIn),
		MinAmountOut: sdkmath.ZeroInt(),
	}
}

func TestWrapSwap_PausedSkipsInjection(t *testing.T) {
	m, venue, _ := newFundedManager(t)

	res, injected, err := m.WrapSwap(swapRequest(1_000_000), true)
	require.NoError(t, err)
	require.False(t, injected)
	require.True(t, res.AmountOut.IsPositive())

	outstanding, err := venue.HasJITPosition(testPool)
	require.NoError(t, err)
	require.False(t, outstanding)
}

func TestWrapSwap_OneSidedLedgerSkipsInjection(t *testing.T) {
	venue := newTestVenue(t)
	l := rehypo.NewLedger(testPool, ledgerAccount, venue)
	attachWrapper(t, l, types.Currency1, "sim/w1")
	_, _, err := l.AddLiquidity("provider", sdkmath.NewInt(10_000_000), sdkmath.LegacyZeroDec(), 0)
	require.NoError(t, err)
	m := NewManager(testPool, venue, l, testRange)

	_, injected, err := m.WrapSwap(swapRequest(1_000_000), false)
	require.NoError(t, err)
	require.False(t, injected)
}

func TestWrapSwap_TickOutsideRangeSkipsInjection(t *testing.T) {
	venue := newTestVenue(t)
	l := rehypo.NewLedger(testPool, ledgerAccount, venue)
	attachWrapper(t, l, types.Currency0, "sim/w0")
	attachWrapper(t, l, types.Currency1, "sim/w1")
	_, _, err := l.AddLiquidity("provider", sdkmath.NewInt(10_000_000), sdkmath.LegacyZeroDec(), 0)
	require.NoError(t, err)

	// Pool sits at tick 0; a range strictly above it never activates.
	m := NewManager(testPool, venue, l, types.JITRange{TickLower: 500, TickUpper: 1_500})

	_, injected, err := m.WrapSwap(swapRequest(1_000_000), false)
	require.NoError(t, err)
	require.False(t, injected)
}

func TestWrapSwap_EmptyVaultsSkipInjection(t *testing.T) {
	venue := newTestVenue(t)
	l := rehypo.NewLedger(testPool, ledgerAccount, venue)
	attachWrapper(t, l, types.Currency0, "sim/w0")
	attachWrapper(t, l, types.Currency1, "sim/w1")
	m := NewManager(testPool, venue, l, testRange)

	_, injected, err := m.WrapSwap(swapRequest(1_000_000), false)
	require.NoError(t, err)
	require.False(t, injected)
}

func TestWrapSwap_SkippedInjectionMatchesPlainSwap(t *testing.T) {
	m, _, _ := newFundedManager(t)
	plainVenue := newTestVenue(t)

	wrapped, injected, err := m.WrapSwap(swapRequest(1_000_000), true)
	require.NoError(t, err)
	require.False(t, injected)

	plain, err := plainVenue.ExecuteSwap(testPool, swapRequest(1_000_000))
	require.NoError(t, err)
	require.Equal(t, plain.AmountOut, wrapped.AmountOut)
	require.Equal(t, plain.FeePaid, wrapped.FeePaid)
}

func TestWrapSwap_InjectsAndReconciles(t *testing.T) {
	m, venue, l := newFundedManager(t)

	before0, err := l.AvailableAssets(types.Currency0)
	require.NoError(t, err)

	res, injected, err := m.WrapSwap(swapRequest(5_000_000), false)
	require.NoError(t, err)
	require.True(t, injected)
	require.True(t, res.AmountOut.IsPositive())

	// The position must be fully unwound inside the call.
	outstanding, err := venue.HasJITPosition(testPool)
	require.NoError(t, err)
	require.False(t, outstanding)

	// A zero-for-one swap pays currency 0 into in-range liquidity, so the
	// vault side holding currency 0 grows by principal plus its fee share.
	after0, err := l.AvailableAssets(types.Currency0)
	require.NoError(t, err)
	require.True(t, after0.GT(before0))

	after1, err := l.AvailableAssets(types.Currency1)
	require.NoError(t, err)
	require.True(t, after1.IsPositive())
}

func TestWrapSwap_InjectionDeepensExecution(t *testing.T) {
	m, _, _ := newFundedManager(t)
	plainVenue := newTestVenue(t)

	wrapped, injected, err := m.WrapSwap(swapRequest(5_000_000), false)
	require.NoError(t, err)
	require.True(t, injected)

	plain, err := plainVenue.ExecuteSwap(testPool, swapRequest(5_000_000))
	require.NoError(t, err)

	// Extra in-range liquidity means less price impact for the same input.
	require.True(t, wrapped.AmountOut.GTE(plain.AmountOut))
	require.True(t, wrapped.NewPrice.GTE(plain.NewPrice))
}

func TestWrapSwap_RepeatedCyclesStayClean(t *testing.T) {
	m, venue, l := newFundedManager(t)

	for i := 0; i < 5; i++ {
		req := swapRequest(1_000_000)
		req.ZeroForOne = i%2 == 0
		_, _, err := m.WrapSwap(req, false)
		require.NoError(t, err)

		outstanding, err := venue.HasJITPosition(testPool)
		require.NoError(t, err)
		require.False(t, outstanding)

		for _, slot := range []types.CurrencySlot{types.Currency0, types.Currency1} {
			available, err := l.AvailableAssets(slot)
			require.NoError(t, err)
			require.True(t, available.IsPositive())
		}
	}
}

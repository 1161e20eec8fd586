package vaultwrap

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/kinetic-fi/rhm/internal/types"
)

const (
	testOwner    = "owner"
	testTreasury = "treasury"
	testDep      = "depositor"
)

func newTestWrapper(t *testing.T, feeRateBps uint64) (*Wrapper, *SimulatedYieldVault) {
	t.Helper()
	source := NewSimulatedYieldVault("sim/test")
	w, err := NewWrapper("sim/test", source, testOwner, testTreasury, feeRateBps)
	require.NoError(t, err)
	require.NoError(t, w.AddAuthorizedCaller(testOwner, testDep))
	return w, source
}

func requireSolvent(t *testing.T, w *Wrapper, source *SimulatedYieldVault) {
	t.Helper()
	external, err := source.ExternalBalance()
	require.NoError(t, err)
	state := w.State()
	require.True(t, state.TotalAssets.Add(state.ClaimableFees).Equal(external),
		"totalAssets %s + claimableFees %s != external %s",
		state.TotalAssets, state.ClaimableFees, external)
}

func TestNewWrapper_RequiresEmptySource(t *testing.T) {
	source := NewSimulatedYieldVault("sim/dirty")
	require.NoError(t, source.AccrueYield(sdkmath.NewInt(100)))

	_, err := NewWrapper("sim/dirty", source, testOwner, testTreasury, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewWrapper_RejectsBadFeeRate(t *testing.T) {
	source := NewSimulatedYieldVault("sim/test")
	_, err := NewWrapper("sim/test", source, testOwner, testTreasury, types.MaxBps+1)
	require.ErrorIs(t, err, ErrInvalidFeeRate)
}

func TestDeposit_FirstDepositMintsOneToOne(t *testing.T) {
	w, source := newTestWrapper(t, 1_000)

	minted, err := w.Deposit(testDep, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), minted)
	require.Equal(t, sdkmath.NewInt(1_000_000), w.SharesOf(testDep))
	requireSolvent(t, w, source)
}

func TestDeposit_RejectsUnauthorizedCaller(t *testing.T) {
	w, _ := newTestWrapper(t, 0)

	_, err := w.Deposit("stranger", sdkmath.NewInt(100))
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestDeposit_RejectsZeroAmount(t *testing.T) {
	w, _ := newTestWrapper(t, 0)

	_, err := w.Deposit(testDep, sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrZeroAmount)
}

func TestWithdraw_RoundTripWithZeroYield(t *testing.T) {
	w, source := newTestWrapper(t, 1_000)

	_, err := w.Deposit(testDep, sdkmath.NewInt(500_000))
	require.NoError(t, err)

	burned, err := w.Withdraw(testDep, sdkmath.NewInt(500_000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(500_000), burned)
	require.True(t, w.SharesOf(testDep).IsZero())
	requireSolvent(t, w, source)
}

func TestAccrue_PositiveYieldSplitsSkim(t *testing.T) {
	w, source := newTestWrapper(t, 1_000) // 10% skim

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, source.AccrueYield(sdkmath.NewInt(100_000)))

	// Any mutating call realizes the pending yield.
	_, err = w.Deposit(testDep, sdkmath.NewInt(10))
	require.NoError(t, err)

	state := w.State()
	require.Equal(t, sdkmath.NewInt(10_000), state.ClaimableFees)
	require.Equal(t, sdkmath.NewInt(1_090_010), state.TotalAssets)
	requireSolvent(t, w, source)
}

func TestAccrue_HundredPercentFeeRoutesAllYieldToFees(t *testing.T) {
	w, source := newTestWrapper(t, types.MaxBps)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, source.AccrueYield(sdkmath.NewInt(77_777)))
	_, err = w.Deposit(testDep, sdkmath.NewInt(1))
	require.NoError(t, err)

	state := w.State()
	require.Equal(t, sdkmath.NewInt(77_777), state.ClaimableFees)
	require.Equal(t, sdkmath.NewInt(1_000_001), state.TotalAssets,
		"principal must not grow when the entire yield is skimmed")
	requireSolvent(t, w, source)
}

func TestAccrue_SlashingTakesNoFee(t *testing.T) {
	w, source := newTestWrapper(t, 1_000)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, source.Slash(sdkmath.NewInt(200_000)))
	_, err = w.Deposit(testDep, sdkmath.NewInt(1))
	require.NoError(t, err)

	state := w.State()
	require.True(t, state.ClaimableFees.IsZero(), "no fee on losses")
	require.Equal(t, sdkmath.NewInt(800_001), state.TotalAssets)
	requireSolvent(t, w, source)
}

func TestAccrue_NinetyFivePercentSlashThenDeposit(t *testing.T) {
	w, source := newTestWrapper(t, 1_000)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, source.Slash(sdkmath.NewInt(950_000)))

	minted, err := w.Deposit(testDep, sdkmath.NewInt(100))
	require.NoError(t, err)
	// Exchange rate after the slash: 1_000_000 shares over 50_000 assets,
	// so 100 assets mint 2000 shares.
	require.Equal(t, sdkmath.NewInt(2_000), minted)
	requireSolvent(t, w, source)
}

func TestAccrue_SlashBeyondAssetsDrawsFromFees(t *testing.T) {
	w, source := newTestWrapper(t, types.MaxBps)

	_, err := w.Deposit(testDep, sdkmath.NewInt(100_000))
	require.NoError(t, err)
	require.NoError(t, source.AccrueYield(sdkmath.NewInt(50_000)))

	// Realize the fee first.
	_, err = w.Deposit(testDep, sdkmath.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(50_000), w.State().ClaimableFees)

	// Slash everything except 10_000: loss of 140_001 against 100_001 assets
	// draws 40_000 out of claimable fees.
	require.NoError(t, source.Slash(sdkmath.NewInt(140_001)))
	_, err = w.Redeem(testDep, sdkmath.NewInt(1))
	require.NoError(t, err)

	state := w.State()
	require.True(t, state.TotalAssets.IsZero())
	require.Equal(t, sdkmath.NewInt(10_000), state.ClaimableFees)
	requireSolvent(t, w, source)
}

func TestDeposit_TotalSlashMakesVaultUnpriceable(t *testing.T) {
	w, source := newTestWrapper(t, 0)

	_, err := w.Deposit(testDep, sdkmath.NewInt(100_000))
	require.NoError(t, err)
	require.NoError(t, source.Slash(sdkmath.NewInt(100_000)))

	_, err = w.Deposit(testDep, sdkmath.NewInt(500))
	require.ErrorIs(t, err, ErrUnpriceable)
}

func TestWithdraw_ShareCostRoundsUp(t *testing.T) {
	w, source := newTestWrapper(t, 0)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	require.NoError(t, source.AccrueYield(sdkmath.NewInt(500)))

	// Rate is now 1500 assets per 1000 shares. Withdrawing 100 assets costs
	// ceil(100 * 1000 / 1500) = 67 shares, not 66.
	burned, err := w.Withdraw(testDep, sdkmath.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(67), burned)
	requireSolvent(t, w, source)
}

func TestRedeem_PayoutRoundsDown(t *testing.T) {
	w, source := newTestWrapper(t, 0)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	require.NoError(t, source.AccrueYield(sdkmath.NewInt(500)))

	// 67 shares at 1500/1000 are worth 100.5 assets; payout truncates to 100.
	assets, err := w.Redeem(testDep, sdkmath.NewInt(67))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(100), assets)
	requireSolvent(t, w, source)
}

func TestRedeem_RejectsMoreThanHeld(t *testing.T) {
	w, _ := newTestWrapper(t, 0)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000))
	require.NoError(t, err)

	_, err = w.Redeem(testDep, sdkmath.NewInt(1_001))
	require.ErrorIs(t, err, ErrNoShares)
}

func TestCollectFees_OwnerOnly(t *testing.T) {
	w, source := newTestWrapper(t, 1_000)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.NoError(t, source.AccrueYield(sdkmath.NewInt(100_000)))

	_, err = w.CollectFees(testDep)
	require.ErrorIs(t, err, ErrNotOwner)

	collected, err := w.CollectFees(testOwner)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000), collected)
	require.True(t, w.State().ClaimableFees.IsZero())
	requireSolvent(t, w, source)

	// A second collection with nothing pending is an explicit error.
	_, err = w.CollectFees(testOwner)
	require.ErrorIs(t, err, ErrNothingToSkim)
}

func TestSetFee_AccruesAtOldRateFirst(t *testing.T) {
	w, source := newTestWrapper(t, 1_000)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.NoError(t, source.AccrueYield(sdkmath.NewInt(100_000)))

	// Raising the rate to 50% must not retroactively apply to pending yield.
	require.NoError(t, w.SetFee(testOwner, 5_000))
	require.Equal(t, sdkmath.NewInt(10_000), w.State().ClaimableFees)

	require.NoError(t, source.AccrueYield(sdkmath.NewInt(100_000)))
	_, err = w.Deposit(testDep, sdkmath.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(60_000), w.State().ClaimableFees)
	requireSolvent(t, w, source)
}

func TestGetClaimableFees_IncludesPendingYield(t *testing.T) {
	w, source := newTestWrapper(t, 1_000)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.NoError(t, source.AccrueYield(sdkmath.NewInt(100_000)))

	claimable, err := w.GetClaimableFees()
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000), claimable)

	// The view must not have realized anything.
	require.True(t, w.State().ClaimableFees.IsZero())
}

func TestGetClaimableFees_ReflectsPendingDeepSlash(t *testing.T) {
	w, source := newTestWrapper(t, types.MaxBps)

	_, err := w.Deposit(testDep, sdkmath.NewInt(100_000))
	require.NoError(t, err)
	require.NoError(t, source.AccrueYield(sdkmath.NewInt(50_000)))
	_, err = w.Deposit(testDep, sdkmath.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(50_000), w.State().ClaimableFees)

	// Pending loss of 140_001 against 100_001 assets draws 40_000 from the
	// realized fees. The view must already show the post-drawdown figure.
	require.NoError(t, source.Slash(sdkmath.NewInt(140_001)))

	claimable, err := w.GetClaimableFees()
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000), claimable)
	require.Equal(t, sdkmath.NewInt(50_000), w.State().ClaimableFees,
		"view must not realize the drawdown")

	// The next mutating call realizes exactly what the view reported.
	_, err = w.Redeem(testDep, sdkmath.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000), w.State().ClaimableFees)
	requireSolvent(t, w, source)
}

func TestTotalAssets_ReflectsPendingDrift(t *testing.T) {
	w, source := newTestWrapper(t, 1_000)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, source.AccrueYield(sdkmath.NewInt(100_000)))
	assets, err := w.TotalAssets()
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_090_000), assets)

	require.NoError(t, source.Slash(sdkmath.NewInt(300_000)))
	assets, err = w.TotalAssets()
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(800_000), assets)
}

func TestSolvency_HoldsAcrossRepeatedDriftAndFlows(t *testing.T) {
	w, source := newTestWrapper(t, 2_500)

	_, err := w.Deposit(testDep, sdkmath.NewInt(10_000_000))
	require.NoError(t, err)

	steps := []struct {
		yield int64
		slash int64
	}{
		{yield: 130_000}, {slash: 400_000}, {yield: 77}, {slash: 1},
		{yield: 999_999}, {slash: 2_500_000}, {yield: 3},
	}
	for _, step := range steps {
		if step.yield > 0 {
			require.NoError(t, source.AccrueYield(sdkmath.NewInt(step.yield)))
		}
		if step.slash > 0 {
			require.NoError(t, source.Slash(sdkmath.NewInt(step.slash)))
		}
		_, err := w.Deposit(testDep, sdkmath.NewInt(10))
		require.NoError(t, err)
		requireSolvent(t, w, source)

		_, err = w.Withdraw(testDep, sdkmath.NewInt(5))
		require.NoError(t, err)
		requireSolvent(t, w, source)
	}
}

func TestSnapshotRestore_RewindsAllState(t *testing.T) {
	w, source := newTestWrapper(t, 1_000)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	snap := w.Snapshot()
	external := source.Snapshot()

	require.NoError(t, source.AccrueYield(sdkmath.NewInt(100_000)))
	_, err = w.Deposit(testDep, sdkmath.NewInt(50_000))
	require.NoError(t, err)

	w.Restore(snap)
	source.Restore(external)

	state := w.State()
	require.Equal(t, sdkmath.NewInt(1_000_000), state.TotalAssets)
	require.True(t, state.ClaimableFees.IsZero())
	require.Equal(t, sdkmath.NewInt(1_000_000), w.SharesOf(testDep))
	requireSolvent(t, w, source)
}

func TestRemoveAuthorizedCaller_SharesRemainRedeemable(t *testing.T) {
	w, _ := newTestWrapper(t, 0)

	_, err := w.Deposit(testDep, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	require.NoError(t, w.RemoveAuthorizedCaller(testOwner, testDep))

	// New deposits are rejected, existing shares are not trapped.
	_, err = w.Deposit(testDep, sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrNotAuthorized)

	assets, err := w.Redeem(testDep, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000), assets)
}

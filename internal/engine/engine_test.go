package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/kinetic-fi/rhm/internal/exchange"
	"github.com/kinetic-fi/rhm/internal/types"
	"github.com/kinetic-fi/rhm/internal/vaultwrap"
)

const (
	testPool = types.PoolID(9)
	operator = "ops"
	provider = "lp-1"
	stranger = "stranger"
)

var allOps = []Operation{
	OpInitializePool, OpPoke, OpSetYieldSource, OpPause,
	OpCollectFees, OpSetVaultFee, OpProvideLiquidity,
}

func testParams() types.PoolParams {
	return types.PoolParams{
		MinFee:          100,
		MaxFee:          100_000,
		BaseMaxFeeDelta: 2_500,
		LookbackPeriod:  24,
		MinPeriod:       time.Hour,
		RatioTolerance:  sdkmath.LegacyNewDecWithPrec(5, 2),
		LinearSlope:     sdkmath.LegacyNewDec(50_000),
		MaxCurrentRatio: sdkmath.LegacyNewDec(10),
		UpperSideFactor: sdkmath.LegacyOneDec(),
		LowerSideFactor: sdkmath.LegacyOneDec(),
	}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type testHarness struct {
	engine *Engine
	venue  *exchange.InMemoryExchange
	vaults map[string]*vaultwrap.SimulatedYieldVault
	clock  *fakeClock
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	venue := exchange.NewInMemoryExchange()
	require.NoError(t, venue.CreatePool(testPool,
		sdkmath.NewInt(1_000_000_000), sdkmath.NewInt(1_000_000_000), 0))

	vaults := map[string]*vaultwrap.SimulatedYieldVault{
		"sim/a": vaultwrap.NewSimulatedYieldVault("sim/a"),
		"sim/b": vaultwrap.NewSimulatedYieldVault("sim/b"),
	}
	factory := func(vaultID string) (vaultwrap.YieldVault, error) {
		v, ok := vaults[vaultID]
		if !ok {
			return nil, fmt.Errorf("no backend for %s", vaultID)
		}
		return v, nil
	}

	auth := NewStaticAuthorizer().
		Grant(operator, allOps...).
		Grant(provider, OpProvideLiquidity)

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	eng, err := New(Config{
		Venue:        venue,
		Authorizer:   auth,
		VaultFactory: factory,
		Treasury:     "treasury",
		VaultFeeBps:  1_000,
		Clock:        func() time.Time { return clock.now },
	})
	require.NoError(t, err)
	return &testHarness{engine: eng, venue: venue, vaults: vaults, clock: clock}
}

func (h *testHarness) initPool(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.InitializePool(operator, testPool,
		3_000, sdkmath.LegacyOneDec(), testParams(), -1_000, 1_000))
}

func (h *testHarness) fund(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.SetYieldSource(operator, testPool, types.Currency0, "sim/a"))
	require.NoError(t, h.engine.SetYieldSource(operator, testPool, types.Currency1, "sim/b"))
	_, _, err := h.engine.AddReHypothecatedLiquidity(provider, testPool,
		sdkmath.NewInt(10_000_000), sdkmath.LegacyZeroDec(), 0)
	require.NoError(t, err)
}

func swapIn(amount int64) exchange.SwapRequest {
	return exchange.SwapRequest{
		ZeroForOne: true, AmountIn: sdkmath.NewInt(amount), MinAmountOut: sdkmath.ZeroInt(),
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	venue := exchange.NewInMemoryExchange()
	auth := NewStaticAuthorizer()
	factory := func(string) (vaultwrap.YieldVault, error) { return nil, nil }

	_, err := New(Config{Authorizer: auth, VaultFactory: factory, Treasury: "t"})
	require.ErrorIs(t, err, ErrVenueRequired)
	_, err = New(Config{Venue: venue, VaultFactory: factory, Treasury: "t"})
	require.ErrorIs(t, err, ErrAuthorizerRequired)
	_, err = New(Config{Venue: venue, Authorizer: auth, Treasury: "t"})
	require.ErrorIs(t, err, ErrFactoryRequired)
	_, err = New(Config{Venue: venue, Authorizer: auth, VaultFactory: factory})
	require.Error(t, err)
	_, err = New(Config{Venue: venue, Authorizer: auth, VaultFactory: factory,
		Treasury: "t", VaultFeeBps: types.MaxBps + 1})
	require.ErrorIs(t, err, types.ErrInvalidParams)
}

func TestInitializePool_SecondCallRejected(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)

	err := h.engine.InitializePool(operator, testPool,
		3_000, sdkmath.LegacyOneDec(), testParams(), -1_000, 1_000)
	require.ErrorIs(t, err, types.ErrAlreadyInitialized)
}

func TestInitializePool_RequiresAuthorization(t *testing.T) {
	h := newHarness(t)
	err := h.engine.InitializePool(stranger, testPool,
		3_000, sdkmath.LegacyOneDec(), testParams(), -1_000, 1_000)
	require.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestInitializePool_ValidatesJITRange(t *testing.T) {
	h := newHarness(t)

	// Pool sits at tick 0; a range that does not straddle it is rejected.
	err := h.engine.InitializePool(operator, testPool,
		3_000, sdkmath.LegacyOneDec(), testParams(), 500, 1_500)
	require.ErrorIs(t, err, types.ErrInvalidParams)

	// Badly lopsided around the initial tick.
	err = h.engine.InitializePool(operator, testPool,
		3_000, sdkmath.LegacyOneDec(), testParams(), -100, 1_000)
	require.ErrorIs(t, err, types.ErrInvalidParams)
}

func TestInitializePool_InitialFeeMustBeInBounds(t *testing.T) {
	h := newHarness(t)
	err := h.engine.InitializePool(operator, testPool,
		50, sdkmath.LegacyOneDec(), testParams(), -1_000, 1_000)
	require.ErrorIs(t, err, types.ErrInvalidParams)
}

func TestInitializePool_PropagatesFeeToVenue(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)

	res, _, err := h.engine.Swap(testPool, swapIn(1_000_000))
	require.NoError(t, err)
	// 3000 pips of 1_000_000 input.
	require.Equal(t, sdkmath.NewInt(3_000), res.FeePaid)
}

func TestPoke_CommitsFeeAndTarget(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.clock.advance(time.Hour)

	update, err := h.engine.Poke(operator, testPool, sdkmath.LegacyMustNewDecFromStr("1.2"))
	require.NoError(t, err)
	// 20% deviation at slope 50000 wants 10000 pips, clamped to 2500.
	require.Equal(t, uint64(5_500), update.NewFee)

	state, err := h.engine.FeeState(testPool)
	require.NoError(t, err)
	require.Equal(t, uint64(5_500), state.CurrentFee)
	require.True(t, state.TargetRatio.GT(sdkmath.LegacyOneDec()))
	require.Equal(t, h.clock.now, state.LastUpdateTimestamp)

	// The committed fee governs the next swap.
	res, _, err := h.engine.Swap(testPool, swapIn(1_000_000))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(5_500), res.FeePaid)
}

func TestPoke_CooldownRejectedWithoutStateChange(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.clock.advance(time.Hour)

	_, err := h.engine.Poke(operator, testPool, sdkmath.LegacyMustNewDecFromStr("1.2"))
	require.NoError(t, err)
	before, err := h.engine.FeeState(testPool)
	require.NoError(t, err)

	h.clock.advance(30 * time.Minute)
	_, err = h.engine.Poke(operator, testPool, sdkmath.LegacyMustNewDecFromStr("1.5"))
	require.ErrorIs(t, err, types.ErrCooldownNotMet)

	after, err := h.engine.FeeState(testPool)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestPoke_RejectedWhilePaused(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	require.NoError(t, h.engine.Pause(operator))
	h.clock.advance(time.Hour)

	_, err := h.engine.Poke(operator, testPool, sdkmath.LegacyMustNewDecFromStr("1.2"))
	require.ErrorIs(t, err, types.ErrPaused)
}

func TestPoke_RequiresAuthorization(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.clock.advance(time.Hour)

	_, err := h.engine.Poke(stranger, testPool, sdkmath.LegacyMustNewDecFromStr("1.2"))
	require.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestComputeFeeUpdate_DoesNotMutate(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.clock.advance(time.Hour)
	before, err := h.engine.FeeState(testPool)
	require.NoError(t, err)

	update, err := h.engine.ComputeFeeUpdate(testPool, sdkmath.LegacyMustNewDecFromStr("1.2"))
	require.NoError(t, err)
	require.True(t, update.WouldUpdate)
	require.Equal(t, uint64(5_500), update.NewFee)

	after, err := h.engine.FeeState(testPool)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestSetYieldSource_UnknownVaultRejected(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)

	err := h.engine.SetYieldSource(operator, testPool, types.Currency0, "sim/nonexistent")
	require.ErrorIs(t, err, ErrUnknownVault)
}

func TestSetYieldSource_DetachRequiresEmptyVault(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.fund(t)

	err := h.engine.SetYieldSource(operator, testPool, types.Currency0, "")
	require.ErrorIs(t, err, types.ErrVaultNotEmpty)

	_, _, err = h.engine.RemoveReHypothecatedLiquidity(provider, testPool,
		sdkmath.NewInt(10_000_000), sdkmath.LegacyZeroDec(), 0)
	require.NoError(t, err)

	require.NoError(t, h.engine.SetYieldSource(operator, testPool, types.Currency0, ""))
	status, err := h.engine.PoolStatus(testPool)
	require.NoError(t, err)
	_, configured := status.YieldSources[types.Currency0]
	require.False(t, configured)
}

func TestAddLiquidity_MintsSharesAndReportsVaults(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.fund(t)

	shares, err := h.engine.ProviderShares(testPool, provider)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(10_000_000), shares)

	statuses, err := h.engine.VaultStatuses(testPool)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, vs := range statuses {
		require.Equal(t, sdkmath.NewInt(5_000_000), vs.State.TotalAssets)
		require.True(t, vs.ClaimableView.IsZero())
	}
}

func TestAddLiquidity_RequiresAuthorization(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)

	_, _, err := h.engine.AddReHypothecatedLiquidity(stranger, testPool,
		sdkmath.NewInt(1_000), sdkmath.LegacyZeroDec(), 0)
	require.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestAddLiquidity_RejectedWhilePaused(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	require.NoError(t, h.engine.Pause(operator))

	_, _, err := h.engine.AddReHypothecatedLiquidity(provider, testPool,
		sdkmath.NewInt(1_000), sdkmath.LegacyZeroDec(), 0)
	require.ErrorIs(t, err, types.ErrPaused)
}

func TestSwap_InjectsJITWhenFunded(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.fund(t)

	res, injected, err := h.engine.Swap(testPool, swapIn(5_000_000))
	require.NoError(t, err)
	require.True(t, injected)
	require.True(t, res.AmountOut.IsPositive())

	outstanding, err := h.venue.HasJITPosition(testPool)
	require.NoError(t, err)
	require.False(t, outstanding)
}

func TestSwap_PausedExecutesWithoutJIT(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.fund(t)
	require.NoError(t, h.engine.Pause(operator))

	res, injected, err := h.engine.Swap(testPool, swapIn(5_000_000))
	require.NoError(t, err)
	require.False(t, injected)
	require.True(t, res.AmountOut.IsPositive())
}

func TestSwap_FailureRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.fund(t)

	statusesBefore, err := h.engine.VaultStatuses(testPool)
	require.NoError(t, err)
	rest0Before, rest1Before, err := h.venue.RestingReserves(testPool)
	require.NoError(t, err)

	// The output bound fails the swap after JIT injection has already begun.
	_, _, err = h.engine.Swap(testPool, exchange.SwapRequest{
		ZeroForOne:   true,
		AmountIn:     sdkmath.NewInt(5_000_000),
		MinAmountOut: sdkmath.NewInt(100_000_000),
	})
	require.ErrorIs(t, err, exchange.ErrOutputBound)

	outstanding, err := h.venue.HasJITPosition(testPool)
	require.NoError(t, err)
	require.False(t, outstanding)

	statusesAfter, err := h.engine.VaultStatuses(testPool)
	require.NoError(t, err)
	require.Equal(t, statusesBefore, statusesAfter)

	rest0After, rest1After, err := h.venue.RestingReserves(testPool)
	require.NoError(t, err)
	require.Equal(t, rest0Before, rest0After)
	require.Equal(t, rest1Before, rest1After)

	in0, _, err := h.venue.FlowVolumes(testPool)
	require.NoError(t, err)
	require.True(t, in0.IsZero())
}

// reentrantVenue calls back into the engine from inside a swap, standing in
// for a venue hook trying to re-enter the mutating surface.
type reentrantVenue struct {
	SnapshottingExchange
	engine *Engine
	err    error
}

func (v *reentrantVenue) ExecuteSwap(id types.PoolID, req exchange.SwapRequest) (exchange.SwapResult, error) {
	_, _, v.err = v.engine.Swap(id, req)
	return v.SnapshottingExchange.ExecuteSwap(id, req)
}

func TestSwap_ReentrantCallRejected(t *testing.T) {
	inner := exchange.NewInMemoryExchange()
	require.NoError(t, inner.CreatePool(testPool,
		sdkmath.NewInt(1_000_000_000), sdkmath.NewInt(1_000_000_000), 0))
	venue := &reentrantVenue{SnapshottingExchange: inner}

	auth := NewStaticAuthorizer().Grant(operator, allOps...)
	eng, err := New(Config{
		Venue:      venue,
		Authorizer: auth,
		VaultFactory: func(string) (vaultwrap.YieldVault, error) {
			return vaultwrap.NewSimulatedYieldVault("sim"), nil
		},
		Treasury: "treasury",
	})
	require.NoError(t, err)
	venue.engine = eng
	require.NoError(t, eng.InitializePool(operator, testPool,
		3_000, sdkmath.LegacyOneDec(), testParams(), -1_000, 1_000))

	_, _, err = eng.Swap(testPool, swapIn(1_000_000))
	require.NoError(t, err)
	require.ErrorIs(t, venue.err, types.ErrReentrantCall)
}

func TestCollectVaultFees_SweepsAccruedYieldSkim(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.fund(t)

	require.NoError(t, h.vaults["sim/a"].AccrueYield(sdkmath.NewInt(1_000_000)))

	collected, err := h.engine.CollectVaultFees(operator, testPool, types.Currency0)
	require.NoError(t, err)
	// 1000 bps skim of 1_000_000 yield.
	require.Equal(t, sdkmath.NewInt(100_000), collected)

	_, err = h.engine.CollectVaultFees(operator, testPool, types.Currency0)
	require.Error(t, err, "nothing left to sweep")
}

func TestCollectVaultFees_UnconfiguredSlotRejected(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)

	_, err := h.engine.CollectVaultFees(operator, testPool, types.Currency0)
	require.ErrorIs(t, err, types.ErrNotConfigured)
}

func TestSetVaultFee_ChangesSkimRate(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.fund(t)

	require.NoError(t, h.engine.SetVaultFee(operator, testPool, types.Currency0, 5_000))
	statuses, err := h.engine.VaultStatuses(testPool)
	require.NoError(t, err)
	require.Equal(t, uint64(5_000), statuses[0].State.FeeRateBps)

	require.Error(t, h.engine.SetVaultFee(operator, testPool, types.Currency0, types.MaxBps+1))
}

func TestPauseUnpause_GatesMutatingCalls(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	require.ErrorIs(t, h.engine.Pause(stranger), types.ErrUnauthorized)

	require.NoError(t, h.engine.Pause(operator))
	require.True(t, h.engine.Paused())
	require.ErrorIs(t, h.engine.SetYieldSource(operator, testPool, types.Currency0, "sim/a"), types.ErrPaused)

	require.NoError(t, h.engine.Unpause(operator))
	require.False(t, h.engine.Paused())
	require.NoError(t, h.engine.SetYieldSource(operator, testPool, types.Currency0, "sim/a"))
}

func TestPoolStatus_ReportsConfiguredState(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.fund(t)

	status, err := h.engine.PoolStatus(testPool)
	require.NoError(t, err)
	require.Equal(t, testPool, status.PoolID)
	require.Equal(t, uint64(3_000), status.FeeState.CurrentFee)
	require.Equal(t, types.JITRange{TickLower: -1_000, TickUpper: 1_000}, status.JITRange)
	require.Equal(t, "sim/a", status.YieldSources[types.Currency0])
	require.Equal(t, "sim/b", status.YieldSources[types.Currency1])
	require.Equal(t, sdkmath.NewInt(10_000_000), status.TotalShares)

	require.Equal(t, []types.PoolID{testPool}, h.engine.PoolIDs())
}

// Views run from the web server goroutine while the operator loop swaps and
// pokes. They must serialize against mutating calls: an observation taken
// mid-operation would show a wrapper whose books do not balance.
func TestViews_ConsistentDuringConcurrentSwaps(t *testing.T) {
	h := newHarness(t)
	h.initPool(t)
	h.fund(t)

	done := make(chan struct{})
	viewErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fail := func(err error) {
			select {
			case viewErr <- err:
			default:
			}
		}
		for {
			select {
			case <-done:
				return
			default:
			}
			statuses, err := h.engine.VaultStatuses(testPool)
			if err != nil {
				fail(err)
				return
			}
			for _, vs := range statuses {
				backed := vs.State.TotalAssets.Add(vs.State.ClaimableFees)
				if !backed.Equal(vs.State.LastObservedExternalBalance) {
					fail(fmt.Errorf("slot %d: totalAssets %s + claimableFees %s != observed %s",
						vs.Slot, vs.State.TotalAssets, vs.State.ClaimableFees,
						vs.State.LastObservedExternalBalance))
					return
				}
			}
			state, err := h.engine.FeeState(testPool)
			if err != nil {
				fail(err)
				return
			}
			if state.CurrentFee == 0 {
				fail(fmt.Errorf("observed zero fee"))
				return
			}
			if _, err := h.engine.PoolStatus(testPool); err != nil {
				fail(err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		req := exchange.SwapRequest{
			ZeroForOne:   i%2 == 0,
			AmountIn:     sdkmath.NewInt(1_000_000),
			MinAmountOut: sdkmath.ZeroInt(),
		}
		_, _, err := h.engine.Swap(testPool, req)
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	select {
	case err := <-viewErr:
		require.NoError(t, err)
	default:
	}
}

func TestPoolOperations_UnknownPoolRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.FeeState(testPool)
	require.ErrorIs(t, err, types.ErrPoolNotFound)
	_, _, err = h.engine.Swap(testPool, swapIn(1))
	require.ErrorIs(t, err, types.ErrPoolNotFound)
	_, err = h.engine.ProviderShares(testPool, provider)
	require.ErrorIs(t, err, types.ErrPoolNotFound)
}

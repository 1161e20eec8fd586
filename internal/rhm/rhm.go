package rhm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kinetic-fi/rhm/internal/engine"
	"github.com/kinetic-fi/rhm/internal/exchange"
	"github.com/kinetic-fi/rhm/internal/logger"
	"github.com/kinetic-fi/rhm/internal/metrics"
	"github.com/kinetic-fi/rhm/internal/oracle"
	"github.com/kinetic-fi/rhm/internal/state"
	"github.com/kinetic-fi/rhm/internal/types"
	"github.com/kinetic-fi/rhm/internal/utils"
	"github.com/kinetic-fi/rhm/internal/vaultwrap"
)

// OperatorAccount is the identity the daemon uses against the engine's
// authorizer.
const OperatorAccount = "rhm/daemon"

// RHM is the rehypothecation manager daemon. Each cycle it drives simulated
// flow and yield through the engine, observes the resulting flow ratio, and
// pokes the fee controller when the cooldown allows.
type RHM struct {
	// Core dependencies
	logger zerolog.Logger
	engine *engine.Engine
	venue  *exchange.InMemoryExchange
	oracle *oracle.RatioOracle

	// Simulated environment
	simVaults map[types.CurrencySlot]*vaultwrap.SimulatedYieldVault
	rng       *rand.Rand

	// Configuration
	poolID      types.PoolID
	simYieldBps uint64
	simSlashBps uint64

	// Runtime state
	cycleCount int
}

// Config holds the configuration for creating a new RHM instance
type Config struct {
	Engine      *engine.Engine
	Venue       *exchange.InMemoryExchange
	Oracle      *oracle.RatioOracle
	SimVaults   map[types.CurrencySlot]*vaultwrap.SimulatedYieldVault
	PoolID      types.PoolID
	SimYieldBps uint64
	SimSlashBps uint64
	// Seed makes the simulated flow reproducible; zero seeds from the clock.
	Seed int64
}

// NewRHM creates a new RHM instance with dependency injection
func NewRHM(cfg Config) (*RHM, error) {
	if err := validateRHMConfig(cfg); err != nil {
		return nil, fmt.Errorf("RHM configuration validation failed: %w", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	r := &RHM{
		logger:      logger.GetForComponent("rhm_core"),
		engine:      cfg.Engine,
		venue:       cfg.Venue,
		oracle:      cfg.Oracle,
		simVaults:   cfg.SimVaults,
		rng:         rand.New(rand.NewSource(seed)),
		poolID:      cfg.PoolID,
		simYieldBps: cfg.SimYieldBps,
		simSlashBps: cfg.SimSlashBps,
		cycleCount:  0,
	}

	r.logger.Info().
		Uint64("pool_id", uint64(r.poolID)).
		Msg("RHM instance created successfully with dependency injection")

	return r, nil
}

// validateRHMConfig validates the RHM configuration
func validateRHMConfig(cfg Config) error {
	if cfg.Engine == nil {
		return fmt.Errorf("engine cannot be nil")
	}
	if cfg.Venue == nil {
		return fmt.Errorf("venue cannot be nil")
	}
	if cfg.Oracle == nil {
		return fmt.Errorf("oracle cannot be nil")
	}
	if cfg.SimYieldBps > types.MaxBps {
		return fmt.Errorf("sim yield bps out of range: %d", cfg.SimYieldBps)
	}
	if cfg.SimSlashBps > types.MaxBps {
		return fmt.Errorf("sim slash bps out of range: %d", cfg.SimSlashBps)
	}
	return nil
}

// RunLoop starts the main RHM loop with the specified interval
func (r *RHM) RunLoop(ctx context.Context, interval time.Duration) {
	r.logger.Info().
		Dur("interval", interval).
		Msg("Starting RHM main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	r.cycleCount++
	r.logger.Info().Int("cycle", r.cycleCount).Msg("Initiating RHM cycle")
	r.RunCycle(ctx)
	r.logger.Info().Int("cycle", r.cycleCount).Msg("RHM cycle completed")

	// Continue with ticker
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("RHM loop stopped due to context cancellation")
			return
		case <-ticker.C:
			r.cycleCount++
			r.logger.Info().Int("cycle", r.cycleCount).Msg("Initiating RHM cycle")
			r.RunCycle(ctx)
			r.logger.Info().Int("cycle", r.cycleCount).Msg("RHM cycle completed")
		}
	}
}

// RunCycle executes one complete control cycle: simulated flow, yield drift,
// ratio observation, fee poke and persistence.
func (r *RHM) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()
	em := metrics.Get()

	// Generate unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := r.logger.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Msg("--- Starting RHM Cycle ---")

	cycleNumber := r.getCycleNumber()
	poolLabel := fmt.Sprintf("%d", uint64(r.poolID))

	// --- Step 1: Simulated Trading Flow ---
	cycleLogger.Info().Msg("Step 1: Driving simulated trading flow...")
	swaps := r.driveSimulatedFlow(cycleLogger)
	cycleLogger.Info().Int("swaps", swaps).Msg("Step 1: Simulated flow complete.")

	// --- Step 2: Yield Drift ---
	cycleLogger.Info().Msg("Step 2: Applying simulated yield drift...")
	r.applyYieldDrift(cycleLogger, poolLabel)

	// --- Step 3: Ratio Observation ---
	cycleLogger.Info().Msg("Step 3: Observing flow ratio...")
	ratio, ok, err := r.oracle.Observe()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: Failed to observe flow ratio.")
		return
	}
	if !ok {
		cycleLogger.Info().Msg("No trades in observation window. Skipping poke.")
		em.PokesSkipped.WithLabelValues(poolLabel, "no_signal").Inc()
		r.persistVaultSnapshots(cycleLogger, cycleNumber)
		r.logEndOfCycleState(cycleStartTime, cycleLogger, em)
		return
	}
	cycleLogger.Info().Str("ratio", ratio.String()).Msg("Step 3: Flow ratio observed.")

	// --- Step 4: Fee Poke ---
	cycleLogger.Info().Msg("Step 4: Poking fee controller...")
	r.pokeController(cycleLogger, cycleNumber, poolLabel, ratio, em)

	// --- Step 5: Persistence ---
	cycleLogger.Info().Msg("Step 5: Persisting vault snapshots...")
	r.persistVaultSnapshots(cycleLogger, cycleNumber)

	r.logEndOfCycleState(cycleStartTime, cycleLogger, em)
	cycleLogger.Info().Msg("--- RHM Cycle Completed Successfully ---")
}

// driveSimulatedFlow executes a handful of randomly sized swaps against the
// managed pool and returns how many succeeded.
func (r *RHM) driveSimulatedFlow(cycleLogger zerolog.Logger) int {
	em := metrics.Get()
	poolLabel := fmt.Sprintf("%d", uint64(r.poolID))

	reserve0, reserve1, err := r.venue.RestingReserves(r.poolID)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to read pool reserves for simulated flow")
		return 0
	}

	swapCount := 1 + r.rng.Intn(5)
	executed := 0
	for i := 0; i < swapCount; i++ {
		zeroForOne := r.rng.Intn(2) == 0

		// Swap between 0.1% and 1% of the relevant reserve.
		basisPoints := int64(10 + r.rng.Intn(91))
		var amountIn sdkmath.Int
		if zeroForOne {
			amountIn = reserve0.MulRaw(basisPoints).QuoRaw(10_000)
		} else {
			amountIn = reserve1.MulRaw(basisPoints).QuoRaw(10_000)
		}
		if !amountIn.IsPositive() {
			continue
		}

		result, injected, err := r.engine.Swap(r.poolID, exchange.SwapRequest{
			ZeroForOne:   zeroForOne,
			AmountIn:     amountIn,
			MinAmountOut: sdkmath.ZeroInt(),
		})
		if err != nil {
			cycleLogger.Warn().Err(err).Bool("zero_for_one", zeroForOne).Msg("Simulated swap failed")
			continue
		}
		executed++

		em.SwapsTotal.WithLabelValues(poolLabel).Inc()
		side := "one_for_zero"
		if zeroForOne {
			side = "zero_for_one"
		}
		if v, err := utils.SDKIntToFloat64(result.AmountIn, 0); err == nil {
			em.SwapVolumeIn.WithLabelValues(poolLabel, side).Add(v)
		}
		if injected {
			em.JITInjections.WithLabelValues(poolLabel).Inc()
		} else {
			em.JITSkips.WithLabelValues(poolLabel).Inc()
		}

		cycleLogger.Debug().
			Bool("zero_for_one", zeroForOne).
			Str("amount_in", result.AmountIn.String()).
			Str("amount_out", result.AmountOut.String()).
			Bool("jit_injected", injected).
			Msg("Simulated swap executed")
	}
	return executed
}

// applyYieldDrift applies the configured per-cycle yield to each simulated
// vault, with an occasional slash in place of yield.
func (r *RHM) applyYieldDrift(cycleLogger zerolog.Logger, poolLabel string) {
	em := metrics.Get()

	for slot, vault := range r.simVaults {
		balance, err := vault.ExternalBalance()
		if err != nil {
			cycleLogger.Error().Err(err).Uint8("slot", uint8(slot)).Msg("Failed to read simulated vault balance")
			continue
		}
		if !balance.IsPositive() {
			continue
		}
		slotLabel := fmt.Sprintf("%d", uint8(slot))

		// Roughly one cycle in twenty slashes instead of yielding.
		if r.simSlashBps > 0 && r.rng.Intn(20) == 0 {
			slash := balance.MulRaw(int64(r.simSlashBps)).QuoRaw(int64(types.MaxBps))
			if slash.IsPositive() {
				if err := vault.Slash(slash); err != nil {
					cycleLogger.Error().Err(err).Uint8("slot", uint8(slot)).Msg("Simulated slash failed")
					continue
				}
				em.VaultSlashes.WithLabelValues(poolLabel, slotLabel).Inc()
				cycleLogger.Warn().
					Uint8("slot", uint8(slot)).
					Str("amount", slash.String()).
					Msg("Simulated vault slashed")
			}
			continue
		}

		if r.simYieldBps == 0 {
			continue
		}
		yield := balance.MulRaw(int64(r.simYieldBps)).QuoRaw(int64(types.MaxBps))
		if !yield.IsPositive() {
			continue
		}
		if err := vault.AccrueYield(yield); err != nil {
			cycleLogger.Error().Err(err).Uint8("slot", uint8(slot)).Msg("Simulated yield accrual failed")
			continue
		}
		cycleLogger.Debug().
			Uint8("slot", uint8(slot)).
			Str("amount", yield.String()).
			Msg("Simulated yield accrued")
	}
}

// pokeController pokes the fee controller with the observed ratio and records
// the outcome, applied or skipped.
func (r *RHM) pokeController(cycleLogger zerolog.Logger, cycleNumber int, poolLabel string, ratio sdkmath.LegacyDec, em *metrics.EngineMetrics) {
	before, err := r.engine.FeeState(r.poolID)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to read fee state before poke")
		return
	}

	record := types.FeeUpdateRecord{
		PoolID:         r.poolID,
		Timestamp:      time.Now(),
		CurrentRatio:   ratio,
		OldFee:         before.CurrentFee,
		OldTargetRatio: before.TargetRatio,
		CycleNumber:    cycleNumber,
	}

	update, err := r.engine.Poke(OperatorAccount, r.poolID, ratio)
	switch {
	case err == nil:
		record.Applied = true
		record.NewFee = update.NewFee
		record.NewTargetRatio = update.NewTargetRatio

		em.PokesApplied.WithLabelValues(poolLabel).Inc()
		em.CurrentFee.WithLabelValues(poolLabel).Set(float64(update.NewFee))
		if v, ferr := utils.DecToFloat64(update.NewTargetRatio); ferr == nil {
			em.TargetRatio.WithLabelValues(poolLabel).Set(v)
		}

		cycleLogger.Info().
			Uint64("old_fee", before.CurrentFee).
			Uint64("new_fee", update.NewFee).
			Str("new_target_ratio", update.NewTargetRatio.String()).
			Msg("Step 4: Fee poke applied.")

	case errors.Is(err, types.ErrCooldownNotMet):
		record.Applied = false
		record.SkipReason = "cooldown"
		record.NewFee = before.CurrentFee
		record.NewTargetRatio = before.TargetRatio
		em.PokesSkipped.WithLabelValues(poolLabel, "cooldown").Inc()
		cycleLogger.Info().Msg("Step 4: Poke skipped by cooldown gate.")

	default:
		cycleLogger.Error().Err(err).Msg("Step 4: Fee poke failed.")
		return
	}

	if _, err := state.SaveFeeUpdate(record); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist fee update record")
	}
}

// persistVaultSnapshots writes one end-of-cycle row per configured wrapper.
func (r *RHM) persistVaultSnapshots(cycleLogger zerolog.Logger, cycleNumber int) {
	em := metrics.Get()
	poolLabel := fmt.Sprintf("%d", uint64(r.poolID))

	statuses, err := r.engine.VaultStatuses(r.poolID)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to read vault statuses")
		return
	}

	for _, status := range statuses {
		slotLabel := fmt.Sprintf("%d", uint8(status.Slot))

		externalBalance := status.State.TotalAssets.Add(status.State.ClaimableFees)
		if vault, ok := r.simVaults[status.Slot]; ok {
			if balance, err := vault.ExternalBalance(); err == nil {
				externalBalance = balance
			}
		}

		snapshot := types.VaultSnapshot{
			PoolID:          status.PoolID,
			Slot:            status.Slot,
			VaultID:         status.VaultID,
			Timestamp:       time.Now(),
			TotalAssets:     status.State.TotalAssets,
			ClaimableFees:   status.ClaimableView,
			TotalShares:     status.State.TotalShares,
			ExternalBalance: externalBalance,
			FeeRateBps:      status.State.FeeRateBps,
			CycleNumber:     cycleNumber,
		}
		if _, err := state.SaveVaultSnapshot(snapshot); err != nil {
			cycleLogger.Error().Err(err).Str("vault_id", status.VaultID).Msg("Failed to persist vault snapshot")
			continue
		}

		if v, err := utils.SDKIntToFloat64(status.State.TotalAssets, 0); err == nil {
			em.VaultTotalAssets.WithLabelValues(poolLabel, slotLabel).Set(v)
		}
		if v, err := utils.SDKIntToFloat64(status.ClaimableView, 0); err == nil {
			em.VaultClaimableFees.WithLabelValues(poolLabel, slotLabel).Set(v)
		}
	}
}

// getCycleNumber increments and returns the persistent cycle counter from database
func (r *RHM) getCycleNumber() int {
	cycleNumber, err := state.IncrementCycleNumber()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to increment cycle number, using fallback")
		// Fallback to a simple counter if database fails
		return int(time.Now().Unix() % 1000000)
	}
	return cycleNumber
}

// logEndOfCycleState logs the final state of the pool for the cycle
func (r *RHM) logEndOfCycleState(cycleStartTime time.Time, cycleLogger zerolog.Logger, em *metrics.EngineMetrics) {
	feeState, err := r.engine.FeeState(r.poolID)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to get final fee state for logging.")
	} else {
		cycleLogger.Info().
			Uint64("current_fee", feeState.CurrentFee).
			Str("target_ratio", feeState.TargetRatio.String()).
			Time("last_update", feeState.LastUpdateTimestamp).
			Msg("End of Cycle State")
	}

	cycleDuration := time.Since(cycleStartTime)
	em.CycleDuration.Observe(cycleDuration.Seconds())
	cycleLogger.Info().Str("cycleDuration", cycleDuration.String()).Msg("RHM Cycle Duration")
}

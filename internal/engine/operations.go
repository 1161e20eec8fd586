package engine

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/kinetic-fi/rhm/internal/exchange"
	"github.com/kinetic-fi/rhm/internal/feecontroller"
	"github.com/kinetic-fi/rhm/internal/rehypo"
	"github.com/kinetic-fi/rhm/internal/types"
	"github.com/kinetic-fi/rhm/internal/vaultwrap"
)

// poolCheckpoint captures everything a pool operation may mutate, so a failed
// call can be rolled back wholesale.
type poolCheckpoint struct {
	venue    exchange.PoolSnapshot
	ledger   rehypo.Snapshot
	wrappers map[types.CurrencySlot]vaultwrap.WrapperSnapshot
	sources  map[types.CurrencySlot]sdkmath.Int
	feeState types.FeeState
}

func (e *Engine) checkpoint(id types.PoolID, p *poolRuntime) (poolCheckpoint, error) {
	venueSnap, err := e.venue.Snapshot(id)
	if err != nil {
		return poolCheckpoint{}, fmt.Errorf("venue snapshot failed: %w", err)
	}
	cp := poolCheckpoint{
		venue:    venueSnap,
		ledger:   p.ledger.Snapshot(),
		wrappers: make(map[types.CurrencySlot]vaultwrap.WrapperSnapshot),
		sources:  make(map[types.CurrencySlot]sdkmath.Int),
		feeState: p.feeState,
	}
	for _, slot := range []types.CurrencySlot{types.Currency0, types.Currency1} {
		if w, ok := p.ledger.Wrapper(slot); ok {
			cp.wrappers[slot] = w.Snapshot()
		}
		if src, ok := p.sources[slot]; ok {
			if snap, ok := src.(SnapshottingYieldVault); ok {
				cp.sources[slot] = snap.Snapshot()
			}
		}
	}
	return cp, nil
}

func (e *Engine) rollback(id types.PoolID, p *poolRuntime, cp poolCheckpoint) {
	if err := e.venue.Restore(id, cp.venue); err != nil {
		e.log.Error().Err(err).Uint64("pool_id", uint64(id)).Msg("Venue rollback failed")
	}
	p.ledger.Restore(cp.ledger)
	for slot, snap := range cp.wrappers {
		if w, ok := p.ledger.Wrapper(slot); ok {
			w.Restore(snap)
		}
	}
	for slot, bal := range cp.sources {
		if src, ok := p.sources[slot]; ok {
			if snap, ok := src.(SnapshottingYieldVault); ok {
				snap.Restore(bal)
			}
		}
	}
	p.feeState = cp.feeState
}

// ComputeFeeUpdate previews one controller step for a pool without touching
// state. Open to any caller.
func (e *Engine) ComputeFeeUpdate(id types.PoolID, currentRatio sdkmath.LegacyDec) (feecontroller.Update, error) {
	p, release, err := e.viewPool(id)
	if err != nil {
		return feecontroller.Update{}, err
	}
	params, state := p.params, p.feeState
	release()
	return feecontroller.ComputeFeeUpdate(params, state, currentRatio, e.now())
}

// Poke commits one controller step: recomputes the fee from the observed
// ratio, writes the fee state and propagates the new fee to the venue. The
// new fee applies to the next swap, never retroactively. Rejected while the
// cooldown has not elapsed, leaving state untouched.
func (e *Engine) Poke(caller string, id types.PoolID, currentRatio sdkmath.LegacyDec) (feecontroller.Update, error) {
	if err := e.authorize(caller, OpPoke); err != nil {
		return feecontroller.Update{}, err
	}
	p, unlock, err := e.lockPool(id)
	if err != nil {
		return feecontroller.Update{}, err
	}
	defer unlock()
	if err := e.rejectWhilePaused(); err != nil {
		return feecontroller.Update{}, err
	}

	now := e.now()
	update, err := feecontroller.ComputeFeeUpdate(p.params, p.feeState, currentRatio, now)
	if err != nil {
		return feecontroller.Update{}, err
	}
	if !update.WouldUpdate {
		return feecontroller.Update{}, fmt.Errorf("%w: %s remaining",
			types.ErrCooldownNotMet, feecontroller.CooldownRemaining(p.params, p.feeState, now))
	}

	// Propagate first; only a successful venue write commits the state.
	if err := e.venue.SetFee(id, update.NewFee); err != nil {
		return feecontroller.Update{}, fmt.Errorf("fee propagation failed: %w", err)
	}
	old := p.feeState
	p.feeState = types.FeeState{
		CurrentFee:          update.NewFee,
		TargetRatio:         update.NewTargetRatio,
		LastUpdateTimestamp: now,
	}
	e.log.Info().
		Uint64("pool_id", uint64(id)).
		Str("ratio", currentRatio.String()).
		Uint64("old_fee", old.CurrentFee).
		Uint64("new_fee", update.NewFee).
		Str("new_target", update.NewTargetRatio.String()).
		Msg("Fee poked")
	return update, nil
}

// Swap executes one swap, wrapped with JIT liquidity when the pool qualifies.
// The whole call is atomic: any failure after injection begins restores venue,
// ledger, wrappers and yield sources alike.
func (e *Engine) Swap(id types.PoolID, req exchange.SwapRequest) (exchange.SwapResult, bool, error) {
	p, unlock, err := e.lockPool(id)
	if err != nil {
		return exchange.SwapResult{}, false, err
	}
	defer unlock()

	cp, err := e.checkpoint(id, p)
	if err != nil {
		return exchange.SwapResult{}, false, err
	}
	res, injected, err := p.jitMgr.WrapSwap(req, e.paused.Load())
	if err != nil {
		e.rollback(id, p, cp)
		return exchange.SwapResult{}, false, err
	}
	return res, injected, nil
}

// PreviewAddReHypothecatedLiquidity returns the amounts currently required to
// mint poolShares.
func (e *Engine) PreviewAddReHypothecatedLiquidity(id types.PoolID, poolShares sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	p, release, err := e.viewPool(id)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	defer release()
	return p.ledger.PreviewAddLiquidity(poolShares)
}

// PreviewRemoveReHypothecatedLiquidity returns the amounts poolShares would
// currently redeem for.
func (e *Engine) PreviewRemoveReHypothecatedLiquidity(id types.PoolID, poolShares sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	p, release, err := e.viewPool(id)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	defer release()
	return p.ledger.PreviewRemoveLiquidity(poolShares)
}

// AddReHypothecatedLiquidity mints poolShares to the caller against the
// previewed token amounts, rehypothecating each configured side.
func (e *Engine) AddReHypothecatedLiquidity(caller string, id types.PoolID, poolShares sdkmath.Int, expectedPrice sdkmath.LegacyDec, maxSlippageBps uint64) (sdkmath.Int, sdkmath.Int, error) {
	if err := e.authorize(caller, OpProvideLiquidity); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	p, unlock, err := e.lockPool(id)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	defer unlock()
	if err := e.rejectWhilePaused(); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	cp, err := e.checkpoint(id, p)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	amount0, amount1, err := p.ledger.AddLiquidity(caller, poolShares, expectedPrice, maxSlippageBps)
	if err != nil {
		e.rollback(id, p, cp)
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return amount0, amount1, nil
}

// RemoveReHypothecatedLiquidity burns the caller's poolShares and pays out the
// proportional side balances.
func (e *Engine) RemoveReHypothecatedLiquidity(caller string, id types.PoolID, poolShares sdkmath.Int, expectedPrice sdkmath.LegacyDec, maxSlippageBps uint64) (sdkmath.Int, sdkmath.Int, error) {
	if err := e.authorize(caller, OpProvideLiquidity); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	p, unlock, err := e.lockPool(id)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	defer unlock()
	if err := e.rejectWhilePaused(); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	cp, err := e.checkpoint(id, p)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	amount0, amount1, err := p.ledger.RemoveLiquidity(caller, poolShares, expectedPrice, maxSlippageBps)
	if err != nil {
		e.rollback(id, p, cp)
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return amount0, amount1, nil
}

// CollectVaultFees sweeps a wrapper's claimable fees to the treasury.
func (e *Engine) CollectVaultFees(caller string, id types.PoolID, slot types.CurrencySlot) (sdkmath.Int, error) {
	if err := e.authorize(caller, OpCollectFees); err != nil {
		return sdkmath.Int{}, err
	}
	p, unlock, err := e.lockPool(id)
	if err != nil {
		return sdkmath.Int{}, err
	}
	defer unlock()
	if err := e.rejectWhilePaused(); err != nil {
		return sdkmath.Int{}, err
	}
	w, ok := p.ledger.Wrapper(slot)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: slot %d has no yield source", types.ErrNotConfigured, slot)
	}
	cp, err := e.checkpoint(id, p)
	if err != nil {
		return sdkmath.Int{}, err
	}
	collected, err := w.CollectFees(ownerAccount(id))
	if err != nil {
		e.rollback(id, p, cp)
		return sdkmath.Int{}, err
	}
	return collected, nil
}

// SetVaultFee changes a wrapper's skim rate, accruing at the old rate first.
func (e *Engine) SetVaultFee(caller string, id types.PoolID, slot types.CurrencySlot, newRateBps uint64) error {
	if err := e.authorize(caller, OpSetVaultFee); err != nil {
		return err
	}
	p, unlock, err := e.lockPool(id)
	if err != nil {
		return err
	}
	defer unlock()
	if err := e.rejectWhilePaused(); err != nil {
		return err
	}
	w, ok := p.ledger.Wrapper(slot)
	if !ok {
		return fmt.Errorf("%w: slot %d has no yield source", types.ErrNotConfigured, slot)
	}
	cp, err := e.checkpoint(id, p)
	if err != nil {
		return err
	}
	if err := w.SetFee(ownerAccount(id), newRateBps); err != nil {
		e.rollback(id, p, cp)
		return err
	}
	return nil
}

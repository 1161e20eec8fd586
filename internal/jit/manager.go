/*

This file contains the just-in-time liquidity manager. Around every swap it
runs an atomic withdraw-inject-swap-remove-reconcile sequence: vault-held
assets are pulled out, placed as a temporary position across the pool's fixed
JIT range, and returned with earned trading fees immediately
after the swap. No intermediate state survives the call.

When any entry precondition fails the swap simply proceeds against resting
liquidity; that is the rehypothecation-disabled branch, not an error. Once
injection has started, any failure aborts the entire swap: a partial JIT
position must never be left outstanding, which the enclosing engine enforces
by rolling the whole call back.

*/

package jit

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kinetic-fi/rhm/internal/exchange"
	"github.com/kinetic-fi/rhm/internal/logger"
	"github.com/kinetic-fi/rhm/internal/rehypo"
	"github.com/kinetic-fi/rhm/internal/types"
)

// Manager wraps swaps on one pool with JIT liquidity sourced from the pool's
// rehypothecation ledger.
type Manager struct {
	poolID types.PoolID
	venue  exchange.Exchange
	ledger *rehypo.Ledger
	rng    types.JITRange

	log zerolog.Logger
}

func NewManager(poolID types.PoolID, venue exchange.Exchange, ledger *rehypo.Ledger, rng types.JITRange) *Manager {
	return &Manager{
		poolID: poolID,
		venue:  venue,
		ledger: ledger,
		rng:    rng,
		log: logger.GetForComponent("jit_manager").
			With().Uint64("pool_id", uint64(poolID)).Logger(),
	}
}

// Range returns the fixed JIT tick range.
func (m *Manager) Range() types.JITRange { return m.rng }

// shouldInject evaluates the entry preconditions. A false result is the
// no-injection branch, never an error; an error here means the venue itself
// could not be read.
func (m *Manager) shouldInject(paused bool) (bool, error) {
	if paused {
		return false, nil
	}
	if !m.ledger.BothSidesConfigured() {
		return false, nil
	}
	tick, err := m.venue.CurrentTick(m.poolID)
	if err != nil {
		return false, err
	}
	if !m.rng.Contains(tick) {
		return false, nil
	}
	avail0, err := m.ledger.AvailableAssets(types.Currency0)
	if err != nil {
		return false, err
	}
	avail1, err := m.ledger.AvailableAssets(types.Currency1)
	if err != nil {
		return false, err
	}
	return avail0.IsPositive() && avail1.IsPositive(), nil
}

// WrapSwap executes one swap, injecting JIT liquidity around it when the
// preconditions hold. It returns the swap result and whether an injection was
// performed. Any error after injection begins must abort the enclosing call.
func (m *Manager) WrapSwap(req exchange.SwapRequest, paused bool) (exchange.SwapResult, bool, error) {
	inject, err := m.shouldInject(paused)
	if err != nil {
		return exchange.SwapResult{}, false, err
	}

	if !inject {
		res, err := m.venue.ExecuteSwap(m.poolID, req)
		if err != nil {
			return exchange.SwapResult{}, false, err
		}
		return res, false, nil
	}

	avail0, err := m.ledger.AvailableAssets(types.Currency0)
	if err != nil {
		return exchange.SwapResult{}, false, err
	}
	avail1, err := m.ledger.AvailableAssets(types.Currency1)
	if err != nil {
		return exchange.SwapResult{}, false, err
	}

	// The venue sizes the position from what the vaults can offer; only the
	// amounts it actually uses leave the wrappers.
	used0, used1, err := m.venue.AddJITLiquidity(m.poolID, m.rng, avail0, avail1)
	if err != nil {
		return exchange.SwapResult{}, false, fmt.Errorf("JIT injection failed: %w", err)
	}
	if err := m.ledger.WithdrawForJIT(types.Currency0, used0); err != nil {
		return exchange.SwapResult{}, false, err
	}
	if err := m.ledger.WithdrawForJIT(types.Currency1, used1); err != nil {
		return exchange.SwapResult{}, false, err
	}

	res, err := m.venue.ExecuteSwap(m.poolID, req)
	if err != nil {
		return exchange.SwapResult{}, false, err
	}

	receipt, err := m.venue.RemoveJITLiquidity(m.poolID)
	if err != nil {
		return exchange.SwapResult{}, false, fmt.Errorf("JIT removal failed: %w", err)
	}

	// Redeposit principal plus earned fees. Amounts are already integral, so
	// nothing here can overstate what the vault received.
	proceeds0 := receipt.Amount0.Add(receipt.Fees0)
	proceeds1 := receipt.Amount1.Add(receipt.Fees1)
	if proceeds0.IsPositive() {
		if err := m.ledger.DepositFromJIT(types.Currency0, proceeds0); err != nil {
			return exchange.SwapResult{}, false, err
		}
	}
	if proceeds1.IsPositive() {
		if err := m.ledger.DepositFromJIT(types.Currency1, proceeds1); err != nil {
			return exchange.SwapResult{}, false, err
		}
	}

	outstanding, err := m.venue.HasJITPosition(m.poolID)
	if err != nil {
		return exchange.SwapResult{}, false, err
	}
	if outstanding {
		return exchange.SwapResult{}, false, fmt.Errorf("%w: JIT position left outstanding after swap",
			types.ErrInsolvency)
	}

	m.log.Debug().
		Str("used0", used0.String()).
		Str("used1", used1.String()).
		Str("fees0", receipt.Fees0.String()).
		Str("fees1", receipt.Fees1.String()).
		Msg("JIT cycle completed")
	return res, true, nil
}

/*

This file contains the rehypothecation ledger: the bookkeeping layer that
converts between pool-LP shares and vault wrapper positions for one pool.

One pool share is defined at bootstrap as one unit of quote (currency 1) value,
split evenly across both sides at the then-current price; afterwards shares are
strictly proportional claims on the pool's side balances. A currency slot with
no configured yield source is held as idle ledger balance instead of being
deposited; that side simply earns nothing. A pool with no yield source on
either side has rehypothecation disabled outright and rejects adds and removes.

Because external yield accrues between an off-chain preview and execution,
callers may request slightly fewer shares than previewed as a safety margin;
the ledger itself makes no such allowance.

*/

package rehypo

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/kinetic-fi/rhm/internal/exchange"
	"github.com/kinetic-fi/rhm/internal/logger"
	"github.com/kinetic-fi/rhm/internal/types"
	"github.com/kinetic-fi/rhm/internal/utils"
	"github.com/kinetic-fi/rhm/internal/vaultwrap"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoProviderShares = errors.New("provider holds insufficient pool shares")
	ErrInvalidShares    = errors.New("share amount is invalid")
)

// Ledger tracks one pool's rehypothecated liquidity.
type Ledger struct {
	poolID  types.PoolID
	account string // Depositor identity used against the wrappers.
	venue   exchange.Exchange

	wrappers map[types.CurrencySlot]*vaultwrap.Wrapper
	idle     map[types.CurrencySlot]sdkmath.Int

	totalShares sdkmath.Int
	shares      map[string]sdkmath.Int

	log zerolog.Logger
}

// Snapshot is a deep copy of the ledger's mutable state, excluding the
// wrappers, which snapshot themselves.
type Snapshot struct {
	Idle        map[types.CurrencySlot]sdkmath.Int
	TotalShares sdkmath.Int
	Shares      map[string]sdkmath.Int
}

func NewLedger(poolID types.PoolID, account string, venue exchange.Exchange) *Ledger {
	return &Ledger{
		poolID:   poolID,
		account:  account,
		venue:    venue,
		wrappers: make(map[types.CurrencySlot]*vaultwrap.Wrapper),
		idle: map[types.CurrencySlot]sdkmath.Int{
			types.Currency0: sdkmath.ZeroInt(),
			types.Currency1: sdkmath.ZeroInt(),
		},
		totalShares: sdkmath.ZeroInt(),
		shares:      make(map[string]sdkmath.Int),
		log: logger.GetForComponent("rehypo_ledger").
			With().Uint64("pool_id", uint64(poolID)).Logger(),
	}
}

// Account returns the depositor identity this ledger uses against wrappers.
func (l *Ledger) Account() string { return l.account }

// AttachWrapper binds a yield source wrapper to a currency slot. Rebinding a
// configured slot is a migration and is only allowed once the old wrapper
// holds nothing for this pool.
func (l *Ledger) AttachWrapper(slot types.CurrencySlot, w *vaultwrap.Wrapper) error {
	if existing, ok := l.wrappers[slot]; ok {
		held := existing.SharesOf(l.account)
		if held.IsPositive() {
			return fmt.Errorf("%w: slot %d still holds %s wrapper shares",
				types.ErrVaultNotEmpty, slot, held)
		}
	}
	l.wrappers[slot] = w
	return nil
}

// DetachWrapper unbinds a slot's yield source. Like migration, it requires
// all funds withdrawn from the old wrapper first.
func (l *Ledger) DetachWrapper(slot types.CurrencySlot) error {
	existing, ok := l.wrappers[slot]
	if !ok {
		return nil
	}
	held := existing.SharesOf(l.account)
	if held.IsPositive() {
		return fmt.Errorf("%w: slot %d still holds %s wrapper shares",
			types.ErrVaultNotEmpty, slot, held)
	}
	delete(l.wrappers, slot)
	return nil
}

// Wrapper returns the wrapper bound to a slot, if any.
func (l *Ledger) Wrapper(slot types.CurrencySlot) (*vaultwrap.Wrapper, bool) {
	w, ok := l.wrappers[slot]
	return w, ok
}

// Configured reports whether a slot has a yield source.
func (l *Ledger) Configured(slot types.CurrencySlot) bool {
	_, ok := l.wrappers[slot]
	return ok
}

// BothSidesConfigured reports whether JIT liquidity can run for this pool.
func (l *Ledger) BothSidesConfigured() bool {
	return l.Configured(types.Currency0) && l.Configured(types.Currency1)
}

// TotalShares returns the outstanding pool share supply.
func (l *Ledger) TotalShares() sdkmath.Int { return l.totalShares }

// SharesOf returns a provider's pool share balance.
func (l *Ledger) SharesOf(provider string) sdkmath.Int {
	if bal, ok := l.shares[provider]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

// sideValue is the pool's total claim on one side: wrapper-backed assets plus
// idle balance.
func (l *Ledger) sideValue(slot types.CurrencySlot) (sdkmath.Int, error) {
	value := l.idle[slot]
	w, ok := l.wrappers[slot]
	if !ok {
		return value, nil
	}
	held := w.SharesOf(l.account)
	if held.IsZero() {
		return value, nil
	}
	total, err := w.TotalAssets()
	if err != nil {
		return sdkmath.Int{}, err
	}
	state := w.State()
	if state.TotalShares.IsZero() {
		return value, nil
	}
	return value.Add(held.Mul(total).Quo(state.TotalShares)), nil
}

// PreviewAddLiquidity computes the token amounts currently required to mint
// poolShares, from each side's wrapper exchange rate and the pool's current
// price. Amounts round up so the previewed payment always suffices.
func (l *Ledger) PreviewAddLiquidity(poolShares sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	if poolShares.IsNil() || !poolShares.IsPositive() {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %s", ErrInvalidShares, poolShares)
	}
	if len(l.wrappers) == 0 {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: no yield source on pool %d",
			types.ErrNotConfigured, l.poolID)
	}

	if l.totalShares.IsZero() {
		price, err := l.venue.CurrentPrice(l.poolID)
		if err != nil {
			return sdkmath.Int{}, sdkmath.Int{}, err
		}
		half := poolShares.QuoRaw(2)
		amount1 := poolShares.Sub(half)
		amount0 := sdkmath.LegacyNewDecFromInt(half).Quo(price).Ceil().TruncateInt()
		if !amount0.IsPositive() || !amount1.IsPositive() {
			return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %s shares too small to bootstrap",
				ErrInvalidShares, poolShares)
		}
		return amount0, amount1, nil
	}

	amount0, err := l.proRataUp(types.Currency0, poolShares)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	amount1, err := l.proRataUp(types.Currency1, poolShares)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return amount0, amount1, nil
}

// PreviewRemoveLiquidity computes the token amounts poolShares currently
// redeem for. Amounts round down; dust stays with the remaining providers.
func (l *Ledger) PreviewRemoveLiquidity(poolShares sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	if poolShares.IsNil() || !poolShares.IsPositive() {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %s", ErrInvalidShares, poolShares)
	}
	if len(l.wrappers) == 0 {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: no yield source on pool %d",
			types.ErrNotConfigured, l.poolID)
	}
	if poolShares.GT(l.totalShares) {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %s exceeds supply %s",
			ErrInvalidShares, poolShares, l.totalShares)
	}
	amount0, err := l.proRataDown(types.Currency0, poolShares)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	amount1, err := l.proRataDown(types.Currency1, poolShares)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return amount0, amount1, nil
}

func (l *Ledger) proRataUp(slot types.CurrencySlot, poolShares sdkmath.Int) (sdkmath.Int, error) {
	value, err := l.sideValue(slot)
	if err != nil {
		return sdkmath.Int{}, err
	}
	num := value.Mul(poolShares)
	return num.Add(l.totalShares).SubRaw(1).Quo(l.totalShares), nil
}

func (l *Ledger) proRataDown(slot types.CurrencySlot, poolShares sdkmath.Int) (sdkmath.Int, error) {
	value, err := l.sideValue(slot)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return value.Mul(poolShares).Quo(l.totalShares), nil
}

// checkSlippage rejects the call when the current price has drifted from the
// caller's expectation by more than maxSlippageBps. Passing a zero expected
// price disables the guard.
func (l *Ledger) checkSlippage(expectedPrice sdkmath.LegacyDec, maxSlippageBps uint64) error {
	if expectedPrice.IsNil() || expectedPrice.IsZero() {
		return nil
	}
	current, err := l.venue.CurrentPrice(l.poolID)
	if err != nil {
		return err
	}
	devBps, err := utils.RelativeDeviationBps(current, expectedPrice)
	if err != nil {
		return err
	}
	if devBps.GT(sdkmath.LegacyNewDec(int64(maxSlippageBps))) {
		return fmt.Errorf("%w: price %s vs expected %s (%s bps > %d bps)",
			types.ErrSlippageExceeded, current, expectedPrice, devBps, maxSlippageBps)
	}
	return nil
}

// AddLiquidity pulls the previewed amounts from the provider, rehypothecates
// each configured side into its wrapper, holds unconfigured sides idle, and
// mints poolShares. Returns the amounts consumed.
func (l *Ledger) AddLiquidity(provider string, poolShares sdkmath.Int, expectedPrice sdkmath.LegacyDec, maxSlippageBps uint64) (sdkmath.Int, sdkmath.Int, error) {
	if err := l.checkSlippage(expectedPrice, maxSlippageBps); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	amount0, amount1, err := l.PreviewAddLiquidity(poolShares)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	if err := l.placeSide(types.Currency0, amount0); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	if err := l.placeSide(types.Currency1, amount1); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	l.totalShares = l.totalShares.Add(poolShares)
	l.shares[provider] = l.SharesOf(provider).Add(poolShares)
	l.log.Info().
		Str("provider", provider).
		Str("pool_shares", poolShares.String()).
		Str("amount0", amount0.String()).
		Str("amount1", amount1.String()).
		Msg("Liquidity rehypothecated")
	return amount0, amount1, nil
}

// RemoveLiquidity burns poolShares and pays out the proportional side
// balances, withdrawing from the wrappers as needed.
func (l *Ledger) RemoveLiquidity(provider string, poolShares sdkmath.Int, expectedPrice sdkmath.LegacyDec, maxSlippageBps uint64) (sdkmath.Int, sdkmath.Int, error) {
	if err := l.checkSlippage(expectedPrice, maxSlippageBps); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	if poolShares.IsNil() || !poolShares.IsPositive() {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %s", ErrInvalidShares, poolShares)
	}
	if len(l.wrappers) == 0 {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: no yield source on pool %d",
			types.ErrNotConfigured, l.poolID)
	}
	held := l.SharesOf(provider)
	if poolShares.GT(held) {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: remove %s, hold %s",
			ErrNoProviderShares, poolShares, held)
	}

	amount0, err := l.releaseSide(types.Currency0, poolShares)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	amount1, err := l.releaseSide(types.Currency1, poolShares)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	l.totalShares = l.totalShares.Sub(poolShares)
	remaining := held.Sub(poolShares)
	if remaining.IsZero() {
		delete(l.shares, provider)
	} else {
		l.shares[provider] = remaining
	}
	l.log.Info().
		Str("provider", provider).
		Str("pool_shares", poolShares.String()).
		Str("amount0", amount0.String()).
		Str("amount1", amount1.String()).
		Msg("Liquidity released")
	return amount0, amount1, nil
}

func (l *Ledger) placeSide(slot types.CurrencySlot, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return nil
	}
	w, ok := l.wrappers[slot]
	if !ok {
		l.idle[slot] = l.idle[slot].Add(amount)
		return nil
	}
	if _, err := w.Deposit(l.account, amount); err != nil {
		return fmt.Errorf("slot %d rehypothecation failed: %w", slot, err)
	}
	return nil
}

func (l *Ledger) releaseSide(slot types.CurrencySlot, poolShares sdkmath.Int) (sdkmath.Int, error) {
	w, ok := l.wrappers[slot]
	if !ok {
		payout := l.idle[slot].Mul(poolShares).Quo(l.totalShares)
		l.idle[slot] = l.idle[slot].Sub(payout)
		return payout, nil
	}

	idlePayout := l.idle[slot].Mul(poolShares).Quo(l.totalShares)
	l.idle[slot] = l.idle[slot].Sub(idlePayout)

	held := w.SharesOf(l.account)
	if held.IsZero() {
		return idlePayout, nil
	}
	wrapperShares := held.Mul(poolShares).Quo(l.totalShares)
	if wrapperShares.IsZero() {
		return idlePayout, nil
	}
	assets, err := w.Redeem(l.account, wrapperShares)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("slot %d release failed: %w", slot, err)
	}
	return idlePayout.Add(assets), nil
}

// WithdrawForJIT pulls assets for a JIT injection from the slot's wrapper.
func (l *Ledger) WithdrawForJIT(slot types.CurrencySlot, assets sdkmath.Int) error {
	w, ok := l.wrappers[slot]
	if !ok {
		return fmt.Errorf("%w: slot %d has no yield source", types.ErrNotConfigured, slot)
	}
	if _, err := w.Withdraw(l.account, assets); err != nil {
		return fmt.Errorf("JIT withdrawal on slot %d failed: %w", slot, err)
	}
	return nil
}

// DepositFromJIT returns post-swap proceeds to the slot's wrapper.
func (l *Ledger) DepositFromJIT(slot types.CurrencySlot, assets sdkmath.Int) error {
	w, ok := l.wrappers[slot]
	if !ok {
		return fmt.Errorf("%w: slot %d has no yield source", types.ErrNotConfigured, slot)
	}
	if _, err := w.Deposit(l.account, assets); err != nil {
		return fmt.Errorf("JIT redeposit on slot %d failed: %w", slot, err)
	}
	return nil
}

// AvailableAssets reports the wrapper-backed assets JIT can draw on for a
// slot, excluding idle balances.
func (l *Ledger) AvailableAssets(slot types.CurrencySlot) (sdkmath.Int, error) {
	w, ok := l.wrappers[slot]
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	held := w.SharesOf(l.account)
	if held.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	total, err := w.TotalAssets()
	if err != nil {
		return sdkmath.Int{}, err
	}
	state := w.State()
	if state.TotalShares.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	return held.Mul(total).Quo(state.TotalShares), nil
}

// Snapshot deep-copies the ledger's own mutable state.
func (l *Ledger) Snapshot() Snapshot {
	idle := make(map[types.CurrencySlot]sdkmath.Int, len(l.idle))
	for k, v := range l.idle {
		idle[k] = v
	}
	shares := make(map[string]sdkmath.Int, len(l.shares))
	for k, v := range l.shares {
		shares[k] = v
	}
	return Snapshot{Idle: idle, TotalShares: l.totalShares, Shares: shares}
}

// Restore rewinds the ledger to a previous snapshot.
func (l *Ledger) Restore(snap Snapshot) {
	l.idle = snap.Idle
	l.totalShares = snap.TotalShares
	l.shares = snap.Shares
}

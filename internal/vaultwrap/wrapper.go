/*

This file contains the vault wrapper: a share-accounted deposit/withdraw
adapter around one external yield source, with protocol fee skim on positive
yield and pro-rata loss absorption on slashing.

Every mutating operation begins with an accrual step that reconciles the
wrapper's books against the external balance, so deposits and withdrawals
always execute at a current exchange rate and the solvency identity

    totalAssets + claimableFees == externalBalance

holds after every call. A violation of that identity is fatal.

*/

package vaultwrap

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/kinetic-fi/rhm/internal/logger"
	"github.com/kinetic-fi/rhm/internal/types"
	"github.com/kinetic-fi/rhm/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNotAuthorized   = errors.New("caller is not an authorized depositor")
	ErrNotOwner        = errors.New("caller is not the wrapper owner")
	ErrInvalidAmount   = errors.New("amount is invalid")
	ErrInvalidFeeRate  = errors.New("fee rate is invalid")
	ErrNoShares        = errors.New("caller holds insufficient shares")
	ErrUnpriceable     = errors.New("outstanding shares are backed by zero assets")
	ErrNothingToSkim   = errors.New("no claimable fees to collect")
	ErrSourceRequired  = errors.New("yield source is required")
	ErrAccountRequired = errors.New("owner and treasury accounts are required")
)

// Wrapper adapts one external yield source into share-accounted positions.
// Depositors are a closed set: pool accounts and explicitly added privileged
// callers, never arbitrary users, and a deposit always credits the caller
// itself so positions cannot be confused across accounts.
type Wrapper struct {
	vaultID  string
	source   YieldVault
	owner    string
	treasury string

	state      types.VaultState
	shares     map[string]sdkmath.Int
	authorized map[string]bool

	log zerolog.Logger
}

// WrapperSnapshot is a deep copy of all mutable wrapper state, used by the
// engine to restore the wrapper when an enclosing call aborts.
type WrapperSnapshot struct {
	State      types.VaultState
	Shares     map[string]sdkmath.Int
	Authorized map[string]bool
}

// NewWrapper creates a wrapper over the given yield source. feeRateBps is the
// protocol skim applied to positive yield only.
func NewWrapper(vaultID string, source YieldVault, owner, treasury string, feeRateBps uint64) (*Wrapper, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if owner == "" || treasury == "" {
		return nil, ErrAccountRequired
	}
	if feeRateBps > types.MaxBps {
		return nil, fmt.Errorf("%w: %d bps exceeds %d", ErrInvalidFeeRate, feeRateBps, types.MaxBps)
	}

	external, err := source.ExternalBalance()
	if err != nil {
		return nil, fmt.Errorf("failed to read initial external balance: %w", err)
	}
	if !external.IsZero() {
		return nil, fmt.Errorf("%w: yield source must start empty, has %s", ErrInvalidAmount, external)
	}

	return &Wrapper{
		vaultID:  vaultID,
		source:   source,
		owner:    owner,
		treasury: treasury,
		state: types.VaultState{
			TotalAssets:                 sdkmath.ZeroInt(),
			LastObservedExternalBalance: sdkmath.ZeroInt(),
			FeeRateBps:                  feeRateBps,
			ClaimableFees:               sdkmath.ZeroInt(),
			TotalShares:                 sdkmath.ZeroInt(),
		},
		shares:     make(map[string]sdkmath.Int),
		authorized: make(map[string]bool),
		log:        logger.GetForComponent("vault_wrapper").With().Str("vault_id", vaultID).Logger(),
	}, nil
}

// VaultID returns the external vault identifier this wrapper is bound to.
func (w *Wrapper) VaultID() string { return w.vaultID }

// AddAuthorizedCaller registers a depositor identity. Owner only.
func (w *Wrapper) AddAuthorizedCaller(caller, account string) error {
	if caller != w.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	if account == "" {
		return ErrAccountRequired
	}
	w.authorized[account] = true
	return nil
}

// RemoveAuthorizedCaller deregisters a depositor identity. Owner only. Shares
// already held by the account remain redeemable.
func (w *Wrapper) RemoveAuthorizedCaller(caller, account string) error {
	if caller != w.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	delete(w.authorized, account)
	return nil
}

func (w *Wrapper) callerAllowed(caller string) bool {
	return caller == w.owner || w.authorized[caller]
}

// accrue reconciles the books against the external balance. Positive drift is
// yield: the configured skim goes to claimableFees and the rest to
// totalAssets. Negative drift is slashing: totalAssets absorbs the loss
// pro-rata to all shares, and no fee is taken on a loss. If a slash exceeds
// totalAssets the remainder comes out of claimableFees, keeping the solvency
// identity intact.
func (w *Wrapper) accrue() error {
	external, err := w.source.ExternalBalance()
	if err != nil {
		return fmt.Errorf("failed to read external balance: %w", err)
	}

	delta := external.Sub(w.state.LastObservedExternalBalance)
	switch {
	case delta.IsPositive():
		fee, err := utils.SkimBps(delta, w.state.FeeRateBps)
		if err != nil {
			return fmt.Errorf("fee skim failed: %w", err)
		}
		w.state.ClaimableFees = w.state.ClaimableFees.Add(fee)
		w.state.TotalAssets = w.state.TotalAssets.Add(delta.Sub(fee))
		w.log.Debug().
			Str("yield", delta.String()).
			Str("fee", fee.String()).
			Msg("Accrued positive yield")
	case delta.IsNegative():
		loss := delta.Neg()
		if loss.GT(w.state.TotalAssets) {
			remainder := loss.Sub(w.state.TotalAssets)
			w.state.TotalAssets = sdkmath.ZeroInt()
			w.state.ClaimableFees = w.state.ClaimableFees.Sub(remainder)
			if w.state.ClaimableFees.IsNegative() {
				return fmt.Errorf("%w: slash of %s exceeds tracked value", types.ErrInsolvency, loss)
			}
		} else {
			w.state.TotalAssets = w.state.TotalAssets.Sub(loss)
		}
		w.log.Warn().
			Str("loss", loss.String()).
			Msg("Absorbed negative yield (slashing)")
	}
	w.state.LastObservedExternalBalance = external
	return nil
}

// checkSolvency re-verifies the accounting identity after a mutating call.
func (w *Wrapper) checkSolvency() error {
	external, err := w.source.ExternalBalance()
	if err != nil {
		return fmt.Errorf("failed to read external balance: %w", err)
	}
	backed := w.state.TotalAssets.Add(w.state.ClaimableFees)
	if !backed.Equal(external) {
		return fmt.Errorf("%w: totalAssets %s + claimableFees %s != external %s",
			types.ErrInsolvency, w.state.TotalAssets, w.state.ClaimableFees, external)
	}
	return nil
}

// Deposit moves assets into the yield source and mints shares to the caller at
// the post-accrual exchange rate. Deposits always credit the caller itself.
func (w *Wrapper) Deposit(caller string, assets sdkmath.Int) (sdkmath.Int, error) {
	if !w.callerAllowed(caller) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrNotAuthorized, caller)
	}
	if assets.IsNil() || !assets.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: deposit of %s", types.ErrZeroAmount, assets)
	}
	if err := w.accrue(); err != nil {
		return sdkmath.Int{}, err
	}

	var minted sdkmath.Int
	switch {
	case w.state.TotalShares.IsZero():
		minted = assets
	case w.state.TotalAssets.IsZero():
		// Outstanding shares with nothing behind them (total slash): minting at
		// any rate would hand the new depositor's assets to the old holders.
		return sdkmath.Int{}, ErrUnpriceable
	default:
		// Truncation rounds against the depositor, never the vault.
		minted = assets.Mul(w.state.TotalShares).Quo(w.state.TotalAssets)
	}
	if !minted.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: deposit of %s mints no shares", types.ErrZeroAmount, assets)
	}

	if err := w.source.Deposit(assets); err != nil {
		return sdkmath.Int{}, fmt.Errorf("yield source deposit failed: %w", err)
	}
	w.state.TotalAssets = w.state.TotalAssets.Add(assets)
	w.state.LastObservedExternalBalance = w.state.LastObservedExternalBalance.Add(assets)
	w.state.TotalShares = w.state.TotalShares.Add(minted)
	w.creditShares(caller, minted)

	if err := w.checkSolvency(); err != nil {
		return sdkmath.Int{}, err
	}
	w.log.Debug().
		Str("caller", caller).
		Str("assets", assets.String()).
		Str("shares", minted.String()).
		Msg("Deposit")
	return minted, nil
}

// Withdraw pulls an exact asset amount out of the yield source for the caller,
// burning the share cost rounded up so the vault never pays out more than the
// burned shares were worth. Exits are gated by share ownership, not the
// depositor list, so a deauthorized account is never trapped.
func (w *Wrapper) Withdraw(caller string, assets sdkmath.Int) (sdkmath.Int, error) {
	if assets.IsNil() || !assets.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: withdraw of %s", types.ErrZeroAmount, assets)
	}
	if err := w.accrue(); err != nil {
		return sdkmath.Int{}, err
	}
	if w.state.TotalAssets.IsZero() || w.state.TotalShares.IsZero() {
		return sdkmath.Int{}, fmt.Errorf("%w: vault is empty", ErrNoShares)
	}
	if assets.GT(w.state.TotalAssets) {
		return sdkmath.Int{}, fmt.Errorf("%w: withdraw %s exceeds totalAssets %s",
			ErrInvalidAmount, assets, w.state.TotalAssets)
	}

	// Ceiling division: share cost rounds up in the vault's favor.
	burned := assets.Mul(w.state.TotalShares).
		Add(w.state.TotalAssets).SubRaw(1).
		Quo(w.state.TotalAssets)
	held := w.sharesOf(caller)
	if burned.GT(held) {
		return sdkmath.Int{}, fmt.Errorf("%w: need %s shares, hold %s", ErrNoShares, burned, held)
	}

	if err := w.source.Withdraw(assets); err != nil {
		return sdkmath.Int{}, fmt.Errorf("yield source withdrawal failed: %w", err)
	}
	w.state.TotalAssets = w.state.TotalAssets.Sub(assets)
	w.state.LastObservedExternalBalance = w.state.LastObservedExternalBalance.Sub(assets)
	w.state.TotalShares = w.state.TotalShares.Sub(burned)
	w.debitShares(caller, burned)

	if err := w.checkSolvency(); err != nil {
		return sdkmath.Int{}, err
	}
	w.log.Debug().
		Str("caller", caller).
		Str("assets", assets.String()).
		Str("shares", burned.String()).
		Msg("Withdraw")
	return burned, nil
}

// Redeem burns an exact share amount and pays out the corresponding assets,
// rounded down in the vault's favor. Gated by share ownership like Withdraw.
func (w *Wrapper) Redeem(caller string, shares sdkmath.Int) (sdkmath.Int, error) {
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: redeem of %s", types.ErrZeroAmount, shares)
	}
	if err := w.accrue(); err != nil {
		return sdkmath.Int{}, err
	}
	held := w.sharesOf(caller)
	if shares.GT(held) {
		return sdkmath.Int{}, fmt.Errorf("%w: redeem %s, hold %s", ErrNoShares, shares, held)
	}

	assets := shares.Mul(w.state.TotalAssets).Quo(w.state.TotalShares)
	if assets.IsPositive() {
		if err := w.source.Withdraw(assets); err != nil {
			return sdkmath.Int{}, fmt.Errorf("yield source withdrawal failed: %w", err)
		}
		w.state.TotalAssets = w.state.TotalAssets.Sub(assets)
		w.state.LastObservedExternalBalance = w.state.LastObservedExternalBalance.Sub(assets)
	}
	w.state.TotalShares = w.state.TotalShares.Sub(shares)
	w.debitShares(caller, shares)

	if err := w.checkSolvency(); err != nil {
		return sdkmath.Int{}, err
	}
	w.log.Debug().
		Str("caller", caller).
		Str("shares", shares.String()).
		Str("assets", assets.String()).
		Msg("Redeem")
	return assets, nil
}

// TotalAssets returns the assets backing outstanding shares, net of claimable
// fees and including yield not yet realized by an accrual step.
func (w *Wrapper) TotalAssets() (sdkmath.Int, error) {
	external, err := w.source.ExternalBalance()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to read external balance: %w", err)
	}
	delta := external.Sub(w.state.LastObservedExternalBalance)
	switch {
	case delta.IsPositive():
		fee, err := utils.SkimBps(delta, w.state.FeeRateBps)
		if err != nil {
			return sdkmath.Int{}, err
		}
		return w.state.TotalAssets.Add(delta.Sub(fee)), nil
	case delta.IsNegative():
		assets := w.state.TotalAssets.Add(delta)
		if assets.IsNegative() {
			assets = sdkmath.ZeroInt()
		}
		return assets, nil
	default:
		return w.state.TotalAssets, nil
	}
}

// GetClaimableFees returns realized claimable fees plus the unrealized fee on
// pending positive yield, without mutating state. It equals exactly what a
// subsequent mutating call would realize.
func (w *Wrapper) GetClaimableFees() (sdkmath.Int, error) {
	external, err := w.source.ExternalBalance()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to read external balance: %w", err)
	}
	delta := external.Sub(w.state.LastObservedExternalBalance)
	switch {
	case delta.IsPositive():
		fee, err := utils.SkimBps(delta, w.state.FeeRateBps)
		if err != nil {
			return sdkmath.Int{}, err
		}
		return w.state.ClaimableFees.Add(fee), nil
	case delta.IsNegative():
		// A pending slash beyond totalAssets draws the remainder from
		// claimableFees, exactly as accrue will.
		loss := delta.Neg()
		if loss.GT(w.state.TotalAssets) {
			fees := w.state.ClaimableFees.Sub(loss.Sub(w.state.TotalAssets))
			if fees.IsNegative() {
				fees = sdkmath.ZeroInt()
			}
			return fees, nil
		}
		return w.state.ClaimableFees, nil
	default:
		return w.state.ClaimableFees, nil
	}
}

// CollectFees transfers all claimable fees out of the yield source to the
// treasury. Owner only. A zero collection is an error, not a silent no-op.
func (w *Wrapper) CollectFees(caller string) (sdkmath.Int, error) {
	if caller != w.owner {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	if err := w.accrue(); err != nil {
		return sdkmath.Int{}, err
	}
	collected := w.state.ClaimableFees
	if !collected.IsPositive() {
		return sdkmath.Int{}, ErrNothingToSkim
	}

	if err := w.source.Withdraw(collected); err != nil {
		return sdkmath.Int{}, fmt.Errorf("yield source withdrawal failed: %w", err)
	}
	w.state.ClaimableFees = sdkmath.ZeroInt()
	w.state.LastObservedExternalBalance = w.state.LastObservedExternalBalance.Sub(collected)

	if err := w.checkSolvency(); err != nil {
		return sdkmath.Int{}, err
	}
	w.log.Info().
		Str("treasury", w.treasury).
		Str("collected", collected.String()).
		Msg("Fees collected")
	return collected, nil
}

// SetFee changes the skim rate. Owner only. Accrual runs first so the old rate
// applies to all yield generated up to now and the new rate only going forward.
func (w *Wrapper) SetFee(caller string, newRateBps uint64) error {
	if caller != w.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	if newRateBps > types.MaxBps {
		return fmt.Errorf("%w: %d bps exceeds %d", ErrInvalidFeeRate, newRateBps, types.MaxBps)
	}
	if err := w.accrue(); err != nil {
		return err
	}
	old := w.state.FeeRateBps
	w.state.FeeRateBps = newRateBps
	w.log.Info().
		Uint64("old_rate_bps", old).
		Uint64("new_rate_bps", newRateBps).
		Msg("Skim rate changed")
	return nil
}

// State returns a copy of the wrapper's accounting state.
func (w *Wrapper) State() types.VaultState { return w.state }

// SharesOf returns the share balance of an account.
func (w *Wrapper) SharesOf(account string) sdkmath.Int { return w.sharesOf(account) }

func (w *Wrapper) sharesOf(account string) sdkmath.Int {
	if bal, ok := w.shares[account]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

func (w *Wrapper) creditShares(account string, amount sdkmath.Int) {
	w.shares[account] = w.sharesOf(account).Add(amount)
}

func (w *Wrapper) debitShares(account string, amount sdkmath.Int) {
	remaining := w.sharesOf(account).Sub(amount)
	if remaining.IsZero() {
		delete(w.shares, account)
		return
	}
	w.shares[account] = remaining
}

// Snapshot deep-copies all mutable wrapper state.
func (w *Wrapper) Snapshot() WrapperSnapshot {
	shares := make(map[string]sdkmath.Int, len(w.shares))
	for k, v := range w.shares {
		shares[k] = v
	}
	authorized := make(map[string]bool, len(w.authorized))
	for k, v := range w.authorized {
		authorized[k] = v
	}
	return WrapperSnapshot{State: w.state, Shares: shares, Authorized: authorized}
}

// Restore rewinds the wrapper to a previous snapshot.
func (w *Wrapper) Restore(snap WrapperSnapshot) {
	w.state = snap.State
	w.shares = snap.Shares
	w.authorized = snap.Authorized
}

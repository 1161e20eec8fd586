/*

This file contains the engine: the host-ledger facade that owns every pool's
fee state, rehypothecation ledger and JIT manager, and gives each external
entry point the transactional semantics the components assume: serialized
execution per pool, a reentrancy guard across every mutating call, and
all-or-nothing state mutation via snapshot rollback.

*/

package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/kinetic-fi/rhm/internal/exchange"
	"github.com/kinetic-fi/rhm/internal/jit"
	"github.com/kinetic-fi/rhm/internal/logger"
	"github.com/kinetic-fi/rhm/internal/rehypo"
	"github.com/kinetic-fi/rhm/internal/types"
	"github.com/kinetic-fi/rhm/internal/vaultwrap"
)

// Error definitions for zero-tolerance error handling
var (
	ErrVenueRequired      = errors.New("exchange venue is required")
	ErrAuthorizerRequired = errors.New("authorizer is required")
	ErrFactoryRequired    = errors.New("yield vault factory is required")
	ErrUnknownVault       = errors.New("yield vault identifier is unknown")
)

// JITAsymmetryToleranceBps bounds how lopsided a JIT range may sit around the
// initial tick before initialization rejects it as misconfigured.
const JITAsymmetryToleranceBps uint64 = 2_000

// SnapshottingExchange is the venue contract the engine needs: the trading
// interface plus per-pool rollback, which stands in for the host ledger's
// transaction revert.
type SnapshottingExchange interface {
	exchange.Exchange
	Snapshot(types.PoolID) (exchange.PoolSnapshot, error)
	Restore(types.PoolID, exchange.PoolSnapshot) error
}

// SnapshottingYieldVault is implemented by yield sources that can participate
// in rollback. External sources that cannot are reverted by the host instead.
type SnapshottingYieldVault interface {
	vaultwrap.YieldVault
	Snapshot() sdkmath.Int
	Restore(sdkmath.Int)
}

// VaultFactory resolves an external vault identifier to its backend.
type VaultFactory func(vaultID string) (vaultwrap.YieldVault, error)

// Config assembles an engine.
type Config struct {
	Venue        SnapshottingExchange
	Authorizer   Authorizer
	VaultFactory VaultFactory
	Treasury     string
	// VaultFeeBps is the protocol skim applied by every wrapper the engine
	// creates.
	VaultFeeBps uint64
	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

type poolRuntime struct {
	params       types.PoolParams
	feeState     types.FeeState
	jitRange     types.JITRange
	yieldSources types.YieldSourceMap

	ledger *rehypo.Ledger
	jitMgr *jit.Manager

	sources map[types.CurrencySlot]vaultwrap.YieldVault

	// opMu serializes this pool's mutating operations against its views. The
	// locked flag detects same-goroutine reentrancy, which a mutex cannot
	// (it would deadlock instead of erroring).
	opMu   sync.Mutex
	locked bool
}

// Engine is the single entry point for all pool operations.
type Engine struct {
	mu sync.Mutex

	venue       SnapshottingExchange
	authorizer  Authorizer
	vaults      VaultFactory
	treasury    string
	vaultFeeBps uint64
	now         func() time.Time

	paused atomic.Bool
	pools  map[types.PoolID]*poolRuntime

	log zerolog.Logger
}

func New(cfg Config) (*Engine, error) {
	if cfg.Venue == nil {
		return nil, ErrVenueRequired
	}
	if cfg.Authorizer == nil {
		return nil, ErrAuthorizerRequired
	}
	if cfg.VaultFactory == nil {
		return nil, ErrFactoryRequired
	}
	if cfg.Treasury == "" {
		return nil, fmt.Errorf("%w: treasury account", ErrAuthorizerRequired)
	}
	if cfg.VaultFeeBps > types.MaxBps {
		return nil, fmt.Errorf("%w: vault fee %d bps", types.ErrInvalidParams, cfg.VaultFeeBps)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		venue:       cfg.Venue,
		authorizer:  cfg.Authorizer,
		vaults:      cfg.VaultFactory,
		treasury:    cfg.Treasury,
		vaultFeeBps: cfg.VaultFeeBps,
		now:         clock,
		pools:       make(map[types.PoolID]*poolRuntime),
		log:         logger.GetForComponent("engine"),
	}, nil
}

// ownerAccount is the identity the engine uses as wrapper owner per pool.
func ownerAccount(id types.PoolID) string {
	return fmt.Sprintf("rhm/pool/%d/owner", id)
}

// ledgerAccount is the depositor identity the pool's ledger uses against
// wrappers.
func ledgerAccount(id types.PoolID) string {
	return fmt.Sprintf("rhm/pool/%d/liquidity", id)
}

func (e *Engine) pool(id types.PoolID) (*poolRuntime, error) {
	p, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrPoolNotFound, id)
	}
	return p, nil
}

// lockPool sets the reentrancy guard and takes the pool's operation mutex for
// the duration of a mutating call. Both the inject and accrual phases make
// calls out to other components; a callback re-entering the same pool's
// mutating surface would observe half-updated state, so it is rejected
// outright. The operation mutex keeps concurrent views from reading that same
// half-updated state.
func (e *Engine) lockPool(id types.PoolID) (*poolRuntime, func(), error) {
	e.mu.Lock()
	p, err := e.pool(id)
	if err != nil {
		e.mu.Unlock()
		return nil, nil, err
	}
	if p.locked {
		e.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: pool %d", types.ErrReentrantCall, id)
	}
	p.locked = true
	e.mu.Unlock()

	p.opMu.Lock()
	return p, func() {
		p.opMu.Unlock()
		e.mu.Lock()
		p.locked = false
		e.mu.Unlock()
	}, nil
}

// viewPool takes the pool's operation mutex for a read-only projection, so a
// view never observes the middle of a mutating call running on another
// goroutine. Views must not be called from inside a mutating operation.
func (e *Engine) viewPool(id types.PoolID) (*poolRuntime, func(), error) {
	e.mu.Lock()
	p, err := e.pool(id)
	e.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	p.opMu.Lock()
	return p, p.opMu.Unlock, nil
}

func (e *Engine) authorize(caller string, op Operation) error {
	if !e.authorizer.Authorize(caller, op) {
		return fmt.Errorf("%w: %s for %s", types.ErrUnauthorized, caller, op)
	}
	return nil
}

func (e *Engine) rejectWhilePaused() error {
	if e.paused.Load() {
		return types.ErrPaused
	}
	return nil
}

// Pause engages the pause switch. All mutating entry points except Unpause
// reject while engaged; swaps still execute, but without JIT injection.
func (e *Engine) Pause(caller string) error {
	if err := e.authorize(caller, OpPause); err != nil {
		return err
	}
	e.paused.Store(true)
	e.log.Warn().Str("caller", caller).Msg("Engine paused")
	return nil
}

// Unpause releases the pause switch.
func (e *Engine) Unpause(caller string) error {
	if err := e.authorize(caller, OpPause); err != nil {
		return err
	}
	e.paused.Store(false)
	e.log.Info().Str("caller", caller).Msg("Engine unpaused")
	return nil
}

// Paused reports the pause switch state.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// InitializePool performs one-time pool setup: fee state, immutable JIT range,
// ledger and JIT manager. A second call on the same pool fails.
func (e *Engine) InitializePool(
	caller string,
	id types.PoolID,
	initialFee uint64,
	initialTargetRatio sdkmath.LegacyDec,
	params types.PoolParams,
	jitTickLower, jitTickUpper int32,
) error {
	if err := e.authorize(caller, OpInitializePool); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.rejectWhilePaused(); err != nil {
		return err
	}
	if _, ok := e.pools[id]; ok {
		return fmt.Errorf("%w: pool %d", types.ErrAlreadyInitialized, id)
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if initialFee < params.MinFee || initialFee > params.MaxFee {
		return fmt.Errorf("%w: initial fee %d outside [%d, %d]",
			types.ErrInvalidParams, initialFee, params.MinFee, params.MaxFee)
	}
	if initialTargetRatio.IsNil() || !initialTargetRatio.IsPositive() {
		return fmt.Errorf("%w: initial target ratio must be positive", types.ErrInvalidParams)
	}

	tick, err := e.venue.CurrentTick(id)
	if err != nil {
		return fmt.Errorf("pool %d not live on venue: %w", id, err)
	}
	rng := types.JITRange{TickLower: jitTickLower, TickUpper: jitTickUpper}
	if err := rng.ValidateStraddle(tick, JITAsymmetryToleranceBps); err != nil {
		return err
	}

	if err := e.venue.SetFee(id, initialFee); err != nil {
		return fmt.Errorf("initial fee propagation failed: %w", err)
	}

	ledger := rehypo.NewLedger(id, ledgerAccount(id), e.venue)
	e.pools[id] = &poolRuntime{
		params: params,
		feeState: types.FeeState{
			CurrentFee:          initialFee,
			TargetRatio:         initialTargetRatio,
			LastUpdateTimestamp: e.now(),
		},
		jitRange:     rng,
		yieldSources: make(types.YieldSourceMap),
		ledger:       ledger,
		jitMgr:       jit.NewManager(id, e.venue, ledger, rng),
		sources:      make(map[types.CurrencySlot]vaultwrap.YieldVault),
	}
	e.log.Info().
		Uint64("pool_id", uint64(id)).
		Uint64("initial_fee", initialFee).
		Str("target_ratio", initialTargetRatio.String()).
		Int32("jit_lower", jitTickLower).
		Int32("jit_upper", jitTickUpper).
		Msg("Pool initialized")
	return nil
}

// SetYieldSource binds a currency slot to an external vault, enabling
// rehypothecation for that side. An empty vaultID detaches the slot.
// Migrating away from a configured source requires all funds withdrawn first.
func (e *Engine) SetYieldSource(caller string, id types.PoolID, slot types.CurrencySlot, vaultID string) error {
	if err := e.authorize(caller, OpSetYieldSource); err != nil {
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
	if slot != types.Currency0 && slot != types.Currency1 {
		return fmt.Errorf("%w: currency slot %d", types.ErrInvalidParams, slot)
	}

	if vaultID == "" {
		if err := p.ledger.DetachWrapper(slot); err != nil {
			return err
		}
		delete(p.yieldSources, slot)
		delete(p.sources, slot)
		e.log.Info().Uint64("pool_id", uint64(id)).Uint8("slot", uint8(slot)).Msg("Yield source detached")
		return nil
	}

	source, err := e.vaults(vaultID)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnknownVault, vaultID, err)
	}
	owner := ownerAccount(id)
	wrapper, err := vaultwrap.NewWrapper(vaultID, source, owner, e.treasury, e.vaultFeeBps)
	if err != nil {
		return err
	}
	if err := wrapper.AddAuthorizedCaller(owner, p.ledger.Account()); err != nil {
		return err
	}
	if err := p.ledger.AttachWrapper(slot, wrapper); err != nil {
		return err
	}
	p.yieldSources[slot] = vaultID
	p.sources[slot] = source
	e.log.Info().
		Uint64("pool_id", uint64(id)).
		Uint8("slot", uint8(slot)).
		Str("vault_id", vaultID).
		Msg("Yield source configured")
	return nil
}

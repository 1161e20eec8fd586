/*

This file contains an in-process reference exchange. It is intentionally a
simplified venue, not a full concentrated-liquidity implementation: resting
liquidity is one product-curve position spanning the whole price range, and
the single JIT position is priced with standard range-liquidity math. What the
adapter does honor exactly is the accounting the engine observes: resting and
JIT balances are tracked separately, swap fees split pro-rata to liquidity
share, and every call either completes or leaves the pool untouched.

*/

package exchange

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/kinetic-fi/rhm/internal/logger"
	"github.com/kinetic-fi/rhm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrPoolExists        = errors.New("pool already exists")
	ErrPoolMissing       = errors.New("pool does not exist")
	ErrJITOutstanding    = errors.New("a JIT position is already outstanding")
	ErrNoJITPosition     = errors.New("no JIT position outstanding")
	ErrPriceNotInRange   = errors.New("current price outside position range")
	ErrInvalidSwap       = errors.New("swap request is invalid")
	ErrOutputBound       = errors.New("output below requested minimum")
	ErrDrainedPool       = errors.New("swap would drain the pool")
	ErrInvalidReserves   = errors.New("reserves are invalid")
	ErrInvalidFee        = errors.New("fee is invalid")
	ErrNoUsableLiquidity = errors.New("amounts yield no usable liquidity")
)

type jitPosition struct {
	rng       types.JITRange
	liquidity sdkmath.LegacyDec
	amount0   sdkmath.Int
	amount1   sdkmath.Int
	fees0     sdkmath.Int
	fees1     sdkmath.Int
}

type poolState struct {
	price   sdkmath.LegacyDec
	tick    int32
	feePips uint64

	reserve0         sdkmath.Int
	reserve1         sdkmath.Int
	restingLiquidity sdkmath.LegacyDec

	jit *jitPosition

	volumeIn0 sdkmath.Int
	volumeIn1 sdkmath.Int
}

// PoolSnapshot is a deep copy of one pool's venue state, used for rollback.
type PoolSnapshot struct {
	state poolState
}

// InMemoryExchange is the reference Exchange used by the daemon's simulation
// mode and by tests.
type InMemoryExchange struct {
	mu    sync.Mutex
	pools map[types.PoolID]*poolState
	log   zerolog.Logger
}

func NewInMemoryExchange() *InMemoryExchange {
	return &InMemoryExchange{
		pools: make(map[types.PoolID]*poolState),
		log:   logger.GetForComponent("inmemory_exchange"),
	}
}

// CreatePool seeds a pool with resting reserves. Price is reserve1/reserve0.
func (e *InMemoryExchange) CreatePool(id types.PoolID, reserve0, reserve1 sdkmath.Int, feePips uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[id]; ok {
		return fmt.Errorf("%w: %d", ErrPoolExists, id)
	}
	if reserve0.IsNil() || reserve1.IsNil() || !reserve0.IsPositive() || !reserve1.IsPositive() {
		return fmt.Errorf("%w: %s / %s", ErrInvalidReserves, reserve0, reserve1)
	}
	if feePips > types.MaxFeePips {
		return fmt.Errorf("%w: %d pips", ErrInvalidFee, feePips)
	}

	price := sdkmath.LegacyNewDecFromInt(reserve1).Quo(sdkmath.LegacyNewDecFromInt(reserve0))
	tick, err := PriceToTick(price)
	if err != nil {
		return fmt.Errorf("initial price unmappable: %w", err)
	}
	liq, err := sdkmath.LegacyNewDecFromInt(reserve0.Mul(reserve1)).ApproxSqrt()
	if err != nil {
		return fmt.Errorf("resting liquidity: %w", err)
	}

	e.pools[id] = &poolState{
		price:            price,
		tick:             tick,
		feePips:          feePips,
		reserve0:         reserve0,
		reserve1:         reserve1,
		restingLiquidity: liq,
		volumeIn0:        sdkmath.ZeroInt(),
		volumeIn1:        sdkmath.ZeroInt(),
	}
	e.log.Info().
		Uint64("pool_id", uint64(id)).
		Str("price", price.String()).
		Int32("tick", tick).
		Msg("Pool created")
	return nil
}

func (e *InMemoryExchange) pool(id types.PoolID) (*poolState, error) {
	p, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolMissing, id)
	}
	return p, nil
}

func (e *InMemoryExchange) CurrentPrice(id types.PoolID) (sdkmath.LegacyDec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return p.price, nil
}

func (e *InMemoryExchange) CurrentTick(id types.PoolID) (int32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return 0, err
	}
	return p.tick, nil
}

func (e *InMemoryExchange) SetFee(id types.PoolID, feePips uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return err
	}
	if feePips > types.MaxFeePips {
		return fmt.Errorf("%w: %d pips", ErrInvalidFee, feePips)
	}
	p.feePips = feePips
	return nil
}

// AddJITLiquidity sizes a range position from the offered amounts at the
// current price and opens it. The binding side determines liquidity; the other
// side is only partially consumed.
func (e *InMemoryExchange) AddJITLiquidity(id types.PoolID, rng types.JITRange, amount0, amount1 sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	if p.jit != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: pool %d", ErrJITOutstanding, id)
	}
	if !rng.Contains(p.tick) {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: tick %d not in [%d, %d)",
			ErrPriceNotInRange, p.tick, rng.TickLower, rng.TickUpper)
	}
	if amount0.IsNil() || amount1.IsNil() || !amount0.IsPositive() || !amount1.IsPositive() {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %s / %s", ErrInvalidReserves, amount0, amount1)
	}

	sqrtP, sqrtPl, sqrtPu, err := rangeSqrtPrices(p.price, rng)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	// L0 = a0 * sqrtP * sqrtPu / (sqrtPu - sqrtP); L1 = a1 / (sqrtP - sqrtPl)
	liq0 := sdkmath.LegacyNewDecFromInt(amount0).Mul(sqrtP).Mul(sqrtPu).Quo(sqrtPu.Sub(sqrtP))
	liq1 := sdkmath.LegacyNewDecFromInt(amount1).Quo(sqrtP.Sub(sqrtPl))
	liq := sdkmath.LegacyMinDec(liq0, liq1)
	if !liq.IsPositive() {
		return sdkmath.Int{}, sdkmath.Int{}, ErrNoUsableLiquidity
	}

	used0 := liq.Mul(sqrtPu.Sub(sqrtP)).Quo(sqrtP.Mul(sqrtPu)).TruncateInt()
	used1 := liq.Mul(sqrtP.Sub(sqrtPl)).TruncateInt()
	if !used0.IsPositive() || !used1.IsPositive() {
		return sdkmath.Int{}, sdkmath.Int{}, ErrNoUsableLiquidity
	}

	p.jit = &jitPosition{
		rng:       rng,
		liquidity: liq,
		amount0:   used0,
		amount1:   used1,
		fees0:     sdkmath.ZeroInt(),
		fees1:     sdkmath.ZeroInt(),
	}
	e.log.Debug().
		Uint64("pool_id", uint64(id)).
		Str("liquidity", liq.String()).
		Str("used0", used0.String()).
		Str("used1", used1.String()).
		Msg("JIT position opened")
	return used0, used1, nil
}

func (e *InMemoryExchange) RemoveJITLiquidity(id types.PoolID) (JITReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return JITReceipt{}, err
	}
	if p.jit == nil {
		return JITReceipt{}, fmt.Errorf("%w: pool %d", ErrNoJITPosition, id)
	}
	receipt := JITReceipt{
		Amount0: p.jit.amount0,
		Amount1: p.jit.amount1,
		Fees0:   p.jit.fees0,
		Fees1:   p.jit.fees1,
	}
	p.jit = nil
	return receipt, nil
}

func (e *InMemoryExchange) HasJITPosition(id types.PoolID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return false, err
	}
	return p.jit != nil, nil
}

// ExecuteSwap runs a product-curve swap over resting plus in-range JIT
// balances. Input, output and fee all split pro-rata to liquidity share; the
// resting side's fee compounds into its reserves, the JIT side's fee is
// tracked separately for collection at removal.
func (e *InMemoryExchange) ExecuteSwap(id types.PoolID, req SwapRequest) (SwapResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return SwapResult{}, err
	}
	if req.AmountIn.IsNil() || !req.AmountIn.IsPositive() {
		return SwapResult{}, fmt.Errorf("%w: amountIn %s", ErrInvalidSwap, req.AmountIn)
	}

	jitActive := p.jit != nil && p.jit.rng.Contains(p.tick)
	jitShare := sdkmath.LegacyZeroDec()
	if jitActive {
		jitShare = p.jit.liquidity.Quo(p.jit.liquidity.Add(p.restingLiquidity))
	}

	fee := req.AmountIn.MulRaw(int64(p.feePips)).QuoRaw(int64(types.MaxFeePips))
	effIn := req.AmountIn.Sub(fee)
	if !effIn.IsPositive() {
		return SwapResult{}, fmt.Errorf("%w: amountIn %s consumed by fee", ErrInvalidSwap, req.AmountIn)
	}

	inRes, outRes := p.reserve0, p.reserve1
	if !req.ZeroForOne {
		inRes, outRes = p.reserve1, p.reserve0
	}
	jitIn, jitOut := sdkmath.ZeroInt(), sdkmath.ZeroInt()
	if jitActive {
		jitIn, jitOut = p.jit.amount0, p.jit.amount1
		if !req.ZeroForOne {
			jitIn, jitOut = p.jit.amount1, p.jit.amount0
		}
	}

	totalIn := inRes.Add(jitIn)
	totalOut := outRes.Add(jitOut)
	out := totalOut.Mul(effIn).Quo(totalIn.Add(effIn))
	if !out.IsPositive() {
		return SwapResult{}, fmt.Errorf("%w: output rounds to zero", ErrInvalidSwap)
	}
	if out.GTE(totalOut) {
		return SwapResult{}, fmt.Errorf("%w: out %s vs reserve %s", ErrDrainedPool, out, totalOut)
	}
	if !req.MinAmountOut.IsNil() && req.MinAmountOut.IsPositive() && out.LT(req.MinAmountOut) {
		return SwapResult{}, fmt.Errorf("%w: out %s < min %s", ErrOutputBound, out, req.MinAmountOut)
	}

	// Split flows; truncation leaves the dust with resting liquidity.
	jitInAdd := jitShare.MulInt(effIn).TruncateInt()
	jitOutSub := jitShare.MulInt(out).TruncateInt()
	jitFee := jitShare.MulInt(fee).TruncateInt()
	if jitOutSub.GT(jitOut) {
		jitOutSub = jitOut
	}
	restInAdd := effIn.Sub(jitInAdd)
	restOutSub := out.Sub(jitOutSub)
	restFee := fee.Sub(jitFee)
	if restOutSub.GT(outRes) {
		return SwapResult{}, fmt.Errorf("%w: resting side short", ErrDrainedPool)
	}

	if req.ZeroForOne {
		p.reserve0 = p.reserve0.Add(restInAdd).Add(restFee)
		p.reserve1 = p.reserve1.Sub(restOutSub)
		if jitActive {
			p.jit.amount0 = p.jit.amount0.Add(jitInAdd)
			p.jit.amount1 = p.jit.amount1.Sub(jitOutSub)
			p.jit.fees0 = p.jit.fees0.Add(jitFee)
		}
		p.volumeIn0 = p.volumeIn0.Add(req.AmountIn)
	} else {
		p.reserve1 = p.reserve1.Add(restInAdd).Add(restFee)
		p.reserve0 = p.reserve0.Sub(restOutSub)
		if jitActive {
			p.jit.amount1 = p.jit.amount1.Add(jitInAdd)
			p.jit.amount0 = p.jit.amount0.Sub(jitOutSub)
			p.jit.fees1 = p.jit.fees1.Add(jitFee)
		}
		p.volumeIn1 = p.volumeIn1.Add(req.AmountIn)
	}

	total0 := p.reserve0
	total1 := p.reserve1
	if p.jit != nil {
		total0 = total0.Add(p.jit.amount0)
		total1 = total1.Add(p.jit.amount1)
	}
	if !total0.IsPositive() || !total1.IsPositive() {
		return SwapResult{}, fmt.Errorf("%w: post-swap reserves %s / %s", ErrDrainedPool, total0, total1)
	}
	p.price = sdkmath.LegacyNewDecFromInt(total1).Quo(sdkmath.LegacyNewDecFromInt(total0))
	tick, err := PriceToTick(p.price)
	if err != nil {
		return SwapResult{}, fmt.Errorf("post-swap price unmappable: %w", err)
	}
	p.tick = tick

	return SwapResult{
		AmountIn:  req.AmountIn,
		AmountOut: out,
		FeePaid:   fee,
		NewPrice:  p.price,
		NewTick:   tick,
	}, nil
}

func (e *InMemoryExchange) FlowVolumes(id types.PoolID) (sdkmath.Int, sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return p.volumeIn0, p.volumeIn1, nil
}

// RestingReserves exposes the resting-side balances, used by tests to verify
// JIT activity never bleeds into resting accounting.
func (e *InMemoryExchange) RestingReserves(id types.PoolID) (sdkmath.Int, sdkmath.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return p.reserve0, p.reserve1, nil
}

// RestingLiquidity exposes the resting position size.
func (e *InMemoryExchange) RestingLiquidity(id types.PoolID) (sdkmath.LegacyDec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return p.restingLiquidity, nil
}

// Snapshot deep-copies one pool's venue state.
func (e *InMemoryExchange) Snapshot(id types.PoolID) (PoolSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pool(id)
	if err != nil {
		return PoolSnapshot{}, err
	}
	cp := *p
	if p.jit != nil {
		jit := *p.jit
		cp.jit = &jit
	}
	return PoolSnapshot{state: cp}, nil
}

// Restore rewinds one pool to a previous snapshot.
func (e *InMemoryExchange) Restore(id types.PoolID, snap PoolSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.pool(id); err != nil {
		return err
	}
	cp := snap.state
	if snap.state.jit != nil {
		jit := *snap.state.jit
		cp.jit = &jit
	}
	e.pools[id] = &cp
	return nil
}

func rangeSqrtPrices(price sdkmath.LegacyDec, rng types.JITRange) (sqrtP, sqrtPl, sqrtPu sdkmath.LegacyDec, err error) {
	sqrtP, err = price.ApproxSqrt()
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("sqrt price: %w", err)
	}
	lower, err := TickToPrice(rng.TickLower)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	upper, err := TickToPrice(rng.TickUpper)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	sqrtPl, err = lower.ApproxSqrt()
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("sqrt lower: %w", err)
	}
	sqrtPu, err = upper.ApproxSqrt()
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("sqrt upper: %w", err)
	}
	if sqrtP.LTE(sqrtPl) || sqrtP.GTE(sqrtPu) {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, fmt.Errorf("%w: price %s outside [%s, %s)",
			ErrPriceNotInRange, price, lower, upper)
	}
	return sqrtP, sqrtPl, sqrtPu, nil
}

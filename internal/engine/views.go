package engine

import (
	"sort"

	sdkmath "cosmossdk.io/math"

	"github.com/kinetic-fi/rhm/internal/types"
)

// PoolStatus is a read-only projection of one pool for operators and the web
// layer.
type PoolStatus struct {
	PoolID       types.PoolID         `json:"pool_id"`
	Params       types.PoolParams     `json:"params"`
	FeeState     types.FeeState       `json:"fee_state"`
	JITRange     types.JITRange       `json:"jit_range"`
	YieldSources types.YieldSourceMap `json:"yield_sources"`
	TotalShares  sdkmath.Int          `json:"total_shares"`
	Price        sdkmath.LegacyDec    `json:"price"`
	Tick         int32                `json:"tick"`
}

// VaultStatus is a read-only projection of one wrapper.
type VaultStatus struct {
	PoolID        types.PoolID       `json:"pool_id"`
	Slot          types.CurrencySlot `json:"slot"`
	VaultID       string             `json:"vault_id"`
	State         types.VaultState   `json:"state"`
	ClaimableView sdkmath.Int        `json:"claimable_view"` // Includes unrealized pending fee.
}

// PoolIDs lists initialized pools in ascending order.
func (e *Engine) PoolIDs() []types.PoolID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]types.PoolID, 0, len(e.pools))
	for id := range e.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PoolStatus returns the read-only projection of a pool.
func (e *Engine) PoolStatus(id types.PoolID) (PoolStatus, error) {
	p, release, err := e.viewPool(id)
	if err != nil {
		return PoolStatus{}, err
	}
	defer release()

	sources := make(types.YieldSourceMap, len(p.yieldSources))
	for k, v := range p.yieldSources {
		sources[k] = v
	}
	status := PoolStatus{
		PoolID:       id,
		Params:       p.params,
		FeeState:     p.feeState,
		JITRange:     p.jitRange,
		YieldSources: sources,
		TotalShares:  p.ledger.TotalShares(),
	}

	price, err := e.venue.CurrentPrice(id)
	if err != nil {
		return PoolStatus{}, err
	}
	tick, err := e.venue.CurrentTick(id)
	if err != nil {
		return PoolStatus{}, err
	}
	status.Price = price
	status.Tick = tick
	return status, nil
}

// FeeState returns a pool's current controller state.
func (e *Engine) FeeState(id types.PoolID) (types.FeeState, error) {
	p, release, err := e.viewPool(id)
	if err != nil {
		return types.FeeState{}, err
	}
	defer release()
	return p.feeState, nil
}

// PoolParams returns a pool's immutable control-loop parameters.
func (e *Engine) PoolParams(id types.PoolID) (types.PoolParams, error) {
	p, release, err := e.viewPool(id)
	if err != nil {
		return types.PoolParams{}, err
	}
	defer release()
	return p.params, nil
}

// VaultStatuses returns the wrapper projections for a pool's configured
// slots.
func (e *Engine) VaultStatuses(id types.PoolID) ([]VaultStatus, error) {
	p, release, err := e.viewPool(id)
	if err != nil {
		return nil, err
	}
	defer release()

	var out []VaultStatus
	for _, slot := range []types.CurrencySlot{types.Currency0, types.Currency1} {
		w, ok := p.ledger.Wrapper(slot)
		if !ok {
			continue
		}
		claimable, err := w.GetClaimableFees()
		if err != nil {
			return nil, err
		}
		out = append(out, VaultStatus{
			PoolID:        id,
			Slot:          slot,
			VaultID:       w.VaultID(),
			State:         w.State(),
			ClaimableView: claimable,
		})
	}
	return out, nil
}

// ProviderShares returns a provider's pool share balance.
func (e *Engine) ProviderShares(id types.PoolID, provider string) (sdkmath.Int, error) {
	p, release, err := e.viewPool(id)
	if err != nil {
		return sdkmath.Int{}, err
	}
	defer release()
	return p.ledger.SharesOf(provider), nil
}

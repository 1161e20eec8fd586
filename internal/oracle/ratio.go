/*

This file contains the trade-flow ratio oracle that feeds the fee controller.
The ratio is directional swap inflow measured in quote units over the window
since the last observation: currency-0 inflow valued at the current price
against raw currency-1 inflow. A window with no trades produces no signal
rather than a fabricated ratio.

*/

package oracle

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/kinetic-fi/rhm/internal/exchange"
	"github.com/kinetic-fi/rhm/internal/logger"
	"github.com/kinetic-fi/rhm/internal/types"
)

var (
	ErrVenueRequired = errors.New("exchange venue is required")
	ErrVolumeRewind  = errors.New("cumulative volume decreased")
)

// RatioOracle tracks one pool's flow imbalance between observations.
type RatioOracle struct {
	venue  exchange.Exchange
	poolID types.PoolID

	lastIn0 sdkmath.Int
	lastIn1 sdkmath.Int

	log zerolog.Logger
}

func NewRatioOracle(venue exchange.Exchange, poolID types.PoolID) (*RatioOracle, error) {
	if venue == nil {
		return nil, ErrVenueRequired
	}
	in0, in1, err := venue.FlowVolumes(poolID)
	if err != nil {
		return nil, fmt.Errorf("initial volume read failed: %w", err)
	}
	return &RatioOracle{
		venue:   venue,
		poolID:  poolID,
		lastIn0: in0,
		lastIn1: in1,
		log: logger.GetForComponent("ratio_oracle").
			With().Uint64("pool_id", uint64(poolID)).Logger(),
	}, nil
}

// Observe consumes the window since the last call and returns the flow
// imbalance ratio. ok is false when the window saw no trades; the window is
// still consumed.
func (o *RatioOracle) Observe() (ratio sdkmath.LegacyDec, ok bool, err error) {
	in0, in1, err := o.venue.FlowVolumes(o.poolID)
	if err != nil {
		return sdkmath.LegacyDec{}, false, fmt.Errorf("volume read failed: %w", err)
	}
	d0 := in0.Sub(o.lastIn0)
	d1 := in1.Sub(o.lastIn1)
	if d0.IsNegative() || d1.IsNegative() {
		return sdkmath.LegacyDec{}, false, fmt.Errorf("%w: pool %d", ErrVolumeRewind, o.poolID)
	}
	o.lastIn0 = in0
	o.lastIn1 = in1

	if d0.IsZero() && d1.IsZero() {
		return sdkmath.LegacyDec{}, false, nil
	}

	price, err := o.venue.CurrentPrice(o.poolID)
	if err != nil {
		return sdkmath.LegacyDec{}, false, fmt.Errorf("price read failed: %w", err)
	}

	// Unit smoothing keeps a one-sided window finite without drowning the
	// signal on any realistically sized flow.
	quote0 := sdkmath.LegacyNewDecFromInt(d0).Mul(price).Add(sdkmath.LegacyOneDec())
	quote1 := sdkmath.LegacyNewDecFromInt(d1).Add(sdkmath.LegacyOneDec())
	ratio = quote0.Quo(quote1)

	o.log.Debug().
		Str("in0_window", d0.String()).
		Str("in1_window", d1.String()).
		Str("ratio", ratio.String()).
		Msg("Flow window observed")
	return ratio, true, nil
}

package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/swapnet-io/swapnet/pkg/engine"
	"github.com/swapnet-io/swapnet/pkg/util"
)

// StaticOracle serves prices set by hand. Used by the devnet daemon and by
// tests; SetPrice stamps the observation with the clock so staleness
// behavior is exercised for real.
type StaticOracle struct {
	mu     sync.RWMutex
	clock  util.Clock
	prices map[engine.PairKey]engine.PricePoint
}

func NewStaticOracle(clock util.Clock) *StaticOracle {
	return &StaticOracle{
		clock:  clock,
		prices: make(map[engine.PairKey]engine.PricePoint),
	}
}

// SetPrice records a fair price observation for the pair, timestamped now.
func (o *StaticOracle) SetPrice(pair engine.PairKey, price int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[pair] = engine.PricePoint{Price: price, At: o.clock.Now()}
}

// SetPricePoint records an observation with an explicit timestamp.
func (o *StaticOracle) SetPricePoint(pair engine.PairKey, pp engine.PricePoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[pair] = pp
}

func (o *StaticOracle) FairPrice(_ context.Context, pair engine.PairKey) (engine.PricePoint, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	pp, ok := o.prices[pair]
	if !ok {
		return engine.PricePoint{}, fmt.Errorf("%w: %s", ErrNoPrice, pair)
	}
	return pp, nil
}

// PreviewPrice implements engine.Previewer from the same observations.
func (o *StaticOracle) PreviewPrice(pair engine.PairKey) (int64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	pp, ok := o.prices[pair]
	if !ok {
		return 0, false
	}
	return pp.Price, true
}

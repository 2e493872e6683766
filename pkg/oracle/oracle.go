// Package oracle supplies the fair reference price applied uniformly to all
// internally matched requests of an epoch.
package oracle

import (
	"context"
	"errors"

	"github.com/swapnet-io/swapnet/pkg/engine"
)

// ErrNoPrice means the oracle has no observation for the pair at all.
var ErrNoPrice = errors.New("oracle: no price for pair")

// Oracle returns the most recent fair price for a pair, with its observation
// time. Staleness is judged by the caller against its configured max age.
type Oracle interface {
	FairPrice(ctx context.Context, pair engine.PairKey) (engine.PricePoint, error)
}

// PriceFunc adapts an Oracle to the engine's price callback, binding the
// given context.
func PriceFunc(ctx context.Context, o Oracle) engine.PriceFunc {
	return func(pair engine.PairKey) (engine.PricePoint, error) {
		return o.FairPrice(ctx, pair)
	}
}

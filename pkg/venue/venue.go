// Package venue implements the external settlement collaborator: one order
// per pair per epoch for the unmatched residual.
package venue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/swapnet-io/swapnet/pkg/engine"
	"github.com/swapnet-io/swapnet/pkg/oracle"
)

// ErrRejected is returned when the venue refuses an order outright. Errors
// are never retried within the same epoch.
var ErrRejected = errors.New("venue: order rejected")

// SimVenue fills residual orders against an oracle price with a fixed
// slippage haircut, in basis points. Used by the devnet daemon and tests;
// FailNext forces the next order to fail for failure-path testing.
type SimVenue struct {
	oracle      oracle.Oracle
	slippageBps int64
	log         *zap.SugaredLogger

	mu       sync.Mutex
	failNext bool
}

func NewSimVenue(o oracle.Oracle, slippageBps int64, log *zap.SugaredLogger) *SimVenue {
	return &SimVenue{oracle: o, slippageBps: slippageBps, log: log}
}

// FailNext makes the next SubmitOrder return ErrRejected.
func (v *SimVenue) FailNext() {
	v.mu.Lock()
	v.failNext = true
	v.mu.Unlock()
}

// SubmitOrder sells order.Amount of the offered token at the oracle price
// minus slippage and returns the counter-token proceeds.
func (v *SimVenue) SubmitOrder(ctx context.Context, order engine.VenueOrder) (int64, error) {
	v.mu.Lock()
	fail := v.failNext
	v.failNext = false
	v.mu.Unlock()
	if fail {
		return 0, fmt.Errorf("%w: %s", ErrRejected, order.ClientID)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	pp, err := v.oracle.FairPrice(ctx, order.Pair)
	if err != nil {
		return 0, fmt.Errorf("venue: price %s: %w", order.Pair, err)
	}

	var out int64
	if order.Direction == engine.SideBase {
		out = engine.QuoteOut(order.Amount, pp.Price)
	} else {
		out = engine.BaseOut(order.Amount, pp.Price)
	}
	out = haircut(out, v.slippageBps)

	if v.log != nil {
		v.log.Debugw("venue_fill",
			"order", order.ClientID,
			"pair", order.Pair.String(),
			"direction", order.Direction.String(),
			"amount", order.Amount,
			"out", out,
		)
	}
	return out, nil
}

// haircut applies bps of slippage: out * (10000 - bps) / 10000.
func haircut(amount, bps int64) int64 {
	if bps <= 0 {
		return amount
	}
	out := new(big.Int).Mul(big.NewInt(amount), big.NewInt(10000-bps))
	out.Quo(out, big.NewInt(10000))
	return out.Int64()
}

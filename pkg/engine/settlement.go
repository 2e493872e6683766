package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Executor applies a settlement plan: internal transfers between escrowed
// balances (the cheap path), then at most one venue order per pair for the
// residual. Pairs settle independently through a bounded worker pool; one
// pair's venue failure never blocks or unwinds another pair.
type Executor struct {
	ledger *Ledger
	escrow *Escrow
	venue  Venue
	log    *zap.SugaredLogger

	// Workers bounds concurrent pair settlements; VenueTimeout bounds each
	// external call.
	Workers      int
	VenueTimeout time.Duration
}

func NewExecutor(ledger *Ledger, escrow *Escrow, venue Venue, log *zap.SugaredLogger) *Executor {
	return &Executor{
		ledger:       ledger,
		escrow:       escrow,
		venue:        venue,
		log:          log,
		Workers:      8,
		VenueTimeout: 5 * time.Second,
	}
}

// Apply executes the plan and writes every request's final status exactly
// once. No lock is held across a venue call.
func (x *Executor) Apply(ctx context.Context, plan *SettlementPlan) *SettlementReport {
	report := &SettlementReport{
		ID:        uuid.NewString(),
		EpochID:   plan.EpochID,
		AppliedAt: time.Now(),
		Pairs:     make([]PairOutcome, len(plan.Pairs)),
		Outcomes:  make(map[common.Hash]RequestOutcome),
	}

	var mu sync.Mutex // guards report.Outcomes

	g, gctx := errgroup.WithContext(ctx)
	if x.Workers > 0 {
		g.SetLimit(x.Workers)
	}
	for i := range plan.Pairs {
		g.Go(func() error {
			report.Pairs[i] = x.applyPair(gctx, &plan.Pairs[i], func(o RequestOutcome) {
				mu.Lock()
				report.Outcomes[o.Request] = o
				mu.Unlock()
			})
			return nil
		})
	}
	g.Wait() // pair errors are scoped into their PairOutcome

	return report
}

// applyPair settles one pair's plan entry. The record callback collects the
// final per-request outcome after its status is written.
func (x *Executor) applyPair(ctx context.Context, pp *PairPlan, record func(RequestOutcome)) PairOutcome {
	out := PairOutcome{Pair: pp.Pair, Transfers: len(pp.Transfers)}

	// Pre-netting failures: full refund.
	for _, f := range pp.Failed {
		refunded := x.refundAll(f.Request)
		x.setStatus(f.Request, StatusFailed)
		record(RequestOutcome{Request: f.Request, Status: StatusFailed, Refunded: refunded})
		x.log.Infow("request_failed", "request", f.Request.Hex(), "reason", f.Reason)
	}

	// Internal transfers: move escrowed funds bilaterally at the fair price.
	proceeds := make(map[common.Hash]int64)
	for _, tr := range pp.Transfers {
		if err := x.transfer(pp.Pair, tr); err != nil {
			// Escrow inconsistencies indicate a logic bug upstream; the plan
			// is computed from the same ledger the escrow was locked against.
			x.log.Errorw("internal_transfer_failed", "pair", pp.Pair.String(), "err", err)
			continue
		}
		proceeds[tr.FromRequest] += tr.QuoteAmount
		proceeds[tr.ToRequest] += tr.BaseAmount
	}

	// Dust on the lighter side goes back to its owner; the request still
	// counts as matched.
	for _, rf := range pp.Refunds {
		if err := x.escrow.Release(rf.Request, rf.Amount); err != nil {
			x.log.Errorw("dust_refund_failed", "request", rf.Request.Hex(), "err", err)
		}
	}

	for _, id := range pp.Matched {
		x.setStatus(id, StatusMatched)
		record(RequestOutcome{Request: id, Status: StatusMatched, AmountOut: proceeds[id]})
	}

	if pp.Residual == nil {
		return out
	}

	// Residual: exactly one venue order for the unmatched net amount.
	order := *pp.Residual
	order.ClientID = uuid.NewString()
	out.VenueOrderID = order.ClientID
	out.VenueAmount = order.Amount

	vctx, cancel := context.WithTimeout(ctx, x.VenueTimeout)
	amountOut, err := x.venue.SubmitOrder(vctx, order)
	cancel()

	if err != nil {
		// Residual-only failure: refund each holder's unfilled remainder.
		// Internal fills for partially matched holders stand.
		out.VenueError = err.Error()
		x.log.Warnw("venue_order_failed", "pair", pp.Pair.String(), "order", order.ClientID, "err", err)
		for _, sh := range pp.Shares {
			if rerr := x.escrow.Release(sh.Request, sh.Amount); rerr != nil {
				x.log.Errorw("residual_refund_failed", "request", sh.Request.Hex(), "err", rerr)
			}
			x.setStatus(sh.Request, StatusFailed)
			record(RequestOutcome{Request: sh.Request, Status: StatusFailed, AmountOut: proceeds[sh.Request], Refunded: sh.Amount})
		}
		return out
	}
	out.VenueOut = amountOut

	// Distribute venue output proportionally to each holder's contributed
	// share; the last holder absorbs rounding dust so nothing is lost.
	payToken := pp.Pair.Quote
	if order.Direction == SideQuote {
		payToken = pp.Pair.Base
	}
	distributed := int64(0)
	for i, sh := range pp.Shares {
		payout := proportional(amountOut, sh.Amount, order.Amount)
		if i == len(pp.Shares)-1 {
			payout = amountOut - distributed
		}
		distributed += payout

		if err := x.escrow.Spend(sh.Request, sh.Amount); err != nil {
			x.log.Errorw("residual_spend_failed", "request", sh.Request.Hex(), "err", err)
		}
		owner := x.owner(sh.Request)
		x.escrow.Credit(owner, payToken, payout)
		x.setStatus(sh.Request, StatusResidual)
		record(RequestOutcome{Request: sh.Request, Status: StatusResidual, AmountOut: proceeds[sh.Request] + payout})
	}

	x.log.Infow("pair_settled",
		"pair", pp.Pair.String(),
		"transfers", len(pp.Transfers),
		"venue_order", order.ClientID,
		"venue_amount", order.Amount,
		"venue_out", amountOut,
	)
	return out
}

// transfer moves the matched amounts between the two requests' submitters.
func (x *Executor) transfer(pair PairKey, tr InternalTransfer) error {
	baseReq, ok := x.ledger.Get(tr.FromRequest)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, tr.FromRequest.Hex())
	}
	quoteReq, ok := x.ledger.Get(tr.ToRequest)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, tr.ToRequest.Hex())
	}

	if err := x.escrow.Spend(tr.FromRequest, tr.BaseAmount); err != nil {
		return err
	}
	if err := x.escrow.Spend(tr.ToRequest, tr.QuoteAmount); err != nil {
		return err
	}
	x.escrow.Credit(quoteReq.Submitter, pair.Base, tr.BaseAmount)
	x.escrow.Credit(baseReq.Submitter, pair.Quote, tr.QuoteAmount)
	return nil
}

func (x *Executor) refundAll(id common.Hash) int64 {
	amount := x.escrow.Locked(id)
	if amount > 0 {
		if err := x.escrow.Release(id, amount); err != nil {
			x.log.Errorw("refund_failed", "request", id.Hex(), "err", err)
			return 0
		}
	}
	return amount
}

func (x *Executor) setStatus(id common.Hash, st Status) {
	if err := x.ledger.SetStatus(id, st); err != nil {
		// Only reachable on double-settlement, which Apply never does.
		x.log.Errorw("status_write_failed", "request", id.Hex(), "status", st.String(), "err", err)
	}
}

func (x *Executor) owner(id common.Hash) common.Address {
	req, _ := x.ledger.Get(id)
	return req.Submitter
}

// proportional computes total*share/whole without intermediate overflow.
func proportional(total, share, whole int64) int64 {
	if whole == 0 {
		return 0
	}
	out := new(big.Int).Mul(big.NewInt(total), big.NewInt(share))
	out.Quo(out, big.NewInt(whole))
	return out.Int64()
}

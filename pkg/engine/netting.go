package engine

import (
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NettingEngine computes the settlement plan for a closed epoch. It is a pure
// function of the epoch snapshot and the fair prices handed to it: no clock,
// no collaborator calls, so the same inputs always yield the same plan.
type NettingEngine struct {
	log *zap.SugaredLogger

	// Parallelism bounds the number of pairs netted concurrently. Pairs are
	// independent, so this only affects latency, never the result.
	Parallelism int
}

func NewNettingEngine(log *zap.SugaredLogger) *NettingEngine {
	return &NettingEngine{log: log, Parallelism: 4}
}

// ComputeSettlement nets every pair touched in the snapshot. Pairs without a
// fresh fair price in prices fail whole: every request refunded. The plan's
// pair entries are sorted by pair key and its transfers follow admission
// order, so the output is deterministic regardless of netting concurrency.
func (n *NettingEngine) ComputeSettlement(snap *EpochSnapshot, prices map[PairKey]PricePoint) *SettlementPlan {
	byPair := make(map[PairKey][]SwapRequest)
	for _, req := range snap.Requests {
		key := req.Pair()
		byPair[key] = append(byPair[key], req)
	}

	keys := make([]PairKey, 0, len(byPair))
	for key := range byPair {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	plans := make([]PairPlan, len(keys))

	var g errgroup.Group
	if n.Parallelism > 0 {
		g.SetLimit(n.Parallelism)
	}
	for i, key := range keys {
		g.Go(func() error {
			reqs := byPair[key]
			sort.Slice(reqs, func(a, b int) bool { return reqs[a].Seq < reqs[b].Seq })

			px, ok := prices[key]
			if !ok {
				plans[i] = failPair(key, reqs, "no fresh fair price")
				return nil
			}
			plans[i] = n.netPair(key, reqs, px.Price)
			return nil
		})
	}
	g.Wait() // goroutines never return errors

	return &SettlementPlan{
		EpochID:    snap.EpochID,
		ComputedAt: snap.ClosedAt,
		Pairs:      plans,
	}
}

// failPair refunds every request of a pair, used when no fresh price exists.
func failPair(key PairKey, reqs []SwapRequest, reason string) PairPlan {
	plan := PairPlan{Pair: key}
	for _, req := range reqs {
		plan.Failed = append(plan.Failed, FailedRequest{Request: req.ID, Reason: reason})
	}
	return plan
}

// fill tracks one surviving request through the matching loop.
type fill struct {
	req    SwapRequest
	rem    int64 // unmatched amountIn, in the request's own tokenIn
	filled int64 // matched amountIn so far
	out    int64 // proceeds earned from internal transfers
}

// netPair runs the per-pair netting algorithm at the given fair price:
// min-out filtering, totals, greedy oldest-first pairing with partial fills,
// then residual extraction for the heavier side.
func (n *NettingEngine) netPair(key PairKey, reqs []SwapRequest, px int64) PairPlan {
	plan := PairPlan{Pair: key, FairPrice: px}

	var base, quote []*fill
	for _, req := range reqs {
		var expected int64
		if req.Side() == SideBase {
			expected = QuoteOut(req.AmountIn, px)
		} else {
			expected = BaseOut(req.AmountIn, px)
		}
		if expected < req.MinAmountOut {
			plan.Failed = append(plan.Failed, FailedRequest{Request: req.ID, Reason: "min amount out unmet at fair price"})
			continue
		}
		f := &fill{req: req, rem: req.AmountIn}
		if req.Side() == SideBase {
			base = append(base, f)
			plan.BaseVolume += req.AmountIn
		} else {
			quote = append(quote, f)
			plan.QuoteVolume += req.AmountIn
		}
	}

	quoteVolumeBase := BaseOut(plan.QuoteVolume, px)

	// Greedy pairing in admission order. Budget is implicit: the loop stops
	// when either side runs out, which is exactly min(base, quote) volume in
	// base-equivalent terms.
	var matched int64
	bi, qi := 0, 0
	for bi < len(base) && qi < len(quote) {
		b, q := base[bi], quote[qi]
		qRemBase := BaseOut(q.rem, px)
		if qRemBase == 0 {
			// Remainder too small to buy a single base unit; conversion dust.
			qi++
			continue
		}
		x := b.rem
		if qRemBase < x {
			x = qRemBase
		}
		qAmt := QuoteOut(x, px)
		if qAmt > q.rem {
			qAmt = q.rem
		}

		plan.Transfers = append(plan.Transfers, InternalTransfer{
			FromRequest: b.req.ID,
			ToRequest:   q.req.ID,
			BaseAmount:  x,
			QuoteAmount: qAmt,
		})
		b.rem -= x
		b.filled += x
		b.out += qAmt
		q.rem -= qAmt
		q.filled += qAmt
		q.out += x
		matched += x

		if b.rem == 0 {
			bi++
		}
		if q.rem == 0 {
			qi++
		}
	}
	plan.MatchedAmount = matched

	heavy := sideNone
	if plan.BaseVolume > quoteVolumeBase {
		heavy = SideBase
	} else if quoteVolumeBase > plan.BaseVolume {
		heavy = SideQuote
	}

	// Classify survivors: exhausted requests are fully matched; remainders on
	// the heavy side roll into the residual order, remainders on the light
	// side are price-resolution dust and refunded.
	var residualTotal int64
	classify := func(f *fill, side Side) {
		switch {
		case f.rem == 0:
			plan.Matched = append(plan.Matched, f.req.ID)
		case side == heavy:
			plan.Shares = append(plan.Shares, ResidualShare{Request: f.req.ID, Amount: f.rem})
			residualTotal += f.rem
		case f.filled > 0:
			plan.Refunds = append(plan.Refunds, Refund{Request: f.req.ID, Amount: f.rem})
			plan.Matched = append(plan.Matched, f.req.ID)
		default:
			// Never filled and not a residual holder: the amount is below the
			// price resolution, nothing sensible can be done with it.
			plan.Failed = append(plan.Failed, FailedRequest{Request: f.req.ID, Reason: "amount below price resolution"})
		}
	}
	for _, f := range base {
		classify(f, SideBase)
	}
	for _, f := range quote {
		classify(f, SideQuote)
	}

	if heavy != sideNone && residualTotal > 0 {
		plan.Residual = &VenueOrder{Pair: key, Direction: heavy, Amount: residualTotal}
		if heavy == SideBase {
			plan.NetAmount = residualTotal
		} else {
			plan.NetAmount = BaseOut(residualTotal, px)
		}
	}

	if n.log != nil {
		n.log.Debugw("pair_netted",
			"pair", key.String(),
			"base_volume", plan.BaseVolume,
			"quote_volume", plan.QuoteVolume,
			"matched", plan.MatchedAmount,
			"net", plan.NetAmount,
			"transfers", len(plan.Transfers),
			"failed", len(plan.Failed),
		)
	}
	return plan
}

// sideNone marks a perfectly netted pair: no residual order at all.
const sideNone Side = -1

package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const px2000 = int64(2000) * PriceScale // 2000 USDC per ETH

func snapRequest(id byte, seq uint64, tokenIn, tokenOut string, amountIn, minOut int64) SwapRequest {
	return SwapRequest{
		ID:           common.Hash{id},
		Submitter:    common.Address{id},
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Epoch:        1,
		Seq:          seq,
		Status:       StatusPending,
	}
}

func buildSnapshot(reqs ...SwapRequest) *EpochSnapshot {
	volumes := make(map[PairKey]VolumeSnapshot)
	for _, req := range reqs {
		vol := volumes[req.Pair()]
		if req.Side() == SideBase {
			vol.BaseVolume += req.AmountIn
		} else {
			vol.QuoteVolume += req.AmountIn
		}
		volumes[req.Pair()] = vol
	}
	return &EpochSnapshot{
		EpochID:  1,
		ClosedAt: time.Unix(1700000000, 0),
		Requests: reqs,
		Volumes:  volumes,
	}
}

func ethUsdcPrices() map[PairKey]PricePoint {
	return map[PairKey]PricePoint{
		NewPairKey("ETH", "USDC"): {Price: px2000, At: time.Unix(1700000000, 0)},
	}
}

// Three requests: one buying 10 ETH-worth, two selling 6 and 2 ETH-worth of
// USDC. Expect 8 matched internally, 2 residual, buy direction.
func TestNetting_PartialFillWithResidual(t *testing.T) {
	a := snapRequest(1, 1, "ETH", "USDC", 10, 0)
	b := snapRequest(2, 2, "USDC", "ETH", 12000, 0) // 6 ETH worth
	c := snapRequest(3, 3, "USDC", "ETH", 4000, 0)  // 2 ETH worth

	n := NewNettingEngine(nil)
	plan := n.ComputeSettlement(buildSnapshot(a, b, c), ethUsdcPrices())

	if len(plan.Pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(plan.Pairs))
	}
	pp := plan.Pairs[0]

	if pp.MatchedAmount != 8 {
		t.Errorf("matched = %d, want 8", pp.MatchedAmount)
	}
	if pp.NetAmount != 2 {
		t.Errorf("net = %d, want 2", pp.NetAmount)
	}
	if pp.Residual == nil || pp.Residual.Direction != SideBase || pp.Residual.Amount != 2 {
		t.Errorf("residual = %+v, want sell 2 base", pp.Residual)
	}

	wantTransfers := []InternalTransfer{
		{FromRequest: a.ID, ToRequest: b.ID, BaseAmount: 6, QuoteAmount: 12000},
		{FromRequest: a.ID, ToRequest: c.ID, BaseAmount: 2, QuoteAmount: 4000},
	}
	if !reflect.DeepEqual(pp.Transfers, wantTransfers) {
		t.Errorf("transfers = %+v, want %+v", pp.Transfers, wantTransfers)
	}

	if len(pp.Matched) != 2 || pp.Matched[0] != b.ID || pp.Matched[1] != c.ID {
		t.Errorf("matched ids = %v, want [B C]", pp.Matched)
	}
	if len(pp.Shares) != 1 || pp.Shares[0].Request != a.ID || pp.Shares[0].Amount != 2 {
		t.Errorf("shares = %+v, want [{A 2}]", pp.Shares)
	}

	// Conservation: both sides of the matched volume plus the residual equal
	// the surviving base-equivalent volume.
	total := pp.BaseVolume + BaseOut(pp.QuoteVolume, pp.FairPrice)
	if total != 2*pp.MatchedAmount+pp.NetAmount {
		t.Errorf("conservation: %d != 2*%d+%d", total, pp.MatchedAmount, pp.NetAmount)
	}
}

func TestNetting_ExactTieHasNoResidual(t *testing.T) {
	a := snapRequest(1, 1, "ETH", "USDC", 5, 0)
	b := snapRequest(2, 2, "USDC", "ETH", 10000, 0) // exactly 5 ETH worth

	n := NewNettingEngine(nil)
	plan := n.ComputeSettlement(buildSnapshot(a, b), ethUsdcPrices())

	pp := plan.Pairs[0]
	if pp.Residual != nil {
		t.Fatalf("residual = %+v, want none on a tie", pp.Residual)
	}
	if pp.MatchedAmount != 5 || pp.NetAmount != 0 {
		t.Fatalf("matched/net = %d/%d, want 5/0", pp.MatchedAmount, pp.NetAmount)
	}
	if len(pp.Matched) != 2 {
		t.Fatalf("matched ids = %v, want both", pp.Matched)
	}
}

func TestNetting_QuoteHeavyResidualInQuoteUnits(t *testing.T) {
	a := snapRequest(1, 1, "ETH", "USDC", 3, 0)
	b := snapRequest(2, 2, "USDC", "ETH", 10000, 0) // 5 ETH worth

	n := NewNettingEngine(nil)
	plan := n.ComputeSettlement(buildSnapshot(a, b), ethUsdcPrices())

	pp := plan.Pairs[0]
	if pp.MatchedAmount != 3 {
		t.Fatalf("matched = %d, want 3", pp.MatchedAmount)
	}
	// 4000 USDC (2 ETH worth) left unmatched on the quote side.
	if pp.Residual == nil || pp.Residual.Direction != SideQuote || pp.Residual.Amount != 4000 {
		t.Fatalf("residual = %+v, want sell 4000 quote", pp.Residual)
	}
	if pp.NetAmount != 2 {
		t.Fatalf("net = %d, want 2 base-equivalent", pp.NetAmount)
	}
	if len(pp.Shares) != 1 || pp.Shares[0].Request != b.ID || pp.Shares[0].Amount != 4000 {
		t.Fatalf("shares = %+v, want [{B 4000}]", pp.Shares)
	}
}

func TestNetting_MinOutUnmetFailsRequest(t *testing.T) {
	tests := []struct {
		name string
		req  SwapRequest
	}{
		{
			name: "base side demands more quote than fair price yields",
			req:  snapRequest(1, 1, "ETH", "USDC", 10, 20001), // fair yields 20000
		},
		{
			name: "quote side demands more base than fair price yields",
			req:  snapRequest(2, 1, "USDC", "ETH", 4000, 3), // fair yields 2
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := snapRequest(9, 2, "USDC", "ETH", 2000, 0)
			if tt.req.Side() == SideQuote {
				counter = snapRequest(9, 2, "ETH", "USDC", 1, 0)
			}

			n := NewNettingEngine(nil)
			plan := n.ComputeSettlement(buildSnapshot(tt.req, counter), ethUsdcPrices())

			pp := plan.Pairs[0]
			if len(pp.Failed) != 1 || pp.Failed[0].Request != tt.req.ID {
				t.Fatalf("failed = %+v, want only %s", pp.Failed, tt.req.ID.Hex())
			}
			// The failed request contributes to neither matching nor residual.
			for _, tr := range pp.Transfers {
				if tr.FromRequest == tt.req.ID || tr.ToRequest == tt.req.ID {
					t.Fatalf("failed request appears in transfer %+v", tr)
				}
			}
			for _, sh := range pp.Shares {
				if sh.Request == tt.req.ID {
					t.Fatalf("failed request appears in shares")
				}
			}
		})
	}
}

func TestNetting_MissingPriceFailsWholePair(t *testing.T) {
	a := snapRequest(1, 1, "ETH", "USDC", 10, 0)
	b := snapRequest(2, 2, "USDC", "ETH", 12000, 0)

	n := NewNettingEngine(nil)
	plan := n.ComputeSettlement(buildSnapshot(a, b), map[PairKey]PricePoint{})

	pp := plan.Pairs[0]
	if len(pp.Failed) != 2 {
		t.Fatalf("failed = %d, want both requests", len(pp.Failed))
	}
	if len(pp.Transfers) != 0 || pp.Residual != nil {
		t.Fatalf("priceless pair must not match or send residual: %+v", pp)
	}
}

// Netting is a pure function: identical inputs yield identical plans.
func TestNetting_Idempotent(t *testing.T) {
	snap := buildSnapshot(
		snapRequest(1, 1, "ETH", "USDC", 10, 0),
		snapRequest(2, 2, "USDC", "ETH", 12000, 0),
		snapRequest(3, 3, "USDC", "ETH", 4000, 0),
		snapRequest(4, 4, "BTC", "USDC", 7, 0),
	)
	prices := ethUsdcPrices()
	prices[NewPairKey("BTC", "USDC")] = PricePoint{Price: 60000 * PriceScale, At: time.Unix(1700000000, 0)}

	n := NewNettingEngine(nil)
	first := n.ComputeSettlement(snap, prices)
	second := n.ComputeSettlement(snap, prices)

	if !reflect.DeepEqual(first, second) {
		t.Fatal("two nettings of the same snapshot diverged")
	}
}

// Admission order, not slice order, is the matching tie-break.
func TestNetting_DeterministicUnderInputOrder(t *testing.T) {
	reqs := []SwapRequest{
		snapRequest(1, 1, "ETH", "USDC", 10, 0),
		snapRequest(2, 2, "USDC", "ETH", 12000, 0),
		snapRequest(3, 3, "USDC", "ETH", 4000, 0),
	}
	shuffled := []SwapRequest{reqs[2], reqs[0], reqs[1]}

	n := NewNettingEngine(nil)
	a := n.ComputeSettlement(buildSnapshot(reqs...), ethUsdcPrices())
	b := n.ComputeSettlement(buildSnapshot(shuffled...), ethUsdcPrices())

	if !reflect.DeepEqual(a.Pairs, b.Pairs) {
		t.Fatal("plan depends on request slice order instead of admission order")
	}
}

func TestNetting_MultiplePairsIndependent(t *testing.T) {
	snap := buildSnapshot(
		snapRequest(1, 1, "ETH", "USDC", 10, 0),
		snapRequest(2, 2, "USDC", "ETH", 12000, 0),
		snapRequest(3, 3, "BTC", "USDC", 4, 0), // no BTC-USDC price
	)

	n := NewNettingEngine(nil)
	plan := n.ComputeSettlement(snap, ethUsdcPrices())

	if len(plan.Pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(plan.Pairs))
	}
	// Sorted by pair key: BTC-USDC first.
	if plan.Pairs[0].Pair != NewPairKey("BTC", "USDC") || len(plan.Pairs[0].Failed) != 1 {
		t.Fatalf("BTC-USDC should fail whole: %+v", plan.Pairs[0])
	}
	if plan.Pairs[1].Pair != NewPairKey("ETH", "USDC") || plan.Pairs[1].MatchedAmount != 6 {
		t.Fatalf("ETH-USDC should match 6 despite the failing pair: %+v", plan.Pairs[1])
	}
}

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// stubVenue is a scripted venue for executor tests.
type stubVenue struct {
	out    int64
	err    error
	delay  time.Duration
	orders []VenueOrder
}

func (v *stubVenue) SubmitOrder(ctx context.Context, order VenueOrder) (int64, error) {
	if v.delay > 0 {
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	v.orders = append(v.orders, order)
	if v.err != nil {
		return 0, v.err
	}
	return v.out, nil
}

// settleFixture prepares a ledger+escrow holding the given requests and a
// netting plan for them.
func settleFixture(t *testing.T, reqs ...SwapRequest) (*Ledger, *Escrow, *SettlementPlan) {
	t.Helper()
	ledger := NewLedger()
	escrow := NewEscrow()
	for i := range reqs {
		if err := ledger.Insert(&reqs[i]); err != nil {
			t.Fatalf("insert: %v", err)
		}
		escrow.Lock(reqs[i].ID, reqs[i].Submitter, reqs[i].TokenIn, reqs[i].AmountIn)
	}
	plan := NewNettingEngine(nil).ComputeSettlement(buildSnapshot(reqs...), ethUsdcPrices())
	return ledger, escrow, plan
}

func newTestExecutor(ledger *Ledger, escrow *Escrow, v Venue) *Executor {
	return NewExecutor(ledger, escrow, v, zap.NewNop().Sugar())
}

func TestExecutor_InternalTransfersAndResidualPayout(t *testing.T) {
	// R1 sells 100 ETH, R2 sells 50 ETH, Q1 buys 120000 USDC worth (60 ETH).
	r1 := snapRequest(1, 1, "ETH", "USDC", 100, 0)
	r2 := snapRequest(2, 2, "ETH", "USDC", 50, 0)
	q1 := snapRequest(3, 3, "USDC", "ETH", 120000, 0)

	ledger, escrow, plan := settleFixture(t, r1, r2, q1)
	v := &stubVenue{out: 171000} // 90 ETH residual sold externally
	x := newTestExecutor(ledger, escrow, v)

	report := x.Apply(context.Background(), plan)

	// Q1 fully matched against R1: 60 ETH for 120000 USDC.
	if got, _ := ledger.Get(q1.ID); got.Status != StatusMatched {
		t.Fatalf("Q1 status = %s, want matched", got.Status)
	}
	if got := escrow.Balance(q1.Submitter, "ETH"); got != 60 {
		t.Fatalf("Q1 ETH proceeds = %d, want 60", got)
	}
	if got := escrow.Balance(r1.Submitter, "USDC"); got != 120000 {
		t.Fatalf("R1 USDC proceeds = %d, want 120000", got)
	}

	// Residual: R1 contributed 40, R2 all 50 -> venue sold 90 for 171000.
	if len(v.orders) != 1 || v.orders[0].Amount != 90 || v.orders[0].Direction != SideBase {
		t.Fatalf("venue orders = %+v, want one sell of 90 base", v.orders)
	}
	for _, id := range []struct {
		req  SwapRequest
		want int64
	}{
		{r1, 171000 * 40 / 90}, // 76000
		{r2, 171000 - 171000*40/90},
	} {
		got, _ := ledger.Get(id.req.ID)
		if got.Status != StatusResidual {
			t.Fatalf("%s status = %s, want residual", id.req.ID.Hex(), got.Status)
		}
	}
	wantR1 := int64(120000 + 171000*40/90)
	if got := escrow.Balance(r1.Submitter, "USDC"); got != wantR1 {
		t.Fatalf("R1 total USDC = %d, want %d", got, wantR1)
	}
	wantR2 := 171000 - int64(171000*40/90)
	if got := escrow.Balance(r2.Submitter, "USDC"); got != wantR2 {
		t.Fatalf("R2 USDC = %d, want %d", got, wantR2)
	}

	// Whole venue output distributed, nothing stuck in escrow.
	if escrow.Locked(r1.ID)+escrow.Locked(r2.ID)+escrow.Locked(q1.ID) != 0 {
		t.Fatal("escrow must be fully settled")
	}
	if len(report.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(report.Outcomes))
	}
}

func TestExecutor_VenueFailureRefundsOnlyResidual(t *testing.T) {
	a := snapRequest(1, 1, "ETH", "USDC", 10, 0)
	b := snapRequest(2, 2, "USDC", "ETH", 12000, 0) // 6 ETH worth

	ledger, escrow, plan := settleFixture(t, a, b)
	v := &stubVenue{err: errors.New("venue unavailable")}
	x := newTestExecutor(ledger, escrow, v)

	x.Apply(context.Background(), plan)

	// B matched internally; the internal fill stands.
	if got, _ := ledger.Get(b.ID); got.Status != StatusMatched {
		t.Fatalf("B status = %s, want matched", got.Status)
	}
	if got := escrow.Balance(b.Submitter, "ETH"); got != 6 {
		t.Fatalf("B ETH proceeds = %d, want 6", got)
	}

	// A's unmatched remainder (4 ETH) refunded, request failed.
	if got, _ := ledger.Get(a.ID); got.Status != StatusFailed {
		t.Fatalf("A status = %s, want failed", got.Status)
	}
	if got := escrow.Balance(a.Submitter, "ETH"); got != 4 {
		t.Fatalf("A refund = %d, want 4", got)
	}
	if got := escrow.Balance(a.Submitter, "USDC"); got != 12000 {
		t.Fatalf("A matched proceeds = %d, want 12000", got)
	}
}

func TestExecutor_VenueTimeoutFailsPair(t *testing.T) {
	a := snapRequest(1, 1, "ETH", "USDC", 10, 0)

	ledger, escrow, plan := settleFixture(t, a)
	v := &stubVenue{out: 1, delay: time.Second}
	x := newTestExecutor(ledger, escrow, v)
	x.VenueTimeout = 10 * time.Millisecond

	x.Apply(context.Background(), plan)

	if got, _ := ledger.Get(a.ID); got.Status != StatusFailed {
		t.Fatalf("A status = %s, want failed after timeout", got.Status)
	}
	if got := escrow.Balance(a.Submitter, "ETH"); got != 10 {
		t.Fatalf("A refund = %d, want full 10", got)
	}
}

func TestExecutor_OneFailingPairDoesNotBlockOthers(t *testing.T) {
	// ETH-USDC fully nets internally; BTC-USDC has a residual the venue
	// rejects.
	a := snapRequest(1, 1, "ETH", "USDC", 5, 0)
	b := snapRequest(2, 2, "USDC", "ETH", 10000, 0)
	c := snapRequest(3, 3, "BTC", "USDC", 4, 0)

	ledger := NewLedger()
	escrow := NewEscrow()
	for _, req := range []SwapRequest{a, b, c} {
		cp := req
		if err := ledger.Insert(&cp); err != nil {
			t.Fatalf("insert: %v", err)
		}
		escrow.Lock(req.ID, req.Submitter, req.TokenIn, req.AmountIn)
	}
	prices := ethUsdcPrices()
	prices[NewPairKey("BTC", "USDC")] = PricePoint{Price: 60000 * PriceScale, At: time.Unix(1700000000, 0)}
	plan := NewNettingEngine(nil).ComputeSettlement(buildSnapshot(a, b, c), prices)

	v := &stubVenue{err: errors.New("rejected")}
	x := newTestExecutor(ledger, escrow, v)
	x.Apply(context.Background(), plan)

	for _, id := range []SwapRequest{a, b} {
		if got, _ := ledger.Get(id.ID); got.Status != StatusMatched {
			t.Fatalf("%s status = %s, want matched despite BTC failure", id.ID.Hex(), got.Status)
		}
	}
	if got, _ := ledger.Get(c.ID); got.Status != StatusFailed {
		t.Fatalf("C status = %s, want failed", got.Status)
	}
	if got := escrow.Balance(c.Submitter, "BTC"); got != 4 {
		t.Fatalf("C refund = %d, want 4", got)
	}
}

func TestExecutor_MinOutFailureRefundsFull(t *testing.T) {
	a := snapRequest(1, 1, "ETH", "USDC", 10, 30000) // unreachable min out
	b := snapRequest(2, 2, "USDC", "ETH", 12000, 0)

	ledger, escrow, plan := settleFixture(t, a, b)
	v := &stubVenue{out: 999999}
	x := newTestExecutor(ledger, escrow, v)

	x.Apply(context.Background(), plan)

	if got, _ := ledger.Get(a.ID); got.Status != StatusFailed {
		t.Fatalf("A status = %s, want failed", got.Status)
	}
	if got := escrow.Balance(a.Submitter, "ETH"); got != 10 {
		t.Fatalf("A refund = %d, want full amountIn", got)
	}
}

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/swapnet-io/swapnet/pkg/util"
)

// EpochState tracks one epoch through its lifecycle.
type EpochState uint32

const (
	EpochCollecting EpochState = iota
	EpochNetting
	EpochSettling
	EpochClosed
)

func (s EpochState) String() string {
	switch s {
	case EpochCollecting:
		return "collecting"
	case EpochNetting:
		return "netting"
	case EpochSettling:
		return "settling"
	case EpochClosed:
		return "closed"
	default:
		return fmt.Sprintf("EpochState(%d)", uint32(s))
	}
}

// Epoch is one bounded collection window. The state word is the CAS that
// elects the single closer; the RWMutex is the admission barrier that drains
// in-flight submitters before the snapshot is taken.
type Epoch struct {
	ID       uint64
	OpenedAt time.Time
	ClosesAt time.Time

	state atomic.Uint32
	mu    sync.RWMutex

	seq      atomic.Uint64
	reqMu    sync.Mutex
	requests []common.Hash

	agg *Aggregator
}

// State reads the epoch's current lifecycle state.
func (e *Epoch) State() EpochState { return EpochState(e.state.Load()) }

// Volumes is the live aggregate read for one pair, informational only.
func (e *Epoch) Volumes(pair PairKey) VolumeSnapshot { return e.agg.Volumes(pair) }

func (e *Epoch) addRequest(id common.Hash) int {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	e.requests = append(e.requests, id)
	return len(e.requests)
}

// Archiver persists closed epochs and is implemented by pkg/storage.
type Archiver interface {
	ArchiveEpoch(arch *ArchivedEpoch) error
}

// EventSink receives settlement results for downstream consumers (kafka).
type EventSink interface {
	EpochSettled(ctx context.Context, plan *SettlementPlan, report *SettlementReport)
}

// Notifier pushes live updates to connected submitters (websocket hub).
type Notifier interface {
	NotifyEpoch(epochID uint64, state EpochState)
	NotifyOutcome(req SwapRequest, outcome RequestOutcome)
}

// Previewer serves the best-effort price behind the non-binding
// match-probability preview returned at submission time.
type Previewer interface {
	PreviewPrice(pair PairKey) (int64, bool)
}

// ArchivedEpoch is the read-only record of a settled epoch.
type ArchivedEpoch struct {
	Snapshot EpochSnapshot    `json:"snapshot"`
	Plan     SettlementPlan   `json:"plan"`
	Report   SettlementReport `json:"report"`
}

// CoordinatorConfig bounds the collection window.
type CoordinatorConfig struct {
	EpochDuration time.Duration // wall-clock close deadline
	MaxRequests   int           // request-count ceiling, 0 = unbounded
	PriceMaxAge   time.Duration // oracle staleness bound at close
}

// SwapSubmission is the submit() input from the gateway.
type SwapSubmission struct {
	Submitter    common.Address
	TokenIn      string
	TokenOut     string
	AmountIn     int64
	MinAmountOut int64
	Nonce        uint64
}

// SubmitResult is returned synchronously to the submitter. The preview is
// informational and non-binding: it reads the live (eventually consistent)
// aggregate and the cached oracle price.
type SubmitResult struct {
	ID                      common.Hash `json:"id"`
	EpochID                 uint64      `json:"epochId"`
	PreviewMatchProbability float64     `json:"previewMatchProbability"`
}

// Coordinator owns the epoch lifecycle: it accepts submissions into the open
// epoch, elects a single closer per epoch, and drives netting, settlement,
// archival, and notification for each closed epoch.
type Coordinator struct {
	cfg      CoordinatorConfig
	ledger   *Ledger
	escrow   *Escrow
	netting  *NettingEngine
	executor *Executor
	price    PriceFunc
	clock    util.Clock
	log      *zap.SugaredLogger

	// Optional collaborators; nil disables the concern.
	Archive   Archiver
	Events    EventSink
	Notify    Notifier
	Previewer Previewer

	epochSeq atomic.Uint64
	current  atomic.Pointer[Epoch]

	closeCh chan uint64
}

func NewCoordinator(
	cfg CoordinatorConfig,
	ledger *Ledger,
	escrow *Escrow,
	netting *NettingEngine,
	executor *Executor,
	price PriceFunc,
	clock util.Clock,
	log *zap.SugaredLogger,
) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		ledger:   ledger,
		escrow:   escrow,
		netting:  netting,
		executor: executor,
		price:    price,
		clock:    clock,
		log:      log,
		closeCh:  make(chan uint64, 16),
	}
	c.openEpoch()
	return c
}

// Current returns the open epoch.
func (c *Coordinator) Current() *Epoch { return c.current.Load() }

func (c *Coordinator) openEpoch() *Epoch {
	now := c.clock.Now()
	e := &Epoch{
		ID:       c.epochSeq.Add(1),
		OpenedAt: now,
		ClosesAt: now.Add(c.cfg.EpochDuration),
		agg:      NewAggregator(),
	}
	c.current.Store(e)
	c.log.Infow("epoch_opened", "epoch", e.ID, "closes_at", e.ClosesAt)
	if c.Notify != nil {
		c.Notify.NotifyEpoch(e.ID, EpochCollecting)
	}
	return e
}

// Submit validates and accepts a swap request into the open epoch. Rejected
// with ErrEpochClosed once the epoch's closer has won the CAS; the caller
// resubmits and is guaranteed a strictly later epoch id.
func (c *Coordinator) Submit(sub SwapSubmission) (SubmitResult, error) {
	if sub.TokenIn == "" || sub.TokenOut == "" || sub.TokenIn == sub.TokenOut {
		return SubmitResult{}, fmt.Errorf("%w: tokenIn and tokenOut must differ", ErrInvalidRequest)
	}
	if sub.AmountIn <= 0 {
		return SubmitResult{}, fmt.Errorf("%w: amountIn must be positive", ErrInvalidRequest)
	}
	if sub.MinAmountOut < 0 {
		return SubmitResult{}, fmt.Errorf("%w: minAmountOut must not be negative", ErrInvalidRequest)
	}

	e := c.current.Load()
	e.mu.RLock()
	if e.State() != EpochCollecting {
		e.mu.RUnlock()
		return SubmitResult{}, fmt.Errorf("%w: epoch %d", ErrEpochClosed, e.ID)
	}

	now := c.clock.Now()
	req := &SwapRequest{
		ID:           RequestID(sub.Submitter, sub.Nonce, now),
		Submitter:    sub.Submitter,
		TokenIn:      sub.TokenIn,
		TokenOut:     sub.TokenOut,
		AmountIn:     sub.AmountIn,
		MinAmountOut: sub.MinAmountOut,
		Epoch:        e.ID,
		Seq:          e.seq.Add(1),
		SubmittedAt:  now,
		Status:       StatusPending,
	}
	if err := c.ledger.Insert(req); err != nil {
		e.mu.RUnlock()
		return SubmitResult{}, err
	}
	c.escrow.Lock(req.ID, req.Submitter, req.TokenIn, req.AmountIn)

	pair := req.Pair()
	e.agg.AddVolume(pair, req.Side(), req.AmountIn)
	count := e.addRequest(req.ID)
	e.mu.RUnlock()

	if c.cfg.MaxRequests > 0 && count >= c.cfg.MaxRequests {
		c.requestClose(e.ID)
	}

	return SubmitResult{
		ID:                      req.ID,
		EpochID:                 e.ID,
		PreviewMatchProbability: c.preview(e, pair, req.Side()),
	}, nil
}

// preview estimates how much of this side's volume the counter side can
// absorb, using the live counters and the cached oracle price. Best effort:
// returns 0 when no cached price exists.
func (c *Coordinator) preview(e *Epoch, pair PairKey, side Side) float64 {
	if c.Previewer == nil {
		return 0
	}
	px, ok := c.Previewer.PreviewPrice(pair)
	if !ok || px <= 0 {
		return 0
	}
	vol := e.agg.Volumes(pair)
	mine := float64(vol.BaseVolume)
	theirs := float64(BaseOut(vol.QuoteVolume, px))
	if side == SideQuote {
		mine, theirs = theirs, mine
	}
	if mine <= 0 {
		return 0
	}
	p := theirs / mine
	if p > 1 {
		p = 1
	}
	return p
}

// CloseNow signals an explicit close of the current epoch, the external
// trigger variant of the closing condition.
func (c *Coordinator) CloseNow() {
	c.requestClose(c.current.Load().ID)
}

func (c *Coordinator) requestClose(epochID uint64) {
	select {
	case c.closeCh <- epochID:
	default: // a close is already queued
	}
}

// Run drives the epoch deadline loop until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		e := c.current.Load()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(e.ClosesAt.Sub(c.clock.Now())):
			c.CloseCurrent(ctx)
		case id := <-c.closeCh:
			if id == c.current.Load().ID {
				c.CloseCurrent(ctx)
			}
		}
	}
}

// CloseCurrent closes the open epoch and processes it synchronously:
// netting, settlement, archive, notifications. Safe to race: the CAS on the
// epoch state picks exactly one winner, losers return immediately.
func (c *Coordinator) CloseCurrent(ctx context.Context) {
	e := c.current.Load()
	if !e.state.CompareAndSwap(uint32(EpochCollecting), uint32(EpochNetting)) {
		return
	}

	// Drain in-flight submitters that saw Collecting before the CAS; anyone
	// arriving after it is rejected with ErrEpochClosed.
	e.mu.Lock()
	e.mu.Unlock()

	// Reopen collection immediately so settlement latency never blocks
	// submission; rejected requests land in this strictly later epoch.
	c.openEpoch()

	closedAt := c.clock.Now()
	if c.Notify != nil {
		c.Notify.NotifyEpoch(e.ID, EpochNetting)
	}

	snap := c.snapshot(e, closedAt)
	prices := c.fetchPrices(snap, closedAt)

	plan := c.netting.ComputeSettlement(snap, prices)

	e.state.Store(uint32(EpochSettling))
	if c.Notify != nil {
		c.Notify.NotifyEpoch(e.ID, EpochSettling)
	}

	report := c.executor.Apply(ctx, plan)

	e.state.Store(uint32(EpochClosed))
	c.log.Infow("epoch_closed",
		"epoch", e.ID,
		"requests", len(snap.Requests),
		"pairs", len(plan.Pairs),
		"outcomes", len(report.Outcomes),
	)

	c.finish(ctx, snap, plan, report)
}

// snapshot freezes the closed epoch's requests (admission order) and totals.
func (c *Coordinator) snapshot(e *Epoch, closedAt time.Time) *EpochSnapshot {
	e.reqMu.Lock()
	ids := append([]common.Hash(nil), e.requests...)
	e.reqMu.Unlock()

	reqs := make([]SwapRequest, 0, len(ids))
	for _, id := range ids {
		if req, ok := c.ledger.Get(id); ok {
			reqs = append(reqs, req)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Seq < reqs[j].Seq })

	return &EpochSnapshot{
		EpochID:  e.ID,
		OpenedAt: e.OpenedAt,
		ClosedAt: closedAt,
		Requests: reqs,
		Volumes:  e.agg.SnapshotAll(),
	}
}

// fetchPrices asks the oracle once per touched pair and drops anything older
// than the staleness bound; pairs missing from the result fail whole during
// netting.
func (c *Coordinator) fetchPrices(snap *EpochSnapshot, asOf time.Time) map[PairKey]PricePoint {
	prices := make(map[PairKey]PricePoint, len(snap.Volumes))
	for pair := range snap.Volumes {
		pp, err := c.price(pair)
		if err != nil {
			c.log.Warnw("price_unavailable", "pair", pair.String(), "err", err)
			continue
		}
		if c.cfg.PriceMaxAge > 0 && asOf.Sub(pp.At) > c.cfg.PriceMaxAge {
			c.log.Warnw("price_stale", "pair", pair.String(), "age", asOf.Sub(pp.At))
			continue
		}
		prices[pair] = pp
	}
	return prices
}

// finish archives the epoch read-only and fans results out to the event sink
// and the websocket hub.
func (c *Coordinator) finish(ctx context.Context, snap *EpochSnapshot, plan *SettlementPlan, report *SettlementReport) {
	if c.Archive != nil {
		arch := &ArchivedEpoch{Snapshot: *snap, Plan: *plan, Report: *report}
		// Re-read terminal statuses into the archived snapshot.
		for i := range arch.Snapshot.Requests {
			if req, ok := c.ledger.Get(arch.Snapshot.Requests[i].ID); ok {
				arch.Snapshot.Requests[i] = req
			}
		}
		if err := c.Archive.ArchiveEpoch(arch); err != nil {
			c.log.Errorw("archive_failed", "epoch", snap.EpochID, "err", err)
		}
	}
	if c.Events != nil {
		c.Events.EpochSettled(ctx, plan, report)
	}
	if c.Notify != nil {
		c.Notify.NotifyEpoch(snap.EpochID, EpochClosed)
		for _, outcome := range report.Outcomes {
			if req, ok := c.ledger.Get(outcome.Request); ok {
				c.Notify.NotifyOutcome(req, outcome)
			}
		}
	}
}

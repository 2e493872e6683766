package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EpochSnapshot is the immutable input to netting: the closed epoch's
// requests in admission order plus the frozen per-pair volume totals.
type EpochSnapshot struct {
	EpochID  uint64                     `json:"epochId"`
	OpenedAt time.Time                  `json:"openedAt"`
	ClosedAt time.Time                  `json:"closedAt"`
	Requests []SwapRequest              `json:"requests"`
	Volumes  map[PairKey]VolumeSnapshot `json:"volumes"`
}

// InternalTransfer is one bilateral exchange fully satisfied inside the
// batch: the base-side request hands BaseAmount of the base token to the
// quote-side request and receives QuoteAmount of the quote token, both at
// the epoch's fair price.
type InternalTransfer struct {
	FromRequest common.Hash `json:"fromRequest"` // base-side
	ToRequest   common.Hash `json:"toRequest"`   // quote-side
	BaseAmount  int64       `json:"baseAmount"`
	QuoteAmount int64       `json:"quoteAmount"`
}

// ResidualShare is one request's contribution to the residual order,
// denominated in the token that request offered.
type ResidualShare struct {
	Request common.Hash `json:"request"`
	Amount  int64       `json:"amount"`
}

// Refund returns part of a request's escrow without marking it failed
// (conversion dust on the lighter side).
type Refund struct {
	Request common.Hash `json:"request"`
	Amount  int64       `json:"amount"`
}

// FailedRequest is a request excluded from matching before netting ran:
// its minAmountOut cannot be met at the fair price, or the pair had no
// fresh price. The full amountIn is refunded.
type FailedRequest struct {
	Request common.Hash `json:"request"`
	Reason  string      `json:"reason"`
}

// PairPlan is the netting result for one pair.
type PairPlan struct {
	Pair      PairKey `json:"pair"`
	FairPrice int64   `json:"fairPrice"`

	// Surviving totals after min-out filtering. BaseVolume in base units,
	// QuoteVolume in quote units.
	BaseVolume  int64 `json:"baseVolume"`
	QuoteVolume int64 `json:"quoteVolume"`

	// MatchedAmount and NetAmount are in base-equivalent units.
	MatchedAmount int64 `json:"matchedAmount"`
	NetAmount     int64 `json:"netAmount"`

	Transfers []InternalTransfer `json:"transfers"`

	// Residual is nil when the two sides net out exactly.
	Residual *VenueOrder     `json:"residual,omitempty"`
	Shares   []ResidualShare `json:"shares,omitempty"` // residual holders, admission order

	Matched []common.Hash   `json:"matched"` // fully internally satisfied
	Refunds []Refund        `json:"refunds,omitempty"`
	Failed  []FailedRequest `json:"failed,omitempty"`
}

// SettlementPlan is the output of netting one epoch: one entry per pair
// touched, sorted by pair key so the plan is deterministic.
type SettlementPlan struct {
	EpochID    uint64     `json:"epochId"`
	ComputedAt time.Time  `json:"computedAt"`
	Pairs      []PairPlan `json:"pairs"`
}

// RequestOutcome is the final per-request settlement result.
type RequestOutcome struct {
	Request   common.Hash `json:"request"`
	Status    Status      `json:"status"`
	AmountOut int64       `json:"amountOut"` // proceeds credited, 0 for failed
	Refunded  int64       `json:"refunded"`
}

// PairOutcome summarizes how one pair's plan entry was applied.
type PairOutcome struct {
	Pair         PairKey `json:"pair"`
	Transfers    int     `json:"transfers"`
	VenueOrderID string  `json:"venueOrderId,omitempty"`
	VenueAmount  int64   `json:"venueAmount"`
	VenueOut     int64   `json:"venueOut"`
	VenueError   string  `json:"venueError,omitempty"`
}

// SettlementReport is produced by applying a plan.
type SettlementReport struct {
	ID        string                         `json:"id"`
	EpochID   uint64                         `json:"epochId"`
	AppliedAt time.Time                      `json:"appliedAt"`
	Pairs     []PairOutcome                  `json:"pairs"`
	Outcomes  map[common.Hash]RequestOutcome `json:"outcomes"`
}

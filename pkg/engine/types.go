package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PriceScale is the fixed-point scale for fair prices: a price of
// 2000*PriceScale means 2000 quote units per base unit.
const PriceScale = 100_000_000

// Side says which token of the canonical pair a request offers.
type Side int

const (
	SideBase  Side = iota // tokenIn is the base token
	SideQuote             // tokenIn is the quote token
)

func (s Side) String() string {
	switch s {
	case SideBase:
		return "base"
	case SideQuote:
		return "quote"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBase {
		return SideQuote
	}
	return SideBase
}

// Status is the settlement outcome of a request. Pending is the only
// non-terminal state; a request leaves it exactly once.
type Status int

const (
	StatusPending Status = iota
	StatusMatched
	StatusResidual
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusMatched:
		return "matched"
	case StatusResidual:
		return "residual"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s != StatusPending }

// PairKey identifies a token pair regardless of trade direction.
// Base is always the lexicographically smaller symbol, so (A,B) and (B,A)
// land in the same aggregation bucket.
type PairKey struct {
	Base  string
	Quote string
}

// NewPairKey canonicalizes the token ordering.
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{Base: a, Quote: b}
}

func (p PairKey) String() string { return p.Base + "-" + p.Quote }

// Less orders pair keys lexicographically, used for deterministic plan output.
func (p PairKey) Less(o PairKey) bool {
	if p.Base != o.Base {
		return p.Base < o.Base
	}
	return p.Quote < o.Quote
}

// MarshalText lets PairKey serve as a JSON map key.
func (p PairKey) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PairKey) UnmarshalText(b []byte) error {
	key, err := ParsePairKey(string(b))
	if err != nil {
		return err
	}
	*p = key
	return nil
}

// ParsePairKey parses "TOKA-TOKB" into a canonical PairKey.
func ParsePairKey(s string) (PairKey, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return PairKey{}, fmt.Errorf("%w: bad pair %q", ErrInvalidRequest, s)
	}
	return NewPairKey(parts[0], parts[1]), nil
}

// SwapRequest is one trade intent. Created at submission, settled at epoch
// close, retained afterwards for audit.
type SwapRequest struct {
	ID           common.Hash    `json:"id"`
	Submitter    common.Address `json:"submitter"`
	TokenIn      string         `json:"tokenIn"`
	TokenOut     string         `json:"tokenOut"`
	AmountIn     int64          `json:"amountIn"`
	MinAmountOut int64          `json:"minAmountOut"`
	Epoch        uint64         `json:"epoch"`
	Seq          uint64         `json:"seq"` // admission order within the epoch
	SubmittedAt  time.Time      `json:"submittedAt"`
	Status       Status         `json:"status"`
}

// Pair returns the canonical pair this request trades.
func (r *SwapRequest) Pair() PairKey { return NewPairKey(r.TokenIn, r.TokenOut) }

// Side returns which side of the canonical pair the request offers.
func (r *SwapRequest) Side() Side {
	if r.TokenIn == r.Pair().Base {
		return SideBase
	}
	return SideQuote
}

// RequestID derives a collision-resistant request id from the submitter,
// a caller-supplied nonce, and the submission timestamp.
func RequestID(submitter common.Address, nonce uint64, ts time.Time) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], nonce)
	binary.BigEndian.PutUint64(buf[8:], uint64(ts.UnixNano()))
	return crypto.Keccak256Hash(submitter.Bytes(), buf[:])
}

// QuoteOut converts a base amount to quote units at price px (floor).
func QuoteOut(baseAmount, px int64) int64 {
	out := new(big.Int).Mul(big.NewInt(baseAmount), big.NewInt(px))
	out.Quo(out, big.NewInt(PriceScale))
	return out.Int64()
}

// BaseOut converts a quote amount to base units at price px (floor).
func BaseOut(quoteAmount, px int64) int64 {
	out := new(big.Int).Mul(big.NewInt(quoteAmount), big.NewInt(PriceScale))
	out.Quo(out, big.NewInt(px))
	return out.Int64()
}

// PricePoint is a fair reference price with its observation time. Staleness
// is judged against the configured max age at epoch close.
type PricePoint struct {
	Price int64     `json:"price"` // quote per base, scaled by PriceScale
	At    time.Time `json:"at"`
}

// PriceFunc fetches the fair price for a pair. Implemented by pkg/oracle.
type PriceFunc func(pair PairKey) (PricePoint, error)

// Venue is the external settlement collaborator: exactly one order per pair
// per epoch for the residual. Implemented by pkg/venue.
type Venue interface {
	// SubmitOrder sells order.Amount of the offered token and returns the
	// amount of the counter token received.
	SubmitOrder(ctx context.Context, order VenueOrder) (int64, error)
}

// VenueOrder is the residual-settlement instruction for one pair.
type VenueOrder struct {
	Pair      PairKey `json:"pair"`
	Direction Side    `json:"direction"` // side whose surplus is being sold
	Amount    int64   `json:"amount"`    // denominated in the sold token
	ClientID  string  `json:"clientId"`
}

package engine

import (
	"sync"
	"sync/atomic"
)

// PairAggregate holds the running volume totals for one pair in the open
// epoch. The counters are plain atomic adds: commutative, so concurrent
// submitters never need to observe each other's updates and no lock is held
// across unrelated requests.
type PairAggregate struct {
	baseVolume  atomic.Int64 // sum of amountIn offered by base-side requests
	quoteVolume atomic.Int64 // sum of amountIn offered by quote-side requests, in quote units
}

// Add contributes a request's amountIn to its side of the pair.
func (a *PairAggregate) Add(side Side, amount int64) {
	if side == SideBase {
		a.baseVolume.Add(amount)
	} else {
		a.quoteVolume.Add(amount)
	}
}

// VolumeSnapshot is a point-in-time read of one pair's totals.
type VolumeSnapshot struct {
	BaseVolume  int64 `json:"baseVolume"`
	QuoteVolume int64 `json:"quoteVolume"`
}

// Snapshot reads both counters. Only consistent once submitters are drained
// (epoch close); during collection it is a best-effort live read.
func (a *PairAggregate) Snapshot() VolumeSnapshot {
	return VolumeSnapshot{
		BaseVolume:  a.baseVolume.Load(),
		QuoteVolume: a.quoteVolume.Load(),
	}
}

// Aggregator tracks one PairAggregate per pair touched in the current epoch.
// A fresh Aggregator is created for every epoch; the closed epoch's totals
// are archived with its snapshot.
type Aggregator struct {
	mu    sync.RWMutex
	pairs map[PairKey]*PairAggregate
}

func NewAggregator() *Aggregator {
	return &Aggregator{pairs: make(map[PairKey]*PairAggregate)}
}

func (g *Aggregator) pair(key PairKey) *PairAggregate {
	g.mu.RLock()
	agg, ok := g.pairs[key]
	g.mu.RUnlock()
	if ok {
		return agg
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if agg, ok = g.pairs[key]; ok {
		return agg
	}
	agg = &PairAggregate{}
	g.pairs[key] = agg
	return agg
}

// AddVolume applies a commutative volume delta for one pair and side.
func (g *Aggregator) AddVolume(key PairKey, side Side, amount int64) {
	g.pair(key).Add(side, amount)
}

// Volumes returns the current totals for a pair. Zero totals for untouched
// pairs.
func (g *Aggregator) Volumes(key PairKey) VolumeSnapshot {
	g.mu.RLock()
	agg, ok := g.pairs[key]
	g.mu.RUnlock()
	if !ok {
		return VolumeSnapshot{}
	}
	return agg.Snapshot()
}

// SnapshotAll freezes every touched pair's totals. Called only after the
// epoch's admission barrier, so no writer is concurrent with it.
func (g *Aggregator) SnapshotAll() map[PairKey]VolumeSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[PairKey]VolumeSnapshot, len(g.pairs))
	for key, agg := range g.pairs {
		out[key] = agg.Snapshot()
	}
	return out
}

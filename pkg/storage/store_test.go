package storage

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swapnet-io/swapnet/pkg/engine"
)

func sampleEpoch(id uint64) *engine.ArchivedEpoch {
	pair := engine.NewPairKey("ETH", "USDC")
	req := engine.SwapRequest{
		ID:        common.Hash{byte(id)},
		Submitter: common.Address{1},
		TokenIn:   "ETH", TokenOut: "USDC",
		AmountIn: 10, Epoch: id, Seq: 1,
		SubmittedAt: time.Unix(1700000000, 0),
		Status:      engine.StatusMatched,
	}
	return &engine.ArchivedEpoch{
		Snapshot: engine.EpochSnapshot{
			EpochID:  id,
			OpenedAt: time.Unix(1700000000, 0),
			ClosedAt: time.Unix(1700000002, 0),
			Requests: []engine.SwapRequest{req},
			Volumes:  map[engine.PairKey]engine.VolumeSnapshot{pair: {BaseVolume: 10}},
		},
		Plan: engine.SettlementPlan{
			EpochID:    id,
			ComputedAt: time.Unix(1700000002, 0),
			Pairs:      []engine.PairPlan{{Pair: pair, FairPrice: 2000 * engine.PriceScale}},
		},
		Report: engine.SettlementReport{
			ID:      "report-1",
			EpochID: id,
			Outcomes: map[common.Hash]engine.RequestOutcome{
				req.ID: {Request: req.ID, Status: engine.StatusMatched, AmountOut: 20000},
			},
		},
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	pebbleStore, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer pebbleStore.Close()

	backends := []struct {
		name  string
		store Store
	}{
		{"pebble", pebbleStore},
		{"memory", NewInMemoryStore()},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			if _, ok, _ := b.store.GetEpoch(1); ok {
				t.Fatal("epoch 1 must not exist yet")
			}
			if _, ok, _ := b.store.LatestEpoch(); ok {
				t.Fatal("empty store must report no latest epoch")
			}

			for id := uint64(1); id <= 3; id++ {
				if err := b.store.ArchiveEpoch(sampleEpoch(id)); err != nil {
					t.Fatalf("archive epoch %d: %v", id, err)
				}
			}

			arch, ok, err := b.store.GetEpoch(2)
			if err != nil || !ok {
				t.Fatalf("get epoch 2: %v/%v", ok, err)
			}
			if arch.Snapshot.EpochID != 2 || arch.Report.ID != "report-1" {
				t.Errorf("epoch 2 = %+v", arch.Snapshot.EpochID)
			}
			pair := engine.NewPairKey("ETH", "USDC")
			if got := arch.Snapshot.Volumes[pair].BaseVolume; got != 10 {
				t.Errorf("volumes survived badly: base = %d, want 10", got)
			}

			req, ok, err := b.store.GetRequest(common.Hash{2})
			if err != nil || !ok {
				t.Fatalf("get request: %v/%v", ok, err)
			}
			if req.Status != engine.StatusMatched || req.Epoch != 2 {
				t.Errorf("request = %+v", req)
			}

			latest, ok, err := b.store.LatestEpoch()
			if err != nil || !ok || latest != 3 {
				t.Errorf("latest = %d/%v/%v, want 3", latest, ok, err)
			}
		})
	}
}

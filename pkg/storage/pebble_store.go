package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/swapnet-io/swapnet/pkg/engine"
)

// PebbleStore is the durable epoch archive. Closed epochs (snapshot, plan,
// report) and their terminal requests are written once and read back by the
// query API; nothing here sits on the submission hot path.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}
func (s *PebbleStore) Close() error { return s.db.Close() }

// keys: e:<8-byte epoch id>, r:<32-byte request id>, le:latest epoch
func kEpoch(id uint64) []byte        { return append([]byte("e:"), epochKeySuffix(id)...) }
func kRequest(id common.Hash) []byte { return append([]byte("r:"), id[:]...) }
func kLatest() []byte                { return []byte("le") }

// ArchiveEpoch persists a settled epoch read-only, plus each of its requests
// under its own key for direct lookup.
func (s *PebbleStore) ArchiveEpoch(arch *engine.ArchivedEpoch) error {
	val, err := encodeGob(arch)
	if err != nil {
		return fmt.Errorf("encode epoch %d: %w", arch.Snapshot.EpochID, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(kEpoch(arch.Snapshot.EpochID), val, nil); err != nil {
		return err
	}
	for i := range arch.Snapshot.Requests {
		req := arch.Snapshot.Requests[i]
		rv, err := encodeGob(req)
		if err != nil {
			return fmt.Errorf("encode request %s: %w", req.ID.Hex(), err)
		}
		if err := batch.Set(kRequest(req.ID), rv, nil); err != nil {
			return err
		}
	}
	if err := batch.Set(kLatest(), epochKeySuffix(arch.Snapshot.EpochID), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// GetEpoch loads an archived epoch.
func (s *PebbleStore) GetEpoch(id uint64) (*engine.ArchivedEpoch, bool, error) {
	val, closer, err := s.db.Get(kEpoch(id))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	var out engine.ArchivedEpoch
	if err := decodeGob(val, &out); err != nil {
		return nil, false, fmt.Errorf("decode epoch %d: %w", id, err)
	}
	return &out, true, nil
}

// GetRequest loads an archived (terminal) request.
func (s *PebbleStore) GetRequest(id common.Hash) (engine.SwapRequest, bool, error) {
	val, closer, err := s.db.Get(kRequest(id))
	if err == pebble.ErrNotFound {
		return engine.SwapRequest{}, false, nil
	}
	if err != nil {
		return engine.SwapRequest{}, false, err
	}
	defer closer.Close()

	var out engine.SwapRequest
	if err := decodeGob(val, &out); err != nil {
		return engine.SwapRequest{}, false, fmt.Errorf("decode request %s: %w", id.Hex(), err)
	}
	return out, true, nil
}

// LatestEpoch returns the id of the most recently archived epoch.
func (s *PebbleStore) LatestEpoch() (uint64, bool, error) {
	val, closer, err := s.db.Get(kLatest())
	if err == pebble.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, false, fmt.Errorf("bad latest-epoch key length %d", len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

var _ engine.Archiver = (*PebbleStore)(nil)

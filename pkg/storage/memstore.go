package storage

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swapnet-io/swapnet/pkg/engine"
)

// InMemoryStore is the archive used by tests and the no-persistence devnet.
type InMemoryStore struct {
	mu       sync.Mutex
	epochs   map[uint64]*engine.ArchivedEpoch
	requests map[common.Hash]engine.SwapRequest
	latest   uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		epochs:   make(map[uint64]*engine.ArchivedEpoch),
		requests: make(map[common.Hash]engine.SwapRequest),
	}
}

func (s *InMemoryStore) ArchiveEpoch(arch *engine.ArchivedEpoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *arch
	s.epochs[arch.Snapshot.EpochID] = &cp
	for _, req := range arch.Snapshot.Requests {
		s.requests[req.ID] = req
	}
	if arch.Snapshot.EpochID > s.latest {
		s.latest = arch.Snapshot.EpochID
	}
	return nil
}

func (s *InMemoryStore) GetEpoch(id uint64) (*engine.ArchivedEpoch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	arch, ok := s.epochs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *arch
	return &cp, true, nil
}

func (s *InMemoryStore) GetRequest(id common.Hash) (engine.SwapRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	return req, ok, nil
}

func (s *InMemoryStore) LatestEpoch() (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latest != 0, nil
}

var _ engine.Archiver = (*InMemoryStore)(nil)

package storage

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/swapnet-io/swapnet/pkg/engine"
)

// Store is the archive surface shared by the Pebble and in-memory backends:
// the coordinator writes through engine.Archiver, the query API reads.
type Store interface {
	engine.Archiver
	GetEpoch(id uint64) (*engine.ArchivedEpoch, bool, error)
	GetRequest(id common.Hash) (engine.SwapRequest, bool, error)
	LatestEpoch() (uint64, bool, error)
}

var (
	_ Store = (*PebbleStore)(nil)
	_ Store = (*InMemoryStore)(nil)
)

package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the concurrent request store. Inserts come from many parallel
// submitters; status writes come from the single settlement owner per epoch.
// Requests are never deleted (audit trail), only marked terminal.
type Ledger struct {
	mu       sync.RWMutex
	requests map[common.Hash]*SwapRequest
}

func NewLedger() *Ledger {
	return &Ledger{requests: make(map[common.Hash]*SwapRequest)}
}

// Insert adds a new request. When two inserts race on the same id exactly one
// wins; the loser gets ErrDuplicateID.
func (l *Ledger) Insert(req *SwapRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.requests[req.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, req.ID.Hex())
	}
	cp := *req
	l.requests[req.ID] = &cp
	return nil
}

// Get returns a copy of the request, if known.
func (l *Ledger) Get(id common.Hash) (SwapRequest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	req, ok := l.requests[id]
	if !ok {
		return SwapRequest{}, false
	}
	return *req, true
}

// SetStatus records the settlement outcome. The transition out of Pending is
// write-once: re-applying the same terminal status is a no-op (the settlement
// pass may be re-driven), but changing a terminal status is rejected.
func (l *Ledger) SetStatus(id common.Hash, st Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}
	if req.Status.Terminal() {
		if req.Status == st {
			return nil
		}
		return fmt.Errorf("%w: %s is %s, refusing %s", ErrAlreadyTerminal, id.Hex(), req.Status, st)
	}
	req.Status = st
	return nil
}

// Len returns the number of known requests.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.requests)
}

// ByEpoch returns copies of all requests accepted into the given epoch,
// unsorted. Used for archiving and the epoch query API.
func (l *Ledger) ByEpoch(epoch uint64) []SwapRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []SwapRequest
	for _, req := range l.requests {
		if req.Epoch == epoch {
			out = append(out, *req)
		}
	}
	return out
}

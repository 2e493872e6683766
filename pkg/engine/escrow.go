package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Escrow is the balance book backing settlement. A submitter's amountIn is
// locked under the request id at submission; settlement either spends the
// lock (internal transfer or venue order) or releases it back (refund).
// Settled proceeds land in the submitter's available balance.
type Escrow struct {
	mu        sync.Mutex
	available map[common.Address]map[string]int64 // submitter -> token -> balance
	locked    map[common.Hash]*lockedFunds        // request id -> escrowed amountIn
}

type lockedFunds struct {
	owner  common.Address
	token  string
	amount int64
}

func NewEscrow() *Escrow {
	return &Escrow{
		available: make(map[common.Address]map[string]int64),
		locked:    make(map[common.Hash]*lockedFunds),
	}
}

// Lock escrows amountIn for a freshly accepted request.
func (e *Escrow) Lock(id common.Hash, owner common.Address, token string, amount int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked[id] = &lockedFunds{owner: owner, token: token, amount: amount}
}

// Spend consumes part of a request's escrow: the funds leave the submitter
// (to a counter-party or the venue).
func (e *Escrow) Spend(id common.Hash, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lf, ok := e.locked[id]
	if !ok {
		return fmt.Errorf("%w: no escrow for %s", ErrNotFound, id.Hex())
	}
	if amount > lf.amount {
		return fmt.Errorf("escrow %s: spend %d exceeds locked %d", id.Hex(), amount, lf.amount)
	}
	lf.amount -= amount
	if lf.amount == 0 {
		delete(e.locked, id)
	}
	return nil
}

// Release refunds part of a request's escrow back to the owner's available
// balance.
func (e *Escrow) Release(id common.Hash, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lf, ok := e.locked[id]
	if !ok {
		return fmt.Errorf("%w: no escrow for %s", ErrNotFound, id.Hex())
	}
	if amount > lf.amount {
		return fmt.Errorf("escrow %s: release %d exceeds locked %d", id.Hex(), amount, lf.amount)
	}
	lf.amount -= amount
	e.creditLocked(lf.owner, lf.token, amount)
	if lf.amount == 0 {
		delete(e.locked, id)
	}
	return nil
}

// Credit adds settled proceeds to a submitter's available balance.
func (e *Escrow) Credit(owner common.Address, token string, amount int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.creditLocked(owner, token, amount)
}

func (e *Escrow) creditLocked(owner common.Address, token string, amount int64) {
	bal, ok := e.available[owner]
	if !ok {
		bal = make(map[string]int64)
		e.available[owner] = bal
	}
	bal[token] += amount
}

// Balance returns a submitter's settled balance for one token.
func (e *Escrow) Balance(owner common.Address, token string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available[owner][token]
}

// Locked returns the still-escrowed amount for a request, zero once fully
// spent or released.
func (e *Escrow) Locked(id common.Hash) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if lf, ok := e.locked[id]; ok {
		return lf.amount
	}
	return 0
}

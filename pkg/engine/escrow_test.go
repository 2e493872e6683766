package engine

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestEscrow_LockSpendRelease(t *testing.T) {
	e := NewEscrow()
	owner := common.Address{1}
	id := common.Hash{1}

	e.Lock(id, owner, "ETH", 10)
	if got := e.Locked(id); got != 10 {
		t.Fatalf("locked = %d, want 10", got)
	}

	if err := e.Spend(id, 6); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if err := e.Release(id, 4); err != nil {
		t.Fatalf("release: %v", err)
	}

	if got := e.Locked(id); got != 0 {
		t.Fatalf("locked after settle = %d, want 0", got)
	}
	if got := e.Balance(owner, "ETH"); got != 4 {
		t.Fatalf("refunded balance = %d, want 4", got)
	}
}

func TestEscrow_OverSpendRejected(t *testing.T) {
	e := NewEscrow()
	id := common.Hash{2}
	e.Lock(id, common.Address{1}, "ETH", 5)

	if err := e.Spend(id, 6); err == nil {
		t.Fatal("overspend must fail")
	}
	if err := e.Release(id, 6); err == nil {
		t.Fatal("overrelease must fail")
	}
	if got := e.Locked(id); got != 5 {
		t.Fatalf("failed operations must not change escrow, got %d", got)
	}
}

func TestEscrow_CreditAccumulates(t *testing.T) {
	e := NewEscrow()
	owner := common.Address{3}

	e.Credit(owner, "USDC", 100)
	e.Credit(owner, "USDC", 50)
	if got := e.Balance(owner, "USDC"); got != 150 {
		t.Fatalf("balance = %d, want 150", got)
	}
	if got := e.Balance(owner, "ETH"); got != 0 {
		t.Fatalf("untouched token balance = %d, want 0", got)
	}
}

package ownership

import (
	"errors"
	"testing"
)

func TestRegistry_MintAndOwnerOf(t *testing.T) {
	r := NewRegistry()
	r.Mint("alice", 1)
	r.Mint("alice", 2)
	r.Mint("bob", 3)

	owner, ok := r.OwnerOf(1)
	if !ok || owner != "alice" {
		t.Errorf("OwnerOf(1) = %q, %v; want alice", owner, ok)
	}
	if got := r.LocksOf("alice"); len(got) != 2 {
		t.Errorf("alice should own 2 locks, got %v", got)
	}
	if _, ok := r.OwnerOf(99); ok {
		t.Error("OwnerOf(99) should not exist")
	}
}

func TestRegistry_BurnSwapAndPop(t *testing.T) {
	r := NewRegistry()
	r.Mint("alice", 1)
	r.Mint("alice", 2)
	r.Mint("alice", 3)

	// Remove from the middle; the tail element takes its slot.
	r.Burn(2)

	locks := r.LocksOf("alice")
	if len(locks) != 2 {
		t.Fatalf("expected 2 locks after burn, got %v", locks)
	}
	seen := map[uint64]bool{}
	for _, id := range locks {
		seen[id] = true
	}
	if !seen[1] || !seen[3] || seen[2] {
		t.Errorf("expected locks {1,3}, got %v", locks)
	}

	// Remaining ids still resolve after index moves.
	r.Burn(3)
	if got := r.LocksOf("alice"); len(got) != 1 || got[0] != 1 {
		t.Errorf("expected [1], got %v", got)
	}
	r.Burn(1)
	if got := r.LocksOf("alice"); len(got) != 0 {
		t.Errorf("expected no locks, got %v", got)
	}
}

func TestRegistry_Move(t *testing.T) {
	r := NewRegistry()
	r.Mint("alice", 1)
	if err := r.Approve("alice", "carol", 1); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	r.Move("bob", 1)

	owner, _ := r.OwnerOf(1)
	if owner != "bob" {
		t.Errorf("owner after move = %q, want bob", owner)
	}
	if len(r.LocksOf("alice")) != 0 {
		t.Error("alice should own nothing after move")
	}
	// Approval does not survive a transfer.
	if r.IsApprovedOrOwner("carol", 1) {
		t.Error("carol's approval should be cleared by move")
	}
}

func TestRegistry_Approvals(t *testing.T) {
	r := NewRegistry()
	r.Mint("alice", 1)

	if !r.IsApprovedOrOwner("alice", 1) {
		t.Error("owner must be authorized")
	}
	if r.IsApprovedOrOwner("carol", 1) {
		t.Error("stranger must not be authorized")
	}

	if err := r.Approve("bob", "carol", 1); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if err := r.Approve("alice", "alice", 1); !errors.Is(err, ErrSelfApproval) {
		t.Errorf("expected ErrSelfApproval, got %v", err)
	}
	if err := r.Approve("alice", "carol", 1); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if !r.IsApprovedOrOwner("carol", 1) {
		t.Error("approved account must be authorized")
	}

	// Clearing the approval revokes access.
	if err := r.Approve("alice", "", 1); err != nil {
		t.Fatalf("clear approval failed: %v", err)
	}
	if r.IsApprovedOrOwner("carol", 1) {
		t.Error("cleared approval must not authorize")
	}
}

func TestRegistry_Operators(t *testing.T) {
	r := NewRegistry()
	r.Mint("alice", 1)
	r.Mint("alice", 2)

	if err := r.SetOperator("alice", "op", true); err != nil {
		t.Fatalf("SetOperator failed: %v", err)
	}
	if !r.IsApprovedOrOwner("op", 1) || !r.IsApprovedOrOwner("op", 2) {
		t.Error("operator must be authorized on all owner locks")
	}

	if err := r.SetOperator("alice", "op", false); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if r.IsApprovedOrOwner("op", 1) {
		t.Error("revoked operator must not be authorized")
	}

	if err := r.SetOperator("alice", "alice", true); !errors.Is(err, ErrInvalidAccount) {
		t.Errorf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestRegistry_ApproveUnknownLock(t *testing.T) {
	r := NewRegistry()
	if err := r.Approve("alice", "bob", 42); !errors.Is(err, ErrNotOwned) {
		t.Errorf("expected ErrNotOwned, got %v", err)
	}
}

package memory

import (
	"context"
	"errors"
	"testing"

	"veledger/internal/domain"
	"veledger/internal/storage"
)

func TestPowerSnapshotStore_InsertAndQuery(t *testing.T) {
	s := NewPowerSnapshotStore()
	ctx := context.Background()

	points := []*domain.PowerSnapshotPoint{
		{LockID: 1, Ts: 1000, Ordinal: 1, Power: 300, Amount: 500, End: 604800, Owner: "alice"},
		{LockID: 1, Ts: 2000, Ordinal: 2, Power: 280, Amount: 500, End: 604800, Owner: "alice"},
		{LockID: 2, Ts: 1500, Ordinal: 1, Power: 90, Amount: 100, End: 604800, Owner: "bob"},
	}
	if err := s.InsertBulk(ctx, points); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := s.GetByLockID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByLockID failed: %v", err)
	}
	if len(got) != 2 || got[0].Ts != 1000 || got[1].Ts != 2000 {
		t.Errorf("GetByLockID = %+v", got)
	}

	ranged, err := s.GetByTimeRange(ctx, 1, 1500, 2500)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(ranged) != 1 || ranged[0].Ts != 2000 {
		t.Errorf("GetByTimeRange = %+v", ranged)
	}
}

func TestPowerSnapshotStore_Duplicate(t *testing.T) {
	s := NewPowerSnapshotStore()
	ctx := context.Background()

	first := []*domain.PowerSnapshotPoint{{LockID: 1, Ts: 1000, Power: 10}}
	if err := s.InsertBulk(ctx, first); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	dup := []*domain.PowerSnapshotPoint{
		{LockID: 2, Ts: 1000, Power: 20},
		{LockID: 1, Ts: 1000, Power: 30},
	}
	if err := s.InsertBulk(ctx, dup); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	// Whole batch rejected: the non-duplicate row must not be written.
	got, _ := s.GetByLockID(ctx, 2)
	if len(got) != 0 {
		t.Errorf("rejected batch leaked rows: %+v", got)
	}
}

func TestSupplySnapshotStore_InsertAndQuery(t *testing.T) {
	s := NewSupplySnapshotStore()
	ctx := context.Background()

	points := []*domain.SupplySnapshotPoint{
		{Ts: 2000, Ordinal: 2, TotalPower: 180, LockedSupply: 600, ActiveLocks: 2},
		{Ts: 1000, Ordinal: 1, TotalPower: 200, LockedSupply: 600, ActiveLocks: 2},
	}
	if err := s.InsertBulk(ctx, points); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := s.GetByTimeRange(ctx, 0, 3000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(got) != 2 || got[0].Ts != 1000 || got[1].Ts != 2000 {
		t.Errorf("points not ordered by ts: %+v", got)
	}

	if err := s.InsertBulk(ctx, []*domain.SupplySnapshotPoint{{Ts: 1000}}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

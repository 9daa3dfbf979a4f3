package storage

import (
	"context"

	"veledger/internal/domain"
)

// State is a full durable snapshot of the escrow engine: the global
// history, per-lock histories, slope-change schedule and lock ledger,
// plus the scalar counters. These are the only sources of truth; every
// query answer is reconstructible from them.
type State struct {
	Epoch        int                      // index of the global history head
	GlobalPoints []domain.Point           // index = epoch
	UserPoints   map[uint64][]domain.Point // per-lock history, index = user epoch (0 = sentinel)
	SlopeChanges map[int64]int64          // week ts -> aggregate slope delta
	Locks        map[uint64]*domain.Lock  // lock ledger, includes emptied locks
	Supply       int64                    // total locked principal
	Ordinal      uint64                   // last execution sequence number
	NextLockID   uint64                   // next lock id to allocate
}

// NewState returns an empty state with allocated maps.
func NewState() *State {
	return &State{
		UserPoints:   make(map[uint64][]domain.Point),
		SlopeChanges: make(map[int64]int64),
		Locks:        make(map[uint64]*domain.Lock),
		NextLockID:   1,
	}
}

// EpochPoint is one global history append.
type EpochPoint struct {
	Epoch int
	Point domain.Point
}

// UserEpochPoint is one per-lock history append.
type UserEpochPoint struct {
	LockID uint64
	Epoch  int
	Point  domain.Point
}

// SlopeChange is an absolute schedule value at a week boundary.
type SlopeChange struct {
	WeekTs int64
	DSlope int64
}

// Delta is everything one successful mutation writes. A Delta must be
// applied atomically: either all of it is persisted or none of it.
type Delta struct {
	Ordinal    uint64
	Epoch      int
	Supply     int64
	NextLockID uint64

	GlobalPoints []EpochPoint     // appends, ascending epochs
	UserPoints   []UserEpochPoint // appends, in execution order
	SlopeChanges []SlopeChange    // upserts
	Locks        []domain.Lock    // ledger upserts (merge touches two)
}

// EscrowStore persists escrow engine state.
type EscrowStore interface {
	// Load reads the full state. Returns a fresh empty state if
	// nothing has been persisted yet.
	Load(ctx context.Context) (*State, error)

	// Apply atomically persists one mutation's delta.
	Apply(ctx context.Context, delta *Delta) error
}

// PowerSnapshotStore provides access to power_snapshots storage.
type PowerSnapshotStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate (lock_id, ts).
	InsertBulk(ctx context.Context, points []*domain.PowerSnapshotPoint) error

	// GetByLockID retrieves all points for a lock, ordered by ts ASC.
	GetByLockID(ctx context.Context, lockID uint64) ([]*domain.PowerSnapshotPoint, error)

	// GetByTimeRange retrieves points for a lock within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, lockID uint64, start, end int64) ([]*domain.PowerSnapshotPoint, error)
}

// SupplySnapshotStore provides access to supply_snapshots storage.
type SupplySnapshotStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate ts.
	InsertBulk(ctx context.Context, points []*domain.SupplySnapshotPoint) error

	// GetByTimeRange retrieves points within [start, end] (inclusive), ordered by ts ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.SupplySnapshotPoint, error)
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"veledger/internal/domain"
	"veledger/internal/storage"
)

// PowerSnapshotStore is an in-memory implementation of storage.PowerSnapshotStore.
type PowerSnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PowerSnapshotPoint
}

// NewPowerSnapshotStore creates a new in-memory power snapshot store.
func NewPowerSnapshotStore() *PowerSnapshotStore {
	return &PowerSnapshotStore{data: make(map[string]*domain.PowerSnapshotPoint)}
}

// Compile-time interface check.
var _ storage.PowerSnapshotStore = (*PowerSnapshotStore)(nil)

func powerKey(lockID uint64, ts int64) string {
	return fmt.Sprintf("%d|%d", lockID, ts)
}

// InsertBulk adds multiple points. Fails entire batch on duplicate (lock_id, ts).
func (s *PowerSnapshotStore) InsertBulk(_ context.Context, points []*domain.PowerSnapshotPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(points))
	for _, p := range points {
		if p == nil {
			return storage.ErrInvalidInput
		}
		key := powerKey(p.LockID, p.Ts)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range points {
		c := *p
		s.data[powerKey(p.LockID, p.Ts)] = &c
	}
	return nil
}

// GetByLockID retrieves all points for a lock, ordered by ts ASC.
func (s *PowerSnapshotStore) GetByLockID(_ context.Context, lockID uint64) ([]*domain.PowerSnapshotPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PowerSnapshotPoint
	for _, p := range s.data {
		if p.LockID == lockID {
			c := *p
			result = append(result, &c)
		}
	}
	sortPowerPoints(result)
	return result, nil
}

// GetByTimeRange retrieves points for a lock within [start, end] (inclusive).
func (s *PowerSnapshotStore) GetByTimeRange(_ context.Context, lockID uint64, start, end int64) ([]*domain.PowerSnapshotPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PowerSnapshotPoint
	for _, p := range s.data {
		if p.LockID == lockID && p.Ts >= start && p.Ts <= end {
			c := *p
			result = append(result, &c)
		}
	}
	sortPowerPoints(result)
	return result, nil
}

func sortPowerPoints(points []*domain.PowerSnapshotPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].Ts != points[j].Ts {
			return points[i].Ts < points[j].Ts
		}
		return points[i].LockID < points[j].LockID
	})
}

// SupplySnapshotStore is an in-memory implementation of storage.SupplySnapshotStore.
type SupplySnapshotStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.SupplySnapshotPoint
}

// NewSupplySnapshotStore creates a new in-memory supply snapshot store.
func NewSupplySnapshotStore() *SupplySnapshotStore {
	return &SupplySnapshotStore{data: make(map[int64]*domain.SupplySnapshotPoint)}
}

// Compile-time interface check.
var _ storage.SupplySnapshotStore = (*SupplySnapshotStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate ts.
func (s *SupplySnapshotStore) InsertBulk(_ context.Context, points []*domain.SupplySnapshotPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[int64]struct{}, len(points))
	for _, p := range points {
		if p == nil {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[p.Ts]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[p.Ts]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[p.Ts] = struct{}{}
	}

	for _, p := range points {
		c := *p
		s.data[p.Ts] = &c
	}
	return nil
}

// GetByTimeRange retrieves points within [start, end] (inclusive), ordered by ts ASC.
func (s *SupplySnapshotStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.SupplySnapshotPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SupplySnapshotPoint
	for _, p := range s.data {
		if p.Ts >= start && p.Ts <= end {
			c := *p
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ts < result[j].Ts })
	return result, nil
}

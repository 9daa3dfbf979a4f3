// Package memory provides in-memory storage implementations for tests
// and ephemeral deployments.
package memory

import (
	"context"
	"sync"

	"veledger/internal/domain"
	"veledger/internal/storage"
)

// EscrowStore is an in-memory implementation of storage.EscrowStore.
type EscrowStore struct {
	mu    sync.RWMutex
	state *storage.State
}

// NewEscrowStore creates an empty in-memory escrow store.
func NewEscrowStore() *EscrowStore {
	return &EscrowStore{state: storage.NewState()}
}

// Compile-time interface check.
var _ storage.EscrowStore = (*EscrowStore)(nil)

// Load returns a deep copy of the persisted state.
func (s *EscrowStore) Load(_ context.Context) (*storage.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := storage.NewState()
	st.Epoch = s.state.Epoch
	st.GlobalPoints = append([]domain.Point(nil), s.state.GlobalPoints...)
	for id, hist := range s.state.UserPoints {
		st.UserPoints[id] = append([]domain.Point(nil), hist...)
	}
	for ts, v := range s.state.SlopeChanges {
		st.SlopeChanges[ts] = v
	}
	for id, l := range s.state.Locks {
		c := *l
		st.Locks[id] = &c
	}
	st.Supply = s.state.Supply
	st.Ordinal = s.state.Ordinal
	st.NextLockID = s.state.NextLockID
	return st, nil
}

// Apply persists one mutation's delta. History writes are append-only:
// a global or per-lock point at an already occupied epoch is rejected
// with ErrDuplicateKey, a gap with ErrInvalidInput, and a rejected
// delta leaves the state untouched.
func (s *EscrowStore) Apply(_ context.Context, delta *storage.Delta) error {
	if delta == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: validate history appends before mutating anything.
	next := len(s.state.GlobalPoints)
	for _, gp := range delta.GlobalPoints {
		if gp.Epoch < next {
			return storage.ErrDuplicateKey
		}
		if gp.Epoch > next {
			return storage.ErrInvalidInput
		}
		next++
	}
	userNext := make(map[uint64]int)
	for _, up := range delta.UserPoints {
		n, ok := userNext[up.LockID]
		if !ok {
			n = len(s.state.UserPoints[up.LockID])
			if n == 0 {
				n = 1 // epoch 0 is the implicit zero sentinel
			}
		}
		if up.Epoch < n {
			return storage.ErrDuplicateKey
		}
		if up.Epoch > n {
			return storage.ErrInvalidInput
		}
		userNext[up.LockID] = n + 1
	}

	for _, gp := range delta.GlobalPoints {
		s.state.GlobalPoints = append(s.state.GlobalPoints, gp.Point)
	}
	for _, up := range delta.UserPoints {
		hist := s.state.UserPoints[up.LockID]
		if hist == nil {
			hist = []domain.Point{{}}
		}
		s.state.UserPoints[up.LockID] = append(hist, up.Point)
	}
	for _, sc := range delta.SlopeChanges {
		s.state.SlopeChanges[sc.WeekTs] = sc.DSlope
	}
	for i := range delta.Locks {
		l := delta.Locks[i]
		s.state.Locks[l.ID] = &l
	}
	s.state.Epoch = delta.Epoch
	s.state.Supply = delta.Supply
	s.state.Ordinal = delta.Ordinal
	s.state.NextLockID = delta.NextLockID
	return nil
}

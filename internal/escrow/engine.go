// Package escrow implements the vote-escrow accounting engine: locks
// of a fungible asset whose voting power decays linearly to zero at
// expiry, tracked through sparse weekly checkpoints (global history,
// per-lock history, slope-change schedule) instead of per-second
// values.
//
// Known limitation: the weekly replay in the checkpoint engine is
// capped at MaxReplayWeeks (255, about five years) per call. State
// left unchecked for longer reads stale, under-decayed power until a
// later checkpoint catches it up; the condition is surfaced through
// the replay_truncated_total metric rather than an error.
package escrow

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"veledger/internal/domain"
	"veledger/internal/idhash"
	"veledger/internal/observability"
	"veledger/internal/storage"
)

// Vault holds locked principal in custody. Both methods must fail
// loudly on insufficient balance; the engine aborts the whole
// operation on failure.
type Vault interface {
	TransferIn(ctx context.Context, from string, amount int64) error
	TransferOut(ctx context.Context, to string, amount int64) error
}

// Registry tracks lock ownership. The engine mints and burns entries
// as locks are created and consumed; authorization checks for every
// mutator go through IsApprovedOrOwner.
type Registry interface {
	Mint(owner string, lockID uint64)
	Burn(lockID uint64)
	Move(to string, lockID uint64)
	OwnerOf(lockID uint64) (string, bool)
	IsApprovedOrOwner(caller string, lockID uint64) bool
}

// Notifier receives change events after a mutation commits. Handlers
// must not call back into the engine: re-entrant mutations are
// rejected with ErrReentrancy.
type Notifier interface {
	Publish(ev domain.LockEvent)
}

// Options configures an Engine. Store may be nil for an ephemeral
// engine (tests); Registry and Vault are required; Notifier and Logger
// are optional.
type Options struct {
	Clock    Clock
	Store    storage.EscrowStore
	Registry Registry
	Vault    Vault
	Notifier Notifier
	Logger   *log.Logger
}

// Engine is the checkpoint/decay accounting core. All mutating methods
// execute under an exclusive guard; concurrent or re-entrant mutation
// attempts fail with ErrReentrancy and must be retried by the caller.
type Engine struct {
	clock    Clock
	store    storage.EscrowStore
	registry Registry
	vault    Vault
	notifier Notifier
	logger   *log.Logger

	inCall atomic.Bool
	mu     sync.RWMutex

	epoch        int
	global       []domain.Point // index = epoch
	userHist     map[uint64][]domain.Point
	slopeChanges map[int64]int64
	locks        map[uint64]*domain.Lock
	supply       int64
	ordinal      uint64
	nextLockID   uint64
}

// New creates an engine, loading any previously persisted state from
// the store. A fresh engine writes its epoch-0 zero point immediately.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("escrow: registry is required")
	}
	if opts.Vault == nil {
		return nil, fmt.Errorf("escrow: vault is required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	e := &Engine{
		clock:        clock,
		store:        opts.Store,
		registry:     opts.Registry,
		vault:        opts.Vault,
		notifier:     opts.Notifier,
		logger:       logger,
		userHist:     make(map[uint64][]domain.Point),
		slopeChanges: make(map[int64]int64),
		locks:        make(map[uint64]*domain.Lock),
		nextLockID:   1,
	}

	if e.store != nil {
		st, err := e.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load escrow state: %w", err)
		}
		if len(st.GlobalPoints) > 0 {
			e.hydrate(st)
			return e, nil
		}
	}

	// Fresh state: epoch 0 anchors the global history.
	genesis := domain.Point{Ts: clock.Now()}
	e.global = []domain.Point{genesis}
	if e.store != nil {
		delta := &storage.Delta{
			NextLockID:   e.nextLockID,
			GlobalPoints: []storage.EpochPoint{{Epoch: 0, Point: genesis}},
		}
		if err := e.store.Apply(ctx, delta); err != nil {
			return nil, fmt.Errorf("persist genesis point: %w", err)
		}
	}
	return e, nil
}

// hydrate installs a loaded state and rebuilds the ownership registry.
func (e *Engine) hydrate(st *storage.State) {
	e.epoch = st.Epoch
	e.global = st.GlobalPoints
	e.userHist = st.UserPoints
	e.slopeChanges = st.SlopeChanges
	e.locks = st.Locks
	e.supply = st.Supply
	e.ordinal = st.Ordinal
	e.nextLockID = st.NextLockID
	if e.nextLockID == 0 {
		e.nextLockID = 1
	}

	for id, l := range e.locks {
		if l.Owner != "" {
			e.registry.Mint(l.Owner, id)
		}
	}

	observability.SetLockedSupply(e.supply)
	observability.SetActiveLocks(e.countActive())
	e.logger.Printf("restored state: epoch=%d locks=%d supply=%d ordinal=%d",
		e.epoch, len(e.locks), e.supply, e.ordinal)
}

// countActive counts locks with a live balance. Caller holds mu.
func (e *Engine) countActive() int {
	n := 0
	for _, l := range e.locks {
		if l.Locked.Active() {
			n++
		}
	}
	return n
}

// commit persists a session's writes and, only after the store
// accepts them, applies them to memory. Store rejection leaves the
// engine untouched.
func (e *Engine) commit(ctx context.Context, s *session, locks []domain.Lock, supply int64, nextLockID uint64) error {
	delta := &storage.Delta{
		Ordinal:    s.ord,
		Epoch:      e.epoch + len(s.points),
		Supply:     supply,
		NextLockID: nextLockID,
		UserPoints: s.userPoints,
		Locks:      locks,
	}
	for i, p := range s.points {
		delta.GlobalPoints = append(delta.GlobalPoints, storage.EpochPoint{Epoch: e.epoch + 1 + i, Point: p})
	}
	for ts, v := range s.slopeChanges {
		delta.SlopeChanges = append(delta.SlopeChanges, storage.SlopeChange{WeekTs: ts, DSlope: v})
	}

	if e.store != nil {
		if err := e.store.Apply(ctx, delta); err != nil {
			return fmt.Errorf("persist checkpoint: %w", err)
		}
	}

	e.global = append(e.global, s.points...)
	e.epoch += len(s.points)
	for ts, v := range s.slopeChanges {
		e.slopeChanges[ts] = v
	}
	for _, up := range s.userPoints {
		hist := e.userHist[up.LockID]
		if hist == nil {
			// User epoch 0 is an unused zero sentinel.
			hist = []domain.Point{{}}
		}
		e.userHist[up.LockID] = append(hist, up.Point)
	}
	for i := range locks {
		l := locks[i]
		e.locks[l.ID] = &l
	}
	e.supply = supply
	e.ordinal = s.ord
	e.nextLockID = nextLockID

	observability.SetLockedSupply(e.supply)
	observability.SetActiveLocks(e.countActive())
	if len(s.points) > 0 {
		observability.SetLastCheckpointTs(s.points[len(s.points)-1].Ts)
	}
	return nil
}

// emit publishes a change notification. Safe with a nil notifier.
func (e *Engine) emit(kind domain.EventKind, lockID uint64, owner string, lb domain.LockedBalance, ts int64, ord uint64) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(domain.LockEvent{
		EventID:      idhash.ComputeEventID(string(kind), lockID, ord),
		Kind:         kind,
		LockID:       lockID,
		Owner:        owner,
		Amount:       lb.Amount,
		End:          lb.End,
		LockedSupply: e.supply,
		Ts:           ts,
		Ordinal:      ord,
	})
	observability.RecordNotification(string(kind))
}

// Now returns the engine's current time.
func (e *Engine) Now() int64 {
	return e.clock.Now()
}

// Supply returns the total locked principal.
func (e *Engine) Supply() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.supply
}

// Epoch returns the global history head index.
func (e *Engine) Epoch() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epoch
}

// Ordinal returns the last execution sequence number.
func (e *Engine) Ordinal() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ordinal
}

// Locked returns the current locked balance of a lock.
func (e *Engine) Locked(lockID uint64) (domain.LockedBalance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.locks[lockID]
	if !ok {
		return domain.LockedBalance{}, ErrLockNotFound
	}
	return l.Locked, nil
}

// ActiveLocks returns copies of all locks with a live balance.
func (e *Engine) ActiveLocks() []domain.Lock {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []domain.Lock
	for _, l := range e.locks {
		if l.Locked.Active() {
			out = append(out, *l)
		}
	}
	return out
}

// State exports a deep copy of the engine's durable state for
// verification tooling.
func (e *Engine) State() *storage.State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := storage.NewState()
	st.Epoch = e.epoch
	st.GlobalPoints = append([]domain.Point(nil), e.global...)
	for id, hist := range e.userHist {
		st.UserPoints[id] = append([]domain.Point(nil), hist...)
	}
	for ts, v := range e.slopeChanges {
		st.SlopeChanges[ts] = v
	}
	for id, l := range e.locks {
		c := *l
		st.Locks[id] = &c
	}
	st.Supply = e.supply
	st.Ordinal = e.ordinal
	st.NextLockID = e.nextLockID
	return st
}

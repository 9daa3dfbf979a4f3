package escrow

import (
	"context"

	"veledger/internal/domain"
)

// beginMutation takes the exclusive call guard. The engine never
// serializes mutations: a losing caller gets ErrReentrancy and retries.
func (e *Engine) beginMutation() error {
	if !e.inCall.CompareAndSwap(false, true) {
		return ErrReentrancy
	}
	return nil
}

func (e *Engine) endMutation() {
	e.inCall.Store(false)
}

// CreateLock locks amount for duration seconds and mints a new lock
// owned by the caller. The unlock time rounds down to a week boundary
// and must land in the future, at most MaxLockSeconds ahead.
func (e *Engine) CreateLock(ctx context.Context, caller string, amount, duration int64) (uint64, error) {
	return e.createLock(ctx, caller, caller, amount, duration)
}

// CreateLockFor is CreateLock with the new lock owned by to.
func (e *Engine) CreateLockFor(ctx context.Context, caller, to string, amount, duration int64) (uint64, error) {
	return e.createLock(ctx, caller, to, amount, duration)
}

func (e *Engine) createLock(ctx context.Context, from, to string, amount, duration int64) (uint64, error) {
	if err := e.beginMutation(); err != nil {
		return 0, err
	}
	defer e.endMutation()
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if to == "" {
		return 0, ErrInvalidAccount
	}
	now := e.clock.Now()
	unlock := domain.FloorWeek(now + duration)
	if unlock <= now {
		return 0, ErrDurationOutOfRange
	}
	if unlock > now+domain.MaxLockSeconds {
		return 0, ErrDurationOutOfRange
	}

	if err := e.vault.TransferIn(ctx, from, amount); err != nil {
		return 0, err
	}

	id := e.nextLockID
	ord := e.ordinal + 1
	newLocked := domain.LockedBalance{Amount: amount, Start: now, End: unlock}

	s := e.newSession(now, ord)
	s.checkpoint(id, domain.LockedBalance{}, newLocked)

	lock := domain.Lock{ID: id, Owner: to, Locked: newLocked}
	if err := e.commit(ctx, s, []domain.Lock{lock}, e.supply+amount, id+1); err != nil {
		// Refund custody; the lock was never created.
		if rerr := e.vault.TransferOut(ctx, from, amount); rerr != nil {
			e.logger.Printf("refund after failed create of lock %d: %v", id, rerr)
		}
		return 0, err
	}

	e.registry.Mint(to, id)
	e.emit(domain.EventDeposit, id, to, newLocked, now, ord)
	return id, nil
}

// IncreaseAmount adds amount to an existing, non-expired lock without
// changing its expiry. The caller must be owner or approved.
func (e *Engine) IncreaseAmount(ctx context.Context, caller string, lockID uint64, amount int64) error {
	return e.deposit(ctx, caller, lockID, amount, true)
}

// DepositFor tops up a lock on behalf of its owner. Any account may
// call it; ownership and expiry are unchanged.
func (e *Engine) DepositFor(ctx context.Context, caller string, lockID uint64, amount int64) error {
	return e.deposit(ctx, caller, lockID, amount, false)
}

func (e *Engine) deposit(ctx context.Context, from string, lockID uint64, amount int64, checkAuth bool) error {
	if err := e.beginMutation(); err != nil {
		return err
	}
	defer e.endMutation()
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount <= 0 {
		return ErrInvalidAmount
	}
	lock, ok := e.locks[lockID]
	if !ok || lock.Locked.Amount == 0 {
		return ErrLockNotFound
	}
	if checkAuth && !e.registry.IsApprovedOrOwner(from, lockID) {
		return ErrUnauthorized
	}
	now := e.clock.Now()
	if lock.Locked.Expired(now) {
		return ErrLockExpired
	}

	if err := e.vault.TransferIn(ctx, from, amount); err != nil {
		return err
	}

	ord := e.ordinal + 1
	oldLocked := lock.Locked
	newLocked := oldLocked
	newLocked.Amount += amount

	s := e.newSession(now, ord)
	s.checkpoint(lockID, oldLocked, newLocked)

	updated := *lock
	updated.Locked = newLocked
	if err := e.commit(ctx, s, []domain.Lock{updated}, e.supply+amount, e.nextLockID); err != nil {
		if rerr := e.vault.TransferOut(ctx, from, amount); rerr != nil {
			e.logger.Printf("refund after failed deposit to lock %d: %v", lockID, rerr)
		}
		return err
	}

	e.emit(domain.EventDeposit, lockID, updated.Owner, newLocked, now, ord)
	return nil
}

// IncreaseUnlockTime extends a non-expired lock to unlockTime (rounded
// down to a week boundary). The rounded time must strictly exceed the
// current expiry and stay within MaxLockSeconds of now.
func (e *Engine) IncreaseUnlockTime(ctx context.Context, caller string, lockID uint64, unlockTime int64) error {
	if err := e.beginMutation(); err != nil {
		return err
	}
	defer e.endMutation()
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[lockID]
	if !ok || lock.Locked.Amount == 0 {
		return ErrLockNotFound
	}
	if !e.registry.IsApprovedOrOwner(caller, lockID) {
		return ErrUnauthorized
	}
	now := e.clock.Now()
	if lock.Locked.Expired(now) {
		return ErrLockExpired
	}
	newEnd := domain.FloorWeek(unlockTime)
	if newEnd <= lock.Locked.End {
		return ErrDurationOutOfRange
	}
	if newEnd > now+domain.MaxLockSeconds {
		return ErrDurationOutOfRange
	}

	ord := e.ordinal + 1
	oldLocked := lock.Locked
	newLocked := oldLocked
	newLocked.End = newEnd

	s := e.newSession(now, ord)
	s.checkpoint(lockID, oldLocked, newLocked)

	updated := *lock
	updated.Locked = newLocked
	if err := e.commit(ctx, s, []domain.Lock{updated}, e.supply, e.nextLockID); err != nil {
		return err
	}

	e.emit(domain.EventDeposit, lockID, updated.Owner, newLocked, now, ord)
	return nil
}

// Withdraw releases an expired lock's principal to the caller, empties
// the lock and burns its ownership record. The id is never reused.
func (e *Engine) Withdraw(ctx context.Context, caller string, lockID uint64) (int64, error) {
	if err := e.beginMutation(); err != nil {
		return 0, err
	}
	defer e.endMutation()
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[lockID]
	if !ok || lock.Locked.Amount == 0 {
		return 0, ErrLockNotFound
	}
	if !e.registry.IsApprovedOrOwner(caller, lockID) {
		return 0, ErrUnauthorized
	}
	now := e.clock.Now()
	if !lock.Locked.Expired(now) {
		return 0, ErrLockNotExpired
	}

	amount := lock.Locked.Amount
	if err := e.vault.TransferOut(ctx, caller, amount); err != nil {
		return 0, err
	}

	ord := e.ordinal + 1
	oldLocked := lock.Locked

	s := e.newSession(now, ord)
	s.checkpoint(lockID, oldLocked, domain.LockedBalance{})

	burned := domain.Lock{ID: lockID} // emptied, owner cleared
	if err := e.commit(ctx, s, []domain.Lock{burned}, e.supply-amount, e.nextLockID); err != nil {
		if rerr := e.vault.TransferIn(ctx, caller, amount); rerr != nil {
			e.logger.Printf("reclaim after failed withdraw of lock %d: %v", lockID, rerr)
		}
		return 0, err
	}

	e.registry.Burn(lockID)
	e.emit(domain.EventWithdraw, lockID, "", domain.LockedBalance{}, now, ord)
	return amount, nil
}

// Merge consumes the source lock entirely into the destination: the
// destination keeps its start and gains the source's amount, and its
// expiry becomes the later of the two. The source is burned. The
// caller must be authorized on both locks, and neither may be expired.
// No asset moves; the principal is already in custody.
func (e *Engine) Merge(ctx context.Context, caller string, fromID, toID uint64) error {
	if err := e.beginMutation(); err != nil {
		return err
	}
	defer e.endMutation()
	e.mu.Lock()
	defer e.mu.Unlock()

	if fromID == toID {
		return ErrSelfMerge
	}
	src, ok := e.locks[fromID]
	if !ok || src.Locked.Amount == 0 {
		return ErrLockNotFound
	}
	dst, ok := e.locks[toID]
	if !ok || dst.Locked.Amount == 0 {
		return ErrLockNotFound
	}
	if !e.registry.IsApprovedOrOwner(caller, fromID) || !e.registry.IsApprovedOrOwner(caller, toID) {
		return ErrUnauthorized
	}
	now := e.clock.Now()
	if src.Locked.Expired(now) || dst.Locked.Expired(now) {
		return ErrLockExpired
	}

	ord := e.ordinal + 1
	srcLocked := src.Locked
	dstLocked := dst.Locked

	end := dstLocked.End
	if srcLocked.End > end {
		end = srcLocked.End
	}
	merged := dstLocked
	merged.Amount += srcLocked.Amount
	merged.End = end

	s := e.newSession(now, ord)
	s.checkpoint(fromID, srcLocked, domain.LockedBalance{})
	s.checkpoint(toID, dstLocked, merged)

	burned := domain.Lock{ID: fromID}
	updated := *dst
	updated.Locked = merged
	if err := e.commit(ctx, s, []domain.Lock{burned, updated}, e.supply, e.nextLockID); err != nil {
		return err
	}

	e.registry.Burn(fromID)
	e.emit(domain.EventMerge, toID, updated.Owner, merged, now, ord)
	return nil
}

// TransferLock moves ownership of a lock to another account and marks
// the ownership change at the current ordinal: the lock reports zero
// power for the rest of this execution step.
func (e *Engine) TransferLock(ctx context.Context, caller, to string, lockID uint64) error {
	if err := e.beginMutation(); err != nil {
		return err
	}
	defer e.endMutation()
	e.mu.Lock()
	defer e.mu.Unlock()

	if to == "" {
		return ErrInvalidAccount
	}
	lock, ok := e.locks[lockID]
	if !ok || lock.Owner == "" {
		return ErrLockNotFound
	}
	if !e.registry.IsApprovedOrOwner(caller, lockID) {
		return ErrUnauthorized
	}

	now := e.clock.Now()
	ord := e.ordinal + 1

	updated := *lock
	updated.Owner = to
	updated.OwnerChangedAt = ord

	// Ownership moves do not perturb power; no checkpoint is needed,
	// only the ledger write and the ordinal advance.
	s := e.newSession(now, ord)
	if err := e.commit(ctx, s, []domain.Lock{updated}, e.supply, e.nextLockID); err != nil {
		return err
	}

	e.registry.Move(to, lockID)
	e.emit(domain.EventTransfer, lockID, to, updated.Locked, now, ord)
	return nil
}

// Checkpoint replays the global history up to now with no per-lock
// effect. Calling it twice in the same second is a no-op the second
// time.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if err := e.beginMutation(); err != nil {
		return err
	}
	defer e.endMutation()
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if e.global[e.epoch].Ts == now {
		return nil
	}

	ord := e.ordinal + 1
	s := e.newSession(now, ord)
	s.checkpoint(0, domain.LockedBalance{}, domain.LockedBalance{})
	return e.commit(ctx, s, nil, e.supply, e.nextLockID)
}

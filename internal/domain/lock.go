package domain

// LockedBalance is the current state of one lock: Amount tokens held
// until End. A zero End means no active lock. Amounts are integer base
// units; voting power math floors Amount/MaxLockSeconds, so amounts
// are expected to carry fixed-point scale (e.g. 1e9 base units per
// whole token).
type LockedBalance struct {
	Amount int64 // locked principal in base units, >= 0
	Start  int64 // creation time, Unix seconds
	End    int64 // expiry time, week-aligned; 0 = no active lock
}

// Active reports whether the balance represents a live lock.
func (lb LockedBalance) Active() bool {
	return lb.Amount > 0 && lb.End != 0
}

// Expired reports whether the lock has reached its expiry at time now.
func (lb LockedBalance) Expired(now int64) bool {
	return lb.End <= now
}

// Lock is a vote-escrow position: a LockedBalance owned by an account.
// Lock ids are allocated sequentially and never reused; a withdrawn or
// merged-away lock keeps its id but is emptied and its owner cleared.
type Lock struct {
	ID     uint64
	Owner  string // base58 account address; empty after burn
	Locked LockedBalance

	// OwnerChangedAt is the ordinal of the last ownership transfer.
	// A lock transferred in the current execution step reports zero
	// power until the next step.
	OwnerChangedAt uint64
}

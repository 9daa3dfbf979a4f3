// Package ownership tracks which account owns which lock, plus
// per-lock and operator approvals. It is the capability set the escrow
// engine consults for every authorization check.
package ownership

import (
	"errors"
	"sync"
)

// Errors returned by the registry.
var (
	ErrNotOwned       = errors.New("lock has no owner")
	ErrNotOwner       = errors.New("caller is not the owner")
	ErrSelfApproval   = errors.New("cannot approve the owner")
	ErrInvalidAccount = errors.New("invalid account")
)

// Registry is an in-memory owner/lock index: an owner-to-locks
// multimap with swap-and-pop removal, the reverse lock-to-owner map,
// and approval state. It is rebuilt from the lock ledger at startup;
// approvals are session-scoped and intentionally not durable.
type Registry struct {
	mu sync.RWMutex

	ownerLocks map[string][]uint64 // owner -> lock ids
	lockOwner  map[uint64]string   // lock id -> owner
	lockIndex  map[uint64]int      // lock id -> index within owner's slice

	approved  map[uint64]string          // lock id -> approved account
	operators map[string]map[string]bool // owner -> operator -> approved
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ownerLocks: make(map[string][]uint64),
		lockOwner:  make(map[uint64]string),
		lockIndex:  make(map[uint64]int),
		approved:   make(map[uint64]string),
		operators:  make(map[string]map[string]bool),
	}
}

// Mint records a newly created lock under owner.
func (r *Registry) Mint(owner string, lockID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(owner, lockID)
}

// Burn removes a lock from the index and clears its approval.
func (r *Registry) Burn(lockID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(lockID)
	delete(r.approved, lockID)
}

// Move reassigns a lock to a new owner, clearing its approval.
func (r *Registry) Move(to string, lockID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(lockID)
	delete(r.approved, lockID)
	r.add(to, lockID)
}

// add inserts lockID at the tail of owner's slice. Caller holds mu.
func (r *Registry) add(owner string, lockID uint64) {
	r.lockOwner[lockID] = owner
	r.lockIndex[lockID] = len(r.ownerLocks[owner])
	r.ownerLocks[owner] = append(r.ownerLocks[owner], lockID)
}

// remove deletes lockID via swap-and-pop. Caller holds mu.
func (r *Registry) remove(lockID uint64) {
	owner, ok := r.lockOwner[lockID]
	if !ok {
		return
	}
	locks := r.ownerLocks[owner]
	idx := r.lockIndex[lockID]
	last := len(locks) - 1
	if idx != last {
		moved := locks[last]
		locks[idx] = moved
		r.lockIndex[moved] = idx
	}
	r.ownerLocks[owner] = locks[:last]
	if last == 0 {
		delete(r.ownerLocks, owner)
	}
	delete(r.lockOwner, lockID)
	delete(r.lockIndex, lockID)
}

// OwnerOf returns the owner of a lock.
func (r *Registry) OwnerOf(lockID uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.lockOwner[lockID]
	return owner, ok
}

// LocksOf returns a copy of the lock ids owned by an account.
func (r *Registry) LocksOf(owner string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]uint64(nil), r.ownerLocks[owner]...)
}

// Approve grants account the right to act on a single lock. Only the
// lock's owner may call it; an empty account clears the approval.
func (r *Registry) Approve(caller, account string, lockID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.lockOwner[lockID]
	if !ok {
		return ErrNotOwned
	}
	if caller != owner {
		return ErrNotOwner
	}
	if account == owner {
		return ErrSelfApproval
	}
	if account == "" {
		delete(r.approved, lockID)
		return nil
	}
	r.approved[lockID] = account
	return nil
}

// SetOperator grants or revokes operator's right to act on all of the
// caller's locks.
func (r *Registry) SetOperator(caller, operator string, approved bool) error {
	if caller == "" || operator == "" || caller == operator {
		return ErrInvalidAccount
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := r.operators[caller]
	if ops == nil {
		if !approved {
			return nil
		}
		ops = make(map[string]bool)
		r.operators[caller] = ops
	}
	if approved {
		ops[operator] = true
	} else {
		delete(ops, operator)
	}
	return nil
}

// IsApprovedOrOwner reports whether caller may act on the lock: it is
// the owner, the lock's approved account, or an operator for the owner.
func (r *Registry) IsApprovedOrOwner(caller string, lockID uint64) bool {
	if caller == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.lockOwner[lockID]
	if !ok {
		return false
	}
	if caller == owner {
		return true
	}
	if r.approved[lockID] == caller {
		return true
	}
	return r.operators[owner][caller]
}

package escrow

import (
	"errors"

	"veledger/internal/storage"
)

// Errors returned by the escrow engine. All mutator failures abort the
// whole operation; no partial checkpoint state is ever persisted.
var (
	// ErrInvalidAmount is returned for a zero or negative amount where
	// a positive one is required.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidAccount is returned for an empty or malformed account.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrLockNotFound is returned when the lock id has never been
	// allocated or the lock has been emptied.
	ErrLockNotFound = errors.New("lock not found")

	// ErrLockExpired is returned when an amount or duration change
	// targets a lock whose expiry has passed.
	ErrLockExpired = errors.New("lock expired")

	// ErrLockNotExpired is returned on withdraw before expiry.
	ErrLockNotExpired = errors.New("lock not expired")

	// ErrUnauthorized is returned when the caller is neither owner nor
	// approved for the lock.
	ErrUnauthorized = errors.New("caller not owner or approved")

	// ErrDurationOutOfRange is returned when a rounded unlock time is
	// in the past, beyond the four-year cap, or does not extend the
	// current expiry.
	ErrDurationOutOfRange = errors.New("unlock time out of range")

	// ErrSelfMerge is returned when merging a lock into itself.
	ErrSelfMerge = errors.New("cannot merge a lock into itself")

	// ErrReentrancy is returned when a mutation is attempted while
	// another mutation is executing. Callers retry; the engine never
	// queues.
	ErrReentrancy = errors.New("mutation already in progress")
)

// ErrorReason maps a mutation error to a stable label for metrics.
// Unrecognized errors collapse to "internal" so label cardinality
// stays bounded.
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidAccount):
		return "invalid_account"
	case errors.Is(err, ErrLockNotFound):
		return "lock_not_found"
	case errors.Is(err, ErrLockExpired):
		return "lock_expired"
	case errors.Is(err, ErrLockNotExpired):
		return "lock_not_expired"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrDurationOutOfRange):
		return "duration_out_of_range"
	case errors.Is(err, ErrSelfMerge):
		return "self_merge"
	case errors.Is(err, ErrReentrancy):
		return "reentrancy"
	case errors.Is(err, storage.ErrDuplicateKey):
		return "storage_conflict"
	default:
		return "internal"
	}
}

package domain

// EventKind classifies a lock change notification.
type EventKind string

// Event kind constants.
const (
	EventDeposit  EventKind = "DEPOSIT"
	EventWithdraw EventKind = "WITHDRAW"
	EventMerge    EventKind = "MERGE"
	EventTransfer EventKind = "TRANSFER"
	EventSupply   EventKind = "SUPPLY"
)

// IsValid checks if the kind is a known value.
func (k EventKind) IsValid() bool {
	switch k {
	case EventDeposit, EventWithdraw, EventMerge, EventTransfer, EventSupply:
		return true
	}
	return false
}

// LockEvent is emitted whenever a lock's amount or expiry changes, its
// ownership moves, or the total locked supply changes. Collaborators
// (e.g. a rewards controller) consume these to re-sync eligibility.
type LockEvent struct {
	EventID      string    `json:"event_id"` // deterministic hash, see idhash
	Kind         EventKind `json:"kind"`
	LockID       uint64    `json:"lock_id,omitempty"` // 0 for supply-only events
	Owner        string    `json:"owner,omitempty"`
	Amount       int64     `json:"amount"`        // lock amount after the change
	End          int64     `json:"end"`           // lock expiry after the change
	LockedSupply int64     `json:"locked_supply"` // total principal after the change
	Ts           int64     `json:"ts"`
	Ordinal      uint64    `json:"ordinal"`
}

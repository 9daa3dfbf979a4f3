package domain

// PowerSnapshotPoint is one exported per-lock voting power sample.
// Corresponds to power_snapshots table in ClickHouse.
type PowerSnapshotPoint struct {
	LockID  uint64 // lock identifier
	Ts      int64  // sample time, Unix seconds
	Ordinal uint64 // execution sequence number at sample time
	Power   int64  // voting power in base units
	Amount  int64  // locked principal in base units
	End     int64  // lock expiry
	Owner   string // owner account at sample time
}

// SupplySnapshotPoint is one exported total-supply sample.
// Corresponds to supply_snapshots table in ClickHouse.
type SupplySnapshotPoint struct {
	Ts           int64  // sample time, Unix seconds
	Ordinal      uint64 // execution sequence number at sample time
	TotalPower   int64  // aggregate voting power in base units
	LockedSupply int64  // total locked principal in base units
	ActiveLocks  int    // number of locks with a live balance
}

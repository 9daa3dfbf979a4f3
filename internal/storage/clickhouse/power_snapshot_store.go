package clickhouse

import (
	"context"
	"fmt"

	"veledger/internal/domain"
	"veledger/internal/storage"
)

// PowerSnapshotStore implements storage.PowerSnapshotStore using ClickHouse.
type PowerSnapshotStore struct {
	conn *Conn
}

// NewPowerSnapshotStore creates a new PowerSnapshotStore.
func NewPowerSnapshotStore(conn *Conn) *PowerSnapshotStore {
	return &PowerSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PowerSnapshotStore = (*PowerSnapshotStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate (lock_id, ts).
func (s *PowerSnapshotStore) InsertBulk(ctx context.Context, points []*domain.PowerSnapshotPoint) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		lockID uint64
		ts     int64
	}
	seen := make(map[key]struct{})
	for _, p := range points {
		k := key{p.LockID, p.Ts}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, p := range points {
		exists, err := s.exists(ctx, p.LockID, p.Ts)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO power_snapshots (
			lock_id, ts, ordinal, power, amount, end_ts, owner
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.LockID, p.Ts, p.Ordinal,
			p.Power, p.Amount, p.End, p.Owner,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByLockID retrieves all points for a lock, ordered by ts ASC.
func (s *PowerSnapshotStore) GetByLockID(ctx context.Context, lockID uint64) ([]*domain.PowerSnapshotPoint, error) {
	query := `
		SELECT lock_id, ts, ordinal, power, amount, end_ts, owner
		FROM power_snapshots
		WHERE lock_id = ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, lockID)
	if err != nil {
		return nil, fmt.Errorf("query by lock id: %w", err)
	}
	defer rows.Close()

	return scanPowerSnapshots(rows)
}

// GetByTimeRange retrieves points for a lock within [start, end] (inclusive).
func (s *PowerSnapshotStore) GetByTimeRange(ctx context.Context, lockID uint64, start, end int64) ([]*domain.PowerSnapshotPoint, error) {
	query := `
		SELECT lock_id, ts, ordinal, power, amount, end_ts, owner
		FROM power_snapshots
		WHERE lock_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, lockID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPowerSnapshots(rows)
}

// exists checks if a point with the given key exists.
func (s *PowerSnapshotStore) exists(ctx context.Context, lockID uint64, ts int64) (bool, error) {
	query := `
		SELECT count(*) FROM power_snapshots
		WHERE lock_id = ? AND ts = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, lockID, ts).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanPowerSnapshots scans multiple rows.
func scanPowerSnapshots(rows chRows) ([]*domain.PowerSnapshotPoint, error) {
	var points []*domain.PowerSnapshotPoint

	for rows.Next() {
		var p domain.PowerSnapshotPoint

		err := rows.Scan(
			&p.LockID, &p.Ts, &p.Ordinal,
			&p.Power, &p.Amount, &p.End, &p.Owner,
		)
		if err != nil {
			return nil, fmt.Errorf("scan power snapshot row: %w", err)
		}

		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate power snapshot rows: %w", err)
	}

	return points, nil
}

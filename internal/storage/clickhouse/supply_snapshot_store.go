package clickhouse

import (
	"context"
	"fmt"

	"veledger/internal/domain"
	"veledger/internal/storage"
)

// SupplySnapshotStore implements storage.SupplySnapshotStore using ClickHouse.
type SupplySnapshotStore struct {
	conn *Conn
}

// NewSupplySnapshotStore creates a new SupplySnapshotStore.
func NewSupplySnapshotStore(conn *Conn) *SupplySnapshotStore {
	return &SupplySnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SupplySnapshotStore = (*SupplySnapshotStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate ts.
func (s *SupplySnapshotStore) InsertBulk(ctx context.Context, points []*domain.SupplySnapshotPoint) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[int64]struct{})
	for _, p := range points {
		if _, exists := seen[p.Ts]; exists {
			return storage.ErrDuplicateKey
		}
		seen[p.Ts] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, p := range points {
		exists, err := s.exists(ctx, p.Ts)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO supply_snapshots (
			ts, ordinal, total_power, locked_supply, active_locks
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.Ts, p.Ordinal, p.TotalPower, p.LockedSupply, uint32(p.ActiveLocks),
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

// GetByTimeRange retrieves points within [start, end] (inclusive), ordered by ts ASC.
func (s *SupplySnapshotStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.SupplySnapshotPoint, error) {
	query := `
		SELECT ts, ordinal, total_power, locked_supply, active_locks
		FROM supply_snapshots
		WHERE ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanSupplySnapshots(rows)
}

// exists checks if a point with the given ts exists.
func (s *SupplySnapshotStore) exists(ctx context.Context, ts int64) (bool, error) {
	query := `SELECT count(*) FROM supply_snapshots WHERE ts = ?`

	var count uint64
	err := s.conn.QueryRow(ctx, query, ts).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanSupplySnapshots scans multiple rows.
func scanSupplySnapshots(rows chRows) ([]*domain.SupplySnapshotPoint, error) {
	var points []*domain.SupplySnapshotPoint

	for rows.Next() {
		var p domain.SupplySnapshotPoint
		var activeLocks uint32

		err := rows.Scan(
			&p.Ts, &p.Ordinal, &p.TotalPower, &p.LockedSupply, &activeLocks,
		)
		if err != nil {
			return nil, fmt.Errorf("scan supply snapshot row: %w", err)
		}

		p.ActiveLocks = int(activeLocks)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supply snapshot rows: %w", err)
	}

	return points, nil
}

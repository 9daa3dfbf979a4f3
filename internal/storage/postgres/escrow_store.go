package postgres

import (
	"context"
	"fmt"
	"time"

	"veledger/internal/domain"
	"veledger/internal/observability"
	"veledger/internal/storage"
)

// EscrowStore implements storage.EscrowStore using PostgreSQL.
type EscrowStore struct {
	pool *Pool
}

// NewEscrowStore creates a new EscrowStore.
func NewEscrowStore(pool *Pool) *EscrowStore {
	return &EscrowStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EscrowStore = (*EscrowStore)(nil)

// Load reads the full persisted state. A database with no meta row
// loads as a fresh empty state.
func (s *EscrowStore) Load(ctx context.Context) (*storage.State, error) {
	start := time.Now()
	st, err := s.load(ctx)
	observability.RecordDBQuery("postgres", "escrow_load", time.Since(start).Seconds(), err)
	return st, err
}

func (s *EscrowStore) load(ctx context.Context) (*storage.State, error) {
	st := storage.NewState()

	var ordinal, nextLockID int64
	err := s.pool.QueryRow(ctx, `
		SELECT epoch, supply, ordinal, next_lock_id
		FROM escrow_meta WHERE id = 1
	`).Scan(&st.Epoch, &st.Supply, &ordinal, &nextLockID)
	if err != nil {
		if isNotFoundError(err) {
			return st, nil
		}
		return nil, fmt.Errorf("load escrow meta: %w", err)
	}
	st.Ordinal = uint64(ordinal)
	st.NextLockID = uint64(nextLockID)

	rows, err := s.pool.Query(ctx, `
		SELECT bias, slope, ts, ordinal
		FROM global_checkpoints
		ORDER BY epoch ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load global checkpoints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Point
		var ord int64
		if err := rows.Scan(&p.Bias, &p.Slope, &p.Ts, &ord); err != nil {
			return nil, fmt.Errorf("scan global checkpoint: %w", err)
		}
		p.Ordinal = uint64(ord)
		st.GlobalPoints = append(st.GlobalPoints, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate global checkpoints: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT lock_id, bias, slope, ts, ordinal
		FROM user_checkpoints
		ORDER BY lock_id ASC, user_epoch ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load user checkpoints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lockID int64
		var p domain.Point
		var ord int64
		if err := rows.Scan(&lockID, &p.Bias, &p.Slope, &p.Ts, &ord); err != nil {
			return nil, fmt.Errorf("scan user checkpoint: %w", err)
		}
		p.Ordinal = uint64(ord)
		id := uint64(lockID)
		hist := st.UserPoints[id]
		if hist == nil {
			// User epoch 0 is an unused zero sentinel.
			hist = []domain.Point{{}}
		}
		st.UserPoints[id] = append(hist, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user checkpoints: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT week_ts, dslope FROM slope_changes`)
	if err != nil {
		return nil, fmt.Errorf("load slope changes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var weekTs, dslope int64
		if err := rows.Scan(&weekTs, &dslope); err != nil {
			return nil, fmt.Errorf("scan slope change: %w", err)
		}
		st.SlopeChanges[weekTs] = dslope
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slope changes: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT lock_id, owner, amount, start_ts, end_ts, owner_changed_at
		FROM locks
	`)
	if err != nil {
		return nil, fmt.Errorf("load locks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lockID, ownerChangedAt int64
		var l domain.Lock
		if err := rows.Scan(&lockID, &l.Owner, &l.Locked.Amount, &l.Locked.Start, &l.Locked.End, &ownerChangedAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		l.ID = uint64(lockID)
		l.OwnerChangedAt = uint64(ownerChangedAt)
		st.Locks[l.ID] = &l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locks: %w", err)
	}

	return st, nil
}

// Apply persists one mutation's delta in a single transaction. History
// inserts hit primary keys, so replaying an already applied delta
// fails with ErrDuplicateKey and writes nothing.
func (s *EscrowStore) Apply(ctx context.Context, delta *storage.Delta) error {
	start := time.Now()
	err := s.apply(ctx, delta)
	observability.RecordDBQuery("postgres", "escrow_apply", time.Since(start).Seconds(), err)
	return err
}

func (s *EscrowStore) apply(ctx context.Context, delta *storage.Delta) error {
	if delta == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, gp := range delta.GlobalPoints {
		_, err := tx.Exec(ctx, `
			INSERT INTO global_checkpoints (epoch, bias, slope, ts, ordinal)
			VALUES ($1, $2, $3, $4, $5)
		`, gp.Epoch, gp.Point.Bias, gp.Point.Slope, gp.Point.Ts, int64(gp.Point.Ordinal))
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert global checkpoint: %w", err)
		}
	}

	for _, up := range delta.UserPoints {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_checkpoints (lock_id, user_epoch, bias, slope, ts, ordinal)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, int64(up.LockID), up.Epoch, up.Point.Bias, up.Point.Slope, up.Point.Ts, int64(up.Point.Ordinal))
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert user checkpoint: %w", err)
		}
	}

	for _, sc := range delta.SlopeChanges {
		_, err := tx.Exec(ctx, `
			INSERT INTO slope_changes (week_ts, dslope)
			VALUES ($1, $2)
			ON CONFLICT (week_ts) DO UPDATE SET dslope = EXCLUDED.dslope
		`, sc.WeekTs, sc.DSlope)
		if err != nil {
			return fmt.Errorf("upsert slope change: %w", err)
		}
	}

	for _, l := range delta.Locks {
		_, err := tx.Exec(ctx, `
			INSERT INTO locks (lock_id, owner, amount, start_ts, end_ts, owner_changed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (lock_id) DO UPDATE SET
				owner = EXCLUDED.owner,
				amount = EXCLUDED.amount,
				start_ts = EXCLUDED.start_ts,
				end_ts = EXCLUDED.end_ts,
				owner_changed_at = EXCLUDED.owner_changed_at
		`, int64(l.ID), l.Owner, l.Locked.Amount, l.Locked.Start, l.Locked.End, int64(l.OwnerChangedAt))
		if err != nil {
			return fmt.Errorf("upsert lock: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO escrow_meta (id, epoch, supply, ordinal, next_lock_id)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			epoch = EXCLUDED.epoch,
			supply = EXCLUDED.supply,
			ordinal = EXCLUDED.ordinal,
			next_lock_id = EXCLUDED.next_lock_id
	`, delta.Epoch, delta.Supply, int64(delta.Ordinal), int64(delta.NextLockID))
	if err != nil {
		return fmt.Errorf("upsert escrow meta: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

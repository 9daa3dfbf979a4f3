package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veledger/internal/domain"
	"veledger/internal/storage"
)

func TestPowerSnapshotStore_InsertAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPowerSnapshotStore(conn)
	ctx := context.Background()

	points := []*domain.PowerSnapshotPoint{
		{LockID: 1, Ts: 1000, Ordinal: 1, Power: 300, Amount: 500, End: 604800, Owner: "alice"},
		{LockID: 1, Ts: 2000, Ordinal: 2, Power: 280, Amount: 500, End: 604800, Owner: "alice"},
		{LockID: 2, Ts: 1500, Ordinal: 1, Power: 90, Amount: 100, End: 604800, Owner: "bob"},
	}
	require.NoError(t, store.InsertBulk(ctx, points))

	got, err := store.GetByLockID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].Ts)
	assert.Equal(t, int64(300), got[0].Power)
	assert.Equal(t, "alice", got[0].Owner)

	ranged, err := store.GetByTimeRange(ctx, 1, 1500, 2500)
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, int64(2000), ranged[0].Ts)
}

func TestPowerSnapshotStore_Duplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPowerSnapshotStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.PowerSnapshotPoint{
		{LockID: 1, Ts: 1000, Power: 10},
	}))

	err := store.InsertBulk(ctx, []*domain.PowerSnapshotPoint{
		{LockID: 1, Ts: 1000, Power: 20},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.InsertBulk(ctx, []*domain.PowerSnapshotPoint{
		{LockID: 3, Ts: 5000, Power: 30},
		{LockID: 3, Ts: 5000, Power: 40},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey, "intra-batch duplicate")
}

func TestPowerSnapshotStore_EmptyBatch(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPowerSnapshotStore(conn)
	require.NoError(t, store.InsertBulk(context.Background(), nil))
}

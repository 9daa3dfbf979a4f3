package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veledger/internal/domain"
	"veledger/internal/storage"
)

func TestSupplySnapshotStore_InsertAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSupplySnapshotStore(conn)
	ctx := context.Background()

	points := []*domain.SupplySnapshotPoint{
		{Ts: 1000, Ordinal: 1, TotalPower: 200, LockedSupply: 600, ActiveLocks: 2},
		{Ts: 2000, Ordinal: 2, TotalPower: 180, LockedSupply: 600, ActiveLocks: 2},
		{Ts: 3000, Ordinal: 3, TotalPower: 170, LockedSupply: 700, ActiveLocks: 3},
	}
	require.NoError(t, store.InsertBulk(ctx, points))

	got, err := store.GetByTimeRange(ctx, 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(200), got[0].TotalPower)
	assert.Equal(t, 2, got[0].ActiveLocks)
	assert.Equal(t, int64(2000), got[1].Ts)
}

func TestSupplySnapshotStore_Duplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSupplySnapshotStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.SupplySnapshotPoint{{Ts: 1000}}))

	err := store.InsertBulk(ctx, []*domain.SupplySnapshotPoint{{Ts: 1000}})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

package gormstorage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/geoflags/territory/internal/database"
	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/internal/storage"
	"github.com/geoflags/territory/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestBackend creates a Backend over a private in-memory SQLite database.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.OpenSQLite("")
	require.NoError(t, err)
	b := New(db)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func testFlag(id string, lat, lon float64) *core.Flag {
	return &core.Flag{
		ID: id, OwnerID: "alice",
		Lat: lat, Lon: lon, Radius: 200,
		Level: 1, HP: 100, MaxHP: 100,
		Status:        core.StatusActive,
		BaseRate:      30,
		UpkeepCost:    50,
		LocationBonus: 1,
		LastTickAt:    ts,
		LastUpkeepAt:  ts,
		CreatedAt:     ts,
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	f := testFlag("f1", 40, -74)
	f.ProtectedUntil = core.TimePtr(ts.Add(10 * time.Minute))
	require.NoError(t, b.CreateFlag(ctx, f, []core.LedgerEntry{
		{ID: "e1", Type: core.LedgerPlacement, Amount: 100, ActorID: "alice", At: ts, Details: map[string]any{"cost": 100.0}},
	}))
	assert.Equal(t, int64(1), f.Version)

	got, err := b.GetFlag(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, *f, got)

	entries, err := b.Ledger(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f1", entries[0].FlagID)
	assert.Equal(t, 100.0, entries[0].Details["cost"])

	assert.ErrorIs(t, b.CreateFlag(ctx, testFlag("f1", 0, 0), nil), core.ErrValidation)
}

func TestGetFlag_NotFound(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.GetFlag(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = b.Ledger(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateFlag_OptimisticVersion(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	f := testFlag("f1", 40, -74)
	require.NoError(t, b.CreateFlag(ctx, f, nil))

	f.HP = 40
	f.Status = core.StatusDamaged
	f.LastAttackedAt = core.TimePtr(ts)
	require.NoError(t, b.UpdateFlag(ctx, f, 1, []core.LedgerEntry{{ID: "a1", Type: core.LedgerAttack, Amount: 60, At: ts}}))
	assert.Equal(t, int64(2), f.Version)

	stale := testFlag("f1", 40, -74)
	err := b.UpdateFlag(ctx, stale, 1, []core.LedgerEntry{{ID: "a2", Type: core.LedgerAttack, Amount: 1, At: ts}})
	assert.ErrorIs(t, err, core.ErrConcurrentModification)

	got, err := b.GetFlag(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.HP)
	assert.Equal(t, core.StatusDamaged, got.Status)

	entries, _ := b.Ledger(ctx, "f1")
	assert.Len(t, entries, 1, "rolled back transaction leaves no ledger rows")

	err = b.UpdateFlag(ctx, testFlag("ghost", 0, 0), 1, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateFlag_ClearsNullableColumns(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	f := testFlag("f1", 40, -74)
	f.GraceStartedAt = core.TimePtr(ts)
	f.Balance = -10
	require.NoError(t, b.CreateFlag(ctx, f, nil))

	f.GraceStartedAt = nil
	f.Balance = 0
	require.NoError(t, b.UpdateFlag(ctx, f, 1, nil))

	got, err := b.GetFlag(ctx, "f1")
	require.NoError(t, err)
	assert.Nil(t, got.GraceStartedAt)
	assert.Equal(t, 0.0, got.Balance)
}

func TestFlagsInBox(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateFlag(ctx, testFlag("in", 40.001, -74), nil))
	require.NoError(t, b.CreateFlag(ctx, testFlag("out", 41, -74), nil))
	require.NoError(t, b.CreateFlag(ctx, testFlag("east", 0, 179.9995), nil))

	got, err := b.FlagsInBox(ctx, geo.BoundingBox(40, -74, 1000))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "in", got[0].ID)

	wrapped, err := b.FlagsInBox(ctx, geo.BoundingBox(0, -179.9995, 500))
	require.NoError(t, err)
	require.Len(t, wrapped, 1)
	assert.Equal(t, "east", wrapped[0].ID)

	all, err := b.ListFlags(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestConcurrentUpdates_SingleWinner(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.CreateFlag(ctx, testFlag("f1", 40, -74), nil))

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- b.UpdateFlag(ctx, testFlag("f1", 40, -74), 1, nil)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, core.ErrConcurrentModification)
		}
	}
	assert.Equal(t, 1, wins)
}

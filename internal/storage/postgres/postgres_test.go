package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/internal/database"
	"github.com/geoflags/territory/internal/logging"
	"github.com/geoflags/territory/internal/storage"
	"github.com/geoflags/territory/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func TestNew(t *testing.T) {
	b := New(Dependencies{})
	require.NotNil(t, b)
	assert.Equal(t, database.DialectPostgres, b.Dialect())
	assert.NoError(t, b.Close(), "closing an uninitialized backend is a no-op")
}

func TestInitClose_InjectedDB(t *testing.T) {
	db, err := database.OpenSQLite("")
	require.NoError(t, err)

	b := New(Dependencies{DB: db, LogManager: logging.NewSlogManager()})
	require.NoError(t, b.Init())
	assert.Equal(t, "sqlite", b.Dialect())

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f := &core.Flag{
		ID: "f1", OwnerID: "alice", Lat: 1, Lon: 2, Radius: 200,
		Level: 1, HP: 100, MaxHP: 100, Status: core.StatusActive,
		CreatedAt: now, LastTickAt: now, LastUpkeepAt: now,
	}
	require.NoError(t, b.CreateFlag(ctx, f, nil))

	got, err := b.GetFlag(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)

	require.NoError(t, b.Close())
}

func TestInit_UnreachableServerFallsBack(t *testing.T) {
	b := New(Dependencies{
		DBConfig: config.DBConfig{Host: "127.0.0.1", Port: "1", Username: "u", Password: "p", Database: "territory"},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, b.Init())
	defer b.Close()

	assert.True(t, b.Fallback())
	assert.Equal(t, "sqlite", b.Dialect())
}

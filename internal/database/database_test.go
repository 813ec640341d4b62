package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_InMemoryIsIsolated(t *testing.T) {
	a, err := OpenSQLite("")
	require.NoError(t, err)
	b, err := OpenSQLite("")
	require.NoError(t, err)

	require.NoError(t, a.AutoMigrate(model.DatabaseModels...))
	require.NoError(t, a.Create(&model.Flag{ID: "f1", Status: "active", Version: 1}).Error)

	assert.True(t, a.Migrator().HasTable(&model.Flag{}))
	assert.False(t, b.Migrator().HasTable(&model.Flag{}), "each in-memory DB is separate")
}

func TestVacuumInto(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.DatabaseModels...))
	require.NoError(t, db.Create(&model.Flag{ID: "f1", Status: "active", Version: 1}).Error)

	path := filepath.Join(t.TempDir(), "dump.db")
	require.NoError(t, VacuumInto(db, path))
	// a second dump replaces the first
	require.NoError(t, VacuumInto(db, path))

	_, err = os.Stat(path)
	require.NoError(t, err)

	disk, err := OpenSQLite(path)
	require.NoError(t, err)
	var n int64
	require.NoError(t, disk.Model(&model.Flag{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestVacuumInto_NoPath(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	if err := VacuumInto(db, ""); err == nil {
		t.Error("expected an error for an empty path")
	}
}

func TestOpen_FallsBackToSQLite(t *testing.T) {
	// nothing listens on port 1
	conn, err := Open(zerolog.Nop(), DialectPostgres, config.DBConfig{
		Host: "127.0.0.1", Port: "1", Username: "u", Password: "p", Database: "territory",
	})
	require.NoError(t, err)
	assert.True(t, conn.Fallback)
	assert.Equal(t, DialectSQLite, conn.Dialect)
	assert.Equal(t, "sqlite", conn.DB.Name())
}

func TestOpen_UnsupportedDialectFallsBack(t *testing.T) {
	conn, err := Open(zerolog.Nop(), "oracle", config.DBConfig{})
	require.NoError(t, err)
	assert.True(t, conn.Fallback)
}

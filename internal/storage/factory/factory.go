// internal/storage/factory/factory.go
package factory

import (
	"fmt"
	"log/slog"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/internal/database"
	"github.com/geoflags/territory/internal/logging"
	"github.com/geoflags/territory/internal/storage"
	"github.com/geoflags/territory/internal/storage/memory"
	"github.com/geoflags/territory/internal/storage/postgres"
	sqlitestorage "github.com/geoflags/territory/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// Options carries what the server backends need besides StorageConfig.
type Options struct {
	DB         config.DBConfig
	Logger     *slog.Logger
	LogManager *logging.SlogManager
	ZLogger    zerolog.Logger
}

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, opts Options) (storage.Backend, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(memory.Config{SnapshotPath: cfg.Memory.SnapshotPath}), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     cfg.SQLite.DumpPath,
		}, opts.Logger)
	case database.DialectPostgres, database.DialectMySQL:
		return postgres.New(postgres.Dependencies{
			Dialect:    cfg.Type,
			DBConfig:   opts.DB,
			LogManager: opts.LogManager,
			Logger:     opts.ZLogger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

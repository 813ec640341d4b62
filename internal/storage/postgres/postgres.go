// Package postgres implements the storage.Backend interface on a shared SQL
// server (PostgreSQL or MySQL) through GORM.
package postgres

import (
	"fmt"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/internal/database"
	"github.com/geoflags/territory/internal/logging"
	gormstorage "github.com/geoflags/territory/internal/storage/gorm"
	"github.com/rs/zerolog"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the server storage backend.
type Dependencies struct {
	DB         *gorm.DB
	Dialect    string
	DBConfig   config.DBConfig
	LogManager *logging.SlogManager
	Logger     zerolog.Logger
}

// Backend implements storage.Backend on a server database. Flag rows carry a
// version column so several territoryd processes can share one database.
type Backend struct {
	*gormstorage.Backend
	deps     Dependencies
	fallback bool
}

// New creates a new server storage backend.
func New(deps Dependencies) *Backend {
	if deps.Dialect == "" {
		deps.Dialect = database.DialectPostgres
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{deps: deps}
}

// Init connects when no DB was injected, then migrates the schema.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		conn, err := database.Open(b.deps.Logger, b.deps.Dialect, b.deps.DBConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", b.deps.Dialect, err)
		}
		if conn.Fallback {
			b.deps.LogManager.Component("postgres").Warn("Server DB unreachable, state will not outlive the process")
		}
		b.deps.DB = conn.DB
		b.fallback = conn.Fallback
	}

	if err := b.setupDB(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.Backend = gormstorage.New(b.deps.DB)
	return b.Backend.Init()
}

// setupDB enables PostGIS when available so the location column can be
// indexed spatially by operators. A missing extension is not fatal.
func (b *Backend) setupDB() error {
	db := b.deps.DB
	log := b.deps.LogManager.Component("postgres")

	if db.Name() == "postgres" {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS postgis;`).Error; err != nil {
			log.Warn("PostGIS unavailable", "error", err)
		} else {
			log.Info("PostGIS extension ready")
		}
	}

	log.Info("Database setup complete", "dialect", db.Name())
	return nil
}

// Close closes the underlying connection.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}

// Fallback reports whether Init replaced an unreachable server with an
// in-memory database.
func (b *Backend) Fallback() bool { return b.fallback }

// Dialect reports the SQL dialect in use.
func (b *Backend) Dialect() string {
	if b.deps.DB != nil {
		return b.deps.DB.Name()
	}
	return b.deps.Dialect
}

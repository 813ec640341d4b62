// Package database opens the GORM connections behind the SQL storage
// backends.
package database

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/geoflags/territory/internal/config"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialects accepted by Open.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

// Conn is an open database. Fallback is set when the server could not be
// reached and DB is a private in-memory SQLite database instead.
type Conn struct {
	DB       *gorm.DB
	Dialect  string
	Fallback bool
}

// Open connects to the server database for dialect and pings it. When that
// fails the error is logged and an in-memory SQLite database is returned in
// its place, so the process still comes up.
func Open(log zerolog.Logger, dialect string, cfg config.DBConfig) (*Conn, error) {
	db, err := openServer(dialect, cfg)
	if err == nil {
		log.Info().Str("dialect", dialect).Str("host", cfg.Host).Msg("Connected to database")
		return &Conn{DB: db, Dialect: dialect}, nil
	}

	log.Error().Err(err).Str("dialect", dialect).Msg("Failed to connect to DB, trying SQLite")
	db, err = OpenSQLite("")
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback SQLite DB: %w", err)
	}
	log.Info().Msg("Using in-memory SQLite DB")
	return &Conn{DB: db, Dialect: DialectSQLite, Fallback: true}, nil
}

func openServer(dialect string, cfg config.DBConfig) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch dialect {
	case DialectMySQL:
		dial = mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database))
	case DialectPostgres, "":
		dial = postgres.New(postgres.Config{
			DSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
				cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database),
			PreferSimpleProtocol: true,
		})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := gorm.Open(dial, gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

var memorySeq atomic.Int64

// sqlitePragmas trade durability for speed; the file form is only ever a
// dump target or a scratch database.
var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
}

// OpenSQLite opens the SQLite file at path, or a fresh private in-memory
// database when path is empty.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = fmt.Sprintf("file:territory_%d_%d?mode=memory&cache=shared", os.Getpid(), memorySeq.Add(1))
	}

	cfg := gormConfig()
	cfg.PrepareStmt = true
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}

	// one connection serializes writers and keeps the in-memory DB alive
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}
	return db, nil
}

// VacuumInto writes a point-in-time copy of db to path, replacing any file
// already there.
func VacuumInto(db *gorm.DB, path string) error {
	if path == "" {
		return errors.New("sqlite dump path not set")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing existing DB file: %w", err)
	}
	target := strings.ReplaceAll("file:"+path, "'", "''")
	if err := db.Exec("VACUUM INTO '" + target + "';").Error; err != nil {
		return fmt.Errorf("error dumping DB to %s: %w", path, err)
	}
	return nil
}

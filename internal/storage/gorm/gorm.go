// Package gormstorage implements storage.Backend on any GORM dialect.
// Flag updates are an optimistic compare-and-swap on the version column,
// committed in one transaction with the ledger rows they produce.
package gormstorage

import (
	"context"
	"errors"
	"fmt"

	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/internal/model"
	"github.com/geoflags/territory/internal/model/convert"
	"github.com/geoflags/territory/pkg/core"

	"gorm.io/gorm"
)

// Backend persists flags through GORM.
type Backend struct {
	db *gorm.DB
}

// New creates a GORM backend over an open connection.
func New(db *gorm.DB) *Backend {
	return &Backend{db: db}
}

// DB exposes the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if err := b.db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	return core.Wrap(core.KindStorageUnavailable, err, op)
}

func ledgerRows(flagID string, entries []core.LedgerEntry) []model.LedgerEntry {
	rows := make([]model.LedgerEntry, len(entries))
	for i, e := range entries {
		e.FlagID = flagID
		rows[i] = convert.CoreToLedgerEntry(e, int64(i))
	}
	return rows
}

// CreateFlag inserts f and its entries.
func (b *Backend) CreateFlag(ctx context.Context, f *core.Flag, entries []core.LedgerEntry) error {
	m := convert.CoreToFlag(*f)
	m.Version = 1

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Flag{}).Where("id = ?", f.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return core.Errorf(core.KindValidation, "flag %s already exists", f.ID)
		}
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		if rows := ledgerRows(f.ID, entries); len(rows) > 0 {
			return tx.Create(&rows).Error
		}
		return nil
	})
	if err != nil {
		return unavailable(err, "create flag")
	}
	f.Version = 1
	return nil
}

// UpdateFlag writes f where the stored version equals expectedVersion.
func (b *Backend) UpdateFlag(ctx context.Context, f *core.Flag, expectedVersion int64, entries []core.LedgerEntry) error {
	m := convert.CoreToFlag(*f)
	m.Version = expectedVersion + 1

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Flag{}).
			Where("id = ? AND version = ?", f.ID, expectedVersion).
			Updates(flagColumns(m))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var cur model.Flag
			err := tx.Select("id", "version").Where("id = ?", f.ID).Take(&cur).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.Errorf(core.KindNotFound, "flag %s", f.ID)
			}
			if err != nil {
				return err
			}
			return core.Errorf(core.KindConcurrentModification,
				"flag %s is at version %d, expected %d", f.ID, cur.Version, expectedVersion)
		}
		if rows := ledgerRows(f.ID, entries); len(rows) > 0 {
			return tx.Create(&rows).Error
		}
		return nil
	})
	if err != nil {
		return unavailable(err, "update flag")
	}
	f.Version = expectedVersion + 1
	return nil
}

// flagColumns lists every mutable column so zero values are written too.
func flagColumns(m model.Flag) map[string]interface{} {
	return map[string]interface{}{
		"owner_id":                 m.OwnerID,
		"lat":                      m.Lat,
		"lon":                      m.Lon,
		"location":                 m.Location,
		"radius":                   m.Radius,
		"level":                    m.Level,
		"hp":                       m.HP,
		"max_hp":                   m.MaxHP,
		"status":                   m.Status,
		"balance":                  m.Balance,
		"base_rate":                m.BaseRate,
		"upkeep_cost":              m.UpkeepCost,
		"location_bonus":           m.LocationBonus,
		"last_tick_at":             m.LastTickAt,
		"last_upkeep_at":           m.LastUpkeepAt,
		"grace_started_at":         m.GraceStartedAt,
		"last_decay_at":            m.LastDecayAt,
		"last_attacked_at":         m.LastAttackedAt,
		"capture_window_opened_at": m.CaptureWindowOpenedAt,
		"protected_until":          m.ProtectedUntil,
		"upgrade_completes_at":     m.UpgradeCompletesAt,
		"color":                    m.Color,
		"version":                  m.Version,
	}
}

// GetFlag loads one flag.
func (b *Backend) GetFlag(ctx context.Context, id string) (core.Flag, error) {
	var m model.Flag
	err := b.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.Flag{}, core.Errorf(core.KindNotFound, "flag %s", id)
	}
	if err != nil {
		return core.Flag{}, unavailable(err, "get flag")
	}
	f, err := convert.FlagToCore(m)
	if err != nil {
		return core.Flag{}, unavailable(err, "decode flag")
	}
	return f, nil
}

// ListFlags loads every flag ordered by id.
func (b *Backend) ListFlags(ctx context.Context) ([]core.Flag, error) {
	return b.find(b.db.WithContext(ctx))
}

// FlagsInBox loads flags whose center lies in box, using the lat/lon index.
func (b *Backend) FlagsInBox(ctx context.Context, box geo.BBox) ([]core.Flag, error) {
	q := b.db.WithContext(ctx).Where("lat BETWEEN ? AND ?", box.MinLat, box.MaxLat)
	switch {
	case box.FullLon():
	case box.Wraps():
		q = q.Where("lon >= ? OR lon <= ?", box.MinLon, box.MaxLon)
	default:
		q = q.Where("lon BETWEEN ? AND ?", box.MinLon, box.MaxLon)
	}
	return b.find(q)
}

func (b *Backend) find(q *gorm.DB) ([]core.Flag, error) {
	var rows []model.Flag
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, unavailable(err, "list flags")
	}
	out := make([]core.Flag, 0, len(rows))
	for _, m := range rows {
		f, err := convert.FlagToCore(m)
		if err != nil {
			return nil, unavailable(err, "decode flag")
		}
		out = append(out, f)
	}
	return out, nil
}

// Ledger loads a flag's entries ordered by timestamp.
func (b *Backend) Ledger(ctx context.Context, flagID string) ([]core.LedgerEntry, error) {
	if _, err := b.GetFlag(ctx, flagID); err != nil {
		return nil, err
	}
	var rows []model.LedgerEntry
	err := b.db.WithContext(ctx).
		Where("flag_id = ?", flagID).
		Order("at").Order("seq").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable(err, "load ledger")
	}
	out := make([]core.LedgerEntry, len(rows))
	for i, r := range rows {
		out[i] = convert.LedgerEntryToCore(r)
	}
	return out, nil
}

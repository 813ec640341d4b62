package model

import (
	"database/sql"
	"database/sql/driver"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Flag{},
	&LedgerEntry{},
}

// Location is a Web Mercator point stored as WKB. It carries its own column
// type so the schema migrates on every dialect without PostGIS.
type Location struct {
	geom.Point
}

// GormDBDataType picks a binary column type per dialect.
func (Location) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "bytea"
	}
	return "blob"
}

// Value encodes the point as WKB; the empty point is stored as NULL.
func (l Location) Value() (driver.Value, error) {
	if l.Point.IsEmpty() {
		return nil, nil
	}
	return l.Point.Value()
}

// Scan decodes WKB into the point.
func (l *Location) Scan(src interface{}) error {
	if src == nil {
		l.Point = geom.Point{}
		return nil
	}
	return l.Point.Scan(src)
}

////////////////////////
// TERRITORY MODELS
////////////////////////

// Flag is the persisted form of a territorial flag. Lat/Lon carry a composite
// index used for bounding-box scans.
type Flag struct {
	ID      string `json:"id" gorm:"primaryKey;size:36"`
	OwnerID string `json:"ownerId" gorm:"size:64;index:idx_flags_owner"`

	Lat      float64  `json:"lat" gorm:"index:idx_flags_latlon,priority:1"`
	Lon      float64  `json:"lon" gorm:"index:idx_flags_latlon,priority:2"`
	Location Location `json:"location"`
	Radius   float64  `json:"radius"`

	Level  int    `json:"level"`
	HP     int    `json:"hp"`
	MaxHP  int    `json:"maxHp"`
	Status string `json:"status" gorm:"size:16;index:idx_flags_status"`

	Balance       float64 `json:"balance"`
	BaseRate      float64 `json:"baseRate"`
	UpkeepCost    float64 `json:"upkeepCost"`
	LocationBonus float64 `json:"locationBonus"`

	LastTickAt     time.Time    `json:"lastTickAt"`
	LastUpkeepAt   time.Time    `json:"lastUpkeepAt"`
	GraceStartedAt sql.NullTime `json:"graceStartedAt"`
	LastDecayAt    sql.NullTime `json:"lastDecayAt"`

	LastAttackedAt        sql.NullTime `json:"lastAttackedAt"`
	CaptureWindowOpenedAt sql.NullTime `json:"captureWindowOpenedAt"`
	ProtectedUntil        sql.NullTime `json:"protectedUntil"`
	UpgradeCompletesAt    sql.NullTime `json:"upgradeCompletesAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Color     string    `json:"color" gorm:"size:16"`
	Version   int64     `json:"version" gorm:"not null;default:1"`
}

func (*Flag) TableName() string {
	return "flags"
}

// LedgerEntry is an append-only audit row. Rows are never updated.
type LedgerEntry struct {
	ID      string         `json:"id" gorm:"primaryKey;size:36"`
	FlagID  string         `json:"flagId" gorm:"size:36;index:idx_ledger_flag_at,priority:1"`
	At      time.Time      `json:"at" gorm:"index:idx_ledger_flag_at,priority:2"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type" gorm:"size:16"`
	Amount  float64        `json:"amount"`
	Factor  float64        `json:"factor"`
	ActorID string         `json:"actorId" gorm:"size:64"`
	Details datatypes.JSON `json:"details"`
}

func (*LedgerEntry) TableName() string {
	return "ledger_entries"
}

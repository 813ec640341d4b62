// Package convert maps between GORM models and core domain types.
package convert

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/internal/model"
	"github.com/geoflags/territory/pkg/core"
	"gorm.io/datatypes"
)

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// CoreToFlag converts a core.Flag to its GORM model. The Web Mercator
// location is derived from lat/lon; invalid coordinates leave it empty.
func CoreToFlag(f core.Flag) model.Flag {
	var loc model.Location
	if pt, err := geo.Coords3857From4326(f.Lon, f.Lat); err == nil {
		loc = model.Location{Point: pt}
	}

	return model.Flag{
		ID:                    f.ID,
		OwnerID:               f.OwnerID,
		Lat:                   f.Lat,
		Lon:                   f.Lon,
		Location:              loc,
		Radius:                f.Radius,
		Level:                 f.Level,
		HP:                    f.HP,
		MaxHP:                 f.MaxHP,
		Status:                string(f.Status),
		Balance:               f.Balance,
		BaseRate:              f.BaseRate,
		UpkeepCost:            f.UpkeepCost,
		LocationBonus:         f.LocationBonus,
		LastTickAt:            f.LastTickAt,
		LastUpkeepAt:          f.LastUpkeepAt,
		GraceStartedAt:        nullTime(f.GraceStartedAt),
		LastDecayAt:           nullTime(f.LastDecayAt),
		LastAttackedAt:        nullTime(f.LastAttackedAt),
		CaptureWindowOpenedAt: nullTime(f.CaptureWindowOpenedAt),
		ProtectedUntil:        nullTime(f.ProtectedUntil),
		UpgradeCompletesAt:    nullTime(f.UpgradeCompletesAt),
		CreatedAt:             f.CreatedAt,
		Color:                 f.Color,
		Version:               f.Version,
	}
}

// FlagToCore converts a GORM Flag back to the domain type.
func FlagToCore(m model.Flag) (core.Flag, error) {
	status, err := core.ParseStatus(m.Status)
	if err != nil {
		return core.Flag{}, fmt.Errorf("flag %s: %w", m.ID, err)
	}

	return core.Flag{
		ID:                    m.ID,
		OwnerID:               m.OwnerID,
		Lat:                   m.Lat,
		Lon:                   m.Lon,
		Radius:                m.Radius,
		Level:                 m.Level,
		HP:                    m.HP,
		MaxHP:                 m.MaxHP,
		Status:                status,
		Balance:               m.Balance,
		BaseRate:              m.BaseRate,
		UpkeepCost:            m.UpkeepCost,
		LocationBonus:         m.LocationBonus,
		LastTickAt:            m.LastTickAt.UTC(),
		LastUpkeepAt:          m.LastUpkeepAt.UTC(),
		GraceStartedAt:        utcPtr(timePtr(m.GraceStartedAt)),
		LastDecayAt:           utcPtr(timePtr(m.LastDecayAt)),
		LastAttackedAt:        utcPtr(timePtr(m.LastAttackedAt)),
		CaptureWindowOpenedAt: utcPtr(timePtr(m.CaptureWindowOpenedAt)),
		ProtectedUntil:        utcPtr(timePtr(m.ProtectedUntil)),
		UpgradeCompletesAt:    utcPtr(timePtr(m.UpgradeCompletesAt)),
		CreatedAt:             m.CreatedAt.UTC(),
		Color:                 m.Color,
		Version:               m.Version,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// detailsToJSON converts ledger details to datatypes.JSON for DB storage.
func detailsToJSON(details map[string]any) datatypes.JSON {
	if len(details) == 0 {
		return datatypes.JSON("{}")
	}
	data, err := json.Marshal(details)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}

// CoreToLedgerEntry converts a ledger entry to its GORM model. seq orders
// entries written in the same transaction.
func CoreToLedgerEntry(e core.LedgerEntry, seq int64) model.LedgerEntry {
	return model.LedgerEntry{
		ID:      e.ID,
		FlagID:  e.FlagID,
		At:      e.At,
		Seq:     seq,
		Type:    string(e.Type),
		Amount:  e.Amount,
		Factor:  e.Factor,
		ActorID: e.ActorID,
		Details: detailsToJSON(e.Details),
	}
}

// LedgerEntryToCore converts a GORM ledger row back to the domain type.
func LedgerEntryToCore(m model.LedgerEntry) core.LedgerEntry {
	var details map[string]any
	if len(m.Details) > 0 {
		_ = json.Unmarshal(m.Details, &details)
	}
	if len(details) == 0 {
		details = nil
	}

	return core.LedgerEntry{
		ID:      m.ID,
		FlagID:  m.FlagID,
		Type:    core.LedgerType(m.Type),
		Amount:  m.Amount,
		Factor:  m.Factor,
		ActorID: m.ActorID,
		At:      m.At.UTC(),
		Details: details,
	}
}

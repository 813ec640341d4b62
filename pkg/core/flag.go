// pkg/core/flag.go
package core

import (
	"fmt"
	"time"
)

// Status is the mutually exclusive lifecycle state of a flag.
type Status string

const (
	StatusActive      Status = "active"
	StatusDamaged     Status = "damaged"
	StatusUnderAttack Status = "under_attack"
	StatusCapturable  Status = "capturable"
	StatusDecayed     Status = "decayed"
	StatusUpgrading   Status = "upgrading"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusActive,
	StatusDamaged,
	StatusUnderAttack,
	StatusCapturable,
	StatusDecayed,
	StatusUpgrading,
}

// ParseStatus converts a stored string back to a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown flag status %q", s)
}

// Destroyed reports whether the status is one of the zero-hp states.
func (s Status) Destroyed() bool {
	return s == StatusCapturable || s == StatusDecayed
}

// Earning reports whether a flag in this status accrues revenue and owes upkeep.
func (s Status) Earning() bool {
	switch s {
	case StatusActive, StatusDamaged, StatusUnderAttack, StatusUpgrading:
		return true
	}
	return false
}

// Attackable reports whether damage may be applied in this status.
func (s Status) Attackable() bool {
	return s.Earning()
}

// Position is a WGS84 coordinate in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Flag is a placed territorial marker projecting a circular zone.
// Radius, MaxHP and UpkeepCost are derived from Level and only change
// together with it.
type Flag struct {
	ID      string
	OwnerID string // empty when neutral

	Lat    float64
	Lon    float64
	Radius float64 // meters

	Level int
	HP    int
	MaxHP int

	Status Status

	Balance       float64 // accrued, uncollected; negative means debt
	BaseRate      float64 // gold per hour before level multiplier
	UpkeepCost    float64 // charged once per upkeep period
	LocationBonus float64

	LastTickAt     time.Time
	LastUpkeepAt   time.Time
	GraceStartedAt *time.Time // set while Balance < 0
	LastDecayAt    *time.Time // last hp decay instant applied

	LastAttackedAt        *time.Time
	CaptureWindowOpenedAt *time.Time
	ProtectedUntil        *time.Time
	UpgradeCompletesAt    *time.Time

	CreatedAt time.Time
	Color     string

	// Version increments on every committed write.
	Version int64
}

// Position returns the flag center.
func (f *Flag) Position() Position {
	return Position{Lat: f.Lat, Lon: f.Lon}
}

// Neutral reports whether nobody owns the flag.
func (f *Flag) Neutral() bool {
	return f.OwnerID == ""
}

// OwnedBy reports whether playerID owns the flag.
func (f *Flag) OwnedBy(playerID string) bool {
	return playerID != "" && f.OwnerID == playerID
}

// Protected reports whether the post-capture protection is still running at now.
func (f *Flag) Protected(now time.Time) bool {
	return f.ProtectedUntil != nil && now.Before(*f.ProtectedUntil)
}

// Clone returns a deep copy; the pointer timestamps are not shared.
func (f *Flag) Clone() *Flag {
	c := *f
	c.GraceStartedAt = cloneTime(f.GraceStartedAt)
	c.LastDecayAt = cloneTime(f.LastDecayAt)
	c.LastAttackedAt = cloneTime(f.LastAttackedAt)
	c.CaptureWindowOpenedAt = cloneTime(f.CaptureWindowOpenedAt)
	c.ProtectedUntil = cloneTime(f.ProtectedUntil)
	c.UpgradeCompletesAt = cloneTime(f.UpgradeCompletesAt)
	return &c
}

// CheckInvariants verifies the hp and status invariants of a flag.
func (f *Flag) CheckInvariants() error {
	if f.HP < 0 || f.HP > f.MaxHP {
		return fmt.Errorf("flag %s: hp %d outside [0, %d]", f.ID, f.HP, f.MaxHP)
	}
	if f.HP == 0 && !f.Status.Destroyed() {
		return fmt.Errorf("flag %s: zero hp in status %s", f.ID, f.Status)
	}
	if f.Level < 1 {
		return fmt.Errorf("flag %s: level %d below 1", f.ID, f.Level)
	}
	return nil
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

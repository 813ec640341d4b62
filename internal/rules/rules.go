// Package rules holds the game-balance table every component derives flag
// stats from. Radius, max hp and upkeep are pure functions of level.
package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/pkg/core"
)

// Level is one row of the level table.
type Level struct {
	Radius            float64
	MaxHP             int
	RevenueMultiplier float64
	UpkeepCost        float64
}

// Rules is an immutable snapshot of the balance configuration.
type Rules struct {
	Levels []Level

	BaseRate      float64 // gold per hour at level multiplier 1
	LocationBonus float64

	PlacementCost   float64
	UpgradeBaseCost float64
	UpgradeGrowth   float64
	UpgradeDuration time.Duration
	MinSeparation   float64
	HexSnap         bool
	HexSize         float64

	CaptureWindow       time.Duration
	Protection          time.Duration
	AssaultWindow       time.Duration
	MaxDamage           int
	ResetLevelOnCapture bool
	CaptureLootFraction float64
	RepairCostPerHP     float64

	UpkeepPeriod    time.Duration
	GracePeriod     time.Duration
	DecayHPPerDay   int
	RevenueVariance float64

	LocalStep float64
}

// Default returns the stock balance table.
func Default() Rules {
	levels := make([]Level, len(config.DefaultLevels))
	for i, l := range config.DefaultLevels {
		levels[i] = Level(l)
	}
	return Rules{
		Levels:              levels,
		BaseRate:            30,
		LocationBonus:       1,
		PlacementCost:       100,
		UpgradeBaseCost:     500,
		UpgradeGrowth:       2.2,
		MinSeparation:       400,
		HexSize:             250,
		CaptureWindow:       30 * time.Minute,
		Protection:          10 * time.Minute,
		AssaultWindow:       2 * time.Minute,
		MaxDamage:           1000,
		CaptureLootFraction: 0.5,
		RepairCostPerHP:     5,
		UpkeepPeriod:        24 * time.Hour,
		GracePeriod:         72 * time.Hour,
		DecayHPPerDay:       10,
		RevenueVariance:     0.2,
		LocalStep:           100,
	}
}

// FromConfig builds and validates Rules from the loaded game configuration.
func FromConfig(gc config.GameConfig) (Rules, error) {
	levels := make([]Level, len(gc.Levels))
	for i, l := range gc.Levels {
		levels[i] = Level(l)
	}
	r := Rules{
		Levels:              levels,
		BaseRate:            gc.BaseRate,
		LocationBonus:       gc.LocationBonus,
		PlacementCost:       gc.PlacementCost,
		UpgradeBaseCost:     gc.UpgradeBaseCost,
		UpgradeGrowth:       gc.UpgradeGrowth,
		UpgradeDuration:     gc.UpgradeDuration,
		MinSeparation:       gc.MinSeparation,
		HexSnap:             gc.HexSnap,
		HexSize:             gc.HexSize,
		CaptureWindow:       gc.CaptureWindow,
		Protection:          gc.Protection,
		AssaultWindow:       gc.AssaultWindow,
		MaxDamage:           gc.MaxDamage,
		ResetLevelOnCapture: gc.ResetLevelOnCapture,
		CaptureLootFraction: gc.CaptureLootFraction,
		RepairCostPerHP:     gc.RepairCostPerHP,
		UpkeepPeriod:        gc.UpkeepPeriod,
		GracePeriod:         gc.GracePeriod,
		DecayHPPerDay:       gc.DecayHPPerDay,
		RevenueVariance:     gc.RevenueVariance,
		LocalStep:           gc.LocalStep,
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// Validate rejects tables that would break the flag invariants.
func (r Rules) Validate() error {
	if len(r.Levels) == 0 {
		return fmt.Errorf("level table is empty")
	}
	for i, l := range r.Levels {
		if l.Radius <= 0 || l.MaxHP <= 0 {
			return fmt.Errorf("level %d: radius and maxHp must be positive", i+1)
		}
		if l.RevenueMultiplier < 0 || l.UpkeepCost < 0 {
			return fmt.Errorf("level %d: revenue multiplier and upkeep must not be negative", i+1)
		}
	}
	switch {
	case r.UpkeepPeriod <= 0:
		return fmt.Errorf("upkeep period must be positive")
	case r.CaptureWindow <= 0:
		return fmt.Errorf("capture window must be positive")
	case r.GracePeriod < 0 || r.Protection < 0 || r.AssaultWindow < 0 || r.UpgradeDuration < 0:
		return fmt.Errorf("durations must not be negative")
	case r.RevenueVariance < 0 || r.RevenueVariance >= 1:
		return fmt.Errorf("revenue variance must be in [0, 1)")
	case r.CaptureLootFraction < 0 || r.CaptureLootFraction > 1:
		return fmt.Errorf("capture loot fraction must be in [0, 1]")
	case r.UpgradeGrowth < 1:
		return fmt.Errorf("upgrade growth must be at least 1")
	case r.MinSeparation < 0 || r.LocalStep < 0 || r.DecayHPPerDay < 0:
		return fmt.Errorf("distances and decay must not be negative")
	case r.MaxDamage <= 0:
		return fmt.Errorf("max damage must be positive")
	case r.HexSnap && r.HexSize <= 0:
		return fmt.Errorf("hex size must be positive when snapping is enabled")
	}
	return nil
}

// MaxLevel is the highest reachable level.
func (r Rules) MaxLevel() int {
	return len(r.Levels)
}

// ForLevel returns the derived stats of level (1-based).
func (r Rules) ForLevel(level int) (Level, error) {
	if level < 1 || level > len(r.Levels) {
		return Level{}, core.Errorf(core.KindValidation, "level %d outside 1..%d", level, len(r.Levels))
	}
	return r.Levels[level-1], nil
}

// UpgradeCost is the price of going from level to level+1: base * growth^(level-1).
func (r Rules) UpgradeCost(level int) float64 {
	if level < 1 {
		level = 1
	}
	return math.Round(r.UpgradeBaseCost * math.Pow(r.UpgradeGrowth, float64(level-1)))
}

// SetLevel moves f to level, updating every level-derived field together.
// Current hp is not touched; callers decide how hp follows.
func (r Rules) SetLevel(f *core.Flag, level int) error {
	l, err := r.ForLevel(level)
	if err != nil {
		return err
	}
	f.Level = level
	f.Radius = l.Radius
	f.MaxHP = l.MaxHP
	f.UpkeepCost = l.UpkeepCost
	if f.HP > f.MaxHP {
		f.HP = f.MaxHP
	}
	return nil
}

// HourlyRevenue is the expected hourly accrual of f before variance.
func (r Rules) HourlyRevenue(f *core.Flag) float64 {
	l, err := r.ForLevel(f.Level)
	if err != nil {
		return 0
	}
	bonus := f.LocationBonus
	if bonus == 0 {
		bonus = 1
	}
	return f.BaseRate * l.RevenueMultiplier * bonus
}

package rules

import (
	"testing"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	r := Default()
	require.NoError(t, r.Validate())
	assert.Equal(t, 5, r.MaxLevel())
}

func TestForLevel(t *testing.T) {
	r := Default()

	l1, err := r.ForLevel(1)
	require.NoError(t, err)
	assert.Equal(t, Level{Radius: 200, MaxHP: 100, RevenueMultiplier: 1.0, UpkeepCost: 50}, l1)

	l2, err := r.ForLevel(2)
	require.NoError(t, err)
	assert.Equal(t, 300.0, l2.Radius)
	assert.Equal(t, 150, l2.MaxHP)

	_, err = r.ForLevel(0)
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = r.ForLevel(6)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUpgradeCost_Geometric(t *testing.T) {
	r := Default()
	assert.Equal(t, 500.0, r.UpgradeCost(1))
	assert.Equal(t, 1100.0, r.UpgradeCost(2))
	assert.Equal(t, 2420.0, r.UpgradeCost(3))
	assert.Equal(t, 5324.0, r.UpgradeCost(4))
}

func TestSetLevel_ChangesDerivedFieldsTogether(t *testing.T) {
	r := Default()
	f := &core.Flag{Level: 3, HP: 200, MaxHP: 225, Radius: 400, UpkeepCost: 150}

	require.NoError(t, r.SetLevel(f, 1))
	assert.Equal(t, 1, f.Level)
	assert.Equal(t, 200.0, f.Radius)
	assert.Equal(t, 100, f.MaxHP)
	assert.Equal(t, 50.0, f.UpkeepCost)
	assert.Equal(t, 100, f.HP, "hp is clamped to the new max")

	assert.Error(t, r.SetLevel(f, 9))
	assert.Equal(t, 1, f.Level, "failed SetLevel leaves the flag untouched")
}

func TestHourlyRevenue(t *testing.T) {
	r := Default()
	f := &core.Flag{Level: 2, BaseRate: 30, LocationBonus: 1.5}
	assert.InDelta(t, 30*1.4*1.5, r.HourlyRevenue(f), 1e-9)

	f.LocationBonus = 0
	assert.InDelta(t, 42.0, r.HourlyRevenue(f), 1e-9)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Rules)
	}{
		{"empty table", func(r *Rules) { r.Levels = nil }},
		{"zero radius", func(r *Rules) { r.Levels[0].Radius = 0 }},
		{"zero upkeep period", func(r *Rules) { r.UpkeepPeriod = 0 }},
		{"variance too large", func(r *Rules) { r.RevenueVariance = 1 }},
		{"loot above one", func(r *Rules) { r.CaptureLootFraction = 1.5 }},
		{"shrinking upgrades", func(r *Rules) { r.UpgradeGrowth = 0.5 }},
		{"hex without size", func(r *Rules) { r.HexSnap = true; r.HexSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Default()
			tt.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestFromConfig(t *testing.T) {
	gc := config.GameConfig{
		Levels:              config.DefaultLevels,
		BaseRate:            12,
		PlacementCost:       100,
		UpgradeBaseCost:     500,
		UpgradeGrowth:       2,
		MinSeparation:       400,
		CaptureWindow:       Default().CaptureWindow,
		UpkeepPeriod:        Default().UpkeepPeriod,
		GracePeriod:         Default().GracePeriod,
		MaxDamage:           100,
		CaptureLootFraction: 0.5,
	}

	r, err := FromConfig(gc)
	require.NoError(t, err)
	assert.Equal(t, 12.0, r.BaseRate)
	assert.Equal(t, 1000.0, r.UpgradeCost(2))

	gc.Levels = nil
	_, err = FromConfig(gc)
	assert.Error(t, err)
}

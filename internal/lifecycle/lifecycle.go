// Package lifecycle places, levels, repairs and decommissions flags.
//
// Actions that cost gold debit the wallet before taking the flag lock and
// refund it if the flag write does not commit, so the lock is never held
// across a wallet round trip.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geoflags/territory/internal/flagstore"
	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/internal/rules"
	"github.com/geoflags/territory/internal/terrain"
	"github.com/geoflags/territory/internal/wallet"
	"github.com/geoflags/territory/pkg/core"
	"github.com/google/uuid"
)

// Projector brings a stored flag up to now for read-only checks.
type Projector func(f core.Flag, now time.Time) core.Flag

// Manager runs the flag lifecycle transactions.
type Manager struct {
	rules   rules.Rules
	store   *flagstore.Store
	wallet  wallet.Wallet
	terrain terrain.Checker
	project Projector
	log     *slog.Logger

	// placeMu covers the spacing check and the insert; placement is the
	// one write that depends on other flags.
	placeMu sync.Mutex
}

// Dependencies holds the collaborators of a Manager.
type Dependencies struct {
	Rules     rules.Rules
	Store     *flagstore.Store
	Wallet    wallet.Wallet
	Terrain   terrain.Checker
	Projector Projector
	Logger    *slog.Logger
}

// New creates a Manager.
func New(deps Dependencies) *Manager {
	if deps.Terrain == nil {
		deps.Terrain = terrain.AlwaysPlaceable
	}
	if deps.Projector == nil {
		deps.Projector = func(f core.Flag, _ time.Time) core.Flag { return f }
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		rules:   deps.Rules,
		store:   deps.Store,
		wallet:  deps.Wallet,
		terrain: deps.Terrain,
		project: deps.Projector,
		log:     deps.Logger,
	}
}

// PlaceRequest describes a new flag.
type PlaceRequest struct {
	OwnerID string
	Lat     float64
	Lon     float64
	Level   int // 0 means 1
	Color   string
}

// PlacementCost is the gold needed to place a flag directly at level.
func (m *Manager) PlacementCost(level int) float64 {
	cost := m.rules.PlacementCost
	for l := 1; l < level; l++ {
		cost += m.rules.UpgradeCost(l)
	}
	return cost
}

// Place validates spacing, terrain and funds, then creates the flag.
func (m *Manager) Place(ctx context.Context, req PlaceRequest, now time.Time) (core.Flag, error) {
	if req.OwnerID == "" {
		return core.Flag{}, core.Errorf(core.KindValidation, "owner id is required")
	}
	if !geo.ValidLatLon(req.Lat, req.Lon) {
		return core.Flag{}, core.Wrap(core.KindValidation, geo.ErrInvalidCoordinates, "flag position")
	}
	if req.Level == 0 {
		req.Level = 1
	}
	lvl, err := m.rules.ForLevel(req.Level)
	if err != nil {
		return core.Flag{}, err
	}

	lat, lon := req.Lat, req.Lon
	if m.rules.HexSnap {
		if lat, lon, err = geo.SnapToHex(lat, lon, m.rules.HexSize); err != nil {
			return core.Flag{}, core.Wrap(core.KindValidation, err, "hex snap")
		}
	}

	ok, err := m.terrain.IsPlaceable(ctx, lat, lon)
	if err != nil {
		return core.Flag{}, core.Wrap(core.KindStorageUnavailable, err, "terrain lookup")
	}
	if !ok {
		return core.Flag{}, core.Errorf(core.KindValidation, "terrain at %.6f,%.6f does not allow a flag", lat, lon)
	}
	if err := m.checkSpacing(lat, lon); err != nil {
		return core.Flag{}, err
	}

	cost := m.PlacementCost(req.Level)
	if err := m.debit(ctx, req.OwnerID, cost); err != nil {
		return core.Flag{}, err
	}

	f := &core.Flag{
		ID:            uuid.NewString(),
		OwnerID:       req.OwnerID,
		Lat:           lat,
		Lon:           lon,
		Level:         req.Level,
		Radius:        lvl.Radius,
		MaxHP:         lvl.MaxHP,
		HP:            lvl.MaxHP,
		UpkeepCost:    lvl.UpkeepCost,
		Status:        core.StatusActive,
		BaseRate:      m.rules.BaseRate,
		LocationBonus: m.rules.LocationBonus,
		LastTickAt:    now,
		LastUpkeepAt:  now,
		CreatedAt:     now,
		Color:         req.Color,
	}
	entry := core.LedgerEntry{
		Type:    core.LedgerPlacement,
		Amount:  cost,
		ActorID: req.OwnerID,
		At:      now,
		Details: map[string]any{"level": req.Level},
	}

	err = func() error {
		m.placeMu.Lock()
		defer m.placeMu.Unlock()
		if err := m.checkSpacing(lat, lon); err != nil {
			return err
		}
		return m.store.Create(ctx, f, []core.LedgerEntry{entry})
	}()
	if err != nil {
		m.refund(req.OwnerID, cost, "place")
		return core.Flag{}, err
	}

	m.log.Info("Flag placed", "flag", f.ID, "owner", f.OwnerID, "level", f.Level, "cost", cost)
	return *f, nil
}

func (m *Manager) checkSpacing(lat, lon float64) error {
	for _, h := range m.store.Index().Nearby(lat, lon, m.rules.MinSeparation) {
		if h.Distance < m.rules.MinSeparation {
			return core.Errorf(core.KindPlacementConflict,
				"flag %s is %.1fm away, minimum spacing is %.0fm", h.Flag.ID, h.Distance, m.rules.MinSeparation)
		}
	}
	return nil
}

// Upgrade raises a flag one level. The flag heals to the new max hp; with a
// configured upgrade duration it sits in upgrading until the duration ends.
func (m *Manager) Upgrade(ctx context.Context, flagID, callerID string, now time.Time) (core.Flag, error) {
	snap, err := m.view(ctx, flagID, now)
	if err != nil {
		return core.Flag{}, err
	}
	if err := m.canUpgrade(&snap, callerID); err != nil {
		return core.Flag{}, err
	}

	from := snap.Level
	cost := m.rules.UpgradeCost(from)
	if err := m.debit(ctx, callerID, cost); err != nil {
		return core.Flag{}, err
	}

	change, err := m.store.Mutate(ctx, flagID, now, func(f *core.Flag) ([]core.LedgerEntry, error) {
		if err := m.canUpgrade(f, callerID); err != nil {
			return nil, err
		}
		if f.Level != from {
			return nil, core.Errorf(core.KindInvalidStateTransition, "flag changed level while paying")
		}
		if err := m.rules.SetLevel(f, from+1); err != nil {
			return nil, err
		}
		f.HP = f.MaxHP
		f.Status = core.StatusActive
		f.UpgradeCompletesAt = nil
		if m.rules.UpgradeDuration > 0 {
			f.Status = core.StatusUpgrading
			f.UpgradeCompletesAt = core.TimePtr(now.Add(m.rules.UpgradeDuration))
		}
		return []core.LedgerEntry{{
			Type:    core.LedgerUpgrade,
			Amount:  cost,
			ActorID: callerID,
			At:      now,
			Details: map[string]any{"from": from, "to": from + 1},
		}}, nil
	})
	if err != nil {
		m.refund(callerID, cost, "upgrade")
		return core.Flag{}, err
	}
	return change.After, nil
}

func (m *Manager) canUpgrade(f *core.Flag, callerID string) error {
	if !f.OwnedBy(callerID) {
		return core.Errorf(core.KindNotOwner, "flag %s is not yours", f.ID)
	}
	if f.Level >= m.rules.MaxLevel() {
		return core.Errorf(core.KindInvalidStateTransition, "flag is already at max level %d", m.rules.MaxLevel())
	}
	if f.Status != core.StatusActive && f.Status != core.StatusDamaged {
		return core.Errorf(core.KindInvalidStateTransition, "flag in status %s cannot be upgraded", f.Status)
	}
	return nil
}

// CompleteUpgrade ends a timed upgrade that is due at now. It reports
// whether the flag changed.
func CompleteUpgrade(f *core.Flag, now time.Time) bool {
	if f.UpgradeCompletesAt == nil {
		return false
	}
	if f.Status != core.StatusUpgrading {
		// interrupted by combat; the level change already happened
		f.UpgradeCompletesAt = nil
		return true
	}
	if now.Before(*f.UpgradeCompletesAt) {
		return false
	}
	f.Status = core.StatusActive
	f.UpgradeCompletesAt = nil
	return true
}

// RepairQuote is the gold needed to bring f back to max hp.
func (m *Manager) RepairQuote(f *core.Flag) float64 {
	return float64(f.MaxHP-f.HP) * m.rules.RepairCostPerHP
}

// Repair restores a flag to max hp for a per-hp price. A flag under active
// assault cannot be repaired.
func (m *Manager) Repair(ctx context.Context, flagID, callerID string, now time.Time) (core.Flag, float64, error) {
	snap, err := m.view(ctx, flagID, now)
	if err != nil {
		return core.Flag{}, 0, err
	}
	if err := canRepair(&snap, callerID); err != nil {
		return core.Flag{}, 0, err
	}

	hp := snap.HP
	cost := m.RepairQuote(&snap)
	if err := m.debit(ctx, callerID, cost); err != nil {
		return core.Flag{}, 0, err
	}

	change, err := m.store.Mutate(ctx, flagID, now, func(f *core.Flag) ([]core.LedgerEntry, error) {
		if err := canRepair(f, callerID); err != nil {
			return nil, err
		}
		if f.HP != hp {
			return nil, core.Errorf(core.KindInvalidStateTransition, "flag hp changed while paying")
		}
		restored := f.MaxHP - f.HP
		f.HP = f.MaxHP
		f.Status = core.StatusActive
		f.CaptureWindowOpenedAt = nil
		return []core.LedgerEntry{{
			Type:    core.LedgerRepair,
			Amount:  cost,
			ActorID: callerID,
			At:      now,
			Details: map[string]any{"hp": restored},
		}}, nil
	})
	if err != nil {
		m.refund(callerID, cost, "repair")
		return core.Flag{}, 0, err
	}
	return change.After, cost, nil
}

func canRepair(f *core.Flag, callerID string) error {
	if !f.OwnedBy(callerID) {
		return core.Errorf(core.KindNotOwner, "flag %s is not yours", f.ID)
	}
	switch f.Status {
	case core.StatusDamaged, core.StatusCapturable, core.StatusDecayed:
	case core.StatusUnderAttack:
		return core.Errorf(core.KindInvalidStateTransition, "flag is under attack")
	default:
		return core.Errorf(core.KindInvalidStateTransition, "flag in status %s needs no repair", f.Status)
	}
	if f.HP >= f.MaxHP {
		return core.Errorf(core.KindInvalidStateTransition, "flag is at full hp")
	}
	return nil
}

// Abandon decommissions a flag: it drops to zero hp and decays, free for
// anyone else to capture.
func (m *Manager) Abandon(ctx context.Context, flagID, callerID string, now time.Time) (core.Flag, error) {
	change, err := m.store.Mutate(ctx, flagID, now, func(f *core.Flag) ([]core.LedgerEntry, error) {
		if !f.OwnedBy(callerID) {
			return nil, core.Errorf(core.KindNotOwner, "flag %s is not yours", f.ID)
		}
		if f.Status.Destroyed() {
			return nil, core.Errorf(core.KindInvalidStateTransition, "flag is already %s", f.Status)
		}
		hp := f.HP
		f.HP = 0
		f.Status = core.StatusDecayed
		f.CaptureWindowOpenedAt = nil
		f.UpgradeCompletesAt = nil
		return []core.LedgerEntry{{
			Type:    core.LedgerAbandon,
			Amount:  float64(hp),
			ActorID: callerID,
			At:      now,
		}}, nil
	})
	if err != nil {
		return core.Flag{}, err
	}
	return change.After, nil
}

func (m *Manager) view(ctx context.Context, flagID string, now time.Time) (core.Flag, error) {
	f, err := m.store.Get(ctx, flagID)
	if err != nil {
		return core.Flag{}, err
	}
	return m.project(f, now), nil
}

func (m *Manager) debit(ctx context.Context, playerID string, amount float64) error {
	if amount <= 0 {
		return nil
	}
	if err := m.wallet.Debit(ctx, playerID, amount); err != nil {
		return fmt.Errorf("debit %.0f gold: %w", amount, err)
	}
	return nil
}

// refund runs detached from the request context.
func (m *Manager) refund(playerID string, amount float64, action string) {
	if amount <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.wallet.Credit(ctx, playerID, amount); err != nil {
		m.log.Error("Refund failed", "action", action, "player", playerID, "amount", amount, "error", err)
	}
}

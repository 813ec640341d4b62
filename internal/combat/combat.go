// Package combat applies damage and ownership transfer to flags.
// Every function here mutates the flag it is handed and performs no I/O;
// callers hold the flag's lock and persist the result.
package combat

import (
	"time"

	"github.com/geoflags/territory/internal/rules"
	"github.com/geoflags/territory/internal/zoneindex"
	"github.com/geoflags/territory/pkg/core"
)

// Resolver validates and applies attacks and captures against one rule set.
type Resolver struct {
	rules rules.Rules
}

// NewResolver creates a Resolver.
func NewResolver(r rules.Rules) *Resolver {
	return &Resolver{rules: r}
}

// AttackResult describes the outcome of a committed attack.
type AttackResult struct {
	HPBefore  int
	HPAfter   int
	Status    core.Status
	Destroyed bool
	// WindowClosesAt is set when the attack opened the capture window.
	WindowClosesAt *time.Time
}

// CaptureResult describes an ownership transfer.
type CaptureResult struct {
	PreviousOwner string
	Loot          float64
	Level         int
}

// Attack applies damage from attackerID standing at pos. Validation order is
// damage bounds, self-attack, protection, status, then range.
func (c *Resolver) Attack(f *core.Flag, attackerID string, pos core.Position, damage int, now time.Time) (AttackResult, core.LedgerEntry, error) {
	if attackerID == "" {
		return AttackResult{}, core.LedgerEntry{}, core.Errorf(core.KindValidation, "attacker id is required")
	}
	if damage <= 0 || damage > c.rules.MaxDamage {
		return AttackResult{}, core.LedgerEntry{}, core.Errorf(core.KindValidation, "damage %d outside 1..%d", damage, c.rules.MaxDamage)
	}
	if f.OwnedBy(attackerID) {
		return AttackResult{}, core.LedgerEntry{}, core.Errorf(core.KindInvalidStateTransition, "cannot attack your own flag")
	}
	if f.Protected(now) {
		return AttackResult{}, core.LedgerEntry{}, core.Errorf(core.KindInvalidStateTransition,
			"flag is protected until %s", f.ProtectedUntil.UTC().Format(time.RFC3339))
	}
	if !f.Status.Attackable() {
		return AttackResult{}, core.LedgerEntry{}, core.Errorf(core.KindInvalidStateTransition,
			"flag in status %s cannot take damage", f.Status)
	}
	if ok, d := zoneindex.Covers(f, pos.Lat, pos.Lon); !ok {
		return AttackResult{}, core.LedgerEntry{}, core.Errorf(core.KindNotInRange,
			"attacker is %.1fm from the flag, zone radius is %.1fm", d, f.Radius)
	}

	res := AttackResult{HPBefore: f.HP}
	assault := f.Status == core.StatusDamaged || f.Status == core.StatusUnderAttack
	if f.LastAttackedAt == nil || now.Sub(*f.LastAttackedAt) > c.rules.AssaultWindow {
		assault = false
	}

	f.HP = max(0, f.HP-damage)
	f.LastAttackedAt = core.TimePtr(now)

	switch {
	case f.HP == 0:
		c.Destroy(f, now)
		res.Destroyed = true
		closes := now.Add(c.rules.CaptureWindow)
		res.WindowClosesAt = &closes
	case assault:
		f.Status = core.StatusUnderAttack
	default:
		f.Status = core.StatusDamaged
	}
	res.HPAfter = f.HP
	res.Status = f.Status

	entry := core.LedgerEntry{
		FlagID:  f.ID,
		Type:    core.LedgerAttack,
		Amount:  float64(res.HPBefore - res.HPAfter),
		ActorID: attackerID,
		At:      now,
		Details: map[string]any{
			"damage":   damage,
			"hpBefore": res.HPBefore,
			"hpAfter":  res.HPAfter,
		},
	}
	return res, entry, nil
}

// Destroy is the zero-hp transition shared by combat and upkeep decay:
// hp drops to 0, the flag becomes capturable and the capture window opens at.
func (c *Resolver) Destroy(f *core.Flag, at time.Time) {
	f.HP = 0
	f.Status = core.StatusCapturable
	f.CaptureWindowOpenedAt = core.TimePtr(at)
	f.UpgradeCompletesAt = nil
}

// Capture transfers ownership of a zero-hp flag to capturerID. A share of
// any positive balance is returned as loot; the rest of the balance is lost.
func (c *Resolver) Capture(f *core.Flag, capturerID string, pos core.Position, now time.Time) (CaptureResult, core.LedgerEntry, error) {
	if capturerID == "" {
		return CaptureResult{}, core.LedgerEntry{}, core.Errorf(core.KindValidation, "capturer id is required")
	}
	c.ExpireWindow(f, now)

	if f.HP > 0 {
		return CaptureResult{}, core.LedgerEntry{}, core.Errorf(core.KindInvalidStateTransition,
			"flag still has %d hp", f.HP)
	}
	if !f.Status.Destroyed() {
		return CaptureResult{}, core.LedgerEntry{}, core.Errorf(core.KindNotCapturable, "flag in status %s", f.Status)
	}
	if f.OwnedBy(capturerID) {
		return CaptureResult{}, core.LedgerEntry{}, core.Errorf(core.KindNotCapturable, "flag is already yours")
	}
	if ok, d := zoneindex.Covers(f, pos.Lat, pos.Lon); !ok {
		return CaptureResult{}, core.LedgerEntry{}, core.Errorf(core.KindNotInRange,
			"capturer is %.1fm from the flag, zone radius is %.1fm", d, f.Radius)
	}

	res := CaptureResult{PreviousOwner: f.OwnerID}
	removed := f.Balance
	res.Loot = max(f.Balance, 0) * c.rules.CaptureLootFraction

	if c.rules.ResetLevelOnCapture && f.Level != 1 {
		if err := c.rules.SetLevel(f, 1); err != nil {
			return CaptureResult{}, core.LedgerEntry{}, err
		}
	}

	f.OwnerID = capturerID
	f.HP = f.MaxHP
	f.Status = core.StatusActive
	f.CaptureWindowOpenedAt = nil
	f.ProtectedUntil = nil
	if c.rules.Protection > 0 {
		f.ProtectedUntil = core.TimePtr(now.Add(c.rules.Protection))
	}
	f.Balance = 0
	f.GraceStartedAt = nil
	f.LastDecayAt = nil
	f.LastTickAt = now
	f.LastUpkeepAt = now
	res.Level = f.Level

	entry := core.LedgerEntry{
		FlagID:  f.ID,
		Type:    core.LedgerCapture,
		Amount:  -removed,
		ActorID: capturerID,
		At:      now,
		Details: map[string]any{
			"previousOwner": res.PreviousOwner,
			"loot":          res.Loot,
		},
	}
	return res, entry, nil
}

// ExpireWindow moves a capturable flag whose window has lapsed to decayed.
// It reports whether the transition happened.
func (c *Resolver) ExpireWindow(f *core.Flag, now time.Time) bool {
	if f.Status != core.StatusCapturable || f.CaptureWindowOpenedAt == nil {
		return false
	}
	if now.Before(f.CaptureWindowOpenedAt.Add(c.rules.CaptureWindow)) {
		return false
	}
	f.Status = core.StatusDecayed
	f.CaptureWindowOpenedAt = nil
	return true
}

// Settle applies the time-driven combat transitions due at now: a lapsed
// capture window becomes decayed and a quiet assault falls back to damaged.
// It reports whether the capture window expired.
func (c *Resolver) Settle(f *core.Flag, now time.Time) bool {
	if f.Status == core.StatusUnderAttack && f.LastAttackedAt != nil &&
		now.Sub(*f.LastAttackedAt) > c.rules.AssaultWindow {
		f.Status = core.StatusDamaged
	}
	return c.ExpireWindow(f, now)
}

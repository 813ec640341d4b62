package territory

import (
	"context"
	"fmt"
	"time"

	"github.com/geoflags/territory/internal/combat"
	"github.com/geoflags/territory/internal/flagstore"
	"github.com/geoflags/territory/internal/lifecycle"
	"github.com/geoflags/territory/pkg/core"
)

// creditTimeout bounds wallet calls made after a commit, detached from the
// request context.
const creditTimeout = 10 * time.Second

// PlaceRequest is a placement order.
type PlaceRequest = lifecycle.PlaceRequest

// AttackOutcome is the committed result of an attack.
type AttackOutcome struct {
	Flag           core.Snapshot `json:"flag"`
	Damage         int           `json:"damage"`
	Destroyed      bool          `json:"destroyed"`
	WindowClosesAt *time.Time    `json:"windowClosesAt,omitempty"`
}

// CaptureOutcome is the committed result of a capture.
type CaptureOutcome struct {
	Flag          core.Snapshot `json:"flag"`
	PreviousOwner string        `json:"previousOwner,omitempty"`
	Loot          float64       `json:"loot"`
}

// Place creates a flag for req.OwnerID.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (f core.Flag, err error) {
	defer func(start time.Time) { s.record(ctx, "place", start, err) }(time.Now())

	now := s.now()
	f, err = s.lifecycle.Place(ctx, req, now)
	if err != nil {
		return core.Flag{}, err
	}
	s.emit(core.EventPlaced, req.OwnerID, s.lifecycle.PlacementCost(f.Level), now, f)
	return f, nil
}

// Upgrade raises a flag one level for its owner.
func (s *Service) Upgrade(ctx context.Context, flagID, callerID string) (f core.Flag, err error) {
	defer func(start time.Time) { s.record(ctx, "upgrade", start, err) }(time.Now())

	now := s.now()
	f, err = s.lifecycle.Upgrade(ctx, flagID, callerID, now)
	if err != nil {
		return core.Flag{}, err
	}
	s.emit(core.EventUpgraded, callerID, s.rules.UpgradeCost(f.Level-1), now, f)
	return f, nil
}

// Repair restores a flag to full hp for its owner and returns the price paid.
func (s *Service) Repair(ctx context.Context, flagID, callerID string) (f core.Flag, cost float64, err error) {
	defer func(start time.Time) { s.record(ctx, "repair", start, err) }(time.Now())

	now := s.now()
	f, cost, err = s.lifecycle.Repair(ctx, flagID, callerID, now)
	if err != nil {
		return core.Flag{}, 0, err
	}
	s.emit(core.EventRepaired, callerID, cost, now, f)
	return f, cost, nil
}

// Abandon gives up a flag; it stays on the map as a decayed ruin.
func (s *Service) Abandon(ctx context.Context, flagID, callerID string) (f core.Flag, err error) {
	defer func(start time.Time) { s.record(ctx, "abandon", start, err) }(time.Now())

	now := s.now()
	f, err = s.lifecycle.Abandon(ctx, flagID, callerID, now)
	if err != nil {
		return core.Flag{}, err
	}
	s.emit(core.EventAbandoned, callerID, 0, now, f)
	return f, nil
}

// position is the server-side fix used for range checks.
func (s *Service) position(playerID string) (core.Position, error) {
	if playerID == "" {
		return core.Position{}, core.Errorf(core.KindValidation, "player id is required")
	}
	fix, ok := s.tracker.Position(playerID)
	if !ok {
		return core.Position{}, core.Errorf(core.KindNotInRange, "no known position for %s, report a move first", playerID)
	}
	return fix.Position, nil
}

// Attack deals damage to a flag from the attacker's tracked position. A
// version conflict is returned to the caller, never retried.
func (s *Service) Attack(ctx context.Context, flagID, attackerID string, damage int) (out AttackOutcome, err error) {
	defer func(start time.Time) { s.record(ctx, "attack", start, err) }(time.Now())

	pos, err := s.position(attackerID)
	if err != nil {
		return AttackOutcome{}, err
	}

	now := s.now()
	var res combat.AttackResult
	change, err := s.store.Mutate(ctx, flagID, now, func(f *core.Flag) ([]core.LedgerEntry, error) {
		r, entry, err := s.combat.Attack(f, attackerID, pos, damage, now)
		if err != nil {
			return nil, err
		}
		res = r
		return []core.LedgerEntry{entry}, nil
	}, flagstore.NoRetry())
	if err != nil {
		return AttackOutcome{}, err
	}

	dealt := res.HPBefore - res.HPAfter
	s.emit(core.EventAttacked, attackerID, float64(dealt), now, change.After)
	if res.Destroyed {
		s.log.Info("Flag destroyed", "flag", flagID, "attacker", attackerID, "owner", change.After.OwnerID)
		s.emit(core.EventDestroyed, attackerID, 0, now, change.After)
	}
	return AttackOutcome{
		Flag:           change.After.Snapshot(),
		Damage:         dealt,
		Destroyed:      res.Destroyed,
		WindowClosesAt: res.WindowClosesAt,
	}, nil
}

// Capture takes ownership of a destroyed flag from the capturer's tracked
// position. Loot is credited after the ownership change is committed.
func (s *Service) Capture(ctx context.Context, flagID, capturerID string) (out CaptureOutcome, err error) {
	defer func(start time.Time) { s.record(ctx, "capture", start, err) }(time.Now())

	pos, err := s.position(capturerID)
	if err != nil {
		return CaptureOutcome{}, err
	}

	now := s.now()
	var res combat.CaptureResult
	change, err := s.store.Mutate(ctx, flagID, now, func(f *core.Flag) ([]core.LedgerEntry, error) {
		r, entry, err := s.combat.Capture(f, capturerID, pos, now)
		if err != nil {
			return nil, err
		}
		res = r
		return []core.LedgerEntry{entry}, nil
	}, flagstore.NoRetry())
	if err != nil {
		return CaptureOutcome{}, err
	}

	if res.Loot > 0 {
		cctx, cancel := context.WithTimeout(context.Background(), creditTimeout)
		if err := s.wallet.Credit(cctx, capturerID, res.Loot); err != nil {
			s.log.Error("Capture loot credit failed", "flag", flagID, "player", capturerID, "loot", res.Loot, "error", err)
		}
		cancel()
	}

	s.log.Info("Flag captured", "flag", flagID, "from", res.PreviousOwner, "to", capturerID, "loot", res.Loot)
	s.emit(core.EventCaptured, capturerID, res.Loot, now, change.After)
	return CaptureOutcome{Flag: change.After.Snapshot(), PreviousOwner: res.PreviousOwner, Loot: res.Loot}, nil
}

// Collect moves a flag's accrued balance into the owner's wallet. Exactly
// one of several concurrent collections sees the positive balance; the rest
// collect 0. If the wallet rejects the credit the balance is put back.
func (s *Service) Collect(ctx context.Context, flagID, callerID string) (amount float64, err error) {
	defer func(start time.Time) { s.record(ctx, "collect", start, err) }(time.Now())

	now := s.now()
	change, err := s.store.Mutate(ctx, flagID, now, func(f *core.Flag) ([]core.LedgerEntry, error) {
		amt, entry, err := s.economy.Collect(f, callerID, now)
		if err != nil {
			return nil, err
		}
		amount = amt
		if entry == nil {
			return nil, nil
		}
		return []core.LedgerEntry{*entry}, nil
	})
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, nil
	}

	cctx, cancel := context.WithTimeout(context.Background(), creditTimeout)
	defer cancel()
	if err := s.wallet.Credit(cctx, callerID, amount); err != nil {
		s.restoreBalance(flagID, callerID, amount, now)
		return 0, fmt.Errorf("credit collected revenue: %w", err)
	}

	s.emit(core.EventCollected, callerID, amount, now, change.After)
	return amount, nil
}

// restoreBalance reverses a collection whose credit failed, with a
// compensating ledger entry.
func (s *Service) restoreBalance(flagID, playerID string, amount float64, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), creditTimeout)
	defer cancel()
	_, err := s.store.Mutate(ctx, flagID, now, func(f *core.Flag) ([]core.LedgerEntry, error) {
		f.Balance += amount
		return []core.LedgerEntry{{
			Type:    core.LedgerCollection,
			Amount:  amount,
			ActorID: playerID,
			At:      now,
			Details: map[string]any{"reversal": true},
		}}, nil
	})
	if err != nil {
		s.log.Error("Collection reversal failed", "flag", flagID, "player", playerID, "amount", amount, "error", err)
	}
}

// Package movement authorizes player positions server-side.
package movement

import (
	"sync"
	"time"

	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/internal/zoneindex"
	"github.com/geoflags/territory/pkg/core"
)

// Decision reasons.
const (
	ReasonOwnTerritory     = "in_own_territory"
	ReasonInTerritory      = "in_territory"
	ReasonLocalStep        = "local_step"
	ReasonOutsideTerritory = string(core.KindOutsideTerritory)
	ReasonSpawn            = "spawn"
)

// Decision is the outcome of a movement check.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason"`
	FlagID  string  `json:"flagId,omitempty"`
	Step    float64 `json:"stepMeters"`
}

// Err returns an OutsideTerritory error for a rejected decision, nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return core.Errorf(core.KindOutsideTerritory, "target is outside every zone and %.0fm from the current position", d.Step)
}

// Gate is a read-only predicate over the zone index. It never mutates
// anything and may be called speculatively.
type Gate struct {
	index     *zoneindex.Index
	localStep float64
}

// NewGate creates a Gate allowing free steps up to localStep meters.
func NewGate(index *zoneindex.Index, localStep float64) *Gate {
	return &Gate{index: index, localStep: localStep}
}

// CanMove allows the target if it lies inside any zone, whoever owns it, or
// within the local step of current. ownedFlagIDs only refines the reason.
func (g *Gate) CanMove(playerID string, current, target core.Position, ownedFlagIDs []string) Decision {
	step := geo.DistanceMeters(current.Lat, current.Lon, target.Lat, target.Lon)

	zones := g.index.Query(target.Lat, target.Lon, 0)
	if len(zones) > 0 {
		owned := make(map[string]struct{}, len(ownedFlagIDs))
		for _, id := range ownedFlagIDs {
			owned[id] = struct{}{}
		}
		for _, f := range zones {
			if _, ok := owned[f.ID]; ok || f.OwnedBy(playerID) {
				return Decision{Allowed: true, Reason: ReasonOwnTerritory, FlagID: f.ID, Step: step}
			}
		}
		return Decision{Allowed: true, Reason: ReasonInTerritory, FlagID: zones[0].ID, Step: step}
	}

	if step <= g.localStep {
		return Decision{Allowed: true, Reason: ReasonLocalStep, Step: step}
	}
	return Decision{Allowed: false, Reason: ReasonOutsideTerritory, Step: step}
}

// Fix is a committed player position.
type Fix struct {
	Position core.Position `json:"position"`
	At       time.Time     `json:"at"`
}

// Tracker holds the last authorized position of each player. Combat range
// checks read from it so clients cannot claim arbitrary positions.
type Tracker struct {
	gate *Gate

	mu        sync.RWMutex
	positions map[string]Fix
}

// NewTracker creates an empty Tracker.
func NewTracker(gate *Gate) *Tracker {
	return &Tracker{gate: gate, positions: make(map[string]Fix)}
}

// Move validates and commits a move. The first fix of a player is accepted
// anywhere as a spawn position; every later fix goes through the gate.
func (t *Tracker) Move(playerID string, target core.Position, ownedFlagIDs []string, now time.Time) (Decision, error) {
	if playerID == "" {
		return Decision{}, core.Errorf(core.KindValidation, "player id is required")
	}
	if !geo.ValidLatLon(target.Lat, target.Lon) {
		return Decision{}, core.Wrap(core.KindValidation, geo.ErrInvalidCoordinates, "target")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.positions[playerID]
	if !ok {
		t.positions[playerID] = Fix{Position: target, At: now}
		return Decision{Allowed: true, Reason: ReasonSpawn}, nil
	}
	d := t.gate.CanMove(playerID, cur.Position, target, ownedFlagIDs)
	if !d.Allowed {
		return d, d.Err()
	}
	t.positions[playerID] = Fix{Position: target, At: now}
	return d, nil
}

// Position returns the last committed fix for playerID.
func (t *Tracker) Position(playerID string) (Fix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[playerID]
	return p, ok
}

package territory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/geoflags/territory/internal/conflict"
	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/internal/movement"
	"github.com/geoflags/territory/pkg/core"
	"github.com/peterstace/simplefeatures/geom"
)

// MaxQueryRadius caps nearby searches.
const MaxQueryRadius = 50_000.0

// outlineVertices is the polygon resolution used for zone outlines.
const outlineVertices = 64

// Outline is a flag's zone drawn as a polygon for map clients.
type Outline struct {
	FlagID  string       `json:"id"`
	Radius  float64      `json:"radiusMeters"`
	Polygon geom.Polygon `json:"outline"`
	WKT     string       `json:"wkt"`
}

// NearbyFlag is one result of a nearby query.
type NearbyFlag struct {
	Flag     core.Snapshot `json:"flag"`
	Distance float64       `json:"distanceMeters"`
}

// ClaimView is the resolved controller of a point.
type ClaimView struct {
	Flag     core.Snapshot     `json:"flag"`
	Distance float64           `json:"distanceMeters"`
	Score    float64           `json:"score"`
	Strategy conflict.Strategy `json:"strategy"`
}

// Group is a set of one owner's flags whose zones touch, directly or
// through other flags of the group.
type Group struct {
	OwnerID string          `json:"ownerId"`
	Flags   []core.Snapshot `json:"flags"`
}

// Reconciliation compares a flag's cached balance with its ledger.
type Reconciliation struct {
	FlagID    string                      `json:"flagId"`
	Balance   float64                     `json:"balance"`
	LedgerSum float64                     `json:"ledgerSum"`
	Drift     float64                     `json:"drift"`
	Entries   int                         `json:"entries"`
	ByType    map[core.LedgerType]float64 `json:"byType"`
}

// Consistent reports whether the ledger explains the cached balance.
func (r Reconciliation) Consistent() bool {
	return math.Abs(r.Drift) < 1e-6
}

func checkPoint(lat, lon float64, what string) error {
	if !geo.ValidLatLon(lat, lon) {
		return core.Wrap(core.KindValidation, geo.ErrInvalidCoordinates, what)
	}
	return nil
}

// Flag returns a flag projected to now. Reads never write.
func (s *Service) Flag(ctx context.Context, id string) (core.Flag, error) {
	f, err := s.store.Get(ctx, id)
	if err != nil {
		return core.Flag{}, err
	}
	return s.project(f, s.now()), nil
}

// Outline returns the zone of flag id as a closed polygon, sized by its
// current level.
func (s *Service) Outline(ctx context.Context, id string) (Outline, error) {
	f, err := s.Flag(ctx, id)
	if err != nil {
		return Outline{}, err
	}
	poly, err := geo.ZoneOutline(f.Lat, f.Lon, f.Radius, outlineVertices)
	if err != nil {
		return Outline{}, err
	}
	return Outline{FlagID: f.ID, Radius: f.Radius, Polygon: poly, WKT: poly.AsText()}, nil
}

// Ledger returns a flag's committed ledger, oldest first.
func (s *Service) Ledger(ctx context.Context, id string) ([]core.LedgerEntry, error) {
	return s.store.Ledger(ctx, id)
}

// Nearby lists the flags whose zone reaches the circle of radiusMeters around
// the point, closest center first, projected to now.
func (s *Service) Nearby(lat, lon, radiusMeters float64) ([]NearbyFlag, error) {
	if err := checkPoint(lat, lon, "query point"); err != nil {
		return nil, err
	}
	if radiusMeters < 0 || radiusMeters > MaxQueryRadius || math.IsNaN(radiusMeters) {
		return nil, core.Errorf(core.KindValidation, "radius %.0fm outside 0..%.0f", radiusMeters, MaxQueryRadius)
	}
	now := s.now()
	hits := s.index.Search(lat, lon, radiusMeters)
	out := make([]NearbyFlag, len(hits))
	for i, h := range hits {
		f := s.project(h.Flag, now)
		out[i] = NearbyFlag{Flag: f.Snapshot(), Distance: h.Distance}
	}
	return out, nil
}

// Claim resolves which flag controls the point. ok is false in neutral
// territory.
func (s *Service) Claim(lat, lon float64) (ClaimView, bool, error) {
	if err := checkPoint(lat, lon, "claim point"); err != nil {
		return ClaimView{}, false, err
	}
	c, ok := s.conflict.Resolve(lat, lon, s.index.Query(lat, lon, 0))
	if !ok {
		return ClaimView{}, false, nil
	}
	return ClaimView{Flag: c.Flag.Snapshot(), Distance: c.Distance, Score: c.Score, Strategy: c.Strategy}, true, nil
}

func (s *Service) ownedIDs(playerID string) []string {
	owned := s.index.ByOwner(playerID)
	ids := make([]string, len(owned))
	for i, f := range owned {
		ids[i] = f.ID
	}
	return ids
}

// CanMove is the speculative movement check. It changes nothing.
func (s *Service) CanMove(playerID string, current, target core.Position) (movement.Decision, error) {
	if err := checkPoint(current.Lat, current.Lon, "current position"); err != nil {
		return movement.Decision{}, err
	}
	if err := checkPoint(target.Lat, target.Lon, "target position"); err != nil {
		return movement.Decision{}, err
	}
	return s.gate.CanMove(playerID, current, target, s.ownedIDs(playerID)), nil
}

// Move commits a player position after the movement check. The first report
// of a player is taken as a spawn.
func (s *Service) Move(ctx context.Context, playerID string, target core.Position) (d movement.Decision, err error) {
	defer func(start time.Time) { s.record(ctx, "move", start, err) }(time.Now())
	return s.tracker.Move(playerID, target, s.ownedIDs(playerID), s.now())
}

// Position returns the last committed fix of a player.
func (s *Service) Position(playerID string) (movement.Fix, bool) {
	return s.tracker.Position(playerID)
}

// Groups partitions an owner's flags into connected territories. Two flags
// are connected when their circles touch: d <= r1 + r2. Larger groups come
// first.
func (s *Service) Groups(ownerID string) []Group {
	flags := s.index.ByOwner(ownerID)
	parent := make([]int, len(flags))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := range flags {
		for j := i + 1; j < len(flags); j++ {
			a, b := &flags[i], &flags[j]
			if geo.DistanceMeters(a.Lat, a.Lon, b.Lat, b.Lon) <= a.Radius+b.Radius {
				parent[find(j)] = find(i)
			}
		}
	}

	byRoot := map[int]*Group{}
	var roots []int
	for i := range flags {
		r := find(i)
		g, ok := byRoot[r]
		if !ok {
			g = &Group{OwnerID: ownerID}
			byRoot[r] = g
			roots = append(roots, r)
		}
		g.Flags = append(g.Flags, flags[i].Snapshot())
	}

	out := make([]Group, 0, len(roots))
	for _, r := range roots {
		out = append(out, *byRoot[r])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Flags) != len(out[j].Flags) {
			return len(out[i].Flags) > len(out[j].Flags)
		}
		return out[i].Flags[0].ID < out[j].Flags[0].ID
	})
	return out
}

// Reconcile checks the stored balance of a flag against the sum of its
// balance-affecting ledger entries.
func (s *Service) Reconcile(ctx context.Context, id string) (Reconciliation, error) {
	f, err := s.store.Get(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	entries, err := s.store.Ledger(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	return reconcile(f, entries), nil
}

func reconcile(f core.Flag, entries []core.LedgerEntry) Reconciliation {
	r := Reconciliation{FlagID: f.ID, Balance: f.Balance, Entries: len(entries), ByType: map[core.LedgerType]float64{}}
	for _, e := range entries {
		if !e.AffectsBalance() {
			continue
		}
		r.LedgerSum += e.Amount
		r.ByType[e.Type] += e.Amount
	}
	r.Drift = f.Balance - r.LedgerSum
	return r
}

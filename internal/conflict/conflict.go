// Package conflict decides which flag controls a point covered by several
// overlapping zones.
package conflict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/pkg/core"
)

// Strategy names a precedence rule.
type Strategy string

const (
	Distance Strategy = "distance"
	Level    Strategy = "level"
	Age      Strategy = "age"
	Strength Strategy = "strength"
)

// ParseStrategy maps a configuration value to a Strategy. Empty selects Distance.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Distance:
		return Distance, nil
	case Level:
		return Level, nil
	case Age:
		return Age, nil
	case Strength:
		return Strength, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Claim is the resolved owner of a point. It is derived on demand and never
// stored.
type Claim struct {
	Flag     core.Flag
	Distance float64
	Score    float64
	Strategy Strategy
}

// OwnerID is the controlling player, empty for a neutral flag.
func (c Claim) OwnerID() string {
	return c.Flag.OwnerID
}

type candidate struct {
	flag  core.Flag
	dist  float64
	score float64
}

// Resolver applies one strategy. It holds no state besides the strategy and
// is safe for concurrent use.
type Resolver struct {
	strategy Strategy
}

// NewResolver creates a Resolver for s.
func NewResolver(s Strategy) *Resolver {
	if s == "" {
		s = Distance
	}
	return &Resolver{strategy: s}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve returns the flag controlling the point among candidates. Candidates
// whose zone does not contain the point are ignored; if none remains the
// point is neutral territory and ok is false. The winner is deterministic for
// any input order: every strategy falls back to flag id.
func (r *Resolver) Resolve(lat, lon float64, candidates []core.Flag) (Claim, bool) {
	var cs []candidate
	for _, f := range candidates {
		d := geo.DistanceMeters(lat, lon, f.Lat, f.Lon)
		if d > f.Radius {
			continue
		}
		cs = append(cs, candidate{flag: f, dist: d, score: StrengthScore(f.Level, d, f.Radius)})
	}
	if len(cs) == 0 {
		return Claim{}, false
	}

	less := r.less()
	sort.SliceStable(cs, func(i, j int) bool { return less(&cs[i], &cs[j]) })

	w := cs[0]
	return Claim{Flag: w.flag, Distance: w.dist, Score: w.score, Strategy: r.strategy}, true
}

// StrengthScore is level * 10 * (0.5 + 0.5 * (1 - d/radius)).
func StrengthScore(level int, d, radius float64) float64 {
	if radius <= 0 {
		return 0
	}
	return float64(level) * 10 * (0.5 + 0.5*(1-d/radius))
}

func (r *Resolver) less() func(a, b *candidate) bool {
	byID := func(a, b *candidate) bool { return a.flag.ID < b.flag.ID }
	byDistance := func(a, b *candidate) bool {
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		return byID(a, b)
	}

	switch r.strategy {
	case Level:
		return func(a, b *candidate) bool {
			if a.flag.Level != b.flag.Level {
				return a.flag.Level > b.flag.Level
			}
			return byDistance(a, b)
		}
	case Age:
		return func(a, b *candidate) bool {
			if !a.flag.CreatedAt.Equal(b.flag.CreatedAt) {
				return a.flag.CreatedAt.Before(b.flag.CreatedAt)
			}
			return byDistance(a, b)
		}
	case Strength:
		return func(a, b *candidate) bool {
			if a.score != b.score {
				return a.score > b.score
			}
			return byDistance(a, b)
		}
	default:
		return byDistance
	}
}

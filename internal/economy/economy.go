// Package economy accrues revenue, charges upkeep and applies debt decay.
//
// Tick is a pure, event-ordered walk from a flag's LastTickAt to now: the
// balance accrues continuously between upkeep charge instants, grace starts
// at the charge that first drives the balance negative, and decay hits land
// once per day after grace ends unless the balance recovered first. Splitting
// the walk at any intermediate instant yields the same state as a single walk.
package economy

import (
	"math"
	"time"

	"github.com/geoflags/territory/internal/combat"
	"github.com/geoflags/territory/internal/rules"
	"github.com/geoflags/territory/pkg/core"
)

// DecayInterval is the spacing of hp decay hits once grace has run out.
const DecayInterval = 24 * time.Hour

// Charge is one upkeep charge applied during a tick.
type Charge struct {
	At     time.Time
	Amount float64
}

// Decay is one hp decay hit applied during a tick.
type Decay struct {
	At        time.Time
	HP        int
	Remaining int
}

// Result describes everything a tick changed.
type Result struct {
	From    time.Time
	To      time.Time
	Factor  float64
	Accrued float64
	Charges []Charge
	Decays  []Decay
	// DestroyedAt is set when decay drove hp to zero during the tick.
	DestroyedAt *time.Time
}

// Changed reports whether the tick moved any gold or hp.
func (r Result) Changed() bool {
	return r.Accrued != 0 || len(r.Charges) > 0 || len(r.Decays) > 0
}

type walker struct {
	f      *core.Flag
	rules  rules.Rules
	combat *combat.Resolver
	factor float64
	cur    time.Time
	res    *Result
}

// Tick advances f to now using the revenue variance factor and returns the
// advanced copy. f itself is not modified.
func Tick(in core.Flag, now time.Time, factor float64, r rules.Rules) (core.Flag, Result) {
	f := in.Clone()
	if f.LastTickAt.IsZero() {
		f.LastTickAt = f.CreatedAt
	}
	if f.LastUpkeepAt.IsZero() {
		f.LastUpkeepAt = f.LastTickAt
	}
	res := Result{From: f.LastTickAt, To: now, Factor: factor}
	if !now.After(f.LastTickAt) {
		res.To = f.LastTickAt
		return *f, res
	}

	w := &walker{f: f, rules: r, combat: combat.NewResolver(r), factor: factor, cur: f.LastTickAt, res: &res}
	for {
		next := f.LastUpkeepAt.Add(r.UpkeepPeriod)
		if next.After(now) {
			break
		}
		w.advance(next)
		w.charge(next)
	}
	w.advance(now)
	f.LastTickAt = now
	return *f, res
}

// Project is Tick at the neutral factor, used for read-only views.
func Project(f core.Flag, now time.Time, r rules.Rules) core.Flag {
	out, _ := Tick(f, now, 1, r)
	return out
}

// ratePerSecond is the current accrual speed. Destroyed and neutral flags
// earn nothing.
func (w *walker) ratePerSecond() float64 {
	if w.f.Neutral() || !w.f.Status.Earning() {
		return 0
	}
	return w.rules.HourlyRevenue(w.f) * w.factor / 3600
}

func (w *walker) accrue(to time.Time) {
	if !to.After(w.cur) {
		return
	}
	gain := w.ratePerSecond() * to.Sub(w.cur).Seconds()
	w.f.Balance += gain
	w.res.Accrued += gain
	w.cur = to
}

// advance walks from cur to `to`, handling recovery and decay instants that
// fall inside the interval.
func (w *walker) advance(to time.Time) {
	for to.After(w.cur) {
		if w.f.GraceStartedAt == nil {
			w.accrue(to)
			return
		}

		segEnd := to
		rate := w.ratePerSecond()
		recovers := false
		var recoverAt time.Time
		if rate > 0 {
			secs := -w.f.Balance / rate
			if secs <= to.Sub(w.cur).Seconds() {
				recoverAt = w.cur.Add(time.Duration(math.Ceil(secs * float64(time.Second))))
				if recoverAt.After(to) {
					recoverAt = to
				}
				recovers = true
				segEnd = recoverAt
			}
		}

		// a decay hit lands only if it comes strictly before recovery
		next, ok := w.nextDecay()
		if ok && (next.Before(segEnd) || !recovers && !next.After(segEnd)) {
			w.accrue(next)
			w.decay(next)
			continue
		}

		w.accrue(segEnd)
		if recovers {
			if w.f.Balance < 0 {
				w.f.Balance = 0
			}
			w.f.GraceStartedAt = nil
			w.f.LastDecayAt = nil
		}
	}
}

// nextDecay returns the next decay instant while the flag is in debt and
// still standing. The first hit lands when the grace period ends, then one
// per DecayInterval. It is never earlier than the walker's position, so a
// shortened grace period takes effect from now rather than retroactively.
func (w *walker) nextDecay() (time.Time, bool) {
	f := w.f
	if f.GraceStartedAt == nil || w.rules.DecayHPPerDay == 0 || !f.Status.Earning() {
		return time.Time{}, false
	}
	next := f.GraceStartedAt.Add(w.rules.GracePeriod)
	if f.LastDecayAt != nil {
		next = f.LastDecayAt.Add(DecayInterval)
	}
	if next.Before(w.cur) {
		next = w.cur
	}
	return next, true
}

func (w *walker) decay(at time.Time) {
	f := w.f
	hit := min(w.rules.DecayHPPerDay, f.HP)
	f.HP -= hit
	f.LastDecayAt = core.TimePtr(at)
	w.res.Decays = append(w.res.Decays, Decay{At: at, HP: hit, Remaining: f.HP})

	if f.HP == 0 {
		w.combat.Destroy(f, at)
		w.res.DestroyedAt = core.TimePtr(at)
		return
	}
	if f.Status == core.StatusActive {
		f.Status = core.StatusDamaged
	}
}

func (w *walker) charge(at time.Time) {
	f := w.f
	f.LastUpkeepAt = at
	if f.Neutral() || !f.Status.Earning() || f.UpkeepCost == 0 {
		return
	}
	f.Balance -= f.UpkeepCost
	w.res.Charges = append(w.res.Charges, Charge{At: at, Amount: f.UpkeepCost})
	if f.Balance < 0 && f.GraceStartedAt == nil {
		f.GraceStartedAt = core.TimePtr(at)
	}
}

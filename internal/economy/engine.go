package economy

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/geoflags/territory/internal/rules"
	"github.com/geoflags/territory/pkg/core"
)

// Sampler returns a revenue variance factor.
type Sampler func() float64

// UniformSampler draws factors uniformly from [1-variance, 1+variance].
func UniformSampler(variance float64, seed int64) Sampler {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func() float64 {
		if variance == 0 {
			return 1
		}
		mu.Lock()
		defer mu.Unlock()
		return 1 - variance + rng.Float64()*2*variance
	}
}

// FixedSampler always returns factor. Useful for replays and tests.
func FixedSampler(factor float64) Sampler {
	return func() float64 { return factor }
}

// Engine applies ticks and collections and turns them into ledger entries.
type Engine struct {
	rules  rules.Rules
	sample Sampler
}

// NewEngine creates an Engine. A nil sampler uses the configured variance
// seeded from the clock.
func NewEngine(r rules.Rules, sample Sampler) *Engine {
	if sample == nil {
		sample = UniformSampler(r.RevenueVariance, time.Now().UnixNano())
	}
	return &Engine{rules: r, sample: sample}
}

// Apply ticks f to now in place. One variance factor is sampled per call and
// recorded on the accrual entry so the applied value can be audited.
func (e *Engine) Apply(f *core.Flag, now time.Time) (Result, []core.LedgerEntry) {
	factor := e.sample()
	next, res := Tick(*f, now, factor, e.rules)
	*f = next

	var entries []core.LedgerEntry
	if res.Accrued != 0 {
		entries = append(entries, core.LedgerEntry{
			FlagID: f.ID,
			Type:   core.LedgerAccrual,
			Amount: res.Accrued,
			Factor: factor,
			At:     now,
			Details: map[string]any{
				"from":  res.From,
				"hours": res.To.Sub(res.From).Hours(),
			},
		})
	}
	for _, c := range res.Charges {
		entries = append(entries, core.LedgerEntry{
			FlagID: f.ID,
			Type:   core.LedgerUpkeep,
			Amount: -c.Amount,
			At:     c.At,
		})
	}
	for _, d := range res.Decays {
		entries = append(entries, core.LedgerEntry{
			FlagID:  f.ID,
			Type:    core.LedgerDecay,
			Amount:  float64(d.HP),
			At:      d.At,
			Details: map[string]any{"hpAfter": d.Remaining},
		})
	}
	return res, entries
}

// collectEpsilon absorbs float error so an accrual of exactly n gold is not
// paid as n-1.
const collectEpsilon = 1e-9

// Collect transfers the whole gold of a positive balance to the owner and
// leaves the fraction on the flag. A flag in debt or holding less than one
// gold yields zero and no ledger entry, so repeating a collection is harmless
// even when time has passed in between.
func (e *Engine) Collect(f *core.Flag, callerID string, now time.Time) (float64, *core.LedgerEntry, error) {
	if !f.OwnedBy(callerID) {
		return 0, nil, core.Errorf(core.KindNotOwner, "flag %s is not owned by %s", f.ID, callerID)
	}
	amount := math.Floor(f.Balance + collectEpsilon)
	if amount < 1 {
		return 0, nil, nil
	}
	f.Balance -= amount
	if math.Abs(f.Balance) < collectEpsilon {
		f.Balance = 0
	}
	return amount, &core.LedgerEntry{
		FlagID:  f.ID,
		Type:    core.LedgerCollection,
		Amount:  -amount,
		ActorID: callerID,
		At:      now,
	}, nil
}

// Package territory is the inbound boundary of the flag engine. It wires
// the zone index, economy, combat, conflict, movement and lifecycle
// components to storage and the outbound collaborators, and turns every
// committed change into notifications.
package territory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/geoflags/territory/internal/combat"
	"github.com/geoflags/territory/internal/conflict"
	"github.com/geoflags/territory/internal/economy"
	"github.com/geoflags/territory/internal/flagstore"
	"github.com/geoflags/territory/internal/lifecycle"
	"github.com/geoflags/territory/internal/movement"
	"github.com/geoflags/territory/internal/notify"
	telemetry "github.com/geoflags/territory/internal/otel"
	"github.com/geoflags/territory/internal/rules"
	"github.com/geoflags/territory/internal/storage"
	"github.com/geoflags/territory/internal/terrain"
	"github.com/geoflags/territory/internal/wallet"
	"github.com/geoflags/territory/internal/zoneindex"
	"github.com/geoflags/territory/pkg/core"
)

// Dependencies holds everything a Service is built from. Backend, Wallet and
// Rules are required.
type Dependencies struct {
	Rules            rules.Rules
	Backend          storage.Backend
	Wallet           wallet.Wallet
	Terrain          terrain.Checker
	Events           notify.Emitter
	Sampler          economy.Sampler
	Strategy         conflict.Strategy
	IndexCellDegrees float64
	Store            flagstore.Config
	Metrics          *telemetry.ActionMetrics
	Logger           *slog.Logger
	Clock            func() time.Time

	// OnSweep, if set, receives the report of every completed background sweep.
	OnSweep func(SweepReport)
}

// Service implements the territory operations.
type Service struct {
	rules     rules.Rules
	index     *zoneindex.Index
	store     *flagstore.Store
	economy   *economy.Engine
	combat    *combat.Resolver
	conflict  *conflict.Resolver
	gate      *movement.Gate
	tracker   *movement.Tracker
	lifecycle *lifecycle.Manager
	wallet    wallet.Wallet
	events    notify.Emitter
	metrics   *telemetry.ActionMetrics
	log       *slog.Logger
	now       func() time.Time
	onSweep   func(SweepReport)
}

// New wires a Service. Call Load before serving requests.
func New(deps Dependencies) (*Service, error) {
	if deps.Backend == nil {
		return nil, errors.New("territory: storage backend is required")
	}
	if deps.Wallet == nil {
		return nil, errors.New("territory: wallet is required")
	}
	if err := deps.Rules.Validate(); err != nil {
		return nil, err
	}
	if deps.Events == nil {
		deps.Events = notify.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	s := &Service{
		rules:    deps.Rules,
		index:    zoneindex.New(deps.IndexCellDegrees),
		economy:  economy.NewEngine(deps.Rules, deps.Sampler),
		combat:   combat.NewResolver(deps.Rules),
		conflict: conflict.NewResolver(deps.Strategy),
		wallet:   deps.Wallet,
		events:   deps.Events,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		now:      deps.Clock,
		onSweep:  deps.OnSweep,
	}
	s.store = flagstore.New(deps.Backend, s.index, s.refresh, deps.Store, deps.Logger)
	s.store.OnCommit(s.observe)
	s.gate = movement.NewGate(s.index, deps.Rules.LocalStep)
	s.tracker = movement.NewTracker(s.gate)
	s.lifecycle = lifecycle.New(lifecycle.Dependencies{
		Rules:     deps.Rules,
		Store:     s.store,
		Wallet:    deps.Wallet,
		Terrain:   deps.Terrain,
		Projector: s.project,
		Logger:    deps.Logger,
	})
	return s, nil
}

// Load indexes every stored flag.
func (s *Service) Load(ctx context.Context) (int, error) {
	return s.store.Load(ctx)
}

// Index exposes the zone index for read-only use.
func (s *Service) Index() *zoneindex.Index {
	return s.index
}

// Conflicts is the number of optimistic version conflicts seen so far.
func (s *Service) Conflicts() int {
	return s.store.Conflicts()
}

// Rules returns the active balance table.
func (s *Service) Rules() rules.Rules {
	return s.rules
}

// refresh brings a stored flag up to now before any mutation: accrual,
// upkeep and decay first, then the combat timers and upgrade completion.
func (s *Service) refresh(f *core.Flag, now time.Time) []core.LedgerEntry {
	_, entries := s.economy.Apply(f, now)
	s.combat.Settle(f, now)
	lifecycle.CompleteUpgrade(f, now)
	return entries
}

// project is refresh without side effects, at the neutral variance factor.
func (s *Service) project(f core.Flag, now time.Time) core.Flag {
	out := economy.Project(f, now, s.rules)
	s.combat.Settle(&out, now)
	lifecycle.CompleteUpgrade(&out, now)
	return out
}

// observe emits the time-driven transitions found in a committed change.
// Destruction by an attack is reported by Attack itself, after the attack
// event. A single refresh can both destroy a flag and lapse its window.
func (s *Service) observe(c flagstore.Change) {
	at := c.After.LastTickAt
	decayed := c.Before.HP > 0 && c.After.HP == 0 && hasEntry(c.Entries, core.LedgerDecay)
	if decayed {
		s.log.Info("Flag destroyed by decay", "flag", c.After.ID, "owner", c.After.OwnerID)
		s.emit(core.EventDestroyed, "", 0, at, c.After)
	}
	if c.After.Status == core.StatusDecayed && !hasEntry(c.Entries, core.LedgerAbandon) &&
		(c.Before.Status == core.StatusCapturable || decayed) {
		s.emit(core.EventWindowLapse, "", 0, at, c.After)
	}
}

func hasEntry(entries []core.LedgerEntry, t core.LedgerType) bool {
	for _, e := range entries {
		if e.Type == t {
			return true
		}
	}
	return false
}

func (s *Service) emit(t core.EventType, actor string, amount float64, at time.Time, f core.Flag) {
	s.events.Emit(core.Event{Type: t, ActorID: actor, Amount: amount, At: at, Flag: f.Snapshot()})
}

// record counts one operation by outcome: "ok" or the error kind.
func (s *Service) record(ctx context.Context, action string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(core.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.metrics.Record(ctx, action, outcome, time.Since(start))
}

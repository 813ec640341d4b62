// Package flagstore is the single write path for flags. Every mutation runs
// under a per-flag lock, is computed on a private copy, and is committed to
// the storage backend together with its ledger entries before the zone index
// sees the new state.
package flagstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/geoflags/territory/internal/cache"
	"github.com/geoflags/territory/internal/storage"
	"github.com/geoflags/territory/internal/zoneindex"
	"github.com/geoflags/territory/pkg/core"
	"github.com/google/uuid"
)

// Refresher brings a flag up to date with the passage of time before any
// mutation sees it. It returns the ledger entries the catch-up produced.
type Refresher func(f *core.Flag, now time.Time) []core.LedgerEntry

// MutateFunc applies one action to f in place. Returning an error discards
// the change, including anything the refresher did.
type MutateFunc func(f *core.Flag) ([]core.LedgerEntry, error)

// Change describes a committed mutation.
type Change struct {
	Before  core.Flag
	After   core.Flag
	Entries []core.LedgerEntry
}

// Committed reports whether anything was written.
func (c Change) Committed() bool {
	return c.After.Version != c.Before.Version
}

// Config tunes the optimistic retry loop.
type Config struct {
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Option adjusts a single Mutate call.
type Option func(*mutateOptions)

type mutateOptions struct {
	noRetry bool
}

// NoRetry surfaces a version conflict to the caller instead of re-running
// the mutation on fresh state.
func NoRetry() Option {
	return func(o *mutateOptions) { o.noRetry = true }
}

// Store serializes flag mutations and keeps the zone index in step with
// the backend.
type Store struct {
	backend storage.Backend
	index   *zoneindex.Index
	refresh Refresher
	locks   *cache.KeyedLock
	cfg     Config
	log     *slog.Logger

	conflicts cache.SafeCounter
	onCommit  []func(Change)
}

// New creates a Store. refresh may be nil.
func New(backend storage.Backend, index *zoneindex.Index, refresh Refresher, cfg Config, log *slog.Logger) *Store {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 20 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		backend: backend,
		index:   index,
		refresh: refresh,
		locks:   cache.NewKeyedLock(),
		cfg:     cfg,
		log:     log,
	}
}

// Index returns the zone index maintained by the store.
func (s *Store) Index() *zoneindex.Index {
	return s.index
}

// Backend returns the underlying storage backend.
func (s *Store) Backend() storage.Backend {
	return s.backend
}

// OnCommit registers fn to run after every committed mutation, still under
// the flag's lock. fn must not block. Register observers before the first
// Mutate.
func (s *Store) OnCommit(fn func(Change)) {
	s.onCommit = append(s.onCommit, fn)
}

// Conflicts counts version conflicts seen since start.
func (s *Store) Conflicts() int {
	return s.conflicts.Value()
}

// Load fills the zone index from the backend.
func (s *Store) Load(ctx context.Context) (int, error) {
	flags, err := s.backend.ListFlags(ctx)
	if err != nil {
		return 0, storageErr(err, "list flags")
	}
	for _, f := range flags {
		s.index.Upsert(f)
	}
	return len(flags), nil
}

// Get reads a flag straight from the backend.
func (s *Store) Get(ctx context.Context, id string) (core.Flag, error) {
	f, err := s.backend.GetFlag(ctx, id)
	if err != nil {
		return core.Flag{}, storageErr(err, "get flag")
	}
	return f, nil
}

// Ledger returns the committed ledger of a flag.
func (s *Store) Ledger(ctx context.Context, id string) ([]core.LedgerEntry, error) {
	entries, err := s.backend.Ledger(ctx, id)
	if err != nil {
		return nil, storageErr(err, "read ledger")
	}
	return entries, nil
}

// Create persists a new flag and indexes it. Callers guarding placement
// rules must hold their own lock across the check and this call.
func (s *Store) Create(ctx context.Context, f *core.Flag, entries []core.LedgerEntry) error {
	if err := f.CheckInvariants(); err != nil {
		return core.Wrap(core.KindValidation, err, "new flag")
	}
	stamp(f, entries, f.CreatedAt)
	if err := s.backend.CreateFlag(ctx, f, entries); err != nil {
		return storageErr(err, "create flag")
	}
	s.index.Upsert(*f)
	return nil
}

// Mutate loads flag id, refreshes it to now, applies fn and commits the
// result. Nothing is written when fn fails or when neither the flag nor the
// ledger changed.
func (s *Store) Mutate(ctx context.Context, id string, now time.Time, fn MutateFunc, opts ...Option) (Change, error) {
	var o mutateOptions
	for _, opt := range opts {
		opt(&o)
	}

	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return Change{}, err
	}
	defer release()

	attempts := s.cfg.RetryAttempts
	if o.noRetry {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		change, err := s.mutateOnce(ctx, id, now, fn)
		if err == nil || !errors.Is(err, core.ErrConcurrentModification) {
			return change, err
		}
		s.conflicts.Inc()
		if attempt >= attempts {
			return Change{}, err
		}
		s.log.Debug("Version conflict, retrying", "flag", id, "attempt", attempt)
		select {
		case <-ctx.Done():
			return Change{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * s.cfg.RetryBackoff):
		}
	}
}

func (s *Store) mutateOnce(ctx context.Context, id string, now time.Time, fn MutateFunc) (Change, error) {
	cur, err := s.backend.GetFlag(ctx, id)
	if err != nil {
		return Change{}, storageErr(err, "get flag")
	}

	next := *cur.Clone()
	var entries []core.LedgerEntry
	if s.refresh != nil {
		entries = append(entries, s.refresh(&next, now)...)
	}
	if fn != nil {
		more, err := fn(&next)
		if err != nil {
			return Change{}, err
		}
		entries = append(entries, more...)
	}

	if len(entries) == 0 && reflect.DeepEqual(cur, next) {
		return Change{Before: cur, After: cur}, nil
	}
	if err := next.CheckInvariants(); err != nil {
		return Change{}, fmt.Errorf("refusing to commit: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Change{}, err
	}

	stamp(&next, entries, now)
	if err := s.backend.UpdateFlag(ctx, &next, cur.Version, entries); err != nil {
		return Change{}, storageErr(err, "update flag")
	}
	s.index.Upsert(next)

	change := Change{Before: cur, After: next, Entries: entries}
	for _, fn := range s.onCommit {
		fn(change)
	}
	return change, nil
}

func stamp(f *core.Flag, entries []core.LedgerEntry, at time.Time) {
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		entries[i].FlagID = f.ID
		if entries[i].At.IsZero() {
			entries[i].At = at
		}
	}
}

func storageErr(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if core.KindOf(err) != "" {
		return err
	}
	return core.Wrap(core.KindStorageUnavailable, err, op)
}

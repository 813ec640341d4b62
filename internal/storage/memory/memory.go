// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/pkg/core"
)

// Config holds configuration for the memory backend.
type Config struct {
	// SnapshotPath, when set, is loaded on Init and written on Close.
	SnapshotPath string
}

// Backend keeps flags and their ledgers in process memory. Every write runs
// in a single critical section, so a rejected write leaves nothing behind.
type Backend struct {
	cfg Config

	flags  map[string]*core.Flag
	ledger map[string][]core.LedgerEntry

	mu sync.RWMutex
}

// New creates a new memory backend
func New(cfg Config) *Backend {
	return &Backend{
		cfg:    cfg,
		flags:  make(map[string]*core.Flag),
		ledger: make(map[string][]core.LedgerEntry),
	}
}

// Init restores the snapshot if one is configured and present.
func (b *Backend) Init() error {
	if b.cfg.SnapshotPath == "" {
		return nil
	}
	return b.restore(b.cfg.SnapshotPath)
}

// Close writes the snapshot if one is configured.
func (b *Backend) Close() error {
	if b.cfg.SnapshotPath == "" {
		return nil
	}
	return b.Dump(b.cfg.SnapshotPath)
}

// CreateFlag inserts f at version 1.
func (b *Backend) CreateFlag(ctx context.Context, f *core.Flag, entries []core.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.ID == "" {
		return core.Errorf(core.KindValidation, "flag id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.flags[f.ID]; exists {
		return core.Errorf(core.KindValidation, "flag %s already exists", f.ID)
	}
	f.Version = 1
	b.flags[f.ID] = f.Clone()
	b.appendLedger(f.ID, entries)
	return nil
}

// UpdateFlag swaps in f if the stored version matches.
func (b *Backend) UpdateFlag(ctx context.Context, f *core.Flag, expectedVersion int64, entries []core.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.flags[f.ID]
	if !ok {
		return core.Errorf(core.KindNotFound, "flag %s", f.ID)
	}
	if cur.Version != expectedVersion {
		return core.Errorf(core.KindConcurrentModification,
			"flag %s is at version %d, expected %d", f.ID, cur.Version, expectedVersion)
	}
	f.Version = expectedVersion + 1
	b.flags[f.ID] = f.Clone()
	b.appendLedger(f.ID, entries)
	return nil
}

func (b *Backend) appendLedger(flagID string, entries []core.LedgerEntry) {
	for _, e := range entries {
		e.FlagID = flagID
		b.ledger[flagID] = append(b.ledger[flagID], cloneEntry(e))
	}
}

// GetFlag returns a copy of the stored flag.
func (b *Backend) GetFlag(ctx context.Context, id string) (core.Flag, error) {
	if err := ctx.Err(); err != nil {
		return core.Flag{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	f, ok := b.flags[id]
	if !ok {
		return core.Flag{}, core.Errorf(core.KindNotFound, "flag %s", id)
	}
	return *f.Clone(), nil
}

// ListFlags returns every flag sorted by id.
func (b *Backend) ListFlags(ctx context.Context) ([]core.Flag, error) {
	return b.filter(ctx, func(*core.Flag) bool { return true })
}

// FlagsInBox returns flags whose center lies in box, sorted by id.
func (b *Backend) FlagsInBox(ctx context.Context, box geo.BBox) ([]core.Flag, error) {
	return b.filter(ctx, func(f *core.Flag) bool { return box.Contains(f.Lat, f.Lon) })
}

func (b *Backend) filter(ctx context.Context, keep func(*core.Flag) bool) ([]core.Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	out := make([]core.Flag, 0, len(b.flags))
	for _, f := range b.flags {
		if keep(f) {
			out = append(out, *f.Clone())
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Ledger returns a copy of the flag's entries ordered by timestamp.
func (b *Backend) Ledger(ctx context.Context, flagID string) ([]core.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.flags[flagID]; !ok {
		return nil, core.Errorf(core.KindNotFound, "flag %s", flagID)
	}
	src := b.ledger[flagID]
	out := make([]core.LedgerEntry, len(src))
	for i, e := range src {
		out[i] = cloneEntry(e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Stats returns the number of flags and ledger entries held.
func (b *Backend) Stats() (flags, entries int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.ledger {
		entries += len(l)
	}
	return len(b.flags), entries
}

func cloneEntry(e core.LedgerEntry) core.LedgerEntry {
	if e.Details != nil {
		d := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			d[k] = v
		}
		e.Details = d
	}
	return e
}

func (b *Backend) String() string {
	n, m := b.Stats()
	return fmt.Sprintf("memory(%d flags, %d ledger entries)", n, m)
}

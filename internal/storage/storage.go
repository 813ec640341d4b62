// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/pkg/core"
)

// Backend is the interface all storage implementations must satisfy.
//
// Writes are all-or-nothing: a flag row and the ledger entries that explain
// the change commit together or not at all. UpdateFlag is an optimistic
// compare-and-swap on Version.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// CreateFlag inserts a new flag at version 1 (set on f).
	CreateFlag(ctx context.Context, f *core.Flag, entries []core.LedgerEntry) error
	// UpdateFlag replaces the stored flag if its version still equals
	// expectedVersion, then sets f.Version to expectedVersion+1. A version
	// mismatch returns core.ErrConcurrentModification.
	UpdateFlag(ctx context.Context, f *core.Flag, expectedVersion int64, entries []core.LedgerEntry) error

	GetFlag(ctx context.Context, id string) (core.Flag, error)
	ListFlags(ctx context.Context) ([]core.Flag, error)
	FlagsInBox(ctx context.Context, box geo.BBox) ([]core.Flag, error)

	// Ledger returns a flag's entries ordered by timestamp; entries with the
	// same timestamp keep their write order.
	Ledger(ctx context.Context, flagID string) ([]core.LedgerEntry, error)
}

// Dumper is an optional interface for backends that can snapshot themselves
// to a file on demand.
type Dumper interface {
	Dump(path string) error
}

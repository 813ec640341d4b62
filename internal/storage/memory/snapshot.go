// internal/storage/memory/snapshot.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/geoflags/territory/pkg/core"
)

// snapshot is the on-disk JSON layout.
type snapshot struct {
	Version int                            `json:"version"`
	Flags   []core.Flag                    `json:"flags"`
	Ledger  map[string][]core.LedgerEntry `json:"ledger"`
}

const snapshotVersion = 1

// Dump writes every flag and ledger entry to path. A ".gz" suffix selects
// gzip compression.
func (b *Backend) Dump(path string) error {
	b.mu.RLock()
	snap := snapshot{
		Version: snapshotVersion,
		Flags:   make([]core.Flag, 0, len(b.flags)),
		Ledger:  make(map[string][]core.LedgerEntry, len(b.ledger)),
	}
	for _, f := range b.flags {
		snap.Flags = append(snap.Flags, *f.Clone())
	}
	for id, entries := range b.ledger {
		snap.Ledger[id] = append([]core.LedgerEntry(nil), entries...)
	}
	b.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if strings.HasSuffix(path, ".gz") {
		if err := writeGzipJSON(tmp, snap); err != nil {
			return err
		}
	} else if err := writeJSON(tmp, snap); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (b *Backend) restore(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open gzip snapshot: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range snap.Flags {
		f := snap.Flags[i]
		b.flags[f.ID] = &f
	}
	for id, entries := range snap.Ledger {
		b.ledger[id] = entries
	}
	return nil
}

func writeJSON(path string, data snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}

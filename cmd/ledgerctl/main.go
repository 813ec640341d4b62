// Command ledgerctl inspects the flag ledger of a territory store offline.
//
//	ledgerctl [--config dir] list [--near lat,lon --radius m]
//	ledgerctl [--config dir] ledger <flag-id>
//	ledgerctl [--config dir] reconcile [flag-id...]
//
// reconcile checks every flag when no id is given and exits with status 2
// when any cached balance disagrees with its ledger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/geoflags/territory/internal/config"
	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/internal/rules"
	"github.com/geoflags/territory/internal/storage"
	"github.com/geoflags/territory/internal/storage/factory"
	"github.com/geoflags/territory/internal/territory"
	"github.com/geoflags/territory/internal/wallet"
	"github.com/geoflags/territory/pkg/core"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

var errDrift = errors.New("ledger drift detected")

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errDrift):
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("ledgerctl", pflag.ContinueOnError)
	configDir := fs.StringP("config", "c", ".", "directory containing "+config.ConfigFileName)
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	verbose := fs.BoolP("verbose", "v", false, "log storage activity to stderr")
	near := fs.Float64Slice("near", nil, "list only flags centered within --radius of lat,lon")
	radius := fs.Float64("radius", 1000, "search radius in meters for --near")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return errors.New("missing command: list, ledger or reconcile")
	}
	var area *geo.BBox
	if fs.Changed("near") {
		if len(*near) != 2 || !geo.ValidLatLon((*near)[0], (*near)[1]) || *radius < 0 {
			return errors.New("--near needs a valid lat,lon and a non-negative --radius")
		}
		box := geo.BoundingBox((*near)[0], (*near)[1], *radius)
		area = &box
	}

	if err := config.Load(*configDir); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl: using defaults:", err)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	backend, err := factory.NewBackend(config.GetStorageConfig(), factory.Options{
		DB:      config.GetDBConfig(),
		Logger:  logger,
		ZLogger: zerolog.New(os.Stderr).Level(zerolog.WarnLevel),
	})
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()

	c := &cli{backend: backend, out: out, json: *asJSON, logger: logger}
	switch rest[0] {
	case "list":
		return c.list(ctx, area)
	case "ledger":
		if len(rest) != 2 {
			return errors.New("usage: ledger <flag-id>")
		}
		return c.ledger(ctx, rest[1])
	case "reconcile":
		return c.reconcile(ctx, rest[1:])
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

type cli struct {
	backend storage.Backend
	out     io.Writer
	json    bool
	logger  *slog.Logger
}

func (c *cli) emit(v any, table func(w *tabwriter.Writer)) error {
	if c.json {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	table(w)
	return w.Flush()
}

// list prints every flag, or only those centered in area when it is set.
func (c *cli) list(ctx context.Context, area *geo.BBox) error {
	var (
		flags []core.Flag
		err   error
	)
	if area != nil {
		flags, err = c.backend.FlagsInBox(ctx, *area)
	} else {
		flags, err = c.backend.ListFlags(ctx)
	}
	if err != nil {
		return err
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].ID < flags[j].ID })
	snaps := make([]core.Snapshot, len(flags))
	for i, f := range flags {
		snaps[i] = f.Snapshot()
	}
	return c.emit(snaps, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tOWNER\tLEVEL\tHP\tSTATUS\tBALANCE\tVERSION")
		for _, s := range snaps {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%s\t%.2f\t%d\n",
				s.ID, s.OwnerID, s.Level, s.HP, s.MaxHP, s.Status, s.Balance, s.Version)
		}
	})
}

func (c *cli) ledger(ctx context.Context, id string) error {
	if _, err := c.backend.GetFlag(ctx, id); err != nil {
		return err
	}
	entries, err := c.backend.Ledger(ctx, id)
	if err != nil {
		return err
	}
	return c.emit(entries, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "AT\tTYPE\tAMOUNT\tFACTOR\tACTOR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.3f\t%s\n",
				e.At.UTC().Format(time.RFC3339), e.Type, e.Amount, e.Factor, e.ActorID)
		}
	})
}

func (c *cli) reconcile(ctx context.Context, ids []string) error {
	gc, err := config.GetGameConfig()
	if err != nil {
		return err
	}
	r, err := rules.FromConfig(gc)
	if err != nil {
		return err
	}
	// Reconcile never touches the wallet.
	svc, err := territory.New(territory.Dependencies{
		Rules:   r,
		Backend: c.backend,
		Wallet:  wallet.NewMemory(0),
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		flags, err := c.backend.ListFlags(ctx)
		if err != nil {
			return err
		}
		for _, f := range flags {
			ids = append(ids, f.ID)
		}
		sort.Strings(ids)
	}

	recs := make([]territory.Reconciliation, 0, len(ids))
	drifted := 0
	for _, id := range ids {
		rec, err := svc.Reconcile(ctx, id)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		if !rec.Consistent() {
			drifted++
		}
		recs = append(recs, rec)
	}

	if err := c.emit(recs, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "FLAG\tBALANCE\tLEDGER\tDRIFT\tENTRIES\tOK")
		for _, rec := range recs {
			fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.4f\t%d\t%t\n",
				rec.FlagID, rec.Balance, rec.LedgerSum, rec.Drift, rec.Entries, rec.Consistent())
		}
	}); err != nil {
		return err
	}
	if drifted > 0 {
		return fmt.Errorf("%w in %d of %d flags", errDrift, drifted, len(recs))
	}
	return nil
}

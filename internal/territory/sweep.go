package territory

import (
	"context"
	"errors"
	"time"
)

// SweepReport summarizes one pass over every indexed flag.
type SweepReport struct {
	At        time.Time
	Scanned   int
	Committed int
	Failed    int
	Duration  time.Duration
}

// Sweep refreshes every indexed flag to now: accrual, upkeep, decay, capture
// window expiry and upgrade completion. It applies exactly what a lazy
// refresh would, so the two paths never double count.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	now := s.now()
	rep := SweepReport{At: now}

	for _, id := range s.index.IDs() {
		if err := ctx.Err(); err != nil {
			rep.Duration = time.Since(start)
			return rep, err
		}
		rep.Scanned++
		change, err := s.store.Mutate(ctx, id, now, nil)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				rep.Duration = time.Since(start)
				return rep, err
			}
			rep.Failed++
			s.log.Warn("Sweep failed for flag", "flag", id, "error", err)
			continue
		}
		if change.Committed() {
			rep.Committed++
		}
	}

	rep.Duration = time.Since(start)
	s.record(ctx, "sweep", start, nil)
	return rep, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.log.Info("Background sweep disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error("Sweep aborted", "error", err)
				}
				continue
			}
			s.log.Debug("Sweep complete",
				"scanned", rep.Scanned, "committed", rep.Committed,
				"failed", rep.Failed, "duration", rep.Duration)
			if s.onSweep != nil {
				s.onSweep(rep)
			}
		}
	}
}

package notify

import (
	"context"
	"log/slog"

	"github.com/geoflags/territory/internal/influx"
	"github.com/geoflags/territory/internal/queue"
	"github.com/geoflags/territory/pkg/core"
)

// LogSink writes every event to a structured logger.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, ev core.Event) error {
	s.log.InfoContext(ctx, "flag event",
		"event", ev.Type,
		"flag", ev.Flag.ID,
		"owner", ev.Flag.OwnerID,
		"actor", ev.ActorID,
		"amount", ev.Amount,
		"status", ev.Flag.Status,
		"hp", ev.Flag.HP,
	)
	return nil
}

// Outbox keeps the most recent events in memory for polling clients. When
// full, the oldest event is discarded.
type Outbox struct {
	ring *queue.Ring[core.Event]
}

// NewOutbox creates an Outbox holding at most max events.
func NewOutbox(max int) *Outbox {
	if max <= 0 {
		max = 10000
	}
	return &Outbox{ring: queue.New[core.Event](max)}
}

func (o *Outbox) Name() string { return "outbox" }

func (o *Outbox) Send(_ context.Context, ev core.Event) error {
	o.ring.Push(ev)
	return nil
}

// Drain returns every pending event and empties the outbox.
func (o *Outbox) Drain() []core.Event {
	return o.ring.Drain()
}

// Len returns the number of pending events.
func (o *Outbox) Len() int {
	return o.ring.Len()
}

// Dropped counts events discarded due to overflow.
func (o *Outbox) Dropped() int64 {
	return o.ring.Evicted()
}

// InfluxSink writes events as points to InfluxDB, or to the manager's gzip
// backup file when the server is unreachable.
type InfluxSink struct {
	m *influx.Manager
}

// NewInfluxSink creates an InfluxSink over a connected manager.
func NewInfluxSink(m *influx.Manager) *InfluxSink {
	return &InfluxSink{m: m}
}

func (s *InfluxSink) Name() string { return "influx" }

func (s *InfluxSink) Send(ctx context.Context, ev core.Event) error {
	return s.m.WritePoint(ctx, s.m.EventsBucket(), influx.EventPoint(ev))
}

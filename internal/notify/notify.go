// Package notify fans committed flag events out to sinks. Delivery is
// fire-and-forget: a slow or failing sink never blocks or fails the
// mutation that produced the event.
package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/geoflags/territory/internal/dispatcher"
	"github.com/geoflags/territory/pkg/core"
)

// DefaultBufferSize is the per-sink queue length used when none is given.
const DefaultBufferSize = 1000

// sendTimeout bounds a single sink delivery.
const sendTimeout = 5 * time.Second

// Sink receives events. Send is called from one goroutine per sink.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev core.Event) error
}

// Emitter is what mutation paths depend on.
type Emitter interface {
	Emit(ev core.Event)
}

// Hub routes each event to every registered sink through its own buffered
// dispatcher queue.
type Hub struct {
	d          *dispatcher.Dispatcher[core.Event]
	log        *slog.Logger
	bufferSize int

	mu    sync.RWMutex
	sinks []string
}

// NewHub creates a Hub on top of d. Sinks are registered with Add before the
// first Emit.
func NewHub(d *dispatcher.Dispatcher[core.Event], log *slog.Logger, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{d: d, log: log, bufferSize: bufferSize}
}

func route(name string) string {
	return "notify." + name
}

// Add registers a sink. Sink names must be unique.
func (h *Hub) Add(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.d.Register(route(s.Name()), func(ev core.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return s.Send(ctx, ev)
	}, dispatcher.Buffered(h.bufferSize))
	h.sinks = append(h.sinks, s.Name())
}

// Sinks lists the registered sink names.
func (h *Hub) Sinks() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := append([]string(nil), h.sinks...)
	sort.Strings(out)
	return out
}

// Emit queues ev for every sink. A full queue drops the event for that sink.
func (h *Hub) Emit(ev core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, name := range h.sinks {
		if err := h.d.Dispatch(route(name), ev); err != nil {
			h.log.Warn("dropping event", "sink", name, "event", ev.Type, "flag", ev.Flag.ID, "error", err)
		}
	}
}

// Close drains every sink queue.
func (h *Hub) Close() {
	h.d.Close()
}

// Discard is an Emitter that drops everything.
type Discard struct{}

func (Discard) Emit(core.Event) {}

// Package dispatcher routes typed messages to named handlers, optionally
// through a bounded per-route queue drained by its own goroutine.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrQueueFull is returned by Dispatch when a non-blocking queue has no room.
var ErrQueueFull = errors.New("queue full")

// ErrClosed is returned by Dispatch to a queued route after Close.
var ErrClosed = errors.New("dispatcher closed")

// Handler processes one message.
type Handler[T any] func(T) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a route.
type Option func(*routeConfig)

type routeConfig struct {
	queue    int
	blocking bool
	logged   bool
}

// Buffered queues messages for the route, holding at most size at a time.
func Buffered(size int) Option {
	return func(c *routeConfig) { c.queue = size }
}

// Blocking makes Dispatch wait for room in a full queue instead of failing.
func Blocking() Option {
	return func(c *routeConfig) { c.blocking = true }
}

// Logged logs every message at debug level and failures at error level.
func Logged() Option {
	return func(c *routeConfig) { c.logged = true }
}

type route[T any] struct {
	name   string
	handle Handler[T]
	queue  chan T // nil for synchronous routes
	cfg    routeConfig
	attrs  metric.MeasurementOption
}

type instruments struct {
	depth     metric.Int64ObservableGauge
	processed metric.Int64Counter
	failed    metric.Int64Counter
	dropped   metric.Int64Counter
}

// Dispatcher routes messages of type T by name.
type Dispatcher[T any] struct {
	logger Logger
	inst   instruments

	mu      sync.RWMutex
	routes  map[string]*route[T]
	closed  bool
	workers sync.WaitGroup
}

// New creates a Dispatcher reporting to the global OTel meter, which is a
// no-op unless the process installed a provider.
func New[T any](logger Logger) (*Dispatcher[T], error) {
	d := &Dispatcher[T]{logger: logger, routes: make(map[string]*route[T])}
	if err := d.instrument(meter()); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher[T]) instrument(m metric.Meter) error {
	var err error
	if d.inst.depth, err = m.Int64ObservableGauge("dispatcher.queue.depth",
		metric.WithDescription("Messages waiting in a route queue")); err != nil {
		return fmt.Errorf("creating queue depth gauge: %w", err)
	}
	if _, err = m.RegisterCallback(d.observeDepth, d.inst.depth); err != nil {
		return fmt.Errorf("registering queue depth callback: %w", err)
	}
	if d.inst.processed, err = m.Int64Counter("dispatcher.messages.processed",
		metric.WithDescription("Messages handled")); err != nil {
		return fmt.Errorf("creating processed counter: %w", err)
	}
	if d.inst.failed, err = m.Int64Counter("dispatcher.messages.failed",
		metric.WithDescription("Messages whose handler returned an error")); err != nil {
		return fmt.Errorf("creating failed counter: %w", err)
	}
	if d.inst.dropped, err = m.Int64Counter("dispatcher.messages.dropped",
		metric.WithDescription("Messages rejected by a full queue")); err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	return nil
}

func (d *Dispatcher[T]) observeDepth(_ context.Context, o metric.Observer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.routes {
		if r.queue != nil {
			o.ObserveInt64(d.inst.depth, int64(len(r.queue)), r.attrs)
		}
	}
	return nil
}

// Register installs h under name. Registering a name twice panics.
func (d *Dispatcher[T]) Register(name string, h Handler[T], opts ...Option) {
	r := &route[T]{
		name:   name,
		handle: h,
		attrs:  metric.WithAttributes(attribute.String("route", name)),
	}
	for _, opt := range opts {
		opt(&r.cfg)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.routes[name]; dup {
		panic("dispatcher: duplicate route " + name)
	}
	if r.cfg.queue > 0 && !d.closed {
		r.queue = make(chan T, r.cfg.queue)
		d.workers.Add(1)
		go d.drain(r)
	}
	d.routes[name] = r
}

// Has reports whether name is registered.
func (d *Dispatcher[T]) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[name]
	return ok
}

// Dispatch hands msg to the route called name. For a queued route it returns
// once msg is enqueued; for a synchronous route it returns the handler error.
func (d *Dispatcher[T]) Dispatch(name string, msg T) error {
	d.mu.RLock()
	r, ok := d.routes[name]
	if !ok {
		d.mu.RUnlock()
		return fmt.Errorf("unknown route: %s", name)
	}
	if r.cfg.queue == 0 {
		d.mu.RUnlock()
		return d.run(r, msg)
	}
	// hold the read lock across the send so Close cannot close the queue
	// underneath it
	defer d.mu.RUnlock()
	if d.closed || r.queue == nil {
		return fmt.Errorf("%w: %s", ErrClosed, name)
	}
	if r.cfg.blocking {
		r.queue <- msg
		return nil
	}
	select {
	case r.queue <- msg:
		return nil
	default:
		d.inst.dropped.Add(context.Background(), 1, r.attrs)
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

func (d *Dispatcher[T]) drain(r *route[T]) {
	defer d.workers.Done()
	for msg := range r.queue {
		_ = d.run(r, msg)
	}
}

func (d *Dispatcher[T]) run(r *route[T], msg T) error {
	start := time.Now()
	if r.cfg.logged {
		d.logger.Debug("handling message", "route", r.name)
	}
	err := r.handle(msg)
	ctx := context.Background()
	d.inst.processed.Add(ctx, 1, r.attrs)
	if err != nil {
		d.inst.failed.Add(ctx, 1, r.attrs)
		if r.cfg.logged || r.queue != nil {
			d.logger.Error("handler failed", "route", r.name, "duration", time.Since(start), "error", err)
		}
		return err
	}
	if r.cfg.logged {
		d.logger.Debug("message handled", "route", r.name, "duration", time.Since(start))
	}
	return nil
}

// Close rejects further queued messages and waits until every queue has
// drained. Synchronous routes keep working.
func (d *Dispatcher[T]) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, r := range d.routes {
		if r.queue != nil {
			close(r.queue)
		}
	}
	d.mu.Unlock()
	d.workers.Wait()
}

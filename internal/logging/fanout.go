package logging

import (
	"context"
	"errors"
	"log/slog"
)

// fanout delivers each record to every sink that accepts its level, after
// appending the attributes returned by dynamic (if set) at log time.
type fanout struct {
	sinks   []slog.Handler
	dynamic func() []slog.Attr
}

func newFanout(dynamic func() []slog.Attr, sinks ...slog.Handler) *fanout {
	f := &fanout{dynamic: dynamic}
	for _, h := range sinks {
		if h != nil {
			f.sinks = append(f.sinks, h)
		}
	}
	return f
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.sinks {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle keeps going after a sink fails and reports every failure.
func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	if f.dynamic != nil {
		r.AddAttrs(f.dynamic()...)
	}
	var errs []error
	for _, h := range f.sinks {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) derive(fn func(slog.Handler) slog.Handler) *fanout {
	out := &fanout{dynamic: f.dynamic, sinks: make([]slog.Handler, len(f.sinks))}
	for i, h := range f.sinks {
		out.sinks[i] = fn(h)
	}
	return out
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f *fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ActionMetrics counts territory operations by action and outcome.
type ActionMetrics struct {
	actions  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewActionMetrics registers the territory.actions counter and the
// territory.action.duration histogram on m.
func NewActionMetrics(m metric.Meter) (*ActionMetrics, error) {
	actions, err := m.Int64Counter("territory.actions",
		metric.WithDescription("Territory operations by action and outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating actions counter: %w", err)
	}
	duration, err := m.Float64Histogram("territory.action.duration",
		metric.WithDescription("Territory operation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	return &ActionMetrics{actions: actions, duration: duration}, nil
}

// Record counts one action. outcome is "ok" or an error kind. A nil
// ActionMetrics records nothing.
func (a *ActionMetrics) Record(ctx context.Context, action, outcome string, elapsed time.Duration) {
	if a == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	)
	a.actions.Add(ctx, 1, attrs)
	a.duration.Record(ctx, elapsed.Seconds(), attrs)
}

package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterPrefix = "dbprobe/"

// ProbeMetrics counts availability checks by driver and outcome.
type ProbeMetrics struct {
	checks  metric.Int64Counter
	latency metric.Float64Histogram
}

func NewProbeMetrics() (*ProbeMetrics, error) {
	m := otel.Meter(meterPrefix + "checker")

	checks, err := m.Int64Counter(
		"dbprobe.checks",
		metric.WithDescription("Availability checks by outcome"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram(
		"dbprobe.check.duration",
		metric.WithDescription("Availability check duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &ProbeMetrics{checks: checks, latency: latency}, nil
}

// Record is a no-op on a nil receiver.
func (p *ProbeMetrics) Record(ctx context.Context, driver, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("db.system", driver),
		attribute.String("outcome", outcome),
	)
	p.checks.Add(ctx, 1, attrs)
	p.latency.Record(ctx, d.Seconds(), attrs)
}

// ConnMetrics tracks the connection manager's cache behaviour.
type ConnMetrics struct {
	opened metric.Int64Counter
	reused metric.Int64Counter
	closed metric.Int64Counter
}

func NewConnMetrics() (*ConnMetrics, error) {
	m := otel.Meter(meterPrefix + "connmgr")

	opened, err := m.Int64Counter(
		"dbprobe.connections.opened",
		metric.WithDescription("Connections opened on cache miss or stale handle"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}
	reused, err := m.Int64Counter(
		"dbprobe.connections.reused",
		metric.WithDescription("Cached live connections handed out again"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}
	closed, err := m.Int64Counter(
		"dbprobe.connections.closed",
		metric.WithDescription("Connections closed by the manager"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}
	return &ConnMetrics{opened: opened, reused: reused, closed: closed}, nil
}

func (c *ConnMetrics) Opened(ctx context.Context, env, driver string) {
	if c == nil {
		return
	}
	c.opened.Add(ctx, 1, envAttrs(env, driver))
}

func (c *ConnMetrics) Reused(ctx context.Context, env, driver string) {
	if c == nil {
		return
	}
	c.reused.Add(ctx, 1, envAttrs(env, driver))
}

func (c *ConnMetrics) Closed(ctx context.Context, env, driver string) {
	if c == nil {
		return
	}
	c.closed.Add(ctx, 1, envAttrs(env, driver))
}

func envAttrs(env, driver string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("environment", env),
		attribute.String("db.system", driver),
	)
}

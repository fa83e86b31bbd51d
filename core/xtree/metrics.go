package xtree

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xtreedb/xtreedb/pkg/telemetry"
)

// metrics wraps the OpenTelemetry instruments the tree emits. It is built
// once from a *telemetry.Telemetry and is nil-safe throughout so a Tree
// constructed without telemetry pays no instrumentation cost, the same way
// telemetry.New already no-ops when disabled.
type metrics struct {
	tracer         trace.Tracer
	inserts        metric.Int64Counter
	splitOutcomes  metric.Int64Counter
	reinsertions   metric.Int64Counter
	supernodeCount metric.Int64UpDownCounter
}

func newMetrics(tel *telemetry.Telemetry) *metrics {
	if tel == nil {
		return nil
	}
	m := &metrics{tracer: tel.Tracer}
	m.inserts, _ = tel.Meter.Int64Counter("xtree.insertions")
	m.splitOutcomes, _ = tel.Meter.Int64Counter("xtree.split_outcomes")
	m.reinsertions, _ = tel.Meter.Int64Counter("xtree.reinsertions")
	m.supernodeCount, _ = tel.Meter.Int64UpDownCounter("xtree.supernodes")
	return m
}

func (m *metrics) startSpan(ctx context.Context, name string) (context.Context, func()) {
	if m == nil || m.tracer == nil {
		return ctx, func() {}
	}
	ctx, span := m.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}

func (m *metrics) recordInsert(ctx context.Context) {
	if m == nil || m.inserts == nil {
		return
	}
	m.inserts.Add(ctx, 1)
}

func (m *metrics) recordSplitOutcome(ctx context.Context, outcome string) {
	if m == nil || m.splitOutcomes == nil {
		return
	}
	m.splitOutcomes.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

func (m *metrics) recordReinsertion(ctx context.Context, n int) {
	if m == nil || m.reinsertions == nil || n == 0 {
		return
	}
	m.reinsertions.Add(ctx, int64(n))
}

func (m *metrics) recordSupernodeDelta(ctx context.Context, delta int64) {
	if m == nil || m.supernodeCount == nil {
		return
	}
	m.supernodeCount.Add(ctx, delta)
}

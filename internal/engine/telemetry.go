package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/factlog/internal/planner"
)

const instrumentationName = "github.com/roach88/factlog/internal/engine"

// telemetry holds one engine's tracer and instruments. Instruments that
// fail to build are left nil and skipped.
type telemetry struct {
	tracer       trace.Tracer
	stepDuration metric.Float64Histogram
	rowsTotal    metric.Int64Counter
	queriesTotal metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	t := &telemetry{tracer: tp.Tracer(instrumentationName)}

	t.stepDuration, _ = meter.Float64Histogram(
		"factlog_step_duration_seconds",
		metric.WithDescription("Duration of one plan step lookup"),
		metric.WithUnit("s"),
	)
	t.rowsTotal, _ = meter.Int64Counter(
		"factlog_query_rows_total",
		metric.WithDescription("Total number of rows returned by queries"),
	)
	t.queriesTotal, _ = meter.Int64Counter(
		"factlog_queries_total",
		metric.WithDescription("Total number of queries started"),
	)
	return t
}

// startQuerySpan creates the span that covers a query from planning to the
// last row.
func (t *telemetry) startQuerySpan(ctx context.Context, queryID string, patterns int) (context.Context, trace.Span) {
	if t.queriesTotal != nil {
		t.queriesTotal.Add(ctx, 1)
	}
	return t.tracer.Start(ctx, "Engine.Query",
		trace.WithAttributes(
			attribute.String("factlog.query_id", queryID),
			attribute.Int("factlog.patterns", patterns),
		),
	)
}

func (t *telemetry) startStepSpan(ctx context.Context, step planner.Step) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "Engine.Step",
		trace.WithAttributes(
			attribute.String("factlog.predicate", step.Pattern.Name()),
			attribute.String("factlog.pattern_key", step.Key),
			attribute.String("factlog.kind", string(step.Kind)),
		),
	)
}

func (t *telemetry) recordStep(ctx context.Context, step planner.Step, d time.Duration) {
	if t.stepDuration == nil {
		return
	}
	t.stepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("predicate", step.Pattern.Name()),
		attribute.String("kind", string(step.Kind)),
	))
}

func (t *telemetry) recordRows(ctx context.Context, n int) {
	if t.rowsTotal == nil || n == 0 {
		return
	}
	t.rowsTotal.Add(ctx, int64(n))
}

package pgraph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("kitgraph.pgraph")
	meter  = otel.Meter("kitgraph.pgraph")
)

var (
	hydrateLatency  metric.Float64Histogram
	hydrateTotal    metric.Int64Counter
	stubsRepaired   metric.Int64Counter
	mutationLatency metric.Float64Histogram
	mutationTotal   metric.Int64Counter
	queryLatency    metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics registers instruments on first use. Safe to call repeatedly.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		hydrateLatency, err = meter.Float64Histogram(
			"pgraph_hydrate_duration_seconds",
			metric.WithDescription("Duration of hydration loads"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		hydrateTotal, err = meter.Int64Counter(
			"pgraph_hydrate_total",
			metric.WithDescription("Hydration loads started"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stubsRepaired, err = meter.Int64Counter(
			"pgraph_stubs_repaired_total",
			metric.WithDescription("Stub nodes created for dangling edge endpoints during hydration"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mutationLatency, err = meter.Float64Histogram(
			"pgraph_mutation_duration_seconds",
			metric.WithDescription("Duration of write-through mutations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mutationTotal, err = meter.Int64Counter(
			"pgraph_mutation_total",
			metric.WithDescription("Mutations by operation and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryLatency, err = meter.Float64Histogram(
			"pgraph_query_duration_seconds",
			metric.WithDescription("Duration of in-memory queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHydrate(ctx context.Context, d time.Duration, stubs int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	hydrateLatency.Record(ctx, d.Seconds(), attrs)
	hydrateTotal.Add(ctx, 1, attrs)
	if stubs > 0 {
		stubsRepaired.Add(ctx, int64(stubs))
	}
}

func recordMutation(ctx context.Context, op string, d time.Duration, err error) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", err == nil),
	)
	mutationLatency.Record(ctx, d.Seconds(), attrs)
	mutationTotal.Add(ctx, 1, attrs)
}

func recordQuery(ctx context.Context, op string, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	queryLatency.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("query_type", op)),
	)
}

func startHydrateSpan(ctx context.Context, runID string, generation uint64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "PersistentGraph.Hydrate",
		trace.WithAttributes(
			attribute.String("pgraph.run_id", runID),
			attribute.Int64("pgraph.generation", int64(generation)),
		),
	)
}

func setHydrateSpanResult(span trace.Span, nodeCount, edgeCount, stubs int) {
	span.SetAttributes(
		attribute.Int("pgraph.node_count", nodeCount),
		attribute.Int("pgraph.edge_count", edgeCount),
		attribute.Int("pgraph.stubs_repaired", stubs),
	)
}

func startOpSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "PersistentGraph."+op,
		trace.WithAttributes(attribute.String("pgraph.id", id)),
	)
}

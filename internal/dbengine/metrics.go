package dbengine

import (
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// tracer and the instruments in metrics are resolved against the global delegating
// provider at package init, the same lazy pattern the Dolt backend uses for
// doltTracer/doltMetrics: they are no-ops until a caller installs a real
// provider via otel.SetTracerProvider/otel.SetMeterProvider, so importing
// this package never requires wiring telemetry exporters in tests.
var tracer = otel.Tracer("github.com/lumenshell/lumen/internal/dbengine")

type engineMetrics struct {
	queueDepth  metric.Int64UpDownCounter
	retryCount  metric.Int64Counter
	opLatencyMs metric.Float64Histogram
}

var metrics *engineMetrics

func init() {
	m := otel.Meter("github.com/lumenshell/lumen/internal/dbengine")
	em := &engineMetrics{}

	var err error
	em.queueDepth, err = m.Int64UpDownCounter("dbengine.queue_depth",
		metric.WithDescription("number of write operations currently waiting on the queue"))
	if err != nil {
		log.Printf("dbengine: metrics: queue_depth instrument: %v", err)
	}
	em.retryCount, err = m.Int64Counter("dbengine.retry_count",
		metric.WithDescription("retries performed by with_retry across all operations"))
	if err != nil {
		log.Printf("dbengine: metrics: retry_count instrument: %v", err)
	}
	em.opLatencyMs, err = m.Float64Histogram("dbengine.op_latency_ms",
		metric.WithDescription("wall-clock latency of query/execute/transaction calls"),
		metric.WithUnit("ms"))
	if err != nil {
		log.Printf("dbengine: metrics: op_latency_ms instrument: %v", err)
	}

	metrics = em
}

func spanAttrs(op string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("dbengine.op", op)}
}

// recordSpanErr sets span status to Error and records err, or marks the
// span Ok, following the pattern the Dolt backend applies to every call it
// traces.
func recordSpanErr(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return
	}
	span.SetStatus(codes.Ok, "")
}

package dbengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestObservabilityRecordsSpansAndMetrics installs real SDK-backed tracer
// and meter providers (in-memory, no network exporter) and confirms that
// the instruments created against the global delegating provider at package
// init (see metrics.go) actually forward once a real provider is installed
// — the whole point of resolving them lazily against otel's global package
// instead of requiring callers to inject a provider into New.
func TestObservabilityRecordsSpansAndMetrics(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	otel.SetTracerProvider(tp)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	otel.SetMeterProvider(mp)

	e := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Query(ctx, "SELECT 1", nil, 0)
	require.NoError(t, err)

	ended := spanRecorder.Ended()
	require.NotEmpty(t, ended)
	foundSpan := false
	for _, s := range ended {
		if s.Name() == "dbengine.query" {
			foundSpan = true
		}
	}
	require.True(t, foundSpan, "expected a recorded dbengine.query span")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics, "expected op_latency_ms samples to have been collected")
}

package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestCountersRecord(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.LinksCreated.Add(ctx, 2, metric.WithAttributes(attribute.String("action", "insert")))
	m.StatusChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("from", "suggested"), attribute.String("to", "confirmed")))
	m.RegenerationDuration.Record(ctx, 0.02)

	if got := findSum(t, reader, "lexlink.links.created"); got != 2 {
		t.Fatalf("expected 2 created, got %d", got)
	}
	if got := findSum(t, reader, "lexlink.links.status_changes"); got != 1 {
		t.Fatalf("expected 1 status change, got %d", got)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Fatalf("expected the same instance")
	}
}

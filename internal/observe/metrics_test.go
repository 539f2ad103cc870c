package observe_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fernspielapparat/fernspielapparat/internal/observe"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	byName := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			byName[metric.Name] = metric
		}
	}
	return byName
}

func TestRecordTransitionCountsByReason(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransition(ctx, "dial")
	m.RecordTransition(ctx, "dial")
	m.RecordTransition(ctx, "end")

	metrics := collect(t, reader)
	data, ok := metrics["fernspielapparat.transitions"]
	if !ok {
		t.Fatal("transition counter missing from export")
	}
	sum, ok := data.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", data.Data)
	}

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total transitions = %d, want 3", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("got %d reason series, want 2", len(sum.DataPoints))
	}
}

func TestRecordTickFeedsHistogram(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTick(ctx, 0.012)
	m.RecordTick(ctx, 0.009)

	metrics := collect(t, reader)
	data, ok := metrics["fernspielapparat.tick.duration"]
	if !ok {
		t.Fatal("tick histogram missing from export")
	}
	hist, ok := data.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", data.Data)
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("tick count = %d, want 2", got)
	}
}

func TestRecordConnectionGauge(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordConnection(ctx, +1)
	m.RecordConnection(ctx, +1)
	m.RecordConnection(ctx, -1)

	metrics := collect(t, reader)
	data, ok := metrics["fernspielapparat.remote.connections"]
	if !ok {
		t.Fatal("connection gauge missing from export")
	}
	sum, ok := data.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", data.Data)
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("connected clients = %d, want 1", got)
	}
}

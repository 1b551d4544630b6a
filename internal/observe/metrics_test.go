package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the data point carrying attr.
func sumFor(t *testing.T, m *metricdata.Metrics, attr attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data is %T, want Sum[int64]", m.Name, m.Data)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
			return dp.Value
		}
	}
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordFrame(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, "sent")
	m.RecordFrame(ctx, "sent")
	m.RecordFrame(ctx, "dropped")

	met := findMetric(collect(t, reader), "voicelink.frames")
	if met == nil {
		t.Fatal("voicelink.frames not found")
	}
	if got := sumFor(t, met, attribute.String("status", "sent")); got != 2 {
		t.Errorf("sent = %d, want 2", got)
	}
	if got := sumFor(t, met, attribute.String("status", "dropped")); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestRecordInboundAndPlayback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInbound(ctx, "tts_chunk")
	m.RecordPlayback(ctx, "stream", "started")
	m.RecordFragment(ctx, true)

	rm := collect(t, reader)
	if got := sumFor(t, findMetric(rm, "voicelink.inbound.events"), attribute.String("kind", "tts_chunk")); got != 1 {
		t.Errorf("inbound tts_chunk = %d, want 1", got)
	}
	if got := sumFor(t, findMetric(rm, "voicelink.playbacks"), attribute.String("status", "started")); got != 1 {
		t.Errorf("playbacks started = %d, want 1", got)
	}
	if got := sumFor(t, findMetric(rm, "voicelink.tts.fragments"), attribute.Bool("header_stripped", true)); got != 1 {
		t.Errorf("fragments stripped = %d, want 1", got)
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PlaybackStartLatency.Record(ctx, 0.12)
	m.TTSAssembledBytes.Record(ctx, 4096)

	rm := collect(t, reader)
	lat := findMetric(rm, "voicelink.playback.start_latency")
	if lat == nil {
		t.Fatal("start_latency not found")
	}
	hist, ok := lat.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("unexpected latency data: %+v", lat.Data)
	}
	if findMetric(rm, "voicelink.tts.assembled_bytes") == nil {
		t.Error("assembled_bytes not found")
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}

package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
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

// sumFor returns the value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q: data point with %s=%s not found", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"valet.stt.duration", m.STTDuration},
		{"valet.tts.duration", m.TTSDuration},
		{"valet.handler.duration", m.HandlerDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordUtterance_OnlyCompleteObservesDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, "complete", 2*time.Second)
	m.RecordUtterance(ctx, "reset", 0)
	m.RecordUtterance(ctx, "reset", 0)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "valet.utterances", "outcome", "reset"); got != 2 {
		t.Errorf("reset count = %d, want 2", got)
	}
	if got := sumFor(t, rm, "valet.utterances", "outcome", "complete"); got != 1 {
		t.Errorf("complete count = %d, want 1", got)
	}

	met := findMetric(rm, "valet.utterance.duration")
	if met == nil {
		t.Fatal("utterance duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("duration samples = %d, want 1", got)
	}
}

func TestRecordPlayback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlayback(ctx, "completed", time.Second)
	m.RecordPlayback(ctx, "interrupted", 300*time.Millisecond)
	m.RecordPlayback(ctx, "completed", 2*time.Second)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "valet.playback.results", "status", "completed"); got != 2 {
		t.Errorf("completed = %d, want 2", got)
	}
	if got := sumFor(t, rm, "valet.playback.results", "status", "interrupted"); got != 1 {
		t.Errorf("interrupted = %d, want 1", got)
	}
}

func TestRecordNotification(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordNotification(ctx, "high", "spoken")
	m.RecordNotification(ctx, "high", "queued")
	m.RecordNotification(ctx, "routine", "queued")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "valet.notifications", "priority", "routine"); got != 1 {
		t.Errorf("routine = %d, want 1", got)
	}
}

func TestCountersWithAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWake(ctx, "valet")
	m.RecordWake(ctx, "valet")
	m.RecordFrameError(ctx, "wake")
	m.RecordProviderRequest(ctx, "piper", "tts", "ok")
	m.RecordProviderError(ctx, "piper", "tts")
	m.RecordBargeIn(ctx)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "valet.wake.events", "keyword", "valet"); got != 2 {
		t.Errorf("wake events = %d, want 2", got)
	}
	if got := sumFor(t, rm, "valet.frame.errors", "loop", "wake"); got != 1 {
		t.Errorf("frame errors = %d, want 1", got)
	}
	if got := sumFor(t, rm, "valet.provider.requests", "status", "ok"); got != 1 {
		t.Errorf("provider requests = %d, want 1", got)
	}
	if got := sumFor(t, rm, "valet.provider.errors", "kind", "tts"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}

	met := findMetric(rm, "valet.barge_ins")
	if met == nil {
		t.Fatal("barge-in metric not found")
	}
	if got := met.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("barge-ins = %d, want 1", got)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Add(ctx, 3)
	m.QueueDepth.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "valet.notification.queue_depth")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("queue depth = %d, want 2", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}

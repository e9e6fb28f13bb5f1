package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// sumWhere returns the value of the int64 sum data point whose attributes
// include every key/value in want.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, want map[string]string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
next:
	for _, dp := range sum.DataPoints {
		for k, v := range want {
			got, ok := dp.Attributes.Value(attribute.Key(k))
			if !ok || got.Emit() != v {
				continue next
			}
		}
		return dp.Value
	}
	t.Fatalf("metric %q: no data point with %v", name, want)
	return 0
}

func TestHistogramObservation(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"readalong.stt.duration", m.STTDuration},
		{"readalong.acoustic.duration", m.AcousticDuration},
		{"readalong.comprehension.duration", m.ComprehensionDuration},
		{"readalong.refine.duration", m.RefineDuration},
		{"readalong.http.request.duration", m.HTTPRequestDuration},
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

func TestRecordVerdict(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordVerdict(ctx, "aligner", true)
	m.RecordVerdict(ctx, "aligner", true)
	m.RecordVerdict(ctx, "aligner", false)
	m.RecordVerdict(ctx, "reconciler", false)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "readalong.words.verdicts", map[string]string{"source": "aligner", "correct": "true"}); got != 2 {
		t.Errorf("aligner correct = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "readalong.words.verdicts", map[string]string{"source": "reconciler", "correct": "false"}); got != 1 {
		t.Errorf("reconciler incorrect = %d, want 1", got)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTimeout(ctx, "deadline")
	m.RecordTimeout(ctx, "deadline")
	m.RecordTimeout(ctx, "silence")
	m.RecordLedgerMiss(ctx)
	m.RecordSession(ctx, "complete")
	m.RecordSession(ctx, "incomplete")
	m.RecordProviderError(ctx, "onnx", "acoustic")
	m.RecordBreakerTransition(ctx, "onnx", "open")

	rm := collect(t, reader)
	tests := []struct {
		name  string
		attrs map[string]string
		want  int64
	}{
		{"readalong.words.timeouts", map[string]string{"reason": "deadline"}, 2},
		{"readalong.words.timeouts", map[string]string{"reason": "silence"}, 1},
		{"readalong.ledger.misses", nil, 1},
		{"readalong.sessions.completed", map[string]string{"outcome": "incomplete"}, 1},
		{"readalong.provider.errors", map[string]string{"provider": "onnx", "kind": "acoustic"}, 1},
		{"readalong.breaker.transitions", map[string]string{"name": "onnx", "to": "open"}, 1},
	}
	for _, tt := range tests {
		if got := sumWhere(t, rm, tt.name, tt.attrs); got != tt.want {
			t.Errorf("%s%v = %d, want %d", tt.name, tt.attrs, got, tt.want)
		}
	}
}

func TestActiveSessions(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "readalong.active_sessions", nil); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	t.Parallel()
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}

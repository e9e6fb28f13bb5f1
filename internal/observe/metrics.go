// Package observe provides the observability primitives of the reading
// assessment service: OpenTelemetry metrics, tracing, trace-aware logging and
// HTTP middleware that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed to
// Prometheus by [InitProvider], which also builds [Telemetry.Metrics].
// Libraries without an injected instance fall back to [DefaultMetrics]. Tests
// build their own with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every readalong metric.
const meterName = "github.com/MrWong99/readalong"

// Metrics holds the metric instruments of the service. All fields are safe
// for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration is the time the transcription engine needs to flush its
	// last result after capture stops.
	STTDuration metric.Float64Histogram

	// AcousticDuration is the latency of one acoustic word score.
	AcousticDuration metric.Float64Histogram

	// ComprehensionDuration is the latency of one comprehension score.
	ComprehensionDuration metric.Float64Histogram

	// RefineDuration is the wall time of the whole background refinement
	// pass.
	RefineDuration metric.Float64Histogram

	// --- Counters ---

	// WordVerdicts counts verdicts accepted by session aggregators. Use with
	// attributes:
	//   attribute.String("source", ...), attribute.Bool("correct", ...)
	WordVerdicts metric.Int64Counter

	// WordTimeouts counts words forced incorrect by the watchdog. Use with
	// attribute:
	//   attribute.String("reason", ...)
	WordTimeouts metric.Int64Counter

	// LedgerMisses counts words whose audio had aged out of the ledger when
	// the acoustic pass wanted it.
	LedgerMisses metric.Int64Counter

	// SessionsCompleted counts finished sessions. Use with attribute:
	//   attribute.String("outcome", ...)
	SessionsCompleted metric.Int64Counter

	// ProviderErrors counts collaborator failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("name", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is the number of reading sessions currently capturing
	// or refining.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration is the HTTP request latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, from single word
// scores up to a full refinement pass.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.STTDuration, err = histogram("readalong.stt.duration",
		"Time for the transcription engine to flush after capture stops."); err != nil {
		return nil, err
	}
	if met.AcousticDuration, err = histogram("readalong.acoustic.duration",
		"Latency of one acoustic pronunciation score."); err != nil {
		return nil, err
	}
	if met.ComprehensionDuration, err = histogram("readalong.comprehension.duration",
		"Latency of one comprehension score."); err != nil {
		return nil, err
	}
	if met.RefineDuration, err = histogram("readalong.refine.duration",
		"Wall time of the background refinement pass."); err != nil {
		return nil, err
	}

	if met.WordVerdicts, err = m.Int64Counter("readalong.words.verdicts",
		metric.WithDescription("Word verdicts accepted, by source and correctness."),
	); err != nil {
		return nil, err
	}
	if met.WordTimeouts, err = m.Int64Counter("readalong.words.timeouts",
		metric.WithDescription("Words forced incorrect by the watchdog, by reason."),
	); err != nil {
		return nil, err
	}
	if met.LedgerMisses, err = m.Int64Counter("readalong.ledger.misses",
		metric.WithDescription("Word spans that aged out of the audio ledger before re-scoring."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCompleted, err = m.Int64Counter("readalong.sessions.completed",
		metric.WithDescription("Reading sessions finished, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("readalong.provider.errors",
		metric.WithDescription("Collaborator failures by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("readalong.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("readalong.active_sessions",
		metric.WithDescription("Reading sessions currently capturing or refining."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("readalong.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from [otel.GetMeterProvider]. It panics if instrument creation fails, which
// does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordVerdict counts one accepted word verdict.
func (m *Metrics) RecordVerdict(ctx context.Context, source string, correct bool) {
	m.WordVerdicts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("correct", strconv.FormatBool(correct)),
		),
	)
}

// RecordTimeout counts one watchdog timeout.
func (m *Metrics) RecordTimeout(ctx context.Context, reason string) {
	m.WordTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordLedgerMiss counts one aged-out word span.
func (m *Metrics) RecordLedgerMiss(ctx context.Context) {
	m.LedgerMisses.Add(ctx, 1)
}

// RecordSession counts one finished session.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.SessionsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProviderError counts one collaborator failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("to", to),
		),
	)
}

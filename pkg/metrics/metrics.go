// Package metrics provides Prometheus metrics for the voice pipeline.
// All Record methods are safe to call on a nil *Metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicepipe"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Fetch metrics
	FetchTotal    *prometheus.CounterVec
	FetchAttempts prometheus.Histogram

	// Segment metrics
	SegmentsTotal  *prometheus.CounterVec
	SegmentLatency prometheus.Histogram

	// Assembly metrics
	AssembliesTotal *prometheus.CounterVec
	ResultDuration  prometheus.Histogram

	// Channel metrics
	ConnectionState *prometheus.GaugeVec
	ReconnectsTotal prometheus.Counter

	// Transcription metrics
	TranscriptionsTotal  *prometheus.CounterVec
	TranscriptionLatency prometheus.Histogram

	// Event publish metrics
	EventPublishTotal   *prometheus.CounterVec
	EventPublishErrors  *prometheus.CounterVec
	EventPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance registered with the default registry.
var DefaultMetrics = New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)

// NewIsolated returns metrics bound to a fresh registry. Used by tests and
// embedders that run several pipelines in one process.
func NewIsolated() *Metrics {
	reg := prometheus.NewRegistry()
	return New(reg, reg)
}

// New creates and registers all metrics with reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,

		FetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Total number of retried HTTP fetches by outcome",
		}, []string{"outcome"}),
		FetchAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_attempts",
			Help:      "Number of attempts a fetch needed",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),

		SegmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Total number of synthesized segments by outcome",
		}, []string{"outcome"}),
		SegmentLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_latency_seconds",
			Help:      "Time from segment notification to decoded samples",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		AssembliesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assemblies_total",
			Help:      "Total number of finished assemblies by outcome",
		}, []string{"outcome"}),
		ResultDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "result_duration_seconds",
			Help:      "Duration of finalized synthesis results",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),

		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current synthesis channel state, 0 otherwise",
		}, []string{"state"}),
		ReconnectsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of synthesis channel reconnect attempts",
		}),

		TranscriptionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Total number of transcription requests by outcome",
		}, []string{"outcome"}),
		TranscriptionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Transcription round-trip latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		EventPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Total number of pipeline events published",
		}, []string{"topic", "event_type"}),
		EventPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Total number of pipeline event publish errors",
		}, []string{"topic", "event_type"}),
		EventPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_publish_latency_seconds",
			Help:      "Event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// Handler serves the registry this instance was registered with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveFetch records a finished fetch. It satisfies httpc.Observer.
func (m *Metrics) ObserveFetch(attempts int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	default:
		outcome = "exhausted"
	}
	m.FetchTotal.WithLabelValues(outcome).Inc()
	m.FetchAttempts.Observe(float64(attempts))
}

// RecordSegment records a segment outcome: resolved, failed, dropped or discarded.
func (m *Metrics) RecordSegment(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.SegmentsTotal.WithLabelValues(outcome).Inc()
	if outcome == "resolved" {
		m.SegmentLatency.Observe(latencySeconds)
	}
}

// RecordAssembly records how an assembly ended: complete, empty, failed or aborted.
func (m *Metrics) RecordAssembly(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.AssembliesTotal.WithLabelValues(outcome).Inc()
	if outcome == "complete" {
		m.ResultDuration.Observe(durationSeconds)
	}
}

// RecordConnectionState marks state as the current channel state.
func (m *Metrics) RecordConnectionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

// RecordReconnect records a reconnect attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

// RecordTranscription records a transcription outcome.
func (m *Metrics) RecordTranscription(err error, latencySeconds float64) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.TranscriptionsTotal.WithLabelValues(outcome).Inc()
	m.TranscriptionLatency.Observe(latencySeconds)
}

// RecordEventPublish records an event publish attempt.
func (m *Metrics) RecordEventPublish(topic, eventType string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.EventPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.EventPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.EventPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

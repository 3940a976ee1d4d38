// Package observe provides application-wide observability primitives for the
// Charlie voice agent: OpenTelemetry metrics, tracing helpers, and structured
// logging glue.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Charlie metrics.
const meterName = "github.com/floomby/charlie"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Voice pipeline counters ---

	// UtterancesFlushed counts utterances emitted by the segmenter. Use with
	// attribute.String("class", "hot"|"latent").
	UtterancesFlushed metric.Int64Counter

	// ResponsesStarted counts dispatchers created. Use with
	// attribute.String("origin", "direct"|"child").
	ResponsesStarted metric.Int64Counter

	// SegmentsPlayed counts artifacts played to completion. Use with
	// attribute.String("label", ...).
	SegmentsPlayed metric.Int64Counter

	// StallEvictions counts dispatchers evicted by the stall timeout.
	StallEvictions metric.Int64Counter

	// PlaybackErrors counts playback-level failures (skipped, never fatal).
	PlaybackErrors metric.Int64Counter

	// DiscardedCompletions counts synthesis completions that arrived for a
	// dispatcher no longer enqueued.
	DiscardedCompletions metric.Int64Counter

	// Summarizations counts synopsis refresh attempts. Use with
	// attribute.String("status", "ok"|"error").
	Summarizations metric.Int64Counter

	// --- Latency histograms ---

	// SynthesisLatency tracks submit-to-completion latency per segment. Use
	// with attribute.String("source", "synthesized"|"canned").
	SynthesisLatency metric.Float64Histogram

	// ResponseLatency tracks utterance-to-first-segment latency.
	ResponseLatency metric.Float64Histogram

	// --- Gauges ---

	// QueueDepth tracks the number of dispatchers currently enqueued.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.UtterancesFlushed, err = m.Int64Counter("charlie.utterances.flushed",
		metric.WithDescription("Utterances emitted by the segmenter, by hot/latent class."),
	); err != nil {
		return nil, err
	}
	if met.ResponsesStarted, err = m.Int64Counter("charlie.responses.started",
		metric.WithDescription("Response dispatchers created."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsPlayed, err = m.Int64Counter("charlie.segments.played",
		metric.WithDescription("Audio artifacts played to completion."),
	); err != nil {
		return nil, err
	}
	if met.StallEvictions, err = m.Int64Counter("charlie.scheduler.stall_evictions",
		metric.WithDescription("Dispatchers evicted because their next segment never became ready."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("charlie.playback.errors",
		metric.WithDescription("Playback-level failures; segments skipped."),
	); err != nil {
		return nil, err
	}
	if met.DiscardedCompletions, err = m.Int64Counter("charlie.scheduler.discarded_completions",
		metric.WithDescription("Synthesis completions addressed to departed dispatchers."),
	); err != nil {
		return nil, err
	}
	if met.Summarizations, err = m.Int64Counter("charlie.convo.summarizations",
		metric.WithDescription("Conversation synopsis refresh attempts, by status."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisLatency, err = m.Float64Histogram("charlie.synthesis.latency",
		metric.WithDescription("Submit-to-completion latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = m.Float64Histogram("charlie.response.latency",
		metric.WithDescription("Latency from hot utterance to first response segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("charlie.scheduler.queue_depth",
		metric.WithDescription("Response dispatchers currently enqueued."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Package observe provides application-wide observability primitives for the
// sotto engine: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all sotto metrics.
const meterName = "github.com/sotto-voice/sotto"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesCaptured counts microphone frames delivered to the capture gate.
	FramesCaptured metric.Int64Counter

	// FramesSent counts frames transmitted to the remote session.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames the gate did not transmit. Use with
	// attribute.String("reason", ...) — "muted", "half_duplex", "send_error".
	FramesDropped metric.Int64Counter

	// PlaybackScheduled counts decoded buffers handed to the scheduler.
	PlaybackScheduled metric.Int64Counter

	// PlaybackFlushed counts buffers dropped by interruption flushes.
	PlaybackFlushed metric.Int64Counter

	// TranscriptMessages counts closed transcript messages. Use with
	// attribute.String("role", ...).
	TranscriptMessages metric.Int64Counter

	// ToolCalls counts guidance tool invocations. Use with
	// attribute.String("status", ...).
	ToolCalls metric.Int64Counter

	// ActiveSessions tracks the number of live duplex sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectDuration tracks time from session start to transport open.
	ConnectDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("sotto.capture.frames",
		metric.WithDescription("Microphone frames delivered to the capture gate."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("sotto.capture.sent",
		metric.WithDescription("Frames transmitted to the remote session."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("sotto.capture.dropped",
		metric.WithDescription("Frames not transmitted, by reason."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackScheduled, err = m.Int64Counter("sotto.playback.scheduled",
		metric.WithDescription("Decoded buffers handed to the playback scheduler."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFlushed, err = m.Int64Counter("sotto.playback.flushed",
		metric.WithDescription("Scheduled buffers dropped by interruption flushes."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptMessages, err = m.Int64Counter("sotto.transcript.messages",
		metric.WithDescription("Closed transcript messages, by role."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("sotto.guidance.tool_calls",
		metric.WithDescription("Guidance tool invocations, by ack status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("sotto.sessions.active",
		metric.WithDescription("Live duplex sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("sotto.session.connect.duration",
		metric.WithDescription("Time from session start to transport open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Package observe provides observability primitives for the speech gateway:
// OpenTelemetry metrics, a Prometheus exporter bridge, and HTTP middleware
// that records request latency and logs completions.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/lizhe2004/openai-xunjie-tts"

// Metrics holds all OpenTelemetry metric instruments for the gateway. All
// fields are safe for concurrent use.
type Metrics struct {
	// SynthesisDuration tracks upstream speech synthesis latency, including
	// task polling.
	SynthesisDuration metric.Float64Histogram

	// ConversionDuration tracks ffmpeg format conversion latency.
	ConversionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// UpstreamRequests counts upstream API calls. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	UpstreamRequests metric.Int64Counter

	// UpstreamErrors counts failed upstream calls.
	UpstreamErrors metric.Int64Counter

	// ArchiveSaves counts archive writes. Use with attributes:
	//   attribute.String("store", ...), attribute.String("status", ...)
	ArchiveSaves metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries in seconds. Synthesis of
// queued tasks can take the full sixty-second polling window, so the upper
// buckets go well past typical HTTP latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)

	var err error

	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("tts.synthesis.duration",
		metric.WithDescription("Latency of upstream speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ConversionDuration, err = m.Float64Histogram("tts.conversion.duration",
		metric.WithDescription("Latency of audio format conversion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("tts.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.UpstreamRequests, err = m.Int64Counter("tts.upstream.requests",
		metric.WithDescription("Total upstream synthesis requests by status."),
	); err != nil {
		return nil, err
	}

	if met.UpstreamErrors, err = m.Int64Counter("tts.upstream.errors",
		metric.WithDescription("Total failed upstream synthesis requests."),
	); err != nil {
		return nil, err
	}

	if met.ArchiveSaves, err = m.Int64Counter("tts.archive.saves",
		metric.WithDescription("Total archive writes by store and status."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error

		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})

	return defaultMetrics
}

// RecordUpstreamRequest records one upstream synthesis call with its outcome.
func (m *Metrics) RecordUpstreamRequest(ctx context.Context, status string) {
	m.UpstreamRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)

	if status != "ok" {
		m.UpstreamErrors.Add(ctx, 1)
	}
}

// RecordArchiveSave records one archive write with its outcome.
func (m *Metrics) RecordArchiveSave(ctx context.Context, store, status string) {
	m.ArchiveSaves.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("store", store),
			attribute.String("status", status),
		),
	)
}

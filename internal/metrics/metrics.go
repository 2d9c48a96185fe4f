// Package metrics registers and records the Prometheus metrics for the
// Collector and Gateway processes, grounded on the registration/reset
// pattern in AmmannChristian's entropy-tdc-gateway metrics package:
// package-level promauto collectors rebuilt against an injectable
// Registerer so tests get isolated registries.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal               *prometheus.CounterVec
	BytesServedTotal            prometheus.Counter
	PushPacketsTotal            *prometheus.CounterVec
	PushRejectedTotal           *prometheus.CounterVec
	OverflowEventsTotal         *prometheus.CounterVec
	RateLimitedTotal            *prometheus.CounterVec
	BufferFillPercent           *prometheus.GaugeVec
	DataFreshnessSeconds        prometheus.Gauge
	RequestLatencySeconds       *prometheus.HistogramVec
	PushAdmissionLatencySeconds prometheus.Histogram

	metricsMu         sync.RWMutex
	currentRegisterer prometheus.Registerer = prometheus.DefaultRegisterer
)

func init() {
	resetMetrics(prometheus.DefaultRegisterer)
}

// SetRegisterer points all package metrics at a new registerer,
// unregistering from the old one first. It returns the previous
// registerer so a test can restore it in a defer. Tests that want
// isolated registries should call this with prometheus.NewRegistry().
func SetRegisterer(registerer prometheus.Registerer) prometheus.Registerer {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	previous := currentRegisterer
	unregisterAll(currentRegisterer)
	currentRegisterer = registerer
	initializeMetrics(registerer)
	return previous
}

func resetMetrics(registerer prometheus.Registerer) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	currentRegisterer = registerer
	initializeMetrics(registerer)
}

func initializeMetrics(registerer prometheus.Registerer) {
	factory := promauto.With(registerer)

	RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrng_gateway_requests_total",
			Help: "Total number of Request Router API calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	BytesServedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "qrng_gateway_bytes_served_total",
			Help: "Total number of entropy bytes served to authenticated callers",
		},
	)

	PushPacketsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrng_push_packets_total",
			Help: "Total number of packets pushed, by result (received, admitted, rejected)",
		},
		[]string{"result"},
	)

	PushRejectedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrng_push_rejected_total",
			Help: "Total number of packets rejected by the Push Receiver, by reason",
		},
		[]string{"reason"},
	)

	OverflowEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrng_buffer_overflow_events_total",
			Help: "Total number of bytes discarded or evicted on buffer overflow, by buffer and kind (discarded, evicted)",
		},
		[]string{"buffer", "kind"},
	)

	RateLimitedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrng_rate_limited_total",
			Help: "Total number of requests rejected by the per-principal rate limiter",
		},
		[]string{"operation"},
	)

	BufferFillPercent = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qrng_buffer_fill_percent",
			Help: "Current fill percentage of a buffer",
		},
		[]string{"buffer"},
	)

	DataFreshnessSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "qrng_data_freshness_seconds",
			Help: "Age in seconds of the oldest byte in the Distribution Buffer",
		},
	)

	RequestLatencySeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrng_request_latency_seconds",
			Help:    "End-to-end latency of Request Router operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"operation"},
	)

	PushAdmissionLatencySeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrng_push_admission_latency_seconds",
			Help:    "Latency of the Push Receiver's five-step admission algorithm",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)
}

func unregisterAll(registerer prometheus.Registerer) {
	if registerer == nil {
		return
	}
	collectors := []prometheus.Collector{
		RequestsTotal, BytesServedTotal, PushPacketsTotal, PushRejectedTotal,
		OverflowEventsTotal, RateLimitedTotal, BufferFillPercent,
		DataFreshnessSeconds, RequestLatencySeconds, PushAdmissionLatencySeconds,
	}
	for _, c := range collectors {
		if c != nil {
			registerer.Unregister(c)
		}
	}
}

// RecordRequest records the outcome of one Request Router operation.
func RecordRequest(operation, outcome string) {
	RequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordBytesServed adds n to the total entropy bytes served counter.
func RecordBytesServed(n int) {
	if n > 0 {
		BytesServedTotal.Add(float64(n))
	}
}

// RecordPushReceived records every push attempt that reaches the receiver,
// regardless of its eventual admission outcome.
func RecordPushReceived() {
	PushPacketsTotal.WithLabelValues("received").Inc()
}

// RecordPushRejected records a Push Receiver admission failure by reason.
func RecordPushRejected(reason string) {
	PushPacketsTotal.WithLabelValues("rejected").Inc()
	PushRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordPushAdmitted records a successfully admitted packet.
func RecordPushAdmitted() {
	PushPacketsTotal.WithLabelValues("admitted").Inc()
}

// RecordOverflow adds the number of bytes discarded or evicted on
// overflow of a named buffer.
func RecordOverflow(buffer, kind string, bytes int) {
	if bytes > 0 {
		OverflowEventsTotal.WithLabelValues(buffer, kind).Add(float64(bytes))
	}
}

// RecordRateLimited records a rate-limit rejection for an operation.
func RecordRateLimited(operation string) {
	RateLimitedTotal.WithLabelValues(operation).Inc()
}

// SetBufferFillPercent publishes the current fill percentage of a buffer.
func SetBufferFillPercent(buffer string, percent float64) {
	BufferFillPercent.WithLabelValues(buffer).Set(percent)
}

// SetDataFreshnessSeconds publishes the age of the oldest distribution byte.
func SetDataFreshnessSeconds(seconds float64) {
	DataFreshnessSeconds.Set(seconds)
}

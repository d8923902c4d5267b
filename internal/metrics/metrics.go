package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels are kept low-cardinality: outcome labels come from a fixed set and HTTP
// routes are mux templates, never raw paths.

var (
	// UploadRequests counts upload pipeline runs by outcome label.
	UploadRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_requests_total",
			Help: "Total upload requests by pipeline outcome",
		},
		[]string{"outcome"},
	)

	// InferenceDuration tracks detector latency.
	InferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Object detection latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		},
	)

	RecordWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "record_write_failures_total",
			Help: "Detection records that could not be written",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// EventSubscribers is the number of connected live-event clients.
	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_subscribers",
			Help: "Connected websocket event subscribers",
		},
	)
)

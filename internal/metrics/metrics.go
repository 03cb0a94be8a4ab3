// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxstream_upstream_fetches_total",
			Help: "Upstream provider calls by result",
		},
		[]string{"provider", "result"},
	)

	UpstreamFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fxstream_upstream_fetch_duration_seconds",
			Help:    "Upstream provider call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxstream_cache_lookups_total",
			Help: "Rate cache lookups by outcome (fresh, stale, miss)",
		},
		[]string{"result"},
	)

	StreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fxstream_stream_connections",
			Help: "Live streaming subscribers",
		},
	)

	StreamRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxstream_stream_rejections_total",
			Help: "Streaming connections rejected by admission control",
		},
		[]string{"scope"},
	)

	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxstream_stream_events_total",
			Help: "Events pushed to subscribers by label and stage",
		},
		[]string{"event", "stage"},
	)

	BroadcastTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxstream_broadcast_ticks_total",
			Help: "Broadcast timer firings, run or skipped on overlap",
		},
		[]string{"result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

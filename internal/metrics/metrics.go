// Package metrics defines the Prometheus collectors exported by the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue Metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offlinesync_queue_entries",
			Help: "Number of mutation queue entries by status",
		},
		[]string{"status"}, // "pending", "failed"
	)

	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_queue_enqueued_total",
			Help: "Total number of mutations enqueued",
		},
		[]string{"kind"},
	)

	QueueCollapsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinesync_queue_collapsed_total",
			Help: "Pending updates removed because a delete superseded them",
		},
	)

	// Drain Metrics
	DrainRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_drain_runs_total",
			Help: "Total number of drain passes",
		},
		[]string{"trigger"}, // "reconnect", "manual", "scheduled"
	)

	DrainEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_drain_entries_total",
			Help: "Queue entries processed by drains, by outcome",
		},
		[]string{"outcome"}, // "succeeded", "retrying", "failed", "deferred"
	)

	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "offlinesync_drain_duration_seconds",
			Help:    "Duration of drain passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cache Metrics
	CacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_cache_reads_total",
			Help: "Record reads by how they were served",
		},
		[]string{"result"}, // "hit", "miss", "stale", "fallback", "local"
	)

	CacheRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offlinesync_cache_records",
			Help: "Visible records per collection at the last stats call",
		},
		[]string{"collection"},
	)

	CachePruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinesync_cache_pruned_total",
			Help: "Records removed by expiry cleanup",
		},
	)

	// Remote Metrics
	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_remote_calls_total",
			Help: "Remote calls by operation and result",
		},
		[]string{"operation", "result"}, // result: "ok", "not_found", "transient", "permanent"
	)

	RemoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offlinesync_remote_call_duration_seconds",
			Help:    "Duration of remote calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offlinesync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Connectivity Metrics
	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offlinesync_online",
			Help: "1 while the engine considers itself online",
		},
	)

	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_connectivity_transitions_total",
			Help: "Connectivity events emitted by the monitor",
		},
		[]string{"event"},
	)

	ConnectivityDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offlinesync_connectivity_events_dropped_total",
			Help: "Connectivity events dropped because a subscriber was not reading",
		},
	)

	// HTTP Metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_http_requests_total",
			Help: "HTTP API requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offlinesync_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveRemoteCall records the outcome and latency of one remote call.
func ObserveRemoteCall(operation, result string, start time.Time) {
	RemoteCalls.WithLabelValues(operation, result).Inc()
	RemoteLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SetOnline updates the online gauge.
func SetOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}

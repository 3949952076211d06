// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Remote storage client calls (latency, retries, throttling)
// - Sync pass outcomes and durations
// - Event queue depth and deduplication
// - Webhook notification handling
// - API endpoint latency and throughput
// - WebSocket connections

var (
	// Remote Storage Client Metrics
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_requests_total",
			Help: "Total number of remote storage API requests",
		},
		[]string{"operation", "result"}, // result: "success", "retryable", "rejected", "credential"
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_request_duration_seconds",
			Help:    "Duration of remote storage API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RemoteThrottleTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remote_throttle_total",
			Help: "Total number of 429 responses from the remote storage API",
		},
	)

	RemoteRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remote_retries_total",
			Help: "Total number of retry attempts against the remote storage API",
		},
	)

	RateLimitWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rate_limit_wait_duration_seconds",
			Help:    "Time spent waiting on the client-side rate limiter",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Sync Pass Metrics
	SyncPassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_pass_duration_seconds",
			Help:    "Duration of per-user sync passes in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600}, // Passes over large libraries can take minutes
		},
		[]string{"kind"}, // "full", "incremental", "webhook"
	)

	SyncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_passes_total",
			Help: "Total number of per-user sync passes",
		},
		[]string{"kind", "status"}, // status: "completed", "error", "conflict", "discarded"
	)

	SyncItemsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_items_processed_total",
			Help: "Total number of canonical items evaluated during sync passes",
		},
	)

	SyncReferencesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_references_created_total",
			Help: "Total number of item references created in member views",
		},
	)

	SyncReferencesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_references_failed_total",
			Help: "Total number of item references that failed to create",
		},
	)

	SyncFoldersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_folders_created_total",
			Help: "Total number of view folders created",
		},
	)

	SyncStaleReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_stale_reclaimed_total",
			Help: "Total number of in-progress views reclaimed as stale",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync pass",
		},
	)

	// Event Queue Metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of events waiting in the sync queue",
		},
	)

	QueueEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_events_total",
			Help: "Total number of events accepted into the sync queue",
		},
		[]string{"kind"},
	)

	QueueDedupDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_dedup_drops_total",
			Help: "Total number of events dropped because an equivalent event was already queued",
		},
	)

	// Webhook Metrics
	WebhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_notifications_total",
			Help: "Total number of change notifications received",
		},
		[]string{"outcome"}, // "triggered", "ignored", "no-targets"
	)

	WebhookSignatureFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Total number of change notifications rejected for a bad signature",
		},
	)

	WatchChannelRenewals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watch_channel_renewals_total",
			Help: "Total number of watch channel renewals",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordRemoteRequest records one remote storage call and its outcome.
func RecordRemoteRequest(operation, result string, duration time.Duration) {
	RemoteRequestsTotal.WithLabelValues(operation, result).Inc()
	RemoteRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordThrottle records a 429 response from the remote storage API.
func RecordThrottle() {
	RemoteThrottleTotal.Inc()
}

// RecordRetry records one retry attempt against the remote storage API.
func RecordRetry() {
	RemoteRetriesTotal.Inc()
}

// RecordRateLimitWait records time spent blocked on the client-side limiter.
func RecordRateLimitWait(d time.Duration) {
	RateLimitWaitDuration.Observe(d.Seconds())
}

// RecordSyncPass records the outcome of one per-user sync pass.
func RecordSyncPass(kind, status string, duration time.Duration) {
	SyncPassDuration.WithLabelValues(kind).Observe(duration.Seconds())
	SyncPassesTotal.WithLabelValues(kind, status).Inc()
	if status == "completed" {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordSyncCounts records the work done inside a sync pass.
func RecordSyncCounts(itemsProcessed, refsCreated, refsFailed, foldersCreated int) {
	SyncItemsProcessed.Add(float64(itemsProcessed))
	SyncReferencesCreated.Add(float64(refsCreated))
	SyncReferencesFailed.Add(float64(refsFailed))
	SyncFoldersCreated.Add(float64(foldersCreated))
}

// RecordQueueEvent records an event accepted into (or deduplicated out of) the queue.
func RecordQueueEvent(kind string, deduped bool) {
	if deduped {
		QueueDedupDrops.Inc()
		return
	}
	QueueEventsTotal.WithLabelValues(kind).Inc()
}

// UpdateQueueDepth sets the current queue depth gauge.
func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// RecordWebhookNotification records the outcome of one change notification.
func RecordWebhookNotification(outcome string) {
	WebhookNotifications.WithLabelValues(outcome).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackWebSocket adjusts the active connection gauge.
func TrackWebSocket(connected bool) {
	if connected {
		WSConnections.Inc()
	} else {
		WSConnections.Dec()
	}
}

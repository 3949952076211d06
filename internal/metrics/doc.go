// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package implements application instrumentation using the Prometheus client
library, exposing metrics for monitoring performance, errors, and system health.

# Overview

The package provides metrics for:
  - Remote storage client calls (latency, retries, throttling, breaker state)
  - Per-user sync pass durations and outcomes
  - Event queue depth and deduplication drops
  - Webhook notification handling
  - API endpoint latency and throughput
  - WebSocket connection counts

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8080/metrics

# Available Metrics

Remote Client Metrics:
  - remote_requests_total: Remote storage API requests (counter)
    Labels: operation, result (success, retryable, rejected, credential)
  - remote_request_duration_seconds: Call latency (histogram)
    Labels: operation
  - remote_throttle_total: 429 responses received (counter)
  - remote_retries_total: Retry attempts (counter)
  - rate_limit_wait_duration_seconds: Time blocked on the local limiter (histogram)

Sync Metrics:
  - sync_pass_duration_seconds: Per-user pass duration (histogram)
    Labels: kind (full, incremental, webhook)
    Buckets: 1, 5, 10, 30, 60, 120, 300, 600
  - sync_passes_total: Pass outcomes (counter)
    Labels: kind, status (completed, error, conflict)
  - sync_items_processed_total: Canonical items evaluated (counter)
  - sync_references_created_total: Item references created (counter)
  - sync_references_failed_total: Item references that failed (counter)
  - sync_folders_created_total: View folders created (counter)
  - sync_stale_reclaimed_total: In-progress views reclaimed as stale (counter)
  - sync_last_success_timestamp: Unix time of last completed pass (gauge)

Queue Metrics:
  - queue_depth: Events waiting in the sync queue (gauge)
  - queue_events_total: Events accepted (counter), labels: kind
  - queue_dedup_drops_total: Events dropped as duplicates (counter)

Circuit Breaker Metrics:
  - circuit_breaker_state: Current state (gauge)
    Labels: name
    Values: 0=closed, 1=half-open, 2=open
  - circuit_breaker_state_transitions_total: Transitions (counter)
    Labels: name, from_state, to_state

# Usage

Metrics are package-level and registered via promauto at init time. Callers
use the Record* helpers rather than touching collectors directly:

	start := time.Now()
	err := gateway.ListItems(ctx, query)
	metrics.RecordRemoteRequest("list", resultLabel(err), time.Since(start))

# Cardinality

Label values are drawn from small fixed sets (operation names, outcome
enums). User IDs and item IDs are never used as label values.
*/
package metrics

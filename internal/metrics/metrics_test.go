// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecordRemoteRequest verifies remote call recording for each outcome label.
func TestRecordRemoteRequest(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		result    string
		duration  time.Duration
	}{
		{
			name:      "successful list",
			operation: "list",
			result:    "success",
			duration:  25 * time.Millisecond,
		},
		{
			name:      "throttled batch get",
			operation: "batch_get",
			result:    "retryable",
			duration:  1200 * time.Millisecond,
		},
		{
			name:      "rejected folder create",
			operation: "create_folder",
			result:    "rejected",
			duration:  40 * time.Millisecond,
		},
		{
			name:      "credential failure",
			operation: "list",
			result:    "credential",
			duration:  15 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(RemoteRequestsTotal.WithLabelValues(tt.operation, tt.result))
			RecordRemoteRequest(tt.operation, tt.result, tt.duration)
			after := testutil.ToFloat64(RemoteRequestsTotal.WithLabelValues(tt.operation, tt.result))
			if after != before+1 {
				t.Errorf("expected counter to increment by 1, got %v -> %v", before, after)
			}
		})
	}
}

// TestRecordSyncPass verifies pass outcomes update the right counters.
func TestRecordSyncPass(t *testing.T) {
	before := testutil.ToFloat64(SyncPassesTotal.WithLabelValues("full", "completed"))
	RecordSyncPass("full", "completed", 42*time.Second)
	after := testutil.ToFloat64(SyncPassesTotal.WithLabelValues("full", "completed"))
	if after != before+1 {
		t.Errorf("expected completed counter +1, got %v -> %v", before, after)
	}

	// Completed passes move the last-success timestamp forward.
	if ts := testutil.ToFloat64(SyncLastSuccess); ts == 0 {
		t.Error("expected last success timestamp to be set")
	}

	errBefore := testutil.ToFloat64(SyncPassesTotal.WithLabelValues("incremental", "error"))
	RecordSyncPass("incremental", "error", 3*time.Second)
	errAfter := testutil.ToFloat64(SyncPassesTotal.WithLabelValues("incremental", "error"))
	if errAfter != errBefore+1 {
		t.Errorf("expected error counter +1, got %v -> %v", errBefore, errAfter)
	}
}

// TestRecordSyncCounts verifies batch counters accumulate.
func TestRecordSyncCounts(t *testing.T) {
	itemsBefore := testutil.ToFloat64(SyncItemsProcessed)
	refsBefore := testutil.ToFloat64(SyncReferencesCreated)
	failedBefore := testutil.ToFloat64(SyncReferencesFailed)
	foldersBefore := testutil.ToFloat64(SyncFoldersCreated)

	RecordSyncCounts(120, 87, 2, 14)

	if got := testutil.ToFloat64(SyncItemsProcessed); got != itemsBefore+120 {
		t.Errorf("items processed: expected +120, got %v -> %v", itemsBefore, got)
	}
	if got := testutil.ToFloat64(SyncReferencesCreated); got != refsBefore+87 {
		t.Errorf("references created: expected +87, got %v -> %v", refsBefore, got)
	}
	if got := testutil.ToFloat64(SyncReferencesFailed); got != failedBefore+2 {
		t.Errorf("references failed: expected +2, got %v -> %v", failedBefore, got)
	}
	if got := testutil.ToFloat64(SyncFoldersCreated); got != foldersBefore+14 {
		t.Errorf("folders created: expected +14, got %v -> %v", foldersBefore, got)
	}
}

// TestRecordQueueEvent verifies dedup drops route to the drop counter only.
func TestRecordQueueEvent(t *testing.T) {
	acceptedBefore := testutil.ToFloat64(QueueEventsTotal.WithLabelValues("webhook"))
	dropsBefore := testutil.ToFloat64(QueueDedupDrops)

	RecordQueueEvent("webhook", false)
	RecordQueueEvent("webhook", true)

	if got := testutil.ToFloat64(QueueEventsTotal.WithLabelValues("webhook")); got != acceptedBefore+1 {
		t.Errorf("expected one accepted event, got %v -> %v", acceptedBefore, got)
	}
	if got := testutil.ToFloat64(QueueDedupDrops); got != dropsBefore+1 {
		t.Errorf("expected one dedup drop, got %v -> %v", dropsBefore, got)
	}
}

// TestTrackWebSocket verifies the gauge moves both directions.
func TestTrackWebSocket(t *testing.T) {
	base := testutil.ToFloat64(WSConnections)

	TrackWebSocket(true)
	TrackWebSocket(true)
	if got := testutil.ToFloat64(WSConnections); got != base+2 {
		t.Errorf("expected gauge %v, got %v", base+2, got)
	}

	TrackWebSocket(false)
	if got := testutil.ToFloat64(WSConnections); got != base+1 {
		t.Errorf("expected gauge %v, got %v", base+1, got)
	}
	TrackWebSocket(false)
}

// TestConcurrentRecording verifies the helpers are safe under concurrency.
func TestConcurrentRecording(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				RecordRemoteRequest("list", "success", time.Millisecond)
				RecordQueueEvent("scheduled", j%2 == 0)
				UpdateQueueDepth(j)
			}
		}()
	}
	wg.Wait()
}

// TestMetricsLint checks registered metrics for naming problems.
func TestMetricsLint(t *testing.T) {
	RecordRemoteRequest("list", "success", time.Millisecond)
	RecordAPIRequest("GET", "/api/v1/stats", "200", time.Millisecond)

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Logf("Lint errors (may be expected): %v", err)
	}
	for _, p := range problems {
		t.Logf("Metric lint problem: %s", p.Text)
	}
}

// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package engine

import (
	"sync"
	"time"

	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/syncer"
)

// Stats collects engine counters behind a single lock. It is injected into
// the engine rather than living as package state, so tests and multiple
// engines never share counters.
type Stats struct {
	mu        sync.Mutex
	startedAt time.Time

	enqueued     uint64
	deduplicated uint64

	batches     uint64
	batchErrors uint64

	passesCompleted  uint64
	passesFailed     uint64
	passesConflicted uint64
	passesDiscarded  uint64

	itemsProcessed    uint64
	referencesCreated uint64

	sweepsRun      uint64
	staleReclaimed uint64

	changesTriggered uint64
	changesIgnored   uint64
	changesNoTargets uint64

	lastBatchAt       time.Time
	lastBatchDuration time.Duration
}

// Snapshot is a point-in-time copy of the engine counters. QueueDepth is
// filled in by the engine, which owns the queue.
type Snapshot struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	QueueDepth    int   `json:"queue_depth"`

	Enqueued     uint64 `json:"enqueued"`
	Deduplicated uint64 `json:"deduplicated"`

	Batches     uint64 `json:"batches"`
	BatchErrors uint64 `json:"batch_errors"`

	PassesCompleted  uint64 `json:"passes_completed"`
	PassesFailed     uint64 `json:"passes_failed"`
	PassesConflicted uint64 `json:"passes_conflicted"`
	PassesDiscarded  uint64 `json:"passes_discarded"`

	ItemsProcessed    uint64 `json:"items_processed"`
	ReferencesCreated uint64 `json:"references_created"`

	SweepsRun      uint64 `json:"sweeps_run"`
	StaleReclaimed uint64 `json:"stale_reclaimed"`

	ChangesTriggered uint64 `json:"changes_triggered"`
	ChangesIgnored   uint64 `json:"changes_ignored"`
	ChangesNoTargets uint64 `json:"changes_no_targets"`

	LastBatchAt *time.Time `json:"last_batch_at,omitempty"`
	LastBatchMs int64      `json:"last_batch_ms"`
}

// NewStats returns a zeroed counter set anchored at now.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now()}
}

// RecordEnqueue counts a queue submission; accepted is false when the job
// was dropped as a duplicate.
func (s *Stats) RecordEnqueue(accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if accepted {
		s.enqueued++
	} else {
		s.deduplicated++
	}
}

// RecordBatch folds one batch result into the counters.
func (s *Stats) RecordBatch(batch *syncer.BatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches++
	s.itemsProcessed += uint64(batch.Items)
	s.passesCompleted += uint64(batch.Completed())
	s.passesFailed += uint64(batch.Failed())
	s.passesConflicted += uint64(batch.Conflicted())
	s.passesDiscarded += uint64(batch.Discarded())

	for _, u := range batch.Users {
		if u.Organize != nil {
			s.referencesCreated += uint64(u.Organize.ReferencesCreated)
		}
	}

	s.lastBatchAt = time.Now()
	s.lastBatchDuration = batch.Duration
}

// RecordBatchError counts a batch that failed before any member pass ran.
func (s *Stats) RecordBatchError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchErrors++
}

// RecordSweep counts one sweep run and the views it reclaimed.
func (s *Stats) RecordSweep(reclaimed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepsRun++
	s.staleReclaimed += uint64(reclaimed)
}

// RecordChange counts a change-notification outcome.
func (s *Stats) RecordChange(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch status {
	case models.ChangeOutcomeTriggered:
		s.changesTriggered++
	case models.ChangeOutcomeIgnored:
		s.changesIgnored++
	default:
		s.changesNoTargets++
	}
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		UptimeSeconds:     int64(time.Since(s.startedAt).Seconds()),
		Enqueued:          s.enqueued,
		Deduplicated:      s.deduplicated,
		Batches:           s.batches,
		BatchErrors:       s.batchErrors,
		PassesCompleted:   s.passesCompleted,
		PassesFailed:      s.passesFailed,
		PassesConflicted:  s.passesConflicted,
		PassesDiscarded:   s.passesDiscarded,
		ItemsProcessed:    s.itemsProcessed,
		ReferencesCreated: s.referencesCreated,
		SweepsRun:         s.sweepsRun,
		StaleReclaimed:    s.staleReclaimed,
		ChangesTriggered:  s.changesTriggered,
		ChangesIgnored:    s.changesIgnored,
		ChangesNoTargets:  s.changesNoTargets,
		LastBatchMs:       s.lastBatchDuration.Milliseconds(),
	}
	if !s.lastBatchAt.IsZero() {
		at := s.lastBatchAt
		snap.LastBatchAt = &at
	}
	return snap
}

// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package engine is the long-running sync coordinator.
//
// Triggers (scheduler ticks, manual requests, change notifications) become
// jobs on an unbounded FIFO queue drained by a fixed-size worker pool. Jobs
// deduplicate by kind plus scope: a second identical trigger while one is
// queued or in flight is dropped, never double-run. The key is held until
// the pass finishes, so the window has no gap between dequeue and
// completion.
//
// The engine also owns the periodic loops: the scheduler (full pass over
// all views), the stale sweep, the health log, and watch-channel renewal.
// It implements suture.Service and runs under the supervision tree.
package engine

// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package syncer runs reconciliation passes over member views.
//
// A pass fetches the canonical folder listing once (full, or changes since
// the earliest last-sync mark of the target set), parses file names into
// canonical items, and drives the organizer for every target member. The
// per-view lock and generation fence live in the store; the syncer's job is
// to hold them correctly:
//
//   - AcquireView claims the view (conflict means another pass is running
//     and the member is simply skipped this round);
//   - the captured generation guards every terminal write, so a pass the
//     stale sweep reclaimed cannot overwrite newer state;
//   - one member's failure is captured into the batch result and never
//     aborts the other members.
//
// The sweep (SweepStale) reclaims passes that exceeded the stale timeout
// and releases previously reclaimed views back to pending on its next
// round, so operators get a visible stale window before the retry.
package syncer

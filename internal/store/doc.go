// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package store persists the engine's durable state in BadgerDB.
//
// Four record families share one database, separated by key prefix:
//
//	view:<userID>                     UserView records (status, lock, fence)
//	op:<uuid>                         SyncOperation audit records
//	opsub:<subject>:<startNano>:<id>  subject index over operations
//	channel:<channelID>               watch channel registrations
//	scope:<scope>                     last successful sync per scope
//
// # Locking and fencing
//
// The per-user sync lock is the view's status field: AcquireView is a
// compare-and-swap from any non-running status to in-progress inside one
// Badger transaction, so two workers can never both claim a view. Every
// acquisition and every stale reclamation increments the view generation;
// terminal writes go through UpdateViewIfCurrent, which refuses to apply a
// result whose generation is no longer current. A pass that kept running
// after the sweep reclaimed it therefore cannot clobber newer state, even
// across process restarts.
//
// # Durability
//
// Badger transactions are serializable, and the store keeps every
// compare-and-swap inside a single transaction rather than a read-then-write
// pair. Operation records are append-only in spirit: they are written when a
// pass starts and overwritten exactly once when it closes, and the subject
// index key embeds the start time so per-subject history lists in
// chronological order without a scan.
//
// # Usage
//
//	st, err := store.Open(store.Config{Path: cfg.Store.Path})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	view, err := st.AcquireView(ctx, userID)
//	if errors.Is(err, store.ErrLockConflict) {
//	    // another pass is running; skip
//	}
//
//	// ... run the pass ...
//
//	_, err = st.UpdateViewIfCurrent(ctx, userID, view.Generation, func(v *models.UserView) {
//	    v.Status = models.SyncStatusCompleted
//	})
//	if errors.Is(err, store.ErrGenerationMismatch) {
//	    // fenced: a sweep reclaimed this pass, discard the result
//	}
package store

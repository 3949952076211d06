// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package models

import "time"

// SyncStatus is the per-view reconciliation state.
//
// Transitions: pending -> in-progress -> completed | error. A pass that
// exceeds the stale timeout is moved to stale by the sweep (never by the
// pass itself); the sweep later resets stale views to pending. The status
// field doubles as the per-user lock: acquiring a pass is a compare-and-swap
// from any non-running status to in-progress.
type SyncStatus string

// SyncStatus values.
const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in-progress"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusError      SyncStatus = "error"
	SyncStatusStale      SyncStatus = "stale"
)

// IsValid reports whether s is a known sync status.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusInProgress, SyncStatusCompleted,
		SyncStatusError, SyncStatusStale:
		return true
	default:
		return false
	}
}

// IsRunning reports whether the status marks a live pass.
func (s SyncStatus) IsRunning() bool {
	return s == SyncStatusInProgress
}

// IsTerminal reports whether the status is a pass outcome rather than a
// scheduling state.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusError
}

// UserView is the persisted record of one member's derived folder tree.
// The remote folder itself holds the group folders and shortcuts; this
// record holds identity, sync bookkeeping, and the per-user lock.
type UserView struct {
	// UserID owns the view.
	UserID string `json:"user_id"`

	// FolderID is the remote root folder of the view; nil until the
	// folder is first created.
	FolderID *string `json:"folder_id,omitempty"`

	// SourceFolderID is the canonical folder this view is derived from.
	SourceFolderID string `json:"source_folder_id"`

	// Status is the sync state machine field (see SyncStatus).
	Status SyncStatus `json:"status"`

	// Generation is the fencing token. It increments every time a pass
	// acquires the view and every time the stale sweep reclaims it, so a
	// pass that finishes after being reclaimed cannot write a terminal
	// status over newer state.
	Generation uint64 `json:"generation"`

	// LastSyncedAt is the completion time of the last successful pass.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	// ItemCount is the number of live item references after the last
	// completed pass.
	ItemCount int `json:"item_count"`

	// GroupCount is the number of group folders after the last completed
	// pass; used for duration estimates.
	GroupCount int `json:"group_count"`

	// LastError holds the most recent pass error, nil after a success.
	LastError *string `json:"last_error,omitempty"`

	// CreatedAt is when the view record was first initialized.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped on every record write.
	UpdatedAt time.Time `json:"updated_at"`
}

// HasFolder reports whether the remote root folder has been created.
func (v *UserView) HasFolder() bool {
	return v.FolderID != nil && *v.FolderID != ""
}

// User is a member directory entry: who to share the view with and which
// instruments determine their access keys. Directory data comes from
// configuration; the engine never mutates it.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Instruments []string `json:"instruments"`
}

// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package models

import "time"

// Change-notification resource states delivered by the storage provider.
// Only add, update and remove trigger reconciliation; sync is the channel
// handshake and everything else is ignored.
const (
	ChangeStateAdd    = "add"
	ChangeStateUpdate = "update"
	ChangeStateRemove = "remove"
	ChangeStateSync   = "sync"
)

// IsActionableChangeState reports whether a resource state should trigger
// a reconciliation pass.
func IsActionableChangeState(state string) bool {
	switch state {
	case ChangeStateAdd, ChangeStateUpdate, ChangeStateRemove:
		return true
	default:
		return false
	}
}

// ChangeNotification is the decoded webhook payload from the storage
// provider's watch channel.
type ChangeNotification struct {
	ChannelID     string `json:"channelId" validate:"required"`
	ResourceID    string `json:"resourceId" validate:"required"`
	State         string `json:"state" validate:"required"`
	MessageNumber int64  `json:"messageNumber,omitempty"`
}

// ChangeOutcome statuses returned by HandleChangeNotification.
const (
	ChangeOutcomeIgnored   = "ignored"
	ChangeOutcomeNoTargets = "no-targets"
	ChangeOutcomeTriggered = "triggered"
)

// ChangeOutcome reports how an inbound change notification was handled.
type ChangeOutcome struct {
	// Status is one of the ChangeOutcome constants.
	Status string `json:"status"`

	// AffectedUsers lists the user IDs whose views were queued for
	// reconciliation; empty unless Status is triggered.
	AffectedUsers []string `json:"affected_users,omitempty"`
}

// WatchChannel is a persisted webhook registration. Inbound notifications
// carry the channel and resource IDs; this record maps them back to the
// watched source folder, and its expiry drives renewal.
type WatchChannel struct {
	ChannelID  string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	FolderID   string    `json:"folder_id"`
	Expiry     time.Time `json:"expiry"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExpiresWithin reports whether the channel expires inside the margin.
func (c *WatchChannel) ExpiresWithin(margin time.Duration) bool {
	return time.Until(c.Expiry) < margin
}

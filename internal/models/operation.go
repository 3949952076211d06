// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncKind identifies what triggered a reconciliation pass.
type SyncKind string

// SyncKind values.
const (
	SyncKindFull        SyncKind = "full"
	SyncKindIncremental SyncKind = "incremental"
	SyncKindWebhook     SyncKind = "webhook"
)

// IsValid reports whether k is a known sync kind.
func (k SyncKind) IsValid() bool {
	switch k {
	case SyncKindFull, SyncKindIncremental, SyncKindWebhook:
		return true
	default:
		return false
	}
}

// SubjectGlobal is the SyncOperation subject for multi-user batch passes.
const SubjectGlobal = "global"

// OperationCounts aggregates per-pass work totals.
type OperationCounts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Failed    int `json:"failed"`
}

// Add accumulates another set of counts.
func (c *OperationCounts) Add(other OperationCounts) {
	c.Processed += other.Processed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Deleted += other.Deleted
	c.Failed += other.Failed
}

// SyncOperation is the append-only audit record of one reconciliation
// pass. It is created when the pass starts and closed exactly once with a
// terminal status; it is never rewritten afterward.
type SyncOperation struct {
	// ID is the operation UUID, also used as the job ID returned to
	// callers that triggered the pass.
	ID uuid.UUID `json:"id"`

	// Subject is the user ID the pass targeted, or SubjectGlobal for a
	// multi-user batch.
	Subject string `json:"subject"`

	// Kind records the trigger (full scan, incremental, webhook).
	Kind SyncKind `json:"kind"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Counts OperationCounts `json:"counts"`

	// Status is in-progress while running, then completed, error, or
	// stale (when reclaimed by the sweep).
	Status SyncStatus `json:"status"`

	// ErrorDetail holds the pass error for status error, and the
	// reclamation explanation for status stale.
	ErrorDetail *string `json:"error_detail,omitempty"`
}

// NewSyncOperation opens an audit record for a starting pass.
func NewSyncOperation(subject string, kind SyncKind) *SyncOperation {
	return &SyncOperation{
		ID:        uuid.New(),
		Subject:   subject,
		Kind:      kind,
		StartedAt: time.Now().UTC(),
		Status:    SyncStatusInProgress,
	}
}

// Close writes the terminal status and completion time.
func (op *SyncOperation) Close(status SyncStatus, errDetail string) {
	now := time.Now().UTC()
	op.CompletedAt = &now
	op.Status = status
	if errDetail != "" {
		op.ErrorDetail = &errDetail
	}
}

// Duration returns elapsed wall time, using now for open operations.
func (op *SyncOperation) Duration() time.Duration {
	if op.CompletedAt != nil {
		return op.CompletedAt.Sub(op.StartedAt)
	}
	return time.Since(op.StartedAt)
}

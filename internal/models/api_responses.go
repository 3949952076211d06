// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package models

import (
	"time"
)

// APIResponse is the standardized response wrapper used by all HTTP
// endpoints.
//
// Status field values:
//   - "success": request completed, see Data
//   - "error":   request failed, see Error
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "error": {"code": "SYNC_BUSY", "message": "a pass is already running"},
//	  "metadata": {"timestamp": "2026-08-25T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response generation info.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the structured error payload.
//
// Common codes: VALIDATION_ERROR, UNKNOWN_USER, SYNC_BUSY, NOT_FOUND,
// SIGNATURE_INVALID, INTERNAL_ERROR.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// TriggerSyncResponse is the payload of POST /api/v1/sync/{userID}.
type TriggerSyncResponse struct {
	JobID string `json:"job_id"`
	// Queued is false when an identical job was already queued or
	// running and the request was coalesced into it.
	Queued bool `json:"queued"`
}

// InitializeViewResponse is the payload of POST /api/v1/views/{userID}.
type InitializeViewResponse struct {
	ViewID string `json:"view_id"`
}

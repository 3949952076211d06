// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package models defines the data structures shared across the Chartsync
// engine: canonical items, per-user views, sync operations, change
// notifications, and the API response envelope.
package models

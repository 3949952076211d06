// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package supervisor assembles the process's service tree on suture.
//
// Everything long-running in chartsync is a suture.Service: the sync
// engine and the websocket hub implement it directly, while the HTTP
// server and the Badger GC loop get thin wrappers here. The tree
// restarts a crashed service in place with exponential backoff instead
// of taking the process down, and suture's lifecycle events are logged
// through sutureslog into the same zerolog stream as everything else.
//
// Layout and placement rules:
//
//   - store-layer: maintenance that must survive sync outages
//     (StoreGCService).
//   - sync-layer: the engine and the hub. They restart together only
//     if one of them exceeds the failure threshold repeatedly.
//   - api-layer: the HTTP server, isolated so a listener failure does
//     not cycle the sync workers.
//
// main builds the tree, adds the services, and blocks in Serve until
// the signal handler cancels the context.
package supervisor

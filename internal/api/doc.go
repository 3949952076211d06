// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package api exposes the engine over HTTP. It mirrors the engine
// operations one to one and adds the two inbound surfaces the engine
// cannot own itself: the storage provider's change-notification webhook
// and the websocket upgrade endpoint.
//
// Routing is go-chi with the stock RequestID/RealIP/Recoverer chain,
// CORS from configuration, and per-IP request limits via httprate.
// Every response is wrapped in models.APIResponse so clients see one
// envelope regardless of endpoint:
//
//	{"status": "success", "data": {...}, "metadata": {"timestamp": "..."}}
//	{"status": "error", "error": {"code": "SYNC_BUSY", ...}, ...}
//
// Endpoints (all under /api/v1 except the last two):
//
//	POST /views/{userID}            initialize a member view (idempotent)
//	POST /views/{userID}/reset      tear down group folders, queue rebuild
//	POST /sync/{userID}?full=1      queue a pass, 409 while one is pending
//	GET  /sync/{userID}             member status document
//	GET  /stats                     engine counter snapshot
//	POST /notifications/storage     provider webhook (HMAC-SHA256 signed)
//	GET  /health/live, /health/ready
//	GET  /ws                        websocket feed (?user= filters events)
//	GET  /metrics                   Prometheus exposition
//
// Handlers never reach into the engine's internals: everything goes
// through the Engine interface, which *engine.Engine satisfies, so the
// tests drive the full router with a mock.
package api

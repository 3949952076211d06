// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

/*
Package websocket pushes sync lifecycle events to connected clients.

The layout follows the usual gorilla/websocket shape: a Hub goroutine owns
the client set and fans messages out, and every Client runs a read pump and
a write pump against its connection. The hub implements the synchronizer's
Bus contract, so a reconciliation pass can announce sync_completed,
sync_failed and view_reset without knowing whether anyone is listening.

Subscriptions are per member. A client connecting with a user filter
receives only that member's events, a client without one receives the full
feed, and events carrying no member address everyone.

Delivery is best-effort. Broadcast never blocks the caller, a full hub
queue drops the event, and a client that stops draining its send queue is
disconnected. Clients that need a reliable picture poll the sync status
endpoint; the feed only tells them when to look.

The hub runs under the supervision tree (Serve satisfies suture.Service)
and closes every client on shutdown. Connections are established by the
HTTP layer, which upgrades the request and hands the connection to
NewClient together with the member filter from the query string.
*/
package websocket

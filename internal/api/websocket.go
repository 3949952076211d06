// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/validation"
	ws "github.com/bandworks/chartsync/internal/websocket"
)

// wsQueryParams validates the optional member filter on /ws.
type wsQueryParams struct {
	UserID string `validate:"max=128"`
}

// WebSocket handles GET /ws. The optional user query parameter narrows
// the feed to that member's events plus the unaddressed broadcasts; a
// board display omits it and sees everything.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		logging.Warn().Msg("Websocket connection attempted but hub not running")
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "websocket feed is not running", nil)
		return
	}

	params := wsQueryParams{UserID: r.URL.Query().Get("user")}
	if verr := validation.ValidateStruct(&params); verr != nil {
		respondValidationError(w, verr)
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error response.
		logging.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn, params.UserID)
	h.hub.Register <- client
	client.Start()
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin applies the CORS origin list to websocket
// upgrades. Browsers always send Origin; requests without one come from
// non-browser clients and bypass no browser protections, so they are
// allowed through.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.cfg == nil {
		return true
	}

	for _, allowed := range h.cfg.API.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().
		Str("origin", sanitizeLogValue(origin)).
		Msg("Websocket connection rejected from unauthorized origin")
	return false
}

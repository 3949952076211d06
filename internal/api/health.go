// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/models"
)

// readyProbeTimeout bounds the store ping so a wedged disk cannot hang
// the readiness endpoint.
const readyProbeTimeout = 2 * time.Second

// HealthLive handles GET /api/v1/health/live. It answers 200 whenever
// the process is serving requests at all.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"alive":          true,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HealthReady handles GET /api/v1/health/ready. Ready means the record
// store accepts transactions and the engine is wired; until then the
// process should not receive traffic.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()

	storeOK := h.store != nil
	if storeOK {
		if err := h.store.Ping(ctx); err != nil {
			logging.Warn().Err(err).Msg("Readiness probe: store ping failed")
			storeOK = false
		}
	}
	engineOK := h.engine != nil
	ready := storeOK && engineOK

	statusCode := http.StatusOK
	status := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	respondJSON(w, statusCode, &models.APIResponse{
		Status: status,
		Data: map[string]interface{}{
			"store_connected": storeOK,
			"engine_running":  engineOK,
			"ready_to_serve":  ready,
			"uptime_seconds":  int64(time.Since(h.startTime).Seconds()),
		},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

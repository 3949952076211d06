// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/engine"
	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/store"
	"github.com/bandworks/chartsync/internal/validation"
	ws "github.com/bandworks/chartsync/internal/websocket"
)

// Engine is the coordinator surface the HTTP layer drives.
// *engine.Engine satisfies it; tests substitute a mock.
type Engine interface {
	InitializeView(ctx context.Context, userID string) (*models.UserView, error)
	TriggerSync(ctx context.Context, userID string, forceFull bool) (uuid.UUID, error)
	GetSyncStatus(ctx context.Context, userID string) (*engine.StatusReport, error)
	HandleChangeNotification(ctx context.Context, n *models.ChangeNotification) (*models.ChangeOutcome, error)
	ResetView(ctx context.Context, userID string) error
	Stats() engine.Snapshot
}

var _ Engine = (*engine.Engine)(nil)

// Handler carries the dependencies shared by all endpoint methods.
type Handler struct {
	engine    Engine
	hub       *ws.Hub
	store     *store.Store
	cfg       *config.Config
	startTime time.Time
}

// NewHandler wires the endpoint handlers. hub may be nil when the
// websocket feed is not running; store may be nil only in tests that
// skip the readiness probe.
func NewHandler(eng Engine, hub *ws.Hub, st *store.Store, cfg *config.Config) *Handler {
	return &Handler{
		engine:    eng,
		hub:       hub,
		store:     st,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// memberPathParams validates the {userID} path segment before it
// reaches the engine or the logs.
type memberPathParams struct {
	UserID string `validate:"required,max=128"`
}

// memberParam extracts and validates the member ID from the route. On
// failure it writes the error response and reports false.
func memberParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	params := memberPathParams{UserID: chi.URLParam(r, "userID")}
	if verr := validation.ValidateStruct(&params); verr != nil {
		respondValidationError(w, verr)
		return "", false
	}
	return params.UserID, true
}

// respondEngineError maps engine and store sentinels onto the error
// envelope. Anything unrecognized is a 500.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownUser):
		respondError(w, http.StatusNotFound, "UNKNOWN_USER", "user is not in the member directory", err)
	case errors.Is(err, store.ErrViewNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no view is initialized for this member", err)
	case errors.Is(err, store.ErrLockConflict):
		respondError(w, http.StatusConflict, "SYNC_BUSY", "a sync pass is currently running for this member", err)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "request failed", err)
	}
}

// InitializeView handles POST /api/v1/views/{userID}. Idempotent: an
// existing view is returned as-is. ViewID in the response is the remote
// root folder, empty until the first pass creates it.
func (h *Handler) InitializeView(w http.ResponseWriter, r *http.Request) {
	userID, ok := memberParam(w, r)
	if !ok {
		return
	}

	view, err := h.engine.InitializeView(r.Context(), userID)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	resp := models.InitializeViewResponse{}
	if view.FolderID != nil {
		resp.ViewID = *view.FolderID
	}
	respondSuccess(w, http.StatusCreated, resp)
}

// ResetView handles POST /api/v1/views/{userID}/reset. The teardown
// itself is synchronous; the rebuild is queued, hence 202.
func (h *Handler) ResetView(w http.ResponseWriter, r *http.Request) {
	userID, ok := memberParam(w, r)
	if !ok {
		return
	}

	if err := h.engine.ResetView(r.Context(), userID); err != nil {
		respondEngineError(w, err)
		return
	}
	respondSuccess(w, http.StatusAccepted, nil)
}

// TriggerSync handles POST /api/v1/sync/{userID}. The optional full=1
// query parameter forces a full listing instead of an incremental one.
// A duplicate of a queued or running job answers 409 with the pending
// job's ID in the error details.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := memberParam(w, r)
	if !ok {
		return
	}
	forceFull, _ := strconv.ParseBool(r.URL.Query().Get("full"))

	jobID, err := h.engine.TriggerSync(r.Context(), userID, forceFull)
	if errors.Is(err, engine.ErrAlreadyQueued) {
		respondErrorDetails(w, http.StatusConflict, "SYNC_BUSY",
			"a sync is already queued or running for this member",
			map[string]interface{}{"job_id": jobID.String()})
		return
	}
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondSuccess(w, http.StatusAccepted, models.TriggerSyncResponse{
		JobID:  jobID.String(),
		Queued: true,
	})
}

// SyncStatus handles GET /api/v1/sync/{userID}.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := memberParam(w, r)
	if !ok {
		return
	}

	report, err := h.engine.GetSyncStatus(r.Context(), userID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, report)
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, h.engine.Stats())
}

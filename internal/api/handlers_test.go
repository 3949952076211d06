// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/engine"
	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

// mockEngine satisfies Engine with overridable hooks. Unset hooks return
// benign defaults.
type mockEngine struct {
	initializeFn func(ctx context.Context, userID string) (*models.UserView, error)
	triggerFn    func(ctx context.Context, userID string, forceFull bool) (uuid.UUID, error)
	statusFn     func(ctx context.Context, userID string) (*engine.StatusReport, error)
	changeFn     func(ctx context.Context, n *models.ChangeNotification) (*models.ChangeOutcome, error)
	resetFn      func(ctx context.Context, userID string) error
	statsFn      func() engine.Snapshot
}

func (m *mockEngine) InitializeView(ctx context.Context, userID string) (*models.UserView, error) {
	if m.initializeFn != nil {
		return m.initializeFn(ctx, userID)
	}
	return &models.UserView{UserID: userID}, nil
}

func (m *mockEngine) TriggerSync(ctx context.Context, userID string, forceFull bool) (uuid.UUID, error) {
	if m.triggerFn != nil {
		return m.triggerFn(ctx, userID, forceFull)
	}
	return uuid.New(), nil
}

func (m *mockEngine) GetSyncStatus(ctx context.Context, userID string) (*engine.StatusReport, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, userID)
	}
	return &engine.StatusReport{UserID: userID, Status: models.SyncStatusCompleted}, nil
}

func (m *mockEngine) HandleChangeNotification(ctx context.Context, n *models.ChangeNotification) (*models.ChangeOutcome, error) {
	if m.changeFn != nil {
		return m.changeFn(ctx, n)
	}
	return &models.ChangeOutcome{Status: models.ChangeOutcomeIgnored}, nil
}

func (m *mockEngine) ResetView(ctx context.Context, userID string) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, userID)
	}
	return nil
}

func (m *mockEngine) Stats() engine.Snapshot {
	if m.statsFn != nil {
		return m.statsFn()
	}
	return engine.Snapshot{}
}

// newTestRouter builds the full router around a mock engine. A nil cfg
// gets an open CORS policy and no member rate limit.
func newTestRouter(eng Engine, cfg *config.Config) http.Handler {
	if cfg == nil {
		cfg = &config.Config{}
		cfg.API.CORSOrigins = []string{"*"}
	}
	return NewRouter(NewHandler(eng, nil, nil, cfg), cfg.API)
}

func doRequest(router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response body %q: %v", w.Body.String(), err)
	}
	return resp
}

func dataMap(t *testing.T, resp models.APIResponse) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("response data is %T, want object", resp.Data)
	}
	return data
}

func TestInitializeViewReturnsFolder(t *testing.T) {
	folderID := "folder-abc123"
	eng := &mockEngine{
		initializeFn: func(ctx context.Context, userID string) (*models.UserView, error) {
			return &models.UserView{UserID: userID, FolderID: &folderID}, nil
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/views/alto-1", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeResponse(t, w)
	if resp.Status != "success" {
		t.Errorf("expected success status, got %q", resp.Status)
	}
	if got := dataMap(t, resp)["view_id"]; got != folderID {
		t.Errorf("expected view_id %q, got %v", folderID, got)
	}
}

func TestInitializeViewBeforeFirstPass(t *testing.T) {
	// A fresh view has no remote folder yet; the ID is empty until the
	// first pass creates it.
	router := newTestRouter(&mockEngine{}, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/views/tenor-1", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if got := dataMap(t, decodeResponse(t, w))["view_id"]; got != "" {
		t.Errorf("expected empty view_id, got %v", got)
	}
}

func TestInitializeViewUnknownUser(t *testing.T) {
	eng := &mockEngine{
		initializeFn: func(ctx context.Context, userID string) (*models.UserView, error) {
			return nil, engine.ErrUnknownUser
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/views/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != "UNKNOWN_USER" {
		t.Errorf("expected UNKNOWN_USER error, got %+v", resp.Error)
	}
}

func TestTriggerSyncQueuesJob(t *testing.T) {
	jobID := uuid.New()
	var gotFull bool
	eng := &mockEngine{
		triggerFn: func(ctx context.Context, userID string, forceFull bool) (uuid.UUID, error) {
			gotFull = forceFull
			return jobID, nil
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/sync/alto-1", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if gotFull {
		t.Error("expected incremental sync without full param")
	}

	data := dataMap(t, decodeResponse(t, w))
	if data["job_id"] != jobID.String() {
		t.Errorf("expected job_id %s, got %v", jobID, data["job_id"])
	}
	if data["queued"] != true {
		t.Errorf("expected queued true, got %v", data["queued"])
	}
}

func TestTriggerSyncFullFlag(t *testing.T) {
	var gotFull bool
	eng := &mockEngine{
		triggerFn: func(ctx context.Context, userID string, forceFull bool) (uuid.UUID, error) {
			gotFull = forceFull
			return uuid.New(), nil
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/sync/alto-1?full=1", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if !gotFull {
		t.Error("expected full=1 to force a full listing")
	}
}

func TestTriggerSyncBusyConflict(t *testing.T) {
	pending := uuid.New()
	eng := &mockEngine{
		triggerFn: func(ctx context.Context, userID string, forceFull bool) (uuid.UUID, error) {
			return pending, engine.ErrAlreadyQueued
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/sync/alto-1", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != "SYNC_BUSY" {
		t.Fatalf("expected SYNC_BUSY error, got %+v", resp.Error)
	}
	if resp.Error.Details["job_id"] != pending.String() {
		t.Errorf("expected pending job ID in details, got %v", resp.Error.Details)
	}
}

func TestTriggerSyncWithoutView(t *testing.T) {
	eng := &mockEngine{
		triggerFn: func(ctx context.Context, userID string, forceFull bool) (uuid.UUID, error) {
			return uuid.Nil, store.ErrViewNotFound
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/sync/alto-1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND error, got %+v", resp.Error)
	}
}

func TestSyncStatusDocument(t *testing.T) {
	lastSync := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	estimate := 42
	eng := &mockEngine{
		statusFn: func(ctx context.Context, userID string) (*engine.StatusReport, error) {
			return &engine.StatusReport{
				UserID:           userID,
				Status:           models.SyncStatusInProgress,
				ItemCount:        120,
				GroupCount:       30,
				LastSyncedAt:     &lastSync,
				EstimatedSeconds: &estimate,
			}, nil
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/sync/alto-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	data := dataMap(t, decodeResponse(t, w))
	if data["user_id"] != "alto-1" {
		t.Errorf("expected user_id alto-1, got %v", data["user_id"])
	}
	if data["status"] != string(models.SyncStatusInProgress) {
		t.Errorf("expected in-progress status, got %v", data["status"])
	}
	if data["item_count"] != float64(120) {
		t.Errorf("expected item_count 120, got %v", data["item_count"])
	}
	if data["estimated_seconds"] != float64(42) {
		t.Errorf("expected estimate 42, got %v", data["estimated_seconds"])
	}
}

func TestSyncStatusNotFound(t *testing.T) {
	eng := &mockEngine{
		statusFn: func(ctx context.Context, userID string) (*engine.StatusReport, error) {
			return nil, store.ErrViewNotFound
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/sync/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestResetViewAccepted(t *testing.T) {
	var resetUser string
	eng := &mockEngine{
		resetFn: func(ctx context.Context, userID string) error {
			resetUser = userID
			return nil
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/views/alto-1/reset", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if resetUser != "alto-1" {
		t.Errorf("expected reset for alto-1, got %q", resetUser)
	}
}

func TestResetViewWhileRunning(t *testing.T) {
	eng := &mockEngine{
		resetFn: func(ctx context.Context, userID string) error {
			return store.ErrLockConflict
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/views/alto-1/reset", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Error == nil || resp.Error.Code != "SYNC_BUSY" {
		t.Errorf("expected SYNC_BUSY error, got %+v", resp.Error)
	}
}

func TestStatsSnapshot(t *testing.T) {
	eng := &mockEngine{
		statsFn: func() engine.Snapshot {
			return engine.Snapshot{Enqueued: 7, QueueDepth: 2, PassesCompleted: 5}
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	data := dataMap(t, decodeResponse(t, w))
	if data["enqueued"] != float64(7) {
		t.Errorf("expected enqueued 7, got %v", data["enqueued"])
	}
	if data["queue_depth"] != float64(2) {
		t.Errorf("expected queue_depth 2, got %v", data["queue_depth"])
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	eng := &mockEngine{
		statusFn: func(ctx context.Context, userID string) (*engine.StatusReport, error) {
			return nil, io.ErrUnexpectedEOF
		},
	}
	router := newTestRouter(eng, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/sync/alto-1", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}

	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("expected INTERNAL_ERROR, got %+v", resp.Error)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("unexpected EOF")) {
		t.Error("internal error detail leaked into the response body")
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	router := newTestRouter(&mockEngine{}, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/nonsense", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestViewEndpointRejectsGet(t *testing.T) {
	router := newTestRouter(&mockEngine{}, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/views/alto-1", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

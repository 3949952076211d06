// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package api

import (
	"net/http"
	"testing"

	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/store"
)

func TestHealthLive(t *testing.T) {
	router := newTestRouter(&mockEngine{}, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/health/live", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	data := dataMap(t, decodeResponse(t, w))
	if data["alive"] != true {
		t.Errorf("expected alive true, got %v", data["alive"])
	}
	if _, ok := data["uptime_seconds"]; !ok {
		t.Error("missing uptime_seconds")
	}
}

func TestHealthReadyWithStore(t *testing.T) {
	st, err := store.Open(store.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	cfg := &config.Config{}
	cfg.API.CORSOrigins = []string{"*"}
	router := NewRouter(NewHandler(&mockEngine{}, nil, st, cfg), cfg.API)

	w := doRequest(router, http.MethodGet, "/api/v1/health/ready", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeResponse(t, w)
	if resp.Status != "ready" {
		t.Errorf("expected ready status, got %q", resp.Status)
	}
	data := dataMap(t, resp)
	if data["store_connected"] != true || data["engine_running"] != true {
		t.Errorf("expected both checks green, got %v", data)
	}
}

func TestHealthReadyWithoutStore(t *testing.T) {
	// Handler wired without a store reports not ready so the
	// orchestrator holds traffic.
	router := newTestRouter(&mockEngine{}, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/health/ready", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	resp := decodeResponse(t, w)
	if resp.Status != "not_ready" {
		t.Errorf("expected not_ready, got %q", resp.Status)
	}
	if data := dataMap(t, resp); data["store_connected"] != false {
		t.Errorf("expected store_connected false, got %v", data["store_connected"])
	}
}

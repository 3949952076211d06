// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bandworks/chartsync/internal/config"
)

// NewRouter assembles the full HTTP surface around the handler set.
//
// Middleware layers, outermost first: request ID, real client IP,
// request logging, panic recovery, CORS. Inside /api/v1 every route
// additionally gets security headers and Prometheus instrumentation,
// then a per-group rate limit: permissive for health probes, the
// configured member budget for the view and sync endpoints, and a
// wider budget for the provider webhook, which bursts on bulk renames.
func NewRouter(h *Handler, cfg config.APIConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger())
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SecurityHeaders())
		r.Use(RequestMetrics())

		r.Route("/health", func(r chi.Router) {
			r.Use(RateLimitCustom(RateLimitHealth))
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})

		r.Group(func(r chi.Router) {
			// A non-positive configured budget disables the limiter;
			// tests rely on that.
			if cfg.RateLimitReqs > 0 && cfg.RateLimitWindow > 0 {
				r.Use(RateLimit(cfg.RateLimitReqs, cfg.RateLimitWindow))
			}

			r.Post("/views/{userID}", h.InitializeView)
			r.Post("/views/{userID}/reset", h.ResetView)
			r.Post("/sync/{userID}", h.TriggerSync)
			r.Get("/sync/{userID}", h.SyncStatus)
			r.Get("/stats", h.Stats)
		})

		r.Group(func(r chi.Router) {
			r.Use(RateLimitCustom(RateLimitNotifications))
			r.Post("/notifications/storage", h.StorageNotification)
		})
	})

	r.With(RateLimitCustom(RateLimitWebSocket)).Get("/ws", h.WebSocket)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

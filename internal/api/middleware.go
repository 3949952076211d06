// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package api

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/metrics"
)

// RateLimitConfig is a per-route-group request budget.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Route-group budgets. The member API group uses the configured limit;
// these cover the groups with different traffic shapes.
var (
	// RateLimitHealth is permissive: orchestrators probe aggressively.
	RateLimitHealth = RateLimitConfig{Requests: 1000, Window: time.Minute}

	// RateLimitNotifications bounds the provider webhook. Burst renames
	// fan out many notifications, so this sits well above the member API
	// default.
	RateLimitNotifications = RateLimitConfig{Requests: 300, Window: time.Minute}

	// RateLimitWebSocket bounds upgrade attempts, not established
	// connections.
	RateLimitWebSocket = RateLimitConfig{Requests: 30, Window: time.Minute}
)

// CORS builds the cross-origin middleware from the configured origin
// list. An empty list denies all cross-origin browser calls, which is
// the safe default for a control API.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})
}

// RateLimit applies the configured per-IP budget for the member API.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)
}

// RateLimitCustom applies a named route-group budget per IP.
func RateLimitCustom(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.LimitByIP(cfg.Requests, cfg.Window)
}

// SecurityHeaders sets the standard hardening headers on API responses.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// statusResponseWriter captures the status code for metrics and request
// logging. Handlers that never call WriteHeader implicitly send 200.
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the wrapped writer so websocket upgrades work
// behind the logging and metrics middleware.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

// RequestMetrics records method, route and status into the Prometheus
// counters. The chi route pattern keeps label cardinality bounded: every
// member hits the same "/api/v1/sync/{userID}" series.
func RequestMetrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					endpoint = pattern
				}
			}

			metrics.RecordAPIRequest(
				r.Method,
				endpoint,
				strconv.Itoa(wrapper.statusCode),
				time.Since(start),
			)
		})
	}
}

// RequestLogger emits one structured line per completed request. Routine
// traffic logs at debug; error statuses are promoted to warn so they
// surface at the default level.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			evt := logging.Debug()
			if wrapper.statusCode >= http.StatusInternalServerError {
				evt = logging.Error()
			} else if wrapper.statusCode >= http.StatusBadRequest {
				evt = logging.Warn()
			}
			evt.Str("method", r.Method).
				Str("path", sanitizeLogValue(r.URL.Path)).
				Int("status", wrapper.statusCode).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

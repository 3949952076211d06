// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/metrics"
	"github.com/bandworks/chartsync/internal/ratelimit"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024 // 64KB

// breakerName labels the shared remote circuit breaker in logs and metrics.
const breakerName = "remote-storage"

// readBodyForError reads the response body for error reporting (max 64KB).
// Returns the body content or a placeholder message if reading fails.
func readBodyForError(r io.Reader) string {
	limitedReader := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return "(failed to read response body)"
	}
	if len(body) == maxErrorBodySize {
		return string(body) + "\n... (truncated)"
	}
	return string(body)
}

// Client executes remote storage HTTP requests with the full resilience
// stack: shared rate limiter, exponential backoff retries, and a circuit
// breaker so a dead provider fails fast instead of burning retry budget.
//
// Outcome handling:
//   - 2xx: success, response returned with its body open
//   - 429: retried; Retry-After honoured when present
//   - 5xx and transport errors: retried with exponential backoff
//   - 401/403: CredentialError, never retried
//   - other 4xx: RejectedError, never retried
//
// Thread Safety: safe for concurrent use.
type Client struct {
	creds   CredentialProvider
	http    *http.Client
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker[*http.Response]
	retry   config.RetryConfig

	mu           sync.Mutex
	requests     uint64
	throttleHits uint64
	hardErrors   uint64
}

// Stats is a point-in-time snapshot of client activity.
type Stats struct {
	Requests     uint64 `json:"requests"`
	ThrottleHits uint64 `json:"throttle_hits"`
	HardErrors   uint64 `json:"hard_errors"`
}

// NewClient builds a remote client from configuration. The rate limiter is
// shared with every other remote caller so the provider sees one combined
// request rate.
func NewClient(cfg *config.RemoteConfig, creds CredentialProvider, limiter *ratelimit.Limiter) *Client {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,               // Allow 3 probe requests in half-open state
		Interval:    time.Minute,     // Reset counts after 1 minute in closed state
		Timeout:     2 * time.Minute, // Wait 2 minutes before transitioning from open to half-open

		// Opens when failure rate >= 60% with minimum 10 requests.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},

		// Rejections and credential failures mean the provider answered;
		// only transient failures count against its health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var trans *TransientError
			return !errors.As(err, &trans)
		},
	})

	return &Client{
		creds: creds,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		breaker: cb,
		retry:   cfg.Retry,
	}
}

// do executes one logical request, retrying transient failures until the
// attempt budget or the backoff schedule's elapsed-time cap runs out. On
// success the response is returned with its body open; the caller owns
// closing it.
func (c *Client) do(ctx context.Context, operation, method, rawURL string, body []byte) (*http.Response, error) {
	bo := c.newBackOff()

	var last *TransientError
	attempts := 0

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		token, err := c.creds.Token(ctx)
		if err != nil {
			var cred *CredentialError
			if !errors.As(err, &cred) {
				cred = &CredentialError{Detail: err.Error()}
			}
			c.countHardError()
			metrics.RecordRemoteRequest(operation, "credential", 0)
			return nil, cred
		}

		start := time.Now()
		resp, err := c.attempt(ctx, method, rawURL, token, body)
		elapsed := time.Since(start)
		c.countRequest()
		attempts = attempt

		if err == nil {
			metrics.RecordRemoteRequest(operation, "success", elapsed)
			return resp, nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// The breaker already knows the provider is unhealthy; more
			// attempts would only stack failures onto its window.
			c.countHardError()
			metrics.RecordRemoteRequest(operation, "retryable", elapsed)
			return nil, &TransientError{Detail: "circuit breaker open: " + err.Error(), Attempts: attempt}
		}

		var cred *CredentialError
		if errors.As(err, &cred) {
			c.countHardError()
			metrics.RecordRemoteRequest(operation, "credential", elapsed)
			return nil, cred
		}

		var rej *RejectedError
		if errors.As(err, &rej) {
			c.countHardError()
			metrics.RecordRemoteRequest(operation, "rejected", elapsed)
			return nil, rej
		}

		var trans *TransientError
		if !errors.As(err, &trans) {
			// Request construction failure, not a remote outcome.
			return nil, err
		}

		metrics.RecordRemoteRequest(operation, "retryable", elapsed)
		if trans.IsThrottle() {
			c.countThrottle()
			metrics.RecordThrottle()
		}
		last = trans

		if attempt == c.retry.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		if trans.RetryAfter > 0 {
			delay = trans.RetryAfter
		}

		metrics.RecordRetry()
		logging.Debug().
			Str("operation", operation).
			Int("attempt", attempt).
			Int("status", trans.Status).
			Dur("delay", delay).
			Msg("Retrying remote request")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.countHardError()
	last.Attempts = attempts
	return nil, last
}

// attempt runs one HTTP exchange through the circuit breaker and maps the
// outcome onto the package error taxonomy.
func (c *Client) attempt(ctx context.Context, method, rawURL, token string, body []byte) (*http.Response, error) {
	return c.breaker.Execute(func() (*http.Response, error) {
		var rdr io.Reader = http.NoBody
		if len(body) > 0 {
			rdr = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &TransientError{Detail: err.Error()}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		detail := readBodyForError(resp.Body)
		retryAfter := resp.Header.Get("Retry-After")
		_ = resp.Body.Close() // Explicitly ignore error - response already consumed

		return nil, classifyStatus(resp.StatusCode, detail, retryAfter)
	})
}

// doJSON executes a request and decodes the JSON response into out. A nil
// out drains and discards the body, for endpoints that return no payload.
func (c *Client) doJSON(ctx context.Context, operation, method, rawURL string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", operation, err)
		}
	}

	resp, err := c.do(ctx, operation, method, rawURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

// doBytes executes a request and returns the raw response body.
func (c *Client) doBytes(ctx context.Context, operation, method, rawURL string) ([]byte, error) {
	resp, err := c.do(ctx, operation, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", operation, err)
	}
	return data, nil
}

// newBackOff builds a per-call retry schedule. Each logical request gets a
// fresh schedule so one slow endpoint cannot exhaust another's budget.
func (c *Client) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.BaseDelay
	bo.Multiplier = c.retry.Multiplier
	bo.MaxElapsedTime = c.retry.MaxElapsed
	if !c.retry.Jitter {
		bo.RandomizationFactor = 0
	}
	bo.Reset()
	return bo
}

// Stats returns a snapshot of client activity for the engine snapshot.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Requests:     c.requests,
		ThrottleHits: c.throttleHits,
		HardErrors:   c.hardErrors,
	}
}

func (c *Client) countRequest() {
	c.mu.Lock()
	c.requests++
	c.mu.Unlock()
}

func (c *Client) countThrottle() {
	c.mu.Lock()
	c.throttleHits++
	c.mu.Unlock()
}

func (c *Client) countHardError() {
	c.mu.Lock()
	c.hardErrors++
	c.mu.Unlock()
}

// stateToFloat converts circuit breaker state to a numeric value for metrics.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to a string for logging.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

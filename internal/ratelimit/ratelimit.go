// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package ratelimit provides the client-side token bucket that paces every
// outbound call to the remote storage API. A single Limiter is shared by all
// sync workers so that concurrent passes never exceed the provider quota.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bandworks/chartsync/internal/metrics"
)

// Limiter wraps a token bucket refilled at the configured request rate.
// The bucket size equals the rate, so a full bucket allows a one-second
// burst and sustained traffic converges on the configured rate.
type Limiter struct {
	bucket *rate.Limiter

	mu        sync.Mutex
	acquired  uint64
	waited    uint64
	totalWait time.Duration
	maxWait   time.Duration
}

// Stats is a point-in-time snapshot of limiter activity.
type Stats struct {
	Acquired    uint64  `json:"acquired"`
	Waited      uint64  `json:"waited"`
	TotalWaitMS int64   `json:"total_wait_ms"`
	MaxWaitMS   int64   `json:"max_wait_ms"`
	Rate        float64 `json:"rate"`
	Burst       int     `json:"burst"`
}

// New creates a limiter allowing perSecond sustained requests. Rates below
// one request per second still get a bucket size of one.
func New(perSecond float64) *Limiter {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Acquire blocks until a token is available or the context is done.
// Returns the context error on cancellation; the token is not consumed.
func (l *Limiter) Acquire(ctx context.Context) error {
	// Fast path: token available without blocking.
	if l.bucket.Allow() {
		l.mu.Lock()
		l.acquired++
		l.mu.Unlock()
		return nil
	}

	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}
	wait := time.Since(start)

	l.mu.Lock()
	l.acquired++
	l.waited++
	l.totalWait += wait
	if wait > l.maxWait {
		l.maxWait = wait
	}
	l.mu.Unlock()

	metrics.RecordRateLimitWait(wait)
	return nil
}

// Stats returns a snapshot of limiter activity since process start.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Acquired:    l.acquired,
		Waited:      l.waited,
		TotalWaitMS: l.totalWait.Milliseconds(),
		MaxWaitMS:   l.maxWait.Milliseconds(),
		Rate:        float64(l.bucket.Limit()),
		Burst:       l.bucket.Burst(),
	}
}

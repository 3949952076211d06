// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package remote

import (
	"fmt"
	"net/http"
	"time"
)

// CredentialError reports an authentication or authorization failure:
// HTTP 401/403, or a credential provider that could not supply a token.
// Credential errors are never retried; they are fatal to the pass that
// triggered the call but leave the previous view intact.
type CredentialError struct {
	Status int
	Detail string
}

func (e *CredentialError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote credential rejected (HTTP %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("remote credential unavailable: %s", e.Detail)
}

// TransientError reports a retryable remote failure: HTTP 429, any 5xx, a
// transport error, or an open circuit breaker. The client retries these
// internally; callers only see a TransientError once the retry budget is
// exhausted (Attempts carries how many were made).
type TransientError struct {
	Status   int
	Detail   string
	Attempts int

	// RetryAfter is the provider-requested delay from a 429 response,
	// zero when the provider sent none.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	msg := e.Detail
	if e.Status != 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.Status, e.Detail)
	}
	if e.Attempts > 0 {
		return fmt.Sprintf("remote unavailable after %d attempts: %s", e.Attempts, msg)
	}
	return fmt.Sprintf("remote unavailable: %s", msg)
}

// IsThrottle reports whether the failure was a provider rate limit.
func (e *TransientError) IsThrottle() bool {
	return e.Status == http.StatusTooManyRequests
}

// RejectedError reports a non-retryable remote rejection: any 4xx other
// than 429 and the credential statuses. Retrying would produce the same
// answer, so the client fails immediately.
type RejectedError struct {
	Status int
	Detail string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote rejected request (HTTP %d): %s", e.Status, e.Detail)
}

// classifyStatus maps a non-2xx response to the package error taxonomy.
// retryAfter is the raw Retry-After header value, parsed as whole seconds
// when present (RFC 6585).
func classifyStatus(status int, detail, retryAfter string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &CredentialError{Status: status, Detail: detail}
	case status == http.StatusTooManyRequests:
		te := &TransientError{Status: status, Detail: detail}
		if retryAfter != "" {
			if d, err := time.ParseDuration(retryAfter + "s"); err == nil && d >= 0 {
				te.RetryAfter = d
			}
		}
		return te
	case status >= 500:
		return &TransientError{Status: status, Detail: detail}
	default:
		return &RejectedError{Status: status, Detail: detail}
	}
}

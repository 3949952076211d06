// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/validation"
)

// sanitizeLogValue strips control characters from user-supplied strings
// before they reach the log stream, preventing log injection. Printable
// characters pass through untouched.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			b.WriteString(fmt.Sprintf("\\x%02x", r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// respondJSON writes the response envelope. Everything the API serves is
// live operational state, so responses are marked non-cacheable.
func respondJSON(w http.ResponseWriter, statusCode int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal API response")
		http.Error(w, `{"status":"error","error":{"code":"INTERNAL_ERROR","message":"response encoding failed"}}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write API response")
	}
}

// respondSuccess wraps data in a success envelope.
func respondSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	respondJSON(w, statusCode, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// respondError logs the failure and writes an error envelope. err may be
// nil when the condition has no underlying error worth logging.
func respondError(w http.ResponseWriter, statusCode int, code, message string, err error) {
	evt := logging.Warn()
	if statusCode >= http.StatusInternalServerError {
		evt = logging.Error()
	}
	evt.Err(err).
		Int("status", statusCode).
		Str("code", sanitizeLogValue(code)).
		Msg("API request failed")

	respondErrorPayload(w, statusCode, &models.APIError{Code: code, Message: message})
}

// respondErrorDetails is respondError with a structured detail map, used
// where the client needs machine-readable context (e.g. the pending job
// ID on a busy conflict).
func respondErrorDetails(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	logging.Warn().
		Int("status", statusCode).
		Str("code", sanitizeLogValue(code)).
		Msg("API request failed")

	respondErrorPayload(w, statusCode, &models.APIError{Code: code, Message: message, Details: details})
}

// respondValidationError translates validator output into the envelope.
func respondValidationError(w http.ResponseWriter, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	respondErrorPayload(w, http.StatusBadRequest, &models.APIError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	})
}

func respondErrorPayload(w http.ResponseWriter, statusCode int, apiErr *models.APIError) {
	respondJSON(w, statusCode, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    apiErr,
	})
}

// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/metrics"
	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/validation"
)

// signatureHeader carries the hex HMAC-SHA256 of the request body,
// computed by the storage provider with the shared channel secret.
const signatureHeader = "X-Watch-Signature"

// maxNotificationBytes bounds the webhook body. Real notifications are a
// few hundred bytes.
const maxNotificationBytes = 64 * 1024

// StorageNotification handles POST /api/v1/notifications/storage, the
// change webhook from the storage provider.
//
// When a webhook secret is configured the body signature is verified
// before anything is parsed; failures answer 401 and are counted. A
// processed payload always answers 200, whatever the outcome, so the
// provider does not re-deliver notifications we have already classified.
// Only a store-side failure returns 500, and re-delivery is then the
// correct recovery.
func (h *Handler) StorageNotification(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxNotificationBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "failed to read notification body", err)
		return
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close notification body")
		}
	}()

	if secret := h.cfg.Webhook.Secret; secret != "" {
		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			metrics.WebhookSignatureFailures.Inc()
			logging.Warn().Msg("Change notification rejected: missing signature")
			respondError(w, http.StatusUnauthorized, "SIGNATURE_INVALID", "notification signature required", nil)
			return
		}
		if !verifySignature(body, signature, secret) {
			metrics.WebhookSignatureFailures.Inc()
			logging.Warn().Msg("Change notification rejected: signature mismatch")
			respondError(w, http.StatusUnauthorized, "SIGNATURE_INVALID", "notification signature mismatch", nil)
			return
		}
	}

	var notification models.ChangeNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "notification body is not valid JSON", err)
		return
	}
	if verr := validation.ValidateStruct(&notification); verr != nil {
		respondValidationError(w, verr)
		return
	}

	outcome, err := h.engine.HandleChangeNotification(r.Context(), &notification)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "notification processing failed", err)
		return
	}

	logging.Debug().
		Str("channel_id", sanitizeLogValue(notification.ChannelID)).
		Str("state", sanitizeLogValue(notification.State)).
		Str("outcome", outcome.Status).
		Int("affected_users", len(outcome.AffectedUsers)).
		Msg("Change notification processed")

	respondSuccess(w, http.StatusOK, outcome)
}

// verifySignature checks the hex HMAC-SHA256 of body against the shared
// secret in constant time.
func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/metrics"
	"github.com/bandworks/chartsync/internal/models"
)

// SweepStale reclaims in-progress passes that exceeded the stale timeout
// and releases previously reclaimed views back to pending. Marking and
// resetting happen on different sweep rounds, so a stale view stays
// operator-visible for one sweep interval. Returns the number of views
// newly marked stale.
func (s *Synchronizer) SweepStale(ctx context.Context) (int, error) {
	views, err := s.store.ListViews(ctx)
	if err != nil {
		return 0, fmt.Errorf("list views for sweep: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.cfg.StaleTimeout)
	marked := 0

	for _, view := range views {
		switch view.Status {
		case models.SyncStatusInProgress:
			ok, err := s.store.MarkStaleIfExpired(ctx, view.UserID, cutoff)
			if err != nil {
				logging.Error().Err(err).Str("user_id", view.UserID).Msg("Failed to reclaim stale view")
				continue
			}
			if ok {
				marked++
				metrics.SyncStaleReclaimed.Inc()
				logging.Warn().
					Str("user_id", view.UserID).
					Time("running_since", view.UpdatedAt).
					Dur("stale_timeout", s.cfg.StaleTimeout).
					Msg("Reclaimed stale sync pass")
			}
		case models.SyncStatusStale:
			ok, err := s.store.ResetStale(ctx, view.UserID, staleResetReason)
			if err != nil {
				logging.Error().Err(err).Str("user_id", view.UserID).Msg("Failed to reset stale view")
				continue
			}
			if ok {
				logging.Info().Str("user_id", view.UserID).Msg("Stale view reset to pending")
			}
		}
	}

	if err := s.closeAbandonedOperations(ctx, cutoff); err != nil {
		logging.Error().Err(err).Msg("Failed to close abandoned operation records")
	}

	return marked, nil
}

// closeAbandonedOperations closes audit records left open past the cutoff,
// normally by passes the sweep reclaimed. The record keeps its counts; only
// the status and detail change.
func (s *Synchronizer) closeAbandonedOperations(ctx context.Context, cutoff time.Time) error {
	open, err := s.store.ListOpenOperations(ctx)
	if err != nil {
		return err
	}

	for i := range open {
		op := &open[i]
		if !op.StartedAt.Before(cutoff) {
			continue
		}
		op.Close(models.SyncStatusStale, staleResetReason)
		s.putOp(ctx, op)
		logging.Warn().
			Str("operation_id", op.ID.String()).
			Str("subject", op.Subject).
			Time("started_at", op.StartedAt).
			Msg("Closed abandoned operation record")
	}
	return nil
}

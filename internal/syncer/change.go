// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/metrics"
	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/store"
)

// ResolveChange maps an inbound change notification to the member views it
// affects without running anything. Handshake and unknown states are
// ignored; an unknown channel or a watched folder no view derives from is
// a no-targets outcome. The returned channel is non-nil only when the
// outcome is triggered. Each call records the outcome metric, so it should
// run once per received notification.
func (s *Synchronizer) ResolveChange(ctx context.Context, n *models.ChangeNotification) (*models.ChangeOutcome, *models.WatchChannel, error) {
	return s.resolveChange(ctx, n, true)
}

func (s *Synchronizer) resolveChange(ctx context.Context, n *models.ChangeNotification, record bool) (*models.ChangeOutcome, *models.WatchChannel, error) {
	recordOutcome := func(outcome string) {
		if record {
			metrics.RecordWebhookNotification(outcome)
		}
	}

	if !models.IsActionableChangeState(n.State) {
		recordOutcome(models.ChangeOutcomeIgnored)
		logging.Debug().
			Str("channel_id", n.ChannelID).
			Str("state", n.State).
			Msg("Ignoring change notification state")
		return &models.ChangeOutcome{Status: models.ChangeOutcomeIgnored}, nil, nil
	}

	channel, err := s.store.GetChannel(ctx, n.ChannelID)
	if errors.Is(err, store.ErrChannelNotFound) {
		recordOutcome(models.ChangeOutcomeNoTargets)
		logging.Warn().
			Str("channel_id", n.ChannelID).
			Str("resource_id", n.ResourceID).
			Msg("Change notification for unknown channel")
		return &models.ChangeOutcome{Status: models.ChangeOutcomeNoTargets}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve channel: %w", err)
	}

	users, err := s.usersForFolder(ctx, channel.FolderID)
	if err != nil {
		return nil, nil, err
	}
	if len(users) == 0 {
		recordOutcome(models.ChangeOutcomeNoTargets)
		logging.Debug().
			Str("channel_id", n.ChannelID).
			Str("folder_id", channel.FolderID).
			Msg("Watched folder has no derived views")
		return &models.ChangeOutcome{Status: models.ChangeOutcomeNoTargets}, nil, nil
	}

	recordOutcome(models.ChangeOutcomeTriggered)
	logging.Info().
		Str("channel_id", n.ChannelID).
		Str("folder_id", channel.FolderID).
		Str("state", n.State).
		Int("affected_users", len(users)).
		Msg("Change notification triggers reconciliation")

	return &models.ChangeOutcome{Status: models.ChangeOutcomeTriggered, AffectedUsers: users}, channel, nil
}

// DetectChange resolves a notification and, when it targets any views,
// runs the restricted batch. The affected set is computed at run time, not
// at enqueue time, so views created or removed while the event sat in the
// queue are handled; the outcome metric was already recorded when the
// notification was received. The batch result is nil unless a batch ran.
func (s *Synchronizer) DetectChange(ctx context.Context, n *models.ChangeNotification) (*models.ChangeOutcome, *BatchResult, error) {
	outcome, channel, err := s.resolveChange(ctx, n, false)
	if err != nil || outcome.Status != models.ChangeOutcomeTriggered {
		return outcome, nil, err
	}

	_, since := s.resolveWindow(ctx, outcome.AffectedUsers, false)
	batch, err := s.run(ctx, channel.FolderID, outcome.AffectedUsers, models.SyncKindWebhook, since)
	if err != nil {
		return outcome, batch, err
	}
	return outcome, batch, nil
}

// usersForFolder lists the members whose views derive from folderID,
// sorted for deterministic batches.
func (s *Synchronizer) usersForFolder(ctx context.Context, folderID string) ([]string, error) {
	views, err := s.store.ListViews(ctx)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}

	var users []string
	for _, v := range views {
		if v.SourceFolderID == folderID {
			users = append(users, v.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

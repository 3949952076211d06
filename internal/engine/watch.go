// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/models"
)

func (e *Engine) watchEnabled() bool {
	return e.channels != nil && e.cfg.Webhook.Enabled && e.cfg.Webhook.CallbackURL != ""
}

// renewLoop keeps watch channels alive. It checks several times per
// renewal margin so a failed attempt gets retried before the channel
// lapses.
func (e *Engine) renewLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	interval := e.cfg.Webhook.RenewMargin / 4
	if interval <= 0 || interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.renewChannels(ctx); err != nil {
				logging.Error().Err(err).Msg("Watch channel renewal failed")
			}
		}
	}
}

// renewChannels replaces stored channels nearing expiry and registers the
// source folder when nothing watches it.
func (e *Engine) renewChannels(ctx context.Context) error {
	channels, err := e.store.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("list watch channels: %w", err)
	}

	margin := e.cfg.Webhook.RenewMargin
	covered := false
	for i := range channels {
		ch := channels[i]
		if !ch.ExpiresWithin(margin) {
			if ch.FolderID == e.cfg.Sync.SourceFolderID {
				covered = true
			}
			continue
		}
		if e.replaceChannel(ctx, &ch) && ch.FolderID == e.cfg.Sync.SourceFolderID {
			covered = true
		}
	}

	if !covered {
		return e.registerChannel(ctx, e.cfg.Sync.SourceFolderID)
	}
	return nil
}

// registerChannel opens and persists a watch channel on a folder.
func (e *Engine) registerChannel(ctx context.Context, folderID string) error {
	ch, err := e.channels.RegisterWebhook(ctx, folderID, e.cfg.Webhook.CallbackURL, e.cfg.Webhook.Secret)
	if err != nil {
		return fmt.Errorf("register watch channel: %w", err)
	}
	if err := e.store.PutChannel(ctx, ch); err != nil {
		return fmt.Errorf("persist watch channel: %w", err)
	}

	logging.Info().
		Str("folder_id", folderID).
		Str("channel_id", ch.ChannelID).
		Time("expiry", ch.Expiry).
		Msg("Watch channel registered")
	return nil
}

// replaceChannel registers the successor before stopping the old channel
// so notifications keep flowing across the swap.
func (e *Engine) replaceChannel(ctx context.Context, old *models.WatchChannel) bool {
	fresh, err := e.channels.RegisterWebhook(ctx, old.FolderID, e.cfg.Webhook.CallbackURL, e.cfg.Webhook.Secret)
	if err != nil {
		logging.Error().
			Err(err).
			Str("channel_id", old.ChannelID).
			Str("folder_id", old.FolderID).
			Msg("Failed to renew watch channel")
		return false
	}
	if err := e.store.PutChannel(ctx, fresh); err != nil {
		logging.Error().
			Err(err).
			Str("channel_id", fresh.ChannelID).
			Msg("Failed to persist renewed watch channel")
		return false
	}

	if err := e.channels.UnregisterWebhook(ctx, old.ChannelID, old.ResourceID); err != nil {
		logging.Warn().Err(err).Str("channel_id", old.ChannelID).Msg("Failed to stop replaced watch channel")
	}
	if err := e.store.DeleteChannel(ctx, old.ChannelID); err != nil {
		logging.Warn().Err(err).Str("channel_id", old.ChannelID).Msg("Failed to drop replaced watch channel record")
	}

	logging.Info().
		Str("folder_id", old.FolderID).
		Str("channel_id", fresh.ChannelID).
		Time("expiry", fresh.Expiry).
		Msg("Watch channel renewed")
	return true
}

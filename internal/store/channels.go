// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/bandworks/chartsync/internal/models"
)

// PutChannel upserts a watch channel registration. Registrations survive
// restarts so inbound notifications can be resolved to their folder without
// re-registering on every boot.
func (s *Store) PutChannel(ctx context.Context, ch *models.WatchChannel) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal channel: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(channelKeyPrefix+ch.ChannelID), data)
	})
}

// GetChannel retrieves a watch channel by its ID.
func (s *Store) GetChannel(ctx context.Context, channelID string) (*models.WatchChannel, error) {
	var ch models.WatchChannel

	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, channelKeyPrefix+channelID, &ch, ErrChannelNotFound)
	})
	if err != nil {
		return nil, err
	}

	return &ch, nil
}

// ListChannels returns every persisted watch channel.
func (s *Store) ListChannels(ctx context.Context) ([]models.WatchChannel, error) {
	var channels []models.WatchChannel

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(channelKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ch models.WatchChannel
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ch)
			})
			if err != nil {
				return fmt.Errorf("unmarshal channel %s: %w", it.Item().Key(), err)
			}
			channels = append(channels, ch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return channels, nil
}

// DeleteChannel removes a watch channel registration. Deleting a channel
// that does not exist is not an error.
func (s *Store) DeleteChannel(ctx context.Context, channelID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(channelKeyPrefix + channelID))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete channel: %w", err)
		}
		return nil
	})
}

// SetLastSync records when a scope (a user ID or models.SubjectGlobal) last
// completed a successful pass. Incremental passes use this as their change
// window start.
func (s *Store) SetLastSync(ctx context.Context, scope string, t time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		val := t.UTC().Format(time.RFC3339Nano)
		return txn.Set([]byte(lastSyncKeyPrefix+scope), []byte(val))
	})
}

// DeleteLastSync removes a scope's sync mark, forcing the next pass for
// that scope to fetch the full listing. Called when a view is reset.
func (s *Store) DeleteLastSync(ctx context.Context, scope string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(lastSyncKeyPrefix + scope))
	})
}

// GetLastSync returns a scope's last successful sync time. The boolean is
// false when the scope has never completed a pass.
func (s *Store) GetLastSync(ctx context.Context, scope string) (time.Time, bool, error) {
	var raw string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastSyncKeyPrefix + scope))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get last sync: %w", err)
		}
		return item.Value(func(val []byte) error {
			raw = string(val)
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if raw == "" {
		return time.Time{}, false, nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last sync mark: %w", err)
	}

	return t, true, nil
}

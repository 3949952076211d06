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

// PutView unconditionally upserts a view record. Used for initialization
// and administrative resets; passes go through AcquireView and
// UpdateViewIfCurrent instead so the lock and fence hold.
func (s *Store) PutView(ctx context.Context, view *models.UserView) error {
	view.UpdatedAt = nowUTC()

	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal view: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(viewKeyPrefix+view.UserID), data)
	})
}

// GetView retrieves the view for a user.
func (s *Store) GetView(ctx context.Context, userID string) (*models.UserView, error) {
	var view models.UserView

	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, viewKeyPrefix+userID, &view, ErrViewNotFound)
	})
	if err != nil {
		return nil, err
	}

	return &view, nil
}

// ListViews returns every view record, ordered by user ID.
func (s *Store) ListViews(ctx context.Context) ([]models.UserView, error) {
	var views []models.UserView

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(viewKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var view models.UserView
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &view)
			})
			if err != nil {
				return fmt.Errorf("unmarshal view %s: %w", it.Item().Key(), err)
			}
			views = append(views, view)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return views, nil
}

// AcquireView claims the view for a sync pass: a compare-and-swap from any
// non-running status to in-progress that also increments the generation.
// Returns ErrLockConflict when another pass already holds the view, and
// ErrViewNotFound when the view was never initialized. On success the
// returned copy carries the generation the pass must present on completion.
func (s *Store) AcquireView(ctx context.Context, userID string) (*models.UserView, error) {
	var acquired models.UserView

	err := s.update(func(txn *badger.Txn) error {
		var view models.UserView
		if err := getJSON(txn, viewKeyPrefix+userID, &view, ErrViewNotFound); err != nil {
			return err
		}

		if view.Status.IsRunning() {
			return ErrLockConflict
		}

		view.Status = models.SyncStatusInProgress
		view.Generation++
		view.UpdatedAt = nowUTC()

		if err := setJSON(txn, viewKeyPrefix+userID, &view); err != nil {
			return err
		}
		acquired = view
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &acquired, nil
}

// UpdateViewIfCurrent applies mutate to the stored view iff its generation
// still equals gen, all inside one transaction. A reclaimed (fenced) pass
// gets ErrGenerationMismatch and must discard its result; the stored record
// is left untouched in that case.
func (s *Store) UpdateViewIfCurrent(ctx context.Context, userID string, gen uint64, mutate func(*models.UserView)) (*models.UserView, error) {
	var updated models.UserView

	err := s.update(func(txn *badger.Txn) error {
		var view models.UserView
		if err := getJSON(txn, viewKeyPrefix+userID, &view, ErrViewNotFound); err != nil {
			return err
		}

		if view.Generation != gen {
			return ErrGenerationMismatch
		}

		mutate(&view)
		view.UpdatedAt = nowUTC()

		if err := setJSON(txn, viewKeyPrefix+userID, &view); err != nil {
			return err
		}
		updated = view
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// MarkStaleIfExpired reclaims an in-progress view whose pass has been
// running since before cutoff: status becomes stale and the generation is
// incremented so the still-running pass is fenced out of its terminal
// write. Returns false when the view is not in-progress or is fresh.
func (s *Store) MarkStaleIfExpired(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	marked := false

	err := s.update(func(txn *badger.Txn) error {
		var view models.UserView
		if err := getJSON(txn, viewKeyPrefix+userID, &view, ErrViewNotFound); err != nil {
			return err
		}

		if !view.Status.IsRunning() || !view.UpdatedAt.Before(cutoff) {
			return nil
		}

		view.Status = models.SyncStatusStale
		view.Generation++
		view.UpdatedAt = nowUTC()
		marked = true

		return setJSON(txn, viewKeyPrefix+userID, &view)
	})
	if err != nil {
		return false, err
	}

	return marked, nil
}

// ResetStale moves a stale view back to pending with an explanatory error
// so operators can tell an interrupted pass from a genuinely failed one.
// Returns false when the view is not stale.
func (s *Store) ResetStale(ctx context.Context, userID, reason string) (bool, error) {
	reset := false

	err := s.update(func(txn *badger.Txn) error {
		var view models.UserView
		if err := getJSON(txn, viewKeyPrefix+userID, &view, ErrViewNotFound); err != nil {
			return err
		}

		if view.Status != models.SyncStatusStale {
			return nil
		}

		view.Status = models.SyncStatusPending
		view.LastError = &reason
		view.UpdatedAt = nowUTC()
		reset = true

		return setJSON(txn, viewKeyPrefix+userID, &view)
	})
	if err != nil {
		return false, err
	}

	return reset, nil
}

// getJSON reads and unmarshals one key inside txn, mapping a missing key
// to the package sentinel.
func getJSON(txn *badger.Txn, key string, out interface{}, notFound error) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// setJSON marshals and writes one key inside txn.
func setJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

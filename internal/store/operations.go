// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/bandworks/chartsync/internal/models"
)

// opSubjectKey builds the subject index key. Nanosecond start times are
// zero-padded so lexicographic key order matches chronological order.
func opSubjectKey(op *models.SyncOperation) string {
	return fmt.Sprintf("%s%s:%020d:%s", opSubjectPrefix, op.Subject, op.StartedAt.UnixNano(), op.ID)
}

// PutOperation writes a sync operation record and its subject index entry.
// Called once when a pass starts and once when it closes; the record is a
// plain overwrite, the index key is stable across both writes.
func (s *Store) PutOperation(ctx context.Context, op *models.SyncOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(opKeyPrefix+op.ID.String()), data); err != nil {
			return fmt.Errorf("set operation: %w", err)
		}
		if err := txn.Set([]byte(opSubjectKey(op)), []byte(op.ID.String())); err != nil {
			return fmt.Errorf("set subject index: %w", err)
		}
		return nil
	})
}

// GetOperation retrieves one sync operation by ID.
func (s *Store) GetOperation(ctx context.Context, id uuid.UUID) (*models.SyncOperation, error) {
	var op models.SyncOperation

	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, opKeyPrefix+id.String(), &op, ErrOperationNotFound)
	})
	if err != nil {
		return nil, err
	}

	return &op, nil
}

// ListOperationsBySubject returns up to limit operations for a subject,
// newest first. A limit of zero or less means no limit.
func (s *Store) ListOperationsBySubject(ctx context.Context, subject string, limit int) ([]models.SyncOperation, error) {
	var ids []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(opSubjectPrefix + subject + ":")

		// Reverse iteration needs a seek key past the prefix range.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan subject index: %w", err)
	}

	ops := make([]models.SyncOperation, 0, len(ids))
	for _, id := range ids {
		var op models.SyncOperation
		err := s.db.View(func(txn *badger.Txn) error {
			return getJSON(txn, opKeyPrefix+id, &op, ErrOperationNotFound)
		})
		if err != nil {
			// Index entry without a record; skip rather than fail the list.
			continue
		}
		ops = append(ops, op)
	}

	return ops, nil
}

// ListOpenOperations returns operations still marked in-progress. The stale
// sweep uses this to close audit records whose view was reclaimed.
func (s *Store) ListOpenOperations(ctx context.Context) ([]models.SyncOperation, error) {
	var ops []models.SyncOperation

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(opKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var op models.SyncOperation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			})
			if err != nil {
				return fmt.Errorf("unmarshal operation %s: %w", it.Item().Key(), err)
			}
			if op.Status == models.SyncStatusInProgress {
				ops = append(ops, op)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ops, nil
}

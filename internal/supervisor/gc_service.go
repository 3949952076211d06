// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package supervisor

import (
	"context"
	"time"

	"github.com/bandworks/chartsync/internal/logging"
)

// GCStore is the store surface the GC loop drives. *store.Store
// satisfies it.
type GCStore interface {
	RunValueLogGC() error
}

// defaultGCInterval follows the Badger guidance of periodic value-log
// GC during normal operation.
const defaultGCInterval = 5 * time.Minute

// StoreGCService periodically reclaims Badger value-log space. The
// store is append-heavy (one SyncOperation per pass), so without the
// loop the value log only ever grows. Not added to the tree for
// in-memory stores.
type StoreGCService struct {
	store    GCStore
	interval time.Duration
}

// NewStoreGCService builds the GC loop; interval <= 0 selects the
// default.
func NewStoreGCService(store GCStore, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	return &StoreGCService{store: store, interval: interval}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunValueLogGC(); err != nil {
				// GC failure is not fatal; the next tick retries.
				logging.Warn().Err(err).Msg("Value log GC failed")
				continue
			}
			logging.Debug().Msg("Value log GC pass finished")
		}
	}
}

// String implements fmt.Stringer for suture's event log.
func (s *StoreGCService) String() string {
	return "store-gc"
}

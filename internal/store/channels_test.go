// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bandworks/chartsync/internal/models"
)

func TestGetChannelNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, err := s.GetChannel(context.Background(), "missing")
	if !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestPutGetChannel(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	ch := &models.WatchChannel{
		ChannelID:  "chan-1",
		ResourceID: "res-1",
		FolderID:   "folder-src",
		Expiry:     time.Now().UTC().Add(24 * time.Hour),
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.PutChannel(ctx, ch); err != nil {
		t.Fatalf("put channel: %v", err)
	}

	got, err := s.GetChannel(ctx, "chan-1")
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if got.ResourceID != "res-1" || got.FolderID != "folder-src" {
		t.Errorf("unexpected channel: %+v", got)
	}
	if got.Expiry.IsZero() {
		t.Error("expiry not persisted")
	}
}

func TestListChannels(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"chan-a", "chan-b"} {
		ch := &models.WatchChannel{
			ChannelID:  id,
			ResourceID: "res-" + id,
			FolderID:   "folder-src",
			Expiry:     time.Now().UTC().Add(time.Hour),
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.PutChannel(ctx, ch); err != nil {
			t.Fatalf("put channel %s: %v", id, err)
		}
	}

	channels, err := s.ListChannels(ctx)
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(channels))
	}
}

func TestDeleteChannel(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	ch := &models.WatchChannel{
		ChannelID:  "chan-del",
		ResourceID: "res-del",
		FolderID:   "folder-src",
		Expiry:     time.Now().UTC().Add(time.Hour),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.PutChannel(ctx, ch); err != nil {
		t.Fatalf("put channel: %v", err)
	}

	if err := s.DeleteChannel(ctx, "chan-del"); err != nil {
		t.Fatalf("delete channel: %v", err)
	}
	if _, err := s.GetChannel(ctx, "chan-del"); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("expected ErrChannelNotFound after delete, got %v", err)
	}

	// Deleting again is a no-op.
	if err := s.DeleteChannel(ctx, "chan-del"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestLastSyncRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetLastSync(ctx, "u1")
	if err != nil {
		t.Fatalf("get last sync: %v", err)
	}
	if ok {
		t.Error("expected no mark for a fresh scope")
	}

	mark := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	if err := s.SetLastSync(ctx, "u1", mark); err != nil {
		t.Fatalf("set last sync: %v", err)
	}

	got, ok, err := s.GetLastSync(ctx, "u1")
	if err != nil {
		t.Fatalf("get last sync: %v", err)
	}
	if !ok {
		t.Fatal("expected a mark after set")
	}
	if !got.Equal(mark) {
		t.Errorf("expected %v, got %v", mark, got)
	}

	// Scopes are independent.
	if _, ok, _ := s.GetLastSync(ctx, models.SubjectGlobal); ok {
		t.Error("global scope should be unset")
	}
}

func TestLastSyncOverwrite(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	first := time.Now().UTC().Add(-time.Hour)
	second := time.Now().UTC()

	if err := s.SetLastSync(ctx, "u1", first); err != nil {
		t.Fatalf("set first mark: %v", err)
	}
	if err := s.SetLastSync(ctx, "u1", second); err != nil {
		t.Fatalf("set second mark: %v", err)
	}

	got, ok, err := s.GetLastSync(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("get last sync: ok=%v err=%v", ok, err)
	}
	if !got.Equal(second) {
		t.Errorf("expected latest mark %v, got %v", second, got)
	}
}

func TestDeleteLastSync(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetLastSync(ctx, "u1", time.Now().UTC()); err != nil {
		t.Fatalf("set last sync: %v", err)
	}
	if err := s.DeleteLastSync(ctx, "u1"); err != nil {
		t.Fatalf("delete last sync: %v", err)
	}

	if _, ok, err := s.GetLastSync(ctx, "u1"); err != nil {
		t.Fatalf("get after delete: %v", err)
	} else if ok {
		t.Error("mark should be gone after delete")
	}

	// Deleting an absent mark is a no-op.
	if err := s.DeleteLastSync(ctx, "u2"); err != nil {
		t.Errorf("delete absent mark: %v", err)
	}
}

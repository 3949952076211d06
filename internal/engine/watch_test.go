// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/store"
)

type registration struct {
	folderID    string
	callbackURL string
	secret      string
}

type mockChannels struct {
	mu           sync.Mutex
	nextID       int
	expiry       time.Time
	registerErr  error
	registered   []registration
	unregistered []string
}

func (m *mockChannels) RegisterWebhook(_ context.Context, folderID, callbackURL, secret string) (*models.WatchChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registerErr != nil {
		return nil, m.registerErr
	}

	m.nextID++
	m.registered = append(m.registered, registration{folderID: folderID, callbackURL: callbackURL, secret: secret})

	expiry := m.expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(7 * 24 * time.Hour)
	}
	return &models.WatchChannel{
		ChannelID:  fmt.Sprintf("ch-%d", m.nextID),
		ResourceID: fmt.Sprintf("res-%d", m.nextID),
		FolderID:   folderID,
		Expiry:     expiry,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (m *mockChannels) UnregisterWebhook(_ context.Context, channelID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregistered = append(m.unregistered, channelID)
	return nil
}

func newWatchFixture(t *testing.T) (*Engine, *store.Store, *mockChannels) {
	t.Helper()

	st, err := store.Open(store.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Sync: config.SyncConfig{SourceFolderID: "folder-src"},
		Webhook: config.WebhookConfig{
			Enabled:     true,
			CallbackURL: "https://chartsync.example.com/api/v1/notifications/storage",
			Secret:      "watch-secret",
			RenewMargin: 12 * time.Hour,
		},
	}

	channels := &mockChannels{}
	e := New(&mockRunner{}, st, channels, config.NewDirectory(nil), NewStats(), cfg)
	return e, st, channels
}

func TestRenewRegistersMissingChannel(t *testing.T) {
	e, st, channels := newWatchFixture(t)

	if err := e.renewChannels(context.Background()); err != nil {
		t.Fatalf("renewChannels: %v", err)
	}

	if len(channels.registered) != 1 {
		t.Fatalf("register calls %d, want 1", len(channels.registered))
	}
	reg := channels.registered[0]
	if reg.folderID != "folder-src" || reg.secret != "watch-secret" {
		t.Errorf("unexpected registration %+v", reg)
	}

	stored, err := st.ListChannels(context.Background())
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored channels %d (%v), want 1", len(stored), err)
	}
	if stored[0].FolderID != "folder-src" {
		t.Errorf("stored channel watches %s", stored[0].FolderID)
	}
}

func TestRenewKeepsFreshChannel(t *testing.T) {
	e, st, channels := newWatchFixture(t)

	fresh := &models.WatchChannel{
		ChannelID:  "ch-live",
		ResourceID: "res-live",
		FolderID:   "folder-src",
		Expiry:     time.Now().Add(48 * time.Hour),
		CreatedAt:  time.Now().UTC(),
	}
	if err := st.PutChannel(context.Background(), fresh); err != nil {
		t.Fatalf("put channel: %v", err)
	}

	if err := e.renewChannels(context.Background()); err != nil {
		t.Fatalf("renewChannels: %v", err)
	}

	if len(channels.registered) != 0 {
		t.Errorf("fresh channel must not be re-registered, got %d calls", len(channels.registered))
	}
}

func TestRenewReplacesExpiringChannel(t *testing.T) {
	e, st, channels := newWatchFixture(t)

	dying := &models.WatchChannel{
		ChannelID:  "ch-old",
		ResourceID: "res-old",
		FolderID:   "folder-src",
		Expiry:     time.Now().Add(time.Hour),
		CreatedAt:  time.Now().Add(-6 * 24 * time.Hour),
	}
	if err := st.PutChannel(context.Background(), dying); err != nil {
		t.Fatalf("put channel: %v", err)
	}

	if err := e.renewChannels(context.Background()); err != nil {
		t.Fatalf("renewChannels: %v", err)
	}

	if len(channels.registered) != 1 {
		t.Fatalf("register calls %d, want 1", len(channels.registered))
	}
	if len(channels.unregistered) != 1 || channels.unregistered[0] != "ch-old" {
		t.Errorf("unregister calls %v, want [ch-old]", channels.unregistered)
	}

	stored, err := st.ListChannels(context.Background())
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored channels %d (%v), want 1", len(stored), err)
	}
	if stored[0].ChannelID == "ch-old" {
		t.Error("replaced channel record still stored")
	}
}

func TestRenewRegisterFailureSurfaces(t *testing.T) {
	e, _, channels := newWatchFixture(t)
	channels.registerErr = errors.New("provider down")

	if err := e.renewChannels(context.Background()); err == nil {
		t.Fatal("expected registration failure to surface")
	}
}

// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/organize"
	"github.com/bandworks/chartsync/internal/store"
	"github.com/bandworks/chartsync/internal/syncer"
)

type batchCall struct {
	folderID  string
	userIDs   []string
	forceFull bool
}

// mockRunner is a configurable reconciliation backend: canned results per
// method plus recorded calls.
type mockRunner struct {
	mu sync.Mutex

	batchCalls  []batchCall
	syncErr     error
	batchResult *syncer.BatchResult
	blockSync   chan struct{}

	resetCalls []string
	resetErr   error

	resolveOutcome *models.ChangeOutcome
	resolveChannel *models.WatchChannel
	resolveErr     error

	detectCalls   []*models.ChangeNotification
	detectOutcome *models.ChangeOutcome
	detectBatch   *syncer.BatchResult
	detectErr     error

	sweepCalls  int
	sweepMarked int
	sweepErr    error
}

func defaultBatch(userIDs []string) *syncer.BatchResult {
	batch := &syncer.BatchResult{Kind: models.SyncKindFull, Items: 2, Duration: time.Millisecond}
	for _, id := range userIDs {
		batch.Users = append(batch.Users, syncer.UserResult{
			UserID:  id,
			Outcome: syncer.OutcomeCompleted,
			Organize: &organize.Result{
				FoldersCreated:    1,
				ReferencesCreated: 2,
				LiveReferences:    2,
				GroupCount:        1,
			},
		})
	}
	return batch
}

func (m *mockRunner) SyncAll(_ context.Context, folderID string, userIDs []string, forceFull bool) (*syncer.BatchResult, error) {
	m.mu.Lock()
	m.batchCalls = append(m.batchCalls, batchCall{
		folderID:  folderID,
		userIDs:   append([]string(nil), userIDs...),
		forceFull: forceFull,
	})
	block := m.blockSync
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if m.syncErr != nil {
		return nil, m.syncErr
	}
	if m.batchResult != nil {
		return m.batchResult, nil
	}
	return defaultBatch(userIDs), nil
}

func (m *mockRunner) ResetView(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetErr != nil {
		return m.resetErr
	}
	m.resetCalls = append(m.resetCalls, userID)
	return nil
}

func (m *mockRunner) ResolveChange(_ context.Context, _ *models.ChangeNotification) (*models.ChangeOutcome, *models.WatchChannel, error) {
	if m.resolveErr != nil {
		return nil, nil, m.resolveErr
	}
	if m.resolveOutcome == nil {
		return &models.ChangeOutcome{Status: models.ChangeOutcomeIgnored}, nil, nil
	}
	return m.resolveOutcome, m.resolveChannel, nil
}

func (m *mockRunner) DetectChange(_ context.Context, n *models.ChangeNotification) (*models.ChangeOutcome, *syncer.BatchResult, error) {
	m.mu.Lock()
	m.detectCalls = append(m.detectCalls, n)
	m.mu.Unlock()

	if m.detectErr != nil {
		return nil, nil, m.detectErr
	}
	outcome := m.detectOutcome
	if outcome == nil {
		outcome = &models.ChangeOutcome{Status: models.ChangeOutcomeTriggered, AffectedUsers: []string{"u1"}}
	}
	batch := m.detectBatch
	if batch == nil && outcome.Status == models.ChangeOutcomeTriggered {
		batch = defaultBatch(outcome.AffectedUsers)
	}
	return outcome, batch, nil
}

func (m *mockRunner) SweepStale(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepCalls++
	return m.sweepMarked, m.sweepErr
}

func (m *mockRunner) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batchCalls)
}

func (m *mockRunner) batchAt(i int) batchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls[i]
}

func (m *mockRunner) detectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.detectCalls)
}

type engineFixture struct {
	engine *Engine
	store  *store.Store
	runner *mockRunner
	stats  *Stats
	cfg    *config.Config
}

func newEngineFixture(t *testing.T, userIDs ...string) *engineFixture {
	t.Helper()

	st, err := store.Open(store.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	members := make([]config.MemberConfig, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, config.MemberConfig{
			ID:          id,
			Email:       id + "@example.com",
			Instruments: []string{"trumpet"},
		})
	}

	cfg := &config.Config{
		Sync: config.SyncConfig{
			SourceFolderID: "folder-src",
			Interval:       time.Hour,
			StaleTimeout:   30 * time.Minute,
			SweepInterval:  time.Hour,
			HealthInterval: time.Hour,
			MaxConcurrent:  2,
			PageSize:       100,
		},
		Webhook: config.WebhookConfig{Enabled: false},
		Members: members,
	}

	f := &engineFixture{
		store:  st,
		runner: &mockRunner{},
		stats:  NewStats(),
		cfg:    cfg,
	}
	f.engine = New(f.runner, st, nil, config.NewDirectory(members), f.stats, cfg)
	return f
}

func (f *engineFixture) initView(t *testing.T, userID string) {
	t.Helper()
	view := &models.UserView{
		UserID:         userID,
		SourceFolderID: "folder-src",
		Status:         models.SyncStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := f.store.PutView(context.Background(), view); err != nil {
		t.Fatalf("init view %s: %v", userID, err)
	}
}

// startWorker runs a single worker goroutine for the test's lifetime.
func (f *engineFixture) startWorker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go f.engine.worker(ctx, &wg)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestInitializeView(t *testing.T) {
	f := newEngineFixture(t, "u1")

	view, err := f.engine.InitializeView(context.Background(), "u1")
	if err != nil {
		t.Fatalf("InitializeView: %v", err)
	}
	if view.Status != models.SyncStatusPending || view.SourceFolderID != "folder-src" {
		t.Errorf("unexpected view %+v", view)
	}

	again, err := f.engine.InitializeView(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second InitializeView: %v", err)
	}
	if !again.CreatedAt.Equal(view.CreatedAt) {
		t.Error("second call must return the existing record, not recreate it")
	}

	if _, err := f.engine.InitializeView(context.Background(), "ghost"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}
}

func TestTriggerSyncQueuesAndDedups(t *testing.T) {
	f := newEngineFixture(t, "u1", "u2")
	f.initView(t, "u1")
	f.initView(t, "u2")

	id, err := f.engine.TriggerSync(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}

	dupID, err := f.engine.TriggerSync(context.Background(), "u1", true)
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
	if dupID != id {
		t.Errorf("duplicate should name the pending job %s, got %s", id, dupID)
	}

	if _, err := f.engine.TriggerSync(context.Background(), "u2", false); err != nil {
		t.Errorf("different member must queue: %v", err)
	}
	if depth := f.engine.queue.depth(); depth != 2 {
		t.Errorf("queue depth %d, want 2", depth)
	}

	snap := f.engine.Stats()
	if snap.Enqueued != 2 || snap.Deduplicated != 1 {
		t.Errorf("stats enqueued=%d deduplicated=%d, want 2/1", snap.Enqueued, snap.Deduplicated)
	}

	if _, err := f.engine.TriggerSync(context.Background(), "ghost", false); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}
}

func TestTriggerSyncRequiresView(t *testing.T) {
	f := newEngineFixture(t, "u1")

	_, err := f.engine.TriggerSync(context.Background(), "u1", false)
	if !errors.Is(err, store.ErrViewNotFound) {
		t.Fatalf("expected ErrViewNotFound for uninitialized member, got %v", err)
	}
}

func TestWorkerRunsQueuedSync(t *testing.T) {
	f := newEngineFixture(t, "u1")
	f.initView(t, "u1")
	f.startWorker(t)

	if _, err := f.engine.TriggerSync(context.Background(), "u1", false); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return f.runner.batchCount() == 1 })

	call := f.runner.batchAt(0)
	if call.folderID != "folder-src" || len(call.userIDs) != 1 || call.userIDs[0] != "u1" || call.forceFull {
		t.Errorf("unexpected batch call %+v", call)
	}

	// The key is released after the pass, so a new trigger queues again.
	waitFor(t, 2*time.Second, func() bool {
		_, err := f.engine.TriggerSync(context.Background(), "u1", false)
		return err == nil
	})

	waitFor(t, 2*time.Second, func() bool { return f.runner.batchCount() == 2 })

	snap := f.engine.Stats()
	if snap.Batches != 2 || snap.PassesCompleted != 2 {
		t.Errorf("stats batches=%d completed=%d, want 2/2", snap.Batches, snap.PassesCompleted)
	}
	if snap.ReferencesCreated != 4 {
		t.Errorf("stats references=%d, want 4", snap.ReferencesCreated)
	}
}

func TestDuplicateHeldWhileInFlight(t *testing.T) {
	f := newEngineFixture(t, "u1")
	f.initView(t, "u1")

	block := make(chan struct{})
	f.runner.blockSync = block
	f.startWorker(t)

	if _, err := f.engine.TriggerSync(context.Background(), "u1", false); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}

	// The worker is now inside the pass; the queue is empty but the key
	// must still be held.
	waitFor(t, 2*time.Second, func() bool { return f.runner.batchCount() == 1 })
	if depth := f.engine.queue.depth(); depth != 0 {
		t.Fatalf("queue depth %d, want 0 while in flight", depth)
	}

	if _, err := f.engine.TriggerSync(context.Background(), "u1", false); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("in-flight duplicate should be dropped, got %v", err)
	}

	close(block)
	waitFor(t, 2*time.Second, func() bool {
		_, err := f.engine.TriggerSync(context.Background(), "u1", false)
		return err == nil
	})
}

func TestGetSyncStatus(t *testing.T) {
	f := newEngineFixture(t, "u1")
	f.initView(t, "u1")

	report, err := f.engine.GetSyncStatus(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetSyncStatus: %v", err)
	}
	if report.Status != models.SyncStatusPending {
		t.Errorf("status %s, want pending", report.Status)
	}
	if report.EstimatedSeconds == nil || *report.EstimatedSeconds != 5 {
		t.Errorf("fresh view should estimate the 5s floor, got %v", report.EstimatedSeconds)
	}

	// A settled view carries counts but no estimate.
	folderID := "root-u1"
	now := time.Now().UTC()
	view := &models.UserView{
		UserID:         "u1",
		FolderID:       &folderID,
		SourceFolderID: "folder-src",
		Status:         models.SyncStatusCompleted,
		LastSyncedAt:   &now,
		ItemCount:      100,
		GroupCount:     10,
		CreatedAt:      now,
	}
	if err := f.store.PutView(context.Background(), view); err != nil {
		t.Fatalf("put view: %v", err)
	}

	report, err = f.engine.GetSyncStatus(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetSyncStatus: %v", err)
	}
	if report.EstimatedSeconds != nil {
		t.Error("completed view must not carry an estimate")
	}
	if report.ItemCount != 100 || report.GroupCount != 10 {
		t.Errorf("counts %d/%d, want 100/10", report.ItemCount, report.GroupCount)
	}
	if report.LastSyncedAt == nil {
		t.Error("last synced time missing")
	}

	if _, err := f.engine.GetSyncStatus(context.Background(), "ghost"); !errors.Is(err, store.ErrViewNotFound) {
		t.Errorf("expected ErrViewNotFound, got %v", err)
	}
}

func TestHandleChangeNotification(t *testing.T) {
	f := newEngineFixture(t, "u1", "u2")
	f.runner.resolveOutcome = &models.ChangeOutcome{
		Status:        models.ChangeOutcomeTriggered,
		AffectedUsers: []string{"u1", "u2"},
	}
	f.runner.resolveChannel = &models.WatchChannel{ChannelID: "ch1", ResourceID: "res1", FolderID: "folder-src"}

	n := &models.ChangeNotification{ChannelID: "ch1", ResourceID: "res1", State: models.ChangeStateUpdate}

	outcome, err := f.engine.HandleChangeNotification(context.Background(), n)
	if err != nil {
		t.Fatalf("HandleChangeNotification: %v", err)
	}
	if outcome.Status != models.ChangeOutcomeTriggered || len(outcome.AffectedUsers) != 2 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if depth := f.engine.queue.depth(); depth != 1 {
		t.Fatalf("queue depth %d, want 1", depth)
	}

	// Identical resource while queued: outcome still reported, no second
	// job.
	if _, err := f.engine.HandleChangeNotification(context.Background(), n); err != nil {
		t.Fatalf("second notification: %v", err)
	}
	if depth := f.engine.queue.depth(); depth != 1 {
		t.Errorf("duplicate change queued, depth %d", depth)
	}

	snap := f.engine.Stats()
	if snap.ChangesTriggered != 2 || snap.Deduplicated != 1 {
		t.Errorf("stats triggered=%d deduplicated=%d, want 2/1", snap.ChangesTriggered, snap.Deduplicated)
	}
}

func TestHandleChangeNotificationIgnored(t *testing.T) {
	f := newEngineFixture(t, "u1")

	outcome, err := f.engine.HandleChangeNotification(context.Background(), &models.ChangeNotification{
		ChannelID:  "ch1",
		ResourceID: "res1",
		State:      models.ChangeStateSync,
	})
	if err != nil {
		t.Fatalf("HandleChangeNotification: %v", err)
	}
	if outcome.Status != models.ChangeOutcomeIgnored {
		t.Errorf("expected ignored, got %s", outcome.Status)
	}
	if depth := f.engine.queue.depth(); depth != 0 {
		t.Errorf("ignored notification must not queue work, depth %d", depth)
	}
}

func TestChangeJobReresolvedAtRunTime(t *testing.T) {
	f := newEngineFixture(t, "u1")
	f.runner.resolveOutcome = &models.ChangeOutcome{
		Status:        models.ChangeOutcomeTriggered,
		AffectedUsers: []string{"u1"},
	}
	f.startWorker(t)

	n := &models.ChangeNotification{ChannelID: "ch1", ResourceID: "res1", State: models.ChangeStateUpdate}
	if _, err := f.engine.HandleChangeNotification(context.Background(), n); err != nil {
		t.Fatalf("HandleChangeNotification: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return f.runner.detectCount() == 1 })

	f.runner.mu.Lock()
	got := f.runner.detectCalls[0]
	f.runner.mu.Unlock()
	if got.ChannelID != "ch1" || got.ResourceID != "res1" {
		t.Errorf("worker resolved wrong notification %+v", got)
	}

	waitFor(t, 2*time.Second, func() bool { return f.engine.Stats().Batches == 1 })
}

func TestResetViewQueuesRebuild(t *testing.T) {
	f := newEngineFixture(t, "u1")
	f.initView(t, "u1")
	f.startWorker(t)

	if err := f.engine.ResetView(context.Background(), "u1"); err != nil {
		t.Fatalf("ResetView: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return f.runner.batchCount() == 1 })

	call := f.runner.batchAt(0)
	if !call.forceFull || len(call.userIDs) != 1 || call.userIDs[0] != "u1" {
		t.Errorf("rebuild call %+v, want forced full for u1", call)
	}

	f.runner.mu.Lock()
	resets := append([]string(nil), f.runner.resetCalls...)
	f.runner.mu.Unlock()
	if len(resets) != 1 || resets[0] != "u1" {
		t.Errorf("reset calls %v", resets)
	}
}

func TestResetViewBusyDoesNotQueue(t *testing.T) {
	f := newEngineFixture(t, "u1")
	f.initView(t, "u1")
	f.runner.resetErr = store.ErrLockConflict

	err := f.engine.ResetView(context.Background(), "u1")
	if !errors.Is(err, store.ErrLockConflict) {
		t.Fatalf("expected lock conflict, got %v", err)
	}
	if depth := f.engine.queue.depth(); depth != 0 {
		t.Errorf("failed reset must not queue a rebuild, depth %d", depth)
	}
}

func TestScheduledPassCoversAllViews(t *testing.T) {
	f := newEngineFixture(t, "u1", "u2")
	f.initView(t, "u1")
	f.initView(t, "u2")
	f.startWorker(t)

	f.engine.enqueueScheduled(context.Background(), false)

	waitFor(t, 2*time.Second, func() bool { return f.runner.batchCount() == 1 })

	call := f.runner.batchAt(0)
	if len(call.userIDs) != 2 {
		t.Fatalf("scheduled pass targets %v, want both views", call.userIDs)
	}
	if call.forceFull {
		t.Error("startup convergence pass must not force a full listing")
	}
}

func TestServeLifecycle(t *testing.T) {
	f := newEngineFixture(t, "u1")
	f.initView(t, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Serve(ctx) }()

	// Serve queues the convergence pass on startup.
	waitFor(t, 2*time.Second, func() bool { return f.runner.batchCount() == 1 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop on cancellation")
	}
}

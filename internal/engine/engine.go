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
	"time"

	"github.com/google/uuid"

	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/metrics"
	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/organize"
	"github.com/bandworks/chartsync/internal/store"
	"github.com/bandworks/chartsync/internal/syncer"
)

const defaultWorkers = 5

// Engine API errors.
var (
	// ErrUnknownUser is returned for user IDs not in the member directory.
	ErrUnknownUser = errors.New("user not in member directory")

	// ErrAlreadyQueued is returned when identical work is already queued
	// or in flight; the accompanying job ID names the pending job.
	ErrAlreadyQueued = errors.New("sync already queued for this scope")
)

// Runner is the reconciliation backend. *syncer.Synchronizer satisfies it.
type Runner interface {
	SyncAll(ctx context.Context, sourceFolderID string, userIDs []string, forceFull bool) (*syncer.BatchResult, error)
	ResetView(ctx context.Context, userID string) error
	ResolveChange(ctx context.Context, n *models.ChangeNotification) (*models.ChangeOutcome, *models.WatchChannel, error)
	DetectChange(ctx context.Context, n *models.ChangeNotification) (*models.ChangeOutcome, *syncer.BatchResult, error)
	SweepStale(ctx context.Context) (int, error)
}

// ChannelRegistrar manages watch channels with the storage provider.
// *remote.Gateway satisfies it.
type ChannelRegistrar interface {
	RegisterWebhook(ctx context.Context, folderID, callbackURL, secret string) (*models.WatchChannel, error)
	UnregisterWebhook(ctx context.Context, channelID, resourceID string) error
}

// StatusReport is the member-facing sync status document.
type StatusReport struct {
	UserID           string            `json:"user_id"`
	Status           models.SyncStatus `json:"status"`
	FolderID         *string           `json:"folder_id,omitempty"`
	ItemCount        int               `json:"item_count"`
	GroupCount       int               `json:"group_count"`
	LastSyncedAt     *time.Time        `json:"last_synced_at,omitempty"`
	Error            *string           `json:"error,omitempty"`
	EstimatedSeconds *int              `json:"estimated_seconds,omitempty"`
}

// Engine is the long-running coordinator: it owns the job queue and worker
// pool, schedules periodic passes, runs the stale sweep, keeps watch
// channels registered and exposes the operational API the HTTP layer
// mirrors.
type Engine struct {
	runner    Runner
	store     *store.Store
	channels  ChannelRegistrar
	directory *config.Directory
	stats     *Stats
	cfg       *config.Config
	queue     *queue
}

// New builds an engine. channels may be nil when webhook registration is
// disabled; inbound notifications for externally-registered channels still
// work.
func New(runner Runner, st *store.Store, channels ChannelRegistrar, directory *config.Directory, stats *Stats, cfg *config.Config) *Engine {
	return &Engine{
		runner:    runner,
		store:     st,
		channels:  channels,
		directory: directory,
		stats:     stats,
		cfg:       cfg,
		queue:     newQueue(),
	}
}

func (e *Engine) String() string { return "sync-engine" }

// Serve runs the worker pool and the periodic loops until ctx is
// cancelled. It implements suture.Service.
func (e *Engine) Serve(ctx context.Context) error {
	workers := e.cfg.Sync.MaxConcurrent
	if workers <= 0 {
		workers = defaultWorkers
	}

	logging.Info().
		Int("workers", workers).
		Dur("interval", e.cfg.Sync.Interval).
		Dur("sweep_interval", e.cfg.Sync.SweepInterval).
		Bool("webhooks", e.watchEnabled()).
		Msg("Sync engine starting")

	if e.watchEnabled() {
		if err := e.renewChannels(ctx); err != nil {
			logging.Warn().Err(err).Msg("Watch channel registration failed, continuing without change notifications")
		}
	}

	// Converge existing views right away instead of waiting out the first
	// scheduler tick.
	e.enqueueScheduled(ctx, false)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go e.worker(ctx, &wg)
	}

	wg.Add(3)
	go e.schedulerLoop(ctx, &wg)
	go e.sweepLoop(ctx, &wg)
	go e.healthLoop(ctx, &wg)

	if e.watchEnabled() {
		wg.Add(1)
		go e.renewLoop(ctx, &wg)
	}

	<-ctx.Done()
	wg.Wait()
	logging.Info().Msg("Sync engine stopped")
	return ctx.Err()
}

// InitializeView creates the member's view record if it does not exist and
// returns it. Idempotent; the root folder itself is created by the first
// pass.
func (e *Engine) InitializeView(ctx context.Context, userID string) (*models.UserView, error) {
	user, ok := e.directory.GetUser(userID)
	if !ok {
		return nil, ErrUnknownUser
	}

	view, err := e.store.GetView(ctx, userID)
	if err == nil {
		return view, nil
	}
	if !errors.Is(err, store.ErrViewNotFound) {
		return nil, err
	}

	view = &models.UserView{
		UserID:         user.ID,
		SourceFolderID: e.cfg.Sync.SourceFolderID,
		Status:         models.SyncStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.PutView(ctx, view); err != nil {
		return nil, fmt.Errorf("initialize view: %w", err)
	}

	logging.Info().Str("user_id", userID).Msg("View initialized")
	return view, nil
}

// TriggerSync queues a pass for one member and returns the job ID.
// Duplicate triggers while one is queued or running return the pending
// job's ID with ErrAlreadyQueued.
func (e *Engine) TriggerSync(ctx context.Context, userID string, forceFull bool) (uuid.UUID, error) {
	if _, ok := e.directory.GetUser(userID); !ok {
		return uuid.Nil, ErrUnknownUser
	}
	if _, err := e.store.GetView(ctx, userID); err != nil {
		return uuid.Nil, err
	}

	j := newSyncJob(userID, e.cfg.Sync.SourceFolderID, []string{userID}, forceFull)
	id, queued := e.submit(j)
	if !queued {
		return id, ErrAlreadyQueued
	}
	return id, nil
}

// GetSyncStatus reads the member's view and derives the status document.
// The duration estimate is included only while a pass is pending or
// running.
func (e *Engine) GetSyncStatus(ctx context.Context, userID string) (*StatusReport, error) {
	view, err := e.store.GetView(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		UserID:       view.UserID,
		Status:       view.Status,
		FolderID:     view.FolderID,
		ItemCount:    view.ItemCount,
		GroupCount:   view.GroupCount,
		LastSyncedAt: view.LastSyncedAt,
		Error:        view.LastError,
	}
	if view.Status == models.SyncStatusPending || view.Status == models.SyncStatusInProgress {
		secs := organize.EstimateSeconds(view.GroupCount, view.ItemCount)
		report.EstimatedSeconds = &secs
	}
	return report, nil
}

// HandleChangeNotification resolves an inbound change notification and,
// when it targets any views, queues the restricted batch. The outcome is
// returned immediately; the reconciliation itself runs on the worker pool.
func (e *Engine) HandleChangeNotification(ctx context.Context, n *models.ChangeNotification) (*models.ChangeOutcome, error) {
	outcome, _, err := e.runner.ResolveChange(ctx, n)
	if err != nil {
		return nil, err
	}
	e.stats.RecordChange(outcome.Status)

	if outcome.Status == models.ChangeOutcomeTriggered {
		e.submit(newChangeJob(n))
	}
	return outcome, nil
}

// ResetView tears the member's group folders down and queues the rebuild.
// Returns store.ErrLockConflict while a pass is running.
func (e *Engine) ResetView(ctx context.Context, userID string) error {
	if _, ok := e.directory.GetUser(userID); !ok {
		return ErrUnknownUser
	}
	if err := e.runner.ResetView(ctx, userID); err != nil {
		return err
	}

	// The reset dropped the member's sync mark, so even a previously
	// queued job for this scope would list fully; the force flag is for
	// the audit trail.
	e.submit(newSyncJob(userID, e.cfg.Sync.SourceFolderID, []string{userID}, true))
	return nil
}

// Stats returns a snapshot of the engine counters and the live queue
// depth.
func (e *Engine) Stats() Snapshot {
	snap := e.stats.Snapshot()
	snap.QueueDepth = e.queue.depth()
	return snap
}

// submit enqueues a job, recording the attempt in the stats and queue
// metrics. Returns the covering job's ID and whether this job was
// accepted.
func (e *Engine) submit(j *job) (uuid.UUID, bool) {
	id, queued := e.queue.enqueue(j)
	e.stats.RecordEnqueue(queued)
	metrics.RecordQueueEvent(j.kind, !queued)

	if queued {
		metrics.UpdateQueueDepth(e.queue.depth())
	} else {
		logging.Debug().
			Str("kind", j.kind).
			Str("scope", j.scope).
			Str("pending_job_id", id.String()).
			Msg("Duplicate job dropped, identical work pending")
	}
	return id, queued
}

// worker drains the queue until ctx is cancelled.
func (e *Engine) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		j := e.queue.pop()
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-e.queue.wake:
				continue
			}
		}

		metrics.UpdateQueueDepth(e.queue.depth())
		e.process(ctx, j)
	}
}

// process runs one job and releases its dedup key when done.
func (e *Engine) process(ctx context.Context, j *job) {
	defer e.queue.release(j)

	logging.Debug().
		Str("job_id", j.id.String()).
		Str("kind", j.kind).
		Str("scope", j.scope).
		Dur("waited", time.Since(j.enqueuedAt)).
		Msg("Processing job")

	switch j.kind {
	case jobKindChange:
		outcome, batch, err := e.runner.DetectChange(ctx, j.notification)
		if err != nil {
			e.stats.RecordBatchError()
			logging.Error().
				Err(err).
				Str("channel_id", j.notification.ChannelID).
				Msg("Change-triggered batch failed")
			return
		}
		if batch != nil {
			e.stats.RecordBatch(batch)
		}
		if outcome.Status != models.ChangeOutcomeTriggered {
			logging.Debug().
				Str("resource_id", j.scope).
				Str("status", outcome.Status).
				Msg("Queued change resolved to nothing by run time")
		}
	default:
		batch, err := e.runner.SyncAll(ctx, j.folderID, j.userIDs, j.forceFull)
		if err != nil {
			e.stats.RecordBatchError()
			logging.Error().
				Err(err).
				Str("scope", j.scope).
				Msg("Sync batch failed")
			return
		}
		e.stats.RecordBatch(batch)
	}
}

// enqueueScheduled queues a batch covering every existing view.
func (e *Engine) enqueueScheduled(ctx context.Context, forceFull bool) {
	views, err := e.store.ListViews(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list views for scheduled pass")
		return
	}
	if len(views) == 0 {
		logging.Debug().Msg("No views to schedule")
		return
	}

	userIDs := make([]string, 0, len(views))
	for _, v := range views {
		userIDs = append(userIDs, v.UserID)
	}

	e.submit(newSyncJob(models.SubjectGlobal, e.cfg.Sync.SourceFolderID, userIDs, forceFull))
}

// schedulerLoop queues the periodic full pass.
func (e *Engine) schedulerLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	interval := e.cfg.Sync.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.enqueueScheduled(ctx, true)
		}
	}
}

// sweepLoop periodically reclaims views whose pass exceeded the stale
// timeout.
func (e *Engine) sweepLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	interval := e.cfg.Sync.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := e.runner.SweepStale(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("Stale sweep failed")
				continue
			}
			e.stats.RecordSweep(reclaimed)
		}
	}
}

// healthLoop periodically logs the stats snapshot.
func (e *Engine) healthLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	interval := e.cfg.Sync.HealthInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := e.Stats()
			metrics.UpdateQueueDepth(snap.QueueDepth)
			logging.Info().
				Int("queue_depth", snap.QueueDepth).
				Uint64("batches", snap.Batches).
				Uint64("passes_completed", snap.PassesCompleted).
				Uint64("passes_failed", snap.PassesFailed).
				Uint64("passes_conflicted", snap.PassesConflicted).
				Uint64("references_created", snap.ReferencesCreated).
				Uint64("stale_reclaimed", snap.StaleReclaimed).
				Msg("Engine health")
		}
	}
}

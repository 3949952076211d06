// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/metrics"
	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/organize"
	"github.com/bandworks/chartsync/internal/parse"
	"github.com/bandworks/chartsync/internal/remote"
	"github.com/bandworks/chartsync/internal/store"
)

// Event names pushed over the notification bus.
const (
	EventSyncCompleted = "sync_completed"
	EventSyncFailed    = "sync_failed"
	EventViewReset     = "view_reset"
)

// staleResetReason is written into reclaimed views and their abandoned
// operation records so an interrupted pass reads differently from a failed
// one.
const staleResetReason = "reclaimed by stale sweep: pass exceeded the stale timeout"

// SourceLister reads the canonical folder. *remote.Gateway satisfies it.
type SourceLister interface {
	ListItems(ctx context.Context, parentID, query string, pageSize, maxResults int) ([]remote.File, error)
	ListChangedSince(ctx context.Context, parentID string, since time.Time) ([]remote.File, error)
}

// ViewOrganizer reconciles one member's folder tree. *organize.Organizer
// satisfies it.
type ViewOrganizer interface {
	EnsureRoot(ctx context.Context, view *models.UserView, user models.User) (string, error)
	Organize(ctx context.Context, view *models.UserView, user models.User, items []models.CanonicalItem) (*organize.Result, error)
	Reset(ctx context.Context, view *models.UserView) (int, error)
}

// Bus pushes per-member events to connected clients. Delivery is
// best-effort; implementations must not block and failures never fail a
// pass.
type Bus interface {
	Broadcast(userID, event string, data interface{})
}

// SyncEventPayload is the bus payload for sync lifecycle events.
type SyncEventPayload struct {
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	ItemCount int    `json:"item_count"`
	Error     string `json:"error,omitempty"`
}

// Outcome classifies one member's pass inside a batch.
type Outcome string

// Outcome values.
const (
	OutcomeCompleted Outcome = "completed" // terminal status written
	OutcomeError     Outcome = "error"     // pass failed, previous tree intact
	OutcomeConflict  Outcome = "conflict"  // view busy, normal skip
	OutcomeDiscarded Outcome = "discarded" // fenced out by the stale sweep
)

// UserResult is one member's slice of a batch.
type UserResult struct {
	UserID   string
	Outcome  Outcome
	Organize *organize.Result // nil when the pass never reached the organizer
	Err      error
	Duration time.Duration
}

// BatchResult aggregates one multi-member pass.
type BatchResult struct {
	Kind        models.SyncKind
	Items       int // canonical items fetched, after parse skips
	ParseFailed int
	Users       []UserResult
	Duration    time.Duration
}

// Completed returns how many member passes finished and wrote their status.
func (b *BatchResult) Completed() int { return b.countOutcome(OutcomeCompleted) }

// Failed returns how many member passes errored.
func (b *BatchResult) Failed() int { return b.countOutcome(OutcomeError) }

// Conflicted returns how many members were skipped because a pass was
// already running.
func (b *BatchResult) Conflicted() int { return b.countOutcome(OutcomeConflict) }

// Discarded returns how many passes were fenced out by the stale sweep.
func (b *BatchResult) Discarded() int { return b.countOutcome(OutcomeDiscarded) }

func (b *BatchResult) countOutcome(o Outcome) int {
	n := 0
	for _, u := range b.Users {
		if u.Outcome == o {
			n++
		}
	}
	return n
}

// Synchronizer runs reconciliation passes: it fetches the canonical item
// set once per batch and drives the organizer for every target member,
// holding the per-view lock and fencing every terminal write.
type Synchronizer struct {
	source    SourceLister
	organizer ViewOrganizer
	store     *store.Store
	directory *config.Directory
	bus       Bus
	cfg       *config.SyncConfig
}

// New builds a synchronizer. bus may be nil when no client notification
// path is wired.
func New(source SourceLister, organizer ViewOrganizer, st *store.Store, directory *config.Directory, bus Bus, cfg *config.SyncConfig) *Synchronizer {
	return &Synchronizer{
		source:    source,
		organizer: organizer,
		store:     st,
		directory: directory,
		bus:       bus,
		cfg:       cfg,
	}
}

// SyncAll reconciles every target member against the canonical folder. The
// item set is fetched once; member passes run serially so rate-limiter
// consumption stays predictable. One member's failure is captured into the
// batch result and never aborts the others.
func (s *Synchronizer) SyncAll(ctx context.Context, sourceFolderID string, userIDs []string, forceFull bool) (*BatchResult, error) {
	kind, since := s.resolveWindow(ctx, userIDs, forceFull)
	return s.run(ctx, sourceFolderID, userIDs, kind, since)
}

// SyncOne is the single-member path used by member-triggered syncs.
func (s *Synchronizer) SyncOne(ctx context.Context, userID, sourceFolderID string, forceFull bool) (*UserResult, error) {
	batch, err := s.SyncAll(ctx, sourceFolderID, []string{userID}, forceFull)
	if err != nil {
		return nil, err
	}
	return &batch.Users[0], nil
}

// resolveWindow picks full or incremental for a batch. Incremental uses
// the earliest last-sync mark among the targets so no member misses a
// change; any member without a mark forces a full fetch.
func (s *Synchronizer) resolveWindow(ctx context.Context, userIDs []string, forceFull bool) (models.SyncKind, time.Time) {
	if forceFull {
		return models.SyncKindFull, time.Time{}
	}

	var earliest time.Time
	for _, userID := range userIDs {
		mark, ok, err := s.store.GetLastSync(ctx, userID)
		if err != nil {
			logging.Error().Err(err).Str("user_id", userID).Msg("Failed to read sync mark, falling back to full pass")
			return models.SyncKindFull, time.Time{}
		}
		if !ok {
			return models.SyncKindFull, time.Time{}
		}
		if earliest.IsZero() || mark.Before(earliest) {
			earliest = mark
		}
	}
	if earliest.IsZero() {
		return models.SyncKindFull, time.Time{}
	}
	return models.SyncKindIncremental, earliest
}

// run executes one batch: fetch, parse, then a serial member loop. A zero
// since means a full listing; kind only labels the audit records and
// metrics (webhook-triggered batches still use the incremental window).
func (s *Synchronizer) run(ctx context.Context, sourceFolderID string, userIDs []string, kind models.SyncKind, since time.Time) (*BatchResult, error) {
	started := time.Now()
	fetchedAt := started.UTC()

	// Single-member passes are recorded by their own operation; batches
	// get an umbrella record under the global subject.
	var batchOp *models.SyncOperation
	if len(userIDs) > 1 {
		batchOp = models.NewSyncOperation(models.SubjectGlobal, kind)
		if err := s.store.PutOperation(ctx, batchOp); err != nil {
			return nil, fmt.Errorf("record batch operation: %w", err)
		}
	}

	items, parseFailed, err := s.fetchItems(ctx, sourceFolderID, since)
	if err != nil {
		s.closeBatchOp(ctx, batchOp, models.OperationCounts{}, models.SyncStatusError, err.Error())
		return nil, err
	}

	full := since.IsZero()
	batch := &BatchResult{Kind: kind, Items: len(items), ParseFailed: parseFailed}
	totals := models.OperationCounts{Processed: len(items), Failed: parseFailed}

	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			s.closeBatchOp(ctx, batchOp, totals, models.SyncStatusError, "batch interrupted: "+err.Error())
			batch.Duration = time.Since(started)
			return batch, err
		}

		res := s.syncUser(ctx, userID, kind, items, full, fetchedAt)
		batch.Users = append(batch.Users, res)

		if res.Organize != nil {
			totals.Created += res.Organize.ReferencesCreated
			totals.Failed += res.Organize.ReferencesFailed
		}
	}

	status, detail := batchStatus(batch)
	s.closeBatchOp(ctx, batchOp, totals, status, detail)

	if batch.Failed() == 0 {
		if err := s.store.SetLastSync(ctx, models.SubjectGlobal, fetchedAt); err != nil {
			logging.Error().Err(err).Msg("Failed to record global sync mark")
		}
	}

	batch.Duration = time.Since(started)

	logging.Info().
		Str("kind", string(kind)).
		Int("items", batch.Items).
		Int("parse_failed", batch.ParseFailed).
		Int("members", len(batch.Users)).
		Int("completed", batch.Completed()).
		Int("failed", batch.Failed()).
		Int("conflicted", batch.Conflicted()).
		Dur("duration", batch.Duration).
		Msg("Sync batch finished")

	return batch, nil
}

// fetchItems lists the canonical folder (full or change window) and parses
// file names into canonical items. Unparseable files are logged, counted
// and skipped.
func (s *Synchronizer) fetchItems(ctx context.Context, folderID string, since time.Time) ([]models.CanonicalItem, int, error) {
	var (
		files []remote.File
		err   error
	)
	if since.IsZero() {
		files, err = s.source.ListItems(ctx, folderID, "", s.cfg.PageSize, 0)
	} else {
		files, err = s.source.ListChangedSince(ctx, folderID, since)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list canonical folder: %w", err)
	}

	items := make([]models.CanonicalItem, 0, len(files))
	failed := 0
	for _, f := range files {
		parsed, err := parse.Parse(f.Name)
		if err != nil {
			failed++
			logging.Warn().
				Err(err).
				Str("file_id", f.ID).
				Str("name", f.Name).
				Msg("Skipping unparseable file")
			continue
		}
		items = append(items, models.CanonicalItem{
			ID:         f.ID,
			Name:       f.Name,
			MediaKind:  parsed.MediaKind,
			AccessKey:  parsed.AccessKey,
			GroupKey:   parsed.Title,
			ModifiedAt: f.ModifiedAt,
			Size:       f.Size,
			MIMEType:   f.MIMEType,
		})
	}

	logging.Debug().
		Str("folder_id", folderID).
		Bool("full", since.IsZero()).
		Int("items", len(items)).
		Int("parse_failed", failed).
		Msg("Fetched canonical items")

	return items, failed, nil
}

// syncUser runs one member's pass: claim the view, make sure the root
// folder exists, reconcile the tree, then write the terminal status under
// the generation fence.
func (s *Synchronizer) syncUser(ctx context.Context, userID string, kind models.SyncKind, items []models.CanonicalItem, full bool, fetchedAt time.Time) UserResult {
	started := time.Now()
	res := UserResult{UserID: userID}
	defer func() {
		res.Duration = time.Since(started)
		metrics.RecordSyncPass(string(kind), string(res.Outcome), res.Duration)
	}()

	user, ok := s.directory.GetUser(userID)
	if !ok {
		res.Outcome = OutcomeError
		res.Err = fmt.Errorf("user %s not in member directory", userID)
		logging.Error().Str("user_id", userID).Msg("Sync requested for unknown member")
		return res
	}

	view, err := s.store.AcquireView(ctx, userID)
	if errors.Is(err, store.ErrLockConflict) {
		res.Outcome = OutcomeConflict
		logging.Debug().Str("user_id", userID).Msg("View busy, pass skipped")
		return res
	}
	if err != nil {
		res.Outcome = OutcomeError
		res.Err = fmt.Errorf("acquire view: %w", err)
		logging.Error().Err(err).Str("user_id", userID).Msg("Failed to acquire view")
		return res
	}
	gen := view.Generation

	op := models.NewSyncOperation(userID, kind)
	if err := s.store.PutOperation(ctx, op); err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Failed to open operation record")
	}

	orgRes, passErr := s.reconcile(ctx, view, user, items)
	res.Organize = orgRes

	if passErr != nil {
		res.Outcome, res.Err = s.failPass(ctx, op, userID, gen, passErr, orgRes, len(items))
		return res
	}

	res.Outcome, res.Err = s.completePass(ctx, op, userID, gen, orgRes, len(items), full, fetchedAt)
	return res
}

// reconcile makes sure the root folder exists, persisting its ID under the
// fence before any references are created, then runs the organizer.
func (s *Synchronizer) reconcile(ctx context.Context, view *models.UserView, user models.User, items []models.CanonicalItem) (*organize.Result, error) {
	if !view.HasFolder() {
		folderID, err := s.organizer.EnsureRoot(ctx, view, user)
		if err != nil {
			return nil, err
		}
		updated, err := s.store.UpdateViewIfCurrent(ctx, view.UserID, view.Generation, func(v *models.UserView) {
			v.FolderID = &folderID
		})
		if err != nil {
			return nil, fmt.Errorf("persist root folder: %w", err)
		}
		view = updated
	}
	return s.organizer.Organize(ctx, view, user, items)
}

// failPass writes the error status under the fence, closes the audit
// record and notifies the member. A fence mismatch downgrades the failure
// to a discarded result.
func (s *Synchronizer) failPass(ctx context.Context, op *models.SyncOperation, userID string, gen uint64, passErr error, orgRes *organize.Result, itemCount int) (Outcome, error) {
	detail := passErr.Error()

	_, uErr := s.store.UpdateViewIfCurrent(ctx, userID, gen, func(v *models.UserView) {
		v.Status = models.SyncStatusError
		v.LastError = &detail
	})
	if errors.Is(uErr, store.ErrGenerationMismatch) {
		op.Counts = countsFor(orgRes, itemCount)
		op.Close(models.SyncStatusStale, staleResetReason)
		s.putOp(ctx, op)
		logging.Warn().Str("user_id", userID).Msg("Failed pass was already reclaimed, result discarded")
		return OutcomeDiscarded, passErr
	}
	if uErr != nil {
		logging.Error().Err(uErr).Str("user_id", userID).Msg("Failed to write error status")
	}

	op.Counts = countsFor(orgRes, itemCount)
	op.Close(models.SyncStatusError, detail)
	s.putOp(ctx, op)

	s.broadcast(userID, EventSyncFailed, SyncEventPayload{UserID: userID, Status: string(models.SyncStatusError), Error: detail})
	logging.Error().Err(passErr).Str("user_id", userID).Msg("Sync pass failed")

	return OutcomeError, passErr
}

// completePass writes the success status and counts under the fence,
// advances the member's sync mark and notifies them. A fence mismatch
// discards the result without touching the record.
func (s *Synchronizer) completePass(ctx context.Context, op *models.SyncOperation, userID string, gen uint64, orgRes *organize.Result, itemCount int, full bool, fetchedAt time.Time) (Outcome, error) {
	completedAt := time.Now().UTC()

	updated, uErr := s.store.UpdateViewIfCurrent(ctx, userID, gen, func(v *models.UserView) {
		v.Status = models.SyncStatusCompleted
		v.LastError = nil
		at := completedAt
		v.LastSyncedAt = &at
		if full {
			v.ItemCount = orgRes.LiveReferences
			v.GroupCount = orgRes.GroupCount
		} else {
			// An incremental pass only saw the changed subset, so the
			// stored totals advance by what was created.
			v.ItemCount += orgRes.ReferencesCreated
			v.GroupCount += orgRes.FoldersCreated
		}
	})
	if errors.Is(uErr, store.ErrGenerationMismatch) {
		op.Counts = countsFor(orgRes, itemCount)
		op.Close(models.SyncStatusStale, staleResetReason)
		s.putOp(ctx, op)
		logging.Warn().Str("user_id", userID).Msg("Pass finished after reclamation, result discarded")
		return OutcomeDiscarded, nil
	}
	if uErr != nil {
		err := fmt.Errorf("write terminal status: %w", uErr)
		op.Counts = countsFor(orgRes, itemCount)
		op.Close(models.SyncStatusError, err.Error())
		s.putOp(ctx, op)
		logging.Error().Err(uErr).Str("user_id", userID).Msg("Failed to write completion status")
		return OutcomeError, err
	}

	if err := s.store.SetLastSync(ctx, userID, fetchedAt); err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Failed to record member sync mark")
	}

	op.Counts = countsFor(orgRes, itemCount)
	op.Close(models.SyncStatusCompleted, "")
	s.putOp(ctx, op)

	metrics.RecordSyncCounts(itemCount, orgRes.ReferencesCreated, orgRes.ReferencesFailed, orgRes.FoldersCreated)
	s.broadcast(userID, EventSyncCompleted, SyncEventPayload{
		UserID:    userID,
		Status:    string(models.SyncStatusCompleted),
		ItemCount: updated.ItemCount,
	})

	logging.Info().
		Str("user_id", userID).
		Int("folders_created", orgRes.FoldersCreated).
		Int("references_created", orgRes.ReferencesCreated).
		Int("references_failed", orgRes.ReferencesFailed).
		Int("item_count", updated.ItemCount).
		Msg("Sync pass completed")

	return OutcomeCompleted, nil
}

// ResetView clears a member's group folders (keeping the shared root),
// zeroes the counts, drops the incremental mark and returns the view to
// pending. The caller schedules the follow-up full pass. Returns
// store.ErrLockConflict while a pass is running.
func (s *Synchronizer) ResetView(ctx context.Context, userID string) error {
	view, err := s.store.AcquireView(ctx, userID)
	if err != nil {
		return err
	}

	op := models.NewSyncOperation(userID, models.SyncKindFull)
	if err := s.store.PutOperation(ctx, op); err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Failed to open reset operation record")
	}

	deleted, resetErr := s.organizer.Reset(ctx, view)
	if resetErr != nil {
		detail := resetErr.Error()
		if _, uErr := s.store.UpdateViewIfCurrent(ctx, userID, view.Generation, func(v *models.UserView) {
			v.Status = models.SyncStatusError
			v.LastError = &detail
		}); uErr != nil && !errors.Is(uErr, store.ErrGenerationMismatch) {
			logging.Error().Err(uErr).Str("user_id", userID).Msg("Failed to write reset error status")
		}
		op.Counts.Deleted = deleted
		op.Close(models.SyncStatusError, detail)
		s.putOp(ctx, op)
		return resetErr
	}

	if _, err := s.store.UpdateViewIfCurrent(ctx, userID, view.Generation, func(v *models.UserView) {
		v.Status = models.SyncStatusPending
		v.LastError = nil
		v.ItemCount = 0
		v.GroupCount = 0
	}); err != nil {
		return fmt.Errorf("reset view record: %w", err)
	}

	if err := s.store.DeleteLastSync(ctx, userID); err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Failed to drop sync mark on reset")
	}

	op.Counts.Deleted = deleted
	op.Close(models.SyncStatusCompleted, "")
	s.putOp(ctx, op)

	s.broadcast(userID, EventViewReset, SyncEventPayload{UserID: userID, Status: string(models.SyncStatusPending)})
	logging.Info().Str("user_id", userID).Int("folders_deleted", deleted).Msg("View reset")

	return nil
}

// broadcast pushes a bus event; the bus is optional and best-effort.
func (s *Synchronizer) broadcast(userID, event string, payload SyncEventPayload) {
	if s.bus == nil {
		return
	}
	s.bus.Broadcast(userID, event, payload)
}

// putOp persists an operation record, logging instead of failing the pass
// when the write does not stick.
func (s *Synchronizer) putOp(ctx context.Context, op *models.SyncOperation) {
	if err := s.store.PutOperation(ctx, op); err != nil {
		logging.Error().
			Err(err).
			Str("operation_id", op.ID.String()).
			Str("subject", op.Subject).
			Msg("Failed to persist operation record")
	}
}

// closeBatchOp closes the umbrella record of a multi-member batch.
func (s *Synchronizer) closeBatchOp(ctx context.Context, op *models.SyncOperation, counts models.OperationCounts, status models.SyncStatus, detail string) {
	if op == nil {
		return
	}
	op.Counts = counts
	op.Close(status, detail)
	s.putOp(ctx, op)
}

// countsFor maps an organize result onto the audit record counts.
func countsFor(orgRes *organize.Result, itemCount int) models.OperationCounts {
	counts := models.OperationCounts{Processed: itemCount}
	if orgRes != nil {
		counts.Created = orgRes.ReferencesCreated
		counts.Failed = orgRes.ReferencesFailed
	}
	return counts
}

// batchStatus derives the audit status for the batch record. Conflicts are
// normal skips, so a batch of skips still closes as completed.
func batchStatus(batch *BatchResult) (models.SyncStatus, string) {
	failed := batch.Failed()
	if failed == 0 {
		return models.SyncStatusCompleted, ""
	}

	parts := make([]string, 0, failed)
	for _, u := range batch.Users {
		if u.Outcome == OutcomeError && u.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", u.UserID, u.Err))
		}
	}
	detail := fmt.Sprintf("%d of %d member passes failed: %s", failed, len(batch.Users), strings.Join(parts, "; "))
	return models.SyncStatusError, detail
}

// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package organize reconciles one member's view folder tree against the
// subset of the canonical library their roles allow.
//
// The organizer is additive and idempotent: it lists what already exists
// under the view root, creates only what is missing, and never touches a
// folder or reference that is already in place. Deletion is reserved for
// the explicit Reset path. All remote calls go through the gateway, so
// rate limiting, retries and the circuit breaker apply uniformly.
package organize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bandworks/chartsync/internal/access"
	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/models"
	"github.com/bandworks/chartsync/internal/remote"
)

// Duration estimate clamp, in seconds. Estimates are shown to members
// waiting on a pass, so they stay inside a believable range.
const (
	minEstimateSeconds = 5
	maxEstimateSeconds = 300
)

// defaultBatchSize is used when the configured reference batch size is
// missing or nonsensical.
const defaultBatchSize = 50

// StorageAPI is the slice of the remote gateway the organizer needs.
// Declared here so tests can substitute a fake without a live provider.
type StorageAPI interface {
	ListChildren(ctx context.Context, parentID, mimeType string) ([]remote.File, error)
	CreateFolder(ctx context.Context, name, parentID string) (*remote.File, error)
	CreateShortcut(ctx context.Context, name, targetID, parentID string) (*remote.File, error)
	ShareReader(ctx context.Context, fileID, email string) error
	Delete(ctx context.Context, fileID string) error
}

// ReconciliationError marks a structural failure: the root folder or a
// group folder could not be listed, created or removed. It is fatal to the
// owning member's pass (there is nowhere safe to put references) but never
// to the batch; other members continue.
type ReconciliationError struct {
	UserID string
	Stage  string
	Err    error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciling %s for user %s: %v", e.Stage, e.UserID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// Result counts what one reconciliation did to a view tree.
type Result struct {
	// FoldersCreated is the number of group folders created this pass.
	FoldersCreated int `json:"folders_created"`

	// ReferencesCreated counts item references created this pass.
	ReferencesCreated int `json:"references_created"`

	// ReferencesFailed counts references that could not be created and
	// were skipped.
	ReferencesFailed int `json:"references_failed"`

	// GroupCount is the number of groups in the visible set.
	GroupCount int `json:"group_count"`

	// LiveReferences is the reference total after the pass: references
	// that already existed for visible items plus those created now.
	LiveReferences int `json:"live_references"`
}

// pendingRef is one shortcut creation queued for the batch loop.
type pendingRef struct {
	folderID string
	group    string
	item     models.CanonicalItem
}

// Organizer builds and repairs view folder trees.
type Organizer struct {
	api       StorageAPI
	batchSize int
	pause     time.Duration
}

// New returns an organizer with batching taken from cfg.
func New(api StorageAPI, cfg *config.SyncConfig) *Organizer {
	batch := cfg.ReferenceBatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Organizer{
		api:       api,
		batchSize: batch,
		pause:     cfg.BatchPause,
	}
}

// EnsureRoot guarantees the member's view root folder exists and is shared
// read-only with their email, and returns the folder ID. A view that
// already records a folder ID is trusted as-is; the stored ID is the
// idempotency anchor for the root.
func (o *Organizer) EnsureRoot(ctx context.Context, view *models.UserView, user models.User) (string, error) {
	if view.HasFolder() {
		return *view.FolderID, nil
	}

	folder, err := o.api.CreateFolder(ctx, rootFolderName(user.ID), "")
	if err != nil {
		return "", &ReconciliationError{UserID: view.UserID, Stage: "root folder", Err: err}
	}
	if err := o.api.ShareReader(ctx, folder.ID, user.Email); err != nil {
		return "", &ReconciliationError{UserID: view.UserID, Stage: "root folder share", Err: err}
	}

	logging.Info().
		Str("user_id", view.UserID).
		Str("folder_id", folder.ID).
		Str("email", user.Email).
		Msg("Created view root folder")

	return folder.ID, nil
}

// Organize reconciles the tree under the view's root folder so it mirrors
// the member's visible subset of items, grouped by song. Existing group
// folders and references are reused; only missing pieces are created.
// Structural failures abort with a ReconciliationError; a failure creating
// one reference is logged, counted and skipped.
func (o *Organizer) Organize(ctx context.Context, view *models.UserView, user models.User, items []models.CanonicalItem) (*Result, error) {
	res := &Result{}
	if !view.HasFolder() {
		return res, &ReconciliationError{UserID: view.UserID, Stage: "root folder", Err: errors.New("view has no root folder")}
	}
	rootID := *view.FolderID

	keys := access.KeysForInstruments(user.Instruments)
	visible := access.Filter(keys, items)

	groups := groupByKey(visible)
	res.GroupCount = len(groups)

	existing, err := o.api.ListChildren(ctx, rootID, remote.MIMETypeFolder)
	if err != nil {
		return res, &ReconciliationError{UserID: view.UserID, Stage: "group folder listing", Err: err}
	}
	folderIDs := make(map[string]string, len(existing))
	for _, f := range existing {
		folderIDs[f.Name] = f.ID
	}

	var pending []pendingRef
	for _, name := range sortedNames(groups) {
		folderID, ok := folderIDs[name]
		if !ok {
			folder, err := o.api.CreateFolder(ctx, name, rootID)
			if err != nil {
				return res, &ReconciliationError{UserID: view.UserID, Stage: fmt.Sprintf("group folder %q", name), Err: err}
			}
			folderID = folder.ID
			res.FoldersCreated++
		}

		// Existing references in this group, by target. Without the
		// listing we cannot create safely, so a failure here is
		// structural.
		children, err := o.api.ListChildren(ctx, folderID, remote.MIMETypeShortcut)
		if err != nil {
			return res, &ReconciliationError{UserID: view.UserID, Stage: fmt.Sprintf("reference listing for group %q", name), Err: err}
		}
		have := make(map[string]bool, len(children))
		for _, c := range children {
			if c.TargetID != "" {
				have[c.TargetID] = true
			}
		}

		for _, item := range groups[name] {
			if have[item.ID] {
				res.LiveReferences++
				continue
			}
			pending = append(pending, pendingRef{folderID: folderID, group: name, item: item})
		}
	}

	if err := o.createReferences(ctx, view.UserID, pending, res); err != nil {
		return res, err
	}

	logging.Debug().
		Str("user_id", view.UserID).
		Int("groups", res.GroupCount).
		Int("folders_created", res.FoldersCreated).
		Int("references_created", res.ReferencesCreated).
		Int("references_failed", res.ReferencesFailed).
		Int("live_references", res.LiveReferences).
		Msg("View tree reconciled")

	return res, nil
}

// createReferences creates the queued shortcuts in batches with a courtesy
// pause between batches. Per-reference failures are logged and counted but
// never abort the pass; only context cancellation stops the loop.
func (o *Organizer) createReferences(ctx context.Context, userID string, pending []pendingRef, res *Result) error {
	for start := 0; start < len(pending); start += o.batchSize {
		end := start + o.batchSize
		if end > len(pending) {
			end = len(pending)
		}

		if start > 0 && o.pause > 0 {
			select {
			case <-time.After(o.pause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, ref := range pending[start:end] {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := o.api.CreateShortcut(ctx, ref.item.Name, ref.item.ID, ref.folderID); err != nil {
				res.ReferencesFailed++
				logging.Error().
					Err(err).
					Str("user_id", userID).
					Str("group", ref.group).
					Str("item_id", ref.item.ID).
					Str("item_name", ref.item.Name).
					Msg("Failed to create item reference, skipping")
				continue
			}
			res.ReferencesCreated++
			res.LiveReferences++
		}
	}
	return nil
}

// Reset deletes every group folder under the view root, leaving the root
// itself (and its share) in place. The next pass rebuilds from scratch.
// Returns the number of folders deleted.
func (o *Organizer) Reset(ctx context.Context, view *models.UserView) (int, error) {
	if !view.HasFolder() {
		return 0, nil
	}

	folders, err := o.api.ListChildren(ctx, *view.FolderID, remote.MIMETypeFolder)
	if err != nil {
		return 0, &ReconciliationError{UserID: view.UserID, Stage: "reset listing", Err: err}
	}

	deleted := 0
	for _, f := range folders {
		if err := o.api.Delete(ctx, f.ID); err != nil {
			return deleted, &ReconciliationError{UserID: view.UserID, Stage: fmt.Sprintf("reset of group folder %q", f.Name), Err: err}
		}
		deleted++
	}

	logging.Info().
		Str("user_id", view.UserID).
		Int("folders_deleted", deleted).
		Msg("Reset view folder tree")

	return deleted, nil
}

// EstimateSeconds predicts the wall-clock duration of a pass from the last
// known tree shape. Folder round-trips dominate; references amortize
// across batches.
func EstimateSeconds(groupCount, itemCount int) int {
	estimate := 1.2 * (2*float64(groupCount) + 0.5*float64(itemCount))
	seconds := int(math.Round(estimate))
	if seconds < minEstimateSeconds {
		return minEstimateSeconds
	}
	if seconds > maxEstimateSeconds {
		return maxEstimateSeconds
	}
	return seconds
}

// rootFolderName is the display name of a member's view root.
func rootFolderName(userID string) string {
	return "Chartsync - " + userID
}

// groupByKey buckets items by group key, preserving input order inside
// each group.
func groupByKey(items []models.CanonicalItem) map[string][]models.CanonicalItem {
	groups := make(map[string][]models.CanonicalItem)
	for _, item := range items {
		groups[item.GroupKey] = append(groups[item.GroupKey], item)
	}
	return groups
}

// sortedNames returns group names in sorted order so passes are
// deterministic and logs comparable between runs.
func sortedNames(groups map[string][]models.CanonicalItem) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

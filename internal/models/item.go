// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package models

import "time"

// MediaKind classifies a canonical item for access filtering.
type MediaKind string

// MediaKind values.
const (
	// MediaKindRestrictedDocument is a chart restricted to roles holding
	// the item's access key (e.g. a Bb transposition of a song).
	MediaKindRestrictedDocument MediaKind = "restricted-document"

	// MediaKindUniversalMedia is visible to every member regardless of
	// role: reference recordings, lyrics, images.
	MediaKindUniversalMedia MediaKind = "universal-media"

	// MediaKindOther is recognized but not exposed in any view.
	MediaKindOther MediaKind = "other"
)

// IsValid reports whether k is a known media kind.
func (k MediaKind) IsValid() bool {
	switch k {
	case MediaKindRestrictedDocument, MediaKindUniversalMedia, MediaKindOther:
		return true
	default:
		return false
	}
}

// CanonicalItem is one file in the source-of-truth folder, enriched with
// parsed metadata. Identity is the remote ID; display name, timestamp and
// size may change between passes. Canonical items are never persisted:
// each pass re-derives them from the remote listing.
type CanonicalItem struct {
	// ID is the stable remote file ID.
	ID string `json:"id"`

	// Name is the display name as stored remotely.
	Name string `json:"name"`

	// MediaKind drives visibility (see MediaKind values).
	MediaKind MediaKind `json:"media_kind"`

	// AccessKey is the role-partitioning label, present only for
	// restricted documents (e.g. "Bb", "Eb").
	AccessKey *string `json:"access_key,omitempty"`

	// GroupKey is the logical group (song title) the item belongs to,
	// derived by the filename parser.
	GroupKey string `json:"group_key"`

	// ModifiedAt is the remote last-modified timestamp.
	ModifiedAt time.Time `json:"modified_at"`

	// Size in bytes as reported by the remote.
	Size int64 `json:"size"`

	// MIMEType as reported by the remote.
	MIMEType string `json:"mime_type"`
}

// HasAccessKey reports whether the item carries a role access key.
func (i *CanonicalItem) HasAccessKey() bool {
	return i.AccessKey != nil && *i.AccessKey != ""
}

// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package access decides which canonical items a member may see.
//
// The mapping has two halves: instrument names resolve to transposition
// access keys, and items are visible when they are universal media or carry
// one of the member's keys. Everything here is pure and stateless; this is
// the security boundary for view content, so the rules live in one place.
package access

import (
	"sort"
	"strings"

	"github.com/bandworks/chartsync/internal/models"
)

// Access keys. Charts are written per transposition, so one key per
// instrument family is enough.
const (
	KeyConcert = "C"
	KeyBFlat   = "Bb"
	KeyEFlat   = "Eb"
	KeyF       = "F"
	KeyBass    = "bass"
)

// instrumentKeys maps normalized instrument names to their access key.
// Concert-pitch instruments read from the C chart, transposing instruments
// from their family's chart, and low brass from bass clef parts.
var instrumentKeys = map[string]string{
	// Concert pitch
	"flute":      KeyConcert,
	"oboe":       KeyConcert,
	"bassoon":    KeyConcert,
	"violin":     KeyConcert,
	"viola":      KeyConcert,
	"cello":      KeyConcert,
	"piano":      KeyConcert,
	"guitar":     KeyConcert,
	"vocals":     KeyConcert,
	"percussion": KeyConcert,
	"drums":      KeyConcert,

	// Bb transposing
	"trumpet":       KeyBFlat,
	"cornet":        KeyBFlat,
	"clarinet":      KeyBFlat,
	"bass clarinet": KeyBFlat,
	"tenor sax":     KeyBFlat,
	"soprano sax":   KeyBFlat,
	"flugelhorn":    KeyBFlat,

	// Eb transposing
	"alto sax":     KeyEFlat,
	"baritone sax": KeyEFlat,
	"alto horn":    KeyEFlat,

	// F transposing
	"french horn":  KeyF,
	"english horn": KeyF,

	// Bass clef
	"trombone":    KeyBass,
	"euphonium":   KeyBass,
	"baritone":    KeyBass,
	"tuba":        KeyBass,
	"sousaphone":  KeyBass,
	"bass guitar": KeyBass,
}

// KeySet is the set of access keys granted to a member.
type KeySet map[string]struct{}

// Contains reports whether the set grants the given key.
func (s KeySet) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

// Sorted returns the keys in sorted order for deterministic logging.
func (s KeySet) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeyForInstrument returns the access key for one instrument name.
// Lookup is case-insensitive and whitespace-tolerant; unknown instruments
// fall back to the concert key so a misspelled roster entry fails open to
// the universal chart rather than an empty view.
func KeyForInstrument(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if key, ok := instrumentKeys[normalized]; ok {
		return key
	}
	return KeyConcert
}

// KeysForInstruments resolves a member's instrument list to their key set.
// A member playing instruments in several families holds every matching key.
func KeysForInstruments(instruments []string) KeySet {
	keys := make(KeySet, len(instruments))
	for _, name := range instruments {
		keys[KeyForInstrument(name)] = struct{}{}
	}
	return keys
}

// Visible reports whether an item may appear in a view filtered by keys.
// Universal media is always visible; restricted documents require a matching
// access key; anything else is hidden.
func Visible(keys KeySet, item *models.CanonicalItem) bool {
	switch item.MediaKind {
	case models.MediaKindUniversalMedia:
		return true
	case models.MediaKindRestrictedDocument:
		return item.HasAccessKey() && keys.Contains(*item.AccessKey)
	default:
		return false
	}
}

// Filter returns the subset of items visible through the given key set,
// preserving input order.
func Filter(keys KeySet, items []models.CanonicalItem) []models.CanonicalItem {
	visible := make([]models.CanonicalItem, 0, len(items))
	for i := range items {
		if Visible(keys, &items[i]) {
			visible = append(visible, items[i])
		}
	}
	return visible
}

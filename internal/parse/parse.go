// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package parse derives item metadata from raw file names.
//
// The ensemble's naming convention encodes everything the engine needs:
// the extension classifies the media kind, a trailing _<key> token on a
// document names its transposition, and audio files may carry a marker
// token (ref, demo, full) that is part of the recording's role, not the
// song title. Parsing is pure; a file that cannot be parsed is skipped by
// the caller, never fatal to a pass.
package parse

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bandworks/chartsync/internal/models"
)

// Result is the parsed metadata for one raw file name.
type Result struct {
	// Title is the logical group key, normally the song title.
	Title string

	// AccessKey is set only for restricted documents.
	AccessKey *string

	// MediaKind classifies the item for access filtering.
	MediaKind models.MediaKind
}

// Error reports an unparseable file name. Callers log and skip the file.
type Error struct {
	Name   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Name, e.Reason)
}

// documentExts are chart-like formats that may carry a transposition key.
var documentExts = map[string]struct{}{
	".pdf":      {},
	".doc":      {},
	".docx":     {},
	".odt":      {},
	".rtf":      {},
	".txt":      {},
	".musicxml": {},
	".mxl":      {},
}

// audioExts are reference recordings, always universal.
var audioExts = map[string]struct{}{
	".mp3":  {},
	".wav":  {},
	".m4a":  {},
	".flac": {},
	".ogg":  {},
	".aac":  {},
	".aiff": {},
	".wma":  {},
	".mid":  {},
	".midi": {},
}

// imageExts are cover art and stage plots, always universal.
var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".heic": {},
	".tiff": {},
	".bmp":  {},
	".svg":  {},
}

// keyTokens maps lowercased trailing tokens to canonical access keys.
var keyTokens = map[string]string{
	"c":    "C",
	"bb":   "Bb",
	"eb":   "Eb",
	"f":    "F",
	"bass": "bass",
}

// audioMarkers are trailing tokens on recordings that describe the take,
// not the song, and are stripped from the group title.
var audioMarkers = map[string]struct{}{
	"ref":  {},
	"demo": {},
	"full": {},
}

// Parse derives the title, access key and media kind from a raw file name.
//
// Examples:
//   - "SongA_Bb.pdf"  -> {Title: "SongA", AccessKey: "Bb", restricted-document}
//   - "SongA_ref.mp3" -> {Title: "SongA", universal-media}
//   - "Lyrics.pdf"    -> {Title: "Lyrics", universal-media}
//   - "notes.bak"     -> {Title: "notes", other}
func Parse(rawName string) (Result, error) {
	name := strings.TrimSpace(rawName)
	if name == "" {
		return Result{}, &Error{Name: rawName, Reason: "empty name"}
	}

	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSpace(strings.TrimSuffix(name, filepath.Ext(name)))
	if base == "" {
		return Result{}, &Error{Name: rawName, Reason: "no title before extension"}
	}

	switch {
	case isDocument(ext):
		return parseDocument(rawName, base)
	case isAudio(ext):
		return Result{Title: stripAudioMarker(base), MediaKind: models.MediaKindUniversalMedia}, nil
	case isImage(ext):
		return Result{Title: base, MediaKind: models.MediaKindUniversalMedia}, nil
	default:
		return Result{Title: base, MediaKind: models.MediaKindOther}, nil
	}
}

// parseDocument resolves the optional trailing _<key> token. Documents
// without a key token (lyrics, set lists) are universal.
func parseDocument(rawName, base string) (Result, error) {
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return Result{Title: base, MediaKind: models.MediaKindUniversalMedia}, nil
	}

	token := strings.TrimSpace(base[idx+1:])
	key, ok := keyTokens[strings.ToLower(token)]
	if !ok {
		return Result{Title: base, MediaKind: models.MediaKindUniversalMedia}, nil
	}

	title := strings.TrimSpace(base[:idx])
	if title == "" {
		return Result{}, &Error{Name: rawName, Reason: "key token without a title"}
	}

	return Result{
		Title:     title,
		AccessKey: &key,
		MediaKind: models.MediaKindRestrictedDocument,
	}, nil
}

// stripAudioMarker removes a recognized trailing marker token. A bare
// marker name ("ref.mp3") has no underscore and is kept as the title.
func stripAudioMarker(base string) string {
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return base
	}
	token := strings.ToLower(strings.TrimSpace(base[idx+1:]))
	if _, ok := audioMarkers[token]; !ok {
		return base
	}
	if title := strings.TrimSpace(base[:idx]); title != "" {
		return title
	}
	return base
}

func isDocument(ext string) bool {
	_, ok := documentExts[ext]
	return ok
}

func isAudio(ext string) bool {
	_, ok := audioExts[ext]
	return ok
}

func isImage(ext string) bool {
	_, ok := imageExts[ext]
	return ok
}

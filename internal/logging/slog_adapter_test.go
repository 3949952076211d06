// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogHandlerLevels(t *testing.T) {
	var buf bytes.Buffer

	SetLogger(zerolog.New(&buf))
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	logger := slog.New(NewSlogHandler())

	tests := []struct {
		name  string
		log   func()
		level string
	}{
		{"Debug", func() { logger.Debug("debug msg") }, `"level":"debug"`},
		{"Info", func() { logger.Info("info msg") }, `"level":"info"`},
		{"Warn", func() { logger.Warn("warn msg") }, `"level":"warn"`},
		{"Error", func() { logger.Error("error msg") }, `"level":"error"`},
	}

	for _, tt := range tests {
		buf.Reset()
		tt.log()
		if !strings.Contains(buf.String(), tt.level) {
			t.Errorf("%s: expected %s in output: %s", tt.name, tt.level, buf.String())
		}
	}
}

func TestSlogHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer

	SetLogger(zerolog.New(&buf))

	logger := slog.New(NewSlogHandler()).With("service", "sync-engine")
	logger.Info("started", slog.Int("workers", 5))

	output := buf.String()
	if !strings.Contains(output, `"service":"sync-engine"`) {
		t.Errorf("expected preset attr in output: %s", output)
	}
	if !strings.Contains(output, `"workers":5`) {
		t.Errorf("expected record attr in output: %s", output)
	}
}

func TestSlogHandlerGroups(t *testing.T) {
	var buf bytes.Buffer

	SetLogger(zerolog.New(&buf))

	logger := slog.New(NewSlogHandler()).WithGroup("pass")
	logger.Info("done", slog.String("user", "u1"))

	output := buf.String()
	if !strings.Contains(output, `"pass.user":"u1"`) {
		t.Errorf("expected grouped key in output: %s", output)
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	var buf bytes.Buffer

	SetLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	h := NewSlogHandler()
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug to be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error to be enabled at warn level")
	}
}

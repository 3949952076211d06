// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package config holds all Chartsync configuration, loaded via Koanf v2
// with layered sources (highest priority wins):
//
//  1. Built-in defaults
//  2. Config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables
//
// Members (the ensemble roster with instruments and share emails) can only
// come from the config file; everything else is also reachable through
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/bandworks/chartsync/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Remote  RemoteConfig   `koanf:"remote"`
	Sync    SyncConfig     `koanf:"sync"`
	Webhook WebhookConfig  `koanf:"webhook"`
	Server  ServerConfig   `koanf:"server"`
	Store   StoreConfig    `koanf:"store"`
	API     APIConfig      `koanf:"api"`
	Logging LoggingConfig  `koanf:"logging"`
	Members []MemberConfig `koanf:"members"`
}

// RemoteConfig configures the cloud storage provider connection.
type RemoteConfig struct {
	// BaseURL is the provider API root, scheme and host only.
	BaseURL string `koanf:"base_url"`

	// Token is the bearer credential handed to the engine. Token
	// acquisition and refresh happen outside this service.
	Token string `koanf:"token"`

	// Timeout bounds a single HTTP request attempt.
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is the steady outbound request rate in requests/second.
	// The token bucket size equals this rate.
	RateLimit float64 `koanf:"rate_limit"`

	Retry RetryConfig `koanf:"retry"`
}

// RetryConfig tunes the exponential backoff around remote calls.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	Multiplier  float64       `koanf:"multiplier"`
	MaxElapsed  time.Duration `koanf:"max_elapsed"`
	Jitter      bool          `koanf:"jitter"`
}

// SyncConfig tunes reconciliation passes and the engine.
type SyncConfig struct {
	// SourceFolderID is the canonical folder all views derive from.
	SourceFolderID string `koanf:"source_folder_id"`

	// Interval between scheduled full passes.
	Interval time.Duration `koanf:"interval"`

	// StaleTimeout is how long a pass may stay in-progress before the
	// sweep reclaims it.
	StaleTimeout time.Duration `koanf:"stale_timeout"`

	// SweepInterval is how often the stale sweep runs.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// HealthInterval is how often the engine logs a health snapshot.
	HealthInterval time.Duration `koanf:"health_interval"`

	// MaxConcurrent bounds simultaneous reconciliation passes.
	MaxConcurrent int `koanf:"max_concurrent"`

	// ReferenceBatchSize chunks shortcut creation per user.
	ReferenceBatchSize int `koanf:"reference_batch_size"`

	// BatchPause is the courtesy pause between reference batches, on
	// top of the rate limiter.
	BatchPause time.Duration `koanf:"batch_pause"`

	// MetadataChunkSize chunks batch metadata fetches (provider caps
	// this at 100).
	MetadataChunkSize int `koanf:"metadata_chunk_size"`

	// PageSize for remote listing requests.
	PageSize int `koanf:"page_size"`
}

// WebhookConfig configures change-notification channels.
type WebhookConfig struct {
	Enabled bool `koanf:"enabled"`

	// CallbackURL is the public address the provider posts
	// notifications to.
	CallbackURL string `koanf:"callback_url"`

	// Secret signs notification bodies (HMAC-SHA256). Empty disables
	// signature verification.
	Secret string `koanf:"secret"`

	// RenewMargin re-registers channels that expire within the margin.
	RenewMargin time.Duration `koanf:"renew_margin"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ListenAddr returns the host:port the HTTP server binds.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig configures the BadgerDB record store.
type StoreConfig struct {
	// Path is the on-disk store directory.
	Path string `koanf:"path"`

	// InMemory runs Badger without persistence; test/dev only.
	InMemory bool `koanf:"in_memory"`
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_requests"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// MemberConfig is one roster entry.
type MemberConfig struct {
	ID          string   `koanf:"id"`
	Email       string   `koanf:"email"`
	Instruments []string `koanf:"instruments"`
}

// Directory is a member lookup backed by the configured roster.
type Directory struct {
	byID  map[string]models.User
	order []string
}

// NewDirectory builds a Directory from roster entries.
func NewDirectory(members []MemberConfig) *Directory {
	d := &Directory{byID: make(map[string]models.User, len(members))}
	for _, m := range members {
		if _, dup := d.byID[m.ID]; dup {
			continue
		}
		d.byID[m.ID] = models.User{
			ID:          m.ID,
			Email:       m.Email,
			Instruments: append([]string(nil), m.Instruments...),
		}
		d.order = append(d.order, m.ID)
	}
	return d
}

// GetUser returns the member with the given ID.
func (d *Directory) GetUser(userID string) (models.User, bool) {
	u, ok := d.byID[userID]
	return u, ok
}

// ListUsers returns all members in roster order.
func (d *Directory) ListUsers() []models.User {
	users := make([]models.User, 0, len(d.order))
	for _, id := range d.order {
		users = append(users, d.byID[id])
	}
	return users
}

// Directory builds the member directory from the loaded roster.
func (c *Config) Directory() *Directory {
	return NewDirectory(c.Members)
}

// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chartsync/config.yaml",
	"/etc/chartsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults load
// first, then the config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:   "",
			Token:     "",
			Timeout:   30 * time.Second,
			RateLimit: 10,
			Retry: RetryConfig{
				MaxAttempts: 5,
				BaseDelay:   500 * time.Millisecond,
				Multiplier:  2.0,
				MaxElapsed:  2 * time.Minute,
				Jitter:      true,
			},
		},
		Sync: SyncConfig{
			SourceFolderID:     "",
			Interval:           6 * time.Hour,
			StaleTimeout:       30 * time.Minute,
			SweepInterval:      time.Hour,
			HealthInterval:     60 * time.Second,
			MaxConcurrent:      5,
			ReferenceBatchSize: 50,
			BatchPause:         2 * time.Second,
			MetadataChunkSize:  100,
			PageSize:           100,
		},
		Webhook: WebhookConfig{
			Enabled:     false,
			CallbackURL: "",
			Secret:      "",
			RenewMargin: 12 * time.Hour,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path:     "./data/chartsync",
			InMemory: false,
		},
		API: APIConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//
//  1. Defaults: built-in values
//  2. Config file: optional YAML (if one exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// REMOTE_BASE_URL -> remote.base_url, etc.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, env override first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when they arrive as env strings.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from the YAML file): skip.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so random environment noise cannot
// pollute the config.
//
// Examples:
//   - REMOTE_BASE_URL -> remote.base_url
//   - SYNC_STALE_TIMEOUT -> sync.stale_timeout
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Remote provider
		"remote_base_url":          "remote.base_url",
		"remote_token":             "remote.token",
		"remote_timeout":           "remote.timeout",
		"remote_rate_limit":        "remote.rate_limit",
		"remote_retry_attempts":    "remote.retry.max_attempts",
		"remote_retry_base_delay":  "remote.retry.base_delay",
		"remote_retry_multiplier":  "remote.retry.multiplier",
		"remote_retry_max_elapsed": "remote.retry.max_elapsed",
		"remote_retry_jitter":      "remote.retry.jitter",

		// Sync engine
		"source_folder_id":          "sync.source_folder_id",
		"sync_interval":             "sync.interval",
		"sync_stale_timeout":        "sync.stale_timeout",
		"sync_sweep_interval":       "sync.sweep_interval",
		"sync_health_interval":      "sync.health_interval",
		"sync_max_concurrent":       "sync.max_concurrent",
		"sync_reference_batch_size": "sync.reference_batch_size",
		"sync_batch_pause":          "sync.batch_pause",
		"sync_metadata_chunk_size":  "sync.metadata_chunk_size",
		"sync_page_size":            "sync.page_size",

		// Webhook channel
		"webhook_enabled":      "webhook.enabled",
		"webhook_callback_url": "webhook.callback_url",
		"webhook_secret":       "webhook.secret",
		"webhook_renew_margin": "webhook.renew_margin",

		// HTTP server
		"http_host":             "server.host",
		"http_port":             "server.port",
		"http_read_timeout":     "server.read_timeout",
		"http_write_timeout":    "server.write_timeout",
		"http_shutdown_timeout": "server.shutdown_timeout",

		// Record store
		"store_path":      "store.path",
		"store_in_memory": "store.in_memory",

		// API surface
		"cors_origins":        "api.cors_origins",
		"rate_limit_requests": "api.rate_limit_requests",
		"rate_limit_window":   "api.rate_limit_window",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}

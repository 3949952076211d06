// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// metadataChunkCap is the provider's hard limit on batch metadata IDs.
const metadataChunkCap = 100

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateRemote(); err != nil {
		return err
	}

	if err := c.validateSync(); err != nil {
		return err
	}

	if err := c.validateWebhook(); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateMembers(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateRemote() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("REMOTE_BASE_URL is required")
	}
	if err := validateHTTPURL(c.Remote.BaseURL, "REMOTE_BASE_URL"); err != nil {
		return err
	}
	if c.Remote.RateLimit <= 0 {
		return fmt.Errorf("REMOTE_RATE_LIMIT must be positive, got %v", c.Remote.RateLimit)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive, got %v", c.Remote.Timeout)
	}

	r := c.Remote.Retry
	if r.MaxAttempts < 1 {
		return fmt.Errorf("REMOTE_RETRY_ATTEMPTS must be at least 1, got %d", r.MaxAttempts)
	}
	if r.BaseDelay <= 0 {
		return fmt.Errorf("REMOTE_RETRY_BASE_DELAY must be positive, got %v", r.BaseDelay)
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("REMOTE_RETRY_MULTIPLIER must be at least 1, got %v", r.Multiplier)
	}
	if r.MaxElapsed <= 0 {
		return fmt.Errorf("REMOTE_RETRY_MAX_ELAPSED must be positive, got %v", r.MaxElapsed)
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.SourceFolderID == "" {
		return fmt.Errorf("SOURCE_FOLDER_ID is required")
	}
	if c.Sync.MaxConcurrent < 1 {
		return fmt.Errorf("SYNC_MAX_CONCURRENT must be at least 1, got %d", c.Sync.MaxConcurrent)
	}
	if c.Sync.StaleTimeout <= 0 {
		return fmt.Errorf("SYNC_STALE_TIMEOUT must be positive, got %v", c.Sync.StaleTimeout)
	}
	if c.Sync.ReferenceBatchSize < 1 {
		return fmt.Errorf("SYNC_REFERENCE_BATCH_SIZE must be at least 1, got %d", c.Sync.ReferenceBatchSize)
	}
	if c.Sync.MetadataChunkSize < 1 || c.Sync.MetadataChunkSize > metadataChunkCap {
		return fmt.Errorf("SYNC_METADATA_CHUNK_SIZE must be in 1..%d, got %d",
			metadataChunkCap, c.Sync.MetadataChunkSize)
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 1000 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be in 1..1000, got %d", c.Sync.PageSize)
	}
	return nil
}

func (c *Config) validateWebhook() error {
	if !c.Webhook.Enabled {
		return nil
	}
	if c.Webhook.CallbackURL == "" {
		return fmt.Errorf("WEBHOOK_CALLBACK_URL is required when WEBHOOK_ENABLED=true")
	}
	parsed, err := url.Parse(c.Webhook.CallbackURL)
	if err != nil {
		return fmt.Errorf("WEBHOOK_CALLBACK_URL is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("WEBHOOK_CALLBACK_URL scheme must be http or https, got: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("WEBHOOK_CALLBACK_URL host is required")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be in 1..65535, got %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateMembers() error {
	seen := make(map[string]struct{}, len(c.Members))
	for i, m := range c.Members {
		if m.ID == "" {
			return fmt.Errorf("members[%d]: id is required", i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("members[%d]: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Email == "" || !strings.Contains(m.Email, "@") {
			return fmt.Errorf("members[%d] (%s): valid email is required", i, m.ID)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// validateHTTPURL validates a base URL for HTTP/HTTPS services: scheme,
// host present, no path or query.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return fmt.Errorf("%s should be base URL only, remove path: %s", fieldName, parsedURL.Path)
	}

	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}

	return nil
}

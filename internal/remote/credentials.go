// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package remote

import "context"

// CredentialProvider supplies the bearer token attached to every remote
// request. Implementations must be safe for concurrent use.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticProvider serves a fixed token from configuration. Token acquisition
// and refresh happen outside Chartsync; rotating the credential means
// restarting the service with the new value.
type StaticProvider struct {
	token string
}

// NewStaticProvider wraps a configured token.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

// Token returns the configured credential. An empty token is a
// CredentialError so a misconfigured deployment fails its first pass
// instead of sending unauthenticated requests.
func (p *StaticProvider) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", &CredentialError{Detail: "no token configured"}
	}
	return p.token, nil
}

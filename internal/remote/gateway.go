// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/models"
)

// MIME types the provider uses for structural objects. Content files carry
// their regular document/audio/image types.
const (
	MIMETypeFolder   = "application/vnd.storage.folder"
	MIMETypeShortcut = "application/vnd.storage.shortcut"
)

// batchGetCap is the provider's hard ceiling on IDs per batch metadata
// request; the configured chunk size is clamped to it.
const batchGetCap = 100

// documentMIMETypes are the document-like types allowed in content
// listings. Audio and image types are matched by prefix instead.
var documentMIMETypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.oasis.opendocument.text":                                 {},
	"application/rtf":                                                         {},
	"text/plain":                                                              {},
	"application/vnd.recordare.musicxml":                                      {},
	"application/vnd.recordare.musicxml+xml":                                  {},
}

// allowedContentMIME reports whether a listed file belongs in a content
// listing: document-like, audio-like or image-like.
func allowedContentMIME(mimeType string) bool {
	if strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "image/") {
		return true
	}
	_, ok := documentMIMETypes[mimeType]
	return ok
}

// File is one remote object as the provider reports it. The syncer turns
// content files into canonical items via the filename parser; the organizer
// reads folders and shortcuts structurally.
type File struct {
	ID         string
	Name       string
	MIMEType   string
	Parents    []string
	TargetID   string // set on shortcuts
	Size       int64
	ModifiedAt time.Time
	Trashed    bool
}

// IsFolder reports whether the file is a provider folder.
func (f *File) IsFolder() bool {
	return f.MIMEType == MIMETypeFolder
}

// IsShortcut reports whether the file is a provider shortcut.
func (f *File) IsShortcut() bool {
	return f.MIMEType == MIMETypeShortcut
}

// Wire DTOs for the provider REST API.

type fileResource struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MIMEType     string    `json:"mimeType"`
	Parents      []string  `json:"parents,omitempty"`
	TargetID     string    `json:"targetId,omitempty"`
	Size         int64     `json:"size,omitempty"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Trashed      bool      `json:"trashed,omitempty"`
}

type fileList struct {
	Files         []fileResource `json:"files"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type createFileRequest struct {
	Name     string   `json:"name"`
	MIMEType string   `json:"mimeType"`
	Parents  []string `json:"parents,omitempty"`
	TargetID string   `json:"targetId,omitempty"`
}

type batchGetRequest struct {
	IDs    []string `json:"ids"`
	Fields []string `json:"fields,omitempty"`
}

type batchGetFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type batchGetResponse struct {
	Files  []fileResource    `json:"files"`
	Failed []batchGetFailure `json:"failed,omitempty"`
}

type permissionRequest struct {
	Role         string `json:"role"`
	Type         string `json:"type"`
	EmailAddress string `json:"emailAddress"`
}

type channelRequest struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Address  string `json:"address"`
	Token    string `json:"token,omitempty"`
	Resource string `json:"resource"`
}

type channelResponse struct {
	ChannelID  string `json:"channelId"`
	ResourceID string `json:"resourceId"`

	// Expiration is unix milliseconds.
	Expiration int64 `json:"expiration"`
}

type stopChannelRequest struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
}

func fileFromResource(r *fileResource) File {
	return File{
		ID:         r.ID,
		Name:       r.Name,
		MIMEType:   r.MIMEType,
		Parents:    r.Parents,
		TargetID:   r.TargetID,
		Size:       r.Size,
		ModifiedAt: r.ModifiedTime,
		Trashed:    r.Trashed,
	}
}

// Gateway is the typed surface over the provider REST API. Every method
// routes through the retrying client, so callers see the package error
// taxonomy rather than raw HTTP statuses.
//
// Endpoints: /files, /files/{id}, /files:batchGet, /files/{id}/content,
// /files/{id}/permissions, /channels, /channels/stop, /changes.
type Gateway struct {
	client    *Client
	baseURL   string
	pageSize  int
	chunkSize int
}

// NewGateway builds the gateway over an existing client.
func NewGateway(client *Client, remoteCfg *config.RemoteConfig, syncCfg *config.SyncConfig) *Gateway {
	chunk := syncCfg.MetadataChunkSize
	if chunk <= 0 || chunk > batchGetCap {
		chunk = batchGetCap
	}
	return &Gateway{
		client:    client,
		baseURL:   strings.TrimRight(remoteCfg.BaseURL, "/"),
		pageSize:  syncCfg.PageSize,
		chunkSize: chunk,
	}
}

// Client exposes the underlying retrying client for stats snapshots.
func (g *Gateway) Client() *Client {
	return g.client
}

func (g *Gateway) url(path string, q url.Values) string {
	u := g.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// ListItems returns the content files under a parent folder, paginated via
// nextPageToken. Trashed items and MIME types outside the document, audio
// and image families are filtered out. A maxResults of zero or less means
// no limit; query is an optional provider-side search expression.
func (g *Gateway) ListItems(ctx context.Context, parentID, query string, pageSize, maxResults int) ([]File, error) {
	return g.listFiles(ctx, "list_items", "/files", parentID, query, "", pageSize, maxResults, true)
}

// ListChildren returns every non-trashed object under a parent, including
// folders and shortcuts. The organizer uses this for idempotent folder and
// reference reconciliation. mimeType narrows the listing server-side when
// non-empty.
func (g *Gateway) ListChildren(ctx context.Context, parentID, mimeType string) ([]File, error) {
	return g.listFiles(ctx, "list_children", "/files", parentID, "", mimeType, 0, 0, false)
}

// ListChangedSince returns content files under a parent modified at or
// after the given time. Incremental passes use this instead of a full
// listing.
func (g *Gateway) ListChangedSince(ctx context.Context, parentID string, since time.Time) ([]File, error) {
	q := url.Values{}
	q.Set("parent", parentID)
	q.Set("since", since.UTC().Format(time.RFC3339))

	var out []File
	pageToken := ""
	for {
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		q.Set("pageSize", strconv.Itoa(g.pageSize))

		var page fileList
		if err := g.client.doJSON(ctx, "list_changes", http.MethodGet, g.url("/changes", q), nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Files {
			f := fileFromResource(&page.Files[i])
			if f.Trashed || !allowedContentMIME(f.MIMEType) {
				continue
			}
			out = append(out, f)
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// listFiles is the shared pagination loop behind the /files listings.
func (g *Gateway) listFiles(ctx context.Context, operation, path, parentID, query, mimeType string, pageSize, maxResults int, contentOnly bool) ([]File, error) {
	if pageSize <= 0 {
		pageSize = g.pageSize
	}

	var out []File
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("parent", parentID)
		if query != "" {
			q.Set("q", query)
		}
		if mimeType != "" {
			q.Set("mimeType", mimeType)
		}
		q.Set("pageSize", strconv.Itoa(pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page fileList
		if err := g.client.doJSON(ctx, operation, http.MethodGet, g.url(path, q), nil, &page); err != nil {
			return nil, err
		}

		for i := range page.Files {
			f := fileFromResource(&page.Files[i])
			if f.Trashed {
				continue
			}
			if contentOnly && !allowedContentMIME(f.MIMEType) {
				continue
			}
			out = append(out, f)
			if maxResults > 0 && len(out) >= maxResults {
				return out, nil
			}
		}

		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// GetMetadata fetches one file's metadata. fields narrows the returned
// attributes server-side when non-empty.
func (g *Gateway) GetMetadata(ctx context.Context, id string, fields []string) (*File, error) {
	q := url.Values{}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}

	var res fileResource
	if err := g.client.doJSON(ctx, "get_metadata", http.MethodGet, g.url("/files/"+url.PathEscape(id), q), nil, &res); err != nil {
		return nil, err
	}
	f := fileFromResource(&res)
	return &f, nil
}

// BatchGetMetadata fetches metadata for many files, chunked at the
// provider's batch cap. Failures of individual entries inside a batch are
// logged and skipped rather than failing the whole fetch.
func (g *Gateway) BatchGetMetadata(ctx context.Context, ids, fields []string) ([]File, error) {
	out := make([]File, 0, len(ids))

	for start := 0; start < len(ids); start += g.chunkSize {
		end := start + g.chunkSize
		if end > len(ids) {
			end = len(ids)
		}

		req := batchGetRequest{IDs: ids[start:end], Fields: fields}
		var resp batchGetResponse
		if err := g.client.doJSON(ctx, "batch_get_metadata", http.MethodPost, g.url("/files:batchGet", nil), req, &resp); err != nil {
			return nil, err
		}

		for _, fail := range resp.Failed {
			logging.Warn().
				Str("file_id", fail.ID).
				Str("reason", fail.Reason).
				Msg("Skipping failed entry in metadata batch")
		}
		for i := range resp.Files {
			out = append(out, fileFromResource(&resp.Files[i]))
		}
	}

	return out, nil
}

// Download returns a file's raw content.
func (g *Gateway) Download(ctx context.Context, id string) ([]byte, error) {
	return g.client.doBytes(ctx, "download", http.MethodGet, g.url("/files/"+url.PathEscape(id)+"/content", nil))
}

// CreateFolder creates a folder under a parent and returns it.
func (g *Gateway) CreateFolder(ctx context.Context, name, parentID string) (*File, error) {
	req := createFileRequest{
		Name:     name,
		MIMEType: MIMETypeFolder,
	}
	if parentID != "" {
		// An empty parent places the folder at the storage root.
		req.Parents = []string{parentID}
	}

	var res fileResource
	if err := g.client.doJSON(ctx, "create_folder", http.MethodPost, g.url("/files", nil), req, &res); err != nil {
		return nil, err
	}
	f := fileFromResource(&res)
	return &f, nil
}

// CreateShortcut creates a shortcut to targetID under a parent. Shortcuts
// are the item references views are built from: the canonical file stays
// where it is, the view folder only points at it.
func (g *Gateway) CreateShortcut(ctx context.Context, name, targetID, parentID string) (*File, error) {
	req := createFileRequest{
		Name:     name,
		MIMEType: MIMETypeShortcut,
		Parents:  []string{parentID},
		TargetID: targetID,
	}

	var res fileResource
	if err := g.client.doJSON(ctx, "create_shortcut", http.MethodPost, g.url("/files", nil), req, &res); err != nil {
		return nil, err
	}
	f := fileFromResource(&res)
	return &f, nil
}

// ShareReader grants a user read access to a file by email.
func (g *Gateway) ShareReader(ctx context.Context, fileID, email string) error {
	req := permissionRequest{
		Role:         "reader",
		Type:         "user",
		EmailAddress: email,
	}
	return g.client.doJSON(ctx, "share_reader", http.MethodPost, g.url("/files/"+url.PathEscape(fileID)+"/permissions", nil), req, nil)
}

// Delete removes a file or folder. The provider deletes folders
// recursively.
func (g *Gateway) Delete(ctx context.Context, fileID string) error {
	return g.client.doJSON(ctx, "delete", http.MethodDelete, g.url("/files/"+url.PathEscape(fileID), nil), nil, nil)
}

// RegisterWebhook opens a watch channel on a folder. The provider posts
// change notifications to callbackURL, signing bodies with the shared
// secret when one is configured.
func (g *Gateway) RegisterWebhook(ctx context.Context, folderID, callbackURL, secret string) (*models.WatchChannel, error) {
	req := channelRequest{
		ID:       uuid.NewString(),
		Type:     "web_hook",
		Address:  callbackURL,
		Token:    secret,
		Resource: folderID,
	}

	var resp channelResponse
	if err := g.client.doJSON(ctx, "register_webhook", http.MethodPost, g.url("/channels", nil), req, &resp); err != nil {
		return nil, err
	}

	channelID := resp.ChannelID
	if channelID == "" {
		channelID = req.ID
	}
	if resp.ResourceID == "" {
		return nil, fmt.Errorf("register webhook: provider returned no resource ID for folder %s", folderID)
	}

	return &models.WatchChannel{
		ChannelID:  channelID,
		ResourceID: resp.ResourceID,
		FolderID:   folderID,
		Expiry:     time.UnixMilli(resp.Expiration).UTC(),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// UnregisterWebhook closes a watch channel. Closing an already-expired
// channel surfaces as a RejectedError from the provider; callers decide
// whether that matters.
func (g *Gateway) UnregisterWebhook(ctx context.Context, channelID, resourceID string) error {
	req := stopChannelRequest{ID: channelID, ResourceID: resourceID}
	return g.client.doJSON(ctx, "unregister_webhook", http.MethodPost, g.url("/channels/stop", nil), req, nil)
}

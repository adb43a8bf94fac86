package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"billfold-backend/internal/blob"
)

const (
	defaultBaseURL = "https://www.googleapis.com"
	folderMimeType = "application/vnd.google-apps.folder"
)

// AccessTokenProvider supplies the bearer credential for a call. The provider
// is expected to read the acting identity from ctx and hand back a token that
// is fresh enough for one request.
type AccessTokenProvider func(ctx context.Context) (string, error)

// Options configures the Drive-backed blob store.
type Options struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
}

// Store implements blob.Store against a Drive-v3-shaped HTTP API. Conditional
// updates are expressed with If-Match on the media upload; the service answers
// 412 when the blob moved on, which maps to blob.ErrConflict.
type Store struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client

	mu      sync.Mutex
	folders map[string]string // folder path -> folder id
}

// New builds a Drive blob store.
func New(opts Options) (*Store, error) {
	if opts.TokenProvider == nil {
		return nil, fmt.Errorf("drive token provider is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Store{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		folders:       make(map[string]string),
	}, nil
}

// Get downloads a blob's media content.
func (s *Store) Get(ctx context.Context, id string) (blob.Object, error) {
	u := fmt.Sprintf("%s/drive/v3/files/%s?alt=media", s.baseURL, url.PathEscape(id))
	resp, err := s.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return blob.Object{}, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return blob.Object{}, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return blob.Object{}, fmt.Errorf("drive get %s: read: %w", id, err)
	}
	return blob.Object{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
	}, nil
}

// Create uploads a new file into the folder named by parent, creating the
// folder path on first use.
func (s *Store) Create(ctx context.Context, parent, name string, data []byte, contentType string) (blob.Handle, error) {
	parentID, err := s.ensureFolder(ctx, parent)
	if err != nil {
		return blob.Handle{}, err
	}

	meta := map[string]any{"name": name}
	if parentID != "" {
		meta["parents"] = []string{parentID}
	}

	body, boundary, err := multipartRelated(meta, data, contentType)
	if err != nil {
		return blob.Handle{}, err
	}

	u := s.baseURL + "/upload/drive/v3/files?uploadType=multipart&fields=id,name,mimeType"
	headers := map[string]string{
		"Content-Type": fmt.Sprintf("multipart/related; boundary=%s", boundary),
	}
	resp, err := s.do(ctx, http.MethodPost, u, body, headers)
	if err != nil {
		return blob.Handle{}, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return blob.Handle{}, err
	}

	var file fileResource
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return blob.Handle{}, fmt.Errorf("drive create %s: decode: %w", name, err)
	}
	return blob.Handle{
		ID:       file.ID,
		Name:     file.Name,
		MimeType: file.MimeType,
		ETag:     resp.Header.Get("ETag"),
	}, nil
}

// Update replaces a file's media content, conditional on etag when non-empty.
func (s *Store) Update(ctx context.Context, id string, data []byte, etag string) (blob.Handle, error) {
	u := fmt.Sprintf("%s/upload/drive/v3/files/%s?uploadType=media", s.baseURL, url.PathEscape(id))
	headers := map[string]string{"Content-Type": "application/octet-stream"}
	if etag != "" {
		headers["If-Match"] = etag
	}
	resp, err := s.do(ctx, http.MethodPatch, u, bytes.NewReader(data), headers)
	if err != nil {
		return blob.Handle{}, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return blob.Handle{}, err
	}

	var file fileResource
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return blob.Handle{}, fmt.Errorf("drive update %s: decode: %w", id, err)
	}
	return blob.Handle{
		ID:       file.ID,
		Name:     file.Name,
		MimeType: file.MimeType,
		ETag:     resp.Header.Get("ETag"),
	}, nil
}

// List queries files under the parent folder, optionally by exact name.
func (s *Store) List(ctx context.Context, q blob.Query) ([]blob.Handle, error) {
	parentID, err := s.lookupFolder(ctx, q.Parent)
	if err != nil {
		return nil, err
	}
	if parentID == "" && q.Parent != "" {
		// Folder path does not exist yet: nothing to list.
		return nil, nil
	}

	terms := []string{"trashed=false", fmt.Sprintf("mimeType!='%s'", folderMimeType)}
	if parentID != "" {
		terms = append(terms, fmt.Sprintf("'%s' in parents", parentID))
	}
	if q.Name != "" {
		terms = append(terms, fmt.Sprintf("name='%s'", escapeQuery(q.Name)))
	}

	files, err := s.query(ctx, strings.Join(terms, " and "))
	if err != nil {
		return nil, err
	}

	out := make([]blob.Handle, 0, len(files))
	for _, f := range files {
		out = append(out, blob.Handle{ID: f.ID, Name: f.Name, MimeType: f.MimeType})
	}
	return out, nil
}

// Delete removes a file permanently.
func (s *Store) Delete(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/drive/v3/files/%s", s.baseURL, url.PathEscape(id))
	resp, err := s.do(ctx, http.MethodDelete, u, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	return statusErr(resp)
}

type fileResource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// ensureFolder resolves a slash-separated folder path to a folder id,
// creating missing segments.
func (s *Store) ensureFolder(ctx context.Context, path string) (string, error) {
	return s.resolveFolder(ctx, path, true)
}

// lookupFolder resolves a folder path without creating anything; a missing
// segment yields an empty id.
func (s *Store) lookupFolder(ctx context.Context, path string) (string, error) {
	return s.resolveFolder(ctx, path, false)
}

func (s *Store) resolveFolder(ctx context.Context, path string, create bool) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", nil
	}

	s.mu.Lock()
	if id, ok := s.folders[path]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	parentID := "root"
	walked := ""
	for _, segment := range strings.Split(path, "/") {
		if walked == "" {
			walked = segment
		} else {
			walked = walked + "/" + segment
		}

		s.mu.Lock()
		cached, ok := s.folders[walked]
		s.mu.Unlock()
		if ok {
			parentID = cached
			continue
		}

		query := fmt.Sprintf("name='%s' and mimeType='%s' and '%s' in parents and trashed=false",
			escapeQuery(segment), folderMimeType, parentID)
		found, err := s.query(ctx, query)
		if err != nil {
			return "", err
		}

		var id string
		switch {
		case len(found) > 0:
			id = found[0].ID
		case create:
			created, err := s.createFolder(ctx, segment, parentID)
			if err != nil {
				return "", err
			}
			id = created
		default:
			return "", nil
		}

		s.mu.Lock()
		s.folders[walked] = id
		s.mu.Unlock()
		parentID = id
	}
	return parentID, nil
}

func (s *Store) createFolder(ctx context.Context, name, parentID string) (string, error) {
	payload := map[string]any{
		"name":     name,
		"mimeType": folderMimeType,
	}
	if parentID != "" {
		payload["parents"] = []string{parentID}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	u := s.baseURL + "/drive/v3/files?fields=id"
	headers := map[string]string{"Content-Type": "application/json"}
	resp, err := s.do(ctx, http.MethodPost, u, bytes.NewReader(body), headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return "", err
	}

	var file fileResource
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return "", fmt.Errorf("drive create folder %s: decode: %w", name, err)
	}
	return file.ID, nil
}

func (s *Store) query(ctx context.Context, q string) ([]fileResource, error) {
	u := fmt.Sprintf("%s/drive/v3/files?q=%s&fields=files(id,name,mimeType)&pageSize=100",
		s.baseURL, url.QueryEscape(q))
	resp, err := s.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return nil, err
	}

	var payload struct {
		Files []fileResource `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("drive query: decode: %w", err)
	}
	return payload.Files, nil
}

func (s *Store) do(ctx context.Context, method, u string, body io.Reader, headers map[string]string) (*http.Response, error) {
	token, err := s.tokenProvider(ctx)
	if err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, blob.ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive %s %s: %w", method, req.URL.Path, err)
	}
	return resp, nil
}

func statusErr(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return blob.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return blob.ErrNotFound
	case resp.StatusCode == http.StatusPreconditionFailed:
		return blob.ErrConflict
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("drive status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

// escapeQuery escapes a value for interpolation into a Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func multipartRelated(meta map[string]any, data []byte, contentType string) (io.Reader, string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := w.CreatePart(metaHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := metaPart.Write(metaJSON); err != nil {
		return nil, "", err
	}

	mediaHeader := textproto.MIMEHeader{}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	mediaHeader.Set("Content-Type", contentType)
	mediaPart, err := w.CreatePart(mediaHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := mediaPart.Write(data); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.Boundary(), nil
}

var _ blob.Store = (*Store)(nil)

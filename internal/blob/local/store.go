package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"billfold-backend/internal/blob"
	"billfold-backend/internal/shared/util"
)

// Store implements blob.Store on the local filesystem. The blob id is the
// path relative to baseDir and the etag is the sha256 of the content, so
// conditional writes behave like the hosted backends do. Intended for dev
// runs and as the concurrency-accurate double in tests.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

// New creates a local store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Get reads a blob and returns its content with the current etag.
func (s *Store) Get(ctx context.Context, id string) (blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return blob.Object{}, err
	}
	full, err := s.resolve(id)
	if err != nil {
		return blob.Object{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return blob.Object{}, blob.ErrNotFound
		}
		return blob.Object{}, fmt.Errorf("read blob %s: %w", id, err)
	}
	return blob.Object{
		Data:        data,
		ContentType: http.DetectContentType(data),
		ETag:        contentTag(data),
	}, nil
}

// Create writes a new blob under parent and returns its handle.
func (s *Store) Create(ctx context.Context, parent, name string, data []byte, contentType string) (blob.Handle, error) {
	if err := ctx.Err(); err != nil {
		return blob.Handle{}, err
	}
	sanitized, err := util.SanitizeFileName(name)
	if err != nil {
		return blob.Handle{}, fmt.Errorf("create blob: %w", err)
	}
	id := filepath.ToSlash(filepath.Join(parent, sanitized))
	full, err := s.resolve(id)
	if err != nil {
		return blob.Handle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return blob.Handle{}, fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return blob.Handle{}, fmt.Errorf("write blob %s: %w", id, err)
	}
	return blob.Handle{ID: id, Name: sanitized, MimeType: contentType, ETag: contentTag(data)}, nil
}

// Update replaces a blob's content. A non-empty etag must match the current
// content or the write fails with blob.ErrConflict.
func (s *Store) Update(ctx context.Context, id string, data []byte, etag string) (blob.Handle, error) {
	if err := ctx.Err(); err != nil {
		return blob.Handle{}, err
	}
	full, err := s.resolve(id)
	if err != nil {
		return blob.Handle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return blob.Handle{}, blob.ErrNotFound
		}
		return blob.Handle{}, fmt.Errorf("read blob %s: %w", id, err)
	}
	if etag != "" && etag != contentTag(current) {
		return blob.Handle{}, blob.ErrConflict
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return blob.Handle{}, fmt.Errorf("write blob %s: %w", id, err)
	}
	return blob.Handle{ID: id, Name: filepath.Base(id), ETag: contentTag(data)}, nil
}

// List returns handles under the query's parent folder.
func (s *Store) List(ctx context.Context, q blob.Query) ([]blob.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.resolve(q.Parent)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", q.Parent, err)
	}

	var out []blob.Handle
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if q.Name != "" && entry.Name() != q.Name {
			continue
		}
		id := filepath.ToSlash(filepath.Join(q.Parent, entry.Name()))
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, blob.Handle{
			ID:       id,
			Name:     entry.Name(),
			MimeType: http.DetectContentType(data),
			ETag:     contentTag(data),
		})
	}
	return out, nil
}

// Delete removes a blob. Deleting a missing blob returns blob.ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return blob.ErrNotFound
		}
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

func (s *Store) resolve(id string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(id))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob id")
	}
	return filepath.Join(s.baseDir, clean), nil
}

func contentTag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var _ blob.Store = (*Store)(nil)

package blob

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the blob does not exist (or was deleted).
	ErrNotFound = errors.New("blob not found")
	// ErrConflict indicates a conditional write lost against a newer version.
	ErrConflict = errors.New("blob precondition failed")
	// ErrUnauthorized indicates the bearer credential was rejected.
	ErrUnauthorized = errors.New("blob access unauthorized")
)

// Handle identifies a stored blob and its current version tag.
type Handle struct {
	ID       string
	Name     string
	MimeType string
	ETag     string
}

// Object is a fetched blob with its content.
type Object struct {
	Data        []byte
	ContentType string
	ETag        string
}

// Query narrows a List call. Parent is a folder path ("a/b"); Name, when
// non-empty, matches exactly.
type Query struct {
	Parent string
	Name   string
}

// Store is the capability exposed by the remote hosting service. Update with
// a non-empty etag is conditional: the write succeeds only if the blob's
// current etag matches, otherwise ErrConflict. An empty etag overwrites
// unconditionally.
type Store interface {
	Get(ctx context.Context, id string) (Object, error)
	Create(ctx context.Context, parent, name string, data []byte, contentType string) (Handle, error)
	Update(ctx context.Context, id string, data []byte, etag string) (Handle, error)
	List(ctx context.Context, q Query) ([]Handle, error)
	Delete(ctx context.Context, id string) error
}

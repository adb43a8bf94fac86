package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"billfold-backend/internal/blob"
	"billfold-backend/internal/shared/metrics"
	"billfold-backend/internal/shared/telemetry"
	"billfold-backend/internal/shared/util"
)

const (
	metadataFileName = "billfold.json"
	// Blob name used by an earlier release; adopted in place on first read.
	legacyFileName = "expenses.json"

	metadataContentType = "application/json"

	writeAttempts  = 4
	retryBaseDelay = 50 * time.Millisecond
)

// Mutator transforms a collection in place. It may run several times when a
// conditional write loses to a concurrent writer, so it must not carry state
// across invocations.
type Mutator func(*Collection) error

// MetadataStore owns the one metadata blob per identity. In-process mutations
// for one identity are serialized by a keyed mutex (the lane); cross-process
// writers are serialized by the blob etag precondition, which the lane cannot
// cover.
type MetadataStore struct {
	blobs blob.Store

	mu    sync.Mutex
	lanes map[string]*sync.Mutex
	ids   map[string]string // identity -> resolved metadata blob id
}

// NewMetadataStore builds a store over the given blob backend.
func NewMetadataStore(blobs blob.Store) *MetadataStore {
	return &MetadataStore{
		blobs: blobs,
		lanes: make(map[string]*sync.Mutex),
		ids:   make(map[string]string),
	}
}

// Read fetches the identity's collection, creating an empty metadata blob on
// first use. Unparsable content degrades to an empty collection.
func (s *MetadataStore) Read(ctx context.Context, identity string) (Collection, error) {
	col, _, _, err := s.read(ctx, identity)
	return col, err
}

// Write replaces the collection wholesale, conditional on the content being
// unchanged since the read this call performs. Lost races surface as
// blob.ErrConflict.
func (s *MetadataStore) Write(ctx context.Context, identity string, col Collection) error {
	lane := s.lane(identity)
	lane.Lock()
	defer lane.Unlock()

	_, id, etag, err := s.read(ctx, identity)
	if err != nil {
		return err
	}
	return s.writeBlob(ctx, id, etag, col)
}

// ReadModifyWrite is the mutation primitive behind every record operation.
// It holds the identity's lane, then loops read, mutate-a-copy, conditional
// write: a conflict means another writer (usually another process) got there
// first, so the loop re-reads and reapplies the mutator against the new
// state, up to writeAttempts times. Non-conflict errors abort immediately.
func (s *MetadataStore) ReadModifyWrite(ctx context.Context, identity string, mutate Mutator) (Collection, error) {
	lane := s.lane(identity)
	lane.Lock()
	defer lane.Unlock()

	var result Collection
	backoff := retry.WithMaxRetries(writeAttempts-1, retry.NewExponential(retryBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		col, id, etag, err := s.read(ctx, identity)
		if err != nil {
			return err
		}

		next := col.Clone()
		if err := mutate(&next); err != nil {
			return err
		}
		next.Version = CollectionVersion

		if err := s.writeBlob(ctx, id, etag, next); err != nil {
			if errors.Is(err, blob.ErrConflict) {
				metrics.IncMetadataConflict()
				telemetry.Info("metadata.write.conflict", map[string]any{
					"identity": identity,
					"blob_id":  id,
				})
				return retry.RetryableError(err)
			}
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		if errors.Is(err, blob.ErrConflict) {
			return Collection{}, fmt.Errorf("metadata write for %s: retries exhausted: %w", identity, err)
		}
		return Collection{}, err
	}
	return result, nil
}

func (s *MetadataStore) lane(identity string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, ok := s.lanes[identity]
	if !ok {
		lane = &sync.Mutex{}
		s.lanes[identity] = lane
	}
	return lane
}

func (s *MetadataStore) read(ctx context.Context, identity string) (Collection, string, string, error) {
	id, err := s.resolve(ctx, identity)
	if err != nil {
		return Collection{}, "", "", err
	}

	obj, err := s.blobs.Get(ctx, id)
	if errors.Is(err, blob.ErrNotFound) {
		// The cached blob disappeared underneath us; resolve from scratch.
		s.forget(identity)
		id, err = s.resolve(ctx, identity)
		if err != nil {
			return Collection{}, "", "", err
		}
		obj, err = s.blobs.Get(ctx, id)
	}
	if err != nil {
		return Collection{}, "", "", err
	}

	col, decodeErr := decodeCollection(obj.Data)
	if decodeErr != nil {
		telemetry.Warn("metadata.decode.failed", map[string]any{
			"identity": identity,
			"blob_id":  id,
			"err":      decodeErr.Error(),
		})
		col = NewCollection()
	}
	return col, id, obj.ETag, nil
}

// resolve finds the identity's metadata blob id: the canonical name first,
// then the legacy name (adopted in place), then a fresh empty blob. The
// create is unconditional and therefore racy across processes, but a losing
// duplicate is simply superseded on the next read.
func (s *MetadataStore) resolve(ctx context.Context, identity string) (string, error) {
	s.mu.Lock()
	if id, ok := s.ids[identity]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	parent := util.IdentityKey(identity)

	for _, name := range []string{metadataFileName, legacyFileName} {
		handles, err := s.blobs.List(ctx, blob.Query{Parent: parent, Name: name})
		if err != nil {
			return "", err
		}
		if len(handles) > 0 {
			if name == legacyFileName {
				telemetry.Info("metadata.legacy.adopted", map[string]any{
					"identity": identity,
					"blob_id":  handles[0].ID,
				})
			}
			s.remember(identity, handles[0].ID)
			return handles[0].ID, nil
		}
	}

	data, err := json.Marshal(NewCollection())
	if err != nil {
		return "", err
	}
	handle, err := s.blobs.Create(ctx, parent, metadataFileName, data, metadataContentType)
	if err != nil {
		return "", err
	}
	s.remember(identity, handle.ID)
	return handle.ID, nil
}

func (s *MetadataStore) writeBlob(ctx context.Context, id, etag string, col Collection) error {
	data, err := json.Marshal(col)
	if err != nil {
		return err
	}
	_, err = s.blobs.Update(ctx, id, data, etag)
	return err
}

func (s *MetadataStore) remember(identity, id string) {
	s.mu.Lock()
	s.ids[identity] = id
	s.mu.Unlock()
}

func (s *MetadataStore) forget(identity string) {
	s.mu.Lock()
	delete(s.ids, identity)
	s.mu.Unlock()
}

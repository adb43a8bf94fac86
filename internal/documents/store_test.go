package documents

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"billfold-backend/internal/blob"
	"billfold-backend/internal/shared/util"
)

type fakeBlob struct {
	parent      string
	name        string
	data        []byte
	contentType string
	rev         int
}

// fakeStore is an in-memory blob.Store with conditional updates, plus a knob
// to make the next updates fail as if a concurrent writer won.
type fakeStore struct {
	mu            sync.Mutex
	blobs         map[string]*fakeBlob
	nextID        int
	conflictsLeft int
	updateCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: make(map[string]*fakeBlob)}
}

func (f *fakeStore) seed(parent, name string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "blob-" + strconv.Itoa(f.nextID)
	f.blobs[id] = &fakeBlob{parent: parent, name: name, data: append([]byte(nil), data...), rev: 1}
	return id
}

func (f *fakeStore) Get(ctx context.Context, id string) (blob.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blobs[id]
	if !ok {
		return blob.Object{}, blob.ErrNotFound
	}
	return blob.Object{
		Data:        append([]byte(nil), b.data...),
		ContentType: b.contentType,
		ETag:        strconv.Itoa(b.rev),
	}, nil
}

func (f *fakeStore) Create(ctx context.Context, parent, name string, data []byte, contentType string) (blob.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "blob-" + strconv.Itoa(f.nextID)
	f.blobs[id] = &fakeBlob{parent: parent, name: name, data: append([]byte(nil), data...), contentType: contentType, rev: 1}
	return blob.Handle{ID: id, Name: name, MimeType: contentType, ETag: "1"}, nil
}

func (f *fakeStore) Update(ctx context.Context, id string, data []byte, etag string) (blob.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	b, ok := f.blobs[id]
	if !ok {
		return blob.Handle{}, blob.ErrNotFound
	}
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return blob.Handle{}, blob.ErrConflict
	}
	if etag != "" && etag != strconv.Itoa(b.rev) {
		return blob.Handle{}, blob.ErrConflict
	}
	b.data = append([]byte(nil), data...)
	b.rev++
	return blob.Handle{ID: id, Name: b.name, ETag: strconv.Itoa(b.rev)}, nil
}

func (f *fakeStore) List(ctx context.Context, q blob.Query) ([]blob.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []blob.Handle
	for id, b := range f.blobs {
		if b.parent != q.Parent {
			continue
		}
		if q.Name != "" && b.name != q.Name {
			continue
		}
		out = append(out, blob.Handle{ID: id, Name: b.name, ETag: strconv.Itoa(b.rev)})
	}
	return out, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blobs[id]; !ok {
		return blob.ErrNotFound
	}
	delete(f.blobs, id)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blobs)
}

func TestReadCreatesEmptyCollectionOnFirstUse(t *testing.T) {
	fs := newFakeStore()
	store := NewMetadataStore(fs)

	col, err := store.Read(context.Background(), "google:alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if col.Version != CollectionVersion {
		t.Fatalf("expected version %d, got %d", CollectionVersion, col.Version)
	}
	if len(col.Documents) != 0 {
		t.Fatalf("expected empty collection, got %d documents", len(col.Documents))
	}
	if fs.count() != 1 {
		t.Fatalf("expected one blob created, got %d", fs.count())
	}
}

func TestReadAdoptsLegacyBlob(t *testing.T) {
	fs := newFakeStore()
	parent := util.IdentityKey("google:alice")
	fs.seed(parent, legacyFileName, []byte(`{"version":1,"documents":[{"id":"d1","hasFile":false,"title":"old","amount":"5","date":"2025-01-01","createdAt":"2025-01-01T00:00:00Z"}]}`))
	store := NewMetadataStore(fs)

	col, err := store.Read(context.Background(), "google:alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(col.Documents) != 1 || col.Documents[0].ID != "d1" {
		t.Fatalf("expected legacy document, got %+v", col.Documents)
	}
	if fs.count() != 1 {
		t.Fatalf("legacy adoption should not create a new blob, have %d", fs.count())
	}
}

func TestReadDegradesCorruptMetadataToEmpty(t *testing.T) {
	fs := newFakeStore()
	parent := util.IdentityKey("google:alice")
	fs.seed(parent, metadataFileName, []byte(`{not json`))
	store := NewMetadataStore(fs)

	col, err := store.Read(context.Background(), "google:alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(col.Documents) != 0 {
		t.Fatalf("expected empty collection, got %d documents", len(col.Documents))
	}
}

func TestReadModifyWriteRetriesAfterConflict(t *testing.T) {
	fs := newFakeStore()
	store := NewMetadataStore(fs)
	ctx := context.Background()

	if _, err := store.Read(ctx, "google:alice"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	fs.conflictsLeft = 2

	mutations := 0
	col, err := store.ReadModifyWrite(ctx, "google:alice", func(c *Collection) error {
		mutations++
		c.Documents = append(c.Documents, Document{ID: "d1", Title: "bill"})
		return nil
	})
	if err != nil {
		t.Fatalf("rmw: %v", err)
	}
	if mutations != 3 {
		t.Fatalf("expected mutator rerun per attempt, got %d runs", mutations)
	}
	if len(col.Documents) != 1 {
		t.Fatalf("retries must not duplicate the append, got %d documents", len(col.Documents))
	}
}

func TestReadModifyWriteExhaustsRetries(t *testing.T) {
	fs := newFakeStore()
	store := NewMetadataStore(fs)
	ctx := context.Background()

	if _, err := store.Read(ctx, "google:alice"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	fs.conflictsLeft = 100

	_, err := store.ReadModifyWrite(ctx, "google:alice", func(c *Collection) error {
		c.Documents = append(c.Documents, Document{ID: "d1"})
		return nil
	})
	if !errors.Is(err, blob.ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	fs.mu.Lock()
	calls := fs.updateCalls
	fs.mu.Unlock()
	if calls != writeAttempts {
		t.Fatalf("expected %d attempts, got %d", writeAttempts, calls)
	}
}

func TestReadModifyWriteMutatorErrorAborts(t *testing.T) {
	fs := newFakeStore()
	store := NewMetadataStore(fs)

	boom := errors.New("boom")
	_, err := store.ReadModifyWrite(context.Background(), "google:alice", func(c *Collection) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}
}

func TestConcurrentAppendsAllLand(t *testing.T) {
	fs := newFakeStore()
	store := NewMetadataStore(fs)
	ctx := context.Background()

	const writers = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.ReadModifyWrite(ctx, "google:alice", func(c *Collection) error {
				c.Documents = append(c.Documents, Document{ID: fmt.Sprintf("d%d", i)})
				return nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("rmw: %v", err)
		}
	}

	col, err := store.Read(ctx, "google:alice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(col.Documents) != writers {
		t.Fatalf("expected %d documents, got %d", writers, len(col.Documents))
	}
	seen := make(map[string]bool, writers)
	for _, d := range col.Documents {
		if seen[d.ID] {
			t.Fatalf("duplicate document %s", d.ID)
		}
		seen[d.ID] = true
	}
}

func TestReadRecoversFromStaleCachedBlob(t *testing.T) {
	fs := newFakeStore()
	store := NewMetadataStore(fs)
	ctx := context.Background()

	if _, err := store.Read(ctx, "google:alice"); err != nil {
		t.Fatalf("prime: %v", err)
	}

	// Another process replaced the metadata blob with a new one.
	fs.mu.Lock()
	for id := range fs.blobs {
		delete(fs.blobs, id)
	}
	fs.mu.Unlock()
	parent := util.IdentityKey("google:alice")
	fs.seed(parent, metadataFileName, []byte(`{"version":1,"documents":[{"id":"d9","hasFile":false,"title":"new","amount":"1","date":"2026-01-01","createdAt":"2026-01-01T00:00:00Z"}]}`))

	col, err := store.Read(ctx, "google:alice")
	if err != nil {
		t.Fatalf("read after replacement: %v", err)
	}
	if len(col.Documents) != 1 || col.Documents[0].ID != "d9" {
		t.Fatalf("expected replacement contents, got %+v", col.Documents)
	}
}

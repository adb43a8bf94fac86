package uploads

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billfold-backend/internal/blob"
	"billfold-backend/internal/documents"
	"billfold-backend/internal/extract"
	"billfold-backend/internal/recognize"
	"billfold-backend/internal/shared/metrics"
	"billfold-backend/internal/shared/telemetry"
	"billfold-backend/internal/shared/util"
)

// ErrValidation marks a rejected batch. Validation runs before any side
// effect, so a batch that fails it leaves no blob and no record behind.
var ErrValidation = errors.New("invalid upload")

var allowedMimeTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"application/pdf": {},
}

// File is one member of an upload batch, fully buffered.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Data     []byte
}

// Orchestrator runs the two-phase upload: stage every file as a blob with a
// guessed record, then commit all records in one conditional metadata write.
// Any failure after the first blob exists triggers a compensating delete of
// every staged blob, so the batch lands all-or-nothing.
type Orchestrator struct {
	Blobs         blob.Store
	Meta          *documents.MetadataStore
	Recognizer    recognize.Client
	MaxFileBytes  int64
	AmountCeiling decimal.Decimal
}

type staged struct {
	doc      documents.Document
	fileRef  string
	fileName string
}

// Process validates, stages, and commits a batch for one identity. On success
// it returns the committed records in input order.
func (o *Orchestrator) Process(ctx context.Context, identity, userLabel string, files []File) ([]documents.Document, error) {
	if err := o.validate(files); err != nil {
		return nil, err
	}

	start := time.Now()
	parent := path.Join(util.IdentityKey(identity), start.UTC().Format("2006-01"))

	var created []staged
	for _, f := range files {
		st, err := o.stage(ctx, parent, userLabel, f)
		if err != nil {
			o.rollback(ctx, created)
			return nil, err
		}
		created = append(created, st)
	}

	docs, err := o.commit(ctx, identity, created)
	if err != nil {
		o.rollback(ctx, created)
		return nil, err
	}

	for range docs {
		metrics.IncUploadCommitted()
	}
	metrics.ObserveUploadBatchDurationMs(float64(time.Since(start).Milliseconds()))
	return docs, nil
}

func (o *Orchestrator) validate(files []File) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: empty batch", ErrValidation)
	}
	for _, f := range files {
		if f.Size <= 0 || int64(len(f.Data)) == 0 {
			return fmt.Errorf("%w: %s is empty", ErrValidation, f.Name)
		}
		if f.Size > o.MaxFileBytes || int64(len(f.Data)) > o.MaxFileBytes {
			return fmt.Errorf("%w: %s exceeds size limit", ErrValidation, f.Name)
		}
		if _, ok := allowedMimeTypes[f.MimeType]; !ok {
			return fmt.Errorf("%w: %s type %s is not allowed", ErrValidation, f.Name, f.MimeType)
		}
	}
	return nil
}

// stage uploads one file and builds its record from recognized text. A blob
// created here is not yet referenced by any record; the caller must roll it
// back if the batch does not commit.
func (o *Orchestrator) stage(ctx context.Context, parent, userLabel string, f File) (staged, error) {
	fields, err := o.recognizeFields(ctx, f)
	if err != nil {
		return staged{}, err
	}

	sanitized, err := util.SanitizeFileName(f.Name)
	if err != nil {
		return staged{}, fmt.Errorf("%w: invalid file name", ErrValidation)
	}
	blobName := fmt.Sprintf("%s_%s", randomID(), sanitized)

	handle, err := o.Blobs.Create(ctx, parent, blobName, f.Data, f.MimeType)
	if err != nil {
		return staged{}, fmt.Errorf("stage %s: %w", f.Name, err)
	}

	doc := o.buildDocument(userLabel, f, fields)
	return staged{doc: doc, fileRef: handle.ID, fileName: sanitized}, nil
}

// recognizeFields extracts the guessable fields. PDFs are read locally;
// images go to the recognition collaborator. A credential failure aborts the
// batch, any other recognition miss degrades to empty guesses.
func (o *Orchestrator) recognizeFields(ctx context.Context, f File) (extract.Fields, error) {
	var text string
	var confidence *float64

	if f.MimeType == "application/pdf" {
		layer, err := extract.PDFText(f.Data)
		if err != nil {
			telemetry.Warn("upload.pdf.text.failed", map[string]any{
				"file": f.Name,
				"err":  err.Error(),
			})
		} else {
			text = layer
		}
	} else {
		res, err := o.Recognizer.Recognize(ctx, f.Data, f.MimeType)
		if err != nil {
			if recognize.IsAuthError(err) {
				return extract.Fields{}, err
			}
			telemetry.Warn("upload.recognize.failed", map[string]any{
				"file": f.Name,
				"err":  err.Error(),
			})
		} else {
			text = res.Text
			confidence = res.PageConfidence
		}
	}

	return extract.Extract(text, confidence), nil
}

func (o *Orchestrator) buildDocument(userLabel string, f File, fields extract.Fields) documents.Document {
	title := fields.Title
	if title == "" {
		title = filenameStem(f.Name)
	}
	date := fields.Date
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	amount := fields.Amount
	if !o.AmountCeiling.IsZero() && amount.GreaterThan(o.AmountCeiling) {
		// A guess this large is a misread, not a bill. Drop it rather than
		// store a value the manual-entry path would reject.
		amount = decimal.Zero
	}

	return documents.Document{
		HasFile:       true,
		UserLabel:     userLabel,
		Title:         title,
		Category:      fields.Category,
		Date:          date,
		Amount:        amount.Round(2),
		OCRConfidence: fields.Confidence,
	}
}

// commit appends every staged record in a single conditional write. Filename
// collisions against existing records and within the batch are resolved by a
// numeric suffix. The mutator copies the staged state so a conflict retry
// starts clean.
func (o *Orchestrator) commit(ctx context.Context, identity string, created []staged) ([]documents.Document, error) {
	ids := make([]string, 0, len(created))
	col, err := o.Meta.ReadModifyWrite(ctx, identity, func(c *documents.Collection) error {
		ids = ids[:0]
		taken := make(map[string]struct{}, len(c.Documents))
		for _, d := range c.Documents {
			if d.Filename != nil {
				taken[*d.Filename] = struct{}{}
			}
		}
		for _, st := range created {
			doc := st.doc
			doc.ID = uuid.NewString()
			doc.CreatedAt = time.Now().UTC()
			name := dedupeFilename(taken, st.fileName)
			taken[name] = struct{}{}
			doc.FileRef = strptr(st.fileRef)
			doc.Filename = strptr(name)
			c.Documents = append(c.Documents, doc)
			ids = append(ids, doc.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	docs := make([]documents.Document, 0, len(ids))
	for _, id := range ids {
		for i := range col.Documents {
			if col.Documents[i].ID == id {
				docs = append(docs, col.Documents[i])
				break
			}
		}
	}
	return docs, nil
}

// rollback deletes staged blobs best effort. A blob that survives the delete
// is counted so a sweep can find it later.
func (o *Orchestrator) rollback(ctx context.Context, created []staged) {
	for _, st := range created {
		if err := o.Blobs.Delete(ctx, st.fileRef); err != nil && !errors.Is(err, blob.ErrNotFound) {
			metrics.IncOrphanBlob()
			telemetry.Warn("upload.rollback.delete.failed", map[string]any{
				"fileRef": st.fileRef,
				"err":     err.Error(),
			})
		}
	}
	if len(created) > 0 {
		metrics.IncUploadRolledBack()
	}
}

func dedupeFilename(taken map[string]struct{}, name string) string {
	if _, ok := taken[name]; !ok {
		return name
	}
	stem := name
	ext := path.Ext(name)
	if ext != "" {
		stem = strings.TrimSuffix(name, ext)
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

func filenameStem(name string) string {
	base := path.Base(name)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" {
		base = "document"
	}
	return base
}

func randomID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}

func strptr(s string) *string { return &s }

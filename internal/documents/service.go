package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billfold-backend/internal/blob"
	"billfold-backend/internal/shared/metrics"
	"billfold-backend/internal/shared/telemetry"
)

// Service contains the record operations exposed to the HTTP layer. Every
// mutation funnels through the MetadataStore's read-modify-write primitive.
type Service struct {
	Meta          *MetadataStore
	Blobs         blob.Store
	AmountCeiling decimal.Decimal
}

// ManualEntry is the input for a record created without a file.
type ManualEntry struct {
	UserLabel      string
	Title          string
	Category       string
	Date           string
	Amount         decimal.Decimal
	Notes          string
	Reimbursed     bool
	ReimbursedDate *string
}

// Patch carries the fields a caller may change. Nil means "leave as is".
// The file triple and the server-generated fields are never patchable.
type Patch struct {
	Title          *string
	Category       *string
	Date           *string
	Amount         *decimal.Decimal
	Notes          *string
	Reimbursed     *bool
	ReimbursedDate *string
}

// List returns the identity's documents as stored; consumers sort by date.
func (s *Service) List(ctx context.Context, identity string) ([]Document, error) {
	col, err := s.Meta.Read(ctx, identity)
	if err != nil {
		return nil, err
	}
	return col.Documents, nil
}

// CreateManual appends a record with no attached file.
func (s *Service) CreateManual(ctx context.Context, identity string, in ManualEntry) (Document, error) {
	if in.Title == "" {
		return Document{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if err := s.checkAmount(in.Amount); err != nil {
		return Document{}, err
	}
	if err := checkDate(in.Date); err != nil {
		return Document{}, err
	}

	doc := Document{
		ID:         uuid.NewString(),
		HasFile:    false,
		UserLabel:  in.UserLabel,
		Title:      in.Title,
		Category:   in.Category,
		Date:       in.Date,
		Amount:     in.Amount.Round(2),
		Notes:      in.Notes,
		Reimbursed: in.Reimbursed,
		CreatedAt:  time.Now().UTC(),
	}
	if in.Reimbursed && in.ReimbursedDate != nil {
		if err := checkDate(*in.ReimbursedDate); err != nil {
			return Document{}, err
		}
		doc.ReimbursedDate = in.ReimbursedDate
	}

	_, err := s.Meta.ReadModifyWrite(ctx, identity, func(col *Collection) error {
		col.Documents = append(col.Documents, doc)
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// PatchDocument applies a partial update to one record.
func (s *Service) PatchDocument(ctx context.Context, identity, id string, patch Patch) (Document, error) {
	if patch.Amount != nil {
		if err := s.checkAmount(*patch.Amount); err != nil {
			return Document{}, err
		}
	}
	if patch.Date != nil {
		if err := checkDate(*patch.Date); err != nil {
			return Document{}, err
		}
	}
	if patch.ReimbursedDate != nil {
		if err := checkDate(*patch.ReimbursedDate); err != nil {
			return Document{}, err
		}
	}

	var updated Document
	_, err := s.Meta.ReadModifyWrite(ctx, identity, func(col *Collection) error {
		i := col.indexOf(id)
		if i < 0 {
			return ErrNotFound
		}
		doc := col.Documents[i]

		if patch.Title != nil {
			doc.Title = *patch.Title
		}
		if patch.Category != nil {
			doc.Category = *patch.Category
		}
		if patch.Date != nil {
			doc.Date = *patch.Date
		}
		if patch.Amount != nil {
			doc.Amount = patch.Amount.Round(2)
		}
		if patch.Notes != nil {
			doc.Notes = *patch.Notes
		}
		if patch.Reimbursed != nil {
			doc.Reimbursed = *patch.Reimbursed
		}
		if patch.ReimbursedDate != nil {
			doc.ReimbursedDate = patch.ReimbursedDate
		}
		// A non-reimbursed record never keeps a reimbursement date, even when
		// the caller supplied one.
		if !doc.Reimbursed {
			doc.ReimbursedDate = nil
		}

		col.Documents[i] = doc
		updated = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return updated, nil
}

// DeleteDocument removes a record, then deletes its blob best-effort.
func (s *Service) DeleteDocument(ctx context.Context, identity, id string) error {
	var removed Document
	_, err := s.Meta.ReadModifyWrite(ctx, identity, func(col *Collection) error {
		i := col.indexOf(id)
		if i < 0 {
			return ErrNotFound
		}
		removed = col.Documents[i]
		col.Documents = append(col.Documents[:i], col.Documents[i+1:]...)
		return nil
	})
	if err != nil {
		return err
	}

	if removed.HasFile && removed.FileRef != nil {
		s.deleteBlob(ctx, identity, *removed.FileRef)
	}
	return nil
}

// ClearAll replaces the collection with an empty one, then deletes all
// referenced blobs best-effort.
func (s *Service) ClearAll(ctx context.Context, identity string) error {
	var fileRefs []string
	_, err := s.Meta.ReadModifyWrite(ctx, identity, func(col *Collection) error {
		fileRefs = fileRefs[:0]
		for _, doc := range col.Documents {
			if doc.HasFile && doc.FileRef != nil {
				fileRefs = append(fileRefs, *doc.FileRef)
			}
		}
		col.Documents = []Document{}
		return nil
	})
	if err != nil {
		return err
	}

	for _, ref := range fileRefs {
		s.deleteBlob(ctx, identity, ref)
	}
	return nil
}

// OpenFile fetches the blob attached to a record.
func (s *Service) OpenFile(ctx context.Context, identity, id string) (blob.Object, Document, error) {
	col, err := s.Meta.Read(ctx, identity)
	if err != nil {
		return blob.Object{}, Document{}, err
	}
	i := col.indexOf(id)
	if i < 0 {
		return blob.Object{}, Document{}, ErrNotFound
	}
	doc := col.Documents[i]
	if !doc.HasFile || doc.FileRef == nil {
		return blob.Object{}, Document{}, ErrNotFound
	}

	obj, err := s.Blobs.Get(ctx, *doc.FileRef)
	if err != nil {
		return blob.Object{}, Document{}, err
	}
	return obj, doc, nil
}

func (s *Service) deleteBlob(ctx context.Context, identity, fileRef string) {
	err := s.Blobs.Delete(ctx, fileRef)
	if err == nil || errors.Is(err, blob.ErrNotFound) {
		return
	}
	metrics.IncOrphanBlob()
	telemetry.Warn("document.blob.delete.failed", map[string]any{
		"identity": identity,
		"file_ref": fileRef,
		"err":      err.Error(),
	})
}

func (s *Service) checkAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	if !s.AmountCeiling.IsZero() && amount.GreaterThan(s.AmountCeiling) {
		return fmt.Errorf("%w: amount exceeds ceiling", ErrInvalidInput)
	}
	return nil
}

func checkDate(date string) error {
	if date == "" {
		return fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return nil
}

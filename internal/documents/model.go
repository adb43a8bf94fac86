package documents

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollectionVersion tags the metadata document schema. It is not an
// optimistic-concurrency token; conditional writes use the blob etag.
const CollectionVersion = 1

// Document is one tracked financial-document entry. The file triple
// (HasFile, FileRef, Filename) is kept consistent: all set or all unset.
type Document struct {
	ID             string           `json:"id"`
	FileRef        *string          `json:"fileRef"`
	Filename       *string          `json:"filename"`
	HasFile        bool             `json:"hasFile"`
	UserLabel      string           `json:"userLabel"`
	Title          string           `json:"title"`
	Category       string           `json:"category"`
	Date           string           `json:"date"` // YYYY-MM-DD
	Amount         decimal.Decimal  `json:"amount"`
	Notes          string           `json:"notes"`
	Reimbursed     bool             `json:"reimbursed"`
	ReimbursedDate *string          `json:"reimbursedDate"`
	CreatedAt      time.Time        `json:"createdAt"`
	OCRConfidence  *float64         `json:"ocrConfidence"`
}

// Collection is the single metadata document persisted per identity. The
// documents order carries no meaning; consumers sort by date.
type Collection struct {
	Version   int        `json:"version"`
	Documents []Document `json:"documents"`
}

// NewCollection returns an empty collection at the current schema version.
func NewCollection() Collection {
	return Collection{Version: CollectionVersion, Documents: []Document{}}
}

// Clone returns a deep-enough copy for a mutator to work on: the documents
// slice is copied so appends and removals never alias the source.
func (c Collection) Clone() Collection {
	out := Collection{Version: c.Version}
	out.Documents = make([]Document, len(c.Documents))
	copy(out.Documents, c.Documents)
	return out
}

func (c *Collection) indexOf(id string) int {
	for i := range c.Documents {
		if c.Documents[i].ID == id {
			return i
		}
	}
	return -1
}

package documents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"billfold-backend/internal/auth"
	"billfold-backend/internal/blob"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("identity", "google:alice")
		c.Next()
	})
	api := r.Group("/api/v1")
	NewHandler(svc).RegisterRoutes(api)
	return r
}

func TestListEmptyCollection(t *testing.T) {
	r := newTestRouter(newTestService(newFakeStore()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Documents []Document `json:"documents"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Documents == nil || len(body.Documents) != 0 {
		t.Fatalf("expected empty documents array, got %v", body.Documents)
	}
}

func TestCreateManualEndpoint(t *testing.T) {
	svc := newTestService(newFakeStore())
	r := newTestRouter(svc)

	payload := `{"title":"Dentist visit","category":"dental","date":"2026-03-14","amount":"42.17"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var doc Document
	if err := json.Unmarshal(resp.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ID == "" || doc.Title != "Dentist visit" || doc.HasFile {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if !doc.Amount.Equal(decimal.RequireFromString("42.17")) {
		t.Fatalf("unexpected amount %s", doc.Amount)
	}
}

func TestCreateManualRejectsBadPayload(t *testing.T) {
	r := newTestRouter(newTestService(newFakeStore()))

	cases := []string{
		`not json`,
		`{"category":"dental","date":"2026-03-14","amount":"1"}`, // no title
		`{"title":"x","date":"03/14/2026","amount":"1"}`,         // bad date
		`{"title":"x","date":"2026-03-14","amount":"-1"}`,        // negative
	}
	for _, payload := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: expected 400, got %d", payload, resp.Code)
		}
	}
}

func TestPatchMissingDocumentEndpoint(t *testing.T) {
	r := newTestRouter(newTestService(newFakeStore()))

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/documents/missing", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestDeleteEndpoints(t *testing.T) {
	svc := newTestService(newFakeStore())
	r := newTestRouter(svc)

	doc, err := svc.CreateManual(context.Background(), "google:alice", ManualEntry{
		Title: "bill", Date: "2026-01-02", Amount: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+doc.ID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/documents", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("clear all: expected 204, got %d", resp.Code)
	}
}

func TestFileEndpoint(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	r := newTestRouter(svc)
	ctx := context.Background()

	handle, _ := fs.Create(ctx, "p", "scan.pdf", []byte("%PDF-1.4 fake"), "application/pdf")
	ref := handle.ID
	name := "scan.pdf"
	_, err := svc.Meta.ReadModifyWrite(ctx, "google:alice", func(col *Collection) error {
		col.Documents = append(col.Documents,
			Document{ID: "d1", HasFile: true, FileRef: &ref, Filename: &name},
			Document{ID: "d2"},
		)
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/d1/file", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Disposition"); !strings.Contains(got, "scan.pdf") {
		t.Fatalf("expected filename in disposition, got %q", got)
	}
	if resp.Body.String() != "%PDF-1.4 fake" {
		t.Fatalf("unexpected body %q", resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/documents/d2/file", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("record without file: expected 404, got %d", resp.Code)
	}
}

func TestRespondServiceErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
	}{
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{blob.ErrUnauthorized, http.StatusUnauthorized},
		{auth.ErrReauthRequired, http.StatusUnauthorized},
		{blob.ErrConflict, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		resp := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(resp)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
		RespondServiceError(c, tc.err)
		if resp.Code != tc.code {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.code, resp.Code)
		}
	}
}

package uploads

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"billfold-backend/internal/documents"
	"billfold-backend/internal/shared/server/middleware"
	"billfold-backend/internal/shared/server/respond"
	"billfold-backend/internal/shared/telemetry"
)

// Handler accepts multipart upload batches and hands them to the
// orchestrator.
type Handler struct {
	Orch *Orchestrator
}

// NewHandler constructs a Handler.
func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{Orch: orch}
}

// RegisterRoutes attaches upload routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/uploads", h.upload)
}

type uploadResponse struct {
	Documents []documents.Document `json:"documents"`
}

func (h *Handler) upload(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)

	form, err := c.MultipartForm()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid multipart body", nil)
		return
	}
	parts := form.File["files"]
	if len(parts) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "no files in request", nil)
		return
	}

	files := make([]File, 0, len(parts))
	for _, part := range parts {
		if part.Size > h.Orch.MaxFileBytes {
			respond.Error(c, http.StatusBadRequest, "validation_error", part.Filename+" exceeds size limit", nil)
			return
		}
		src, err := part.Open()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable file part", nil)
			return
		}
		data, err := io.ReadAll(io.LimitReader(src, h.Orch.MaxFileBytes+1))
		src.Close()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable file part", nil)
			return
		}
		files = append(files, File{
			Name:     part.Filename,
			MimeType: detectMimeType(part.Header.Get("Content-Type"), data),
			Size:     int64(len(data)),
			Data:     data,
		})
	}

	docs, err := h.Orch.Process(c.Request.Context(), identity, middleware.UserNameFromContext(c), files)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		telemetry.Error("upload.batch.failed", map[string]any{
			"identity":   identity,
			"fileCount":  len(files),
			"err":        err.Error(),
			"request_id": c.GetString("requestId"),
		})
		documents.RespondServiceError(c, err)
		return
	}

	respond.JSON(c, http.StatusCreated, uploadResponse{Documents: docs})
}

// detectMimeType prefers the sniffed content type and falls back to the
// declared one when sniffing is inconclusive.
func detectMimeType(declared string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" {
		return sniffed
	}
	if declared != "" {
		return declared
	}
	return sniffed
}

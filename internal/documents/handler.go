package documents

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"billfold-backend/internal/auth"
	"billfold-backend/internal/blob"
	"billfold-backend/internal/shared/server/middleware"
	"billfold-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/documents", h.list)
	rg.POST("/documents", h.createManual)
	rg.PATCH("/documents/:id", h.patch)
	rg.DELETE("/documents/:id", h.delete)
	rg.DELETE("/documents", h.clearAll)
	rg.GET("/documents/:id/file", h.file)
}

func (h *Handler) list(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)
	docs, err := h.Svc.List(c.Request.Context(), identity)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	respond.OK(c, listResponse{Documents: docs})
}

func (h *Handler) createManual(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	doc, err := h.Svc.CreateManual(c.Request.Context(), identity, ManualEntry{
		UserLabel:      middleware.UserNameFromContext(c),
		Title:          req.Title,
		Category:       req.Category,
		Date:           req.Date,
		Amount:         req.Amount,
		Notes:          req.Notes,
		Reimbursed:     req.Reimbursed,
		ReimbursedDate: req.ReimbursedDate,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Set("documentId", doc.ID)
	respond.JSON(c, http.StatusCreated, doc)
}

func (h *Handler) patch(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)
	id := c.Param("id")

	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	doc, err := h.Svc.PatchDocument(c.Request.Context(), identity, id, Patch{
		Title:          req.Title,
		Category:       req.Category,
		Date:           req.Date,
		Amount:         req.Amount,
		Notes:          req.Notes,
		Reimbursed:     req.Reimbursed,
		ReimbursedDate: req.ReimbursedDate,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Set("documentId", doc.ID)
	respond.OK(c, doc)
}

func (h *Handler) delete(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)
	id := c.Param("id")

	if err := h.Svc.DeleteDocument(c.Request.Context(), identity, id); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearAll(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)

	if err := h.Svc.ClearAll(c.Request.Context(), identity); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) file(c *gin.Context) {
	identity := middleware.IdentityFromContext(c)
	id := c.Param("id")

	obj, doc, err := h.Svc.OpenFile(c.Request.Context(), identity, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if doc.Filename != nil {
		c.Header("Content-Disposition", `attachment; filename="`+*doc.Filename+`"`)
	}
	c.Data(http.StatusOK, contentType, obj.Data)
}

// RespondServiceError maps service errors onto the error taxonomy: invalid
// input and missing records are client errors, unusable credentials demand
// re-authentication, exhausted write conflicts surface as 409, and anything
// else is an internal failure.
func RespondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, blob.ErrUnauthorized), errors.Is(err, auth.ErrReauthRequired):
		respond.Error(c, http.StatusUnauthorized, "reauth_required", "storage credential rejected, sign in again", nil)
	case errors.Is(err, blob.ErrConflict):
		respond.Error(c, http.StatusConflict, "conflict", "concurrent update, retry the request", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "operation failed", nil)
	}
}

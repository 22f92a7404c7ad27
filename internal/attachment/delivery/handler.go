package delivery

import (
	"net/http"

	"levramail-backend/internal/attachment/usecase"
	authdelivery "levramail-backend/internal/auth/delivery"

	"github.com/gin-gonic/gin"
)

type AttachmentHandler struct {
	fetcher usecase.FetcherUsecase
}

func NewAttachmentHandler(fetcher usecase.FetcherUsecase) *AttachmentHandler {
	return &AttachmentHandler{fetcher: fetcher}
}

// Get returns the extracted text of an attachment. Every failure, including foreign
// attachments, is reported as not found.
func (h *AttachmentHandler) Get(c *gin.Context) {
	p := authdelivery.Principal(c)
	att := h.fetcher.Fetch(c.Request.Context(), usecase.Request{
		AttachmentID: c.Param("attachmentId"),
		EmailID:      c.Param("id"),
		AccountID:    p.AccountID,
		UserID:       p.UserID,
	})
	if att == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not available"})
		return
	}
	c.JSON(http.StatusOK, att)
}

func (h *AttachmentHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.fetcher.CacheStats())
}

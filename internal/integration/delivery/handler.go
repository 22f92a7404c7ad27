package delivery

import (
	"errors"
	"io"
	"net/http"

	authdelivery "levramail-backend/internal/auth/delivery"
	"levramail-backend/internal/integration/usecase"
	"levramail-backend/pkg/fileproc"

	"github.com/gin-gonic/gin"
)

type IntegrationHandler struct {
	files    usecase.FileUsecase
	drive    usecase.DriveSyncUsecase
	maxBytes int64
}

func NewIntegrationHandler(files usecase.FileUsecase, drive usecase.DriveSyncUsecase, maxBytes int64) *IntegrationHandler {
	return &IntegrationHandler{files: files, drive: drive, maxBytes: maxBytes}
}

func (h *IntegrationHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" required"})
		return
	}
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fileproc.ErrTooLarge.Error()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	att, err := h.files.Upload(c.Request.Context(), authdelivery.Principal(c).AccountID, fh.Filename, fh.Header.Get("Content-Type"), data)
	switch {
	case errors.Is(err, fileproc.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, fileproc.ErrUnsupportedType), errors.Is(err, fileproc.ErrNoText):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, att)
	}
}

func (h *IntegrationHandler) ListFiles(c *gin.Context) {
	files, err := h.files.List(authdelivery.Principal(c).AccountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *IntegrationHandler) SyncConnection(c *gin.Context) {
	result, err := h.drive.Sync(c.Request.Context(), authdelivery.Principal(c).UserID, c.Param("id"))
	switch {
	case errors.Is(err, usecase.ErrConnectionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrUnsupportedConnection):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, result)
	}
}

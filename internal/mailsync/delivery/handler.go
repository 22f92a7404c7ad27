package delivery

import (
	"errors"
	"net/http"

	authdelivery "levramail-backend/internal/auth/delivery"
	"levramail-backend/internal/mailsync/usecase"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	sync     usecase.SyncUsecase
	accounts authdelivery.AccountLookup
}

func NewSyncHandler(sync usecase.SyncUsecase, accounts authdelivery.AccountLookup) *SyncHandler {
	return &SyncHandler{sync: sync, accounts: accounts}
}

// owned aborts unless the :id account belongs to the caller.
func (h *SyncHandler) owned(c *gin.Context) (string, bool) {
	id := c.Param("id")
	account, err := h.accounts.FindByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", false
	}
	if account == nil || account.UserID != authdelivery.Principal(c).UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return "", false
	}
	return id, true
}

func (h *SyncHandler) Sync(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}
	result, err := h.sync.SyncAccount(c.Request.Context(), id)
	switch {
	case errors.Is(err, usecase.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrUnsupportedProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": result})
	default:
		c.JSON(http.StatusOK, result)
	}
}

func (h *SyncHandler) Status(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.sync.Status(id))
}

package delivery

import (
	"errors"
	"net/http"

	"levramail-backend/internal/auth/usecase"

	"github.com/gin-gonic/gin"
)

type registerFCMRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"device_info"`
}

type FCMHandler struct {
	fcm usecase.FCMUsecase
}

func NewFCMHandler(fcm usecase.FCMUsecase) *FCMHandler {
	return &FCMHandler{fcm: fcm}
}

func (h *FCMHandler) Register(c *gin.Context) {
	var req registerFCMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.fcm.Register(Principal(c).UserID, req.Token, req.DeviceInfo); err != nil {
		if errors.Is(err, usecase.ErrEmptyFCM) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token registered"})
}

func (h *FCMHandler) Unregister(c *gin.Context) {
	removed, err := h.fcm.Unregister(Principal(c).UserID, c.Param("token"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token removed"})
}

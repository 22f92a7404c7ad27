package api

import (
	"net/http"

	authdelivery "levramail-backend/internal/auth/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")

	// Health check (no auth required)
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := api.Group("")
	protected.Use(authdelivery.AuthMiddleware(h.auth, h.accounts))

	accounts := protected.Group("/accounts")
	{
		accounts.POST("/:id/sync", h.sync.Sync)
		accounts.GET("/:id/sync/status", h.sync.Status)
	}

	fcm := protected.Group("/fcm")
	{
		fcm.POST("/register", h.fcm.Register)
		fcm.DELETE("/:token", h.fcm.Unregister)
	}

	protected.POST("/integrations/:id/sync", h.integrations.SyncConnection)

	// Routes below read or write the selected mailbox account.
	scoped := protected.Group("")
	scoped.Use(authdelivery.RequireAccount())

	search := scoped.Group("/search")
	{
		search.POST("", h.search.Semantic)
		search.GET("/keyword", h.search.Keyword)
		search.GET("/count", h.search.Count)
	}

	qa := scoped.Group("/qa")
	{
		qa.POST("", h.search.AddAnswer)
		qa.POST("/lookup", h.search.LookupAnswer)
		qa.POST("/unhelpful", h.search.MarkUnhelpful)
	}

	scoped.GET("/emails/:id/attachments/:attachmentId", h.attachments.Get)
	scoped.GET("/attachments/cache", h.attachments.CacheStats)

	files := scoped.Group("/files")
	{
		files.POST("", h.integrations.Upload)
		files.GET("", h.integrations.ListFiles)
	}
}

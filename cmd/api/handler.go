package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	attachmentdelivery "levramail-backend/internal/attachment/delivery"
	authdelivery "levramail-backend/internal/auth/delivery"
	authusecase "levramail-backend/internal/auth/usecase"
	integrationdelivery "levramail-backend/internal/integration/delivery"
	syncdelivery "levramail-backend/internal/mailsync/delivery"
	searchdelivery "levramail-backend/internal/search/delivery"

	"github.com/gin-gonic/gin"
)

// Handler bundles the feature handlers served under /api.
type Handler struct {
	auth         authusecase.AuthUsecase
	accounts     authdelivery.AccountLookup
	sync         *syncdelivery.SyncHandler
	search       *searchdelivery.SearchHandler
	attachments  *attachmentdelivery.AttachmentHandler
	integrations *integrationdelivery.IntegrationHandler
	fcm          *authdelivery.FCMHandler
}

func NewHandler(
	auth authusecase.AuthUsecase,
	accounts authdelivery.AccountLookup,
	sync *syncdelivery.SyncHandler,
	search *searchdelivery.SearchHandler,
	attachments *attachmentdelivery.AttachmentHandler,
	integrations *integrationdelivery.IntegrationHandler,
	fcm *authdelivery.FCMHandler,
) *Handler {
	return &Handler{
		auth:         auth,
		accounts:     accounts,
		sync:         sync,
		search:       search,
		attachments:  attachments,
		integrations: integrations,
		fcm:          fcm,
	}
}

func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Account-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)
	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (h *Handler) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Router()}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

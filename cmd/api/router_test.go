package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	accountdomain "levramail-backend/internal/account/domain"
	authusecase "levramail-backend/internal/auth/usecase"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noAccounts struct{}

func (noAccounts) FindByID(string) (*accountdomain.Account, error) { return nil, nil }

func TestRouterAuthBoundaries(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := authusecase.NewAuthUsecase("secret")
	r := NewHandler(auth, noAccounts{}, nil, nil, nil, nil, nil).Router()

	serve := func(method, path, token string) int {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/api/health", ""))
	assert.Equal(t, http.StatusNoContent, serve(http.MethodOptions, "/api/search", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodPost, "/api/search", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodGet, "/api/search/count", "nope"))

	token, err := auth.IssueToken("u1", "", time.Hour)
	require.NoError(t, err)
	// Mailbox-scoped routes need a selected account.
	assert.Equal(t, http.StatusBadRequest, serve(http.MethodGet, "/api/search/count", token))
	assert.Equal(t, http.StatusBadRequest, serve(http.MethodPost, "/api/files", token))
}

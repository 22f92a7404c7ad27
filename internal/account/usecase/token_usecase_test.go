package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	accountdomain "levramail-backend/internal/account/domain"
	"levramail-backend/internal/account/repository"
	"levramail-backend/internal/testutil"
	"levramail-backend/pkg/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTokenFixture(t *testing.T, tokenHandler http.HandlerFunc) (*tokenUsecase, repository.AccountRepository) {
	t.Helper()
	srv := httptest.NewServer(tokenHandler)
	t.Cleanup(srv.Close)

	repo := repository.NewAccountRepository(testutil.NewDB(t, &accountdomain.Account{}), crypto.NewSealer("k"))
	uc := NewTokenUsecase(repo, OAuthCredentials{}).(*tokenUsecase)
	uc.configs[accountdomain.ProviderMicrosoft] = &oauth2.Config{
		ClientID: "id", ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
	return uc, repo
}

func TestRefreshPersistsNewToken(t *testing.T) {
	uc, repo := newTokenFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "r1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "fresh", "token_type": "Bearer", "expires_in": 3600})
	})

	acc := &accountdomain.Account{UserID: "u", Provider: accountdomain.ProviderMicrosoft, AccessToken: "stale", RefreshToken: "r1"}
	require.NoError(t, repo.Create(acc))

	tok, err := uc.Refresh(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	loaded, err := repo.FindByID(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", loaded.AccessToken)
	assert.Equal(t, "r1", loaded.RefreshToken)
	require.NotNil(t, loaded.ExpiresAt)
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	calls := 0
	uc, repo := newTokenFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "fresh", "token_type": "Bearer", "expires_in": 3600})
	})

	soon := time.Now().Add(time.Minute)
	later := time.Now().Add(time.Hour)
	expiring := &accountdomain.Account{UserID: "u", Provider: accountdomain.ProviderMicrosoft, AccessToken: "a", RefreshToken: "r", ExpiresAt: &soon}
	valid := &accountdomain.Account{UserID: "u", Provider: accountdomain.ProviderMicrosoft, AccessToken: "b", RefreshToken: "r", ExpiresAt: &later}
	require.NoError(t, repo.Create(expiring))
	require.NoError(t, repo.Create(valid))

	tok, err := uc.AccessToken(context.Background(), expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	tok, err = uc.AccessToken(context.Background(), valid.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", tok)
	assert.Equal(t, 1, calls)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	uc, repo := newTokenFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no token request expected")
	})
	acc := &accountdomain.Account{UserID: "u", Provider: accountdomain.ProviderMicrosoft, AccessToken: "a"}
	require.NoError(t, repo.Create(acc))

	_, err := uc.Refresh(context.Background(), acc.ID)
	assert.ErrorIs(t, err, ErrNoRefreshToken)

	_, err = uc.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	accountdomain "levramail-backend/internal/account/domain"
	"levramail-backend/internal/account/repository"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrNoRefreshToken   = errors.New("account has no refresh token")
	ErrRefreshForbidden = errors.New("token refresh failed, account must be reconnected")
)

const refreshLeeway = 5 * time.Minute

// TokenUsecase hands out valid access tokens and refreshes them on demand.
type TokenUsecase interface {
	// AccessToken returns the stored token, refreshing first when it expires within five minutes.
	AccessToken(ctx context.Context, accountID string) (string, error)
	// Refresh forces a refresh-token grant and persists the result.
	Refresh(ctx context.Context, accountID string) (string, error)
	// OAuthConfig returns the client config used for the provider, or nil when unsupported.
	OAuthConfig(provider string) *oauth2.Config
}

type OAuthCredentials struct {
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenant       string
}

type tokenUsecase struct {
	accounts repository.AccountRepository
	configs  map[string]*oauth2.Config
	now      func() time.Time
}

// NewTokenUsecase only refreshes for providers whose client id is set in creds.
func NewTokenUsecase(accounts repository.AccountRepository, creds OAuthCredentials) TokenUsecase {
	configs := map[string]*oauth2.Config{}
	if creds.GoogleClientID != "" {
		configs[accountdomain.ProviderGoogle] = &oauth2.Config{
			ClientID:     creds.GoogleClientID,
			ClientSecret: creds.GoogleClientSecret,
			Endpoint:     google.Endpoint,
		}
	}
	if creds.MicrosoftClientID != "" {
		tenant := creds.MicrosoftTenant
		if tenant == "" {
			tenant = "common"
		}
		configs[accountdomain.ProviderMicrosoft] = &oauth2.Config{
			ClientID:     creds.MicrosoftClientID,
			ClientSecret: creds.MicrosoftClientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
			Scopes:       []string{"offline_access", "https://graph.microsoft.com/Mail.Read"},
		}
	}
	return &tokenUsecase{accounts: accounts, configs: configs, now: time.Now}
}

func (u *tokenUsecase) OAuthConfig(provider string) *oauth2.Config {
	return u.configs[provider]
}

func (u *tokenUsecase) AccessToken(ctx context.Context, accountID string) (string, error) {
	account, err := u.load(accountID)
	if err != nil {
		return "", err
	}

	if account.RefreshToken != "" && account.ExpiresAt != nil && account.ExpiresAt.Sub(u.now()) < refreshLeeway {
		return u.refresh(ctx, account)
	}
	return account.AccessToken, nil
}

func (u *tokenUsecase) Refresh(ctx context.Context, accountID string) (string, error) {
	account, err := u.load(accountID)
	if err != nil {
		return "", err
	}
	return u.refresh(ctx, account)
}

func (u *tokenUsecase) load(accountID string) (*accountdomain.Account, error) {
	account, err := u.accounts.FindByID(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (u *tokenUsecase) refresh(ctx context.Context, account *accountdomain.Account) (string, error) {
	if account.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}
	cfg := u.configs[account.Provider]
	if cfg == nil {
		return "", fmt.Errorf("no oauth client configured for provider %s", account.Provider)
	}

	// An expired token forces the token source to use the refresh grant.
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken, Expiry: time.Unix(1, 0)})
	tok, err := src.Token()
	if err != nil {
		log.Printf("[Token] Refresh failed for account %s: %v", account.ID, err)
		return "", fmt.Errorf("%w: %v", ErrRefreshForbidden, err)
	}

	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		expiresAt = &tok.Expiry
	}
	if err := u.accounts.UpdateTokens(account.ID, tok.AccessToken, tok.RefreshToken, expiresAt); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	log.Printf("[Token] Refreshed access token for account %s", account.ID)
	return tok.AccessToken, nil
}

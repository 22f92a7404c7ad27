package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	accountdomain "levramail-backend/internal/account/domain"
	accountrepo "levramail-backend/internal/account/repository"
	accountusecase "levramail-backend/internal/account/usecase"
	"levramail-backend/pkg/deltasync"
	gmailsvc "levramail-backend/pkg/gmail"
	"levramail-backend/pkg/graph"
	"levramail-backend/pkg/httpclient"

	"github.com/sony/gobreaker"
)

// DeltaDownloader reads attachments from the delta REST API.
type DeltaDownloader struct {
	tokens  accountusecase.TokenUsecase
	baseURL string
	cb      *gobreaker.CircuitBreaker
}

// NewDeltaDownloader creates a downloader whose requests share one circuit breaker.
func NewDeltaDownloader(tokens accountusecase.TokenUsecase, baseURL string) *DeltaDownloader {
	return &DeltaDownloader{tokens: tokens, baseURL: baseURL, cb: httpclient.NewBreaker("delta-attachments")}
}

func (d *DeltaDownloader) Download(ctx context.Context, account *accountdomain.Account, messageID, attachmentID string) ([]byte, error) {
	token, err := d.tokens.AccessToken(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	content, err := deltasync.NewRESTProvider(d.baseURL, token, d.cb).DownloadAttachment(ctx, messageID, attachmentID)
	if err != nil {
		return nil, err
	}
	return decodeBase64(content)
}

// GmailDownloader reads attachments through the Gmail API.
type GmailDownloader struct {
	accounts accountrepo.AccountRepository
	service  *gmailsvc.Service
}

// NewGmailDownloader refreshes expired tokens through accounts.
func NewGmailDownloader(accounts accountrepo.AccountRepository, service *gmailsvc.Service) *GmailDownloader {
	return &GmailDownloader{accounts: accounts, service: service}
}

func (d *GmailDownloader) Download(ctx context.Context, account *accountdomain.Account, messageID, attachmentID string) ([]byte, error) {
	accountID := account.ID
	srv, err := d.service.GetGmailService(ctx, account.AccessToken, account.RefreshToken, account.ExpiresAt,
		func(accessToken, refreshToken string, expiry time.Time) error {
			return d.accounts.UpdateTokens(accountID, accessToken, refreshToken, &expiry)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return gmailsvc.DownloadAttachment(ctx, srv, messageID, attachmentID)
}

// GraphDownloader reads attachments through Microsoft Graph.
type GraphDownloader struct {
	tokens  accountusecase.TokenUsecase
	baseURL string
	cb      *gobreaker.CircuitBreaker
}

func NewGraphDownloader(tokens accountusecase.TokenUsecase, baseURL string) *GraphDownloader {
	return &GraphDownloader{tokens: tokens, baseURL: baseURL, cb: httpclient.NewBreaker("graph-attachments")}
}

func (d *GraphDownloader) Download(ctx context.Context, account *accountdomain.Account, messageID, attachmentID string) ([]byte, error) {
	token, err := d.tokens.AccessToken(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	accountID := account.ID
	client := graph.NewClient(d.baseURL, token, func(ctx context.Context) (string, error) {
		return d.tokens.Refresh(ctx, accountID)
	}, d.cb)
	return client.DownloadAttachment(ctx, messageID, attachmentID)
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

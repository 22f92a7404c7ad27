package usecase

import (
	"context"
	"fmt"
	"time"

	accountdomain "levramail-backend/internal/account/domain"
	accountrepo "levramail-backend/internal/account/repository"
	accountusecase "levramail-backend/internal/account/usecase"
	maildomain "levramail-backend/internal/mail/domain"
	"levramail-backend/pkg/deltasync"
	gmailsvc "levramail-backend/pkg/gmail"
	"levramail-backend/pkg/graph"
	"levramail-backend/pkg/httpclient"
)

// Source fetches every change after a checkpoint. An empty checkpoint means a full sync.
// It returns the messages and the checkpoint to store once they are persisted.
type Source interface {
	Fetch(ctx context.Context, checkpoint string) ([]maildomain.Message, string, error)
}

// SourceFactory builds the Source for an account, or returns ErrUnsupportedProvider.
type SourceFactory func(ctx context.Context, account *accountdomain.Account) (Source, error)

type deltaSource struct {
	client *deltasync.Client
}

func (s *deltaSource) Fetch(ctx context.Context, checkpoint string) ([]maildomain.Message, string, error) {
	res, err := s.client.Sync(ctx, checkpoint)
	if err != nil {
		return nil, "", err
	}
	return res.Messages, res.NextDeltaToken, nil
}

type graphSource struct {
	client *graph.Client
}

func (s *graphSource) Fetch(ctx context.Context, checkpoint string) ([]maildomain.Message, string, error) {
	res, err := s.client.Sync(ctx, checkpoint)
	if err != nil {
		return nil, "", err
	}
	return res.Messages, res.DeltaLink, nil
}

// ProviderConfig carries the endpoints and tuning of the provider clients.
type ProviderConfig struct {
	DeltaBaseURL string
	GraphBaseURL string
	Delta        deltasync.Options
}

// NewSourceFactory picks the sync client by provider: Gmail and the delta REST API go through
// the delta-token client, Microsoft through Graph. Each provider gets one circuit breaker shared by
// every sync the factory builds.
func NewSourceFactory(accounts accountrepo.AccountRepository, tokens accountusecase.TokenUsecase, gmailService *gmailsvc.Service, cfg ProviderConfig) SourceFactory {
	gmailCB := httpclient.NewBreaker("gmail")
	deltaCB := httpclient.NewBreaker("delta-rest")
	graphCB := httpclient.NewBreaker("graph")

	return func(ctx context.Context, account *accountdomain.Account) (Source, error) {
		switch account.Provider {
		case accountdomain.ProviderGoogle:
			if gmailService == nil {
				return nil, fmt.Errorf("%w: gmail is not configured", ErrUnsupportedProvider)
			}
			accountID := account.ID
			srv, err := gmailService.GetGmailService(ctx, account.AccessToken, account.RefreshToken, account.ExpiresAt,
				func(accessToken, refreshToken string, expiry time.Time) error {
					return accounts.UpdateTokens(accountID, accessToken, refreshToken, &expiry)
				})
			if err != nil {
				return nil, fmt.Errorf("failed to create gmail service: %w", err)
			}
			return &deltaSource{client: deltasync.NewClient(gmailsvc.NewDeltaProvider(srv, gmailCB), cfg.Delta)}, nil

		case accountdomain.ProviderAurinko:
			token, err := tokens.AccessToken(ctx, account.ID)
			if err != nil {
				return nil, err
			}
			provider := deltasync.NewRESTProvider(cfg.DeltaBaseURL, token, deltaCB)
			return &deltaSource{client: deltasync.NewClient(provider, cfg.Delta)}, nil

		case accountdomain.ProviderMicrosoft:
			token, err := tokens.AccessToken(ctx, account.ID)
			if err != nil {
				return nil, err
			}
			accountID := account.ID
			client := graph.NewClient(cfg.GraphBaseURL, token, func(ctx context.Context) (string, error) {
				return tokens.Refresh(ctx, accountID)
			}, graphCB)
			return &graphSource{client: client}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, account.Provider)
	}
}

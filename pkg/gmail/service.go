package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"levramail-backend/internal/mail/domain"
	"levramail-backend/pkg/retry"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

type Service struct {
	clientID     string
	clientSecret string
	opts         []option.ClientOption
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback domain.TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t.AccessToken, t.RefreshToken, t.Expiry); err != nil {
			log.Printf("[Gmail] Failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

// NewService builds Gmail clients for stored accounts. Extra options are appended to every client.
func NewService(clientID, clientSecret string, opts ...option.ClientOption) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		opts:         opts,
	}
}

// GetGmailService creates a Gmail client for the account tokens. Refreshed tokens are handed to onTokenRefresh.
func (s *Service) GetGmailService(ctx context.Context, accessToken, refreshToken string, expiry *time.Time, onTokenRefresh domain.TokenUpdateFunc) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}
	if expiry != nil {
		token.Expiry = *expiry
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	wrapped := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, wrapped))}, s.opts...)
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// DownloadAttachment returns the attachment bytes.
func DownloadAttachment(ctx context.Context, srv *gmail.Service, messageID, attachmentID string) ([]byte, error) {
	var part *gmail.MessagePartBody
	err := retry.Do(ctx, retry.RemotePolicy, func() error {
		var err error
		part, err = srv.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve attachment: %w", err)
	}
	data, err := decodeBase64URL(part.Data)
	if err != nil {
		return nil, fmt.Errorf("unable to decode attachment data: %w", err)
	}
	return data, nil
}

// Watch sets up push notifications for the inbox on topicName.
func Watch(ctx context.Context, srv *gmail.Service, topicName string) (uint64, error) {
	// Only one watch per user is allowed; clear the previous one first.
	_ = srv.Users.Stop("me").Context(ctx).Do()

	resp, err := srv.Users.Watch("me", &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("unable to watch mailbox: %w", err)
	}
	log.Printf("[Gmail] Watch started. Expiration: %d, HistoryId: %d", resp.Expiration, resp.HistoryId)
	return resp.HistoryId, nil
}

func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

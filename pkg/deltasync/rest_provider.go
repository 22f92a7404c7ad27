package deltasync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"levramail-backend/pkg/httpclient"
	"levramail-backend/pkg/retry"

	"github.com/sony/gobreaker"
)

const DefaultBaseURL = "https://api.aurinko.io/v1"

// RESTProvider speaks the delta REST API with a bearer token.
type RESTProvider struct {
	BaseURL     string
	AccessToken string
	// Retry applies to every request. Defaults to retry.RemotePolicy.
	Retry  retry.Policy
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRESTProvider creates a provider for one account. cb is shared by all providers of the
// process so its state outlives a sync pass; nil creates a private breaker.
func NewRESTProvider(baseURL, accessToken string, cb *gobreaker.CircuitBreaker) *RESTProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cb == nil {
		cb = httpclient.NewBreaker("delta-rest")
	}
	return &RESTProvider{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		Retry:       retry.RemotePolicy,
		client:      &http.Client{Timeout: 60 * time.Second},
		cb:          cb,
	}
}

func (p *RESTProvider) StartSync(ctx context.Context, daysWithin int) (*StartResult, error) {
	q := url.Values{}
	q.Set("daysWithin", strconv.Itoa(daysWithin))
	q.Set("bodyType", "html")

	var out StartResult
	if err := p.do(ctx, http.MethodPost, "/email/sync?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("failed to start sync: %w", err)
	}
	return &out, nil
}

func (p *RESTProvider) GetUpdatedRecords(ctx context.Context, deltaToken, pageToken string) (*Page, error) {
	q := url.Values{}
	if deltaToken != "" {
		q.Set("deltaToken", deltaToken)
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var out Page
	err := p.do(ctx, http.MethodGet, "/email/sync/updated?"+q.Encode(), &out)
	if httpclient.StatusCode(err) == http.StatusGone {
		return nil, ErrDeltaTokenExpired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get updated records: %w", err)
	}
	return &out, nil
}

// DownloadAttachment returns the base64 content of an attachment.
func (p *RESTProvider) DownloadAttachment(ctx context.Context, messageID, attachmentID string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	path := fmt.Sprintf("/email/messages/%s/attachments/%s", url.PathEscape(messageID), url.PathEscape(attachmentID))
	if err := p.do(ctx, http.MethodGet, path, &out); err != nil {
		return "", fmt.Errorf("failed to download attachment: %w", err)
	}
	return out.Content, nil
}

func (p *RESTProvider) do(ctx context.Context, method, path string, out interface{}) error {
	return httpclient.Call(ctx, p.cb, p.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+p.AccessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &httpclient.StatusError{Status: resp.StatusCode, Body: string(body)}
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// Package graph syncs a mailbox folder through the Microsoft Graph mail API.
package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"levramail-backend/internal/mail/domain"
	"levramail-backend/pkg/httpclient"
	"levramail-backend/pkg/retry"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	DefaultFolder  = "Inbox"

	defaultPageSize  = 100
	defaultLookback  = 30 * 24 * time.Hour
	detailParallel   = 5
	listSelectFields = "id"
)

// ErrUnauthorized is returned when a request is still rejected after one token refresh.
var ErrUnauthorized = errors.New("graph request unauthorized after token refresh")

// TokenRefresher obtains a fresh bearer token.
type TokenRefresher func(ctx context.Context) (string, error)

// Result of a sync call. DeltaLink is the checkpoint for the next incremental sync.
type Result struct {
	Messages  []domain.Message
	DeltaLink string
}

// Client syncs one account's folder. It is not shared between accounts.
type Client struct {
	BaseURL  string
	Folder   string
	PageSize int
	Lookback time.Duration
	// Retry applies to every request. Defaults to retry.RemotePolicy.
	Retry retry.Policy

	mu      sync.RWMutex
	token   string
	refresh TokenRefresher
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	now     func() time.Time
}

// NewClient creates a client for one account. refresh may be nil, which disables the retry on 401.
// cb is shared across clients so breaker state survives between sync passes; nil creates a private one.
func NewClient(baseURL, accessToken string, refresh TokenRefresher, cb *gobreaker.CircuitBreaker) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cb == nil {
		cb = httpclient.NewBreaker("graph")
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Folder:   DefaultFolder,
		PageSize: defaultPageSize,
		Lookback: defaultLookback,
		Retry:    retry.RemotePolicy,
		token:    accessToken,
		refresh:  refresh,
		http:     &http.Client{Timeout: 60 * time.Second},
		cb:       cb,
		now:      time.Now,
	}
}

// Sync runs a full sync when deltaLink is empty, otherwise an incremental one.
func (c *Client) Sync(ctx context.Context, deltaLink string) (*Result, error) {
	if deltaLink == "" {
		return c.FullSync(ctx)
	}
	return c.IncrementalSync(ctx, deltaLink)
}

// FullSync establishes the delta checkpoint first, then pages through the folder by offset
// within the lookback window. Anything arriving during the listing is replayed by the next
// incremental sync; the upsert absorbs the overlap.
func (c *Client) FullSync(ctx context.Context) (*Result, error) {
	deltaLink, err := c.establishDeltaLink(ctx)
	if err != nil {
		return nil, err
	}

	since := c.now().Add(-c.Lookback).UTC().Format(time.RFC3339)
	endpoint := fmt.Sprintf("%s/me/mailFolders/%s/messages", c.BaseURL, url.PathEscape(c.Folder))

	var ids []string
	for skip := 0; ; skip += c.PageSize {
		q := url.Values{}
		q.Set("$filter", "receivedDateTime ge "+since)
		q.Set("$select", listSelectFields)
		q.Set("$top", strconv.Itoa(c.PageSize))
		q.Set("$skip", strconv.Itoa(skip))

		page, err := c.listPage(ctx, endpoint+"?"+q.Encode())
		if err != nil {
			return nil, err
		}
		for _, item := range page.Value {
			ids = append(ids, item.ID)
		}
		if page.NextLink == "" || len(page.Value) == 0 {
			break
		}
	}

	messages, err := c.fetchDetails(ctx, ids)
	if err != nil {
		return nil, err
	}

	log.Printf("[Graph] Full sync fetched %d messages from %s", len(messages), c.Folder)
	return &Result{Messages: messages, DeltaLink: deltaLink}, nil
}

// IncrementalSync follows continuation links from deltaLink until a new delta link is issued.
// Deleted messages come back as Message{ID, Removed: true}. The last change seen for an id wins.
func (c *Client) IncrementalSync(ctx context.Context, deltaLink string) (*Result, error) {
	var order []string
	removed := map[string]bool{}
	next := deltaLink
	newDelta := ""
	for next != "" {
		page, err := c.listPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Value {
			if _, seen := removed[item.ID]; !seen {
				order = append(order, item.ID)
			}
			removed[item.ID] = item.Removed != nil
		}
		next = page.NextLink
		if page.DeltaLink != "" {
			newDelta = page.DeltaLink
		}
	}
	if newDelta == "" {
		newDelta = deltaLink
	}

	var changed, gone []string
	for _, id := range order {
		if removed[id] {
			gone = append(gone, id)
		} else {
			changed = append(changed, id)
		}
	}

	messages, err := c.fetchDetails(ctx, changed)
	if err != nil {
		return nil, err
	}
	for _, id := range gone {
		messages = append(messages, domain.Message{ID: id, Removed: true})
	}
	log.Printf("[Graph] Incremental sync fetched %d messages, %d removed", len(changed), len(gone))
	return &Result{Messages: messages, DeltaLink: newDelta}, nil
}

func (c *Client) establishDeltaLink(ctx context.Context) (string, error) {
	next := fmt.Sprintf("%s/me/mailFolders/%s/messages/delta?$select=%s", c.BaseURL, url.PathEscape(c.Folder), listSelectFields)
	for next != "" {
		page, err := c.listPage(ctx, next)
		if err != nil {
			return "", err
		}
		if page.DeltaLink != "" {
			return page.DeltaLink, nil
		}
		next = page.NextLink
	}
	return "", errors.New("delta query ended without a delta link")
}

func (c *Client) listPage(ctx context.Context, rawURL string) (*listResponse, error) {
	var page listResponse
	if err := c.getJSON(ctx, rawURL, &page); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return &page, nil
}

// fetchDetails loads full messages in input order. Any failure fails the whole call.
func (c *Client) fetchDetails(ctx context.Context, ids []string) ([]domain.Message, error) {
	out := make([]domain.Message, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailParallel)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			m, err := c.GetMessage(gctx, id)
			if err != nil {
				return err
			}
			out[i] = *m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMessage fetches one message with its attachment metadata.
func (c *Client) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var gm graphMessage
	if err := c.getJSON(ctx, fmt.Sprintf("%s/me/messages/%s", c.BaseURL, url.PathEscape(id)), &gm); err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", id, err)
	}
	msg := gm.toDomain(c.Folder)

	if gm.HasAttachments {
		var atts attachmentList
		q := url.Values{"$select": {"id,name,contentType,size,isInline,contentId"}}
		err := c.getJSON(ctx, fmt.Sprintf("%s/me/messages/%s/attachments?%s", c.BaseURL, url.PathEscape(id), q.Encode()), &atts)
		if err != nil {
			log.Printf("[Graph] Could not fetch attachments of %s: %v", id, err)
		} else {
			for _, a := range atts.Value {
				msg.Attachments = append(msg.Attachments, domain.AttachmentMeta{
					ID:        a.ID,
					Name:      a.Name,
					MimeType:  a.ContentType,
					Size:      a.Size,
					Inline:    a.IsInline,
					ContentID: a.ContentID,
				})
			}
		}
	}
	msg.HasAttachments = len(msg.Attachments) > 0
	return msg, nil
}

// DownloadAttachment returns the decoded content of a file attachment.
func (c *Client) DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	var att struct {
		ContentBytes string `json:"contentBytes"`
	}
	endpoint := fmt.Sprintf("%s/me/messages/%s/attachments/%s", c.BaseURL, url.PathEscape(messageID), url.PathEscape(attachmentID))
	if err := c.getJSON(ctx, endpoint, &att); err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	if att.ContentBytes == "" {
		return nil, errors.New("attachment has no content")
	}
	return base64.StdEncoding.DecodeString(att.ContentBytes)
}

// getJSON performs one logical GET. A 401 triggers a single token refresh and a single retry.
func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	err := c.get(ctx, rawURL, out)
	if httpclient.StatusCode(err) != http.StatusUnauthorized || c.refresh == nil {
		return err
	}

	token, rerr := c.refresh(ctx)
	if rerr != nil {
		return fmt.Errorf("%w: refresh failed: %v", ErrUnauthorized, rerr)
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	err = c.get(ctx, rawURL, out)
	if httpclient.StatusCode(err) == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}

func (c *Client) get(ctx context.Context, rawURL string, out interface{}) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	return httpclient.Call(ctx, c.cb, c.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
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

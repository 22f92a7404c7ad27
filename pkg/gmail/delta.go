package gmail

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"levramail-backend/internal/mail/domain"
	"levramail-backend/pkg/deltasync"
	"levramail-backend/pkg/httpclient"
	"levramail-backend/pkg/retry"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
)

const (
	backfillPrefix = "backfill:"
	pageSize       = 100
	fetchParallel  = 5
)

// DeltaProvider maps the delta-token protocol onto the Gmail API.
// The first token of a mailbox is a backfill marker; afterwards tokens are history ids.
type DeltaProvider struct {
	// Retry applies to every API call. Defaults to retry.RemotePolicy.
	Retry retry.Policy
	srv   *gmail.Service
	cb    *gobreaker.CircuitBreaker
}

// NewDeltaProvider wraps an authorized Gmail service. cb may be shared between accounts;
// nil creates a private breaker.
func NewDeltaProvider(srv *gmail.Service, cb *gobreaker.CircuitBreaker) *DeltaProvider {
	if cb == nil {
		cb = httpclient.NewBreaker("gmail")
	}
	return &DeltaProvider{Retry: retry.RemotePolicy, srv: srv, cb: cb}
}

// StartSync is ready immediately: Gmail needs no server-side sync job.
func (p *DeltaProvider) StartSync(ctx context.Context, daysWithin int) (*deltasync.StartResult, error) {
	var profile *gmail.Profile
	err := httpclient.Call(ctx, p.cb, p.Retry, func() error {
		var err error
		profile, err = p.srv.Users.GetProfile("me").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read mailbox profile: %w", err)
	}
	return &deltasync.StartResult{
		Token: fmt.Sprintf("%s%d:%d", backfillPrefix, daysWithin, profile.HistoryId),
		Ready: true,
	}, nil
}

func (p *DeltaProvider) GetUpdatedRecords(ctx context.Context, deltaToken, pageToken string) (*deltasync.Page, error) {
	if strings.HasPrefix(deltaToken, backfillPrefix) {
		return p.backfillPage(ctx, deltaToken, pageToken)
	}
	return p.historyPage(ctx, deltaToken, pageToken)
}

func (p *DeltaProvider) backfillPage(ctx context.Context, deltaToken, pageToken string) (*deltasync.Page, error) {
	parts := strings.Split(strings.TrimPrefix(deltaToken, backfillPrefix), ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed backfill token %q", deltaToken)
	}

	call := p.srv.Users.Messages.List("me").Q("newer_than:" + parts[0] + "d").MaxResults(pageSize).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	var resp *gmail.ListMessagesResponse
	err := httpclient.Call(ctx, p.cb, p.Retry, func() error {
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	records, err := p.fetchMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	page := &deltasync.Page{Records: records, NextPageToken: resp.NextPageToken}
	if resp.NextPageToken == "" {
		page.NextDeltaToken = parts[1]
	}
	return page, nil
}

func (p *DeltaProvider) historyPage(ctx context.Context, deltaToken, pageToken string) (*deltasync.Page, error) {
	startID, err := strconv.ParseUint(deltaToken, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed history token %q: %w", deltaToken, err)
	}

	call := p.srv.Users.History.List("me").
		StartHistoryId(startID).
		HistoryTypes("messageAdded", "labelAdded", "labelRemoved").
		MaxResults(pageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	var resp *gmail.ListHistoryResponse
	err = httpclient.Call(ctx, p.cb, p.Retry, func() error {
		var err error
		resp, err = call.Do()
		return err
	})
	if httpclient.StatusCode(err) == http.StatusNotFound {
		return nil, deltasync.ErrDeltaTokenExpired
	}
	if err != nil {
		return nil, fmt.Errorf("unable to list history: %w", err)
	}

	seen := map[string]bool{}
	var ids []string
	add := func(m *gmail.Message) {
		if m != nil && !seen[m.Id] {
			seen[m.Id] = true
			ids = append(ids, m.Id)
		}
	}
	for _, h := range resp.History {
		for _, a := range h.MessagesAdded {
			add(a.Message)
		}
		for _, l := range h.LabelsAdded {
			add(l.Message)
		}
		for _, l := range h.LabelsRemoved {
			add(l.Message)
		}
	}

	records, err := p.fetchMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	page := &deltasync.Page{Records: records, NextPageToken: resp.NextPageToken}
	if resp.NextPageToken == "" {
		page.NextDeltaToken = strconv.FormatUint(resp.HistoryId, 10)
	}
	return page, nil
}

// fetchMessages loads full messages in input order. Messages deleted since they were listed are skipped.
func (p *DeltaProvider) fetchMessages(ctx context.Context, ids []string) ([]domain.Message, error) {
	results := make([]*domain.Message, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallel)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			var msg *gmail.Message
			err := httpclient.Call(gctx, p.cb, p.Retry, func() error {
				var err error
				msg, err = p.srv.Users.Messages.Get("me", id).Format("full").Context(gctx).Do()
				return err
			})
			if httpclient.StatusCode(err) == http.StatusNotFound {
				return nil
			}
			if err != nil {
				return fmt.Errorf("unable to fetch message %s: %w", id, err)
			}
			converted := convertMessage(msg)
			results[i] = &converted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.Message, 0, len(ids))
	for _, m := range results {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

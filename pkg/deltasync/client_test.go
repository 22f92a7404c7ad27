package deltasync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"levramail-backend/internal/mail/domain"
	"levramail-backend/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu         sync.Mutex
	readyAfter int
	starts     int
	pages      map[string]*Page
	failOnPage string
	seenDeltas []string
}

func (f *fakeProvider) StartSync(ctx context.Context, daysWithin int) (*StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return &StartResult{Token: "start-token", Ready: f.starts > f.readyAfter}, nil
}

func (f *fakeProvider) GetUpdatedRecords(ctx context.Context, deltaToken, pageToken string) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seenDeltas = append(f.seenDeltas, deltaToken)
	if pageToken == f.failOnPage && f.failOnPage != "" {
		return nil, errors.New("boom")
	}
	return f.pages[pageToken], nil
}

func threePages() map[string]*Page {
	return map[string]*Page{
		"":   {Records: []domain.Message{{ID: "m1"}}, NextPageToken: "p2", NextDeltaToken: "d1"},
		"p2": {Records: []domain.Message{{ID: "m2"}}, NextPageToken: "p3"},
		"p3": {Records: []domain.Message{{ID: "m3"}}, NextDeltaToken: "d3"},
	}
}

func TestSyncKeepsLastDeltaToken(t *testing.T) {
	p := &fakeProvider{pages: threePages()}
	c := NewClient(p, Options{})

	res, err := c.Sync(context.Background(), "stored")
	require.NoError(t, err)
	assert.Len(t, res.Messages, 3)
	assert.Equal(t, "d3", res.NextDeltaToken)
	assert.Equal(t, StateCheckpointReady, c.State())
	assert.Equal(t, 0, p.starts)
	for _, d := range p.seenDeltas {
		assert.Equal(t, "stored", d)
	}
}

func TestSyncIsAllOrNothing(t *testing.T) {
	p := &fakeProvider{pages: threePages(), failOnPage: "p3"}
	c := NewClient(p, Options{})

	res, err := c.Sync(context.Background(), "stored")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, StateIdle, c.State())
}

func TestSyncPollsUntilReady(t *testing.T) {
	p := &fakeProvider{readyAfter: 1, pages: threePages()}
	c := NewClient(p, Options{PollInterval: time.Millisecond})

	start := time.Now()
	res, err := c.Sync(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, p.starts)
	assert.GreaterOrEqual(t, time.Since(start), minPollInterval)
	assert.Equal(t, "start-token", p.seenDeltas[0])
	assert.Equal(t, "d3", res.NextDeltaToken)
}

func TestSyncGivesUpAfterMaxPolls(t *testing.T) {
	p := &fakeProvider{readyAfter: 100}
	c := NewClient(p, Options{MaxPolls: 1})

	_, err := c.Sync(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 2, p.starts)
}

func TestSyncPollHonoursCancellation(t *testing.T) {
	p := &fakeProvider{readyAfter: 100}
	c := NewClient(p, Options{PollInterval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Sync(ctx, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRESTProviderProtocol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/email/sync":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "3", r.URL.Query().Get("daysWithin"))
			assert.Equal(t, "html", r.URL.Query().Get("bodyType"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"syncUpdatedToken": "s1", "ready": true})
		case "/email/sync/updated":
			if r.URL.Query().Get("deltaToken") == "old" {
				w.WriteHeader(http.StatusGone)
				return
			}
			assert.Equal(t, "s1", r.URL.Query().Get("deltaToken"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"records":        []map[string]interface{}{{"id": "m1", "threadId": "t1", "subject": "hi", "sysLabels": []string{"inbox"}}},
				"nextDeltaToken": "d2",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(NewRESTProvider(srv.URL, "tok", nil), Options{DaysWithin: 3})
	res, err := c.Sync(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "t1", res.Messages[0].ThreadID)
	assert.Equal(t, []string{"inbox"}, res.Messages[0].SysLabels)
	assert.Equal(t, "d2", res.NextDeltaToken)

	_, err = c.Sync(context.Background(), "old")
	assert.ErrorIs(t, err, ErrDeltaTokenExpired)
}

func TestRESTProviderRetriesTransientFailures(t *testing.T) {
	var calls, denied atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/email/sync/updated":
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"records": []interface{}{}, "nextDeltaToken": "d2"})
		default:
			denied.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	p := NewRESTProvider(srv.URL, "tok", nil)
	p.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	page, err := p.GetUpdatedRecords(context.Background(), "d1", "")
	require.NoError(t, err)
	assert.Equal(t, "d2", page.NextDeltaToken)
	assert.Equal(t, int32(2), calls.Load())

	// Authorization failures are final.
	_, err = p.StartSync(context.Background(), 3)
	require.Error(t, err)
	assert.Equal(t, int32(1), denied.Load())
}

package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"levramail-backend/pkg/httpclient"
	"levramail-backend/pkg/retry"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGraph struct {
	srv        *httptest.Server
	validToken string
	skips      []string
}

func newFakeGraph(t *testing.T) *fakeGraph {
	f := &fakeGraph{validToken: "good"}
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/me/mailFolders/Inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		skip := r.URL.Query().Get("$skip")
		f.skips = append(f.skips, skip)
		assert.True(t, strings.HasPrefix(r.URL.Query().Get("$filter"), "receivedDateTime ge "))
		if skip == "0" {
			write(w, map[string]interface{}{"value": []map[string]string{{"id": "m1"}, {"id": "m2"}}, "@odata.nextLink": f.srv.URL + "/ignored"})
			return
		}
		write(w, map[string]interface{}{"value": []map[string]string{{"id": "m3"}}})
	})
	mux.HandleFunc("/me/mailFolders/Inbox/messages/delta", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			write(w, map[string]interface{}{"value": []map[string]string{{"id": "m1"}}, "@odata.nextLink": f.srv.URL + "/me/mailFolders/Inbox/messages/delta?page=2"})
			return
		}
		write(w, map[string]interface{}{"value": []map[string]string{}, "@odata.deltaLink": f.srv.URL + "/delta?token=d1"})
	})
	mux.HandleFunc("/delta", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("token") {
		case "d1":
			write(w, map[string]interface{}{
				"value":           []map[string]interface{}{{"id": "m4"}, {"id": "gone", "@removed": map[string]string{"reason": "deleted"}}},
				"@odata.nextLink": f.srv.URL + "/delta?token=d1-page2",
			})
		case "d1-page2":
			write(w, map[string]interface{}{"value": []map[string]string{{"id": "m4"}}, "@odata.deltaLink": f.srv.URL + "/delta?token=d2"})
		}
	})
	mux.HandleFunc("/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/me/messages/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1:
			write(w, map[string]interface{}{
				"id":               parts[0],
				"conversationId":   "conv-" + parts[0],
				"subject":          "Hello " + parts[0],
				"receivedDateTime": "2024-01-02T10:00:00Z",
				"sentDateTime":     "2024-01-02T09:59:00Z",
				"isRead":           false,
				"importance":       "high",
				"hasAttachments":   parts[0] == "m1",
				"parentFolderId":   "AAMkInbox",
				"from":             map[string]interface{}{"emailAddress": map[string]string{"name": "Alice", "address": "Alice@Example.com"}},
				"toRecipients":     []map[string]interface{}{{"emailAddress": map[string]string{"address": "bob@example.com"}}},
				"body":             map[string]string{"contentType": "html", "content": "<p>hi</p>"},
			})
		case len(parts) == 2:
			write(w, map[string]interface{}{"value": []map[string]interface{}{{"id": "a1", "name": "doc.txt", "contentType": "text/plain", "size": 5}}})
		default:
			write(w, map[string]string{"contentBytes": base64.StdEncoding.EncodeToString([]byte("hello"))})
		}
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func TestFullSyncPagesByOffsetAndEstablishesDeltaLink(t *testing.T) {
	f := newFakeGraph(t)
	c := NewClient(f.srv.URL, "good", nil, nil)
	c.PageSize = 2

	res, err := c.Sync(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, []string{"0", "2"}, f.skips)
	assert.Equal(t, f.srv.URL+"/delta?token=d1", res.DeltaLink)

	m := res.Messages[0]
	assert.Equal(t, "conv-m1", m.ThreadID)
	assert.Equal(t, "alice@example.com", m.From.Address)
	assert.Equal(t, []string{"inbox", "unread", "important"}, m.SysLabels)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "doc.txt", m.Attachments[0].Name)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 59, 0, 0, time.UTC), m.SentAt.UTC())
}

func TestIncrementalSyncFollowsNextLinks(t *testing.T) {
	f := newFakeGraph(t)
	c := NewClient(f.srv.URL, "good", nil, nil)

	res, err := c.Sync(context.Background(), f.srv.URL+"/delta?token=d1")
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "m4", res.Messages[0].ID)
	assert.False(t, res.Messages[0].Removed)
	assert.Equal(t, "gone", res.Messages[1].ID)
	assert.True(t, res.Messages[1].Removed)
	assert.Equal(t, f.srv.URL+"/delta?token=d2", res.DeltaLink)
}

func TestFullSyncKeepsMessagesArrivingDuringListing(t *testing.T) {
	var srv *httptest.Server
	var arrived atomic.Bool
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/me/mailFolders/Inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]interface{}{"value": []map[string]string{{"id": "m1"}}})
		// m2 lands right after the listing page was served.
		arrived.Store(true)
	})
	mux.HandleFunc("/me/mailFolders/Inbox/messages/delta", func(w http.ResponseWriter, r *http.Request) {
		token := "before-m2"
		if arrived.Load() {
			token = "after-m2"
		}
		write(w, map[string]interface{}{"value": []map[string]string{}, "@odata.deltaLink": srv.URL + "/delta?token=" + token})
	})
	mux.HandleFunc("/delta", func(w http.ResponseWriter, r *http.Request) {
		value := []map[string]string{}
		if r.URL.Query().Get("token") == "before-m2" && arrived.Load() {
			value = append(value, map[string]string{"id": "m2"})
		}
		write(w, map[string]interface{}{"value": value, "@odata.deltaLink": srv.URL + "/delta?token=after-m2"})
	})
	mux.HandleFunc("/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]interface{}{"id": strings.TrimPrefix(r.URL.Path, "/me/messages/"), "subject": "s"})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "good", nil, nil)
	full, err := c.Sync(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, full.Messages, 1)
	assert.Equal(t, "m1", full.Messages[0].ID)

	next, err := c.Sync(context.Background(), full.DeltaLink)
	require.NoError(t, err)
	require.Len(t, next.Messages, 1)
	assert.Equal(t, "m2", next.Messages[0].ID)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "m1", "subject": "s"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "good", nil, nil)
	c.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	msg, err := c.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBreakerIsSharedAcrossClients(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	var healthyCalls atomic.Int32
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthyCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "m1"})
	}))
	defer healthy.Close()

	cb := httpclient.NewBreaker("graph-test")
	noRetry := retry.Policy{MaxAttempts: 1}
	for i := 0; i < 6; i++ {
		c := NewClient(failing.URL, "good", nil, cb)
		c.Retry = noRetry
		_, err := c.GetMessage(context.Background(), "m1")
		require.Error(t, err)
	}

	c := NewClient(healthy.URL, "good", nil, cb)
	c.Retry = noRetry
	_, err := c.GetMessage(context.Background(), "m1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(0), healthyCalls.Load())
}

func TestUnauthorizedRefreshesOnce(t *testing.T) {
	f := newFakeGraph(t)
	var refreshes int32
	c := NewClient(f.srv.URL, "stale", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&refreshes, 1)
		return "good", nil
	}, nil)

	msg, err := c.GetMessage(context.Background(), "m2")
	require.NoError(t, err)
	assert.Equal(t, "m2", msg.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))

	data, err := c.DownloadAttachment(context.Background(), "m1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestUnauthorizedAfterRefreshIsFatal(t *testing.T) {
	f := newFakeGraph(t)
	var refreshes int32
	c := NewClient(f.srv.URL, "stale", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&refreshes, 1)
		return "still-bad", nil
	}, nil)

	_, err := c.GetMessage(context.Background(), "m2")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))

	c = NewClient(f.srv.URL, "stale", func(ctx context.Context) (string, error) {
		return "", errors.New("revoked")
	}, nil)
	_, err = c.GetMessage(context.Background(), "m2")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSysLabels(t *testing.T) {
	assert.Equal(t, []string{"sent"}, sysLabels("SentItems", "Inbox", true, "normal"))
	assert.Equal(t, []string{"junk", "unread"}, sysLabels("", "JunkEmail", false, "low"))
	assert.Equal(t, []string{"inbox"}, sysLabels("opaque-id", "Archive", true, ""))
}

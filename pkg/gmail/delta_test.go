package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"levramail-backend/pkg/deltasync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func fakeGmail(t *testing.T) *gmail.Service {
	t.Helper()
	body := base64.URLEncoding.EncodeToString([]byte("<p>Hello</p>"))
	message := func(id string, labels ...string) map[string]interface{} {
		return map[string]interface{}{
			"id":           id,
			"threadId":     "thread-" + id,
			"labelIds":     labels,
			"internalDate": "1700000000000",
			"payload": map[string]interface{}{
				"mimeType": "multipart/mixed",
				"headers": []map[string]string{
					{"name": "From", "value": "Alice <alice@example.com>"},
					{"name": "To", "value": "bob@example.com, Carol <carol@example.com>"},
					{"name": "Subject", "value": "Subject " + id},
				},
				"parts": []map[string]interface{}{
					{"mimeType": "text/html", "body": map[string]interface{}{"data": body}},
					{"mimeType": "application/pdf", "filename": "a.pdf", "body": map[string]interface{}{"attachmentId": "att-1", "size": 42}},
				},
			},
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/")
		switch {
		case path == "profile":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"historyId": "100"})
		case path == "messages":
			assert.Equal(t, "newer_than:3d", r.URL.Query().Get("q"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"messages": []map[string]string{{"id": "m1"}, {"id": "gone"}}})
		case path == "history":
			if r.URL.Query().Get("startHistoryId") == "1" {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": map[string]interface{}{"code": 404, "message": "not found"}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"historyId": "120",
				"history": []map[string]interface{}{
					{"messagesAdded": []map[string]interface{}{{"message": map[string]string{"id": "m2"}}}},
					{"labelsAdded": []map[string]interface{}{{"message": map[string]string{"id": "m2"}}}},
				},
			})
		case path == "messages/gone":
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": map[string]interface{}{"code": 404, "message": "not found"}})
		case path == "messages/m1":
			_ = json.NewEncoder(w).Encode(message("m1", "INBOX", "UNREAD", "CATEGORY_PROMOTIONS"))
		case path == "messages/m2":
			_ = json.NewEncoder(w).Encode(message("m2", "SENT"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(), option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return svc
}

func TestDeltaProviderBackfillThenHistory(t *testing.T) {
	client := deltasync.NewClient(NewDeltaProvider(fakeGmail(t), nil), deltasync.Options{DaysWithin: 3})

	res, err := client.Sync(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "100", res.NextDeltaToken)

	m := res.Messages[0]
	assert.Equal(t, "thread-m1", m.ThreadID)
	assert.Equal(t, []string{"inbox", "unread"}, m.SysLabels)
	assert.Equal(t, []string{"promotions"}, m.SysClassifications)
	assert.Equal(t, "alice@example.com", m.From.Address)
	assert.Len(t, m.To, 2)
	assert.Equal(t, "<p>Hello</p>", m.Body)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "att-1", m.Attachments[0].ID)
	assert.True(t, m.HasAttachments)

	res, err = client.Sync(context.Background(), res.NextDeltaToken)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "m2", res.Messages[0].ID)
	assert.Equal(t, []string{"sent"}, res.Messages[0].SysLabels)
	assert.Equal(t, "120", res.NextDeltaToken)
}

func TestDeltaProviderExpiredHistory(t *testing.T) {
	client := deltasync.NewClient(NewDeltaProvider(fakeGmail(t), nil), deltasync.Options{})
	_, err := client.Sync(context.Background(), "1")
	assert.ErrorIs(t, err, deltasync.ErrDeltaTokenExpired)
}

package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	integrationdomain "levramail-backend/internal/integration/domain"
	"levramail-backend/internal/integration/repository"
	"levramail-backend/internal/testutil"
	"levramail-backend/pkg/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type fakeEmbedder struct {
	calls atomic.Int32
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	f.texts = append(f.texts, text)
	return []float32{1, 0, 0}, nil
}

type fakeDrive struct {
	listFails bool
	exports   map[string]string
}

func (d *fakeDrive) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/drive/v3"), "/")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case path == "files":
			if d.listFails {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": map[string]interface{}{"code": 401, "message": "invalid credentials"}})
				return
			}
			assert.Contains(t, r.URL.Query().Get("q"), "trashed = false")
			if r.URL.Query().Get("pageToken") == "" {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"nextPageToken": "p2",
					"files": []map[string]string{
						{"id": "doc", "name": "Roadmap", "mimeType": mimeGoogleDoc, "modifiedTime": "2026-01-02T10:00:00Z", "webViewLink": "https://docs.example/doc"},
						{"id": "sheet", "name": "Budget", "mimeType": mimeGoogleSheet, "modifiedTime": "2026-01-03T10:00:00Z"},
					},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"files": []map[string]string{
					{"id": "notes", "name": "notes.txt", "mimeType": "text/plain"},
					{"id": "broken", "name": "broken", "mimeType": mimeGoogleDoc},
				},
			})
		case strings.HasSuffix(path, "/export"):
			id := strings.TrimSuffix(strings.TrimPrefix(path, "files/"), "/export")
			body, ok := d.exports[id+"|"+r.URL.Query().Get("mimeType")]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(body))
		case path == "files/notes" && r.URL.Query().Get("alt") == "media":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("plain notes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

type driveFixture struct {
	usecase     DriveSyncUsecase
	connections repository.ConnectionRepository
	items       repository.ItemRepository
	embedder    *fakeEmbedder
	drive       *fakeDrive
}

func newDriveFixture(t *testing.T) *driveFixture {
	t.Helper()
	db := testutil.NewDB(t, &integrationdomain.AppConnection{}, &integrationdomain.SyncedItem{})
	connections := repository.NewConnectionRepository(db, crypto.NewSealer("test-secret"))
	items := repository.NewItemRepository(db)
	require.NoError(t, connections.Create(&integrationdomain.AppConnection{
		ID: "conn", UserID: "u1", Provider: integrationdomain.ProviderGoogleDrive, AccessToken: "old", RefreshToken: "r",
	}))

	fd := &fakeDrive{exports: map[string]string{
		"doc|text/plain":  strings.Repeat("a", maxContentChars+100),
		"sheet|text/csv": "month,amount\njan,10",
	}}
	srv := httptest.NewServer(fd.handler(t))
	t.Cleanup(srv.Close)

	factory := func(ctx context.Context, _ *integrationdomain.AppConnection) (*drive.Service, oauth2.TokenSource, error) {
		svc, err := drive.NewService(ctx, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "fresh"})
		return svc, ts, err
	}
	emb := &fakeEmbedder{}
	return &driveFixture{
		usecase:     NewDriveSyncUsecase(connections, items, emb, factory),
		connections: connections,
		items:       items,
		embedder:    emb,
		drive:       fd,
	}
}

func TestDriveSyncStoresDocuments(t *testing.T) {
	f := newDriveFixture(t)

	result, err := f.usecase.Sync(context.Background(), "u1", "conn")
	require.NoError(t, err)
	assert.Equal(t, &DriveSyncResult{Synced: 3, Failed: 1}, result)

	items, err := f.items.FindByConnection("conn")
	require.NoError(t, err)
	require.Len(t, items, 3)
	byID := map[string]integrationdomain.SyncedItem{}
	for _, it := range items {
		byID[it.ExternalID] = it
	}
	assert.Len(t, []rune(byID["doc"].Content), maxContentChars)
	assert.Equal(t, "https://docs.example/doc", byID["doc"].URL)
	assert.Equal(t, 2026, byID["doc"].ModifiedAt.Year())
	assert.Equal(t, "month,amount\njan,10", byID["sheet"].Content)
	assert.Equal(t, "plain notes", byID["notes"].Content)
	assert.NotEmpty(t, byID["notes"].Embeddings)

	for _, text := range f.embedder.texts {
		assert.LessOrEqual(t, len([]rune(text)), maxEmbeddingChars)
	}

	conn, err := f.connections.FindByID("conn")
	require.NoError(t, err)
	assert.Equal(t, integrationdomain.ConnectionSynced, conn.Status)
	assert.NotNil(t, conn.LastSyncedAt)
	assert.Equal(t, "fresh", conn.AccessToken)
	assert.Equal(t, "r", conn.RefreshToken)
}

func TestDriveSyncIsIdempotent(t *testing.T) {
	f := newDriveFixture(t)
	ctx := context.Background()

	_, err := f.usecase.Sync(ctx, "u1", "conn")
	require.NoError(t, err)
	f.drive.exports["sheet|text/csv"] = "month,amount\nfeb,20"
	_, err = f.usecase.Sync(ctx, "u1", "conn")
	require.NoError(t, err)

	items, err := f.items.FindByConnection("conn")
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		if it.ExternalID == "sheet" {
			assert.Equal(t, "month,amount\nfeb,20", it.Content)
		}
	}
}

func TestDriveSyncListFailureMarksError(t *testing.T) {
	f := newDriveFixture(t)
	f.drive.listFails = true

	_, err := f.usecase.Sync(context.Background(), "u1", "conn")
	require.Error(t, err)

	conn, err := f.connections.FindByID("conn")
	require.NoError(t, err)
	assert.Equal(t, integrationdomain.ConnectionError, conn.Status)
	assert.Contains(t, conn.LastError, "invalid credentials")
	assert.Nil(t, conn.LastSyncedAt)
}

func TestDriveSyncRejectsForeignConnection(t *testing.T) {
	f := newDriveFixture(t)

	_, err := f.usecase.Sync(context.Background(), "someone-else", "conn")
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	_, err = f.usecase.Sync(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestConnectionTokensAreSealed(t *testing.T) {
	db := testutil.NewDB(t, &integrationdomain.AppConnection{})
	repo := repository.NewConnectionRepository(db, crypto.NewSealer("k"))
	require.NoError(t, repo.Create(&integrationdomain.AppConnection{ID: "c", UserID: "u", Provider: integrationdomain.ProviderGoogleDrive, AccessToken: "plain"}))

	var raw integrationdomain.AppConnection
	require.NoError(t, db.First(&raw, "id = ?", "c").Error)
	assert.NotEqual(t, "plain", raw.AccessToken)

	conn, err := repo.FindByID("c")
	require.NoError(t, err)
	assert.Equal(t, "plain", conn.AccessToken)
	assert.Equal(t, integrationdomain.ConnectionActive, conn.Status)
}

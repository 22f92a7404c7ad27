package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	integrationdomain "levramail-backend/internal/integration/domain"
	"levramail-backend/internal/integration/repository"
	"levramail-backend/pkg/dbtypes"
	"levramail-backend/pkg/embedding"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	maxDriveFiles     = 100
	maxContentChars   = 50000
	maxEmbeddingChars = 8000
	// Exported documents are read up to this many bytes before truncation.
	maxDownloadBytes = 4 * maxContentChars

	mimeGoogleDoc   = "application/vnd.google-apps.document"
	mimeGoogleSheet = "application/vnd.google-apps.spreadsheet"

	driveQuery = "trashed = false and (mimeType = '" + mimeGoogleDoc + "' or mimeType = '" + mimeGoogleSheet +
		"' or mimeType = 'application/pdf' or mimeType contains 'text/')"
	driveFields = "nextPageToken, files(id, name, mimeType, modifiedTime, webViewLink)"
)

var (
	ErrConnectionNotFound    = errors.New("connection not found")
	ErrUnsupportedConnection = errors.New("unsupported connection provider")
)

// DriveSyncResult counts the files of one run.
type DriveSyncResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// DriveServiceFactory builds a Drive client for the connection. The returned token source reports
// the token in use after the run so refreshed credentials can be stored.
type DriveServiceFactory func(ctx context.Context, conn *integrationdomain.AppConnection) (*drive.Service, oauth2.TokenSource, error)

type DriveSyncUsecase interface {
	// Sync pulls the connection's documents into synced items. userID must own the connection.
	Sync(ctx context.Context, userID, connectionID string) (*DriveSyncResult, error)
}

type driveSyncUsecase struct {
	connections repository.ConnectionRepository
	items       repository.ItemRepository
	embedder    embedding.Embedder
	newService  DriveServiceFactory
	now         func() time.Time
}

// NewDriveSyncUsecase embeds synced documents with embedder when it is not nil.
func NewDriveSyncUsecase(connections repository.ConnectionRepository, items repository.ItemRepository, embedder embedding.Embedder, newService DriveServiceFactory) DriveSyncUsecase {
	return &driveSyncUsecase{
		connections: connections,
		items:       items,
		embedder:    embedder,
		newService:  newService,
		now:         time.Now,
	}
}

// OAuthDriveServices authenticates with the connection's stored Google tokens.
func OAuthDriveServices(cfg *oauth2.Config, opts ...option.ClientOption) DriveServiceFactory {
	return func(ctx context.Context, conn *integrationdomain.AppConnection) (*drive.Service, oauth2.TokenSource, error) {
		token := &oauth2.Token{AccessToken: conn.AccessToken, RefreshToken: conn.RefreshToken, TokenType: "Bearer"}
		if conn.ExpiresAt != nil {
			token.Expiry = *conn.ExpiresAt
		}
		ts := oauth2.ReuseTokenSource(token, cfg.TokenSource(ctx, token))
		all := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
		srv, err := drive.NewService(ctx, all...)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to create Drive service: %w", err)
		}
		return srv, ts, nil
	}
}

func (u *driveSyncUsecase) Sync(ctx context.Context, userID, connectionID string) (*DriveSyncResult, error) {
	conn, err := u.connections.FindByID(connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	if conn == nil || conn.UserID != userID {
		return nil, ErrConnectionNotFound
	}
	if conn.Provider != integrationdomain.ProviderGoogleDrive {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConnection, conn.Provider)
	}

	srv, ts, err := u.newService(ctx, conn)
	if err != nil {
		u.fail(conn.ID, err)
		return nil, err
	}

	files, err := listDriveFiles(ctx, srv)
	if err != nil {
		u.fail(conn.ID, err)
		return nil, fmt.Errorf("failed to list drive files: %w", err)
	}

	result := &DriveSyncResult{}
	for _, f := range files {
		if err := u.syncFile(ctx, srv, conn.ID, f); err != nil {
			log.Printf("[DriveSync] Failed to sync file %s (%s): %v", f.Id, f.Name, err)
			result.Failed++
			continue
		}
		result.Synced++
	}

	u.storeToken(conn, ts)
	syncedAt := u.now()
	if err := u.connections.SetStatus(conn.ID, integrationdomain.ConnectionSynced, "", &syncedAt); err != nil {
		return result, fmt.Errorf("failed to update connection status: %w", err)
	}
	log.Printf("[DriveSync] Connection %s: %d synced, %d failed", conn.ID, result.Synced, result.Failed)
	return result, nil
}

func (u *driveSyncUsecase) fail(connectionID string, cause error) {
	if err := u.connections.SetStatus(connectionID, integrationdomain.ConnectionError, cause.Error(), nil); err != nil {
		log.Printf("[DriveSync] Failed to mark connection %s as failed: %v", connectionID, err)
	}
}

func (u *driveSyncUsecase) storeToken(conn *integrationdomain.AppConnection, ts oauth2.TokenSource) {
	if ts == nil {
		return
	}
	tok, err := ts.Token()
	if err != nil || tok.AccessToken == conn.AccessToken {
		return
	}
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		expiry = &tok.Expiry
	}
	if err := u.connections.UpdateTokens(conn.ID, tok.AccessToken, tok.RefreshToken, expiry); err != nil {
		log.Printf("[DriveSync] Failed to store refreshed token for connection %s: %v", conn.ID, err)
	}
}

func listDriveFiles(ctx context.Context, srv *drive.Service) ([]*drive.File, error) {
	var files []*drive.File
	pageToken := ""
	for len(files) < maxDriveFiles {
		call := srv.Files.List().
			Q(driveQuery).
			PageSize(maxDriveFiles).
			Fields(googleapi.Field(driveFields)).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, err
		}
		files = append(files, page.Files...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	if len(files) > maxDriveFiles {
		files = files[:maxDriveFiles]
	}
	return files, nil
}

func (u *driveSyncUsecase) syncFile(ctx context.Context, srv *drive.Service, connectionID string, f *drive.File) error {
	content, err := fileContent(ctx, srv, f)
	if err != nil {
		return err
	}
	content = truncateRunes(content, maxContentChars)

	item := &integrationdomain.SyncedItem{
		ConnectionID: connectionID,
		ExternalID:   f.Id,
		Title:        f.Name,
		MimeType:     f.MimeType,
		URL:          f.WebViewLink,
		Content:      content,
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		item.ModifiedAt = t
	}

	if u.embedder != nil && content != "" {
		vec, err := u.embedder.Embed(ctx, embedding.Normalize(content, maxEmbeddingChars))
		if err != nil {
			log.Printf("[DriveSync] Embedding failed for %s: %v", f.Id, err)
		} else {
			item.Embeddings = dbtypes.Vector(vec)
		}
	}
	return u.items.Upsert(item)
}

func fileContent(ctx context.Context, srv *drive.Service, f *drive.File) (string, error) {
	var (
		resp *http.Response
		err  error
	)
	switch f.MimeType {
	case mimeGoogleDoc:
		resp, err = srv.Files.Export(f.Id, "text/plain").Context(ctx).Download()
	case mimeGoogleSheet:
		resp, err = srv.Files.Export(f.Id, "text/csv").Context(ctx).Download()
	default:
		resp, err = srv.Files.Get(f.Id).Context(ctx).Download()
	}
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package repository

import (
	"errors"
	"fmt"
	"time"

	integrationdomain "levramail-backend/internal/integration/domain"
	"levramail-backend/pkg/crypto"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConnectionRepository stores app connections. Tokens are sealed at rest.
type ConnectionRepository interface {
	Create(conn *integrationdomain.AppConnection) error
	FindByID(id string) (*integrationdomain.AppConnection, error)
	UpdateTokens(id, accessToken, refreshToken string, expiresAt *time.Time) error
	SetStatus(id, status, lastError string, syncedAt *time.Time) error
}

type ItemRepository interface {
	// Upsert inserts the item or refreshes the row with the same connection and external id.
	Upsert(item *integrationdomain.SyncedItem) error
	FindByConnection(connectionID string) ([]integrationdomain.SyncedItem, error)
}

type ChatAttachmentRepository interface {
	Create(att *integrationdomain.ChatAttachment) error
	FindByAccount(accountID string) ([]integrationdomain.ChatAttachment, error)
}

type connectionRepository struct {
	db     *gorm.DB
	sealer *crypto.Sealer
}

func NewConnectionRepository(db *gorm.DB, sealer *crypto.Sealer) ConnectionRepository {
	return &connectionRepository{db: db, sealer: sealer}
}

func (r *connectionRepository) Create(conn *integrationdomain.AppConnection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.Status == "" {
		conn.Status = integrationdomain.ConnectionActive
	}
	sealed := *conn
	var err error
	if sealed.AccessToken, err = r.sealer.Seal(conn.AccessToken); err != nil {
		return err
	}
	if sealed.RefreshToken, err = r.sealer.Seal(conn.RefreshToken); err != nil {
		return err
	}
	return r.db.Create(&sealed).Error
}

func (r *connectionRepository) FindByID(id string) (*integrationdomain.AppConnection, error) {
	var conn integrationdomain.AppConnection
	if err := r.db.Where("id = ?", id).First(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var err error
	if conn.AccessToken, err = r.sealer.Open(conn.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to open access token of connection %s: %w", id, err)
	}
	if conn.RefreshToken, err = r.sealer.Open(conn.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to open refresh token of connection %s: %w", id, err)
	}
	return &conn, nil
}

func (r *connectionRepository) UpdateTokens(id, accessToken, refreshToken string, expiresAt *time.Time) error {
	sealedAccess, err := r.sealer.Seal(accessToken)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"access_token": sealedAccess, "expires_at": expiresAt}
	if refreshToken != "" {
		sealedRefresh, err := r.sealer.Seal(refreshToken)
		if err != nil {
			return err
		}
		updates["refresh_token"] = sealedRefresh
	}
	return r.db.Model(&integrationdomain.AppConnection{}).Where("id = ?", id).Updates(updates).Error
}

func (r *connectionRepository) SetStatus(id, status, lastError string, syncedAt *time.Time) error {
	updates := map[string]interface{}{"status": status, "last_error": lastError}
	if syncedAt != nil {
		updates["last_synced_at"] = syncedAt
	}
	return r.db.Model(&integrationdomain.AppConnection{}).Where("id = ?", id).Updates(updates).Error
}

type itemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) ItemRepository {
	return &itemRepository{db: db}
}

func (r *itemRepository) Upsert(item *integrationdomain.SyncedItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "mime_type", "url", "content", "modified_at", "embeddings", "updated_at"}),
	}).Create(item).Error
}

func (r *itemRepository) FindByConnection(connectionID string) ([]integrationdomain.SyncedItem, error) {
	var items []integrationdomain.SyncedItem
	if err := r.db.Where("connection_id = ?", connectionID).Order("title").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

type chatAttachmentRepository struct {
	db *gorm.DB
}

func NewChatAttachmentRepository(db *gorm.DB) ChatAttachmentRepository {
	return &chatAttachmentRepository{db: db}
}

func (r *chatAttachmentRepository) Create(att *integrationdomain.ChatAttachment) error {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	return r.db.Create(att).Error
}

func (r *chatAttachmentRepository) FindByAccount(accountID string) ([]integrationdomain.ChatAttachment, error) {
	var rows []integrationdomain.ChatAttachment
	if err := r.db.Where("account_id = ?", accountID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

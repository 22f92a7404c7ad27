package domain

import (
	"time"

	"levramail-backend/pkg/dbtypes"
)

const (
	ProviderGoogleDrive = "google_drive"

	ConnectionActive = "active"
	ConnectionSynced = "synced"
	ConnectionError  = "error"
)

// AppConnection is an OAuth link to a third-party document source.
type AppConnection struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"index;not null"`
	AccountID    string     `json:"account_id" gorm:"index"`
	Provider     string     `json:"provider" gorm:"not null"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Status       string     `json:"status"`
	LastError    string     `json:"last_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SyncedItem is a document pulled from a connection, unique by (connection, external id).
type SyncedItem struct {
	ID           string         `json:"id" gorm:"primaryKey"`
	ConnectionID string         `json:"connection_id" gorm:"uniqueIndex:idx_connection_external;not null"`
	ExternalID   string         `json:"external_id" gorm:"uniqueIndex:idx_connection_external;not null"`
	Title        string         `json:"title"`
	MimeType     string         `json:"mime_type"`
	URL          string         `json:"url"`
	Content      string         `json:"content" gorm:"type:text"`
	ModifiedAt   time.Time      `json:"modified_at"`
	Embeddings   dbtypes.Vector `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ChatAttachment is a file uploaded by the user for the assistant.
type ChatAttachment struct {
	ID             string         `json:"id" gorm:"primaryKey"`
	AccountID      string         `json:"account_id" gorm:"index;not null"`
	FileName       string         `json:"file_name"`
	MimeType       string         `json:"mime_type"`
	Size           int64          `json:"size"`
	Text           string         `json:"text" gorm:"type:text"`
	TextEmbeddings dbtypes.Vector `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
}

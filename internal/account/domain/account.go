package domain

import "time"

// Supported mailbox providers.
const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
	ProviderAurinko   = "aurinko"
)

// Account is one connected mailbox. Tokens are stored sealed.
type Account struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"index;not null"`
	Provider     string     `json:"provider" gorm:"not null"`
	EmailAddress string     `json:"email_address" gorm:"index"`
	Name         string     `json:"name"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	// NextDeltaToken is the sync checkpoint. Nil means a full resync is required.
	NextDeltaToken *string   `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SyncStatus values reported per account.
const (
	SyncIdle      = "idle"
	SyncRunning   = "syncing"
	SyncCommitted = "committed"
	SyncFailed    = "failed"
)

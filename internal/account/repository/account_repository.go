package repository

import (
	"errors"
	"fmt"
	"time"

	accountdomain "levramail-backend/internal/account/domain"
	"levramail-backend/pkg/crypto"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountRepository stores connected mailboxes. Tokens are sealed on write and opened on read.
type AccountRepository interface {
	Create(account *accountdomain.Account) error
	FindByID(id string) (*accountdomain.Account, error)
	FindByEmailAddress(provider, address string) (*accountdomain.Account, error)
	FindAll() ([]*accountdomain.Account, error)
	UpdateTokens(id, accessToken, refreshToken string, expiresAt *time.Time) error
	// SetDeltaToken overwrites the sync checkpoint. A nil token forces a full resync.
	SetDeltaToken(id string, token *string) error
}

type accountRepository struct {
	db     *gorm.DB
	sealer *crypto.Sealer
}

func NewAccountRepository(db *gorm.DB, sealer *crypto.Sealer) AccountRepository {
	return &accountRepository{db: db, sealer: sealer}
}

func (r *accountRepository) Create(account *accountdomain.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()

	stored := *account
	if err := r.seal(&stored); err != nil {
		return err
	}
	return r.db.Create(&stored).Error
}

func (r *accountRepository) FindByID(id string) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := r.db.Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.open(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) FindByEmailAddress(provider, address string) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := r.db.Where("provider = ? AND LOWER(email_address) = LOWER(?)", provider, address).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.open(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) FindAll() ([]*accountdomain.Account, error) {
	var accounts []*accountdomain.Account
	if err := r.db.Order("created_at ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if err := r.open(a); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func (r *accountRepository) UpdateTokens(id, accessToken, refreshToken string, expiresAt *time.Time) error {
	sealedAccess, err := r.sealer.Seal(accessToken)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"access_token": sealedAccess,
		"expires_at":   expiresAt,
		"updated_at":   time.Now(),
	}
	// Providers often omit the refresh token on refresh; keep the stored one then.
	if refreshToken != "" {
		sealedRefresh, err := r.sealer.Seal(refreshToken)
		if err != nil {
			return err
		}
		updates["refresh_token"] = sealedRefresh
	}
	return r.db.Model(&accountdomain.Account{}).Where("id = ?", id).Updates(updates).Error
}

func (r *accountRepository) SetDeltaToken(id string, token *string) error {
	res := r.db.Model(&accountdomain.Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"next_delta_token": token,
		"updated_at":       time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s not found", id)
	}
	return nil
}

func (r *accountRepository) seal(a *accountdomain.Account) error {
	var err error
	if a.AccessToken, err = r.sealer.Seal(a.AccessToken); err != nil {
		return err
	}
	a.RefreshToken, err = r.sealer.Seal(a.RefreshToken)
	return err
}

func (r *accountRepository) open(a *accountdomain.Account) error {
	var err error
	if a.AccessToken, err = r.sealer.Open(a.AccessToken); err != nil {
		return fmt.Errorf("failed to open access token for account %s: %w", a.ID, err)
	}
	if a.RefreshToken, err = r.sealer.Open(a.RefreshToken); err != nil {
		return fmt.Errorf("failed to open refresh token for account %s: %w", a.ID, err)
	}
	return nil
}

package repository

import (
	"fmt"
	"strings"

	maildomain "levramail-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AddressRepository interface {
	// Upsert stores the address under its lowercase form and returns the stored row.
	Upsert(accountID string, addr maildomain.Address) (*maildomain.EmailAddress, error)
	FindByIDs(ids []string) ([]maildomain.EmailAddress, error)
}

type addressRepository struct {
	db *gorm.DB
}

func NewAddressRepository(db *gorm.DB) AddressRepository {
	return &addressRepository{db: db}
}

func (r *addressRepository) Upsert(accountID string, addr maildomain.Address) (*maildomain.EmailAddress, error) {
	address := strings.ToLower(strings.TrimSpace(addr.Address))
	if address == "" {
		return nil, fmt.Errorf("empty email address")
	}

	row := &maildomain.EmailAddress{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Address:   address,
		Name:      addr.Name,
		Raw:       addr.Raw,
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "raw"}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	// On conflict the stored id differs from the one generated above.
	var stored maildomain.EmailAddress
	if err := r.db.Where("account_id = ? AND address = ?", accountID, address).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *addressRepository) FindByIDs(ids []string) ([]maildomain.EmailAddress, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []maildomain.EmailAddress
	if err := r.db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

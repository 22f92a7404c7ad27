package repository

import (
	"errors"

	searchdomain "levramail-backend/internal/search/domain"

	"gorm.io/gorm"
)

type QARepository interface {
	Create(entry *searchdomain.QAEntry) error
	FindByID(id string) (*searchdomain.QAEntry, error)
	FindByAccount(accountID string) ([]searchdomain.QAEntry, error)
	// FindContaining returns the ids of entries whose query contains text, case-insensitively.
	FindContaining(accountID, text string) ([]string, error)
	Delete(ids []string) (int64, error)
}

type qaRepository struct {
	db *gorm.DB
}

func NewQARepository(db *gorm.DB) QARepository {
	return &qaRepository{db: db}
}

func (r *qaRepository) Create(entry *searchdomain.QAEntry) error {
	return r.db.Create(entry).Error
}

func (r *qaRepository) FindByID(id string) (*searchdomain.QAEntry, error) {
	var entry searchdomain.QAEntry
	err := r.db.Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *qaRepository) FindByAccount(accountID string) ([]searchdomain.QAEntry, error) {
	var entries []searchdomain.QAEntry
	if err := r.db.Where("account_id = ?", accountID).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *qaRepository) FindContaining(accountID, text string) ([]string, error) {
	var ids []string
	err := r.db.Model(&searchdomain.QAEntry{}).
		Where("account_id = ?", accountID).
		Where(`LOWER(query) LIKE ? ESCAPE '\'`, likePattern(text)).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *qaRepository) Delete(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.Where("id IN ?", ids).Delete(&searchdomain.QAEntry{})
	return res.RowsAffected, res.Error
}

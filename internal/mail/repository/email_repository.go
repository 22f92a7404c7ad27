package repository

import (
	"errors"

	maildomain "levramail-backend/internal/mail/domain"

	"gorm.io/gorm"
)

type EmailRepository interface {
	FindByID(id string) (*maildomain.Email, error)
	FindByThreadID(threadID string) ([]maildomain.Email, error)
	// Create fails with gorm.ErrDuplicatedKey when the id already exists.
	Create(email *maildomain.Email) error
	// Update writes every column except created_at, zero values included.
	Update(email *maildomain.Email) error
	// ThreadLabels returns the email_label and sys_labels of every email in the thread.
	ThreadLabels(threadID string) ([]maildomain.Email, error)
	// Delete removes the email and its attachments. Deleting a missing id is not an error.
	Delete(id string) error
}

type emailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) FindByID(id string) (*maildomain.Email, error) {
	var email maildomain.Email
	err := r.db.Where("id = ?", id).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) FindByThreadID(threadID string) ([]maildomain.Email, error) {
	var emails []maildomain.Email
	if err := r.db.Where("thread_id = ?", threadID).Order("sent_at ASC").Find(&emails).Error; err != nil {
		return nil, err
	}
	return emails, nil
}

func (r *emailRepository) Create(email *maildomain.Email) error {
	return r.db.Create(email).Error
}

func (r *emailRepository) Update(email *maildomain.Email) error {
	res := r.db.Model(email).Select("*").Omit("created_at").Updates(email)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *emailRepository) ThreadLabels(threadID string) ([]maildomain.Email, error) {
	var emails []maildomain.Email
	err := r.db.Select("id", "email_label", "sys_labels").Where("thread_id = ?", threadID).Find(&emails).Error
	if err != nil {
		return nil, err
	}
	return emails, nil
}

func (r *emailRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email_id = ?", id).Delete(&maildomain.EmailAttachment{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&maildomain.Email{}).Error
	})
}

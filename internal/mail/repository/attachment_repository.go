package repository

import (
	"errors"

	maildomain "levramail-backend/internal/mail/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttachmentRepository interface {
	// Upsert refreshes attachment metadata. Stored content is never cleared.
	Upsert(attachment *maildomain.EmailAttachment) error
	FindByEmailID(emailID string) ([]maildomain.EmailAttachment, error)
	// FindOwned returns the attachment only if its email belongs to a thread of the account owned by userID.
	FindOwned(attachmentID, emailID, accountID, userID string) (*maildomain.EmailAttachment, error)
	SetContent(id, content string) error
}

type attachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

func (r *attachmentRepository) Upsert(attachment *maildomain.EmailAttachment) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email_id", "name", "mime_type", "size", "inline", "content_id", "content_location"}),
	}).Create(attachment).Error
	if err != nil {
		return err
	}
	if attachment.Content != nil && *attachment.Content != "" {
		return r.db.Model(&maildomain.EmailAttachment{}).
			Where("id = ? AND (content IS NULL OR content = '')", attachment.ID).
			Update("content", *attachment.Content).Error
	}
	return nil
}

func (r *attachmentRepository) FindByEmailID(emailID string) ([]maildomain.EmailAttachment, error) {
	var rows []maildomain.EmailAttachment
	if err := r.db.Where("email_id = ?", emailID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *attachmentRepository) FindOwned(attachmentID, emailID, accountID, userID string) (*maildomain.EmailAttachment, error) {
	var row maildomain.EmailAttachment
	err := r.db.Model(&maildomain.EmailAttachment{}).
		Select("email_attachments.*").
		Joins("JOIN emails ON emails.id = email_attachments.email_id").
		Joins("JOIN threads ON threads.id = emails.thread_id").
		Joins("JOIN accounts ON accounts.id = threads.account_id").
		Where("email_attachments.id = ? AND email_attachments.email_id = ?", attachmentID, emailID).
		Where("threads.account_id = ? AND accounts.user_id = ?", accountID, userID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *attachmentRepository) SetContent(id, content string) error {
	return r.db.Model(&maildomain.EmailAttachment{}).Where("id = ?", id).Update("content", content).Error
}

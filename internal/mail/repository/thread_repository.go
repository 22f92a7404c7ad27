package repository

import (
	"errors"

	maildomain "levramail-backend/internal/mail/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ThreadRepository interface {
	FindByID(id string) (*maildomain.Thread, error)
	// Save inserts the thread or overwrites every column of the stored row.
	Save(thread *maildomain.Thread) error
}

type threadRepository struct {
	db *gorm.DB
}

func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db}
}

func (r *threadRepository) FindByID(id string) (*maildomain.Thread, error) {
	var thread maildomain.Thread
	err := r.db.Where("id = ?", id).First(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &thread, nil
}

func (r *threadRepository) Save(thread *maildomain.Thread) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject", "last_message_date", "participant_ids", "done",
			"inbox_status", "draft_status", "sent_status", "spam_status", "junk_status",
			"updated_at",
		}),
	}).Create(thread).Error
}

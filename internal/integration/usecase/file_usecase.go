package usecase

import (
	"context"
	"fmt"
	"log"

	integrationdomain "levramail-backend/internal/integration/domain"
	"levramail-backend/internal/integration/repository"
	"levramail-backend/pkg/dbtypes"
	"levramail-backend/pkg/fileproc"
)

type FileUsecase interface {
	// Upload extracts and embeds an uploaded file and stores it for the account.
	Upload(ctx context.Context, accountID, fileName, mimeType string, data []byte) (*integrationdomain.ChatAttachment, error)
	List(accountID string) ([]integrationdomain.ChatAttachment, error)
}

type fileUsecase struct {
	files     repository.ChatAttachmentRepository
	processor *fileproc.Processor
}

func NewFileUsecase(files repository.ChatAttachmentRepository, processor *fileproc.Processor) FileUsecase {
	return &fileUsecase{files: files, processor: processor}
}

func (u *fileUsecase) Upload(ctx context.Context, accountID, fileName, mimeType string, data []byte) (*integrationdomain.ChatAttachment, error) {
	processed, err := u.processor.Process(ctx, data, fileName, mimeType)
	if processed == nil {
		return nil, err
	}
	if err != nil {
		// Text is still worth keeping for keyword search.
		log.Printf("[Files] %v", err)
	}

	att := &integrationdomain.ChatAttachment{
		AccountID:      accountID,
		FileName:       fileName,
		MimeType:       processed.MimeType,
		Size:           int64(len(data)),
		Text:           processed.Text,
		TextEmbeddings: dbtypes.Vector(processed.Embeddings),
	}
	if err := u.files.Create(att); err != nil {
		return nil, fmt.Errorf("failed to store file %s: %w", fileName, err)
	}
	log.Printf("[Files] Stored %s (%d bytes) for account %s", fileName, len(data), accountID)
	return att, nil
}

func (u *fileUsecase) List(accountID string) ([]integrationdomain.ChatAttachment, error) {
	return u.files.FindByAccount(accountID)
}

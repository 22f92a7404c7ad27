package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	accountdomain "levramail-backend/internal/account/domain"
	accountrepo "levramail-backend/internal/account/repository"
	"levramail-backend/internal/attachment/cache"
	maildomain "levramail-backend/internal/mail/domain"
	mailrepo "levramail-backend/internal/mail/repository"
	"levramail-backend/pkg/fileproc"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxBytes        = 10 << 20
	DefaultDownloadTimeout = 30 * time.Second
	DefaultConcurrency     = 3
	DefaultBatchSize       = 5
)

// Request identifies an attachment and who is asking for it.
type Request struct {
	AttachmentID string `json:"attachmentId"`
	EmailID      string `json:"emailId"`
	AccountID    string `json:"accountId"`
	UserID       string `json:"userId"`
}

// ProcessedAttachment is the extracted text and vector of an attachment.
type ProcessedAttachment struct {
	AttachmentID string    `json:"attachmentId"`
	FileName     string    `json:"fileName"`
	MimeType     string    `json:"mimeType"`
	Text         string    `json:"text"`
	Embeddings   []float32 `json:"embeddings,omitempty"`
}

// Downloader fetches raw attachment bytes from the account's provider.
type Downloader interface {
	Download(ctx context.Context, account *accountdomain.Account, messageID, attachmentID string) ([]byte, error)
}

// Processor turns file bytes into text and embeddings.
type Processor interface {
	Process(ctx context.Context, data []byte, fileName, mimeType string) (*fileproc.Processed, error)
}

// FetcherUsecase serves attachment text to the assistant, downloading and caching on demand.
type FetcherUsecase interface {
	// Fetch returns nil when the attachment is unavailable for any reason. Failures are logged.
	Fetch(ctx context.Context, req Request) *ProcessedAttachment
	// FetchBatch fetches at most max attachments in parallel, dropping the unavailable ones.
	FetchBatch(ctx context.Context, reqs []Request, max int) []ProcessedAttachment
	CacheStats() cache.Stats
}

// Options bounds attachment fetching. Zero values select the Default constants.
type Options struct {
	MaxBytes        int64
	DownloadTimeout time.Duration
	// Concurrency bounds in-flight downloads per account.
	Concurrency int64
}

type fetcherUsecase struct {
	attachments mailrepo.AttachmentRepository
	accounts    accountrepo.AccountRepository
	downloaders map[string]Downloader
	processor   Processor
	cache       *cache.Cache
	opts        Options

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewFetcherUsecase takes one Downloader per account provider.
func NewFetcherUsecase(
	attachments mailrepo.AttachmentRepository,
	accounts accountrepo.AccountRepository,
	downloaders map[string]Downloader,
	processor Processor,
	c *cache.Cache,
	opts Options,
) FetcherUsecase {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultDownloadTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if c == nil {
		c = cache.New(cache.DefaultTTL)
	}
	return &fetcherUsecase{
		attachments: attachments,
		accounts:    accounts,
		downloaders: downloaders,
		processor:   processor,
		cache:       c,
		opts:        opts,
		sems:        map[string]*semaphore.Weighted{},
	}
}

func (u *fetcherUsecase) Fetch(ctx context.Context, req Request) *ProcessedAttachment {
	if e, ok := u.cache.Get(req.AttachmentID); ok {
		return fromEntry(req.AttachmentID, e)
	}

	out, err := u.fetch(ctx, req)
	if err != nil {
		log.Printf("[Attachment] %s of email %s unavailable: %v", req.AttachmentID, req.EmailID, err)
		return nil
	}
	return out
}

func (u *fetcherUsecase) fetch(ctx context.Context, req Request) (*ProcessedAttachment, error) {
	att, err := u.attachments.FindOwned(req.AttachmentID, req.EmailID, req.AccountID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("ownership lookup failed: %w", err)
	}
	if att == nil {
		return nil, fmt.Errorf("not found or not owned by account %s", req.AccountID)
	}
	if att.Size > u.opts.MaxBytes {
		return nil, fmt.Errorf("declared size %d exceeds limit %d", att.Size, u.opts.MaxBytes)
	}

	data, err := u.content(ctx, req, att)
	if err != nil {
		return nil, err
	}

	processed, err := u.processor.Process(ctx, data, att.Name, att.MimeType)
	if err != nil {
		if processed == nil {
			return nil, fmt.Errorf("processing failed: %w", err)
		}
		log.Printf("[Attachment] %s processed without embeddings: %v", att.ID, err)
	}

	entry := cache.Entry{
		FileName:   processed.FileName,
		MimeType:   processed.MimeType,
		Text:       processed.Text,
		Embeddings: processed.Embeddings,
	}
	u.cache.Set(att.ID, entry)
	return fromEntry(att.ID, entry), nil
}

// content returns the stored bytes, or downloads and stores them. Stored content that does not
// decode is replaced by a fresh download.
func (u *fetcherUsecase) content(ctx context.Context, req Request, att *maildomain.EmailAttachment) ([]byte, error) {
	if att.Content != nil && *att.Content != "" {
		if int64(base64.StdEncoding.DecodedLen(len(*att.Content))) > u.opts.MaxBytes+2 {
			return nil, fmt.Errorf("stored content exceeds limit %d", u.opts.MaxBytes)
		}
		data, err := decodeBase64(*att.Content)
		if err == nil {
			if int64(len(data)) > u.opts.MaxBytes {
				return nil, fmt.Errorf("stored content of %d bytes exceeds limit %d", len(data), u.opts.MaxBytes)
			}
			return data, nil
		}
		log.Printf("[Attachment] Stored content of %s is not valid base64, downloading again: %v", att.ID, err)
	}

	data, err := u.download(ctx, req, att)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > u.opts.MaxBytes {
		return nil, fmt.Errorf("downloaded %d bytes, limit %d", len(data), u.opts.MaxBytes)
	}

	if err := u.attachments.SetContent(att.ID, base64.StdEncoding.EncodeToString(data)); err != nil {
		log.Printf("[Attachment] Failed to store content of %s: %v", att.ID, err)
	}
	return data, nil
}

func (u *fetcherUsecase) download(ctx context.Context, req Request, att *maildomain.EmailAttachment) ([]byte, error) {
	account, err := u.accounts.FindByID(req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("account %s not found", req.AccountID)
	}
	dl := u.downloaders[account.Provider]
	if dl == nil {
		return nil, fmt.Errorf("no downloader for provider %s", account.Provider)
	}

	sem := u.semaphore(req.AccountID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("gave up waiting for a download slot: %w", err)
	}
	defer sem.Release(1)

	dctx, cancel := context.WithTimeout(ctx, u.opts.DownloadTimeout)
	defer cancel()
	data, err := dl.Download(dctx, account, att.EmailID, att.ID)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	return data, nil
}

func (u *fetcherUsecase) semaphore(accountID string) *semaphore.Weighted {
	u.mu.Lock()
	defer u.mu.Unlock()
	sem, ok := u.sems[accountID]
	if !ok {
		sem = semaphore.NewWeighted(u.opts.Concurrency)
		u.sems[accountID] = sem
	}
	return sem
}

func (u *fetcherUsecase) FetchBatch(ctx context.Context, reqs []Request, max int) []ProcessedAttachment {
	if max <= 0 {
		max = DefaultBatchSize
	}
	if len(reqs) > max {
		reqs = reqs[:max]
	}

	results := make([]*ProcessedAttachment, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			results[i] = u.Fetch(ctx, req)
		}(i, req)
	}
	wg.Wait()

	out := make([]ProcessedAttachment, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (u *fetcherUsecase) CacheStats() cache.Stats {
	return u.cache.Stats()
}

func fromEntry(id string, e cache.Entry) *ProcessedAttachment {
	return &ProcessedAttachment{
		AttachmentID: id,
		FileName:     e.FileName,
		MimeType:     e.MimeType,
		Text:         e.Text,
		Embeddings:   e.Embeddings,
	}
}

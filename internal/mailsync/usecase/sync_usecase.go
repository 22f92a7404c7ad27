package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	accountdomain "levramail-backend/internal/account/domain"
	accountrepo "levramail-backend/internal/account/repository"
	maildomain "levramail-backend/internal/mail/domain"
	mailusecase "levramail-backend/internal/mail/usecase"
	"levramail-backend/pkg/ai"
	"levramail-backend/pkg/deltasync"
	"levramail-backend/pkg/redisclient"
	"levramail-backend/pkg/retry"
)

var (
	ErrSyncInProgress      = errors.New("sync already in progress for this account")
	ErrUnsupportedProvider = errors.New("unsupported mail provider")
	ErrAccountNotFound     = errors.New("account not found")
)

// Locker is a distributed mutex. *redisclient.Client satisfies it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Notifier is told about new high-priority inbox mail of an account.
type Notifier interface {
	NotifyNewMail(ctx context.Context, account *accountdomain.Account, emails []maildomain.Email)
}

// SyncResult summarizes one pass over an account.
type SyncResult struct {
	AccountID      string `json:"accountId"`
	Fetched        int    `json:"fetched"`
	Created        int    `json:"created"`
	Updated        int    `json:"updated"`
	Failed         int    `json:"failed"`
	Indexed        int    `json:"indexed"`
	Committed      bool   `json:"committed"`
	ResyncRequired bool   `json:"resyncRequired"`
}

// Status is the last known sync state of an account.
type Status struct {
	State      string      `json:"state"`
	LastError  string      `json:"lastError,omitempty"`
	LastRun    *time.Time  `json:"lastRun,omitempty"`
	LastResult *SyncResult `json:"lastResult,omitempty"`
}

type SyncUsecase interface {
	// SyncAccount fetches changes since the stored checkpoint, persists them and only then
	// advances the checkpoint.
	SyncAccount(ctx context.Context, accountID string) (*SyncResult, error)
	// SyncAll syncs every account sequentially. Failures are logged.
	SyncAll(ctx context.Context)
	Status(accountID string) Status
}

type Options struct {
	LockTTL time.Duration
	Retry   retry.Policy
}

type syncUsecase struct {
	accounts accountrepo.AccountRepository
	sources  SourceFactory
	upserter mailusecase.Upserter
	locker   Locker
	notifier Notifier
	opts     Options

	mu       sync.Mutex
	running  map[string]bool
	statuses map[string]*Status
	now      func() time.Time
}

// NewSyncUsecase wires the orchestrator. locker and notifier may be nil.
func NewSyncUsecase(
	accounts accountrepo.AccountRepository,
	sources SourceFactory,
	upserter mailusecase.Upserter,
	locker Locker,
	notifier Notifier,
	opts Options,
) SyncUsecase {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Minute
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy
	}
	return &syncUsecase{
		accounts: accounts,
		sources:  sources,
		upserter: upserter,
		locker:   locker,
		notifier: notifier,
		opts:     opts,
		running:  map[string]bool{},
		statuses: map[string]*Status{},
		now:      time.Now,
	}
}

func (u *syncUsecase) SyncAccount(ctx context.Context, accountID string) (*SyncResult, error) {
	account, err := u.accounts.FindByID(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	if !u.begin(accountID) {
		return nil, ErrSyncInProgress
	}
	defer u.end(accountID)

	if u.locker != nil {
		release, err := u.locker.Acquire(ctx, "sync:"+accountID, u.opts.LockTTL)
		if errors.Is(err, redisclient.ErrLocked) {
			return nil, ErrSyncInProgress
		}
		if err != nil {
			// Redis outages degrade to the in-process guard.
			log.Printf("[Sync] Could not take distributed lock for %s, continuing: %v", accountID, err)
		} else {
			defer func() {
				if err := release(context.Background()); err != nil {
					log.Printf("[Sync] %v", err)
				}
			}()
		}
	}

	u.setStatus(accountID, accountdomain.SyncRunning, nil, nil)
	res, err := u.run(ctx, account)
	if err != nil {
		u.setStatus(accountID, accountdomain.SyncFailed, err, res)
		return res, err
	}
	state := accountdomain.SyncCommitted
	if res.ResyncRequired {
		state = accountdomain.SyncIdle
	}
	u.setStatus(accountID, state, nil, res)
	return res, nil
}

func (u *syncUsecase) run(ctx context.Context, account *accountdomain.Account) (*SyncResult, error) {
	res := &SyncResult{AccountID: account.ID}

	source, err := u.sources(ctx, account)
	if err != nil {
		return res, err
	}

	checkpoint := ""
	if account.NextDeltaToken != nil {
		checkpoint = *account.NextDeltaToken
	}

	log.Printf("[Sync] Syncing account %s (%s), checkpoint present: %t", account.ID, account.Provider, checkpoint != "")
	messages, next, err := source.Fetch(ctx, checkpoint)
	if errors.Is(err, deltasync.ErrDeltaTokenExpired) {
		log.Printf("[Sync] Checkpoint of account %s expired, clearing it for a full resync", account.ID)
		res.ResyncRequired = true
		if err := retry.Do(ctx, u.opts.Retry, func() error { return u.accounts.SetDeltaToken(account.ID, nil) }); err != nil {
			return res, fmt.Errorf("failed to clear checkpoint: %w", err)
		}
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to fetch changes: %w", err)
	}
	res.Fetched = len(messages)

	mailbox := mailusecase.Mailbox{AccountID: account.ID, Name: account.Name, EmailAddress: account.EmailAddress}
	upserted, err := u.upserter.Upsert(ctx, mailbox, messages)
	if upserted != nil {
		res.Created = len(upserted.Created)
		res.Updated = upserted.Updated
		res.Failed = upserted.Failed
		res.Indexed = upserted.Indexed.Inserted
	}
	if err != nil {
		// The checkpoint stays where it was so the next pass refetches this batch.
		return res, fmt.Errorf("failed to persist batch: %w", err)
	}

	if next != "" && next != checkpoint {
		err := retry.Do(ctx, u.opts.Retry, func() error { return u.accounts.SetDeltaToken(account.ID, &next) })
		if err != nil {
			return res, fmt.Errorf("failed to store checkpoint: %w", err)
		}
	}
	res.Committed = true
	log.Printf("[Sync] Account %s: fetched %d, created %d, updated %d", account.ID, res.Fetched, res.Created, res.Updated)

	if u.notifier != nil && upserted != nil {
		if important := importantInbox(upserted.Created); len(important) > 0 {
			u.notifier.NotifyNewMail(ctx, account, important)
		}
	}
	return res, nil
}

func importantInbox(emails []maildomain.Email) []maildomain.Email {
	var out []maildomain.Email
	for _, e := range emails {
		if e.EmailLabel == maildomain.LabelInbox && e.Priority == ai.PriorityHigh {
			out = append(out, e)
		}
	}
	return out
}

func (u *syncUsecase) SyncAll(ctx context.Context) {
	accounts, err := u.accounts.FindAll()
	if err != nil {
		log.Printf("[Sync] Failed to list accounts: %v", err)
		return
	}
	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		if _, err := u.SyncAccount(ctx, account.ID); err != nil {
			if errors.Is(err, ErrUnsupportedProvider) || errors.Is(err, ErrSyncInProgress) {
				log.Printf("[Sync] Skipping account %s: %v", account.ID, err)
				continue
			}
			log.Printf("[Sync] Account %s failed: %v", account.ID, err)
		}
	}
}

func (u *syncUsecase) Status(accountID string) Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	if s, ok := u.statuses[accountID]; ok {
		return *s
	}
	return Status{State: accountdomain.SyncIdle}
}

func (u *syncUsecase) begin(accountID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running[accountID] {
		return false
	}
	u.running[accountID] = true
	return true
}

func (u *syncUsecase) end(accountID string) {
	u.mu.Lock()
	delete(u.running, accountID)
	u.mu.Unlock()
}

func (u *syncUsecase) setStatus(accountID, state string, err error, res *SyncResult) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := &Status{State: state}
	if prev, ok := u.statuses[accountID]; ok {
		*s = *prev
		s.State = state
	}
	if state == accountdomain.SyncRunning {
		u.statuses[accountID] = s
		return
	}
	now := u.now()
	s.LastRun = &now
	s.LastResult = res
	s.LastError = ""
	if err != nil {
		s.LastError = err.Error()
	}
	u.statuses[accountID] = s
}

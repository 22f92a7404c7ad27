package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	accountdomain "levramail-backend/internal/account/domain"
	accountrepo "levramail-backend/internal/account/repository"
	syncusecase "levramail-backend/internal/mailsync/usecase"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on a mailbox change.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Syncer runs a sync for one account.
type Syncer interface {
	SyncAccount(ctx context.Context, accountID string) (*syncusecase.SyncResult, error)
}

// Dispatcher turns push notifications into account syncs. Notifications whose history id is not
// newer than the last handled one for the account are dropped.
type Dispatcher struct {
	accounts accountrepo.AccountRepository
	syncer   Syncer

	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

// NewDispatcher resolves notification addresses through accounts and syncs through syncer.
func NewDispatcher(accounts accountrepo.AccountRepository, syncer Syncer) *Dispatcher {
	return &Dispatcher{
		accounts:      accounts,
		syncer:        syncer,
		lastHistoryID: make(map[string]uint64),
	}
}

// Handle processes one raw notification. It reports whether a sync ran.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) (bool, error) {
	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return false, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	if n.EmailAddress == "" {
		return false, errors.New("notification without email address")
	}
	log.Printf("[PubSub] Notification for %s (historyId: %d)", n.EmailAddress, n.HistoryID)

	account, err := d.accounts.FindByEmailAddress(accountdomain.ProviderGoogle, n.EmailAddress)
	if err != nil {
		return false, fmt.Errorf("failed to find account %s: %w", n.EmailAddress, err)
	}
	if account == nil {
		log.Printf("[PubSub] No account for %s", n.EmailAddress)
		return false, nil
	}

	d.mu.Lock()
	last, seen := d.lastHistoryID[account.ID]
	d.mu.Unlock()
	if seen && n.HistoryID <= last {
		log.Printf("[PubSub] Skipping duplicate notification for account %s (historyId %d <= last %d)", account.ID, n.HistoryID, last)
		return false, nil
	}

	if _, err := d.syncer.SyncAccount(ctx, account.ID); err != nil {
		if errors.Is(err, syncusecase.ErrSyncInProgress) {
			log.Printf("[PubSub] Sync already running for account %s", account.ID)
			return false, nil
		}
		return false, fmt.Errorf("sync of account %s failed: %w", account.ID, err)
	}

	d.mu.Lock()
	if n.HistoryID > d.lastHistoryID[account.ID] {
		d.lastHistoryID[account.ID] = n.HistoryID
	}
	d.mu.Unlock()
	return true, nil
}

// Service receives Gmail push notifications from a Pub/Sub subscription.
type Service struct {
	pubsubClient *pubsub.Client
	dispatcher   *Dispatcher
	topicName    string
	subName      string
}

// NewService connects to Pub/Sub. opts are passed to the client, e.g. credentials or a test connection.
func NewService(ctx context.Context, projectID, topicName string, dispatcher *Dispatcher, opts ...option.ClientOption) (*Service, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Service{
		pubsubClient: client,
		dispatcher:   dispatcher,
		topicName:    topicName,
		subName:      topicName + "-sub",
	}, nil
}

// Start blocks until ctx is done or receiving fails. The subscription is created when missing.
func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting with topic %s, subscription %s", s.topicName, s.subName)

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		log.Printf("[PubSub] %v", err)
		return
	}

	log.Printf("[PubSub] Listening on subscription %s", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if _, err := s.dispatcher.Handle(ctx, msg.Data); err != nil {
			log.Printf("[PubSub] %v", err)
		}
		msg.Ack()
	})
	if err != nil {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("error checking subscription: %w", err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("error checking topic: %w", err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	log.Printf("[PubSub] Created subscription %s", s.subName)
	return sub, nil
}

func (s *Service) Close() error {
	return s.pubsubClient.Close()
}

package deltasync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"levramail-backend/internal/mail/domain"
)

// State of a Client during a sync pass.
type State string

const (
	StateIdle            State = "idle"
	StateSyncing         State = "syncing"
	StateDrainingPages   State = "draining-pages"
	StateCheckpointReady State = "checkpoint-ready"
)

var ErrNotReady = errors.New("sync job did not become ready")

const minPollInterval = time.Second

// Options tune the polling and paging behaviour. Zero values take the defaults.
type Options struct {
	DaysWithin   int
	PollInterval time.Duration
	MaxPolls     int
	PageDelay    time.Duration
}

// Result of a successful pass. NextDeltaToken is the checkpoint to store once Messages are persisted.
type Result struct {
	Messages       []domain.Message
	NextDeltaToken string
}

// Client drives one Provider through the protocol.
type Client struct {
	provider Provider
	opts     Options

	mu    sync.Mutex
	state State
}

// NewClient fills unset options: two days of history, 30 polls of at least minPollInterval.
func NewClient(provider Provider, opts Options) *Client {
	if opts.DaysWithin <= 0 {
		opts.DaysWithin = 2
	}
	if opts.PollInterval < minPollInterval {
		opts.PollInterval = minPollInterval
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 30
	}
	return &Client{provider: provider, opts: opts, state: StateIdle}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Sync fetches every change after deltaToken. An empty token starts a new sync job.
// Any failure discards the partial result.
func (c *Client) Sync(ctx context.Context, deltaToken string) (*Result, error) {
	c.setState(StateSyncing)
	res, err := c.sync(ctx, deltaToken)
	if err != nil {
		c.setState(StateIdle)
		return nil, err
	}
	c.setState(StateCheckpointReady)
	return res, nil
}

func (c *Client) sync(ctx context.Context, deltaToken string) (*Result, error) {
	if deltaToken == "" {
		token, err := c.startAndWait(ctx)
		if err != nil {
			return nil, err
		}
		deltaToken = token
	}

	c.setState(StateDrainingPages)
	res := &Result{NextDeltaToken: deltaToken}
	pageToken := ""
	pages := 0
	for {
		page, err := c.provider.GetUpdatedRecords(ctx, deltaToken, pageToken)
		if err != nil {
			return nil, err
		}
		pages++
		res.Messages = append(res.Messages, page.Records...)
		if page.NextDeltaToken != "" {
			res.NextDeltaToken = page.NextDeltaToken
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
		if err := c.wait(ctx, c.opts.PageDelay); err != nil {
			return nil, err
		}
	}

	log.Printf("[DeltaSync] Fetched %d records in %d pages", len(res.Messages), pages)
	return res, nil
}

func (c *Client) startAndWait(ctx context.Context) (string, error) {
	started, err := c.provider.StartSync(ctx, c.opts.DaysWithin)
	if err != nil {
		return "", err
	}
	for polls := 0; !started.Ready; polls++ {
		if polls >= c.opts.MaxPolls {
			return "", fmt.Errorf("%w after %d polls", ErrNotReady, polls)
		}
		if err := c.wait(ctx, c.opts.PollInterval); err != nil {
			return "", err
		}
		if started, err = c.provider.StartSync(ctx, c.opts.DaysWithin); err != nil {
			return "", err
		}
	}
	return started.Token, nil
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

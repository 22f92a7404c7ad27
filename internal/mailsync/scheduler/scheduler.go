package scheduler

import (
	"context"
	"log"
	"time"
)

// Syncer is the part of the sync usecase the scheduler drives.
type Syncer interface {
	SyncAll(ctx context.Context)
}

// SyncScheduler runs a full sync pass over every account on a fixed interval.
type SyncScheduler struct {
	syncer   Syncer
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
}

// NewSyncScheduler creates a new scheduler
func NewSyncScheduler(syncer Syncer, interval time.Duration) *SyncScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncScheduler{
		syncer:   syncer,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *SyncScheduler) Start() {
	log.Printf("[Scheduler] Starting mail sync scheduler (interval: %s)", s.interval)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.stopChan
		cancel()
	}()

	go func() {
		defer close(s.done)

		// Run immediately on start
		s.syncer.SyncAll(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.syncer.SyncAll(ctx)
			case <-s.stopChan:
				log.Println("[Scheduler] Scheduler stopped")
				return
			}
		}
	}()
}

// Stop cancels the running pass and waits for the loop to exit.
func (s *SyncScheduler) Stop() {
	close(s.stopChan)
	<-s.done
}

// Package cache keeps processed attachments in memory for a limited time.
package cache

import (
	"log"
	"sort"
	"sync"
	"time"
)

const (
	DefaultTTL             = time.Hour
	DefaultJanitorInterval = 5 * time.Minute
)

// Entry is the processed form of one attachment.
type Entry struct {
	FileName   string
	MimeType   string
	Text       string
	Embeddings []float32
	StoredAt   time.Time
}

type Stats struct {
	Size int      `json:"size"`
	IDs  []string `json:"ids"`
}

type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache maps attachment ids to processed entries. Entries older than the TTL are treated as absent.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// New creates a cache whose entries live for ttl, DefaultTTL when ttl is not positive.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries:  map[string]Entry{},
		ttl:      ttl,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the entry for id. An expired entry is evicted and reported as a miss.
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if c.expired(e) {
		c.mu.Lock()
		if cur, ok := c.entries[id]; ok && c.expired(cur) {
			delete(c.entries, id)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	return e, true
}

// Set stores e under id, stamping it with the current time.
func (c *Cache) Set(id string, e Entry) {
	e.StoredAt = c.now()
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()
}

func (c *Cache) Remove(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// CleanupExpired evicts every expired entry and returns how many were removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Stats{Size: len(ids), IDs: ids}
}

// StartJanitor evicts expired entries every interval until Stop is called.
func (c *Cache) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.CleanupExpired(); n > 0 {
					log.Printf("[Attachment] Evicted %d expired cache entries", n)
				}
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Cache) expired(e Entry) bool {
	return c.now().Sub(e.StoredAt) >= c.ttl
}

package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestTTLBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New(time.Hour, WithClock(clock.Now))
	c.Set("a1", Entry{FileName: "notes.txt", Text: "hello"})

	clock.Advance(59 * time.Minute)
	e, ok := c.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "hello", e.Text)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get("a1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCleanupExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(time.Hour, WithClock(clock.Now))
	c.Set("old", Entry{})
	clock.Advance(30 * time.Minute)
	c.Set("new", Entry{})
	clock.Advance(31 * time.Minute)

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, Stats{Size: 1, IDs: []string{"new"}}, c.Stats())

	c.Remove("new")
	assert.Equal(t, 0, c.Stats().Size)
}

func TestJanitorEvicts(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(time.Minute, WithClock(clock.Now))
	c.Set("a", Entry{})
	clock.Advance(2 * time.Minute)

	c.StartJanitor(10 * time.Millisecond)
	defer c.Stop()
	assert.Eventually(t, func() bool { return c.Stats().Size == 0 }, time.Second, 5*time.Millisecond)
}

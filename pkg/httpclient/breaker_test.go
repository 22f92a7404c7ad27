package httpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"levramail-backend/pkg/retry"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

func TestCallRetriesServerErrors(t *testing.T) {
	cb := NewBreaker("test")
	calls := 0
	err := Call(context.Background(), cb, fast, func() error {
		calls++
		if calls == 1 {
			return &StatusError{Status: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCallDoesNotRetryClientErrors(t *testing.T) {
	cb := NewBreaker("test")
	calls := 0
	err := Call(context.Background(), cb, fast, func() error {
		calls++
		return &StatusError{Status: 401}
	})
	assert.Equal(t, 401, StatusCode(err))
	assert.Equal(t, 1, calls)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCallStopsOnOpenBreaker(t *testing.T) {
	cb := NewBreaker("test")
	for i := 0; i < 6; i++ {
		_ = Execute(cb, func() error { return &StatusError{Status: 500} })
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	calls := 0
	err := Call(context.Background(), cb, fast, func() error {
		calls++
		return nil
	})
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Zero(t, calls)
}

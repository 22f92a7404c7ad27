package retry

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Policy controls how many attempts are made and how long to wait between them.
// The delay doubles after every failed attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy waits 1s, 2s, 4s, 8s between five attempts.
var DefaultPolicy = Policy{MaxAttempts: 5, BaseDelay: time.Second}

// Do runs fn until it succeeds, returns a non-retryable error, or runs out of attempts.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == p.MaxAttempts-1 {
			return err
		}

		delay := p.BaseDelay << attempt
		log.Printf("[Retry] Operation failed (attempt %d/%d), retrying in %s: %v", attempt+1, p.MaxAttempts, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// transientCodes are SQLSTATEs for pool exhaustion, statement timeouts and dropped connections.
var transientCodes = map[string]bool{
	"53300": true, // too_many_connections
	"57014": true, // query_canceled (statement timeout)
	"57P01": true, // admin_shutdown
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

var transientMessages = []string{
	"connection pool",
	"timed out fetching a new connection",
	"connection refused",
	"connection reset",
	"statement timeout",
	"too many clients",
	"database is locked",
	"broken pipe",
}

// IsTransient reports whether err looks like a temporary infrastructure failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.Timeout(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

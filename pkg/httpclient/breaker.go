// Package httpclient holds the circuit breaker and error type shared by the provider REST clients.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"levramail-backend/pkg/retry"

	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"
)

// StatusError is a non-2xx provider answer.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.Status }

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return 0
}

// NewBreaker opens after more than five consecutive failures, or a 60% failure rate over ten requests.
// Client errors (4xx other than 429) do not count as failures.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 || (counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			code := StatusCode(err)
			return code >= 400 && code < 500 && code != 429
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	})
}

// Execute runs fn through cb.
func Execute(cb *gobreaker.CircuitBreaker, fn func() error) error {
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Call runs fn through cb and retries transient failures under p. Every attempt is counted
// by the breaker, and an open breaker ends the retries.
func Call(ctx context.Context, cb *gobreaker.CircuitBreaker, p retry.Policy, fn func() error) error {
	if p.Retryable == nil {
		p.Retryable = retry.IsTransientRemote
	}
	return retry.Do(ctx, p, func() error { return Execute(cb, fn) })
}

package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"levramail-backend/pkg/gemini"
	"levramail-backend/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc := gemini.NewGeminiService("test-key")
	svc.BaseURL = srv.URL
	e := NewGeminiEmbedder(svc, 8000)
	e.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Retryable: retry.IsTransientRemote}
	return e
}

func TestGeminiEmbedderReturnsVector(t *testing.T) {
	e := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":embedContent"))
		fmt.Fprint(w, `{"embedding":{"values":[0.1,0.2,0.3]}}`)
	})

	vec, err := e.Embed(context.Background(), "hello\nworld")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestGeminiEmbedderTypesQuotaErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"429":     {http.StatusTooManyRequests, `{"error":"slow down"}`},
		"billing": {http.StatusForbidden, `{"error":{"message":"Billing account disabled"}}`},
		"status":  {http.StatusBadRequest, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			})

			_, err := e.Embed(context.Background(), "text")
			require.Error(t, err)
			assert.True(t, IsQuotaError(err))

			var qe *QuotaError
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tc.status, qe.Status)
		})
	}
}

func TestGeminiEmbedderOtherErrorsAreNotQuota(t *testing.T) {
	var calls atomic.Int32
	e := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `internal`)
	})

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.False(t, IsQuotaError(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGeminiEmbedderRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	e := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"embedding":{"values":[0.5]}}`)
	})

	vec, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeminiEmbedderDoesNotRetryQuota(t *testing.T) {
	var calls atomic.Int32
	e := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := e.Embed(context.Background(), "text")
	assert.True(t, IsQuotaError(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmptyInput(t *testing.T) {
	e := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := e.Embed(context.Background(), "  \n\t ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("a\n b\t\tc ", 0))
	assert.Equal(t, "héll", Normalize("héllo", 4))
}

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	s.calls++
	return s.vec, s.err
}

func TestFallbackEmbedder(t *testing.T) {
	secondary := &stubEmbedder{vec: []float32{1}}

	vec, err := NewFallbackEmbedder(&stubEmbedder{err: errors.New("dial tcp: refused")}, secondary).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)

	quota := &QuotaError{Provider: "gemini", Status: 429}
	_, err = NewFallbackEmbedder(&stubEmbedder{err: quota}, secondary).Embed(context.Background(), "x")
	assert.True(t, IsQuotaError(err))
	assert.Equal(t, 1, secondary.calls)
}

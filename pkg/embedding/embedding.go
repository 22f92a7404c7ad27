package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"levramail-backend/pkg/ai"
	"levramail-backend/pkg/gemini"
	"levramail-backend/pkg/retry"
)

var (
	// ErrQuotaExceeded is matched with errors.Is for any provider quota or billing failure.
	ErrQuotaExceeded = errors.New("embedding quota exceeded")
	ErrEmptyInput    = errors.New("empty embedding input")
)

// QuotaError carries the provider answer that signaled exhausted quota.
type QuotaError struct {
	Provider string
	Status   int
	Message  string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s embedding quota exceeded (status %d): %s", e.Provider, e.Status, e.Message)
}

func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }

// IsQuotaError reports whether err signals exhausted embedding quota.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Normalize flattens whitespace and truncates to maxChars runes.
func Normalize(text string, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	if maxChars > 0 {
		if r := []rune(text); len(r) > maxChars {
			text = string(r[:maxChars])
		}
	}
	return text
}

var quotaMarkers = []string{"resource_exhausted", "quota", "billing", "exceeded"}

// GeminiEmbedder embeds through the Gemini embedContent endpoint.
type GeminiEmbedder struct {
	// Retry covers 5xx and network failures. Quota answers are never retried.
	Retry    retry.Policy
	svc      *gemini.GeminiService
	maxChars int
}

// NewGeminiEmbedder truncates input to maxChars runes before embedding; zero disables truncation.
func NewGeminiEmbedder(svc *gemini.GeminiService, maxChars int) *GeminiEmbedder {
	return &GeminiEmbedder{Retry: retry.RemotePolicy, svc: svc, maxChars: maxChars}
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Normalize(text, g.maxChars)
	if text == "" {
		return nil, ErrEmptyInput
	}

	var vec []float32
	err := retry.Do(ctx, g.Retry, func() error {
		var err error
		vec, err = g.svc.EmbedContent(ctx, text)
		var apiErr *gemini.APIError
		if errors.As(err, &apiErr) && isQuotaAnswer(apiErr.Status, apiErr.Body) {
			return &QuotaError{Provider: "gemini", Status: apiErr.Status, Message: apiErr.Body}
		}
		return err
	})
	if err == nil {
		return vec, nil
	}
	if IsQuotaError(err) {
		return nil, err
	}
	return nil, fmt.Errorf("gemini embedding failed: %w", err)
}

func isQuotaAnswer(status int, body string) bool {
	if status == 429 {
		return true
	}
	body = strings.ToLower(body)
	for _, m := range quotaMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// OllamaEmbedder embeds through a local Ollama server.
type OllamaEmbedder struct {
	Retry    retry.Policy
	svc      *ai.OllamaService
	maxChars int
}

func NewOllamaEmbedder(svc *ai.OllamaService, maxChars int) *OllamaEmbedder {
	return &OllamaEmbedder{Retry: retry.RemotePolicy, svc: svc, maxChars: maxChars}
}

func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Normalize(text, o.maxChars)
	if text == "" {
		return nil, ErrEmptyInput
	}
	var vec []float32
	err := retry.Do(ctx, o.Retry, func() error {
		var err error
		vec, err = o.svc.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	return vec, nil
}

// FallbackEmbedder tries primary first and secondary on any non-quota failure.
// Quota errors are returned as-is so callers can switch to keyword search.
type FallbackEmbedder struct {
	primary   Embedder
	secondary Embedder
}

// NewFallbackEmbedder wraps primary; a nil secondary disables the fallback.
func NewFallbackEmbedder(primary, secondary Embedder) *FallbackEmbedder {
	return &FallbackEmbedder{primary: primary, secondary: secondary}
}

func (f *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := f.primary.Embed(ctx, text)
	if err == nil || errors.Is(err, ErrEmptyInput) || IsQuotaError(err) || f.secondary == nil {
		return vec, err
	}
	log.Printf("[Embedding] Primary embedder failed: %v, trying fallback", err)
	return f.secondary.Embed(ctx, text)
}

// Config selects the embedding backend.
type Config struct {
	Provider         string // "gemini", "ollama" or "auto"
	GeminiAPIKey     string
	Model            string
	OllamaBaseURL    string
	OllamaEmbedModel string
	MaxChars         int
}

// New builds the configured Embedder.
// Vectors from different providers have different dimensions and are never mixed in one query.
func New(cfg Config) (Embedder, error) {
	ollama := NewOllamaEmbedder(ai.NewOllamaService(cfg.OllamaBaseURL, "", cfg.OllamaEmbedModel), cfg.MaxChars)

	newGemini := func() *GeminiEmbedder {
		svc := gemini.NewGeminiService(cfg.GeminiAPIKey)
		if cfg.Model != "" {
			svc.EmbedModel = cfg.Model
		}
		return NewGeminiEmbedder(svc, cfg.MaxChars)
	}

	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini embeddings")
		}
		return newGemini(), nil
	case "ollama":
		return ollama, nil
	default:
		if cfg.GeminiAPIKey != "" {
			return newGemini(), nil
		}
		return ollama, nil
	}
}

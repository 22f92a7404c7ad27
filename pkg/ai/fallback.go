package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"

	"levramail-backend/pkg/gemini"
)

// FallbackService routes completions to Gemini first and falls back to Ollama
// when Gemini is unavailable or out of quota.
type FallbackService struct {
	primary   Generator
	secondary Generator
}

func NewFallbackService(primary, secondary Generator) *FallbackService {
	return &FallbackService{primary: primary, secondary: secondary}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{"connection refused", "no such host", "network is unreachable", "connection reset", "timeout", "dial tcp", "eof"} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError reports a 429 / RESOURCE_EXHAUSTED answer from the provider.
func isQuotaError(err error) bool {
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 429 {
			return true
		}
		body := strings.ToLower(apiErr.Body)
		return strings.Contains(body, "resource_exhausted") || strings.Contains(body, "quota")
	}
	return false
}

// GenerateText implements Generator
func (f *FallbackService) GenerateText(ctx context.Context, prompt string) (string, error) {
	if f.primary != nil {
		result, err := f.primary.GenerateText(ctx, prompt)
		if err == nil {
			return result, nil
		}

		switch {
		case isQuotaError(err):
			log.Printf("[AI] Primary provider quota exhausted: %v, falling back", err)
		case isConnectionError(err):
			log.Printf("[AI] Primary provider unreachable: %v, falling back", err)
		default:
			log.Printf("[AI] Primary provider error: %v, falling back", err)
		}
		if f.secondary == nil {
			return "", err
		}
	}

	if f.secondary != nil {
		result, err := f.secondary.GenerateText(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("fallback generation failed: %w", err)
		}
		return result, nil
	}

	return "", fmt.Errorf("no AI provider available")
}

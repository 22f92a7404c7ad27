package ai

import (
	"fmt"

	"levramail-backend/pkg/gemini"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "gemini", "ollama" or "auto"

	GeminiAPIKey string

	OllamaBaseURL    string
	OllamaModel      string
	OllamaEmbedModel string
}

// NewGenerator creates a Generator based on the config.
// In auto mode Gemini is preferred with Ollama as fallback.
func NewGenerator(cfg Config) (Generator, error) {
	ollama := NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.OllamaEmbedModel)

	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return gemini.NewGeminiService(cfg.GeminiAPIKey), nil

	case ProviderOllama:
		return ollama, nil

	default:
		if cfg.GeminiAPIKey != "" {
			return NewFallbackService(gemini.NewGeminiService(cfg.GeminiAPIKey), ollama), nil
		}
		return ollama, nil
	}
}

package ai

import "context"

// Priority levels assigned to inbox mail.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Generator is a text-completion backend.
// Implement this interface to add new AI providers (Gemini, Ollama, OpenAI, etc.)
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ReplyContext is everything the reply generator sees about a conversation.
type ReplyContext struct {
	Thread      []ContextMessage
	Current     ContextMessage
	AccountName string
	AccountAddr string
}

type ContextMessage struct {
	Subject string
	From    string
	SentAt  string
	Body    string
}

// MessageInfo describes a single email for classification prompts.
type MessageInfo struct {
	Subject         string
	From            string
	SentAt          string
	Body            string
	SysLabels       []string
	Classifications []string
}

// Assistant is consumed by the mail upserter for per-message AI decisions.
type Assistant interface {
	ClassifyPriority(ctx context.Context, msg MessageInfo) (string, error)
	ShouldReply(ctx context.Context, msg MessageInfo) (bool, error)
	GenerateReply(ctx context.Context, rc ReplyContext) (string, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)

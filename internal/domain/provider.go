package domain

import "context"

// LLMProvider is the interface for any model backend.
type LLMProvider interface {
	// Chat sends the conversation and tool catalog and returns one assistant message.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "ollama").
	Name() string
}

// HealthChecker is implemented by collaborators that can probe their backend.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

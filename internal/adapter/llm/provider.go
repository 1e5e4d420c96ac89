package llm

import (
	"fmt"
	"log/slog"

	"finagent/internal/domain"
	"finagent/internal/infra/config"
)

// New builds the configured model client, wrapped in a circuit breaker when
// cfg.CircuitBreaker.Enabled is set.
func New(cfg config.LLMConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	var p domain.LLMProvider
	switch cfg.Provider {
	case "", "ollama":
		p = NewOllamaProvider(cfg, logger)
	case "openai":
		p = NewOpenAIProvider("openai", cfg.BaseURL, cfg.APIKey, cfg.Model, NewHTTPClient(cfg), logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}

	if cfg.CircuitBreaker.Enabled {
		p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
	}
	return p, nil
}

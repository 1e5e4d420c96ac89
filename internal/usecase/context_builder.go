package usecase

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"finagent/internal/domain"
)

// ContextBuilder turns a conversation and the tool catalog into a model request.
type ContextBuilder struct {
	model         string
	temperature   float64
	seed          *int
	contextWindow int
	logger        *slog.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// ContextBuilderOptions configures a ContextBuilder.
type ContextBuilderOptions struct {
	Model       string
	Temperature float64
	Seed        *int
	// ContextWindow enables a warning when the estimated prompt exceeds it.
	// 0 disables estimation.
	ContextWindow int
	Logger        *slog.Logger
}

func NewContextBuilder(opts ContextBuilderOptions) *ContextBuilder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{
		model:         opts.Model,
		temperature:   opts.Temperature,
		seed:          opts.Seed,
		contextWindow: opts.ContextWindow,
		logger:        logger,
	}
}

// Build renders [system prompt] + messages with the catalog attached. The
// history is never truncated or rewritten here.
func (cb *ContextBuilder) Build(conv *Conversation, tools []domain.ToolSchema) domain.ChatRequest {
	req := domain.ChatRequest{
		Model:       cb.model,
		Messages:    conv.Render(),
		Tools:       tools,
		Temperature: cb.temperature,
		Seed:        cb.seed,
	}
	if cb.contextWindow > 0 {
		if n := cb.EstimateTokens(req); n > cb.contextWindow {
			cb.logger.Warn("prompt may exceed the model context window",
				"conversation_id", conv.ID(),
				"estimated_tokens", n,
				"context_window", cb.contextWindow,
			)
		}
	}
	return req
}

// EstimateTokens approximates the prompt size of req. It uses the cl100k
// encoding when available and falls back to four characters per token.
func (cb *ContextBuilder) EstimateTokens(req domain.ChatRequest) int {
	cb.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			cb.logger.Debug("token encoder unavailable, using character estimate", "error", err)
			return
		}
		cb.enc = enc
	})

	count := func(s string) int {
		if cb.enc != nil {
			return len(cb.enc.Encode(s, nil, nil))
		}
		return (len(s) + 3) / 4
	}

	// Per-message framing overhead as counted by OpenAI-style chat formats.
	const perMessage = 4
	total := 0
	for _, m := range req.Messages {
		total += perMessage + count(m.Content)
		for _, c := range m.ToolCalls {
			total += count(c.Name) + count(string(c.Arguments))
		}
	}
	for _, t := range req.Tools {
		total += count(t.Name) + count(t.Description) + count(string(t.Parameters))
	}
	return total
}

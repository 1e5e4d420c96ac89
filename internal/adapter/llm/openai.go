package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	"finagent/internal/domain"
	"finagent/internal/infra/tracer"
)

// OpenAIProvider implements domain.LLMProvider for any OpenAI-compatible
// chat completions API.
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider for baseURL, which must include the
// API version path (e.g. http://localhost:11434/v1).
func NewOpenAIProvider(name, baseURL, apiKey, model string, httpClient *http.Client, logger *slog.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIProvider{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	wire := toOpenAIRequest(req, p.model)

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", wire.Model),
			tracer.IntAttr("llm.messages", len(wire.Messages)),
			tracer.IntAttr("llm.tools", len(wire.Tools)),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, wire)
	if err != nil {
		err = mapClientError(err)
		tracer.RecordError(span, err)
		return nil, err
	}

	result, err := fromOpenAIResponse(resp)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if result.Model == "" {
		result.Model = wire.Model
	}

	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result, time.Since(start))
	return result, nil
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// Model returns the default model.
func (p *OpenAIProvider) Model() string { return p.model }

var _ domain.LLMProvider = (*OpenAIProvider)(nil)

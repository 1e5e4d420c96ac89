package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"finagent/internal/domain"
	"finagent/internal/infra/config"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider chats through Ollama's OpenAI-compatible /v1 endpoint and
// uses the native API for health checks and model warmup.
type OllamaProvider struct {
	inner     *OpenAIProvider
	baseURL   string // native API base, without /v1
	model     string
	keepAlive string
	numCtx    int
	client    *http.Client
	logger    *slog.Logger
}

// OllamaModel describes a locally available model.
type OllamaModel struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// NewOllamaProvider creates an Ollama provider from the llm config.
func NewOllamaProvider(cfg config.LLMConfig, logger *slog.Logger) *OllamaProvider {
	baseURL := strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/v1")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	client := NewHTTPClient(cfg)
	return &OllamaProvider{
		// Ollama ignores the key, but go-openai always sends one.
		inner:     NewOpenAIProvider("ollama", baseURL+"/v1", "ollama", cfg.Model, client, logger),
		baseURL:   baseURL,
		model:     cfg.Model,
		keepAlive: cfg.KeepAlive,
		numCtx:    cfg.NumCtx,
		client:    client,
		logger:    logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *OllamaProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return p.inner.Chat(ctx, req)
}

// Name implements domain.LLMProvider.
func (p *OllamaProvider) Name() string { return "ollama" }

// ListModels returns the locally pulled models.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, string(body))
	}

	var out struct {
		Models []OllamaModel `json:"models"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return out.Models, nil
}

// IsHealthy reports whether the Ollama server answers.
func (p *OllamaProvider) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type warmupRequest struct {
	Model     string         `json:"model"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// Warmup loads the model into memory with the configured keep_alive and
// context size, so the first question does not pay the load latency.
func (p *OllamaProvider) Warmup(ctx context.Context) error {
	if !p.IsHealthy(ctx) {
		return fmt.Errorf("%w: ollama not reachable at %s", domain.ErrModelUnavailable, p.baseURL)
	}

	wr := warmupRequest{Model: p.model, KeepAlive: p.keepAlive}
	if p.numCtx > 0 {
		wr.Options = map[string]any{"num_ctx": p.numCtx}
	}
	payload, err := json.Marshal(wr)
	if err != nil {
		return fmt.Errorf("marshal warmup: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create warmup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("warmup request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return mapHTTPError(resp.StatusCode, string(body))
	}

	p.logger.Info("ollama model warmed up", "model", p.model, "keep_alive", p.keepAlive,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

var (
	_ domain.LLMProvider   = (*OllamaProvider)(nil)
	_ domain.HealthChecker = (*OllamaProvider)(nil)
)

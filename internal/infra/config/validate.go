package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateEmbedding(cfg, ve)
	validateKnowledge(cfg, ve)
	validateSearch(cfg, ve)
	validateMarket(cfg, ve)
	validateServer(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	a := cfg.Agent
	if strings.TrimSpace(a.SystemPrompt) == "" {
		ve.Add("agent.system_prompt must not be empty")
	}
	if a.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if a.ModelTimeout <= 0 {
		ve.Add("agent.model_timeout must be > 0")
	}
	if a.ToolTimeout <= 0 {
		ve.Add("agent.tool_timeout must be > 0")
	}
	if a.ContextWindow < 0 {
		ve.Add("agent.context_window must be >= 0")
	}
	for name, limit := range a.Policy {
		if limit < 0 {
			ve.Add("agent.policy.%s must be >= 0, got %d", name, limit)
		}
	}
}

var validLLMProviders = map[string]bool{
	"ollama": true,
	"openai": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	l := cfg.LLM
	if !validLLMProviders[l.Provider] {
		ve.Add("llm.provider %q is not supported (want ollama or openai)", l.Provider)
	}
	validateURL(ve, "llm.base_url", l.BaseURL)
	if l.Model == "" {
		ve.Add("llm.model must not be empty")
	}
	if l.Provider == "openai" && l.APIKey == "" {
		ve.Add("llm.api_key is required for provider openai")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		ve.Add("llm.temperature must be within [0, 2], got %v", l.Temperature)
	}
	if l.Timeout <= 0 {
		ve.Add("llm.timeout must be > 0")
	}
	if l.WarmupSchedule != "" {
		if _, err := cron.ParseStandard(l.WarmupSchedule); err != nil {
			ve.Add("llm.warmup_schedule %q: %v", l.WarmupSchedule, err)
		}
	}
	if cb := l.CircuitBreaker; cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cb.Timeout <= 0 {
			ve.Add("llm.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	e := cfg.Embedding
	validateURL(ve, "embedding.base_url", e.BaseURL)
	if e.Model == "" {
		ve.Add("embedding.model must not be empty")
	}
	if e.Dimensions <= 0 {
		ve.Add("embedding.dimensions must be > 0")
	}
	if e.CacheSize < 0 {
		ve.Add("embedding.cache_size must be >= 0")
	}
}

func validateKnowledge(cfg *Config, ve *ValidationError) {
	k := cfg.Knowledge
	if k.Path == "" {
		ve.Add("knowledge.path must not be empty")
	}
	if k.Collection == "" {
		ve.Add("knowledge.collection must not be empty")
	}
	if k.MinScore < -1 || k.MinScore > 1 {
		ve.Add("knowledge.min_score must be within [-1, 1], got %v", k.MinScore)
	}
}

func validateSearch(cfg *Config, ve *ValidationError) {
	s := cfg.Search
	switch s.Backend {
	case "serpapi", "searxng":
	default:
		ve.Add("search.backend %q is not supported (want serpapi or searxng)", s.Backend)
	}
	validateURL(ve, "search.url", s.URL)
	if s.Results <= 0 || s.Results > 20 {
		ve.Add("search.results must be within [1, 20], got %d", s.Results)
	}
	if s.CacheTTL < 0 {
		ve.Add("search.cache_ttl must be >= 0")
	}
}

func validateMarket(cfg *Config, ve *ValidationError) {
	m := cfg.Market
	validateURL(ve, "market.base_url", m.BaseURL)
	if m.RequestsPerSecond <= 0 {
		ve.Add("market.requests_per_second must be > 0")
	}
	if m.Burst <= 0 {
		ve.Add("market.burst must be > 0")
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		ve.Add("server.addr %q: %v", s.Addr, err)
	}
	if s.RequestsPerMin <= 0 {
		ve.Add("server.requests_per_min must be > 0")
	}
	if s.HealthTimeout <= 0 {
		ve.Add("server.health_timeout must be > 0")
	}
	for _, p := range s.TrustedProxies {
		if net.ParseIP(p) == nil {
			ve.Add("server.trusted_proxies: %q is not an IP address", p)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "json", "text":
	default:
		ve.Add("logger.format %q is not one of json, text", cfg.Logger.Format)
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not one of noop, stdout", cfg.Tracer.Exporter)
	}
}

func validateURL(ve *ValidationError, field, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("%s %q is not an absolute URL", field, raw)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		ve.Add("%s must use http or https, got %q", field, u.Scheme)
	}
}

package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"finagent/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Search    SearchConfig    `yaml:"search"`
	Market    MarketConfig    `yaml:"market"`
	Server    ServerConfig    `yaml:"server"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// AppConfig identifies the deployment.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	DataDir     string `yaml:"data_dir"`
}

// AgentConfig holds agent loop settings.
type AgentConfig struct {
	SystemPrompt  string        `yaml:"system_prompt"`
	MaxIterations int           `yaml:"max_iterations"`
	ModelTimeout  time.Duration `yaml:"model_timeout"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	// ContextWindow enables a warning when the rendered prompt is estimated
	// to exceed it. 0 disables the estimate.
	ContextWindow int `yaml:"context_window"`
	// Policy caps how often a tool may run within one agent run.
	Policy map[string]int `yaml:"policy"`
}

// LLMConfig holds model endpoint settings.
type LLMConfig struct {
	Provider       string               `yaml:"provider"` // "ollama" or "openai"
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Model          string               `yaml:"model"`
	Temperature    float64              `yaml:"temperature"`
	Seed           int                  `yaml:"seed"`
	NumCtx         int                  `yaml:"num_ctx"`
	KeepAlive      string               `yaml:"keep_alive"`
	Timeout        time.Duration        `yaml:"timeout"`
	WarmupSchedule string               `yaml:"warmup_schedule"` // cron spec, "" disables
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Pool           PoolConfig           `yaml:"pool"`
}

// CircuitBreakerConfig holds circuit breaker settings for the model client.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for outbound clients.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// EmbeddingConfig holds text embedding settings.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	CacheSize  int           `yaml:"cache_size"` // 0 disables the query cache
	Timeout    time.Duration `yaml:"timeout"`
}

// KnowledgeConfig holds vector knowledge-base settings.
type KnowledgeConfig struct {
	Path       string  `yaml:"path"`
	Collection string  `yaml:"collection"`
	MinScore   float64 `yaml:"min_score"`
}

// SearchConfig holds web search settings.
type SearchConfig struct {
	Backend  string        `yaml:"backend"` // "serpapi" or "searxng"
	APIKey   string        `yaml:"api_key"`
	URL      string        `yaml:"url"`
	Results  int           `yaml:"results"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
	Location string        `yaml:"location,omitempty"`
	Language string        `yaml:"language,omitempty"`
}

// MarketConfig holds market-data client settings.
type MarketConfig struct {
	BaseURL           string        `yaml:"base_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
	UserAgent         string        `yaml:"user_agent"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestsPerMin int           `yaml:"requests_per_min"`
	Burst          int           `yaml:"burst"`
	TrustedProxies []string      `yaml:"trusted_proxies,omitempty"`
	HealthTimeout  time.Duration `yaml:"health_timeout"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// DefaultSystemPrompt instructs the model how to use the tool catalog.
const DefaultSystemPrompt = `You are a financial analysis assistant.
Answer the user's question using the tools available to you:
- financial_score and the other market tools for anything about a listed company;
- kb_read to check what was saved earlier, before searching the web;
- web_search for recent news or events only, and never more than twice;
- kb_write to save facts worth remembering.
When you have enough information, stop calling tools and answer.
If a tool fails or information cannot be found, say so plainly instead of guessing.`

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".finagent")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		App: AppConfig{
			Name:        "financial-agent",
			Environment: "development",
			DataDir:     dataDir,
		},
		Agent: AgentConfig{
			SystemPrompt:  DefaultSystemPrompt,
			MaxIterations: 10,
			ModelTimeout:  120 * time.Second,
			ToolTimeout:   30 * time.Second,
			Policy:        map[string]int{"web_search": 2},
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "gpt-oss:20b",
			Temperature:    0.1,
			Seed:           42,
			NumCtx:         16384,
			KeepAlive:      "4h",
			Timeout:        120 * time.Second,
			WarmupSchedule: "@every 3h",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			Pool: PoolConfig{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			CacheSize:  256,
			Timeout:    30 * time.Second,
		},
		Knowledge: KnowledgeConfig{
			Path:       filepath.Join(dataDir, "finagent.db"),
			Collection: "financial_kb",
		},
		Search: SearchConfig{
			Backend:  "serpapi",
			URL:      "https://serpapi.com/search.json",
			Results:  3,
			CacheTTL: 15 * time.Minute,
			Timeout:  15 * time.Second,
		},
		Market: MarketConfig{
			BaseURL:           "https://query2.finance.yahoo.com",
			RequestsPerSecond: 2,
			Burst:             4,
			Timeout:           20 * time.Second,
			UserAgent:         "Mozilla/5.0 (compatible; finagent/1.0)",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestsPerMin: 60,
			Burst:          10,
			HealthTimeout:  5 * time.Second,
			RunTimeout:     10 * time.Minute,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfigLoad, err)
	default:
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfigLoad, err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("FINAGENT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps FINAGENT_* env vars (and the provider-specific
// SERPAPI_API_KEY / OLLAMA_BASE_URL) to config fields.
func ApplyEnvOverrides(cfg *Config) {
	str := map[string]*string{
		"FINAGENT_APP_ENVIRONMENT": &cfg.App.Environment,
		"FINAGENT_DATA_DIR":        &cfg.App.DataDir,
		"FINAGENT_SYSTEM_PROMPT":   &cfg.Agent.SystemPrompt,
		"FINAGENT_LLM_PROVIDER":    &cfg.LLM.Provider,
		"OLLAMA_BASE_URL":          &cfg.LLM.BaseURL,
		"FINAGENT_LLM_BASE_URL":    &cfg.LLM.BaseURL,
		"FINAGENT_LLM_MODEL":       &cfg.LLM.Model,
		"FINAGENT_LLM_API_KEY":     &cfg.LLM.APIKey,
		"FINAGENT_EMBEDDING_URL":   &cfg.Embedding.BaseURL,
		"FINAGENT_EMBEDDING_MODEL": &cfg.Embedding.Model,
		"FINAGENT_KNOWLEDGE_PATH":  &cfg.Knowledge.Path,
		"FINAGENT_SEARCH_BACKEND":  &cfg.Search.Backend,
		"SERPAPI_API_KEY":          &cfg.Search.APIKey,
		"FINAGENT_SEARCH_URL":      &cfg.Search.URL,
		"FINAGENT_MARKET_BASE_URL": &cfg.Market.BaseURL,
		"FINAGENT_SERVER_ADDR":     &cfg.Server.Addr,
		"FINAGENT_LOGGER_LEVEL":    &cfg.Logger.Level,
		"FINAGENT_LOGGER_FORMAT":   &cfg.Logger.Format,
		"FINAGENT_TRACER_EXPORTER": &cfg.Tracer.Exporter,
	}
	for env, field := range str {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}

	if v := os.Getenv("FINAGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("FINAGENT_LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = f
		}
	}
	if v := os.Getenv("FINAGENT_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
			cfg.Agent.ModelTimeout = d
		}
	}
	if v := os.Getenv("FINAGENT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	// FINAGENT_POLICY="web_search=2,kb_write=3"
	if v := os.Getenv("FINAGENT_POLICY"); v != "" {
		policy := make(map[string]int)
		for _, pair := range splitAndTrim(v, ",") {
			name, limit, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			if n, err := strconv.Atoi(strings.TrimSpace(limit)); err == nil {
				policy[strings.TrimSpace(name)] = n
			}
		}
		cfg.Agent.Policy = policy
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces "enc:..." values of the secret fields in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"llm.api_key":    &cfg.LLM.APIKey,
		"search.api_key": &cfg.Search.APIKey,
	}
	for name, field := range secrets {
		if !strings.HasPrefix(*field, "enc:") {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(*field, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = plain
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("%w: invalid encrypted format", domain.ErrDecryption)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %v", domain.ErrDecryption, err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", domain.ErrDecryption, err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return string(plain), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 64 MiB, 4 lanes.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("%w: config file %s has insecure permissions %o (want 0600 or 0644)",
			domain.ErrConfigLoad, path, mode)
	}
	return nil
}

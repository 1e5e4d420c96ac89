package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"finagent/internal/domain"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10", cfg.Agent.MaxIterations)
	}
	if got := cfg.Agent.Policy["web_search"]; got != 2 {
		t.Errorf("Policy[web_search] = %d, want 2", got)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("Provider = %q, want ollama", cfg.LLM.Provider)
	}
	if cfg.LLM.Seed != 42 {
		t.Errorf("Seed = %d, want 42", cfg.LLM.Seed)
	}
	if cfg.Search.Results != 3 {
		t.Errorf("Search.Results = %d, want 3", cfg.Search.Results)
	}
	if cfg.Knowledge.Collection != "financial_kb" {
		t.Errorf("Collection = %q, want financial_kb", cfg.Knowledge.Collection)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("expected defaults, got MaxIterations=%d", cfg.Agent.MaxIterations)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  max_iterations: 6
  tool_timeout: 5s
  policy:
    web_search: 1
    kb_write: 3
llm:
  model: "qwen3:8b"
  temperature: 0
search:
  backend: searxng
  url: "http://localhost:8888/search"
logger:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 6 {
		t.Errorf("MaxIterations = %d, want 6", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.ToolTimeout != 5*time.Second {
		t.Errorf("ToolTimeout = %v, want 5s", cfg.Agent.ToolTimeout)
	}
	if cfg.Agent.Policy["web_search"] != 1 || cfg.Agent.Policy["kb_write"] != 3 {
		t.Errorf("Policy = %v", cfg.Agent.Policy)
	}
	if cfg.LLM.Model != "qwen3:8b" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
	if cfg.Search.Backend != "searxng" {
		t.Errorf("Backend = %q", cfg.Search.Backend)
	}
	// Untouched sections keep their defaults.
	if cfg.Market.Burst != 4 {
		t.Errorf("Market.Burst = %d, want 4", cfg.Market.Burst)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("agent: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, domain.ErrConfigLoad) {
		t.Errorf("err = %v, want ErrConfigLoad", err)
	}
}

func TestLoadRunsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  max_iterations: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insecure.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  max_iterations: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestValidatePermissionsOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ok.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := validatePermissions(path); err != nil {
		t.Errorf("validatePermissions: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FINAGENT_LLM_MODEL", "llama3.1:8b")
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434")
	t.Setenv("SERPAPI_API_KEY", "serp-key")
	t.Setenv("FINAGENT_MAX_ITERATIONS", "4")
	t.Setenv("FINAGENT_LLM_TIMEOUT", "45s")
	t.Setenv("FINAGENT_TRACER_ENABLED", "true")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Model != "llama3.1:8b" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.BaseURL != "http://gpu-box:11434" {
		t.Errorf("BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.Search.APIKey != "serp-key" {
		t.Errorf("Search.APIKey = %q", cfg.Search.APIKey)
	}
	if cfg.Agent.MaxIterations != 4 {
		t.Errorf("MaxIterations = %d", cfg.Agent.MaxIterations)
	}
	if cfg.LLM.Timeout != 45*time.Second || cfg.Agent.ModelTimeout != 45*time.Second {
		t.Errorf("timeouts = %v / %v", cfg.LLM.Timeout, cfg.Agent.ModelTimeout)
	}
	if !cfg.Tracer.Enabled {
		t.Error("Tracer.Enabled should be true")
	}
}

func TestEnvOverridesIgnoreMalformedNumbers(t *testing.T) {
	t.Setenv("FINAGENT_MAX_ITERATIONS", "lots")
	t.Setenv("FINAGENT_LLM_TEMPERATURE", "warm")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10", cfg.Agent.MaxIterations)
	}
	if cfg.LLM.Temperature != 0.1 {
		t.Errorf("Temperature = %v, want 0.1", cfg.LLM.Temperature)
	}
}

func TestEnvPolicyOverride(t *testing.T) {
	t.Setenv("FINAGENT_POLICY", " web_search = 5 , kb_write=1,broken, x=y ")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if len(cfg.Agent.Policy) != 2 {
		t.Fatalf("Policy = %v, want 2 entries", cfg.Agent.Policy)
	}
	if cfg.Agent.Policy["web_search"] != 5 || cfg.Agent.Policy["kb_write"] != 1 {
		t.Errorf("Policy = %v", cfg.Agent.Policy)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("sk-secret", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	got, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if got != "sk-secret" {
		t.Errorf("got %q, want sk-secret", got)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	enc, err := EncryptValue("sk-secret", "right")
	if err != nil {
		t.Fatal(err)
	}
	_, err = DecryptValue(enc, "wrong")
	if !errors.Is(err, domain.ErrDecryption) {
		t.Errorf("err = %v, want ErrDecryption", err)
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no separator", "deadbeef"},
		{"bad salt", "zz:aabb"},
		{"bad ciphertext", "aabb:zz"},
		{"too short", "aabbccddee112233aabbccddee112233:aabb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptValue(tt.in, "p"); !errors.Is(err, domain.ErrDecryption) {
				t.Errorf("err = %v, want ErrDecryption", err)
			}
		})
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	enc, err := EncryptValue("serp-plain", "load-key")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "search:\n  api_key: \"enc:" + enc + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FINAGENT_CONFIG_KEY", "load-key")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.APIKey != "serp-plain" {
		t.Errorf("APIKey = %q, want serp-plain", cfg.Search.APIKey)
	}
}

func TestDecryptSecretsSkipsPlainValues(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.APIKey = "plain"
	if err := decryptSecrets(cfg, "whatever"); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.LLM.APIKey != "plain" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.APIKey = "enc:not-valid"
	if err := decryptSecrets(cfg, "p"); err == nil {
		t.Error("expected error")
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"finagent/internal/adapter/embedding"
	"finagent/internal/adapter/llm"
	"finagent/internal/adapter/market"
	"finagent/internal/infra/config"
)

const doctorProbeTimeout = 10 * time.Second

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function. cfg is nil when the config could
// not be loaded.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

func runDoctor(cmd *cobra.Command, opts *rootOptions) error {
	cfg, cfgErr := config.Load(opts.configPath)
	if cfgErr != nil {
		cfg = nil
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(opts.configPath, cfgErr)},
		{Name: "Data directory", Fn: checkDataDir},
		{Name: "Model server", Fn: checkModelServer},
		{Name: "Model pulled", Fn: checkModelPulled},
		{Name: "Embeddings", Fn: checkEmbeddings},
		{Name: "Market data", Fn: checkMarketData},
		{Name: "Web search", Fn: checkWebSearch},
	}
	return reportChecks(cmd.Context(), cmd.OutOrStdout(), cfg, checks)
}

// reportChecks runs checks in order and prints one line per result. It
// returns an error when any check failed.
func reportChecks(ctx context.Context, out io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(out, "finagent doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// checkConfigFile reports whether the config parsed. A missing file is only
// a warning since the defaults are usable.
func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Fix %s or point --config at a valid file", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s not found, using defaults", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

// checkDataDir verifies the knowledge base directory exists and is writable.
func checkDataDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	dir, _ := filepath.Abs(filepath.Dir(cfg.Knowledge.Path))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot create %s: %v", dir, err),
			Fix:     "Set knowledge.path to a writable location",
		}
	}

	probe := filepath.Join(dir, ".doctor-check")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not writable: %v", dir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", dir),
		}
	}
	os.Remove(probe)
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s writable", dir)}
}

func checkModelServer(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	var healthy bool
	switch cfg.LLM.Provider {
	case "", "ollama":
		healthy = llm.NewOllamaProvider(cfg.LLM, quietLogger()).IsHealthy(ctx)
	default:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("provider %q has no health probe, skipped", cfg.LLM.Provider),
		}
	}
	if !healthy {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("ollama not reachable at %s", cfg.LLM.BaseURL),
			Fix:     "Start it with 'ollama serve' or set llm.base_url",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("ollama reachable at %s", cfg.LLM.BaseURL)}
}

func checkModelPulled(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if cfg.LLM.Provider != "" && cfg.LLM.Provider != "ollama" {
		return CheckResult{Status: StatusWarn, Message: "only checked for ollama, skipped"}
	}
	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	models, err := llm.NewOllamaProvider(cfg.LLM, quietLogger()).ListModels(ctx)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("list models: %v", err)}
	}

	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	for _, want := range []string{cfg.LLM.Model, cfg.Embedding.Model} {
		if !slices.Contains(names, want) && !slices.Contains(names, want+":latest") {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("model %q is not pulled", want),
				Fix:     fmt.Sprintf("ollama pull %s", want),
			}
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s and %s available", cfg.LLM.Model, cfg.Embedding.Model),
	}
}

func checkEmbeddings(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	p := embedding.NewOllamaProvider(
		embedding.WithOllamaBaseURL(cfg.Embedding.BaseURL),
		embedding.WithOllamaModel(cfg.Embedding.Model),
		embedding.WithOllamaDimensions(0), // compared against config below
		embedding.WithOllamaLogger(quietLogger()),
	)
	vecs, err := p.Embed(ctx, []string{"doctor"})
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("embed failed: %v", err),
			Fix:     fmt.Sprintf("ollama pull %s", cfg.Embedding.Model),
		}
	}
	if len(vecs) == 0 {
		return CheckResult{Status: StatusFail, Message: "embed returned no vectors"}
	}
	if got := len(vecs[0]); got != cfg.Embedding.Dimensions {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("embedding has %d dimensions, config says %d", got, cfg.Embedding.Dimensions),
			Fix:     fmt.Sprintf("Set embedding.dimensions: %d", got),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s returns %d dimensions", cfg.Embedding.Model, len(vecs[0]))}
}

func checkMarketData(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	ctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
	defer cancel()

	c := market.NewClient(market.Options{
		BaseURL:   cfg.Market.BaseURL,
		UserAgent: cfg.Market.UserAgent,
		Timeout:   cfg.Market.Timeout,
	}, quietLogger())
	if !c.IsHealthy(ctx) {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s not reachable, market tools will fail", cfg.Market.BaseURL),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s reachable", cfg.Market.BaseURL)}
}

func checkWebSearch(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	switch cfg.Search.Backend {
	case "searxng":
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("searxng at %s", cfg.Search.URL)}
	default:
		if cfg.Search.APIKey == "" {
			return CheckResult{
				Status:  StatusWarn,
				Message: "no SerpAPI key, web_search will fail",
				Fix:     "export SERPAPI_API_KEY=...",
			}
		}
		return CheckResult{Status: StatusPass, Message: "SerpAPI key configured"}
	}
}

// quietLogger keeps adapter logs out of the doctor report.
func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

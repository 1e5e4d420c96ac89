package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"finagent/internal/adapter/conversation"
	"finagent/internal/adapter/embedding"
	"finagent/internal/adapter/knowledge"
	"finagent/internal/adapter/llm"
	"finagent/internal/adapter/market"
	"finagent/internal/adapter/tool"
	"finagent/internal/domain"
	"finagent/internal/infra/config"
	"finagent/internal/infra/database"
	"finagent/internal/infra/logger"
	"finagent/internal/infra/metrics"
	"finagent/internal/infra/tracer"
	"finagent/internal/usecase"
)

// app holds every wired component. Commands build one with newApp and
// release it with close.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	db        *sql.DB
	embedder  domain.EmbeddingProvider
	knowledge *knowledge.Store
	market    *market.Client
	tools     *tool.Registry
	llm       domain.LLMProvider
	agent     *usecase.Agent
	router    *usecase.Router

	closers []func() error
}

// loadConfig reads the config file and applies the --debug flag.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		cfg.Logger.Level = "debug"
	}
	return cfg, nil
}

func newApp(ctx context.Context, opts *rootOptions) (_ *app, err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	log, closeLog, err := logger.New(cfg.App, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a.logger = log
	a.closers = append(a.closers, closeLog)

	shutdownTracer, err := tracer.Setup(ctx, cfg.App, cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return shutdownTracer(context.WithoutCancel(ctx))
	})

	a.metrics = metrics.New()

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	a.initMarket()
	a.initTools()
	if err := a.initAgent(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// initStorage opens the shared sqlite file and builds the knowledge base and
// conversation store on top of it.
func (a *app) initStorage(ctx context.Context) error {
	db, err := database.Open(ctx, a.cfg.Knowledge.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	var emb domain.EmbeddingProvider = embedding.NewOllamaProvider(
		embedding.WithOllamaBaseURL(a.cfg.Embedding.BaseURL),
		embedding.WithOllamaModel(a.cfg.Embedding.Model),
		embedding.WithOllamaDimensions(a.cfg.Embedding.Dimensions),
		embedding.WithOllamaTimeout(a.cfg.Embedding.Timeout),
		embedding.WithOllamaLogger(a.logger),
	)
	if a.cfg.Embedding.CacheSize > 0 {
		emb = embedding.NewCachedEmbedder(emb, a.cfg.Embedding.CacheSize, a.metrics)
	}
	a.embedder = emb

	kb, err := knowledge.New(ctx, db, emb, a.logger, knowledge.Options{
		Collection: a.cfg.Knowledge.Collection,
		MinScore:   a.cfg.Knowledge.MinScore,
	})
	if err != nil {
		return fmt.Errorf("init knowledge base: %w", err)
	}
	a.knowledge = kb
	return nil
}

func (a *app) initMarket() {
	a.market = market.NewClient(market.Options{
		BaseURL:           a.cfg.Market.BaseURL,
		UserAgent:         a.cfg.Market.UserAgent,
		RequestsPerSecond: a.cfg.Market.RequestsPerSecond,
		Burst:             a.cfg.Market.Burst,
		Timeout:           a.cfg.Market.Timeout,
	}, a.logger)
}

func (a *app) initTools() {
	reg := tool.NewRegistry(a.logger)
	reg.MustRegister(tool.MarketTools(a.market, a.logger)...)
	reg.MustRegister(
		tool.NewWebSearchTool(a.searchBackend(), tool.WebSearchOptions{
			Results:  a.cfg.Search.Results,
			CacheTTL: a.cfg.Search.CacheTTL,
			Metrics:  a.metrics,
		}, a.logger),
		tool.NewKBReadTool(a.knowledge, a.logger),
		tool.NewKBWriteTool(a.knowledge, a.logger),
	)
	a.tools = reg
}

func (a *app) searchBackend() domain.SearchBackend {
	s := a.cfg.Search
	if s.Backend == "searxng" {
		return tool.NewSearXNGBackend(s.URL, s.Timeout, a.logger)
	}
	if s.APIKey == "" {
		a.logger.Warn("search.api_key is empty, web_search calls will fail",
			"backend", "serpapi", "fix", "set SERPAPI_API_KEY")
	}
	return tool.NewSerpAPIBackend(s.URL, s.APIKey, tool.SerpAPIOptions{
		Location: s.Location,
		Language: s.Language,
		Timeout:  s.Timeout,
	}, a.logger)
}

func (a *app) initAgent(ctx context.Context) error {
	provider, err := llm.New(a.cfg.LLM, a.logger)
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}
	a.llm = provider

	seed := a.cfg.LLM.Seed
	builder := usecase.NewContextBuilder(usecase.ContextBuilderOptions{
		Model:         a.cfg.LLM.Model,
		Temperature:   a.cfg.LLM.Temperature,
		Seed:          &seed,
		ContextWindow: a.cfg.Agent.ContextWindow,
		Logger:        a.logger,
	})

	a.agent = usecase.NewAgent(usecase.AgentDeps{
		LLM:             provider,
		Tools:           a.tools,
		ContextBuilder:  builder,
		Logger:          a.logger,
		SystemPrompt:    a.cfg.Agent.SystemPrompt,
		MaxIterations:   a.cfg.Agent.MaxIterations,
		ModelTimeout:    a.cfg.Agent.ModelTimeout,
		ToolTimeout:     a.cfg.Agent.ToolTimeout,
		PolicyLimits:    a.cfg.Agent.Policy,
		ErrorClassifier: usecase.NewErrorClassifier(),
		Metrics:         a.metrics,
	})

	store, err := conversation.New(ctx, a.db, usecase.NewConversationID)
	if err != nil {
		return fmt.Errorf("init conversation store: %w", err)
	}
	a.router = usecase.NewRouter(a.agent, store, a.logger)
	return nil
}

// probes are the dependencies reported on the health endpoint.
func (a *app) probes() map[string]domain.HealthChecker {
	out := map[string]domain.HealthChecker{
		"knowledge_base": a.knowledge,
		"market":         a.market,
	}
	if hc, ok := a.llm.(domain.HealthChecker); ok {
		out["model"] = hc
	}
	return out
}

// warmup preloads the model when the provider supports it.
func (a *app) warmup(ctx context.Context) error {
	w, ok := a.llm.(llm.Warmer)
	if !ok {
		return nil
	}
	return w.Warmup(ctx)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

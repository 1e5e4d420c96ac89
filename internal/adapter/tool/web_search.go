package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"finagent/internal/domain"
	"finagent/internal/infra/metrics"
	"finagent/internal/infra/tracer"
)

const (
	defaultSearchCount = 3
	maxSearchCount     = 20
	defaultCacheTTL    = 15 * time.Minute
	maxCacheEntries    = 100
)

// cacheEntry holds a cached search result with its expiration time.
type cacheEntry struct {
	result    string
	expiresAt time.Time
}

// WebSearchTool performs web searches via a pluggable SearchBackend and
// condenses the organic snippets into one paragraph.
type WebSearchTool struct {
	backend  domain.SearchBackend
	count    int
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// WebSearchOptions configures a WebSearchTool.
type WebSearchOptions struct {
	Results  int
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
}

// NewWebSearchTool creates a web search tool backed by the given SearchBackend.
func NewWebSearchTool(backend domain.SearchBackend, opts WebSearchOptions, logger *slog.Logger) *WebSearchTool {
	if opts.Results <= 0 {
		opts.Results = defaultSearchCount
	}
	if opts.Results > maxSearchCount {
		opts.Results = maxSearchCount
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &WebSearchTool{
		backend:  backend,
		count:    opts.Results,
		cacheTTL: opts.CacheTTL,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for recent news or events. Do not use it for information " +
		"already in the knowledge base. Use it at most 2 times per question."
}

type webSearchParams struct {
	Query string `json:"query" jsonschema:"required,minLength=1,maxLength=500" jsonschema_description:"The search query, phrased for a web search engine"`
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  paramsSchema[webSearchParams](),
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			query := strings.TrimSpace(p.Query)
			if err := RequireField("query", query); err != nil {
				return nil, invalidArg(t.Name(), "%v", err)
			}
			span.SetAttributes(
				tracer.StringAttr("tool.query", query),
				tracer.StringAttr("search.backend", t.backend.Name()),
			)

			key := strings.ToLower(query)
			if cached, ok := t.getCached(key); ok {
				t.metrics.CacheLookup("web_search", true)
				t.logger.Debug("web search cache hit", "query", query)
				span.SetAttributes(tracer.StringAttr("tool.cache", "hit"))
				return cached, nil
			}
			t.metrics.CacheLookup("web_search", false)

			results, err := t.backend.Search(ctx, query, t.count)
			if err != nil {
				return nil, err
			}
			if len(results) > t.count {
				results = results[:t.count]
			}

			content := summarizeSnippets(query, results)
			t.putCache(key, content)

			t.logger.Info("web search completed", "query", query, "results", len(results))
			return content, nil
		},
	)
}

// summarizeSnippets joins the result snippets into one line of context.
func summarizeSnippets(query string, results []domain.SearchResult) string {
	snippets := make([]string, 0, len(results))
	for _, r := range results {
		s := strings.TrimSpace(r.Snippet)
		if s != "" {
			snippets = append(snippets, s)
		}
	}
	if len(snippets) == 0 {
		return fmt.Sprintf("No useful results found for %q.", query)
	}
	joined := strings.Join(snippets, " ")
	return strings.Join(strings.Fields(joined), " ")
}

// getCached returns a cached result if it exists and has not expired.
func (t *WebSearchTool) getCached(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache[key]
	if !ok {
		return "", false
	}
	if t.now().After(entry.expiresAt) {
		delete(t.cache, key)
		return "", false
	}
	return entry.result, true
}

// putCache stores a result in the cache with the configured TTL.
func (t *WebSearchTool) putCache(key, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.cache[key] = cacheEntry{
		result:    result,
		expiresAt: now.Add(t.cacheTTL),
	}

	// Lazy eviction once the cache grows large.
	if len(t.cache) > maxCacheEntries {
		for k, v := range t.cache {
			if now.After(v.expiresAt) {
				delete(t.cache, k)
			}
		}
	}
}

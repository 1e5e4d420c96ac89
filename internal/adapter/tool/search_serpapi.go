package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finagent/internal/domain"
)

// DefaultSerpAPIURL is the SerpAPI JSON search endpoint.
const DefaultSerpAPIURL = "https://serpapi.com/search.json"

type serpAPIResponse struct {
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
	Error string `json:"error"`
}

// SerpAPIOptions tunes the Google engine request.
type SerpAPIOptions struct {
	Location string // "gl", country code
	Language string // "hl", interface language
	Timeout  time.Duration
}

// SerpAPIBackend searches Google through SerpAPI.
type SerpAPIBackend struct {
	client   *http.Client
	endpoint string
	apiKey   string
	opts     SerpAPIOptions
	logger   *slog.Logger
}

// NewSerpAPIBackend creates a SerpAPI backend. An empty endpoint selects
// DefaultSerpAPIURL.
func NewSerpAPIBackend(endpoint, apiKey string, opts SerpAPIOptions, logger *slog.Logger) *SerpAPIBackend {
	if endpoint == "" {
		endpoint = DefaultSerpAPIURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &SerpAPIBackend{
		client:   &http.Client{Timeout: opts.Timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
		opts:     opts,
		logger:   logger,
	}
}

func (b *SerpAPIBackend) Name() string { return "serpapi" }

func (b *SerpAPIBackend) Search(ctx context.Context, query string, count int) ([]domain.SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q := req.URL.Query()
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("num", strconv.Itoa(count))
	q.Set("api_key", b.apiKey)
	if b.opts.Location != "" {
		q.Set("gl", b.opts.Location)
	}
	if b.opts.Language != "" {
		q.Set("hl", b.opts.Language)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	body, err := doSearch(b.client, req)
	if err != nil {
		return nil, err
	}

	var serp serpAPIResponse
	if err := json.Unmarshal(body, &serp); err != nil {
		return nil, fmt.Errorf("%w: parse serpapi response: %v", domain.ErrExternalService, err)
	}
	if serp.Error != "" {
		// An empty result page is reported as an error by SerpAPI.
		if strings.Contains(strings.ToLower(serp.Error), "hasn't returned any results") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: serpapi: %s", domain.ErrExternalService, serp.Error)
	}

	results := make([]domain.SearchResult, 0, min(count, len(serp.OrganicResults)))
	for _, r := range serp.OrganicResults {
		if len(results) >= count {
			break
		}
		results = append(results, domain.SearchResult{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
		})
	}

	b.logger.Debug("serpapi search completed", "query", query, "results", len(results))
	return results, nil
}

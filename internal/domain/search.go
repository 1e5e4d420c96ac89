package domain

import "context"

// SearchResult is one organic web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchBackend abstracts a web search engine.
type SearchBackend interface {
	// Search returns at most count results for query.
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
	// Name returns the backend identifier (e.g. "serpapi").
	Name() string
}

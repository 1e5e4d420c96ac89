package tool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/domain"
	"finagent/internal/infra/metrics"
)

type fakeBackend struct {
	results []domain.SearchResult
	err     error
	calls   atomic.Int32
	gotN    int
}

func (b *fakeBackend) Name() string { return "fake" }
func (b *fakeBackend) Search(_ context.Context, _ string, count int) ([]domain.SearchResult, error) {
	b.calls.Add(1)
	b.gotN = count
	return b.results, b.err
}

func TestWebSearchJoinsSnippets(t *testing.T) {
	backend := &fakeBackend{results: []domain.SearchResult{
		{Title: "a", Snippet: "Apple beats\nestimates."},
		{Title: "b", Snippet: ""},
		{Title: "c", Snippet: "Shares rise 3%."},
	}}
	tool := NewWebSearchTool(backend, WebSearchOptions{Results: 3}, newTestLogger())

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"apple earnings"}`))
	require.NoError(t, err)
	assert.Equal(t, "Apple beats estimates. Shares rise 3%.", out)
	assert.Equal(t, 3, backend.gotN)
}

func TestWebSearchNoResults(t *testing.T) {
	tool := NewWebSearchTool(&fakeBackend{}, WebSearchOptions{}, newTestLogger())
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"zzzz"}`))
	require.NoError(t, err)
	assert.Equal(t, `No useful results found for "zzzz".`, out)
}

func TestWebSearchCache(t *testing.T) {
	backend := &fakeBackend{results: []domain.SearchResult{{Snippet: "cached"}}}
	m := metrics.New()
	tool := NewWebSearchTool(backend, WebSearchOptions{CacheTTL: time.Minute, Metrics: m}, newTestLogger())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tool.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"Apple News"}`))
		require.NoError(t, err)
		assert.Equal(t, "cached", out)
	}
	_, _ = tool.Execute(context.Background(), json.RawMessage(`{"query":"apple news"}`))
	assert.EqualValues(t, 1, backend.calls.Load(), "same query should hit the cache")

	now = now.Add(2 * time.Minute)
	_, _ = tool.Execute(context.Background(), json.RawMessage(`{"query":"apple news"}`))
	assert.EqualValues(t, 2, backend.calls.Load(), "expired entry should be refreshed")
}

func TestWebSearchBackendError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("search request: dial tcp: connection refused")}
	tool := NewWebSearchTool(backend, WebSearchOptions{}, newTestLogger())

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"x"}`))
	require.Error(t, err)
	assert.Equal(t, domain.KindExternalService, domain.ToolErrorKindOf(err))
}

func TestWebSearchBlankQuery(t *testing.T) {
	backend := &fakeBackend{}
	tool := NewWebSearchTool(backend, WebSearchOptions{}, newTestLogger())
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"   "}`))
	assert.Equal(t, domain.KindValidation, domain.ToolErrorKindOf(err))
	assert.Zero(t, backend.calls.Load())
}

func TestSerpAPIBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "google", q.Get("engine"))
		assert.Equal(t, "nvidia guidance", q.Get("q"))
		assert.Equal(t, "2", q.Get("num"))
		assert.Equal(t, "secret", q.Get("api_key"))
		assert.Equal(t, "it", q.Get("gl"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic_results":[
			{"position":1,"title":"T1","link":"https://a","snippet":"S1"},
			{"position":2,"title":"T2","link":"https://b","snippet":"S2"},
			{"position":3,"title":"T3","link":"https://c","snippet":"S3"}]}`))
	}))
	defer srv.Close()

	b := NewSerpAPIBackend(srv.URL, "secret", SerpAPIOptions{Location: "it"}, newTestLogger())
	results, err := b.Search(context.Background(), "nvidia guidance", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, domain.SearchResult{Title: "T1", URL: "https://a", Snippet: "S1"}, results[0])
	assert.Equal(t, "serpapi", b.Name())
}

func TestSerpAPIBackendErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"empty page", 200, `{"error":"Google hasn't returned any results for this query."}`, false},
		{"bad key", 200, `{"error":"Invalid API key."}`, true},
		{"http error", 500, `oops`, true},
		{"bad json", 200, `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			results, err := NewSerpAPIBackend(srv.URL, "k", SerpAPIOptions{}, newTestLogger()).
				Search(context.Background(), "q", 3)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrExternalService)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestSearXNGBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Go","url":"https://go.dev","content":"The Go language"},
			{"title":"Two","url":"https://two","content":"second"}],"number_of_results":2}`))
	}))
	defer srv.Close()

	b := NewSearXNGBackend(srv.URL+"/", time.Second, newTestLogger())
	results, err := b.Search(context.Background(), "golang", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "The Go language", results[0].Snippet)
	assert.Equal(t, "searxng", b.Name())
}

func TestSearXNGBackendTransportError(t *testing.T) {
	b := NewSearXNGBackend("http://searx.invalid", time.Second, newTestLogger())
	b.client = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	_, err := b.Search(context.Background(), "q", 3)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

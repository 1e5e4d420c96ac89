package embedding

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"

	"finagent/internal/domain"
	"finagent/internal/infra/metrics"
)

type lruEntry struct {
	key uint64
	vec []float32
}

// CachedEmbedder wraps a domain.EmbeddingProvider with an LRU cache for
// single-text calls. kb_read embeds one query at a time, so repeated
// questions skip the model round trip. Batches pass through uncached.
type CachedEmbedder struct {
	inner   domain.EmbeddingProvider
	maxSize int
	metrics *metrics.Metrics

	mu    sync.Mutex
	cache map[uint64]*list.Element
	order *list.List // most recently used at the back
}

// NewCachedEmbedder wraps inner with an LRU cache of maxSize entries.
// If maxSize <= 0, inner is returned unchanged.
func NewCachedEmbedder(inner domain.EmbeddingProvider, maxSize int, m *metrics.Metrics) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	return &CachedEmbedder{
		inner:   inner,
		maxSize: maxSize,
		metrics: m,
		cache:   make(map[uint64]*list.Element, maxSize),
		order:   list.New(),
	}
}

// Embed implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}

	key := hashText(c.inner.Name(), texts[0])

	c.mu.Lock()
	if elem, ok := c.cache[key]; ok {
		c.order.MoveToBack(elem)
		vec := elem.Value.(*lruEntry).vec
		c.mu.Unlock()
		c.metrics.CacheLookup("embedding", true)
		return [][]float32{vec}, nil
	}
	c.mu.Unlock()
	c.metrics.CacheLookup("embedding", false)

	result, err := c.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	c.mu.Lock()
	c.put(key, result[0])
	c.mu.Unlock()
	return result, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

// IsHealthy delegates to the wrapped provider when it can probe its backend.
func (c *CachedEmbedder) IsHealthy(ctx context.Context) bool {
	if hc, ok := c.inner.(domain.HealthChecker); ok {
		return hc.IsHealthy(ctx)
	}
	return true
}

// hashText returns an FNV-1a hash of provider and text.
func hashText(provider, s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(s))
	return h.Sum64()
}

// put inserts key, evicting the least recently used entry at capacity.
// Caller must hold c.mu.
func (c *CachedEmbedder) put(key uint64, vec []float32) {
	if elem, exists := c.cache[key]; exists {
		c.order.MoveToBack(elem)
		elem.Value.(*lruEntry).vec = vec
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.cache, oldest.Value.(*lruEntry).key)
	}

	c.cache[key] = c.order.PushBack(&lruEntry{key: key, vec: vec})
}

var _ domain.EmbeddingProvider = (*CachedEmbedder)(nil)

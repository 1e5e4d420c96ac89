package domain

import (
	"context"
	"fmt"
)

// EmbeddingProvider is the interface for text embedding backends.
type EmbeddingProvider interface {
	// Embed generates embeddings for the given texts, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int
	Name() string
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, p EmbeddingProvider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding from %s", ErrEmbeddingFailed, p.Name())
	}
	return vecs[0], nil
}

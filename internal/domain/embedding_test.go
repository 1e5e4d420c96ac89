package domain_test

import (
	"context"
	"errors"
	"testing"

	"finagent/internal/domain"
)

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*stubEmbedder)(nil)

type stubEmbedder struct {
	dims int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, s.dims)
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return s.dims }
func (s *stubEmbedder) Name() string    { return "stub" }

func TestEmbedOne(t *testing.T) {
	vec, err := domain.EmbedOne(context.Background(), &stubEmbedder{dims: 3}, "hello")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("len = %d, want 3", len(vec))
	}
}

func TestEmbedOne_EmptyVector(t *testing.T) {
	_, err := domain.EmbedOne(context.Background(), &stubEmbedder{}, "hello")
	if !errors.Is(err, domain.ErrEmbeddingFailed) {
		t.Errorf("err = %v, want ErrEmbeddingFailed", err)
	}
}

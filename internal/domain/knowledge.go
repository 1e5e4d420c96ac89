package domain

import (
	"context"
	"time"
)

// KnowledgeEntry is one saved snippet of the vector knowledge base.
type KnowledgeEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Score     float64   `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// KnowledgeStore persists text with its embedding and answers similarity queries.
type KnowledgeStore interface {
	// Save embeds content and stores it under a freshly generated ID.
	Save(ctx context.Context, content string) (string, error)
	// Nearest returns the single best match for query. found is false when
	// nothing relevant is stored.
	Nearest(ctx context.Context, query string) (entry KnowledgeEntry, found bool, err error)
}

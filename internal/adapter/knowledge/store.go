// Package knowledge implements the vector knowledge base on sqlite.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"finagent/internal/domain"
)

// Options tunes a Store. Zero values fall back to defaults.
type Options struct {
	Collection string  // rows are scoped to this name; default "financial_kb"
	MinScore   float64 // cosine similarity a match must reach; 0 disables the cut
}

const defaultCollection = "financial_kb"

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements domain.KnowledgeStore. Every saved snippet is embedded
// once on write; queries are answered by cosine similarity against an
// in-memory index that mirrors the collection's rows.
type Store struct {
	db       *sql.DB
	embedder domain.EmbeddingProvider
	logger   *slog.Logger
	opts     Options
	idx      *vecIndex
	now      func() time.Time
}

// New migrates the schema on db and returns a Store scoped to
// opts.Collection. The caller owns db.
func New(ctx context.Context, db *sql.DB, embedder domain.EmbeddingProvider, logger *slog.Logger, opts Options) (*Store, error) {
	if opts.Collection == "" {
		opts.Collection = defaultCollection
	}
	if err := migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrVectorStore, err)
	}
	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
		opts:     opts,
		idx:      newVecIndex(),
		now:      time.Now,
	}, nil
}

// Save implements domain.KnowledgeStore.
func (s *Store) Save(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", domain.NewDomainError("knowledge.Save", domain.ErrInvalidInput, "content is empty")
	}

	vec, err := domain.EmbedOne(ctx, s.embedder, content)
	if err != nil {
		return "", err
	}

	entry := domain.KnowledgeEntry{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedAt: s.now().UTC(),
	}

	const insert = `
		INSERT INTO knowledge (id, collection, content, embedding, dims, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, insert,
		entry.ID,
		s.opts.Collection,
		entry.Content,
		float32ToBytes(vec),
		len(vec),
		entry.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert: %v", domain.ErrVectorStore, err)
	}

	s.idx.put(entry, vec)
	s.logger.Debug("knowledge saved", "id", entry.ID, "collection", s.opts.Collection, "dims", len(vec))
	return entry.ID, nil
}

// Nearest implements domain.KnowledgeStore.
func (s *Store) Nearest(ctx context.Context, query string) (domain.KnowledgeEntry, bool, error) {
	hits, err := s.Search(ctx, query, 1)
	if err != nil || len(hits) == 0 {
		return domain.KnowledgeEntry{}, false, err
	}
	return hits[0], true, nil
}

// Search returns up to limit entries ordered by descending similarity, each
// at or above MinScore.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]domain.KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 1
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	vec, err := domain.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, err
	}

	if !s.idx.isLoaded() {
		if err := s.idx.load(ctx, s.db, s.opts.Collection); err != nil {
			return nil, fmt.Errorf("%w: load index: %v", domain.ErrVectorSearch, err)
		}
	}
	return s.idx.search(vec, limit, s.opts.MinScore), nil
}

// List returns the newest entries of the collection, without scores.
func (s *Store) List(ctx context.Context, limit int) ([]domain.KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, content, created_at FROM knowledge WHERE collection = ? ORDER BY created_at DESC LIMIT ?",
		s.opts.Collection, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", domain.ErrVectorStore, err)
	}
	defer rows.Close()

	var out []domain.KnowledgeEntry
	for rows.Next() {
		var (
			e         domain.KnowledgeEntry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrVectorStore, err)
		}
		e.CreatedAt = parseTime(e.ID, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of entries in the collection.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM knowledge WHERE collection = ?", s.opts.Collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrVectorStore, err)
	}
	return n, nil
}

// IsHealthy reports whether the database answers.
func (s *Store) IsHealthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS knowledge (
			id         TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  BLOB NOT NULL,
			dims       INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS knowledge_collection ON knowledge(collection, created_at);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func parseTime(id, s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		slog.Warn("knowledge: corrupt created_at", "id", id, "error", err)
	}
	return t
}

// rank sorts scored entries by descending score, ties broken by recency.
func rank(entries []domain.KnowledgeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

var (
	_ domain.KnowledgeStore = (*Store)(nil)
	_ domain.HealthChecker  = (*Store)(nil)
)

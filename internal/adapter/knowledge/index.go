package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"finagent/internal/domain"
)

// vecIndex mirrors one collection's embeddings in memory. It is loaded on
// the first search and kept current by Save.
type vecIndex struct {
	mu      sync.RWMutex
	entries map[string]vecEntry
	loaded  bool
}

type vecEntry struct {
	entry     domain.KnowledgeEntry
	embedding []float32
}

func newVecIndex() *vecIndex {
	return &vecIndex{entries: make(map[string]vecEntry)}
}

func (idx *vecIndex) isLoaded() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.loaded
}

func (idx *vecIndex) put(entry domain.KnowledgeEntry, embedding []float32) {
	idx.mu.Lock()
	idx.entries[entry.ID] = vecEntry{entry: entry, embedding: embedding}
	idx.mu.Unlock()
}

func (idx *vecIndex) size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// search scores every entry against queryVec. Entries with a different
// dimensionality are skipped. A zero minScore keeps every entry, so the best
// match is returned however weak it is; otherwise scores below minScore are
// dropped.
func (idx *vecIndex) search(queryVec []float32, limit int, minScore float64) []domain.KnowledgeEntry {
	idx.mu.RLock()
	candidates := make([]domain.KnowledgeEntry, 0, len(idx.entries))
	for _, ve := range idx.entries {
		if len(ve.embedding) != len(queryVec) {
			continue
		}
		sim := float64(cosineSimilarity(queryVec, ve.embedding))
		if minScore != 0 && sim < minScore {
			continue
		}
		e := ve.entry
		e.Score = math.Round(sim*10000) / 10000
		candidates = append(candidates, e)
	}
	idx.mu.RUnlock()

	rank(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// load reads the collection from db. Concurrent loads are harmless: the last
// one wins and both saw the same rows.
func (idx *vecIndex) load(ctx context.Context, db *sql.DB, collection string) error {
	rows, err := db.QueryContext(ctx,
		"SELECT id, content, embedding, dims, created_at FROM knowledge WHERE collection = ?",
		collection,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	entries := make(map[string]vecEntry)
	for rows.Next() {
		var (
			e         domain.KnowledgeEntry
			blob      []byte
			dims      int
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Content, &blob, &dims, &createdAt); err != nil {
			return err
		}
		vec := bytesToFloat32(blob)
		if vec == nil || len(vec) != dims {
			slog.Warn("knowledge: skipping corrupt embedding", "id", e.ID, "dims", dims, "bytes", len(blob))
			continue
		}
		e.CreatedAt = parseTime(e.ID, createdAt)
		entries[e.ID] = vecEntry{entry: e, embedding: vec}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	for id, ve := range idx.entries {
		// Saved while the load query was running.
		if _, ok := entries[id]; !ok {
			entries[id] = ve
		}
	}
	idx.entries = entries
	idx.loaded = true
	idx.mu.Unlock()
	return nil
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||). It returns 0 for
// empty or mismatched vectors and for NaN/Inf results.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0
	}
	return float32(result)
}

// float32ToBytes encodes v as little-endian IEEE 754.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/draa-ai/draa/internal/core"
	"github.com/draa-ai/draa/internal/logger"
)

// MemoryStore is an in-process core.VectorStore used when no Milvus
// deployment is available and by the test suite. It mirrors the Milvus
// store's observable semantics: overwrite-on-same-id upsert, ascending
// exact L2 distances, typed filters, delete-by-filter.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]core.IndexEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	logger.Info("Using in-memory vector store")
	return &MemoryStore{entries: make(map[string]core.IndexEntry)}
}

// Upsert adds entries, replacing any existing entry with the same id.
func (s *MemoryStore) Upsert(ctx context.Context, entries []core.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.Chunk.ID] = e
	}
	return nil
}

// Search returns up to k entries nearest to vector, ascending by distance.
func (s *MemoryStore) Search(ctx context.Context, vector []float32, k int, filter core.Filter) ([]core.SearchHit, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]core.SearchHit, 0, len(s.entries))
	for _, e := range s.entries {
		if !filter.Matches(e.Chunk) {
			continue
		}
		hits = append(hits, core.SearchHit{Entry: e, Distance: l2Distance(vector, e.Vector)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Entry.Chunk.ID < hits[j].Entry.Chunk.ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DeleteByFilter removes all matching entries and returns how many.
func (s *MemoryStore) DeleteByFilter(ctx context.Context, filter core.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, e := range s.entries {
		if filter.Matches(e.Chunk) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

// GetAll enumerates every stored entry without vectors.
func (s *MemoryStore) GetAll(ctx context.Context) ([]core.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.IndexEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, core.IndexEntry{Chunk: e.Chunk})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chunk.ID < out[j].Chunk.ID })
	return out, nil
}

// Count returns the number of stored entries.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

var _ core.VectorStore = (*MemoryStore)(nil)

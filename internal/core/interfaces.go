package core

import "context"

// EmbedService maps text to fixed-dimension dense vectors. Implementations
// must be safe for concurrent use and deterministic for a given model
// version; mixing vectors from different model versions inside one index is
// not detected.
type EmbedService interface {
	// Embed generates one vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed embedding dimension.
	Dimensions() int
}

// VectorStore persists (id, vector, text, metadata) entries and supports
// nearest-neighbour search. Every mutation is durable immediately; a
// restart observes the same entries.
type VectorStore interface {
	// Upsert adds entries, replacing any existing entry with the same id.
	Upsert(ctx context.Context, entries []IndexEntry) error

	// Search returns up to k entries nearest to vector, ascending by
	// distance. An empty index yields an empty slice, not an error.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]SearchHit, error)

	// DeleteByFilter removes all matching entries and returns how many.
	DeleteByFilter(ctx context.Context, filter Filter) (int64, error)

	// GetAll enumerates every entry (without vectors). Stats path only;
	// cost is O(index size), which is ingestion-bounded.
	GetAll(ctx context.Context) ([]IndexEntry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close() error
}

// LLMService is the external language-model collaborator: one synchronous
// call, prompt in, text out. Timeout and connection failures are returned
// as a fallback response string alongside the sentinel error so callers can
// log the attempt without surfacing a transport failure.
type LLMService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

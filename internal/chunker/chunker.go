// Package chunker splits extracted document text into fixed-size passages.
package chunker

import (
	"strings"

	"github.com/draa-ai/draa/internal/core"
)

// DefaultChunkSize is the number of characters per chunk.
const DefaultChunkSize = 500

// Chunker splits text into consecutive, non-overlapping windows of a fixed
// character length. The final window may be shorter. Splitting is
// deterministic, so re-running it over identical input produces identical
// chunks.
type Chunker struct {
	chunkSize int
}

// New creates a chunker. A non-positive size falls back to the default.
func New(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{chunkSize: chunkSize}
}

// ChunkSize returns the configured window length in characters.
func (c *Chunker) ChunkSize() int {
	return c.chunkSize
}

// Split cuts text into windows of the configured size, measured in
// characters rather than bytes so multi-byte scripts are never cut inside a
// codepoint. Empty or whitespace-only input returns core.ErrEmptyDocument;
// silent no-ops would let an unreadable document pass ingestion unnoticed.
func (c *Chunker) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.ErrEmptyDocument
	}

	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/c.chunkSize+1)
	for start := 0; start < len(runes); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks, nil
}

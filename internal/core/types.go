package core

// Chunk is a fixed-size contiguous slice of a document's extracted text.
// Chunks are created once at ingestion and never partially updated; when a
// document is re-embedded, its whole chunk set is deleted and recreated.
type Chunk struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	SourceDocument string `json:"source_document"`
	Ordinal        int    `json:"ordinal"`
	Language       string `json:"language"`
	Size           int    `json:"size"`
}

// IndexEntry is a chunk plus its embedding vector as stored in the vector
// index. The vector is owned by exactly one chunk and is never persisted
// independently of it.
type IndexEntry struct {
	Chunk  Chunk     `json:"chunk"`
	Vector []float32 `json:"vector,omitempty"`
}

// SearchHit is one nearest-neighbour result with its raw distance as
// reported by the index (lower is closer).
type SearchHit struct {
	Entry    IndexEntry `json:"entry"`
	Distance float64    `json:"distance"`
}

// Filter restricts vector store operations to matching entries. Zero-value
// fields do not constrain. The recognized keys are deliberately a closed
// set; ad hoc metadata filtering is not supported.
type Filter struct {
	SourceDocument string
	Language       string
}

// Matches reports whether the given chunk satisfies the filter.
func (f Filter) Matches(c Chunk) bool {
	if f.SourceDocument != "" && c.SourceDocument != f.SourceDocument {
		return false
	}
	if f.Language != "" && c.Language != f.Language {
		return false
	}
	return true
}

// IsZero reports whether the filter constrains nothing.
func (f Filter) IsZero() bool {
	return f.SourceDocument == "" && f.Language == ""
}

// RetrievalResult is the outcome of the query-time retrieval path: the
// retrieved passages in nearest-first order, their relevance scores in
// [0,1], their metadata, and the fully assembled prompt for the language
// model.
type RetrievalResult struct {
	Chunks          []string  `json:"chunks"`
	RelevanceScores []float64 `json:"relevance_scores"`
	Metadata        []Chunk   `json:"metadata"`
	Prompt          string    `json:"-"`
}

// CorpusStats summarizes the embedded corpus for the monitoring surface.
type CorpusStats struct {
	TotalChunks    int     `json:"total_chunks"`
	TotalDocuments int     `json:"total_documents"`
	AvgChunkSize   float64 `json:"avg_chunk_size"`
	EmbeddingDim   int     `json:"embedding_dim"`
}

// Languages the service accepts. Queries with any other code are rejected
// before reaching the pipeline.
const (
	LangEnglish = "en"
	LangFrench  = "fr"
	LangSwahili = "sw"
	LangAmharic = "am"
)

// SupportedLanguage reports whether code is one of the closed language set.
func SupportedLanguage(code string) bool {
	switch code {
	case LangEnglish, LangFrench, LangSwahili, LangAmharic:
		return true
	}
	return false
}

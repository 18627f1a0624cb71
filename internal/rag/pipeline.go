package rag

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/draa-ai/draa/internal/chunker"
	"github.com/draa-ai/draa/internal/core"
	"github.com/draa-ai/draa/internal/logger"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 3

// QueryMonitor records phase timings and the outcome of one query. Phase
// calls mark elapsed time since Start. Finish methods persist a log entry
// and return its id; a monitor that was never started persists nothing.
type QueryMonitor interface {
	Start()
	RecordEmbeddingPhase()
	RecordSearchPhase()
	RecordLlmPhase()
	FinishSuccess(ctx context.Context, responseText string, contextChunksFound int, relevanceScores []float64) (string, error)
	FinishFailure(ctx context.Context, responseText string) (string, error)
}

// MonitorFactory creates a fresh QueryMonitor for each served question.
type MonitorFactory func(queryText, language string) QueryMonitor

// Answer is the full result of one served question.
type Answer struct {
	QueryID         string       `json:"query_id"`
	Response        string       `json:"response"`
	ContextUsed     []string     `json:"context_used"`
	RelevanceScores []float64    `json:"relevance_scores"`
	Metadata        []core.Chunk `json:"metadata"`
	Language        string       `json:"language"`
}

// Pipeline orchestrates chunking and embedding at ingestion time, and
// embedding, vector search, relevance scoring, prompt assembly, and the
// language model call at query time.
type Pipeline struct {
	chunker  *chunker.Chunker
	embedder core.EmbedService
	store    core.VectorStore
	llm      core.LLMService
	monitors MonitorFactory

	mu       sync.Mutex
	docLocks map[string]*sync.Mutex
}

// NewPipeline wires the pipeline's collaborators. monitors may be nil, in
// which case queries are served without telemetry.
func NewPipeline(ch *chunker.Chunker, embedder core.EmbedService, store core.VectorStore, llm core.LLMService, monitors MonitorFactory) *Pipeline {
	return &Pipeline{
		chunker:  ch,
		embedder: embedder,
		store:    store,
		llm:      llm,
		monitors: monitors,
		docLocks: make(map[string]*sync.Mutex),
	}
}

// docLock returns the exclusive ingestion lock for a source document.
func (p *Pipeline) docLock(sourceDocument string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.docLocks[sourceDocument]
	if !ok {
		l = &sync.Mutex{}
		p.docLocks[sourceDocument] = l
	}
	return l
}

// Ingest chunks and embeds a document's text and stores one index entry per
// chunk, replacing any entries from a previous ingestion of the same
// document. The index is touched only after the whole batch has embedded,
// so a document is either fully present or fully absent.
func (p *Pipeline) Ingest(ctx context.Context, text, sourceDocument, language string) (int, error) {
	pieces, err := p.chunker.Split(text)
	if err != nil {
		return 0, err
	}

	vectors, err := p.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return 0, fmt.Errorf("failed to embed document %s: %w", sourceDocument, err)
	}

	entries := make([]core.IndexEntry, len(pieces))
	for i, piece := range pieces {
		entries[i] = core.IndexEntry{
			Chunk: core.Chunk{
				ID:             fmt.Sprintf("%s_%d", sourceDocument, i),
				Text:           piece,
				SourceDocument: sourceDocument,
				Ordinal:        i,
				Language:       language,
				Size:           utf8.RuneCountInString(piece),
			},
			Vector: vectors[i],
		}
	}

	lock := p.docLock(sourceDocument)
	lock.Lock()
	defer lock.Unlock()

	if _, err := p.store.DeleteByFilter(ctx, core.Filter{SourceDocument: sourceDocument}); err != nil {
		return 0, fmt.Errorf("failed to clear previous entries for %s: %w", sourceDocument, err)
	}
	if err := p.store.Upsert(ctx, entries); err != nil {
		return 0, fmt.Errorf("failed to store entries for %s: %w", sourceDocument, err)
	}

	logger.Info("Ingested %s: %d chunks (language=%s)", sourceDocument, len(entries), language)
	return len(entries), nil
}

// DeleteDocument removes every index entry belonging to a source document.
func (p *Pipeline) DeleteDocument(ctx context.Context, sourceDocument string) (int64, error) {
	lock := p.docLock(sourceDocument)
	lock.Lock()
	defer lock.Unlock()

	deleted, err := p.store.DeleteByFilter(ctx, core.Filter{SourceDocument: sourceDocument})
	if err != nil {
		return 0, fmt.Errorf("failed to delete document %s: %w", sourceDocument, err)
	}
	if deleted == 0 {
		return 0, fmt.Errorf("%w: no entries for document %s", core.ErrNotFound, sourceDocument)
	}
	return deleted, nil
}

// Retrieve embeds the question, searches the index, scores the hits, and
// assembles the grounded prompt. An unavailable index degrades to an empty
// context rather than failing the query.
func (p *Pipeline) Retrieve(ctx context.Context, question, language string, k int) (*core.RetrievalResult, error) {
	return p.retrieve(ctx, question, language, k, nopMonitor{})
}

func (p *Pipeline) retrieve(ctx context.Context, question, language string, k int, monitor QueryMonitor) (*core.RetrievalResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	var hits []core.SearchHit
	vector, err := p.embedder.Embed(ctx, question)
	monitor.RecordEmbeddingPhase()
	if err != nil {
		logger.Warn("Question embedding failed, answering without context: %v", err)
	} else {
		hits, err = p.store.Search(ctx, vector, k, core.Filter{})
		if err != nil {
			logger.Warn("Vector search failed, answering without context: %v", err)
			hits = nil
		}
	}
	monitor.RecordSearchPhase()

	scores, err := scoreHits(hits)
	if err != nil {
		return nil, err
	}

	result := &core.RetrievalResult{
		Chunks:          make([]string, len(hits)),
		RelevanceScores: scores,
		Metadata:        make([]core.Chunk, len(hits)),
	}
	for i, hit := range hits {
		result.Chunks[i] = hit.Entry.Chunk.Text
		result.Metadata[i] = hit.Entry.Chunk
	}
	result.Prompt = BuildPrompt(question, language, result.Chunks, result.RelevanceScores)
	return result, nil
}

// Ask serves one question end to end: retrieve context, call the language
// model, and record the query. Language model failures degrade to the
// client's explanatory fallback text and are logged as failed queries; the
// caller still receives an Answer.
func (p *Pipeline) Ask(ctx context.Context, question, language string) (*Answer, error) {
	var monitor QueryMonitor = nopMonitor{}
	if p.monitors != nil {
		monitor = p.monitors(question, language)
	}
	monitor.Start()

	retrieval, err := p.retrieve(ctx, question, language, DefaultTopK, monitor)
	if err != nil {
		return nil, err
	}

	response, llmErr := p.llm.Complete(ctx, retrieval.Prompt)
	monitor.RecordLlmPhase()

	answer := &Answer{
		Response:        response,
		ContextUsed:     retrieval.Chunks,
		RelevanceScores: retrieval.RelevanceScores,
		Metadata:        retrieval.Metadata,
		Language:        language,
	}

	if llmErr != nil {
		logger.Error("Language model call failed: %v", llmErr)
		if answer.Response == "" {
			answer.Response = llmErr.Error()
		}
		queryID, finishErr := monitor.FinishFailure(ctx, answer.Response)
		if finishErr != nil {
			logger.Error("Failed to record failed query: %v", finishErr)
		}
		answer.QueryID = queryID
		return answer, nil
	}

	queryID, finishErr := monitor.FinishSuccess(ctx, answer.Response, len(answer.ContextUsed), answer.RelevanceScores)
	if finishErr != nil {
		logger.Error("Failed to record query: %v", finishErr)
	}
	answer.QueryID = queryID
	return answer, nil
}

// CorpusStats enumerates the index and summarizes the stored corpus.
func (p *Pipeline) CorpusStats(ctx context.Context) (*core.CorpusStats, error) {
	entries, err := p.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate index: %w", err)
	}

	stats := &core.CorpusStats{
		TotalChunks:  len(entries),
		EmbeddingDim: p.embedder.Dimensions(),
	}
	documents := make(map[string]struct{})
	totalSize := 0
	for _, e := range entries {
		documents[e.Chunk.SourceDocument] = struct{}{}
		totalSize += e.Chunk.Size
	}
	stats.TotalDocuments = len(documents)
	if len(entries) > 0 {
		stats.AvgChunkSize = float64(totalSize) / float64(len(entries))
	}
	return stats, nil
}

// nopMonitor is used when no monitoring is wired.
type nopMonitor struct{}

func (nopMonitor) Start()                {}
func (nopMonitor) RecordEmbeddingPhase() {}
func (nopMonitor) RecordSearchPhase()    {}
func (nopMonitor) RecordLlmPhase()       {}
func (nopMonitor) FinishSuccess(context.Context, string, int, []float64) (string, error) {
	return "", nil
}
func (nopMonitor) FinishFailure(context.Context, string) (string, error) { return "", nil }

package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draa-ai/draa/internal/chunker"
	"github.com/draa-ai/draa/internal/core"
)

// fakeEmbedder derives a deterministic vector from the text so identical
// text embeds at distance zero from itself.
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder offline")
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()
	v := make([]float32, 4)
	for i := range v {
		seed = seed*1664525 + 1013904223
		v[i] = float32(seed%1000) / 1000
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 4 }

type fakeLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

type recordingMonitor struct {
	started      bool
	phases       []string
	finishedOK   bool
	finishedFail bool
	responseText string
	chunksFound  int
	scores       []float64
}

func (m *recordingMonitor) Start()                { m.started = true }
func (m *recordingMonitor) RecordEmbeddingPhase() { m.phases = append(m.phases, "embedding") }
func (m *recordingMonitor) RecordSearchPhase()    { m.phases = append(m.phases, "search") }
func (m *recordingMonitor) RecordLlmPhase()       { m.phases = append(m.phases, "llm") }

func (m *recordingMonitor) FinishSuccess(ctx context.Context, responseText string, chunksFound int, scores []float64) (string, error) {
	m.finishedOK = true
	m.responseText = responseText
	m.chunksFound = chunksFound
	m.scores = scores
	return "query-1", nil
}

func (m *recordingMonitor) FinishFailure(ctx context.Context, responseText string) (string, error) {
	m.finishedFail = true
	m.responseText = responseText
	return "query-1", nil
}

func newTestPipeline(llm *fakeLLM, monitor *recordingMonitor) (*Pipeline, *MemoryStore) {
	store := NewMemoryStore()
	var factory MonitorFactory
	if monitor != nil {
		factory = func(queryText, language string) QueryMonitor { return monitor }
	}
	p := NewPipeline(chunker.New(chunker.DefaultChunkSize), &fakeEmbedder{}, store, llm, factory)
	return p, store
}

func TestIngestSplitsIntoOrdinalChunks(t *testing.T) {
	p, store := newTestPipeline(&fakeLLM{}, nil)

	text := strings.Repeat("x", 600)
	count, err := p.Ingest(context.Background(), text, "A", core.LangEnglish)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entries, err := store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "A_0", entries[0].Chunk.ID)
	assert.Equal(t, "A_1", entries[1].Chunk.ID)
	assert.Equal(t, 500, entries[0].Chunk.Size)
	assert.Equal(t, 100, entries[1].Chunk.Size)
	assert.Equal(t, core.LangEnglish, entries[0].Chunk.Language)
}

func TestIngestMultiByteTextRecordsCharacterSizes(t *testing.T) {
	p, store := newTestPipeline(&fakeLLM{}, nil)

	text := strings.Repeat("መ", 400)
	count, err := p.Ingest(context.Background(), text, "amharic", core.LangAmharic)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	entries, err := store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 400, entries[0].Chunk.Size)
	assert.True(t, utf8.ValidString(entries[0].Chunk.Text))
}

func TestIngestTwiceLeavesSingleEntrySet(t *testing.T) {
	p, store := newTestPipeline(&fakeLLM{}, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, strings.Repeat("x", 600), "A", core.LangEnglish)
	require.NoError(t, err)
	_, err = p.Ingest(ctx, strings.Repeat("x", 600), "A", core.LangEnglish)
	require.NoError(t, err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIngestShrinkingDocumentDropsStaleChunks(t *testing.T) {
	p, store := newTestPipeline(&fakeLLM{}, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, strings.Repeat("x", 1200), "A", core.LangEnglish)
	require.NoError(t, err)
	count, err := p.Ingest(ctx, strings.Repeat("y", 400), "A", core.LangEnglish)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored)
}

func TestIngestEmptyDocumentFails(t *testing.T) {
	p, store := newTestPipeline(&fakeLLM{}, nil)

	_, err := p.Ingest(context.Background(), "   \n\t ", "A", core.LangEnglish)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrEmptyDocument))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestIngestEmbeddingFailureLeavesIndexUntouched(t *testing.T) {
	store := NewMemoryStore()
	good := NewPipeline(chunker.New(chunker.DefaultChunkSize), &fakeEmbedder{}, store, &fakeLLM{}, nil)
	_, err := good.Ingest(context.Background(), strings.Repeat("x", 600), "A", core.LangEnglish)
	require.NoError(t, err)

	broken := NewPipeline(chunker.New(chunker.DefaultChunkSize), &fakeEmbedder{fail: true}, store, &fakeLLM{}, nil)
	_, err = broken.Ingest(context.Background(), strings.Repeat("z", 900), "A", core.LangEnglish)
	require.Error(t, err)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "failed re-ingestion must not remove the previous entry set")
}

func TestRetrieveReturnsOwnChunkFirst(t *testing.T) {
	p, _ := newTestPipeline(&fakeLLM{}, nil)
	ctx := context.Background()

	docText := "Digital rights frameworks across African nations."
	_, err := p.Ingest(ctx, docText, "rights", core.LangEnglish)
	require.NoError(t, err)
	_, err = p.Ingest(ctx, "Completely unrelated text about cooking recipes.", "recipes", core.LangEnglish)
	require.NoError(t, err)

	result, err := p.Retrieve(ctx, docText, core.LangEnglish, DefaultTopK)
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)

	assert.Equal(t, "rights_0", result.Metadata[0].ID)
	require.Len(t, result.RelevanceScores, len(result.Chunks))
	for _, score := range result.RelevanceScores[1:] {
		assert.GreaterOrEqual(t, result.RelevanceScores[0], score)
	}
	assert.Equal(t, 1.0, result.RelevanceScores[0], "identical text embeds at distance zero")
}

func TestRetrieveEmptyIndexStatesNoContext(t *testing.T) {
	p, _ := newTestPipeline(&fakeLLM{}, nil)

	result, err := p.Retrieve(context.Background(), "anything", core.LangEnglish, DefaultTopK)
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
	assert.Contains(t, result.Prompt, NoContextPlaceholder)
}

func TestAskRecordsSuccessfulQuery(t *testing.T) {
	llm := &fakeLLM{response: "grounded answer"}
	monitor := &recordingMonitor{}
	p, _ := newTestPipeline(llm, monitor)
	ctx := context.Background()

	_, err := p.Ingest(ctx, strings.Repeat("x", 600), "A", core.LangEnglish)
	require.NoError(t, err)

	answer, err := p.Ask(ctx, "what is A about", core.LangEnglish)
	require.NoError(t, err)

	assert.Equal(t, "grounded answer", answer.Response)
	assert.Equal(t, "query-1", answer.QueryID)
	assert.Len(t, answer.ContextUsed, 2)

	assert.True(t, monitor.started)
	assert.Equal(t, []string{"embedding", "search", "llm"}, monitor.phases)
	assert.True(t, monitor.finishedOK)
	assert.Equal(t, 2, monitor.chunksFound)
	require.Len(t, monitor.scores, 2)
}

func TestAskLlmFailureDegradesToFallbackText(t *testing.T) {
	llm := &fakeLLM{
		response: "Sorry, the answer took too long to generate. Please try again.",
		err:      core.ErrLLMTimeout,
	}
	monitor := &recordingMonitor{}
	p, _ := newTestPipeline(llm, monitor)

	answer, err := p.Ask(context.Background(), "slow question", core.LangEnglish)
	require.NoError(t, err, "model failures degrade, they do not fail the request")

	assert.Contains(t, answer.Response, "too long")
	assert.True(t, monitor.finishedFail)
	assert.False(t, monitor.finishedOK)
	assert.Equal(t, answer.Response, monitor.responseText)
}

func TestDeleteDocumentRemovesAllEntries(t *testing.T) {
	p, store := newTestPipeline(&fakeLLM{}, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, strings.Repeat("x", 1100), "A", core.LangEnglish)
	require.NoError(t, err)

	deleted, err := p.DeleteDocument(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = p.DeleteDocument(ctx, "A")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestCorpusStats(t *testing.T) {
	p, _ := newTestPipeline(&fakeLLM{}, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, strings.Repeat("x", 600), "A", core.LangEnglish)
	require.NoError(t, err)
	_, err = p.Ingest(ctx, strings.Repeat("y", 200), "B", core.LangFrench)
	require.NoError(t, err)

	stats, err := p.CorpusStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 4, stats.EmbeddingDim)
	assert.InDelta(t, float64(500+100+200)/3, stats.AvgChunkSize, 1e-9)
}

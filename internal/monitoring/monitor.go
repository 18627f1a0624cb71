package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/draa-ai/draa/internal/logger"
)

// PerformanceMonitor times one query from Start to Finish and persists the
// result. Each phase call records the elapsed time since Start, not since
// the previous phase: the stored phase values are cumulative markers, and
// dashboards depend on that shape.
//
// A monitor that was never started persists nothing; both Finish methods
// become no-ops.
type PerformanceMonitor struct {
	store     *Store
	queryText string
	language  string

	started   bool
	startTime time.Time

	embeddingMs *int64
	searchMs    *int64
	llmMs       *int64

	now func() time.Time
}

// NewQueryMonitor creates a monitor for one question.
func (s *Store) NewQueryMonitor(queryText, language string) *PerformanceMonitor {
	return &PerformanceMonitor{
		store:     s,
		queryText: queryText,
		language:  language,
		now:       time.Now,
	}
}

// Start records the query's reference time. Phase and finish calls before
// Start are ignored.
func (m *PerformanceMonitor) Start() {
	m.started = true
	m.startTime = m.now()
}

func (m *PerformanceMonitor) elapsedMs() int64 {
	return m.now().Sub(m.startTime).Milliseconds()
}

// RecordEmbeddingPhase marks the time from Start to the end of question
// embedding.
func (m *PerformanceMonitor) RecordEmbeddingPhase() {
	if !m.started {
		return
	}
	v := m.elapsedMs()
	m.embeddingMs = &v
}

// RecordSearchPhase marks the time from Start to the end of vector search.
func (m *PerformanceMonitor) RecordSearchPhase() {
	if !m.started {
		return
	}
	v := m.elapsedMs()
	m.searchMs = &v
}

// RecordLlmPhase marks the time from Start to the end of the language
// model call.
func (m *PerformanceMonitor) RecordLlmPhase() {
	if !m.started {
		return
	}
	v := m.elapsedMs()
	m.llmMs = &v
}

// FinishSuccess persists a successful query entry and returns its id. An
// empty score list leaves the relevance aggregates unset rather than zero.
func (m *PerformanceMonitor) FinishSuccess(ctx context.Context, responseText string, contextChunksFound int, relevanceScores []float64) (string, error) {
	return m.finish(ctx, responseText, contextChunksFound, relevanceScores, true)
}

// FinishFailure persists a failed query entry carrying the error text as
// its response, and returns its id.
func (m *PerformanceMonitor) FinishFailure(ctx context.Context, responseText string) (string, error) {
	return m.finish(ctx, responseText, 0, nil, false)
}

func (m *PerformanceMonitor) finish(ctx context.Context, responseText string, contextChunksFound int, relevanceScores []float64, success bool) (string, error) {
	if !m.started {
		return "", nil
	}

	entry := &QueryLogEntry{
		ID:                 uuid.NewString(),
		QueryText:          m.queryText,
		Language:           m.language,
		ResponseText:       responseText,
		ResponseTimeMs:     m.elapsedMs(),
		ContextChunksFound: contextChunksFound,
		EmbeddingTimeMs:    m.embeddingMs,
		SearchTimeMs:       m.searchMs,
		LlmTimeMs:          m.llmMs,
		Success:            success,
		CreatedAt:          m.now().UTC(),
	}

	if len(relevanceScores) > 0 {
		avg, max, min := aggregateScores(relevanceScores)
		entry.AvgRelevance = &avg
		entry.MaxRelevance = &max
		entry.MinRelevance = &min
	}

	if err := m.store.InsertQueryLog(ctx, entry); err != nil {
		return "", err
	}

	logger.Debug("Logged query %s (success=%t, %dms, %d chunks)",
		entry.ID, success, entry.ResponseTimeMs, contextChunksFound)
	return entry.ID, nil
}

func aggregateScores(scores []float64) (avg, max, min float64) {
	max = scores[0]
	min = scores[0]
	var sum float64
	for _, s := range scores {
		sum += s
		if s > max {
			max = s
		}
		if s < min {
			min = s
		}
	}
	return sum / float64(len(scores)), max, min
}

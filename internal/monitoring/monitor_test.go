package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draa-ai/draa/internal/core"
)

// fakeClock advances only when told, so phase timings are exact.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMonitorNeverStartedFinishIsNoOp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := store.NewQueryMonitor("question", core.LangEnglish)
	m.RecordEmbeddingPhase()
	m.RecordSearchPhase()
	m.RecordLlmPhase()

	id, err := m.FinishSuccess(ctx, "answer", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, id)

	total, err := store.TotalQueries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestPhaseTimingsAreCumulativeSinceStart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	m := store.NewQueryMonitor("question", core.LangEnglish)
	m.now = clock.now
	m.Start()

	clock.advance(10 * time.Millisecond)
	m.RecordEmbeddingPhase()
	clock.advance(15 * time.Millisecond)
	m.RecordSearchPhase()
	clock.advance(25 * time.Millisecond)
	m.RecordLlmPhase()
	clock.advance(5 * time.Millisecond)

	id, err := m.FinishSuccess(ctx, "answer", 2, []float64{0.4, 0.6})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entry, err := store.GetQueryLog(ctx, id)
	require.NoError(t, err)

	// Each phase value marks elapsed time from Start, not from the
	// previous phase, so the three markers grow monotonically.
	require.NotNil(t, entry.EmbeddingTimeMs)
	require.NotNil(t, entry.SearchTimeMs)
	require.NotNil(t, entry.LlmTimeMs)
	assert.Equal(t, int64(10), *entry.EmbeddingTimeMs)
	assert.Equal(t, int64(25), *entry.SearchTimeMs)
	assert.Equal(t, int64(50), *entry.LlmTimeMs)
	assert.Equal(t, int64(55), entry.ResponseTimeMs)
}

func TestFinishSuccessComputesRelevanceAggregates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := store.NewQueryMonitor("question", core.LangFrench)
	m.Start()
	id, err := m.FinishSuccess(ctx, "answer", 3, []float64{0.2, 0.8, 0.5})
	require.NoError(t, err)

	entry, err := store.GetQueryLog(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.LangFrench, entry.Language)
	assert.Equal(t, 3, entry.ContextChunksFound)
	require.NotNil(t, entry.AvgRelevance)
	assert.InDelta(t, 0.5, *entry.AvgRelevance, 1e-9)
	require.NotNil(t, entry.MaxRelevance)
	assert.InDelta(t, 0.8, *entry.MaxRelevance, 1e-9)
	require.NotNil(t, entry.MinRelevance)
	assert.InDelta(t, 0.2, *entry.MinRelevance, 1e-9)
}

func TestFinishSuccessEmptyScoresLeavesAggregatesUnset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := store.NewQueryMonitor("question", core.LangEnglish)
	m.Start()
	id, err := m.FinishSuccess(ctx, "answer", 0, nil)
	require.NoError(t, err)

	entry, err := store.GetQueryLog(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, entry.AvgRelevance, "empty score list must not become a zero average")
	assert.Nil(t, entry.MaxRelevance)
	assert.Nil(t, entry.MinRelevance)
}

func TestFinishFailureRecordsErrorText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := store.NewQueryMonitor("question", core.LangEnglish)
	m.Start()
	id, err := m.FinishFailure(ctx, "Timeout: the language model took too long to respond.")
	require.NoError(t, err)

	entry, err := store.GetQueryLog(ctx, id)
	require.NoError(t, err)
	assert.False(t, entry.Success)
	assert.Contains(t, entry.ResponseText, "Timeout")
	assert.Equal(t, 0, entry.ContextChunksFound)

	m2, err := store.GetDailyMetrics(ctx, entry.CreatedAt.Format(dayFormat))
	require.NoError(t, err)
	assert.Equal(t, int64(1), m2.TotalQueries)
	assert.Equal(t, int64(1), m2.FailedQueries)
	assert.Equal(t, int64(0), m2.SuccessfulQueries)
}

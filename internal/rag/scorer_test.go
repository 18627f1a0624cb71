package rag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draa-ai/draa/internal/core"
)

func TestDistanceToRelevanceAtZero(t *testing.T) {
	score, err := DistanceToRelevance(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestDistanceToRelevanceCosineBranch(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0.5, 0.75},
		{1.0, 0.5},
		{1.5, 0.25},
		{2.0, 0.0},
	}
	for _, tt := range tests {
		score, err := DistanceToRelevance(tt.distance)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, score, 1e-9, "distance %g", tt.distance)
	}
}

func TestDistanceToRelevanceUnboundedBranch(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{3.0, 0.25},
		{4.0, 0.2},
		{9.0, 0.1},
		{99.0, 0.01},
	}
	for _, tt := range tests {
		score, err := DistanceToRelevance(tt.distance)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, score, 1e-9, "distance %g", tt.distance)
	}
}

func TestDistanceToRelevanceMonotoneAndBounded(t *testing.T) {
	// Monotonicity holds within each distance family. Across the branch
	// boundary at 2 the heuristic is discontinuous; that is a known
	// limitation of inferring the metric from the numeric range.
	branches := [][]float64{
		{0, 0.1, 0.5, 1, 1.9, 2},
		{2.1, 3, 10, 1000},
	}
	for _, distances := range branches {
		prev := 1.1
		for _, d := range distances {
			score, err := DistanceToRelevance(d)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
			assert.LessOrEqual(t, score, prev, "score must not increase with distance")
			prev = score
		}
	}
}

func TestDistanceToRelevanceNegativeFailsLoudly(t *testing.T) {
	_, err := DistanceToRelevance(-0.01)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidDistance))
}

package rag

import (
	"fmt"

	"github.com/draa-ai/draa/internal/core"
)

// cosineFamilyMax is the largest distance treated as cosine-family.
// Cosine distance is bounded by 2, so anything above it is assumed to come
// from an unbounded metric such as Euclidean. This infers the metric from
// the numeric range rather than from index configuration; scores can be
// miscalibrated if the index uses a different metric than assumed.
const cosineFamilyMax = 2.0

// DistanceToRelevance converts a raw vector distance into a relevance score
// in [0,1], higher meaning more similar. Distances up to 2 map linearly
// through 1 - d/2; larger distances map through 1/(1+d). Both branches give
// 1 at distance 0 and decrease monotonically.
//
// A negative distance violates the input contract and fails loudly.
func DistanceToRelevance(distance float64) (float64, error) {
	if distance < 0 {
		return 0, fmt.Errorf("%w: got %g", core.ErrInvalidDistance, distance)
	}
	if distance <= cosineFamilyMax {
		score := 1 - distance/2
		if score < 0 {
			score = 0
		}
		return score, nil
	}
	return 1 / (1 + distance), nil
}

// scoreHits maps every hit distance through DistanceToRelevance, preserving
// order.
func scoreHits(hits []core.SearchHit) ([]float64, error) {
	scores := make([]float64, len(hits))
	for i, hit := range hits {
		score, err := DistanceToRelevance(hit.Distance)
		if err != nil {
			return nil, err
		}
		scores[i] = score
	}
	return scores, nil
}

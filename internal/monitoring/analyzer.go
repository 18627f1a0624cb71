package monitoring

import (
	"context"
	"time"
)

const (
	// DefaultLowRelevanceThreshold flags queries worth reviewing by hand.
	DefaultLowRelevanceThreshold = 0.03

	lowRelevanceLimit = 20
	dashboardLimit    = 10

	healthWindow = 30 * time.Minute

	excellentResponseMs = 5000
	goodResponseMs      = 10000
	excellentRelevance  = 0.05
	goodRelevance       = 0.03
)

// PerformanceAnalyzer is the read-only aggregation surface over the query
// log and daily rollups.
type PerformanceAnalyzer struct {
	store *Store
	now   func() time.Time
}

// NewAnalyzer creates an analyzer over the given store.
func NewAnalyzer(store *Store) *PerformanceAnalyzer {
	return &PerformanceAnalyzer{store: store, now: time.Now}
}

// SystemStats is the top-level monitoring summary.
type SystemStats struct {
	TotalQueries int64           `json:"total_queries"`
	Last24h      WindowStats     `json:"last_24h"`
	Languages    []LanguageUsage `json:"languages"`
}

// Stats summarizes the whole log plus the last 24 hours.
func (a *PerformanceAnalyzer) Stats(ctx context.Context) (*SystemStats, error) {
	total, err := a.store.TotalQueries(ctx)
	if err != nil {
		return nil, err
	}
	window, err := a.store.WindowStatsSince(ctx, a.now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	languages, err := a.store.LanguageUsageStats(ctx)
	if err != nil {
		return nil, err
	}
	return &SystemStats{
		TotalQueries: total,
		Last24h:      *window,
		Languages:    languages,
	}, nil
}

// Dashboard returns the most recent query log entries, newest first.
func (a *PerformanceAnalyzer) Dashboard(ctx context.Context) ([]QueryLogEntry, error) {
	return a.store.RecentQueries(ctx, dashboardLimit)
}

// DailyStats returns rollups for the last `days` dates, newest first.
func (a *PerformanceAnalyzer) DailyStats(ctx context.Context, days int) ([]DailyMetrics, error) {
	return a.store.DailyMetricsRange(ctx, days, a.now())
}

// LowRelevanceQueries lists the worst-scoring successful queries below
// threshold. A non-positive threshold falls back to the default.
func (a *PerformanceAnalyzer) LowRelevanceQueries(ctx context.Context, threshold float64) ([]QueryLogEntry, error) {
	if threshold <= 0 {
		threshold = DefaultLowRelevanceThreshold
	}
	return a.store.LowRelevanceQueries(ctx, threshold, lowRelevanceLimit)
}

// HealthStatus grades recent service behavior.
type HealthStatus struct {
	Status            string  `json:"status"`
	WindowMinutes     int     `json:"window_minutes"`
	Queries           int64   `json:"queries"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	AvgRelevance      float64 `json:"avg_relevance"`
}

// Health grades the last 30 minutes of traffic. No queries in the window
// yields "unknown" with zeroed averages.
func (a *PerformanceAnalyzer) Health(ctx context.Context) (*HealthStatus, error) {
	window, err := a.store.WindowStatsSince(ctx, a.now().Add(-healthWindow))
	if err != nil {
		return nil, err
	}

	health := &HealthStatus{
		Status:        "unknown",
		WindowMinutes: int(healthWindow.Minutes()),
		Queries:       window.Queries,
	}
	if window.Queries == 0 {
		return health, nil
	}

	if window.AvgResponseTimeMs != nil {
		health.AvgResponseTimeMs = *window.AvgResponseTimeMs
	}
	if window.AvgRelevance != nil {
		health.AvgRelevance = *window.AvgRelevance
	}

	switch {
	case health.AvgResponseTimeMs < excellentResponseMs && health.AvgRelevance > excellentRelevance:
		health.Status = "excellent"
	case health.AvgResponseTimeMs < goodResponseMs && health.AvgRelevance > goodRelevance:
		health.Status = "good"
	default:
		health.Status = "poor"
	}
	return health, nil
}

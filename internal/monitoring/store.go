// Package monitoring persists per-query telemetry and daily rollups in
// SQLite, and exposes read-only aggregations for dashboards and health
// checks.
package monitoring

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/draa-ai/draa/internal/core"
	"github.com/draa-ai/draa/internal/monitoring/migrations"
)

// dayFormat is the calendar-date key used by the daily_metrics table.
const dayFormat = "2006-01-02"

// QueryLogEntry is one served question, success or failure. Entries are
// written once and mutated only by an explicit rating or regeneration.
type QueryLogEntry struct {
	ID                 string    `json:"id"`
	QueryText          string    `json:"query_text"`
	Language           string    `json:"language"`
	ResponseText       string    `json:"response_text"`
	ResponseTimeMs     int64     `json:"response_time_ms"`
	ContextChunksFound int       `json:"context_chunks_found"`
	AvgRelevance       *float64  `json:"avg_relevance_score,omitempty"`
	MaxRelevance       *float64  `json:"max_relevance_score,omitempty"`
	MinRelevance       *float64  `json:"min_relevance_score,omitempty"`
	EmbeddingTimeMs    *int64    `json:"embedding_time_ms,omitempty"`
	SearchTimeMs       *int64    `json:"search_time_ms,omitempty"`
	LlmTimeMs          *int64    `json:"llm_time_ms,omitempty"`
	UserRating         *int      `json:"user_rating,omitempty"`
	ResponseRelevance  *float64  `json:"response_relevance,omitempty"`
	RegenerationCount  int       `json:"regeneration_count"`
	Success            bool      `json:"success"`
	CreatedAt          time.Time `json:"created_at"`
}

// DailyMetrics is the rollup row for one calendar date. Averages cover the
// day's successful queries only and are nil until the first one lands.
type DailyMetrics struct {
	Day               string         `json:"date"`
	TotalQueries      int64          `json:"total_queries"`
	SuccessfulQueries int64          `json:"successful_queries"`
	FailedQueries     int64          `json:"failed_queries"`
	AvgResponseTimeMs *float64       `json:"avg_response_time_ms,omitempty"`
	AvgRelevance      *float64       `json:"avg_relevance_score,omitempty"`
	AvgContextChunks  *float64       `json:"avg_context_chunks,omitempty"`
	AvgUserRating     *float64       `json:"avg_user_rating,omitempty"`
	QueriesByLanguage map[string]int `json:"queries_by_language"`
}

// Store is the SQLite-backed home of query logs and daily rollups.
type Store struct {
	db   *sql.DB
	path string

	// serializes the read-modify-write rollup per calendar date
	rollupMu    sync.Mutex
	rollupLocks map[string]*sync.Mutex
}

// NewStore opens (or creates) the monitoring database under dataDir and
// applies pending migrations.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "monitoring.db")

	// WAL mode keeps readers unblocked during rollup transactions.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:          db,
		path:        dbPath,
		rollupLocks: make(map[string]*sync.Mutex),
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// InsertQueryLog writes one log entry and folds it into the day's rollup.
func (s *Store) InsertQueryLog(ctx context.Context, entry *QueryLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_logs (
			id, query_text, language, response_text, response_time_ms,
			context_chunks_found, avg_relevance_score, max_relevance_score,
			min_relevance_score, embedding_time_ms, search_time_ms, llm_time_ms,
			user_rating, response_relevance, regeneration_count, success,
			day, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.QueryText, entry.Language, entry.ResponseText, entry.ResponseTimeMs,
		entry.ContextChunksFound, entry.AvgRelevance, entry.MaxRelevance,
		entry.MinRelevance, entry.EmbeddingTimeMs, entry.SearchTimeMs, entry.LlmTimeMs,
		entry.UserRating, entry.ResponseRelevance, entry.RegenerationCount, entry.Success,
		entry.CreatedAt.UTC().Format(dayFormat), entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting query log: %w", err)
	}

	return s.updateDailyMetrics(ctx, entry)
}

// GetQueryLog retrieves one entry by id.
func (s *Store) GetQueryLog(ctx context.Context, id string) (*QueryLogEntry, error) {
	row := s.db.QueryRowContext(ctx, selectQueryLog+" WHERE id = ?", id)
	entry, err := scanQueryLog(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: query log %s", core.ErrNotFound, id)
		}
		return nil, fmt.Errorf("scanning query log: %w", err)
	}
	return entry, nil
}

// RecentQueries returns the newest entries, newest first.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]QueryLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectQueryLog+" ORDER BY created_at_ms DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent entries: %w", err)
	}
	defer rows.Close()

	return collectQueryLogs(rows)
}

// LowRelevanceQueries lists successful entries scored below threshold,
// worst first, capped at limit.
func (s *Store) LowRelevanceQueries(ctx context.Context, threshold float64, limit int) ([]QueryLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, selectQueryLog+`
		WHERE success = 1 AND avg_relevance_score IS NOT NULL AND avg_relevance_score < ?
		ORDER BY avg_relevance_score ASC LIMIT ?
	`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("querying low relevance entries: %w", err)
	}
	defer rows.Close()

	return collectQueryLogs(rows)
}

// RateQuery attaches a user rating (1..5) and optional response-relevance
// judgment to an existing entry.
func (s *Store) RateQuery(ctx context.Context, id string, rating int, responseRelevance *float64) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE query_logs
		SET user_rating = ?, response_relevance = COALESCE(?, response_relevance)
		WHERE id = ?
	`, rating, responseRelevance, id)
	if err != nil {
		return fmt.Errorf("rating query: %w", err)
	}
	return requireRow(result, id)
}

// RecordRegeneration replaces the stored response text and increments the
// regeneration counter on the same entry.
func (s *Store) RecordRegeneration(ctx context.Context, id, responseText string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE query_logs
		SET response_text = ?, regeneration_count = regeneration_count + 1
		WHERE id = ?
	`, responseText, id)
	if err != nil {
		return fmt.Errorf("recording regeneration: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: query log %s", core.ErrNotFound, id)
	}
	return nil
}

// dayLock returns the rollup mutex for a calendar date.
func (s *Store) dayLock(day string) *sync.Mutex {
	s.rollupMu.Lock()
	defer s.rollupMu.Unlock()
	l, ok := s.rollupLocks[day]
	if !ok {
		l = &sync.Mutex{}
		s.rollupLocks[day] = l
	}
	return l
}

// updateDailyMetrics folds one new entry into its date's rollup row.
// Counters are incremented; every averaged field is then recomputed by
// re-aggregating all of the day's successful entries, so the averages are
// always exactly consistent with the log.
func (s *Store) updateDailyMetrics(ctx context.Context, entry *QueryLogEntry) error {
	day := entry.CreatedAt.UTC().Format(dayFormat)

	lock := s.dayLock(day)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rollup transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO daily_metrics (day) VALUES (?)", day); err != nil {
		return fmt.Errorf("creating rollup row: %w", err)
	}

	var langJSON string
	if err := tx.QueryRowContext(ctx,
		"SELECT queries_by_language FROM daily_metrics WHERE day = ?", day).Scan(&langJSON); err != nil {
		return fmt.Errorf("reading language distribution: %w", err)
	}
	langDist := make(map[string]int)
	if langJSON != "" {
		if err := json.Unmarshal([]byte(langJSON), &langDist); err != nil {
			return fmt.Errorf("unmarshaling language distribution: %w", err)
		}
	}
	// Failed queries count toward total and failed only; the language
	// distribution tracks served answers.
	if entry.Success {
		langDist[entry.Language]++
	}
	updatedLang, err := json.Marshal(langDist)
	if err != nil {
		return fmt.Errorf("marshaling language distribution: %w", err)
	}

	successfulDelta := 0
	failedDelta := 0
	if entry.Success {
		successfulDelta = 1
	} else {
		failedDelta = 1
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE daily_metrics
		SET total_queries = total_queries + 1,
			successful_queries = successful_queries + ?,
			failed_queries = failed_queries + ?,
			queries_by_language = ?
		WHERE day = ?
	`, successfulDelta, failedDelta, string(updatedLang), day); err != nil {
		return fmt.Errorf("incrementing rollup counters: %w", err)
	}

	var avgResponse, avgRelevance, avgChunks, avgRating sql.NullFloat64
	if err := tx.QueryRowContext(ctx, `
		SELECT AVG(response_time_ms),
			AVG(avg_relevance_score),
			AVG(CAST(context_chunks_found AS REAL)),
			AVG(user_rating)
		FROM query_logs
		WHERE success = 1 AND day = ?
	`, day).Scan(&avgResponse, &avgRelevance, &avgChunks, &avgRating); err != nil {
		return fmt.Errorf("re-aggregating day: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE daily_metrics
		SET avg_response_time_ms = ?,
			avg_relevance_score = ?,
			avg_context_chunks = ?,
			avg_user_rating = ?
		WHERE day = ?
	`, avgResponse, avgRelevance, avgChunks, avgRating, day); err != nil {
		return fmt.Errorf("writing recomputed averages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rollup: %w", err)
	}
	return nil
}

// GetDailyMetrics returns the rollup row for one date, or ErrNotFound.
func (s *Store) GetDailyMetrics(ctx context.Context, day string) (*DailyMetrics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT day, total_queries, successful_queries, failed_queries,
			avg_response_time_ms, avg_relevance_score, avg_context_chunks,
			avg_user_rating, queries_by_language
		FROM daily_metrics WHERE day = ?
	`, day)

	m, err := scanDailyMetrics(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: daily metrics for %s", core.ErrNotFound, day)
		}
		return nil, fmt.Errorf("scanning daily metrics: %w", err)
	}
	return m, nil
}

// DailyMetricsRange returns rollups for the last `days` dates including
// today, newest first. Dates with no traffic have no row.
func (s *Store) DailyMetricsRange(ctx context.Context, days int, now time.Time) ([]DailyMetrics, error) {
	if days <= 0 {
		days = 7
	}
	start := now.UTC().AddDate(0, 0, -(days - 1)).Format(dayFormat)

	rows, err := s.db.QueryContext(ctx, `
		SELECT day, total_queries, successful_queries, failed_queries,
			avg_response_time_ms, avg_relevance_score, avg_context_chunks,
			avg_user_rating, queries_by_language
		FROM daily_metrics WHERE day >= ? ORDER BY day DESC
	`, start)
	if err != nil {
		return nil, fmt.Errorf("querying daily metrics: %w", err)
	}
	defer rows.Close()

	var metrics []DailyMetrics //nolint:prealloc // size unknown from query
	for rows.Next() {
		m, err := scanDailyMetrics(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning daily metrics: %w", err)
		}
		metrics = append(metrics, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating daily metrics: %w", err)
	}
	return metrics, nil
}

// LanguageUsage summarizes per-language traffic over the whole log.
type LanguageUsage struct {
	Language          string   `json:"language"`
	Count             int64    `json:"count"`
	AvgRelevance      *float64 `json:"avg_relevance,omitempty"`
	AvgResponseTimeMs *float64 `json:"avg_response_time_ms,omitempty"`
}

// LanguageUsageStats returns per-language counts and averages, most used
// first.
func (s *Store) LanguageUsageStats(ctx context.Context) ([]LanguageUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT language, COUNT(*), AVG(avg_relevance_score), AVG(response_time_ms)
		FROM query_logs GROUP BY language ORDER BY COUNT(*) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying language usage: %w", err)
	}
	defer rows.Close()

	var usage []LanguageUsage //nolint:prealloc // size unknown from query
	for rows.Next() {
		var u LanguageUsage
		var avgRel, avgResp sql.NullFloat64
		if err := rows.Scan(&u.Language, &u.Count, &avgRel, &avgResp); err != nil {
			return nil, fmt.Errorf("scanning language usage: %w", err)
		}
		if avgRel.Valid {
			u.AvgRelevance = &avgRel.Float64
		}
		if avgResp.Valid {
			u.AvgResponseTimeMs = &avgResp.Float64
		}
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating language usage: %w", err)
	}
	return usage, nil
}

// WindowStats summarizes successful queries since a point in time.
type WindowStats struct {
	Queries           int64    `json:"queries"`
	AvgResponseTimeMs *float64 `json:"avg_response_time_ms,omitempty"`
	AvgRelevance      *float64 `json:"avg_relevance,omitempty"`
}

// WindowStatsSince aggregates the successful entries recorded at or after
// `since`. An empty window reports zero queries and nil averages.
func (s *Store) WindowStatsSince(ctx context.Context, since time.Time) (*WindowStats, error) {
	var stats WindowStats
	var avgResp, avgRel sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(response_time_ms), AVG(avg_relevance_score)
		FROM query_logs WHERE success = 1 AND created_at_ms >= ?
	`, since.UnixMilli()).Scan(&stats.Queries, &avgResp, &avgRel)
	if err != nil {
		return nil, fmt.Errorf("aggregating window: %w", err)
	}
	if avgResp.Valid {
		stats.AvgResponseTimeMs = &avgResp.Float64
	}
	if avgRel.Valid {
		stats.AvgRelevance = &avgRel.Float64
	}
	return &stats, nil
}

// TotalQueries counts every logged entry.
func (s *Store) TotalQueries(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_logs").Scan(&total); err != nil {
		return 0, fmt.Errorf("counting query logs: %w", err)
	}
	return total, nil
}

const selectQueryLog = `
	SELECT id, query_text, language, response_text, response_time_ms,
		context_chunks_found, avg_relevance_score, max_relevance_score,
		min_relevance_score, embedding_time_ms, search_time_ms, llm_time_ms,
		user_rating, response_relevance, regeneration_count, success,
		created_at_ms
	FROM query_logs`

func scanQueryLog(scan func(dest ...any) error) (*QueryLogEntry, error) {
	var entry QueryLogEntry
	var avgRel, maxRel, minRel, respRel sql.NullFloat64
	var embMs, searchMs, llmMs sql.NullInt64
	var rating sql.NullInt64
	var createdAtMs int64

	if err := scan(&entry.ID, &entry.QueryText, &entry.Language, &entry.ResponseText,
		&entry.ResponseTimeMs, &entry.ContextChunksFound, &avgRel, &maxRel, &minRel,
		&embMs, &searchMs, &llmMs, &rating, &respRel, &entry.RegenerationCount,
		&entry.Success, &createdAtMs); err != nil {
		return nil, err
	}

	if avgRel.Valid {
		entry.AvgRelevance = &avgRel.Float64
	}
	if maxRel.Valid {
		entry.MaxRelevance = &maxRel.Float64
	}
	if minRel.Valid {
		entry.MinRelevance = &minRel.Float64
	}
	if respRel.Valid {
		entry.ResponseRelevance = &respRel.Float64
	}
	if embMs.Valid {
		entry.EmbeddingTimeMs = &embMs.Int64
	}
	if searchMs.Valid {
		entry.SearchTimeMs = &searchMs.Int64
	}
	if llmMs.Valid {
		entry.LlmTimeMs = &llmMs.Int64
	}
	if rating.Valid {
		r := int(rating.Int64)
		entry.UserRating = &r
	}
	entry.CreatedAt = time.UnixMilli(createdAtMs).UTC()

	return &entry, nil
}

func collectQueryLogs(rows *sql.Rows) ([]QueryLogEntry, error) {
	var entries []QueryLogEntry //nolint:prealloc // size unknown from query
	for rows.Next() {
		entry, err := scanQueryLog(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning query log: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query logs: %w", err)
	}
	return entries, nil
}

func scanDailyMetrics(scan func(dest ...any) error) (*DailyMetrics, error) {
	var m DailyMetrics
	var avgResp, avgRel, avgChunks, avgRating sql.NullFloat64
	var langJSON string

	if err := scan(&m.Day, &m.TotalQueries, &m.SuccessfulQueries, &m.FailedQueries,
		&avgResp, &avgRel, &avgChunks, &avgRating, &langJSON); err != nil {
		return nil, err
	}

	if avgResp.Valid {
		m.AvgResponseTimeMs = &avgResp.Float64
	}
	if avgRel.Valid {
		m.AvgRelevance = &avgRel.Float64
	}
	if avgChunks.Valid {
		m.AvgContextChunks = &avgChunks.Float64
	}
	if avgRating.Valid {
		m.AvgUserRating = &avgRating.Float64
	}

	m.QueriesByLanguage = make(map[string]int)
	if langJSON != "" {
		if err := json.Unmarshal([]byte(langJSON), &m.QueriesByLanguage); err != nil {
			return nil, fmt.Errorf("unmarshaling language distribution: %w", err)
		}
	}

	return &m, nil
}

// Package api exposes the question-answering pipeline and the monitoring
// surface over HTTP. Handlers are thin: they validate input, call into the
// pipeline or analyzer, and encode the result.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/draa-ai/draa/internal/core"
	"github.com/draa-ai/draa/internal/logger"
	"github.com/draa-ai/draa/internal/monitoring"
	"github.com/draa-ai/draa/internal/rag"
)

const maxUploadBytes = 32 << 20

// Server holds the wired collaborators for all HTTP handlers.
type Server struct {
	pipeline *rag.Pipeline
	store    *monitoring.Store
	analyzer *monitoring.PerformanceAnalyzer
	llm      core.LLMService
	docsDir  string
}

// NewServer creates the HTTP handler set.
func NewServer(pipeline *rag.Pipeline, store *monitoring.Store, analyzer *monitoring.PerformanceAnalyzer, llm core.LLMService, docsDir string) *Server {
	return &Server{
		pipeline: pipeline,
		store:    store,
		analyzer: analyzer,
		llm:      llm,
		docsDir:  docsDir,
	}
}

// Router registers all endpoints.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("POST /api/documents", s.handleUploadDocument)
	mux.HandleFunc("DELETE /api/documents/{name}", s.handleDeleteDocument)
	mux.HandleFunc("POST /api/rate", s.handleRate)
	mux.HandleFunc("POST /api/regenerate", s.handleRegenerate)
	mux.HandleFunc("GET /api/monitoring/stats", s.handleMonitoringStats)
	mux.HandleFunc("GET /api/monitoring/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/monitoring/daily", s.handleDaily)
	mux.HandleFunc("GET /api/monitoring/low-relevance", s.handleLowRelevance)
	mux.HandleFunc("GET /api/embedding-stats", s.handleEmbeddingStats)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

type askRequest struct {
	Prompt   string `json:"prompt"`
	Language string `json:"language"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.Language == "" {
		req.Language = core.LangEnglish
	}
	if !core.SupportedLanguage(req.Language) {
		writeError(w, http.StatusBadRequest, "unsupported language %q", req.Language)
		return
	}

	answer, err := s.pipeline.Ask(r.Context(), req.Prompt, req.Language)
	if err != nil {
		logger.Error("Ask failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to answer question")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: %v", err)
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = core.LangEnglish
	}
	if !core.SupportedLanguage(language) {
		writeError(w, http.StatusBadRequest, "unsupported language %q", language)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required: %v", err)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	text, err := ExtractText(name, file)
	if err != nil {
		if errors.Is(err, core.ErrEmptyDocument) {
			writeError(w, http.StatusBadRequest, "document contains no usable text")
			return
		}
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	if s.docsDir != "" {
		if err := s.saveUpload(name, text); err != nil {
			logger.Warn("Failed to store uploaded file %s: %v", name, err)
		}
	}

	chunks, err := s.pipeline.Ingest(r.Context(), text, name, language)
	if err != nil {
		if errors.Is(err, core.ErrEmptyDocument) {
			writeError(w, http.StatusBadRequest, "document contains no usable text")
			return
		}
		logger.Error("Ingestion of %s failed: %v", name, err)
		writeError(w, http.StatusInternalServerError, "failed to ingest document")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document":      name,
		"language":      language,
		"chunks_stored": chunks,
	})
}

func (s *Server) saveUpload(name, text string) error {
	if err := os.MkdirAll(s.docsDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.docsDir, name), []byte(text), 0o644)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	deleted, err := s.pipeline.DeleteDocument(r.Context(), name)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no entries for document %q", name)
			return
		}
		logger.Error("Delete of %s failed: %v", name, err)
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}

	if s.docsDir != "" {
		// The stored copy is a convenience; the index is the source of truth.
		_ = os.Remove(filepath.Join(s.docsDir, filepath.Base(name)))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document":        name,
		"entries_deleted": deleted,
	})
}

type rateRequest struct {
	QueryID           string   `json:"query_id"`
	Rating            int      `json:"rating"`
	ResponseRelevance *float64 `json:"response_relevance,omitempty"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.QueryID == "" {
		writeError(w, http.StatusBadRequest, "query_id is required")
		return
	}

	if err := s.store.RateQuery(r.Context(), req.QueryID, req.Rating, req.ResponseRelevance); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query %q not found", req.QueryID)
			return
		}
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rated"})
}

type regenerateRequest struct {
	QueryID string `json:"query_id"`
}

// handleRegenerate re-runs a logged question and replaces the stored
// response on the same entry. No new log entry is created.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.QueryID == "" {
		writeError(w, http.StatusBadRequest, "query_id is required")
		return
	}

	entry, err := s.store.GetQueryLog(r.Context(), req.QueryID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query %q not found", req.QueryID)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load query")
		return
	}

	retrieval, err := s.pipeline.Retrieve(r.Context(), entry.QueryText, entry.Language, rag.DefaultTopK)
	if err != nil {
		logger.Error("Regeneration retrieval failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to regenerate response")
		return
	}

	response, llmErr := s.llm.Complete(r.Context(), retrieval.Prompt)
	if llmErr != nil {
		logger.Warn("Regeneration model call failed, storing fallback text: %v", llmErr)
	}

	if err := s.store.RecordRegeneration(r.Context(), req.QueryID, response); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record regeneration")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query_id": req.QueryID,
		"response": response,
	})
}

func (s *Server) handleMonitoringStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.analyzer.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.analyzer.Dashboard(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recent_queries": entries})
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	metrics, err := s.analyzer.DailyStats(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load daily metrics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "daily_metrics": metrics})
}

func (s *Server) handleLowRelevance(w http.ResponseWriter, r *http.Request) {
	threshold := 0.0
	if v := r.URL.Query().Get("threshold"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "threshold must be a positive number")
			return
		}
		threshold = parsed
	}

	entries, err := s.analyzer.LowRelevanceQueries(r.Context(), threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load low relevance queries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": entries})
}

func (s *Server) handleEmbeddingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pipeline.CorpusStats(r.Context())
	if err != nil {
		logger.Error("Embedding stats failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to compute embedding stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.analyzer.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute health")
		return
	}
	writeJSON(w, http.StatusOK, health)
}

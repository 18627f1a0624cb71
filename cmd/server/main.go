package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/draa-ai/draa/internal/api"
	"github.com/draa-ai/draa/internal/chunker"
	"github.com/draa-ai/draa/internal/core"
	"github.com/draa-ai/draa/internal/embed"
	"github.com/draa-ai/draa/internal/llm"
	"github.com/draa-ai/draa/internal/logger"
	"github.com/draa-ai/draa/internal/monitoring"
	"github.com/draa-ai/draa/internal/rag"
)

// Config represents the application configuration.
type Config struct {
	HTTPAddr     string
	MilvusHost   string
	MilvusPort   string
	MockMilvus   bool
	EmbedBaseURL string
	EmbedModel   string
	EmbedDim     int
	LLMBaseURL   string
	LLMModel     string
	LLMTimeout   time.Duration
	DataDir      string
	DocsDir      string
}

// loadConfig loads configuration from environment variables.
func loadConfig() *Config {
	embedDim := embed.DefaultDimension
	if v := os.Getenv("EMBED_DIM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			embedDim = parsed
		}
	}

	llmTimeout := llm.DefaultTimeout
	if v := os.Getenv("LLM_TIMEOUT_SECS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			llmTimeout = time.Duration(parsed) * time.Second
		}
	}

	return &Config{
		HTTPAddr:     getEnvWithDefault("HTTP_ADDR", ":8000"),
		MilvusHost:   getEnvWithDefault("MILVUS_HOST", "localhost"),
		MilvusPort:   getEnvWithDefault("MILVUS_PORT", "19530"),
		MockMilvus:   os.Getenv("MOCK_MILVUS") == "1",
		EmbedBaseURL: getEnvWithDefault("EMBED_BASE_URL", "http://localhost:1234/v1"),
		EmbedModel:   getEnvWithDefault("EMBED_MODEL", "paraphrase-multilingual-minilm-l12-v2"),
		EmbedDim:     embedDim,
		LLMBaseURL:   getEnvWithDefault("LLM_BASE_URL", "http://localhost:1234/v1"),
		LLMModel:     getEnvWithDefault("LLM_MODEL", "tinyllama-1.1b-chat-v1.0"),
		LLMTimeout:   llmTimeout,
		DataDir:      getEnvWithDefault("DATA_DIR", "data"),
		DocsDir:      getEnvWithDefault("DOCS_DIR", "data/documents"),
	}
}

// getEnvWithDefault gets an environment variable or returns a default value.
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger.Init(*debug)
	logger.Info("Starting server...")

	if err := godotenv.Load(); err != nil {
		logger.Info("Warning: No .env file found or error loading it")
	}

	config := loadConfig()
	if logger.IsDebugEnabled() {
		logger.Debug("Configuration loaded: HTTPAddr=%s, MilvusHost=%s, MilvusPort=%s, MockMilvus=%t, EmbedDim=%d",
			config.HTTPAddr, config.MilvusHost, config.MilvusPort, config.MockMilvus, config.EmbedDim)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Initializing services...")

	var vectorStore core.VectorStore
	if config.MockMilvus {
		vectorStore = rag.NewMemoryStore()
	} else {
		milvusAddr := config.MilvusHost + ":" + config.MilvusPort
		store, err := rag.NewMilvusStore(ctx, milvusAddr, config.EmbedDim)
		if err != nil {
			logger.Error("Failed to initialize Milvus store: %v", err)
			os.Exit(1)
		}
		vectorStore = store
	}

	embedService := embed.NewClient(embed.Config{
		BaseURL:    config.EmbedBaseURL,
		Model:      config.EmbedModel,
		Dimensions: config.EmbedDim,
	})

	llmService := llm.NewClient(llm.Config{
		BaseURL: config.LLMBaseURL,
		Model:   config.LLMModel,
		Timeout: config.LLMTimeout,
	})

	monitoringStore, err := monitoring.NewStore(config.DataDir)
	if err != nil {
		logger.Error("Failed to initialize monitoring store: %v", err)
		os.Exit(1)
	}

	pipeline := rag.NewPipeline(
		chunker.New(chunker.DefaultChunkSize),
		embedService,
		vectorStore,
		llmService,
		func(queryText, language string) rag.QueryMonitor {
			return monitoringStore.NewQueryMonitor(queryText, language)
		},
	)
	analyzer := monitoring.NewAnalyzer(monitoringStore)

	server := api.NewServer(pipeline, monitoringStore, analyzer, llmService, config.DocsDir)
	httpServer := &http.Server{
		Addr:    config.HTTPAddr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("HTTP server listening on %s", config.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown: %v", err)
	}
	if err := vectorStore.Close(); err != nil {
		logger.Warn("Vector store close: %v", err)
	}
	if err := monitoringStore.Close(); err != nil {
		logger.Warn("Monitoring store close: %v", err)
	}

	logger.Info("Server has been shut down")
}

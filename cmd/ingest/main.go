// Command ingest bulk-loads plain-text documents into the vector index.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/draa-ai/draa/internal/chunker"
	"github.com/draa-ai/draa/internal/core"
	"github.com/draa-ai/draa/internal/embed"
	"github.com/draa-ai/draa/internal/logger"
	"github.com/draa-ai/draa/internal/rag"
)

func main() {
	language := flag.String("language", core.LangEnglish, "Language code for the ingested documents (en, fr, sw, am)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger.Init(*debug)

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest [-language en|fr|sw|am] <file-or-dir>...")
		os.Exit(2)
	}
	if !core.SupportedLanguage(*language) {
		fmt.Fprintf(os.Stderr, "unsupported language %q\n", *language)
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded: %v", err)
	}

	ctx := context.Background()

	embedDim := embed.DefaultDimension
	if v := os.Getenv("EMBED_DIM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			embedDim = parsed
		}
	}

	var store core.VectorStore
	if os.Getenv("MOCK_MILVUS") == "1" {
		store = rag.NewMemoryStore()
	} else {
		host := envOrDefault("MILVUS_HOST", "localhost")
		port := envOrDefault("MILVUS_PORT", "19530")
		milvusStore, err := rag.NewMilvusStore(ctx, host+":"+port, embedDim)
		if err != nil {
			logger.Error("Failed to connect to Milvus: %v", err)
			os.Exit(1)
		}
		store = milvusStore
	}
	defer store.Close()

	embedService := embed.NewClient(embed.Config{
		BaseURL:    envOrDefault("EMBED_BASE_URL", "http://localhost:1234/v1"),
		Model:      envOrDefault("EMBED_MODEL", "paraphrase-multilingual-minilm-l12-v2"),
		Dimensions: embedDim,
	})

	pipeline := rag.NewPipeline(chunker.New(chunker.DefaultChunkSize), embedService, store, nil, nil)

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	var files []string
	for _, root := range flag.Args() {
		found, err := collectTextFiles(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", red("✗"), root, err)
			os.Exit(1)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no .txt files found")
		os.Exit(1)
	}

	totalChunks := 0
	failures := 0
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("%s %s: %v\n", red("✗"), path, err)
			failures++
			continue
		}

		name := filepath.Base(path)
		chunks, err := pipeline.Ingest(ctx, string(data), name, *language)
		if err != nil {
			fmt.Printf("%s %s: %v\n", red("✗"), path, err)
			failures++
			continue
		}

		fmt.Printf("%s %s: %d chunks\n", green("✓"), path, chunks)
		totalChunks += chunks
	}

	fmt.Printf("\n%s %d files, %d chunks stored, %d failed\n",
		bold("Done:"), len(files)-failures, totalChunks, failures)
	if failures > 0 {
		os.Exit(1)
	}
}

// collectTextFiles expands a path into the .txt files beneath it.
func collectTextFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".txt") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/draa-ai/draa/internal/core"
	"github.com/draa-ai/draa/internal/logger"
)

// Collection and field names for the chunk index.
const (
	ChunkCollection = "document_chunks"

	FieldID             = "id"
	FieldText           = "text"
	FieldLanguage       = "language"
	FieldSourceDocument = "source_document"
	FieldChunkIndex     = "chunk_index"
	FieldChunkSize      = "chunk_size"
	FieldVector         = "vector"
)

const (
	maxIDLength   = "255"
	maxTextLength = "65535"

	// Milvus caps query windows; ingestion-bounded corpora stay well below.
	enumerationLimit = 16384
)

// MilvusStore implements core.VectorStore on a Milvus collection. Each
// chunk is one row keyed by its chunk id; upserting an existing id replaces
// the row. Milvus persists mutations without an explicit flush step.
type MilvusStore struct {
	client       *milvusclient.Client
	embeddingDim int
}

// NewMilvusStore connects to Milvus and ensures the chunk collection
// exists, is indexed, and is loaded into memory for searching.
func NewMilvusStore(ctx context.Context, addr string, embeddingDim int) (*MilvusStore, error) {
	logger.Info("Connecting to Milvus at %s with dimension %d", addr, embeddingDim)

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Milvus: %w", err)
	}

	s := &MilvusStore{client: c, embeddingDim: embeddingDim}
	if err := s.ensureCollection(ctx); err != nil {
		c.Close(ctx)
		return nil, err
	}
	return s, nil
}

// ensureCollection creates the chunk collection, its HNSW index, and loads
// it if it does not already exist.
func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(ChunkCollection))
	if err != nil {
		return fmt.Errorf("failed to check if collection exists: %w", err)
	}

	if !exists {
		schema := &entity.Schema{
			CollectionName: ChunkCollection,
			Description:    "Embedded document chunks for retrieval",
			Fields: []*entity.Field{
				{
					Name:       FieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": maxIDLength},
				},
				{
					Name:       FieldText,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxTextLength},
				},
				{
					Name:       FieldLanguage,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "16"},
				},
				{
					Name:       FieldSourceDocument,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": maxIDLength},
				},
				{
					Name:     FieldChunkIndex,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     FieldChunkSize,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       FieldVector,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.embeddingDim)},
				},
			},
		}

		createOpt := milvusclient.NewCreateCollectionOption(ChunkCollection, schema)
		if err := s.client.CreateCollection(ctx, createOpt); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx := index.NewHNSWIndex(entity.L2, 16, 200)
		indexOpt := milvusclient.NewCreateIndexOption(ChunkCollection, FieldVector, idx)
		if _, err := s.client.CreateIndex(ctx, indexOpt); err != nil {
			return fmt.Errorf("failed to create index on vector field: %w", err)
		}

		logger.Info("Created collection: %s", ChunkCollection)
	}

	loadOpt := milvusclient.NewLoadCollectionOption(ChunkCollection)
	if _, err := s.client.LoadCollection(ctx, loadOpt); err != nil {
		return fmt.Errorf("failed to load collection %s: %w", ChunkCollection, err)
	}
	return nil
}

// Upsert writes entries to the collection, replacing rows with the same id.
func (s *MilvusStore) Upsert(ctx context.Context, entries []core.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ids := make([]string, len(entries))
	texts := make([]string, len(entries))
	languages := make([]string, len(entries))
	sources := make([]string, len(entries))
	ordinals := make([]int64, len(entries))
	sizes := make([]int64, len(entries))
	vectors := make([][]float32, len(entries))

	for i, e := range entries {
		ids[i] = e.Chunk.ID
		texts[i] = e.Chunk.Text
		languages[i] = e.Chunk.Language
		sources[i] = e.Chunk.SourceDocument
		ordinals[i] = int64(e.Chunk.Ordinal)
		sizes[i] = int64(e.Chunk.Size)
		vectors[i] = e.Vector
	}

	opt := milvusclient.NewColumnBasedInsertOption(ChunkCollection,
		column.NewColumnVarChar(FieldID, ids),
		column.NewColumnVarChar(FieldText, texts),
		column.NewColumnVarChar(FieldLanguage, languages),
		column.NewColumnVarChar(FieldSourceDocument, sources),
		column.NewColumnInt64(FieldChunkIndex, ordinals),
		column.NewColumnInt64(FieldChunkSize, sizes),
		column.NewColumnFloatVector(FieldVector, s.embeddingDim, vectors),
	)

	if _, err := s.client.Upsert(ctx, opt); err != nil {
		return fmt.Errorf("failed to upsert %d entries: %w", len(entries), err)
	}

	logger.Debug("Upserted %d entries into %s", len(entries), ChunkCollection)
	return nil
}

// Search performs an ANN query for the k nearest entries, ascending by
// distance. An unreachable index maps to core.ErrIndexUnavailable so the
// query path can degrade to an empty-context response.
func (s *MilvusStore) Search(ctx context.Context, vector []float32, k int, filter core.Filter) ([]core.SearchHit, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	opt := milvusclient.NewSearchOption(ChunkCollection, k, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(FieldVector).
		WithOutputFields(FieldID, FieldText, FieldLanguage, FieldSourceDocument, FieldChunkIndex, FieldChunkSize)
	if expr := filterExpr(filter); expr != "" {
		opt = opt.WithFilter(expr)
	}

	results, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %v", core.ErrIndexUnavailable, err)
	}
	if len(results) == 0 || results[0].ResultCount == 0 {
		return []core.SearchHit{}, nil
	}

	rs := results[0]
	hits := make([]core.SearchHit, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		chunk, err := chunkAt(rs.GetColumn, rs.IDs, i)
		if err != nil {
			logger.Warn("Skipping malformed search result %d: %v", i, err)
			continue
		}

		distance := float64(0)
		if i < len(rs.Scores) {
			// With an L2 metric Milvus reports scores as distances.
			distance = float64(rs.Scores[i])
		}

		hits = append(hits, core.SearchHit{
			Entry:    core.IndexEntry{Chunk: chunk},
			Distance: distance,
		})
	}
	return hits, nil
}

// DeleteByFilter removes all entries matching the filter.
func (s *MilvusStore) DeleteByFilter(ctx context.Context, filter core.Filter) (int64, error) {
	expr := filterExpr(filter)
	if expr == "" {
		// Refuse unscoped deletes; dropping the collection is a separate,
		// deliberate operation.
		return 0, fmt.Errorf("delete requires a non-empty filter")
	}

	result, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(ChunkCollection).WithExpr(expr))
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries matching %q: %w", expr, err)
	}

	logger.Debug("Deleted %d entries matching %s", result.DeleteCount, expr)
	return result.DeleteCount, nil
}

// GetAll enumerates every entry without vectors. Used only by the stats
// path; index sizes are bounded by ingested documents, not query traffic.
func (s *MilvusStore) GetAll(ctx context.Context) ([]core.IndexEntry, error) {
	opt := milvusclient.NewQueryOption(ChunkCollection).
		WithFilter(fmt.Sprintf("%s >= 0", FieldChunkIndex)).
		WithOutputFields(FieldID, FieldText, FieldLanguage, FieldSourceDocument, FieldChunkIndex, FieldChunkSize).
		WithLimit(enumerationLimit)

	rs, err := s.client.Query(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate collection: %w", err)
	}

	entries := make([]core.IndexEntry, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		chunk, err := chunkAt(rs.GetColumn, rs.GetColumn(FieldID), i)
		if err != nil {
			logger.Warn("Skipping malformed row %d: %v", i, err)
			continue
		}
		entries = append(entries, core.IndexEntry{Chunk: chunk})
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *MilvusStore) Count(ctx context.Context) (int64, error) {
	opt := milvusclient.NewQueryOption(ChunkCollection).
		WithFilter(fmt.Sprintf("%s >= 0", FieldChunkIndex)).
		WithOutputFields("count(*)")

	rs, err := s.client.Query(ctx, opt)
	if err != nil {
		return 0, fmt.Errorf("failed to count collection: %w", err)
	}

	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	count, err := col.GetAsInt64(0)
	if err != nil {
		return 0, fmt.Errorf("failed to read count column: %w", err)
	}
	return count, nil
}

// Close closes the connection to Milvus.
func (s *MilvusStore) Close() error {
	return s.client.Close(context.Background())
}

// chunkAt decodes one result row into a core.Chunk. getColumn resolves
// output fields; idColumn carries the primary key (search results report
// ids separately from output fields).
func chunkAt(getColumn func(string) column.Column, idColumn column.Column, i int) (core.Chunk, error) {
	if idColumn == nil {
		return core.Chunk{}, fmt.Errorf("missing id column")
	}
	id, err := idColumn.GetAsString(i)
	if err != nil {
		return core.Chunk{}, fmt.Errorf("bad id at %d: %w", i, err)
	}

	chunk := core.Chunk{ID: id}
	if col := getColumn(FieldText); col != nil {
		chunk.Text, _ = col.GetAsString(i)
	}
	if col := getColumn(FieldLanguage); col != nil {
		chunk.Language, _ = col.GetAsString(i)
	}
	if col := getColumn(FieldSourceDocument); col != nil {
		chunk.SourceDocument, _ = col.GetAsString(i)
	}
	if col := getColumn(FieldChunkIndex); col != nil {
		if v, err := col.GetAsInt64(i); err == nil {
			chunk.Ordinal = int(v)
		}
	}
	if col := getColumn(FieldChunkSize); col != nil {
		if v, err := col.GetAsInt64(i); err == nil {
			chunk.Size = int(v)
		}
	}
	return chunk, nil
}

// filterExpr compiles the typed filter into a Milvus boolean expression.
func filterExpr(f core.Filter) string {
	var terms []string
	if f.SourceDocument != "" {
		terms = append(terms, fmt.Sprintf("%s == %q", FieldSourceDocument, f.SourceDocument))
	}
	if f.Language != "" {
		terms = append(terms, fmt.Sprintf("%s == %q", FieldLanguage, f.Language))
	}
	return strings.Join(terms, " && ")
}

var _ core.VectorStore = (*MilvusStore)(nil)

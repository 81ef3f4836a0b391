// Package milvus implements the semantic-index collaborator: extracted text
// is chunked, embedded, and inserted into a Milvus collection keyed by
// document id.
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// Embedder turns a text chunk into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Indexer writes document chunks to a Milvus collection.
type Indexer struct {
	client     client.Client
	collection string
	dim        int
	chunkSize  int
	overlap    int
	timeout    time.Duration
	embedder   Embedder
	logger     logging.Logger
}

// NewIndexer connects to Milvus and ensures the collection, index, and load
// state.  embedder may be nil, in which case the default hashing embedder is
// used.
func NewIndexer(ctx context.Context, cfg config.MilvusConfig, embedder Embedder, log logging.Logger) (*Indexer, error) {
	mc, err := client.NewClient(ctx, client.Config{
		Address: cfg.Addr,
		DBName:  cfg.DBName,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to milvus")
	}

	if embedder == nil {
		embedder = NewHashingEmbedder(cfg.EmbeddingDim)
	}
	ix := &Indexer{
		client:     mc,
		collection: cfg.Collection,
		dim:        cfg.EmbeddingDim,
		chunkSize:  cfg.ChunkSize,
		overlap:    cfg.ChunkOverlap,
		timeout:    cfg.InsertTimeout,
		embedder:   embedder,
		logger:     log,
	}
	if ix.timeout <= 0 {
		ix.timeout = 30 * time.Second
	}
	if err := ix.ensureCollection(ctx); err != nil {
		mc.Close()
		return nil, err
	}
	return ix, nil
}

// NewIndexerWithClient wires an existing Milvus client.  Used by tests.
func NewIndexerWithClient(mc client.Client, cfg config.MilvusConfig, embedder Embedder, log logging.Logger) *Indexer {
	if embedder == nil {
		embedder = NewHashingEmbedder(cfg.EmbeddingDim)
	}
	timeout := cfg.InsertTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Indexer{
		client:     mc,
		collection: cfg.Collection,
		dim:        cfg.EmbeddingDim,
		chunkSize:  cfg.ChunkSize,
		overlap:    cfg.ChunkOverlap,
		timeout:    timeout,
		embedder:   embedder,
		logger:     log,
	}
}

func (ix *Indexer) ensureCollection(ctx context.Context) error {
	has, err := ix.client.HasCollection(ctx, ix.collection)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to check collection")
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: ix.collection,
			Description:    "medical document chunks",
			Fields: []*entity.Field{
				{
					Name:       "chunk_id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{entity.TypeParamMaxLength: "96"},
				},
				{
					Name:       "document_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{entity.TypeParamMaxLength: "64"},
				},
				{
					Name:       "patient_id",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{entity.TypeParamMaxLength: "64"},
				},
				{
					Name:     "chunk_index",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       "text",
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{entity.TypeParamMaxLength: "8192"},
				},
				{
					Name:       "vector",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{entity.TypeParamDim: strconv.Itoa(ix.dim)},
				},
			},
		}
		if err := ix.client.CreateCollection(ctx, schema, 2); err != nil {
			return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to create collection")
		}
		idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to build index definition")
		}
		if err := ix.client.CreateIndex(ctx, ix.collection, "vector", idx, false); err != nil {
			return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to create vector index")
		}
		ix.logger.Info("created milvus collection", logging.String("collection", ix.collection))
	}
	if err := ix.client.LoadCollection(ctx, ix.collection, false); err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to load collection")
	}
	return nil
}

// IndexContent chunks and indexes the extracted text for one document and
// returns the number of chunks written.  Failures surface as PROC_002 so the
// processor can record partial success under BOTH mode.
func (ix *Indexer) IndexContent(ctx context.Context, docID common.DocumentID, text string, meta common.Metadata) (int, error) {
	chunks := ChunkText(text, ix.chunkSize, ix.overlap)
	if len(chunks) == 0 {
		return 0, nil
	}

	patientID := ""
	if v, ok := meta["patient_id"].(string); ok {
		patientID = v
	}

	n := len(chunks)
	chunkIDs := make([]string, n)
	docIDs := make([]string, n)
	patientIDs := make([]string, n)
	indices := make([]int64, n)
	vectors := make([][]float32, n)
	for i, chunk := range chunks {
		vec, err := ix.embedder.Embed(ctx, chunk)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeProcIndexing, "failed to embed chunk")
		}
		chunkIDs[i] = fmt.Sprintf("%s-%d", docID, i)
		docIDs[i] = string(docID)
		patientIDs[i] = patientID
		indices[i] = int64(i)
		vectors[i] = vec
	}

	insertCtx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()
	_, err := ix.client.Insert(insertCtx, ix.collection, "",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnVarChar("patient_id", patientIDs),
		entity.NewColumnInt64("chunk_index", indices),
		entity.NewColumnVarChar("text", chunks),
		entity.NewColumnFloatVector("vector", ix.dim, vectors),
	)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeProcIndexing, "failed to insert chunks")
	}
	return n, nil
}

// DeleteByDocument removes every chunk of the document.  Backs session
// cleanup and reindexing.
func (ix *Indexer) DeleteByDocument(ctx context.Context, docID common.DocumentID) error {
	expr := fmt.Sprintf(`document_id == "%s"`, docID)
	if err := ix.client.Delete(ctx, ix.collection, "", expr); err != nil {
		return errors.Wrap(err, errors.ErrCodeProcIndexing, "failed to delete document chunks")
	}
	return nil
}

// Close releases the Milvus connection.
func (ix *Indexer) Close() error {
	return ix.client.Close()
}

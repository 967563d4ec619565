// Package pipeline orchestrates the ingestion run: per-credential workers
// turn assigned queries into fetched, assembled, chunked and indexed records,
// with progress persisted to the ledger throughout.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/helixir/rag-ingestion-service/internal/domain"
	"github.com/helixir/rag-ingestion-service/internal/embedding"
	"github.com/helixir/rag-ingestion-service/internal/observability"
	"github.com/helixir/rag-ingestion-service/internal/qdrant"
	"github.com/helixir/rag-ingestion-service/internal/retry"
)

// DefaultIndexBatchSize is the number of chunks embedded and upserted per call.
const DefaultIndexBatchSize = 100

// Indexer embeds chunk batches and writes them to the vector store. An error
// from any batch fails the whole record; the caller decides whether that
// failure is fatal to the run.
type Indexer struct {
	embedder  embedding.Embedder
	store     qdrant.VectorStore
	retry     retry.Policy
	batchSize int
	metrics   *observability.Metrics
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithIndexBatchSize sets the number of chunks per embed/upsert call.
func WithIndexBatchSize(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithIndexRetry sets the retry policy applied to each embed and upsert call.
func WithIndexRetry(p retry.Policy) IndexerOption {
	return func(ix *Indexer) {
		ix.retry = p
	}
}

// NewIndexer creates an Indexer writing through the given embedder and store.
func NewIndexer(embedder embedding.Embedder, store qdrant.VectorStore, metrics *observability.Metrics, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		embedder:  embedder,
		store:     store,
		retry:     retry.DefaultPolicy(),
		batchSize: DefaultIndexBatchSize,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// IndexRecord embeds and upserts all chunks of one record, returning the
// number of chunks written. Chunk point IDs derive from record ID and chunk
// index, so repeating the call after a partial failure overwrites rather
// than duplicates.
func (ix *Indexer) IndexRecord(ctx context.Context, chunks []domain.Chunk) (int, error) {
	written := 0

	for start := 0; start < len(chunks); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		var vectors [][]float32
		err := ix.retry.Do(ctx, func(ctx context.Context) error {
			began := time.Now()
			var embedErr error
			vectors, embedErr = ix.embedder.Embed(ctx, texts)
			if embedErr == nil && ix.metrics != nil {
				ix.metrics.RecordEmbedding(time.Since(began).Seconds())
			}
			return embedErr
		})
		if err != nil {
			return written, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return written, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		points := make([]qdrant.ChunkPoint, len(batch))
		for i, chunk := range batch {
			points[i] = qdrant.ChunkPoint{Chunk: chunk, Vector: vectors[i]}
		}

		err = ix.retry.Do(ctx, func(ctx context.Context) error {
			return ix.store.UpsertBatch(ctx, points)
		})
		if err != nil {
			return written, fmt.Errorf("upsert chunks %d-%d: %w", start, end-1, err)
		}

		written += len(batch)
	}

	return written, nil
}

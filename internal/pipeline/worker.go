package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/rag-ingestion-service/internal/credential"
	"github.com/helixir/rag-ingestion-service/internal/document"
	"github.com/helixir/rag-ingestion-service/internal/domain"
	"github.com/helixir/rag-ingestion-service/internal/ledger"
	"github.com/helixir/rag-ingestion-service/internal/observability"
	"github.com/helixir/rag-ingestion-service/internal/pdf"
	"github.com/helixir/rag-ingestion-service/internal/pubmed"
)

// MetadataSource resolves queries into record IDs and fetches their metadata.
// Implemented by pubmed.Client.
type MetadataSource interface {
	Search(ctx context.Context, query string, cred *credential.Credential) ([]string, error)
	FetchMetadata(ctx context.Context, pmids []string, cred *credential.Credential) (*pubmed.FetchResult, error)
}

// Deps bundles the collaborators shared by all workers in a run.
type Deps struct {
	Source   MetadataSource
	FullText pdf.TextSource
	Chunker  *document.Chunker
	Indexer  *Indexer
	Ledger   *ledger.Ledger
	Metrics  *observability.Metrics
	Logger   zerolog.Logger
}

// WorkerStats accumulates per-worker outcomes for the run summary.
type WorkerStats struct {
	QueriesCompleted  int
	QueriesFailed     int
	QueriesSkipped    int
	RecordsDownloaded int
	RecordsIndexed    int
	RecordsFailed     int
	RecordsSkipped    int
	ChunksIndexed     int
}

func (s *WorkerStats) add(other WorkerStats) {
	s.QueriesCompleted += other.QueriesCompleted
	s.QueriesFailed += other.QueriesFailed
	s.QueriesSkipped += other.QueriesSkipped
	s.RecordsDownloaded += other.RecordsDownloaded
	s.RecordsIndexed += other.RecordsIndexed
	s.RecordsFailed += other.RecordsFailed
	s.RecordsSkipped += other.RecordsSkipped
	s.ChunksIndexed += other.ChunksIndexed
}

// Worker processes the queries assigned to one credential, sequentially. All
// of the worker's requests go through the credential's rate limiter, so the
// per-key throughput ceiling holds regardless of how many records a query
// yields.
type Worker struct {
	cred    *credential.Credential
	queries []string
	deps    Deps
	logger  zerolog.Logger
}

// NewWorker creates a worker for one credential and its assigned queries.
func NewWorker(cred *credential.Credential, queries []string, deps Deps) *Worker {
	return &Worker{
		cred:    cred,
		queries: queries,
		deps:    deps,
		logger:  observability.WithWorkerContext(deps.Logger, cred.ID),
	}
}

// Run processes every assigned query in order. Query-level failures are
// recorded and skipped; only context cancellation aborts the loop early.
func (w *Worker) Run(ctx context.Context) (WorkerStats, error) {
	var stats WorkerStats

	w.logger.Info().Int("queries", len(w.queries)).Msg("worker started")

	for _, query := range w.queries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		logger := observability.WithQueryContext(w.logger, query)

		if w.deps.Ledger.IsQueryComplete(query) {
			logger.Info().Msg("query already completed, skipping")
			stats.QueriesSkipped++
			w.deps.Metrics.RecordQuerySkipped()
			continue
		}

		began := time.Now()
		err := w.processQuery(ctx, query, logger, &stats)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			logger.Error().Err(err).Msg("query failed")
			stats.QueriesFailed++
			w.deps.Metrics.RecordQueryFailed(w.cred.ID)
			continue
		}

		if err := w.deps.Ledger.RecordQueryComplete(query); err != nil {
			return stats, err
		}
		stats.QueriesCompleted++
		w.deps.Metrics.RecordQueryCompleted(w.cred.ID, time.Since(began).Seconds())
		logger.Info().Dur("took", time.Since(began)).Msg("query completed")
	}

	w.logger.Info().
		Int("completed", stats.QueriesCompleted).
		Int("failed", stats.QueriesFailed).
		Int("skipped", stats.QueriesSkipped).
		Msg("worker finished")

	return stats, nil
}

// processQuery runs the full pipeline for one query: search, filter already
// downloaded records, fetch metadata, then assemble, chunk and index each
// record.
func (w *Worker) processQuery(ctx context.Context, query string, logger zerolog.Logger, stats *WorkerStats) error {
	pmids, err := w.deps.Source.Search(ctx, query, w.cred)
	if err != nil {
		return err
	}
	logger.Info().Int("results", len(pmids)).Msg("search completed")

	// Records already downloaded by this or a prior run are never fetched
	// again, so the ledger bounds API work per record to one fetch.
	pending := make([]string, 0, len(pmids))
	skipped := 0
	for _, id := range pmids {
		if w.deps.Ledger.IsDownloaded(id) {
			skipped++
			continue
		}
		pending = append(pending, id)
	}
	if skipped > 0 {
		stats.RecordsSkipped += skipped
		w.deps.Metrics.RecordSkipped(skipped)
	}
	if len(pending) == 0 {
		return nil
	}

	result, err := w.deps.Source.FetchMetadata(ctx, pending, w.cred)
	if err != nil {
		return err
	}

	for _, id := range result.FailedIDs {
		if err := w.deps.Ledger.RecordFailed(id); err != nil {
			return err
		}
		stats.RecordsFailed++
		w.deps.Metrics.RecordFailed()
	}

	stats.RecordsDownloaded += len(result.Records)
	w.deps.Metrics.RecordDownloaded(len(result.Records))

	for _, meta := range result.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.processRecord(ctx, meta, query, stats); err != nil {
			return err
		}
	}

	return nil
}

// processRecord indexes one record. Indexing failures mark the record failed
// and return nil so the rest of the query proceeds; only context cancellation
// and ledger write failures propagate.
func (w *Worker) processRecord(ctx context.Context, meta *domain.RecordMetadata, query string, stats *WorkerStats) error {
	logger := observability.WithRecordContext(w.logger, meta.RecordID)

	if err := w.deps.Ledger.RecordDownloaded(meta.RecordID); err != nil {
		return err
	}

	// Full text is best-effort: any failure falls back to abstract-only.
	fullText := ""
	if text, err := w.deps.FullText.FullText(ctx, meta); err == nil {
		fullText = text
	} else {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, domain.ErrFullTextUnavailable) {
			logger.Warn().Err(err).Msg("full text retrieval failed, indexing abstract only")
		}
	}

	doc := document.Assemble(meta, fullText, query)
	chunks := w.deps.Chunker.Chunk(doc)

	written, err := w.deps.Indexer.IndexRecord(ctx, chunks)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error().Err(err).Int("chunks_written", written).Msg("indexing failed")
		if lerr := w.deps.Ledger.RecordFailed(meta.RecordID); lerr != nil {
			return lerr
		}
		stats.RecordsFailed++
		w.deps.Metrics.RecordFailed()
		return nil
	}

	if err := w.deps.Ledger.RecordIndexed(meta.RecordID); err != nil {
		return err
	}
	stats.RecordsIndexed++
	stats.ChunksIndexed += written
	w.deps.Metrics.RecordIndexed(written, fullText != "")
	logger.Debug().Int("chunks", written).Bool("full_text", fullText != "").Msg("record indexed")

	return nil
}

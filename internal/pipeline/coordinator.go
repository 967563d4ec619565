package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/helixir/rag-ingestion-service/internal/credential"
)

// Summary aggregates the outcome of one ingestion run across all workers.
type Summary struct {
	QueriesCompleted  int           `json:"queries_completed"`
	QueriesFailed     int           `json:"queries_failed"`
	QueriesSkipped    int           `json:"queries_skipped"`
	RecordsDownloaded int           `json:"records_downloaded"`
	RecordsIndexed    int           `json:"records_indexed"`
	RecordsFailed     int           `json:"records_failed"`
	RecordsSkipped    int           `json:"records_skipped"`
	ChunksIndexed     int           `json:"chunks_indexed"`
	Duration          time.Duration `json:"duration"`
}

// Coordinator assigns queries to credentials and runs one worker per
// credential concurrently. Worker concurrency equals pool size; each worker
// processes its queries sequentially under its credential's rate limiter.
type Coordinator struct {
	pool *credential.Pool
	deps Deps
}

// NewCoordinator creates a coordinator over the credential pool.
func NewCoordinator(pool *credential.Pool, deps Deps) *Coordinator {
	return &Coordinator{pool: pool, deps: deps}
}

// Run distributes queries round-robin across the pool, runs all workers to
// completion and returns the aggregated summary. The first worker error,
// which can only be context cancellation or a ledger write failure, is
// returned alongside the partial summary.
func (c *Coordinator) Run(ctx context.Context, queries []string) (*Summary, error) {
	began := time.Now()
	assignment := c.pool.Assign(queries)

	c.deps.Logger.Info().
		Int("queries", len(queries)).
		Int("credentials", c.pool.Size()).
		Msg("ingestion run started")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		total    WorkerStats
		firstErr error
	)

	for _, cred := range c.pool.Credentials() {
		assigned := assignment[cred]
		if len(assigned) == 0 {
			continue
		}

		wg.Add(1)
		go func(cred *credential.Credential, assigned []string) {
			defer wg.Done()

			worker := NewWorker(cred, assigned, c.deps)
			stats, err := worker.Run(ctx)

			mu.Lock()
			defer mu.Unlock()
			total.add(stats)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}(cred, assigned)
	}

	wg.Wait()

	if err := c.deps.Ledger.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}

	summary := &Summary{
		QueriesCompleted:  total.QueriesCompleted,
		QueriesFailed:     total.QueriesFailed,
		QueriesSkipped:    total.QueriesSkipped,
		RecordsDownloaded: total.RecordsDownloaded,
		RecordsIndexed:    total.RecordsIndexed,
		RecordsFailed:     total.RecordsFailed,
		RecordsSkipped:    total.RecordsSkipped,
		ChunksIndexed:     total.ChunksIndexed,
		Duration:          time.Since(began),
	}

	c.deps.Logger.Info().
		Int("queries_completed", summary.QueriesCompleted).
		Int("queries_failed", summary.QueriesFailed).
		Int("records_indexed", summary.RecordsIndexed).
		Int("records_failed", summary.RecordsFailed).
		Int("chunks_indexed", summary.ChunksIndexed).
		Dur("took", summary.Duration).
		Msg("ingestion run finished")

	return summary, firstErr
}

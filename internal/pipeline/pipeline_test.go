package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/rag-ingestion-service/internal/credential"
	"github.com/helixir/rag-ingestion-service/internal/document"
	"github.com/helixir/rag-ingestion-service/internal/domain"
	"github.com/helixir/rag-ingestion-service/internal/ledger"
	"github.com/helixir/rag-ingestion-service/internal/observability"
	"github.com/helixir/rag-ingestion-service/internal/pubmed"
	"github.com/helixir/rag-ingestion-service/internal/qdrant"
	"github.com/helixir/rag-ingestion-service/internal/retry"
)

// fakeSource serves canned search results and metadata, tracking which
// credential handled which query.

type fakeSource struct {
	mu        sync.Mutex
	results   map[string][]string
	records   map[string]*domain.RecordMetadata
	searchBy  map[string]string
	searches  int
	fetched   []string
	searchErr map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		results:   make(map[string][]string),
		records:   make(map[string]*domain.RecordMetadata),
		searchBy:  make(map[string]string),
		searchErr: make(map[string]error),
	}
}

func (f *fakeSource) addQuery(query string, pmids ...string) {
	f.results[query] = pmids
	for _, id := range pmids {
		f.records[id] = &domain.RecordMetadata{
			RecordID: id,
			Title:    "Record " + id,
			Authors:  "A Author",
			Journal:  "J Test",
			Abstract: "Short abstract for record " + id + ".",
		}
	}
}

func (f *fakeSource) Search(ctx context.Context, query string, cred *credential.Credential) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	f.searchBy[query] = cred.ID
	if err := f.searchErr[query]; err != nil {
		return nil, err
	}
	return f.results[query], nil
}

func (f *fakeSource) FetchMetadata(ctx context.Context, pmids []string, cred *credential.Credential) (*pubmed.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := &pubmed.FetchResult{}
	for _, id := range pmids {
		f.fetched = append(f.fetched, id)
		if meta, ok := f.records[id]; ok {
			result.Records = append(result.Records, meta)
		} else {
			result.FailedIDs = append(result.FailedIDs, id)
		}
	}
	return result, nil
}

func (f *fakeSource) fetchedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func (f *fakeSource) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

// fakeTextSource returns fixed text, or an error for every record.

type fakeTextSource struct {
	text string
	err  error
}

func (f *fakeTextSource) FullText(ctx context.Context, meta *domain.RecordMetadata) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// fakeEmbedder returns fixed-size vectors.

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

func (fakeEmbedder) Dimensions() int { return 3 }

// fakeStore records upserted points. When failAtWrite is set, the Nth
// distinct chunk ever attempted becomes permanently unwritable; every other
// chunk succeeds.

type fakeStore struct {
	mu          sync.Mutex
	points      []qdrant.ChunkPoint
	seen        map[string]int
	poisoned    string
	failAtWrite int
}

func (f *fakeStore) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeStore) UpsertBatch(ctx context.Context, points []qdrant.ChunkPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]int)
	}
	for _, p := range points {
		key := fmt.Sprintf("%s:%d", p.Chunk.Metadata.RecordID, p.Chunk.Index)
		if _, ok := f.seen[key]; !ok {
			f.seen[key] = len(f.seen) + 1
			if f.failAtWrite > 0 && f.seen[key] == f.failAtWrite {
				f.poisoned = key
			}
		}
		if key == f.poisoned {
			return errors.New("write rejected")
		}
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) indexedRecordIDs() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[string]bool)
	for _, p := range f.points {
		ids[p.Chunk.Metadata.RecordID] = true
	}
	return ids
}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Retryable:   retry.DefaultRetryable,
	}
}

func testDeps(t *testing.T, source MetadataSource, text *fakeTextSource, store qdrant.VectorStore) Deps {
	t.Helper()

	led, err := ledger.Open(filepath.Join(t.TempDir(), "progress.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })

	metrics := observability.NewMetricsWith("test", prometheus.NewRegistry())

	return Deps{
		Source:   source,
		FullText: text,
		Chunker:  document.NewChunker(),
		Indexer:  NewIndexer(fakeEmbedder{}, store, metrics, WithIndexRetry(fastRetry())),
		Ledger:   led,
		Metrics:  metrics,
		Logger:   zerolog.Nop(),
	}
}

func testPool(t *testing.T, size int) *credential.Pool {
	t.Helper()
	keys := make([]string, size)
	emails := make([]string, size)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i+1)
		emails[i] = fmt.Sprintf("dev%d@example.org", i+1)
	}
	pool, err := credential.NewPool(keys, emails, 1000)
	require.NoError(t, err)
	return pool
}

func sixQueries() []string {
	return []string{
		"glaucoma treatment",
		"diabetic retinopathy",
		"macular degeneration",
		"uveitis therapy",
		"retinal detachment",
		"corneal transplant",
	}
}

func TestCoordinator_FullRun(t *testing.T) {
	source := newFakeSource()
	queries := sixQueries()
	for qi, q := range queries {
		ids := make([]string, 3)
		for i := range ids {
			ids[i] = fmt.Sprintf("%d%d01", qi+1, i+1)
		}
		source.addQuery(q, ids...)
	}

	store := &fakeStore{}
	text := &fakeTextSource{err: domain.ErrFullTextUnavailable}
	deps := testDeps(t, source, text, store)

	coordinator := NewCoordinator(testPool(t, 2), deps)
	summary, err := coordinator.Run(context.Background(), queries)

	require.NoError(t, err)
	assert.Equal(t, 6, summary.QueriesCompleted)
	assert.Zero(t, summary.QueriesFailed)
	assert.Equal(t, 18, summary.RecordsDownloaded)
	assert.Equal(t, 18, summary.RecordsIndexed)
	assert.Zero(t, summary.RecordsFailed)
	assert.Equal(t, 18, len(store.indexedRecordIDs()))

	counts := deps.Ledger.Counts()
	assert.Equal(t, ledger.Counts{CompletedQueries: 6, Downloaded: 18, Indexed: 18, Failed: 0}, counts)

	// Round-robin assignment: each of the two credentials handled 3 queries.
	perCred := make(map[string]int)
	for _, credID := range source.searchBy {
		perCred[credID]++
	}
	assert.Equal(t, map[string]int{"cred-1": 3, "cred-2": 3}, perCred)
}

func TestCoordinator_RecordFailureIsIsolated(t *testing.T) {
	source := newFakeSource()
	queries := sixQueries()
	for qi, q := range queries {
		ids := make([]string, 3)
		for i := range ids {
			ids[i] = fmt.Sprintf("%d%d02", qi+1, i+1)
		}
		source.addQuery(q, ids...)
	}

	// Each record yields exactly one chunk, so the 10th chunk write belongs
	// to a single record. That write fails permanently.
	store := &fakeStore{failAtWrite: 10}
	text := &fakeTextSource{err: domain.ErrFullTextUnavailable}
	deps := testDeps(t, source, text, store)

	coordinator := NewCoordinator(testPool(t, 2), deps)
	summary, err := coordinator.Run(context.Background(), queries)

	require.NoError(t, err, "a record failure must not abort the run")
	assert.Equal(t, 6, summary.QueriesCompleted)
	assert.Equal(t, 17, summary.RecordsIndexed)
	assert.Equal(t, 1, summary.RecordsFailed)

	counts := deps.Ledger.Counts()
	assert.Equal(t, 17, counts.Indexed)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 6, counts.CompletedQueries)
}

func TestCoordinator_FullTextFailureFallsBackToAbstract(t *testing.T) {
	source := newFakeSource()
	source.addQuery("glaucoma treatment", "1001", "1002")

	store := &fakeStore{}
	text := &fakeTextSource{err: fmt.Errorf("%w: download failed", domain.ErrFullTextUnavailable)}
	deps := testDeps(t, source, text, store)

	coordinator := NewCoordinator(testPool(t, 1), deps)
	summary, err := coordinator.Run(context.Background(), []string{"glaucoma treatment"})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.RecordsIndexed)
	assert.Zero(t, summary.RecordsFailed)

	for _, p := range store.points {
		assert.False(t, p.Chunk.Metadata.HasFullText)
		assert.NotContains(t, p.Chunk.Text, "FULL TEXT")
	}
}

func TestCoordinator_FullTextIncludedWhenAvailable(t *testing.T) {
	source := newFakeSource()
	source.addQuery("uveitis therapy", "2001")

	store := &fakeStore{}
	text := &fakeTextSource{text: "Extracted body of the article."}
	deps := testDeps(t, source, text, store)

	coordinator := NewCoordinator(testPool(t, 1), deps)
	summary, err := coordinator.Run(context.Background(), []string{"uveitis therapy"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.RecordsIndexed)
	require.NotEmpty(t, store.points)
	assert.True(t, store.points[0].Chunk.Metadata.HasFullText)
}

func TestCoordinator_SearchFailureFailsQueryOnly(t *testing.T) {
	source := newFakeSource()
	source.addQuery("glaucoma treatment", "3001")
	source.addQuery("bad query")
	source.searchErr["bad query"] = errors.New("esearch failed after retries")

	store := &fakeStore{}
	deps := testDeps(t, source, &fakeTextSource{err: domain.ErrFullTextUnavailable}, store)

	coordinator := NewCoordinator(testPool(t, 1), deps)
	summary, err := coordinator.Run(context.Background(), []string{"bad query", "glaucoma treatment"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.QueriesFailed)
	assert.Equal(t, 1, summary.QueriesCompleted)
	assert.Equal(t, 1, summary.RecordsIndexed)
	assert.False(t, deps.Ledger.IsQueryComplete("bad query"))
}

func TestCoordinator_ResumeSkipsCompletedQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	queries := []string{"glaucoma treatment", "uveitis therapy"}

	first, err := ledger.Open(path)
	require.NoError(t, err)

	source := newFakeSource()
	source.addQuery(queries[0], "4001")
	source.addQuery(queries[1], "4002")

	deps := Deps{
		Source:   source,
		FullText: &fakeTextSource{err: domain.ErrFullTextUnavailable},
		Chunker:  document.NewChunker(),
		Indexer:  NewIndexer(fakeEmbedder{}, &fakeStore{}, observability.NewMetricsWith("t1", prometheus.NewRegistry()), WithIndexRetry(fastRetry())),
		Ledger:   first,
		Metrics:  observability.NewMetricsWith("t2", prometheus.NewRegistry()),
		Logger:   zerolog.Nop(),
	}

	_, err = NewCoordinator(testPool(t, 1), deps).Run(context.Background(), queries)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Second run over the same ledger must not search or fetch anything.
	reopened, err := ledger.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	fresh := newFakeSource()
	fresh.addQuery(queries[0], "4001")
	fresh.addQuery(queries[1], "4002")
	deps.Source = fresh
	deps.Ledger = reopened
	deps.Metrics = observability.NewMetricsWith("t3", prometheus.NewRegistry())

	summary, err := NewCoordinator(testPool(t, 1), deps).Run(context.Background(), queries)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.QueriesSkipped)
	assert.Zero(t, summary.QueriesCompleted)
	assert.Zero(t, fresh.searchCount())
	assert.Empty(t, fresh.fetchedIDs())
}

func TestWorker_SkipsAlreadyIndexedRecords(t *testing.T) {
	source := newFakeSource()
	source.addQuery("glaucoma treatment", "5001", "5002", "5003")

	store := &fakeStore{}
	deps := testDeps(t, source, &fakeTextSource{err: domain.ErrFullTextUnavailable}, store)

	// 5001 was indexed by an earlier run of a different query.
	require.NoError(t, deps.Ledger.RecordDownloaded("5001"))
	require.NoError(t, deps.Ledger.RecordIndexed("5001"))

	pool := testPool(t, 1)
	worker := NewWorker(pool.Credentials()[0], []string{"glaucoma treatment"}, deps)
	stats, err := worker.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsSkipped)
	assert.Equal(t, 2, stats.RecordsIndexed)
	assert.NotContains(t, source.fetchedIDs(), "5001")
}

func TestWorker_NeverRefetchesDownloadedRecords(t *testing.T) {
	source := newFakeSource()
	source.addQuery("glaucoma treatment", "9001", "9002")

	deps := testDeps(t, source, &fakeTextSource{err: domain.ErrFullTextUnavailable}, &fakeStore{})

	// 9001 was downloaded by an interrupted earlier run and never indexed.
	// Its metadata must still not be fetched a second time.
	require.NoError(t, deps.Ledger.RecordDownloaded("9001"))

	pool := testPool(t, 1)
	worker := NewWorker(pool.Credentials()[0], []string{"glaucoma treatment"}, deps)
	stats, err := worker.Run(context.Background())

	require.NoError(t, err)
	assert.NotContains(t, source.fetchedIDs(), "9001")
	assert.Equal(t, 1, stats.RecordsSkipped)
	assert.Equal(t, 1, stats.RecordsIndexed)
}

func TestWorker_UnparseableRecordsAreFailed(t *testing.T) {
	source := newFakeSource()
	source.addQuery("glaucoma treatment", "6001")
	// 6002 appears in search results but has no metadata.
	source.results["glaucoma treatment"] = append(source.results["glaucoma treatment"], "6002")

	deps := testDeps(t, source, &fakeTextSource{err: domain.ErrFullTextUnavailable}, &fakeStore{})

	pool := testPool(t, 1)
	worker := NewWorker(pool.Credentials()[0], []string{"glaucoma treatment"}, deps)
	stats, err := worker.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsIndexed)
	assert.Equal(t, 1, stats.RecordsFailed)
	assert.Equal(t, 1, deps.Ledger.Counts().Failed)
}

func TestWorker_CancellationStopsPromptly(t *testing.T) {
	source := newFakeSource()
	source.addQuery("glaucoma treatment", "7001")
	source.addQuery("uveitis therapy", "7002")

	deps := testDeps(t, source, &fakeTextSource{err: domain.ErrFullTextUnavailable}, &fakeStore{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := testPool(t, 1)
	worker := NewWorker(pool.Credentials()[0], []string{"glaucoma treatment", "uveitis therapy"}, deps)
	_, err := worker.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, source.searchCount())
}

func TestIndexer_IndexRecord(t *testing.T) {
	metrics := observability.NewMetricsWith("ix", prometheus.NewRegistry())

	makeChunks := func(n int) []domain.Chunk {
		chunks := make([]domain.Chunk, n)
		for i := range chunks {
			chunks[i] = domain.Chunk{
				Text:     fmt.Sprintf("chunk %d", i),
				Index:    i,
				Metadata: domain.ChunkMetadata{RecordID: "1"},
			}
		}
		return chunks
	}

	t.Run("writes all chunks in batches", func(t *testing.T) {
		store := &fakeStore{}
		ix := NewIndexer(fakeEmbedder{}, store, metrics, WithIndexBatchSize(4), WithIndexRetry(fastRetry()))

		written, err := ix.IndexRecord(context.Background(), makeChunks(10))
		require.NoError(t, err)
		assert.Equal(t, 10, written)
		assert.Len(t, store.points, 10)
	})

	t.Run("empty chunk list is a no-op", func(t *testing.T) {
		store := &fakeStore{}
		ix := NewIndexer(fakeEmbedder{}, store, metrics, WithIndexRetry(fastRetry()))

		written, err := ix.IndexRecord(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, written)
	})

	t.Run("upsert failure reports chunks already written", func(t *testing.T) {
		store := &fakeStore{failAtWrite: 5}
		ix := NewIndexer(fakeEmbedder{}, store, metrics, WithIndexBatchSize(4), WithIndexRetry(fastRetry()))

		written, err := ix.IndexRecord(context.Background(), makeChunks(10))
		require.Error(t, err)
		assert.Equal(t, 4, written)
	})
}

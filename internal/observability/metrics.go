package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the ingestion service. Metrics
// are organized by subsystem: queries, records, chunks, source requests and
// embeddings. All counters and histograms are registered via promauto.
type Metrics struct {
	// QueriesCompleted counts queries finished successfully, labeled by the
	// credential that processed them.
	QueriesCompleted *prometheus.CounterVec

	// QueriesFailed counts queries that failed after retries, labeled by credential.
	QueriesFailed *prometheus.CounterVec

	// QueriesSkipped counts queries skipped because a prior run completed them.
	QueriesSkipped prometheus.Counter

	// QueryDuration observes end-to-end query processing time in seconds.
	QueryDuration prometheus.Histogram

	// RecordsDownloaded counts records whose metadata was fetched.
	RecordsDownloaded prometheus.Counter

	// RecordsIndexed counts records whose chunks reached the vector store.
	RecordsIndexed prometheus.Counter

	// RecordsFailed counts records that failed to index.
	RecordsFailed prometheus.Counter

	// RecordsSkipped counts records skipped as already processed.
	RecordsSkipped prometheus.Counter

	// ChunksIndexed counts chunks written to the vector store.
	ChunksIndexed prometheus.Counter

	// FullTextRetrieved counts records indexed with extracted PDF text.
	FullTextRetrieved prometheus.Counter

	// FullTextUnavailable counts records indexed abstract-only.
	FullTextUnavailable prometheus.Counter

	// SourceRequestsTotal counts HTTP requests to external sources, labeled
	// by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed requests, labeled by source, endpoint
	// and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRateLimited counts rate limit responses, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// EmbeddingDuration observes embedding API request time in seconds.
	EmbeddingDuration prometheus.Histogram
}

// NewMetrics creates a Metrics instance registered with the default registry.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a Metrics instance registered with reg. Tests pass
// a fresh registry so repeated construction does not collide.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueriesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_completed_total",
			Help:      "Total number of search queries completed successfully",
		}, []string{"credential_id"}),
		QueriesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_failed_total",
			Help:      "Total number of search queries that failed after retries",
		}, []string{"credential_id"}),
		QueriesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_skipped_total",
			Help:      "Total number of queries skipped as completed by a prior run",
		}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end processing duration per query in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),

		RecordsDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_downloaded_total",
			Help:      "Total number of records whose metadata was fetched",
		}),
		RecordsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_indexed_total",
			Help:      "Total number of records indexed into the vector store",
		}),
		RecordsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_failed_total",
			Help:      "Total number of records that failed to index",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Total number of records skipped as already processed",
		}),

		ChunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunks written to the vector store",
		}),
		FullTextRetrieved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_text_retrieved_total",
			Help:      "Total number of records indexed with extracted PDF text",
		}),
		FullTextUnavailable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_text_unavailable_total",
			Help:      "Total number of records indexed without full text",
		}),

		SourceRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to external sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to external sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from external sources",
		}, []string{"source"}),

		EmbeddingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_duration_seconds",
			Help:      "Duration of embedding API requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

// RecordQueryCompleted records a query finished by the given credential.
func (m *Metrics) RecordQueryCompleted(credentialID string, durationSeconds float64) {
	m.QueriesCompleted.WithLabelValues(credentialID).Inc()
	m.QueryDuration.Observe(durationSeconds)
}

// RecordQueryFailed records a query that failed after retries.
func (m *Metrics) RecordQueryFailed(credentialID string) {
	m.QueriesFailed.WithLabelValues(credentialID).Inc()
}

// RecordQuerySkipped records a query skipped on resume.
func (m *Metrics) RecordQuerySkipped() {
	m.QueriesSkipped.Inc()
}

// RecordDownloaded records fetched record metadata.
func (m *Metrics) RecordDownloaded(count int) {
	m.RecordsDownloaded.Add(float64(count))
}

// RecordIndexed records a fully indexed record and its chunk count.
func (m *Metrics) RecordIndexed(chunks int, hasFullText bool) {
	m.RecordsIndexed.Inc()
	m.ChunksIndexed.Add(float64(chunks))
	if hasFullText {
		m.FullTextRetrieved.Inc()
	} else {
		m.FullTextUnavailable.Inc()
	}
}

// RecordFailed records a record that failed to index.
func (m *Metrics) RecordFailed() {
	m.RecordsFailed.Inc()
}

// RecordSkipped records a record skipped as already processed.
func (m *Metrics) RecordSkipped(count int) {
	m.RecordsSkipped.Add(float64(count))
}

// RecordSourceRequest records a request to an external source.
func (m *Metrics) RecordSourceRequest(source, endpoint string) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
}

// RecordSourceRequestFailed records a failed request to an external source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordEmbedding records the duration of one embedding API call.
func (m *Metrics) RecordEmbedding(durationSeconds float64) {
	m.EmbeddingDuration.Observe(durationSeconds)
}

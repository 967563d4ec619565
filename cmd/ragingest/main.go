// Package main provides the entry point for the literature ingestion service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/rag-ingestion-service/internal/config"
	"github.com/helixir/rag-ingestion-service/internal/credential"
	"github.com/helixir/rag-ingestion-service/internal/document"
	"github.com/helixir/rag-ingestion-service/internal/embedding"
	"github.com/helixir/rag-ingestion-service/internal/ledger"
	"github.com/helixir/rag-ingestion-service/internal/observability"
	"github.com/helixir/rag-ingestion-service/internal/pdf"
	"github.com/helixir/rag-ingestion-service/internal/pipeline"
	"github.com/helixir/rag-ingestion-service/internal/pubmed"
	"github.com/helixir/rag-ingestion-service/internal/qdrant"
	"github.com/helixir/rag-ingestion-service/internal/server"
)

// statusLogInterval is how often the run loop logs ledger totals.
const statusLogInterval = 60 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "ragingest",
		Short:         "Ingests biomedical literature into the vector store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion pipeline over the configured queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngestion()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print ledger progress without starting a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(cmd)
		},
	}
}

func runIngestion() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "ragingest").Logger()
	logger.Info().Int("queries", len(cfg.Queries)).Int("credentials", len(cfg.PubMed.APIKeys)).Msg("ingestion service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("ragingest")

	pool, err := credential.NewPool(cfg.PubMed.APIKeys, cfg.PubMed.Emails, cfg.PubMed.RateLimit)
	if err != nil {
		return fmt.Errorf("build credential pool: %w", err)
	}

	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open progress ledger: %w", err)
	}
	defer func() {
		if err := led.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close ledger")
		}
	}()

	store, err := qdrant.NewClient(qdrant.Config{
		Address:        cfg.Qdrant.Address,
		CollectionName: cfg.Qdrant.CollectionName,
		VectorSize:     cfg.Qdrant.VectorSize,
	})
	if err != nil {
		return fmt.Errorf("create qdrant client: %w", err)
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure qdrant collection: %w", err)
	}
	logger.Info().Str("collection", cfg.Qdrant.CollectionName).Msg("vector store ready")

	embedder, err := embedding.NewOpenAIEmbedder(embedding.Config{
		APIKey:  cfg.Embedding.APIKey,
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		Timeout: cfg.Embedding.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}

	source := pubmed.New(pubmed.Config{
		BaseURL:        cfg.PubMed.BaseURL,
		Timeout:        cfg.PubMed.Timeout,
		MaxResults:     cfg.PubMed.MaxResults,
		FetchBatchSize: cfg.PubMed.FetchBatchSize,
		Metrics:        metrics,
	})

	var fullText pdf.TextSource = pdf.Disabled{}
	if cfg.PDF.Enabled {
		fullText = pdf.NewRetriever(
			pdf.NewDownloader(pdf.DownloaderConfig{
				BaseURL: cfg.PDF.BaseURL,
				Timeout: cfg.PDF.Timeout,
				MaxSize: cfg.PDF.MaxSize,
			}),
			pdf.NewExtractor(),
			cfg.PDF.Dir,
		)
	}

	deps := pipeline.Deps{
		Source:   source,
		FullText: fullText,
		Chunker: document.NewChunker(
			document.WithChunkSize(cfg.Chunking.Size),
			document.WithOverlap(cfg.Chunking.Overlap),
		),
		Indexer: pipeline.NewIndexer(embedder, store, metrics,
			pipeline.WithIndexBatchSize(cfg.Embedding.BatchSize)),
		Ledger:  led,
		Metrics: metrics,
		Logger:  logger,
	}

	// Status server runs for the duration of the ingestion.
	statusServer := server.New(server.Config{
		Address:         cfg.Server.Address(),
		MetricsPath:     cfg.Metrics.Path,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, led, logger)
	go func() {
		if err := statusServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("status server failed")
		}
	}()
	defer func() {
		if err := statusServer.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("status server shutdown failed")
		}
	}()

	go logProgress(ctx, led, logger)

	summary, err := pipeline.NewCoordinator(pool, deps).Run(ctx, cfg.Queries)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().
				Int("queries_completed", summary.QueriesCompleted).
				Int("records_indexed", summary.RecordsIndexed).
				Msg("run interrupted, progress saved for resume")
			return nil
		}
		return fmt.Errorf("ingestion run: %w", err)
	}

	logger.Info().
		Int("queries_completed", summary.QueriesCompleted).
		Int("queries_failed", summary.QueriesFailed).
		Int("queries_skipped", summary.QueriesSkipped).
		Int("records_downloaded", summary.RecordsDownloaded).
		Int("records_indexed", summary.RecordsIndexed).
		Int("records_failed", summary.RecordsFailed).
		Int("chunks_indexed", summary.ChunksIndexed).
		Dur("took", summary.Duration).
		Msg("ingestion complete")

	return nil
}

// logProgress periodically logs ledger totals until the context ends.
func logProgress(ctx context.Context, led *ledger.Ledger, logger zerolog.Logger) {
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts := led.Counts()
			logger.Info().
				Int("completed_queries", counts.CompletedQueries).
				Int("downloaded", counts.Downloaded).
				Int("indexed", counts.Indexed).
				Int("failed", counts.Failed).
				Msg("progress")
		}
	}
}

// printStatus reads the ledger file directly, without taking the run lock, so
// it works while an ingestion is in flight.
func printStatus(cmd *cobra.Command) error {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := os.ReadFile(cfg.Ledger.Path)
	if os.IsNotExist(err) {
		cmd.Println("no progress recorded yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	var state struct {
		CompletedQueries []string  `json:"completed_queries"`
		DownloadedPMIDs  []string  `json:"downloaded_pmids"`
		IndexedPMIDs     []string  `json:"indexed_pmids"`
		FailedPMIDs      []string  `json:"failed_pmids"`
		LastUpdated      time.Time `json:"last_updated"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse ledger %s: %w", cfg.Ledger.Path, err)
	}

	cmd.Printf("completed queries: %d/%d\n", len(state.CompletedQueries), len(cfg.Queries))
	cmd.Printf("downloaded:        %d\n", len(state.DownloadedPMIDs))
	cmd.Printf("indexed:           %d\n", len(state.IndexedPMIDs))
	cmd.Printf("failed:            %d\n", len(state.FailedPMIDs))
	if !state.LastUpdated.IsZero() {
		cmd.Printf("last updated:      %s\n", state.LastUpdated.Format(time.RFC3339))
	}
	return nil
}

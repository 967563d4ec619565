package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/helixir/rag-ingestion-service/internal/domain"
)

// TextSource produces the optional full text for a record. Implemented by
// Retriever; the pipeline depends on this interface so tests can substitute
// deterministic sources.
type TextSource interface {
	// FullText returns the extracted full text for the record, or
	// domain.ErrFullTextUnavailable (possibly wrapped) when none can be had.
	FullText(ctx context.Context, meta *domain.RecordMetadata) (string, error)
}

// Compile-time check that Retriever implements TextSource.
var _ TextSource = (*Retriever)(nil)

// Disabled is a TextSource that never yields full text, used when PDF
// retrieval is turned off so every record indexes abstract-only.
type Disabled struct{}

// FullText always returns domain.ErrFullTextUnavailable.
func (Disabled) FullText(ctx context.Context, meta *domain.RecordMetadata) (string, error) {
	return "", domain.ErrFullTextUnavailable
}

// Retriever downloads a record's open-access PDF, persists it under Dir and
// extracts its text. All failures map to domain.ErrFullTextUnavailable so
// callers fall back to abstract-only indexing without classifying further.
type Retriever struct {
	downloader *Downloader
	extractor  *Extractor
	dir        string
}

// NewRetriever creates a Retriever storing PDFs in dir. The directory is
// created on first use.
func NewRetriever(downloader *Downloader, extractor *Extractor, dir string) *Retriever {
	return &Retriever{
		downloader: downloader,
		extractor:  extractor,
		dir:        dir,
	}
}

// FullText fetches and extracts the full text for the record, writing the
// PDF to "<dir>/<pmid>_PMC<pmcid>.pdf" on the way. Records without a PMCID
// return domain.ErrFullTextUnavailable immediately.
func (r *Retriever) FullText(ctx context.Context, meta *domain.RecordMetadata) (string, error) {
	if !meta.HasFullTextID() {
		return "", domain.ErrFullTextUnavailable
	}

	content, err := r.downloader.Download(ctx, meta.PMCID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrFullTextUnavailable, err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create pdf dir: %w", domain.ErrFullTextUnavailable, err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("%s_PMC%s.pdf", meta.RecordID, meta.PMCID))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("%w: write pdf: %w", domain.ErrFullTextUnavailable, err)
	}

	text, err := r.extractor.ExtractText(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrFullTextUnavailable, err)
	}

	return text, nil
}

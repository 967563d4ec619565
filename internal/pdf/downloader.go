// Package pdf retrieves open-access full-text PDFs from PubMed Central and
// extracts their plain text. Every failure in this package is non-fatal to
// the pipeline: records fall back to abstract-only indexing.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for PDF download operations.
var (
	// ErrNotPDF is returned when the response Content-Type is not application/pdf.
	ErrNotPDF = errors.New("pdf: response is not a PDF")
	// ErrTooLarge is returned when the file exceeds the maximum allowed size.
	ErrTooLarge = errors.New("pdf: file exceeds maximum size")
	// ErrUnavailable is returned when the article has no accessible PDF (404/403).
	ErrUnavailable = errors.New("pdf: full text not accessible")
	// ErrDownloadFailed is returned when the download fails due to network or HTTP errors.
	ErrDownloadFailed = errors.New("pdf: download failed")
)

// DefaultBaseURL is the PubMed Central article base URL.
const DefaultBaseURL = "https://pmc.ncbi.nlm.nih.gov/articles"

// DownloaderConfig holds downloader configuration.
type DownloaderConfig struct {
	// BaseURL is the PMC article base URL. Default: DefaultBaseURL.
	BaseURL string
	// Timeout is the HTTP request timeout. Default: 60 seconds.
	Timeout time.Duration
	// MaxSize is the maximum file size in bytes. Default: 50MB.
	MaxSize int64
	// UserAgent is the User-Agent header.
	UserAgent string
}

// Downloader downloads open-access PDFs from PMC by PMCID.
type Downloader struct {
	client    *http.Client
	baseURL   string
	maxSize   int64
	userAgent string
}

// NewDownloader creates a new Downloader with the given configuration.
func NewDownloader(cfg DownloaderConfig) *Downloader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 50 * 1024 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "helixir-rag-ingestion/1.0 (mailto:support@helixir.io)"
	}

	return &Downloader{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		maxSize:   cfg.MaxSize,
		userAgent: cfg.UserAgent,
	}
}

// Download fetches the PDF for the given PMCID (without the "PMC" prefix).
// Returns ErrUnavailable for 403/404, ErrNotPDF for non-PDF responses and
// ErrTooLarge when the body exceeds MaxSize.
func (d *Downloader) Download(ctx context.Context, pmcID string) ([]byte, error) {
	if pmcID == "" {
		return nil, ErrUnavailable
	}

	url := fmt.Sprintf("%s/PMC%s/pdf/", d.baseURL, pmcID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return nil, fmt.Errorf("%w: Content-Type is %q", ErrNotPDF, contentType)
	}

	// Read one extra byte to detect oversized files.
	content, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if int64(len(content)) > d.maxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, d.maxSize)
	}

	return content, nil
}

package pdf

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Sentinel errors for text extraction.
var (
	// ErrToolNotFound is returned when the pdftotext binary is not installed.
	ErrToolNotFound = errors.New("pdf: pdftotext not found in PATH (install poppler-utils)")
	// ErrNoText is returned when a PDF yields no extractable text
	// (scanned images, encrypted content).
	ErrNoText = errors.New("pdf: no extractable text")
)

// runner executes the extraction tool; replaced in tests.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Extractor extracts plain text from PDF files using pdftotext.
type Extractor struct {
	run runner
}

// NewExtractor creates an Extractor. It does not check for pdftotext until
// the first extraction, so construction never fails.
func NewExtractor() *Extractor {
	return &Extractor{run: execRunner}
}

// ExtractText runs pdftotext on the file at path and returns the plain text,
// with no truncation. Returns ErrToolNotFound if pdftotext is not installed
// and ErrNoText if the document contains no extractable text.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", ErrToolNotFound
	}

	// "-" writes the text to stdout; -layout keeps column order readable.
	out, err := e.run(ctx, "pdftotext", "-layout", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdf: pdftotext failed: %w", err)
	}

	text := strings.TrimSpace(string(out))
	if text == "" {
		return "", ErrNoText
	}

	return text, nil
}

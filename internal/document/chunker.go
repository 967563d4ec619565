package document

import (
	"strings"
	"unicode/utf8"

	"github.com/helixir/rag-ingestion-service/internal/domain"
)

// DefaultChunkSize is the default number of bytes per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping bytes between
// consecutive chunks, preserving context across chunk boundaries.
const DefaultChunkOverlap = 200

// separators are tried in order when looking for a break point near the end
// of a window: paragraph break, line break, then sentence end.
var separators = []string{"\n\n", "\n", ". ", "? ", "! "}

// Chunker splits assembled documents into overlapping windows. It is
// stateless and deterministic: the same document always yields the same
// chunk sequence, which keeps re-runs after a resume idempotent.
type Chunker struct {
	size    int
	overlap int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in bytes.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap between chunks in bytes.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// NewChunker creates a chunker with the given options.
func NewChunker(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Overlap must leave room for forward progress.
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}

	return c
}

// Chunk splits the document content into ordered overlapping chunks, each
// inheriting the document's metadata. Windows prefer to end on a paragraph
// or sentence boundary in the second half of the window, falling back to a
// hard split on a rune boundary.
func (c *Chunker) Chunk(doc *domain.AssembledDocument) []domain.Chunk {
	content := doc.Content
	if content == "" {
		return nil
	}

	estimated := len(content)/(c.size-c.overlap) + 1
	chunks := make([]domain.Chunk, 0, estimated)

	start := 0
	for start < len(content) {
		end := c.cut(content, start)

		chunks = append(chunks, domain.Chunk{
			Text:     content[start:end],
			Index:    len(chunks),
			Metadata: doc.Metadata,
		})

		if end >= len(content) {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		// Never start mid-rune after stepping back by the overlap.
		for next > 0 && next < len(content) && !utf8.RuneStart(content[next]) {
			next--
		}
		start = next
	}

	return chunks
}

// cut returns the exclusive end offset of the window starting at start.
func (c *Chunker) cut(content string, start int) int {
	end := start + c.size
	if end >= len(content) {
		return len(content)
	}

	window := content[start:end]

	// Look for the latest separator in the second half of the window so a
	// boundary split never produces a tiny chunk.
	half := c.size / 2
	for _, sep := range separators {
		if idx := strings.LastIndex(window, sep); idx >= half {
			return start + idx + len(sep)
		}
	}

	// Hard split: step back to a rune boundary.
	for end > start && !utf8.RuneStart(content[end]) {
		end--
	}
	return end
}

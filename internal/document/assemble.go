// Package document turns fetched record metadata and optional full text into
// assembled documents and splits them into overlapping chunks for indexing.
package document

import (
	"strings"

	"github.com/helixir/rag-ingestion-service/internal/domain"
)

// fullTextDivider separates the abstract section from extracted PDF text in
// assembled content. The retrieval side relies on this layout staying stable.
const fullTextDivider = "======================================================================"

// Assemble merges metadata, abstract and optional full text into one logical
// document: title first, then the citation header, then the abstract, then a
// delimited full-text section when present. Pure function: no I/O.
func Assemble(meta *domain.RecordMetadata, fullText, query string) *domain.AssembledDocument {
	var b strings.Builder

	b.WriteString("Title: ")
	b.WriteString(meta.Title)
	b.WriteString("\n\n")
	b.WriteString("Authors: ")
	b.WriteString(meta.Authors)
	b.WriteString("\n")
	b.WriteString("Journal: ")
	b.WriteString(meta.Journal)
	b.WriteString("\n")
	if meta.PublicationDate != "" {
		b.WriteString("Published: ")
		b.WriteString(meta.PublicationDate)
		b.WriteString("\n")
	}
	b.WriteString("PMID: ")
	b.WriteString(meta.RecordID)
	b.WriteString("\n")
	if meta.DOI != "" {
		b.WriteString("DOI: ")
		b.WriteString(meta.DOI)
		b.WriteString("\n")
	}
	if meta.PMCID != "" {
		b.WriteString("PMC ID: PMC")
		b.WriteString(meta.PMCID)
		b.WriteString("\n")
	}
	b.WriteString("\nAbstract:\n")
	b.WriteString(meta.Abstract)
	b.WriteString("\n")

	if fullText != "" {
		b.WriteString("\n\n")
		b.WriteString(fullTextDivider)
		b.WriteString("\nFULL TEXT (EXTRACTED FROM PDF)\n")
		b.WriteString(fullTextDivider)
		b.WriteString("\n\n")
		b.WriteString(fullText)
	}

	return &domain.AssembledDocument{
		RecordID: meta.RecordID,
		Content:  b.String(),
		Metadata: domain.ChunkMetadata{
			Source:          "pubmed",
			RecordID:        meta.RecordID,
			Title:           meta.Title,
			Authors:         meta.Authors,
			Journal:         meta.Journal,
			PublicationDate: meta.PublicationDate,
			DOI:             meta.DOI,
			PMCID:           meta.PMCID,
			Query:           query,
			HasFullText:     fullText != "",
		},
	}
}

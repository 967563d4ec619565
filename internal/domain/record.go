// Package domain contains the core types of the ingestion pipeline:
// bibliographic records, assembled documents, chunks, and the error
// taxonomy shared by every component.
package domain

// RecordMetadata holds the bibliographic metadata for one PubMed record.
// It is immutable once fetched.
type RecordMetadata struct {
	// RecordID is the PubMed identifier (PMID) of the record.
	RecordID string
	// Title is the article title.
	Title string
	// Authors is the comma-joined author list ("First Last, First Last").
	Authors string
	// Journal is the journal title.
	Journal string
	// PublicationDate is the publication year as a string, empty if unknown.
	PublicationDate string
	// DOI is the digital object identifier, empty if none.
	DOI string
	// PMCID is the PubMed Central identifier without the "PMC" prefix.
	// Non-empty iff an open-access full text may be available.
	PMCID string
	// Abstract is the article abstract, labeled sections concatenated.
	Abstract string
}

// HasFullTextID reports whether the record carries an identifier that a
// full-text document can be derived from.
func (m *RecordMetadata) HasFullTextID() bool {
	return m.PMCID != ""
}

// AssembledDocument is the transient merge of metadata, abstract and optional
// full text that feeds the chunker. It is derived, never persisted.
type AssembledDocument struct {
	// RecordID is the PMID of the originating record.
	RecordID string
	// Content is the full text body passed to the chunker.
	Content string
	// Metadata is the payload attached to every chunk cut from this document.
	Metadata ChunkMetadata
}

// ChunkMetadata is the metadata written alongside every chunk in the vector
// store. Field layout follows the payload the retrieval side filters on.
type ChunkMetadata struct {
	Source          string `json:"source"`
	RecordID        string `json:"record_id"`
	Title           string `json:"title"`
	Authors         string `json:"authors"`
	Journal         string `json:"journal"`
	PublicationDate string `json:"publication_date,omitempty"`
	DOI             string `json:"doi,omitempty"`
	PMCID           string `json:"pmcid,omitempty"`
	Query           string `json:"query"`
	HasFullText     bool   `json:"has_full_text"`
}

// Chunk is one bounded text window prepared for embedding and vector-store
// insertion. Immutable once created.
type Chunk struct {
	// Text is the chunk content.
	Text string
	// Index is the zero-based position of the chunk within its document.
	Index int
	// Metadata is inherited from the assembled document.
	Metadata ChunkMetadata
}

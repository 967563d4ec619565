package pubmed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/rag-ingestion-service/internal/credential"
	"github.com/helixir/rag-ingestion-service/internal/domain"
	"github.com/helixir/rag-ingestion-service/internal/observability"
	"github.com/helixir/rag-ingestion-service/internal/retry"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 500

	// DefaultFetchBatchSize is the default number of PMIDs per efetch call.
	DefaultFetchBatchSize = 200

	// MaxResultsLimit is the maximum results allowed per request by the API.
	MaxResultsLimit = 10000

	// toolName identifies this client in E-utilities requests, as NCBI's
	// usage policy asks of automated tools.
	toolName = "helixir-rag-ingestion"

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Timeout is the request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// MaxResults is the maximum PMIDs returned per search.
	// Defaults to DefaultMaxResults if zero.
	MaxResults int

	// FetchBatchSize is the number of PMIDs per efetch call.
	// Defaults to DefaultFetchBatchSize if zero.
	FetchBatchSize int

	// Retry is the retry policy applied to each HTTP call.
	// Defaults to retry.DefaultPolicy() if zero-valued.
	Retry retry.Policy

	// Metrics receives per-request counters. Optional.
	Metrics *observability.Metrics
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MaxResults > MaxResultsLimit {
		c.MaxResults = MaxResultsLimit
	}
	if c.FetchBatchSize == 0 {
		c.FetchBatchSize = DefaultFetchBatchSize
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultPolicy()
	}
}

// Client issues E-utilities requests under a caller-supplied credential.
// It is safe for concurrent use; rate limiting is per credential, enforced
// through the credential's own limiter before every request.
type Client struct {
	config     Config
	httpClient *http.Client
}

// New creates a new PubMed client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// FetchResult holds the outcome of a metadata fetch over a set of PMIDs.
// Failed IDs are reported individually; a batch that fails as a whole
// contributes all of its IDs to FailedIDs rather than aborting the fetch.
type FetchResult struct {
	Records   []*domain.RecordMetadata
	FailedIDs []string
}

// Search resolves a query term into an ordered list of PMIDs, bounded by the
// configured maximum. A query whose phrase is not found returns an empty,
// non-error result.
func (c *Client) Search(ctx context.Context, query string, cred *credential.Credential) ([]string, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("term", query)
	q.Set("retmode", "xml")
	q.Set("retmax", strconv.Itoa(c.config.MaxResults))
	q.Set("sort", "relevance")
	c.setIdentity(q, cred)
	u.RawQuery = q.Encode()

	var result ESearchResult
	err = c.config.Retry.Do(ctx, func(ctx context.Context) error {
		if err := cred.Limiter().Acquire(ctx); err != nil {
			return err
		}
		err := c.getXML(ctx, u.String(), &result)
		c.observe("esearch", err)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("esearch failed for %q: %w", query, err)
	}

	if result.ErrorList != nil && len(result.ErrorList.PhraseNotFound) > 0 {
		return nil, nil
	}

	return result.IDList.IDs, nil
}

// FetchMetadata retrieves article metadata for the given PMIDs, batching
// efetch calls to minimize request count. IDs whose batch fails after
// retries, or whose article cannot be parsed into usable metadata, are
// reported in FetchResult.FailedIDs. The only returned error is context
// cancellation, which aborts the remaining batches.
func (c *Client) FetchMetadata(ctx context.Context, pmids []string, cred *credential.Credential) (*FetchResult, error) {
	result := &FetchResult{}

	for start := 0; start < len(pmids); start += c.config.FetchBatchSize {
		end := start + c.config.FetchBatchSize
		if end > len(pmids) {
			end = len(pmids)
		}
		batch := pmids[start:end]

		articles, err := c.efetch(ctx, batch, cred)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.FailedIDs = append(result.FailedIDs, batch...)
			continue
		}

		// Track which requested IDs actually came back; the API silently
		// omits unknown PMIDs instead of erroring.
		seen := make(map[string]bool, len(articles.Articles))
		for _, article := range articles.Articles {
			meta := articleToRecord(article)
			if meta == nil {
				seen[article.MedlineCitation.PMID.Value] = true
				result.FailedIDs = append(result.FailedIDs, article.MedlineCitation.PMID.Value)
				continue
			}
			seen[meta.RecordID] = true
			result.Records = append(result.Records, meta)
		}
		for _, id := range batch {
			if !seen[id] {
				result.FailedIDs = append(result.FailedIDs, id)
			}
		}
	}

	return result, nil
}

// efetch retrieves article metadata for one batch of PMIDs.
func (c *Client) efetch(ctx context.Context, pmids []string, cred *credential.Credential) (*PubmedArticleSet, error) {
	if len(pmids) == 0 {
		return &PubmedArticleSet{}, nil
	}

	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")
	c.setIdentity(q, cred)
	u.RawQuery = q.Encode()

	var result PubmedArticleSet
	err = c.config.Retry.Do(ctx, func(ctx context.Context) error {
		if err := cred.Limiter().Acquire(ctx); err != nil {
			return err
		}
		err := c.getXML(ctx, u.String(), &result)
		c.observe("efetch", err)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	return &result, nil
}

// observe records one request attempt and its outcome.
func (c *Client) observe(endpoint string, err error) {
	if c.config.Metrics == nil {
		return
	}
	c.config.Metrics.RecordSourceRequest(sourceName, endpoint)
	if err == nil {
		return
	}

	var apiErr *domain.ExternalAPIError
	errType := "request_error"
	if errors.As(err, &apiErr) {
		errType = "api_error"
		if apiErr.StatusCode == http.StatusTooManyRequests {
			errType = "rate_limited"
			c.config.Metrics.RecordSourceRateLimited(sourceName)
		}
	}
	c.config.Metrics.RecordSourceRequestFailed(sourceName, endpoint, errType)
}

// setIdentity attaches the credential's API key and the contact identity
// NCBI requires on every request.
func (c *Client) setIdentity(q url.Values, cred *credential.Credential) {
	q.Set("tool", toolName)
	if cred.APIKey != "" {
		q.Set("api_key", cred.APIKey)
	}
	if cred.Email != "" {
		q.Set("email", cred.Email)
	}
}

// getXML executes one GET request and decodes the XML body into out.
// Non-200 responses become ExternalAPIError so the retry policy can
// classify them by status code.
func (c *Client) getXML(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse XML response: %w", err)
	}

	return nil
}

// articleToRecord converts a PubmedArticle to RecordMetadata.
// Returns nil for articles without a PMID or title, which cannot be indexed.
func articleToRecord(article PubmedArticle) *domain.RecordMetadata {
	citation := article.MedlineCitation
	if citation.PMID.Value == "" || citation.Article.ArticleTitle == "" {
		return nil
	}

	journal := citation.Article.Journal.Title
	if journal == "" {
		journal = citation.Article.Journal.ISOAbbrev
	}

	return &domain.RecordMetadata{
		RecordID:        citation.PMID.Value,
		Title:           citation.Article.ArticleTitle,
		Authors:         extractAuthors(citation.Article.AuthorList),
		Journal:         journal,
		PublicationDate: extractYear(citation.Article.Journal.JournalIssue.PubDate),
		DOI:             extractDOI(citation.Article, article.PubmedData),
		PMCID:           extractPMCID(article.PubmedData),
		Abstract:        extractAbstract(citation.Article.Abstract),
	}
}

// extractDOI extracts the DOI from article metadata.
// It checks ELocationID first (more reliable), then ArticleIdList.
func extractDOI(article Article, pubmedData PubmedData) string {
	for _, eloc := range article.ELocationID {
		if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
			return eloc.Value
		}
	}
	for _, aid := range pubmedData.ArticleIdList.ArticleIds {
		if aid.IdType == "doi" {
			return aid.Value
		}
	}
	return ""
}

// extractPMCID extracts the PMC identifier without its "PMC" prefix.
func extractPMCID(pubmedData PubmedData) string {
	for _, aid := range pubmedData.ArticleIdList.ArticleIds {
		if aid.IdType == "pmc" {
			return strings.TrimPrefix(aid.Value, "PMC")
		}
	}
	return ""
}

// extractYear extracts the publication year from a PubDate, handling the
// MedlineDate format (e.g. "2020 Jan-Feb", "2020-2021").
func extractYear(pd PubDate) string {
	if pd.Year != "" {
		return pd.Year
	}
	if pd.MedlineDate != "" {
		parts := strings.Fields(pd.MedlineDate)
		if len(parts) > 0 {
			year := strings.Split(parts[0], "-")[0]
			if _, err := strconv.Atoi(year); err == nil {
				return year
			}
		}
	}
	return ""
}

// extractAbstract concatenates multiple abstract sections into one string.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}

	if len(abstract.AbstractTexts) == 1 && abstract.AbstractTexts[0].Label == "" {
		return strings.TrimSpace(abstract.AbstractTexts[0].Value)
	}

	var parts []string
	for _, at := range abstract.AbstractTexts {
		text := strings.TrimSpace(at.Value)
		if text == "" {
			continue
		}
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// extractAuthors joins author names as "ForeName LastName" separated by commas.
func extractAuthors(authorList *AuthorList) string {
	if authorList == nil {
		return ""
	}

	names := make([]string, 0, len(authorList.Authors))
	for _, a := range authorList.Authors {
		if a.ValidYN == "N" {
			continue
		}
		var name string
		switch {
		case a.CollectiveName != "":
			name = a.CollectiveName
		case a.ForeName != "" && a.LastName != "":
			name = a.ForeName + " " + a.LastName
		case a.LastName != "":
			name = a.LastName
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

// Package config provides configuration management for the ingestion service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	// Server contains status/metrics HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// PubMed contains NCBI E-utilities client settings.
	PubMed PubMedConfig `mapstructure:"pubmed"`
	// PDF contains full-text retrieval settings.
	PDF PDFConfig `mapstructure:"pdf"`
	// Chunking contains document chunking settings.
	Chunking ChunkingConfig `mapstructure:"chunking"`
	// Embedding contains embedding API client settings.
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	// Qdrant contains vector store settings.
	Qdrant QdrantConfig `mapstructure:"qdrant"`
	// Ledger contains progress persistence settings.
	Ledger LedgerConfig `mapstructure:"ledger"`
	// Queries is the list of search queries for the run. Defaults to the
	// built-in vision research terms when empty.
	Queries []string `mapstructure:"queries"`
}

// ServerConfig holds the status server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// Port is the HTTP server port (default: 8080).
	Port int `mapstructure:"port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the HTTP server address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// PubMedConfig holds NCBI E-utilities client configuration.
type PubMedConfig struct {
	// BaseURL is the E-utilities API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second per API key.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum PMIDs returned per search.
	MaxResults int `mapstructure:"max_results"`
	// FetchBatchSize is the number of PMIDs per efetch call.
	FetchBatchSize int `mapstructure:"fetch_batch_size"`
	// APIKeys are the NCBI API keys, one worker per key. Loaded exclusively
	// from RAGINGEST_PUBMED_API_KEY_1, _2, ... environment variables.
	APIKeys []string `mapstructure:"-"`
	// Emails are the contact addresses paired with APIKeys. Loaded from
	// RAGINGEST_PUBMED_EMAIL_1, _2, ... environment variables.
	Emails []string `mapstructure:"-"`
}

// PDFConfig holds full-text retrieval configuration.
type PDFConfig struct {
	// Enabled controls whether open-access PDFs are retrieved at all.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the PMC article base URL.
	BaseURL string `mapstructure:"base_url"`
	// Dir is the directory where downloaded PDFs are stored.
	Dir string `mapstructure:"dir"`
	// Timeout is the timeout for PDF downloads.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxSize is the maximum accepted PDF size in bytes.
	MaxSize int64 `mapstructure:"max_size"`
}

// ChunkingConfig holds document chunking configuration.
type ChunkingConfig struct {
	// Size is the chunk size in bytes.
	Size int `mapstructure:"size"`
	// Overlap is the overlap between consecutive chunks in bytes.
	Overlap int `mapstructure:"overlap"`
}

// EmbeddingConfig holds embedding client configuration.
type EmbeddingConfig struct {
	// BaseURL is the OpenAI-compatible API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Model is the embedding model name.
	Model string `mapstructure:"model"`
	// Timeout is the timeout for embedding API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// BatchSize is the number of chunks embedded per API call.
	BatchSize int `mapstructure:"batch_size"`
	// APIKey is the API key (loaded from RAGINGEST_EMBEDDING_OPENAI_API_KEY).
	APIKey string `mapstructure:"-"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Address is the Qdrant gRPC address.
	Address string `mapstructure:"address"`
	// CollectionName is the collection for literature chunk embeddings.
	CollectionName string `mapstructure:"collection_name"`
	// VectorSize is the embedding dimension (must match the embedding model).
	VectorSize uint64 `mapstructure:"vector_size"`
}

// LedgerConfig holds progress ledger settings.
type LedgerConfig struct {
	// Path is the progress JSON file location.
	Path string `mapstructure:"path"`
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated loads configuration without validating it. Read-only
// commands use it so they work without the run's credentials being set.
func LoadUnvalidated() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RAGINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/rag-ingestion-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if len(cfg.Queries) == 0 {
		cfg.Queries = DefaultQueries()
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// API keys are numbered from 1; scanning stops at the first unset key so the
// credential list is always contiguous.
func loadSecrets(cfg *Config) {
	cfg.Embedding.APIKey = os.Getenv("RAGINGEST_EMBEDDING_OPENAI_API_KEY")

	for i := 1; ; i++ {
		key := os.Getenv(fmt.Sprintf("RAGINGEST_PUBMED_API_KEY_%d", i))
		if key == "" {
			break
		}
		cfg.PubMed.APIKeys = append(cfg.PubMed.APIKeys, key)
		cfg.PubMed.Emails = append(cfg.PubMed.Emails, os.Getenv(fmt.Sprintf("RAGINGEST_PUBMED_EMAIL_%d", i)))
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// PubMed defaults
	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("pubmed.timeout", "30s")
	v.SetDefault("pubmed.rate_limit", 10.0) // NCBI allows 10 req/sec per API key
	v.SetDefault("pubmed.max_results", 500)
	v.SetDefault("pubmed.fetch_batch_size", 200)

	// PDF defaults
	v.SetDefault("pdf.enabled", true)
	v.SetDefault("pdf.base_url", "https://pmc.ncbi.nlm.nih.gov/articles")
	v.SetDefault("pdf.dir", "data/pubmed_pdfs")
	v.SetDefault("pdf.timeout", "120s")
	v.SetDefault("pdf.max_size", 50<<20)

	// Chunking defaults
	v.SetDefault("chunking.size", 1000)
	v.SetDefault("chunking.overlap", 200)

	// Embedding defaults
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.timeout", "60s")
	v.SetDefault("embedding.batch_size", 100)

	// Qdrant defaults
	v.SetDefault("qdrant.address", "localhost:6334")
	v.SetDefault("qdrant.collection_name", "literature_chunks")
	v.SetDefault("qdrant.vector_size", 1536) // text-embedding-3-small

	// Ledger defaults
	v.SetDefault("ledger.path", "data/rag_progress.json")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if len(c.PubMed.APIKeys) == 0 {
		return fmt.Errorf("at least one PubMed API key is required (set RAGINGEST_PUBMED_API_KEY_1)")
	}
	for i, email := range c.PubMed.Emails {
		if email == "" {
			return fmt.Errorf("PubMed credential %d is missing its email (set RAGINGEST_PUBMED_EMAIL_%d)", i+1, i+1)
		}
	}
	if c.PubMed.RateLimit <= 0 {
		return fmt.Errorf("pubmed rate_limit must be > 0, got %v", c.PubMed.RateLimit)
	}
	if c.PubMed.MaxResults <= 0 {
		return fmt.Errorf("pubmed max_results must be > 0")
	}

	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking size must be > 0")
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("chunking overlap must be >= 0")
	}

	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding API key is required (set RAGINGEST_EMBEDDING_OPENAI_API_KEY)")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding batch_size must be > 0")
	}

	if c.Qdrant.Address == "" {
		return fmt.Errorf("qdrant address is required")
	}
	if c.Qdrant.CollectionName == "" {
		return fmt.Errorf("qdrant collection_name is required")
	}
	if c.Qdrant.VectorSize == 0 {
		return fmt.Errorf("qdrant vector_size must be > 0")
	}

	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}

	return nil
}

// DefaultQueries returns the built-in vision research search terms used when
// no query list is configured.
func DefaultQueries() []string {
	return []string{
		// Retinal diseases
		"retinal degeneration", "age related macular degeneration", "diabetic retinopathy",
		"retinitis pigmentosa", "macular edema", "retinal dystrophy",
		"choroidal neovascularization", "geographic atrophy", "central serous chorioretinopathy",
		"retinal detachment", "epiretinal membrane", "macular hole",

		// Inherited retinal diseases
		"leber congenital amaurosis", "stargardt disease", "best disease",
		"choroideremia", "x-linked retinoschisis", "cone-rod dystrophy",
		"retinopathy of prematurity", "coats disease",

		// Glaucoma
		"glaucoma", "primary open angle glaucoma", "angle closure glaucoma",
		"normal tension glaucoma", "congenital glaucoma", "neovascular glaucoma",
		"retinal ganglion cells", "optic nerve head",

		// Cornea
		"keratoconus", "corneal dystrophy", "fuchs endothelial corneal dystrophy",
		"corneal transplant", "bacterial keratitis", "fungal keratitis",
		"dry eye", "keratoconjunctivitis sicca", "meibomian gland dysfunction",

		// Cataract
		"cataract", "phacoemulsification", "intraocular lens",
		"posterior capsule opacification",

		// Neuro-ophthalmology
		"optic neuritis", "ischemic optic neuropathy", "papilledema",
		"leber hereditary optic neuropathy", "idiopathic intracranial hypertension",

		// Imaging
		"optical coherence tomography", "oct angiography", "fundus autofluorescence",
		"fluorescein angiography", "adaptive optics",

		// Uveitis
		"uveitis", "retinal inflammation", "anterior uveitis", "posterior uveitis",
		"behcet uveitis", "sarcoid uveitis",

		// Vascular
		"retinal vascular disease", "retinal artery occlusion", "retinal vein occlusion",

		// Oncology
		"uveal melanoma", "choroidal melanoma", "retinoblastoma",
		"ocular lymphoma", "choroidal nevus",

		// Therapy
		"anti-vegf therapy", "ranibizumab", "aflibercept", "bevacizumab", "faricimab",
		"photodynamic therapy", "pars plana vitrectomy",
		"complement inhibition amd", "retinal prosthesis",

		// Public health
		"low vision rehabilitation", "vision screening", "blindness epidemiology",
		"visual impairment prevalence", "amblyopia", "strabismus",
	}
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		PubMed: PubMedConfig{
			BaseURL:        "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			RateLimit:      10,
			MaxResults:     500,
			FetchBatchSize: 200,
			APIKeys:        []string{"ncbi-key-1"},
			Emails:         []string{"dev@example.org"},
		},
		Chunking:  ChunkingConfig{Size: 1000, Overlap: 200},
		Embedding: EmbeddingConfig{APIKey: "sk-test", BatchSize: 100},
		Qdrant: QdrantConfig{
			Address:        "localhost:6334",
			CollectionName: "literature_chunks",
			VectorSize:     1536,
		},
		Ledger:  LedgerConfig{Path: "data/rag_progress.json"},
		Queries: []string{"glaucoma"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "no API keys",
			mutate:  func(c *Config) { c.PubMed.APIKeys = nil },
			wantErr: "at least one PubMed API key",
		},
		{
			name:    "missing email for credential",
			mutate:  func(c *Config) { c.PubMed.Emails = []string{""} },
			wantErr: "missing its email",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.PubMed.RateLimit = 0 },
			wantErr: "rate_limit must be > 0",
		},
		{
			name:    "zero chunk size",
			mutate:  func(c *Config) { c.Chunking.Size = 0 },
			wantErr: "chunking size",
		},
		{
			name:    "negative overlap",
			mutate:  func(c *Config) { c.Chunking.Overlap = -1 },
			wantErr: "overlap must be >= 0",
		},
		{
			name:    "no embedding key",
			mutate:  func(c *Config) { c.Embedding.APIKey = "" },
			wantErr: "embedding API key is required",
		},
		{
			name:    "no qdrant collection",
			mutate:  func(c *Config) { c.Qdrant.CollectionName = "" },
			wantErr: "collection_name is required",
		},
		{
			name:    "no ledger path",
			mutate:  func(c *Config) { c.Ledger.Path = "" },
			wantErr: "ledger path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("loads credentials from numbered env vars", func(t *testing.T) {
		t.Setenv("RAGINGEST_EMBEDDING_OPENAI_API_KEY", "sk-test")
		t.Setenv("RAGINGEST_PUBMED_API_KEY_1", "key-one")
		t.Setenv("RAGINGEST_PUBMED_EMAIL_1", "one@example.org")
		t.Setenv("RAGINGEST_PUBMED_API_KEY_2", "key-two")
		t.Setenv("RAGINGEST_PUBMED_EMAIL_2", "two@example.org")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, []string{"key-one", "key-two"}, cfg.PubMed.APIKeys)
		assert.Equal(t, []string{"one@example.org", "two@example.org"}, cfg.PubMed.Emails)
		assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	})

	t.Run("credential scan stops at the first gap", func(t *testing.T) {
		t.Setenv("RAGINGEST_EMBEDDING_OPENAI_API_KEY", "sk-test")
		t.Setenv("RAGINGEST_PUBMED_API_KEY_1", "key-one")
		t.Setenv("RAGINGEST_PUBMED_EMAIL_1", "one@example.org")
		t.Setenv("RAGINGEST_PUBMED_API_KEY_3", "key-three")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"key-one"}, cfg.PubMed.APIKeys)
	})

	t.Run("applies defaults and the built-in query list", func(t *testing.T) {
		t.Setenv("RAGINGEST_EMBEDDING_OPENAI_API_KEY", "sk-test")
		t.Setenv("RAGINGEST_PUBMED_API_KEY_1", "key-one")
		t.Setenv("RAGINGEST_PUBMED_EMAIL_1", "one@example.org")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "https://eutils.ncbi.nlm.nih.gov/entrez/eutils", cfg.PubMed.BaseURL)
		assert.Equal(t, 10.0, cfg.PubMed.RateLimit)
		assert.Equal(t, 1000, cfg.Chunking.Size)
		assert.Equal(t, 200, cfg.Chunking.Overlap)
		assert.Equal(t, uint64(1536), cfg.Qdrant.VectorSize)
		assert.Equal(t, "literature_chunks", cfg.Qdrant.CollectionName)
		assert.NotEmpty(t, cfg.Queries)
		assert.Contains(t, cfg.Queries, "glaucoma")
		assert.Contains(t, cfg.Queries, "diabetic retinopathy")
	})

	t.Run("fails without an embedding key", func(t *testing.T) {
		t.Setenv("RAGINGEST_EMBEDDING_OPENAI_API_KEY", "")
		t.Setenv("RAGINGEST_PUBMED_API_KEY_1", "key-one")
		t.Setenv("RAGINGEST_PUBMED_EMAIL_1", "one@example.org")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedding API key")
	})

	t.Run("fails without PubMed credentials", func(t *testing.T) {
		t.Setenv("RAGINGEST_EMBEDDING_OPENAI_API_KEY", "sk-test")
		t.Setenv("RAGINGEST_PUBMED_API_KEY_1", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PubMed API key")
	})

	t.Run("env vars override defaults", func(t *testing.T) {
		t.Setenv("RAGINGEST_EMBEDDING_OPENAI_API_KEY", "sk-test")
		t.Setenv("RAGINGEST_PUBMED_API_KEY_1", "key-one")
		t.Setenv("RAGINGEST_PUBMED_EMAIL_1", "one@example.org")
		t.Setenv("RAGINGEST_PUBMED_RATE_LIMIT", "3")
		t.Setenv("RAGINGEST_QDRANT_COLLECTION_NAME", "custom_chunks")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 3.0, cfg.PubMed.RateLimit)
		assert.Equal(t, "custom_chunks", cfg.Qdrant.CollectionName)
	})
}

package qdrant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/rag-ingestion-service/internal/domain"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid config",
			cfg: Config{
				Address:        "localhost:6334",
				CollectionName: "literature_chunks",
				VectorSize:     1536,
			},
			wantErr: "",
		},
		{
			name: "empty address",
			cfg: Config{
				CollectionName: "literature_chunks",
				VectorSize:     1536,
			},
			wantErr: "address is required",
		},
		{
			name: "empty collection name",
			cfg: Config{
				Address:    "localhost:6334",
				VectorSize: 1536,
			},
			wantErr: "collection name is required",
		},
		{
			name: "zero vector size",
			cfg: Config{
				Address:        "localhost:6334",
				CollectionName: "literature_chunks",
			},
			wantErr: "vector size must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPointID(t *testing.T) {
	t.Parallel()

	t.Run("deterministic for the same chunk", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, PointID("12345678", 0), PointID("12345678", 0))
		assert.Equal(t, PointID("12345678", 7), PointID("12345678", 7))
	})

	t.Run("distinct across chunk indices", func(t *testing.T) {
		t.Parallel()

		assert.NotEqual(t, PointID("12345678", 0), PointID("12345678", 1))
	})

	t.Run("distinct across records", func(t *testing.T) {
		t.Parallel()

		assert.NotEqual(t, PointID("12345678", 0), PointID("87654321", 0))
	})

	t.Run("no collision between id concatenations", func(t *testing.T) {
		t.Parallel()

		// "123:45" vs "1234:5" must not collide.
		assert.NotEqual(t, PointID("123", 45), PointID("1234", 5))
	})
}

func TestChunkPayload(t *testing.T) {
	t.Parallel()

	chunk := domain.Chunk{
		Text:  "chunk body",
		Index: 3,
		Metadata: domain.ChunkMetadata{
			Source:          "pubmed",
			RecordID:        "12345678",
			Title:           "Some Title",
			Authors:         "A Author",
			Journal:         "J Journal",
			PublicationDate: "2023",
			DOI:             "10.1/x",
			PMCID:           "99",
			Query:           "glaucoma",
			HasFullText:     true,
		},
	}

	payload := chunkPayload(chunk)

	assert.Equal(t, "chunk body", payload["text"].GetStringValue())
	assert.Equal(t, int64(3), payload["chunk_index"].GetIntegerValue())
	assert.Equal(t, "12345678", payload["pmid"].GetStringValue())
	assert.Equal(t, "glaucoma", payload["search_query"].GetStringValue())
	assert.True(t, payload["has_full_text"].GetBoolValue())
}

func TestNewClient_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{CollectionName: "c", VectorSize: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")

	_, err = NewClient(Config{Address: "no-port", CollectionName: "c", VectorSize: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestClient_Close_NilClient(t *testing.T) {
	t.Parallel()

	c := &Client{client: nil}
	assert.NoError(t, c.Close())
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		addr     string
		wantHost string
		wantPort int
		wantErr  string
	}{
		{name: "hostname with port", addr: "qdrant.internal:6334", wantHost: "qdrant.internal", wantPort: 6334},
		{name: "ip with port", addr: "10.0.0.5:6334", wantHost: "10.0.0.5", wantPort: 6334},
		{name: "minimum port", addr: "host:1", wantHost: "host", wantPort: 1},
		{name: "maximum port", addr: "host:65535", wantHost: "host", wantPort: 65535},
		{name: "missing port", addr: "localhost", wantErr: "missing port"},
		{name: "empty port", addr: "localhost:", wantErr: "empty port"},
		{name: "non-numeric port", addr: "localhost:abc", wantErr: "invalid port"},
		{name: "port zero", addr: "localhost:0", wantErr: "out of range"},
		{name: "port too large", addr: "localhost:70000", wantErr: "out of range"},
		{name: "empty address", addr: "", wantErr: "missing port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			host, port, err := parseAddress(tt.addr)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantHost, host)
				assert.Equal(t, tt.wantPort, port)
			}
		})
	}
}

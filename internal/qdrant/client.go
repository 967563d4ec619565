// Package qdrant provides the vector store client used to index literature
// chunk embeddings for retrieval.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/helixir/rag-ingestion-service/internal/domain"
)

// Config holds the configuration for connecting to a Qdrant instance.
type Config struct {
	// Address is the host:port of the Qdrant gRPC endpoint (e.g. "localhost:6334").
	Address string
	// CollectionName is the Qdrant collection to use (e.g. "literature_chunks").
	CollectionName string
	// VectorSize is the dimensionality of the embedding vectors.
	VectorSize uint64
}

// Validate checks that all required Config fields are set.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("qdrant config: address is required")
	}
	if c.CollectionName == "" {
		return fmt.Errorf("qdrant config: collection name is required")
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("qdrant config: vector size must be > 0")
	}
	return nil
}

// ChunkPoint pairs a document chunk with its embedding for storage.
type ChunkPoint struct {
	Chunk  domain.Chunk
	Vector []float32
}

// VectorStore defines the vector storage operations the pipeline needs.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not already exist.
	EnsureCollection(ctx context.Context) error
	// UpsertBatch inserts or updates a batch of chunk embeddings.
	UpsertBatch(ctx context.Context, points []ChunkPoint) error
	// Close releases the underlying gRPC connection.
	Close() error
}

// Compile-time check that Client implements VectorStore.
var _ VectorStore = (*Client)(nil)

// Client is a Qdrant vector store client that implements VectorStore via gRPC.
type Client struct {
	client         *pb.Client
	collectionName string
	vectorSize     uint64
}

// pointNamespace seeds deterministic point IDs so re-indexing the same chunk
// after a resume overwrites the prior point instead of duplicating it.
var pointNamespace = uuid.MustParse("2f9c41aa-60dd-4a6f-9a8e-8f4b3f0e1c27")

// PointID derives the stable point ID for a record's chunk.
func PointID(recordID string, chunkIndex int) uuid.UUID {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", recordID, chunkIndex)))
}

// NewClient creates a new Qdrant client by dialing the configured gRPC address.
// The connection uses insecure credentials, suitable for internal network deployments.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	host, port, err := parseAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid address %q: %w", cfg.Address, err)
	}

	qdrantClient, err := pb.NewClient(&pb.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &Client{
		client:         qdrantClient,
		collectionName: cfg.CollectionName,
		vectorSize:     cfg.VectorSize,
	}, nil
}

// EnsureCollection checks whether the configured collection exists and creates it
// with cosine distance if it does not.
func (c *Client) EnsureCollection(ctx context.Context) error {
	exists, err := c.client.CollectionExists(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: c.collectionName,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     c.vectorSize,
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", c.collectionName, err)
	}

	return nil
}

// UpsertBatch writes a batch of chunk points in one call, waiting for the
// write to be applied. Point IDs derive from record ID and chunk index, so
// repeating a batch is idempotent.
func (c *Client) UpsertBatch(ctx context.Context, points []ChunkPoint) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		id := PointID(p.Chunk.Metadata.RecordID, p.Chunk.Index)
		structs = append(structs, &pb.PointStruct{
			Id:      pb.NewIDUUID(id.String()),
			Vectors: pb.NewVectors(p.Vector...),
			Payload: chunkPayload(p.Chunk),
		})
	}

	wait := true
	_, err := c.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.collectionName,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to upsert %d points: %w", len(points), err)
	}

	return nil
}

// Close releases the gRPC connection to Qdrant.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// chunkPayload builds the retrieval payload stored alongside each vector.
func chunkPayload(chunk domain.Chunk) map[string]*pb.Value {
	meta := chunk.Metadata
	return pb.NewValueMap(map[string]any{
		"text":             chunk.Text,
		"chunk_index":      int64(chunk.Index),
		"source":           meta.Source,
		"pmid":             meta.RecordID,
		"title":            meta.Title,
		"authors":          meta.Authors,
		"journal":          meta.Journal,
		"publication_date": meta.PublicationDate,
		"doi":              meta.DOI,
		"pmc_id":           meta.PMCID,
		"search_query":     meta.Query,
		"has_full_text":    meta.HasFullText,
	})
}

// parseAddress splits an address string of the form "host:port" into its components.
func parseAddress(addr string) (string, int, error) {
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return "", 0, err
	}

	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}

	return host, port, nil
}

// splitHostPort splits an address into host and port strings.
func splitHostPort(addr string) (string, string, error) {
	// Find last colon (handles IPv6 addresses in brackets).
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("missing port in address %q", addr)
}

// parsePort converts a port string to an integer.
func parsePort(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty port")
	}
	var port int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid port %q", s)
		}
		port = port*10 + int(c-'0')
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

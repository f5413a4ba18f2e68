package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/randalmurphal/triage/internal/support"
)

// Payload keys a documentation point carries.
const (
	PayloadContent = "content"
	PayloadURL     = "url"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "http://localhost:6333"
	APIKey     string
	Collection string
	TopK       int
}

// QdrantIndex retrieves passages from a Qdrant collection whose points
// carry "content" and "url" payload fields.
type QdrantIndex struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	topK       int
	logger     *slog.Logger
}

// parseQdrantURL extracts host, gRPC port and TLS flag from a Qdrant URL.
// The REST port 6333 maps to the gRPC port 6334.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("retrieval: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("retrieval: invalid port in qdrant URL: %q", portStr)
		}
		if p != 6333 {
			port = p
		}
	}
	return host, port, useTLS, nil
}

// NewQdrantIndex connects to Qdrant over gRPC.
func NewQdrantIndex(cfg QdrantConfig, embedder Embedder, logger *slog.Logger) (*QdrantIndex, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("retrieval: qdrant collection is required")
	}
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: connect to qdrant at %s:%d: %w", host, port, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &QdrantIndex{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		topK:       topK,
		logger:     logger,
	}, nil
}

// Retrieve implements support.Retriever.
func (q *QdrantIndex) Retrieve(ctx context.Context, query string) ([]support.Doc, error) {
	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	limit := uint64(q.topK) //nolint:gosec // topK is positive
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec.Slice()),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: qdrant query: %w", err)
	}

	docs := make([]support.Doc, 0, len(scored))
	for _, sp := range scored {
		doc, ok := docFromPayload(sp.GetPayload())
		if !ok {
			q.logger.Warn("qdrant: point without content", "id", sp.GetId().String())
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// docFromPayload reads a Doc from point payload. Points without content
// are skipped.
func docFromPayload(payload map[string]*qdrant.Value) (support.Doc, bool) {
	content := payload[PayloadContent].GetStringValue()
	if content == "" {
		return support.Doc{}, false
	}
	return support.Doc{
		Content: content,
		URL:     payload[PayloadURL].GetStringValue(),
	}, true
}

// Healthy returns nil if Qdrant is reachable.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("retrieval: qdrant unhealthy: %w", err)
	}
	return nil
}

// Close shuts down the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

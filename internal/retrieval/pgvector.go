package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/randalmurphal/triage/internal/support"
)

// pgvectorSchema creates the passage table. The vector width is fixed by
// the first EnsureSchema call.
const pgvectorSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %[1]s (
	id        BIGSERIAL PRIMARY KEY,
	content   TEXT NOT NULL,
	url       TEXT NOT NULL DEFAULT '',
	embedding vector(%[2]d) NOT NULL
);
`

// PGVectorConfig configures a pgvector-backed index.
type PGVectorConfig struct {
	DSN   string
	Table string // default "docs"
	TopK  int
}

// PGVectorIndex retrieves passages from a Postgres table by cosine distance.
type PGVectorIndex struct {
	pool     *pgxpool.Pool
	embedder Embedder
	table    string
	topK     int
	logger   *slog.Logger
}

// NewPGVectorIndex connects to Postgres and registers the vector type on
// every pooled connection.
func NewPGVectorIndex(ctx context.Context, cfg PGVectorConfig, embedder Embedder, logger *slog.Logger) (*PGVectorIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	table := cfg.Table
	if table == "" {
		table = "docs"
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("retrieval: parse DSN: %w", err)
	}
	// The extension may not exist until EnsureSchema runs.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("retrieval: pgvector types not registered", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("retrieval: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("retrieval: ping: %w", err)
	}

	return &PGVectorIndex{
		pool:     pool,
		embedder: embedder,
		table:    pgx.Identifier{table}.Sanitize(),
		topK:     topK,
		logger:   logger,
	}, nil
}

// EnsureSchema creates the vector extension and passage table.
func (p *PGVectorIndex) EnsureSchema(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("retrieval: invalid embedding dimensions %d", dims)
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(pgvectorSchema, p.table, dims)); err != nil {
		return fmt.Errorf("retrieval: ensure schema: %w", err)
	}
	return nil
}

// Add embeds and stores one passage.
func (p *PGVectorIndex) Add(ctx context.Context, doc support.Doc) error {
	vec, err := p.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("retrieval: embed passage: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (content, url, embedding) VALUES ($1, $2, $3)`, p.table),
		doc.Content, doc.URL, vec)
	if err != nil {
		return fmt.Errorf("retrieval: insert passage: %w", err)
	}
	return nil
}

// Retrieve implements support.Retriever.
func (p *PGVectorIndex) Retrieve(ctx context.Context, query string) ([]support.Doc, error) {
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	return p.nearest(ctx, vec)
}

func (p *PGVectorIndex) nearest(ctx context.Context, vec pgvector.Vector) ([]support.Doc, error) {
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT content, url FROM %s ORDER BY embedding <=> $1 LIMIT $2`, p.table),
		vec, p.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: query passages: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (support.Doc, error) {
		var d support.Doc
		err := row.Scan(&d.Content, &d.URL)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: scan passages: %w", err)
	}
	return docs, nil
}

// Close releases the pool.
func (p *PGVectorIndex) Close() error {
	p.pool.Close()
	return nil
}

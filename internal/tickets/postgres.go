package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/randalmurphal/triage/internal/support"
)

// postgresSchema is the minimal ticket table. display_id is assigned by
// the server from ticket_seq; seq gives listings a numeric insertion order.
const postgresSchema = `
CREATE SEQUENCE IF NOT EXISTS ticket_seq START 1 INCREMENT 1;
CREATE TABLE IF NOT EXISTS tickets (
	ticket_id  TEXT PRIMARY KEY,
	user_query TEXT NOT NULL,
	topic      TEXT NOT NULL,
	sentiment  TEXT NOT NULL,
	priority   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	display_id TEXT UNIQUE DEFAULT ('TICKET-' || nextval('ticket_seq')),
	subject    TEXT NOT NULL,
	seq        BIGINT GENERATED ALWAYS AS IDENTITY
);
ALTER TABLE tickets ADD COLUMN IF NOT EXISTS seq BIGINT GENERATED ALWAYS AS IDENTITY;
CREATE INDEX IF NOT EXISTS idx_tickets_seq ON tickets (seq DESC);
`

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresStore keeps tickets in Postgres through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to dsn and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("tickets: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tickets: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tickets: ping: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// EnsureSchema creates the sequence and table if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("tickets: ensure schema: %w", err)
	}
	return nil
}

// Insert implements support.TicketStore.
func (s *PostgresStore) Insert(ctx context.Context, rec support.TicketRecord) (string, error) {
	if err := validate(rec); err != nil {
		return "", err
	}

	var displayID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tickets (ticket_id, topic, user_query, sentiment, priority, subject)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING display_id`,
		rec.ID, rec.Topic, rec.Query, rec.Sentiment, rec.Priority, rec.Subject,
	).Scan(&displayID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("tickets: insert: %w", err)
	}

	s.logger.Debug("ticket inserted", slog.String("ticket_id", rec.ID), slog.String("display_id", displayID))
	return displayID, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Ticket, error) {
	query := `SELECT ticket_id, user_query, topic, sentiment, priority, subject, display_id, created_at
		FROM tickets
		WHERE ($1::text = '' OR topic = $1) AND ($2::text = '' OR priority = $2)
		ORDER BY seq DESC`
	args := []any{f.Topic, f.Priority}
	if f.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tickets: list: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Ticket, error) {
		var t Ticket
		err := row.Scan(&t.ID, &t.Query, &t.Topic, &t.Sentiment, &t.Priority, &t.Subject, &t.DisplayID, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("tickets: scan: %w", err)
	}
	if out == nil {
		out = []Ticket{}
	}
	return out, nil
}

// Summary implements Store.
func (s *PostgresStore) Summary(ctx context.Context) (Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT topic, sentiment, priority, COUNT(*) FROM tickets GROUP BY topic, sentiment, priority`)
	if err != nil {
		return Summary{}, fmt.Errorf("tickets: summarize: %w", err)
	}
	defer rows.Close()

	sum := newSummary()
	for rows.Next() {
		var topic, sentiment, priority string
		var n int64
		if err := rows.Scan(&topic, &sentiment, &priority, &n); err != nil {
			return Summary{}, fmt.Errorf("tickets: scan summary: %w", err)
		}
		sum.add(topic, sentiment, priority, int(n))
	}
	return sum, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

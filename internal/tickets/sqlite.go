package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/triage/internal/support"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tickets (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id  TEXT NOT NULL UNIQUE,
	user_query TEXT NOT NULL,
	topic      TEXT NOT NULL,
	sentiment  TEXT NOT NULL,
	priority   TEXT NOT NULL,
	subject    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_created ON tickets(created_at);
`

// SQLiteStore keeps tickets in a SQLite file. Display ids come from the
// table's autoincrement sequence.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Insert implements support.TicketStore.
func (s *SQLiteStore) Insert(ctx context.Context, rec support.TicketRecord) (string, error) {
	if err := validate(rec); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}

	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tickets (ticket_id, user_query, topic, sentiment, priority, subject, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`,
		rec.ID, rec.Query, rec.Topic, rec.Sentiment, rec.Priority, rec.Subject,
		time.Now().UTC().Format(time.RFC3339Nano),
	).Scan(&seq)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("insert ticket: %w", err)
	}
	return displayID(seq), nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	query := `SELECT seq, ticket_id, user_query, topic, sentiment, priority, subject, created_at
		FROM tickets WHERE (? = '' OR topic = ?) AND (? = '' OR priority = ?)
		ORDER BY seq DESC`
	args := []any{f.Topic, f.Topic, f.Priority, f.Priority}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	out := []Ticket{}
	for rows.Next() {
		var (
			t       Ticket
			seq     int64
			created string
		)
		if err := rows.Scan(&seq, &t.ID, &t.Query, &t.Topic, &t.Sentiment, &t.Priority, &t.Subject, &created); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		t.DisplayID = displayID(seq)
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Summary implements Store.
func (s *SQLiteStore) Summary(ctx context.Context) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Summary{}, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT topic, sentiment, priority, COUNT(*) FROM tickets GROUP BY topic, sentiment, priority`)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize tickets: %w", err)
	}
	defer rows.Close()

	sum := newSummary()
	for rows.Next() {
		var topic, sentiment, priority string
		var n int
		if err := rows.Scan(&topic, &sentiment, &priority, &n); err != nil {
			return Summary{}, fmt.Errorf("scan summary: %w", err)
		}
		sum.add(topic, sentiment, priority, n)
	}
	return sum, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

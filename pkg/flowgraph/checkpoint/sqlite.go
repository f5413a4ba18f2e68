package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS thread_checkpoints (
	thread_id  TEXT    NOT NULL,
	node_id    TEXT    NOT NULL,
	sequence   INTEGER NOT NULL,
	created_at TEXT    NOT NULL,
	data       BLOB    NOT NULL,
	PRIMARY KEY (thread_id, node_id)
);
CREATE INDEX IF NOT EXISTS idx_thread_checkpoints_seq
	ON thread_checkpoints(thread_id, sequence);
`

// SQLiteStore persists checkpoints to a SQLite file.
// Suitable for a single process; use ":memory:" in tests.
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
	// :memory: databases are per-connection.
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

// Save implements Store.
func (s *SQLiteStore) Save(threadID, nodeID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var seq int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM thread_checkpoints WHERE thread_id = ?`,
		threadID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO thread_checkpoints (thread_id, node_id, sequence, created_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, node_id) DO UPDATE SET
			sequence = excluded.sequence,
			created_at = excluded.created_at,
			data = excluded.data
	`, threadID, nodeID, seq, time.Now().UTC().Format(time.RFC3339Nano), data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	return tx.Commit()
}

// Load implements Store.
func (s *SQLiteStore) Load(threadID, nodeID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM thread_checkpoints WHERE thread_id = ? AND node_id = ?`,
		threadID, nodeID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

// List implements Store.
func (s *SQLiteStore) List(threadID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT node_id, sequence, created_at, LENGTH(data)
		FROM thread_checkpoints
		WHERE thread_id = ?
		ORDER BY sequence
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		info := Info{ThreadID: threadID}
		var created string
		if err := rows.Scan(&info.NodeID, &info.Sequence, &created, &info.Size); err != nil {
			return nil, fmt.Errorf("scan checkpoint info: %w", err)
		}
		info.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return infos, nil
}

// Threads implements Store.
func (s *SQLiteStore) Threads() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`SELECT DISTINCT thread_id FROM thread_checkpoints ORDER BY thread_id`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(threadID, nodeID string) error {
	return s.exec("delete checkpoint",
		`DELETE FROM thread_checkpoints WHERE thread_id = ? AND node_id = ?`, threadID, nodeID)
}

// DeleteThread implements Store.
func (s *SQLiteStore) DeleteThread(threadID string) error {
	return s.exec("delete thread",
		`DELETE FROM thread_checkpoints WHERE thread_id = ?`, threadID)
}

func (s *SQLiteStore) exec(op, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

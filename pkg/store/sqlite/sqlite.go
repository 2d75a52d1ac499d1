// Package sqlite implements the store interfaces on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tablepilot/tablepilot/pkg/domain"
	"github.com/tablepilot/tablepilot/pkg/store"
)

// Store implements SessionStore and TranscriptStore using SQLite.
type Store struct {
	db          *sql.DB
	subscribers []chan string
	mu          sync.RWMutex
}

// Verify interface compliance at compile time.
var _ store.SessionStore = (*Store)(nil)
var _ store.TranscriptStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		dataset_name TEXT NOT NULL DEFAULT '',
		dataset_path TEXT NOT NULL DEFAULT '',
		rows INTEGER NOT NULL DEFAULT 0,
		cols INTEGER NOT NULL DEFAULT 0,
		model TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transcript_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		chart_json TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		seq INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_session_seq ON transcript_entries(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ListIDs returns just the IDs of all sessions (used by runner reconciliation).
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- SessionStore ---

func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, dataset_name, dataset_path, rows, cols, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.DatasetName, sess.DatasetPath,
		sess.Rows, sess.Cols, sess.Model,
		sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	sess := &domain.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, dataset_name, dataset_path, rows, cols, model, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Name, &sess.DatasetName, &sess.DatasetPath,
		&sess.Rows, &sess.Cols, &sess.Model,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return sess, err
}

func (s *Store) List(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, dataset_name, dataset_path, rows, cols, model, created_at, updated_at
		 FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.DatasetName, &sess.DatasetPath,
			&sess.Rows, &sess.Cols, &sess.Model,
			&sess.CreatedAt, &sess.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) Update(ctx context.Context, sess *domain.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name=?, dataset_name=?, dataset_path=?, rows=?, cols=?, model=?, updated_at=?
		 WHERE id=?`,
		sess.Name, sess.DatasetName, sess.DatasetPath,
		sess.Rows, sess.Cols, sess.Model,
		sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", sess.ID)
	}
	return nil
}

func (s *Store) SetDataset(ctx context.Context, id, name, path string, rowCount, colCount int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET dataset_name=?, dataset_path=?, rows=?, cols=?, updated_at=? WHERE id=?`,
		name, path, rowCount, colCount, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// --- TranscriptStore ---

func (s *Store) Append(ctx context.Context, entry *domain.TranscriptEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	// Get next sequence number.
	var maxSeq int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM transcript_entries WHERE session_id=?`,
		entry.SessionID,
	).Scan(&maxSeq)
	if err != nil {
		return err
	}
	entry.Seq = maxSeq + 1

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcript_entries (id, session_id, role, content, chart_json, timestamp, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.Role, entry.Content,
		entry.ChartJSON, entry.Timestamp, entry.Seq,
	)
	if err != nil {
		return err
	}

	s.notifySubscribers(entry.SessionID)
	return nil
}

func (s *Store) GetEntries(ctx context.Context, sessionID string, limit int) ([]domain.TranscriptEntry, error) {
	query := `SELECT id, session_id, role, content, chart_json, timestamp, seq
		FROM transcript_entries WHERE session_id=? ORDER BY seq ASC`
	args := []any{sessionID}

	if limit > 0 {
		// Subquery to get only the last N entries in ASC order.
		query = `SELECT id, session_id, role, content, chart_json, timestamp, seq FROM (
			SELECT id, session_id, role, content, chart_json, timestamp, seq
			FROM transcript_entries WHERE session_id=? ORDER BY seq DESC LIMIT ?
		) sub ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *Store) GetEntriesAfter(ctx context.Context, sessionID string, afterID string) ([]domain.TranscriptEntry, error) {
	var afterSeq int
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM transcript_entries WHERE id=? AND session_id=?`, afterID, sessionID,
	).Scan(&afterSeq)
	if err == sql.ErrNoRows {
		// If the afterID doesn't exist, return all entries.
		return s.GetEntries(ctx, sessionID, 0)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, chart_json, timestamp, seq
		 FROM transcript_entries WHERE session_id=? AND seq > ? ORDER BY seq ASC`,
		sessionID, afterSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]domain.TranscriptEntry, error) {
	var entries []domain.TranscriptEntry
	for rows.Next() {
		var e domain.TranscriptEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content, &e.ChartJSON, &e.Timestamp, &e.Seq); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Subscribe() <-chan string {
	ch := make(chan string, 64)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) notifySubscribers(sessionID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- sessionID:
		default:
			// Drop if subscriber is not consuming fast enough.
		}
	}
}

// Package sqlite implements store.Store on an embedded SQLite database, for
// single-machine deployments and the offline evaluation tool.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/MrWong99/readalong/pkg/store"
)

// Store is a store.Store backed by SQLite. Timestamps are stored as UTC
// RFC 3339 text so they sort lexically.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and applies migrations. The
// special path ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %q: %w", path, err)
	}
	// One connection keeps an in-memory database alive and serializes writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reading_sessions (
			id TEXT PRIMARY KEY,
			student_id TEXT NOT NULL,
			student_name TEXT NOT NULL,
			passage_id TEXT NOT NULL,
			passage_title TEXT NOT NULL,
			passage_text TEXT NOT NULL,
			accuracy REAL NOT NULL,
			pronunciation REAL NOT NULL,
			comprehension REAL NOT NULL,
			words_per_minute REAL NOT NULL,
			error_rate REAL NOT NULL,
			correct_words INTEGER NOT NULL,
			total_words INTEGER NOT NULL,
			level TEXT NOT NULL,
			words TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reading_sessions_student ON reading_sessions(student_id, ended_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite store: migrate: %w", err)
		}
	}
	return nil
}

const columns = `id, student_id, student_name, passage_id, passage_title, passage_text,
	accuracy, pronunciation, comprehension, words_per_minute, error_rate,
	correct_words, total_words, level, words, started_at, ended_at`

// Save upserts r.
func (s *Store) Save(ctx context.Context, r store.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	level, words, err := r.MarshalDetails()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reading_sessions (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			student_id = excluded.student_id, student_name = excluded.student_name,
			passage_id = excluded.passage_id, passage_title = excluded.passage_title,
			passage_text = excluded.passage_text, accuracy = excluded.accuracy,
			pronunciation = excluded.pronunciation, comprehension = excluded.comprehension,
			words_per_minute = excluded.words_per_minute, error_rate = excluded.error_rate,
			correct_words = excluded.correct_words, total_words = excluded.total_words,
			level = excluded.level, words = excluded.words,
			started_at = excluded.started_at, ended_at = excluded.ended_at`,
		r.SessionID, r.StudentID, r.StudentName, r.PassageID, r.PassageTitle, r.PassageText,
		r.Accuracy, r.Pronunciation, r.Comprehension, r.WordsPerMinute, r.ErrorRate,
		r.CorrectWords, r.TotalWords, string(level), string(words),
		formatTime(r.StartedAt), formatTime(r.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save %q: %w", r.SessionID, err)
	}
	return nil
}

// Get returns the record for sessionID.
func (s *Store) Get(ctx context.Context, sessionID string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM reading_sessions WHERE id = ?`, sessionID)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, fmt.Errorf("sqlite store: get %q: %w", sessionID, err)
	}
	return r, nil
}

// ListByStudent returns the records of studentID, newest first.
func (s *Store) ListByStudent(ctx context.Context, studentID string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM reading_sessions WHERE student_id = ? ORDER BY ended_at DESC LIMIT ?`,
		studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list %q: %w", studentID, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: list %q: %w", studentID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list %q: %w", studentID, err)
	}
	return out, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: ping: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (store.Record, error) {
	var (
		r                store.Record
		level, words     string
		started, stopped string
	)
	err := row.Scan(
		&r.SessionID, &r.StudentID, &r.StudentName, &r.PassageID, &r.PassageTitle, &r.PassageText,
		&r.Accuracy, &r.Pronunciation, &r.Comprehension, &r.WordsPerMinute, &r.ErrorRate,
		&r.CorrectWords, &r.TotalWords, &level, &words, &started, &stopped,
	)
	if err != nil {
		return store.Record{}, err
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return store.Record{}, fmt.Errorf("parse started_at: %w", err)
	}
	if r.EndedAt, err = time.Parse(time.RFC3339Nano, stopped); err != nil {
		return store.Record{}, fmt.Errorf("parse ended_at: %w", err)
	}
	if err := r.UnmarshalDetails([]byte(level), []byte(words)); err != nil {
		return store.Record{}, err
	}
	return r, nil
}

// formatTime renders t with a fixed-width fraction so text order matches
// time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

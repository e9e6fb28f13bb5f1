// Package postgres implements store.Store on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/readalong/pkg/store"
)

// Schema is the SQL DDL for the reading_sessions table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS reading_sessions (
    id               TEXT PRIMARY KEY,
    student_id       TEXT NOT NULL,
    student_name     TEXT NOT NULL DEFAULT '',
    passage_id       TEXT NOT NULL DEFAULT '',
    passage_title    TEXT NOT NULL DEFAULT '',
    passage_text     TEXT NOT NULL DEFAULT '',
    accuracy         DOUBLE PRECISION NOT NULL,
    pronunciation    DOUBLE PRECISION NOT NULL,
    comprehension    DOUBLE PRECISION NOT NULL,
    words_per_minute DOUBLE PRECISION NOT NULL,
    error_rate       DOUBLE PRECISION NOT NULL,
    correct_words    INTEGER NOT NULL,
    total_words      INTEGER NOT NULL,
    level            JSONB NOT NULL DEFAULT '{}',
    words            JSONB NOT NULL DEFAULT '[]',
    started_at       TIMESTAMPTZ NOT NULL,
    ended_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reading_sessions_student ON reading_sessions(student_id, ended_at DESC);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Store is a store.Store backed by PostgreSQL. Level and word verdicts are
// kept as JSONB.
type Store struct {
	db DB
}

var _ store.Store = (*Store)(nil)

// New returns a Store using db. Call [Store.Migrate] before the first query.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the reading_sessions table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
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

	const query = `
		INSERT INTO reading_sessions (` + columns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			student_id = EXCLUDED.student_id, student_name = EXCLUDED.student_name,
			passage_id = EXCLUDED.passage_id, passage_title = EXCLUDED.passage_title,
			passage_text = EXCLUDED.passage_text, accuracy = EXCLUDED.accuracy,
			pronunciation = EXCLUDED.pronunciation, comprehension = EXCLUDED.comprehension,
			words_per_minute = EXCLUDED.words_per_minute, error_rate = EXCLUDED.error_rate,
			correct_words = EXCLUDED.correct_words, total_words = EXCLUDED.total_words,
			level = EXCLUDED.level, words = EXCLUDED.words,
			started_at = EXCLUDED.started_at, ended_at = EXCLUDED.ended_at`

	_, err = s.db.Exec(ctx, query,
		r.SessionID, r.StudentID, r.StudentName, r.PassageID, r.PassageTitle, r.PassageText,
		r.Accuracy, r.Pronunciation, r.Comprehension, r.WordsPerMinute, r.ErrorRate,
		r.CorrectWords, r.TotalWords, level, words, r.StartedAt, r.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save %q: %w", r.SessionID, err)
	}
	return nil
}

// Get returns the record for sessionID.
func (s *Store) Get(ctx context.Context, sessionID string) (store.Record, error) {
	query := `SELECT ` + columns + ` FROM reading_sessions WHERE id = $1`
	r, err := scanRecord(s.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, fmt.Errorf("postgres store: get %q: %w", sessionID, err)
	}
	return r, nil
}

// ListByStudent returns the records of studentID, newest first.
func (s *Store) ListByStudent(ctx context.Context, studentID string, limit int) ([]store.Record, error) {
	query := `SELECT ` + columns + ` FROM reading_sessions WHERE student_id = $1 ORDER BY ended_at DESC`
	args := []any{studentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list %q: %w", studentID, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: list %q: %w", studentID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list %q: %w", studentID, err)
	}
	return out, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (store.Record, error) {
	var (
		r            store.Record
		level, words []byte
	)
	err := row.Scan(
		&r.SessionID, &r.StudentID, &r.StudentName, &r.PassageID, &r.PassageTitle, &r.PassageText,
		&r.Accuracy, &r.Pronunciation, &r.Comprehension, &r.WordsPerMinute, &r.ErrorRate,
		&r.CorrectWords, &r.TotalWords, &level, &words, &r.StartedAt, &r.EndedAt,
	)
	if err != nil {
		return store.Record{}, err
	}
	if err := r.UnmarshalDetails(level, words); err != nil {
		return store.Record{}, err
	}
	return r, nil
}

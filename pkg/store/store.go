// Package store defines persistence for finished reading sessions.
//
// Only refined results of complete sessions are saved. A [Record] carries the
// aggregate scores, the reading level and the per-word verdicts so progress
// reports can be built per student.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/readalong/pkg/provider/classifier"
)

// ErrNotFound is returned by Get for unknown session ids.
var ErrNotFound = errors.New("store: record not found")

// Word is the stored verdict of one expected word.
type Word struct {
	Index         int     `json:"index"`
	Expected      string  `json:"expected"`
	Heard         string  `json:"heard,omitempty"`
	Correct       bool    `json:"correct"`
	Pronunciation float64 `json:"pronunciation"`
	Source        string  `json:"source,omitempty"`
}

// Record is one persisted reading session.
type Record struct {
	SessionID   string `json:"session_id"`
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name,omitempty"`

	PassageID    string `json:"passage_id,omitempty"`
	PassageTitle string `json:"passage_title,omitempty"`
	PassageText  string `json:"passage_text"`

	Accuracy       float64 `json:"accuracy"`
	Pronunciation  float64 `json:"pronunciation"`
	Comprehension  float64 `json:"comprehension"`
	WordsPerMinute float64 `json:"words_per_minute"`
	ErrorRate      float64 `json:"error_rate"`

	CorrectWords int `json:"correct_words"`
	TotalWords   int `json:"total_words"`

	Level classifier.Level `json:"level"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	Words []Word `json:"words"`
}

// Validate reports records that cannot be stored.
func (r Record) Validate() error {
	var errs []error
	if r.SessionID == "" {
		errs = append(errs, errors.New("session id is required"))
	}
	if r.StudentID == "" {
		errs = append(errs, errors.New("student id is required"))
	}
	if r.EndedAt.Before(r.StartedAt) {
		errs = append(errs, errors.New("session ends before it starts"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("store: invalid record: %w", err)
	}
	return nil
}

// MarshalDetails encodes the nested level and word verdicts for a JSON
// column.
func (r Record) MarshalDetails() (level, words []byte, err error) {
	if level, err = sonic.Marshal(r.Level); err != nil {
		return nil, nil, fmt.Errorf("store: marshal level: %w", err)
	}
	ws := r.Words
	if ws == nil {
		ws = []Word{}
	}
	if words, err = sonic.Marshal(ws); err != nil {
		return nil, nil, fmt.Errorf("store: marshal words: %w", err)
	}
	return level, words, nil
}

// UnmarshalDetails is the inverse of MarshalDetails.
func (r *Record) UnmarshalDetails(level, words []byte) error {
	if len(level) > 0 {
		if err := sonic.Unmarshal(level, &r.Level); err != nil {
			return fmt.Errorf("store: unmarshal level: %w", err)
		}
	}
	if len(words) > 0 {
		if err := sonic.Unmarshal(words, &r.Words); err != nil {
			return fmt.Errorf("store: unmarshal words: %w", err)
		}
	}
	return nil
}

// Store persists session records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save inserts r, replacing an existing record with the same session id.
	Save(ctx context.Context, r Record) error

	// Get returns the record for sessionID or ErrNotFound.
	Get(ctx context.Context, sessionID string) (Record, error)

	// ListByStudent returns up to limit records of a student, newest first.
	// A limit of zero or less returns all of them.
	ListByStudent(ctx context.Context, studentID string, limit int) ([]Record, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}

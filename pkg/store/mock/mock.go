// Package mock provides an in-memory store.Store for tests.
package mock

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/readalong/pkg/store"
)

// Store is an in-memory store.Store that records saves.
type Store struct {
	mu sync.Mutex

	// SaveErr and PingErr, if non-nil, are returned by Save and Ping.
	SaveErr error
	PingErr error

	records map[string]store.Record
	saves   []store.Record
}

// Save records r and stores it unless SaveErr is set.
func (s *Store) Save(_ context.Context, r store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, r)
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.records == nil {
		s.records = make(map[string]store.Record)
	}
	s.records[r.SessionID] = r
	return nil
}

// Get returns a stored record.
func (s *Store) Get(_ context.Context, id string) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return r, nil
}

// ListByStudent returns stored records of a student, newest first.
func (s *Store) ListByStudent(_ context.Context, studentID string, limit int) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Record
	for _, r := range s.records {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b store.Record) int { return cmp.Compare(b.EndedAt.UnixNano(), a.EndedAt.UnixNano()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping returns PingErr.
func (s *Store) Ping(context.Context) error { return s.PingErr }

// Saves returns every record passed to Save, including failed ones.
func (s *Store) Saves() []store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.saves)
}

var _ store.Store = (*Store)(nil)

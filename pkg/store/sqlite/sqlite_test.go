package sqlite_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/readalong/pkg/provider/classifier"
	"github.com/MrWong99/readalong/pkg/store"
	"github.com/MrWong99/readalong/pkg/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "nested", "readalong.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id, student string, ended time.Time) store.Record {
	return store.Record{
		SessionID:     id,
		StudentID:     student,
		PassageText:   "The cat sat.",
		Accuracy:      0.67,
		Pronunciation: 0.7,
		Comprehension: 0.5,
		CorrectWords:  2,
		TotalWords:    3,
		Level: classifier.Level{
			ID:         classifier.Frustration,
			Name:       classifier.Frustration.String(),
			Weaknesses: []string{"Needs improvement in word accuracy"},
		},
		StartedAt: ended.Add(-time.Minute),
		EndedAt:   ended,
		Words: []store.Word{
			{Index: 0, Expected: "the", Heard: "the", Correct: true, Pronunciation: 1},
			{Index: 1, Expected: "cat", Heard: "cap", Pronunciation: 0.4, Source: "reconciler"},
		},
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ended := time.Date(2026, 5, 1, 10, 0, 0, 123, time.UTC)
	want := record("s1", "kid", ended)

	if err := s.Save(t.Context(), want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get(t.Context(), "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Accuracy != want.Accuracy || got.TotalWords != 3 || got.PassageText != want.PassageText {
		t.Errorf("Get = %+v", got)
	}
	if !got.EndedAt.Equal(ended) || !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("times = %v..%v, want %v..%v", got.StartedAt, got.EndedAt, want.StartedAt, ended)
	}
	if got.Level.ID != classifier.Frustration || len(got.Level.Weaknesses) != 1 {
		t.Errorf("level = %+v", got.Level)
	}
	if len(got.Words) != 2 || got.Words[1] != want.Words[1] {
		t.Errorf("words = %+v", got.Words)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	r := record("s1", "kid", time.Now())
	if err := s.Save(t.Context(), r); err != nil {
		t.Fatal(err)
	}
	r.Comprehension = 0.9
	if err := s.Save(t.Context(), r); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, err := s.Get(t.Context(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Comprehension != 0.9 {
		t.Errorf("Comprehension = %v, want 0.9", got.Comprehension)
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	if _, err := s.Get(t.Context(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_RejectsInvalid(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	if err := s.Save(t.Context(), record("", "kid", time.Now())); err == nil {
		t.Error("Save accepted a record without session id")
	}
}

func TestStore_ListByStudent(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.Save(t.Context(), record(id, "kid", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Save(t.Context(), record("other", "someone", base)); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListByStudent(t.Context(), "kid", 0)
	if err != nil {
		t.Fatalf("ListByStudent: %v", err)
	}
	if len(all) != 3 || all[0].SessionID != "c" || all[2].SessionID != "a" {
		t.Errorf("ListByStudent order = %v", ids(all))
	}

	two, err := s.ListByStudent(t.Context(), "kid", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(two) != 2 || two[0].SessionID != "c" {
		t.Errorf("limited list = %v", ids(two))
	}

	none, err := s.ListByStudent(t.Context(), "ghost", 0)
	if err != nil || len(none) != 0 {
		t.Errorf("unknown student = %v, %v", ids(none), err)
	}
}

func TestStore_MemoryAndPing(t *testing.T) {
	t.Parallel()
	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Ping(t.Context()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := s.Save(t.Context(), record("m", "kid", time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Get(t.Context(), "m"); err != nil {
		t.Errorf("Get: %v", err)
	}
}

func ids(rs []store.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.SessionID
	}
	return out
}

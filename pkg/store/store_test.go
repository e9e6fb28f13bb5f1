package store_test

import (
	"testing"
	"time"

	"github.com/MrWong99/readalong/pkg/provider/classifier"
	"github.com/MrWong99/readalong/pkg/store"
)

func TestRecord_Validate(t *testing.T) {
	t.Parallel()
	now := time.Now()
	tests := []struct {
		name    string
		rec     store.Record
		wantErr bool
	}{
		{"valid", store.Record{SessionID: "s", StudentID: "kid", StartedAt: now, EndedAt: now.Add(time.Minute)}, false},
		{"no session", store.Record{StudentID: "kid"}, true},
		{"no student", store.Record{SessionID: "s"}, true},
		{"time reversed", store.Record{SessionID: "s", StudentID: "kid", StartedAt: now, EndedAt: now.Add(-time.Second)}, true},
	}
	for _, tt := range tests {
		if err := tt.rec.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestRecord_DetailsRoundTrip(t *testing.T) {
	t.Parallel()
	in := store.Record{
		Level: classifier.Level{ID: classifier.Independent, Name: "Independent Level", Strengths: []string{"Excellent word accuracy"}},
		Words: []store.Word{{Index: 0, Expected: "cat", Heard: "cat", Correct: true, Pronunciation: 1, Source: "reconciler"}},
	}
	level, words, err := in.MarshalDetails()
	if err != nil {
		t.Fatal(err)
	}
	var out store.Record
	if err := out.UnmarshalDetails(level, words); err != nil {
		t.Fatal(err)
	}
	if out.Level.ID != classifier.Independent || len(out.Level.Strengths) != 1 {
		t.Errorf("level = %+v", out.Level)
	}
	if len(out.Words) != 1 || out.Words[0] != in.Words[0] {
		t.Errorf("words = %+v", out.Words)
	}
}

func TestRecord_MarshalDetailsNilWords(t *testing.T) {
	t.Parallel()
	_, words, err := store.Record{}.MarshalDetails()
	if err != nil {
		t.Fatal(err)
	}
	if string(words) != "[]" {
		t.Errorf("words = %s, want []", words)
	}
}

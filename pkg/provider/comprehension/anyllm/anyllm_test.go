package anyllm

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

func TestParseScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		reply   string
		want    float64
		wantErr bool
	}{
		{"0.8", 0.8, false},
		{" 1 ", 1, false},
		{"Score: .25", 0.25, false},
		{"85", 0.85, false},
		{"250", 1, false},
		{"-3", 0, false},
		{"no idea", 0, true},
	}
	for _, tt := range tests {
		got, err := parseScore(tt.reply)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseScore(%q) err = %v", tt.reply, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseScore(%q) = %v, want %v", tt.reply, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("openai", "", anyllmlib.WithAPIKey("sk")); err == nil {
		t.Error("empty model accepted")
	}
	if _, err := New("telepathy", "m"); err == nil {
		t.Error("unknown provider accepted")
	}
}

func TestGrader_Score(t *testing.T) {
	t.Parallel()
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) == 2 {
			gotPrompt = body.Messages[1].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "0.7"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 1, "total_tokens": 11}
		}`))
	}))
	defer srv.Close()

	g, err := New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test"), anyllmlib.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Score(t.Context(), "the cat sat", "The cat sat on the mat.")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got != 0.7 {
		t.Errorf("Score = %v, want 0.7", got)
	}
	if !strings.Contains(gotPrompt, "The cat sat on the mat.") || !strings.Contains(gotPrompt, "the cat sat") {
		t.Errorf("prompt = %q", gotPrompt)
	}
	if g.Name() != "openai:gpt-4o-mini" {
		t.Errorf("Name() = %q", g.Name())
	}
}

package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/readalong/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "punctuate", "false", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_Options(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithEndpoint("ws://localhost:9/listen"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "host", "localhost:9", u.Host)
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
}

func TestBuildURL_LanguageOverriddenByCfg(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fr-FR", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestBuildURL_VocabularyKeyterms(t *testing.T) {
	p, _ := New("key")
	rawURL, err := p.buildURL(stt.StreamConfig{
		Vocabulary: []string{"The", "dragon", "flew", "over", "the", "Dragon's", "castle.", "castle"},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	got := u.Query()["keyterm"]
	want := []string{"dragon", "flew", "over", "dragon's", "castle"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("keyterm = %v, want %v", got, want)
	}
}

func TestKeyterms_Bounded(t *testing.T) {
	vocab := make([]string, 0, 200)
	for i := range 200 {
		vocab = append(vocab, "word"+strings.Repeat("x", i))
	}
	if got := keyterms(vocab); len(got) != maxKeyterms {
		t.Errorf("len = %d, want %d", len(got), maxKeyterms)
	}
}

// ---- response parsing ----

func TestParseResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 1.5,
		"duration": 1.0,
		"channel": {
			"alternatives": [{
				"transcript": "once upon",
				"confidence": 0.95,
				"words": [
					{"word": "once", "start": 1.6, "end": 1.9, "confidence": 0.97},
					{"word": "upon", "start": 2.0, "end": 2.4, "confidence": 0.62}
				]
			}]
		}
	}`)

	tr, ok := parseResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !tr.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "once upon", tr.Text)
	if len(tr.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(tr.Words))
	}
	if tr.Words[1].Confidence != 0.62 {
		t.Errorf("word[1] confidence = %v, want 0.62", tr.Words[1].Confidence)
	}
	if tr.Words[0].Start != 1600*time.Millisecond {
		t.Errorf("word[0] start = %v, want 1.6s", tr.Words[0].Start)
	}
	if tr.Timestamp != 1500*time.Millisecond || tr.Duration != time.Second {
		t.Errorf("timestamp/duration = %v/%v", tr.Timestamp, tr.Duration)
	}
}

func TestParseResponse_Partial(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"once","confidence":0.7,"words":[]}]}}`)
	tr, ok := parseResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if tr.IsFinal {
		t.Error("expected IsFinal=false for partial result")
	}
}

func TestParseResponse_Ignored(t *testing.T) {
	tests := map[string]string{
		"metadata":           `{"type":"Metadata","request_id":"abc"}`,
		"empty alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"empty final":        `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"  "}]}}`,
		"invalid json":       `{invalid`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, ok := parseResponse([]byte(raw)); ok {
				t.Error("expected ok=false")
			}
		})
	}
}

// ---- streaming ----

// fakeDeepgram accepts one connection, counts binary frames, and on
// CloseStream answers with a final result before closing.
func fakeDeepgram(t *testing.T, gotAudio chan<- int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		bytes := 0
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				bytes += len(msg)
				_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"on"}]}}`))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				gotAudio <- bytes
				_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"once","confidence":0.9,"words":[{"word":"once","start":0,"end":0.3,"confidence":0.9}]}]}}`))
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
}

func TestSession_FinalDeliveredOnClose(t *testing.T) {
	gotAudio := make(chan int, 1)
	srv := fakeDeepgram(t, gotAudio)
	defer srv.Close()

	p, _ := New("key", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	for range 3 {
		if err := h.SendAudio(make([]byte, 640)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	done := make(chan []stt.Transcript)
	go func() {
		var finals []stt.Transcript
		for tr := range h.Finals() {
			finals = append(finals, tr)
		}
		done <- finals
	}()
	go func() {
		for range h.Partials() {
		}
	}()

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := <-gotAudio; n != 3*640 {
		t.Errorf("server received %d bytes, want %d", n, 3*640)
	}
	finals := <-done
	if len(finals) != 1 || finals[0].Text != "once" {
		t.Fatalf("finals = %+v, want one 'once'", finals)
	}
	if err := h.SendAudio([]byte{0, 0}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStartStream_DialFailure(t *testing.T) {
	p, _ := New("wrong")
	srv := fakeDeepgram(t, make(chan int, 1))
	defer srv.Close()
	p.endpoint = "ws" + strings.TrimPrefix(srv.URL, "http")

	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Fatal("expected dial error for rejected credentials")
	}
}

// ---- constructor ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", defaultEndpoint, p.endpoint)
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}

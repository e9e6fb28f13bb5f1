package app_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/readalong/internal/app"
	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/session"
	notifymock "github.com/MrWong99/readalong/pkg/notify/mock"
	"github.com/MrWong99/readalong/pkg/provider/acoustic"
	acousticmock "github.com/MrWong99/readalong/pkg/provider/acoustic/mock"
	"github.com/MrWong99/readalong/pkg/provider/classifier"
	classifiermock "github.com/MrWong99/readalong/pkg/provider/classifier/mock"
	comprehensionmock "github.com/MrWong99/readalong/pkg/provider/comprehension/mock"
	sttmock "github.com/MrWong99/readalong/pkg/provider/stt/mock"
	storemock "github.com/MrWong99/readalong/pkg/store/mock"
)

// testConfig returns a config with defaults applied and the silence
// deadline disabled so tests only see fixed deadlines.
func testConfig() *config.Config {
	silence := time.Duration(0)
	cfg := &config.Config{Watchdog: config.WatchdogConfig{SilenceDeadline: &silence}}
	cfg.ApplyDefaults()
	return cfg
}

type fixture struct {
	session       *sttmock.Session
	stt           *sttmock.Provider
	acoustic      *acousticmock.Provider
	comprehension *comprehensionmock.Provider
	classifier    *classifiermock.Provider
	store         *storemock.Store
	notifier      *notifymock.Notifier
}

func newFixture() *fixture {
	sess := sttmock.NewSession(16)
	return &fixture{
		session:       sess,
		stt:           &sttmock.Provider{Session: sess},
		acoustic:      &acousticmock.Provider{Default: acoustic.Verdict{Correct: true, Confidence: 0.9}, ModelIDValue: "mock"},
		comprehension: &comprehensionmock.Provider{Result: 0.8},
		classifier:    &classifiermock.Provider{Level: classifier.Level{ID: classifier.Independent, Name: "Independent Level"}},
		store:         &storemock.Store{},
		notifier:      &notifymock.Notifier{},
	}
}

func (f *fixture) providers() *app.Providers {
	return &app.Providers{
		STT:           f.stt,
		Acoustic:      f.acoustic,
		Comprehension: f.comprehension,
		Classifier:    f.classifier,
		Store:         f.store,
		Notifier:      f.notifier,
	}
}

func (f *fixture) runner(t *testing.T, cfg *config.Config) *app.Runner {
	t.Helper()
	r := app.NewRunner(cfg, f.providers())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(3000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func start(t *testing.T, r *app.Runner, passage string) *app.Reading {
	t.Helper()
	rd, err := r.Start(t.Context(), app.SessionInfo{
		ID:          "s-1",
		StudentID:   "student-1",
		StudentName: "Ada",
		PassageID:   "p-1",
		PassageText: passage,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return rd
}

func wait(t *testing.T, rd *app.Reading) (session.Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	o, err := rd.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("reading did not finish in time")
	}
	return o, err
}

func TestRunner_CompleteReading(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rd := start(t, f.runner(t, testConfig()), "Once upon a time")

	// Two seconds of audio covers the 300 ms word slots of the final.
	for range 10 {
		if err := rd.Write(tone(3200)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	f.session.EmitFinal("once upon a time")

	o, err := wait(t, rd)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	res := o.Result
	if !res.Refined || res.TotalWords != 4 || res.CorrectWords != 4 || res.Accuracy != 1 {
		t.Errorf("refined result = %+v", res)
	}
	if res.Comprehension != 0.8 {
		t.Errorf("Comprehension = %v, want 0.8", res.Comprehension)
	}
	if res.Level.Name != "Independent Level" {
		t.Errorf("Level = %+v, want the classifier's level", res.Level)
	}
	for _, w := range res.Words {
		if w.Source != session.SourceReconciler || w.Pronunciation != 1 {
			t.Errorf("word %d = %+v, want acoustically reconciled", w.Index, w)
		}
	}

	// The full pass scores every heard word with its own audio.
	calls := f.acoustic.Calls()
	if len(calls) != 4 {
		t.Fatalf("acoustic calls = %d, want 4", len(calls))
	}
	for _, c := range calls {
		if len(c.Samples) == 0 {
			t.Errorf("word %q scored without audio", c.Expected)
		}
	}

	if got := f.comprehension.Calls(); len(got) != 1 || got[0].Heard != "once upon a time" {
		t.Errorf("comprehension calls = %+v", got)
	}

	saves := f.store.Saves()
	if len(saves) != 1 {
		t.Fatalf("saves = %d, want 1", len(saves))
	}
	rec := saves[0]
	if rec.SessionID != "s-1" || rec.StudentID != "student-1" || rec.TotalWords != 4 || len(rec.Words) != 4 {
		t.Errorf("record = %+v", rec)
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		t.Errorf("record ends before it starts: %v .. %v", rec.StartedAt, rec.EndedAt)
	}

	msgs := f.notifier.Messages()
	if len(msgs) != 1 || !msgs[0].Complete || msgs[0].Record.SessionID != "s-1" {
		t.Errorf("notifications = %+v", msgs)
	}

	if f.session.Bytes() != 10*3200*2 {
		t.Errorf("engine received %d bytes, want %d", f.session.Bytes(), 10*3200*2)
	}
}

func TestRunner_ProvisionalPrecedesRefined(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.acoustic.Default = acoustic.Verdict{Correct: false, Confidence: 0.9}
	rd := start(t, f.runner(t, testConfig()), "the cat ran")
	if err := rd.Write(tone(16000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.session.EmitFinal("the cat ran")

	var updates []session.WordVerdict
	for v := range rd.Updates() {
		updates = append(updates, v)
	}
	// Three aligner verdicts, then three reconciler revisions.
	if len(updates) != 6 {
		t.Fatalf("updates = %d, want 6: %+v", len(updates), updates)
	}
	for i, v := range updates[:3] {
		if v.Source != session.SourceAligner || !v.Correct {
			t.Errorf("update %d = %+v, want correct aligner verdict", i, v)
		}
	}

	prov, ok := <-rd.Provisional()
	if !ok {
		t.Fatal("no provisional estimate")
	}
	if prov.Result.Refined || prov.Result.Accuracy != 1 || prov.Result.Comprehension != 0.5 {
		t.Errorf("provisional = %+v", prov.Result)
	}

	ref, ok := <-rd.Refined()
	if !ok {
		t.Fatal("no refined result")
	}
	if !ref.Result.Refined || ref.Result.Accuracy != 0 {
		t.Errorf("refined = %+v, want acoustic verdicts to override", ref.Result)
	}
}

func TestRunner_SubstitutionDowngradesWord(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rd := start(t, f.runner(t, testConfig()), "my father")
	if err := rd.Write(tone(16000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.session.EmitFinal("my pather")

	o, err := wait(t, rd)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	w := o.Result.Words[1]
	if w.Correct || w.Substitution == "" {
		t.Errorf("father = %+v, want downgraded by the substitution table", w)
	}
	if !o.Result.Words[0].Correct {
		t.Errorf("my = %+v, want correct", o.Result.Words[0])
	}
	if o.Result.Accuracy != 0.5 {
		t.Errorf("Accuracy = %v, want 0.5", o.Result.Accuracy)
	}
}

func TestRunner_IncompleteReadingIsNotPersisted(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rd := start(t, f.runner(t, testConfig()), "the cat ran home")
	f.session.EmitFinal("the cat")
	rd.Stop()

	o, err := wait(t, rd)
	var inc *session.IncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("Wait error = %v, want IncompleteError", err)
	}
	if inc.Detected != 2 || inc.Total != 4 {
		t.Errorf("IncompleteError = %+v, want 2 of 4", inc)
	}
	if o.Result.MaxIndexReached != 1 {
		t.Errorf("MaxIndexReached = %d, want 1", o.Result.MaxIndexReached)
	}
	if n := len(f.store.Saves()); n != 0 {
		t.Errorf("saves = %d, want 0", n)
	}
	msgs := f.notifier.Messages()
	if len(msgs) != 1 || msgs[0].Complete || msgs[0].Error == "" {
		t.Errorf("notifications = %+v, want one incomplete message", msgs)
	}

	if err := rd.Write(tone(320)); !errors.Is(err, app.ErrReadingStopped) {
		t.Errorf("Write after stop = %v, want ErrReadingStopped", err)
	}
}

func TestRunner_WatchdogSkipsSilentWord(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Watchdog.Deadline = 50 * time.Millisecond
	cfg.Watchdog.ComplexWordDeadline = 50 * time.Millisecond

	f := newFixture()
	// Queued before the reading starts so "the" is matched well inside its
	// deadline.
	f.session.EmitFinal("the")
	rd := start(t, f.runner(t, cfg), "the cat")

	o, err := wait(t, rd)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	cat := o.Result.Words[1]
	if !cat.Finished || cat.Correct || cat.Source != session.SourceWatchdog {
		t.Errorf("cat = %+v, want timed out by the watchdog", cat)
	}
	if o.Result.AttemptedWords != 2 || o.Result.CorrectWords != 1 {
		t.Errorf("result = %+v", o.Result)
	}
	if len(f.store.Saves()) != 1 {
		t.Error("complete reading was not persisted")
	}
}

func TestRunner_LateFinalBeatsSilenceDeadline(t *testing.T) {
	t.Parallel()

	// Defaults, including the 500 ms silence deadline.
	cfg := &config.Config{}
	cfg.ApplyDefaults()

	f := newFixture()
	rd := start(t, f.runner(t, cfg), "once upon a time")
	if err := rd.Write(tone(3200)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rd.Write(make([]int16, 16000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// A batch engine answers only after its own end-of-speech detection and
	// inference, without any partial first.
	time.Sleep(700 * time.Millisecond)
	f.session.EmitFinal("once upon a time")

	o, err := wait(t, rd)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	for _, w := range o.Result.Words {
		if !w.Correct || w.Heard == "" {
			t.Errorf("word %d = %+v, want heard and correct", w.Index, w)
		}
	}
	if o.Result.Accuracy != 1 {
		t.Errorf("Accuracy = %v, want 1", o.Result.Accuracy)
	}
}

func TestRunner_AcousticModelUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.acoustic.ScoreErr = acoustic.ErrModelUnavailable
	rd := start(t, f.runner(t, testConfig()), "once upon a time")
	if err := rd.Write(tone(32000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.session.EmitFinal("once upon a time")

	o, err := wait(t, rd)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if o.Result.Accuracy != 1 {
		t.Errorf("Accuracy = %v, want text verdicts kept", o.Result.Accuracy)
	}
	for _, w := range o.Result.Words {
		if w.Pronunciation == 0 || w.Pronunciation == 1 {
			t.Errorf("word %d pronunciation = %v, want the text estimate", w.Index, w.Pronunciation)
		}
	}
}

func TestRunner_NoAcousticModel(t *testing.T) {
	t.Parallel()

	f := newFixture()
	p := f.providers()
	p.Acoustic = nil
	r := app.NewRunner(testConfig(), p)
	t.Cleanup(func() { _ = r.Close(context.Background()) })

	rd := start(t, r, "once upon a time")
	f.session.EmitFinal("once upon a time")
	o, err := wait(t, rd)
	if err != nil || o.Result.CorrectWords != 4 {
		t.Errorf("Wait = %+v, %v", o.Result, err)
	}
}

func TestRunner_ComprehensionFailureIsNeutral(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.comprehension.ScoreErr = errors.New("model offline")
	rd := start(t, f.runner(t, testConfig()), "once upon a time")
	f.session.EmitFinal("once upon a time")

	o, err := wait(t, rd)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if o.Result.Comprehension != 0.5 {
		t.Errorf("Comprehension = %v, want 0.5", o.Result.Comprehension)
	}
}

func TestRunner_PersistFailureIsSurfaced(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.SaveErr = errors.New("disk full")
	rd := start(t, f.runner(t, testConfig()), "once upon a time")
	f.session.EmitFinal("once upon a time")

	o, err := wait(t, rd)
	if !errors.Is(err, app.ErrPersist) {
		t.Fatalf("Wait error = %v, want ErrPersist", err)
	}
	if !o.Result.Refined {
		t.Errorf("outcome = %+v, want the refined result alongside the error", o.Result)
	}
	if len(f.store.Saves()) != 1 {
		t.Errorf("saves = %d, want exactly one attempt", len(f.store.Saves()))
	}
	if msgs := f.notifier.Messages(); len(msgs) != 1 || !msgs[0].Complete {
		t.Errorf("notifications = %+v", msgs)
	}
}

func TestRunner_StartErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*app.Providers, *fixture)
		passage string
		want    error
	}{
		{
			name:    "engine fails to start",
			mutate:  func(_ *app.Providers, f *fixture) { f.stt.StartStreamErr = errors.New("no credentials") },
			passage: "the cat",
			want:    app.ErrTranscriptionUnavailable,
		},
		{
			name:    "no engine",
			mutate:  func(p *app.Providers, _ *fixture) { p.STT = nil },
			passage: "the cat",
			want:    app.ErrTranscriptionUnavailable,
		},
		{
			name:    "empty passage",
			mutate:  func(*app.Providers, *fixture) {},
			passage: " ... ",
			want:    app.ErrEmptyPassage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			p := f.providers()
			tt.mutate(p, f)
			r := app.NewRunner(testConfig(), p)
			t.Cleanup(func() { _ = r.Close(context.Background()) })

			_, err := r.Start(t.Context(), app.SessionInfo{ID: "x", StudentID: "s", PassageText: tt.passage})
			if !errors.Is(err, tt.want) {
				t.Errorf("Start error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRunner_PassesVocabularyToEngine(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rd := start(t, f.runner(t, testConfig()), "The cat, sat.")
	rd.Stop()
	_, _ = wait(t, rd)

	calls := f.stt.Calls()
	if len(calls) != 1 {
		t.Fatalf("StartStream calls = %d, want 1", len(calls))
	}
	cfg := calls[0].Cfg
	if cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Errorf("stream config = %+v", cfg)
	}
	if len(cfg.Vocabulary) != 3 {
		t.Errorf("Vocabulary = %v, want 3 words", cfg.Vocabulary)
	}
}

func TestRunner_ContextCancelEndsReading(t *testing.T) {
	t.Parallel()

	f := newFixture()
	r := f.runner(t, testConfig())
	ctx, cancel := context.WithCancel(t.Context())
	rd, err := r.Start(ctx, app.SessionInfo{ID: "c", StudentID: "s", PassageText: "the cat ran"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.session.EmitFinal("the")
	cancel()

	_, err = wait(t, rd)
	if !errors.Is(err, session.ErrIncompleteSession) {
		t.Errorf("Wait error = %v, want ErrIncompleteSession", err)
	}
	if _, ok := <-rd.Provisional(); !ok {
		t.Error("provisional estimate missing after cancellation")
	}
}

func TestRunner_CloseRefusesNewReadings(t *testing.T) {
	t.Parallel()

	f := newFixture()
	r := app.NewRunner(testConfig(), f.providers())
	if err := r.Close(t.Context()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Start(t.Context(), app.SessionInfo{ID: "x", StudentID: "s", PassageText: "cat"}); err == nil {
		t.Error("Start after Close succeeded")
	}
}

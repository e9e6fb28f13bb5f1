// Package vosk provides an offline transcription provider backed by the Vosk
// (Kaldi) recognizer. libvosk must be available at link time.
//
// Vosk reports a confidence and a start/end time for every word, which makes
// it a good fit for confidence-based sampling on low-power deployments.
package vosk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/MrWong99/readalong/pkg/provider/stt"
)

const defaultSampleRate = 16000

// recognizer is the subset of *vosk.VoskRecognizer the session uses.
type recognizer interface {
	AcceptWaveform(buffer []byte) int
	Result() string
	PartialResult() string
	FinalResult() string
	Free()
}

// Provider implements stt.Provider with a Vosk model. The model is loaded
// once and shared; each session creates its own recognizer.
type Provider struct {
	model *vosk.VoskModel
}

var _ stt.Provider = (*Provider)(nil)

// New loads the Vosk model directory at modelPath.
func New(modelPath string) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("vosk: modelPath must not be empty")
	}
	vosk.SetLogLevel(-1)
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("vosk: load model %q: %w", modelPath, err)
	}
	return &Provider{model: model}, nil
}

// Close releases the model.
func (p *Provider) Close() error {
	if p.model != nil {
		p.model.Free()
	}
	return nil
}

// StartStream creates a recognizer with per-word output enabled.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("vosk: context already cancelled: %w", err)
	}
	if cfg.Channels > 1 {
		return nil, fmt.Errorf("vosk: unsupported channel count %d, need mono", cfg.Channels)
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	rec, err := vosk.NewRecognizer(p.model, float64(sr))
	if err != nil {
		return nil, fmt.Errorf("vosk: create recognizer: %w", err)
	}
	rec.SetWords(1)
	return newSession(rec), nil
}

// ---- session ----

type session struct {
	rec      recognizer
	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

func newSession(rec recognizer) *session {
	s := &session{
		rec:      rec,
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	s.audioCh <- chunk
	return nil
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close feeds any queued audio, emits the recognizer's final result, and
// frees the recognizer.
func (s *session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.done)
		s.mu.Unlock()
		s.wg.Wait()
	})
	return nil
}

// loop is the only goroutine touching the recognizer, which is not safe for
// concurrent use.
func (s *session) loop() {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)
	defer s.rec.Free()

	var lastPartial string
	feed := func(chunk []byte) {
		if s.rec.AcceptWaveform(chunk) != 0 {
			s.emitFinal(s.rec.Result())
			lastPartial = ""
			return
		}
		if p := parsePartial(s.rec.PartialResult()); p != "" && p != lastPartial {
			lastPartial = p
			s.partials <- stt.Transcript{Text: p}
		}
	}

	for {
		select {
		case chunk := <-s.audioCh:
			feed(chunk)
		case <-s.done:
			for {
				select {
				case chunk := <-s.audioCh:
					feed(chunk)
				default:
					s.emitFinal(s.rec.FinalResult())
					return
				}
			}
		}
	}
}

func (s *session) emitFinal(raw string) {
	t, ok := parseResult(raw)
	if !ok {
		return
	}
	s.finals <- t
}

// result mirrors the JSON Vosk returns with SetWords enabled.
type result struct {
	Text   string `json:"text"`
	Result []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Conf  float64 `json:"conf"`
	} `json:"result"`
}

// parseResult converts a Vosk final result into a Transcript. ok is false
// for empty or malformed results.
func parseResult(raw string) (t stt.Transcript, ok bool) {
	var r result
	if err := sonic.UnmarshalString(raw, &r); err != nil {
		slog.Debug("vosk: malformed result", "err", err)
		return stt.Transcript{}, false
	}
	if r.Text == "" || len(r.Result) == 0 {
		return stt.Transcript{}, false
	}
	words := make([]stt.WordDetail, len(r.Result))
	var confSum float64
	for i, w := range r.Result {
		words[i] = stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Conf,
		}
		confSum += w.Conf
	}
	return stt.Transcript{
		Text:       r.Text,
		IsFinal:    true,
		Confidence: confSum / float64(len(words)),
		Words:      words,
		Timestamp:  words[0].Start,
		Duration:   words[len(words)-1].End - words[0].Start,
	}, true
}

func parsePartial(raw string) string {
	var p struct {
		Partial string `json:"partial"`
	}
	if err := sonic.UnmarshalString(raw, &p); err != nil {
		return ""
	}
	return p.Partial
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

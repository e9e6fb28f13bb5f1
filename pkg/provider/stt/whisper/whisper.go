// Package whisper provides a local transcription provider backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH.
//
// whisper.cpp is not a streaming recognizer, so each session buffers speech
// and runs inference whenever a pause follows it. Results are emitted as
// finals with one WordDetail per word, timed relative to the stream start.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/readalong/pkg/provider/stt"
)

const (
	// silenceRMS is the chunk RMS, in raw 16-bit units, below which audio
	// counts as a pause. The conditioner zeroes gated frames, so anything
	// quieter than this is either silence or residual hiss.
	silenceRMS = 300.0

	bytesPerMs = 32 // 16 kHz, mono, 16-bit

	defaultLanguage            = "en"
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider with a whisper.cpp model. The model is
// loaded once and shared; each inference creates its own context.
type Provider struct {
	model               whisperlib.Model
	language            string
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default language code (e.g. "en"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThresholdMs sets how much trailing silence triggers inference
// on the buffered speech. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the longest stretch of speech buffered before
// inference is forced. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Provider{
		model:               model,
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a session. The vocabulary hint is deliberately not used
// as an initial prompt: priming whisper with the passage makes it report the
// expected word even when the reader said something else.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if cfg.SampleRate != 0 && cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("whisper: unsupported sample rate %d, need 16000", cfg.SampleRate)
	}
	if cfg.Channels > 1 {
		return nil, fmt.Errorf("whisper: unsupported channel count %d, need mono", cfg.Channels)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}

	s := &session{
		model:          p.model,
		language:       lang,
		silenceMs:      p.silenceThresholdMs,
		maxBufferBytes: p.maxBufferDurationMs * bytesPerMs,
		audioCh:        make(chan []byte, 256),
		partials:       make(chan stt.Transcript, 64),
		finals:         make(chan stt.Transcript, 64),
		done:           make(chan struct{}),
	}
	s.inferFn = s.infer

	s.wg.Add(1)
	go s.processLoop()
	return s, nil
}

// ---- session ----

type session struct {
	model          whisperlib.Model
	language       string
	silenceMs      int
	maxBufferBytes int

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	// inferFn runs recognition on a buffer; replaced in tests.
	inferFn func(pcm []byte) ([]stt.WordDetail, error)

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

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

// Close transcribes any buffered speech, emits the result, and closes the
// output channels.
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

// processLoop owns all buffering state. streamBytes counts every byte ever
// received so buffered speech can be placed on the stream timeline.
func (s *session) processLoop() {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer      []byte
		bufStart    int
		streamBytes int
		hadSpeech   bool
		silentMs    int
	)

	flush := func() {
		pcm, start, speech := buffer, bufStart, hadSpeech
		buffer, hadSpeech, silentMs = nil, false, 0
		if len(pcm) == 0 || !speech {
			return
		}
		s.emit(pcm, start)
	}

	handle := func(chunk []byte) {
		if len(buffer) == 0 {
			bufStart = streamBytes
		}
		streamBytes += len(chunk)
		if chunkRMS(chunk) < silenceRMS {
			if !hadSpeech {
				return
			}
			silentMs += len(chunk) / bytesPerMs
			buffer = append(buffer, chunk...)
			if silentMs >= s.silenceMs {
				flush()
			}
			return
		}
		hadSpeech = true
		silentMs = 0
		buffer = append(buffer, chunk...)
		if s.maxBufferBytes > 0 && len(buffer) >= s.maxBufferBytes {
			flush()
		}
	}

	for {
		select {
		case chunk := <-s.audioCh:
			handle(chunk)
		case <-s.done:
			for {
				select {
				case chunk := <-s.audioCh:
					handle(chunk)
				default:
					flush()
					return
				}
			}
		}
	}
}

// emit runs inference on pcm, which started startByte bytes into the
// stream, and publishes the words as one final transcript.
func (s *session) emit(pcm []byte, startByte int) {
	words, err := s.inferFn(pcm)
	if err != nil {
		slog.Error("whisper: inference failed", "err", err)
		return
	}
	if len(words) == 0 {
		return
	}
	offset := time.Duration(startByte/bytesPerMs) * time.Millisecond
	texts := make([]string, len(words))
	var confSum float64
	for i := range words {
		words[i].Start += offset
		words[i].End += offset
		texts[i] = words[i].Word
		confSum += words[i].Confidence
	}
	text := strings.Join(texts, " ")
	s.partials <- stt.Transcript{Text: text}
	s.finals <- stt.Transcript{
		Text:       text,
		IsFinal:    true,
		Confidence: confSum / float64(len(words)),
		Words:      words,
		Timestamp:  offset,
		Duration:   time.Duration(len(pcm)/bytesPerMs) * time.Millisecond,
	}
}

// infer runs whisper.cpp with one word per segment so every segment carries
// its own timing.
func (s *session) infer(pcm []byte) ([]stt.WordDetail, error) {
	wctx, err := s.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", s.language, "err", err)
	}
	wctx.SetTokenTimestamps(true)
	wctx.SetSplitOnWord(true)
	wctx.SetMaxSegmentLength(1)

	if err := wctx.Process(pcmToFloat32(pcm), nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var words []stt.WordDetail
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		toks := make([]tokenScore, len(seg.Tokens))
		for i, tok := range seg.Tokens {
			toks[i] = tokenScore{text: tok.Text, p: tok.P}
		}
		words = append(words, stt.WordDetail{
			Word:       text,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: wordConfidence(toks),
		})
	}
	return words, nil
}

type tokenScore struct {
	text string
	p    float32
}

// wordConfidence averages the probabilities of the text tokens in a segment,
// skipping whisper's control tokens.
func wordConfidence(toks []tokenScore) float64 {
	var sum float64
	n := 0
	for _, t := range toks {
		if strings.HasPrefix(t.text, "[_") || strings.HasPrefix(t.text, "<|") {
			continue
		}
		sum += float64(t.p)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

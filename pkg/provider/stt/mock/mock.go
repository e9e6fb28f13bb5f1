// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to push controlled Transcript values into the
// pipeline and inspect which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession(8)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.EmitFinal("once upon a time")
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/readalong/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, a new Session with buffered
	// channels is created per call.
	Session *Session

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(16), nil
}

// Calls returns a copy of the recorded StartStream calls. Thread-safe.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.StartStreamCalls...)
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle. Tests push results
// with EmitPartial/EmitFinal or by sending on the channels directly. Close
// delivers FinalOnClose (if set) and closes both channels once.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// FinalOnClose, if non-nil, is emitted on FinalsCh during Close, the way
	// a real engine flushes its last hypothesis.
	FinalOnClose *stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// BytesReceived counts audio bytes delivered through SendAudio.
	BytesReceived int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed    bool
	closeOnce sync.Once
}

// NewSession returns a Session whose channels have the given buffer size.
func NewSession(buffer int) *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, buffer),
		FinalsCh:   make(chan stt.Transcript, buffer),
	}
}

// SendAudio records the chunk size and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	s.BytesReceived += len(chunk)
	return s.SendAudioErr
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// EmitPartial sends an interim transcript of text.
func (s *Session) EmitPartial(text string) {
	s.PartialsCh <- stt.Transcript{Text: text}
}

// EmitFinal sends a final transcript of text with one WordDetail per
// whitespace-separated token. Each word gets confidence 0.95 and a 300 ms
// slot starting at the given offset into the stream.
func (s *Session) EmitFinal(text string) {
	s.FinalsCh <- Final(text, 0, 0.95)
}

// Final builds a final transcript of text with per-word timings starting at
// start, 300 ms per word, each carrying conf.
func Final(text string, start time.Duration, conf float64) stt.Transcript {
	fields := strings.Fields(text)
	words := make([]stt.WordDetail, len(fields))
	at := start
	for i, f := range fields {
		words[i] = stt.WordDetail{Word: f, Start: at, End: at + 300*time.Millisecond, Confidence: conf}
		at += 300 * time.Millisecond
	}
	return stt.Transcript{
		Text:       text,
		IsFinal:    true,
		Confidence: conf,
		Words:      words,
		Timestamp:  start,
		Duration:   at - start,
	}
}

// Close records the call, flushes FinalOnClose and closes both channels the
// first time.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		if s.FinalOnClose != nil {
			s.FinalsCh <- *s.FinalOnClose
		}
		close(s.PartialsCh)
		close(s.FinalsCh)
	})
	return s.CloseErr
}

// Bytes returns BytesReceived. Thread-safe.
func (s *Session) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.BytesReceived
}

var _ stt.SessionHandle = (*Session)(nil)

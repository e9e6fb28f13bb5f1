// Package stt defines the Provider interface for the transcription engines
// that feed the reading assessment pipeline.
//
// A provider wraps a streaming recognizer (Deepgram, a local whisper.cpp model,
// or a Vosk model) and exposes a uniform interface. Once opened, a session
// accepts raw 16-bit PCM and emits two streams of Transcript values: interim
// partials that are display-only, and authoritative finals whose per-word
// timings and confidences drive alignment and later acoustic re-scoring.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The pipeline always sends
	// 16000.
	SampleRate int

	// Channels is the number of audio channels. The pipeline always sends mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// Vocabulary lists the words of the passage being read. Providers use it
	// as a recognition hint where supported (keyword boosting, a restricted
	// grammar, or an initial prompt); others ignore it.
	Vocabulary []string
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of little-endian 16-bit PCM matching the
	// StreamConfig. Calling SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. They may be revised by later
	// results and must never be scored. The channel is closed when the
	// session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts carrying per-word detail. The
	// channel is closed when the session ends.
	Finals() <-chan Transcript

	// Close asks the engine to finalize any buffered audio, emits the
	// resulting finals, and releases resources. The Partials and Finals
	// channels are closed once the last result has been delivered. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// StartStream opens a new streaming session. It returns an error if the
	// engine cannot be initialized; callers treat that as an infrastructure
	// failure and do not start the reading session.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

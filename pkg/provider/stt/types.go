package stt

import (
	"strings"
	"time"
)

// Transcript is one recognition result. Partial and final results share the
// type; only finals carry reliable Words.
type Transcript struct {
	// Text is the recognized speech.
	Text string

	// IsFinal is true for committed results.
	IsFinal bool

	// Confidence is the overall confidence (0.0–1.0). Zero when the engine
	// does not report one.
	Confidence float64

	// Words holds per-word timing and confidence. Nil for engines without
	// word-level output, in which case [Transcript.Tokens] falls back to
	// splitting Text.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to stream start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata. Start and End are relative to the start
// of the stream.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Tokens returns the recognized words of t. When the engine reported
// per-word detail it is returned as is; otherwise Text is split on whitespace
// and each token inherits the utterance confidence and spans the whole
// utterance.
func (t Transcript) Tokens() []WordDetail {
	if len(t.Words) > 0 {
		return t.Words
	}
	fields := strings.Fields(t.Text)
	out := make([]WordDetail, len(fields))
	for i, f := range fields {
		out[i] = WordDetail{
			Word:       f,
			Start:      t.Timestamp,
			End:        t.Timestamp + t.Duration,
			Confidence: t.Confidence,
		}
	}
	return out
}

// Package acoustic defines the Provider interface for pronunciation models
// that judge a single word from its audio.
//
// The acoustic pass runs after a reading session ends. It re-scores words
// whose transcription confidence was low (or every word, when the session
// completed normally) and its verdict takes priority over the text-based
// verdict from alignment.
//
// Implementations must be safe for concurrent use.
package acoustic

import (
	"context"
	"errors"
)

// ErrModelUnavailable is returned by providers whose model could not be
// loaded. Callers fall back to text-based scoring.
var ErrModelUnavailable = errors.New("acoustic: model unavailable")

// Verdict is a model's judgement of one spoken word.
type Verdict struct {
	// Correct is true when the model judges the word pronounced correctly.
	Correct bool

	// Confidence is the model's probability for its own decision, in [0, 1].
	Confidence float64
}

// Provider scores the pronunciation of one word.
type Provider interface {
	// Score judges samples, 16 kHz mono PCM of a single word already
	// normalized to the model's training level, against the expected word.
	// Empty samples yield an incorrect verdict, not an error.
	Score(ctx context.Context, samples []int16, expected string) (Verdict, error)

	// ModelID identifies the model for logs and metrics.
	ModelID() string
}

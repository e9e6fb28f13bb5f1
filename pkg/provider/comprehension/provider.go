// Package comprehension defines the Provider interface for scorers that rate
// how much of a passage the reader's spoken text conveys.
//
// Comprehension is only scored in the background refinement pass. A missing
// or failing scorer is never fatal: callers fall back to [Neutral].
package comprehension

import "context"

// Neutral is the score used when no scorer result is available.
const Neutral = 0.5

// Provider scores heard text against the expected passage.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Score returns a comprehension score in [0, 1].
	Score(ctx context.Context, heard, passage string) (float64, error)

	// Name identifies the scorer for logs and metrics.
	Name() string
}

// Clamp limits s to [0, 1].
func Clamp(s float64) float64 { return min(max(s, 0), 1) }

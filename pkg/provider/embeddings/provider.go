// Package embeddings defines the Provider interface for text embedding
// backends.
//
// The comprehension scorer embeds what the reader said and the passage they
// were given and compares the two vectors. Backends are either remote (the
// OpenAI API) or a local sentence-transformer run with ONNX Runtime.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
	"math"
)

// ErrDimensionMismatch is returned by [Cosine] for vectors of different
// lengths.
var ErrDimensionMismatch = errors.New("embeddings: dimension mismatch")

// Provider maps text to dense vectors. Every vector from one Provider has
// length Dimensions.
type Provider interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in order. On error no partial
	// result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the vector length.
	Dimensions() int

	// ModelID identifies the model for logs and metrics.
	ModelID() string
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. It is zero when
// either vector has no magnitude.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

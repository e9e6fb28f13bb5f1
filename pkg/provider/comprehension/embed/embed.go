// Package embed scores comprehension as the semantic similarity of the heard
// text and the passage.
package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/readalong/pkg/provider/comprehension"
	"github.com/MrWong99/readalong/pkg/provider/embeddings"
)

var _ comprehension.Provider = (*Scorer)(nil)

// Scorer maps the cosine similarity s of the two embeddings to (s+1)/2.
type Scorer struct {
	emb embeddings.Provider
}

// New returns a Scorer using emb.
func New(emb embeddings.Provider) *Scorer { return &Scorer{emb: emb} }

// Name implements comprehension.Provider.
func (s *Scorer) Name() string { return "embed:" + s.emb.ModelID() }

// Score implements comprehension.Provider. Nothing heard scores zero without
// calling the model.
func (s *Scorer) Score(ctx context.Context, heard, passage string) (float64, error) {
	if strings.TrimSpace(heard) == "" {
		return 0, nil
	}
	vecs, err := s.emb.EmbedBatch(ctx, []string{heard, passage})
	if err != nil {
		return 0, fmt.Errorf("comprehension: embed: %w", err)
	}
	if len(vecs) != 2 {
		return 0, fmt.Errorf("comprehension: embed: got %d vectors, want 2", len(vecs))
	}
	sim, err := embeddings.Cosine(vecs[0], vecs[1])
	if err != nil {
		return 0, fmt.Errorf("comprehension: %w", err)
	}
	return comprehension.Clamp((sim + 1) / 2), nil
}

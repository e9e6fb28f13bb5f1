// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/readalong/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors maps a text to its vector. Texts without an entry get Default.
	Vectors map[string][]float32
	Default []float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	DimensionsValue int
	ModelIDValue    string

	calls [][]string
}

// Embed returns the vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch records texts and returns their vectors.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, slices.Clone(texts))
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := p.Vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = p.Default
		}
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// Calls returns the texts of every embed call, one slice per call.
func (p *Provider) Calls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

var _ embeddings.Provider = (*Provider)(nil)

package resilience

import (
	"context"

	"github.com/MrWong99/readalong/pkg/provider/acoustic"
)

// AcousticFallback is an [acoustic.Provider] backed by a [FallbackGroup].
// Once every model's breaker is open, Score fails fast with an error
// wrapping [ErrCircuitOpen] and the sampler stops re-scoring.
type AcousticFallback struct {
	group *FallbackGroup[acoustic.Provider]
}

var _ acoustic.Provider = (*AcousticFallback)(nil)

// NewAcousticFallback returns an AcousticFallback preferring primary.
func NewAcousticFallback(primary acoustic.Provider, primaryName string, cfg FallbackConfig) *AcousticFallback {
	return &AcousticFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another model.
func (f *AcousticFallback) AddFallback(name string, p acoustic.Provider) {
	f.group.AddFallback(name, p)
}

// Breakers returns the per-model breakers.
func (f *AcousticFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// Available reports whether any model would accept a call.
func (f *AcousticFallback) Available() bool { return f.group.Available() }

// Score implements [acoustic.Provider].
func (f *AcousticFallback) Score(ctx context.Context, samples []int16, expected string) (acoustic.Verdict, error) {
	return ExecuteWithResult(f.group, func(p acoustic.Provider) (acoustic.Verdict, error) {
		return p.Score(ctx, samples, expected)
	})
}

// ModelID returns the primary model's ID.
func (f *AcousticFallback) ModelID() string { return f.group.Primary().ModelID() }

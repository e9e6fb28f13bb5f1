package resilience

import (
	"context"

	"github.com/MrWong99/readalong/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens the stream on the first
// healthy engine. Failover covers stream start only; a session that breaks
// mid-reading is not moved to another engine, since word timings would no
// longer share a timeline.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an STTFallback preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another engine.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Breakers returns the per-engine breakers.
func (f *STTFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// StartStream implements [stt.Provider].
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// Package mock provides a test double for the comprehension.Provider
// interface.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/readalong/pkg/provider/comprehension"
)

// ScoreCall records one Score invocation.
type ScoreCall struct {
	Heard   string
	Passage string
}

// Provider is a mock implementation of comprehension.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Score.
	Result float64

	// ScoreErr, if non-nil, is returned as the error from Score.
	ScoreErr error

	NameValue string

	calls []ScoreCall
}

// Score records the call and returns Result, ScoreErr.
func (p *Provider) Score(_ context.Context, heard, passage string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ScoreCall{Heard: heard, Passage: passage})
	if p.ScoreErr != nil {
		return 0, p.ScoreErr
	}
	return p.Result, nil
}

// Name returns NameValue, or "mock".
func (p *Provider) Name() string {
	if p.NameValue == "" {
		return "mock"
	}
	return p.NameValue
}

// Calls returns every recorded Score call.
func (p *Provider) Calls() []ScoreCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

var _ comprehension.Provider = (*Provider)(nil)

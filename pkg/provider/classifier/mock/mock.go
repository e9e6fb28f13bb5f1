// Package mock provides a test double for the classifier.Provider interface.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/readalong/pkg/provider/classifier"
)

// Provider is a mock implementation of classifier.Provider.
type Provider struct {
	mu sync.Mutex

	// Level is returned by Classify.
	Level classifier.Level

	// ClassifyErr, if non-nil, is returned as the error from Classify.
	ClassifyErr error

	calls []classifier.Input
}

// Classify records the input and returns Level, ClassifyErr.
func (p *Provider) Classify(_ context.Context, in classifier.Input) (classifier.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, in)
	if p.ClassifyErr != nil {
		return classifier.Level{}, p.ClassifyErr
	}
	return p.Level, nil
}

// Calls returns every input passed to Classify.
func (p *Provider) Calls() []classifier.Input {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

var _ classifier.Provider = (*Provider)(nil)

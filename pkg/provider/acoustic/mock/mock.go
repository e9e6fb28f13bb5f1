// Package mock provides a test double for the acoustic.Provider interface.
//
// Verdicts are looked up by expected word; unknown words get Default.
//
//	p := &mock.Provider{
//	    Verdicts: map[string]acoustic.Verdict{"father": {Correct: false, Confidence: 0.9}},
//	    Default:  acoustic.Verdict{Correct: true, Confidence: 0.8},
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/readalong/pkg/provider/acoustic"
)

// ScoreCall records a single invocation of Score.
type ScoreCall struct {
	Samples  []int16
	Expected string
}

// Provider is a mock implementation of acoustic.Provider.
type Provider struct {
	mu sync.Mutex

	// Verdicts maps an expected word to the verdict returned for it.
	Verdicts map[string]acoustic.Verdict

	// Default is returned for words missing from Verdicts.
	Default acoustic.Verdict

	// Errs maps an expected word to an error returned for it.
	Errs map[string]error

	// ScoreErr, if non-nil, is returned for every word.
	ScoreErr error

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	calls []ScoreCall
}

// Score records the call and returns the configured verdict.
func (p *Provider) Score(_ context.Context, samples []int16, expected string) (acoustic.Verdict, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ScoreCall{Samples: slices.Clone(samples), Expected: expected})
	if p.ScoreErr != nil {
		return acoustic.Verdict{}, p.ScoreErr
	}
	if err, ok := p.Errs[expected]; ok {
		return acoustic.Verdict{}, err
	}
	if len(samples) == 0 {
		return acoustic.Verdict{Correct: false, Confidence: 1}, nil
	}
	if v, ok := p.Verdicts[expected]; ok {
		return v, nil
	}
	return p.Default, nil
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// Calls returns a copy of every Score invocation so far.
func (p *Provider) Calls() []ScoreCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

var _ acoustic.Provider = (*Provider)(nil)

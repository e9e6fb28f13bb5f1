// Package anyllm scores comprehension with a language model reached through
// github.com/mozilla-ai/any-llm-go, which speaks to OpenAI, Anthropic,
// Gemini, Ollama and other backends behind one interface.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/readalong/pkg/provider/comprehension"
)

const systemPrompt = `You grade children's oral reading. You are given the passage a child was asked to read and a machine transcript of what the child said.
Rate how completely and faithfully the transcript conveys the meaning of the passage, from 0 (nothing) to 1 (all of it).
Ignore spelling, punctuation and recognition artifacts. Reply with the number only.`

var _ comprehension.Provider = (*Grader)(nil)

var scorePattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// Grader implements comprehension.Provider.
type Grader struct {
	backend  anyllmlib.Provider
	provider string
	model    string
}

// New returns a Grader for providerName, one of "openai", "anthropic",
// "gemini" or "ollama". opts are any-llm-go options such as
// anyllmlib.WithAPIKey; without a key the backend reads its usual environment
// variable.
func New(providerName, model string, opts ...anyllmlib.Option) (*Grader, error) {
	if model == "" {
		return nil, errors.New("anyllm comprehension: model must not be empty")
	}
	var (
		backend anyllmlib.Provider
		err     error
	)
	switch strings.ToLower(providerName) {
	case "openai":
		backend, err = anyllmoai.New(opts...)
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "gemini":
		backend, err = gemini.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("anyllm comprehension: unsupported provider %q", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("anyllm comprehension: create %q backend: %w", providerName, err)
	}
	return &Grader{backend: backend, provider: strings.ToLower(providerName), model: model}, nil
}

// Name implements comprehension.Provider.
func (g *Grader) Name() string { return g.provider + ":" + g.model }

// Score implements comprehension.Provider.
func (g *Grader) Score(ctx context.Context, heard, passage string) (float64, error) {
	if strings.TrimSpace(heard) == "" {
		return 0, nil
	}
	temp := 0.0
	maxTokens := 8
	resp, err := g.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: g.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: "user", Content: "Passage:\n" + passage + "\n\nTranscript:\n" + heard},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return 0, fmt.Errorf("anyllm comprehension: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, errors.New("anyllm comprehension: empty choices in response")
	}
	return parseScore(resp.Choices[0].Message.ContentString())
}

// parseScore reads the first number in reply. Percentages are scaled down.
func parseScore(reply string) (float64, error) {
	m := scorePattern.FindString(reply)
	if m == "" {
		return 0, fmt.Errorf("anyllm comprehension: no score in reply %q", reply)
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, fmt.Errorf("anyllm comprehension: parse %q: %w", m, err)
	}
	if v > 1 && v <= 100 {
		v /= 100
	}
	return comprehension.Clamp(v), nil
}

// Package rules implements the reading-level classifier as a weighted blend
// of accuracy and pronunciation with fixed level cut-offs.
package rules

import (
	"context"
	"fmt"

	"github.com/MrWong99/readalong/pkg/provider/classifier"
)

// Classifier is the rule-based [classifier.Provider]. The zero value uses
// the standard cut-offs.
type Classifier struct {
	// IndependentAt and InstructionalAt are the combined-score cut-offs.
	// Defaults 0.90 and 0.75.
	IndependentAt   float64
	InstructionalAt float64
}

var _ classifier.Provider = (*Classifier)(nil)

// New returns a Classifier with the standard cut-offs.
func New() *Classifier {
	return &Classifier{IndependentAt: 0.90, InstructionalAt: 0.75}
}

// Combined is the score levels are assigned by: the mean of accuracy and
// pronunciation.
func Combined(in classifier.Input) float64 {
	return 0.5*in.Accuracy + 0.5*in.Pronunciation
}

// Classify implements [classifier.Provider]. It never fails.
func (c *Classifier) Classify(_ context.Context, in classifier.Input) (classifier.Level, error) {
	indep, instr := c.IndependentAt, c.InstructionalAt
	if indep <= 0 {
		indep = 0.90
	}
	if instr <= 0 {
		instr = 0.75
	}

	score := Combined(in)
	id := classifier.Frustration
	switch {
	case score >= indep:
		id = classifier.Independent
	case score >= instr:
		id = classifier.Instructional
	}
	return classifier.Level{
		ID:              id,
		Name:            id.String(),
		Description:     id.Description(),
		Score:           score,
		Strengths:       strengths(in),
		Weaknesses:      weaknesses(in),
		Recommendations: recommendations(id, in),
	}, nil
}

func strengths(in classifier.Input) []string {
	var out []string
	if in.Accuracy >= 0.85 {
		out = append(out, "Excellent word recognition")
	}
	if in.Pronunciation >= 0.75 {
		out = append(out, "Good pronunciation skills")
	}
	if in.Comprehension >= 0.80 {
		out = append(out, "Strong text comprehension")
	}
	switch {
	case in.WordsPerMinute >= 80:
		out = append(out, "Excellent reading fluency")
	case in.WordsPerMinute >= 60:
		out = append(out, "Good reading pace")
	case in.WordsPerMinute >= 40:
		out = append(out, "Steady reading progress")
	}
	if len(out) == 0 {
		out = append(out, "Shows effort and willingness to learn")
	}
	return out
}

func weaknesses(in classifier.Input) []string {
	var out []string
	if in.Accuracy < 0.70 {
		out = append(out, "Word recognition needs practice")
	}
	if in.Pronunciation < 0.60 {
		out = append(out, "Pronunciation needs improvement")
	}
	if in.Comprehension < 0.65 {
		out = append(out, "Text comprehension needs work")
	}
	if in.WordsPerMinute > 0 && in.WordsPerMinute < 40 {
		out = append(out, "Reading speed could be faster")
	}
	if in.ErrorRate > 0.20 {
		out = append(out, "High error rate")
	}
	if len(out) == 0 {
		out = append(out, "Continue practicing for mastery")
	}
	return out
}

func recommendations(id classifier.LevelID, in classifier.Input) []string {
	out := []string{fmt.Sprintf("Accuracy: %.0f%%", in.Accuracy*100)}
	switch id {
	case classifier.Frustration:
		out = append(out,
			"Material is too difficult - use easier texts",
			"Build foundational reading skills",
			"Practice with high-frequency words",
			"Provide one-on-one support",
			"Focus on phonics and decoding",
		)
	case classifier.Instructional:
		out = append(out,
			"Appropriate level with teacher guidance",
			"Continue guided reading practice",
			"Work on challenging words",
		)
		if in.Pronunciation < 0.70 {
			out = append(out, "Improve pronunciation skills")
		}
		if in.Comprehension < 0.75 {
			out = append(out, "Practice comprehension strategies")
		}
		out = append(out, "Read aloud daily (15-20 min)")
	case classifier.Independent:
		out = append(out,
			"Excellent! Can read independently",
			"Ready for more challenging texts",
			"Encourage independent reading",
			"Focus on comprehension depth",
			"Explore diverse reading materials",
		)
	}
	return out
}

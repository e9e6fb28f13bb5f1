// Package classifier defines the Provider interface for reading-level
// classifiers.
//
// A classifier turns the aggregate scores of a reading session into one of
// the three classic reading levels, with notes a teacher can act on.
package classifier

import "context"

// LevelID is one of the three reading levels, easiest material first.
type LevelID int

const (
	Frustration LevelID = iota
	Instructional
	Independent
)

// String returns the level's display name.
func (l LevelID) String() string {
	switch l {
	case Frustration:
		return "Frustration Level"
	case Instructional:
		return "Instructional Level"
	case Independent:
		return "Independent Level"
	default:
		return "Unknown Level"
	}
}

// Description returns a one-line explanation of the level for teachers.
func (l LevelID) Description() string {
	switch l {
	case Frustration:
		return "Material is too difficult; student needs easier texts"
	case Instructional:
		return "Student can read with teacher guidance and support"
	case Independent:
		return "Student can read independently with high accuracy"
	default:
		return ""
	}
}

// Input holds the session scores, each in [0, 1] except WordsPerMinute.
type Input struct {
	Accuracy       float64
	Pronunciation  float64
	Comprehension  float64
	WordsPerMinute float64
	ErrorRate      float64
}

// Level is a classification with supporting notes.
type Level struct {
	ID          LevelID  `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Score       float64  `json:"score"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`

	Recommendations []string `json:"recommendations"`
}

// Provider classifies session scores. Implementations must be safe for
// concurrent use.
type Provider interface {
	Classify(ctx context.Context, in Input) (Level, error)
}

package rules_test

import (
	"context"
	"slices"
	"testing"

	"github.com/MrWong99/readalong/pkg/provider/classifier"
	"github.com/MrWong99/readalong/pkg/provider/classifier/rules"
)

func TestClassify_Levels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   classifier.Input
		want classifier.LevelID
	}{
		{"perfect", classifier.Input{Accuracy: 1, Pronunciation: 1}, classifier.Independent},
		{"independent boundary", classifier.Input{Accuracy: 0.9, Pronunciation: 0.9}, classifier.Independent},
		{"instructional", classifier.Input{Accuracy: 0.85, Pronunciation: 0.7}, classifier.Instructional},
		{"instructional boundary", classifier.Input{Accuracy: 0.75, Pronunciation: 0.75}, classifier.Instructional},
		{"frustration", classifier.Input{Accuracy: 0.6, Pronunciation: 0.5}, classifier.Frustration},
		{"comprehension does not count", classifier.Input{Accuracy: 0.6, Pronunciation: 0.5, Comprehension: 1}, classifier.Frustration},
	}
	c := rules.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := c.Classify(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.ID != tt.want {
				t.Errorf("level = %v, want %v", got.ID, tt.want)
			}
			if got.Name != tt.want.String() || got.Description == "" {
				t.Errorf("name/description = %q/%q", got.Name, got.Description)
			}
			if want := rules.Combined(tt.in); got.Score != want {
				t.Errorf("score = %v, want %v", got.Score, want)
			}
		})
	}
}

func TestClassify_Notes(t *testing.T) {
	t.Parallel()
	c := &rules.Classifier{}

	strong, _ := c.Classify(context.Background(), classifier.Input{
		Accuracy: 0.95, Pronunciation: 0.9, Comprehension: 0.85, WordsPerMinute: 95,
	})
	for _, want := range []string{"Excellent word recognition", "Good pronunciation skills", "Strong text comprehension", "Excellent reading fluency"} {
		if !slices.Contains(strong.Strengths, want) {
			t.Errorf("strengths %v missing %q", strong.Strengths, want)
		}
	}
	if !slices.Equal(strong.Weaknesses, []string{"Continue practicing for mastery"}) {
		t.Errorf("weaknesses = %v", strong.Weaknesses)
	}

	weak, _ := c.Classify(context.Background(), classifier.Input{
		Accuracy: 0.5, Pronunciation: 0.4, Comprehension: 0.3, WordsPerMinute: 20, ErrorRate: 0.5,
	})
	if !slices.Equal(weak.Strengths, []string{"Shows effort and willingness to learn"}) {
		t.Errorf("strengths = %v", weak.Strengths)
	}
	if len(weak.Weaknesses) != 5 {
		t.Errorf("weaknesses = %v, want all five", weak.Weaknesses)
	}
	if weak.Recommendations[0] != "Accuracy: 50%" {
		t.Errorf("first recommendation = %q", weak.Recommendations[0])
	}
}

func TestClassify_InstructionalRecommendations(t *testing.T) {
	t.Parallel()
	lvl, _ := rules.New().Classify(context.Background(), classifier.Input{
		Accuracy: 0.95, Pronunciation: 0.65, Comprehension: 0.5,
	})
	if lvl.ID != classifier.Instructional {
		t.Fatalf("level = %v", lvl.ID)
	}
	for _, want := range []string{"Improve pronunciation skills", "Practice comprehension strategies"} {
		if !slices.Contains(lvl.Recommendations, want) {
			t.Errorf("recommendations %v missing %q", lvl.Recommendations, want)
		}
	}
}

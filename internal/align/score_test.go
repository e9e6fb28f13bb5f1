package align_test

import (
	"testing"

	"github.com/MrWong99/readalong/internal/align"
)

func TestScorer_Score(t *testing.T) {
	t.Parallel()
	s := align.NewScorer(nil)

	tests := []struct {
		name     string
		heard    string
		expected string
		min, max float64
	}{
		{"exact", "Time", "time.", 1, 1},
		{"concatenated", "some thing", "something", 0.95, 0.95},
		{"ph confusion", "fone", "phone", 0.85, 0.85},
		{"ck confusion", "bak", "back", 0.85, 0.85},
		{"vowel swap rejected", "father", "feather", 0, 0.6},
		{"carry vs cherry", "carry", "cherry", 0, 0.6},
		{"short word mismatch", "cat", "the", 0, 0},
		{"one letter off short word", "cap", "cat", 0.76, 0.77},
		{"dropped ending", "walkin", "walking", 0.93, 0.94},
		{"empty heard", "", "cat", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := s.Score(tt.heard, tt.expected)
			if got < tt.min-1e-9 || got > tt.max+1e-9 {
				t.Errorf("Score(%q, %q) = %.3f, want [%.2f, %.2f]", tt.heard, tt.expected, got, tt.min, tt.max)
			}
		})
	}
}

func TestScorer_Deterministic(t *testing.T) {
	t.Parallel()
	s := align.NewScorer(nil)
	first := s.Score("sinking", "singing")
	for range 10 {
		if got := s.Score("sinking", "singing"); got != first {
			t.Fatalf("Score not deterministic: %v then %v", first, got)
		}
	}
}

func TestScorer_CustomConfusions(t *testing.T) {
	t.Parallel()
	s := align.NewScorer([]align.Confusion{{From: "z", To: "s"}})
	if got := s.Score("zun", "sun"); got != 0.85 {
		t.Errorf("custom confusion score = %v, want 0.85", got)
	}
	if got := s.Score("fone", "phone"); got == 0.85 {
		t.Error("default confusions should not apply with a custom table")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	if got := align.Normalize("Don't-Stop 2!"); got != "dontstop2" {
		t.Errorf("Normalize = %q", got)
	}
}

package align

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Confusion is a spelling substitution a transcription engine is known to
// make independently of what the reader said, such as "ph" for "f". It is
// not a pronunciation variant: "feather" and "father" must never be
// normalised together.
type Confusion struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DefaultConfusions is the built-in engine confusion table.
var DefaultConfusions = []Confusion{
	{From: "ph", To: "f"},
	{From: "ck", To: "k"},
	{From: "qu", To: "kw"},
	{From: "x", To: "ks"},
}

// Scores of the non-edit-distance match kinds.
const (
	scoreExact       = 1.0
	scoreConcat      = 0.95
	scoreSoundsAlike = 0.85
)

// Scorer computes the match score between a heard token and an expected word.
// It is read-only after construction and safe for concurrent use.
type Scorer struct {
	replacer *strings.Replacer
}

// NewScorer returns a Scorer using the given confusion table. A nil table
// uses [DefaultConfusions].
func NewScorer(confusions []Confusion) *Scorer {
	if confusions == nil {
		confusions = DefaultConfusions
	}
	pairs := make([]string, 0, len(confusions)*2)
	for _, c := range confusions {
		if c.From == "" {
			continue
		}
		pairs = append(pairs, c.From, c.To)
	}
	return &Scorer{replacer: strings.NewReplacer(pairs...)}
}

// Score returns a match score in [0, 1]. heard may contain several
// space-separated tokens; they are compared both as written and joined.
//
//   - identical spellings score 1.0;
//   - tokens that concatenate to the expected word score 0.95;
//   - spellings equal after the confusion table is applied score 0.85;
//   - otherwise 1 − editDistance/maxLength, penalised 0.15 per vowel
//     difference and adjusted for word length.
func (s *Scorer) Score(heard, expected string) float64 {
	heard = strings.TrimSpace(normalizeKeepSpaces(heard))
	expected = Normalize(expected)
	if heard == expected {
		return scoreExact
	}
	joined := strings.ReplaceAll(heard, " ", "")
	if joined == expected && expected != "" {
		return scoreConcat
	}
	if s.soundsAlike(joined, expected) {
		return scoreSoundsAlike
	}

	maxLen := max(len(joined), len(expected))
	if maxLen == 0 {
		return 0
	}
	dist := matchr.Levenshtein(joined, expected)
	sim := 1 - float64(dist)/float64(maxLen)
	sim -= 0.15 * float64(vowelDifferences(joined, expected))

	firstMatch := joined != "" && expected != "" && joined[0] == expected[0]
	if len(expected) <= 3 {
		if dist > 1 {
			sim *= 0.5
		}
		if firstMatch && len(joined) == len(expected) {
			sim += 0.10
		}
	} else {
		if firstMatch {
			sim += 0.08
		}
		switch diff := abs(len(joined) - len(expected)); {
		case diff > 2:
			sim *= 0.80
		case diff > 1:
			sim *= 0.90
		}
	}
	return min(1, max(0, sim))
}

// soundsAlike reports whether two spellings match after the confusion table
// is applied, or are at least 90% similar afterwards. Words whose lengths
// differ by more than one letter never sound alike.
func (s *Scorer) soundsAlike(a, b string) bool {
	if a == "" || b == "" || abs(len(a)-len(b)) > 1 {
		return false
	}
	a, b = s.replacer.Replace(a), s.replacer.Replace(b)
	if a == b {
		return true
	}
	maxLen := max(len(a), len(b))
	return 1-float64(matchr.Levenshtein(a, b))/float64(maxLen) >= 0.90
}

// vowelDifferences counts positional vowel mismatches between a and b. A
// vowel-count gap larger than one is treated as two differences outright.
func vowelDifferences(a, b string) int {
	va, vb := vowels(a), vowels(b)
	if abs(len(va)-len(vb)) > 1 {
		return 2
	}
	diff := abs(len(va) - len(vb))
	for i := range min(len(va), len(vb)) {
		if va[i] != vb[i] {
			diff++
		}
	}
	return diff
}

func vowels(w string) string {
	var b strings.Builder
	for i := 0; i < len(w); i++ {
		switch w[i] {
		case 'a', 'e', 'i', 'o', 'u':
			b.WriteByte(w[i])
		}
	}
	return b.String()
}

// Normalize lower-cases w and keeps only ASCII letters and digits.
func Normalize(w string) string {
	return strings.ReplaceAll(normalizeKeepSpaces(w), " ", "")
}

func normalizeKeepSpaces(w string) string {
	var b strings.Builder
	b.Grow(len(w))
	for _, r := range strings.ToLower(w) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

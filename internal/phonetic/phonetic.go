// Package phonetic cross-checks the words a transcription engine reports
// against the words a reader was expected to say.
//
// Streaming recognizers normalise what they hear toward dictionary words, so
// a child saying "singin" is often reported as "singing". The [Checker]
// compares the heard and expected spellings independently of the aligner
// (Soundex and Double Metaphone codes plus a Levenshtein similarity), and
// [Checker.Confirm] applies the veto policy: it may downgrade an aligner
// verdict from correct to incorrect but never rescues an incorrect one.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultVetoSimilarity is the similarity below which an aligner "correct"
// verdict is overridden.
const DefaultVetoSimilarity = 0.75

// closeSimilarity marks an attempt as close enough to count as a try at the
// word, independent of the veto threshold.
const closeSimilarity = 0.6

// Result describes how closely a heard word matches the expected one.
type Result struct {
	Heard    string
	Expected string

	// HeardCode and ExpectedCode are the Soundex codes of the normalised
	// spellings.
	HeardCode    string
	ExpectedCode string

	// EditDistance is the Levenshtein distance between the normalised
	// spellings.
	EditDistance int

	// Similarity is 1 − EditDistance/maxLength, in [0, 1].
	Similarity float64

	// CodeMatch is true when the Soundex or Double Metaphone codes agree.
	CodeMatch bool

	// CloseEnough is true when the reader evidently attempted the word.
	CloseEnough bool
}

// Exact reports whether the normalised spellings are identical.
func (r Result) Exact() bool { return r.EditDistance == 0 && r.Expected != "" }

// Checker compares heard and expected words. The zero value is not usable;
// use [New]. A Checker is read-only after construction and safe for
// concurrent use.
type Checker struct {
	vetoSimilarity float64
}

// Option configures a [Checker].
type Option func(*Checker)

// WithVetoSimilarity sets the similarity below which Confirm overrides an
// aligner "correct" verdict. Default: [DefaultVetoSimilarity].
func WithVetoSimilarity(s float64) Option {
	return func(c *Checker) { c.vetoSimilarity = s }
}

// New returns a Checker configured with opts.
func New(opts ...Option) *Checker {
	c := &Checker{vetoSimilarity: DefaultVetoSimilarity}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Match compares heard against expected. Both are lower-cased and stripped
// of everything but letters before comparison.
func (c *Checker) Match(heard, expected string) Result {
	h, e := Normalize(heard), Normalize(expected)
	r := Result{Heard: h, Expected: e}

	r.HeardCode = soundex(h)
	r.ExpectedCode = soundex(e)
	r.CodeMatch = h != "" && e != "" && (r.HeardCode == r.ExpectedCode || metaphoneOverlap(h, e))

	r.EditDistance = matchr.Levenshtein(h, e)
	maxLen := max(len(h), len(e), 1)
	r.Similarity = 1 - float64(r.EditDistance)/float64(maxLen)
	r.CloseEnough = r.CodeMatch || r.Similarity >= closeSimilarity
	return r
}

// Confirm applies the veto policy to an aligner verdict:
//
//   - identical spellings are correct;
//   - an aligner "correct" survives when similarity is at least the veto
//     threshold;
//   - an aligner "correct" below the threshold becomes incorrect;
//   - an aligner "incorrect" stays incorrect.
func (c *Checker) Confirm(alignerCorrect bool, r Result) bool {
	if r.Exact() {
		return true
	}
	if !alignerCorrect {
		return false
	}
	return r.Similarity >= c.vetoSimilarity
}

// Normalize lower-cases w and drops every rune outside a–z.
func Normalize(w string) string {
	var b strings.Builder
	b.Grow(len(w))
	for _, r := range strings.ToLower(w) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func soundex(w string) string {
	if w == "" {
		return "0000"
	}
	return matchr.Soundex(w)
}

func metaphoneOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}

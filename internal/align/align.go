// Package align maps a stream of recognized words onto the expected word
// sequence of a reading passage.
//
// The [Aligner] keeps a cursor on the next unmatched expected word and only
// ever looks a short window ahead of it. Each recognized token is scored
// against the words in the window; a token that best matches the word one
// past the cursor means the reader skipped a word, which is marked incorrect.
// Tokens that match nothing well enough are treated as noise or insertions
// and produce no output: "not matched yet" is a normal result, not an error.
package align

import (
	"strings"
	"time"

	"github.com/MrWong99/readalong/internal/phonetic"
	"github.com/MrWong99/readalong/pkg/provider/stt"
)

// ExpectedWord is one word of the passage, in reading order.
type ExpectedWord struct {
	Text  string
	Index int
}

// Tokenize splits passage into expected words. Tokens with no letters or
// digits (stray punctuation, dashes) are dropped so every expected word can
// actually be spoken.
func Tokenize(passage string) []ExpectedWord {
	var words []ExpectedWord
	for _, f := range strings.Fields(passage) {
		if Normalize(f) == "" {
			continue
		}
		words = append(words, ExpectedWord{Text: f, Index: len(words)})
	}
	return words
}

// WordTimestamp locates a recognized word on the stream timeline. Start and
// End are relative to the start of recognition.
type WordTimestamp struct {
	Index      int
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Pronunciation estimates derived from text alone, used until the acoustic
// pass replaces them.
const (
	PronunciationSkipped = 0.2
)

// textPronunciation maps a match score to a fixed pronunciation estimate
// at the midpoint of each quality band.
func textPronunciation(score float64) float64 {
	switch {
	case score >= 0.98:
		return 0.90
	case score >= 0.90:
		return 0.80
	case score >= 0.80:
		return 0.70
	case score >= 0.70:
		return 0.60
	default:
		return 0.375
	}
}

// Match is the aligner's provisional verdict for one expected word.
type Match struct {
	// Index of the expected word.
	Index int

	// Expected is the passage text of the word.
	Expected string

	// Heard is the recognized text assigned to the word; empty for skipped
	// words.
	Heard string

	// Score is the match score in [0, 1]; zero for skipped words.
	Score float64

	// TextCorrect is the verdict from the match score alone.
	TextCorrect bool

	// Correct is TextCorrect after the phonetic cross-check.
	Correct bool

	// Vetoed is true when the cross-check overrode a correct text verdict.
	Vetoed bool

	// Skipped is true when the reader passed over the word.
	Skipped bool

	// Pronunciation is the text-derived pronunciation estimate.
	Pronunciation float64

	// Timing is where the word was heard. Nil for skipped words.
	Timing *WordTimestamp
}

// Thresholds are the minimum match scores for accepting a token, by the
// letter count of the expected word.
type Thresholds struct {
	UpTo2  float64 `yaml:"up_to_2"`
	Three  float64 `yaml:"three"`
	UpTo5  float64 `yaml:"up_to_5"`
	Longer float64 `yaml:"longer"`
}

// DefaultThresholds are stricter for short words, whose edit distance is
// noisy.
var DefaultThresholds = Thresholds{UpTo2: 0.90, Three: 0.80, UpTo5: 0.72, Longer: 0.68}

func (t Thresholds) forLength(n int) float64 {
	switch {
	case n <= 2:
		return t.UpTo2
	case n == 3:
		return t.Three
	case n <= 5:
		return t.UpTo5
	default:
		return t.Longer
	}
}

// Config tunes an [Aligner].
type Config struct {
	// LookAhead is the number of expected words, starting at the cursor,
	// that a token is scored against. Default 2.
	LookAhead int

	// Thresholds for accepting a match. Zero value uses DefaultThresholds.
	Thresholds Thresholds

	// CorrectScore is the score at or above which an accepted match counts
	// as correct. Default 0.80.
	CorrectScore float64

	// DisableSkip turns off the one-word-ahead skip rule. Tokens that best
	// match a later word are then discarded as noise.
	DisableSkip bool

	// Confusions is the engine confusion table. Nil uses DefaultConfusions.
	Confusions []Confusion
}

func (c *Config) applyDefaults() {
	if c.LookAhead <= 0 {
		c.LookAhead = 2
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds
	}
	if c.CorrectScore <= 0 {
		c.CorrectScore = 0.80
	}
}

// Aligner consumes final transcription results and assigns them to expected
// words. It is not safe for concurrent use: one goroutine owns it for the
// duration of a reading session.
type Aligner struct {
	cfg     Config
	words   []ExpectedWord
	norm    []string
	scorer  *Scorer
	checker *phonetic.Checker

	cursor int
	heard  []string
}

// Option configures an [Aligner].
type Option func(*Aligner)

// WithChecker enables the phonetic cross-check on accepted matches.
func WithChecker(c *phonetic.Checker) Option {
	return func(a *Aligner) { a.checker = c }
}

// New returns an Aligner over words.
func New(words []ExpectedWord, cfg Config, opts ...Option) *Aligner {
	cfg.applyDefaults()
	a := &Aligner{
		cfg:    cfg,
		words:  words,
		norm:   make([]string, len(words)),
		scorer: NewScorer(cfg.Confusions),
	}
	for i, w := range words {
		a.norm[i] = Normalize(w.Text)
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Consume aligns the words of one final transcription result and returns
// the verdicts it produced, in index order. A token that matches nothing
// produces no verdict. Consume is a no-op once the passage is complete.
func (a *Aligner) Consume(tokens []stt.WordDetail) []Match {
	var out []Match
	for i := 0; i < len(tokens) && !a.Complete(); i++ {
		tok := tokens[i]
		if Normalize(tok.Word) == "" {
			continue
		}
		a.heard = append(a.heard, tok.Word)

		idx, score := a.best(tok.Word)
		if idx < 0 && i+1 < len(tokens) {
			// A long word is sometimes split by the engine ("my man" for
			// "marian"); try the pair before giving up on the token.
			pair := tok.Word + " " + tokens[i+1].Word
			if pidx, pscore := a.best(pair); pidx >= 0 && pscore >= scoreConcat {
				a.heard = append(a.heard, tokens[i+1].Word)
				merged := tok
				merged.Word = pair
				merged.End = tokens[i+1].End
				merged.Confidence = min(tok.Confidence, tokens[i+1].Confidence)
				tok, idx, score = merged, pidx, pscore
				i++
			}
		}
		if idx < 0 {
			continue
		}
		switch offset := idx - a.cursor; {
		case offset == 0:
		case offset == 1 && !a.cfg.DisableSkip:
			out = append(out, a.skipCursor())
		default:
			continue
		}
		out = append(out, a.accept(tok, score))
	}
	return out
}

// best returns the index of the best-scoring expected word in the window
// and its score, or -1 when no word reaches its acceptance threshold.
// Earlier words win ties.
func (a *Aligner) best(heard string) (int, float64) {
	bestIdx, bestScore := -1, 0.0
	end := min(a.cursor+a.cfg.LookAhead, len(a.words))
	for i := a.cursor; i < end; i++ {
		if s := a.scorer.Score(heard, a.norm[i]); s > bestScore {
			bestIdx, bestScore = i, s
		}
	}
	if bestIdx < 0 || bestScore < a.cfg.Thresholds.forLength(len(a.norm[bestIdx])) {
		return -1, bestScore
	}
	return bestIdx, bestScore
}

func (a *Aligner) accept(tok stt.WordDetail, score float64) Match {
	w := a.words[a.cursor]
	m := Match{
		Index:         w.Index,
		Expected:      w.Text,
		Heard:         tok.Word,
		Score:         score,
		TextCorrect:   score >= a.cfg.CorrectScore,
		Pronunciation: textPronunciation(score),
		Timing: &WordTimestamp{
			Index:      w.Index,
			Start:      tok.Start,
			End:        tok.End,
			Confidence: tok.Confidence,
		},
	}
	m.Correct = m.TextCorrect
	if a.checker != nil {
		m.Correct = a.checker.Confirm(m.TextCorrect, a.checker.Match(tok.Word, w.Text))
		m.Vetoed = m.TextCorrect && !m.Correct
	}
	a.cursor++
	return m
}

func (a *Aligner) skipCursor() Match {
	w := a.words[a.cursor]
	a.cursor++
	return Match{
		Index:         w.Index,
		Expected:      w.Text,
		Skipped:       true,
		Pronunciation: PronunciationSkipped,
	}
}

// Skip marks the expected word at index as passed over, typically because
// its watchdog deadline elapsed, and advances the cursor. ok is false when
// index is not the word currently awaited (the word was matched in the
// meantime), in which case nothing changes.
func (a *Aligner) Skip(index int) (m Match, ok bool) {
	if a.Complete() || index != a.cursor {
		return Match{}, false
	}
	return a.skipCursor(), true
}

// Cursor returns the index of the next expected word awaiting a match.
func (a *Aligner) Cursor() int { return a.cursor }

// Current returns the expected word at the cursor. ok is false once the
// passage is complete.
func (a *Aligner) Current() (w ExpectedWord, ok bool) {
	if a.Complete() {
		return ExpectedWord{}, false
	}
	return a.words[a.cursor], true
}

// Complete reports whether every expected word has a verdict.
func (a *Aligner) Complete() bool { return a.cursor >= len(a.words) }

// HeardText returns every recognized token consumed so far, space-joined.
func (a *Aligner) HeardText() string { return strings.Join(a.heard, " ") }

// Package scoring reconciles the per-word verdicts produced while reading
// with the authoritative acoustic pass that runs afterwards.
//
// Three signals are combined for every expected word: the text verdict from
// alignment and phonetic cross-checking, the acoustic model's verdict when
// one exists, and a [Table] of known substitution errors. The acoustic
// verdict is primary. The table can only turn a correct word incorrect.
package scoring

import "github.com/MrWong99/readalong/pkg/provider/acoustic"

// Source names the signal that decided a word.
type Source string

const (
	SourceText     Source = "text"
	SourceAcoustic Source = "acoustic"
)

// Pronunciation assigned to a word that the substitution table downgraded
// without an acoustic verdict: the lowest text-derived band.
const pronunciationSubstituted = 0.375

// Input is everything known about one word when reconciliation runs.
type Input struct {
	Index    int
	Expected string

	// Heard is the recognized text assigned to the word, empty when the word
	// was skipped or timed out.
	Heard string

	// TextCorrect is the provisional verdict.
	TextCorrect bool

	// TextPronunciation is the text-derived pronunciation estimate.
	TextPronunciation float64

	// Acoustic is the acoustic model's verdict, nil when the word was not
	// re-scored.
	Acoustic *acoustic.Verdict
}

// Decision is the reconciled verdict for one word.
type Decision struct {
	Index   int
	Correct bool
	Source  Source

	// Pronunciation is the per-word pronunciation score: 1 or 0 for
	// acoustically judged words, the text estimate otherwise.
	Pronunciation float64

	// Substitution is the table rule that downgraded the word, if any.
	Substitution *Rule
}

// Changed reports whether the decision differs from the provisional text
// verdict of in.
func (d Decision) Changed(in Input) bool { return d.Correct != in.TextCorrect }

// Reconcile decides one word. It is a pure function of its arguments: the
// same input and table always give the same decision. A nil table applies no
// substitution rules.
func Reconcile(in Input, table *Table) Decision {
	d := Decision{
		Index:         in.Index,
		Correct:       in.TextCorrect,
		Source:        SourceText,
		Pronunciation: in.TextPronunciation,
	}
	if in.Acoustic != nil {
		d.Correct = in.Acoustic.Correct
		d.Source = SourceAcoustic
	}

	if d.Correct && table != nil && in.Heard != "" {
		if rule, ok := table.Lookup(in.Heard, in.Expected); ok {
			d.Correct = false
			d.Substitution = &rule
		}
	}

	switch {
	case in.Acoustic != nil && d.Correct:
		d.Pronunciation = 1
	case in.Acoustic != nil:
		d.Pronunciation = 0
	case d.Substitution != nil:
		d.Pronunciation = min(d.Pronunciation, pronunciationSubstituted)
	}
	return d
}

// ReconcileAll decides every word of a session, in input order.
func ReconcileAll(inputs []Input, table *Table) []Decision {
	out := make([]Decision, len(inputs))
	for i, in := range inputs {
		out[i] = Reconcile(in, table)
	}
	return out
}

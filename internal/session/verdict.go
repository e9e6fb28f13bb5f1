// Package session owns the per-word verdicts of one reading session and
// turns them into session results.
//
// The verdicts live in an arena indexed by word position that only the
// [Aggregator]'s goroutine touches. The aligner, the watchdog and the
// reconciler never write verdicts directly: they send [Proposal] values and
// the aggregator decides whether to accept them. Results are delivered twice,
// first as an immediate estimate once reading stops and then as the refined
// result after the acoustic pass.
package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrIncompleteSession matches every [*IncompleteError].
var ErrIncompleteSession = errors.New("session: incomplete reading")

// IncompleteError reports a session that ended before every expected word was
// heard. Such a session is never persisted.
type IncompleteError struct {
	Detected int
	Total    int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("session: only %d of %d words detected", e.Detected, e.Total)
}

// Is makes errors.Is(err, ErrIncompleteSession) hold.
func (e *IncompleteError) Is(target error) bool { return target == ErrIncompleteSession }

// Source identifies who proposed a verdict.
type Source string

const (
	SourceAligner    Source = "aligner"
	SourceWatchdog   Source = "watchdog"
	SourceReconciler Source = "reconciler"
)

// WordVerdict is the state of one expected word. Finished, Scored and
// Correct start false and only move forward; Correct may flip once when the
// reconciler overrides it.
type WordVerdict struct {
	Index    int    `json:"index"`
	Expected string `json:"expected"`
	Heard    string `json:"heard,omitempty"`

	Finished bool `json:"finished"`
	Scored   bool `json:"scored"`
	Correct  bool `json:"correct"`

	// Source is who last set Correct.
	Source Source `json:"source,omitempty"`

	// Pronunciation is the per-word pronunciation score in [0, 1].
	Pronunciation float64 `json:"pronunciation"`

	// Confidence is the recognizer's confidence in Heard.
	Confidence float64 `json:"confidence,omitempty"`

	// Substitution names the substitution rule that downgraded the word.
	Substitution string `json:"substitution,omitempty"`
}

// Proposal is a suggested verdict for one word.
type Proposal struct {
	Index   int
	Source  Source
	Correct bool

	Heard         string
	Pronunciation float64
	Confidence    float64
	Substitution  string
}

// Tally is the arithmetic over a set of verdicts.
type Tally struct {
	Total     int
	Attempted int
	Correct   int

	// MaxIndex is the highest finished word index, -1 when none is.
	MaxIndex int

	Accuracy       float64
	ErrorRate      float64
	WordsPerMinute float64

	// Pronunciation is the mean per-word pronunciation over attempted
	// words, 0.5 when nothing was attempted.
	Pronunciation float64
}

// Complete reports whether every word was attempted.
func (t Tally) Complete() bool { return t.Attempted == t.Total }

// Count tallies verdicts read over elapsed.
func Count(verdicts []WordVerdict, elapsed time.Duration) Tally {
	t := Tally{Total: len(verdicts), MaxIndex: -1, Pronunciation: 0.5}
	var pron float64
	for _, v := range verdicts {
		if !v.Finished {
			continue
		}
		t.Attempted++
		pron += v.Pronunciation
		if v.Correct {
			t.Correct++
		}
		t.MaxIndex = max(t.MaxIndex, v.Index)
	}
	if t.Attempted == 0 {
		return t
	}
	t.Accuracy = float64(t.Correct) / float64(t.Attempted)
	t.ErrorRate = 1 - t.Accuracy
	t.Pronunciation = pron / float64(t.Attempted)
	if secs := elapsed.Seconds(); secs > 0 {
		t.WordsPerMinute = float64(t.Attempted) * 60 / secs
	}
	return t
}

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/readalong/internal/align"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/provider/classifier"
)

// inboxSize bounds proposals queued ahead of the owning goroutine.
const inboxSize = 64

// Result is one session result. The immediate estimate approximates
// Pronunciation from text and Comprehension as 0.5; the refined result
// carries the reconciled verdicts and the scored comprehension.
type Result struct {
	SessionID string `json:"session_id"`

	Accuracy       float64 `json:"accuracy"`
	Pronunciation  float64 `json:"pronunciation"`
	Comprehension  float64 `json:"comprehension"`
	WordsPerMinute float64 `json:"words_per_minute"`
	ErrorRate      float64 `json:"error_rate"`

	CorrectWords   int `json:"correct_words"`
	AttemptedWords int `json:"attempted_words"`
	TotalWords     int `json:"total_words"`

	// MaxIndexReached is the highest finished word index, -1 when none is.
	MaxIndexReached int `json:"max_index_reached"`

	Elapsed time.Duration    `json:"elapsed"`
	Level   classifier.Level `json:"level"`
	Refined bool             `json:"refined"`

	Words []WordVerdict `json:"words"`
}

// Outcome is a result with the reason it must not be persisted, if any. Err
// is an [*IncompleteError] when reading ended early.
type Outcome struct {
	Result Result
	Err    error
}

// RefineInput carries what the background pass adds to the refined result.
type RefineInput struct {
	// Comprehension is the scored comprehension in [0, 1].
	Comprehension float64
}

type envelope struct {
	proposal *Proposal
	snapshot chan []WordVerdict
}

// Aggregator owns the verdict arena of one session.
//
// All methods are safe for concurrent use. Proposals are applied in the order
// they are received.
type Aggregator struct {
	id         string
	classifier classifier.Provider
	metrics    *observe.Metrics

	// arena is touched only by loop until exited is closed.
	arena []WordVerdict

	inbox   chan envelope
	updates chan WordVerdict
	done    chan struct{}
	exited  chan struct{}

	stopOnce  sync.Once
	startOnce sync.Once

	provisional     chan Outcome
	refined         chan Outcome
	provisionalOnce sync.Once
	refinedOnce     sync.Once

	mu      sync.Mutex
	elapsed time.Duration
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithClassifier sets the reading-level classifier. Without one every result
// is labelled Instructional.
func WithClassifier(c classifier.Provider) Option {
	return func(a *Aggregator) { a.classifier = c }
}

// WithMetrics records accepted verdicts and session outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// New returns an Aggregator for words. Call [Aggregator.Start] before
// proposing.
func New(id string, words []align.ExpectedWord, opts ...Option) *Aggregator {
	a := &Aggregator{
		id:          id,
		arena:       make([]WordVerdict, len(words)),
		inbox:       make(chan envelope, inboxSize),
		updates:     make(chan WordVerdict, 2*len(words)+1),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
		provisional: make(chan Outcome, 1),
		refined:     make(chan Outcome, 1),
	}
	for i, w := range words {
		a.arena[i] = WordVerdict{Index: i, Expected: w.Text}
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ID returns the session id.
func (a *Aggregator) ID() string { return a.id }

// Start runs the owning goroutine until [Aggregator.Stop] is called or ctx is
// cancelled. Calling Start more than once has no effect.
func (a *Aggregator) Start(ctx context.Context) {
	a.startOnce.Do(func() { go a.loop(ctx) })
}

// Stop ends the owning goroutine and closes the update feed. Result channels
// that have not been emitted on are closed. Safe to call multiple times.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.provisionalOnce.Do(func() { close(a.provisional) })
		a.refinedOnce.Do(func() { close(a.refined) })
	})
}

// Updates delivers every accepted change to a word verdict. The channel is
// closed when the aggregator stops.
func (a *Aggregator) Updates() <-chan WordVerdict { return a.updates }

// Provisional delivers the immediate estimate once.
func (a *Aggregator) Provisional() <-chan Outcome { return a.provisional }

// Refined delivers the refined result once. It is closed without a value if
// the aggregator stops first.
func (a *Aggregator) Refined() <-chan Outcome { return a.refined }

// Propose queues p. It reports false when the aggregator has stopped.
func (a *Aggregator) Propose(p Proposal) bool {
	select {
	case <-a.done:
		return false
	default:
	}
	select {
	case a.inbox <- envelope{proposal: &p}:
		return true
	case <-a.done:
		return false
	}
}

// Snapshot returns a copy of the arena after every proposal queued before the
// call has been applied.
func (a *Aggregator) Snapshot(ctx context.Context) ([]WordVerdict, error) {
	reply := make(chan []WordVerdict, 1)
	select {
	case a.inbox <- envelope{snapshot: reply}:
	case <-a.exited:
		return a.copyArena(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-a.exited:
		return a.copyArena(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EmitProvisional computes the immediate estimate for a reading that lasted
// elapsed and delivers it on [Aggregator.Provisional]. Later calls return the
// estimate without delivering it again.
func (a *Aggregator) EmitProvisional(ctx context.Context, elapsed time.Duration) (Outcome, error) {
	a.mu.Lock()
	a.elapsed = elapsed
	a.mu.Unlock()

	o, err := a.outcome(ctx, 0.5, false)
	if err != nil {
		return Outcome{}, err
	}
	a.provisionalOnce.Do(func() {
		a.provisional <- o
		close(a.provisional)
	})
	return o, nil
}

// EmitRefined computes the refined result from the current arena and
// delivers it on [Aggregator.Refined].
func (a *Aggregator) EmitRefined(ctx context.Context, in RefineInput) (Outcome, error) {
	o, err := a.outcome(ctx, in.Comprehension, true)
	if err != nil {
		return Outcome{}, err
	}
	sent := false
	a.refinedOnce.Do(func() {
		a.refined <- o
		close(a.refined)
		sent = true
	})
	if sent && a.metrics != nil {
		outcome := "complete"
		if o.Err != nil {
			outcome = "incomplete"
		}
		a.metrics.RecordSession(ctx, outcome)
	}
	return o, nil
}

func (a *Aggregator) outcome(ctx context.Context, comprehension float64, refined bool) (Outcome, error) {
	words, err := a.Snapshot(ctx)
	if err != nil {
		return Outcome{}, err
	}
	a.mu.Lock()
	elapsed := a.elapsed
	a.mu.Unlock()

	t := Count(words, elapsed)
	res := Result{
		SessionID:       a.id,
		Accuracy:        t.Accuracy,
		Pronunciation:   t.Pronunciation,
		Comprehension:   comprehension,
		WordsPerMinute:  t.WordsPerMinute,
		ErrorRate:       t.ErrorRate,
		CorrectWords:    t.Correct,
		AttemptedWords:  t.Attempted,
		TotalWords:      t.Total,
		MaxIndexReached: t.MaxIndex,
		Elapsed:         elapsed,
		Refined:         refined,
		Words:           words,
	}
	res.Level = a.classify(ctx, res)

	o := Outcome{Result: res}
	if !t.Complete() {
		o.Err = &IncompleteError{Detected: t.Attempted, Total: t.Total}
	}
	return o, nil
}

func (a *Aggregator) classify(ctx context.Context, res Result) classifier.Level {
	in := classifier.Input{
		Accuracy:       res.Accuracy,
		Pronunciation:  res.Pronunciation,
		Comprehension:  res.Comprehension,
		WordsPerMinute: res.WordsPerMinute,
		ErrorRate:      res.ErrorRate,
	}
	if a.classifier != nil {
		lvl, err := a.classifier.Classify(ctx, in)
		if err == nil {
			return lvl
		}
		observe.Logger(ctx).Warn("session: classify failed, using default level",
			"session_id", a.id, "err", err)
	}
	return classifier.Level{
		ID:          classifier.Instructional,
		Name:        classifier.Instructional.String(),
		Description: classifier.Instructional.Description(),
		Score:       0.5*in.Accuracy + 0.5*in.Pronunciation,
	}
}

func (a *Aggregator) copyArena() []WordVerdict {
	out := make([]WordVerdict, len(a.arena))
	copy(out, a.arena)
	return out
}

func (a *Aggregator) loop(ctx context.Context) {
	defer close(a.exited)
	defer close(a.updates)

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case env := <-a.inbox:
			switch {
			case env.proposal != nil:
				a.apply(ctx, *env.proposal)
			case env.snapshot != nil:
				env.snapshot <- a.copyArena()
			}
		}
	}
}

// apply decides p against the arena. The first aligner or watchdog proposal
// for a word finishes it and later ones are dropped. Reconciler proposals
// only revise finished words.
func (a *Aggregator) apply(ctx context.Context, p Proposal) {
	if p.Index < 0 || p.Index >= len(a.arena) {
		slog.Debug("session: proposal out of range", "session_id", a.id, "word_index", p.Index)
		return
	}
	v := &a.arena[p.Index]

	switch p.Source {
	case SourceAligner, SourceWatchdog:
		if v.Finished {
			return
		}
		v.Finished = true
		v.Heard = p.Heard
		v.Confidence = p.Confidence
	case SourceReconciler:
		if !v.Finished {
			return
		}
		v.Substitution = p.Substitution
	default:
		slog.Debug("session: proposal from unknown source", "session_id", a.id, "source", p.Source)
		return
	}
	v.Scored = true
	v.Correct = p.Correct
	v.Source = p.Source
	v.Pronunciation = p.Pronunciation

	if a.metrics != nil {
		a.metrics.RecordVerdict(ctx, string(p.Source), p.Correct)
	}
	select {
	case a.updates <- *v:
	default:
		slog.Debug("session: update feed full, dropping", "session_id", a.id, "word_index", p.Index)
	}
}

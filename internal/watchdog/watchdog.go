// Package watchdog keeps a reading session moving when the reader stalls on
// a word.
//
// A [Watchdog] awaits one expected word at a time. [Watchdog.ExpectWord]
// arms a one-shot deadline; [Watchdog.WordConfirmed] disarms it. When the
// deadline elapses first the timeout callback runs exactly once with the
// awaited word, and the caller is expected to mark the word incorrect and
// arm the next one.
//
// Besides the fixed deadline, a shorter silence deadline fires when the
// reader started speaking during the await and then went quiet. Voice
// activity is reported frame by frame with [Watchdog.ObserveFrame]. Speech
// the recognizer has not finalized yet holds the silence deadline, so it
// counts from [Watchdog.FinalReceived] when the engine answers late.
package watchdog

import (
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

// Reason says which deadline produced a [Timeout].
type Reason int

const (
	// ReasonDeadline is the fixed per-word deadline.
	ReasonDeadline Reason = iota

	// ReasonSilence is trailing silence after speech began.
	ReasonSilence
)

// String implements [fmt.Stringer].
func (r Reason) String() string {
	switch r {
	case ReasonDeadline:
		return "deadline"
	case ReasonSilence:
		return "silence"
	default:
		return "unknown"
	}
}

// Timeout is delivered to the callback when an awaited word was not
// confirmed in time.
type Timeout struct {
	Index  int
	Text   string
	Reason Reason

	// Waited is how long the word was awaited before the timeout fired.
	Waited time.Duration
}

// Config holds the watchdog deadlines.
type Config struct {
	// Deadline is the fixed wait for ordinary words. Default 3s.
	Deadline time.Duration

	// ComplexDeadline applies to words longer than ComplexLength letters.
	// Default 5s.
	ComplexDeadline time.Duration

	// ComplexLength is the letter count above which a word is complex.
	// Default 8.
	ComplexLength int

	// SilenceDeadline is the trailing silence after speech began that
	// times out the awaited word. Zero disables the silence deadline.
	SilenceDeadline time.Duration
}

// DefaultConfig returns the standard deadlines.
func DefaultConfig() Config {
	return Config{
		Deadline:        3 * time.Second,
		ComplexDeadline: 5 * time.Second,
		ComplexLength:   8,
		SilenceDeadline: 500 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Deadline <= 0 {
		c.Deadline = d.Deadline
	}
	if c.ComplexDeadline <= 0 {
		c.ComplexDeadline = d.ComplexDeadline
	}
	if c.ComplexLength <= 0 {
		c.ComplexLength = d.ComplexLength
	}
	if c.SilenceDeadline < 0 {
		c.SilenceDeadline = 0
	}
}

// DeadlineFor returns the fixed deadline for a word.
func (c Config) DeadlineFor(text string) time.Duration {
	if utf8.RuneCountInString(text) > c.ComplexLength {
		return c.ComplexDeadline
	}
	return c.Deadline
}

// Watchdog is safe for concurrent use. Voice activity typically arrives from
// the capture goroutine while words are armed and confirmed from the
// recognition goroutine.
type Watchdog struct {
	cfg       Config
	onTimeout func(Timeout)

	mu      sync.Mutex
	gen     uint64
	armed   bool
	stopped bool
	index   int
	text    string
	armedAt time.Time

	deadline *time.Timer
	silence  *time.Timer

	voiced  bool
	spoke   bool
	pending bool

	// unfinalized is set by voiced frames and cleared by FinalReceived.
	unfinalized bool
}

// New returns an idle Watchdog. onTimeout runs on a timer goroutine, never
// while the watchdog's lock is held, so it may call back into the watchdog.
func New(cfg Config, onTimeout func(Timeout)) *Watchdog {
	cfg.applyDefaults()
	return &Watchdog{cfg: cfg, onTimeout: onTimeout, index: -1}
}

// Config returns the effective configuration.
func (w *Watchdog) Config() Config { return w.cfg }

// ExpectWord arms the watchdog for the word at index, replacing any word
// currently awaited. It is a no-op after [Watchdog.Stop].
func (w *Watchdog) ExpectWord(index int, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.cancelLocked()

	w.gen++
	w.armed = true
	w.index = index
	w.text = text
	w.armedAt = time.Now()
	w.spoke = w.voiced

	gen := w.gen
	d := w.cfg.DeadlineFor(text)
	w.deadline = time.AfterFunc(d, func() { w.fire(gen, ReasonDeadline) })
	slog.Debug("watchdog: awaiting word", "word_index", index, "word", text, "deadline", d)
}

// WordConfirmed disarms the watchdog. Call it once the awaited word has been
// matched.
func (w *Watchdog) WordConfirmed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked()
}

// ObserveFrame reports whether the latest conditioned frame carried speech.
// A voiced frame cancels a running silence deadline and marks the speech as
// awaiting a final transcript. The silence deadline starts once the reader is
// quiet and the recognizer has finalized everything it was sent.
func (w *Watchdog) ObserveFrame(voiced bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.voiced = voiced
	if voiced {
		w.unfinalized = true
	}
	if !w.armed || w.cfg.SilenceDeadline == 0 {
		return
	}
	if voiced {
		w.spoke = true
		w.stopSilenceLocked()
		return
	}
	w.maybeStartSilenceLocked()
}

// FinalReceived reports that the recognizer delivered a final transcript,
// which covers all speech sent before it. A reader who is already quiet gets
// the silence deadline from this point.
func (w *Watchdog) FinalReceived() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unfinalized = false
	w.pending = false
	if !w.armed || w.cfg.SilenceDeadline == 0 {
		return
	}
	w.maybeStartSilenceLocked()
}

// SetPending marks whether the recognizer holds interim text that has not
// been finalized yet. While pending, the silence deadline does not run, since
// the engine is still working on what the reader said. The fixed deadline is
// unaffected.
func (w *Watchdog) SetPending(pending bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == pending {
		return
	}
	w.pending = pending
	if !w.armed || w.cfg.SilenceDeadline == 0 {
		return
	}
	if pending {
		w.stopSilenceLocked()
		return
	}
	w.maybeStartSilenceLocked()
}

// Awaiting returns the word currently armed. ok is false when idle.
func (w *Watchdog) Awaiting() (index int, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index, w.armed
}

// Stop cancels any pending deadline, and later calls to ExpectWord are
// ignored. Stop does not wait for a callback whose deadline had already
// fired: that callback may still be running, or just about to run, when
// Stop returns. No deadline armed or running at Stop fires afterwards.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelLocked()
	w.stopped = true
	w.index = -1
	w.text = ""
}

func (w *Watchdog) fire(gen uint64, reason Reason) {
	w.mu.Lock()
	if gen != w.gen || !w.armed || w.stopped {
		w.mu.Unlock()
		return
	}
	t := Timeout{
		Index:  w.index,
		Text:   w.text,
		Reason: reason,
		Waited: time.Since(w.armedAt),
	}
	w.cancelLocked()
	cb := w.onTimeout
	w.mu.Unlock()

	slog.Debug("watchdog: word timed out", "word_index", t.Index, "word", t.Text, "reason", t.Reason, "waited", t.Waited)
	if cb != nil {
		cb(t)
	}
}

// cancelLocked disarms both timers and invalidates any callback already
// racing for the lock.
func (w *Watchdog) cancelLocked() {
	if w.deadline != nil {
		w.deadline.Stop()
		w.deadline = nil
	}
	w.stopSilenceLocked()
	w.armed = false
	w.gen++
}

// maybeStartSilenceLocked starts the silence deadline when the reader spoke
// during the await, is quiet now and nothing is left for the recognizer.
func (w *Watchdog) maybeStartSilenceLocked() {
	if w.spoke && !w.voiced && !w.pending && !w.unfinalized {
		w.startSilenceLocked()
	}
}

func (w *Watchdog) startSilenceLocked() {
	if w.silence != nil {
		return
	}
	gen := w.gen
	w.silence = time.AfterFunc(w.cfg.SilenceDeadline, func() { w.fire(gen, ReasonSilence) })
}

func (w *Watchdog) stopSilenceLocked() {
	if w.silence != nil {
		w.silence.Stop()
		w.silence = nil
	}
}

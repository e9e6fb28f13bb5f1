package audio

import (
	"log/slog"
	"sync"
	"time"
)

// Span is a half-open range [Start, End) of absolute sample offsets.
type Span struct {
	Start int64
	End   int64
}

// Len returns the number of samples covered by s.
func (s Span) Len() int64 { return s.End - s.Start }

// SpanFromTimes converts a word's start/end times, relative to the start of
// recognition, into a sample span at [SampleRate]. pad widens both edges.
func SpanFromTimes(start, end, pad time.Duration) Span {
	return Span{
		Start: max(0, DurationToSamples(start-pad, SampleRate)),
		End:   DurationToSamples(end+pad, SampleRate),
	}
}

// Ledger is a fixed-capacity ring buffer of conditioned audio keyed by
// absolute sample offset, plus an index of the sample span each expected word
// was heard in. Once capacity is exceeded the oldest samples are overwritten
// and can no longer be extracted.
//
// Writes come from the capture goroutine and extraction from the background
// analysis goroutine; all methods are safe for concurrent use.
type Ledger struct {
	mu    sync.Mutex
	buf   []int16
	total int64
	spans map[int]Span
}

// NewLedger returns a Ledger that retains the most recent capacity samples.
// A capacity of zero or less falls back to 15 seconds at [SampleRate].
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = 15 * SampleRate
	}
	return &Ledger{
		buf:   make([]int16, capacity),
		spans: make(map[int]Span),
	}
}

// Write appends frame at its offset. A frame that starts past the current
// write position has the gap zero-filled; samples that overlap already
// written audio are skipped.
func (l *Ledger) Write(frame AudioFrame) {
	l.mu.Lock()
	defer l.mu.Unlock()

	samples := frame.Samples
	if frame.Offset < l.total {
		skip := l.total - frame.Offset
		if skip >= int64(len(samples)) {
			return
		}
		samples = samples[skip:]
	}
	for gap := frame.Offset - l.total; gap > 0; gap-- {
		l.put(0)
	}
	for _, s := range samples {
		l.put(s)
	}
}

func (l *Ledger) put(s int16) {
	l.buf[l.total%int64(len(l.buf))] = s
	l.total++
}

// Extract copies samples [start, end) out of the ledger. end is clamped to
// the current write position. ok is false when start has already aged out of
// the retention window, when the range is empty, or when it lies entirely in
// the future. Aged-out audio is an expected condition, not an error.
func (l *Ledger) Extract(start, end int64) (samples []int16, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extract(Span{Start: start, End: end})
}

func (l *Ledger) extract(s Span) ([]int16, bool) {
	capacity := int64(len(l.buf))
	oldest := max(0, l.total-capacity)
	if s.Start < oldest {
		slog.Debug("ledger: span aged out", "start", s.Start, "oldest", oldest)
		return nil, false
	}
	s.End = min(s.End, l.total)
	if s.Start < 0 || s.End <= s.Start {
		return nil, false
	}
	out := make([]int16, s.End-s.Start)
	for i := range out {
		out[i] = l.buf[(s.Start+int64(i))%capacity]
	}
	return out, true
}

// Annotate records that expected word index was heard in span. A later call
// for the same index replaces the earlier span.
func (l *Ledger) Annotate(index int, span Span) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spans[index] = span
}

// WordSpan returns the span recorded for index, if any.
func (l *Ledger) WordSpan(index int) (Span, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.spans[index]
	return s, ok
}

// ExtractWord returns the audio for expected word index using its annotated
// span. ok is false when the word was never annotated or its audio has aged
// out.
func (l *Ledger) ExtractWord(index int) (samples []int16, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, found := l.spans[index]
	if !found {
		return nil, false
	}
	return l.extract(s)
}

// Written returns the absolute offset one past the newest sample.
func (l *Ledger) Written() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Capacity returns the number of samples the ledger retains.
func (l *Ledger) Capacity() int { return len(l.buf) }

// Reset discards all audio and word spans.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.buf)
	clear(l.spans)
	l.total = 0
}

package watchdog_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/readalong/internal/watchdog"
)

type recorder struct {
	mu  sync.Mutex
	got []watchdog.Timeout
	ch  chan watchdog.Timeout
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan watchdog.Timeout, 16)}
}

func (r *recorder) onTimeout(t watchdog.Timeout) {
	r.mu.Lock()
	r.got = append(r.got, t)
	r.mu.Unlock()
	r.ch <- t
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recorder) wait(t *testing.T, within time.Duration) watchdog.Timeout {
	t.Helper()
	select {
	case to := <-r.ch:
		return to
	case <-time.After(within):
		t.Fatal("timeout callback did not fire")
		return watchdog.Timeout{}
	}
}

func TestConfig_DeadlineFor(t *testing.T) {
	t.Parallel()
	cfg := watchdog.DefaultConfig()
	tests := []struct {
		word string
		want time.Duration
	}{
		{"cat", 3 * time.Second},
		{"elephant", 3 * time.Second},
		{"butterfly", 5 * time.Second},
		{"", 3 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.DeadlineFor(tt.word); got != tt.want {
			t.Errorf("DeadlineFor(%q) = %v, want %v", tt.word, got, tt.want)
		}
	}
}

func TestWatchdog_FiresOnceAfterDeadline(t *testing.T) {
	t.Parallel()
	const deadline = 50 * time.Millisecond
	rec := newRecorder()
	w := watchdog.New(watchdog.Config{Deadline: deadline, SilenceDeadline: 0}, rec.onTimeout)
	defer w.Stop()

	start := time.Now()
	w.ExpectWord(4, "time")
	got := rec.wait(t, time.Second)
	elapsed := time.Since(start)

	if got.Index != 4 || got.Text != "time" {
		t.Errorf("timeout = %+v, want index 4 text %q", got, "time")
	}
	if got.Reason != watchdog.ReasonDeadline {
		t.Errorf("reason = %v, want deadline", got.Reason)
	}
	if elapsed < deadline {
		t.Errorf("fired after %v, want >= %v", elapsed, deadline)
	}
	if elapsed > deadline+500*time.Millisecond {
		t.Errorf("fired after %v, far beyond deadline %v", elapsed, deadline)
	}

	time.Sleep(3 * deadline)
	if n := rec.count(); n != 1 {
		t.Errorf("callback ran %d times, want 1", n)
	}
	if _, ok := w.Awaiting(); ok {
		t.Error("watchdog still armed after timeout")
	}
}

func TestWatchdog_ConfirmCancels(t *testing.T) {
	t.Parallel()
	const deadline = 30 * time.Millisecond
	rec := newRecorder()
	w := watchdog.New(watchdog.Config{Deadline: deadline}, rec.onTimeout)
	defer w.Stop()

	w.ExpectWord(0, "once")
	w.WordConfirmed()
	time.Sleep(4 * deadline)

	if n := rec.count(); n != 0 {
		t.Errorf("callback ran %d times after confirmation, want 0", n)
	}
}

func TestWatchdog_RearmReplacesPreviousWord(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	w := watchdog.New(watchdog.Config{Deadline: 40 * time.Millisecond}, rec.onTimeout)
	defer w.Stop()

	w.ExpectWord(0, "once")
	w.ExpectWord(1, "upon")
	got := rec.wait(t, time.Second)
	if got.Index != 1 {
		t.Errorf("timed out index = %d, want 1", got.Index)
	}
	time.Sleep(100 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("callback ran %d times, want 1", n)
	}
}

func TestWatchdog_CallbackMayRearm(t *testing.T) {
	t.Parallel()
	words := []string{"the", "cat", "ran"}
	done := make(chan []int, 1)

	var (
		mu  sync.Mutex
		seq []int
		w   *watchdog.Watchdog
	)
	w = watchdog.New(watchdog.Config{Deadline: 20 * time.Millisecond}, func(to watchdog.Timeout) {
		mu.Lock()
		seq = append(seq, to.Index)
		n := len(seq)
		out := append([]int(nil), seq...)
		mu.Unlock()
		if next := to.Index + 1; next < len(words) {
			w.ExpectWord(next, words[next])
			return
		}
		if n == len(words) {
			done <- out
		}
	})
	defer w.Stop()

	w.ExpectWord(0, words[0])
	select {
	case got := <-done:
		for i, idx := range got {
			if idx != i {
				t.Fatalf("timeout order = %v, want [0 1 2]", got)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reading stalled: not every word timed out")
	}
}

func TestWatchdog_StopSuppressesLateCallbacks(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	w := watchdog.New(watchdog.Config{Deadline: 20 * time.Millisecond, SilenceDeadline: 10 * time.Millisecond}, rec.onTimeout)

	w.ExpectWord(0, "once")
	w.ObserveFrame(true)
	w.ObserveFrame(false)
	w.Stop()
	w.ExpectWord(1, "upon")
	time.Sleep(100 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Errorf("callback ran %d times after Stop, want 0", n)
	}
}

func TestWatchdog_SilenceDeadline(t *testing.T) {
	t.Parallel()
	const silence = 40 * time.Millisecond
	rec := newRecorder()
	w := watchdog.New(watchdog.Config{Deadline: 5 * time.Second, SilenceDeadline: silence}, rec.onTimeout)
	defer w.Stop()

	w.ExpectWord(2, "a")

	// Silence before the reader says anything does not count.
	w.ObserveFrame(false)
	time.Sleep(3 * silence)
	if n := rec.count(); n != 0 {
		t.Fatalf("silence before speech fired %d timeouts", n)
	}

	w.ObserveFrame(true)
	w.ObserveFrame(false)
	start := time.Now()
	w.FinalReceived()
	got := rec.wait(t, time.Second)
	if got.Reason != watchdog.ReasonSilence || got.Index != 2 {
		t.Errorf("timeout = %+v, want silence on index 2", got)
	}
	if elapsed := time.Since(start); elapsed < silence {
		t.Errorf("silence timeout after %v, want >= %v", elapsed, silence)
	}
}

func TestWatchdog_UnfinalizedSpeechHoldsSilence(t *testing.T) {
	t.Parallel()
	const silence = 30 * time.Millisecond
	rec := newRecorder()
	w := watchdog.New(watchdog.Config{Deadline: 5 * time.Second, SilenceDeadline: silence}, rec.onTimeout)
	defer w.Stop()

	w.ExpectWord(0, "once")
	w.ObserveFrame(true)
	for range 10 {
		w.ObserveFrame(false)
	}
	// The engine sends no partial and answers long after the reader stopped.
	time.Sleep(5 * silence)
	if n := rec.count(); n != 0 {
		t.Fatalf("silence fired %d times before the engine answered", n)
	}

	start := time.Now()
	w.FinalReceived()
	got := rec.wait(t, time.Second)
	if got.Reason != watchdog.ReasonSilence || got.Index != 0 {
		t.Errorf("timeout = %+v, want silence on index 0", got)
	}
	if elapsed := time.Since(start); elapsed < silence {
		t.Errorf("silence counted from %v before the final, want >= %v after it", elapsed, silence)
	}
}

func TestWatchdog_ConfirmCancelsSilence(t *testing.T) {
	t.Parallel()
	const silence = 30 * time.Millisecond
	rec := newRecorder()
	w := watchdog.New(watchdog.Config{Deadline: 5 * time.Second, SilenceDeadline: silence}, rec.onTimeout)
	defer w.Stop()

	w.ExpectWord(0, "once")
	w.ObserveFrame(true)
	w.ObserveFrame(false)
	w.FinalReceived()
	w.WordConfirmed()
	time.Sleep(4 * silence)

	if n := rec.count(); n != 0 {
		t.Errorf("callback ran %d times for a confirmed word, want 0", n)
	}
	if _, ok := w.Awaiting(); ok {
		t.Error("watchdog still armed after WordConfirmed")
	}
}

func TestWatchdog_SpeechResumingCancelsSilence(t *testing.T) {
	t.Parallel()
	const silence = 40 * time.Millisecond
	rec := newRecorder()
	w := watchdog.New(watchdog.Config{Deadline: 5 * time.Second, SilenceDeadline: silence}, rec.onTimeout)
	defer w.Stop()

	w.ExpectWord(0, "butterfly")
	w.ObserveFrame(true)
	w.FinalReceived()
	w.ObserveFrame(false)
	time.Sleep(silence / 4)
	w.ObserveFrame(true)
	time.Sleep(3 * silence)

	if n := rec.count(); n != 0 {
		t.Errorf("callback ran %d times while reader kept speaking, want 0", n)
	}
}

func TestWatchdog_PendingHoldsSilence(t *testing.T) {
	t.Parallel()
	const silence = 30 * time.Millisecond
	rec := newRecorder()
	w := watchdog.New(watchdog.Config{Deadline: 5 * time.Second, SilenceDeadline: silence}, rec.onTimeout)
	defer w.Stop()

	w.ExpectWord(0, "dragon")
	w.ObserveFrame(true)
	w.FinalReceived()
	w.SetPending(true)
	w.ObserveFrame(false)
	time.Sleep(4 * silence)
	if n := rec.count(); n != 0 {
		t.Fatalf("silence fired %d times while recognition pending", n)
	}

	w.SetPending(false)
	got := rec.wait(t, time.Second)
	if got.Reason != watchdog.ReasonSilence {
		t.Errorf("reason = %v, want silence", got.Reason)
	}
}

func TestWatchdog_StopDoesNotWaitForRunningCallback(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	w := watchdog.New(watchdog.Config{Deadline: 10 * time.Millisecond}, func(watchdog.Timeout) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	})

	w.ExpectWord(0, "once")
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("deadline did not fire")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a running callback")
	}
	close(release)

	w.ExpectWord(1, "upon")
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("callback ran %d times, want only the one in flight at Stop", calls)
	}
}

func TestReason_String(t *testing.T) {
	t.Parallel()
	tests := map[watchdog.Reason]string{
		watchdog.ReasonDeadline: "deadline",
		watchdog.ReasonSilence:  "silence",
		watchdog.Reason(42):     "unknown",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("Reason(%d).String() = %q, want %q", int(r), got, want)
		}
	}
}

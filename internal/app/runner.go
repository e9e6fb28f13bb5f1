package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/readalong/internal/align"
	"github.com/MrWong99/readalong/internal/config"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/phonetic"
	"github.com/MrWong99/readalong/internal/scoring"
	"github.com/MrWong99/readalong/internal/session"
	"github.com/MrWong99/readalong/internal/watchdog"
	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/provider/stt"
)

var (
	// ErrTranscriptionUnavailable is returned by [Runner.Start] when the
	// transcription stream cannot be opened. No session is started.
	ErrTranscriptionUnavailable = errors.New("app: transcription unavailable")

	// ErrEmptyPassage is returned by [Runner.Start] for passages without
	// words.
	ErrEmptyPassage = errors.New("app: passage has no words")

	// ErrReadingStopped is returned by [Reading.Write] once capture ended.
	ErrReadingStopped = errors.New("app: reading stopped")
)

const (
	// audioQueue bounds capture chunks waiting for the capture goroutine.
	audioQueue = 32

	partialQueue = 16

	defaultRefineTimeout = 2 * time.Minute
)

// SessionInfo identifies the reader and the passage of one session.
type SessionInfo struct {
	ID           string
	StudentID    string
	StudentName  string
	PassageID    string
	PassageTitle string
	PassageText  string
}

// Runner drives reading sessions. Each session runs capture and recognition
// while the reader is reading, then a background refinement pass.
//
// All methods are safe for concurrent use.
type Runner struct {
	providers     *Providers
	metrics       *observe.Metrics
	table         *scoring.Table
	refineTimeout time.Duration

	cfg atomic.Pointer[config.Config]

	// base bounds every refinement pass; cancelling it abandons them.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithRunnerMetrics sets the metric instruments. Default
// [observe.DefaultMetrics].
func WithRunnerMetrics(m *observe.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithSubstitutions sets the substitution table used by the reconciler.
// Default [scoring.DefaultTable].
func WithSubstitutions(t *scoring.Table) RunnerOption {
	return func(r *Runner) { r.table = t }
}

// WithRefineTimeout bounds each refinement pass. Default two minutes.
func WithRefineTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.refineTimeout = d }
}

// NewRunner returns a Runner using cfg, which must have defaults applied.
func NewRunner(cfg *config.Config, providers *Providers, opts ...RunnerOption) *Runner {
	if providers == nil {
		providers = &Providers{}
	}
	r := &Runner{providers: providers, refineTimeout: defaultRefineTimeout}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.table == nil {
		r.table = scoring.DefaultTable()
	}
	r.base, r.cancel = context.WithCancel(context.Background())
	r.cfg.Store(cfg)
	return r
}

// Reconfigure replaces the configuration used by sessions started later.
func (r *Runner) Reconfigure(cfg *config.Config) { r.cfg.Store(cfg) }

// Substitutions returns the reconciler's substitution table.
func (r *Runner) Substitutions() *scoring.Table { return r.table }

// Close abandons running refinement passes and waits for their sessions to
// wind down, or for ctx to expire.
func (r *Runner) Close(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: close runner: %w", ctx.Err())
	}
}

// Start opens a transcription stream and begins a reading of
// info.PassageText. Capture and recognition stop when the passage is
// complete, [Reading.Stop] is called or ctx is cancelled; the refinement
// pass then runs on its own.
//
// A transcription stream that cannot be opened is an infrastructure failure
// wrapping [ErrTranscriptionUnavailable].
func (r *Runner) Start(ctx context.Context, info SessionInfo) (*Reading, error) {
	if err := r.base.Err(); err != nil {
		return nil, fmt.Errorf("app: start reading: %w", err)
	}
	words := align.Tokenize(info.PassageText)
	if len(words) == 0 {
		return nil, ErrEmptyPassage
	}
	if r.providers.STT == nil {
		return nil, fmt.Errorf("%w: no transcription provider configured", ErrTranscriptionUnavailable)
	}
	cfg := r.cfg.Load()

	vocab := make([]string, len(words))
	for i, w := range words {
		vocab[i] = w.Text
	}
	stream, err := r.providers.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   1,
		Language:   cfg.Providers.STT.StringOption("language"),
		Vocabulary: vocab,
	})
	if err != nil {
		r.metrics.RecordProviderError(ctx, cfg.Providers.STT.Name, "stt")
		return nil, fmt.Errorf("%w: %w", ErrTranscriptionUnavailable, err)
	}

	aggOpts := []session.Option{session.WithMetrics(r.metrics)}
	if r.providers.Classifier != nil {
		aggOpts = append(aggOpts, session.WithClassifier(r.providers.Classifier))
	}

	rd := &Reading{
		runner:     r,
		cfg:        cfg,
		info:       info,
		words:      words,
		stream:     stream,
		agg:        session.New(info.ID, words, aggOpts...),
		aligner:    align.New(words, cfg.Aligner.Config(), align.WithChecker(phonetic.New(phonetic.WithVetoSimilarity(cfg.Phonetic.VetoSimilarity)))),
		ledger:     audio.NewLedger(cfg.Audio.LedgerSamples()),
		audio:      make(chan []int16, audioQueue),
		stop:       make(chan struct{}),
		captured:   make(chan struct{}),
		timeouts:   make(chan watchdog.Timeout, 1),
		partials:   make(chan string, partialQueue),
		recognized: make(chan struct{}),
		done:       make(chan struct{}),
		disputed:   make(map[int]bool),
		armed:      -1,
		startedAt:  time.Now(),
	}
	rd.wd = watchdog.New(cfg.Watchdog.Config(), rd.onTimeout)

	// The aggregator outlives the request so results can still be emitted
	// after the client has gone.
	rd.agg.Start(context.WithoutCancel(ctx))

	r.wg.Add(1)
	r.metrics.ActiveSessions.Add(ctx, 1)
	go rd.run(ctx)

	slog.Info("reading started",
		"session_id", info.ID,
		"student_id", info.StudentID,
		"passage_id", info.PassageID,
		"words", len(words),
	)
	return rd, nil
}

// Reading is one running session.
type Reading struct {
	runner *Runner
	cfg    *config.Config
	info   SessionInfo
	words  []align.ExpectedWord

	stream stt.SessionHandle
	agg    *session.Aggregator
	ledger *audio.Ledger
	wd     *watchdog.Watchdog

	// aligner, disputed and armed belong to the recognition goroutine until
	// recognized is closed.
	aligner  *align.Aligner
	disputed map[int]bool
	armed    int

	audio      chan []int16
	stop       chan struct{}
	stopOnce   sync.Once
	captured   chan struct{}
	timeouts   chan watchdog.Timeout
	partials   chan string
	recognized chan struct{}
	done       chan struct{}

	startedAt time.Time

	mu       sync.Mutex
	endedAt  time.Time
	outcome  session.Outcome
	finalErr error
}

// ID returns the session id.
func (rd *Reading) ID() string { return rd.info.ID }

// Info returns the session metadata.
func (rd *Reading) Info() SessionInfo { return rd.info }

// Words returns the tokenized passage.
func (rd *Reading) Words() []align.ExpectedWord { return rd.words }

// Write hands capture samples at the pipeline rate to the capture
// goroutine. It returns [ErrReadingStopped] once capture has ended.
func (rd *Reading) Write(samples []int16) error {
	select {
	case <-rd.stop:
		return ErrReadingStopped
	case <-rd.captured:
		return ErrReadingStopped
	default:
	}
	select {
	case rd.audio <- samples:
		return nil
	case <-rd.stop:
		return ErrReadingStopped
	case <-rd.captured:
		return ErrReadingStopped
	}
}

// Stop ends capture. The transcription engine is asked to finalize and the
// refinement pass follows. Safe to call multiple times.
func (rd *Reading) Stop() {
	rd.stopOnce.Do(func() { close(rd.stop) })
}

// Updates delivers every accepted word verdict change.
func (rd *Reading) Updates() <-chan session.WordVerdict { return rd.agg.Updates() }

// Partials delivers interim recognized text for display. Values are dropped
// when the reader falls behind. The channel is closed when recognition ends.
func (rd *Reading) Partials() <-chan string { return rd.partials }

// Provisional delivers the immediate estimate.
func (rd *Reading) Provisional() <-chan session.Outcome { return rd.agg.Provisional() }

// Refined delivers the refined result. It is closed without a value when the
// refinement pass is abandoned.
func (rd *Reading) Refined() <-chan session.Outcome { return rd.agg.Refined() }

// Snapshot returns the current word verdicts.
func (rd *Reading) Snapshot(ctx context.Context) ([]session.WordVerdict, error) {
	return rd.agg.Snapshot(ctx)
}

// Done is closed when the session has finished, refinement included.
func (rd *Reading) Done() <-chan struct{} { return rd.done }

// Wait blocks until the session has finished and returns its refined
// outcome. The error is an [*session.IncompleteError] for readings that
// ended early, a persistence failure, or the reason the refinement pass was
// abandoned.
func (rd *Reading) Wait(ctx context.Context) (session.Outcome, error) {
	select {
	case <-rd.done:
	case <-ctx.Done():
		return session.Outcome{}, ctx.Err()
	}
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.outcome, rd.finalErr
}

func (rd *Reading) run(ctx context.Context) {
	r := rd.runner
	defer r.wg.Done()
	defer close(rd.done)
	defer rd.agg.Stop()
	defer r.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	go rd.capture(ctx)
	rd.recognize(ctx)
	rd.Stop()
	<-rd.captured

	ended := time.Now()
	rd.mu.Lock()
	rd.endedAt = ended
	rd.mu.Unlock()

	log := observe.Logger(observe.WithSession(ctx, rd.info.ID))
	prov, err := rd.agg.EmitProvisional(context.WithoutCancel(ctx), ended.Sub(rd.startedAt))
	if err != nil {
		log.Warn("provisional estimate failed", "err", err)
	} else {
		log.Info("reading finished",
			"attempted", prov.Result.AttemptedWords,
			"total", prov.Result.TotalWords,
			"accuracy", prov.Result.Accuracy,
			"elapsed", prov.Result.Elapsed,
		)
	}

	rctx, cancel := context.WithTimeout(observe.WithSession(r.base, rd.info.ID), r.refineTimeout)
	defer cancel()
	out, err := rd.refine(rctx)
	rd.mu.Lock()
	rd.outcome, rd.finalErr = out, err
	rd.mu.Unlock()
}

// capture is the capture execution context: frames are conditioned, kept
// in the ledger, fed to voice activity tracking and streamed to the engine.
func (rd *Reading) capture(ctx context.Context) {
	defer close(rd.captured)

	framer := audio.NewFramer(rd.cfg.Audio.FrameSamples())
	cond := audio.NewConditioner(rd.cfg.Audio.Conditioner())
	feed := func(samples []int16) {
		for _, f := range framer.Push(samples) {
			rd.frame(cond, f)
		}
	}
	defer func() {
		if f, ok := framer.Flush(); ok {
			rd.frame(cond, f)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rd.stop:
			for {
				select {
				case chunk := <-rd.audio:
					feed(chunk)
				default:
					return
				}
			}
		case chunk := <-rd.audio:
			feed(chunk)
		}
	}
}

func (rd *Reading) frame(cond *audio.Conditioner, f audio.AudioFrame) {
	f = cond.Process(f)
	rd.ledger.Write(f)
	rd.wd.ObserveFrame(cond.Voiced())
	if err := rd.stream.SendAudio(audio.EncodePCM16(f.Samples)); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
		slog.Debug("stt send failed", "session_id", rd.info.ID, "err", err)
	}
}

// recognize is the recognition execution context. It returns once the
// engine has delivered its last final after capture ended, or when ctx is
// cancelled.
func (rd *Reading) recognize(ctx context.Context) {
	defer close(rd.recognized)
	defer close(rd.partials)
	defer rd.wd.Stop()

	rd.advance()

	var (
		partials = rd.stream.Partials()
		finals   = rd.stream.Finals()
		captured = rd.captured
		closing  time.Time
		closeErr = make(chan error, 1)
	)
	closeStream := func() {
		closing = time.Now()
		go func() { closeErr <- rd.stream.Close() }()
	}

	for finals != nil {
		select {
		case <-ctx.Done():
			if closing.IsZero() {
				closeStream()
			}
			return
		case <-captured:
			captured = nil
			rd.wd.Stop()
			closeStream()
		case err := <-closeErr:
			if err != nil {
				slog.Warn("stt close failed", "session_id", rd.info.ID, "err", err)
			}
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			rd.wd.SetPending(strings.TrimSpace(t.Text) != "")
			select {
			case rd.partials <- t.Text:
			default:
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			rd.wd.FinalReceived()
			for _, m := range rd.aligner.Consume(t.Tokens()) {
				if m.Index == rd.armed {
					rd.wd.WordConfirmed()
				}
				rd.accept(m, session.SourceAligner)
			}
			rd.advance()
		case to := <-rd.timeouts:
			rd.timeout(ctx, to)
		}
	}
	if !closing.IsZero() {
		rd.runner.metrics.STTDuration.Record(ctx, time.Since(closing).Seconds())
	}
}

// onTimeout runs on a watchdog timer goroutine.
func (rd *Reading) onTimeout(t watchdog.Timeout) {
	select {
	case rd.timeouts <- t:
	case <-rd.recognized:
	}
}

func (rd *Reading) timeout(ctx context.Context, t watchdog.Timeout) {
	m, ok := rd.aligner.Skip(t.Index)
	if !ok {
		return
	}
	slog.Debug("word timed out",
		"session_id", rd.info.ID,
		"word_index", t.Index,
		"word", t.Text,
		"reason", t.Reason.String(),
		"waited", t.Waited,
	)
	rd.runner.metrics.RecordTimeout(ctx, t.Reason.String())
	rd.accept(m, session.SourceWatchdog)
	rd.advance()
}

func (rd *Reading) accept(m align.Match, src session.Source) {
	p := session.Proposal{
		Index:         m.Index,
		Source:        src,
		Correct:       m.Correct,
		Heard:         m.Heard,
		Pronunciation: m.Pronunciation,
	}
	if m.Timing != nil {
		p.Confidence = m.Timing.Confidence
		rd.ledger.Annotate(m.Index, audio.SpanFromTimes(m.Timing.Start, m.Timing.End, rd.cfg.Sampler.Padding))
	}
	if m.Vetoed {
		rd.disputed[m.Index] = true
	}
	rd.agg.Propose(p)
}

// advance arms the watchdog for the word at the cursor. A complete passage
// ends capture.
func (rd *Reading) advance() {
	w, ok := rd.aligner.Current()
	if !ok {
		rd.wd.Stop()
		rd.Stop()
		return
	}
	if w.Index != rd.armed {
		rd.armed = w.Index
		rd.wd.ExpectWord(w.Index, w.Text)
	}
}

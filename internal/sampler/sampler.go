// Package sampler runs the acoustic re-scoring pass after a reading session.
//
// The [Sampler] picks the words worth a second opinion, pulls each word's
// audio out of the [audio.Ledger], brings it to the level the acoustic model
// was trained on and asks the model for a verdict. Every failure in this
// pass is recoverable: a word whose audio aged out of the ledger or whose
// score failed simply keeps its text verdict.
package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/resilience"
	"github.com/MrWong99/readalong/pkg/audio"
	"github.com/MrWong99/readalong/pkg/provider/acoustic"
)

// Config tunes a [Sampler].
type Config struct {
	// ConfidenceThreshold selects words whose recognition confidence is
	// below it. Default 0.80.
	ConfidenceThreshold float64

	// Concurrency bounds parallel model calls. Default 4.
	Concurrency int

	// AGC enables automatic gain control before normalization.
	AGC bool

	// AGCTargetPeak and AGCMaxGain tune the gain control. Defaults 0.7
	// and 4.
	AGCTargetPeak float64
	AGCMaxGain    float64

	// NormalizeRMS is the RMS level the model was trained on. Default 0.1.
	NormalizeRMS float64
}

func (c *Config) applyDefaults() {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.80
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.AGCTargetPeak <= 0 {
		c.AGCTargetPeak = 0.7
	}
	if c.AGCMaxGain <= 0 {
		c.AGCMaxGain = 4
	}
	if c.NormalizeRMS <= 0 {
		c.NormalizeRMS = 0.1
	}
}

// Word is a candidate for re-scoring.
type Word struct {
	Index    int
	Expected string

	// Confidence is the recognizer's confidence in the word.
	Confidence float64

	// Heard is false for words that were skipped or timed out. They have no
	// audio to re-score.
	Heard bool

	// Disputed is true when the text and phonetic checks disagreed.
	Disputed bool
}

// Result summarizes one acoustic pass.
type Result struct {
	// Verdicts holds the model verdict of every word that was scored.
	Verdicts map[int]acoustic.Verdict

	Selected int
	AgedOut  int
	Failed   int

	// Unavailable is true when the model stopped accepting calls during the
	// pass. Words not scored by then keep their text verdicts.
	Unavailable bool
}

// Sampler re-scores words from ledger audio.
type Sampler struct {
	cfg     Config
	ledger  *audio.Ledger
	model   acoustic.Provider
	metrics *observe.Metrics
}

// Option configures a [Sampler].
type Option func(*Sampler)

// WithMetrics records ledger misses, model latency and model failures.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sampler) { s.metrics = m }
}

// New returns a Sampler reading from ledger. A nil model makes every pass a
// no-op that reports the model unavailable.
func New(cfg Config, ledger *audio.Ledger, model acoustic.Provider, opts ...Option) *Sampler {
	cfg.applyDefaults()
	s := &Sampler{cfg: cfg, ledger: ledger, model: model}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Select returns the words to re-score: every heard word when full is true,
// otherwise the heard words below the confidence threshold or disputed by
// the phonetic check.
func (s *Sampler) Select(words []Word, full bool) []Word {
	var out []Word
	for _, w := range words {
		if !w.Heard {
			continue
		}
		if full || w.Disputed || w.Confidence < s.cfg.ConfidenceThreshold {
			out = append(out, w)
		}
	}
	return out
}

// Run scores words. It returns early with what it has when ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, words []Word) Result {
	res := Result{Verdicts: make(map[int]acoustic.Verdict, len(words)), Selected: len(words)}
	if len(words) == 0 {
		return res
	}
	if s.model == nil {
		res.Unavailable = true
		return res
	}
	log := observe.Logger(ctx)

	var (
		mu          sync.Mutex
		unavailable bool
	)
	down := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return unavailable
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, w := range words {
		if gctx.Err() != nil || down() {
			break
		}
		samples, ok := s.ledger.ExtractWord(w.Index)
		if !ok {
			log.Debug("sampler: word audio no longer in ledger", "word_index", w.Index, "word", w.Expected)
			if s.metrics != nil {
				s.metrics.RecordLedgerMiss(ctx)
			}
			mu.Lock()
			res.AgedOut++
			mu.Unlock()
			continue
		}
		samples = s.prepare(samples)

		g.Go(func() error {
			if down() {
				return nil
			}
			start := time.Now()
			v, err := s.model.Score(gctx, samples, w.Expected)
			if s.metrics != nil {
				s.metrics.AcousticDuration.Record(gctx, time.Since(start).Seconds())
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Verdicts[w.Index] = v
			case isUnavailable(err):
				if !unavailable {
					log.Warn("sampler: acoustic model unavailable, keeping text verdicts", "err", err)
				}
				unavailable = true
				res.Failed++
			default:
				log.Debug("sampler: score failed", "word_index", w.Index, "err", err)
				res.Failed++
				if s.metrics != nil {
					s.metrics.RecordProviderError(ctx, s.model.ModelID(), "acoustic")
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	res.Unavailable = unavailable
	return res
}

// prepare applies the level adjustments the acoustic model expects.
func (s *Sampler) prepare(samples []int16) []int16 {
	if s.cfg.AGC {
		samples = audio.ApplyAGC(samples, s.cfg.AGCTargetPeak, s.cfg.AGCMaxGain)
	}
	return audio.RMSNormalize(samples, s.cfg.NormalizeRMS)
}

func isUnavailable(err error) bool {
	return errors.Is(err, acoustic.ErrModelUnavailable) ||
		errors.Is(err, resilience.ErrCircuitOpen)
}

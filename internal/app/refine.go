package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/sampler"
	"github.com/MrWong99/readalong/internal/scoring"
	"github.com/MrWong99/readalong/internal/session"
	"github.com/MrWong99/readalong/pkg/notify"
	"github.com/MrWong99/readalong/pkg/provider/acoustic"
	"github.com/MrWong99/readalong/pkg/provider/comprehension"
	"github.com/MrWong99/readalong/pkg/store"
)

// ErrPersist wraps failures to save a refined result. Saves are not
// retried.
var ErrPersist = errors.New("app: persist session")

// refine is the background analysis context. It runs after recognition has
// ended: acoustic re-scoring, reconciliation, comprehension scoring, the
// refined emission, persistence and notification.
func (rd *Reading) refine(ctx context.Context) (session.Outcome, error) {
	r := rd.runner
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "session.refine")
	defer span.End()
	defer func() { r.metrics.RefineDuration.Record(ctx, time.Since(start).Seconds()) }()
	log := observe.Logger(ctx)

	words, err := rd.agg.Snapshot(ctx)
	if err != nil {
		return session.Outcome{}, fmt.Errorf("app: refine: %w", err)
	}
	complete := session.Count(words, 0).Complete()

	verdicts := rd.rescore(ctx, words, complete)
	rd.reconcile(words, verdicts)
	comp := rd.comprehension(ctx)

	o, err := rd.agg.EmitRefined(ctx, session.RefineInput{Comprehension: comp})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refined emission abandoned")
		return session.Outcome{}, fmt.Errorf("app: refine: %w", err)
	}

	if o.Err != nil {
		log.Info("reading incomplete, not persisting", "err", o.Err)
		rd.publish(ctx, o)
		return o, o.Err
	}

	rec := rd.record(o.Result)
	if err := rd.persist(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		log.Error("failed to persist session", "err", err)
		rd.publish(ctx, o)
		return o, err
	}
	rd.publish(ctx, o)
	log.Info("reading refined",
		"accuracy", o.Result.Accuracy,
		"pronunciation", o.Result.Pronunciation,
		"comprehension", o.Result.Comprehension,
		"level", o.Result.Level.Name,
	)
	return o, nil
}

// rescore runs the acoustic pass over the words worth a second opinion. A
// complete reading gets a full pass when enabled.
func (rd *Reading) rescore(ctx context.Context, words []session.WordVerdict, complete bool) map[int]acoustic.Verdict {
	r := rd.runner
	cands := make([]sampler.Word, 0, len(words))
	for _, w := range words {
		if !w.Finished {
			continue
		}
		cands = append(cands, sampler.Word{
			Index:      w.Index,
			Expected:   w.Expected,
			Confidence: w.Confidence,
			Heard:      w.Heard != "",
			Disputed:   rd.disputed[w.Index],
		})
	}

	smp := sampler.New(rd.cfg.Sampler.Config(rd.cfg.Audio), rd.ledger, r.providers.Acoustic, sampler.WithMetrics(r.metrics))
	selected := smp.Select(cands, complete && rd.cfg.Sampler.FullPassEnabled())
	res := smp.Run(ctx, selected)

	observe.Logger(ctx).Debug("acoustic pass finished",
		"selected", res.Selected,
		"scored", len(res.Verdicts),
		"aged_out", res.AgedOut,
		"failed", res.Failed,
		"unavailable", res.Unavailable,
	)
	return res.Verdicts
}

// reconcile proposes the reconciled verdict of every heard word. Skipped
// and timed-out words keep their verdicts.
func (rd *Reading) reconcile(words []session.WordVerdict, verdicts map[int]acoustic.Verdict) {
	inputs := make([]scoring.Input, 0, len(words))
	for _, w := range words {
		if !w.Finished || w.Heard == "" {
			continue
		}
		in := scoring.Input{
			Index:             w.Index,
			Expected:          w.Expected,
			Heard:             w.Heard,
			TextCorrect:       w.Correct,
			TextPronunciation: w.Pronunciation,
		}
		if v, ok := verdicts[w.Index]; ok {
			in.Acoustic = &v
		}
		inputs = append(inputs, in)
	}
	for _, d := range scoring.ReconcileAll(inputs, rd.runner.table) {
		p := session.Proposal{
			Index:         d.Index,
			Source:        session.SourceReconciler,
			Correct:       d.Correct,
			Pronunciation: d.Pronunciation,
		}
		if d.Substitution != nil {
			p.Substitution = d.Substitution.String()
		}
		rd.agg.Propose(p)
	}
}

// comprehension scores the heard text. Any failure yields
// [comprehension.Neutral].
func (rd *Reading) comprehension(ctx context.Context) float64 {
	r := rd.runner
	scorer := r.providers.Comprehension
	if scorer == nil {
		return comprehension.Neutral
	}
	heard := rd.aligner.HeardText()
	if heard == "" {
		return 0
	}

	ctx, span := observe.StartSpan(ctx, "comprehension.score",
		trace.WithAttributes(attribute.String("provider", scorer.Name())))
	defer span.End()

	start := time.Now()
	s, err := scorer.Score(ctx, heard, rd.info.PassageText)
	r.metrics.ComprehensionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		r.metrics.RecordProviderError(ctx, scorer.Name(), "comprehension")
		observe.Logger(ctx).Warn("comprehension scoring failed, using neutral score",
			"provider", scorer.Name(), "err", err)
		return comprehension.Neutral
	}
	return comprehension.Clamp(s)
}

func (rd *Reading) record(res session.Result) store.Record {
	rd.mu.Lock()
	ended := rd.endedAt
	rd.mu.Unlock()

	words := make([]store.Word, len(res.Words))
	for i, w := range res.Words {
		words[i] = store.Word{
			Index:         w.Index,
			Expected:      w.Expected,
			Heard:         w.Heard,
			Correct:       w.Correct,
			Pronunciation: w.Pronunciation,
			Source:        string(w.Source),
		}
	}
	return store.Record{
		SessionID:      rd.info.ID,
		StudentID:      rd.info.StudentID,
		StudentName:    rd.info.StudentName,
		PassageID:      rd.info.PassageID,
		PassageTitle:   rd.info.PassageTitle,
		PassageText:    rd.info.PassageText,
		Accuracy:       res.Accuracy,
		Pronunciation:  res.Pronunciation,
		Comprehension:  res.Comprehension,
		WordsPerMinute: res.WordsPerMinute,
		ErrorRate:      res.ErrorRate,
		CorrectWords:   res.CorrectWords,
		TotalWords:     res.TotalWords,
		Level:          res.Level,
		StartedAt:      rd.startedAt.UTC(),
		EndedAt:        ended.UTC(),
		Words:          words,
	}
}

func (rd *Reading) persist(ctx context.Context, rec store.Record) error {
	s := rd.runner.providers.Store
	if s == nil {
		return nil
	}
	if err := s.Save(ctx, rec); err != nil {
		rd.runner.metrics.RecordProviderError(ctx, "store", "save")
		return fmt.Errorf("%w %s: %w", ErrPersist, rec.SessionID, err)
	}
	return nil
}

func (rd *Reading) publish(ctx context.Context, o session.Outcome) {
	n := rd.runner.providers.Notifier
	if n == nil {
		return
	}
	msg := notify.Message{
		Type:     notify.TypeRefined,
		Complete: o.Err == nil,
		Record:   rd.record(o.Result),
	}
	if o.Err != nil {
		msg.Error = o.Err.Error()
	}
	if err := n.Publish(ctx, msg); err != nil {
		rd.runner.metrics.RecordProviderError(ctx, "notify", "publish")
		observe.Logger(ctx).Warn("failed to publish session", "err", err)
	}
}

// Package pipeline chains the ingestion stages: validation, annotation,
// pattern windows, execution scoring, impact prediction, publication,
// and notification.
//
// Only validation can reject a submission. Every later stage is best
// effort and passes the signal through on failure, so a degraded store
// or a bad policy never takes a producer down with it.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/annotate"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/impact"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/markov"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/metrics"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/notify"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/pattern"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/stream"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/traces"
)

// Broadcaster pushes published signals to live subscribers.
type Broadcaster interface {
	BroadcastSignal(s *signal.Signal)
}

// Archiver persists published signals durably, off the hot path.
type Archiver interface {
	Archive(ctx context.Context, s *signal.Signal)
}

// Pipeline wires the stages together.
type Pipeline struct {
	annotator  *annotate.Annotator
	tracker    *pattern.Tracker
	scorer     *markov.Scorer
	thresholds markov.Thresholds
	predictor  *impact.Predictor
	publisher  *stream.Publisher
	notifier   *notify.Notifier
	broadcast  Broadcaster
	archiver   Archiver
	logger     *slog.Logger
}

// Options carries the optional sinks.
type Options struct {
	Broadcaster Broadcaster
	Archiver    Archiver
}

// New assembles a pipeline from its stages.
func New(
	annotator *annotate.Annotator,
	tracker *pattern.Tracker,
	scorer *markov.Scorer,
	thresholds markov.Thresholds,
	predictor *impact.Predictor,
	publisher *stream.Publisher,
	notifier *notify.Notifier,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		annotator:  annotator,
		tracker:    tracker,
		scorer:     scorer,
		thresholds: thresholds,
		predictor:  predictor,
		publisher:  publisher,
		notifier:   notifier,
		broadcast:  opts.Broadcaster,
		archiver:   opts.Archiver,
		logger:     logger,
	}
}

// Ingest is the single entry point for producers. It validates the raw
// submission, runs every enrichment stage, publishes the result, and
// fans it out to live subscribers and the notifier. The only error it
// returns is a validation rejection.
func (p *Pipeline) Ingest(ctx context.Context, raw map[string]any) (*signal.Signal, error) {
	s, err := signal.Validate(raw)
	if err != nil {
		metrics.SignalsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "pipeline.ingest",
		traces.SignalID(s.ID), traces.SignalKind(string(s.Kind)))
	defer span.End()

	p.annotator.Annotate(s)

	before := s.Tags.Len()
	p.tracker.DetectPatterns(ctx, s)
	if s.Tags.Len() > before {
		for _, tag := range s.Tags.AsSlice()[before:] {
			metrics.PatternTagsTotal.WithLabelValues(tag).Inc()
		}
	}

	obs := markov.ClassifyObservation(s, p.thresholds)
	s.ExecutionScore = p.scorer.Observe(obs)
	metrics.ExecutionScore.Set(s.ExecutionScore)

	p.predictor.Predict(s)

	if err := p.publisher.Publish(ctx, s); err != nil {
		// The signal is lost; enrichment already ran, so report and move on.
		metrics.StreamAppendsTotal.WithLabelValues("signals", "error").Inc()
		p.logger.Error("publish failed, signal lost", "signal", s.ID, "error", err)
		return s, nil
	}
	metrics.StreamAppendsTotal.WithLabelValues("signals", "ok").Inc()
	metrics.SignalsIngestedTotal.WithLabelValues(string(s.Kind)).Inc()

	if p.broadcast != nil {
		p.broadcast.BroadcastSignal(s)
	}
	if p.archiver != nil {
		p.archiver.Archive(ctx, s)
	}
	if p.notifier != nil {
		p.notifier.Notify(ctx, notifyCategory(s), s)
	}
	return s, nil
}

// notifyCategory buckets the delivery rate by what kind of alert the
// signal represents.
func notifyCategory(s *signal.Signal) string {
	switch {
	case s.Tags.Has(signal.TagSettlement):
		return "settlement"
	case s.Kind == signal.KindDarkPoolPrint || s.Kind == signal.KindDarkAMMSwap:
		return "equity_dark"
	case s.Tags.Has(signal.TagPartner):
		return "partner"
	}
	return "generic"
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, signal.ErrMissingKind):
		return "missing_kind"
	case errors.Is(err, signal.ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, signal.ErrMissingTimestamp):
		return "missing_timestamp"
	case errors.Is(err, signal.ErrMissingTags):
		return "missing_tags"
	case errors.Is(err, signal.ErrTagsNotList):
		return "tags_not_list"
	}
	return "invalid"
}

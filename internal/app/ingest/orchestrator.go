package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
)

// SubmitOutcome summarizes how a submission was resolved.
type SubmitOutcome string

const (
	// OutcomeAccepted means a workout was extracted and durably recorded.
	OutcomeAccepted SubmitOutcome = "accepted"

	// OutcomeDuplicate means the cast was already handled, here or elsewhere.
	OutcomeDuplicate SubmitOutcome = "duplicate"

	// OutcomeRejected means the cast never entered the pipeline.
	OutcomeRejected SubmitOutcome = "rejected"

	// OutcomeNotWorkout means extraction decided the cast shows no workout;
	// its record was deleted so the hash could be resubmitted.
	OutcomeNotWorkout SubmitOutcome = "not_workout"

	// OutcomeFailed means processing hit an infrastructure error. The
	// record was marked FAILED on a best-effort basis.
	OutcomeFailed SubmitOutcome = "failed"
)

// SubmitResult reports the outcome of one cast submission.
type SubmitResult struct {
	Outcome SubmitOutcome

	// Reason carries the rejection reason, failure summary, or the
	// extractor's rationale for a non-workout verdict.
	Reason string

	// Workout is set when Outcome is OutcomeAccepted.
	Workout *tracking.Workout
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct{ retryFailed bool }

// WithRetryFailed marks the submission as a deliberate retry: records in
// FAILED are reprocessed instead of reported as duplicates. Used by the
// backfill path; live webhook traffic never sets it.
func WithRetryFailed() SubmitOption {
	return func(o *submitOptions) { o.retryFailed = true }
}

const defaultExtractionTimeout = 30 * time.Second

// Orchestrator drives a cast submission end to end: idempotency
// classification, in-flight suppression, workout extraction and the durable
// state transition, followed by totals accounting and completion events.
// Both the webhook consumer and the backfill seeder funnel through
// SubmitCast, so every entry point shares one idempotency story.
type Orchestrator struct {
	guard      *Guard
	suppressor *Suppressor

	records   tracking.RecordRepository
	totals    tracking.TotalsRepository
	extractor tracking.WorkoutExtractor

	eventPublisher events.DomainEventPublisher

	// processed caches hashes with a terminal record; shared with the guard.
	// replied caches hashes this process already announced a completion for.
	processed HashCache
	replied   HashCache

	extractionTimeout time.Duration

	submissions          atomic.Int64
	completed            atomic.Int64
	failed               atomic.Int64
	nonWorkout           atomic.Int64
	rejected             atomic.Int64
	concurrentDuplicates atomic.Int64

	metrics IngestMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewOrchestrator assembles the submission pipeline. The processed cache must
// be the same instance the guard was built with.
func NewOrchestrator(
	guard *Guard,
	suppressor *Suppressor,
	records tracking.RecordRepository,
	totals tracking.TotalsRepository,
	extractor tracking.WorkoutExtractor,
	eventPublisher events.DomainEventPublisher,
	processed HashCache,
	replied HashCache,
	extractionTimeout time.Duration,
	metrics IngestMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Orchestrator {
	if extractionTimeout <= 0 {
		extractionTimeout = defaultExtractionTimeout
	}
	return &Orchestrator{
		guard:             guard,
		suppressor:        suppressor,
		records:           records,
		totals:            totals,
		extractor:         extractor,
		eventPublisher:    eventPublisher,
		processed:         processed,
		replied:           replied,
		extractionTimeout: extractionTimeout,
		metrics:           metrics,
		logger:            logger,
		tracer:            tracer,
	}
}

// SubmitCast runs one cast through the pipeline and reports how it resolved.
//
// Business errors (quota exceeded, unknown runner) are returned to the caller
// synchronously. Infrastructure errors are absorbed: the record is marked
// FAILED on a best-effort basis and the result carries OutcomeFailed, since
// webhook callers can do nothing useful with a storage stack trace.
func (o *Orchestrator) SubmitCast(ctx context.Context, cast feed.Cast, opts ...SubmitOption) (SubmitResult, error) {
	var options submitOptions
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.submit_cast",
		trace.WithAttributes(
			attribute.String("cast_hash", cast.Hash.String()),
			attribute.Int64("fid", cast.FID),
			attribute.Bool("retry_failed", options.retryFailed),
		))
	defer span.End()

	o.submissions.Add(1)
	o.metrics.IncSubmission(ctx)

	if err := cast.Validate(); err != nil {
		return o.reject(ctx, span, err.Error()), nil
	}
	if cast.IsReply() {
		return o.reject(ctx, span, "reply casts are not processed"), nil
	}

	hash := cast.Hash
	if !o.suppressor.TryEnter(ctx, hash) {
		o.concurrentDuplicates.Add(1)
		o.metrics.IncConcurrentDuplicate(ctx)
		span.AddEvent("suppressed_in_flight")
		return SubmitResult{Outcome: OutcomeDuplicate, Reason: "already in flight"}, nil
	}
	defer o.suppressor.Leave(ctx, hash)

	classification, err := o.guard.Classify(ctx, hash, cast.FID, options.retryFailed)
	if err != nil {
		if tracking.IsBusinessError(err) {
			span.RecordError(err)
			span.SetAttributes(attribute.String("outcome", "business_error"))
			return SubmitResult{}, err
		}
		// No record was claimed yet, so there is nothing to mark FAILED.
		return o.fail(ctx, span, nil, "classification failed", err), nil
	}
	if classification == ClassificationDuplicate {
		span.SetAttributes(attribute.String("outcome", string(OutcomeDuplicate)))
		return SubmitResult{Outcome: OutcomeDuplicate}, nil
	}

	record, err := o.records.GetByHash(ctx, hash)
	if err != nil {
		return o.fail(ctx, span, nil, "loading claimed record failed", err), nil
	}

	if classification == ClassificationNeedsProcessing {
		if record.Status() == tracking.RecordStatusFailed && !options.retryFailed {
			// Failed between classification and reload. Without an explicit
			// retry this resolves the way classification would have.
			o.processed.Add(hash)
			span.SetAttributes(attribute.String("outcome", string(OutcomeDuplicate)))
			return SubmitResult{Outcome: OutcomeDuplicate}, nil
		}
		if err := record.MarkProcessing(); err != nil {
			// The only invalid claim is COMPLETED -> PROCESSING: a concurrent
			// writer finished first.
			o.processed.Add(hash)
			span.AddEvent("completed_by_concurrent_writer")
			span.SetAttributes(attribute.String("outcome", string(OutcomeDuplicate)))
			return SubmitResult{Outcome: OutcomeDuplicate}, nil
		}
		if err := o.records.Update(ctx, record); err != nil {
			return o.fail(ctx, span, record, "claiming record failed", err), nil
		}
	}

	extractCtx, cancel := context.WithTimeout(ctx, o.extractionTimeout)
	var result tracking.ExtractionResult
	err = o.metrics.TrackExtraction(extractCtx, func() error {
		var extractErr error
		result, extractErr = o.extractor.ExtractWorkout(extractCtx, cast)
		return extractErr
	})
	cancel()
	if err != nil {
		return o.fail(ctx, span, record, "workout extraction failed", err), nil
	}

	if !result.IsWorkout {
		if err := o.records.Delete(ctx, hash); err != nil {
			// Leave the PROCESSING row for the reaper rather than guessing.
			return o.fail(ctx, span, record, "deleting non-workout record failed", err), nil
		}
		o.nonWorkout.Add(1)
		o.metrics.IncNonWorkout(ctx)
		o.logger.Info(ctx, "Cast is not a workout, record deleted",
			"cast_hash", hash.String(), "rationale", result.Rationale)
		span.SetAttributes(attribute.String("outcome", string(OutcomeNotWorkout)))
		return SubmitResult{Outcome: OutcomeNotWorkout, Reason: result.Rationale}, nil
	}

	if err := record.Complete(result.Workout, result.Rationale); err != nil {
		if record.Status() == tracking.RecordStatusCompleted {
			o.processed.Add(hash)
			span.AddEvent("completed_by_concurrent_writer")
			span.SetAttributes(attribute.String("outcome", string(OutcomeDuplicate)))
			return SubmitResult{Outcome: OutcomeDuplicate}, nil
		}
		return o.fail(ctx, span, record, "completing record failed", err), nil
	}
	if err := o.records.Update(ctx, record); err != nil {
		return o.fail(ctx, span, record, "persisting completed record failed", err), nil
	}

	// COMPLETED is durable from here on. Totals and announcements are
	// best-effort; periodic reconciliation repairs any drift.
	if err := o.totals.ApplyWorkout(ctx, cast.FID, result.Workout); err != nil {
		o.metrics.IncTotalsDriftError(ctx)
		span.RecordError(err)
		o.logger.Error(ctx, "Totals increment failed after completion, reconciliation will repair",
			"fid", cast.FID, "cast_hash", hash.String(), "error", err)
	}

	o.processed.Add(hash)
	o.publishCompleted(ctx, span, cast, result)

	o.completed.Add(1)
	o.metrics.IncCompleted(ctx)
	workout := result.Workout
	span.SetAttributes(
		attribute.String("outcome", string(OutcomeAccepted)),
		attribute.Float64("distance_km", workout.DistanceKM()),
	)
	return SubmitResult{Outcome: OutcomeAccepted, Workout: &workout}, nil
}

// reject records a submission that never entered the pipeline.
func (o *Orchestrator) reject(ctx context.Context, span trace.Span, reason string) SubmitResult {
	o.rejected.Add(1)
	o.metrics.IncRejected(ctx)
	span.SetAttributes(
		attribute.String("outcome", string(OutcomeRejected)),
		attribute.String("reject_reason", reason),
	)
	o.logger.Info(ctx, "Cast rejected", "reason", reason)
	return SubmitResult{Outcome: OutcomeRejected, Reason: reason}
}

// fail reports an infrastructure failure and moves the record to FAILED on a
// best-effort basis. A record that cannot even be marked FAILED stays in
// PROCESSING for the reaper to claim.
func (o *Orchestrator) fail(
	ctx context.Context,
	span trace.Span,
	record *tracking.Record,
	summary string,
	cause error,
) SubmitResult {
	span.RecordError(cause)
	span.SetStatus(codes.Error, summary)
	span.SetAttributes(attribute.String("outcome", string(OutcomeFailed)))
	o.failed.Add(1)
	o.metrics.IncFailed(ctx)

	result := SubmitResult{Outcome: OutcomeFailed, Reason: summary}
	if record == nil {
		o.logger.Error(ctx, "Cast processing failed", "summary", summary, "error", cause)
		return result
	}

	o.logger.Error(ctx, "Cast processing failed",
		"cast_hash", record.CastHash().String(), "summary", summary, "error", cause)

	if err := record.Fail(summary + ": " + cause.Error()); err != nil {
		o.logger.Error(ctx, "Could not transition record to FAILED",
			"cast_hash", record.CastHash().String(), "status", record.Status().String(), "error", err)
		return result
	}
	if err := o.records.Update(ctx, record); err != nil {
		o.logger.Error(ctx, "Could not persist FAILED record, reaper will claim it",
			"cast_hash", record.CastHash().String(), "error", err)
		return result
	}

	// FAILED is durable; cache it and announce it.
	o.processed.Add(record.CastHash())
	evt := tracking.NewRecordFailedEvent(record.CastHash(), record.FID(), record.FailureReason())
	if err := o.eventPublisher.PublishDomainEvent(ctx, evt, events.WithKey(record.CastHash().String())); err != nil {
		o.logger.Error(ctx, "Failed to publish record failed event",
			"cast_hash", record.CastHash().String(), "error", err)
	}
	return result
}

// publishCompleted announces a completion unless this process already
// announced one for the hash. The replied cache only suppresses repeats from
// this process; subscribers still need to tolerate duplicates across
// restarts.
func (o *Orchestrator) publishCompleted(ctx context.Context, span trace.Span, cast feed.Cast, result tracking.ExtractionResult) {
	if o.replied.Contains(cast.Hash) {
		span.AddEvent("completion_event_suppressed")
		return
	}
	evt := tracking.NewRecordCompletedEvent(cast.Hash, cast.FID, result.Workout, result.Rationale)
	if err := o.eventPublisher.PublishDomainEvent(ctx, evt, events.WithKey(cast.Hash.String())); err != nil {
		span.RecordError(err)
		o.logger.Error(ctx, "Failed to publish record completed event",
			"cast_hash", cast.Hash.String(), "error", err)
		return
	}
	o.replied.Add(cast.Hash)
}

// Stats is a point-in-time snapshot of pipeline counters, served by the
// introspection endpoint.
type Stats struct {
	Submissions          int64 `json:"submissions_total"`
	Completed            int64 `json:"completed_total"`
	Failed               int64 `json:"failed_total"`
	NonWorkout           int64 `json:"non_workout_total"`
	Rejected             int64 `json:"rejected_total"`
	DuplicateCacheHits   int64 `json:"duplicate_cache_hits"`
	DuplicateStoreHits   int64 `json:"duplicate_store_hits"`
	ConcurrentDuplicates int64 `json:"concurrent_duplicates"`
	InsertRacesLost      int64 `json:"insert_races_lost"`
	InFlight             int   `json:"in_flight"`
	InFlightForceClears  int64 `json:"in_flight_force_clears"`
	ProcessedCacheSize   int   `json:"processed_cache_size"`
	RepliedCacheSize     int   `json:"replied_cache_size"`
}

// Stats snapshots the pipeline's counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Submissions:          o.submissions.Load(),
		Completed:            o.completed.Load(),
		Failed:               o.failed.Load(),
		NonWorkout:           o.nonWorkout.Load(),
		Rejected:             o.rejected.Load(),
		DuplicateCacheHits:   o.guard.CacheHits(),
		DuplicateStoreHits:   o.guard.StoreHits(),
		ConcurrentDuplicates: o.concurrentDuplicates.Load(),
		InsertRacesLost:      o.guard.InsertRaces(),
		InFlight:             o.suppressor.Held(),
		InFlightForceClears:  o.suppressor.ForceClears(),
		ProcessedCacheSize:   o.processed.Len(),
		RepliedCacheSize:     o.replied.Len(),
	}
}

package ingest

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
)

// timeProvider abstracts time operations for testing.
type timeProvider interface{ Now() time.Time }

// realTimeProvider implements timeProvider using the actual time.
type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }

// staleFailureReason is the failure reason written onto records the reaper
// force-fails.
const staleFailureReason = "abandoned in PROCESSING past the staleness deadline"

// Reaper periodically force-fails records stuck in PROCESSING, typically
// because the owning process crashed between claiming a record and reaching a
// terminal state. Moving them to FAILED keeps them eligible for a deliberate
// retry instead of blocking the hash forever.
type Reaper struct {
	records        tracking.RecordRepository
	eventPublisher events.DomainEventPublisher

	sweepInterval      time.Duration
	stalenessThreshold time.Duration

	cancel context.CancelCauseFunc

	timeProvider timeProvider

	metrics IngestMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewReaper creates a Reaper that sweeps every sweepInterval and fails
// records that have sat in PROCESSING longer than stalenessThreshold.
func NewReaper(
	records tracking.RecordRepository,
	eventPublisher events.DomainEventPublisher,
	sweepInterval time.Duration,
	stalenessThreshold time.Duration,
	metrics IngestMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Reaper {
	return &Reaper{
		records:            records,
		eventPublisher:     eventPublisher,
		sweepInterval:      sweepInterval,
		stalenessThreshold: stalenessThreshold,
		timeProvider:       realTimeProvider{},
		metrics:            metrics,
		logger:             logger,
		tracer:             tracer,
	}
}

// Start begins the background sweep loop. It returns immediately; the loop
// runs until ctx is cancelled or Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancelCause(ctx)

	r.logger.Info(ctx, "Starting stale record reaper",
		"sweep_interval", r.sweepInterval.String(),
		"staleness_threshold", r.stalenessThreshold.String())

	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info(ctx, "Stale record reaper stopping", "reason", context.Cause(ctx))
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel(errors.New("reaper stopped"))
	}
}

// sweep force-fails every record whose last update is older than the
// staleness threshold and announces each one.
func (r *Reaper) sweep(ctx context.Context) {
	ctx, span := r.tracer.Start(ctx, "reaper.sweep")
	defer span.End()

	cutoff := r.timeProvider.Now().Add(-r.stalenessThreshold)
	span.SetAttributes(attribute.String("cutoff", cutoff.Format(time.RFC3339)))

	reaped, err := r.records.MarkStaleFailed(ctx, cutoff, staleFailureReason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stale sweep failed")
		r.logger.Error(ctx, "Stale record sweep failed", "error", err)
		return
	}
	span.SetAttributes(attribute.Int("reaped_count", len(reaped)))
	if len(reaped) == 0 {
		return
	}

	r.metrics.IncReaped(ctx, len(reaped))
	for _, record := range reaped {
		r.logger.Warn(ctx, "Reaped stale processing record",
			"cast_hash", record.Hash.String(),
			"fid", record.FID,
			"stale_since", record.StaleSince.Format(time.RFC3339))

		evt := tracking.NewRecordReapedEvent(record.Hash, record.FID, record.StaleSince)
		if err := r.eventPublisher.PublishDomainEvent(ctx, evt, events.WithKey(record.Hash.String())); err != nil {
			span.RecordError(err)
			r.logger.Error(ctx, "Failed to publish reaped event",
				"cast_hash", record.Hash.String(), "error", err)
		}
	}
}

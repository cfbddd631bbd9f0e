package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
)

// Classification is the Guard's verdict on a submitted cast hash.
type Classification string

const (
	// ClassificationNew means this process created the record and owns
	// its first processing attempt.
	ClassificationNew Classification = "NEW"

	// ClassificationDuplicate means the cast was already fully handled
	// and must not be processed again.
	ClassificationDuplicate Classification = "DUPLICATE"

	// ClassificationNeedsProcessing means a record exists but has not
	// reached a terminal state this caller accepts; the caller should
	// claim it and run extraction.
	ClassificationNeedsProcessing Classification = "NEEDS_PROCESSING"
)

// quotaWindow is the rolling window the per-runner submission limit
// applies to.
const quotaWindow = 7 * 24 * time.Hour

// Guard classifies incoming cast hashes against the fast-path cache and the
// durable record store. All duplicate detection across processes funnels
// through the store's uniqueness constraint; the cache only saves reads.
type Guard struct {
	records   tracking.RecordRepository
	processed HashCache

	// weeklyLimit caps completed-or-pending records per runner inside
	// quotaWindow. Zero disables the check.
	weeklyLimit int

	cacheHits   atomic.Int64
	storeHits   atomic.Int64
	insertRaces atomic.Int64

	metrics IngestMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewGuard creates a Guard backed by the given record store and cache.
func NewGuard(
	records tracking.RecordRepository,
	processed HashCache,
	weeklyLimit int,
	metrics IngestMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Guard {
	return &Guard{
		records:     records,
		processed:   processed,
		weeklyLimit: weeklyLimit,
		metrics:     metrics,
		logger:      logger,
		tracer:      tracer,
	}
}

// Classify determines whether hash is new, a duplicate, or an existing record
// that still needs processing. When retryFailed is set, records in FAILED are
// classified NEEDS_PROCESSING instead of DUPLICATE and the fast-path cache is
// bypassed, since a deliberate retry needs the store's ground truth.
//
// Storage errors propagate unmodified. A QuotaExceededError is returned when
// the runner is over their submission limit; the record is not created.
func (g *Guard) Classify(
	ctx context.Context,
	hash feed.CastHash,
	fid int64,
	retryFailed bool,
) (Classification, error) {
	ctx, span := g.tracer.Start(ctx, "guard.classify",
		trace.WithAttributes(
			attribute.String("cast_hash", hash.String()),
			attribute.Int64("fid", fid),
			attribute.Bool("retry_failed", retryFailed),
		))
	defer span.End()

	if !retryFailed && g.processed.Contains(hash) {
		g.cacheHits.Add(1)
		g.metrics.IncDuplicateCacheHit(ctx)
		span.AddEvent("cache_hit")
		span.SetAttributes(attribute.String("classification", string(ClassificationDuplicate)))
		return ClassificationDuplicate, nil
	}

	record, err := g.records.GetByHash(ctx, hash)
	switch {
	case err == nil:
		classification := g.classifyExisting(ctx, record, retryFailed)
		span.SetAttributes(
			attribute.String("classification", string(classification)),
			attribute.String("record_status", record.Status().String()),
		)
		return classification, nil
	case errors.Is(err, tracking.ErrRecordNotFound):
		// Fall through to insertion.
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "record lookup failed")
		return "", err
	}

	if err := g.checkQuota(ctx, fid); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("quota_exceeded", tracking.IsBusinessError(err)))
		return "", err
	}

	record, err = tracking.NewRecord(hash, fid)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid record")
		return "", err
	}

	inserted, err := g.records.CreateIfAbsent(ctx, record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record insert failed")
		return "", err
	}
	if !inserted {
		// Another writer created the row between our lookup and insert.
		// The record exists now; treat it like any other live record.
		g.insertRaces.Add(1)
		g.metrics.IncInsertRaceLost(ctx)
		span.AddEvent("insert_race_lost")
		span.SetAttributes(attribute.String("classification", string(ClassificationNeedsProcessing)))
		return ClassificationNeedsProcessing, nil
	}

	span.AddEvent("record_created")
	span.SetAttributes(attribute.String("classification", string(ClassificationNew)))
	return ClassificationNew, nil
}

// classifyExisting maps a stored record's status to a classification and
// back-fills the fast-path cache for terminal records.
func (g *Guard) classifyExisting(ctx context.Context, record *tracking.Record, retryFailed bool) Classification {
	switch record.Status() {
	case tracking.RecordStatusCompleted:
		g.storeHits.Add(1)
		g.metrics.IncDuplicateStoreHit(ctx)
		g.processed.Add(record.CastHash())
		return ClassificationDuplicate
	case tracking.RecordStatusFailed:
		if retryFailed {
			return ClassificationNeedsProcessing
		}
		g.storeHits.Add(1)
		g.metrics.IncDuplicateStoreHit(ctx)
		g.processed.Add(record.CastHash())
		return ClassificationDuplicate
	default:
		// PENDING or PROCESSING: a prior attempt stalled or is racing us.
		return ClassificationNeedsProcessing
	}
}

// checkQuota enforces the per-runner submission limit before a new record is
// created. Terminal FAILED records do not count against the limit.
func (g *Guard) checkQuota(ctx context.Context, fid int64) error {
	if g.weeklyLimit <= 0 {
		return nil
	}
	count, err := g.records.CountForRunnerSince(ctx, fid, time.Now().Add(-quotaWindow))
	if err != nil {
		return err
	}
	if count >= int64(g.weeklyLimit) {
		g.logger.Info(ctx, "Runner over submission limit, rejecting",
			"fid", fid, "count", count, "limit", g.weeklyLimit)
		return tracking.NewQuotaExceededError(fid, g.weeklyLimit)
	}
	return nil
}

// CacheHits returns duplicates resolved without a store read.
func (g *Guard) CacheHits() int64 { return g.cacheHits.Load() }

// StoreHits returns duplicates resolved by a store read.
func (g *Guard) StoreHits() int64 { return g.storeHits.Load() }

// InsertRaces returns inserts lost to a concurrent writer.
func (g *Guard) InsertRaces() int64 { return g.insertRaces.Load() }

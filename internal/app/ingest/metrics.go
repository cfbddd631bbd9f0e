package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/infra/eventbus/kafka"
)

// IngestMetrics defines metrics operations needed by the ingestion pipeline.
type IngestMetrics interface {
	// Messaging metrics
	kafka.BrokerMetrics

	// Submission metrics
	IncSubmission(ctx context.Context)
	IncDuplicateCacheHit(ctx context.Context)
	IncDuplicateStoreHit(ctx context.Context)
	IncConcurrentDuplicate(ctx context.Context)
	IncInsertRaceLost(ctx context.Context)
	IncRejected(ctx context.Context)

	// Outcome metrics
	IncCompleted(ctx context.Context)
	IncFailed(ctx context.Context)
	IncNonWorkout(ctx context.Context)
	IncTotalsDriftError(ctx context.Context)

	// Housekeeping metrics
	IncReaped(ctx context.Context, count int)
	IncInFlightForceClear(ctx context.Context)
	AddInFlight(ctx context.Context, delta int64)

	// TrackExtraction runs f while recording extraction duration.
	TrackExtraction(ctx context.Context, f func() error) error
}

// ingestMetrics implements IngestMetrics.
type ingestMetrics struct {
	// Messaging metrics
	messagesPublished metric.Int64Counter
	messagesConsumed  metric.Int64Counter
	publishErrors     metric.Int64Counter
	consumeErrors     metric.Int64Counter

	// Submission metrics
	submissions          metric.Int64Counter
	duplicateCacheHits   metric.Int64Counter
	duplicateStoreHits   metric.Int64Counter
	concurrentDuplicates metric.Int64Counter
	insertRacesLost      metric.Int64Counter
	rejected             metric.Int64Counter

	// Outcome metrics
	completed         metric.Int64Counter
	failed            metric.Int64Counter
	nonWorkout        metric.Int64Counter
	totalsDriftErrors metric.Int64Counter

	// Housekeeping metrics
	reaped            metric.Int64Counter
	inFlightClears    metric.Int64Counter
	inFlight          metric.Int64UpDownCounter
	extractionSeconds metric.Float64Histogram
}

const namespace = "ingest"

// NewIngestMetrics creates a new ingestion metrics instance.
func NewIngestMetrics(mp metric.MeterProvider) (*ingestMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(ingestMetrics)
	var err error

	if m.messagesPublished, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of messages published"),
	); err != nil {
		return nil, err
	}

	if m.messagesConsumed, err = meter.Int64Counter(
		"messages_consumed_total",
		metric.WithDescription("Total number of messages consumed"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of publish errors"),
	); err != nil {
		return nil, err
	}

	if m.consumeErrors, err = meter.Int64Counter(
		"consume_errors_total",
		metric.WithDescription("Total number of consume errors"),
	); err != nil {
		return nil, err
	}

	if m.submissions, err = meter.Int64Counter(
		"submissions_total",
		metric.WithDescription("Total number of casts submitted to the pipeline"),
	); err != nil {
		return nil, err
	}

	if m.duplicateCacheHits, err = meter.Int64Counter(
		"duplicates_cache_hit_total",
		metric.WithDescription("Duplicates detected via the fast-path cache"),
	); err != nil {
		return nil, err
	}

	if m.duplicateStoreHits, err = meter.Int64Counter(
		"duplicates_store_hit_total",
		metric.WithDescription("Duplicates detected via the durable store"),
	); err != nil {
		return nil, err
	}

	if m.concurrentDuplicates, err = meter.Int64Counter(
		"concurrent_duplicates_total",
		metric.WithDescription("Submissions suppressed because the hash was already in flight"),
	); err != nil {
		return nil, err
	}

	if m.insertRacesLost, err = meter.Int64Counter(
		"insert_races_lost_total",
		metric.WithDescription("Inserts that lost the uniqueness race to a concurrent writer"),
	); err != nil {
		return nil, err
	}

	if m.rejected, err = meter.Int64Counter(
		"rejected_total",
		metric.WithDescription("Submissions rejected before entering the pipeline"),
	); err != nil {
		return nil, err
	}

	if m.completed, err = meter.Int64Counter(
		"records_completed_total",
		metric.WithDescription("Records that reached COMPLETED"),
	); err != nil {
		return nil, err
	}

	if m.failed, err = meter.Int64Counter(
		"records_failed_total",
		metric.WithDescription("Records that reached FAILED"),
	); err != nil {
		return nil, err
	}

	if m.nonWorkout, err = meter.Int64Counter(
		"non_workout_total",
		metric.WithDescription("Casts whose extraction verdict was not a workout"),
	); err != nil {
		return nil, err
	}

	if m.totalsDriftErrors, err = meter.Int64Counter(
		"totals_drift_errors_total",
		metric.WithDescription("Totals increments that failed after a completed commit"),
	); err != nil {
		return nil, err
	}

	if m.reaped, err = meter.Int64Counter(
		"records_reaped_total",
		metric.WithDescription("Abandoned records force-failed by the reaper"),
	); err != nil {
		return nil, err
	}

	if m.inFlightClears, err = meter.Int64Counter(
		"inflight_force_clears_total",
		metric.WithDescription("Times the in-flight set hit its ceiling and was cleared"),
	); err != nil {
		return nil, err
	}

	if m.inFlight, err = meter.Int64UpDownCounter(
		"inflight_casts",
		metric.WithDescription("Casts currently being processed"),
	); err != nil {
		return nil, err
	}

	if m.extractionSeconds, err = meter.Float64Histogram(
		"extraction_duration_seconds",
		metric.WithDescription("Time taken by the workout extractor per cast"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// Submission metrics implementations
func (m *ingestMetrics) IncSubmission(ctx context.Context) { m.submissions.Add(ctx, 1) }

func (m *ingestMetrics) IncDuplicateCacheHit(ctx context.Context) { m.duplicateCacheHits.Add(ctx, 1) }

func (m *ingestMetrics) IncDuplicateStoreHit(ctx context.Context) { m.duplicateStoreHits.Add(ctx, 1) }

func (m *ingestMetrics) IncConcurrentDuplicate(ctx context.Context) {
	m.concurrentDuplicates.Add(ctx, 1)
}

func (m *ingestMetrics) IncInsertRaceLost(ctx context.Context) { m.insertRacesLost.Add(ctx, 1) }

func (m *ingestMetrics) IncRejected(ctx context.Context) { m.rejected.Add(ctx, 1) }

// Outcome metrics implementations
func (m *ingestMetrics) IncCompleted(ctx context.Context) { m.completed.Add(ctx, 1) }

func (m *ingestMetrics) IncFailed(ctx context.Context) { m.failed.Add(ctx, 1) }

func (m *ingestMetrics) IncNonWorkout(ctx context.Context) { m.nonWorkout.Add(ctx, 1) }

func (m *ingestMetrics) IncTotalsDriftError(ctx context.Context) { m.totalsDriftErrors.Add(ctx, 1) }

// Housekeeping metrics implementations
func (m *ingestMetrics) IncReaped(ctx context.Context, count int) {
	m.reaped.Add(ctx, int64(count))
}

func (m *ingestMetrics) IncInFlightForceClear(ctx context.Context) { m.inFlightClears.Add(ctx, 1) }

func (m *ingestMetrics) AddInFlight(ctx context.Context, delta int64) { m.inFlight.Add(ctx, delta) }

func (m *ingestMetrics) TrackExtraction(ctx context.Context, f func() error) error {
	start := time.Now()
	err := f()
	m.extractionSeconds.Record(ctx, time.Since(start).Seconds())
	return err
}

// Kafka BrokerMetrics implementations
func (m *ingestMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(topicAttr(topic)))
}

func (m *ingestMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.messagesConsumed.Add(ctx, 1, metric.WithAttributes(topicAttr(topic)))
}

func (m *ingestMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(topicAttr(topic)))
}

func (m *ingestMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.consumeErrors.Add(ctx, 1, metric.WithAttributes(topicAttr(topic)))
}

func topicAttr(topic string) attribute.KeyValue { return attribute.String("topic", topic) }

package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
)

func newTestReaper(store *mockRecordStore, publisher *mockEventPublisher, threshold time.Duration) *Reaper {
	return NewReaper(store, publisher, time.Hour, threshold,
		stubMetrics{}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func TestReaper_SweepPublishesReapedEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	staleA := now.Add(-3 * time.Hour)
	staleB := now.Add(-2 * time.Hour)

	store := newMockRecordStore()
	var capturedOlderThan time.Time
	var capturedReason string
	store.markStaleFunc = func(ctx context.Context, olderThan time.Time, reason string) ([]tracking.ReapedRecord, error) {
		capturedOlderThan = olderThan
		capturedReason = reason
		return []tracking.ReapedRecord{
			{Hash: testHashA, FID: 16098, StaleSince: staleA},
			{Hash: testHashB, FID: 42, StaleSince: staleB},
		}, nil
	}
	publisher := &mockEventPublisher{}

	reaper := newTestReaper(store, publisher, 30*time.Minute)
	reaper.timeProvider = &mockTimeProvider{now: now}

	reaper.sweep(ctx)

	assert.True(t, capturedOlderThan.Equal(now.Add(-30*time.Minute)),
		"cutoff should be the mock clock minus the staleness threshold")
	assert.Equal(t, staleFailureReason, capturedReason)

	reapedEvents := publisher.eventsOfType(tracking.EventTypeRecordReaped)
	require.Len(t, reapedEvents, 2)

	first, ok := reapedEvents[0].(tracking.RecordReapedEvent)
	require.True(t, ok)
	assert.Equal(t, testHashA, first.Hash)
	assert.Equal(t, int64(16098), first.FID)
	assert.True(t, first.StaleSince.Equal(staleA))

	second, ok := reapedEvents[1].(tracking.RecordReapedEvent)
	require.True(t, ok)
	assert.Equal(t, testHashB, second.Hash)

	publisher.mu.RLock()
	defer publisher.mu.RUnlock()
	require.Len(t, publisher.publishOptions, 2)
	assert.Len(t, publisher.publishOptions[0], 1, "reaped events should be published keyed by hash")
}

func TestReaper_SweepStoreErrorPublishesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newMockRecordStore()
	store.markStaleFunc = func(ctx context.Context, olderThan time.Time, reason string) ([]tracking.ReapedRecord, error) {
		return nil, errors.New("lock wait timeout")
	}
	publisher := &mockEventPublisher{}

	reaper := newTestReaper(store, publisher, time.Hour)
	reaper.sweep(ctx)

	publisher.mu.RLock()
	defer publisher.mu.RUnlock()
	assert.Empty(t, publisher.publishedEvents)
}

func TestReaper_SweepWithNothingStaleIsQuiet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newMockRecordStore()
	rec, err := tracking.NewRecord(testHashA, 16098)
	require.NoError(t, err)
	store.seed(rec)
	publisher := &mockEventPublisher{}

	// The record was touched just now, far inside the threshold.
	reaper := newTestReaper(store, publisher, time.Hour)
	reaper.sweep(ctx)

	publisher.mu.RLock()
	eventCount := len(publisher.publishedEvents)
	publisher.mu.RUnlock()
	assert.Zero(t, eventCount)

	got := store.get(testHashA)
	require.NotNil(t, got)
	assert.Equal(t, tracking.RecordStatusProcessing, got.Status())
}

func TestReaper_SweepFailsAbandonedRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Now()
	abandonedAt := now.Add(-2 * time.Hour)
	store := newMockRecordStore()
	store.seed(tracking.ReconstructRecord(
		testHashA, 16098, tracking.RecordStatusProcessing,
		nil, "", "", abandonedAt, abandonedAt,
	))
	publisher := &mockEventPublisher{}

	reaper := newTestReaper(store, publisher, time.Hour)
	reaper.timeProvider = &mockTimeProvider{now: now}

	reaper.sweep(ctx)

	got := store.get(testHashA)
	require.NotNil(t, got)
	assert.Equal(t, tracking.RecordStatusFailed, got.Status())
	assert.Equal(t, staleFailureReason, got.FailureReason())

	reapedEvents := publisher.eventsOfType(tracking.EventTypeRecordReaped)
	require.Len(t, reapedEvents, 1)
	evt, ok := reapedEvents[0].(tracking.RecordReapedEvent)
	require.True(t, ok)
	assert.True(t, evt.StaleSince.Equal(abandonedAt))
}

func TestReaper_PublishErrorDoesNotAbortSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newMockRecordStore()
	store.markStaleFunc = func(ctx context.Context, olderThan time.Time, reason string) ([]tracking.ReapedRecord, error) {
		return []tracking.ReapedRecord{
			{Hash: testHashA, FID: 1, StaleSince: time.Now()},
			{Hash: testHashB, FID: 2, StaleSince: time.Now()},
		}, nil
	}

	publisher := &mockEventPublisher{}
	calls := 0
	publisher.publishFunc = func(ctx context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
		calls++
		if calls == 1 {
			return errors.New("broker unavailable")
		}
		return nil
	}

	reaper := newTestReaper(store, publisher, time.Hour)
	reaper.sweep(ctx)

	publisher.mu.RLock()
	defer publisher.mu.RUnlock()
	assert.Len(t, publisher.publishedEvents, 2, "a publish failure must not stop the sweep")
}

func TestReaper_StartStopLoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newMockRecordStore()
	swept := make(chan struct{}, 1)
	store.markStaleFunc = func(ctx context.Context, olderThan time.Time, reason string) ([]tracking.ReapedRecord, error) {
		select {
		case swept <- struct{}{}:
		default:
		}
		return nil, nil
	}
	publisher := &mockEventPublisher{}

	reaper := newTestReaper(store, publisher, time.Hour)
	reaper.sweepInterval = 5 * time.Millisecond

	reaper.Start(ctx)
	defer reaper.Stop()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper loop never swept")
	}
}

func TestReaper_StopBeforeStartIsSafe(t *testing.T) {
	t.Parallel()

	reaper := newTestReaper(newMockRecordStore(), &mockEventPublisher{}, time.Hour)
	reaper.Stop()
}

func TestReaper_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	store := newMockRecordStore()
	var sweeps atomic.Int32
	store.markStaleFunc = func(ctx context.Context, olderThan time.Time, reason string) ([]tracking.ReapedRecord, error) {
		sweeps.Add(1)
		return nil, nil
	}

	reaper := newTestReaper(store, &mockEventPublisher{}, time.Hour)
	reaper.sweepInterval = 5 * time.Millisecond
	reaper.Start(ctx)

	require.Eventually(t, func() bool { return sweeps.Load() > 0 }, 2*time.Second, time.Millisecond)
	cancel()

	// Give the loop a tick to observe cancellation, then verify the counter
	// has stopped moving.
	time.Sleep(50 * time.Millisecond)
	settled := sweeps.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, sweeps.Load())
}

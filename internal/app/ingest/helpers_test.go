package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/events"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
)

const (
	testHashA = feed.CastHash("0x1f8e2d3c4b5a69788796a5b4c3d2e1f098765432")
	testHashB = feed.CastHash("0xabcdef0123456789abcdef0123456789abcdef01")
)

// seqHash returns a deterministic valid cast hash for index i.
func seqHash(i int) feed.CastHash {
	return feed.CastHash(fmt.Sprintf("0x%040x", i))
}

func testCast(hash feed.CastHash) feed.Cast {
	return feed.Cast{
		Hash:      hash,
		FID:       16098,
		Text:      "just ran 5k",
		Embeds:    []feed.Embed{{URL: "https://imagedelivery.net/strava.png"}},
		Timestamp: time.Date(2025, 3, 14, 7, 30, 0, 0, time.UTC),
	}
}

func workoutResult(km float64, d time.Duration) tracking.ExtractionResult {
	return tracking.ExtractionResult{
		IsWorkout:  true,
		Workout:    tracking.ReconstructWorkout(km, d),
		Confidence: 0.95,
		Rationale:  "screenshot shows a run",
	}
}

func notWorkoutResult(reason string) tracking.ExtractionResult {
	return tracking.ExtractionResult{IsWorkout: false, Confidence: 0.9, Rationale: reason}
}

// stubMetrics implements IngestMetrics with no-ops so pipeline components
// can be constructed without a meter provider.
type stubMetrics struct{}

func (stubMetrics) IncMessagePublished(context.Context, string) {}
func (stubMetrics) IncMessageConsumed(context.Context, string)  {}
func (stubMetrics) IncPublishError(context.Context, string)     {}
func (stubMetrics) IncConsumeError(context.Context, string)     {}
func (stubMetrics) IncSubmission(context.Context)               {}
func (stubMetrics) IncDuplicateCacheHit(context.Context)        {}
func (stubMetrics) IncDuplicateStoreHit(context.Context)        {}
func (stubMetrics) IncConcurrentDuplicate(context.Context)      {}
func (stubMetrics) IncInsertRaceLost(context.Context)           {}
func (stubMetrics) IncRejected(context.Context)                 {}
func (stubMetrics) IncCompleted(context.Context)                {}
func (stubMetrics) IncFailed(context.Context)                   {}
func (stubMetrics) IncNonWorkout(context.Context)               {}
func (stubMetrics) IncTotalsDriftError(context.Context)         {}
func (stubMetrics) IncReaped(context.Context, int)              {}
func (stubMetrics) IncInFlightForceClear(context.Context)       {}
func (stubMetrics) AddInFlight(context.Context, int64)          {}

func (stubMetrics) TrackExtraction(ctx context.Context, f func() error) error { return f() }

// mockTimeProvider implements timeProvider with a controllable clock.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// cloneRecord copies a record the way a store reload would, so callers never
// share aggregate state with the store.
func cloneRecord(r *tracking.Record) *tracking.Record {
	return tracking.ReconstructRecord(
		r.CastHash(), r.FID(), r.Status(), r.Workout(),
		r.Rationale(), r.FailureReason(), r.CreatedAt(), r.UpdatedAt(),
	)
}

// mockRecordStore is an in-memory tracking.RecordRepository. Individual
// methods can be overridden per test via the function fields.
type mockRecordStore struct {
	mu      sync.Mutex
	records map[feed.CastHash]*tracking.Record

	createIfAbsentFunc func(ctx context.Context, record *tracking.Record) (bool, error)
	getByHashFunc      func(ctx context.Context, hash feed.CastHash) (*tracking.Record, error)
	updateFunc         func(ctx context.Context, record *tracking.Record) error
	deleteFunc         func(ctx context.Context, hash feed.CastHash) error
	countFunc          func(ctx context.Context, fid int64, since time.Time) (int64, error)
	markStaleFunc      func(ctx context.Context, olderThan time.Time, reason string) ([]tracking.ReapedRecord, error)

	updateCalls atomic.Int32
	deleteCalls atomic.Int32
}

func newMockRecordStore() *mockRecordStore {
	return &mockRecordStore{records: make(map[feed.CastHash]*tracking.Record)}
}

func (s *mockRecordStore) CreateIfAbsent(ctx context.Context, record *tracking.Record) (bool, error) {
	if s.createIfAbsentFunc != nil {
		return s.createIfAbsentFunc(ctx, record)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.CastHash()]; ok {
		return false, nil
	}
	s.records[record.CastHash()] = cloneRecord(record)
	return true, nil
}

func (s *mockRecordStore) GetByHash(ctx context.Context, hash feed.CastHash) (*tracking.Record, error) {
	if s.getByHashFunc != nil {
		return s.getByHashFunc(ctx, hash)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[hash]
	if !ok {
		return nil, tracking.ErrRecordNotFound
	}
	return cloneRecord(r), nil
}

func (s *mockRecordStore) Update(ctx context.Context, record *tracking.Record) error {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, record)
	}
	s.updateCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.CastHash()] = cloneRecord(record)
	return nil
}

func (s *mockRecordStore) Delete(ctx context.Context, hash feed.CastHash) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, hash)
	}
	s.deleteCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, hash)
	return nil
}

func (s *mockRecordStore) CountForRunnerSince(ctx context.Context, fid int64, since time.Time) (int64, error) {
	if s.countFunc != nil {
		return s.countFunc(ctx, fid, since)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.records {
		if r.FID() == fid && r.Status() != tracking.RecordStatusFailed && !r.CreatedAt().Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *mockRecordStore) MarkStaleFailed(ctx context.Context, olderThan time.Time, reason string) ([]tracking.ReapedRecord, error) {
	if s.markStaleFunc != nil {
		return s.markStaleFunc(ctx, olderThan, reason)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []tracking.ReapedRecord
	for hash, r := range s.records {
		if r.Status() == tracking.RecordStatusProcessing && r.UpdatedAt().Before(olderThan) {
			reaped = append(reaped, tracking.ReapedRecord{Hash: hash, FID: r.FID(), StaleSince: r.UpdatedAt()})
			failed := cloneRecord(r)
			_ = failed.Fail(reason)
			s.records[hash] = failed
		}
	}
	return reaped, nil
}

// seed inserts a record directly, bypassing CreateIfAbsent bookkeeping.
func (s *mockRecordStore) seed(record *tracking.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.CastHash()] = cloneRecord(record)
}

// get returns a copy of the stored record, or nil when absent.
func (s *mockRecordStore) get(hash feed.CastHash) *tracking.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[hash]
	if !ok {
		return nil
	}
	return cloneRecord(r)
}

// mockTotalsStore is an in-memory tracking.TotalsRepository recording every
// applied workout per runner.
type mockTotalsStore struct {
	mu      sync.Mutex
	applied map[int64][]tracking.Workout

	applyWorkoutFunc func(ctx context.Context, fid int64, workout tracking.Workout) error
}

func newMockTotalsStore() *mockTotalsStore {
	return &mockTotalsStore{applied: make(map[int64][]tracking.Workout)}
}

func (s *mockTotalsStore) ApplyWorkout(ctx context.Context, fid int64, workout tracking.Workout) error {
	if s.applyWorkoutFunc != nil {
		return s.applyWorkoutFunc(ctx, fid, workout)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[fid] = append(s.applied[fid], workout)
	return nil
}

func (s *mockTotalsStore) GetByRunner(ctx context.Context, fid int64) (*tracking.RunnerTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	workouts, ok := s.applied[fid]
	if !ok {
		return nil, tracking.ErrTotalsNotFound
	}
	totals := tracking.NewRunnerTotals(fid)
	for _, w := range workouts {
		totals.Apply(w)
	}
	return totals, nil
}

func (s *mockTotalsStore) RebuildAll(ctx context.Context) (int64, error) { return 0, nil }

func (s *mockTotalsStore) appliedCount(fid int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied[fid])
}

// mockExtractor implements tracking.WorkoutExtractor for testing.
type mockExtractor struct {
	extractFunc func(ctx context.Context, cast feed.Cast) (tracking.ExtractionResult, error)
	calls       atomic.Int32
}

func (m *mockExtractor) ExtractWorkout(ctx context.Context, cast feed.Cast) (tracking.ExtractionResult, error) {
	m.calls.Add(1)
	if m.extractFunc != nil {
		return m.extractFunc(ctx, cast)
	}
	return workoutResult(5.0, 25*time.Minute), nil
}

// mockEventPublisher implements events.DomainEventPublisher for testing.
type mockEventPublisher struct {
	mu              sync.RWMutex
	publishedEvents []events.DomainEvent
	publishOptions  [][]events.PublishOption
	publishFunc     func(context.Context, events.DomainEvent, ...events.PublishOption) error
}

func (m *mockEventPublisher) PublishDomainEvent(ctx context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	m.mu.Lock()
	m.publishedEvents = append(m.publishedEvents, evt)
	m.publishOptions = append(m.publishOptions, opts)
	m.mu.Unlock()

	if m.publishFunc != nil {
		return m.publishFunc(ctx, evt, opts...)
	}
	return nil
}

func (m *mockEventPublisher) eventsOfType(et events.EventType) []events.DomainEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []events.DomainEvent
	for _, e := range m.publishedEvents {
		if e.EventType() == et {
			out = append(out, e)
		}
	}
	return out
}

// testPipeline wires a full submission pipeline over mocks.
type testPipeline struct {
	orch       *Orchestrator
	store      *mockRecordStore
	totals     *mockTotalsStore
	extractor  *mockExtractor
	publisher  *mockEventPublisher
	guard      *Guard
	suppressor *Suppressor
	processed  HashCache
	replied    HashCache
}

type pipelineConfig struct {
	weeklyLimit   int
	cacheCapacity int
	ceiling       int
}

func withWeeklyLimit(limit int) func(*pipelineConfig) {
	return func(cfg *pipelineConfig) { cfg.weeklyLimit = limit }
}

func newTestPipeline(opts ...func(*pipelineConfig)) *testPipeline {
	cfg := pipelineConfig{weeklyLimit: 0, cacheCapacity: 128, ceiling: 64}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := newMockRecordStore()
	totals := newMockTotalsStore()
	extractor := &mockExtractor{}
	publisher := &mockEventPublisher{}
	metrics := stubMetrics{}
	log := logger.Noop()
	tracer := noop.NewTracerProvider().Tracer("test")

	processed := NewBoundedHashSet(cfg.cacheCapacity)
	replied := NewBoundedHashSet(cfg.cacheCapacity)
	suppressor := NewSuppressor(cfg.ceiling, metrics, log)
	guard := NewGuard(store, processed, cfg.weeklyLimit, metrics, log, tracer)
	orch := NewOrchestrator(guard, suppressor, store, totals, extractor, publisher,
		processed, replied, 5*time.Second, metrics, log, tracer)

	return &testPipeline{
		orch:       orch,
		store:      store,
		totals:     totals,
		extractor:  extractor,
		publisher:  publisher,
		guard:      guard,
		suppressor: suppressor,
		processed:  processed,
		replied:    replied,
	}
}
